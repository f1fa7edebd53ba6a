package api

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/mealplanhq/mealplan/internal/billing"
	"github.com/mealplanhq/mealplan/internal/store"
)

// maxWebhookBytes bounds Stripe webhook payloads.
const maxWebhookBytes = 64 * 1024

func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"products": s.catalog.List()})
}

func (s *Server) handleListDietPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := s.store.ListDietPlans(r.Context())
	if err != nil {
		s.logger.Error("list diet plans failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if plans == nil {
		plans = []store.DietPlan{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"dietPlans": plans})
}

func (s *Server) handleCreateCheckout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProductID      string         `json:"productId"`
		DietType       string         `json:"dietType"`
		Customizations map[string]any `json:"customizations"`
		Email          string         `json:"email"`
	}
	if !s.decodeJSON(w, r, &req) {
		return
	}

	product, ok := s.catalog.Lookup(req.ProductID)
	if !ok {
		writeError(w, http.StatusNotFound, billing.ErrProductNotFound.Error())
		return
	}
	if s.billing == nil {
		writeError(w, http.StatusServiceUnavailable, "payments are not configured")
		return
	}

	diet := strings.TrimSpace(req.DietType)
	if diet == "" {
		diet = billing.DefaultDiet
	}
	plan, err := s.store.GetDietPlan(r.Context(), diet)
	if err != nil {
		s.logger.Error("get diet plan failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if plan == nil {
		writeError(w, http.StatusBadRequest, "unknown diet type: "+diet)
		return
	}

	email := strings.TrimSpace(req.Email)
	if identity := s.identify(r); identity != nil {
		email = identity.Email
	}

	sess, err := s.billing.CreateCheckoutSession(r.Context(), billing.CheckoutRequest{
		Product:        product,
		DietPlan:       diet,
		Customizations: req.Customizations,
		CustomerEmail:  email,
		SuccessURL:     s.baseURL + "/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:      s.baseURL + "/plans/" + product.ID,
	})
	if err != nil {
		s.logger.Error("create checkout session failed", "product", product.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create checkout session: "+err.Error())
		return
	}

	s.logger.Info("checkout session created", "product", product.ID, "diet", diet, "session_id", sess.ID)
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handlePortal(w http.ResponseWriter, r *http.Request) {
	identity := getIdentityFromContext(r.Context())
	if s.billing == nil {
		writeError(w, http.StatusServiceUnavailable, "payments are not configured")
		return
	}

	user, err := s.store.GetUserByID(r.Context(), identity.UserID)
	if err != nil {
		s.logger.Error("get user failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if user == nil || user.StripeCustomerID == "" {
		writeError(w, http.StatusNotFound, "no billing account")
		return
	}

	u, err := s.billing.CreatePortalSession(r.Context(), user.StripeCustomerID, s.baseURL+"/dashboard")
	if err != nil {
		s.logger.Error("create portal session failed", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create portal session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": u})
}

func (s *Server) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	if s.billing == nil {
		writeError(w, http.StatusServiceUnavailable, "payments are not configured")
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ev, err := s.billing.ParseEvent(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		s.logger.Warn("rejected webhook", "error", err)
		writeError(w, http.StatusBadRequest, "invalid signature")
		return
	}

	if err := s.fulfiller.HandleEvent(r.Context(), ev); err != nil {
		s.logger.Error("webhook handling failed", "event_id", ev.ID, "type", ev.Type, "error", err)
		status := http.StatusInternalServerError
		if errors.Is(err, billing.ErrInvalidEvent) {
			status = http.StatusBadRequest
		}
		writeError(w, status, "webhook handler failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
