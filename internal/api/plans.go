package api

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mealplanhq/mealplan/internal/blob"
	"github.com/mealplanhq/mealplan/internal/mealplan"
)

// Sample plans are served from the first bundled month.
const (
	sampleMonth = 1
	sampleYear  = 2025
)

type planQuery struct {
	menuType string
	month    int
	year     int
	week     int // 0 when absent
}

// parsePlanQuery reads menuType, month, year and week. Month and year default
// to the current month.
func (s *Server) parsePlanQuery(r *http.Request) (planQuery, error) {
	q := r.URL.Query()
	now := s.now()
	pq := planQuery{
		menuType: q.Get("menuType"),
		month:    int(now.Month()),
		year:     now.Year(),
	}

	if v := q.Get("month"); v != "" {
		m, err := strconv.Atoi(v)
		if err != nil || m < 1 || m > 12 {
			return pq, fmt.Errorf("invalid month %q", v)
		}
		pq.month = m
	}
	if v := q.Get("year"); v != "" {
		y, err := strconv.Atoi(v)
		if err != nil || y < 2000 || y > 2100 {
			return pq, fmt.Errorf("invalid year %q", v)
		}
		pq.year = y
	}
	if v := q.Get("week"); v != "" {
		wk, err := strconv.Atoi(v)
		if err != nil || wk < 1 {
			return pq, fmt.Errorf("invalid week %q", v)
		}
		pq.week = wk
	}
	return pq, nil
}

// resolvePlan parses the query and resolves the caller's plan, writing the
// error response itself when it returns nil.
func (s *Server) resolvePlan(w http.ResponseWriter, r *http.Request) (*mealplan.Plan, planQuery) {
	pq, err := s.parsePlanQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, pq
	}
	if pq.menuType == "" {
		writeError(w, http.StatusBadRequest, "menuType is required")
		return nil, pq
	}

	email := ""
	if identity := getIdentityFromContext(r.Context()); identity != nil {
		email = identity.Email
	}
	plan, err := s.resolver.Resolve(r.Context(), email, pq.menuType, pq.month, pq.year)
	if errors.Is(err, mealplan.ErrPlanNotFound) {
		writeError(w, http.StatusNotFound, "meal plan not found")
		return nil, pq
	}
	if err != nil {
		s.logger.Error("resolve meal plan failed", "menu_type", pq.menuType, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return nil, pq
	}
	return plan, pq
}

func (s *Server) handleMealPlans(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("menuType") == "" {
		writeJSON(w, http.StatusOK, map[string]any{"menuTypes": mealplan.MenuTypes})
		return
	}
	plan, _ := s.resolvePlan(w, r)
	if plan == nil {
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handleShoppingList(w http.ResponseWriter, r *http.Request) {
	plan, pq := s.resolvePlan(w, r)
	if plan == nil {
		return
	}

	if pq.week == 0 {
		lists := plan.WeeklyShoppingLists
		if lists == nil {
			lists = map[string]mealplan.ShoppingList{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"menuType":            pq.menuType,
			"month":               pq.month,
			"year":                pq.year,
			"weeklyShoppingLists": lists,
		})
		return
	}

	list, ok := plan.ShoppingList(pq.week)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no shopping list for week %d", pq.week))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"menuType":     pq.menuType,
		"month":        pq.month,
		"year":         pq.year,
		"week":         pq.week,
		"shoppingList": list,
	})
}

func (s *Server) handleDownloadPDF(w http.ResponseWriter, r *http.Request) {
	plan, pq := s.resolvePlan(w, r)
	if plan == nil {
		return
	}

	if pq.week != 0 {
		filtered, err := mealplan.FilterWeek(plan, pq.week)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		plan = filtered
	}

	s.writePDF(w, plan, fmt.Sprintf("%s-%d-%d.pdf", pq.menuType, pq.year, pq.month))
}

func (s *Server) handleDownloadSamplePDF(w http.ResponseWriter, r *http.Request) {
	menuType := r.URL.Query().Get("menuType")
	if menuType == "" {
		menuType = mealplan.MenuTypes[0]
	}

	lib := s.resolver.Library()
	plan, err := lib.Static(menuType, sampleMonth, sampleYear)
	if errors.Is(err, mealplan.ErrPlanNotFound) {
		plan = lib.Base(menuType)
	} else if err != nil {
		s.logger.Error("load sample plan failed", "menu_type", menuType, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if plan == nil {
		writeError(w, http.StatusNotFound, "meal plan not found")
		return
	}

	s.writePDF(w, plan, fmt.Sprintf("%s-sample.pdf", menuType))
}

func (s *Server) writePDF(w http.ResponseWriter, plan *mealplan.Plan, filename string) {
	data, err := mealplan.Render(plan)
	if err != nil {
		s.logger.Error("render pdf failed", "menu_type", plan.MenuType, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to generate PDF")
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// handleFile serves objects of the local blob store.
func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	if !blob.ValidKey(key) {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}

	rc, err := s.blobs.Open(r.Context(), key)
	if errors.Is(err, blob.ErrNotFound) || errors.Is(err, blob.ErrInvalidKey) {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	if err != nil {
		s.logger.Error("open file failed", "key", key, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	defer func() { _ = rc.Close() }()

	ct := mime.TypeByExtension(path.Ext(key))
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", path.Base(key)))
	if _, err := io.Copy(w, rc); err != nil {
		s.logger.Warn("stream file failed", "key", key, "error", err)
	}
}
