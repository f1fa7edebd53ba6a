package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mealplanhq/mealplan/internal/store"
)

// DefaultDiet is used when checkout metadata carries no diet plan.
const DefaultDiet = "mediterranean"

// Accounts finds or creates the customer account for a purchase.
type Accounts interface {
	EnsureUser(ctx context.Context, email, name string) (*store.User, bool, error)
}

// Notifier sends the purchase confirmation email.
type Notifier interface {
	SendWelcome(ctx context.Context, to, name, productName string, newAccount bool) error
}

// Fulfiller turns verified payment events into purchases, subscriptions and
// pending meal plan jobs.
type Fulfiller struct {
	store       store.Store
	accounts    Accounts
	notifier    Notifier
	catalog     *Catalog
	totalPhases int
	logger      *slog.Logger
	now         func() time.Time
}

// NewFulfiller creates a fulfiller. notifier may be nil.
func NewFulfiller(s store.Store, accounts Accounts, notifier Notifier, catalog *Catalog, totalPhases int, logger *slog.Logger) *Fulfiller {
	if totalPhases <= 0 {
		totalPhases = 5
	}
	return &Fulfiller{
		store:       s,
		accounts:    accounts,
		notifier:    notifier,
		catalog:     catalog,
		totalPhases: totalPhases,
		logger:      logger.With("component", "billing"),
		now:         time.Now,
	}
}

// Customizations is the decoded checkout customization form.
type Customizations struct {
	FamilySize   int
	DietaryNeeds []string
	Allergies    string
	Preferences  string
	Raw          map[string]any
}

// ParseCustomizations decodes the customizations metadata JSON. Both camel
// and snake case keys are accepted.
func ParseCustomizations(raw string) Customizations {
	c := Customizations{Raw: map[string]any{}}
	if strings.TrimSpace(raw) == "" {
		return c
	}
	if err := json.Unmarshal([]byte(raw), &c.Raw); err != nil {
		c.Raw = map[string]any{}
		return c
	}

	for _, key := range []string{"familySize", "family_size"} {
		if n := toInt(c.Raw[key]); n > 0 {
			c.FamilySize = n
			break
		}
	}
	for _, key := range []string{"dietary_needs", "dietaryNeeds"} {
		if list, ok := c.Raw[key].([]any); ok {
			for _, v := range list {
				if s, ok := v.(string); ok && s != "" {
					c.DietaryNeeds = append(c.DietaryNeeds, s)
				}
			}
			break
		}
	}
	c.Allergies = stringValue(c.Raw["allergies"])
	c.Preferences = stringValue(c.Raw["preferences"])
	return c
}

// ApplyPreferences fills the fields the checkout form left empty from the
// customer's saved preferences. Values entered at checkout win.
func (c *Customizations) ApplyPreferences(p *store.UserPreferences) {
	if p == nil {
		return
	}
	if c.Raw == nil {
		c.Raw = map[string]any{}
	}
	if c.FamilySize == 0 && p.FamilySize > 0 {
		c.FamilySize = p.FamilySize
	}
	if len(c.DietaryNeeds) == 0 && len(p.DietaryRestrictions) > 0 {
		c.DietaryNeeds = append([]string(nil), p.DietaryRestrictions...)
	}
	if c.Allergies == "" && len(p.Allergies) > 0 {
		c.Allergies = strings.Join(p.Allergies, ", ")
	}
	if c.Preferences == "" && len(p.Dislikes) > 0 {
		parts := make([]string, 0, len(p.Dislikes))
		for _, d := range p.Dislikes {
			if d = strings.TrimSpace(d); d != "" {
				parts = append(parts, "no "+d)
			}
		}
		c.Preferences = strings.Join(parts, ", ")
	}
	if _, ok := c.Raw["max_prep_time"]; !ok && p.MaxPrepTime > 0 {
		c.Raw["max_prep_time"] = p.MaxPrepTime
	}
	if _, ok := c.Raw["preferred_cuisines"]; !ok && len(p.PreferredCuisines) > 0 {
		c.Raw["preferred_cuisines"] = p.PreferredCuisines
	}
}

// HandleEvent applies a webhook event. Replays of an already recorded
// checkout session are acknowledged without side effects.
func (f *Fulfiller) HandleEvent(ctx context.Context, ev *Event) error {
	switch ev.Type {
	case EventCheckoutCompleted:
		if ev.Checkout == nil {
			return ErrInvalidEvent
		}
		return f.completeCheckout(ctx, ev.Checkout)
	case EventSubscriptionCreated, EventSubscriptionUpdated:
		if ev.Subscription == nil {
			return ErrInvalidEvent
		}
		return f.syncSubscription(ctx, ev.Subscription)
	case EventSubscriptionDeleted:
		if ev.Subscription == nil {
			return ErrInvalidEvent
		}
		err := f.store.UpdateSubscriptionStatus(ctx, ev.Subscription.ID, "cancelled")
		if errors.Is(err, store.ErrNotFound) {
			f.logger.Info("cancelled subscription not on record", "subscription_id", ev.Subscription.ID)
			return nil
		}
		return err
	default:
		f.logger.Debug("unhandled webhook event", "type", ev.Type, "event_id", ev.ID)
		return nil
	}
}

func (f *Fulfiller) completeCheckout(ctx context.Context, c *CompletedCheckout) error {
	if c.Email == "" {
		f.logger.Warn("checkout completed without customer email", "session_id", c.SessionID)
		return nil
	}

	existing, err := f.store.GetPurchaseBySession(ctx, c.SessionID)
	if err != nil {
		return fmt.Errorf("get purchase: %w", err)
	}
	if existing != nil {
		job, err := f.store.GetJobBySession(ctx, c.SessionID)
		if err != nil {
			return fmt.Errorf("get job: %w", err)
		}
		if job != nil {
			f.logger.Info("checkout already fulfilled", "session_id", c.SessionID)
			return nil
		}
		// A previous delivery recorded the purchase but stopped before the job.
		f.logger.Warn("resuming partially fulfilled checkout", "session_id", c.SessionID)
	}

	user, created, err := f.accounts.EnsureUser(ctx, c.Email, c.Name)
	if err != nil {
		return fmt.Errorf("ensure user: %w", err)
	}
	if c.CustomerID != "" && user.StripeCustomerID != c.CustomerID {
		if err := f.store.SetStripeCustomerID(ctx, user.ID, c.CustomerID); err != nil {
			return fmt.Errorf("set stripe customer: %w", err)
		}
	}

	productID := c.Metadata["product_id"]
	productName := "Meal Plan"
	product, known := f.catalog.Lookup(productID)
	if known {
		productName = product.Name
	}
	diet := c.Metadata["diet_plan"]
	if diet == "" {
		diet = DefaultDiet
	}
	currency := c.Currency
	if currency == "" {
		currency = "usd"
	}

	if existing == nil {
		purchase := &store.Purchase{
			ID:              uuid.New().String(),
			UserID:          user.ID,
			ProductID:       productID,
			ProductName:     productName,
			StripeSessionID: c.SessionID,
			Amount:          c.AmountTotal,
			Currency:        currency,
			Status:          "completed",
			DietPlan:        diet,
		}
		if err := f.store.CreatePurchase(ctx, purchase); err != nil {
			if errors.Is(err, store.ErrConflict) {
				f.logger.Info("checkout fulfilled concurrently", "session_id", c.SessionID)
				return nil
			}
			return fmt.Errorf("create purchase: %w", err)
		}
	}

	subscription := c.Mode == ModeSubscription
	if subscription && c.SubscriptionID != "" {
		now := f.now().UTC()
		sub := &store.Subscription{
			ID:                   uuid.New().String(),
			UserID:               user.ID,
			StripeSubscriptionID: c.SubscriptionID,
			Status:               "active",
			CurrentPeriodStart:   now,
			CurrentPeriodEnd:     now.AddDate(0, 0, 30),
		}
		if err := f.store.UpsertSubscription(ctx, sub); err != nil {
			return fmt.Errorf("upsert subscription: %w", err)
		}
	}

	custom := ParseCustomizations(c.Metadata["customizations"])
	prefs, err := f.store.GetUserPreferences(ctx, user.ID)
	if err != nil {
		f.logger.Warn("load saved preferences failed", "user_id", user.ID, "error", err)
	}
	custom.ApplyPreferences(prefs)
	familySize := custom.FamilySize
	if familySize == 0 {
		familySize = 4
	}
	productType := "one_time"
	if subscription {
		productType = "subscription"
	}

	now := f.now()
	job := &store.MealPlanJob{
		ID:              uuid.New().String(),
		UserID:          user.ID,
		CustomerEmail:   user.Email,
		StripeSessionID: c.SessionID,
		ProductType:     productType,
		DietType:        diet,
		FamilySize:      familySize,
		DietaryNeeds:    custom.DietaryNeeds,
		Allergies:       custom.Allergies,
		Preferences:     custom.Preferences,
		Customizations:  custom.Raw,
		Status:          store.JobPending,
		CurrentPhase:    1,
		TotalPhases:     f.totalPhases,
		Month:           int(now.Month()),
		Year:            now.Year(),
		DaysInMonth:     DaysIn(now.Year(), now.Month()),
	}
	if err := f.store.CreateJob(ctx, job); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil
		}
		return fmt.Errorf("create job: %w", err)
	}

	f.logger.Info("checkout fulfilled",
		"session_id", c.SessionID,
		"email", user.Email,
		"product_id", productID,
		"job_id", job.ID,
		"new_account", created,
	)

	if f.notifier != nil {
		if err := f.notifier.SendWelcome(ctx, user.Email, user.Name, productName, created); err != nil {
			f.logger.Warn("welcome email failed", "email", user.Email, "error", err)
		}
	}
	return nil
}

func (f *Fulfiller) syncSubscription(ctx context.Context, ch *SubscriptionChange) error {
	if ch.CustomerID == "" {
		return nil
	}
	user, err := f.store.GetUserByStripeCustomer(ctx, ch.CustomerID)
	if err != nil {
		return fmt.Errorf("get user by customer: %w", err)
	}
	if user == nil {
		f.logger.Info("subscription for unknown customer", "customer_id", ch.CustomerID, "subscription_id", ch.ID)
		return nil
	}

	start, end := ch.PeriodStart, ch.PeriodEnd
	if start.IsZero() {
		start = f.now().UTC()
	}
	if end.IsZero() {
		end = start.AddDate(0, 0, 30)
	}
	return f.store.UpsertSubscription(ctx, &store.Subscription{
		ID:                   uuid.New().String(),
		UserID:               user.ID,
		StripeSubscriptionID: ch.ID,
		Status:               subscriptionStatus(ch.Status),
		CurrentPeriodStart:   start,
		CurrentPeriodEnd:     end,
	})
}

func subscriptionStatus(s string) string {
	switch s {
	case "canceled", "cancelled", "incomplete_expired", "unpaid":
		return "cancelled"
	case "past_due":
		return "past_due"
	default:
		return "active"
	}
}

// DaysIn returns the number of days in the given month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func toInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case string:
		i, _ := strconv.Atoi(strings.TrimSpace(n))
		return i
	}
	return 0
}

func stringValue(v any) string {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case []any:
		parts := make([]string, 0, len(s))
		for _, item := range s {
			if str, ok := item.(string); ok && str != "" {
				parts = append(parts, str)
			}
		}
		return strings.Join(parts, ", ")
	}
	return ""
}
