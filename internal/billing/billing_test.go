package billing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/mealplanhq/mealplan/internal/auth"
	"github.com/mealplanhq/mealplan/internal/config"
	"github.com/mealplanhq/mealplan/internal/store"
)

const testWebhookSecret = "whsec_test_secret"

type recordingNotifier struct {
	mu    sync.Mutex
	sent  []string
	fails bool
}

func (n *recordingNotifier) SendWelcome(_ context.Context, to, _, productName string, _ bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, to+"|"+productName)
	if n.fails {
		return errors.New("smtp down")
	}
	return nil
}

func newTestFulfiller(t *testing.T) (*Fulfiller, store.Store, *recordingNotifier) {
	t.Helper()
	s, err := store.NewSQLite(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	accounts := auth.NewService(s, config.AuthConfig{
		JWTSecret:     "test-secret-at-least-32-chars-long",
		SessionExpiry: config.Duration{Duration: time.Hour},
	})
	notifier := &recordingNotifier{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := NewFulfiller(s, accounts, notifier, NewCatalog(DefaultProducts(), nil), 5, logger)
	f.now = func() time.Time { return time.Date(2025, time.February, 10, 12, 0, 0, 0, time.UTC) }
	return f, s, notifier
}

func signedEvent(t *testing.T, payload string) (*Event, error) {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	return parseStripeEvent(signed.Payload, signed.Header, testWebhookSecret)
}

const checkoutPayload = `{
  "id": "evt_1",
  "object": "event",
  "type": "checkout.session.completed",
  "data": {
    "object": {
      "id": "cs_test_123",
      "object": "checkout.session",
      "mode": "payment",
      "amount_total": 5900,
      "currency": "usd",
      "customer": "cus_123",
      "customer_details": {"email": "Buyer@Example.com", "name": "Buyer"},
      "metadata": {
        "product_id": "custom-family",
        "diet_plan": "keto",
        "customizations": "{\"familySize\":6,\"dietary_needs\":[\"gluten-free\"],\"allergies\":\"peanuts\",\"preferences\":\"no mushrooms\"}"
      }
    }
  }
}`

func TestCatalog(t *testing.T) {
	c := NewCatalog(DefaultProducts(), map[string]string{"monthly-subscription": "price_abc"})

	p, ok := c.Lookup("monthly-subscription")
	if !ok {
		t.Fatal("monthly-subscription missing")
	}
	if p.PriceID != "price_abc" || p.Mode != ModeSubscription || p.ProductType() != "subscription" {
		t.Errorf("product: got %+v", p)
	}
	if _, ok := c.Lookup("nope"); ok {
		t.Error("unknown product found")
	}
	if got := len(c.List()); got != 5 {
		t.Errorf("List: got %d products, want 5", got)
	}
}

func TestParseEventSignature(t *testing.T) {
	ev, err := signedEvent(t, checkoutPayload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ev.Type != EventCheckoutCompleted || ev.Checkout == nil {
		t.Fatalf("event: got %+v", ev)
	}
	c := ev.Checkout
	if c.SessionID != "cs_test_123" || c.Email != "Buyer@Example.com" || c.CustomerID != "cus_123" || c.AmountTotal != 5900 {
		t.Errorf("checkout: got %+v", c)
	}

	if _, err := parseStripeEvent([]byte(checkoutPayload), "t=1,v1=deadbeef", testWebhookSecret); !errors.Is(err, ErrInvalidEvent) {
		t.Errorf("bad signature: got %v, want ErrInvalidEvent", err)
	}
	if _, err := parseStripeEvent([]byte(checkoutPayload), "", ""); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("no secret: got %v, want ErrNotConfigured", err)
	}
}

func TestParseSubscriptionPeriodFromItems(t *testing.T) {
	ev, err := signedEvent(t, `{
	  "id": "evt_2", "object": "event", "type": "customer.subscription.updated",
	  "data": {"object": {
	    "id": "sub_1", "object": "subscription", "customer": "cus_9", "status": "past_due",
	    "items": {"data": [{"current_period_start": 1735689600, "current_period_end": 1738368000}]}
	  }}
	}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	sub := ev.Subscription
	if sub == nil || sub.ID != "sub_1" || sub.CustomerID != "cus_9" || sub.Status != "past_due" {
		t.Fatalf("subscription: got %+v", sub)
	}
	if !sub.PeriodStart.Equal(time.Unix(1735689600, 0)) || !sub.PeriodEnd.Equal(time.Unix(1738368000, 0)) {
		t.Errorf("period: got %v - %v", sub.PeriodStart, sub.PeriodEnd)
	}
}

func TestCheckoutCreatesPendingJob(t *testing.T) {
	f, s, notifier := newTestFulfiller(t)
	ctx := context.Background()

	ev, err := signedEvent(t, checkoutPayload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := f.HandleEvent(ctx, ev); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	user, _ := s.GetUserByEmail(ctx, "buyer@example.com")
	if user == nil || user.StripeCustomerID != "cus_123" {
		t.Fatalf("user: got %+v", user)
	}

	purchase, _ := s.GetPurchaseBySession(ctx, "cs_test_123")
	if purchase == nil || purchase.ProductName != "Custom Family Plan" || purchase.DietPlan != "keto" || purchase.Status != "completed" {
		t.Fatalf("purchase: got %+v", purchase)
	}

	job, _ := s.GetJobBySession(ctx, "cs_test_123")
	if job == nil {
		t.Fatal("job not created")
	}
	if job.Status != store.JobPending || job.CurrentPhase != 1 || job.TotalPhases != 5 {
		t.Errorf("job state: %+v", job)
	}
	if job.FamilySize != 6 || job.DietType != "keto" || job.Allergies != "peanuts" || job.Preferences != "no mushrooms" {
		t.Errorf("job customizations: %+v", job)
	}
	if len(job.DietaryNeeds) != 1 || job.DietaryNeeds[0] != "gluten-free" {
		t.Errorf("dietary needs: %v", job.DietaryNeeds)
	}
	if job.Month != 2 || job.Year != 2025 || job.DaysInMonth != 28 {
		t.Errorf("month: %d/%d days=%d", job.Month, job.Year, job.DaysInMonth)
	}
	if len(notifier.sent) != 1 || notifier.sent[0] != "buyer@example.com|Custom Family Plan" {
		t.Errorf("welcome emails: %v", notifier.sent)
	}
}

func TestCheckoutReplayIsIdempotent(t *testing.T) {
	f, s, notifier := newTestFulfiller(t)
	ctx := context.Background()

	ev, err := signedEvent(t, checkoutPayload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := f.HandleEvent(ctx, ev); err != nil {
			t.Fatalf("HandleEvent #%d: %v", i, err)
		}
	}

	jobs, err := s.ListJobs(ctx, store.JobFilter{Email: "buyer@example.com"})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Errorf("expected 1 job after replays, got %d", len(jobs))
	}
	if len(notifier.sent) != 1 {
		t.Errorf("expected 1 welcome email, got %d", len(notifier.sent))
	}
}

// flakyJobStore fails the first CreateJob call.
type flakyJobStore struct {
	store.Store
	failed bool
}

func (s *flakyJobStore) CreateJob(ctx context.Context, job *store.MealPlanJob) error {
	if !s.failed {
		s.failed = true
		return errors.New("transient db error")
	}
	return s.Store.CreateJob(ctx, job)
}

func TestCheckoutRetryAfterJobFailure(t *testing.T) {
	f, s, notifier := newTestFulfiller(t)
	flaky := &flakyJobStore{Store: s}
	f.store = flaky
	ctx := context.Background()

	ev, err := signedEvent(t, checkoutPayload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := f.HandleEvent(ctx, ev); err == nil {
		t.Fatal("first delivery should report the job error")
	}
	if purchase, _ := s.GetPurchaseBySession(ctx, "cs_test_123"); purchase == nil {
		t.Fatal("purchase not recorded by first delivery")
	}

	if err := f.HandleEvent(ctx, ev); err != nil {
		t.Fatalf("retry: %v", err)
	}
	job, err := s.GetJobBySession(ctx, "cs_test_123")
	if err != nil {
		t.Fatal(err)
	}
	if job == nil || job.Status != store.JobPending || job.FamilySize != 6 {
		t.Fatalf("job after retry: %+v", job)
	}
	purchases, _ := s.ListPurchasesByUser(ctx, job.UserID)
	if len(purchases) != 1 {
		t.Errorf("purchases after retry: got %d, want 1", len(purchases))
	}
	if len(notifier.sent) != 1 {
		t.Errorf("welcome emails: %v", notifier.sent)
	}

	if err := f.HandleEvent(ctx, ev); err != nil {
		t.Fatalf("second replay: %v", err)
	}
	jobs, _ := s.ListJobs(ctx, store.JobFilter{Email: "buyer@example.com"})
	if len(jobs) != 1 {
		t.Errorf("jobs after replays: got %d, want 1", len(jobs))
	}
}

func TestCheckoutWelcomeFailureIsNotFatal(t *testing.T) {
	f, s, notifier := newTestFulfiller(t)
	notifier.fails = true

	ev, err := signedEvent(t, checkoutPayload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := f.HandleEvent(context.Background(), ev); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if job, _ := s.GetJobBySession(context.Background(), "cs_test_123"); job == nil {
		t.Error("job missing after email failure")
	}
}

func TestSubscriptionLifecycle(t *testing.T) {
	f, s, _ := newTestFulfiller(t)
	ctx := context.Background()

	err := f.HandleEvent(ctx, &Event{
		Type: EventCheckoutCompleted,
		Checkout: &CompletedCheckout{
			SessionID:      "cs_sub",
			CustomerID:     "cus_sub",
			SubscriptionID: "sub_42",
			Email:          "sub@example.com",
			Mode:           ModeSubscription,
			AmountTotal:    2900,
			Metadata:       map[string]string{"product_id": "monthly-subscription"},
		},
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	user, _ := s.GetUserByEmail(ctx, "sub@example.com")
	subs, _ := s.ListSubscriptionsByUser(ctx, user.ID)
	if len(subs) != 1 || subs[0].Status != "active" {
		t.Fatalf("subscriptions: %+v", subs)
	}
	if got := subs[0].CurrentPeriodEnd.Sub(subs[0].CurrentPeriodStart); got != 30*24*time.Hour {
		t.Errorf("default period: got %v", got)
	}
	job, _ := s.GetJobBySession(ctx, "cs_sub")
	if job == nil || job.ProductType != "subscription" || job.DietType != DefaultDiet {
		t.Errorf("job: %+v", job)
	}

	err = f.HandleEvent(ctx, &Event{
		Type:         EventSubscriptionUpdated,
		Subscription: &SubscriptionChange{ID: "sub_42", CustomerID: "cus_sub", Status: "past_due"},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	subs, _ = s.ListSubscriptionsByUser(ctx, user.ID)
	if len(subs) != 1 || subs[0].Status != "past_due" {
		t.Errorf("after update: %+v", subs)
	}

	err = f.HandleEvent(ctx, &Event{
		Type:         EventSubscriptionDeleted,
		Subscription: &SubscriptionChange{ID: "sub_42", CustomerID: "cus_sub"},
	})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	subs, _ = s.ListSubscriptionsByUser(ctx, user.ID)
	if subs[0].Status != "cancelled" {
		t.Errorf("after delete: %+v", subs)
	}

	// Unknown subscriptions are acknowledged.
	err = f.HandleEvent(ctx, &Event{Type: EventSubscriptionDeleted, Subscription: &SubscriptionChange{ID: "sub_unknown"}})
	if err != nil {
		t.Errorf("unknown delete: %v", err)
	}
}

func TestCheckoutAppliesSavedPreferences(t *testing.T) {
	f, s, _ := newTestFulfiller(t)
	ctx := context.Background()

	user := &store.User{ID: "user-prefs", Email: "saved@example.com"}
	if err := s.CreateUser(ctx, user); err != nil {
		t.Fatal(err)
	}
	if _, err := s.UpsertUserPreferences(ctx, &store.UserPreferences{
		UserID:              user.ID,
		FamilySize:          3,
		DietaryRestrictions: []string{"dairy-free"},
		Allergies:           []string{"shellfish"},
		Dislikes:            []string{"olives"},
		MaxPrepTime:         25,
	}); err != nil {
		t.Fatal(err)
	}

	err := f.HandleEvent(ctx, &Event{
		Type: EventCheckoutCompleted,
		Checkout: &CompletedCheckout{
			SessionID: "cs_prefs",
			Email:     "saved@example.com",
			Mode:      ModePayment,
			Metadata:  map[string]string{"product_id": "custom-family", "customizations": `{"allergies":"peanuts"}`},
		},
	})
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	job, _ := s.GetJobBySession(ctx, "cs_prefs")
	if job == nil {
		t.Fatal("job not created")
	}
	if job.FamilySize != 3 || job.Allergies != "peanuts" || job.Preferences != "no olives" {
		t.Errorf("job: family=%d allergies=%q preferences=%q", job.FamilySize, job.Allergies, job.Preferences)
	}
	if len(job.DietaryNeeds) != 1 || job.DietaryNeeds[0] != "dairy-free" {
		t.Errorf("dietary needs: %v", job.DietaryNeeds)
	}
	if job.Customizations["max_prep_time"] != float64(25) {
		t.Errorf("max prep time: %v", job.Customizations["max_prep_time"])
	}
}

func TestParseCustomizations(t *testing.T) {
	tests := []struct {
		raw    string
		family int
		needs  int
		allerg string
	}{
		{"", 0, 0, ""},
		{"not json", 0, 0, ""},
		{`{"family_size":"3"}`, 3, 0, ""},
		{`{"familySize":2,"dietaryNeeds":["vegan","low-carb"],"allergies":["nuts","soy"]}`, 2, 2, "nuts, soy"},
	}
	for _, tt := range tests {
		c := ParseCustomizations(tt.raw)
		if c.FamilySize != tt.family || len(c.DietaryNeeds) != tt.needs || c.Allergies != tt.allerg {
			t.Errorf("ParseCustomizations(%q) = %+v", tt.raw, c)
		}
	}
}

func TestDaysIn(t *testing.T) {
	if got := DaysIn(2024, time.February); got != 29 {
		t.Errorf("leap february: got %d", got)
	}
	if got := DaysIn(2025, time.December); got != 31 {
		t.Errorf("december: got %d", got)
	}
}
