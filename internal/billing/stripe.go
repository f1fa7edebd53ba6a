package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/client"
	"github.com/stripe/stripe-go/v84/webhook"
)

var (
	ErrProductNotFound = errors.New("product not found")
	ErrNotConfigured   = errors.New("billing not configured")
	ErrInvalidEvent    = errors.New("invalid webhook event")
)

// Event types handled by the fulfiller.
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
)

// CheckoutRequest describes a checkout session to create.
type CheckoutRequest struct {
	Product        Product
	DietPlan       string
	Customizations map[string]any
	CustomerEmail  string
	SuccessURL     string
	CancelURL      string
}

// CheckoutSession is the provider's answer to a checkout request.
type CheckoutSession struct {
	ID  string `json:"sessionId"`
	URL string `json:"url"`
}

// Event is a verified, provider-neutral webhook event.
type Event struct {
	ID           string
	Type         string
	Checkout     *CompletedCheckout
	Subscription *SubscriptionChange
}

// CompletedCheckout is the part of a completed checkout session the
// fulfiller needs.
type CompletedCheckout struct {
	SessionID      string
	CustomerID     string
	SubscriptionID string
	Email          string
	Name           string
	Mode           string
	AmountTotal    int64
	Currency       string
	Metadata       map[string]string
}

// SubscriptionChange carries a subscription lifecycle update.
type SubscriptionChange struct {
	ID          string
	CustomerID  string
	Status      string
	PeriodStart time.Time
	PeriodEnd   time.Time
}

// Provider is the payment backend.
type Provider interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
	ParseEvent(payload []byte, signature string) (*Event, error)
}

// StripeProvider implements Provider with the Stripe API.
type StripeProvider struct {
	api           *client.API
	webhookSecret string
	currency      string
}

// NewStripe creates a Stripe provider. An empty secret key yields ErrNotConfigured.
func NewStripe(secretKey, webhookSecret, currency string) (*StripeProvider, error) {
	if secretKey == "" {
		return nil, ErrNotConfigured
	}
	if currency == "" {
		currency = string(stripe.CurrencyUSD)
	}
	return &StripeProvider{
		api:           client.New(secretKey, nil),
		webhookSecret: webhookSecret,
		currency:      currency,
	}, nil
}

// CreateCheckoutSession creates a hosted checkout page for one product.
func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	custom, err := json.Marshal(nonNil(req.Customizations))
	if err != nil {
		return nil, fmt.Errorf("encode customizations: %w", err)
	}

	item := &stripe.CheckoutSessionLineItemParams{Quantity: stripe.Int64(1)}
	if req.Product.PriceID != "" {
		item.Price = stripe.String(req.Product.PriceID)
	} else {
		product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name:        stripe.String(req.Product.Name),
			Description: stripe.String(req.Product.Description),
		}
		if req.Product.Image != "" {
			product.Images = []*string{stripe.String(req.Product.Image)}
		}
		item.PriceData = &stripe.CheckoutSessionLineItemPriceDataParams{
			Currency:    stripe.String(p.currency),
			UnitAmount:  stripe.Int64(req.Product.Price),
			ProductData: product,
		}
		if req.Product.Mode == ModeSubscription {
			item.PriceData.Recurring = &stripe.CheckoutSessionLineItemPriceDataRecurringParams{
				Interval: stripe.String(string(stripe.PriceRecurringIntervalMonth)),
			}
		}
	}

	mode := stripe.CheckoutSessionModePayment
	if req.Product.Mode == ModeSubscription {
		mode = stripe.CheckoutSessionModeSubscription
	}

	params := &stripe.CheckoutSessionParams{
		Mode:                     stripe.String(string(mode)),
		PaymentMethodTypes:       []*string{stripe.String("card")},
		LineItems:                []*stripe.CheckoutSessionLineItemParams{item},
		SuccessURL:               stripe.String(req.SuccessURL),
		CancelURL:                stripe.String(req.CancelURL),
		AllowPromotionCodes:      stripe.Bool(true),
		BillingAddressCollection: stripe.String(string(stripe.CheckoutSessionBillingAddressCollectionRequired)),
		Metadata: map[string]string{
			"product_id":     req.Product.ID,
			"diet_plan":      req.DietPlan,
			"customizations": string(custom),
		},
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	params.Context = ctx

	sess, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, err
	}
	return &CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

// CreatePortalSession opens the Stripe customer portal for a customer.
func (p *StripeProvider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx

	sess, err := p.api.BillingPortalSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("create portal session: %w", err)
	}
	return sess.URL, nil
}

// ParseEvent verifies the Stripe-Signature header and decodes the event.
func (p *StripeProvider) ParseEvent(payload []byte, signature string) (*Event, error) {
	return parseStripeEvent(payload, signature, p.webhookSecret)
}

func parseStripeEvent(payload []byte, signature, secret string) (*Event, error) {
	if secret == "" {
		return nil, ErrNotConfigured
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	out := &Event{ID: event.ID, Type: string(event.Type)}
	switch out.Type {
	case EventCheckoutCompleted:
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return nil, fmt.Errorf("%w: decode session: %v", ErrInvalidEvent, err)
		}
		out.Checkout = checkoutFromStripe(&sess)
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		change, err := subscriptionFromRaw(event.Data.Raw)
		if err != nil {
			return nil, fmt.Errorf("%w: decode subscription: %v", ErrInvalidEvent, err)
		}
		out.Subscription = change
	}
	return out, nil
}

func checkoutFromStripe(sess *stripe.CheckoutSession) *CompletedCheckout {
	c := &CompletedCheckout{
		SessionID:   sess.ID,
		Mode:        string(sess.Mode),
		AmountTotal: sess.AmountTotal,
		Currency:    string(sess.Currency),
		Email:       sess.CustomerEmail,
		Metadata:    sess.Metadata,
	}
	if sess.CustomerDetails != nil {
		if sess.CustomerDetails.Email != "" {
			c.Email = sess.CustomerDetails.Email
		}
		c.Name = sess.CustomerDetails.Name
	}
	if sess.Customer != nil {
		c.CustomerID = sess.Customer.ID
	}
	if sess.Subscription != nil {
		c.SubscriptionID = sess.Subscription.ID
	}
	return c
}

// rawSubscription reads the period fields from either the subscription or its
// first item, since newer API versions moved them onto items.
type rawSubscription struct {
	ID                 string          `json:"id"`
	Customer           json.RawMessage `json:"customer"`
	Status             string          `json:"status"`
	CurrentPeriodStart int64           `json:"current_period_start"`
	CurrentPeriodEnd   int64           `json:"current_period_end"`
	Items              struct {
		Data []struct {
			CurrentPeriodStart int64 `json:"current_period_start"`
			CurrentPeriodEnd   int64 `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
}

func subscriptionFromRaw(raw []byte) (*SubscriptionChange, error) {
	var sub rawSubscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, err
	}
	if sub.ID == "" {
		return nil, errors.New("missing subscription id")
	}

	start, end := sub.CurrentPeriodStart, sub.CurrentPeriodEnd
	if start == 0 && len(sub.Items.Data) > 0 {
		start, end = sub.Items.Data[0].CurrentPeriodStart, sub.Items.Data[0].CurrentPeriodEnd
	}

	change := &SubscriptionChange{
		ID:         sub.ID,
		CustomerID: expandableID(sub.Customer),
		Status:     sub.Status,
	}
	if start > 0 {
		change.PeriodStart = time.Unix(start, 0).UTC()
	}
	if end > 0 {
		change.PeriodEnd = time.Unix(end, 0).UTC()
	}
	return change, nil
}

// expandableID returns the id of a Stripe expandable field, which is either a
// bare string or an object with an "id".
func expandableID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.ID
	}
	return ""
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
