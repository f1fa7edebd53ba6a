// Package billing implements the product catalog, Stripe checkout and the
// payment webhook fulfillment flow.
package billing

import "sort"

// Checkout modes.
const (
	ModePayment      = "payment"
	ModeSubscription = "subscription"
)

// Product is a purchasable plan package.
type Product struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Price       int64    `json:"price"` // cents
	Mode        string   `json:"mode"`
	PriceID     string   `json:"-"` // Stripe price id; inline price data is used when empty
	Image       string   `json:"image,omitempty"`
	Features    []string `json:"features"`
}

// ProductType maps the checkout mode onto the job's product type.
func (p Product) ProductType() string {
	if p.Mode == ModeSubscription {
		return "subscription"
	}
	return "one_time"
}

// DefaultProducts is the built-in catalog.
func DefaultProducts() []Product {
	return []Product{
		{
			ID:          "custom-meal-plan",
			Name:        "Custom Meal Plan",
			Description: "A personalized 30-day meal plan built around your diet, allergies and preferences.",
			Price:       5900,
			Mode:        ModePayment,
			Features:    []string{"30 personalized dinners", "Weekly shopping lists", "Printable PDF calendar"},
		},
		{
			ID:          "monthly-subscription",
			Name:        "Monthly Meal Plan Subscription",
			Description: "A fresh personalized meal plan every month.",
			Price:       2900,
			Mode:        ModeSubscription,
			Features:    []string{"New plan every month", "Recipe history without repeats", "Cancel anytime"},
		},
		{
			ID:          "wellness-transformation",
			Name:        "Wellness Transformation",
			Description: "A complete 30-day program with recipes, shopping lists and nutrition guidance.",
			Price:       5900,
			Mode:        ModePayment,
			Features:    []string{"30-day program", "Macro breakdowns", "Shopping lists by store section"},
		},
		{
			ID:          "custom-family",
			Name:        "Custom Family Plan",
			Description: "Family-sized dinners scaled to your household.",
			Price:       5900,
			Mode:        ModePayment,
			Features:    []string{"Scaled portions", "Kid-friendly options", "Weekly shopping lists"},
		},
		{
			ID:          "monthly-calendar",
			Name:        "Monthly Meal Calendar",
			Description: "A monthly calendar of dinners for your chosen diet.",
			Price:       2900,
			Mode:        ModeSubscription,
			Features:    []string{"Monthly calendar", "PDF download"},
		},
	}
}

// Catalog looks up products by id.
type Catalog struct {
	products map[string]Product
}

// NewCatalog builds a catalog from products, attaching configured Stripe price ids.
func NewCatalog(products []Product, priceIDs map[string]string) *Catalog {
	c := &Catalog{products: make(map[string]Product, len(products))}
	for _, p := range products {
		if id := priceIDs[p.ID]; id != "" {
			p.PriceID = id
		}
		c.products[p.ID] = p
	}
	return c
}

// Lookup returns the product with the given id.
func (c *Catalog) Lookup(id string) (Product, bool) {
	p, ok := c.products[id]
	return p, ok
}

// List returns all products ordered by id.
func (c *Catalog) List() []Product {
	out := make([]Product, 0, len(c.products))
	for _, p := range c.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
