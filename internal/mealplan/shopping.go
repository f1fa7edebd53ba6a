package mealplan

import (
	"sort"
	"strconv"
	"strings"

	"github.com/mealplanhq/mealplan/internal/store"
)

// ShoppingList is a week's groceries grouped by store section.
type ShoppingList struct {
	Sections      []Section `json:"sections"`
	EstimatedCost string    `json:"estimatedCost,omitempty"`
}

// Section is one aisle of a shopping list.
type Section struct {
	Name  string `json:"name"`
	Items []Item `json:"items"`
}

// Item is one grocery line. Bundled plans carry a free-form Quantity;
// computed lists carry Amount and Unit.
type Item struct {
	Name     string  `json:"name"`
	Amount   float64 `json:"amount,omitempty"`
	Unit     string  `json:"unit,omitempty"`
	Quantity string  `json:"quantity,omitempty"`
	Notes    string  `json:"notes,omitempty"`
}

// String formats the item for display, e.g. "2 cups quinoa (rinsed)".
func (i Item) String() string {
	if i.Quantity != "" {
		return i.Name + " - " + i.Quantity
	}
	var b strings.Builder
	if i.Amount > 0 {
		b.WriteString(FormatAmount(i.Amount))
		b.WriteByte(' ')
	}
	if i.Unit != "" && i.Unit != "unit" {
		b.WriteString(i.Unit)
		b.WriteByte(' ')
	}
	b.WriteString(i.Name)
	if i.Notes != "" {
		b.WriteString(" (" + i.Notes + ")")
	}
	return b.String()
}

// Store sections in aisle order.
var storeSections = []struct{ key, name string }{
	{"produce", "Produce & Fresh Vegetables"},
	{"meat", "Meat & Seafood"},
	{"dairy", "Dairy & Eggs"},
	{"bakery", "Bakery & Bread"},
	{"pantry", "Pantry Staples"},
	{"grains", "Grains & Pasta"},
	{"canned", "Canned & Jarred Goods"},
	{"frozen", "Frozen Foods"},
	{"spices", "Spices & Seasonings"},
	{"condiments", "Condiments & Sauces"},
	{"beverages", "Beverages"},
	{"snacks", "Snacks"},
	{"other", "Other Items"},
}

var ingredientSections = map[string]string{
	"tomato": "produce", "tomatoes": "produce", "onion": "produce", "garlic": "produce",
	"lettuce": "produce", "spinach": "produce", "kale": "produce", "carrot": "produce",
	"bell pepper": "produce", "cucumber": "produce", "zucchini": "produce", "broccoli": "produce",
	"cauliflower": "produce", "mushroom": "produce", "avocado": "produce", "lemon": "produce",
	"lime": "produce", "apple": "produce", "banana": "produce", "berries": "produce",
	"parsley": "produce", "eggplant": "produce", "cilantro": "produce", "sweet potato": "produce", "potato": "produce",

	"chicken": "meat", "beef": "meat", "pork": "meat", "turkey": "meat", "lamb": "meat", "steak": "meat",
	"salmon": "meat", "shrimp": "meat", "fish": "meat", "cod": "meat",

	"milk": "dairy", "cheese": "dairy", "feta": "dairy", "yogurt": "dairy", "butter": "dairy",
	"cream": "dairy", "egg": "dairy",

	"bread": "bakery", "tortilla": "bakery", "bun": "bakery", "pita": "bakery",

	"flour": "pantry", "sugar": "pantry", "baking powder": "pantry", "baking soda": "pantry",
	"salt": "pantry", "pepper": "pantry", "oil": "pantry", "honey": "pantry",
	"maple syrup": "pantry", "vanilla": "pantry", "tahini": "pantry", "nuts": "pantry",
	"almonds": "pantry", "walnuts": "pantry", "seeds": "pantry",

	"rice": "grains", "pasta": "grains", "quinoa": "grains", "oats": "grains",
	"couscous": "grains", "noodles": "grains", "bulgur": "grains", "farro": "grains",

	"beans": "canned", "chickpea": "canned", "lentil": "canned", "tomato sauce": "canned",
	"diced tomatoes": "canned", "coconut milk": "canned", "tuna": "canned",
	"peanut butter": "canned", "almond butter": "canned", "olives": "canned",

	"frozen": "frozen", "ice cream": "frozen",

	"basil": "spices", "oregano": "spices", "cumin": "spices", "paprika": "spices",
	"cinnamon": "spices", "ginger": "spices", "turmeric": "spices", "chili powder": "spices",
	"garlic powder": "spices", "onion powder": "spices", "thyme": "spices", "rosemary": "spices",

	"ketchup": "condiments", "mustard": "condiments", "mayonnaise": "condiments",
	"soy sauce": "condiments", "hot sauce": "condiments", "vinegar": "condiments",
	"salsa": "condiments", "hummus": "condiments",

	"coffee": "beverages", "tea": "beverages", "juice": "beverages", "wine": "beverages",
	"broth": "beverages", "stock": "beverages",
}

// sectionKeywords holds ingredientSections keys, longest first, so that
// "garlic powder" wins over "garlic".
var sectionKeywords = func() []string {
	keys := make([]string, 0, len(ingredientSections))
	for k := range ingredientSections {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}()

// SectionFor returns the store section name of an ingredient.
func SectionFor(ingredient string) string {
	name := strings.ToLower(strings.TrimSpace(ingredient))
	key := "other"
	if s, ok := ingredientSections[name]; ok {
		key = s
	} else {
		for _, kw := range sectionKeywords {
			if strings.Contains(name, kw) {
				key = ingredientSections[kw]
				break
			}
		}
	}
	for _, s := range storeSections {
		if s.key == key {
			return s.name
		}
	}
	return "Other Items"
}

// BuildShoppingList combines the ingredients of recipes into a list grouped
// by store section. Lines with the same name and unit are summed; the same
// name in a different unit is listed separately. Amounts that do not parse
// count as 1.
func BuildShoppingList(recipes []store.Recipe) ShoppingList {
	combined := map[string]*Item{}
	for _, r := range recipes {
		for _, ing := range r.Ingredients {
			name := strings.TrimSpace(ing.Item)
			if name == "" {
				continue
			}
			unit := strings.TrimSpace(ing.Unit)
			if unit == "" {
				unit = "unit"
			}
			amount, ok := ParseAmount(ing.Amount)
			if !ok {
				amount = 1
			}

			key := strings.ToLower(name) + "\x00" + strings.ToLower(unit)
			if it, ok := combined[key]; ok {
				it.Amount += amount
				if ing.Notes != "" && !strings.Contains(it.Notes, ing.Notes) {
					it.Notes = joinNotes(it.Notes, ing.Notes)
				}
				continue
			}
			combined[key] = &Item{Name: name, Amount: amount, Unit: unit, Notes: ing.Notes}
		}
	}

	bySection := map[string][]Item{}
	for _, it := range combined {
		sec := SectionFor(it.Name)
		bySection[sec] = append(bySection[sec], *it)
	}

	var list ShoppingList
	for _, s := range storeSections {
		items := bySection[s.name]
		if len(items) == 0 {
			continue
		}
		sort.Slice(items, func(i, j int) bool {
			ni, nj := strings.ToLower(items[i].Name), strings.ToLower(items[j].Name)
			if ni != nj {
				return ni < nj
			}
			return items[i].Unit < items[j].Unit
		})
		list.Sections = append(list.Sections, Section{Name: s.name, Items: items})
	}
	return list
}

func joinNotes(a, b string) string {
	if a == "" {
		return b
	}
	return a + ", " + b
}

// ParseAmount reads quantities such as "2", "1.5", "1/2" and "1 1/2".
func ParseAmount(s string) (float64, bool) {
	fields := strings.Fields(strings.TrimSpace(s))
	if len(fields) == 0 || len(fields) > 2 {
		return 0, false
	}
	total := 0.0
	for _, f := range fields {
		v, ok := parseNumber(f)
		if !ok {
			return 0, false
		}
		total += v
	}
	return total, total > 0
}

func parseNumber(s string) (float64, bool) {
	if num, den, ok := strings.Cut(s, "/"); ok {
		n, err1 := strconv.ParseFloat(num, 64)
		d, err2 := strconv.ParseFloat(den, 64)
		if err1 != nil || err2 != nil || d == 0 {
			return 0, false
		}
		return n / d, true
	}
	v, err := strconv.ParseFloat(s, 64)
	return v, err == nil
}

// FormatAmount prints whole numbers without decimals and others with at most
// two decimals.
func FormatAmount(v float64) string {
	return strconv.FormatFloat(roundTo(v, 2), 'f', -1, 64)
}

func roundTo(v float64, places int) float64 {
	p := 1.0
	for range places {
		p *= 10
	}
	if v < 0 {
		return -float64(int64(-v*p+0.5)) / p
	}
	return float64(int64(v*p+0.5)) / p
}

// BaselineServings is assumed for recipes that do not state a serving count.
const BaselineServings = 4

// Scale returns a copy of r with ingredient amounts multiplied for servings.
// Amounts that do not parse are kept unchanged.
func Scale(r store.Recipe, servings int) store.Recipe {
	base := r.Servings
	if base <= 0 {
		base = BaselineServings
	}
	if servings <= 0 || servings == base {
		if r.Servings <= 0 {
			r.Servings = base
		}
		return r
	}

	factor := float64(servings) / float64(base)
	ings := make([]store.Ingredient, len(r.Ingredients))
	for i, ing := range r.Ingredients {
		if v, ok := ParseAmount(ing.Amount); ok {
			ing.Amount = FormatAmount(v * factor)
		}
		ings[i] = ing
	}
	r.Ingredients = ings
	r.Servings = servings
	return r
}
