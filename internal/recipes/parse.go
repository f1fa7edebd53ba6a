package recipes

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/mealplanhq/mealplan/internal/store"
)

var (
	ErrMalformed  = errors.New("malformed recipe json")
	ErrIncomplete = errors.New("recipe is missing required fields")
)

var fencePattern = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// Draft is the JSON shape the model is asked to return.
type Draft struct {
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	PrepTime     flexInt         `json:"prep_time"`
	CookTime     flexInt         `json:"cook_time"`
	Servings     flexInt         `json:"servings"`
	Difficulty   string          `json:"difficulty"`
	Ingredients  []DraftItem     `json:"ingredients"`
	Instructions []string        `json:"instructions"`
	Nutrition    store.Nutrition `json:"nutrition"`
	Tags         []string        `json:"tags"`
}

// DraftItem is one ingredient line of a draft.
type DraftItem struct {
	Item   string     `json:"item"`
	Amount flexString `json:"amount"`
	Unit   string     `json:"unit"`
	Notes  string     `json:"notes"`
}

// ParseDraft extracts and validates a recipe from a model response. Markdown
// code fences and leading or trailing prose are tolerated.
func ParseDraft(text string) (*Draft, error) {
	body := strings.TrimSpace(text)
	if m := fencePattern.FindStringSubmatch(body); m != nil {
		body = m[1]
	} else if start, end := strings.Index(body, "{"), strings.LastIndex(body, "}"); start >= 0 && end > start {
		body = body[start : end+1]
	}

	var d Draft
	if err := json.Unmarshal([]byte(body), &d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" || len(d.Ingredients) == 0 || len(d.Instructions) == 0 {
		return nil, ErrIncomplete
	}
	return &d, nil
}

// Recipe converts the draft into a store recipe for the given diet and meal.
func (d *Draft) Recipe(id, diet, mealType, source string) *store.Recipe {
	r := &store.Recipe{
		ID:          id,
		Name:        d.Name,
		Description: d.Description,
		MealType:    mealType,
		PrepTime:    int(d.PrepTime),
		CookTime:    int(d.CookTime),
		Servings:    int(d.Servings),
		Difficulty:  strings.ToLower(d.Difficulty),
		Tags:        d.Tags,
		Source:      source,
	}
	if r.Servings <= 0 {
		r.Servings = 4
	}
	if !store.ValidMealType(r.MealType) {
		r.MealType = store.MealAny
	}
	if diet != "" {
		r.DietPlans = []string{diet}
	}
	for _, ing := range d.Ingredients {
		if strings.TrimSpace(ing.Item) == "" {
			continue
		}
		r.Ingredients = append(r.Ingredients, store.Ingredient{
			Item:   strings.TrimSpace(ing.Item),
			Amount: string(ing.Amount),
			Unit:   ing.Unit,
			Notes:  ing.Notes,
		})
	}
	for _, step := range d.Instructions {
		if step = strings.TrimSpace(step); step != "" {
			r.Instructions = append(r.Instructions, store.Instruction{Text: step})
		}
	}
	if d.Nutrition != (store.Nutrition{}) {
		n := d.Nutrition
		r.Nutrition = &n
	}
	return r
}

// flexInt accepts 15, 15.0 or "15 minutes".
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	var n float64
	if err := json.Unmarshal(b, &n); err == nil {
		*f = flexInt(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		if string(b) == "null" {
			return nil
		}
		return err
	}
	digits := strings.TrimSpace(s)
	if i := strings.IndexFunc(digits, func(r rune) bool { return r < '0' || r > '9' }); i >= 0 {
		digits = digits[:i]
	}
	v, _ := strconv.Atoi(digits)
	*f = flexInt(v)
	return nil
}

// flexString accepts "2" or 2.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n float64
	if err := json.Unmarshal(b, &n); err == nil {
		*f = flexString(strconv.FormatFloat(n, 'f', -1, 64))
		return nil
	}
	if string(b) == "null" {
		return nil
	}
	return fmt.Errorf("invalid amount %s", b)
}
