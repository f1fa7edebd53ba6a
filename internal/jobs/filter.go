package jobs

import (
	"regexp"
	"sort"
	"strings"

	"github.com/mealplanhq/mealplan/internal/store"
)

// dietaryExclusions maps a dietary need onto the words that disqualify a
// recipe. Needs without an entry, such as kid-friendly, exclude nothing.
var dietaryExclusions = map[string]*regexp.Regexp{
	"vegetarian":  wordPattern("chicken", "beef", "pork", "fish", "salmon", "turkey", "lamb", "shrimp", "meat", "bacon", "tuna"),
	"vegan":       wordPattern("chicken", "beef", "pork", "fish", "salmon", "turkey", "lamb", "shrimp", "meat", "bacon", "tuna", "egg", "dairy", "cheese", "milk", "butter", "cream", "yogurt", "honey"),
	"gluten-free": wordPattern("pasta", "bread", "wheat", "flour", "noodle", "pizza", "cracker", "couscous"),
	"dairy-free":  wordPattern("cheese", "milk", "butter", "cream", "yogurt", "dairy"),
	"low-carb":    wordPattern("pasta", "rice", "bread", "potato", "noodle", "pizza"),
}

// allergenGroups expands a mention in the allergy text into the ingredient
// words it rules out.
var allergenGroups = []struct {
	trigger *regexp.Regexp
	words   []string
}{
	{regexp.MustCompile(`peanut|nut`), []string{"peanut", "nut", "almond", "walnut", "pecan", "cashew", "pistachio"}},
	{regexp.MustCompile(`shellfish|shrimp|crab|lobster`), []string{"shrimp", "shellfish", "crab", "lobster", "prawn"}},
	{regexp.MustCompile(`soy`), []string{"soy", "tofu", "edamame", "tempeh"}},
	{regexp.MustCompile(`dairy|milk|lactose`), []string{"milk", "cheese", "butter", "cream", "yogurt", "dairy", "feta", "parmesan"}},
	{regexp.MustCompile(`egg`), []string{"egg"}},
	{regexp.MustCompile(`wheat|gluten`), []string{"wheat", "flour", "bread", "pasta"}},
	{regexp.MustCompile(`fish`), []string{"fish", "salmon", "tuna", "cod"}},
}

var (
	preferencePattern = regexp.MustCompile(`\b(?:no|avoid|less)\s+([a-z][a-z\s]*?)\s*(?:,|;|\.|\band\b|$)`)
	connectorPattern  = regexp.MustCompile(`\b(?:and|or|no|avoid|dislike|don't like|hate|can't have)\b`)
	listSeparator     = regexp.MustCompile(`[,;|\n]+`)
)

// neutralNames rewrites ingredient names that contain an excluded word
// without containing the food itself.
var neutralNames = strings.NewReplacer(
	"eggplant", "aubergine",
	"butternut", "squash",
	"peanut butter", "peanut spread",
	"almond milk", "almond drink",
	"coconut milk", "coconut drink",
	"oat milk", "oat drink",
	"cream of tartar", "tartar",
)

// wordPattern matches any of words at the start of a word, so plurals such
// as "eggs" match while "coconut" does not match "nut".
func wordPattern(words ...string) *regexp.Regexp {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return regexp.MustCompile(`\b(?:` + strings.Join(quoted, "|") + `)`)
}

// ParseAvoidList splits free text such as "no peanuts, shellfish and soy"
// into individual ingredient names.
func ParseAvoidList(text string) []string {
	cleaned := connectorPattern.ReplaceAllString(strings.ToLower(text), ",")
	var out []string
	for _, part := range listSeparator.Split(cleaned, -1) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// PreferenceAvoids extracts the ingredients named by "no X", "avoid X" and
// "less X" phrases. "less" is treated as avoid.
func PreferenceAvoids(text string) []string {
	var out []string
	for _, m := range preferencePattern.FindAllStringSubmatch(strings.ToLower(text), -1) {
		if w := strings.TrimSpace(m[1]); w != "" {
			out = append(out, w)
		}
	}
	return out
}

// AllergenWords expands allergy text into the ingredient words to exclude.
func AllergenWords(text string) []string {
	lower := strings.ToLower(text)
	seen := map[string]bool{}
	var out []string
	for _, g := range allergenGroups {
		if !g.trigger.MatchString(lower) {
			continue
		}
		for _, w := range g.words {
			if !seen[w] {
				seen[w] = true
				out = append(out, w)
			}
		}
	}
	return out
}

// Filters holds the personalization rules of one job.
type Filters struct {
	dietary   []string
	allergens *regexp.Regexp
	avoid     []string
}

// NewFilters builds the filters for a job's dietary needs, allergies and
// preferences.
func NewFilters(job *store.MealPlanJob) *Filters {
	f := &Filters{}
	for _, need := range job.DietaryNeeds {
		need = strings.ToLower(strings.TrimSpace(need))
		if _, ok := dietaryExclusions[need]; ok {
			f.dietary = append(f.dietary, need)
		}
	}
	if words := AllergenWords(job.Allergies); len(words) > 0 {
		f.allergens = wordPattern(words...)
	}
	f.avoid = PreferenceAvoids(job.Preferences)
	return f
}

// Avoid returns the ingredient names passed to the generator as an
// avoid-list: the parsed allergy text plus preference exclusions.
func (f *Filters) Avoid(job *store.MealPlanJob) []string {
	seen := map[string]bool{}
	var out []string
	for _, w := range append(ParseAvoidList(job.Allergies), f.avoid...) {
		if !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}
	sort.Strings(out)
	return out
}

// Reject returns a reason when r must not be served, or "".
func (f *Filters) Reject(r *store.Recipe) string {
	name := neutralNames.Replace(strings.ToLower(r.Name))
	text := name + " " + neutralNames.Replace(strings.ToLower(r.Description))
	var ingredients []string
	for _, ing := range r.Ingredients {
		ingredients = append(ingredients, neutralNames.Replace(strings.ToLower(ing.Item)))
	}

	for _, need := range f.dietary {
		re := dietaryExclusions[need]
		if re.MatchString(name) {
			return "not " + need
		}
		for _, ing := range ingredients {
			if re.MatchString(ing) {
				return "not " + need + ": " + ing
			}
		}
	}

	if f.allergens != nil {
		if w := f.allergens.FindString(name); w != "" {
			return "allergen " + w
		}
		for _, ing := range ingredients {
			if w := f.allergens.FindString(ing); w != "" {
				return "allergen " + w
			}
		}
	}

	for _, w := range f.avoid {
		if containsAvoided(text, w) {
			return "preference no " + w
		}
		for _, ing := range ingredients {
			if containsAvoided(ing, w) {
				return "preference no " + w
			}
		}
	}
	return ""
}

// containsAvoided reports whether s mentions ingredient. Olive oil does not
// count as olives, and peppercorns do not count as peppers.
func containsAvoided(s, ingredient string) bool {
	stem := ingredient
	if strings.HasSuffix(stem, "oes") {
		stem = strings.TrimSuffix(stem, "es")
	} else if !strings.HasSuffix(stem, "ss") {
		stem = strings.TrimSuffix(stem, "s")
	}
	switch stem {
	case "olive":
		return strings.Contains(strings.ReplaceAll(s, "olive oil", ""), "olive")
	case "pepper":
		return strings.Contains(strings.ReplaceAll(s, "peppercorn", ""), "pepper")
	}
	return strings.Contains(s, stem)
}
