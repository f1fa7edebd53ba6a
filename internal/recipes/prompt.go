// Package recipes generates, parses, matches and maintains catalog recipes.
package recipes

import (
	"fmt"
	"strings"
	"time"
)

// Constraints describe what a diet emphasizes and excludes.
type Constraints struct {
	Focus   string
	Avoid   string
	Carbs   int // target percent of calories
	Protein int
	Fat     int
}

var dietConstraints = map[string]Constraints{
	"mediterranean": {
		Focus: "olive oil, fish, vegetables, whole grains, legumes",
		Avoid: "processed foods, refined sugars",
		Carbs: 45, Protein: 20, Fat: 35,
	},
	"keto": {
		Focus: "high fat, moderate protein, very low carb",
		Avoid: "grains, sugar, most fruits, starchy vegetables",
		Carbs: 5, Protein: 20, Fat: 75,
	},
	"vegan": {
		Focus: "plant-based proteins, vegetables, grains, nuts, seeds",
		Avoid: "all animal products including meat, dairy, eggs, honey",
		Carbs: 55, Protein: 15, Fat: 30,
	},
	"paleo": {
		Focus: "lean meats, fish, vegetables, fruits, nuts, seeds",
		Avoid: "grains, legumes, dairy, processed foods",
		Carbs: 35, Protein: 30, Fat: 35,
	},
	"vegetarian": {
		Focus: "vegetables, fruits, grains, dairy, eggs",
		Avoid: "meat, fish, poultry",
		Carbs: 50, Protein: 20, Fat: 30,
	},
}

var genericConstraints = Constraints{
	Focus: "whole foods, vegetables, lean proteins, whole grains",
	Avoid: "heavily processed foods, excess added sugar",
	Carbs: 45, Protein: 25, Fat: 30,
}

// ConstraintsFor returns the constraints for a diet slug, falling back to a
// balanced default for diets without a dedicated entry.
func ConstraintsFor(diet string) Constraints {
	if c, ok := dietConstraints[diet]; ok {
		return c
	}
	return genericConstraints
}

// SeasonFor maps a month onto a season name.
func SeasonFor(m time.Month) string {
	switch (int(m) - 1) / 3 {
	case 0:
		return "winter"
	case 1:
		return "spring"
	case 2:
		return "summer"
	default:
		return "fall"
	}
}

// Difficulty levels.
const (
	DifficultyEasy   = "easy"
	DifficultyMedium = "medium"
	DifficultyHard   = "hard"
)

var difficultyCycle = []string{DifficultyEasy, DifficultyMedium, DifficultyHard}

// Request asks the generator for a batch of recipes.
type Request struct {
	DietType    string
	MealType    string
	Count       int
	Servings    int
	Difficulty  string // rotates through easy, medium and hard when empty
	MaxPrepTime int    // minutes
	Season      string
	Avoid       []string
	Prefer      []string
}

// BuildPrompt renders the generation prompt for one recipe.
func BuildPrompt(req Request, difficulty string) string {
	c := ConstraintsFor(req.DietType)
	servings := req.Servings
	if servings <= 0 {
		servings = 4
	}
	maxPrep := req.MaxPrepTime
	if maxPrep <= 0 {
		maxPrep = 30
	}
	meal := req.MealType
	if meal == "" || meal == "any" {
		meal = "dinner"
	}

	var b strings.Builder
	b.WriteString("You are a professional chef and nutritionist. Create a recipe that exactly matches these requirements and return ONLY valid JSON.\n\n")
	fmt.Fprintf(&b, "Generate a %s diet %s recipe with the following requirements:\n\n", req.DietType, meal)
	fmt.Fprintf(&b, "Diet Focus: %s\n", c.Focus)
	fmt.Fprintf(&b, "Must Avoid: %s\n", c.Avoid)
	fmt.Fprintf(&b, "Target Macros: {\"carbs\":%d,\"protein\":%d,\"fat\":%d}\n", c.Carbs, c.Protein, c.Fat)
	fmt.Fprintf(&b, "Meal Type: %s\n", meal)
	fmt.Fprintf(&b, "Servings: %d\n", servings)
	fmt.Fprintf(&b, "Max Prep Time: %d minutes\n", maxPrep)
	fmt.Fprintf(&b, "Difficulty: %s\n", difficulty)
	if req.Season != "" {
		fmt.Fprintf(&b, "Season: %s (use seasonal ingredients)\n", req.Season)
	}
	if len(req.Avoid) > 0 {
		fmt.Fprintf(&b, "Avoid these ingredients: %s\n", strings.Join(req.Avoid, ", "))
	}
	if len(req.Prefer) > 0 {
		fmt.Fprintf(&b, "Try to include: %s\n", strings.Join(req.Prefer, ", "))
	}
	b.WriteString(`
Return ONLY a JSON object with this exact structure (no other text):
{
  "name": "Recipe Name",
  "description": "Brief appealing description",
  "prep_time": 15,
  "cook_time": 30,
  "servings": 4,
  "difficulty": "easy|medium|hard",
  "ingredients": [
    {"item": "ingredient name", "amount": "2", "unit": "cups", "notes": "optional notes"}
  ],
  "instructions": ["Step 1", "Step 2", "Step 3"],
  "nutrition": {"calories": 350, "protein": 25, "carbs": 30, "fat": 15, "fiber": 8},
  "tags": ["gluten-free", "dairy-free"]
}`)
	return b.String()
}

// ImagePrompt renders the food photography prompt for a recipe.
func ImagePrompt(name, description string) string {
	return fmt.Sprintf("Professional food photography of %s. %s Natural light, overhead angle, on a rustic table, appetizing and realistic.", name, description)
}
