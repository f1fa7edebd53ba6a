package recipes

import "github.com/mealplanhq/mealplan/internal/store"

// Sample recipes stand in for model output when no AI backend is configured.
var sampleDrafts = map[string][]Draft{
	"mediterranean": {
		{
			Name:        "Greek Yogurt Parfait with Honey and Walnuts",
			Description: "A protein-rich Mediterranean breakfast with creamy yogurt, sweet honey and crunchy walnuts",
			PrepTime:    10, CookTime: 0, Servings: 2, Difficulty: DifficultyEasy,
			Ingredients: []DraftItem{
				{Item: "Greek yogurt", Amount: "2", Unit: "cups", Notes: "full-fat"},
				{Item: "Honey", Amount: "2", Unit: "tablespoons"},
				{Item: "Walnuts", Amount: "1/4", Unit: "cup", Notes: "chopped"},
				{Item: "Fresh berries", Amount: "1", Unit: "cup", Notes: "mixed"},
			},
			Instructions: []string{
				"Divide Greek yogurt between two bowls",
				"Drizzle honey over each serving",
				"Top with chopped walnuts and fresh berries",
			},
			Nutrition: store.Nutrition{Calories: 320, Protein: 18, Carbs: 35, Fat: 14, Fiber: 4},
			Tags:      []string{"vegetarian", "quick", "no-cook"},
		},
		{
			Name:        "Mediterranean Shakshuka",
			Description: "Eggs poached in a spiced tomato sauce with feta and herbs",
			PrepTime:    15, CookTime: 25, Servings: 4, Difficulty: DifficultyMedium,
			Ingredients: []DraftItem{
				{Item: "Eggs", Amount: "6", Unit: "large"},
				{Item: "Tomatoes", Amount: "4", Unit: "cups", Notes: "crushed"},
				{Item: "Onion", Amount: "1", Unit: "large", Notes: "diced"},
				{Item: "Bell pepper", Amount: "2", Unit: "medium", Notes: "diced"},
				{Item: "Feta cheese", Amount: "1/2", Unit: "cup", Notes: "crumbled"},
				{Item: "Olive oil", Amount: "3", Unit: "tablespoons"},
			},
			Instructions: []string{
				"Heat olive oil in a large skillet over medium heat",
				"Saute onion and bell pepper until softened",
				"Add crushed tomatoes and spices, simmer for 10 minutes",
				"Make wells in the sauce and crack the eggs into them",
				"Cover and cook until the eggs are set, top with feta",
			},
			Nutrition: store.Nutrition{Calories: 280, Protein: 16, Carbs: 22, Fat: 15, Fiber: 5},
			Tags:      []string{"vegetarian", "gluten-free"},
		},
		{
			Name:        "Lemon Herb Baked Salmon with Chickpeas",
			Description: "Flaky salmon roasted over garlicky chickpeas and cherry tomatoes",
			PrepTime:    10, CookTime: 20, Servings: 4, Difficulty: DifficultyEasy,
			Ingredients: []DraftItem{
				{Item: "Salmon fillets", Amount: "4", Unit: "pieces"},
				{Item: "Chickpeas", Amount: "1", Unit: "can", Notes: "drained"},
				{Item: "Cherry tomatoes", Amount: "2", Unit: "cups"},
				{Item: "Lemon", Amount: "1", Unit: "whole", Notes: "sliced"},
				{Item: "Olive oil", Amount: "2", Unit: "tablespoons"},
				{Item: "Garlic", Amount: "3", Unit: "cloves", Notes: "minced"},
			},
			Instructions: []string{
				"Preheat the oven to 425F",
				"Toss chickpeas and tomatoes with olive oil and garlic on a sheet pan",
				"Nestle the salmon on top and cover with lemon slices",
				"Bake for 15 to 20 minutes until the salmon flakes",
			},
			Nutrition: store.Nutrition{Calories: 420, Protein: 34, Carbs: 24, Fat: 20, Fiber: 6},
			Tags:      []string{"gluten-free", "dairy-free"},
		},
	},
	"keto": {
		{
			Name:        "Cauliflower Rice Bowl with Grilled Chicken",
			Description: "Low-carb bowl with seasoned cauliflower rice and grilled chicken",
			PrepTime:    15, CookTime: 25, Servings: 4, Difficulty: DifficultyMedium,
			Ingredients: []DraftItem{
				{Item: "Chicken breast", Amount: "1.5", Unit: "pounds", Notes: "boneless, skinless"},
				{Item: "Cauliflower", Amount: "1", Unit: "head", Notes: "riced"},
				{Item: "Avocado", Amount: "2", Unit: "whole", Notes: "sliced"},
				{Item: "Olive oil", Amount: "3", Unit: "tablespoons"},
				{Item: "Garlic", Amount: "3", Unit: "cloves", Notes: "minced"},
			},
			Instructions: []string{
				"Season and grill the chicken until it reaches 165F",
				"Rice the cauliflower in a food processor",
				"Saute the cauliflower rice with garlic in olive oil",
				"Slice the chicken and serve over the cauliflower rice with avocado",
			},
			Nutrition: store.Nutrition{Calories: 380, Protein: 35, Carbs: 8, Fat: 24, Fiber: 5},
			Tags:      []string{"keto", "low-carb", "gluten-free", "paleo"},
		},
		{
			Name:        "Bacon-Wrapped Asparagus",
			Description: "Crispy bacon wrapped around tender asparagus spears",
			PrepTime:    10, CookTime: 20, Servings: 4, Difficulty: DifficultyEasy,
			Ingredients: []DraftItem{
				{Item: "Asparagus", Amount: "1", Unit: "pound", Notes: "trimmed"},
				{Item: "Bacon", Amount: "12", Unit: "slices"},
				{Item: "Olive oil", Amount: "1", Unit: "tablespoon"},
				{Item: "Black pepper", Amount: "1", Unit: "teaspoon"},
			},
			Instructions: []string{
				"Preheat the oven to 400F",
				"Bundle 3 or 4 asparagus spears and wrap with bacon",
				"Drizzle with olive oil and season with pepper",
				"Bake for 20 minutes until the bacon is crisp",
			},
			Nutrition: store.Nutrition{Calories: 220, Protein: 12, Carbs: 4, Fat: 18, Fiber: 2},
			Tags:      []string{"keto", "low-carb", "gluten-free", "paleo"},
		},
	},
	"vegan": {
		{
			Name:        "Coconut Chickpea Curry",
			Description: "A creamy one-pot curry with chickpeas, spinach and warm spices",
			PrepTime:    10, CookTime: 25, Servings: 4, Difficulty: DifficultyEasy,
			Ingredients: []DraftItem{
				{Item: "Chickpeas", Amount: "2", Unit: "cans", Notes: "drained"},
				{Item: "Coconut milk", Amount: "1", Unit: "can"},
				{Item: "Spinach", Amount: "4", Unit: "cups"},
				{Item: "Onion", Amount: "1", Unit: "medium", Notes: "diced"},
				{Item: "Curry powder", Amount: "2", Unit: "tablespoons"},
			},
			Instructions: []string{
				"Saute the onion until soft",
				"Stir in curry powder and cook for one minute",
				"Add chickpeas and coconut milk and simmer for 15 minutes",
				"Fold in the spinach until wilted",
			},
			Nutrition: store.Nutrition{Calories: 390, Protein: 13, Carbs: 40, Fat: 21, Fiber: 11},
			Tags:      []string{"vegan", "gluten-free", "dairy-free"},
		},
	},
}

func samplesFor(diet string) []Draft {
	if s, ok := sampleDrafts[diet]; ok {
		return s
	}
	var all []Draft
	for _, key := range []string{"mediterranean", "keto", "vegan"} {
		all = append(all, sampleDrafts[key]...)
	}
	return all
}
