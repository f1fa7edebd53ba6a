package cmd

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mealplanhq/mealplan/internal/app"
	"github.com/mealplanhq/mealplan/internal/recipes"
	"github.com/mealplanhq/mealplan/internal/store"
)

func newRecipesCmd() *cobra.Command {
	recipesCmd := &cobra.Command{
		Use:   "recipes",
		Short: "Maintain the recipe library",
	}
	recipesCmd.AddCommand(newRecipesListCmd())
	recipesCmd.AddCommand(newRecipesGenerateCmd())
	recipesCmd.AddCommand(newRecipesDedupeCmd())
	recipesCmd.AddCommand(newRecipesCategorizeCmd())
	recipesCmd.AddCommand(newRecipesImagesCmd())
	return recipesCmd
}

func newRecipesListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored recipes",
		Args:  cobra.NoArgs,
		RunE:  runRecipesList,
	}
	cmd.Flags().String("diet", "", "filter by diet slug")
	cmd.Flags().String("meal", "", "filter by meal type")
	cmd.Flags().Int("limit", 50, "maximum number of recipes")
	addCommonFlags(cmd, true)
	return cmd
}

func runRecipesList(cmd *cobra.Command, args []string) error {
	diet, _ := cmd.Flags().GetString("diet")
	meal, _ := cmd.Flags().GetString("meal")
	limit, _ := cmd.Flags().GetInt("limit")

	return withServices(cmd, func(ctx context.Context, svc *app.Services) error {
		list, total, err := svc.Store.ListRecipes(ctx, store.RecipeFilter{Diet: diet, MealType: meal, Limit: limit})
		if err != nil {
			return fmt.Errorf("list recipes: %w", err)
		}

		out := cmd.OutOrStdout()
		if wantJSON(cmd) {
			return printJSON(out, map[string]any{"recipes": list, "total": total})
		}
		if len(list) == 0 {
			_, _ = fmt.Fprintln(out, "No recipes found.")
			return nil
		}
		rows := make([][]string, 0, len(list))
		for _, r := range list {
			rows = append(rows, recipeRow(r))
		}
		if err := renderTable(out, recipeHeaders, rows); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(out, "%d of %d recipes\n", len(list), total)
		return nil
	})
}

var recipeHeaders = []string{"ID", "NAME", "DIET", "MEAL", "DIFFICULTY", "SOURCE"}

func recipeRow(r store.Recipe) []string {
	return []string{r.ID, truncate(r.Name, 48), strings.Join(r.DietPlans, ","), r.MealType, r.Difficulty, r.Source}
}

func newRecipesGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate recipes with the configured model",
		Args:  cobra.NoArgs,
		RunE:  runRecipesGenerate,
	}
	cmd.Flags().String("diet", "mediterranean", "diet slug")
	cmd.Flags().String("meal", store.MealDinner, "meal type (breakfast, lunch, dinner, snack)")
	cmd.Flags().IntP("count", "n", 1, "number of recipes")
	cmd.Flags().Int("servings", 4, "servings per recipe")
	cmd.Flags().String("difficulty", "", "easy, medium or hard (rotates when empty)")
	cmd.Flags().Int("max-prep", 0, "maximum prep time in minutes")
	addCommonFlags(cmd, true)
	return cmd
}

func runRecipesGenerate(cmd *cobra.Command, args []string) error {
	diet, _ := cmd.Flags().GetString("diet")
	meal, _ := cmd.Flags().GetString("meal")
	count, _ := cmd.Flags().GetInt("count")
	servings, _ := cmd.Flags().GetInt("servings")
	difficulty, _ := cmd.Flags().GetString("difficulty")
	maxPrep, _ := cmd.Flags().GetInt("max-prep")

	if !store.ValidMealType(meal) {
		return fmt.Errorf("unknown meal type %q", meal)
	}
	if count < 1 {
		return errors.New("count must be at least 1")
	}

	return withServices(cmd, func(ctx context.Context, svc *app.Services) error {
		plan, err := svc.Store.GetDietPlan(ctx, diet)
		if err != nil {
			return fmt.Errorf("get diet plan: %w", err)
		}
		if plan == nil {
			return fmt.Errorf("unknown diet type %q", diet)
		}
		if !svc.Generator.UsesAI() {
			_, _ = fmt.Fprintln(cmd.ErrOrStderr(), warningStyle.Render("No AI key configured, storing sample recipes."))
		}

		res := svc.Generator.Generate(ctx, recipes.Request{
			DietType:    diet,
			MealType:    meal,
			Count:       count,
			Servings:    servings,
			Difficulty:  difficulty,
			MaxPrepTime: maxPrep,
			Season:      recipes.SeasonFor(time.Now().Month()),
		})

		out := cmd.OutOrStdout()
		if wantJSON(cmd) {
			if err := printJSON(out, res); err != nil {
				return err
			}
		} else {
			if len(res.Recipes) > 0 {
				rows := make([][]string, 0, len(res.Recipes))
				for _, r := range res.Recipes {
					rows = append(rows, recipeRow(r))
				}
				if err := renderTable(out, recipeHeaders, rows); err != nil {
					return err
				}
			}
			for _, e := range res.Errors {
				_, _ = fmt.Fprintln(out, errorStyle.Render(e))
			}
			_, _ = fmt.Fprintf(out, "Created %d of %d recipes.\n", len(res.Recipes), count)
		}
		if len(res.Recipes) == 0 {
			return errors.New("no recipe was created")
		}
		return nil
	})
}

func newRecipesDedupeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dedupe",
		Short: "Delete recipes whose names are near duplicates",
		Args:  cobra.NoArgs,
		RunE:  runRecipesDedupe,
	}
	cmd.Flags().Float64("threshold", recipes.DefaultSimilarity, "name similarity (0-1) above which recipes are duplicates")
	cmd.Flags().Bool("dry-run", false, "report duplicates without deleting")
	addCommonFlags(cmd, true)
	return cmd
}

func runRecipesDedupe(cmd *cobra.Command, args []string) error {
	threshold, _ := cmd.Flags().GetFloat64("threshold")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	if threshold <= 0 || threshold > 1 {
		return errors.New("threshold must be in (0, 1]")
	}

	return withServices(cmd, func(ctx context.Context, svc *app.Services) error {
		res, err := recipes.Dedupe(ctx, svc.Store, threshold, dryRun)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if wantJSON(cmd) {
			return printJSON(out, res)
		}

		if len(res.Groups) > 0 {
			var rows [][]string
			for _, g := range res.Groups {
				rows = append(rows, []string{successStyle.Render("keep"), truncate(g.Keep.Name, 48), g.Keep.ID})
				for _, r := range g.Remove {
					rows = append(rows, []string{errorStyle.Render("remove"), truncate(r.Name, 48), r.ID})
				}
			}
			if err := renderTable(out, []string{"ACTION", "NAME", "ID"}, rows); err != nil {
				return err
			}
		}
		verb := "Deleted"
		n := res.Deleted
		if dryRun {
			verb = "Would delete"
			for _, g := range res.Groups {
				n += len(g.Remove)
			}
		}
		_, _ = fmt.Fprintf(out, "Scanned %d recipes, %d duplicate groups. %s %d.\n", res.Scanned, len(res.Groups), verb, n)
		return nil
	})
}

func newRecipesCategorizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "categorize",
		Short: "Assign meal types to recipes with the configured model",
		Args:  cobra.NoArgs,
		RunE:  runRecipesCategorize,
	}
	cmd.Flags().Bool("all", false, "recategorize recipes that already have a meal type")
	addCommonFlags(cmd, true)
	return cmd
}

func runRecipesCategorize(cmd *cobra.Command, args []string) error {
	all, _ := cmd.Flags().GetBool("all")

	return withServices(cmd, func(ctx context.Context, svc *app.Services) error {
		res, err := recipes.Categorize(ctx, svc.Store, svc.LLM.Text, !all)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if wantJSON(cmd) {
			return printJSON(out, res)
		}

		types := make([]string, 0, len(res.Counts))
		for t := range res.Counts {
			types = append(types, t)
		}
		sort.Strings(types)
		rows := make([][]string, 0, len(types))
		for _, t := range types {
			rows = append(rows, []string{t, strconv.Itoa(res.Counts[t])})
		}
		if len(rows) > 0 {
			if err := renderTable(out, []string{"MEAL TYPE", "RECIPES"}, rows); err != nil {
				return err
			}
		}
		for _, f := range res.Failures {
			_, _ = fmt.Fprintln(out, errorStyle.Render(f))
		}
		_, _ = fmt.Fprintf(out, "Categorized %d recipes.\n", res.Total)
		return nil
	})
}

func newRecipesImagesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "images",
		Short: "Generate images for recipes that have none",
		Args:  cobra.NoArgs,
		RunE:  runRecipesImages,
	}
	cmd.Flags().Int("limit", recipes.DefaultImageBackfill, "maximum number of recipes per run")
	addCommonFlags(cmd, true)
	return cmd
}

func runRecipesImages(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	if limit < 1 {
		return errors.New("limit must be at least 1")
	}

	return withServices(cmd, func(ctx context.Context, svc *app.Services) error {
		res, err := svc.Generator.BackfillImages(ctx, limit)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if wantJSON(cmd) {
			return printJSON(out, res)
		}
		_, _ = fmt.Fprintf(out, "Processed %d recipes: %s, %s.\n", res.Processed,
			successStyle.Render(fmt.Sprintf("%d succeeded", res.Succeeded)),
			errorStyle.Render(fmt.Sprintf("%d failed", res.Failed)))
		return nil
	})
}
