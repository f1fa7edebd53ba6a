package recipes

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/mealplanhq/mealplan/internal/store"
)

// DefaultSimilarity is the name similarity at which two recipes count as duplicates.
const DefaultSimilarity = 0.75

var nonWord = regexp.MustCompile(`[^a-z0-9\s]`)

func normalizeName(s string) string {
	return strings.TrimSpace(nonWord.ReplaceAllString(strings.ToLower(s), ""))
}

// Similarity returns the Jaccard overlap of the words of two names, 1.0 when
// the normalized names are identical.
func Similarity(a, b string) float64 {
	na, nb := normalizeName(a), normalizeName(b)
	if na == nb {
		return 1
	}
	wa, wb := wordSet(na), wordSet(nb)
	if len(wa) == 0 || len(wb) == 0 {
		return 0
	}
	inter := 0
	for w := range wa {
		if wb[w] {
			inter++
		}
	}
	union := len(wa) + len(wb) - inter
	return float64(inter) / float64(union)
}

func wordSet(s string) map[string]bool {
	out := map[string]bool{}
	for _, w := range strings.Fields(s) {
		out[w] = true
	}
	return out
}

// DuplicateGroup is one kept recipe and the similar recipes that would be removed.
type DuplicateGroup struct {
	Keep   store.Recipe   `json:"keep"`
	Remove []store.Recipe `json:"remove"`
}

// FindDuplicates groups recipes with similar names. Within a group the recipe
// with a primary image wins, then the oldest.
func FindDuplicates(recipes []store.Recipe, threshold float64) []DuplicateGroup {
	if threshold <= 0 {
		threshold = DefaultSimilarity
	}
	sorted := make([]store.Recipe, len(recipes))
	copy(sorted, recipes)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CreatedAt.Before(sorted[j].CreatedAt) })

	taken := make([]bool, len(sorted))
	var groups []DuplicateGroup
	for i := range sorted {
		if taken[i] {
			continue
		}
		members := []store.Recipe{sorted[i]}
		for j := i + 1; j < len(sorted); j++ {
			if taken[j] {
				continue
			}
			if Similarity(sorted[i].Name, sorted[j].Name) >= threshold {
				members = append(members, sorted[j])
				taken[j] = true
			}
		}
		if len(members) < 2 {
			continue
		}
		sort.SliceStable(members, func(a, b int) bool {
			ia, ib := members[a].PrimaryImage() != "", members[b].PrimaryImage() != ""
			if ia != ib {
				return ia
			}
			return members[a].CreatedAt.Before(members[b].CreatedAt)
		})
		groups = append(groups, DuplicateGroup{Keep: members[0], Remove: members[1:]})
	}
	return groups
}

// DedupeResult summarizes a dedupe run.
type DedupeResult struct {
	Scanned int              `json:"scanned"`
	Groups  []DuplicateGroup `json:"groups"`
	Deleted int              `json:"deleted"`
}

// Dedupe loads the whole catalog, finds similar names and deletes the losers
// unless dryRun is set.
func Dedupe(ctx context.Context, s store.Store, threshold float64, dryRun bool) (*DedupeResult, error) {
	all, err := loadAll(ctx, s, store.RecipeFilter{})
	if err != nil {
		return nil, err
	}

	res := &DedupeResult{Scanned: len(all), Groups: FindDuplicates(all, threshold)}
	if dryRun {
		return res, nil
	}
	for _, g := range res.Groups {
		for _, r := range g.Remove {
			if err := s.DeleteRecipe(ctx, r.ID); err != nil {
				return res, fmt.Errorf("delete recipe %s: %w", r.ID, err)
			}
			res.Deleted++
		}
	}
	return res, nil
}

const pageSize = 200

func loadAll(ctx context.Context, s store.Store, filter store.RecipeFilter) ([]store.Recipe, error) {
	var all []store.Recipe
	filter.Limit = pageSize
	for offset := 0; ; offset += pageSize {
		filter.Offset = offset
		page, total, err := s.ListRecipes(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("list recipes: %w", err)
		}
		all = append(all, page...)
		if len(page) < pageSize || len(all) >= total {
			return all, nil
		}
	}
}
