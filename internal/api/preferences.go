package api

import (
	"net/http"
	"strings"

	"github.com/mealplanhq/mealplan/internal/store"
)

const (
	maxFamilySize      = 12
	defaultServings    = 4
	defaultMaxPrepTime = 45
)

var skillLevels = map[string]bool{"beginner": true, "intermediate": true, "advanced": true}

type preferencesRequest struct {
	FamilySize          *int     `json:"family_size"`
	ServingsPreference  int      `json:"servings_preference"`
	DietaryRestrictions []string `json:"dietary_restrictions"`
	Allergies           []string `json:"allergies"`
	Dislikes            []string `json:"dislikes"`
	PreferredCuisines   []string `json:"preferred_cuisines"`
	CookingSkillLevel   string   `json:"cooking_skill_level"`
	MaxPrepTime         int      `json:"max_prep_time"`
	SnacksIncluded      *bool    `json:"snacks_included"`
	NutritionGoals      []string `json:"nutrition_goals"`
	CalorieTarget       int      `json:"calorie_target"`
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	identity := getIdentityFromContext(r.Context())
	prefs, err := s.store.GetUserPreferences(r.Context(), identity.UserID)
	if err != nil {
		s.logger.Error("get preferences failed", "user_id", identity.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to fetch preferences")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"preferences":    prefs,
		"hasPreferences": prefs != nil,
	})
}

func (s *Server) handlePutPreferences(w http.ResponseWriter, r *http.Request) {
	identity := getIdentityFromContext(r.Context())
	var req preferencesRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.FamilySize == nil || *req.FamilySize < 1 || *req.FamilySize > maxFamilySize {
		writeError(w, http.StatusBadRequest, "family_size must be between 1 and 12")
		return
	}
	skill := strings.ToLower(strings.TrimSpace(req.CookingSkillLevel))
	if skill == "" {
		skill = "intermediate"
	}
	if !skillLevels[skill] {
		writeError(w, http.StatusBadRequest, "cooking_skill_level must be beginner, intermediate or advanced")
		return
	}
	if req.MaxPrepTime < 0 || req.CalorieTarget < 0 || req.ServingsPreference < 0 {
		writeError(w, http.StatusBadRequest, "numeric preferences must not be negative")
		return
	}

	prefs := &store.UserPreferences{
		UserID:              identity.UserID,
		FamilySize:          *req.FamilySize,
		ServingsPreference:  req.ServingsPreference,
		DietaryRestrictions: cleanList(req.DietaryRestrictions),
		Allergies:           cleanList(req.Allergies),
		Dislikes:            cleanList(req.Dislikes),
		PreferredCuisines:   cleanList(req.PreferredCuisines),
		CookingSkillLevel:   skill,
		MaxPrepTime:         req.MaxPrepTime,
		SnacksIncluded:      true,
		NutritionGoals:      cleanList(req.NutritionGoals),
		CalorieTarget:       req.CalorieTarget,
	}
	if prefs.ServingsPreference == 0 {
		prefs.ServingsPreference = defaultServings
	}
	if prefs.MaxPrepTime == 0 {
		prefs.MaxPrepTime = defaultMaxPrepTime
	}
	if req.SnacksIncluded != nil {
		prefs.SnacksIncluded = *req.SnacksIncluded
	}

	created, err := s.store.UpsertUserPreferences(r.Context(), prefs)
	if err != nil {
		s.logger.Error("save preferences failed", "user_id", identity.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save preferences")
		return
	}

	status, message := http.StatusOK, "Preferences updated successfully"
	if created {
		status, message = http.StatusCreated, "Preferences created successfully"
	}
	writeJSON(w, status, map[string]any{
		"success":     true,
		"preferences": prefs,
		"message":     message,
	})
}
