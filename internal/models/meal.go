// internal/models/meal.go
package models

import (
	"strings"
	"time"
)

type ConfidenceLevel string

const (
	HighConfidence   ConfidenceLevel = "High"
	MediumConfidence ConfidenceLevel = "Medium"
	LowConfidence    ConfidenceLevel = "Low"
)

// ParseConfidence maps any casing of high/medium/low onto the canonical level.
func ParseConfidence(s string) (ConfidenceLevel, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return HighConfidence, true
	case "medium":
		return MediumConfidence, true
	case "low":
		return LowConfidence, true
	}
	return "", false
}

type FoodItem struct {
	Name            string   `json:"name"`
	Calories        float64  `json:"calories"`
	PortionEstimate string   `json:"portionEstimate"`
	Ingredients     []string `json:"ingredients"`
}

type Macronutrients struct {
	Protein float64 `json:"protein"`
	Carbs   float64 `json:"carbs"`
	Fats    float64 `json:"fats"`
	Fiber   float64 `json:"fiber"`
}

type HealthierAlternative struct {
	Name           string  `json:"name"`
	Calories       float64 `json:"calories"`
	Explanation    string  `json:"explanation"`
	CalorieSavings float64 `json:"calorieSavings"`
}

// AnalysisResult is the nutritional breakdown of one meal, either returned by the
// model or synthesized for a manual log. It is never modified after it is attached
// to a HistoryItem.
type AnalysisResult struct {
	TotalCalories            float64                `json:"totalCalories"`
	ConfidenceLevel          ConfidenceLevel        `json:"confidenceLevel"`
	FoodItems                []FoodItem             `json:"foodItems"`
	Macros                   Macronutrients         `json:"macros"`
	Micronutrients           []string               `json:"micronutrients"`
	HealthScore              float64                `json:"healthScore"`
	HealthRatingExplanation  string                 `json:"healthRatingExplanation"`
	HealthierAlternatives    []HealthierAlternative `json:"healthierAlternatives"`
	Allergens                []string               `json:"allergens"`
	DietaryTags              []string               `json:"dietaryTags"`
	ExerciseEquivalent       string                 `json:"exerciseEquivalent"`
	CookingMethodSuggestions string                 `json:"cookingMethodSuggestions"`
	IsManual                 bool                   `json:"isManual,omitempty"`
}

// FoodNames returns the names of the food items in order.
func (r *AnalysisResult) FoodNames() []string {
	names := make([]string, 0, len(r.FoodItems))
	for _, f := range r.FoodItems {
		names = append(names, f.Name)
	}
	return names
}

// ManualImage marks history items that were logged without a photo.
const ManualImage = "manual-entry"

type HistoryItem struct {
	ID        string         `json:"id"`
	Timestamp int64          `json:"timestamp"` // unix milliseconds
	Image     string         `json:"image"`
	Result    AnalysisResult `json:"result"`
}

// Time returns the item's timestamp as a local time.Time.
func (h HistoryItem) Time() time.Time {
	return time.UnixMilli(h.Timestamp)
}

// IsManual reports whether the item was logged without an analysed photo.
func (h HistoryItem) IsManual() bool {
	return h.Image == ManualImage || h.Result.IsManual
}
