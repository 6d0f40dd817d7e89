// internal/nutrition/nutrition.go
package nutrition

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"nutrivision/internal/models"
)

// SameDay reports whether t falls on the same calendar date as now, in now's location.
func SameDay(t, now time.Time) bool {
	t = t.In(now.Location())
	y1, m1, d1 := t.Date()
	y2, m2, d2 := now.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

// TodaysMeals returns the history items logged on now's calendar date.
func TodaysMeals(history []models.HistoryItem, now time.Time) []models.HistoryItem {
	var out []models.HistoryItem
	for _, item := range history {
		if SameDay(item.Time(), now) {
			out = append(out, item)
		}
	}
	return out
}

// CalculateDailyTotal sums the calories of every item logged today.
func CalculateDailyTotal(history []models.HistoryItem, now time.Time) float64 {
	var total float64
	for _, item := range TodaysMeals(history, now) {
		total += item.Result.TotalCalories
	}
	return total
}

// DailyProtein sums today's protein in grams.
func DailyProtein(history []models.HistoryItem, now time.Time) float64 {
	var total float64
	for _, item := range TodaysMeals(history, now) {
		total += item.Result.Macros.Protein
	}
	return total
}

// FormatNumber renders a quantity with at most one decimal and no trailing zeros.
func FormatNumber(v float64) string {
	return strconv.FormatFloat(math.Round(v*10)/10, 'f', -1, 64)
}

// BudgetStatus describes consumed calories against a target, e.g. "350 kcal left",
// "100 kcal over" or "on target" when the difference rounds to zero.
func BudgetStatus(target, consumed float64) string {
	remaining := math.Round((target-consumed)*10) / 10
	switch {
	case remaining == 0:
		return "on target"
	case remaining < 0:
		return FormatNumber(-remaining) + " kcal over"
	}
	return FormatNumber(remaining) + " kcal left"
}

// UserContext renders the settings and today's intake as the bullet list that is
// appended to model instructions. An empty string means there is nothing to add.
func UserContext(settings models.UserSettings, history []models.HistoryItem, now time.Time) string {
	var sb strings.Builder

	if len(settings.DietaryPreferences) > 0 {
		fmt.Fprintf(&sb, "\n- Dietary Strict Preferences: %s.", strings.Join(settings.DietaryPreferences, ", "))
	}
	if settings.CustomDietRules != "" {
		fmt.Fprintf(&sb, "\n- User's Custom Diet Pattern/Rules: %q.", settings.CustomDietRules)
	}

	if history != nil {
		consumed := CalculateDailyTotal(history, now)
		fmt.Fprintf(&sb, "\n- Today's Intake So Far: %s kcal, %sg Protein.",
			FormatNumber(consumed), FormatNumber(DailyProtein(history, now)))

		if target, ok := settings.Target(); ok {
			fmt.Fprintf(&sb, "\n- Daily Calorie Target: %s kcal.", FormatNumber(target))
			fmt.Fprintf(&sb, "\n- Remaining Budget: %s.", BudgetStatus(target, consumed))
		}
	}

	return sb.String()
}

// RecentMeals lists the newest n history items, one per line.
func RecentMeals(history []models.HistoryItem, n int, loc *time.Location) string {
	if n > len(history) {
		n = len(history)
	}
	if n <= 0 {
		return "No recent meals recorded."
	}
	lines := make([]string, 0, n)
	for _, item := range history[:n] {
		lines = append(lines, fmt.Sprintf("- %s: %s (%skcal)",
			item.Time().In(loc).Format("15:04"),
			strings.Join(item.Result.FoodNames(), ", "),
			FormatNumber(item.Result.TotalCalories)))
	}
	return strings.Join(lines, "\n")
}

type Band string

const (
	BandGood     Band = "good"
	BandModerate Band = "moderate"
	BandPoor     Band = "poor"
)

func HealthBand(score float64) Band {
	switch {
	case score >= 80:
		return BandGood
	case score >= 50:
		return BandModerate
	default:
		return BandPoor
	}
}

// ShareText is the plain-text summary offered for sharing a result.
func ShareText(r *models.AnalysisResult) string {
	var sb strings.Builder
	sb.WriteString("Meal Analysis by NutriVision\n\n")
	fmt.Fprintf(&sb, "Calories: %s\n", FormatNumber(r.TotalCalories))
	fmt.Fprintf(&sb, "Health Score: %s/100\n\n", FormatNumber(r.HealthScore))
	sb.WriteString("Macros:\n")
	fmt.Fprintf(&sb, "- Protein: %sg\n", FormatNumber(r.Macros.Protein))
	fmt.Fprintf(&sb, "- Carbs: %sg\n", FormatNumber(r.Macros.Carbs))
	fmt.Fprintf(&sb, "- Fats: %sg\n\n", FormatNumber(r.Macros.Fats))
	fmt.Fprintf(&sb, "AI Suggestion: %s", r.HealthRatingExplanation)
	return sb.String()
}
