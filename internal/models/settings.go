// internal/models/settings.go
package models

import "slices"

// UserSettings is the single mutable settings record. Preferences and agents
// behave as sets: order of first insertion is kept, duplicates are dropped.
type UserSettings struct {
	DietaryPreferences []string `json:"dietaryPreferences"`
	DailyCalorieTarget *float64 `json:"dailyCalorieTarget,omitempty"`
	CustomDietRules    string   `json:"customDietRules,omitempty"`
	ActiveAgents       []string `json:"activeAgents"`
}

func DefaultSettings() UserSettings {
	return UserSettings{
		DietaryPreferences: []string{},
		ActiveAgents:       []string{},
	}
}

// Clone returns a deep copy so callers can never alias the tracker's state.
func (s UserSettings) Clone() UserSettings {
	out := UserSettings{
		DietaryPreferences: append([]string{}, s.DietaryPreferences...),
		CustomDietRules:    s.CustomDietRules,
		ActiveAgents:       append([]string{}, s.ActiveAgents...),
	}
	if s.DailyCalorieTarget != nil {
		t := *s.DailyCalorieTarget
		out.DailyCalorieTarget = &t
	}
	return out
}

// Normalize removes duplicates and empty tags and replaces nil slices.
func (s UserSettings) Normalize() UserSettings {
	out := s.Clone()
	out.DietaryPreferences = Union(nil, out.DietaryPreferences)
	out.ActiveAgents = Union(nil, out.ActiveAgents)
	if out.DailyCalorieTarget != nil && *out.DailyCalorieTarget <= 0 {
		out.DailyCalorieTarget = nil
	}
	return out
}

// Target returns the daily calorie target and whether one is set.
func (s UserSettings) Target() (float64, bool) {
	if s.DailyCalorieTarget == nil || *s.DailyCalorieTarget <= 0 {
		return 0, false
	}
	return *s.DailyCalorieTarget, true
}

// Union appends every tag of add not already in base.
func Union(base, add []string) []string {
	out := make([]string, 0, len(base)+len(add))
	for _, tag := range append(append([]string{}, base...), add...) {
		if tag == "" || slices.Contains(out, tag) {
			continue
		}
		out = append(out, tag)
	}
	return out
}

// Difference returns base without any tag in remove.
func Difference(base, remove []string) []string {
	out := make([]string, 0, len(base))
	for _, tag := range base {
		if !slices.Contains(remove, tag) {
			out = append(out, tag)
		}
	}
	return out
}
