// internal/agent/tools.go
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"nutrivision/internal/llm"
)

const (
	ToolUpdateProfile = "update_dietary_profile"
	ToolLogManualMeal = "log_manual_meal"
	ToolSetReminder   = "set_reminder"
)

var (
	ErrUnknownTool = errors.New("unknown tool")
	ErrInvalidArgs = errors.New("invalid tool arguments")
)

// Call is one of UpdateProfile, LogManualMeal or SetReminder.
type Call interface {
	ToolName() string
	isCall()
}

// UpdateProfile merges into the user's settings. Nil fields are left alone.
type UpdateProfile struct {
	DailyCalorieTarget *float64 `json:"dailyCalorieTarget,omitempty"`
	AddPreferences     []string `json:"addPreferences,omitempty"`
	RemovePreferences  []string `json:"removePreferences,omitempty"`
	CustomDietRules    *string  `json:"customDietRules,omitempty"`
}

// LogManualMeal records a meal without a photo. Omitted macros are zero.
type LogManualMeal struct {
	FoodName string  `json:"foodName"`
	Calories float64 `json:"calories"`
	Protein  float64 `json:"protein,omitempty"`
	Carbs    float64 `json:"carbs,omitempty"`
	Fats     float64 `json:"fats,omitempty"`
	Fiber    float64 `json:"fiber,omitempty"`
}

type SetReminder struct {
	Minutes float64 `json:"minutes"`
	Task    string  `json:"task"`
}

func (UpdateProfile) ToolName() string { return ToolUpdateProfile }
func (LogManualMeal) ToolName() string { return ToolLogManualMeal }
func (SetReminder) ToolName() string   { return ToolSetReminder }

func (UpdateProfile) isCall() {}
func (LogManualMeal) isCall() {}
func (SetReminder) isCall()   {}

// Actions performs the side effects of a decoded call and describes the
// outcome in a short sentence for the model.
type Actions interface {
	UpdateSettings(ctx context.Context, args UpdateProfile) (string, error)
	LogFood(ctx context.Context, args LogManualMeal) (string, error)
	SetReminder(ctx context.Context, args SetReminder) (string, error)
}

// Decode validates raw model arguments for the named tool.
func Decode(name string, raw json.RawMessage) (Call, error) {
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage("{}")
	}

	switch name {
	case ToolUpdateProfile:
		var args UpdateProfile
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArgs, err)
		}
		if args.DailyCalorieTarget != nil && *args.DailyCalorieTarget <= 0 {
			return nil, fmt.Errorf("%w: dailyCalorieTarget must be positive", ErrInvalidArgs)
		}
		args.AddPreferences = cleanTags(args.AddPreferences)
		args.RemovePreferences = cleanTags(args.RemovePreferences)
		if args.CustomDietRules != nil {
			rules := strings.TrimSpace(*args.CustomDietRules)
			args.CustomDietRules = &rules
		}
		return args, nil

	case ToolLogManualMeal:
		var args struct {
			FoodName string   `json:"foodName"`
			Calories *float64 `json:"calories"`
			Protein  float64  `json:"protein"`
			Carbs    float64  `json:"carbs"`
			Fats     float64  `json:"fats"`
			Fiber    float64  `json:"fiber"`
		}
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArgs, err)
		}
		name := strings.TrimSpace(args.FoodName)
		if name == "" {
			return nil, fmt.Errorf("%w: foodName is required", ErrInvalidArgs)
		}
		if args.Calories == nil {
			return nil, fmt.Errorf("%w: calories is required", ErrInvalidArgs)
		}
		if *args.Calories < 0 || args.Protein < 0 || args.Carbs < 0 || args.Fats < 0 || args.Fiber < 0 {
			return nil, fmt.Errorf("%w: nutritional values cannot be negative", ErrInvalidArgs)
		}
		return LogManualMeal{
			FoodName: name,
			Calories: *args.Calories,
			Protein:  args.Protein,
			Carbs:    args.Carbs,
			Fats:     args.Fats,
			Fiber:    args.Fiber,
		}, nil

	case ToolSetReminder:
		var args SetReminder
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArgs, err)
		}
		args.Task = strings.TrimSpace(args.Task)
		if args.Minutes <= 0 {
			return nil, fmt.Errorf("%w: minutes must be positive", ErrInvalidArgs)
		}
		if args.Task == "" {
			return nil, fmt.Errorf("%w: task is required", ErrInvalidArgs)
		}
		return args, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
}

// Dispatch runs a decoded call against actions.
func Dispatch(ctx context.Context, actions Actions, call Call) (string, error) {
	switch c := call.(type) {
	case UpdateProfile:
		return actions.UpdateSettings(ctx, c)
	case LogManualMeal:
		return actions.LogFood(ctx, c)
	case SetReminder:
		return actions.SetReminder(ctx, c)
	}
	return "", fmt.Errorf("%w: %T", ErrUnknownTool, call)
}

func cleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// Declarations are the three tools offered in the first round.
var Declarations = []llm.Tool{
	{
		Name:        ToolUpdateProfile,
		Description: "Update the user's dietary settings, goals, or preferences.",
		Parameters: &llm.Schema{
			Type: llm.TypeObject,
			Properties: map[string]*llm.Schema{
				"dailyCalorieTarget": {Type: llm.TypeNumber, Description: "The new daily calorie goal."},
				"addPreferences": {
					Type:        llm.TypeArray,
					Items:       &llm.Schema{Type: llm.TypeString},
					Description: "Dietary tags to add (e.g. 'Vegan', 'Keto').",
				},
				"removePreferences": {
					Type:        llm.TypeArray,
					Items:       &llm.Schema{Type: llm.TypeString},
					Description: "Dietary tags to remove.",
				},
				"customDietRules": {Type: llm.TypeString, Description: "Custom text rules for the user's diet (e.g. 'Intermittent fasting')."},
			},
		},
	},
	{
		Name:        ToolLogManualMeal,
		Description: "Log a meal manually when the user describes what they ate without a photo.",
		Parameters: &llm.Schema{
			Type: llm.TypeObject,
			Properties: map[string]*llm.Schema{
				"foodName": {Type: llm.TypeString, Description: "Name of the meal or food item."},
				"calories": {Type: llm.TypeNumber, Description: "Estimated calories."},
				"protein":  {Type: llm.TypeNumber, Description: "Estimated protein in grams."},
				"carbs":    {Type: llm.TypeNumber, Description: "Estimated carbs in grams."},
				"fats":     {Type: llm.TypeNumber, Description: "Estimated fats in grams."},
				"fiber":    {Type: llm.TypeNumber, Description: "Estimated fiber in grams."},
			},
			Required: []string{"foodName", "calories"},
		},
	},
	{
		Name:        ToolSetReminder,
		Description: "Set a timer to remind the user of a health task.",
		Parameters: &llm.Schema{
			Type: llm.TypeObject,
			Properties: map[string]*llm.Schema{
				"minutes": {Type: llm.TypeNumber, Description: "Number of minutes from now to trigger the reminder."},
				"task":    {Type: llm.TypeString, Description: "The message to remind the user about (e.g. 'Drink water')."},
			},
			Required: []string{"minutes", "task"},
		},
	},
}
