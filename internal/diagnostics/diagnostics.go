// internal/diagnostics/diagnostics.go
package diagnostics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log"

	"nutrivision/internal/agent"
	"nutrivision/internal/analysis"
	"nutrivision/internal/imaging"
	"nutrivision/internal/llm"
	"nutrivision/internal/models"
	"nutrivision/internal/session"
	"nutrivision/internal/storage"
	"nutrivision/internal/tracker"
)

type Status string

const (
	StatusPass Status = "pass"
	StatusFail Status = "fail"
)

type Check struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
	Detail string `json:"detail,omitempty"`
}

type Report struct {
	Checks       []Check `json:"checks"`
	HistoryCount int     `json:"historyCount"`
	OK           bool    `json:"ok"`
}

type Scenario string

const (
	ScenarioSuccess   Scenario = "success"
	ScenarioGoalLimit Scenario = "goal_limit"
	ScenarioAgent     Scenario = "agent"
	ScenarioError     Scenario = "error"
)

var ErrUnknownScenario = errors.New("unknown simulation scenario")

// Scenarios lists every simulation in display order.
var Scenarios = []Scenario{ScenarioSuccess, ScenarioGoalLimit, ScenarioAgent, ScenarioError}

type Simulation struct {
	Scenario Scenario          `json:"scenario"`
	Message  string            `json:"message"`
	Session  *session.Snapshot `json:"session,omitempty"`
}

type Deps struct {
	Store   storage.Store
	Model   llm.Model
	Camera  imaging.Device
	Tracker *tracker.Tracker
	Machine *session.Machine
	Logger  *log.Logger
}

type Runner struct {
	deps Deps
}

func NewRunner(deps Deps) *Runner {
	if deps.Logger == nil {
		deps.Logger = log.Default()
	}
	return &Runner{deps: deps}
}

const probeKey = "diagnostics_probe"

// Run performs the environment checks.
func (r *Runner) Run(ctx context.Context) Report {
	report := Report{OK: true}
	add := func(name string, err error, detail string) {
		c := Check{Name: name, Status: StatusPass, Detail: detail}
		if err != nil {
			c.Status, c.Detail = StatusFail, err.Error()
			report.OK = false
		}
		report.Checks = append(report.Checks, c)
	}

	add("storage", r.checkStorage(), "write/read/delete round trip")

	if r.deps.Model == nil {
		add("model", llm.ErrNotConfigured, "")
	} else {
		add("model", nil, r.deps.Model.Name())
	}

	if r.deps.Camera == nil {
		add("camera", errors.New("no camera device configured"), "")
	} else {
		add("camera", nil, "device configured")
	}

	if r.deps.Tracker != nil {
		report.HistoryCount = len(r.deps.Tracker.History())
	}
	return report
}

func (r *Runner) checkStorage() error {
	s := r.deps.Store
	if s == nil {
		return errors.New("no store configured")
	}
	if err := s.Put(probeKey, []byte("ok")); err != nil {
		return fmt.Errorf("write failed: %w", err)
	}
	got, err := s.Get(probeKey)
	if err != nil {
		return fmt.Errorf("read failed: %w", err)
	}
	if err := s.Delete(probeKey); err != nil {
		return fmt.Errorf("delete failed: %w", err)
	}
	if string(got) != "ok" {
		return fmt.Errorf("read back %q", got)
	}
	return nil
}

// Simulate runs one end-to-end scenario against the live tracker and session
// with a scripted model standing in for the remote service.
func (r *Runner) Simulate(ctx context.Context, scenario Scenario) (*Simulation, error) {
	if r.deps.Tracker == nil || r.deps.Machine == nil {
		return nil, errors.New("simulations need a tracker and a session")
	}
	r.deps.Logger.Printf("Running simulation %s", scenario)

	switch scenario {
	case ScenarioSuccess:
		payload, err := json.Marshal(SampleResult())
		if err != nil {
			return nil, err
		}
		return r.simulateAnalysis(ctx, scenario, llm.NewScripted().QueueJSON(string(payload)))

	case ScenarioError:
		model := llm.NewScripted().FailWith(errors.New("simulated network failure"))
		return r.simulateAnalysis(ctx, scenario, model)

	case ScenarioGoalLimit:
		return r.simulateGoalLimit(ctx)

	case ScenarioAgent:
		model := llm.NewScripted().
			QueueReply(llm.Reply{Calls: []llm.ToolCall{{
				Name: agent.ToolLogManualMeal,
				Args: json.RawMessage(`{"foodName":"Simulated Banana","calories":105,"carbs":27,"fiber":3}`),
			}}}).
			QueueReply(llm.Reply{Text: "I've logged a banana for you."})
		a := agent.New(model, r.deps.Tracker, r.deps.Logger, agent.Options{})
		out := a.Chat(ctx, agent.Request{
			Text:     "I just ate a banana",
			History:  r.deps.Tracker.History(),
			Settings: r.deps.Tracker.Settings(),
		})
		return &Simulation{Scenario: scenario, Message: out.Text + " (" + out.ToolResult + ")"}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownScenario, scenario)
}

func (r *Runner) simulateAnalysis(ctx context.Context, scenario Scenario, model llm.Model) (*Simulation, error) {
	img, err := SampleImage()
	if err != nil {
		return nil, err
	}

	m := r.deps.Machine
	if _, err := m.Replace(img); err != nil {
		return nil, err
	}
	token, _, err := m.Begin()
	if err != nil {
		return nil, err
	}

	client := analysis.NewClient(model, r.deps.Tracker.Location(), r.deps.Logger)
	result, err := client.Analyze(ctx, img, r.deps.Tracker.Settings(), r.deps.Tracker.History())
	if err != nil {
		snap, ferr := m.Fail(token, err.Error())
		if ferr != nil {
			return nil, ferr
		}
		return &Simulation{Scenario: scenario, Message: snap.Error, Session: &snap}, nil
	}

	snap, err := m.CompleteAndWait(ctx, token, result)
	if err != nil {
		return nil, err
	}
	if _, err := r.deps.Tracker.RecordAnalysis(ctx, img, result); err != nil {
		return nil, err
	}
	return &Simulation{
		Scenario: scenario,
		Message:  fmt.Sprintf("Analyzed %s (%.0f kcal)", result.FoodItems[0].Name, result.TotalCalories),
		Session:  &snap,
	}, nil
}

func (r *Runner) simulateGoalLimit(ctx context.Context) (*Simulation, error) {
	tr := r.deps.Tracker
	calories := 2500.0
	if target, ok := tr.Settings().Target(); ok {
		remaining := target - tr.DailyTotal()
		if remaining < 0 {
			remaining = 0
		}
		calories = remaining + 500
	}
	msg, err := tr.LogFood(ctx, agent.LogManualMeal{FoodName: "Simulated Feast", Calories: calories})
	if err != nil {
		return nil, err
	}
	return &Simulation{Scenario: ScenarioGoalLimit, Message: msg}, nil
}

// SampleResult is the analysis returned by the success simulation.
func SampleResult() models.AnalysisResult {
	return models.AnalysisResult{
		TotalCalories:   450,
		ConfidenceLevel: models.HighConfidence,
		FoodItems: []models.FoodItem{{
			Name:            "Grilled Chicken Salad",
			Calories:        450,
			PortionEstimate: "1 large bowl",
			Ingredients:     []string{"chicken breast", "lettuce", "tomato", "olive oil"},
		}},
		Macros:                  models.Macronutrients{Protein: 40, Carbs: 15, Fats: 22, Fiber: 6},
		Micronutrients:          []string{"Vitamin A", "Vitamin C", "Iron"},
		HealthScore:             85,
		HealthRatingExplanation: "High in lean protein and fiber with healthy fats.",
		HealthierAlternatives: []models.HealthierAlternative{{
			Name:           "Dressing on the side",
			Calories:       380,
			Explanation:    "Halving the olive oil saves calories.",
			CalorieSavings: 70,
		}},
		Allergens:                []string{},
		DietaryTags:              []string{"High Protein", "Gluten Free"},
		ExerciseEquivalent:       "45 mins brisk walking",
		CookingMethodSuggestions: "Grill without added oil.",
	}
}

// SampleImage is a small solid-color JPEG.
func SampleImage() ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	green := color.RGBA{R: 60, G: 160, B: 80, A: 255}
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, green)
		}
	}
	return imaging.Compress(img, false)
}
