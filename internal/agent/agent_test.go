package agent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"nutrivision/internal/llm"
	"nutrivision/internal/models"
)

var quietLogger = log.New(io.Discard, "", 0)

type fakeActions struct {
	mu    sync.Mutex
	calls []Call
	err   error
}

func (f *fakeActions) record(c Call) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

func (f *fakeActions) UpdateSettings(ctx context.Context, args UpdateProfile) (string, error) {
	f.record(args)
	return "Settings updated successfully.", f.err
}

func (f *fakeActions) LogFood(ctx context.Context, args LogManualMeal) (string, error) {
	f.record(args)
	if f.err != nil {
		return "", f.err
	}
	return "Logged " + args.FoodName, nil
}

func (f *fakeActions) SetReminder(ctx context.Context, args SetReminder) (string, error) {
	f.record(args)
	return "Timer set.", f.err
}

func newAgent(model llm.Model, actions Actions) *Agent {
	return New(model, actions, quietLogger, Options{PhaseTimeout: time.Second, Location: time.UTC})
}

func toolCall(name, args string) llm.ToolCall {
	return llm.ToolCall{Name: name, Args: json.RawMessage(args)}
}

func TestChatWithoutTool(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  string
	}{
		{"text reply", "Eat more greens.", "Eat more greens."},
		{"empty reply", "", ThinkingFallback},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := llm.NewScripted().QueueReply(llm.Reply{Text: tt.reply})
			actions := &fakeActions{}
			out := newAgent(model, actions).Chat(context.Background(), Request{Text: "hi", Settings: models.DefaultSettings()})

			if out.Text != tt.want {
				t.Errorf("expected %q, got %q", tt.want, out.Text)
			}
			if out.Call != nil || len(actions.calls) != 0 {
				t.Error("no tool should have run")
			}
			if reqs := model.ChatRequests(); len(reqs) != 1 || len(reqs[0].Tools) != 3 {
				t.Errorf("expected one round offering three tools, got %+v", reqs)
			}
		})
	}
}

func TestChatLogsManualMeal(t *testing.T) {
	model := llm.NewScripted().
		QueueReply(llm.Reply{Calls: []llm.ToolCall{toolCall(ToolLogManualMeal, `{"foodName":"Apple","calories":95}`)}}).
		QueueReply(llm.Reply{Text: "Done! Enjoy your apple."})
	actions := &fakeActions{}

	out := newAgent(model, actions).Chat(context.Background(), Request{Text: "I ate an apple", Settings: models.DefaultSettings()})

	if out.Text != "Done! Enjoy your apple." {
		t.Errorf("unexpected reply %q", out.Text)
	}
	want := LogManualMeal{FoodName: "Apple", Calories: 95}
	if out.Call != want {
		t.Errorf("expected call %+v, got %+v", want, out.Call)
	}
	if len(actions.calls) != 1 || actions.calls[0] != want {
		t.Errorf("expected one LogFood call, got %+v", actions.calls)
	}

	reqs := model.ChatRequests()
	if len(reqs) != 2 {
		t.Fatalf("expected two rounds, got %d", len(reqs))
	}
	second := reqs[1]
	if len(second.Tools) != 0 {
		t.Error("second round must not offer tools")
	}
	n := len(second.Turns)
	if n < 3 || second.Turns[n-2].Call == nil || second.Turns[n-1].Result == nil {
		t.Fatalf("expected call and result appended, got %+v", second.Turns)
	}
	if second.Turns[n-1].Result.Result != "Logged Apple" {
		t.Errorf("unexpected tool result %+v", second.Turns[n-1].Result)
	}
}

func TestChatFallsBackToToolResult(t *testing.T) {
	model := llm.NewScripted().
		QueueReply(llm.Reply{Calls: []llm.ToolCall{toolCall(ToolSetReminder, `{"minutes":10,"task":"Drink water"}`)}}).
		QueueReply(llm.Reply{Text: "  "})

	out := newAgent(model, &fakeActions{}).Chat(context.Background(), Request{Text: "remind me"})
	if out.Text != "Timer set." {
		t.Errorf("expected raw tool result, got %q", out.Text)
	}
}

func TestChatOnlyFirstCallRuns(t *testing.T) {
	model := llm.NewScripted().
		QueueReply(llm.Reply{Calls: []llm.ToolCall{
			toolCall(ToolSetReminder, `{"minutes":5,"task":"Stretch"}`),
			toolCall(ToolLogManualMeal, `{"foodName":"Pear","calories":100}`),
		}}).
		QueueReply(llm.Reply{Text: "ok"})
	actions := &fakeActions{}

	newAgent(model, actions).Chat(context.Background(), Request{Text: "both"})
	if len(actions.calls) != 1 || actions.calls[0].ToolName() != ToolSetReminder {
		t.Errorf("expected only the first call to run, got %+v", actions.calls)
	}
}

func TestChatToolFailuresAreFoldedIn(t *testing.T) {
	tests := []struct {
		name       string
		call       llm.ToolCall
		actionErr  error
		wantPrefix string
		ran        bool
	}{
		{"unknown tool", toolCall("order_pizza", `{}`), nil, "Error: unknown function", false},
		{"invalid args", toolCall(ToolLogManualMeal, `{"foodName":"Apple"}`), nil, "Error: invalid arguments", false},
		{"action error", toolCall(ToolLogManualMeal, `{"foodName":"Apple","calories":95}`), errors.New("disk full"), "Error executing log_manual_meal", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := llm.NewScripted().
				QueueReply(llm.Reply{Calls: []llm.ToolCall{tt.call}}).
				QueueReply(llm.Reply{})
			actions := &fakeActions{err: tt.actionErr}

			out := newAgent(model, actions).Chat(context.Background(), Request{Text: "x"})
			if !strings.HasPrefix(out.ToolResult, tt.wantPrefix) {
				t.Errorf("expected tool result starting with %q, got %q", tt.wantPrefix, out.ToolResult)
			}
			if out.Text != out.ToolResult {
				t.Errorf("expected the error result as reply, got %q", out.Text)
			}
			if ran := len(actions.calls) > 0; ran != tt.ran {
				t.Errorf("action ran = %v, want %v", ran, tt.ran)
			}
			if len(model.ChatRequests()) != 2 {
				t.Error("the second round must still happen")
			}
		})
	}
}

func TestChatModelFailures(t *testing.T) {
	t.Run("first round", func(t *testing.T) {
		model := llm.NewScripted().FailWith(errors.New("offline"))
		out := newAgent(model, &fakeActions{}).Chat(context.Background(), Request{Text: "hi"})
		if out.Text != Apology || out.Failed == nil || *out.Failed != PhaseAwaitingInitialReply {
			t.Errorf("unexpected outcome %+v", out)
		}
	})

	t.Run("second round", func(t *testing.T) {
		model := llm.NewScripted().
			QueueReply(llm.Reply{Calls: []llm.ToolCall{toolCall(ToolSetReminder, `{"minutes":1,"task":"Walk"}`)}})
		actions := &fakeActions{}
		out := newAgent(model, actions).Chat(context.Background(), Request{Text: "hi"})
		if out.Text != Apology || out.Failed == nil || *out.Failed != PhaseAwaitingFinalReply {
			t.Errorf("unexpected outcome %+v", out)
		}
		if out.Call == nil || len(actions.calls) != 1 {
			t.Error("the tool call should still be reported")
		}
	})

	t.Run("no model", func(t *testing.T) {
		out := newAgent(nil, &fakeActions{}).Chat(context.Background(), Request{Text: "hi"})
		if out.Text != Apology {
			t.Errorf("expected apology, got %q", out.Text)
		}
	})
}

type blockingModel struct{}

func (blockingModel) Name() string { return "blocking" }

func (blockingModel) GenerateJSON(ctx context.Context, req llm.GenerateRequest) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func (blockingModel) Chat(ctx context.Context, req llm.ChatRequest) (*llm.Reply, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestChatPhaseTimeout(t *testing.T) {
	a := New(blockingModel{}, &fakeActions{}, quietLogger, Options{PhaseTimeout: 20 * time.Millisecond})

	start := time.Now()
	out := a.Chat(context.Background(), Request{Text: "hi"})
	if out.Text != Apology {
		t.Errorf("expected apology after timeout, got %q", out.Text)
	}
	if time.Since(start) > time.Second {
		t.Error("phase timeout was not applied")
	}
}

func TestSystemInstructionAndTranscript(t *testing.T) {
	model := llm.NewScripted().QueueReply(llm.Reply{Text: "ok"})
	a := newAgent(model, &fakeActions{})
	a.now = func() time.Time { return time.Date(2026, 5, 4, 18, 0, 0, 0, time.UTC) }

	target := 1800.0
	settings := models.UserSettings{
		DietaryPreferences: []string{"Keto"},
		DailyCalorieTarget: &target,
		ActiveAgents:       []string{"Coach"},
	}
	var history []models.HistoryItem
	for i := 0; i < 7; i++ {
		history = append(history, models.HistoryItem{
			ID:        string(rune('a' + i)),
			Timestamp: time.Date(2026, 5, 4, 12-i, 0, 0, 0, time.UTC).UnixMilli(),
			Result: models.AnalysisResult{
				TotalCalories: 100,
				FoodItems:     []models.FoodItem{{Name: "Meal" + string(rune('A'+i))}},
			},
		})
	}
	transcript := []models.ChatMessage{
		{Role: models.RoleSystem, Text: "welcome"},
		{Role: models.RoleUser, Text: "earlier question"},
		{Role: models.RoleModel, Text: "earlier answer"},
	}

	a.Chat(context.Background(), Request{Text: "new question", History: history, Settings: settings, Transcript: transcript})

	req := model.ChatRequests()[0]
	for _, want := range []string{"NutriAI", "Keto", "Remaining Budget: 1100 kcal left.", "- 12:00: MealA (100kcal)", "=== ACTIVE AGENTS ===\nCoach"} {
		if !strings.Contains(req.System, want) {
			t.Errorf("system instruction missing %q", want)
		}
	}
	if strings.Contains(req.System, "MealF") {
		t.Error("only the five most recent meals should be listed")
	}

	if len(req.Turns) != 3 {
		t.Fatalf("expected system note dropped and new message appended, got %+v", req.Turns)
	}
	if req.Turns[2].Role != llm.RoleUser || req.Turns[2].Text != "new question" {
		t.Errorf("unexpected last turn %+v", req.Turns[2])
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		tool    string
		args    string
		want    Call
		wantErr error
	}{
		{
			name: "manual meal defaults macros",
			tool: ToolLogManualMeal, args: `{"foodName":" Apple ","calories":95}`,
			want: LogManualMeal{FoodName: "Apple", Calories: 95},
		},
		{
			name: "manual meal with macros",
			tool: ToolLogManualMeal, args: `{"foodName":"Eggs","calories":150,"protein":12,"fats":10}`,
			want: LogManualMeal{FoodName: "Eggs", Calories: 150, Protein: 12, Fats: 10},
		},
		{name: "missing calories", tool: ToolLogManualMeal, args: `{"foodName":"Apple"}`, wantErr: ErrInvalidArgs},
		{name: "missing food", tool: ToolLogManualMeal, args: `{"calories":95}`, wantErr: ErrInvalidArgs},
		{name: "negative calories", tool: ToolLogManualMeal, args: `{"foodName":"Apple","calories":-5}`, wantErr: ErrInvalidArgs},
		{name: "wrong type", tool: ToolLogManualMeal, args: `{"foodName":"Apple","calories":"lots"}`, wantErr: ErrInvalidArgs},
		{
			name: "reminder",
			tool: ToolSetReminder, args: `{"minutes":30,"task":"Drink water"}`,
			want: SetReminder{Minutes: 30, Task: "Drink water"},
		},
		{name: "reminder without task", tool: ToolSetReminder, args: `{"minutes":30}`, wantErr: ErrInvalidArgs},
		{name: "reminder zero minutes", tool: ToolSetReminder, args: `{"minutes":0,"task":"x"}`, wantErr: ErrInvalidArgs},
		{name: "profile negative target", tool: ToolUpdateProfile, args: `{"dailyCalorieTarget":-1}`, wantErr: ErrInvalidArgs},
		{name: "unknown", tool: "launch_rocket", args: `{}`, wantErr: ErrUnknownTool},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.tool, json.RawMessage(tt.args))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDecodeProfile(t *testing.T) {
	call, err := Decode(ToolUpdateProfile, json.RawMessage(`{"dailyCalorieTarget":2000,"addPreferences":["Vegan"," ",""],"customDietRules":" 16:8 fasting "}`))
	if err != nil {
		t.Fatal(err)
	}
	p := call.(UpdateProfile)
	if p.DailyCalorieTarget == nil || *p.DailyCalorieTarget != 2000 {
		t.Errorf("unexpected target %v", p.DailyCalorieTarget)
	}
	if len(p.AddPreferences) != 1 || p.AddPreferences[0] != "Vegan" {
		t.Errorf("unexpected preferences %v", p.AddPreferences)
	}
	if p.CustomDietRules == nil || *p.CustomDietRules != "16:8 fasting" {
		t.Errorf("unexpected rules %v", p.CustomDietRules)
	}

	empty, err := Decode(ToolUpdateProfile, nil)
	if err != nil {
		t.Fatalf("empty profile update should decode: %v", err)
	}
	if p := empty.(UpdateProfile); p.DailyCalorieTarget != nil || p.CustomDietRules != nil {
		t.Errorf("expected nothing set, got %+v", p)
	}
}
