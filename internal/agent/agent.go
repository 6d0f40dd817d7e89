// internal/agent/agent.go
package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"nutrivision/internal/llm"
	"nutrivision/internal/models"
	"nutrivision/internal/nutrition"
)

const (
	ThinkingFallback = "I'm thinking..."
	Apology          = "I'm sorry, I'm currently unable to process your request. Please check your connection."

	// RecentMealCount is how many history entries the system context lists.
	RecentMealCount     = 5
	DefaultPhaseTimeout = 60 * time.Second
)

// Phase is where one chat exchange currently stands.
type Phase int

const (
	PhaseAwaitingInitialReply Phase = iota
	PhaseAwaitingToolResult
	PhaseAwaitingFinalReply
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseAwaitingInitialReply:
		return "awaiting-initial-reply"
	case PhaseAwaitingToolResult:
		return "awaiting-tool-result"
	case PhaseAwaitingFinalReply:
		return "awaiting-final-reply"
	case PhaseDone:
		return "done"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

type Request struct {
	Text       string
	History    []models.HistoryItem
	Settings   models.UserSettings
	Transcript []models.ChatMessage
}

// Outcome is the result of one exchange. Text is never empty.
type Outcome struct {
	Text       string
	Call       Call
	ToolResult string
	// Failed is the phase in which the model could not be reached, if any.
	Failed *Phase
}

type Options struct {
	PhaseTimeout time.Duration
	Location     *time.Location
}

type Agent struct {
	model   llm.Model
	actions Actions
	logger  *log.Logger
	opts    Options
	now     func() time.Time
}

func New(model llm.Model, actions Actions, logger *log.Logger, opts Options) *Agent {
	if logger == nil {
		logger = log.Default()
	}
	if opts.PhaseTimeout <= 0 {
		opts.PhaseTimeout = DefaultPhaseTimeout
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Agent{model: model, actions: actions, logger: logger, opts: opts, now: time.Now}
}

// exchange carries the state of one Chat call from phase to phase.
type exchange struct {
	phase  Phase
	system string
	turns  []llm.Turn
	call   *llm.ToolCall
	result string
}

// Chat runs at most two model rounds with one local tool call in between. It
// always produces a reply; failures become an apology.
func (a *Agent) Chat(ctx context.Context, req Request) Outcome {
	ex := &exchange{
		phase:  PhaseAwaitingInitialReply,
		system: a.SystemInstruction(req.Settings, req.History),
		turns:  append(transcriptTurns(req.Transcript), llm.TextTurn(llm.RoleUser, req.Text)),
	}
	var out Outcome

	for ex.phase != PhaseDone {
		switch ex.phase {
		case PhaseAwaitingInitialReply:
			reply, err := a.round(ctx, ex, Declarations)
			if err != nil {
				return a.apology(ex.phase, err)
			}
			if len(reply.Calls) == 0 {
				out.Text = reply.Text
				if strings.TrimSpace(out.Text) == "" {
					out.Text = ThinkingFallback
				}
				ex.phase = PhaseDone
				continue
			}
			if len(reply.Calls) > 1 {
				for _, extra := range reply.Calls[1:] {
					a.logger.Printf("Ignoring additional tool call %s", extra.Name)
				}
			}
			ex.call = &reply.Calls[0]
			ex.phase = PhaseAwaitingToolResult

		case PhaseAwaitingToolResult:
			out.Call, ex.result = a.execute(ctx, *ex.call)
			out.ToolResult = ex.result
			ex.turns = append(ex.turns,
				llm.Turn{Role: llm.RoleModel, Call: ex.call},
				llm.Turn{Role: llm.RoleUser, Result: &llm.ToolResult{Name: ex.call.Name, Result: ex.result}},
			)
			ex.phase = PhaseAwaitingFinalReply

		case PhaseAwaitingFinalReply:
			reply, err := a.round(ctx, ex, nil)
			if err != nil {
				failed := a.apology(ex.phase, err)
				failed.Call, failed.ToolResult = out.Call, out.ToolResult
				return failed
			}
			out.Text = reply.Text
			if strings.TrimSpace(out.Text) == "" {
				out.Text = ex.result
			}
			ex.phase = PhaseDone
		}
	}
	return out
}

func (a *Agent) round(ctx context.Context, ex *exchange, tools []llm.Tool) (*llm.Reply, error) {
	if a.model == nil {
		return nil, llm.ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, a.opts.PhaseTimeout)
	defer cancel()

	reply, err := a.model.Chat(ctx, llm.ChatRequest{System: ex.system, Turns: ex.turns, Tools: tools})
	if err != nil {
		return nil, err
	}
	if reply == nil {
		return nil, llm.ErrEmptyResponse
	}
	return reply, nil
}

// execute decodes and runs one tool call. Failures are folded into the
// result text handed back to the model.
func (a *Agent) execute(ctx context.Context, tc llm.ToolCall) (Call, string) {
	call, err := Decode(tc.Name, tc.Args)
	if err != nil {
		a.logger.Printf("Rejected tool call %s: %v", tc.Name, err)
		if errors.Is(err, ErrUnknownTool) {
			return nil, fmt.Sprintf("Error: unknown function %q.", tc.Name)
		}
		return nil, fmt.Sprintf("Error: invalid arguments for %s: %v", tc.Name, err)
	}

	ctx, cancel := context.WithTimeout(ctx, a.opts.PhaseTimeout)
	defer cancel()

	result, err := Dispatch(ctx, a.actions, call)
	if err != nil {
		a.logger.Printf("Tool %s failed: %v", tc.Name, err)
		return call, fmt.Sprintf("Error executing %s: %v", tc.Name, err)
	}
	return call, result
}

func (a *Agent) apology(phase Phase, err error) Outcome {
	a.logger.Printf("Chat error (%s): %v", phase, err)
	return Outcome{Text: Apology, Failed: &phase}
}

// SystemInstruction is the persona followed by the user profile, the recent
// meals and the active agents.
func (a *Agent) SystemInstruction(settings models.UserSettings, history []models.HistoryItem) string {
	agents := "None"
	if len(settings.ActiveAgents) > 0 {
		agents = strings.Join(settings.ActiveAgents, ", ")
	}

	var sb strings.Builder
	sb.WriteString("You are 'NutriAI', a friendly, professional, and highly knowledgeable Personal Nutrition Assistant.\n")
	sb.WriteString("Your goal is to help the user achieve their dietary goals based on their settings and eating history.\n")
	sb.WriteString("You have access to tools to modify settings, log food, and set reminders. USE THEM whenever the user asks.\n\n")
	sb.WriteString("=== USER PROFILE ===")
	sb.WriteString(nutrition.UserContext(settings, history, a.now().In(a.opts.Location)))
	sb.WriteString("\n\n=== RECENT MEALS (Last 5) ===\n")
	sb.WriteString(nutrition.RecentMeals(history, RecentMealCount, a.opts.Location))
	sb.WriteString("\n\n=== ACTIVE AGENTS ===\n")
	sb.WriteString(agents)
	sb.WriteString("\n\nGUIDELINES:\n")
	sb.WriteString("1. STRICTLY focus on nutrition, diet, food science, and health.\n")
	sb.WriteString("2. If the user asks to change a setting, log a meal (without image), or set a reminder, CALL THE APPROPRIATE FUNCTION.\n")
	sb.WriteString("3. Use the 'User Context' to personalize every answer.\n")
	sb.WriteString("4. Be encouraging but scientific.")
	return sb.String()
}

// transcriptTurns converts stored messages, skipping system notes.
func transcriptTurns(transcript []models.ChatMessage) []llm.Turn {
	turns := make([]llm.Turn, 0, len(transcript)+1)
	for _, m := range transcript {
		switch m.Role {
		case models.RoleUser:
			turns = append(turns, llm.TextTurn(llm.RoleUser, m.Text))
		case models.RoleModel:
			turns = append(turns, llm.TextTurn(llm.RoleModel, m.Text))
		}
	}
	return turns
}
