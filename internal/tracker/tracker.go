// internal/tracker/tracker.go
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"nutrivision/internal/agent"
	"nutrivision/internal/imaging"
	"nutrivision/internal/llm"
	"nutrivision/internal/models"
	"nutrivision/internal/notify"
	"nutrivision/internal/nutrition"
	"nutrivision/internal/reminder"
	"nutrivision/internal/storage"
)

var (
	ErrBusy         = errors.New("a chat reply is still pending")
	ErrEmptyMessage = errors.New("message is empty")
	ErrNoResult     = errors.New("no analysis result to record")
)

// State is the owned application state. A State is never modified in place;
// every mutation builds a new one.
type State struct {
	History  []models.HistoryItem `json:"history"`
	Settings models.UserSettings  `json:"settings"`
	Chat     []models.ChatMessage `json:"chat"`
}

func (s State) clone() State {
	return State{
		History:  append([]models.HistoryItem{}, s.History...),
		Settings: s.Settings.Clone(),
		Chat:     append([]models.ChatMessage{}, s.Chat...),
	}
}

// Effect is one persistence write produced by a mutation. Remove deletes Key.
type Effect struct {
	Key    string
	Value  any
	Remove bool
}

type Options struct {
	Notifier     notify.Notifier
	Toaster      *notify.Toaster
	Model        llm.Model
	PhaseTimeout time.Duration
	ReminderUnit time.Duration
	Location     *time.Location
	Now          func() time.Time
}

// Tracker owns history, settings and the chat transcript. Mutations and their
// persistence effects run under one lock, so writes never interleave.
type Tracker struct {
	records   *storage.Records
	logger    *log.Logger
	notifier  notify.Notifier
	toaster   *notify.Toaster
	reminders *reminder.Scheduler
	agent     *agent.Agent
	loc       *time.Location
	now       func() time.Time

	mu    sync.Mutex
	state State

	chatMu   sync.Mutex
	chatBusy bool
}

// New loads the stored records and wires the chat agent and reminder
// scheduler to the tracker.
func New(records *storage.Records, logger *log.Logger, opts Options) *Tracker {
	if logger == nil {
		logger = log.Default()
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Discard
	}
	if opts.Toaster == nil {
		opts.Toaster = notify.NewToaster(opts.Notifier, notify.ToastDuration)
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	snap := records.Load()
	t := &Tracker{
		records:  records,
		logger:   logger,
		notifier: opts.Notifier,
		toaster:  opts.Toaster,
		loc:      opts.Location,
		now:      opts.Now,
		state: State{
			History:  snap.History,
			Settings: snap.Settings,
			Chat:     snap.Chat,
		},
	}
	t.reminders = reminder.NewScheduler(opts.ReminderUnit, t.remind)
	t.agent = agent.New(opts.Model, t, logger, agent.Options{
		PhaseTimeout: opts.PhaseTimeout,
		Location:     opts.Location,
	})
	return t
}

// Close disarms pending reminders.
func (t *Tracker) Close() {
	t.reminders.Stop()
}

func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.clone()
}

func (t *Tracker) History() []models.HistoryItem { return t.State().History }

func (t *Tracker) Settings() models.UserSettings { return t.State().Settings }

func (t *Tracker) Chat() []models.ChatMessage { return t.State().Chat }

func (t *Tracker) Reminders() []reminder.Reminder { return t.reminders.Pending() }

// FindHistory looks up a history item by id.
// Location is the zone whose calendar day counts as today.
func (t *Tracker) Location() *time.Location { return t.loc }

func (t *Tracker) FindHistory(id string) (models.HistoryItem, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, item := range t.state.History {
		if item.ID == id {
			return item, true
		}
	}
	return models.HistoryItem{}, false
}

// DailyTotal is today's calorie sum.
func (t *Tracker) DailyTotal() float64 {
	return nutrition.CalculateDailyTotal(t.History(), t.now().In(t.loc))
}

// Summary is today's intake measured against the calorie target.
type Summary struct {
	Meals         []models.HistoryItem `json:"meals"`
	TotalCalories float64              `json:"totalCalories"`
	Protein       float64              `json:"protein"`
	Target        *float64             `json:"target,omitempty"`
	Budget        string               `json:"budget,omitempty"`
}

func (t *Tracker) Today() Summary {
	s := t.State()
	now := t.now().In(t.loc)
	sum := Summary{
		Meals:         nutrition.TodaysMeals(s.History, now),
		TotalCalories: nutrition.CalculateDailyTotal(s.History, now),
		Protein:       nutrition.DailyProtein(s.History, now),
	}
	if target, ok := s.Settings.Target(); ok {
		sum.Target = &target
		sum.Budget = nutrition.BudgetStatus(target, sum.TotalCalories)
	}
	return sum
}

// apply runs fn against the current state and writes its effects in order.
// The new state is committed only when every effect was written.
func (t *Tracker) apply(fn func(State) (State, []Effect, error)) (State, error) {
	t.mu.Lock()
	next, effects, err := fn(t.state.clone())
	if err != nil {
		t.mu.Unlock()
		return State{}, err
	}
	for _, e := range effects {
		if err := t.persist(e); err != nil {
			t.mu.Unlock()
			return State{}, err
		}
	}
	t.state = next
	committed := next.clone()
	t.mu.Unlock()

	for _, e := range effects {
		t.announce(e.Key, committed)
	}
	return committed, nil
}

func (t *Tracker) persist(e Effect) error {
	if e.Remove {
		if err := t.records.Remove(e.Key); err != nil {
			return fmt.Errorf("failed to remove %s: %w", e.Key, err)
		}
		return nil
	}
	if err := t.records.Write(e.Key, e.Value); err != nil {
		return fmt.Errorf("failed to save %s: %w", e.Key, err)
	}
	return nil
}

func (t *Tracker) announce(key string, s State) {
	switch key {
	case storage.KeyHistory:
		t.notifier.Publish(notify.Event{Kind: notify.KindHistory, Payload: s.History})
	case storage.KeySettings:
		t.notifier.Publish(notify.Event{Kind: notify.KindSettings, Payload: s.Settings})
	case storage.KeyChat:
		t.notifier.Publish(notify.Event{Kind: notify.KindChat, Payload: s.Chat})
	}
}

// SaveSettings replaces the settings record.
func (t *Tracker) SaveSettings(s models.UserSettings) (models.UserSettings, error) {
	next, err := t.apply(func(cur State) (State, []Effect, error) {
		cur.Settings = s.Normalize()
		return cur, []Effect{{Key: storage.KeySettings, Value: cur.Settings}}, nil
	})
	if err != nil {
		return models.UserSettings{}, err
	}
	return next.Settings, nil
}

// MergeSettings applies a profile update: target and rules replace, tags are
// added as a set union and removed as a set difference.
func MergeSettings(s models.UserSettings, u agent.UpdateProfile) models.UserSettings {
	out := s.Clone()
	if u.DailyCalorieTarget != nil {
		target := *u.DailyCalorieTarget
		out.DailyCalorieTarget = &target
	}
	if u.CustomDietRules != nil {
		out.CustomDietRules = *u.CustomDietRules
	}
	out.DietaryPreferences = models.Union(out.DietaryPreferences, u.AddPreferences)
	out.DietaryPreferences = models.Difference(out.DietaryPreferences, u.RemovePreferences)
	return out.Normalize()
}

func (t *Tracker) UpdateSettings(ctx context.Context, u agent.UpdateProfile) (string, error) {
	next, err := t.apply(func(cur State) (State, []Effect, error) {
		if err := ctx.Err(); err != nil {
			return cur, nil, err
		}
		cur.Settings = MergeSettings(cur.Settings, u)
		return cur, []Effect{{Key: storage.KeySettings, Value: cur.Settings}}, nil
	})
	if err != nil {
		return "", err
	}

	target, rules := "None", "None"
	if v, ok := next.Settings.Target(); ok {
		target = nutrition.FormatNumber(v)
	}
	if next.Settings.CustomDietRules != "" {
		rules = next.Settings.CustomDietRules
	}
	summary := fmt.Sprintf("Settings updated successfully. Target: %s, Rules: %s", target, rules)
	if v, ok := next.Settings.Target(); ok {
		consumed := nutrition.CalculateDailyTotal(next.History, t.now().In(t.loc))
		summary += fmt.Sprintf(". Remaining budget today: %s", nutrition.BudgetStatus(v, consumed))
	}
	return summary, nil
}

// ManualResult builds the analysis result stored for a meal logged without a
// photo.
func ManualResult(m agent.LogManualMeal) models.AnalysisResult {
	return models.AnalysisResult{
		TotalCalories:   m.Calories,
		ConfidenceLevel: models.HighConfidence,
		FoodItems: []models.FoodItem{{
			Name:            m.FoodName,
			Calories:        m.Calories,
			PortionEstimate: "1 serving (Manual Log)",
			Ingredients:     []string{m.FoodName},
		}},
		Macros: models.Macronutrients{
			Protein: m.Protein,
			Carbs:   m.Carbs,
			Fats:    m.Fats,
			Fiber:   m.Fiber,
		},
		Micronutrients:           []string{},
		HealthScore:              50,
		HealthRatingExplanation:  "Manually logged item.",
		HealthierAlternatives:    []models.HealthierAlternative{},
		Allergens:                []string{},
		DietaryTags:              []string{ManualTag},
		ExerciseEquivalent:       "N/A",
		CookingMethodSuggestions: "N/A",
		IsManual:                 true,
	}
}

// ManualTag marks manually logged results.
const ManualTag = "Manual Entry"

func (t *Tracker) LogFood(ctx context.Context, m agent.LogManualMeal) (string, error) {
	item, next, err := t.prepend(ctx, models.ManualImage, ManualResult(m))
	if err != nil {
		return "", err
	}

	now := t.now().In(t.loc)
	consumed := nutrition.CalculateDailyTotal(next.History, now)
	msg := fmt.Sprintf("Logged %s (%s kcal) to history. Today's total: %s kcal.",
		item.Result.FoodItems[0].Name, nutrition.FormatNumber(m.Calories), nutrition.FormatNumber(consumed))
	if target, ok := next.Settings.Target(); ok {
		msg += fmt.Sprintf(" Remaining budget: %s.", nutrition.BudgetStatus(target, consumed))
	}
	return msg, nil
}

// RecordAnalysis stores a completed photo analysis. image is the compressed
// JPEG that was analysed.
func (t *Tracker) RecordAnalysis(ctx context.Context, image []byte, result *models.AnalysisResult) (models.HistoryItem, error) {
	if result == nil {
		return models.HistoryItem{}, ErrNoResult
	}
	item, _, err := t.prepend(ctx, imaging.DataURL(image), *result)
	return item, err
}

func (t *Tracker) prepend(ctx context.Context, image string, result models.AnalysisResult) (models.HistoryItem, State, error) {
	var item models.HistoryItem
	next, err := t.apply(func(cur State) (State, []Effect, error) {
		if err := ctx.Err(); err != nil {
			return cur, nil, err
		}
		item = models.HistoryItem{
			ID:        newID(),
			Timestamp: t.now().UnixMilli(),
			Image:     image,
			Result:    result,
		}
		cur.History = append([]models.HistoryItem{item}, cur.History...)
		return cur, []Effect{{Key: storage.KeyHistory, Value: cur.History}}, nil
	})
	return item, next, err
}

func (t *Tracker) SetReminder(ctx context.Context, r agent.SetReminder) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if _, err := t.reminders.Schedule(r.Minutes, r.Task); err != nil {
		return "", err
	}
	return fmt.Sprintf("Timer set. I will alert you in %s minutes to \"%s\".", nutrition.FormatNumber(r.Minutes), r.Task), nil
}

func (t *Tracker) remind(r reminder.Reminder) {
	t.logger.Printf("Reminder due: %s", r.Task)
	t.notifier.Publish(notify.Event{Kind: notify.KindReminder, Payload: r})
	t.toaster.Show("⏰ REMINDER: " + r.Task)
}

// ClearHistory empties the history. Clearing an empty history does nothing.
func (t *Tracker) ClearHistory() error {
	_, err := t.apply(func(cur State) (State, []Effect, error) {
		if len(cur.History) == 0 {
			return cur, nil, nil
		}
		cur.History = []models.HistoryItem{}
		return cur, []Effect{{Key: storage.KeyHistory, Remove: true}}, nil
	})
	return err
}

func (t *Tracker) ClearChat() error {
	_, err := t.apply(func(cur State) (State, []Effect, error) {
		if len(cur.Chat) == 0 {
			return cur, nil, nil
		}
		cur.Chat = []models.ChatMessage{}
		return cur, []Effect{{Key: storage.KeyChat, Remove: true}}, nil
	})
	return err
}

func (t *Tracker) appendChat(msg models.ChatMessage) (State, error) {
	return t.apply(func(cur State) (State, []Effect, error) {
		cur.Chat = append(cur.Chat, msg)
		return cur, []Effect{{Key: storage.KeyChat, Value: cur.Chat}}, nil
	})
}

// SendChat appends the user's message, runs one agent exchange and appends
// the reply. Only one exchange may be in flight.
func (t *Tracker) SendChat(ctx context.Context, text string) (models.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.ChatMessage{}, ErrEmptyMessage
	}

	t.chatMu.Lock()
	if t.chatBusy {
		t.chatMu.Unlock()
		return models.ChatMessage{}, ErrBusy
	}
	t.chatBusy = true
	t.chatMu.Unlock()
	defer func() {
		t.chatMu.Lock()
		t.chatBusy = false
		t.chatMu.Unlock()
	}()

	before := t.State()
	if _, err := t.appendChat(t.message(models.RoleUser, text)); err != nil {
		return models.ChatMessage{}, err
	}

	outcome := t.agent.Chat(ctx, agent.Request{
		Text:       text,
		History:    before.History,
		Settings:   before.Settings,
		Transcript: before.Chat,
	})

	reply := t.message(models.RoleModel, outcome.Text)
	if _, err := t.appendChat(reply); err != nil {
		return reply, err
	}
	return reply, nil
}

func (t *Tracker) message(role models.Role, text string) models.ChatMessage {
	return models.ChatMessage{
		ID:        newID(),
		Role:      role,
		Text:      text,
		Timestamp: t.now().UnixMilli(),
	}
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
