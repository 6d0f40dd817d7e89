package tracker

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"nutrivision/internal/agent"
	"nutrivision/internal/llm"
	"nutrivision/internal/models"
	"nutrivision/internal/notify"
	"nutrivision/internal/reminder"
	"nutrivision/internal/storage"
)

var quietLogger = log.New(io.Discard, "", 0)

type memStore struct {
	mu      sync.Mutex
	data    map[string][]byte
	failPut error
	puts    []string
}

func newMemStore() *memStore { return &memStore{data: map[string][]byte{}} }

func (m *memStore) Get(key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return v, nil
}

func (m *memStore) Put(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPut != nil {
		return m.failPut
	}
	m.puts = append(m.puts, key)
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *memStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memStore) Close() error { return nil }

type events struct {
	mu   sync.Mutex
	list []notify.Event
}

func (e *events) Publish(ev notify.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.list = append(e.list, ev)
}

func (e *events) kinds() []notify.Kind {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []notify.Kind
	for _, ev := range e.list {
		out = append(out, ev.Kind)
	}
	return out
}

var fixedNow = time.Date(2026, 6, 10, 13, 0, 0, 0, time.UTC)

func newTracker(t *testing.T, store storage.Store, opts Options) *Tracker {
	t.Helper()
	if opts.Now == nil {
		opts.Now = func() time.Time { return fixedNow }
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	tr := New(storage.NewRecords(store, quietLogger), quietLogger, opts)
	t.Cleanup(tr.Close)
	return tr
}

func target(v float64) *float64 { return &v }

func TestLogFoodBuildsManualEntry(t *testing.T) {
	store := newMemStore()
	ev := &events{}
	tr := newTracker(t, store, Options{Notifier: ev})

	msg, err := tr.LogFood(context.Background(), agent.LogManualMeal{FoodName: "Apple", Calories: 95})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(msg, "Logged Apple (95 kcal) to history.") {
		t.Errorf("unexpected confirmation %q", msg)
	}

	history := tr.History()
	if len(history) != 1 {
		t.Fatalf("expected one history item, got %d", len(history))
	}
	item := history[0]
	r := item.Result
	if r.TotalCalories != 95 || len(r.FoodItems) != 1 || r.FoodItems[0].Name != "Apple" {
		t.Errorf("unexpected result %+v", r)
	}
	if r.Macros != (models.Macronutrients{}) {
		t.Errorf("macros should default to zero, got %+v", r.Macros)
	}
	if !reflect.DeepEqual(r.DietaryTags, []string{ManualTag}) || !r.IsManual || !item.IsManual() {
		t.Errorf("expected manual entry markers, got %+v", r)
	}
	if r.HealthScore != 50 || r.ConfidenceLevel != models.HighConfidence || r.FoodItems[0].PortionEstimate != "1 serving (Manual Log)" {
		t.Errorf("unexpected defaults %+v", r)
	}
	if item.Timestamp != fixedNow.UnixMilli() || item.ID == "" || item.Image != models.ManualImage {
		t.Errorf("unexpected item metadata %+v", item)
	}

	if _, err := store.Get(storage.KeyHistory); err != nil {
		t.Errorf("history was not persisted: %v", err)
	}
	if kinds := ev.kinds(); len(kinds) != 1 || kinds[0] != notify.KindHistory {
		t.Errorf("expected one history event, got %v", kinds)
	}
}

func TestLogFoodReportsBudget(t *testing.T) {
	tr := newTracker(t, newMemStore(), Options{})
	if _, err := tr.SaveSettings(models.UserSettings{DailyCalorieTarget: target(2000)}); err != nil {
		t.Fatal(err)
	}

	tr.LogFood(context.Background(), agent.LogManualMeal{FoodName: "Pizza", Calories: 1500})
	msg, _ := tr.LogFood(context.Background(), agent.LogManualMeal{FoodName: "Cake", Calories: 600})

	want := "Logged Cake (600 kcal) to history. Today's total: 2100 kcal. Remaining budget: 100 kcal over."
	if msg != want {
		t.Errorf("got %q, want %q", msg, want)
	}
	if h := tr.History(); h[0].Result.FoodItems[0].Name != "Cake" {
		t.Error("history must be newest first")
	}
	if tr.DailyTotal() != 2100 {
		t.Errorf("unexpected daily total %v", tr.DailyTotal())
	}
}

func TestToday(t *testing.T) {
	tr := newTracker(t, newMemStore(), Options{})
	if sum := tr.Today(); len(sum.Meals) != 0 || sum.Target != nil || sum.Budget != "" {
		t.Errorf("unexpected empty summary %+v", sum)
	}

	tr.SaveSettings(models.UserSettings{DailyCalorieTarget: target(1800)})
	tr.LogFood(context.Background(), agent.LogManualMeal{FoodName: "Eggs", Calories: 300, Protein: 20})
	sum := tr.Today()
	if len(sum.Meals) != 1 || sum.TotalCalories != 300 || sum.Protein != 20 {
		t.Errorf("unexpected summary %+v", sum)
	}
	if sum.Target == nil || *sum.Target != 1800 || sum.Budget != "1500 kcal left" {
		t.Errorf("unexpected budget %+v", sum)
	}
}

func TestUpdateSettingsMerge(t *testing.T) {
	tr := newTracker(t, newMemStore(), Options{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := tr.UpdateSettings(ctx, agent.UpdateProfile{AddPreferences: []string{"Vegan"}}); err != nil {
			t.Fatal(err)
		}
	}
	if got := tr.Settings().DietaryPreferences; !reflect.DeepEqual(got, []string{"Vegan"}) {
		t.Errorf("repeated adds must not duplicate, got %v", got)
	}

	if _, err := tr.UpdateSettings(ctx, agent.UpdateProfile{RemovePreferences: []string{"Vegan"}}); err != nil {
		t.Fatal(err)
	}
	if got := tr.Settings().DietaryPreferences; len(got) != 0 || got == nil {
		t.Errorf("expected empty preferences, got %#v", got)
	}
}

func TestUpdateSettingsSummary(t *testing.T) {
	tr := newTracker(t, newMemStore(), Options{})
	ctx := context.Background()

	msg, _ := tr.UpdateSettings(ctx, agent.UpdateProfile{})
	if msg != "Settings updated successfully. Target: None, Rules: None" {
		t.Errorf("unexpected summary %q", msg)
	}

	tr.LogFood(ctx, agent.LogManualMeal{FoodName: "Oats", Calories: 300})
	rules := "Intermittent fasting"
	msg, _ = tr.UpdateSettings(ctx, agent.UpdateProfile{DailyCalorieTarget: target(1800), CustomDietRules: &rules})
	want := "Settings updated successfully. Target: 1800, Rules: Intermittent fasting. Remaining budget today: 1500 kcal left"
	if msg != want {
		t.Errorf("got %q, want %q", msg, want)
	}
}

func TestClearHistoryIsIdempotent(t *testing.T) {
	store := newMemStore()
	tr := newTracker(t, store, Options{})
	tr.LogFood(context.Background(), agent.LogManualMeal{FoodName: "Apple", Calories: 95})

	for i := 0; i < 2; i++ {
		if err := tr.ClearHistory(); err != nil {
			t.Fatalf("clear %d failed: %v", i, err)
		}
		if h := tr.History(); len(h) != 0 {
			t.Fatalf("expected empty history after clear %d", i)
		}
	}
	if _, err := store.Get(storage.KeyHistory); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("history record should be removed, got %v", err)
	}
}

func TestFailedWriteKeepsState(t *testing.T) {
	store := newMemStore()
	tr := newTracker(t, store, Options{})
	store.failPut = errors.New("disk full")

	if _, err := tr.LogFood(context.Background(), agent.LogManualMeal{FoodName: "Apple", Calories: 95}); err == nil {
		t.Fatal("expected write error")
	}
	if len(tr.History()) != 0 {
		t.Error("state must not change when persistence fails")
	}
}

func TestConcurrentWritesAreSerialized(t *testing.T) {
	store := newMemStore()
	tr := newTracker(t, store, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.LogFood(context.Background(), agent.LogManualMeal{FoodName: "Snack", Calories: 10})
		}()
	}
	wg.Wait()

	if n := len(tr.History()); n != 20 {
		t.Errorf("expected 20 items, got %d", n)
	}
	reloaded := storage.NewRecords(store, quietLogger).Load()
	if len(reloaded.History) != 20 {
		t.Errorf("expected 20 persisted items, got %d", len(reloaded.History))
	}
}

func TestStartupWithCorruptRecords(t *testing.T) {
	store := newMemStore()
	store.data[storage.KeyHistory] = []byte("{not json")
	store.data[storage.KeySettings] = []byte(`{"dietaryPreferences":["Keto","Keto"],"dailyCalorieTarget":1500}`)
	store.data[storage.KeyChat] = []byte("[[[")

	tr := newTracker(t, store, Options{})
	s := tr.State()
	if len(s.History) != 0 || len(s.Chat) != 0 {
		t.Errorf("corrupt records should fall back to empty, got %+v", s)
	}
	if !reflect.DeepEqual(s.Settings.DietaryPreferences, []string{"Keto"}) {
		t.Errorf("valid settings should survive, got %+v", s.Settings)
	}
}

func TestHistoryRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nutrivision.db")
	store, err := storage.Open(storage.DriverSQLite, path, nil)
	if err != nil {
		t.Fatal(err)
	}
	tr := New(storage.NewRecords(store, quietLogger), quietLogger, Options{Now: func() time.Time { return fixedNow }})
	item, err := tr.RecordAnalysis(context.Background(), []byte{0xff, 0xd8, 0xff}, &models.AnalysisResult{
		TotalCalories:   420,
		ConfidenceLevel: models.MediumConfidence,
		FoodItems:       []models.FoodItem{{Name: "Salad", Calories: 420, PortionEstimate: "1 bowl", Ingredients: []string{"lettuce"}}},
		Macros:          models.Macronutrients{Protein: 10, Carbs: 30, Fats: 25, Fiber: 8},
		Micronutrients:  []string{},
		HealthScore:     80,
		DietaryTags:     []string{"Vegan"},
	})
	if err != nil {
		t.Fatal(err)
	}
	tr.Close()
	store.Close()

	store, err = storage.Open(storage.DriverSQLite, path, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	reloaded := New(storage.NewRecords(store, quietLogger), quietLogger, Options{})
	defer reloaded.Close()

	got, ok := reloaded.FindHistory(item.ID)
	if !ok {
		t.Fatal("history item not found after reload")
	}
	if got.ID != item.ID || got.Timestamp != item.Timestamp || got.Image != item.Image || !reflect.DeepEqual(got.Result, item.Result) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, item)
	}
	if !strings.HasPrefix(got.Image, "data:image/jpeg;base64,") {
		t.Errorf("expected data url image, got %q", got.Image)
	}
}

func TestSetReminderFires(t *testing.T) {
	ev := &events{}
	tr := newTracker(t, newMemStore(), Options{Notifier: ev, ReminderUnit: time.Millisecond})

	msg, err := tr.SetReminder(context.Background(), agent.SetReminder{Minutes: 5, Task: "Drink water"})
	if err != nil {
		t.Fatal(err)
	}
	if msg != `Timer set. I will alert you in 5 minutes to "Drink water".` {
		t.Errorf("unexpected confirmation %q", msg)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		for _, k := range ev.kinds() {
			if k == notify.KindReminder {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("reminder event never published")
}

func TestCloseDropsReminders(t *testing.T) {
	tr := newTracker(t, newMemStore(), Options{ReminderUnit: time.Hour})
	tr.SetReminder(context.Background(), agent.SetReminder{Minutes: 1, Task: "Walk"})
	if len(tr.Reminders()) != 1 {
		t.Fatal("expected a pending reminder")
	}
	tr.Close()
	if len(tr.Reminders()) != 0 {
		t.Error("pending reminders do not survive Close")
	}
	if _, err := tr.SetReminder(context.Background(), agent.SetReminder{Minutes: 1, Task: "Walk"}); !errors.Is(err, reminder.ErrStopped) {
		t.Errorf("expected ErrStopped, got %v", err)
	}
}

func TestSendChatWithToolCall(t *testing.T) {
	model := llm.NewScripted().
		QueueReply(llm.Reply{Calls: []llm.ToolCall{{Name: agent.ToolLogManualMeal, Args: []byte(`{"foodName":"Apple","calories":95}`)}}}).
		QueueReply(llm.Reply{Text: "Logged your apple!"})
	tr := newTracker(t, newMemStore(), Options{Model: model})

	reply, err := tr.SendChat(context.Background(), "I just ate an apple")
	if err != nil {
		t.Fatal(err)
	}
	if reply.Role != models.RoleModel || reply.Text != "Logged your apple!" {
		t.Errorf("unexpected reply %+v", reply)
	}

	chat := tr.Chat()
	if len(chat) != 2 || chat[0].Role != models.RoleUser || chat[1].ID != reply.ID {
		t.Errorf("unexpected transcript %+v", chat)
	}
	history := tr.History()
	if len(history) != 1 || history[0].Result.TotalCalories != 95 || !history[0].Result.IsManual {
		t.Errorf("expected manual apple entry, got %+v", history)
	}
	if reqs := model.ChatRequests(); len(reqs[0].Turns) != 1 {
		t.Errorf("the new message must be sent once, got %+v", reqs[0].Turns)
	}
}

type gatedModel struct {
	entered chan struct{}
	release chan struct{}
}

func (g *gatedModel) Name() string { return "gated" }

func (g *gatedModel) GenerateJSON(ctx context.Context, req llm.GenerateRequest) (string, error) {
	return "", llm.ErrEmptyResponse
}

func (g *gatedModel) Chat(ctx context.Context, req llm.ChatRequest) (*llm.Reply, error) {
	close(g.entered)
	<-g.release
	return &llm.Reply{Text: "done"}, nil
}

func TestSendChatSingleFlight(t *testing.T) {
	model := &gatedModel{entered: make(chan struct{}), release: make(chan struct{})}
	tr := newTracker(t, newMemStore(), Options{Model: model})

	done := make(chan error, 1)
	go func() {
		_, err := tr.SendChat(context.Background(), "first")
		done <- err
	}()
	<-model.entered

	if _, err := tr.SendChat(context.Background(), "second"); !errors.Is(err, ErrBusy) {
		t.Errorf("expected ErrBusy, got %v", err)
	}
	close(model.release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if _, err := tr.SendChat(context.Background(), "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("expected ErrEmptyMessage, got %v", err)
	}
}

func TestClearChat(t *testing.T) {
	model := llm.NewScripted().QueueReply(llm.Reply{Text: "hello"})
	tr := newTracker(t, newMemStore(), Options{Model: model})
	tr.SendChat(context.Background(), "hi")

	for i := 0; i < 2; i++ {
		if err := tr.ClearChat(); err != nil {
			t.Fatal(err)
		}
	}
	if len(tr.Chat()) != 0 {
		t.Error("chat should be empty")
	}
}
