// internal/reminder/reminder.go
package reminder

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrStopped      = errors.New("reminder scheduler is stopped")
	ErrInvalidDelay = errors.New("reminder delay must be positive")
)

type Reminder struct {
	ID      string    `json:"id"`
	Task    string    `json:"task"`
	Minutes float64   `json:"minutes"`
	Due     time.Time `json:"due"`
}

// Scheduler arms one-shot in-memory timers. Pending reminders are lost when the
// process exits.
type Scheduler struct {
	unit time.Duration
	fire func(Reminder)

	mu      sync.Mutex
	pending map[string]*entry
	stopped bool
}

type entry struct {
	reminder Reminder
	timer    *time.Timer
}

// NewScheduler calls fire for every reminder that comes due. unit is the
// length of one "minute"; zero means time.Minute.
func NewScheduler(unit time.Duration, fire func(Reminder)) *Scheduler {
	if unit <= 0 {
		unit = time.Minute
	}
	return &Scheduler{unit: unit, fire: fire, pending: make(map[string]*entry)}
}

func (s *Scheduler) Schedule(minutes float64, task string) (Reminder, error) {
	if minutes <= 0 {
		return Reminder{}, ErrInvalidDelay
	}
	delay := time.Duration(minutes * float64(s.unit))

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return Reminder{}, ErrStopped
	}

	r := Reminder{
		ID:      uuid.NewString(),
		Task:    task,
		Minutes: minutes,
		Due:     time.Now().Add(delay),
	}
	s.pending[r.ID] = &entry{
		reminder: r,
		timer:    time.AfterFunc(delay, func() { s.trigger(r.ID) }),
	}
	return r, nil
}

func (s *Scheduler) trigger(id string) {
	s.mu.Lock()
	e, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	stopped := s.stopped
	s.mu.Unlock()

	if ok && !stopped && s.fire != nil {
		s.fire(e.reminder)
	}
}

// Cancel disarms a pending reminder.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.pending[id]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(s.pending, id)
	return true
}

// Pending lists armed reminders, soonest first.
func (s *Scheduler) Pending() []Reminder {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Reminder, 0, len(s.pending))
	for _, e := range s.pending {
		out = append(out, e.reminder)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Due.Before(out[j].Due) })
	return out
}

// Stop disarms everything and refuses new reminders.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for id, e := range s.pending {
		e.timer.Stop()
		delete(s.pending, id)
	}
}
