// internal/session/session.go
package session

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"nutrivision/internal/models"
)

type Status string

const (
	StatusIdle      Status = "idle"
	StatusPreview   Status = "preview"
	StatusAnalyzing Status = "analyzing"
	StatusComplete  Status = "complete"
	StatusError     Status = "error"
)

const (
	// TickInterval is how often simulated progress advances while analyzing.
	TickInterval = 500 * time.Millisecond
	// FinishDelay lets a progress bar reach 100 before the result is shown.
	FinishDelay = 600 * time.Millisecond
	// ProgressCeiling is the highest simulated progress before a terminal result.
	ProgressCeiling = 90

	DefaultErrorMessage = "Failed to analyze image"
)

var (
	ErrBusy              = errors.New("an analysis is already in progress")
	ErrInvalidTransition = errors.New("invalid session transition")
	ErrStale             = errors.New("analysis response belongs to an older session")
	ErrNoImage           = errors.New("no image selected")
	ErrNoResult          = errors.New("analysis returned no result")
)

// Token identifies one analyzing generation. Responses carrying an older token
// are discarded.
type Token uint64

// Snapshot is an immutable view of the session. It is replaced wholesale on
// every transition.
type Snapshot struct {
	Status     Status                 `json:"status"`
	Image      []byte                 `json:"image,omitempty"`
	Result     *models.AnalysisResult `json:"result,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Progress   int                    `json:"progress"`
	Generation Token                  `json:"generation"`
}

// Observer receives every new snapshot. It is called without the machine lock held.
type Observer func(Snapshot)

type Options struct {
	TickInterval time.Duration
	FinishDelay  time.Duration
	Rand         *rand.Rand
}

// Machine is the single live analysis session.
type Machine struct {
	opts Options

	mu        sync.Mutex
	cur       Snapshot
	stopTick  chan struct{}
	tickers   sync.WaitGroup
	observers []Observer
	rnd       *rand.Rand
}

func NewMachine(opts Options) *Machine {
	if opts.TickInterval <= 0 {
		opts.TickInterval = TickInterval
	}
	if opts.FinishDelay < 0 {
		opts.FinishDelay = 0
	}
	rnd := opts.Rand
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Machine{
		opts: opts,
		cur:  Snapshot{Status: StatusIdle},
		rnd:  rnd,
	}
}

// Observe registers fn for every future snapshot.
func (m *Machine) Observe(fn Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

func (m *Machine) Current() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur
}

// Select moves idle → preview with a freshly decoded image.
func (m *Machine) Select(image []byte) (Snapshot, error) {
	if len(image) == 0 {
		return m.Current(), ErrNoImage
	}
	return m.transition(func(cur Snapshot) (Snapshot, error) {
		switch cur.Status {
		case StatusAnalyzing:
			return cur, ErrBusy
		case StatusIdle:
			return Snapshot{Status: StatusPreview, Image: image, Generation: cur.Generation}, nil
		}
		return cur, ErrInvalidTransition
	})
}

// Replace shows a new image in place of whatever the session holds, unless an
// analysis is running. Anything it replaces becomes stale.
func (m *Machine) Replace(image []byte) (Snapshot, error) {
	if len(image) == 0 {
		return m.Current(), ErrNoImage
	}
	return m.transition(func(cur Snapshot) (Snapshot, error) {
		switch cur.Status {
		case StatusAnalyzing:
			return cur, ErrBusy
		case StatusIdle:
			return Snapshot{Status: StatusPreview, Image: image, Generation: cur.Generation}, nil
		}
		return Snapshot{Status: StatusPreview, Image: image, Generation: cur.Generation + 1}, nil
	})
}

// Begin moves preview → analyzing and returns the token the eventual result
// must carry.
func (m *Machine) Begin() (Token, Snapshot, error) {
	snap, err := m.transition(func(cur Snapshot) (Snapshot, error) {
		switch cur.Status {
		case StatusAnalyzing:
			return cur, ErrBusy
		case StatusPreview:
			return Snapshot{
				Status:     StatusAnalyzing,
				Image:      cur.Image,
				Generation: cur.Generation + 1,
			}, nil
		}
		return cur, ErrInvalidTransition
	})
	if err != nil {
		return 0, snap, err
	}
	m.startTicker(snap.Generation)
	return snap.Generation, snap, nil
}

// Complete attaches the result. Progress jumps to 100 at once; the status flips
// to complete after FinishDelay unless the session moved on in between.
func (m *Machine) Complete(token Token, result *models.AnalysisResult) (Snapshot, error) {
	snap, _, err := m.complete(token, result)
	return snap, err
}

// CompleteAndWait is Complete that also waits out FinishDelay. It returns the
// completed snapshot, or ErrStale if the session was reset in the meantime.
func (m *Machine) CompleteAndWait(ctx context.Context, token Token, result *models.AnalysisResult) (Snapshot, error) {
	snap, done, err := m.complete(token, result)
	if err != nil {
		return snap, err
	}
	if done == nil {
		return snap, ErrNoResult
	}
	select {
	case f := <-done:
		return f.snap, f.err
	case <-ctx.Done():
		return m.Current(), ctx.Err()
	}
}

type finished struct {
	snap Snapshot
	err  error
}

func (m *Machine) complete(token Token, result *models.AnalysisResult) (Snapshot, <-chan finished, error) {
	if result == nil {
		snap, err := m.Fail(token, ErrNoResult.Error())
		return snap, nil, err
	}
	snap, err := m.transition(func(cur Snapshot) (Snapshot, error) {
		if err := checkToken(cur, token); err != nil {
			return cur, err
		}
		next := cur
		next.Progress = 100
		return next, nil
	})
	if err != nil {
		return snap, nil, err
	}
	m.stopTicker()

	done := make(chan finished, 1)
	finish := func() {
		snap, err := m.transition(func(cur Snapshot) (Snapshot, error) {
			if err := checkToken(cur, token); err != nil {
				return cur, err
			}
			return Snapshot{
				Status:     StatusComplete,
				Image:      cur.Image,
				Result:     result,
				Progress:   100,
				Generation: cur.Generation,
			}, nil
		})
		done <- finished{snap: snap, err: err}
	}
	if m.opts.FinishDelay == 0 {
		finish()
		return m.Current(), done, nil
	}
	time.AfterFunc(m.opts.FinishDelay, finish)
	return snap, done, nil
}

// Fail moves analyzing → error. An empty message is replaced by a generic one so
// that the error state always carries text.
func (m *Machine) Fail(token Token, message string) (Snapshot, error) {
	if message == "" {
		message = DefaultErrorMessage
	}
	snap, err := m.transition(func(cur Snapshot) (Snapshot, error) {
		if err := checkToken(cur, token); err != nil {
			return cur, err
		}
		return Snapshot{
			Status:     StatusError,
			Image:      cur.Image,
			Error:      message,
			Progress:   cur.Progress,
			Generation: cur.Generation,
		}, nil
	})
	if err == nil {
		m.stopTicker()
	}
	return snap, err
}

// Reset discards the image and any result and returns to idle. Any response
// still in flight becomes stale.
func (m *Machine) Reset() Snapshot {
	m.stopTicker()
	snap, _ := m.transition(func(cur Snapshot) (Snapshot, error) {
		return Snapshot{Status: StatusIdle, Generation: cur.Generation + 1}, nil
	})
	return snap
}

// Open shows a stored history item as a completed session.
func (m *Machine) Open(image []byte, result *models.AnalysisResult) (Snapshot, error) {
	if result == nil {
		return m.Current(), ErrNoResult
	}
	return m.transition(func(cur Snapshot) (Snapshot, error) {
		if cur.Status == StatusAnalyzing {
			return cur, ErrBusy
		}
		return Snapshot{
			Status:     StatusComplete,
			Image:      image,
			Result:     result,
			Progress:   100,
			Generation: cur.Generation + 1,
		}, nil
	})
}

func checkToken(cur Snapshot, token Token) error {
	if cur.Status != StatusAnalyzing || cur.Generation != token {
		return ErrStale
	}
	return nil
}

func (m *Machine) transition(fn func(Snapshot) (Snapshot, error)) (Snapshot, error) {
	m.mu.Lock()
	next, err := fn(m.cur)
	if err != nil {
		cur := m.cur
		m.mu.Unlock()
		return cur, err
	}
	m.cur = next
	observers := append([]Observer(nil), m.observers...)
	m.mu.Unlock()

	for _, fn := range observers {
		fn(next)
	}
	return next, nil
}

// tick advances simulated progress by 1-9, never past ProgressCeiling. It
// reports ErrStale once the generation it was started for is gone.
func (m *Machine) tick(token Token) error {
	_, err := m.transition(func(cur Snapshot) (Snapshot, error) {
		if err := checkToken(cur, token); err != nil {
			return cur, err
		}
		if cur.Progress >= ProgressCeiling {
			return cur, ErrInvalidTransition
		}
		next := cur
		next.Progress = min(ProgressCeiling, cur.Progress+1+m.rnd.Intn(9))
		return next, nil
	})
	return err
}

func (m *Machine) startTicker(token Token) {
	m.stopTicker()
	stop := make(chan struct{})
	m.mu.Lock()
	m.stopTick = stop
	m.mu.Unlock()

	m.tickers.Add(1)
	go func() {
		defer m.tickers.Done()
		t := time.NewTicker(m.opts.TickInterval)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				if errors.Is(m.tick(token), ErrStale) {
					return
				}
			}
		}
	}()
}

func (m *Machine) stopTicker() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopTick != nil {
		close(m.stopTick)
		m.stopTick = nil
	}
}

// Close stops progress ticking and waits for the ticker to exit.
func (m *Machine) Close() {
	m.stopTicker()
	m.tickers.Wait()
}

// StageMessage is the status line shown for a progress value.
func StageMessage(progress int) string {
	switch {
	case progress < 30:
		return "Uploading image..."
	case progress < 60:
		return "Identifying ingredients..."
	case progress < 90:
		return "Calculating nutritional value..."
	default:
		return "Generating health recommendations..."
	}
}
