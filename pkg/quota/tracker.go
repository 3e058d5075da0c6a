// Package quota enforces per-provider sliding-window request quotas and runs
// the circuit breaker that takes repeatedly failing providers out of rotation.
//
// Accounting is per process. Limiter is the seam for a shared backend when
// several instances must draw from one provider quota.
package quota

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	// ErrQuotaExceeded is matched by every *QuotaError.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrUnknownProvider is returned for provider IDs that were never configured.
	ErrUnknownProvider = errors.New("unknown provider")
)

// Window names a sliding quota window.
type Window string

const (
	WindowMinute Window = "minute"
	WindowHour   Window = "hour"
)

func (w Window) duration() time.Duration {
	if w == WindowHour {
		return time.Hour
	}
	return time.Minute
}

// QuotaError describes which window rejected a reservation.
type QuotaError struct {
	Provider   string
	Window     Window
	Limit      int
	RetryAfter time.Duration
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("provider %s: quota exceeded: %d requests per %s (retry in %s)",
		e.Provider, e.Limit, e.Window, e.RetryAfter.Round(time.Second))
}

// Is makes errors.Is(err, ErrQuotaExceeded) hold.
func (e *QuotaError) Is(target error) bool {
	return target == ErrQuotaExceeded
}

// Limits caps admitted requests per window. Zero means unlimited.
type Limits struct {
	PerMinute int
	PerHour   int
}

// Config controls the circuit breaker.
type Config struct {
	FailureThreshold int
	Cooldown         time.Duration
}

// Limiter is the admission contract the dispatcher depends on.
type Limiter interface {
	IsCircuitOpen(providerID string) bool
	TryReserve(providerID string) error
	RecordOutcome(providerID string, success bool)
}

// State is a point-in-time copy of one provider's quota and breaker state.
type State struct {
	Limits              Limits
	UsedMinute          int
	UsedHour            int
	ConsecutiveFailures int
	LastFailure         time.Time
	CircuitOpen         bool
	OpenUntil           time.Time
	Successes           int64
	Failures            int64
}

// RemainingMinute returns the requests left in the minute window, or -1 if unlimited.
func (s State) RemainingMinute() int { return remaining(s.Limits.PerMinute, s.UsedMinute) }

// RemainingHour returns the requests left in the hour window, or -1 if unlimited.
func (s State) RemainingHour() int { return remaining(s.Limits.PerHour, s.UsedHour) }

// SuccessRate is the lifetime share of successful outcomes, zero before any.
func (s State) SuccessRate() float64 {
	total := s.Successes + s.Failures
	if total == 0 {
		return 0
	}
	return float64(s.Successes) / float64(total)
}

func remaining(limit, used int) int {
	if limit <= 0 {
		return -1
	}
	return max(limit-used, 0)
}

type providerState struct {
	mu          sync.Mutex
	limits      Limits
	stamps      []time.Time // admitted requests, ascending
	failures    int
	lastFailure time.Time
	open        bool
	openUntil   time.Time
	successes   int64
	failTotal   int64
}

// Tracker owns every provider's mutable quota and breaker state.
type Tracker struct {
	mu       sync.RWMutex
	states   map[string]*providerState
	cfg      Config
	now      func() time.Time
	onChange func(providerID string, open bool)
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// OnCircuitChange registers a callback invoked whenever a breaker opens or closes.
func OnCircuitChange(fn func(providerID string, open bool)) Option {
	return func(t *Tracker) { t.onChange = fn }
}

// New creates a Tracker. A zero threshold is treated as 1.
func New(cfg Config, opts ...Option) *Tracker {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 1
	}
	t := &Tracker{
		states:   make(map[string]*providerState),
		cfg:      cfg,
		now:      time.Now,
		onChange: func(string, bool) {},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Configure registers a provider or updates its limits.
func (t *Tracker) Configure(providerID string, limits Limits) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.states[providerID]; ok {
		st.mu.Lock()
		st.limits = limits
		st.mu.Unlock()
		return
	}
	t.states[providerID] = &providerState{limits: limits}
}

func (t *Tracker) state(providerID string) (*providerState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.states[providerID]
	return st, ok
}

// TryReserve admits one request if both windows are under their caps and
// records its timestamp. It returns a *QuotaError otherwise.
func (t *Tracker) TryReserve(providerID string) error {
	st, ok := t.state(providerID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, providerID)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	now := t.now()
	st.prune(now)

	for _, w := range []Window{WindowMinute, WindowHour} {
		limit := st.limits.PerMinute
		if w == WindowHour {
			limit = st.limits.PerHour
		}
		if limit <= 0 {
			continue
		}
		idx := st.firstWithin(now, w)
		if len(st.stamps)-idx >= limit {
			return &QuotaError{
				Provider:   providerID,
				Window:     w,
				Limit:      limit,
				RetryAfter: st.stamps[idx].Add(w.duration()).Sub(now),
			}
		}
	}

	st.stamps = append(st.stamps, now)
	return nil
}

// RecordOutcome updates the breaker after a provider call.
func (t *Tracker) RecordOutcome(providerID string, success bool) {
	st, ok := t.state(providerID)
	if !ok {
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if success {
		st.successes++
		st.failures = 0
		if st.open {
			st.open = false
			t.onChange(providerID, false)
		}
		return
	}

	now := t.now()
	st.failTotal++
	st.failures++
	st.lastFailure = now
	if !st.open && st.failures >= t.cfg.FailureThreshold {
		st.open = true
		st.openUntil = now.Add(t.cfg.Cooldown)
		t.onChange(providerID, true)
	}
}

// IsCircuitOpen reports whether the provider is cooling down. Once the
// cooldown elapses the breaker is half-open: it reports closed, and a single
// further failure opens it again.
func (t *Tracker) IsCircuitOpen(providerID string) bool {
	st, ok := t.state(providerID)
	if !ok {
		return false
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.open {
		return false
	}
	if t.now().Before(st.openUntil) {
		return true
	}
	st.open = false
	st.failures = t.cfg.FailureThreshold - 1
	t.onChange(providerID, false)
	return false
}

// Reset clears the breaker and failure count of a provider.
func (t *Tracker) Reset(providerID string) error {
	st, ok := t.state(providerID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, providerID)
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	wasOpen := st.open
	st.open = false
	st.failures = 0
	st.openUntil = time.Time{}
	if wasOpen {
		t.onChange(providerID, false)
	}
	return nil
}

// Snapshot returns a copy of the provider's current state.
func (t *Tracker) Snapshot(providerID string) (State, error) {
	st, ok := t.state(providerID)
	if !ok {
		return State{}, fmt.Errorf("%w: %s", ErrUnknownProvider, providerID)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	now := t.now()
	st.prune(now)
	s := State{
		Limits:              st.limits,
		UsedMinute:          len(st.stamps) - st.firstWithin(now, WindowMinute),
		UsedHour:            len(st.stamps),
		ConsecutiveFailures: st.failures,
		LastFailure:         st.lastFailure,
		CircuitOpen:         st.open && now.Before(st.openUntil),
		Successes:           st.successes,
		Failures:            st.failTotal,
	}
	if s.CircuitOpen {
		s.OpenUntil = st.openUntil
	}
	return s, nil
}

// prune drops timestamps older than the largest window. Caller holds st.mu.
func (st *providerState) prune(now time.Time) {
	idx := st.firstWithin(now, WindowHour)
	if idx > 0 {
		st.stamps = append(st.stamps[:0], st.stamps[idx:]...)
	}
}

// firstWithin returns the index of the oldest timestamp inside the window
// ending at now. Caller holds st.mu.
func (st *providerState) firstWithin(now time.Time, w Window) int {
	cutoff := now.Add(-w.duration())
	return sort.Search(len(st.stamps), func(i int) bool {
		return st.stamps[i].After(cutoff)
	})
}
