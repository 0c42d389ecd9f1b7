// Package guard gates LLM invocations behind a process-wide pause when
// the provider signals a rate limit or spending limit. Callers block in
// Acquire until the guard resumes; Shutdown drains all waiters so the
// process never hangs on exit.
package guard

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/prpatrol/prpatrol/pkg/logger"
)

// State is the guard's coarse operating state.
type State string

const (
	StateActive              State = "active"
	StatePausedRateLimit     State = "paused_rate_limit"
	StatePausedSpendingLimit State = "paused_spending_limit"
)

// PauseKind identifies the signal that paused the guard.
type PauseKind string

const (
	PauseRateLimit     PauseKind = "rate_limit"
	PauseSpendingLimit PauseKind = "spending_limit"
)

// ResumeBy identifies what ended a pause.
type ResumeBy string

const (
	ResumeByTimer  ResumeBy = "timer"
	ResumeByManual ResumeBy = "manual"
)

// maxEvents bounds the guard's event history.
const maxEvents = 50

// Event is one pause or resume transition kept for inspection.
type Event struct {
	At       time.Time `json:"at"`
	Action   string    `json:"action"` // paused or resumed
	Kind     string    `json:"kind,omitempty"`
	By       string    `json:"by,omitempty"`
	Cooldown int       `json:"cooldown_seconds,omitempty"`
}

// Status is the snapshot served through the dashboard API.
type Status struct {
	State             State   `json:"state"`
	QueueDepth        int     `json:"queue_depth"`
	CooldownRemaining float64 `json:"cooldown_remaining_seconds"`
	Events            []Event `json:"events"`
}

// Guard is the process-wide LLM gate. Construct exactly one and pass
// it explicitly.
type Guard struct {
	mu       sync.Mutex
	state    State
	waiters  []chan struct{}
	events   []Event
	resumeAt time.Time
	timer    *time.Timer
	now      func() time.Time
	logger   *zap.Logger

	// onPause is an optional hook for metrics.
	onPause func(kind string)
}

// Option customizes guard construction.
type Option func(*Guard)

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

// WithPauseHook registers a callback fired on every pause transition.
func WithPauseHook(fn func(kind string)) Option {
	return func(g *Guard) { g.onPause = fn }
}

// New creates an active guard.
func New(opts ...Option) *Guard {
	g := &Guard{
		state:  StateActive,
		now:    time.Now,
		logger: logger.Named("guard"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Acquire blocks until the guard is active or the context is done.
// Released waiters are woken in FIFO order on resume.
func (g *Guard) Acquire(ctx context.Context) error {
	g.mu.Lock()
	if g.state == StateActive {
		g.mu.Unlock()
		return nil
	}

	waiter := make(chan struct{})
	g.waiters = append(g.waiters, waiter)
	depth := len(g.waiters)
	g.mu.Unlock()

	g.logger.Info("Review waiting on paused guard",
		zap.String("state", string(g.state)),
		zap.Int("queue_depth", depth))

	select {
	case <-waiter:
		return nil
	case <-ctx.Done():
		g.removeWaiter(waiter)
		return ctx.Err()
	}
}

// removeWaiter drops an abandoned waiter so resume does not close a
// channel nobody reads.
func (g *Guard) removeWaiter(waiter chan struct{}) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, w := range g.waiters {
		if w == waiter {
			g.waiters = append(g.waiters[:i], g.waiters[i+1:]...)
			return
		}
	}
}

// Report transitions the guard to paused and schedules an automatic
// resume after cooldown. A spending-limit pause outranks a rate-limit
// pause and is never downgraded by one.
func (g *Guard) Report(kind PauseKind, cooldown time.Duration) {
	g.mu.Lock()

	target := StatePausedRateLimit
	if kind == PauseSpendingLimit {
		target = StatePausedSpendingLimit
	}
	if g.state == StatePausedSpendingLimit && target == StatePausedRateLimit {
		g.mu.Unlock()
		return
	}

	g.state = target
	g.resumeAt = g.now().Add(cooldown)
	g.appendEventLocked(Event{
		At:       g.now(),
		Action:   "paused",
		Kind:     string(kind),
		Cooldown: int(cooldown.Seconds()),
	})

	if g.timer != nil {
		g.timer.Stop()
	}
	g.timer = time.AfterFunc(cooldown, func() {
		g.Resume(ResumeByTimer)
	})
	g.mu.Unlock()

	g.logger.Warn("LLM guard paused",
		zap.String("kind", string(kind)),
		zap.Duration("cooldown", cooldown))
	if g.onPause != nil {
		g.onPause(string(kind))
	}
}

// Resume clears the pause, cancels the timer and releases all queued
// waiters in FIFO order. Resuming an active guard is a no-op.
func (g *Guard) Resume(by ResumeBy) {
	g.mu.Lock()
	if g.state == StateActive {
		g.mu.Unlock()
		return
	}

	g.state = StateActive
	g.resumeAt = time.Time{}
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	g.appendEventLocked(Event{At: g.now(), Action: "resumed", By: string(by)})

	released := g.waiters
	g.waiters = nil
	g.mu.Unlock()

	for _, waiter := range released {
		close(waiter)
	}

	g.logger.Info("LLM guard resumed",
		zap.String("by", string(by)),
		zap.Int("released", len(released)))
}

// Shutdown releases every queued waiter regardless of state so that
// graceful shutdown never hangs on a paused guard.
func (g *Guard) Shutdown() {
	g.mu.Lock()
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	released := g.waiters
	g.waiters = nil
	g.mu.Unlock()

	for _, waiter := range released {
		close(waiter)
	}
	if len(released) > 0 {
		g.logger.Info("Released guard waiters on shutdown", zap.Int("released", len(released)))
	}
}

// Status returns a snapshot for operational inspection.
func (g *Guard) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()

	remaining := 0.0
	if !g.resumeAt.IsZero() {
		if d := g.resumeAt.Sub(g.now()); d > 0 {
			remaining = d.Seconds()
		}
	}
	events := make([]Event, len(g.events))
	copy(events, g.events)

	return Status{
		State:             g.state,
		QueueDepth:        len(g.waiters),
		CooldownRemaining: remaining,
		Events:            events,
	}
}

// State returns the current state.
func (g *Guard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *Guard) appendEventLocked(ev Event) {
	g.events = append(g.events, ev)
	if len(g.events) > maxEvents {
		g.events = g.events[len(g.events)-maxEvents:]
	}
}
