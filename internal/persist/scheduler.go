package persist

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultWindow is the quiet period after the last change before a
	// scheduled save fires.
	DefaultWindow = 200 * time.Millisecond

	// saveTimeout bounds a save fired by the debounce timer.
	saveTimeout = 10 * time.Second
)

// SaveFunc performs one save of the current state.
type SaveFunc func(ctx context.Context) error

// ErrorFunc receives the failure of a debounced save.
type ErrorFunc func(error)

// Scheduler coalesces Schedule calls into trailing-edge saves. Every
// Schedule restarts the quiet window; the save runs once the window
// passes with no further calls. Saves never run concurrently.
type Scheduler struct {
	window time.Duration
	save   SaveFunc
	logger *slog.Logger

	// saving serializes save calls between the timer and SaveNow.
	saving sync.Mutex

	mu      sync.Mutex
	timer   *time.Timer
	gen     uint64
	pending bool
	onError ErrorFunc
	closed  bool
}

// NewScheduler returns a Scheduler running save after window of quiet.
// A non-positive window uses DefaultWindow.
func NewScheduler(window time.Duration, save SaveFunc, logger *slog.Logger) *Scheduler {
	if window <= 0 {
		window = DefaultWindow
	}

	return &Scheduler{
		window: window,
		save:   save,
		logger: logger,
	}
}

// Window returns the debounce window.
func (s *Scheduler) Window() time.Duration {
	return s.window
}

// Schedule requests a save after the quiet window. If the save fails,
// onError is called; only the callback of the most recent Schedule is
// kept. onError may be nil, in which case failures are only logged.
func (s *Scheduler) Schedule(onError ErrorFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	if s.timer != nil {
		s.timer.Stop()
	}

	s.gen++
	gen := s.gen
	s.pending = true
	s.onError = onError
	s.timer = time.AfterFunc(s.window, func() { s.fire(gen) })
}

// Pending reports whether a scheduled save has not run yet.
func (s *Scheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.pending
}

func (s *Scheduler) fire(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || !s.pending || s.closed {
		s.mu.Unlock()
		return
	}

	s.pending = false
	s.timer = nil
	onError := s.onError
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	if err := s.run(ctx); err != nil {
		s.logger.Warn("scheduled save failed", slog.String("error", err.Error()))

		if onError != nil {
			onError(err)
		}
	}
}

// cancelPending stops the timer and reports whether a save was pending.
func (s *Scheduler) cancelPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}

	s.gen++
	was := s.pending
	s.pending = false

	return was
}

func (s *Scheduler) run(ctx context.Context) error {
	s.saving.Lock()
	defer s.saving.Unlock()

	return s.save(ctx)
}

// SaveNow cancels any pending save and saves immediately, returning the
// result to the caller.
func (s *Scheduler) SaveNow(ctx context.Context) error {
	s.cancelPending()
	return s.run(ctx)
}

// Flush runs a pending save immediately. It does nothing when no save is
// pending.
func (s *Scheduler) Flush(ctx context.Context) error {
	if !s.cancelPending() {
		return nil
	}

	return s.run(ctx)
}

// Close stops the timer. A pending save is dropped; call Flush first to
// keep it. Schedule is a no-op afterwards.
func (s *Scheduler) Close() {
	s.cancelPending()

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
