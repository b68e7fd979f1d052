package minimage

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const DefaultReapInterval = 60 * time.Second

// Reaper periodically removes expired images, independent of request traffic.
//
// Start is idempotent: the loop is launched at most once per Reaper, so a
// single Reaper owned by the process entry point is the only lifecycle
// needed. Failed passes are logged and the loop keeps running.
type Reaper struct {
	svc      Service
	interval time.Duration
	clock    Clock
	logger   *slog.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
}

// ReaperOption configures a Reaper
type ReaperOption func(*Reaper)

// WithInterval sets the time between passes
func WithInterval(d time.Duration) ReaperOption {
	return func(r *Reaper) {
		r.interval = d
	}
}

// WithReaperClock sets the clock used to decide expiry
func WithReaperClock(clock Clock) ReaperOption {
	return func(r *Reaper) {
		r.clock = clock
	}
}

// WithReaperLogger sets the logger for the reaper
func WithReaperLogger(logger *slog.Logger) ReaperOption {
	return func(r *Reaper) {
		r.logger = logger
	}
}

func NewReaper(svc Service, opts ...ReaperOption) *Reaper {
	r := &Reaper{
		svc:      svc,
		interval: DefaultReapInterval,
		clock:    time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.interval <= 0 {
		r.interval = DefaultReapInterval
	}
	return r
}

// Start launches the reap loop. The first pass runs immediately. Calls after
// the first are no-ops.
func (r *Reaper) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})

		r.mu.Lock()
		r.cancel = cancel
		r.done = done
		r.mu.Unlock()

		r.logger.Info("Reaper started", "interval", r.interval)
		go r.loop(ctx, done)
	})
}

// Stop cancels the loop and waits for it to exit. It is safe to call more
// than once, and before Start.
func (r *Reaper) Stop() {
	r.stopOnce.Do(func() {
		// Prevent a later Start from launching a loop nobody will stop.
		r.startOnce.Do(func() {})

		r.mu.Lock()
		cancel, done := r.cancel, r.done
		r.mu.Unlock()

		if cancel == nil {
			return
		}
		cancel()
		<-done
		r.logger.Info("Reaper stopped")
	})
}

// RunOnce performs a single reap pass at the reaper's current time.
func (r *Reaper) RunOnce(ctx context.Context) (*ReapResult, error) {
	return r.svc.Reap(ctx, r.clock())
}

func (r *Reaper) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("Reap pass failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
