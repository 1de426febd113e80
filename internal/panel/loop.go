package panel

import (
	"context"
	"sync"
	"time"

	"github.com/genricoloni/mediapanel/internal/handoff"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// LoopConfig bounds the delay between render cycles.
type LoopConfig struct {
	MinDelay time.Duration
	MaxDelay time.Duration
}

// Loop is the render context. It is the only goroutine that takes the
// handoff with handoff.Forever.
type Loop struct {
	logger   *zap.Logger
	handoff  *handoff.Handoff
	surface  *Surface
	composer *Composer
	sinks    []Sink
	cfg      LoopConfig

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewLoop creates a render loop over surface, guarded by h.
func NewLoop(
	logger *zap.Logger,
	h *handoff.Handoff,
	surface *Surface,
	composer *Composer,
	sinks []Sink,
	cfg LoopConfig,
) *Loop {
	if cfg.MinDelay <= 0 {
		cfg.MinDelay = time.Millisecond
	}
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	return &Loop{
		logger:   logger,
		handoff:  h,
		surface:  surface,
		composer: composer,
		sinks:    sinks,
		cfg:      cfg,
		done:     make(chan struct{}),
	}
}

// Start launches the loop in a goroutine and returns immediately.
// A loop runs at most once; Start after Start or Stop does nothing.
func (l *Loop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started || l.stopped {
		l.logger.Warn("Render loop already used, start ignored",
			zap.Bool("started", l.started),
			zap.Bool("stopped", l.stopped))
		return
	}
	l.started = true

	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.logger.Info("Render loop starting",
		zap.Duration("min_delay", l.cfg.MinDelay),
		zap.Duration("max_delay", l.cfg.MaxDelay))
	go l.run(ctx)
}

// Stop ends the loop and waits for the current cycle, bounded by ctx.
func (l *Loop) Stop(ctx context.Context) error {
	l.mu.Lock()
	if !l.stopped {
		l.stopped = true
		if l.cancel != nil {
			l.cancel()
		} else {
			close(l.done)
		}
	}
	l.mu.Unlock()

	select {
	case <-l.done:
		l.logger.Info("Render loop stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.done)

	delay := l.cfg.MinDelay
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			delay = l.next(delay, l.Cycle())
			timer.Reset(delay)
		}
	}
}

// next backs off while nothing changes and snaps back after a flush.
func (l *Loop) next(prev time.Duration, flushed bool) time.Duration {
	if flushed {
		return l.cfg.MinDelay
	}
	return clampDelay(2*prev, l.cfg.MinDelay, l.cfg.MaxDelay)
}

// Cycle runs one render pass and reports whether a frame was flushed.
// The lock is held only to snapshot the surface; composing and flushing
// happen outside it.
func (l *Loop) Cycle() bool {
	l.handoff.Lock(handoff.Forever)
	view, dirty := l.surface.Snapshot()
	l.handoff.Unlock()

	if !dirty {
		return false
	}

	frame := l.composer.Compose(view)
	var errs error
	for _, s := range l.sinks {
		errs = multierr.Append(errs, s.Flush(frame, view))
	}
	if errs != nil {
		l.logger.Warn("Failed to flush frame", zap.Error(errs))
	}
	return true
}

func clampDelay(d, lo, hi time.Duration) time.Duration {
	return max(lo, min(d, hi))
}
