// Package handoff implements the mutual-exclusion boundary around the panel's
// rendering surface.
//
// The render loop takes the lock every cycle with Forever; every other context
// goes through WithLock with a finite timeout and drops its update when the
// lock cannot be acquired in time. The lock is not reentrant.
package handoff

import (
	"time"

	"github.com/genricoloni/mediapanel/internal/domain"
	"go.uber.org/zap"
)

// Forever makes Lock and WithLock block until the lock is acquired.
const Forever time.Duration = -1

// Compile-time interface check.
var _ domain.RenderHandoff = (*Handoff)(nil)

// Handoff guards a single domain.Renderer.
type Handoff struct {
	logger   *zap.Logger
	sem      chan struct{}
	renderer domain.Renderer
}

// New wraps renderer behind a handoff lock.
func New(logger *zap.Logger, renderer domain.Renderer) *Handoff {
	return &Handoff{
		logger:   logger,
		sem:      make(chan struct{}, 1),
		renderer: renderer,
	}
}

// Lock acquires the handoff. A negative timeout blocks until acquired.
// It reports false if the timeout elapsed first.
func (h *Handoff) Lock(timeout time.Duration) bool {
	if timeout < 0 {
		h.sem <- struct{}{}
		return true
	}

	select {
	case h.sem <- struct{}{}:
		return true
	default:
	}
	if timeout == 0 {
		return false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case h.sem <- struct{}{}:
		return true
	case <-timer.C:
		return false
	}
}

// Unlock releases the handoff. Unlocking an unlocked handoff panics, like sync.Mutex.
func (h *Handoff) Unlock() {
	select {
	case <-h.sem:
	default:
		panic("handoff: unlock of unlocked handoff")
	}
}

// WithLock runs fn with the renderer while holding the lock.
func (h *Handoff) WithLock(timeout time.Duration, fn func(domain.Renderer)) error {
	if !h.Lock(timeout) {
		h.logger.Debug("Render lock not acquired, update dropped",
			zap.Duration("timeout", timeout))
		return domain.ErrLockTimeout
	}
	defer h.Unlock()

	fn(h.renderer)
	return nil
}

// Renderer returns the guarded renderer. Callers must hold the lock.
func (h *Handoff) Renderer() domain.Renderer {
	return h.renderer
}
