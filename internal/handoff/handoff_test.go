package handoff

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/genricoloni/mediapanel/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type titleRenderer struct {
	title string
}

func (r *titleRenderer) ReplaceImage(*domain.DecodedImage) {}
func (r *titleRenderer) SetTitle(text string)              { r.title = text }
func (r *titleRenderer) SetArtist(string)                  {}
func (r *titleRenderer) SetProgress(int)                   {}
func (r *titleRenderer) SetPlayIcon(bool)                  {}

func TestWithLock_RunsOperation(t *testing.T) {
	r := &titleRenderer{}
	h := New(zap.NewNop(), r)

	err := h.WithLock(time.Second, func(rr domain.Renderer) {
		rr.SetTitle("Song A")
	})
	require.NoError(t, err)
	assert.Equal(t, "Song A", r.title)

	// Lock must be free again
	require.True(t, h.Lock(0))
	h.Unlock()
}

func TestWithLock_TimeoutDropsUpdate(t *testing.T) {
	r := &titleRenderer{title: "old"}
	h := New(zap.NewNop(), r)

	require.True(t, h.Lock(Forever))

	start := time.Now()
	err := h.WithLock(20*time.Millisecond, func(rr domain.Renderer) {
		rr.SetTitle("new")
	})
	elapsed := time.Since(start)

	assert.True(t, errors.Is(err, domain.ErrLockTimeout))
	assert.Equal(t, "old", r.title, "timed out update must not be applied")
	assert.GreaterOrEqual(t, elapsed, 20*time.Millisecond)

	h.Unlock()
}

func TestLock_ZeroTimeoutIsTryLock(t *testing.T) {
	h := New(zap.NewNop(), &titleRenderer{})

	require.True(t, h.Lock(0))
	assert.False(t, h.Lock(0), "second acquisition must fail, the lock is not reentrant")
	h.Unlock()
	assert.True(t, h.Lock(0))
	h.Unlock()
}

func TestLock_ForeverWaitsForRelease(t *testing.T) {
	h := New(zap.NewNop(), &titleRenderer{})
	require.True(t, h.Lock(Forever))

	var acquired atomic.Bool
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Lock(Forever)
		acquired.Store(true)
		h.Unlock()
	}()

	time.Sleep(20 * time.Millisecond)
	assert.False(t, acquired.Load(), "waiter must block while the lock is held")

	h.Unlock()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the lock")
	}
	assert.True(t, acquired.Load())
}

func TestWithLock_MutualExclusion(t *testing.T) {
	h := New(zap.NewNop(), &titleRenderer{})

	var inside atomic.Int32
	var violations atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = h.WithLock(Forever, func(domain.Renderer) {
					if inside.Add(1) != 1 {
						violations.Add(1)
					}
					inside.Add(-1)
				})
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, violations.Load())
}

func TestUnlock_UnlockedPanics(t *testing.T) {
	h := New(zap.NewNop(), &titleRenderer{})
	assert.Panics(t, func() { h.Unlock() })
}
