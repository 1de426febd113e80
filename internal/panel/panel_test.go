package panel

import (
	"bytes"
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/genricoloni/mediapanel/internal/config"
	"github.com/genricoloni/mediapanel/internal/domain"
	"github.com/genricoloni/mediapanel/internal/handoff"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func solidRaster(w, h int, c domain.RGB565) *domain.DecodedImage {
	img := domain.NewDecodedImage(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set565(x, y, c)
		}
	}
	return img
}

// recordingSink keeps every flushed view.
type recordingSink struct {
	mu    sync.Mutex
	views []View
	err   error
}

func (s *recordingSink) Flush(_ image.Image, v View) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.views = append(s.views, v)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.views)
}

func TestFitTitle(t *testing.T) {
	tests := []struct {
		name  string
		input string
		limit int
		want  string
	}{
		{"Short", "Song A", 25, "Song A"},
		{"At limit", "abcdefghijklmnopqrstuvwxy", 25, "abcdefghijklmnopqrstuvwxy"},
		{"Over limit", "abcdefghijklmnopqrstuvwxyz", 25, "abcdefghijklmnopqrstuv..."},
		{"Multibyte", "ééééééééééééééééééééééééééé", 25, "éééééééééééééééééééééé..."},
		{"Disabled", "abcdefghijklmnopqrstuvwxyz", 0, "abcdefghijklmnopqrstuvwxyz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, fitTitle(tt.input, tt.limit))
		})
	}
}

func TestSurface_Placeholder(t *testing.T) {
	s := NewSurface(zap.NewNop(), 25)

	v, dirty := s.Snapshot()
	assert.True(t, dirty)
	assert.Equal(t, "Waiting for data...", v.Title)
	assert.Equal(t, "Connect to MQTT", v.Artist)
	assert.Nil(t, v.Image)

	_, dirty = s.Snapshot()
	assert.False(t, dirty, "snapshot clears the change flag")
}

func TestSurface_Setters(t *testing.T) {
	s := NewSurface(zap.NewNop(), 25)
	img := solidRaster(2, 2, 0xF800)

	s.ReplaceImage(img)
	s.SetTitle("A very long song title that keeps going")
	s.SetArtist("Band B")
	s.SetProgress(150)
	s.SetPlayIcon(true)

	v, dirty := s.Snapshot()
	require.True(t, dirty)
	assert.Same(t, img, v.Image)
	assert.Equal(t, "A very long song title...", v.Title)
	assert.Equal(t, "Band B", v.Artist)
	assert.Equal(t, 100, v.Progress)
	assert.True(t, v.HasProgress)
	assert.True(t, v.Playing)

	s.SetProgress(-3)
	v, _ = s.Snapshot()
	assert.Equal(t, 0, v.Progress)
}

func TestSurface_RefusesInvalidRaster(t *testing.T) {
	s := NewSurface(zap.NewNop(), 25)
	good := solidRaster(2, 2, 0x07E0)
	s.ReplaceImage(good)

	s.ReplaceImage(nil)
	s.ReplaceImage(&domain.DecodedImage{Width: 4, Height: 4, Pixels: make([]byte, 3)})

	v, _ := s.Snapshot()
	assert.Same(t, good, v.Image)
}

func TestComposer_Compose(t *testing.T) {
	c := NewComposer(320, 170)

	frame := c.Compose(View{
		Title:       "Song A",
		Artist:      "Band B",
		Progress:    50,
		HasProgress: true,
		Playing:     true,
		Image:       solidRaster(8, 8, domain.PackRGB565(255, 0, 0)),
	})

	assert.Equal(t, image.Rect(0, 0, 320, 170), frame.Bounds())

	// Right edge of the art slot is unfaded
	r, g, b, _ := frame.At(318, 85).RGBA()
	assert.Greater(t, r>>8, uint32(200))
	assert.Less(t, g>>8, uint32(40))
	assert.Less(t, b>>8, uint32(40))

	// Progress bar starts filled with the accent color
	assert.Equal(t, accentColor, frame.RGBAAt(margin+1, 170-margin-1))
}

func TestComposer_NoImage(t *testing.T) {
	frame := NewComposer(100, 50).Compose(View{Title: "x"})
	assert.Equal(t, lerp(backgroundTop, backgroundBottom, 25, 50), frame.RGBAAt(90, 25))
}

func TestSnapshotSink_Flush(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	s := NewSnapshotSink(zap.NewNop(), dir)

	frame := NewComposer(64, 32).Compose(View{Title: "t"})
	require.NoError(t, s.Flush(frame, View{}))

	img, err := imaging.Open(s.Path())
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
	assert.Equal(t, 32, img.Bounds().Dy())
}

func TestTerminalSink_Flush(t *testing.T) {
	var buf bytes.Buffer
	s := NewTerminalSink(&buf)

	require.NoError(t, s.Flush(nil, View{Title: "Song A", Artist: "Band B", Progress: 25, HasProgress: true}))

	out := buf.String()
	assert.Contains(t, out, "Song A")
	assert.Contains(t, out, "Band B")
	assert.Contains(t, out, "25%")
	assert.True(t, strings.HasSuffix(out, "\n"), "non-terminal output appends lines")
}

func TestTerminalSink_LiveOnlyOnTerminals(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "out")
	require.NoError(t, err)
	defer f.Close()

	assert.False(t, NewTerminalSink(f).live)
	assert.False(t, NewTerminalSink(&bytes.Buffer{}).live)
}

func TestSinksFromConfig(t *testing.T) {
	tests := []struct {
		mode string
		want int
	}{
		{config.ModeSnapshot, 1},
		{config.ModeTerminal, 1},
		{config.ModeBoth, 2},
	}

	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			cfg := &config.AppConfig{Output: config.OutputConfig{Mode: tt.mode, Dir: t.TempDir()}}
			assert.Len(t, SinksFromConfig(zap.NewNop(), cfg, &bytes.Buffer{}), tt.want)
		})
	}
}

func TestClampDelay(t *testing.T) {
	tests := []struct {
		name string
		in   time.Duration
		want time.Duration
	}{
		{"Below", 0, time.Millisecond},
		{"Inside", 40 * time.Millisecond, 40 * time.Millisecond},
		{"Above", time.Second, 500 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, clampDelay(tt.in, time.Millisecond, 500*time.Millisecond))
		})
	}
}

func newTestLoop(sink Sink) (*Loop, *Surface, *handoff.Handoff) {
	s := NewSurface(zap.NewNop(), 25)
	h := handoff.New(zap.NewNop(), s)
	l := NewLoop(zap.NewNop(), h, s, NewComposer(64, 32), []Sink{sink},
		LoopConfig{MinDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond})
	return l, s, h
}

func TestLoop_CycleFlushesOnlyChanges(t *testing.T) {
	sink := &recordingSink{}
	l, _, h := newTestLoop(sink)

	assert.True(t, l.Cycle(), "placeholder is drawn first")
	assert.False(t, l.Cycle())

	require.NoError(t, h.WithLock(time.Second, func(r domain.Renderer) { r.SetTitle("Song A") }))
	assert.True(t, l.Cycle())

	require.Equal(t, 2, sink.count())
	assert.Equal(t, "Song A", sink.views[1].Title)
}

func TestLoop_SinkErrorsDoNotStopCycle(t *testing.T) {
	sink := &recordingSink{err: errors.New("disk full")}
	l, _, _ := newTestLoop(sink)

	assert.True(t, l.Cycle())
	assert.Equal(t, 1, sink.count())
}

func TestLoop_Next(t *testing.T) {
	l, _, _ := newTestLoop(&recordingSink{})

	assert.Equal(t, time.Millisecond, l.next(4*time.Millisecond, true))
	assert.Equal(t, 4*time.Millisecond, l.next(2*time.Millisecond, false))
	assert.Equal(t, 5*time.Millisecond, l.next(4*time.Millisecond, false))
}

func TestLoop_StartStop(t *testing.T) {
	sink := &recordingSink{}
	l, _, _ := newTestLoop(sink)

	l.Start()
	require.Eventually(t, func() bool { return sink.count() > 0 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, l.Stop(ctx))
	require.NoError(t, l.Stop(ctx), "stop is idempotent")
}

func TestLoop_StartAfterStopIsIgnored(t *testing.T) {
	sink := &recordingSink{}
	l, _, _ := newTestLoop(sink)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, l.Stop(ctx))

	l.Start()
	require.NoError(t, l.Stop(ctx))

	// No cycle may run once the loop was stopped
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, sink.count())
}

func TestLoop_SecondStartIsIgnored(t *testing.T) {
	sink := &recordingSink{}
	l, _, _ := newTestLoop(sink)

	l.Start()
	l.Start()
	require.Eventually(t, func() bool { return sink.count() > 0 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, l.Stop(ctx))

	// Stop returned, so the only run goroutine has exited
	flushed := sink.count()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, flushed, sink.count())
}

func TestLoop_ConcurrentSwapsNeverExposeInvalidImage(t *testing.T) {
	sink := &recordingSink{}
	l, _, h := newTestLoop(sink)

	l.Start()

	var wg sync.WaitGroup
	var swaps atomic.Int32
	wg.Add(1)
	go func() {
		defer wg.Done()
		sizes := [][2]int{{4, 4}, {8, 2}, {3, 7}}
		for i := 0; i < 200; i++ {
			sz := sizes[i%len(sizes)]
			img := solidRaster(sz[0], sz[1], domain.RGB565(i))
			if h.WithLock(time.Second, func(r domain.Renderer) { r.ReplaceImage(img) }) == nil {
				swaps.Add(1)
			}
		}
	}()
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, l.Stop(ctx))
	l.Cycle()

	assert.Equal(t, int32(200), swaps.Load())

	sink.mu.Lock()
	defer sink.mu.Unlock()
	seen := false
	for _, v := range sink.views {
		if v.Image == nil {
			assert.False(t, seen, "image disappeared after being shown")
			continue
		}
		seen = true
		assert.Len(t, v.Image.Pixels, v.Image.Width*v.Image.Height*domain.BytesPerPixel)
	}
	assert.True(t, seen)
}
