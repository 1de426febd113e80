package engine

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/genricoloni/mediapanel/internal/config"
	"github.com/genricoloni/mediapanel/internal/domain"
	"go.uber.org/zap"
)

// Compile-time interface check.
var _ domain.FragmentSink = (*Engine)(nil)

// Phase of the image transfer state machine
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseReceiving
	PhaseDecoding
	PhaseDisplayed
)

func (p Phase) String() string {
	switch p {
	case PhaseReceiving:
		return "receiving"
	case PhaseDecoding:
		return "decoding"
	case PhaseDisplayed:
		return "displayed"
	default:
		return "idle"
	}
}

// Options configures an Engine.
type Options struct {
	StateTopic     string
	ImageTopic     string
	BufferCapacity int
	// LockTimeout bounds how long the transport context waits for the render lock
	LockTimeout time.Duration
}

// OptionsFromConfig extracts engine options from the application config.
func OptionsFromConfig(cfg *config.AppConfig) Options {
	return Options{
		StateTopic:     cfg.Topics.State,
		ImageTopic:     cfg.Topics.Image,
		BufferCapacity: cfg.Engine.BufferCapacity,
		LockTimeout:    cfg.Render.LockTimeout,
	}
}

// Engine classifies feed deliveries, reassembles album art, decodes it and
// hands state and rasters to the renderer.
// Entry points are serialised internally; the render lock is only taken to swap.
type Engine struct {
	logger  *zap.Logger
	opts    Options
	decoder domain.ImageDecoder
	handoff domain.RenderHandoff
	stats   *Stats

	mu    sync.Mutex
	run   domain.TopicContext
	buf   *ReassemblyBuffer
	state domain.MediaState
	phase atomic.Int32
}

// NewEngine creates a new media engine
func NewEngine(
	logger *zap.Logger,
	opts Options,
	dec domain.ImageDecoder,
	handoff domain.RenderHandoff,
	stats *Stats,
) *Engine {
	return &Engine{
		logger:  logger,
		opts:    opts,
		decoder: dec,
		handoff: handoff,
		stats:   stats,
		buf:     NewReassemblyBuffer(opts.BufferCapacity),
	}
}

// OnFragmentReceived classifies one transport delivery and applies it.
// It never fails; ignored deliveries are logged and counted.
func (e *Engine) OnFragmentReceived(f domain.Fragment) domain.TopicContext {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !f.HasTopic {
		return e.continueRun(f)
	}

	switch f.Topic {
	case e.opts.StateTopic:
		e.run = domain.TopicState
		if f.Offset != 0 || len(f.Payload) != f.TotalLen {
			e.ignore(fmt.Errorf("%w: fragmented state message (offset %d, %d of %d bytes)",
				domain.ErrClassificationIgnored, f.Offset, len(f.Payload), f.TotalLen))
			return domain.TopicState
		}
		e.parseAndApply(f.Payload)
		return domain.TopicState

	case e.opts.ImageTopic:
		e.run = domain.TopicImage
		e.startTransfer(f.TotalLen)
		e.appendImage(f.Payload, f.TotalLen)
		return domain.TopicImage

	default:
		e.run = domain.TopicNone
		e.ignore(fmt.Errorf("%w: unknown topic %q", domain.ErrClassificationIgnored, f.Topic))
		return domain.TopicNone
	}
}

func (e *Engine) continueRun(f domain.Fragment) domain.TopicContext {
	if e.run == domain.TopicImage && e.buf.Active() {
		e.appendImage(f.Payload, f.TotalLen)
		return domain.TopicImage
	}
	e.ignore(fmt.Errorf("%w: orphan continuation in %s run (%d bytes)",
		domain.ErrClassificationIgnored, e.run, len(f.Payload)))
	return e.run
}

// OnDisconnect resets the session state tied to the transport connection.
func (e *Engine) OnDisconnect() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.buf.Active() {
		e.logger.Info("Transport disconnected, abandoning image transfer",
			zap.Int("received", e.buf.WriteOffset()),
			zap.Int("expected", e.buf.ExpectedTotal()))
		e.setPhase(PhaseIdle)
	}
	e.run = domain.TopicNone
	e.buf.Deactivate()
}

// BufferCapacity reports the fixed size of the reassembly buffer.
func (e *Engine) BufferCapacity() int {
	return e.buf.Capacity()
}

// ReassemblyBuffer lends the raw image buffer to a transport that receives
// straight into caller memory, along with its capacity. No view is lent while
// a payload is being assembled. The borrower writes only between deliveries;
// the MQTT transport never borrows it because the client allocates payloads.
func (e *Engine) ReassemblyBuffer() ([]byte, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.buf.Active() {
		return nil, e.buf.Capacity()
	}
	return e.buf.View(), e.buf.Capacity()
}

// ParseAndApply parses a state message and hands it to the renderer.
func (e *Engine) ParseAndApply(text []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.parseAndApply(text)
}

func (e *Engine) parseAndApply(text []byte) error {
	st, err := ParseState(text)
	if err != nil {
		e.stats.RecordError(err)
		e.logger.Warn("Failed to parse state message",
			zap.Int("bytes", len(text)),
			zap.Error(err))
		return err
	}

	err = e.handoff.WithLock(e.opts.LockTimeout, func(r domain.Renderer) {
		e.state = st
		r.SetTitle(st.Title)
		r.SetArtist(st.Artist)
		r.SetPlayIcon(st.IsPlaying)
		if percent, ok := st.ProgressPercent(); ok {
			r.SetProgress(percent)
		}
	})
	if err != nil {
		e.stats.RecordError(err)
		e.logger.Warn("State update dropped",
			zap.String("title", st.Title),
			zap.Error(err))
		return err
	}

	e.stats.IncStateApplied()
	e.logger.Debug("State applied",
		zap.String("title", st.Title),
		zap.String("artist", st.Artist),
		zap.Uint32("duration", st.DurationSec),
		zap.Uint32("position", st.PositionSec),
		zap.Bool("playing", st.IsPlaying))
	return nil
}

func (e *Engine) startTransfer(total int) {
	if e.buf.Active() {
		e.stats.IncTransferSuperseded()
		e.logger.Debug("Image transfer superseded",
			zap.Int("received", e.buf.WriteOffset()),
			zap.Int("expected", e.buf.ExpectedTotal()))
	}
	if total > e.buf.Capacity() {
		e.logger.Warn("Declared image size exceeds buffer capacity",
			zap.Int("declared", total),
			zap.Int("capacity", e.buf.Capacity()))
	}
	e.buf.Reset(total)
	e.stats.IncTransferStarted()
	e.setPhase(PhaseReceiving)
}

func (e *Engine) appendImage(payload []byte, declaredTotal int) {
	if declaredTotal != e.buf.ExpectedTotal() {
		e.stats.IncTotalMismatch()
		e.logger.Debug("Fragment declares a different total, keeping the first",
			zap.Int("declared", declaredTotal),
			zap.Int("expected", e.buf.ExpectedTotal()))
	}

	written, complete := e.buf.Append(payload)
	if dropped := len(payload) - written; dropped > 0 {
		e.stats.RecordError(domain.ErrBufferOverflow)
		e.logger.Warn("Reassembly buffer full, fragment clamped",
			zap.Int("written", written),
			zap.Int("dropped", dropped),
			zap.Int("capacity", e.buf.Capacity()))
	}

	if complete {
		e.finishTransfer()
	}
}

// finishTransfer decodes the assembled payload outside the render lock and
// swaps the result in.
func (e *Engine) finishTransfer() {
	encoded := e.buf.Finish()
	e.setPhase(PhaseDecoding)

	img, err := e.decoder.Decode(encoded)
	if err != nil {
		e.stats.RecordError(err)
		e.logger.Warn("Failed to decode album art",
			zap.Int("bytes", len(encoded)),
			zap.Error(err))
		e.setPhase(PhaseIdle)
		return
	}

	err = e.handoff.WithLock(e.opts.LockTimeout, func(r domain.Renderer) {
		r.ReplaceImage(img)
	})
	if err != nil {
		e.stats.RecordError(err)
		e.logger.Warn("Album art dropped", zap.Error(err))
		e.setPhase(PhaseIdle)
		return
	}

	e.stats.IncImageDisplayed()
	e.setPhase(PhaseDisplayed)
	e.logger.Info("Album art displayed",
		zap.Int("width", img.Width),
		zap.Int("height", img.Height),
		zap.Int("bytes", len(encoded)))
}

func (e *Engine) ignore(err error) {
	e.stats.RecordError(err)
	e.logger.Debug("Message ignored", zap.Error(err))
}

func (e *Engine) setPhase(p Phase) {
	e.phase.Store(int32(p))
}

// Phase returns the current image transfer phase.
func (e *Engine) Phase() Phase {
	return Phase(e.phase.Load())
}

// State returns the last applied media state.
func (e *Engine) State() domain.MediaState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Buffer exposes the reassembly buffer for diagnostics.
func (e *Engine) Buffer() *ReassemblyBuffer {
	return e.buf
}

// Stats returns the engine counters.
func (e *Engine) Stats() *Stats {
	return e.stats
}
