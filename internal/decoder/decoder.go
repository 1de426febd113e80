// Package decoder turns a reassembled album art payload into a panel raster.
//
// Decoding is modelled as a producer: Events yields one Header event once the
// dimensions are known, then Band events carrying consecutive rows. PNG rows
// are inflated and unfiltered one scanline at a time, baseline JPEG is decoded
// one MCU row at a time. Decode consumes that sequence, allocates the
// destination only after the header passed the memory budget, and converts
// every band straight into RGB565 at its final offset. The destination is the
// only allocation proportional to the image area.
package decoder

import (
	"fmt"
	"iter"

	"github.com/genricoloni/mediapanel/internal/domain"
	"go.uber.org/zap"
)

const (
	defaultBandRows      = 16
	defaultMaxImageBytes = 512 * 1024
)

// Compile-time interface check.
var _ domain.ImageDecoder = (*Decoder)(nil)

// EventKind distinguishes decoder events
type EventKind int

const (
	// EventHeader announces the image dimensions
	EventHeader EventKind = iota
	// EventBand delivers decoded rows
	EventBand
)

// Event is one step of a decode.
//
// A Header reports the dimensions and Working, the scratch memory the codec
// allocates once the header is accepted.
//
// A Band carries Rows rows of Cols packed 8-bit RGB pixels in Pix. Pixel i of
// band row r belongs at destination column X0+i*DX of row Y+r; DX is 1 except
// for interlaced passes. Pix is reused for the next band.
type Event struct {
	Kind    EventKind
	Format  Format
	Width   int
	Height  int
	Working int

	Y    int
	Rows int
	X0   int
	DX   int
	Cols int
	Pix  []byte
}

// Phase of a single decode
type Phase int

const (
	PhaseAwaitingHeader Phase = iota
	PhaseStreaming
	PhaseDone
	PhaseFailed
)

// Decoder converts PNG and JPEG payloads into RGB565 rasters.
type Decoder struct {
	logger        *zap.Logger
	maxImageBytes int
	bandRows      int
}

// New creates a decoder. maxImageBytes bounds the destination raster plus the
// codec working set, bandRows is the number of PNG rows delivered per band.
// JPEG bands are always one MCU row.
func New(logger *zap.Logger, maxImageBytes, bandRows int) *Decoder {
	if maxImageBytes <= 0 {
		maxImageBytes = defaultMaxImageBytes
	}
	if bandRows <= 0 {
		bandRows = defaultBandRows
	}
	return &Decoder{
		logger:        logger,
		maxImageBytes: maxImageBytes,
		bandRows:      bandRows,
	}
}

// Events produces the decode event sequence for encoded.
// encoded is only read, never copied or retained after the sequence ends.
func (d *Decoder) Events(encoded []byte) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		format, err := Detect(encoded)
		if err != nil {
			yield(Event{}, err)
			return
		}

		switch format {
		case FormatPNG:
			d.pngEvents(encoded, yield)
		case FormatJPEG:
			d.jpegEvents(encoded, yield)
		}
	}
}

func (p Phase) String() string {
	switch p {
	case PhaseAwaitingHeader:
		return "awaiting_header"
	case PhaseStreaming:
		return "streaming"
	case PhaseDone:
		return "done"
	default:
		return "failed"
	}
}

// run is the consumer side of one decode
type run struct {
	maxImageBytes int
	phase         Phase
	dst           *domain.DecodedImage
}

func (r *run) handle(ev Event) error {
	switch ev.Kind {
	case EventHeader:
		if r.phase != PhaseAwaitingHeader {
			return fmt.Errorf("%w: duplicate header", domain.ErrMalformedStream)
		}
		if ev.Width <= 0 || ev.Height <= 0 {
			return fmt.Errorf("%w: invalid dimensions %dx%d",
				domain.ErrMalformedStream, ev.Width, ev.Height)
		}
		// Either side alone past the budget would overflow the product
		if ev.Width > r.maxImageBytes || ev.Height > r.maxImageBytes {
			return fmt.Errorf("%w: %dx%d exceeds budget %d",
				domain.ErrOutOfMemory, ev.Width, ev.Height, r.maxImageBytes)
		}
		need := ev.Width*ev.Height*domain.BytesPerPixel + ev.Working
		if need > r.maxImageBytes {
			return fmt.Errorf("%w: %dx%d needs %d bytes, budget %d",
				domain.ErrOutOfMemory, ev.Width, ev.Height, need, r.maxImageBytes)
		}
		r.dst = domain.NewDecodedImage(ev.Width, ev.Height)
		r.phase = PhaseStreaming

	case EventBand:
		if r.phase != PhaseStreaming {
			return fmt.Errorf("%w: rows before header", domain.ErrMalformedStream)
		}
		return writeBand(r.dst, ev)
	}
	return nil
}

// Decode runs the full decode of encoded.
// On error no raster is returned.
func (d *Decoder) Decode(encoded []byte) (*domain.DecodedImage, error) {
	r := &run{maxImageBytes: d.maxImageBytes}

	for ev, err := range d.Events(encoded) {
		if err == nil {
			err = r.handle(ev)
		}
		if err != nil {
			d.logger.Debug("Image decode failed",
				zap.Stringer("phase", r.phase),
				zap.Int("bytes", len(encoded)),
				zap.Error(err))
			r.phase = PhaseFailed
			return nil, err
		}
		if ev.Kind == EventHeader {
			d.logger.Debug("Image header decoded",
				zap.Stringer("format", ev.Format),
				zap.Int("width", ev.Width),
				zap.Int("height", ev.Height),
				zap.Int("working", ev.Working))
		}
	}

	if r.phase != PhaseStreaming {
		return nil, fmt.Errorf("%w: no image data", domain.ErrMalformedStream)
	}
	r.phase = PhaseDone
	return r.dst, nil
}
