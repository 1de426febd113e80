package engine

import (
	"errors"
	"sync"

	"github.com/genricoloni/mediapanel/internal/domain"
)

// Snapshot is a point-in-time copy of the engine counters.
type Snapshot struct {
	// Transfers
	TransfersStarted    int64
	TransfersSuperseded int64
	ImagesDisplayed     int64
	StatesApplied       int64

	// Errors by category
	ClassificationIgnored int64
	BufferOverflow        int64
	TotalMismatch         int64
	UnsupportedFormat     int64
	OutOfMemory           int64
	MalformedStream       int64
	BufferIncomplete      int64
	ParseMalformed        int64
	MissingRequiredField  int64
	LockTimeout           int64
}

// Errors returns the sum of all error counters.
func (s Snapshot) Errors() int64 {
	return s.ClassificationIgnored + s.BufferOverflow + s.TotalMismatch +
		s.UnsupportedFormat + s.OutOfMemory + s.MalformedStream + s.BufferIncomplete +
		s.ParseMalformed + s.MissingRequiredField + s.LockTimeout
}

// Stats accumulates engine counters.
// Thread-safe via sync.Mutex. All methods are nil-receiver safe.
type Stats struct {
	mu   sync.Mutex
	snap Snapshot
}

// NewStats creates an empty collector.
func NewStats() *Stats {
	return &Stats{}
}

func (s *Stats) inc(field func(*Snapshot) *int64) {
	if s == nil {
		return
	}
	s.mu.Lock()
	*field(&s.snap)++
	s.mu.Unlock()
}

// IncTransferStarted records a new image transfer.
func (s *Stats) IncTransferStarted() {
	s.inc(func(n *Snapshot) *int64 { return &n.TransfersStarted })
}

// IncTransferSuperseded records a transfer discarded by a newer one.
func (s *Stats) IncTransferSuperseded() {
	s.inc(func(n *Snapshot) *int64 { return &n.TransfersSuperseded })
}

// IncImageDisplayed records a raster handed to the renderer.
func (s *Stats) IncImageDisplayed() {
	s.inc(func(n *Snapshot) *int64 { return &n.ImagesDisplayed })
}

// IncStateApplied records a state record handed to the renderer.
func (s *Stats) IncStateApplied() {
	s.inc(func(n *Snapshot) *int64 { return &n.StatesApplied })
}

// IncTotalMismatch records a continuation declaring a different total.
func (s *Stats) IncTotalMismatch() {
	s.inc(func(n *Snapshot) *int64 { return &n.TotalMismatch })
}

// RecordError counts err under its category. Unknown errors are not counted.
func (s *Stats) RecordError(err error) {
	var field func(*Snapshot) *int64
	switch {
	case errors.Is(err, domain.ErrClassificationIgnored):
		field = func(n *Snapshot) *int64 { return &n.ClassificationIgnored }
	case errors.Is(err, domain.ErrBufferOverflow):
		field = func(n *Snapshot) *int64 { return &n.BufferOverflow }
	case errors.Is(err, domain.ErrUnsupportedFormat):
		field = func(n *Snapshot) *int64 { return &n.UnsupportedFormat }
	case errors.Is(err, domain.ErrOutOfMemory):
		field = func(n *Snapshot) *int64 { return &n.OutOfMemory }
	case errors.Is(err, domain.ErrMalformedStream):
		field = func(n *Snapshot) *int64 { return &n.MalformedStream }
	case errors.Is(err, domain.ErrBufferIncomplete):
		field = func(n *Snapshot) *int64 { return &n.BufferIncomplete }
	case errors.Is(err, domain.ErrParseMalformed):
		field = func(n *Snapshot) *int64 { return &n.ParseMalformed }
	case errors.Is(err, domain.ErrMissingRequiredField):
		field = func(n *Snapshot) *int64 { return &n.MissingRequiredField }
	case errors.Is(err, domain.ErrLockTimeout):
		field = func(n *Snapshot) *int64 { return &n.LockTimeout }
	default:
		return
	}
	s.inc(field)
}

// Snapshot returns a copy of the counters.
func (s *Stats) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}
