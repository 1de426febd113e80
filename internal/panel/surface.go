// Package panel is the rendering side of the device: the mutable surface the
// engine writes to, the render loop that owns it, and the sinks that receive
// composed frames.
package panel

import (
	"unicode/utf8"

	"github.com/genricoloni/mediapanel/internal/domain"
	"go.uber.org/zap"
)

const (
	placeholderTitle  = "Waiting for data..."
	placeholderArtist = "Connect to MQTT"
	ellipsis          = "..."
)

// Compile-time interface check.
var _ domain.Renderer = (*Surface)(nil)

// View is a copy of what the surface currently shows.
type View struct {
	Title       string
	Artist      string
	Progress    int
	HasProgress bool
	Playing     bool
	Image       *domain.DecodedImage
}

// Surface is the panel's widget state.
// Not safe for concurrent use; every call happens under the render handoff.
type Surface struct {
	logger   *zap.Logger
	titleMax int

	view  View
	dirty bool
}

// NewSurface creates a surface showing the placeholder text.
func NewSurface(logger *zap.Logger, titleMaxChars int) *Surface {
	return &Surface{
		logger:   logger,
		titleMax: titleMaxChars,
		view: View{
			Title:  placeholderTitle,
			Artist: placeholderArtist,
		},
		dirty: true,
	}
}

// ReplaceImage installs img. Nil or inconsistent rasters are refused so the
// surface keeps showing the previous one.
func (s *Surface) ReplaceImage(img *domain.DecodedImage) {
	if !img.Valid() {
		s.logger.Warn("Refusing invalid raster")
		return
	}
	s.view.Image = img
	s.dirty = true
}

// SetTitle shows text, shortened to the title width.
func (s *Surface) SetTitle(text string) {
	s.view.Title = fitTitle(text, s.titleMax)
	s.dirty = true
}

func (s *Surface) SetArtist(text string) {
	s.view.Artist = text
	s.dirty = true
}

// SetProgress clamps percent to [0,100].
func (s *Surface) SetProgress(percent int) {
	s.view.Progress = max(0, min(percent, 100))
	s.view.HasProgress = true
	s.dirty = true
}

func (s *Surface) SetPlayIcon(playing bool) {
	s.view.Playing = playing
	s.dirty = true
}

// Snapshot returns the current view and whether it changed since the last
// snapshot, then clears the change flag.
func (s *Surface) Snapshot() (View, bool) {
	dirty := s.dirty
	s.dirty = false
	return s.view, dirty
}

// fitTitle cuts text longer than limit runes to limit-3 runes plus an ellipsis.
func fitTitle(text string, limit int) string {
	if limit <= len(ellipsis) || utf8.RuneCountInString(text) <= limit {
		return text
	}
	keep := limit - len(ellipsis)
	for i := range text {
		if keep == 0 {
			return text[:i] + ellipsis
		}
		keep--
	}
	return text
}
