package panel

import (
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/disintegration/imaging"
	"github.com/genricoloni/mediapanel/internal/config"
	"github.com/genricoloni/mediapanel/internal/domain"
	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
)

const (
	frameFilename = "frame.png"
	barWidth      = 20
)

// Sink receives every composed frame.
type Sink interface {
	Flush(frame image.Image, v View) error
}

// SnapshotSink writes the latest frame as a PNG file.
type SnapshotSink struct {
	logger *zap.Logger
	dir    string
}

// NewSnapshotSink creates a sink writing into dir.
func NewSnapshotSink(logger *zap.Logger, dir string) *SnapshotSink {
	return &SnapshotSink{logger: logger, dir: dir}
}

// Path of the frame file.
func (s *SnapshotSink) Path() string {
	return filepath.Join(s.dir, frameFilename)
}

// Flush replaces the frame file atomically.
func (s *SnapshotSink) Flush(frame image.Image, _ View) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp := filepath.Join(s.dir, ".frame.tmp.png")
	if err := imaging.Save(frame, tmp); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	if err := os.Rename(tmp, s.Path()); err != nil {
		return fmt.Errorf("failed to replace frame: %w", err)
	}

	s.logger.Debug("Frame written", zap.String("path", s.Path()))
	return nil
}

// Color palette.
var (
	primaryColor = lipgloss.Color("#7C3AED") // Purple
	mutedColor   = lipgloss.Color("#6B7280") // Gray
	playingColor = lipgloss.Color("#10B981") // Green
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFFFF"))
	artistStyle   = lipgloss.NewStyle().Foreground(mutedColor)
	iconStyle     = lipgloss.NewStyle().Foreground(playingColor)
	barStyle      = lipgloss.NewStyle().Foreground(primaryColor)
	barTrackStyle = lipgloss.NewStyle().Foreground(mutedColor)
)

// TerminalSink prints a styled now-playing line per frame.
// On a TTY the line is redrawn in place, otherwise one line per frame is appended.
type TerminalSink struct {
	w    io.Writer
	live bool
}

// NewTerminalSink creates a sink writing to w.
func NewTerminalSink(w io.Writer) *TerminalSink {
	live := false
	if f, ok := w.(*os.File); ok {
		live = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &TerminalSink{w: w, live: live}
}

// Flush writes one line describing v.
func (s *TerminalSink) Flush(_ image.Image, v View) error {
	var err error
	if s.live {
		// Return to column 0 and clear the line
		_, err = fmt.Fprint(s.w, "\r\x1b[K"+RenderLine(v))
	} else {
		_, err = fmt.Fprintln(s.w, RenderLine(v))
	}
	return err
}

// RenderLine formats v for a terminal.
func RenderLine(v View) string {
	icon := "||"
	if !v.Playing {
		icon = "> "
	}

	parts := []string{
		iconStyle.Render(icon),
		titleStyle.Render(v.Title),
		artistStyle.Render(v.Artist),
	}
	if v.HasProgress {
		filled := barWidth * v.Progress / 100
		bar := barStyle.Render(strings.Repeat("#", filled)) +
			barTrackStyle.Render(strings.Repeat("-", barWidth-filled))
		parts = append(parts, fmt.Sprintf("[%s] %3d%%", bar, v.Progress))
	}
	if v.Image != nil {
		parts = append(parts, artistStyle.Render(fmt.Sprintf("art %dx%d", v.Image.Width, v.Image.Height)))
	}
	return strings.Join(parts, " ")
}

// SinksFromConfig builds the sinks selected by output.mode.
func SinksFromConfig(logger *zap.Logger, cfg domain.Config, stdout io.Writer) []Sink {
	var sinks []Sink
	switch cfg.GetMode() {
	case config.ModeTerminal:
		sinks = append(sinks, NewTerminalSink(stdout))
	case config.ModeBoth:
		sinks = append(sinks, NewSnapshotSink(logger, cfg.GetOutputDir()), NewTerminalSink(stdout))
	default:
		sinks = append(sinks, NewSnapshotSink(logger, cfg.GetOutputDir()))
	}
	return sinks
}
