package decoder

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/genricoloni/mediapanel/internal/domain"
)

// Format is an encoding recognised by its signature prefix
type Format int

const (
	FormatUnknown Format = iota
	// FormatPNG is the chunk (field) based raster format
	FormatPNG
	// FormatJPEG is the marker based format
	FormatJPEG
)

func (f Format) String() string {
	switch f {
	case FormatPNG:
		return "png"
	case FormatJPEG:
		return "jpeg"
	default:
		return "unknown"
	}
}

var (
	// Detection prefixes; the PNG decoder checks the remaining signature bytes
	pngMagic  = []byte{0x89, 'P', 'N', 'G'}
	jpegMagic = []byte{0xFF, 0xD8}

	pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}
)

// Detect identifies the encoding from the signature prefix: FF D8 for JPEG,
// 89 50 4E 47 for PNG. Inputs too short to tell report domain.ErrBufferIncomplete.
func Detect(b []byte) (Format, error) {
	if len(b) < len(jpegMagic) {
		return FormatUnknown, fmt.Errorf("%w: %d bytes", domain.ErrBufferIncomplete, len(b))
	}
	if bytes.HasPrefix(b, jpegMagic) {
		return FormatJPEG, nil
	}
	if bytes.HasPrefix(b, pngMagic) {
		return FormatPNG, nil
	}
	if len(b) < len(pngMagic) && bytes.HasPrefix(pngMagic, b) {
		return FormatUnknown, fmt.Errorf("%w: truncated png signature", domain.ErrBufferIncomplete)
	}
	return FormatUnknown, fmt.Errorf("%w: header % X", domain.ErrUnsupportedFormat, b[:min(len(b), 4)])
}

// classify maps codec errors onto the engine taxonomy
func classify(err error) error {
	switch {
	case errors.Is(err, domain.ErrUnsupportedFormat),
		errors.Is(err, domain.ErrMalformedStream),
		errors.Is(err, domain.ErrBufferIncomplete),
		errors.Is(err, domain.ErrOutOfMemory):
		return err
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		return fmt.Errorf("%w: %v", domain.ErrBufferIncomplete, err)
	default:
		return fmt.Errorf("%w: %v", domain.ErrMalformedStream, err)
	}
}
