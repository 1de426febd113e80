package decoder

import (
	"encoding/binary"
	"fmt"

	"github.com/genricoloni/mediapanel/internal/domain"
)

// writeBand packs the RGB band of ev into dst as RGB565.
// Alpha never reaches a band, pixels are treated as opaque.
func writeBand(dst *domain.DecodedImage, ev Event) error {
	if ev.Rows <= 0 || ev.Cols <= 0 || ev.DX <= 0 || ev.X0 < 0 || ev.Y < 0 ||
		ev.Y+ev.Rows > dst.Height ||
		ev.X0+(ev.Cols-1)*ev.DX >= dst.Width ||
		len(ev.Pix) < ev.Rows*ev.Cols*3 {
		return fmt.Errorf("%w: band y=%d rows=%d cols=%d outside %dx%d",
			domain.ErrMalformedStream, ev.Y, ev.Rows, ev.Cols, dst.Width, dst.Height)
	}

	for r := 0; r < ev.Rows; r++ {
		line := dst.Row(ev.Y + r)
		src := ev.Pix[r*ev.Cols*3 : (r+1)*ev.Cols*3]
		for i, x := 0, ev.X0; i < ev.Cols; i, x = i+1, x+ev.DX {
			put(line, x, src[3*i], src[3*i+1], src[3*i+2])
		}
	}
	return nil
}

func put(line []byte, x int, r, g, b uint8) {
	binary.LittleEndian.PutUint16(line[x*domain.BytesPerPixel:], uint16(domain.PackRGB565(r, g, b)))
}
