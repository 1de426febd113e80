package domain

import (
	"encoding/binary"
	"image"
	"image/color"
)

// BytesPerPixel of the panel color format (RGB565).
const BytesPerPixel = 2

// RGB565 is a packed 16-bit color: 5 bits red, 6 bits green, 5 bits blue.
type RGB565 uint16

// PackRGB565 packs 8-bit channels into RGB565.
func PackRGB565(r, g, b uint8) RGB565 {
	return RGB565(uint16(r>>3)<<11 | uint16(g>>2)<<5 | uint16(b>>3))
}

// RGBA implements color.Color. Channels are expanded by bit replication.
func (c RGB565) RGBA() (r, g, b, a uint32) {
	r5 := uint32(c>>11) & 0x1f
	g6 := uint32(c>>5) & 0x3f
	b5 := uint32(c) & 0x1f
	r8 := r5<<3 | r5>>2
	g8 := g6<<2 | g6>>4
	b8 := b5<<3 | b5>>2
	return r8 * 0x101, g8 * 0x101, b8 * 0x101, 0xffff
}

// RGB565Model converts any color to RGB565, ignoring alpha.
var RGB565Model = color.ModelFunc(func(c color.Color) color.Color {
	if v, ok := c.(RGB565); ok {
		return v
	}
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	return PackRGB565(n.R, n.G, n.B)
})

// DecodedImage is a raster in the panel format. Pixels are little-endian
// RGB565 in row-major order, len(Pixels) == Width*Height*BytesPerPixel.
type DecodedImage struct {
	Width  int
	Height int
	Pixels []byte
}

// NewDecodedImage allocates a raster sized exactly for the given dimensions.
func NewDecodedImage(width, height int) *DecodedImage {
	return &DecodedImage{
		Width:  width,
		Height: height,
		Pixels: make([]byte, width*height*BytesPerPixel),
	}
}

// Valid reports whether the pixel buffer matches the dimensions.
func (d *DecodedImage) Valid() bool {
	return d != nil && d.Width > 0 && d.Height > 0 &&
		len(d.Pixels) == d.Width*d.Height*BytesPerPixel
}

// Row returns the byte slice holding row y.
func (d *DecodedImage) Row(y int) []byte {
	stride := d.Width * BytesPerPixel
	return d.Pixels[y*stride : (y+1)*stride]
}

// Set565 stores a packed pixel.
func (d *DecodedImage) Set565(x, y int, c RGB565) {
	i := (y*d.Width + x) * BytesPerPixel
	binary.LittleEndian.PutUint16(d.Pixels[i:], uint16(c))
}

// ColorModel implements image.Image.
func (d *DecodedImage) ColorModel() color.Model { return RGB565Model }

// Bounds implements image.Image.
func (d *DecodedImage) Bounds() image.Rectangle { return image.Rect(0, 0, d.Width, d.Height) }

// At implements image.Image.
func (d *DecodedImage) At(x, y int) color.Color {
	if !(image.Point{X: x, Y: y}.In(d.Bounds())) {
		return RGB565(0)
	}
	i := (y*d.Width + x) * BytesPerPixel
	return RGB565(binary.LittleEndian.Uint16(d.Pixels[i:]))
}
