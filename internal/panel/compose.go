package panel

import (
	"image"
	"image/color"
	"unicode/utf8"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	backgroundTop    = color.RGBA{R: 0x1b, G: 0x1b, B: 0x2f, A: 0xff}
	backgroundBottom = color.RGBA{R: 0x08, G: 0x08, B: 0x10, A: 0xff}
	titleColor       = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	artistColor      = color.RGBA{R: 0xa0, G: 0xa0, B: 0xb0, A: 0xff}
	trackColor       = color.RGBA{R: 0x40, G: 0x40, B: 0x50, A: 0xff}
	accentColor      = color.RGBA{R: 0x7c, G: 0x3a, B: 0xed, A: 0xff}
)

const (
	margin       = 10
	lineHeight   = 18
	progressH    = 4
	iconSize     = 12
	fadeFraction = 2 // fade covers 1/fadeFraction of the art width
)

// Composer draws a View into a frame of the panel's size.
type Composer struct {
	width  int
	height int
	face   font.Face
}

// NewComposer creates a composer for a width x height panel.
func NewComposer(width, height int) *Composer {
	return &Composer{width: width, height: height, face: basicfont.Face7x13}
}

// Compose renders v. The album art fills a height x height square on the
// right and fades into the background towards the text.
func (c *Composer) Compose(v View) *image.RGBA {
	frame := image.NewRGBA(image.Rect(0, 0, c.width, c.height))

	// 1. Background gradient
	c.drawBackground(frame)

	// 2. Album art, scaled into its slot
	art := image.Rect(c.width-c.height, 0, c.width, c.height)
	if v.Image != nil {
		draw.ApproxBiLinear.Scale(frame, art, v.Image, v.Image.Bounds(), draw.Src, nil)
		c.drawFade(frame, art)
	}

	// 3. Labels
	textWidth := max(art.Min.X-2*margin, 0)
	c.drawText(frame, v.Title, titleColor, margin, margin+lineHeight, textWidth)
	c.drawText(frame, v.Artist, artistColor, margin, margin+2*lineHeight, textWidth)

	// 4. Transport controls
	bottom := c.height - margin
	c.drawPlayIcon(frame, image.Pt(margin, bottom-iconSize-2*progressH), v.Playing)
	if v.HasProgress {
		bar := image.Rect(margin, bottom-progressH, margin+textWidth, bottom)
		c.drawProgress(frame, bar, v.Progress)
	}

	return frame
}

func (c *Composer) drawBackground(frame *image.RGBA) {
	for y := 0; y < c.height; y++ {
		row := image.Rect(0, y, c.width, y+1)
		draw.Draw(frame, row, image.NewUniform(lerp(backgroundTop, backgroundBottom, y, c.height)), image.Point{}, draw.Src)
	}
}

// drawFade blends the background over the left part of the art, opaque at the edge.
func (c *Composer) drawFade(frame *image.RGBA, art image.Rectangle) {
	span := art.Dx() / fadeFraction
	for i := 0; i < span; i++ {
		alpha := uint8(255 - 255*i/span)
		col := image.Rect(art.Min.X+i, art.Min.Y, art.Min.X+i+1, art.Max.Y)
		shade := color.NRGBA{R: backgroundBottom.R, G: backgroundBottom.G, B: backgroundBottom.B, A: alpha}
		draw.Draw(frame, col, image.NewUniform(shade), image.Point{}, draw.Over)
	}
}

func (c *Composer) drawText(frame *image.RGBA, text string, col color.Color, x, y, maxWidth int) {
	d := &font.Drawer{
		Dst:  frame,
		Src:  image.NewUniform(col),
		Face: c.face,
		Dot:  fixed.P(x, y),
	}
	// Drop runes that would run into the art
	for text != "" && d.MeasureString(text).Ceil() > maxWidth {
		_, size := utf8.DecodeLastRuneInString(text)
		text = text[:len(text)-size]
	}
	d.DrawString(text)
}

func (c *Composer) drawPlayIcon(frame *image.RGBA, at image.Point, playing bool) {
	fill := image.NewUniform(titleColor)
	if playing {
		// Pause glyph while playing, like the hardware button
		bar := iconSize / 3
		draw.Draw(frame, image.Rect(at.X, at.Y, at.X+bar, at.Y+iconSize), fill, image.Point{}, draw.Src)
		draw.Draw(frame, image.Rect(at.X+2*bar, at.Y, at.X+3*bar, at.Y+iconSize), fill, image.Point{}, draw.Src)
		return
	}
	for dy := 0; dy < iconSize; dy++ {
		w := iconSize/2 - abs(dy-iconSize/2)
		draw.Draw(frame, image.Rect(at.X, at.Y+dy, at.X+2*w, at.Y+dy+1), fill, image.Point{}, draw.Src)
	}
}

func (c *Composer) drawProgress(frame *image.RGBA, bar image.Rectangle, percent int) {
	draw.Draw(frame, bar, image.NewUniform(trackColor), image.Point{}, draw.Src)
	filled := bar
	filled.Max.X = bar.Min.X + bar.Dx()*percent/100
	draw.Draw(frame, filled, image.NewUniform(accentColor), image.Point{}, draw.Src)
}

func lerp(a, b color.RGBA, i, n int) color.RGBA {
	if n <= 1 {
		return a
	}
	mix := func(x, y uint8) uint8 {
		return uint8((int(x)*(n-1-i) + int(y)*i) / (n - 1))
	}
	return color.RGBA{R: mix(a.R, b.R), G: mix(a.G, b.G), B: mix(a.B, b.B), A: 0xff}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
