package decoder

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"slices"

	"github.com/genricoloni/mediapanel/internal/domain"
)

// PNG color types
const (
	pngGray      = 0
	pngTrue      = 2
	pngPaletted  = 3
	pngGrayAlpha = 4
	pngTrueAlpha = 6
)

// inflaterBytes approximates the flate history window plus its Huffman tables
const inflaterBytes = 40 << 10

type chunkType [4]byte

var (
	chunkIHDR = chunkType{'I', 'H', 'D', 'R'}
	chunkPLTE = chunkType{'P', 'L', 'T', 'E'}
	chunkIDAT = chunkType{'I', 'D', 'A', 'T'}
	chunkIEND = chunkType{'I', 'E', 'N', 'D'}
)

var errChecksum = errors.New("chunk checksum mismatch")

// pngDepths lists the bit depths allowed per color type
var pngDepths = map[byte][]int{
	pngGray:      {1, 2, 4, 8, 16},
	pngTrue:      {8, 16},
	pngPaletted:  {1, 2, 4, 8},
	pngGrayAlpha: {8, 16},
	pngTrueAlpha: {8, 16},
}

// adam7 describes the seven interlace passes
var adam7 = [7]struct{ x0, y0, dx, dy int }{
	{0, 0, 8, 8},
	{4, 0, 8, 8},
	{0, 4, 4, 8},
	{2, 0, 4, 4},
	{0, 2, 2, 4},
	{1, 0, 2, 2},
	{0, 1, 1, 2},
}

type pngHeader struct {
	width, height int
	depth         int
	colorType     byte
	interlaced    bool
}

func (h pngHeader) channels() int {
	switch h.colorType {
	case pngTrue:
		return 3
	case pngGrayAlpha:
		return 2
	case pngTrueAlpha:
		return 4
	default:
		return 1
	}
}

// rowBytes is the unfiltered size of a scanline of cols pixels
func (h pngHeader) rowBytes(cols int) int {
	return (cols*h.channels()*h.depth + 7) / 8
}

// filterStride is the byte distance to the corresponding byte of the previous pixel
func (h pngHeader) filterStride() int {
	return (h.channels()*h.depth + 7) / 8
}

type pngChunk struct {
	typ  chunkType
	size int
	data []byte
	// truncated reports the chunk runs past the end of the input; data holds what arrived
	truncated bool
}

// nextChunk reads the chunk starting at off and returns the offset after it.
func nextChunk(b []byte, off int) (pngChunk, int, error) {
	var c pngChunk
	if off+8 > len(b) {
		return c, off, io.ErrUnexpectedEOF
	}
	c.size = int(binary.BigEndian.Uint32(b[off:]))
	copy(c.typ[:], b[off+4:off+8])

	start := off + 8
	end := start + c.size
	if end+4 > len(b) {
		c.data = b[start:min(end, len(b))]
		c.truncated = true
		return c, len(b), nil
	}
	c.data = b[start:end]
	if crc32.ChecksumIEEE(b[off+4:end]) != binary.BigEndian.Uint32(b[end:]) {
		return c, end + 4, fmt.Errorf("%w: %s", errChecksum, c.typ[:])
	}
	return c, end + 4, nil
}

func parseIHDR(c pngChunk) (pngHeader, error) {
	var h pngHeader
	if c.typ != chunkIHDR || c.size != 13 {
		return h, fmt.Errorf("%w: first chunk is %q, want IHDR", domain.ErrMalformedStream, c.typ[:])
	}
	if c.truncated {
		return h, io.ErrUnexpectedEOF
	}

	d := c.data
	h.width = int(binary.BigEndian.Uint32(d[0:]))
	h.height = int(binary.BigEndian.Uint32(d[4:]))
	h.depth = int(d[8])
	h.colorType = d[9]

	if d[10] != 0 || d[11] != 0 {
		return h, fmt.Errorf("%w: unknown compression or filter method", domain.ErrMalformedStream)
	}
	switch d[12] {
	case 0:
	case 1:
		h.interlaced = true
	default:
		return h, fmt.Errorf("%w: unknown interlace method %d", domain.ErrMalformedStream, d[12])
	}

	depths, ok := pngDepths[h.colorType]
	if !ok || !slices.Contains(depths, h.depth) {
		return h, fmt.Errorf("%w: color type %d with bit depth %d",
			domain.ErrMalformedStream, h.colorType, h.depth)
	}
	return h, nil
}

// pngEvents decodes a PNG one scanline at a time. Working memory is two
// scanlines, one RGB band and the inflater.
func (d *Decoder) pngEvents(b []byte, yield func(Event, error) bool) {
	if !bytes.HasPrefix(b, pngSignature) {
		if len(b) < len(pngSignature) && bytes.HasPrefix(pngSignature, b) {
			yield(Event{}, fmt.Errorf("%w: truncated png signature", domain.ErrBufferIncomplete))
			return
		}
		yield(Event{}, fmt.Errorf("%w: corrupt png signature", domain.ErrMalformedStream))
		return
	}

	c, off, err := nextChunk(b, len(pngSignature))
	if err != nil {
		yield(Event{}, classify(err))
		return
	}
	h, err := parseIHDR(c)
	if err != nil {
		yield(Event{}, classify(err))
		return
	}

	// 1. Walk ancillary chunks up to the first IDAT
	var palette []byte
	for {
		c, next, err := nextChunk(b, off)
		if err != nil {
			yield(Event{}, classify(err))
			return
		}
		if c.typ == chunkIDAT {
			break
		}
		if c.truncated {
			yield(Event{}, classify(io.ErrUnexpectedEOF))
			return
		}
		switch c.typ {
		case chunkPLTE:
			if len(c.data) == 0 || len(c.data)%3 != 0 || len(c.data) > 256*3 {
				yield(Event{}, fmt.Errorf("%w: palette of %d bytes", domain.ErrMalformedStream, len(c.data)))
				return
			}
			palette = c.data
		case chunkIEND:
			yield(Event{}, fmt.Errorf("%w: no image data", domain.ErrMalformedStream))
			return
		}
		off = next
	}
	if h.colorType == pngPaletted && palette == nil {
		yield(Event{}, fmt.Errorf("%w: missing palette", domain.ErrMalformedStream))
		return
	}

	// 2. Announce the dimensions and the working set
	bandRows := min(d.bandRows, h.height)
	if h.interlaced {
		bandRows = 1
	}
	rowLen := h.rowBytes(h.width) + 1
	bandLen := bandRows * h.width * 3
	header := Event{
		Kind:    EventHeader,
		Format:  FormatPNG,
		Width:   h.width,
		Height:  h.height,
		Working: 2*rowLen + bandLen + inflaterBytes,
	}
	if !yield(header, nil) {
		return
	}

	// 3. Inflate and unfilter scanline by scanline
	zr, err := zlib.NewReader(&idatReader{b: b, off: off})
	if err != nil {
		yield(Event{}, classify(err))
		return
	}
	defer zr.Close()

	s := &pngScan{
		header:  h,
		palette: palette,
		src:     zr,
		cur:     make([]byte, rowLen),
		prev:    make([]byte, rowLen),
		band:    make([]byte, bandLen),
	}
	if h.interlaced {
		s.interlaced(yield)
	} else {
		s.sequential(bandRows, yield)
	}
}

// pngScan holds the scratch rows of one PNG decode
type pngScan struct {
	header  pngHeader
	palette []byte
	src     io.Reader
	cur     []byte
	prev    []byte
	band    []byte
}

func (s *pngScan) sequential(bandRows int, yield func(Event, error) bool) {
	h := s.header
	w := h.width
	y0, n := 0, 0

	for y := 0; y < h.height; y++ {
		if err := s.readRow(s.cur, s.prev); err != nil {
			yield(Event{}, classify(err))
			return
		}
		s.expand(s.band[n*w*3:(n+1)*w*3], s.cur[1:], w)
		s.cur, s.prev = s.prev, s.cur
		n++

		if n == bandRows || y == h.height-1 {
			ev := Event{
				Kind:   EventBand,
				Format: FormatPNG,
				Width:  w,
				Height: h.height,
				Y:      y0,
				Rows:   n,
				DX:     1,
				Cols:   w,
				Pix:    s.band[:n*w*3],
			}
			if !yield(ev, nil) {
				return
			}
			y0 += n
			n = 0
		}
	}
}

// interlaced delivers every Adam7 pass row as a sparse one-row band
func (s *pngScan) interlaced(yield func(Event, error) bool) {
	h := s.header

	for _, p := range adam7 {
		cols := (h.width - p.x0 + p.dx - 1) / p.dx
		rows := (h.height - p.y0 + p.dy - 1) / p.dy
		if cols <= 0 || rows <= 0 {
			continue
		}

		n := h.rowBytes(cols) + 1
		cur, prev := s.cur[:n], s.prev[:n]
		clear(prev)

		for j := 0; j < rows; j++ {
			if err := s.readRow(cur, prev); err != nil {
				yield(Event{}, classify(err))
				return
			}
			s.expand(s.band[:cols*3], cur[1:], cols)
			ev := Event{
				Kind:   EventBand,
				Format: FormatPNG,
				Width:  h.width,
				Height: h.height,
				Y:      p.y0 + j*p.dy,
				Rows:   1,
				X0:     p.x0,
				DX:     p.dx,
				Cols:   cols,
				Pix:    s.band[:cols*3],
			}
			if !yield(ev, nil) {
				return
			}
			cur, prev = prev, cur
		}
	}
}

// readRow reads one filtered scanline into cur and reverses its filter
func (s *pngScan) readRow(cur, prev []byte) error {
	if _, err := io.ReadFull(s.src, cur); err != nil {
		return err
	}
	return unfilter(cur[0], cur[1:], prev[1:], s.header.filterStride())
}

func unfilter(kind byte, cur, prev []byte, bpp int) error {
	switch kind {
	case 0:
	case 1:
		for i := bpp; i < len(cur); i++ {
			cur[i] += cur[i-bpp]
		}
	case 2:
		for i := range cur {
			cur[i] += prev[i]
		}
	case 3:
		for i := range cur {
			var left int
			if i >= bpp {
				left = int(cur[i-bpp])
			}
			cur[i] += byte((left + int(prev[i])) / 2)
		}
	case 4:
		for i := range cur {
			var a, c byte
			if i >= bpp {
				a, c = cur[i-bpp], prev[i-bpp]
			}
			cur[i] += paeth(a, prev[i], c)
		}
	default:
		return fmt.Errorf("%w: unknown filter type %d", domain.ErrMalformedStream, kind)
	}
	return nil
}

func paeth(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa, pb, pc := absInt(p-int(a)), absInt(p-int(b)), absInt(p-int(c))
	switch {
	case pa <= pb && pa <= pc:
		return a
	case pb <= pc:
		return b
	default:
		return c
	}
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// expand converts cols samples of an unfiltered scanline to packed 8-bit RGB.
// 16-bit samples keep their high byte, alpha is dropped.
func (s *pngScan) expand(dst, row []byte, cols int) {
	h := s.header

	if h.depth < 8 {
		mask := byte(1<<h.depth - 1)
		scale := 255 / mask
		for i := 0; i < cols; i++ {
			bit := i * h.depth
			v := (row[bit/8] >> (8 - h.depth - bit%8)) & mask
			if h.colorType == pngPaletted {
				s.paletteRGB(dst[3*i:3*i+3], v)
				continue
			}
			g := v * scale
			dst[3*i], dst[3*i+1], dst[3*i+2] = g, g, g
		}
		return
	}

	step := h.depth / 8
	pixel := h.channels() * step
	for i := 0; i < cols; i++ {
		p := row[i*pixel : (i+1)*pixel]
		switch h.colorType {
		case pngGray, pngGrayAlpha:
			dst[3*i], dst[3*i+1], dst[3*i+2] = p[0], p[0], p[0]
		case pngTrue, pngTrueAlpha:
			dst[3*i], dst[3*i+1], dst[3*i+2] = p[0], p[step], p[2*step]
		case pngPaletted:
			s.paletteRGB(dst[3*i:3*i+3], p[0])
		}
	}
}

// paletteRGB writes palette entry idx; indices past the palette are black
func (s *pngScan) paletteRGB(dst []byte, idx byte) {
	i := int(idx) * 3
	if i+3 > len(s.palette) {
		dst[0], dst[1], dst[2] = 0, 0, 0
		return
	}
	copy(dst, s.palette[i:i+3])
}

// idatReader streams the payload of consecutive IDAT chunks straight out of
// the reassembled buffer. It implements io.ByteReader so the inflater reads
// it without an extra buffer.
type idatReader struct {
	b     []byte
	off   int
	data  []byte
	short bool
	err   error
}

func (r *idatReader) fill() error {
	for len(r.data) == 0 {
		if r.err != nil {
			return r.err
		}
		if r.short {
			r.err = io.ErrUnexpectedEOF
			return r.err
		}

		c, next, err := nextChunk(r.b, r.off)
		switch {
		case err != nil:
			r.err = err
		case c.typ != chunkIDAT:
			r.err = io.EOF
		default:
			r.off, r.data, r.short = next, c.data, c.truncated
		}
	}
	return nil
}

func (r *idatReader) Read(p []byte) (int, error) {
	if err := r.fill(); err != nil {
		return 0, err
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

func (r *idatReader) ReadByte() (byte, error) {
	if err := r.fill(); err != nil {
		return 0, err
	}
	c := r.data[0]
	r.data = r.data[1:]
	return c, nil
}
