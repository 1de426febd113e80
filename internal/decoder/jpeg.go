package decoder

import (
	"encoding/binary"
	"fmt"
	"image/color"
	"io"
	"math"

	"github.com/genricoloni/mediapanel/internal/domain"
)

// jpegTableBytes covers the parsed quantization and Huffman tables
const jpegTableBytes = 12 << 10

// unzig maps zig-zag coefficient order to natural order
var unzig = [64]int{
	0, 1, 8, 16, 9, 2, 3, 10,
	17, 24, 32, 25, 18, 11, 4, 5,
	12, 19, 26, 33, 40, 48, 41, 34,
	27, 20, 13, 6, 7, 14, 21, 28,
	35, 42, 49, 56, 57, 50, 43, 36,
	29, 22, 15, 23, 30, 37, 44, 51,
	58, 59, 52, 45, 38, 31, 39, 46,
	53, 60, 61, 54, 47, 55, 62, 63,
}

// idctCos[x][u] is C(u)/2 * cos((2x+1)uπ/16)
var idctCos = func() (t [8][8]float32) {
	for x := 0; x < 8; x++ {
		for u := 0; u < 8; u++ {
			c := 1.0
			if u == 0 {
				c = 1 / math.Sqrt2
			}
			t[x][u] = float32(c / 2 * math.Cos(float64(2*x+1)*float64(u)*math.Pi/16))
		}
	}
	return t
}()

type jpegComponent struct {
	id     byte
	h, v   int
	tq     byte
	td, ta byte
	pred   int32
	plane  []byte
	stride int
}

// jpegStream is a parsed baseline frame with one interleaved scan
type jpegStream struct {
	width, height int
	comps         []jpegComponent
	order         []int
	hmax, vmax    int
	quant         [4][64]int32
	quantSet      [4]bool
	dc, ac        [4]huffTable
	restart       int
	scanStart     int
}

func unsupported(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{domain.ErrUnsupportedFormat}, args...)...)
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{domain.ErrMalformedStream}, args...)...)
}

// parseJPEG reads the markers up to the start of scan. Progressive,
// lossless, arithmetic coded and multi-scan frames are not supported.
func parseJPEG(b []byte) (*jpegStream, error) {
	s := &jpegStream{}
	off := len(jpegMagic)

	for {
		if off+2 > len(b) {
			return nil, io.ErrUnexpectedEOF
		}
		if b[off] != 0xFF {
			return nil, malformed("expected marker at offset %d", off)
		}
		m := b[off+1]
		if m == 0xFF {
			off++
			continue
		}
		off += 2

		switch {
		case m == 0x01 || (m >= 0xD0 && m <= 0xD7):
			continue
		case m == 0xD8 || m == 0xD9:
			return nil, malformed("marker %02X before scan", m)
		}

		if off+2 > len(b) {
			return nil, io.ErrUnexpectedEOF
		}
		n := int(binary.BigEndian.Uint16(b[off:]))
		if n < 2 {
			return nil, malformed("segment length %d", n)
		}
		if off+n > len(b) {
			return nil, io.ErrUnexpectedEOF
		}
		seg := b[off+2 : off+n]
		off += n

		var err error
		switch {
		case m == 0xC0 || m == 0xC1:
			err = s.parseSOF(seg)
		case m == 0xC2:
			err = unsupported("progressive jpeg")
		case m == 0xC3 || (m >= 0xC5 && m <= 0xC7) || (m >= 0xC9 && m <= 0xCB) || m >= 0xCD && m <= 0xCF:
			err = unsupported("jpeg process SOF%d", m-0xC0)
		case m == 0xC4:
			err = s.parseDHT(seg)
		case m == 0xDB:
			err = s.parseDQT(seg)
		case m == 0xDD:
			if len(seg) < 2 {
				return nil, malformed("short restart interval")
			}
			s.restart = int(binary.BigEndian.Uint16(seg))
		case m == 0xDA:
			if err := s.parseSOS(seg); err != nil {
				return nil, err
			}
			s.scanStart = off
			return s, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func (s *jpegStream) parseSOF(seg []byte) error {
	if s.comps != nil {
		return malformed("multiple frames")
	}
	if len(seg) < 6 {
		return malformed("short frame header")
	}
	if seg[0] != 8 {
		return unsupported("%d-bit samples", seg[0])
	}
	s.height = int(binary.BigEndian.Uint16(seg[1:]))
	s.width = int(binary.BigEndian.Uint16(seg[3:]))
	if s.height == 0 {
		return unsupported("height defined by DNL")
	}

	nf := int(seg[5])
	if nf != 1 && nf != 3 {
		return unsupported("%d components", nf)
	}
	if len(seg) < 6+3*nf {
		return malformed("short frame header")
	}

	s.comps = make([]jpegComponent, nf)
	for i := range s.comps {
		p := seg[6+3*i:]
		c := &s.comps[i]
		c.id, c.h, c.v, c.tq = p[0], int(p[1]>>4), int(p[1]&0x0F), p[2]
		if c.h < 1 || c.h > 4 || c.v < 1 || c.v > 4 || c.tq > 3 {
			return malformed("component %d sampling %dx%d table %d", c.id, c.h, c.v, c.tq)
		}
		s.hmax, s.vmax = max(s.hmax, c.h), max(s.vmax, c.v)
	}
	// A single component scan is never interleaved: one block per MCU
	if nf == 1 {
		s.comps[0].h, s.comps[0].v = 1, 1
		s.hmax, s.vmax = 1, 1
	}
	return nil
}

func (s *jpegStream) parseDQT(seg []byte) error {
	for len(seg) > 0 {
		pq, tq := seg[0]>>4, seg[0]&0x0F
		if tq > 3 {
			return malformed("quantization table %d", tq)
		}
		seg = seg[1:]

		switch pq {
		case 0:
			if len(seg) < 64 {
				return malformed("short quantization table")
			}
			for k := range 64 {
				s.quant[tq][k] = int32(seg[k])
			}
			seg = seg[64:]
		case 1:
			if len(seg) < 128 {
				return malformed("short quantization table")
			}
			for k := range 64 {
				s.quant[tq][k] = int32(binary.BigEndian.Uint16(seg[2*k:]))
			}
			seg = seg[128:]
		default:
			return malformed("quantization precision %d", pq)
		}
		s.quantSet[tq] = true
	}
	return nil
}

func (s *jpegStream) parseDHT(seg []byte) error {
	for len(seg) > 0 {
		if len(seg) < 17 {
			return malformed("short huffman table")
		}
		tc, th := seg[0]>>4, seg[0]&0x0F
		if tc > 1 || th > 3 {
			return malformed("huffman table class %d id %d", tc, th)
		}

		var counts [16]byte
		copy(counts[:], seg[1:17])
		total := 0
		for _, n := range counts {
			total += int(n)
		}
		if total > 256 || len(seg) < 17+total {
			return malformed("huffman table with %d codes", total)
		}

		t := &s.dc[th]
		if tc == 1 {
			t = &s.ac[th]
		}
		if err := t.build(counts, seg[17:17+total]); err != nil {
			return err
		}
		seg = seg[17+total:]
	}
	return nil
}

func (s *jpegStream) parseSOS(seg []byte) error {
	if s.comps == nil {
		return malformed("scan before frame header")
	}
	if len(seg) < 1 {
		return malformed("short scan header")
	}
	ns := int(seg[0])
	if ns != len(s.comps) {
		return unsupported("scan of %d of %d components", ns, len(s.comps))
	}
	if len(seg) < 1+2*ns+3 {
		return malformed("short scan header")
	}

	s.order = make([]int, 0, ns)
	for i := 0; i < ns; i++ {
		id, tables := seg[1+2*i], seg[2+2*i]
		ci := -1
		for j := range s.comps {
			if s.comps[j].id == id {
				ci = j
			}
		}
		if ci < 0 {
			return malformed("scan references unknown component %d", id)
		}

		c := &s.comps[ci]
		c.td, c.ta = tables>>4, tables&0x0F
		if c.td > 3 || c.ta > 3 || !s.dc[c.td].present || !s.ac[c.ta].present {
			return malformed("component %d has no huffman table", id)
		}
		if !s.quantSet[c.tq] {
			return malformed("component %d has no quantization table", id)
		}
		s.order = append(s.order, ci)
	}

	ss, se, a := seg[1+2*ns], seg[2+2*ns], seg[3+2*ns]
	if ss != 0 || se != 63 || a != 0 {
		return unsupported("spectral selection %d-%d", ss, se)
	}
	return nil
}

// jpegEvents decodes a baseline JPEG one MCU row at a time. Working memory
// is one MCU row per component plane plus one RGB band.
func (d *Decoder) jpegEvents(b []byte, yield func(Event, error) bool) {
	s, err := parseJPEG(b)
	if err != nil {
		yield(Event{}, classify(err))
		return
	}

	mcuW, mcuH := 8*s.hmax, 8*s.vmax
	mcusX := (s.width + mcuW - 1) / mcuW
	mcusY := (s.height + mcuH - 1) / mcuH

	working := jpegTableBytes + mcuH*s.width*3
	for i := range s.comps {
		c := &s.comps[i]
		c.stride = mcusX * c.h * 8
		working += c.stride * c.v * 8
	}

	header := Event{
		Kind:    EventHeader,
		Format:  FormatJPEG,
		Width:   s.width,
		Height:  s.height,
		Working: working,
	}
	if !yield(header, nil) {
		return
	}

	for i := range s.comps {
		c := &s.comps[i]
		c.plane = make([]byte, c.stride*c.v*8)
	}
	band := make([]byte, mcuH*s.width*3)

	br := &bitReader{data: b, pos: s.scanStart}
	var blk [64]int32
	mcus := 0

	for my := 0; my < mcusY; my++ {
		for mx := 0; mx < mcusX; mx++ {
			if s.restart > 0 && mcus > 0 && mcus%s.restart == 0 {
				if err := br.restart(); err != nil {
					yield(Event{}, classify(err))
					return
				}
				for i := range s.comps {
					s.comps[i].pred = 0
				}
			}

			for _, ci := range s.order {
				c := &s.comps[ci]
				for by := 0; by < c.v; by++ {
					for bx := 0; bx < c.h; bx++ {
						if err := s.decodeBlock(br, c, &blk); err != nil {
							yield(Event{}, classify(br.cause(err)))
							return
						}
						idct(&blk, c.plane[by*8*c.stride+(mx*c.h+bx)*8:], c.stride)
					}
				}
			}
			mcus++
		}

		if br.overrun() {
			yield(Event{}, classify(io.ErrUnexpectedEOF))
			return
		}

		y0 := my * mcuH
		rows := min(mcuH, s.height-y0)
		s.toRGB(band, rows)
		ev := Event{
			Kind:   EventBand,
			Format: FormatJPEG,
			Width:  s.width,
			Height: s.height,
			Y:      y0,
			Rows:   rows,
			DX:     1,
			Cols:   s.width,
			Pix:    band[:rows*s.width*3],
		}
		if !yield(ev, nil) {
			return
		}
	}
}

func (s *jpegStream) decodeBlock(br *bitReader, c *jpegComponent, blk *[64]int32) error {
	*blk = [64]int32{}
	q := &s.quant[c.tq]

	size, err := br.decode(&s.dc[c.td])
	if err != nil {
		return err
	}
	if size > 16 {
		return malformed("dc difference of %d bits", size)
	}
	c.pred += br.receive(int(size))
	blk[0] = c.pred * q[0]

	ac := &s.ac[c.ta]
	for k := 1; k < 64; {
		rs, err := br.decode(ac)
		if err != nil {
			return err
		}
		run, size := int(rs>>4), int(rs&0x0F)
		if size == 0 {
			if run != 15 {
				break
			}
			k += 16
			continue
		}
		k += run
		if k > 63 {
			return malformed("coefficient index %d", k)
		}
		blk[unzig[k]] = br.receive(size) * q[k]
		k++
	}
	return nil
}

// idct writes the inverse transform of blk as an 8x8 sample block at dst
func idct(blk *[64]int32, dst []byte, stride int) {
	var tmp [64]float32
	for v := 0; v < 8; v++ {
		row := blk[v*8 : v*8+8]
		for x := 0; x < 8; x++ {
			var sum float32
			for u := 0; u < 8; u++ {
				sum += idctCos[x][u] * float32(row[u])
			}
			tmp[v*8+x] = sum
		}
	}

	for y := 0; y < 8; y++ {
		out := dst[y*stride : y*stride+8]
		for x := 0; x < 8; x++ {
			var sum float32
			for v := 0; v < 8; v++ {
				sum += idctCos[y][v] * tmp[v*8+x]
			}
			out[x] = clampSample(sum + 128.5)
		}
	}
}

func clampSample(f float32) byte {
	switch {
	case f <= 0:
		return 0
	case f >= 255:
		return 255
	default:
		return byte(f)
	}
}

// toRGB converts the first rows of the MCU row planes to packed RGB.
// Chroma is upsampled by replication.
func (s *jpegStream) toRGB(dst []byte, rows int) {
	w := s.width
	if len(s.comps) == 1 {
		c := &s.comps[0]
		for r := 0; r < rows; r++ {
			line := c.plane[r*c.stride:]
			for x := 0; x < w; x++ {
				o := (r*w + x) * 3
				dst[o], dst[o+1], dst[o+2] = line[x], line[x], line[x]
			}
		}
		return
	}

	yc, cb, cr := &s.comps[0], &s.comps[1], &s.comps[2]
	for r := 0; r < rows; r++ {
		for x := 0; x < w; x++ {
			o := (r*w + x) * 3
			dst[o], dst[o+1], dst[o+2] = color.YCbCrToRGB(
				s.sample(yc, x, r), s.sample(cb, x, r), s.sample(cr, x, r))
		}
	}
}

func (s *jpegStream) sample(c *jpegComponent, x, y int) byte {
	return c.plane[(y*c.v/s.vmax)*c.stride+x*c.h/s.hmax]
}

type huffTable struct {
	present bool
	// lookup resolves codes of up to 8 bits: length<<8 | value, 0 when longer
	lookup  [256]uint16
	maxCode [17]int32
	valPtr  [17]int32
	vals    [256]byte
}

func (t *huffTable) build(counts [16]byte, vals []byte) error {
	*t = huffTable{present: true}
	copy(t.vals[:], vals)

	code, k := int32(0), int32(0)
	for l := 1; l <= 16; l++ {
		n := int32(counts[l-1])
		t.maxCode[l] = -1
		if n > 0 {
			t.valPtr[l] = k - code
			t.maxCode[l] = code + n - 1
		}
		for i := int32(0); i < n; i++ {
			if code >= 1<<l {
				return malformed("over-subscribed huffman table")
			}
			if l <= 8 {
				first := code << (8 - l)
				for j := int32(0); j < 1<<(8-l); j++ {
					t.lookup[first+j] = uint16(l)<<8 | uint16(vals[k])
				}
			}
			code++
			k++
		}
		code <<= 1
	}
	return nil
}

// bitReader reads the entropy coded segment, removing stuffed zero bytes.
// Past a marker or the end of input it supplies zero bits; padded counts the
// bytes supplied past the end of input.
type bitReader struct {
	data   []byte
	pos    int
	acc    uint32
	n      uint
	marker bool
	padded int
}

func (br *bitReader) fill() {
	for br.n <= 24 {
		var b byte
		switch {
		case br.marker:
		case br.pos >= len(br.data):
			br.padded++
		default:
			b = br.data[br.pos]
			br.pos++
			if b == 0xFF {
				switch {
				case br.pos >= len(br.data):
					b = 0
					br.padded++
				case br.data[br.pos] == 0x00:
					br.pos++
				default:
					br.pos--
					br.marker = true
					b = 0
				}
			}
		}
		br.acc |= uint32(b) << (24 - br.n)
		br.n += 8
	}
}

func (br *bitReader) consume(bits uint) {
	br.acc <<= bits
	br.n -= bits
}

// overrun reports whether bits past the end of input were consumed
func (br *bitReader) overrun() bool {
	return br.padded*8 > int(br.n)
}

// cause attributes a decode failure to truncation when input ran out
func (br *bitReader) cause(err error) error {
	if br.overrun() {
		return io.ErrUnexpectedEOF
	}
	return err
}

func (br *bitReader) decode(t *huffTable) (byte, error) {
	br.fill()
	if e := t.lookup[br.acc>>24]; e != 0 {
		br.consume(uint(e >> 8))
		return byte(e), nil
	}

	code := int32(0)
	for l := 1; l <= 16; l++ {
		code = code<<1 | int32(br.acc>>31)
		br.consume(1)
		if code <= t.maxCode[l] {
			return t.vals[t.valPtr[l]+code], nil
		}
	}
	return 0, malformed("invalid huffman code")
}

// receive reads an s-bit magnitude and sign-extends it
func (br *bitReader) receive(s int) int32 {
	if s == 0 {
		return 0
	}
	br.fill()
	v := int32(br.acc >> (32 - uint(s)))
	br.consume(uint(s))
	if v < 1<<(s-1) {
		v -= 1<<s - 1
	}
	return v
}

// restart drops buffered bits and skips past the next RSTn marker
func (br *bitReader) restart() error {
	br.acc, br.n, br.marker, br.padded = 0, 0, false, 0

	for br.pos+1 < len(br.data) {
		if br.data[br.pos] != 0xFF {
			br.pos++
			continue
		}
		m := br.data[br.pos+1]
		switch {
		case m >= 0xD0 && m <= 0xD7:
			br.pos += 2
			return nil
		case m == 0xFF:
			br.pos++
		case m == 0x00:
			br.pos += 2
		default:
			return malformed("missing restart marker")
		}
	}
	return io.ErrUnexpectedEOF
}
