// Package rastertest writes small synthetic GeoTIFFs for tests.
package rastertest

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

// Options describes the raster to write. Zero values give a 3-band,
// 8-bit, single-strip RGB image in EPSG:32610 with 1 m pixels.
type Options struct {
	Width, Height int
	Bands         int                       // default 3
	Fill          func(x, y, band int) uint8 // default: a gradient
	EPSG          int                       // default 32610; -1 writes no GeoKeyDirectory
	Origin        [2]float64                // upper-left corner in CRS units
	PixelSize     float64                   // default 1
	NoTransform   bool                      // omit tiepoint and pixel scale
	Alpha         bool                      // declare the 4th band as unassociated alpha
	Planar        bool                      // band-separate storage
	BigEndian     bool
	RowsPerStrip  int    // default Height
	Deflate       bool   // zlib-compress strips
	NoData        string // GDAL_NODATA value, empty omits the tag
}

const (
	typeShort  = 3
	typeLong   = 4
	typeDouble = 12
	typeASCII  = 2
)

type entry struct {
	tag     uint16
	typ     uint16
	count   uint32
	payload []byte
}

// Write encodes a GeoTIFF to path, creating parent directories.
func Write(path string, opts Options) error {
	data, err := Encode(opts)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// MustWrite writes a GeoTIFF named name into a fresh temp dir and returns
// its path, failing the test on error.
func MustWrite(tb testing.TB, name string, opts Options) string {
	tb.Helper()
	path := filepath.Join(tb.TempDir(), name)
	if err := Write(path, opts); err != nil {
		tb.Fatalf("writing test GeoTIFF: %v", err)
	}
	return path
}

// Encode returns the GeoTIFF bytes for opts.
func Encode(opts Options) ([]byte, error) {
	opts = withDefaults(opts)
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("invalid size %dx%d", opts.Width, opts.Height)
	}

	var order binary.ByteOrder = binary.LittleEndian
	header := []byte{'I', 'I', 42, 0, 0, 0, 0, 0}
	if opts.BigEndian {
		order = binary.BigEndian
		header = []byte{'M', 'M', 0, 42, 0, 0, 0, 0}
	}

	strips, err := encodeStrips(opts)
	if err != nil {
		return nil, err
	}

	buf := bytes.NewBuffer(header)
	offsets := make([]uint32, len(strips))
	counts := make([]uint32, len(strips))
	for i, s := range strips {
		offsets[i] = uint32(buf.Len())
		counts[i] = uint32(len(s))
		buf.Write(s)
	}
	if buf.Len()%2 == 1 {
		buf.WriteByte(0)
	}

	entries := buildEntries(opts, order, offsets, counts)
	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

	ifdOffset := uint32(buf.Len())
	order.PutUint32(buf.Bytes()[4:8], ifdOffset)

	ifdSize := 2 + 12*len(entries) + 4
	extraOffset := ifdOffset + uint32(ifdSize)
	var extra bytes.Buffer

	ifd := make([]byte, ifdSize)
	order.PutUint16(ifd[0:2], uint16(len(entries)))
	for i, e := range entries {
		p := ifd[2+12*i:]
		order.PutUint16(p[0:2], e.tag)
		order.PutUint16(p[2:4], e.typ)
		order.PutUint32(p[4:8], e.count)
		if len(e.payload) <= 4 {
			copy(p[8:12], e.payload)
			continue
		}
		order.PutUint32(p[8:12], extraOffset+uint32(extra.Len()))
		extra.Write(e.payload)
		if extra.Len()%2 == 1 {
			extra.WriteByte(0)
		}
	}

	buf.Write(ifd)
	buf.Write(extra.Bytes())
	return buf.Bytes(), nil
}

func withDefaults(opts Options) Options {
	if opts.Bands == 0 {
		opts.Bands = 3
	}
	if opts.Fill == nil {
		opts.Fill = func(x, y, band int) uint8 { return uint8((x + 2*y + 64*band) % 256) }
	}
	if opts.EPSG == 0 {
		opts.EPSG = 32610
	}
	if opts.PixelSize == 0 {
		opts.PixelSize = 1
	}
	if opts.RowsPerStrip <= 0 || opts.RowsPerStrip > opts.Height {
		opts.RowsPerStrip = opts.Height
	}
	return opts
}

func encodeStrips(opts Options) ([][]byte, error) {
	stripsDown := (opts.Height + opts.RowsPerStrip - 1) / opts.RowsPerStrip
	planes, samples := 1, opts.Bands
	if opts.Planar {
		planes, samples = opts.Bands, 1
	}

	var strips [][]byte
	for plane := range planes {
		for s := range stripsDown {
			y0 := s * opts.RowsPerStrip
			rows := min(opts.RowsPerStrip, opts.Height-y0)
			raw := make([]byte, 0, rows*opts.Width*samples)
			for y := y0; y < y0+rows; y++ {
				for x := range opts.Width {
					if opts.Planar {
						raw = append(raw, opts.Fill(x, y, plane))
						continue
					}
					for b := range opts.Bands {
						raw = append(raw, opts.Fill(x, y, b))
					}
				}
			}

			if opts.Deflate {
				var z bytes.Buffer
				w := zlib.NewWriter(&z)
				if _, err := w.Write(raw); err != nil {
					return nil, err
				}
				if err := w.Close(); err != nil {
					return nil, err
				}
				raw = z.Bytes()
			}
			strips = append(strips, raw)
		}
	}
	return strips, nil
}

func buildEntries(opts Options, order binary.ByteOrder, offsets, counts []uint32) []entry {
	bits := make([]uint16, opts.Bands)
	for i := range bits {
		bits[i] = 8
	}

	photometric := uint16(1)
	if opts.Bands >= 3 {
		photometric = 2
	}
	compression := uint16(1)
	if opts.Deflate {
		compression = 8
	}
	planar := uint16(1)
	if opts.Planar {
		planar = 2
	}

	entries := []entry{
		shorts(order, 256, uint16(opts.Width)),
		shorts(order, 257, uint16(opts.Height)),
		shorts(order, 258, bits...),
		shorts(order, 259, compression),
		shorts(order, 262, photometric),
		longs(order, 273, offsets...),
		shorts(order, 277, uint16(opts.Bands)),
		shorts(order, 278, uint16(opts.RowsPerStrip)),
		longs(order, 279, counts...),
		shorts(order, 284, planar),
	}

	if opts.Bands > 3 {
		extra := make([]uint16, opts.Bands-3)
		if opts.Alpha {
			extra[0] = 2
		}
		entries = append(entries, shorts(order, 338, extra...))
	}

	if !opts.NoTransform {
		entries = append(entries,
			doubles(order, 33550, opts.PixelSize, opts.PixelSize, 0),
			doubles(order, 33922, 0, 0, 0, opts.Origin[0], opts.Origin[1], 0))
	}

	if opts.EPSG > 0 {
		geographic := opts.EPSG == 4326 || opts.EPSG == 4269
		modelType, crsKey := uint16(1), uint16(3072)
		if geographic {
			modelType, crsKey = 2, 2048
		}
		entries = append(entries, shorts(order, 34735,
			1, 1, 0, 3,
			1024, 0, 1, modelType,
			1025, 0, 1, 1,
			crsKey, 0, 1, uint16(opts.EPSG)))
	}

	if opts.NoData != "" {
		entries = append(entries, ascii(42113, opts.NoData))
	}

	return entries
}

func shorts(order binary.ByteOrder, tag uint16, vals ...uint16) entry {
	p := make([]byte, 2*len(vals))
	for i, v := range vals {
		order.PutUint16(p[2*i:], v)
	}
	return entry{tag: tag, typ: typeShort, count: uint32(len(vals)), payload: p}
}

func longs(order binary.ByteOrder, tag uint16, vals ...uint32) entry {
	p := make([]byte, 4*len(vals))
	for i, v := range vals {
		order.PutUint32(p[4*i:], v)
	}
	return entry{tag: tag, typ: typeLong, count: uint32(len(vals)), payload: p}
}

func doubles(order binary.ByteOrder, tag uint16, vals ...float64) entry {
	p := make([]byte, 8*len(vals))
	for i, v := range vals {
		order.PutUint64(p[8*i:], math.Float64bits(v))
	}
	return entry{tag: tag, typ: typeDouble, count: uint32(len(vals)), payload: p}
}

func ascii(tag uint16, s string) entry {
	p := append([]byte(s), 0)
	return entry{tag: tag, typ: typeASCII, count: uint32(len(p)), payload: p}
}
