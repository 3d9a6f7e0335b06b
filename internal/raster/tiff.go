package raster

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// TIFF tag numbers read by the loader.
const (
	tagImageWidth                = 256
	tagImageLength               = 257
	tagBitsPerSample             = 258
	tagCompression               = 259
	tagPhotometricInterpretation = 262
	tagStripOffsets              = 273
	tagSamplesPerPixel           = 277
	tagRowsPerStrip              = 278
	tagStripByteCounts           = 279
	tagPlanarConfiguration       = 284
	tagPredictor                 = 317
	tagTileWidth                 = 322
	tagTileLength                = 323
	tagTileOffsets               = 324
	tagTileByteCounts            = 325
	tagExtraSamples              = 338
	tagSampleFormat              = 339

	tagModelPixelScale     = 33550
	tagModelTiepoint       = 33922
	tagModelTransformation = 34264
	tagGeoKeyDirectory     = 34735
	tagGeoDoubleParams     = 34736
	tagGeoASCIIParams      = 34737
	tagGDALNoData          = 42113
)

// TIFF field types.
const (
	dtByte      = 1
	dtASCII     = 2
	dtShort     = 3
	dtLong      = 4
	dtRational  = 5
	dtSByte     = 6
	dtUndefined = 7
	dtSShort    = 8
	dtSLong     = 9
	dtSRational = 10
	dtFloat     = 11
	dtDouble    = 12
	dtLong8     = 16
	dtSLong8    = 17
	dtIFD8      = 18
)

var typeSizes = map[uint16]int{
	dtByte: 1, dtASCII: 1, dtShort: 2, dtLong: 4, dtRational: 8,
	dtSByte: 1, dtUndefined: 1, dtSShort: 2, dtSLong: 4, dtSRational: 8,
	dtFloat: 4, dtDouble: 8, dtLong8: 8, dtSLong8: 8, dtIFD8: 8,
}

// maxTagBytes bounds a single tag payload so a corrupt count cannot
// trigger a huge allocation.
const maxTagBytes = 256 << 20

// ifdEntry is one raw directory entry with its payload already read.
type ifdEntry struct {
	tag      uint16
	datatype uint16
	count    uint64
	data     []byte
}

// ifd is the first image file directory of a TIFF or BigTIFF file.
type ifd struct {
	order   binary.ByteOrder
	bigTIFF bool
	entries map[uint16]ifdEntry
}

// readIFD parses the header and the first IFD of r.
func readIFD(r io.ReaderAt) (*ifd, error) {
	var header [16]byte
	if _, err := r.ReadAt(header[:8], 0); err != nil {
		return nil, fmt.Errorf("reading TIFF header: %w", err)
	}

	var order binary.ByteOrder
	switch string(header[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("not a TIFF file: bad byte order mark %q", header[:2])
	}

	d := &ifd{order: order, entries: make(map[uint16]ifdEntry)}

	var offset uint64
	switch magic := order.Uint16(header[2:4]); magic {
	case 42:
		offset = uint64(order.Uint32(header[4:8]))
	case 43:
		if _, err := r.ReadAt(header[8:16], 8); err != nil {
			return nil, fmt.Errorf("reading BigTIFF header: %w", err)
		}
		if order.Uint16(header[4:6]) != 8 {
			return nil, fmt.Errorf("unsupported BigTIFF offset size %d", order.Uint16(header[4:6]))
		}
		d.bigTIFF = true
		offset = order.Uint64(header[8:16])
	default:
		return nil, fmt.Errorf("not a TIFF file: bad magic %d", magic)
	}

	if err := d.readEntries(r, offset); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *ifd) readEntries(r io.ReaderAt, offset uint64) error {
	countSize, entrySize, inlineSize := 2, 12, 4
	if d.bigTIFF {
		countSize, entrySize, inlineSize = 8, 20, 8
	}

	buf := make([]byte, countSize)
	if _, err := r.ReadAt(buf, int64(offset)); err != nil {
		return fmt.Errorf("reading IFD entry count: %w", err)
	}
	var n uint64
	if d.bigTIFF {
		n = d.order.Uint64(buf)
	} else {
		n = uint64(d.order.Uint16(buf))
	}
	if n == 0 || n > 4096 {
		return fmt.Errorf("implausible IFD entry count %d", n)
	}

	raw := make([]byte, int(n)*entrySize)
	if _, err := r.ReadAt(raw, int64(offset)+int64(countSize)); err != nil {
		return fmt.Errorf("reading IFD entries: %w", err)
	}

	for i := range int(n) {
		e := raw[i*entrySize : (i+1)*entrySize]
		entry := ifdEntry{
			tag:      d.order.Uint16(e[0:2]),
			datatype: d.order.Uint16(e[2:4]),
		}
		var valueField []byte
		if d.bigTIFF {
			entry.count = d.order.Uint64(e[4:12])
			valueField = e[12:20]
		} else {
			entry.count = uint64(d.order.Uint32(e[4:8]))
			valueField = e[8:12]
		}

		size, ok := typeSizes[entry.datatype]
		if !ok {
			// unknown types are skipped, as libtiff does
			continue
		}
		total := entry.count * uint64(size)
		if total > maxTagBytes {
			return fmt.Errorf("tag %d payload too large (%d bytes)", entry.tag, total)
		}

		if total <= uint64(inlineSize) {
			entry.data = append([]byte(nil), valueField[:total]...)
		} else {
			var valueOffset uint64
			if d.bigTIFF {
				valueOffset = d.order.Uint64(valueField)
			} else {
				valueOffset = uint64(d.order.Uint32(valueField))
			}
			entry.data = make([]byte, total)
			if _, err := r.ReadAt(entry.data, int64(valueOffset)); err != nil {
				return fmt.Errorf("reading tag %d payload: %w", entry.tag, err)
			}
		}
		d.entries[entry.tag] = entry
	}

	return nil
}

func (d *ifd) has(tag uint16) bool {
	_, ok := d.entries[tag]
	return ok
}

// uints returns an integer-typed tag as uint64 values.
func (d *ifd) uints(tag uint16) ([]uint64, error) {
	e, ok := d.entries[tag]
	if !ok {
		return nil, nil
	}

	out := make([]uint64, e.count)
	for i := range out {
		switch e.datatype {
		case dtByte, dtUndefined:
			out[i] = uint64(e.data[i])
		case dtShort:
			out[i] = uint64(d.order.Uint16(e.data[2*i:]))
		case dtLong:
			out[i] = uint64(d.order.Uint32(e.data[4*i:]))
		case dtLong8, dtIFD8:
			out[i] = d.order.Uint64(e.data[8*i:])
		default:
			return nil, fmt.Errorf("tag %d has non-integer type %d", tag, e.datatype)
		}
	}
	return out, nil
}

// uint returns the first value of an integer tag, or def when absent.
func (d *ifd) uint(tag uint16, def uint64) (uint64, error) {
	vals, err := d.uints(tag)
	if err != nil {
		return 0, err
	}
	if len(vals) == 0 {
		return def, nil
	}
	return vals[0], nil
}

// floats returns a floating point or integer tag as float64 values.
func (d *ifd) floats(tag uint16) ([]float64, error) {
	e, ok := d.entries[tag]
	if !ok {
		return nil, nil
	}

	switch e.datatype {
	case dtDouble:
		out := make([]float64, e.count)
		for i := range out {
			out[i] = math.Float64frombits(d.order.Uint64(e.data[8*i:]))
		}
		return out, nil
	case dtFloat:
		out := make([]float64, e.count)
		for i := range out {
			out[i] = float64(math.Float32frombits(d.order.Uint32(e.data[4*i:])))
		}
		return out, nil
	default:
		ints, err := d.uints(tag)
		if err != nil {
			return nil, err
		}
		out := make([]float64, len(ints))
		for i, v := range ints {
			out[i] = float64(v)
		}
		return out, nil
	}
}

// ascii returns an ASCII tag without its trailing NUL.
func (d *ifd) ascii(tag uint16) string {
	e, ok := d.entries[tag]
	if !ok || e.datatype != dtASCII {
		return ""
	}
	s := e.data
	for len(s) > 0 && s[len(s)-1] == 0 {
		s = s[:len(s)-1]
	}
	return string(s)
}
