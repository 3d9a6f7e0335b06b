package raster

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/image/tiff"
	"golang.org/x/image/tiff/lzw"
)

// TIFF compression and layout values understood by the native reader.
const (
	compressionNone       = 1
	compressionLZW        = 5
	compressionDeflate    = 8
	compressionDeflateOld = 32946

	photometricRGB = 2

	planarChunky   = 1
	planarSeparate = 2

	predictorNone       = 1
	predictorHorizontal = 2

	sampleFormatUint = 1
)

// layout describes how pixel samples are stored in the file.
type layout struct {
	width, height  int
	samples        int
	bitsPerSample  int
	compression    uint64
	photometric    uint64
	planar         uint64
	predictor      uint64
	extraSamples   uint64
	tiled          bool
	blockWidth     int
	blockHeight    int
	offsets        []uint64
	byteCounts     []uint64
	blocksAcross   int
	blocksDown     int
	blocksPerPlane int
}

func readLayout(d *ifd) (*layout, error) {
	l := &layout{}

	width, err := d.uint(tagImageWidth, 0)
	if err != nil {
		return nil, err
	}
	height, err := d.uint(tagImageLength, 0)
	if err != nil {
		return nil, err
	}
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("missing or zero image dimensions")
	}
	l.width, l.height = int(width), int(height)

	spp, err := d.uint(tagSamplesPerPixel, 1)
	if err != nil {
		return nil, err
	}
	l.samples = int(spp)

	bits, err := d.uints(tagBitsPerSample)
	if err != nil {
		return nil, err
	}
	l.bitsPerSample = 1
	if len(bits) > 0 {
		l.bitsPerSample = int(bits[0])
		for _, b := range bits {
			if int(b) != l.bitsPerSample {
				return nil, fmt.Errorf("mixed bits per sample %v", bits)
			}
		}
	}

	if l.compression, err = d.uint(tagCompression, compressionNone); err != nil {
		return nil, err
	}
	if l.photometric, err = d.uint(tagPhotometricInterpretation, 1); err != nil {
		return nil, err
	}
	if l.planar, err = d.uint(tagPlanarConfiguration, planarChunky); err != nil {
		return nil, err
	}
	if l.predictor, err = d.uint(tagPredictor, predictorNone); err != nil {
		return nil, err
	}
	if l.extraSamples, err = d.uint(tagExtraSamples, 0); err != nil {
		return nil, err
	}
	sampleFormat, err := d.uint(tagSampleFormat, sampleFormatUint)
	if err != nil {
		return nil, err
	}
	if sampleFormat != sampleFormatUint {
		return nil, fmt.Errorf("unsupported sample format %d (only unsigned integers)", sampleFormat)
	}

	if d.has(tagTileOffsets) {
		l.tiled = true
		tw, err := d.uint(tagTileWidth, 0)
		if err != nil {
			return nil, err
		}
		th, err := d.uint(tagTileLength, 0)
		if err != nil {
			return nil, err
		}
		if tw == 0 || th == 0 {
			return nil, fmt.Errorf("tiled TIFF without tile size")
		}
		l.blockWidth, l.blockHeight = int(tw), int(th)
		if l.offsets, err = d.uints(tagTileOffsets); err != nil {
			return nil, err
		}
		if l.byteCounts, err = d.uints(tagTileByteCounts); err != nil {
			return nil, err
		}
	} else {
		rows, err := d.uint(tagRowsPerStrip, height)
		if err != nil {
			return nil, err
		}
		if rows == 0 || rows > height {
			rows = height
		}
		l.blockWidth, l.blockHeight = l.width, int(rows)
		if l.offsets, err = d.uints(tagStripOffsets); err != nil {
			return nil, err
		}
		if l.byteCounts, err = d.uints(tagStripByteCounts); err != nil {
			return nil, err
		}
	}

	l.blocksAcross = (l.width + l.blockWidth - 1) / l.blockWidth
	l.blocksDown = (l.height + l.blockHeight - 1) / l.blockHeight
	l.blocksPerPlane = l.blocksAcross * l.blocksDown

	planes := 1
	if l.planar == planarSeparate {
		planes = l.samples
	}
	if len(l.offsets) < l.blocksPerPlane*planes || len(l.byteCounts) < len(l.offsets) {
		return nil, fmt.Errorf("expected %d data blocks, found %d offsets and %d byte counts",
			l.blocksPerPlane*planes, len(l.offsets), len(l.byteCounts))
	}

	return l, nil
}

// stdlibSupported reports whether golang.org/x/image/tiff can decode the
// layout directly: chunky RGB with 3 samples, or 4 with a declared alpha.
func (l *layout) stdlibSupported(bigTIFF bool) bool {
	if bigTIFF || l.planar != planarChunky || l.photometric != photometricRGB {
		return false
	}
	if l.bitsPerSample != 8 && l.bitsPerSample != 16 {
		return false
	}
	switch l.samples {
	case 3:
		return true
	case 4:
		return l.extraSamples == 1 || l.extraSamples == 2
	default:
		return false
	}
}

// decodeStd decodes the whole raster with golang.org/x/image/tiff.
func decodeStd(r io.ReaderAt, size int64) (*Image, error) {
	img, err := tiff.Decode(io.NewSectionReader(r, 0, size))
	if err != nil {
		return nil, err
	}
	return FromImage(img), nil
}

// decodeNative reads the first three bands of an 8- or 16-bit unsigned
// raster with any sample count, chunky or planar, striped or tiled.
func decodeNative(r io.ReaderAt, l *layout, order binary.ByteOrder) (*Image, error) {
	if l.bitsPerSample != 8 && l.bitsPerSample != 16 {
		return nil, fmt.Errorf("unsupported bits per sample %d", l.bitsPerSample)
	}
	switch l.compression {
	case compressionNone, compressionLZW, compressionDeflate, compressionDeflateOld:
	default:
		return nil, fmt.Errorf("unsupported compression %d", l.compression)
	}
	if l.predictor != predictorNone && l.predictor != predictorHorizontal {
		return nil, fmt.Errorf("unsupported predictor %d", l.predictor)
	}

	out := NewImage(l.width, l.height)
	bytesPerSample := l.bitsPerSample / 8

	planes := 1
	samplesInBlock := l.samples
	if l.planar == planarSeparate {
		planes = Channels
		samplesInBlock = 1
	}
	rowBytes := l.blockWidth * samplesInBlock * bytesPerSample

	for plane := range planes {
		for by := range l.blocksDown {
			for bx := range l.blocksAcross {
				idx := plane*l.blocksPerPlane + by*l.blocksAcross + bx
				block, err := readBlock(r, l, idx)
				if err != nil {
					return nil, fmt.Errorf("block %d: %w", idx, err)
				}

				rows := l.blockHeight
				if !l.tiled && by == l.blocksDown-1 {
					// the last strip holds only the remaining rows
					rows = l.height - by*l.blockHeight
				}
				if len(block) < rows*rowBytes {
					return nil, fmt.Errorf("block %d: short data (%d < %d bytes)", idx, len(block), rows*rowBytes)
				}

				if l.predictor == predictorHorizontal {
					undoHorizontalPredictor(block, rows, rowBytes, samplesInBlock, bytesPerSample, order)
				}

				copyBlock(out, l, block, bx, by, rows, rowBytes, plane, samplesInBlock, bytesPerSample, order)
			}
		}
	}

	return out, nil
}

func readBlock(r io.ReaderAt, l *layout, idx int) ([]byte, error) {
	raw := make([]byte, l.byteCounts[idx])
	if _, err := r.ReadAt(raw, int64(l.offsets[idx])); err != nil {
		return nil, err
	}

	switch l.compression {
	case compressionLZW:
		rc := lzw.NewReader(bytes.NewReader(raw), lzw.MSB, 8)
		defer rc.Close()
		return io.ReadAll(rc)
	case compressionDeflate, compressionDeflateOld:
		rc, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	default:
		return raw, nil
	}
}

func undoHorizontalPredictor(block []byte, rows, rowBytes, samples, bytesPerSample int, order binary.ByteOrder) {
	step := samples * bytesPerSample
	for row := range rows {
		line := block[row*rowBytes : (row+1)*rowBytes]
		if bytesPerSample == 1 {
			for i := step; i < len(line); i++ {
				line[i] += line[i-step]
			}
			continue
		}
		for i := step; i+1 < len(line); i += 2 {
			v := order.Uint16(line[i:]) + order.Uint16(line[i-step:])
			order.PutUint16(line[i:], v)
		}
	}
}

func copyBlock(out *Image, l *layout, block []byte, bx, by, rows, rowBytes, plane, samples, bytesPerSample int, order binary.ByteOrder) {
	x0, y0 := bx*l.blockWidth, by*l.blockHeight
	cols := min(l.blockWidth, l.width-x0)
	rows = min(rows, l.height-y0)

	channels := Channels
	if l.planar == planarSeparate {
		channels = 1
	}

	for row := range rows {
		line := block[row*rowBytes:]
		dst := ((y0+row)*out.Width + x0) * Channels
		for col := range cols {
			for c := range channels {
				src := (col*samples + c) * bytesPerSample
				var v uint8
				if bytesPerSample == 1 {
					v = line[src]
				} else {
					v = uint8(order.Uint16(line[src:]) >> 8)
				}
				out.Pix[dst+col*Channels+plane+c] = v
			}
		}
	}
}
