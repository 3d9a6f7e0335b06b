package raster

import (
	"fmt"
	"strings"
)

// GeoKey ids used to identify the coordinate reference system.
const (
	keyGTModelType          = 1024
	keyGTRasterType         = 1025
	keyGTCitation           = 1026
	keyGeographicType       = 2048
	keyGeogCitation         = 2049
	keyProjectedCSType      = 3072
	keyPCSCitation          = 3073
	keyUserDefined          = 32767
	modelTypeProjected      = 1
	modelTypeGeographic     = 2
	rasterPixelIsPoint      = 2
	geoKeyDirectoryMinWords = 4
)

// CRS identifies the coordinate reference system of a raster.
type CRS struct {
	EPSG       int    // 0 when the CRS is user-defined
	Citation   string // free-text name from the citation keys, may be empty
	Geographic bool   // true for lat/lon systems
}

// IsZero reports whether no CRS information is present.
func (c CRS) IsZero() bool {
	return c.EPSG == 0 && c.Citation == ""
}

// String renders the CRS as "EPSG:<code>" when known.
func (c CRS) String() string {
	switch {
	case c.EPSG > 0:
		return fmt.Sprintf("EPSG:%d", c.EPSG)
	case c.Citation != "":
		return c.Citation
	default:
		return "unknown"
	}
}

// geoKeys holds the parsed GeoKeyDirectory.
type geoKeys struct {
	shorts map[uint16]uint16
	ascii  map[uint16]string
}

func parseGeoKeys(d *ifd) (*geoKeys, error) {
	if !d.has(tagGeoKeyDirectory) {
		return nil, nil
	}

	dir, err := d.uints(tagGeoKeyDirectory)
	if err != nil {
		return nil, err
	}
	if len(dir) < geoKeyDirectoryMinWords {
		return nil, fmt.Errorf("GeoKeyDirectory too short (%d values)", len(dir))
	}

	numKeys := int(dir[3])
	if len(dir) < geoKeyDirectoryMinWords*(numKeys+1) {
		return nil, fmt.Errorf("GeoKeyDirectory declares %d keys but holds %d values", numKeys, len(dir))
	}

	asciiParams := d.ascii(tagGeoASCIIParams)
	keys := &geoKeys{
		shorts: make(map[uint16]uint16),
		ascii:  make(map[uint16]string),
	}

	for i := 1; i <= numKeys; i++ {
		entry := dir[i*4 : i*4+4]
		keyID, location, count, value := uint16(entry[0]), entry[1], int(entry[2]), int(entry[3])

		switch location {
		case 0:
			keys.shorts[keyID] = uint16(value)
		case tagGeoASCIIParams:
			if value+count <= len(asciiParams) {
				s := asciiParams[value : value+count]
				keys.ascii[keyID] = strings.TrimRight(s, "|\x00 ")
			}
		}
		// double-valued keys (34736) carry projection parameters, not needed here
	}

	return keys, nil
}

// crs derives the CRS from the parsed keys.
func (k *geoKeys) crs() CRS {
	if k == nil {
		return CRS{}
	}

	var c CRS
	c.Geographic = k.shorts[keyGTModelType] == modelTypeGeographic

	if code, ok := k.shorts[keyProjectedCSType]; ok && code != keyUserDefined && code != 0 {
		c.EPSG = int(code)
	} else if code, ok := k.shorts[keyGeographicType]; ok && code != keyUserDefined && code != 0 && k.shorts[keyGTModelType] != modelTypeProjected {
		c.EPSG = int(code)
		c.Geographic = true
	}

	for _, key := range []uint16{keyPCSCitation, keyGTCitation, keyGeogCitation} {
		if s := k.ascii[key]; s != "" {
			c.Citation = s
			break
		}
	}

	return c
}

func (k *geoKeys) pixelIsPoint() bool {
	return k != nil && k.shorts[keyGTRasterType] == rasterPixelIsPoint
}

// geoTransform computes the GDAL-ordered affine transform from the model
// tags. The second return value is false when the raster carries none.
func geoTransform(d *ifd, keys *geoKeys) ([6]float64, bool, error) {
	var gt [6]float64

	if d.has(tagModelTransformation) {
		m, err := d.floats(tagModelTransformation)
		if err != nil {
			return gt, false, err
		}
		if len(m) < 16 {
			return gt, false, fmt.Errorf("ModelTransformation has %d values, want 16", len(m))
		}
		gt = [6]float64{m[3], m[0], m[1], m[7], m[4], m[5]}
	} else {
		tie, err := d.floats(tagModelTiepoint)
		if err != nil {
			return gt, false, err
		}
		scale, err := d.floats(tagModelPixelScale)
		if err != nil {
			return gt, false, err
		}
		if len(tie) < 6 || len(scale) < 2 {
			return gt, false, nil
		}
		// first tiepoint anchors raster (I,J) to model (X,Y)
		gt = [6]float64{
			tie[3] - tie[0]*scale[0], scale[0], 0,
			tie[4] + tie[1]*scale[1], 0, -scale[1],
		}
	}

	if keys.pixelIsPoint() {
		gt[0] -= 0.5*gt[1] + 0.5*gt[2]
		gt[3] -= 0.5*gt[4] + 0.5*gt[5]
	}

	return gt, true, nil
}
