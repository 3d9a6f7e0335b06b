package analysis

import "github.com/ofo-tools/treecrown/internal/detection"

// Detection is one predicted crown in full-image pixel coordinates.
type Detection = detection.Detection

// DetectionTable is the ordered result of PredictTile.
type DetectionTable = detection.Table
