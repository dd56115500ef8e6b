// calibration.go - camera pixel to arm plane calibration
package scara_arm

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/logging"
)

// DefaultCalibrationFile is where a fitted calibration is saved when no
// calibration_file is configured.
const DefaultCalibrationFile = "camera_calibration.json"

// Calibration is the affine map from camera pixels to arm millimeters:
//
//	x = ScaleX*px + OffsetX
//	y = ScaleY*py + OffsetY
type Calibration struct {
	ScaleX  float64 `json:"scale_x"`
	OffsetX float64 `json:"offset_x"`
	ScaleY  float64 `json:"scale_y"`
	OffsetY float64 `json:"offset_y"`

	// Truncate drops the fraction instead of rounding to the nearest millimeter,
	// as the first cell's scripts did.
	Truncate bool `json:"truncate,omitempty"`
}

// DefaultCalibration matches the fixed overhead camera mount.
var DefaultCalibration = Calibration{
	ScaleX:  0.357,
	OffsetX: -104,
	ScaleY:  -0.357,
	OffsetY: 374,
}

// ToArm converts a pixel position to whole arm millimeters, rounding to nearest
// unless Truncate is set. (500, 300) maps to (75, 267) rounded and (74, 266) truncated.
func (c Calibration) ToArm(px, py float64) r3.Vector {
	whole := math.Round
	if c.Truncate {
		whole = math.Trunc
	}
	return r3.Vector{
		X: whole(c.ScaleX*px + c.OffsetX),
		Y: whole(c.ScaleY*py + c.OffsetY),
	}
}

func (c Calibration) Validate() error {
	for name, v := range map[string]float64{
		"scale_x":  c.ScaleX,
		"scale_y":  c.ScaleY,
		"offset_x": c.OffsetX,
		"offset_y": c.OffsetY,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%s must be finite", name)
		}
	}
	if c.ScaleX == 0 || c.ScaleY == 0 {
		return fmt.Errorf("scale must be non-zero")
	}
	return nil
}

// CalibrationPoint pairs a pixel with the arm position the gripper was jogged to.
type CalibrationPoint struct {
	PixelX float64 `json:"pixel_x"`
	PixelY float64 `json:"pixel_y"`
	ArmX   float64 `json:"arm_x"`
	ArmY   float64 `json:"arm_y"`
}

// FitCalibration computes a least squares calibration from at least two points
// with distinct pixel coordinates on each axis.
func FitCalibration(points []CalibrationPoint) (Calibration, error) {
	if len(points) < 2 {
		return Calibration{}, fmt.Errorf("need at least 2 points, got %d", len(points))
	}

	px := make([]float64, len(points))
	py := make([]float64, len(points))
	ax := make([]float64, len(points))
	ay := make([]float64, len(points))
	for i, p := range points {
		px[i], py[i], ax[i], ay[i] = p.PixelX, p.PixelY, p.ArmX, p.ArmY
	}

	sx, ox, err := fitLine(px, ax)
	if err != nil {
		return Calibration{}, fmt.Errorf("x axis: %w", err)
	}
	sy, oy, err := fitLine(py, ay)
	if err != nil {
		return Calibration{}, fmt.Errorf("y axis: %w", err)
	}

	cal := Calibration{ScaleX: sx, OffsetX: ox, ScaleY: sy, OffsetY: oy}
	return cal, cal.Validate()
}

func fitLine(in, out []float64) (slope, intercept float64, err error) {
	n := float64(len(in))
	var sumIn, sumOut, sumInIn, sumInOut float64
	for i := range in {
		sumIn += in[i]
		sumOut += out[i]
		sumInIn += in[i] * in[i]
		sumInOut += in[i] * out[i]
	}
	den := n*sumInIn - sumIn*sumIn
	if math.Abs(den) < 1e-9 {
		return 0, 0, fmt.Errorf("pixel coordinates must differ")
	}
	slope = (n*sumInOut - sumIn*sumOut) / den
	intercept = (sumOut - slope*sumIn) / n
	return slope, intercept, nil
}

// LoadCalibrationFromFile reads and validates a calibration JSON file.
func LoadCalibrationFromFile(filePath string) (Calibration, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return Calibration{}, fmt.Errorf("failed to read calibration file: %w", err)
	}

	var cal Calibration
	if err := json.Unmarshal(data, &cal); err != nil {
		return Calibration{}, fmt.Errorf("failed to parse calibration JSON: %w", err)
	}

	if err := cal.Validate(); err != nil {
		return Calibration{}, fmt.Errorf("calibration validation failed: %w", err)
	}
	return cal, nil
}

// SaveCalibrationToFile writes the calibration as indented JSON.
func SaveCalibrationToFile(filePath string, cal Calibration) error {
	data, err := json.MarshalIndent(cal, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal calibration: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write calibration file: %w", err)
	}
	return nil
}

// resolveDataPath makes relative paths relative to VIAM_MODULE_DATA.
func resolveDataPath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	moduleDataDir := os.Getenv("VIAM_MODULE_DATA")
	if moduleDataDir == "" {
		moduleDataDir = "/tmp"
	}
	return filepath.Join(moduleDataDir, p)
}

// CalibrationPath is the resolved location of the calibration file.
func (cfg *Config) CalibrationPath() string {
	if cfg.CalibrationFile == "" {
		return resolveDataPath(DefaultCalibrationFile)
	}
	return resolveDataPath(cfg.CalibrationFile)
}

// LoadCalibration loads the calibration file at CalibrationPath, which is where
// calibrate saves, or falls back to the default.
// Returns (calibration, fromFile) where fromFile indicates if it was loaded from file.
func (cfg *Config) LoadCalibration(logger logging.Logger) (Calibration, bool) {
	path := cfg.CalibrationPath()
	cal, err := LoadCalibrationFromFile(path)
	if err != nil && cfg.CalibrationFile == "" && errors.Is(err, fs.ErrNotExist) {
		if logger != nil {
			logger.Debug("No calibration file found, using default calibration")
		}
		return DefaultCalibration, false
	}
	if err != nil {
		if logger != nil {
			logger.Warnf("Failed to load calibration from %s: %v, using default calibration", path, err)
		}
		return DefaultCalibration, false
	}

	if logger != nil {
		logger.Infof("Successfully loaded calibration from %s", path)
	}
	return cal, true
}
