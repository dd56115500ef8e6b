package scara_arm

import (
	"context"
	"sync"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"
)

// Homer drives the arm to its firmware home position.
type Homer interface {
	Home(ctx context.Context, p MotionProfile) error
}

// Picker runs pick-and-place sequences. *Macros implements it.
type Picker interface {
	PickAndPlace(ctx context.Context, pick, drop r3.Vector) error
	ReturnToHome(ctx context.Context) bool
}

// CleanupConfig tunes the autonomous cleanup loop.
type CleanupConfig struct {
	// MissThreshold is the number of consecutive empty detections that ends the loop.
	MissThreshold int
	MissWait      time.Duration
	FailureWait   time.Duration
	BatchPause    time.Duration
}

func DefaultCleanupConfig() CleanupConfig {
	return CleanupConfig{
		MissThreshold: 2,
		MissWait:      time.Second,
		FailureWait:   time.Second,
		BatchPause:    100 * time.Millisecond,
	}
}

// CleanupReport summarizes one cleanup run.
type CleanupReport struct {
	Iterations int `json:"iterations"`
	Picked     int `json:"picked"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
}

// Cleaner turns detections into pick-and-place runs.
type Cleaner struct {
	homer    Homer
	picker   Picker
	detector Detector
	drops    DropTable
	cfg      CleanupConfig
	logger   logging.Logger

	calibMu sync.RWMutex
	calib   Calibration
}

func NewCleaner(
	homer Homer,
	picker Picker,
	detector Detector,
	drops DropTable,
	calib Calibration,
	cfg CleanupConfig,
	logger logging.Logger,
) *Cleaner {
	if cfg.MissThreshold <= 0 {
		cfg.MissThreshold = DefaultCleanupConfig().MissThreshold
	}
	return &Cleaner{
		homer:    homer,
		picker:   picker,
		detector: detector,
		drops:    drops,
		calib:    calib,
		cfg:      cfg,
		logger:   logger,
	}
}

// Cleanup homes the arm, then repeatedly detects objects and puts each known one
// away until the camera comes back empty MissThreshold times in a row.
func (c *Cleaner) Cleanup(ctx context.Context) (CleanupReport, error) {
	var report CleanupReport

	c.logger.Info("homing arm before cleanup")
	if err := c.homer.Home(ctx, MotionProfile{}); err != nil {
		return report, errors.Wrap(err, "homing before cleanup")
	}

	misses := 0
	for misses < c.cfg.MissThreshold {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Iterations++

		dets, err := c.detector.Detect(ctx)
		if err != nil {
			misses++
			c.logger.Warnf("detection failed (%d/%d): %v", misses, c.cfg.MissThreshold, err)
			if !c.wait(ctx, c.cfg.MissWait) {
				return report, ctx.Err()
			}
			continue
		}

		if len(dets) == 0 {
			misses++
			c.logger.Infof("no objects detected (%d/%d)", misses, c.cfg.MissThreshold)
			if !c.wait(ctx, c.cfg.MissWait) {
				return report, ctx.Err()
			}
			continue
		}

		misses = 0
		c.logger.Infof("detected %d objects", len(dets))
		if !c.processBatch(ctx, dets, &report) {
			if !c.wait(ctx, c.cfg.FailureWait) {
				return report, ctx.Err()
			}
		}

		if !c.wait(ctx, c.cfg.BatchPause) {
			return report, ctx.Err()
		}
	}

	c.logger.Infow("cleanup finished", "picked", report.Picked, "failed", report.Failed, "skipped", report.Skipped)
	return report, nil
}

// processBatch handles detections in order. It returns false when a pick failed and
// the rest of the batch was abandoned.
func (c *Cleaner) processBatch(ctx context.Context, dets []Detection, report *CleanupReport) bool {
	for _, d := range dets {
		drop, err := c.drops.Lookup(d.Label)
		if err != nil {
			c.logger.Infof("skipping unknown object %q", d.Label)
			report.Skipped++
			continue
		}

		pick := c.Calibration().ToArm(d.PixelX, d.PixelY)
		c.logger.Infof("picking %s at (%.0f, %.0f)", d.Label, pick.X, pick.Y)
		if err := c.picker.PickAndPlace(ctx, pick, drop); err != nil {
			report.Failed++
			c.logger.Warnf("%s pick and place failed: %v", d.Label, err)
			c.picker.ReturnToHome(ctx)
			return false
		}
		report.Picked++
		c.logger.Infof("%s put away", d.Label)
	}
	return true
}

// PickObject detects once and puts away the first object carrying label. A missing
// object is reported as ErrMissingDetection without moving the arm.
func (c *Cleaner) PickObject(ctx context.Context, label string) error {
	drop, err := c.drops.Lookup(label)
	if err != nil {
		return err
	}

	dets, err := c.detector.Detect(ctx)
	if err != nil {
		return errors.Wrap(err, "detection failed")
	}

	d, ok := firstWithLabel(dets, label)
	if !ok {
		return errors.Wrapf(ErrMissingDetection, "%s (saw %d objects)", label, len(dets))
	}

	pick := c.Calibration().ToArm(d.PixelX, d.PixelY)
	c.logger.Infof("picking %s at (%.0f, %.0f)", label, pick.X, pick.Y)
	if err := c.picker.PickAndPlace(ctx, pick, drop); err != nil {
		c.picker.ReturnToHome(ctx)
		return err
	}
	return nil
}

// Calibration returns the pixel to arm mapping in use.
func (c *Cleaner) Calibration() Calibration {
	c.calibMu.RLock()
	defer c.calibMu.RUnlock()
	return c.calib
}

// SetCalibration replaces the pixel to arm mapping. Picks already underway keep
// the coordinates they started with.
func (c *Cleaner) SetCalibration(cal Calibration) {
	c.calibMu.Lock()
	c.calib = cal
	c.calibMu.Unlock()
}

func (c *Cleaner) wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	return utils.SelectContextOrWait(ctx, d)
}
