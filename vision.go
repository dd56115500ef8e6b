package scara_arm

import (
	"context"
	"image"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/services/vision"
)

const DefaultMinConfidence = 0.6

var ErrNoVision = errors.New("no vision service configured")

// NoVision is the Detector used when no camera is configured. Every detection
// attempt fails, so cleanup ends after its miss threshold.
var NoVision = DetectorFunc(func(context.Context) ([]Detection, error) {
	return nil, ErrNoVision
})

// boxedDetection is the part of an object detection the arm needs.
type boxedDetection interface {
	BoundingBox() *image.Rectangle
	Score() float64
	Label() string
}

// VisionDetector asks a vision service for the objects in front of a camera.
type VisionDetector struct {
	service       vision.Service
	camera        string
	minConfidence float64
	logger        logging.Logger
}

func NewVisionDetector(service vision.Service, camera string, minConfidence float64, logger logging.Logger) *VisionDetector {
	if minConfidence <= 0 {
		minConfidence = DefaultMinConfidence
	}
	return &VisionDetector{
		service:       service,
		camera:        camera,
		minConfidence: minConfidence,
		logger:        logger,
	}
}

// Detect returns the confident detections in the order the service reported them.
func (v *VisionDetector) Detect(ctx context.Context) ([]Detection, error) {
	dets, err := v.service.DetectionsFromCamera(ctx, v.camera, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "detections from camera %s", v.camera)
	}
	out := convertDetections(dets, v.minConfidence)
	v.logger.Debugw("detections", "camera", v.camera, "raw", len(dets), "kept", len(out))
	return out, nil
}

// convertDetections keeps detections scoring at least minConfidence and reports
// each by the center of its bounding box.
func convertDetections[D boxedDetection](dets []D, minConfidence float64) []Detection {
	out := make([]Detection, 0, len(dets))
	for _, d := range dets {
		if d.Score() < minConfidence {
			continue
		}
		box := d.BoundingBox()
		if box == nil {
			continue
		}
		out = append(out, Detection{
			Label:      d.Label(),
			PixelX:     float64(box.Min.X + box.Dx()/2),
			PixelY:     float64(box.Min.Y + box.Dy()/2),
			Confidence: d.Score(),
		})
	}
	return out
}
