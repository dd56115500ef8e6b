package scara_arm

import (
	"context"
	"sort"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

var (
	ErrMissingDetection = errors.New("no matching object detected")
	ErrUnknownLabel     = errors.New("no drop location for label")
)

// Detection is one object reported by the vision pipeline, in image pixels.
type Detection struct {
	Label      string  `json:"label"`
	PixelX     float64 `json:"pixel_x"`
	PixelY     float64 `json:"pixel_y"`
	Confidence float64 `json:"confidence"`
}

// Detector returns the objects currently visible to the camera.
type Detector interface {
	Detect(ctx context.Context) ([]Detection, error)
}

// DetectorFunc adapts a function to the Detector interface.
type DetectorFunc func(ctx context.Context) ([]Detection, error)

func (f DetectorFunc) Detect(ctx context.Context) ([]Detection, error) { return f(ctx) }

// DropTable maps object labels to where they are put away.
type DropTable map[string]r3.Vector

// DefaultDropTable is the put-away layout of the reference desk.
func DefaultDropTable() DropTable {
	return DropTable{
		"eraser":    {X: 115, Y: -80, Z: 50},
		"pen":       {X: 115, Y: -80, Z: 50},
		"sharpener": {X: 115, Y: -90, Z: 50},
		"paper":     {X: -260, Y: 180, Z: 50},
	}
}

// Lookup returns the drop location for label.
func (d DropTable) Lookup(label string) (r3.Vector, error) {
	v, ok := d[label]
	if !ok {
		return r3.Vector{}, errors.Wrap(ErrUnknownLabel, label)
	}
	return v, nil
}

// Labels returns the known labels in sorted order.
func (d DropTable) Labels() []string {
	labels := make([]string, 0, len(d))
	for l := range d {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels
}

// Validate checks that every drop location is reachable.
func (d DropTable) Validate() error {
	for _, label := range d.Labels() {
		v := d[label]
		if _, err := SolveIK(v.X, v.Y); err != nil {
			return errors.Wrapf(err, "drop location for %q", label)
		}
	}
	return nil
}

// firstWithLabel returns the first detection carrying label.
func firstWithLabel(dets []Detection, label string) (Detection, bool) {
	for _, d := range dets {
		if d.Label == label {
			return d, true
		}
	}
	return Detection{}, false
}
