package scara_arm

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// Link lengths of the two planar arm segments in millimeters.
const (
	L1 = 228.0
	L2 = 156.5
)

var ErrOutOfWorkspace = errors.New("target out of workspace")

// JointAngles are the two planar joint angles in degrees.
type JointAngles struct {
	Theta1 float64
	Theta2 float64
}

// InWorkspace reports whether the planar radius r can be reached by the two links.
func InWorkspace(r float64) bool {
	return r >= math.Abs(L1-L2) && r <= L1+L2
}

// SolveIK converts a planar Cartesian target into joint angles. Targets outside the
// annulus |L1-L2| <= r <= L1+L2 are rejected with ErrOutOfWorkspace.
func SolveIK(x, y float64) (JointAngles, error) {
	r := math.Hypot(x, y)
	if !InWorkspace(r) {
		return JointAngles{}, errors.Wrapf(ErrOutOfWorkspace, "(%.1f, %.1f) r=%.1f", x, y, r)
	}

	cos2 := (r*r - L1*L1 - L2*L2) / (2 * L1 * L2)
	cos2 = math.Max(-1, math.Min(1, cos2))
	theta2 := math.Acos(cos2)
	theta1 := math.Atan2(y, x) - math.Atan2(L2*math.Sin(theta2), L1+L2*math.Cos(theta2))

	return JointAngles{
		Theta1: radToDeg(theta1),
		Theta2: radToDeg(theta2),
	}, nil
}

// ForwardKinematics returns the planar end effector position for the given joint angles.
func ForwardKinematics(j JointAngles) r3.Vector {
	t1 := degToRad(j.Theta1)
	t2 := degToRad(j.Theta2)
	return r3.Vector{
		X: L1*math.Cos(t1) + L2*math.Cos(t1+t2),
		Y: L1*math.Sin(t1) + L2*math.Sin(t1+t2),
	}
}

func degToRad(d float64) float64 { return d * math.Pi / 180 }

func radToDeg(r float64) float64 { return r * 180 / math.Pi }
