package scara_arm

import (
	"context"
	"fmt"
	"time"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"
)

// Mover is the motion surface the pick-and-place macros drive. *Link implements it.
type Mover interface {
	MoveCartesian(ctx context.Context, t CartesianTarget) error
}

// MacroConfig holds the heights, gripper positions and pauses used by the macros.
type MacroConfig struct {
	SafeZ         float64
	PickZ         float64
	GripperOpen   float64
	GripperClosed float64
	SettleDelay   time.Duration
	FinishDelay   time.Duration
	RestPose      r3.Vector
	RecoveryPose  r3.Vector
	// Profile fills the speed and acceleration of every macro move. Zero fields
	// fall back to the link's defaults.
	Profile MotionProfile
}

// DefaultMacroConfig matches the mechanical setup of the reference cell.
func DefaultMacroConfig() MacroConfig {
	return MacroConfig{
		SafeZ:         100,
		PickZ:         0,
		GripperOpen:   0,
		GripperClosed: 105,
		SettleDelay:   500 * time.Millisecond,
		FinishDelay:   200 * time.Millisecond,
		RestPose:      r3.Vector{X: 384.5, Y: 0, Z: 100},
		RecoveryPose:  r3.Vector{X: 0, Y: 0, Z: 100},
	}
}

// StepError reports the first checkpoint of a macro that did not complete.
type StepError struct {
	Step int
	Name string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s): %v", e.Step, e.Name, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// PickAndPlaceSteps is the number of checkpoints in a pick-and-place run.
const PickAndPlaceSteps = 10

// Macros runs multi-step motion sequences against a Mover.
type Macros struct {
	mover  Mover
	cfg    MacroConfig
	logger logging.Logger
}

func NewMacros(mover Mover, cfg MacroConfig, logger logging.Logger) *Macros {
	return &Macros{
		mover:  mover,
		cfg:    cfg,
		logger: logger,
	}
}

type macroStep struct {
	name   string
	target *CartesianTarget
	pause  time.Duration
}

func moveStep(name string, t CartesianTarget) macroStep {
	return macroStep{name: name, target: &t}
}

// PickAndPlace picks the object at pick and drops it at drop, then parks at the rest
// pose. It stops at the first checkpoint that fails and returns a *StepError. The
// caller decides whether to recover with ReturnToHome.
func (m *Macros) PickAndPlace(ctx context.Context, pick, drop r3.Vector) error {
	c := m.cfg
	steps := []macroStep{
		moveStep("approach pick", Target(pick.X, pick.Y).WithZ(c.SafeZ)),
		moveStep("open gripper", Target(pick.X, pick.Y).WithGripper(c.GripperOpen)),
		moveStep("descend to pick", Target(pick.X, pick.Y).WithZ(c.PickZ).WithGripper(c.GripperOpen)),
		moveStep("grip", Target(pick.X, pick.Y).WithZ(c.PickZ).WithGripper(c.GripperClosed)),
		moveStep("lift", Target(pick.X, pick.Y).WithZ(c.SafeZ).WithGripper(c.GripperClosed)),
		{name: "settle", pause: c.SettleDelay},
		moveStep("approach drop", Target(drop.X, drop.Y).WithZ(c.SafeZ).WithGripper(c.GripperClosed)),
		moveStep("descend to drop", Target(drop.X, drop.Y).WithZ(drop.Z).WithGripper(c.GripperClosed)),
		moveStep("release", Target(drop.X, drop.Y).WithZ(drop.Z).WithGripper(c.GripperOpen)),
		moveStep("rest", Target(c.RestPose.X, c.RestPose.Y).WithZ(c.RestPose.Z)),
	}

	for i, s := range steps {
		n := i + 1
		if err := m.runStep(ctx, s); err != nil {
			m.logger.Warnw("pick and place step failed", "step", n, "name", s.name, "error", err)
			return &StepError{Step: n, Name: s.name, Err: err}
		}
		m.logger.Infow("pick and place step done", "step", n, "name", s.name)
	}

	utils.SelectContextOrWait(ctx, c.FinishDelay)
	return nil
}

func (m *Macros) runStep(ctx context.Context, s macroStep) error {
	if s.target == nil {
		if !utils.SelectContextOrWait(ctx, s.pause) {
			return ctx.Err()
		}
		return nil
	}
	t := *s.target
	t.Profile = t.Profile.withDefaults(m.cfg.Profile)
	return m.mover.MoveCartesian(ctx, t)
}

// ReturnToHome moves to the recovery pose with the gripper open, trying once more
// if the first attempt fails. It never returns an error; the result only feeds logs.
func (m *Macros) ReturnToHome(ctx context.Context) bool {
	p := m.cfg.RecoveryPose
	t := Target(p.X, p.Y).WithZ(p.Z).WithPhi(0).WithGripper(m.cfg.GripperOpen).WithProfile(m.cfg.Profile)

	m.logger.Info("returning to recovery pose")
	err := m.mover.MoveCartesian(ctx, t)
	if err == nil {
		m.logger.Info("recovery pose reached")
		return true
	}

	m.logger.Warnf("recovery move failed, retrying: %v", err)
	if err := m.mover.MoveCartesian(ctx, t); err != nil {
		m.logger.Errorf("recovery move failed again: %v", err)
		return false
	}
	m.logger.Info("recovery pose reached")
	return true
}
