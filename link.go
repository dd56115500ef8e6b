package scara_arm

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"
)

var ErrNotConnected = errors.New("arm link not connected")

// ArmState is the last pose acknowledged by the firmware.
type ArmState struct {
	Theta1  float64 `json:"theta1"`
	Theta2  float64 `json:"theta2"`
	Phi     float64 `json:"phi"`
	Z       float64 `json:"z"`
	Gripper float64 `json:"gripper"`
}

// DefaultArmState is the assumed pose before the first acknowledged move.
var DefaultArmState = ArmState{Z: 100}

// CartesianTarget is a planar target with optional height, wrist angle and gripper.
// Unset optional fields are taken from the last acknowledged ArmState.
type CartesianTarget struct {
	X, Y    float64
	Z       *float64
	Phi     *float64
	Gripper *float64
	Profile MotionProfile
}

// Target starts a CartesianTarget at (x, y).
func Target(x, y float64) CartesianTarget {
	return CartesianTarget{X: x, Y: y}
}

func (t CartesianTarget) WithZ(z float64) CartesianTarget {
	t.Z = &z
	return t
}

func (t CartesianTarget) WithPhi(phi float64) CartesianTarget {
	t.Phi = &phi
	return t
}

func (t CartesianTarget) WithGripper(g float64) CartesianTarget {
	t.Gripper = &g
	return t
}

func (t CartesianTarget) WithProfile(p MotionProfile) CartesianTarget {
	t.Profile = p
	return t
}

// LinkConfig configures the serial connection to the arm firmware.
type LinkConfig struct {
	Port        string
	BaudRate    int
	ResetDelay  time.Duration
	ReadTimeout time.Duration
	// AckTimeout bounds the wait for the completion token. Zero waits forever.
	AckTimeout time.Duration
	Profile    MotionProfile
}

// Link owns the serial connection to the arm and the client side ArmState.
type Link struct {
	cfg    LinkConfig
	logger logging.Logger
	clock  clock.Clock

	// exchangeMu allows one command/acknowledgment exchange at a time.
	exchangeMu sync.Mutex

	mu     sync.RWMutex
	port   Port
	reader *lineReader
	state  ArmState
}

func NewLink(cfg LinkConfig, logger logging.Logger, clk clock.Clock) *Link {
	if clk == nil {
		clk = clock.New()
	}
	cfg.Profile = cfg.Profile.withDefaults(MotionProfile{Speed: DefaultSpeed, Accel: DefaultAccel})
	return &Link{
		cfg:    cfg,
		logger: logger,
		clock:  clk,
		state:  DefaultArmState,
	}
}

// Connect opens the port, waits for the firmware to come out of reset and
// drops whatever it printed while booting. Calling Connect on an open link is a no-op.
func (l *Link) Connect(ctx context.Context) error {
	l.exchangeMu.Lock()
	defer l.exchangeMu.Unlock()

	if l.IsConnected() {
		return nil
	}

	p, err := OpenPort(l.cfg.Port, PortOptions{BaudRate: l.cfg.BaudRate, ReadTimeout: l.cfg.ReadTimeout})
	if err != nil {
		return err
	}

	if l.cfg.ResetDelay > 0 && !utils.SelectContextOrWait(ctx, l.cfg.ResetDelay) {
		utils.UncheckedError(p.Close())
		return ctx.Err()
	}

	if err := p.ResetInputBuffer(); err != nil {
		utils.UncheckedError(p.Close())
		return errors.Wrap(err, "failed to reset input buffer")
	}

	l.mu.Lock()
	l.port = p
	l.reader = newLineReader(p, l.clock)
	l.mu.Unlock()

	l.logger.Infof("connected to arm on %s", l.cfg.Port)
	return nil
}

func (l *Link) IsConnected() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.port != nil
}

// State returns the last acknowledged pose.
func (l *Link) State() ArmState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Home sends the homing command and waits for completion.
func (l *Link) Home(ctx context.Context, p MotionProfile) error {
	l.exchangeMu.Lock()
	defer l.exchangeMu.Unlock()
	return l.send(ctx, HomeCommand(p.withDefaults(l.cfg.Profile)))
}

// MoveJoints commands an absolute joint pose. The ArmState changes only once
// the firmware acknowledges the move.
func (l *Link) MoveJoints(ctx context.Context, pose ArmState, p MotionProfile) error {
	l.exchangeMu.Lock()
	defer l.exchangeMu.Unlock()
	return l.moveJoints(ctx, pose, p)
}

// MoveCartesian solves the target into joint angles and moves there. A target
// the solver rejects fails without touching the wire.
func (l *Link) MoveCartesian(ctx context.Context, t CartesianTarget) error {
	l.exchangeMu.Lock()
	defer l.exchangeMu.Unlock()

	last := l.State()
	pose := ArmState{Z: last.Z, Phi: last.Phi, Gripper: last.Gripper}
	if t.Z != nil {
		pose.Z = *t.Z
	}
	if t.Phi != nil {
		pose.Phi = *t.Phi
	}
	if t.Gripper != nil {
		pose.Gripper = *t.Gripper
	}

	// the firmware works in whole millimeters
	j, err := SolveIK(float64(int(t.X)), float64(int(t.Y)))
	if err != nil {
		return err
	}
	pose.Theta1 = j.Theta1
	pose.Theta2 = j.Theta2

	return l.moveJoints(ctx, pose, t.Profile)
}

func (l *Link) moveJoints(ctx context.Context, pose ArmState, p MotionProfile) error {
	if err := l.send(ctx, MoveCommand(pose, p.withDefaults(l.cfg.Profile))); err != nil {
		return err
	}
	l.mu.Lock()
	l.state = pose
	l.mu.Unlock()
	return nil
}

// send writes one frame and blocks until the completion token arrives.
func (l *Link) send(ctx context.Context, cmd MotionCommand) error {
	l.mu.RLock()
	port, reader := l.port, l.reader
	l.mu.RUnlock()
	if port == nil {
		return ErrNotConnected
	}

	if err := port.ResetInputBuffer(); err != nil {
		return errors.Wrap(err, "failed to reset input buffer")
	}
	reader.reset()

	l.logger.Debugf("sending %s", cmd)
	if _, err := port.Write(cmd.Frame()); err != nil {
		return errors.Wrapf(err, "failed to write %s command", cmd.ID)
	}

	var deadline time.Time
	if l.cfg.AckTimeout > 0 {
		deadline = l.clock.Now().Add(l.cfg.AckTimeout)
	}

	for {
		line, err := reader.ReadLine(ctx, deadline)
		if err != nil {
			return errors.Wrapf(err, "waiting for %s acknowledgment", cmd.ID)
		}
		if line == CompletionToken {
			l.logger.Debugf("%s acknowledged", cmd.ID)
			return nil
		}
		if line != "" {
			l.logger.Debugf("firmware: %s", line)
		}
	}
}

// Close releases the serial port, which also unblocks an exchange waiting for
// its acknowledgment. The link can be reconnected afterwards.
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.port == nil {
		return nil
	}
	err := l.port.Close()
	l.port = nil
	l.reader = nil
	l.logger.Info("arm connection closed")
	return err
}
