package scara_arm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/components/gripper"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/referenceframe"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/spatialmath"
	"go.viam.com/utils"
)

var (
	GripperModel = resource.NewModel("devrel", "scara", "gripper")
)

type GripperConfig struct {
	ArmPort    string  `json:"arm_port"`
	BaudRate   int     `json:"baud_rate,omitempty"`
	ResetDelay float64 `json:"reset_delay_sec,omitempty"`
	AckTimeout float64 `json:"ack_timeout_sec,omitempty"`

	// Firmware gripper values. Closed defaults to the value the pick macros grip with.
	OpenPosition   float64  `json:"open_position,omitempty"`
	ClosedPosition *float64 `json:"closed_position,omitempty"`

	Speed int `json:"speed,omitempty"`
	Accel int `json:"accel,omitempty"`
}

// Validate ensures all parts of the config are valid
func (cfg *GripperConfig) Validate(path string) ([]string, []string, error) {
	if cfg.ArmPort == "" {
		return nil, nil, fmt.Errorf("%s: must specify arm_port for serial communication", path)
	}
	if cfg.AckTimeout < 0 {
		return nil, nil, fmt.Errorf("%s: ack_timeout_sec must not be negative", path)
	}
	if cfg.Speed < 0 || cfg.Accel < 0 {
		return nil, nil, fmt.Errorf("%s: speed and accel must be positive, got %d and %d", path, cfg.Speed, cfg.Accel)
	}
	return nil, nil, nil
}

// armConfig is the shared arm config this gripper drives. It must agree with any
// cleaner service on the same port.
func (cfg *GripperConfig) armConfig() (*Config, error) {
	arm := &Config{
		ArmPort:    cfg.ArmPort,
		BaudRate:   cfg.BaudRate,
		ResetDelay: cfg.ResetDelay,
		AckTimeout: cfg.AckTimeout,
	}
	if _, _, err := arm.Validate("gripper"); err != nil {
		return nil, err
	}
	return arm, nil
}

func init() {
	resource.RegisterComponent(
		gripper.API,
		GripperModel,
		resource.Registration[gripper.Gripper, *GripperConfig]{
			Constructor: newScaraGripper,
		},
	)
}

// scaraGripper drives the gripper field of the move frame. The firmware has no
// separate gripper command, so every move resends the last acknowledged joint pose.
type scaraGripper struct {
	resource.AlwaysRebuild

	name       resource.Name
	logger     logging.Logger
	port       string
	dispatcher *Dispatcher
	registry   *DispatcherRegistry
	geometries []spatialmath.Geometry
	profile    MotionProfile

	mu       sync.Mutex
	isMoving atomic.Bool

	openPosition   float64
	closedPosition float64
}

func newScaraGripper(ctx context.Context, deps resource.Dependencies, conf resource.Config, logger logging.Logger) (gripper.Gripper, error) {
	cfg, err := resource.NativeConfig[*GripperConfig](conf)
	if err != nil {
		return nil, err
	}
	return newScaraGripperFrom(conf.ResourceName(), cfg, globalRegistry, logger)
}

func newScaraGripperFrom(name resource.Name, cfg *GripperConfig, registry *DispatcherRegistry, logger logging.Logger) (*scaraGripper, error) {
	arm, err := cfg.armConfig()
	if err != nil {
		return nil, err
	}

	d, err := registry.Acquire(arm, func() (*Dispatcher, error) {
		return NewLinkDispatcher(arm, logger), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get shared arm for gripper: %w", err)
	}

	clawSize := r3.Vector{X: 40, Y: 60, Z: 80}
	claws, err := spatialmath.NewBox(spatialmath.NewPoseFromPoint(r3.Vector{X: 0, Y: 0, Z: clawSize.Z / 2}), clawSize, "claws")
	if err != nil {
		utils.UncheckedError(registry.Release(arm.ArmPort))
		return nil, err
	}

	closed := DefaultMacroConfig().GripperClosed
	if cfg.ClosedPosition != nil {
		closed = *cfg.ClosedPosition
	}

	g := &scaraGripper{
		name:           name,
		logger:         logger,
		port:           arm.ArmPort,
		dispatcher:     d,
		registry:       registry,
		geometries:     []spatialmath.Geometry{claws},
		profile:        MotionProfile{Speed: cfg.Speed, Accel: cfg.Accel},
		openPosition:   cfg.OpenPosition,
		closedPosition: closed,
	}

	logger.Debugf("SCARA gripper initialized on %s, open=%.0f, closed=%.0f", arm.ArmPort, g.openPosition, g.closedPosition)
	return g, nil
}

func (g *scaraGripper) Name() resource.Name {
	return g.name
}

// moveTo sets the gripper value while holding the arm, so it can't cut into a
// running cleanup.
func (g *scaraGripper) moveTo(ctx context.Context, position float64) error {
	g.isMoving.Store(true)
	defer g.isMoving.Store(false)

	return g.dispatcher.Exclusive(ctx, func(ctx context.Context, link ArmLink) error {
		pose := link.State()
		pose.Gripper = position
		return link.MoveJoints(ctx, pose, g.profile)
	})
}

func (g *scaraGripper) Open(ctx context.Context, extra map[string]interface{}) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.logger.Debug("Opening gripper")
	if err := g.moveTo(ctx, g.openPosition); err != nil {
		return fmt.Errorf("failed to open gripper: %w", err)
	}
	return nil
}

// Grab closes the gripper. The firmware reports neither load nor position, so a
// completed close counts as a grab.
func (g *scaraGripper) Grab(ctx context.Context, extra map[string]interface{}) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.logger.Debug("Closing gripper")
	if err := g.moveTo(ctx, g.closedPosition); err != nil {
		return false, fmt.Errorf("failed to close gripper: %w", err)
	}
	return true, nil
}

func (g *scaraGripper) Stop(ctx context.Context, extra map[string]interface{}) error {
	return errors.ErrUnsupported
}

func (g *scaraGripper) IsMoving(ctx context.Context) (bool, error) {
	return g.isMoving.Load(), nil
}

func (g *scaraGripper) Geometries(ctx context.Context, extra map[string]interface{}) ([]spatialmath.Geometry, error) {
	return g.geometries, nil
}

func (g *scaraGripper) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	switch cmd["command"] {
	case "get_position":
		status := g.dispatcher.Status()
		return map[string]interface{}{
			"position":        status.Arm.Gripper,
			"open_position":   g.openPosition,
			"closed_position": g.closedPosition,
			"connected":       status.Connected,
		}, nil

	case "set_position":
		position, ok := cmd["position"].(float64)
		if !ok {
			return nil, fmt.Errorf("set_position command requires a 'position' parameter")
		}
		g.mu.Lock()
		defer g.mu.Unlock()
		err := g.moveTo(ctx, position)
		return map[string]interface{}{"success": err == nil}, err

	case "arm_status":
		refCount, has, summary := g.registry.Status(g.port)
		return map[string]interface{}{
			"ref_count":  refCount,
			"has_arm":    has,
			"config":     summary,
			"dispatcher": g.dispatcher.Status().Map(),
		}, nil

	default:
		return nil, fmt.Errorf("unknown command: %v", cmd["command"])
	}
}

func (g *scaraGripper) Close(ctx context.Context) error {
	return g.registry.Release(g.port)
}

func (g *scaraGripper) CurrentInputs(ctx context.Context) ([]referenceframe.Input, error) {
	return nil, errors.ErrUnsupported
}

func (g *scaraGripper) GoToInputs(ctx context.Context, inputs ...[]referenceframe.Input) error {
	return errors.ErrUnsupported
}

func (g *scaraGripper) Kinematics(ctx context.Context) (referenceframe.Model, error) {
	return nil, errors.ErrUnsupported
}

func (g *scaraGripper) IsHoldingSomething(ctx context.Context, extra map[string]interface{}) (gripper.HoldingStatus, error) {
	return gripper.HoldingStatus{}, errors.ErrUnsupported
}
