package scara_arm

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/golang/geo/r3"
)

const DefaultConfigFile = "scara.json"

// Pose is a Cartesian position in arm millimeters.
type Pose struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (p Pose) Vector() r3.Vector { return r3.Vector{X: p.X, Y: p.Y, Z: p.Z} }

type Config struct {
	// Serial settings
	ArmPort     string  `json:"arm_port"`
	CommandPort string  `json:"command_port,omitempty"`
	BaudRate    int     `json:"baud_rate,omitempty"`
	ResetDelay  float64 `json:"reset_delay_sec,omitempty"`
	ReadTimeout float64 `json:"read_timeout_sec,omitempty"`
	AckTimeout  float64 `json:"ack_timeout_sec,omitempty"` // 0 waits for the completion token forever

	// Motion
	Speed         int     `json:"speed,omitempty"`
	Accel         int     `json:"accel,omitempty"`
	SafeZ         float64 `json:"safe_z,omitempty"`
	PickZ         float64 `json:"pick_z,omitempty"`
	GripperOpen   float64 `json:"gripper_open,omitempty"`
	GripperClosed float64 `json:"gripper_closed,omitempty"`
	SettleDelay   float64 `json:"settle_delay_sec,omitempty"`
	RestPose      *Pose   `json:"rest_pose,omitempty"`
	RecoveryPose  *Pose   `json:"recovery_pose,omitempty"`

	// Dispatcher
	IdleTimeout  float64 `json:"idle_timeout_sec,omitempty"`
	PollInterval float64 `json:"poll_interval_sec,omitempty"`
	DisableIdle  bool    `json:"disable_idle_cleanup,omitempty"`

	// Cleanup
	MissThreshold int             `json:"miss_threshold,omitempty"`
	MissWait      float64         `json:"miss_wait_sec,omitempty"`
	DropLocations map[string]Pose `json:"drop_locations,omitempty"`

	// Vision
	VisionService   string  `json:"vision_service,omitempty"`
	Camera          string  `json:"camera,omitempty"`
	MinConfidence   float64 `json:"min_confidence,omitempty"`
	CalibrationFile string  `json:"calibration_file,omitempty"`
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Validate ensures all parts of the config are valid and fills in defaults.
func (cfg *Config) Validate(path string) ([]string, []string, error) {
	if cfg.ArmPort == "" {
		return nil, nil, fmt.Errorf("%s: must specify arm_port for serial communication", path)
	}

	if cfg.BaudRate == 0 {
		cfg.BaudRate = 115200
	}
	if cfg.ResetDelay == 0 {
		cfg.ResetDelay = 2
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 0.1
	}
	if cfg.Speed == 0 {
		cfg.Speed = DefaultSpeed
	}
	if cfg.Accel == 0 {
		cfg.Accel = DefaultAccel
	}

	macros := DefaultMacroConfig()
	if cfg.SafeZ == 0 {
		cfg.SafeZ = macros.SafeZ
	}
	if cfg.GripperClosed == 0 {
		cfg.GripperClosed = macros.GripperClosed
	}
	if cfg.SettleDelay == 0 {
		cfg.SettleDelay = macros.SettleDelay.Seconds()
	}
	if cfg.RestPose == nil {
		cfg.RestPose = &Pose{X: macros.RestPose.X, Y: macros.RestPose.Y, Z: macros.RestPose.Z}
	}
	if cfg.RecoveryPose == nil {
		cfg.RecoveryPose = &Pose{X: macros.RecoveryPose.X, Y: macros.RecoveryPose.Y, Z: macros.RecoveryPose.Z}
	}

	dispatcher := DefaultDispatcherConfig()
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = dispatcher.IdleTimeout.Seconds()
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = dispatcher.PollInterval.Seconds()
	}

	cleanup := DefaultCleanupConfig()
	if cfg.MissThreshold == 0 {
		cfg.MissThreshold = cleanup.MissThreshold
	}
	if cfg.MissWait == 0 {
		cfg.MissWait = cleanup.MissWait.Seconds()
	}
	if len(cfg.DropLocations) == 0 {
		cfg.DropLocations = map[string]Pose{}
		for label, v := range DefaultDropTable() {
			cfg.DropLocations[label] = Pose{X: v.X, Y: v.Y, Z: v.Z}
		}
	}
	if cfg.MinConfidence == 0 {
		cfg.MinConfidence = DefaultMinConfidence
	}

	// Validate ranges
	if cfg.Speed < 0 || cfg.Accel < 0 {
		return nil, nil, fmt.Errorf("%s: speed and accel must be positive, got %d and %d", path, cfg.Speed, cfg.Accel)
	}
	if cfg.AckTimeout < 0 || cfg.IdleTimeout < 0 || cfg.MissWait < 0 {
		return nil, nil, fmt.Errorf("%s: durations must not be negative", path)
	}
	if cfg.MinConfidence < 0 || cfg.MinConfidence > 1 {
		return nil, nil, fmt.Errorf("%s: min_confidence must be between 0 and 1, got %v", path, cfg.MinConfidence)
	}
	if err := cfg.DropTable().Validate(); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	if _, err := SolveIK(cfg.RestPose.X, cfg.RestPose.Y); err != nil {
		return nil, nil, fmt.Errorf("%s: rest_pose: %w", path, err)
	}

	var deps []string
	if cfg.VisionService != "" {
		deps = append(deps, cfg.VisionService)
		if cfg.Camera == "" {
			return nil, nil, fmt.Errorf("%s: camera is required when vision_service is set", path)
		}
	}

	return deps, nil, nil
}

func (cfg *Config) LinkConfig() LinkConfig {
	return LinkConfig{
		Port:        cfg.ArmPort,
		BaudRate:    cfg.BaudRate,
		ResetDelay:  seconds(cfg.ResetDelay),
		ReadTimeout: seconds(cfg.ReadTimeout),
		AckTimeout:  seconds(cfg.AckTimeout),
		Profile:     MotionProfile{Speed: cfg.Speed, Accel: cfg.Accel},
	}
}

func (cfg *Config) MacroConfig() MacroConfig {
	m := DefaultMacroConfig()
	m.SafeZ = cfg.SafeZ
	m.PickZ = cfg.PickZ
	m.GripperOpen = cfg.GripperOpen
	m.GripperClosed = cfg.GripperClosed
	m.SettleDelay = seconds(cfg.SettleDelay)
	m.Profile = MotionProfile{Speed: cfg.Speed, Accel: cfg.Accel}
	if cfg.RestPose != nil {
		m.RestPose = cfg.RestPose.Vector()
	}
	if cfg.RecoveryPose != nil {
		m.RecoveryPose = cfg.RecoveryPose.Vector()
	}
	return m
}

func (cfg *Config) DispatcherConfig() DispatcherConfig {
	d := DispatcherConfig{
		IdleTimeout:  seconds(cfg.IdleTimeout),
		PollInterval: seconds(cfg.PollInterval),
	}
	if cfg.DisableIdle {
		d.IdleTimeout = 0
	}
	return d
}

func (cfg *Config) CleanupConfig() CleanupConfig {
	c := DefaultCleanupConfig()
	c.MissThreshold = cfg.MissThreshold
	c.MissWait = seconds(cfg.MissWait)
	return c
}

func (cfg *Config) DropTable() DropTable {
	if len(cfg.DropLocations) == 0 {
		return DefaultDropTable()
	}
	t := DropTable{}
	for label, p := range cfg.DropLocations {
		t[label] = p.Vector()
	}
	return t
}

// LoadConfigFrom loads and validates configuration from a JSON file.
func LoadConfigFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if _, _, err := cfg.Validate(path); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SaveTo saves configuration to a specific file.
func (cfg *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// configsEqual reports whether two configs drive the same hardware the same way.
func configsEqual(a, b *Config) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return a.ArmPort == b.ArmPort &&
		a.BaudRate == b.BaudRate &&
		a.AckTimeout == b.AckTimeout
}
