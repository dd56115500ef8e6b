// discovery.go
package scara_arm

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"go.bug.st/serial/enumerator"
	"go.viam.com/rdk/components/gripper"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/discovery"
	"go.viam.com/rdk/services/generic"
)

var DiscoveryModel = resource.NewModel("devrel", "scara", "discovery")

func init() {
	resource.RegisterService(
		discovery.API,
		DiscoveryModel,
		resource.Registration[discovery.Service, *DiscoveryConfig]{
			Constructor: newDiscovery,
		})
}

// DiscoveryConfig is the configuration for the discovery service
type DiscoveryConfig struct {
	// VisionService and Camera are copied into every generated cleaner config.
	VisionService string `json:"vision_service,omitempty"`
	Camera        string `json:"camera,omitempty"`
}

// Validate ensures the config is valid
func (cfg *DiscoveryConfig) Validate(path string) ([]string, []string, error) {
	return nil, nil, nil
}

type scaraDiscovery struct {
	resource.Named
	resource.AlwaysRebuild
	resource.TriviallyCloseable
	cfg    *DiscoveryConfig
	logger logging.Logger

	// listPorts is swapped out in tests.
	listPorts func() []string
}

func newDiscovery(
	ctx context.Context,
	deps resource.Dependencies,
	conf resource.Config,
	logger logging.Logger,
) (discovery.Service, error) {
	cfg, err := resource.NativeConfig[*DiscoveryConfig](conf)
	if err != nil {
		return nil, err
	}

	return &scaraDiscovery{
		Named:     conf.ResourceName().AsNamed(),
		cfg:       cfg,
		logger:    logger,
		listPorts: enumerateSerialPorts,
	}, nil
}

// DiscoverResources proposes a cleaner service and a gripper for every serial port that looks
// like the arm's USB adapter. The firmware only speaks after a command, so ports
// are never opened here.
func (dis *scaraDiscovery) DiscoverResources(ctx context.Context, extra map[string]any) ([]resource.Config, error) {
	dis.logger.Info("Starting SCARA discovery")

	allPorts := dis.listPorts()
	dis.logger.Debugf("Found %d total serial ports", len(allPorts))

	candidates := FilterCandidatePorts(allPorts)
	dis.logger.Debugf("Filtered to %d candidate ports", len(candidates))

	moduleDataDir := os.Getenv("VIAM_MODULE_DATA")
	if moduleDataDir == "" {
		moduleDataDir = "/tmp"
	}

	var configs []resource.Config
	for _, portPath := range candidates {
		select {
		case <-ctx.Done():
			dis.logger.Info("Discovery cancelled")
			return configs, ctx.Err()
		default:
		}

		portSuffix := extractPortSuffix(portPath)
		calibrationFile := findCalibrationFile(moduleDataDir, portSuffix, dis.logger)
		configs = append(configs,
			dis.cleanerConfig(portPath, portSuffix, calibrationFile),
			gripperConfig(portPath, portSuffix),
		)
	}

	if len(configs) == 0 {
		dis.logger.Info("No SCARA serial adapters discovered")
	} else {
		dis.logger.Infof("Discovered %d candidate configurations", len(configs))
	}
	return configs, nil
}

func (dis *scaraDiscovery) cleanerConfig(portPath, portSuffix, calibrationFile string) resource.Config {
	attrs := map[string]interface{}{
		"arm_port": portPath,
	}
	if calibrationFile != "" {
		attrs["calibration_file"] = calibrationFile
	}
	if dis.cfg.VisionService != "" {
		attrs["vision_service"] = dis.cfg.VisionService
		attrs["camera"] = dis.cfg.Camera
	}

	return resource.Config{
		Name:       "scara-cleaner-" + portSuffix,
		API:        generic.API,
		Model:      CleanerModel,
		Attributes: attrs,
	}
}

func gripperConfig(portPath, portSuffix string) resource.Config {
	return resource.Config{
		Name:  "scara-gripper-" + portSuffix,
		API:   gripper.API,
		Model: GripperModel,
		Attributes: map[string]interface{}{
			"arm_port": portPath,
		},
	}
}

// ListSerialPorts returns every serial port on this machine.
func ListSerialPorts() []string {
	return enumerateSerialPorts()
}

// ListCandidatePorts returns the serial ports on this machine that could be the arm.
func ListCandidatePorts() []string {
	return FilterCandidatePorts(enumerateSerialPorts())
}

// FilterCandidatePorts filters serial ports by platform-specific naming patterns
func FilterCandidatePorts(ports []string) []string {
	candidates := []string{}
	for _, port := range ports {
		if isCandidatePort(port) {
			candidates = append(candidates, port)
		}
	}
	return candidates
}

// isCandidatePort checks if a port matches USB serial adapter patterns
func isCandidatePort(port string) bool {
	// Linux: /dev/ttyUSB*, /dev/ttyACM*, and the vendor CH341 driver's /dev/ttyCH341USB*
	if strings.HasPrefix(port, "/dev/ttyUSB") || strings.HasPrefix(port, "/dev/ttyACM") || strings.HasPrefix(port, "/dev/ttyCH341USB") {
		return true
	}
	// macOS: /dev/tty.usbmodem*, /dev/tty.usbserial*, /dev/cu.usbmodem*, /dev/cu.usbserial*, /dev/cu.wchusbserial*
	for _, prefix := range []string{"/dev/tty.usbmodem", "/dev/tty.usbserial", "/dev/cu.usbmodem", "/dev/cu.usbserial", "/dev/cu.wchusbserial"} {
		if strings.HasPrefix(port, prefix) {
			return true
		}
	}
	// Windows: COM*
	return strings.HasPrefix(port, "COM")
}

// extractPortSuffix extracts a friendly suffix from port path for naming
// /dev/ttyCH341USB0 -> "ttyCH341USB0"
// COM3 -> "COM3"
// /dev/tty.usbmodem123 -> "usbmodem123"
func extractPortSuffix(portPath string) string {
	base := filepath.Base(portPath)

	if strings.HasPrefix(base, "tty.") {
		return strings.TrimPrefix(base, "tty.")
	}
	if strings.HasPrefix(base, "cu.") {
		return strings.TrimPrefix(base, "cu.")
	}
	return base
}

// findCalibrationFile searches moduleDataDir for a camera calibration, port
// specific first. Returns just the filename or "" if none exists.
func findCalibrationFile(moduleDataDir, portSuffix string, logger logging.Logger) string {
	for _, name := range []string{portSuffix + "_calibration.json", DefaultCalibrationFile} {
		if _, err := os.Stat(filepath.Join(moduleDataDir, name)); err == nil {
			logger.Debugf("Found calibration file: %s", name)
			return name
		}
	}
	logger.Debug("No calibration file found")
	return ""
}

// enumerateSerialPorts returns a list of all serial ports on the system
func enumerateSerialPorts() []string {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return []string{}
	}

	var portPaths []string
	for _, port := range ports {
		portPaths = append(portPaths, port.Name)
	}
	return portPaths
}
