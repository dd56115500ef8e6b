// discovery_test.go
package scara_arm

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.viam.com/rdk/components/gripper"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/services/generic"
)

func TestFilterCandidatePorts(t *testing.T) {
	tests := []struct {
		name     string
		ports    []string
		expected []string
	}{
		{
			name:     "Linux USB ports",
			ports:    []string{"/dev/ttyUSB0", "/dev/ttyS0", "/dev/ttyACM0", "/dev/null"},
			expected: []string{"/dev/ttyUSB0", "/dev/ttyACM0"},
		},
		{
			name:     "CH341 vendor driver",
			ports:    []string{"/dev/ttyCH341USB0", "/dev/ttyCH341USB1", "/dev/ttyAMA0"},
			expected: []string{"/dev/ttyCH341USB0", "/dev/ttyCH341USB1"},
		},
		{
			name:     "macOS USB ports",
			ports:    []string{"/dev/tty.usbmodem123", "/dev/tty.Bluetooth", "/dev/tty.usbserial-AB", "/dev/cu.wchusbserial140"},
			expected: []string{"/dev/tty.usbmodem123", "/dev/tty.usbserial-AB", "/dev/cu.wchusbserial140"},
		},
		{
			name:     "Windows COM ports",
			ports:    []string{"COM3", "COM10", "LPT1", "PRN"},
			expected: []string{"COM3", "COM10"},
		},
		{
			name:     "Empty list",
			ports:    []string{},
			expected: []string{},
		},
		{
			name:     "No matching ports",
			ports:    []string{"/dev/null", "/dev/zero"},
			expected: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := FilterCandidatePorts(tt.ports)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestExtractPortSuffix(t *testing.T) {
	assert.Equal(t, "ttyCH341USB0", extractPortSuffix("/dev/ttyCH341USB0"))
	assert.Equal(t, "usbmodem123", extractPortSuffix("/dev/tty.usbmodem123"))
	assert.Equal(t, "wchusbserial140", extractPortSuffix("/dev/cu.wchusbserial140"))
	assert.Equal(t, "COM3", extractPortSuffix("COM3"))
}

func TestDiscoverResources(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("VIAM_MODULE_DATA", dataDir)
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "ttyCH341USB0_calibration.json"), []byte(`{}`), 0644))

	dis := &scaraDiscovery{
		Named:  generic.Named("discovery").AsNamed(),
		cfg:    &DiscoveryConfig{VisionService: "detector", Camera: "overhead"},
		logger: logging.NewTestLogger(t),
		listPorts: func() []string {
			return []string{"/dev/ttyS0", "/dev/ttyCH341USB0", "/dev/ttyUSB3"}
		},
	}

	configs, err := dis.DiscoverResources(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, configs, 4)

	assert.Equal(t, "scara-cleaner-ttyCH341USB0", configs[0].Name)
	assert.Equal(t, generic.API, configs[0].API)
	assert.Equal(t, CleanerModel, configs[0].Model)
	assert.Equal(t, "/dev/ttyCH341USB0", configs[0].Attributes["arm_port"])
	assert.Equal(t, "ttyCH341USB0_calibration.json", configs[0].Attributes["calibration_file"])
	assert.Equal(t, "overhead", configs[0].Attributes["camera"])

	assert.Equal(t, "scara-gripper-ttyCH341USB0", configs[1].Name)
	assert.Equal(t, gripper.API, configs[1].API)
	assert.Equal(t, GripperModel, configs[1].Model)
	assert.Equal(t, "/dev/ttyCH341USB0", configs[1].Attributes["arm_port"])

	assert.Equal(t, "scara-cleaner-ttyUSB3", configs[2].Name)
	assert.NotContains(t, configs[2].Attributes, "calibration_file")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = dis.DiscoverResources(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
