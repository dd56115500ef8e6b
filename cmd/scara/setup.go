package main

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/robot"
	"go.viam.com/rdk/robot/client"
	"go.viam.com/rdk/services/vision"
	"go.viam.com/utils/rpc"
	scara "scara_arm"
)

func newLogger() logging.Logger {
	if opts.Debug {
		return logging.NewDebugLogger("scara")
	}
	return logging.NewLogger("scara")
}

// loadConfig reads the config file, or falls back to the defaults for the
// reference wiring when there is none.
func loadConfig(logger logging.Logger) (*scara.Config, error) {
	cfg, err := scara.LoadConfigFrom(opts.Config)
	if err == nil {
		logger.Infof("Loaded configuration from %s", opts.Config)
		return cfg, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	logger.Infof("No %s found, using defaults", opts.Config)
	cfg = &scara.Config{
		ArmPort:     "/dev/ttyCH341USB0",
		CommandPort: "/dev/ttyCH341USB1",
	}
	if _, _, err := cfg.Validate(opts.Config); err != nil {
		return nil, err
	}
	return cfg, nil
}

// connectDetector dials the Viam machine named by --machine and wraps its vision
// service. Without a machine or a configured vision service, detection is unavailable.
func connectDetector(ctx context.Context, cfg *scara.Config, logger logging.Logger) (scara.Detector, func(), error) {
	if opts.Machine == "" || cfg.VisionService == "" {
		logger.Warn("No vision service available, cleanup and pick commands will find nothing")
		return scara.NoVision, func() {}, nil
	}

	machine, err := client.New(ctx, opts.Machine, logger,
		client.WithDialOptions(rpc.WithEntityCredentials(opts.APIKeyID, rpc.Credentials{
			Type:    rpc.CredentialsTypeAPIKey,
			Payload: opts.APIKey,
		})),
	)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "connecting to %s", opts.Machine)
	}
	closeMachine := func() {
		if err := machine.Close(context.Background()); err != nil {
			logger.Warnf("error closing machine connection: %v", err)
		}
	}

	vis, err := robot.ResourceFromRobot[vision.Service](machine, vision.Named(cfg.VisionService))
	if err != nil {
		closeMachine()
		return nil, nil, err
	}
	return scara.NewVisionDetector(vis, cfg.Camera, cfg.MinConfidence, logger.Sublogger("vision")), closeMachine, nil
}

// openDispatcher builds the full stack for one-shot commands.
func openDispatcher(ctx context.Context, logger logging.Logger) (*scara.Dispatcher, func(), error) {
	cfg, err := loadConfig(logger)
	if err != nil {
		return nil, nil, err
	}
	detector, closeDetector, err := connectDetector(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	d := scara.NewArmDispatcher(cfg, detector, logger)
	return d, func() {
		if err := d.Close(); err != nil {
			logger.Warnf("error closing arm: %v", err)
		}
		closeDetector()
	}, nil
}
