package scara_arm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/generic"
	"go.viam.com/rdk/services/vision"
	"go.viam.com/utils"
)

var CleanerModel = resource.NewModel("devrel", "scara", "cleaner")

func init() {
	resource.RegisterService(generic.API, CleanerModel,
		resource.Registration[resource.Resource, *Config]{
			Constructor: newCleanerService,
		},
	)
}

// cleanerService exposes the dispatcher of one arm as a generic service.
type cleanerService struct {
	resource.Named
	resource.AlwaysRebuild

	logger     logging.Logger
	cfg        *Config
	dispatcher *Dispatcher
	cleaner    *Cleaner
	registry   *DispatcherRegistry
	commands   *CommandChannel

	workers    sync.WaitGroup
	cancelCtx  context.Context
	cancelFunc func()
}

func newCleanerService(ctx context.Context, deps resource.Dependencies, rawConf resource.Config, logger logging.Logger) (resource.Resource, error) {
	cfg, err := resource.NativeConfig[*Config](rawConf)
	if err != nil {
		return nil, err
	}

	detector := Detector(NoVision)
	if cfg.VisionService != "" {
		vis, err := resource.FromDependencies[vision.Service](deps, vision.Named(cfg.VisionService))
		if err != nil {
			return nil, errors.Wrapf(err, "vision service %s", cfg.VisionService)
		}
		detector = NewVisionDetector(vis, cfg.Camera, cfg.MinConfidence, logger.Sublogger("vision"))
	}

	return newCleanerServiceFrom(rawConf.ResourceName(), cfg, detector, globalRegistry, logger)
}

func newCleanerServiceFrom(name resource.Name, cfg *Config, detector Detector, registry *DispatcherRegistry, logger logging.Logger) (*cleanerService, error) {
	d, err := registry.Acquire(cfg, func() (*Dispatcher, error) {
		return NewLinkDispatcher(cfg, logger), nil
	})
	if err != nil {
		return nil, err
	}

	// the shared arm may have been opened by a gripper; the jobs are ours
	cleaner := NewArmCleaner(cfg, d.Link(), detector, logger)
	if err := d.Attach(cleaner, cfg.DispatcherConfig()); err != nil {
		utils.UncheckedError(registry.Release(cfg.ArmPort))
		return nil, errors.Wrapf(err, "arm %s", cfg.ArmPort)
	}

	var commands *CommandChannel
	if cfg.CommandPort != "" {
		commands, err = OpenCommandChannel(cfg.CommandPort, PortOptions{
			BaudRate:    cfg.BaudRate,
			ReadTimeout: seconds(cfg.ReadTimeout),
		}, logger.Sublogger("commands"))
		if err != nil {
			d.Detach(cleaner)
			utils.UncheckedError(registry.Release(cfg.ArmPort))
			return nil, err
		}
	}

	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	s := &cleanerService{
		Named:      name.AsNamed(),
		logger:     logger,
		cfg:        cfg,
		dispatcher: d,
		cleaner:    cleaner,
		registry:   registry,
		commands:   commands,
		cancelCtx:  cancelCtx,
		cancelFunc: cancelFunc,
	}
	s.start()
	return s, nil
}

func (s *cleanerService) start() {
	var intake chan Request
	if s.commands != nil {
		intake = make(chan Request)
		s.goBackground(func() {
			defer close(intake)
			if err := s.commands.Serve(s.cancelCtx, intake); err != nil {
				s.logger.Errorw("command channel stopped", "error", err)
			}
		})
	}

	s.goBackground(func() {
		if err := s.dispatcher.Run(s.cancelCtx, intake); err != nil {
			s.logger.Errorw("dispatcher stopped", "error", err)
			return
		}
		if intake != nil && s.cancelCtx.Err() == nil {
			s.logger.Warn("command channel closed, continuing with the idle watchdog only")
			utils.UncheckedError(s.dispatcher.Run(s.cancelCtx, nil))
		}
	})
}

func (s *cleanerService) goBackground(f func()) {
	s.workers.Add(1)
	utils.PanicCapturingGo(func() {
		defer s.workers.Done()
		f()
	})
}

// submit hands req to the dispatcher. The command outlives the DoCommand call
// that started it and is bounded by the service's lifetime instead.
func (s *cleanerService) submit(req Request) map[string]interface{} {
	code, _ := Normalize(req)
	accepted := s.dispatcher.Submit(s.cancelCtx, req)
	return map[string]interface{}{
		"accepted": accepted,
		"code":     string(code),
		"command":  code.String(),
	}
}

func (s *cleanerService) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	command, _ := cmd["command"].(string)
	switch command {
	case "submit":
		code, _ := cmd["code"].(string)
		hint, _ := cmd["hint"].(string)
		return s.submit(Request{Code: code, Hint: hint, Source: "do_command"}), nil

	case "home":
		return s.submit(Request{Code: string(CodeHome), Source: "do_command"}), nil

	case "cleanup":
		return s.submit(Request{Code: string(CodeCleanup), Source: "do_command"}), nil

	case "pick":
		label, _ := cmd["label"].(string)
		code, ok := CodeForLabel(label)
		if !ok {
			return nil, fmt.Errorf("unknown label: %q", label)
		}
		return s.submit(Request{Code: string(code), Source: "do_command"}), nil

	case "status":
		return s.dispatcher.Status().Map(), nil

	case "calibrate":
		return s.calibrate(cmd["points"])

	default:
		return nil, fmt.Errorf("unknown command: %s", command)
	}
}

// calibrate fits a calibration to the given points, saves it, and applies it to
// the running cleaner.
func (s *cleanerService) calibrate(raw interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, errors.Wrap(err, "invalid points")
	}
	var points []CalibrationPoint
	if err := json.Unmarshal(data, &points); err != nil {
		return nil, errors.Wrap(err, "invalid points")
	}

	cal, err := FitCalibration(points)
	if err != nil {
		return nil, err
	}
	cal.Truncate = s.cleaner.Calibration().Truncate
	path := s.cfg.CalibrationPath()
	if err := SaveCalibrationToFile(path, cal); err != nil {
		return nil, err
	}
	s.cleaner.SetCalibration(cal)
	s.logger.Infow("calibration updated", "file", path, "scale_x", cal.ScaleX, "scale_y", cal.ScaleY)

	return map[string]interface{}{
		"file":     path,
		"scale_x":  cal.ScaleX,
		"offset_x": cal.OffsetX,
		"scale_y":  cal.ScaleY,
		"offset_y": cal.OffsetY,
	}, nil
}

func (s *cleanerService) Close(context.Context) error {
	s.logger.Info("Closing SCARA cleaner")
	s.cancelFunc()
	s.workers.Wait()
	s.dispatcher.Wait()
	s.dispatcher.Detach(s.cleaner)

	var err error
	if s.commands != nil {
		err = s.commands.Close()
	}
	if rerr := s.registry.Release(s.cfg.ArmPort); rerr != nil && err == nil {
		err = rerr
	}
	return err
}
