package scara_arm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"golang.org/x/sync/errgroup"
)

var (
	ErrBusy = errors.New("arm busy")
	// ErrNoCleaner is returned for cleanup and pick codes on an arm no cleaner is attached to.
	ErrNoCleaner       = errors.New("no cleaner attached to arm")
	ErrCleanerAttached = errors.New("arm already has a cleaner attached")
)

// State is the dispatcher's execution state.
type State int

const (
	StateIdle State = iota
	StateBusy
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBusy:
		return "busy"
	default:
		return "unknown"
	}
}

// ArmLink is the connection surface the dispatcher manages. *Link implements it.
type ArmLink interface {
	Homer
	Mover
	MoveJoints(ctx context.Context, pose ArmState, p MotionProfile) error
	Connect(ctx context.Context) error
	IsConnected() bool
	State() ArmState
	Close() error
}

// Tasks are the long running jobs behind the cleanup and pick codes. *Cleaner implements it.
// A dispatcher shared by several resources runs without Tasks until one attaches them.
type Tasks interface {
	Cleanup(ctx context.Context) (CleanupReport, error)
	PickObject(ctx context.Context, label string) error
}

// DispatcherConfig tunes the idle watchdog.
type DispatcherConfig struct {
	// IdleTimeout is how long the dispatcher may sit idle before it starts a cleanup.
	// Zero disables the watchdog.
	IdleTimeout  time.Duration
	PollInterval time.Duration
}

func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		IdleTimeout:  180 * time.Second,
		PollInterval: 50 * time.Millisecond,
	}
}

// Status is a snapshot of the dispatcher.
type Status struct {
	State       State
	Code        Code
	BusySince   time.Time
	LastCommand time.Time
	Connected   bool
	Arm         ArmState
}

// Map renders the status for DoCommand responses.
func (s Status) Map() map[string]any {
	m := map[string]any{
		"state":        s.State.String(),
		"connected":    s.Connected,
		"last_command": s.LastCommand.Format(time.RFC3339),
		"arm": map[string]any{
			"theta1":  s.Arm.Theta1,
			"theta2":  s.Arm.Theta2,
			"phi":     s.Arm.Phi,
			"z":       s.Arm.Z,
			"gripper": s.Arm.Gripper,
		},
	}
	if s.State == StateBusy {
		m["code"] = string(s.Code)
		m["command"] = s.Code.String()
		m["busy_since"] = s.BusySince.Format(time.RFC3339)
	}
	return m
}

// Dispatcher runs at most one command at a time. Requests that arrive while a
// command is executing are dropped, and a running command is never preempted.
type Dispatcher struct {
	link   ArmLink
	logger logging.Logger
	clock  clock.Clock

	mu          sync.Mutex
	cfg         DispatcherConfig
	tasks       Tasks
	state       State
	current     Code
	busySince   time.Time
	lastCommand time.Time

	executions sync.WaitGroup
}

func NewDispatcher(cfg DispatcherConfig, link ArmLink, tasks Tasks, logger logging.Logger, clk clock.Clock) *Dispatcher {
	if clk == nil {
		clk = clock.New()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultDispatcherConfig().PollInterval
	}
	return &Dispatcher{
		cfg:         cfg,
		link:        link,
		tasks:       tasks,
		logger:      logger,
		clock:       clk,
		lastCommand: clk.Now(),
	}
}

// Accept normalizes req and, if the dispatcher is idle and the request names a
// command, marks the dispatcher busy and resets the idle timer. The caller that
// gets true must call Execute.
func (d *Dispatcher) Accept(req Request) (Code, bool) {
	code, ok := Normalize(req)
	if !ok {
		if code == CodePlaceholder {
			d.logger.Debugw("no command in request", "source", req.Source, "hint", req.Hint)
		} else {
			d.logger.Infow("ignoring unrecognized command", "source", req.Source, "code", string(code))
		}
		return code, false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == StateBusy {
		d.logger.Infow("busy, ignoring command", "current", string(d.current), "code", string(code), "source", req.Source)
		return code, false
	}

	now := d.clock.Now()
	d.state = StateBusy
	d.current = code
	d.busySince = now
	d.lastCommand = now
	d.logger.Infow("accepted command", "code", string(code), "command", code.String(), "source", req.Source)
	return code, true
}

// Execute runs an accepted command and always returns the dispatcher to idle.
func (d *Dispatcher) Execute(ctx context.Context, code Code) {
	defer d.release()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Errorw("command panicked", "code", string(code), "panic", fmt.Sprint(r))
		}
	}()

	start := d.clock.Now()
	if err := d.execute(ctx, code); err != nil {
		d.logger.Warnw("command failed", "code", string(code), "error", err)
		return
	}
	d.logger.Infow("command finished", "code", string(code), "elapsed", d.clock.Since(start).String())
}

func (d *Dispatcher) execute(ctx context.Context, code Code) error {
	d.mu.Lock()
	tasks := d.tasks
	d.mu.Unlock()
	if tasks == nil && code != CodeHome {
		return ErrNoCleaner
	}

	if err := d.ensureConnected(ctx); err != nil {
		return err
	}

	if code == CodeHome {
		return d.link.Home(ctx, MotionProfile{})
	}

	switch code {
	case CodeCleanup:
		report, err := tasks.Cleanup(ctx)
		d.logger.Infow("cleanup report", "iterations", report.Iterations, "picked", report.Picked,
			"failed", report.Failed, "skipped", report.Skipped)
		return err
	default:
		label, ok := code.Label()
		if !ok {
			return errors.Errorf("unhandled code %q", code)
		}
		err := tasks.PickObject(ctx, label)
		if errors.Is(err, ErrMissingDetection) {
			d.logger.Infof("nothing to pick: %v", err)
			return nil
		}
		return err
	}
}

// ensureConnected reuses an open link or connects a new one.
func (d *Dispatcher) ensureConnected(ctx context.Context) error {
	if d.link.IsConnected() {
		return nil
	}
	if err := d.link.Connect(ctx); err != nil {
		return errors.Wrap(err, "arm connection failed")
	}
	return nil
}

func (d *Dispatcher) release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = StateIdle
	d.current = ""
	d.busySince = time.Time{}
}

// Exclusive runs fn on the connected arm while holding the busy lock, so manual
// moves never interleave with a command. It fails with ErrBusy rather than wait.
func (d *Dispatcher) Exclusive(ctx context.Context, fn func(ctx context.Context, link ArmLink) error) error {
	d.mu.Lock()
	if d.state == StateBusy {
		current := d.current
		d.mu.Unlock()
		return errors.Wrapf(ErrBusy, "running %s", current)
	}
	now := d.clock.Now()
	d.state = StateBusy
	d.current = CodeManual
	d.busySince = now
	d.lastCommand = now
	d.mu.Unlock()
	defer d.release()

	if err := d.ensureConnected(ctx); err != nil {
		return err
	}
	return fn(ctx, d.link)
}

// Handle accepts and executes req on the calling goroutine.
func (d *Dispatcher) Handle(ctx context.Context, req Request) bool {
	code, ok := d.Accept(req)
	if !ok {
		return false
	}
	d.Execute(ctx, code)
	return true
}

// Submit accepts req and executes it in the background. ctx bounds the execution,
// not the call.
func (d *Dispatcher) Submit(ctx context.Context, req Request) bool {
	code, ok := d.Accept(req)
	if !ok {
		return false
	}
	d.executions.Add(1)
	go func() {
		defer d.executions.Done()
		d.Execute(ctx, code)
	}()
	return true
}

// CheckIdle submits a cleanup when the dispatcher has been idle for IdleTimeout.
func (d *Dispatcher) CheckIdle(ctx context.Context) bool {
	d.mu.Lock()
	timeout := d.cfg.IdleTimeout
	idle := timeout > 0 && d.tasks != nil && d.state == StateIdle && d.clock.Since(d.lastCommand) >= timeout
	d.mu.Unlock()
	if !idle {
		return false
	}

	d.logger.Infof("idle for %s, starting cleanup", timeout)
	return d.Submit(ctx, Request{Code: string(CodeCleanup), Source: "watchdog"})
}

var errIntakeClosed = errors.New("intake closed")

// Run polls the idle watchdog and submits every request read from intake until ctx
// is done or intake is closed, then waits for the running command to return.
func (d *Dispatcher) Run(ctx context.Context, intake <-chan Request) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticker := d.clock.Ticker(d.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				d.CheckIdle(ctx)
			}
		}
	})

	if intake != nil {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case req, ok := <-intake:
					if !ok {
						return errIntakeClosed
					}
					d.Submit(ctx, req)
				}
			}
		})
	}

	err := g.Wait()
	d.Wait()
	if errors.Is(err, errIntakeClosed) {
		return nil
	}
	return err
}

// Wait blocks until background executions started by Submit have returned.
func (d *Dispatcher) Wait() {
	d.executions.Wait()
}

func (d *Dispatcher) Current() (Code, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current, d.state == StateBusy
}

func (d *Dispatcher) Status() Status {
	d.mu.Lock()
	s := Status{
		State:       d.state,
		Code:        d.current,
		BusySince:   d.busySince,
		LastCommand: d.lastCommand,
	}
	d.mu.Unlock()

	s.Connected = d.link.IsConnected()
	s.Arm = d.link.State()
	return s
}

// Close waits for the running command, closes the arm link and clears the lock.
// Cancel the execution context first if the command should be cut short.
func (d *Dispatcher) Close() error {
	d.Wait()
	d.release()
	return d.link.Close()
}

// Attach installs the cleanup and pick jobs with their idle watchdog settings. An
// arm takes one set of Tasks at a time.
func (d *Dispatcher) Attach(tasks Tasks, cfg DispatcherConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tasks != nil {
		return ErrCleanerAttached
	}
	d.tasks = tasks
	d.cfg.IdleTimeout = cfg.IdleTimeout
	d.lastCommand = d.clock.Now()
	return nil
}

// Detach removes tasks if they are the attached ones and turns the watchdog off.
// Wait for running commands first.
func (d *Dispatcher) Detach(tasks Tasks) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tasks != tasks {
		return
	}
	d.tasks = nil
	d.cfg.IdleTimeout = 0
}

func (d *Dispatcher) Link() ArmLink {
	return d.link
}

// Cleaner returns the cleaner behind the dispatcher, if it runs one.
func (d *Dispatcher) Cleaner() (*Cleaner, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.tasks.(*Cleaner)
	return c, ok
}

// NewLinkDispatcher puts the serial Link for cfg behind a Dispatcher with no Tasks.
// This is what the registry shares per port; resources attach their own jobs.
func NewLinkDispatcher(cfg *Config, logger logging.Logger) *Dispatcher {
	link := NewLink(cfg.LinkConfig(), logger.Sublogger("link"), nil)
	dc := cfg.DispatcherConfig()
	dc.IdleTimeout = 0
	return NewDispatcher(dc, link, nil, logger.Sublogger("dispatcher"), nil)
}

// NewArmCleaner builds the Macros and Cleaner for cfg over mover.
func NewArmCleaner(cfg *Config, mover ArmLink, detector Detector, logger logging.Logger) *Cleaner {
	macros := NewMacros(mover, cfg.MacroConfig(), logger.Sublogger("macros"))
	calib, _ := cfg.LoadCalibration(logger)
	return NewCleaner(mover, macros, detector, cfg.DropTable(), calib, cfg.CleanupConfig(), logger.Sublogger("cleanup"))
}

// NewArmDispatcher wires a serial Link, its Macros and a Cleaner from cfg behind a
// Dispatcher. The link connects lazily on the first command.
func NewArmDispatcher(cfg *Config, detector Detector, logger logging.Logger) *Dispatcher {
	link := NewLink(cfg.LinkConfig(), logger.Sublogger("link"), nil)
	cleaner := NewArmCleaner(cfg, link, detector, logger)
	return NewDispatcher(cfg.DispatcherConfig(), link, cleaner, logger.Sublogger("dispatcher"), nil)
}
