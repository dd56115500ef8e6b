package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	scara "scara_arm"
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// openLink connects straight to the arm, bypassing the dispatcher.
func openLink(ctx context.Context, logger logging.Logger) (*scara.Link, error) {
	cfg, err := loadConfig(logger)
	if err != nil {
		return nil, err
	}
	link := scara.NewLink(cfg.LinkConfig(), logger.Sublogger("link"), nil)
	if err := link.Connect(ctx); err != nil {
		return nil, err
	}
	return link, nil
}

type HomeCommand struct{}

func (c *HomeCommand) Execute(args []string) error {
	ctx, cancel := signalContext()
	defer cancel()
	logger := newLogger()

	link, err := openLink(ctx, logger)
	if err != nil {
		return err
	}
	defer link.Close()

	if err := link.Home(ctx, scara.MotionProfile{}); err != nil {
		return err
	}
	fmt.Println("Arm is home.")
	return nil
}

type MoveCommand struct {
	X       float64  `short:"x" long:"x" required:"yes" description:"Target x in mm"`
	Y       float64  `short:"y" long:"y" required:"yes" description:"Target y in mm"`
	Z       *float64 `short:"z" long:"z" description:"Height in mm (default: keep current)"`
	Phi     *float64 `long:"phi" description:"Wrist angle in degrees (default: keep current)"`
	Gripper *float64 `short:"g" long:"gripper" description:"Gripper opening (default: keep current)"`
	Speed   int      `long:"speed" description:"Speed (default: from config)"`
	Accel   int      `long:"accel" description:"Acceleration (default: from config)"`
}

func (c *MoveCommand) Execute(args []string) error {
	if _, err := scara.SolveIK(c.X, c.Y); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	logger := newLogger()

	link, err := openLink(ctx, logger)
	if err != nil {
		return err
	}
	defer link.Close()

	target := scara.Target(c.X, c.Y).WithProfile(scara.MotionProfile{Speed: c.Speed, Accel: c.Accel})
	if c.Z != nil {
		target = target.WithZ(*c.Z)
	}
	if c.Phi != nil {
		target = target.WithPhi(*c.Phi)
	}
	if c.Gripper != nil {
		target = target.WithGripper(*c.Gripper)
	}

	if err := link.MoveCartesian(ctx, target); err != nil {
		return err
	}
	s := link.State()
	fmt.Printf("θ1=%.1f° θ2=%.1f° φ=%.0f z=%.0f gripper=%.0f\n", s.Theta1, s.Theta2, s.Phi, s.Z, s.Gripper)
	return nil
}

type PickCommand struct {
	Args struct {
		Label string `positional-arg-name:"label" required:"yes" description:"pen, eraser, sharpener or paper"`
	} `positional-args:"yes"`
}

func (c *PickCommand) Execute(args []string) error {
	code, ok := scara.CodeForLabel(c.Args.Label)
	if !ok {
		return errors.Errorf("unknown label %q", c.Args.Label)
	}
	return handleOnce(scara.Request{Code: string(code), Source: "cli"})
}

type SubmitCommand struct {
	Code string `long:"code" default:"111" description:"Command code a-f"`
	Hint string `long:"hint" description:"Free text hint, e.g. a speech transcript"`
}

func (c *SubmitCommand) Execute(args []string) error {
	req := scara.Request{Code: c.Code, Hint: c.Hint, Source: "cli"}
	code, ok := scara.Normalize(req)
	fmt.Printf("Normalized to %q (%s)\n", string(code), code)
	if !ok {
		return nil
	}
	return handleOnce(req)
}

// handleOnce runs a single request to completion through a fresh dispatcher.
func handleOnce(req scara.Request) error {
	ctx, cancel := signalContext()
	defer cancel()
	logger := newLogger()

	d, closeAll, err := openDispatcher(ctx, logger)
	if err != nil {
		return err
	}
	defer closeAll()

	if !d.Handle(ctx, req) {
		return errors.New("request was not accepted")
	}
	return nil
}

type PortsCommand struct {
	All bool `long:"all" description:"Show every serial port, not only USB adapters"`
}

func (c *PortsCommand) Execute(args []string) error {
	ports := scara.ListCandidatePorts()
	if c.All {
		ports = scara.ListSerialPorts()
	}
	if len(ports) == 0 {
		fmt.Println("No serial ports found.")
		return nil
	}
	for _, p := range ports {
		fmt.Println(p)
	}
	return nil
}
