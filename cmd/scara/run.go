package main

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"

	"go.viam.com/rdk/logging"
	scara "scara_arm"
)

type RunCommand struct {
	CommandPort string `long:"command-port" description:"Command channel serial port (default: from config)"`
	Stdin       bool   `long:"stdin" description:"Also read free text hints from stdin, one per line"`
	NoIdle      bool   `long:"no-idle" description:"Disable the idle cleanup watchdog"`
}

func (c *RunCommand) Execute(args []string) error {
	ctx, cancel := signalContext()
	defer cancel()
	logger := newLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return err
	}
	if c.CommandPort != "" {
		cfg.CommandPort = c.CommandPort
	}
	cfg.DisableIdle = cfg.DisableIdle || c.NoIdle

	detector, closeDetector, err := connectDetector(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeDetector()

	d := scara.NewArmDispatcher(cfg, detector, logger)
	defer d.Close()

	return serve(ctx, cfg, d, logger, c.Stdin)
}

// serve feeds the dispatcher from the command channel and optionally stdin until
// ctx is done.
func serve(ctx context.Context, cfg *scara.Config, d *scara.Dispatcher, logger logging.Logger, stdin bool) error {
	intake := make(chan scara.Request)

	if cfg.CommandPort != "" {
		ch, err := scara.OpenCommandChannel(cfg.CommandPort, scara.PortOptions{
			BaudRate:    cfg.BaudRate,
			ReadTimeout: cfg.LinkConfig().ReadTimeout,
		}, logger.Sublogger("commands"))
		if err != nil {
			return err
		}
		defer ch.Close()

		go func() {
			if err := ch.Serve(ctx, intake); err != nil {
				logger.Errorw("command channel stopped", "error", err)
			}
		}()
	}

	if stdin {
		go readHints(ctx, os.Stdin, intake)
	}

	logger.Infow("ready", "arm", cfg.ArmPort, "commands", cfg.CommandPort, "idle_timeout", cfg.DispatcherConfig().IdleTimeout.String())
	return d.Run(ctx, intake)
}

// readHints forwards each line of r as a hint-only request, the way a speech
// front end reports what it heard.
func readHints(ctx context.Context, r io.Reader, out chan<- scara.Request) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		select {
		case out <- scara.Request{Code: string(scara.CodePlaceholder), Hint: line, Source: "stdin"}:
		case <-ctx.Done():
			return
		}
	}
}
