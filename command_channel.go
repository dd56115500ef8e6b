package scara_arm

import (
	"context"
	"io"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
)

// CommandChannel reads single letter commands, one per line, from a serial port.
type CommandChannel struct {
	name   string
	port   Port
	reader *lineReader
	logger logging.Logger
}

// OpenCommandChannel opens the command serial port.
func OpenCommandChannel(path string, opts PortOptions, logger logging.Logger) (*CommandChannel, error) {
	p, err := OpenPort(path, opts)
	if err != nil {
		return nil, err
	}
	logger.Infof("command channel listening on %s", path)
	return NewCommandChannel(path, p, logger, nil), nil
}

func NewCommandChannel(name string, port Port, logger logging.Logger, clk clock.Clock) *CommandChannel {
	if clk == nil {
		clk = clock.New()
	}
	return &CommandChannel{
		name:   name,
		port:   port,
		reader: newLineReader(port, clk),
		logger: logger,
	}
}

// ParseCommandLine accepts exactly one of the letters a to f.
func ParseCommandLine(line string) (Code, bool) {
	if len(line) != 1 {
		return "", false
	}
	code := Code(line)
	return code, code.Valid()
}

// Serve forwards every valid line to out until ctx is done or the port closes.
// Malformed lines are logged and otherwise ignored; nothing is written back.
func (c *CommandChannel) Serve(ctx context.Context, out chan<- Request) error {
	for {
		line, err := c.reader.ReadLine(ctx, noDeadline)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) {
				return nil
			}
			return errors.Wrapf(err, "reading command channel %s", c.name)
		}
		if line == "" {
			continue
		}

		code, ok := ParseCommandLine(line)
		if !ok {
			c.logger.Warnf("invalid command format %q, expected a single letter a-f", line)
			continue
		}

		select {
		case out <- Request{Code: string(code), Source: c.name}:
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *CommandChannel) Close() error {
	return c.port.Close()
}
