package scara_arm

import (
	"bytes"
	"context"
	"io"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.bug.st/serial"
)

// Port is the subset of a serial port the arm link and command channel rely on.
type Port interface {
	io.ReadWriteCloser
	ResetInputBuffer() error
}

// PortOptions describe how a serial device is opened.
type PortOptions struct {
	BaudRate    int
	ReadTimeout time.Duration
}

// OpenPort opens a serial device at 8N1. It's a variable so tests can substitute a fake port.
var OpenPort = func(path string, opts PortOptions) (Port, error) {
	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	p, err := serial.Open(path, mode)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open serial port %s", path)
	}

	if opts.ReadTimeout > 0 {
		if err := p.SetReadTimeout(opts.ReadTimeout); err != nil {
			p.Close()
			return nil, errors.Wrap(err, "failed to set read timeout")
		}
	}

	return p, nil
}

var ErrReadTimeout = errors.New("timed out waiting for line")

var noDeadline time.Time

// lineReader splits a port's byte stream into trimmed text lines. A port read
// timeout shows up as a zero-length read, which gives the reader a chance to
// check the context and deadline between reads.
type lineReader struct {
	r     io.Reader
	clock clock.Clock
	buf   []byte
	chunk []byte
}

func newLineReader(r io.Reader, clk clock.Clock) *lineReader {
	return &lineReader{
		r:     r,
		clock: clk,
		chunk: make([]byte, 128),
	}
}

// reset drops any partially buffered line.
func (lr *lineReader) reset() {
	lr.buf = lr.buf[:0]
}

// ReadLine blocks until a full line arrives. A zero deadline waits forever.
func (lr *lineReader) ReadLine(ctx context.Context, deadline time.Time) (string, error) {
	for {
		if i := bytes.IndexByte(lr.buf, '\n'); i >= 0 {
			line := string(lr.buf[:i])
			lr.buf = lr.buf[i+1:]
			return strings.TrimSpace(line), nil
		}

		if err := ctx.Err(); err != nil {
			return "", err
		}
		if !deadline.IsZero() && !lr.clock.Now().Before(deadline) {
			return "", ErrReadTimeout
		}

		n, err := lr.r.Read(lr.chunk)
		if n > 0 {
			lr.buf = append(lr.buf, lr.chunk[:n]...)
		}
		if err != nil {
			if errors.Is(err, io.EOF) && len(lr.buf) > 0 {
				line := string(lr.buf)
				lr.buf = lr.buf[:0]
				return strings.TrimSpace(line), nil
			}
			return "", err
		}
	}
}
