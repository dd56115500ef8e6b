package scara_arm

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/golang/geo/r3"
)

// fakePort is an in-memory serial port. Each write is answered by the responder.
type fakePort struct {
	mu        sync.Mutex
	writes    []string
	pending   bytes.Buffer
	responder func(frame string) string
	resets    int
	closed    bool
	writeErr  error
	// block makes reads on an empty buffer return 0, nil like a port read timeout.
	block bool
}

func newFakePort(responder func(string) string) *fakePort {
	return &fakePort{responder: responder}
}

func ackAll(string) string { return CompletionToken + "\n" }

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending.Len() == 0 {
		if p.block {
			return 0, nil
		}
		return 0, io.EOF
	}
	return p.pending.Read(b)
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	frame := string(b)
	p.writes = append(p.writes, frame)
	if p.responder != nil {
		p.pending.WriteString(p.responder(strings.TrimSuffix(frame, "\n")))
	}
	return len(b), nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePort) ResetInputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resets++
	p.pending.Reset()
	return nil
}

func (p *fakePort) feed(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending.WriteString(s)
}

func (p *fakePort) written() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.writes...)
}

// useFakePort routes OpenPort to port for the duration of the test.
func useFakePort(t *testing.T, port Port) *[]string {
	t.Helper()
	var opened []string
	orig := OpenPort
	OpenPort = func(path string, _ PortOptions) (Port, error) {
		opened = append(opened, path)
		return port, nil
	}
	t.Cleanup(func() { OpenPort = orig })
	return &opened
}

// recordingMover records targets and fails the call numbered failAt (1-based).
type recordingMover struct {
	mu      sync.Mutex
	targets []CartesianTarget
	failAt  int
	failErr error
}

func (m *recordingMover) MoveCartesian(_ context.Context, t CartesianTarget) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.targets = append(m.targets, t)
	if m.failAt > 0 && len(m.targets) == m.failAt {
		return m.failErr
	}
	return nil
}

func (m *recordingMover) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.targets)
}

type pickCall struct {
	pick, drop r3.Vector
}

// fakePicker records pick-and-place calls for cleanup tests.
type fakePicker struct {
	mu      sync.Mutex
	picks   []pickCall
	homes   int
	failErr error
}

func (p *fakePicker) PickAndPlace(_ context.Context, pick, drop r3.Vector) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.picks = append(p.picks, pickCall{pick, drop})
	return p.failErr
}

func (p *fakePicker) ReturnToHome(context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.homes++
	return true
}

type fakeHomer struct {
	calls int
	err   error
}

func (h *fakeHomer) Home(context.Context, MotionProfile) error {
	h.calls++
	return h.err
}

// scriptedDetector returns the scripted batches in order, then empty batches.
type scriptedDetector struct {
	mu      sync.Mutex
	batches [][]Detection
	calls   int
}

func (d *scriptedDetector) Detect(context.Context) ([]Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if len(d.batches) == 0 {
		return nil, nil
	}
	b := d.batches[0]
	d.batches = d.batches[1:]
	return b, nil
}
