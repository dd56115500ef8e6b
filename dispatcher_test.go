package scara_arm

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.viam.com/rdk/logging"
)

type fakeArmLink struct {
	mu         sync.Mutex
	connected  bool
	connects   int
	connectErr error
	homes      int
	homeErr    error
	poses      []ArmState
	targets    []CartesianTarget
	closed     int
}

func (a *fakeArmLink) Connect(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connects++
	if a.connectErr != nil {
		return a.connectErr
	}
	a.connected = true
	return nil
}

func (a *fakeArmLink) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

func (a *fakeArmLink) Home(context.Context, MotionProfile) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.homes++
	return a.homeErr
}

func (a *fakeArmLink) MoveJoints(_ context.Context, pose ArmState, _ MotionProfile) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.poses = append(a.poses, pose)
	return nil
}

func (a *fakeArmLink) MoveCartesian(_ context.Context, t CartesianTarget) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.targets = append(a.targets, t)
	return nil
}

func (a *fakeArmLink) State() ArmState { return DefaultArmState }

func (a *fakeArmLink) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed++
	a.connected = false
	return nil
}

// fakeTasks counts jobs. When gate is set, jobs block until it is closed.
type fakeTasks struct {
	cleanups atomic.Int32
	picks    sync.Map
	started  chan Code
	gate     chan struct{}
	pickErr  error
}

func newFakeTasks() *fakeTasks {
	return &fakeTasks{started: make(chan Code, 16)}
}

func (f *fakeTasks) block() {
	if f.gate != nil {
		<-f.gate
	}
}

func (f *fakeTasks) Cleanup(context.Context) (CleanupReport, error) {
	f.cleanups.Add(1)
	f.started <- CodeCleanup
	f.block()
	return CleanupReport{}, nil
}

func (f *fakeTasks) PickObject(_ context.Context, label string) error {
	v, _ := f.picks.LoadOrStore(label, new(atomic.Int32))
	v.(*atomic.Int32).Add(1)
	f.started <- Code(label)
	f.block()
	return f.pickErr
}

func (f *fakeTasks) pickCount(label string) int32 {
	v, ok := f.picks.Load(label)
	if !ok {
		return 0
	}
	return v.(*atomic.Int32).Load()
}

func newTestDispatcher(t *testing.T, clk clock.Clock) (*Dispatcher, *fakeArmLink, *fakeTasks) {
	arm := &fakeArmLink{}
	tasks := newFakeTasks()
	d := NewDispatcher(DefaultDispatcherConfig(), arm, tasks, logging.NewTestLogger(t), clk)
	return d, arm, tasks
}

func TestDispatcherHome(t *testing.T) {
	d, arm, _ := newTestDispatcher(t, nil)

	assert.True(t, d.Handle(context.Background(), Request{Hint: "请帮我复位"}))
	assert.Equal(t, 1, arm.connects)
	assert.Equal(t, 1, arm.homes)

	// the open link is reused
	assert.True(t, d.Handle(context.Background(), Request{Code: "a"}))
	assert.Equal(t, 1, arm.connects)
	assert.Equal(t, 2, arm.homes)

	_, busy := d.Current()
	assert.False(t, busy)
}

func TestDispatcherRoutesPickCodes(t *testing.T) {
	d, _, tasks := newTestDispatcher(t, nil)
	ctx := context.Background()

	assert.True(t, d.Handle(ctx, Request{Code: "111", Hint: "把笔收起来"}))
	assert.True(t, d.Handle(ctx, Request{Code: "d"}))
	assert.True(t, d.Handle(ctx, Request{Code: "e"}))
	assert.True(t, d.Handle(ctx, Request{Code: "f"}))
	assert.True(t, d.Handle(ctx, Request{Code: "b"}))

	assert.Equal(t, int32(1), tasks.pickCount("pen"))
	assert.Equal(t, int32(1), tasks.pickCount("eraser"))
	assert.Equal(t, int32(1), tasks.pickCount("sharpener"))
	assert.Equal(t, int32(1), tasks.pickCount("paper"))
	assert.Equal(t, int32(1), tasks.cleanups.Load())
}

func TestDispatcherDropsInvalidRequests(t *testing.T) {
	d, arm, tasks := newTestDispatcher(t, nil)
	ctx := context.Background()

	assert.False(t, d.Handle(ctx, Request{Code: "z"}))
	assert.False(t, d.Handle(ctx, Request{}))
	assert.False(t, d.Handle(ctx, Request{Code: "111", Hint: "今天天气不错"}))

	assert.Equal(t, 0, arm.connects)
	assert.Equal(t, int32(0), tasks.cleanups.Load())
}

func TestDispatcherConnectionFailureReturnsToIdle(t *testing.T) {
	d, arm, tasks := newTestDispatcher(t, nil)
	arm.connectErr = errors.New("no such device")

	assert.True(t, d.Handle(context.Background(), Request{Code: "b"}))
	assert.Equal(t, int32(0), tasks.cleanups.Load())

	_, busy := d.Current()
	assert.False(t, busy)
	assert.Equal(t, StateIdle, d.Status().State)
}

func TestDispatcherMissingDetectionIsSoft(t *testing.T) {
	d, _, tasks := newTestDispatcher(t, nil)
	tasks.pickErr = errors.Wrap(ErrMissingDetection, "pen")

	assert.True(t, d.Handle(context.Background(), Request{Code: "c"}))
	assert.Equal(t, StateIdle, d.Status().State)
}

func TestDispatcherMutualExclusion(t *testing.T) {
	d, _, tasks := newTestDispatcher(t, nil)
	tasks.gate = make(chan struct{})
	ctx := context.Background()

	require.True(t, d.Submit(ctx, Request{Code: "b"}))
	<-tasks.started

	code, busy := d.Current()
	assert.True(t, busy)
	assert.Equal(t, CodeCleanup, code)

	var wg sync.WaitGroup
	var accepted atomic.Int32
	for _, c := range []string{"a", "b", "c", "d", "e", "f", "c", "d"} {
		wg.Add(1)
		go func(c string) {
			defer wg.Done()
			if d.Submit(ctx, Request{Code: c}) {
				accepted.Add(1)
			}
		}(c)
	}
	wg.Wait()
	assert.Equal(t, int32(0), accepted.Load())

	close(tasks.gate)
	d.Wait()

	assert.Equal(t, int32(1), tasks.cleanups.Load())
	assert.Equal(t, int32(0), tasks.pickCount("pen"))
	assert.Equal(t, StateIdle, d.Status().State)
}

func TestDispatcherConcurrentAcceptSingleWinner(t *testing.T) {
	d, _, tasks := newTestDispatcher(t, nil)
	tasks.gate = make(chan struct{})
	ctx := context.Background()

	var wg sync.WaitGroup
	var accepted atomic.Int32
	start := make(chan struct{})
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if d.Submit(ctx, Request{Code: "c"}) {
				accepted.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), accepted.Load())
	close(tasks.gate)
	d.Wait()
	assert.Equal(t, int32(1), tasks.pickCount("pen"))
}

func TestDispatcherIdleWatchdog(t *testing.T) {
	mock := clock.NewMock()
	d, _, tasks := newTestDispatcher(t, mock)
	ctx := context.Background()

	mock.Add(179 * time.Second)
	assert.False(t, d.CheckIdle(ctx))

	mock.Add(time.Second)
	assert.True(t, d.CheckIdle(ctx))
	d.Wait()
	assert.Equal(t, int32(1), tasks.cleanups.Load())

	// accepting the synthesized cleanup restarted the timer
	assert.False(t, d.CheckIdle(ctx))
}

func TestDispatcherWatchdogNeverFiresWhileBusy(t *testing.T) {
	mock := clock.NewMock()
	d, _, tasks := newTestDispatcher(t, mock)
	tasks.gate = make(chan struct{})
	ctx := context.Background()

	require.True(t, d.Submit(ctx, Request{Code: "c"}))
	<-tasks.started

	mock.Add(10 * time.Minute)
	assert.False(t, d.CheckIdle(ctx))

	close(tasks.gate)
	d.Wait()
	assert.Equal(t, int32(0), tasks.cleanups.Load())

	// the timer dates from the accepted request, which is long past
	assert.True(t, d.CheckIdle(ctx))
	d.Wait()
	assert.Equal(t, int32(1), tasks.cleanups.Load())
}

func TestDispatcherAcceptResetsIdleTimer(t *testing.T) {
	mock := clock.NewMock()
	d, _, tasks := newTestDispatcher(t, mock)
	ctx := context.Background()

	mock.Add(170 * time.Second)
	assert.True(t, d.Handle(ctx, Request{Code: "a"}))

	mock.Add(170 * time.Second)
	assert.False(t, d.CheckIdle(ctx))

	// a dropped request does not count as activity
	assert.False(t, d.Handle(ctx, Request{Code: "x"}))
	mock.Add(10 * time.Second)
	assert.True(t, d.CheckIdle(ctx))
	d.Wait()
	assert.Equal(t, int32(1), tasks.cleanups.Load())
}

func TestDispatcherRunIntake(t *testing.T) {
	d, arm, tasks := newTestDispatcher(t, nil)
	intake := make(chan Request)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, intake) }()

	intake <- Request{Code: "e", Source: "test"}
	assert.Equal(t, Code("sharpener"), <-tasks.started)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), tasks.pickCount("sharpener"))

	require.NoError(t, d.Close())
	assert.Equal(t, 1, arm.closed)
}

func TestDispatcherStatusMap(t *testing.T) {
	d, _, tasks := newTestDispatcher(t, nil)
	tasks.gate = make(chan struct{})

	m := d.Status().Map()
	assert.Equal(t, "idle", m["state"])
	assert.NotContains(t, m, "code")

	require.True(t, d.Submit(context.Background(), Request{Code: "f"}))
	<-tasks.started
	m = d.Status().Map()
	assert.Equal(t, "busy", m["state"])
	assert.Equal(t, "f", m["code"])
	assert.Equal(t, "pick paper", m["command"])

	close(tasks.gate)
	d.Wait()
}

func TestDispatcherExclusive(t *testing.T) {
	d, arm, tasks := newTestDispatcher(t, nil)
	ctx := context.Background()

	var sawBusy bool
	err := d.Exclusive(ctx, func(ctx context.Context, link ArmLink) error {
		code, busy := d.Current()
		sawBusy = busy && code == CodeManual
		// commands are dropped while a manual move holds the arm
		assert.False(t, d.Handle(ctx, Request{Code: "b"}))
		return link.MoveJoints(ctx, ArmState{Gripper: 105}, MotionProfile{})
	})
	require.NoError(t, err)
	assert.True(t, sawBusy)
	assert.Equal(t, 1, arm.connects)
	assert.Equal(t, []ArmState{{Gripper: 105}}, arm.poses)
	assert.Equal(t, int32(0), tasks.cleanups.Load())
	assert.Equal(t, StateIdle, d.Status().State)

	tasks.gate = make(chan struct{})
	require.True(t, d.Submit(ctx, Request{Code: "c"}))
	<-tasks.started
	err = d.Exclusive(ctx, func(context.Context, ArmLink) error { return nil })
	assert.ErrorIs(t, err, ErrBusy)
	close(tasks.gate)
	d.Wait()
}

func TestDispatcherWithoutCleaner(t *testing.T) {
	mock := clock.NewMock()
	arm := &fakeArmLink{}
	d := NewDispatcher(DefaultDispatcherConfig(), arm, nil, logging.NewTestLogger(t), mock)
	ctx := context.Background()

	// home only needs the link
	require.True(t, d.Handle(ctx, Request{Code: "a"}))
	assert.Equal(t, 1, arm.homes)
	require.True(t, d.Handle(ctx, Request{Code: "c"}))
	assert.Equal(t, 1, arm.connects)
	_, ok := d.Cleaner()
	assert.False(t, ok)

	mock.Add(time.Hour)
	assert.False(t, d.CheckIdle(ctx))

	tasks := newFakeTasks()
	require.NoError(t, d.Attach(tasks, DispatcherConfig{IdleTimeout: time.Minute}))
	assert.ErrorIs(t, d.Attach(newFakeTasks(), DispatcherConfig{}), ErrCleanerAttached)

	// attaching restarts the idle timer
	assert.False(t, d.CheckIdle(ctx))
	mock.Add(time.Minute)
	require.True(t, d.CheckIdle(ctx))
	d.Wait()
	assert.Equal(t, int32(1), tasks.cleanups.Load())

	require.True(t, d.Handle(ctx, Request{Code: "c"}))
	assert.Equal(t, int32(1), tasks.pickCount("pen"))

	// only the attached tasks can be removed
	d.Detach(newFakeTasks())
	assert.ErrorIs(t, d.Attach(newFakeTasks(), DispatcherConfig{}), ErrCleanerAttached)

	d.Detach(tasks)
	mock.Add(time.Hour)
	assert.False(t, d.CheckIdle(ctx))
	require.NoError(t, d.Attach(newFakeTasks(), DispatcherConfig{}))
}
