package scara_arm

import (
	"context"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.viam.com/rdk/logging"
)

func fastMacroConfig() MacroConfig {
	cfg := DefaultMacroConfig()
	cfg.SettleDelay = 0
	cfg.FinishDelay = 0
	return cfg
}

func TestPickAndPlaceSequence(t *testing.T) {
	mover := &recordingMover{}
	m := NewMacros(mover, fastMacroConfig(), logging.NewTestLogger(t))

	err := m.PickAndPlace(context.Background(), r3.Vector{X: 75, Y: 267}, r3.Vector{X: 115, Y: -80, Z: 50})
	require.NoError(t, err)
	require.Equal(t, PickAndPlaceSteps-1, mover.calls())

	type want struct {
		x, y       float64
		z, gripper *float64
	}
	f := func(v float64) *float64 { return &v }
	expected := []want{
		{75, 267, f(100), nil},
		{75, 267, nil, f(0)},
		{75, 267, f(0), f(0)},
		{75, 267, f(0), f(105)},
		{75, 267, f(100), f(105)},
		{115, -80, f(100), f(105)},
		{115, -80, f(50), f(105)},
		{115, -80, f(50), f(0)},
		{384.5, 0, f(100), nil},
	}
	for i, w := range expected {
		got := mover.targets[i]
		assert.Equal(t, w.x, got.X, "move %d", i+1)
		assert.Equal(t, w.y, got.Y, "move %d", i+1)
		assert.Equal(t, w.z, got.Z, "move %d", i+1)
		assert.Equal(t, w.gripper, got.Gripper, "move %d", i+1)
	}
}

func TestPickAndPlaceStopsAtFirstFailure(t *testing.T) {
	// the settle pause is step 6 and issues no move
	moveSteps := []int{1, 2, 3, 4, 5, 7, 8, 9, 10}
	boom := errors.New("no ack")

	for call, step := range moveSteps {
		mover := &recordingMover{failAt: call + 1, failErr: boom}
		m := NewMacros(mover, fastMacroConfig(), logging.NewTestLogger(t))

		err := m.PickAndPlace(context.Background(), r3.Vector{X: 75, Y: 267}, r3.Vector{X: 115, Y: -80, Z: 50})

		var stepErr *StepError
		require.True(t, errors.As(err, &stepErr), "step %d", step)
		assert.Equal(t, step, stepErr.Step)
		assert.True(t, errors.Is(err, boom))
		assert.Equal(t, call+1, mover.calls(), "no moves after failing step %d", step)
	}
}

func TestPickAndPlaceSettleCancelled(t *testing.T) {
	mover := &recordingMover{}
	m := NewMacros(mover, fastMacroConfig(), logging.NewTestLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.PickAndPlace(ctx, r3.Vector{X: 75, Y: 267}, r3.Vector{X: 115, Y: -80, Z: 50})

	var stepErr *StepError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, 6, stepErr.Step)
	assert.Equal(t, 5, mover.calls())
}

func TestReturnToHomeRetriesOnce(t *testing.T) {
	mover := &recordingMover{failAt: 1, failErr: errors.New("no ack")}
	m := NewMacros(mover, fastMacroConfig(), logging.NewTestLogger(t))

	assert.True(t, m.ReturnToHome(context.Background()))
	require.Equal(t, 2, mover.calls())
	assert.Equal(t, mover.targets[0], mover.targets[1])

	target := mover.targets[0]
	assert.Equal(t, 0.0, target.X)
	assert.Equal(t, 0.0, target.Y)
	assert.Equal(t, 100.0, *target.Z)
	assert.Equal(t, 0.0, *target.Phi)
	assert.Equal(t, 0.0, *target.Gripper)
}

func TestReturnToHomeDefaultPoseIsUnreachable(t *testing.T) {
	port := newFakePort(ackAll)
	link := newTestLink(t, port)
	m := NewMacros(link, fastMacroConfig(), logging.NewTestLogger(t))

	// (0, 0) sits inside the inner workspace radius, so both attempts are rejected
	// before anything is written
	assert.False(t, m.ReturnToHome(context.Background()))
	assert.Empty(t, port.written())
}

func TestReturnToHomeConfiguredPose(t *testing.T) {
	port := newFakePort(ackAll)
	link := newTestLink(t, port)

	cfg := fastMacroConfig()
	cfg.RecoveryPose = r3.Vector{X: 384, Y: 0, Z: 100}
	m := NewMacros(link, cfg, logging.NewTestLogger(t))

	assert.True(t, m.ReturnToHome(context.Background()))
	assert.Equal(t, []string{"2,0,-2,5,0,100,0,5000,3000\n"}, port.written())
}

func TestPickAndPlaceOverLink(t *testing.T) {
	port := newFakePort(ackAll)
	link := newTestLink(t, port)
	m := NewMacros(link, fastMacroConfig(), logging.NewTestLogger(t))

	require.NoError(t, m.PickAndPlace(context.Background(), r3.Vector{X: 75, Y: 267}, r3.Vector{X: 115, Y: -80, Z: 50}))
	writes := port.written()
	require.Len(t, writes, 9)
	assert.Equal(t, "2,0,39,89,0,100,0,5000,3000\n", writes[0])
	assert.Equal(t, "2,0,-77,142,0,50,0,5000,3000\n", writes[7])

	state := link.State()
	assert.Equal(t, 100.0, state.Z)
	assert.Equal(t, 0.0, state.Gripper)
}
