package control

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/itohio/golevel/pkg/signal"
	"github.com/itohio/golevel/pkg/tank"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingValves struct {
	mu     sync.Mutex
	fill   bool
	drain  bool
	writes int
}

func (v *recordingValves) Set(fill, drain bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.fill, v.drain = fill, drain
	v.writes++
}

func (v *recordingValves) state() (fill, drain bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.fill, v.drain
}

func (v *recordingValves) count() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.writes
}

var fastActuator = ActuatorConfig{
	Poll:          2 * time.Millisecond,
	SignalTimeout: time.Millisecond,
}

func TestActuator_StartsClosed(t *testing.T) {
	valves := &recordingValves{fill: true, drain: true}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := StartActuator(ctx, tank.Tank1, signal.NewValveChannels(), valves, fastActuator)

	fill, drain := valves.state()
	assert.False(t, fill)
	assert.False(t, drain)
	assert.Equal(t, tank.Tank1, a.Tank())
}

func TestActuator_AppliesCommands(t *testing.T) {
	valves := &recordingValves{}
	ch := signal.NewValveChannels()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	StartActuator(ctx, tank.Tank2, ch, valves, fastActuator)

	ch.Send(tank.Fill)
	require.Eventually(t, func() bool {
		fill, _ := valves.state()
		return fill
	}, time.Second, time.Millisecond)

	ch.Send(tank.StopFill)
	require.Eventually(t, func() bool {
		fill, _ := valves.state()
		return !fill
	}, time.Second, time.Millisecond)

	ch.Send(tank.Drain)
	require.Eventually(t, func() bool {
		_, drain := valves.state()
		return drain
	}, time.Second, time.Millisecond)

	ch.Send(tank.StopDrain)
	require.Eventually(t, func() bool {
		_, drain := valves.state()
		return !drain
	}, time.Second, time.Millisecond)
}

func TestActuator_DeleteClosesValvesAndStops(t *testing.T) {
	valves := &recordingValves{}
	ch := signal.NewValveChannels()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := StartActuator(ctx, tank.Tank1, ch, valves, fastActuator)

	ch.Send(tank.Drain)
	require.Eventually(t, func() bool {
		_, drain := valves.state()
		return drain
	}, time.Second, time.Millisecond)

	ch.Delete.Give()
	select {
	case <-a.Done():
	case <-time.After(time.Second):
		t.Fatal("actuator did not terminate after delete")
	}

	fill, drain := valves.state()
	assert.False(t, fill)
	assert.False(t, drain)

	// No longer responsive.
	writes := valves.count()
	ch.Send(tank.Fill)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, writes, valves.count())
	assert.True(t, ch.Fill.Pending(), "nobody consumes signals after termination")
}

func TestActuator_CommandAndDeleteInSameWindow(t *testing.T) {
	valves := &recordingValves{}
	ch := signal.NewValveChannels()

	// Both pending before the worker's first pass.
	ch.Send(tank.Fill)
	ch.Delete.Give()

	var applied []tank.ValveCommand
	var mu sync.Mutex
	a := startActuator(context.Background(), tank.Tank1, ch, valves, fastActuator, func(_ tank.ID, cmd tank.ValveCommand) {
		mu.Lock()
		defer mu.Unlock()
		applied = append(applied, cmd)
	})
	require.NoError(t, a.Wait(context.Background()))

	mu.Lock()
	assert.Equal(t, []tank.ValveCommand{tank.Fill}, applied)
	mu.Unlock()

	fill, drain := valves.state()
	assert.False(t, fill)
	assert.False(t, drain)
}

func TestActuator_PollOrder(t *testing.T) {
	valves := &recordingValves{}
	ch := signal.NewValveChannels()
	for _, cmd := range []tank.ValveCommand{tank.Drain, tank.Fill, tank.StopDrain, tank.StopFill} {
		ch.Send(cmd)
	}
	ch.Delete.Give()

	var applied []tank.ValveCommand
	a := startActuator(context.Background(), tank.Tank1, ch, valves, fastActuator, func(_ tank.ID, cmd tank.ValveCommand) {
		applied = append(applied, cmd)
	})
	require.NoError(t, a.Wait(context.Background()))

	assert.Equal(t, []tank.ValveCommand{tank.StopFill, tank.Fill, tank.StopDrain, tank.Drain}, applied)
}

func TestActuator_WaitCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a := StartActuator(ctx, tank.Tank1, signal.NewValveChannels(), &recordingValves{}, fastActuator)

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer waitCancel()
	assert.ErrorIs(t, a.Wait(waitCtx), context.DeadlineExceeded)
}
