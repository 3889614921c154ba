package control

import (
	"testing"

	"github.com/itohio/golevel/pkg/tank"
	"github.com/stretchr/testify/assert"
)

var testBand = tank.Thresholds{MinFill: 10, FillTo: 20, DrainTo: 50, MaxFill: 60}

func TestHysteresis_Transitions(t *testing.T) {
	tests := []struct {
		name   string
		height float32
		in     tank.State
		want   []tank.ValveCommand
		out    tank.State
	}{
		{"idle in band", 30, tank.State{}, nil, tank.State{}},
		{"idle at min starts fill", 10, tank.State{}, []tank.ValveCommand{tank.Fill}, tank.State{Filling: true}},
		{"idle below min starts fill", 2, tank.State{}, []tank.ValveCommand{tank.Fill}, tank.State{Filling: true}},
		{"filling below fill_to continues", 19.9, tank.State{Filling: true}, nil, tank.State{Filling: true}},
		{"filling at fill_to stops", 20, tank.State{Filling: true}, []tank.ValveCommand{tank.StopFill}, tank.State{}},
		{"idle at max starts drain", 60, tank.State{}, []tank.ValveCommand{tank.Drain}, tank.State{Draining: true}},
		{"draining above drain_to continues", 50.1, tank.State{Draining: true}, nil, tank.State{Draining: true}},
		{"draining at drain_to stops", 50, tank.State{Draining: true}, []tank.ValveCommand{tank.StopDrain}, tank.State{}},
		{"filling jumps above max", 70, tank.State{Filling: true}, []tank.ValveCommand{tank.StopFill, tank.Drain}, tank.State{Draining: true}},
		{"draining drops below min", 5, tank.State{Draining: true}, []tank.ValveCommand{tank.StopDrain, tank.Fill}, tank.State{Filling: true}},
	}

	h := NewHysteresis(testBand)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := tt.in
			got := h.Evaluate(tt.height, &st)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.out, st)
		})
	}
}

func TestHysteresis_MonotonicSweep(t *testing.T) {
	h := NewHysteresis(testBand)
	var st tank.State
	var cmds []tank.ValveCommand

	for height := float32(0); height <= 70; height += 0.5 {
		cmds = append(cmds, h.Evaluate(height, &st)...)
	}
	assert.Equal(t, []tank.ValveCommand{tank.Fill, tank.StopFill, tank.Drain}, cmds)

	cmds = nil
	for height := float32(70); height > 10; height -= 0.5 {
		cmds = append(cmds, h.Evaluate(height, &st)...)
	}
	assert.Equal(t, []tank.ValveCommand{tank.StopDrain}, cmds, "no fill until min_fill is reached again")

	assert.Equal(t, []tank.ValveCommand{tank.Fill}, h.Evaluate(10, &st))
}

func TestHysteresis_ScenarioSequence(t *testing.T) {
	h := NewHysteresis(testBand)
	var st tank.State

	// One reading per tick with control enabled throughout. 65 is the first
	// reading at or above max_fill.
	heights := []float32{8, 15, 22, 65, 48}
	want := [][]tank.ValveCommand{
		{tank.Fill},
		nil,
		{tank.StopFill},
		{tank.Drain},
		{tank.StopDrain},
	}

	for i, height := range heights {
		assert.Equal(t, want[i], h.Evaluate(height, &st), "tick %d height %v", i, height)
	}
}

func TestHysteresis_NeverFillAndDrain(t *testing.T) {
	h := NewHysteresis(testBand)
	var st tank.State

	// Jagged sequence crossing every threshold in both directions.
	heights := []float32{0, 65, 5, 70, 49, 9, 61, 21, 51, 0, 100, 0}
	for _, height := range heights {
		h.Evaluate(height, &st)
		assert.False(t, st.Filling && st.Draining, "height %v", height)
		assert.NotPanics(t, func() { st.Check(tank.Tank1) })
	}
}
