package control

import (
	"github.com/itohio/golevel/pkg/tank"
)

// Hysteresis maps a smoothed height and the current fill/drain flags to valve
// commands. Filling starts at MinFill and stops at FillTo; draining starts
// at MaxFill and stops at DrainTo.
type Hysteresis struct {
	th tank.Thresholds
}

// NewHysteresis creates a controller for one tank's thresholds.
func NewHysteresis(th tank.Thresholds) Hysteresis {
	return Hysteresis{th: th}
}

// Evaluate updates st for the given height and returns the commands to send,
// at most one per axis. Stop commands are decided before start commands and
// a start is refused while the other axis is active, so Filling and Draining
// are never both set on return.
func (h Hysteresis) Evaluate(height float32, st *tank.State) []tank.ValveCommand {
	var cmds []tank.ValveCommand

	if st.Filling && height >= h.th.FillTo {
		st.Filling = false
		cmds = append(cmds, tank.StopFill)
	}
	if st.Draining && height <= h.th.DrainTo {
		st.Draining = false
		cmds = append(cmds, tank.StopDrain)
	}

	if !st.Filling && !st.Draining && height <= h.th.MinFill {
		st.Filling = true
		cmds = append(cmds, tank.Fill)
	}
	if !st.Draining && !st.Filling && height >= h.th.MaxFill {
		st.Draining = true
		cmds = append(cmds, tank.Drain)
	}

	return cmds
}
