package device

import (
	"github.com/itohio/golevel/pkg/sample"
)

// SensorSource produces a raw pressure sample pair for one tank on demand.
type SensorSource interface {
	sample.Source
}

// ValvePair drives the fill and drain valve outputs of one tank.
// true opens a valve, false closes it.
type ValvePair interface {
	Set(fill, drain bool)
}

// EnableLine is the operator enable switch.
type EnableLine interface {
	// Level returns the current line level; true means control enabled.
	Level() bool
	// OnEdge registers fn to be called on every rising and falling edge.
	// fn runs in the edge context and must not block.
	OnEdge(fn func())
}

// Ensure the simulated plant satisfies the hardware capabilities.
var (
	_ SensorSource = plantSensor{}
	_ ValvePair    = plantValves{}
	_ EnableLine   = plantSwitch{}
)
