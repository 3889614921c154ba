package tank

import (
	"fmt"
	"time"
)

// ID identifies one of the two tanks.
type ID int

const (
	Tank1 ID = iota
	Tank2
)

// Count is the number of tanks the controller manages.
const Count = 2

// IDs lists all tanks in index order.
var IDs = [Count]ID{Tank1, Tank2}

func (id ID) String() string {
	switch id {
	case Tank1:
		return "tank1"
	case Tank2:
		return "tank2"
	default:
		return fmt.Sprintf("tank%d", int(id)+1)
	}
}

// Valid reports whether id names a managed tank.
func (id ID) Valid() bool {
	return id == Tank1 || id == Tank2
}

// Parse converts "tank1"/"tank2" (or "1"/"2") to an ID.
func Parse(s string) (ID, error) {
	switch s {
	case "tank1", "1":
		return Tank1, nil
	case "tank2", "2":
		return Tank2, nil
	}
	return 0, fmt.Errorf("unknown tank %q", s)
}

// Thresholds holds the level band and calibration of a single tank.
// Heights are in centimetres, pressures in pascal.
type Thresholds struct {
	MinFill            float32
	FillTo             float32
	DrainTo            float32
	MaxFill            float32
	UsableHeightOffset float32 // heights below this are reported as 0
	ZeroPressureOffset float32 // pressure at the sensor with an empty tank
	CalibrationA       float32 // height = A*(pressure-ZeroPressureOffset) + B
	CalibrationB       float32
	SamplePeriod       time.Duration
}

// Ordered reports whether MinFill < FillTo < DrainTo < MaxFill.
func (t Thresholds) Ordered() bool {
	return t.MinFill < t.FillTo && t.FillTo < t.DrainTo && t.DrainTo < t.MaxFill
}

// DefaultThresholds returns the board calibration for the given tank.
func DefaultThresholds(id ID) Thresholds {
	th := Thresholds{
		MinFill:      10.0,
		FillTo:       20.0,
		DrainTo:      50.0,
		MaxFill:      60.0,
		CalibrationA: 0.0124,
		CalibrationB: 1.656,
		SamplePeriod: time.Second,
	}
	switch id {
	case Tank1:
		th.UsableHeightOffset = 4.0
		th.ZeroPressureOffset = 140.183
	case Tank2:
		th.UsableHeightOffset = 2.0
		th.ZeroPressureOffset = 221.583
	}
	return th
}

// ValveCommand is a request delivered to a valve actuator. The command carries
// no payload; the mailbox it arrives on determines its meaning.
type ValveCommand int

const (
	Fill ValveCommand = iota
	StopFill
	Drain
	StopDrain
)

// Commands lists every valve command in actuator poll order.
var Commands = [...]ValveCommand{StopFill, Fill, StopDrain, Drain}

func (c ValveCommand) String() string {
	switch c {
	case Fill:
		return "fill"
	case StopFill:
		return "stop_fill"
	case Drain:
		return "drain"
	case StopDrain:
		return "stop_drain"
	default:
		return fmt.Sprintf("command%d", int(c))
	}
}

// Reading is a height report produced by a measurement loop.
type Reading struct {
	Tank   ID
	Height float32
}

// State is the mutable control state owned by one measurement loop.
type State struct {
	Filling        bool
	Draining       bool
	ControlEnabled bool
}

// Check panics if the tank is marked as filling and draining at once.
// That combination is unreachable by construction; hitting it is a bug.
func (s State) Check(id ID) {
	if s.Filling && s.Draining {
		panic(fmt.Sprintf("%s: filling and draining at the same time", id))
	}
}
