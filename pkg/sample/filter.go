package sample

import (
	"github.com/itohio/golevel/pkg/tank"
)

// WindowWidth is the number of pressure samples in the moving average.
const WindowWidth = 20

// Source produces raw sample pairs on demand.
type Source interface {
	Read() RawSample
}

// Filter smooths instantaneous pressure with a fixed-width moving average and
// converts the average into tank height.
//
// By default the mean is taken over all WindowWidth slots from the first
// sample on, so the first WindowWidth heights are biased toward zero while
// the window fills. With filledOnly set, only the slots written so far count.
type Filter struct {
	conv       Converter
	th         tank.Thresholds
	filledOnly bool

	window [WindowWidth]float32
	cursor int
	filled int
}

// NewFilter creates a filter for one tank.
func NewFilter(conv Converter, th tank.Thresholds, filledOnly bool) *Filter {
	return &Filter{
		conv:       conv,
		th:         th,
		filledOnly: filledOnly,
	}
}

// Sample reads one raw pair from src and returns the smoothed height.
func (f *Filter) Sample(src Source) float32 {
	raw := src.Read()
	return f.Height(f.Push(f.conv.Pressure(raw)))
}

// Push stores an instantaneous pressure in the ring buffer and returns the
// averaged pressure.
func (f *Filter) Push(pressure float32) float32 {
	f.window[f.cursor] = pressure
	f.cursor++
	if f.cursor >= WindowWidth {
		f.cursor = 0
	}
	if f.filled < WindowWidth {
		f.filled++
	}

	var sum float32
	for _, p := range f.window {
		sum += p
	}

	n := float32(WindowWidth)
	if f.filledOnly {
		n = float32(f.filled)
	}
	return sum / n
}

// Height converts averaged pressure to height, clamped to 0 below the usable
// height offset.
func (f *Filter) Height(avgPressure float32) float32 {
	h := f.th.CalibrationA*(avgPressure-f.th.ZeroPressureOffset) + f.th.CalibrationB
	if h < f.th.UsableHeightOffset {
		return 0
	}
	return h
}

// PressureForHeight returns the averaged pressure at which the calibration
// yields the given height.
func PressureForHeight(th tank.Thresholds, height float32) float32 {
	return (height-th.CalibrationB)/th.CalibrationA + th.ZeroPressureOffset
}
