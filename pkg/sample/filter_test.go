package sample

import (
	"testing"

	"github.com/itohio/golevel/pkg/config"
	"github.com/itohio/golevel/pkg/tank"
	"github.com/stretchr/testify/assert"
)

type constSource struct {
	raw   RawSample
	reads int
}

func (s *constSource) Read() RawSample {
	s.reads++
	return s.raw
}

func newTestFilter(filledOnly bool) *Filter {
	cfg := config.Default()
	return NewFilter(NewConverter(cfg.ADC, cfg.Sensor), cfg.Thresholds(tank.Tank1), filledOnly)
}

func TestFilter_ConstantInputConverges(t *testing.T) {
	f := newTestFilter(false)
	const p = float32(3000)

	var avg float32
	for i := 0; i < WindowWidth; i++ {
		avg = f.Push(p)
	}
	assert.InDelta(t, p, avg, 0.01)

	// Staying constant keeps the average pinned.
	for i := 0; i < 3*WindowWidth; i++ {
		avg = f.Push(p)
	}
	assert.InDelta(t, p, avg, 0.01)
}

func TestFilter_StartupBiasTowardZero(t *testing.T) {
	f := newTestFilter(false)
	const p = float32(2000)

	assert.InDelta(t, p/WindowWidth, f.Push(p), 0.01)
	for i := 1; i < WindowWidth/2-1; i++ {
		f.Push(p)
	}
	assert.InDelta(t, p/2, f.Push(p), 0.01)
}

func TestFilter_FilledOnly(t *testing.T) {
	f := newTestFilter(true)

	assert.InDelta(t, 2000, f.Push(2000), 0.01)
	assert.InDelta(t, 3000, f.Push(4000), 0.01)
	assert.InDelta(t, 2000, f.Push(0), 0.01)
}

func TestFilter_RingWraps(t *testing.T) {
	f := newTestFilter(false)

	for i := 0; i < WindowWidth; i++ {
		f.Push(1000)
	}
	assert.Equal(t, 0, f.cursor)

	// One new value replaces exactly the oldest slot.
	avg := f.Push(3000)
	assert.Equal(t, 1, f.cursor)
	assert.InDelta(t, 1000+2000.0/WindowWidth, avg, 0.01)
}

func TestFilter_Height(t *testing.T) {
	f := newTestFilter(false)
	th := tank.DefaultThresholds(tank.Tank1)

	tests := []struct {
		name     string
		pressure float32
		want     float32
	}{
		{"zero pressure offset clamps", th.ZeroPressureOffset, 0},
		{"just below usable offset", PressureForHeight(th, 3.9), 0},
		{"above usable offset", PressureForHeight(th, 4.1), 4.1},
		{"mid tank", PressureForHeight(th, 35), 35},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, f.Height(tt.pressure), 0.01)
		})
	}
}

func TestFilter_SampleConstantHeight(t *testing.T) {
	cfg := config.Default()
	conv := NewConverter(cfg.ADC, cfg.Sensor)
	th := cfg.Thresholds(tank.Tank1)
	f := NewFilter(conv, th, false)

	// Pick an exact ADC count and the height it maps to.
	src := &constSource{raw: RawSample{Signal: 700, Reference: 12}}
	want := f.Height(conv.Pressure(src.raw))

	var h float32
	for i := 0; i < WindowWidth; i++ {
		h = f.Sample(src)
	}
	assert.Equal(t, WindowWidth, src.reads)
	assert.InDelta(t, want, h, 0.01)
}
