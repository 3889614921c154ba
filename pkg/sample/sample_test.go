package sample

import (
	"testing"

	"github.com/itohio/golevel/pkg/config"
	"github.com/stretchr/testify/assert"
)

func TestAdcToVoltage(t *testing.T) {
	tests := []struct {
		name string
		adc  uint16
		want float32
	}{
		{"zero", 0, 0},
		{"full scale", 4095, 3.0},
		{"mid scale", 2048, 1.5004},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, adcToVoltage(tt.adc, 3.0, 4095), 0.001)
		})
	}
}

func TestVoltageDivider(t *testing.T) {
	// 220/280 divider recovers 500/280 of the measured voltage.
	assert.InDelta(t, 500.0/280.0, voltageDivider(1.0, 220, 280), 1e-6)
	assert.InDelta(t, 2.0, voltageDivider(1.0, 1000, 1000), 1e-6)
}

func TestConverter_Pressure(t *testing.T) {
	cfg := config.Default()
	conv := NewConverter(cfg.ADC, cfg.Sensor)

	// 0 counts -> 0 V -> sensor offset.
	assert.InDelta(t, -4000.0/9.0, conv.Pressure(RawSample{Signal: 0}), 0.01)

	// 2048 counts -> 1.5004 V measured -> 2.6792 V at the sensor.
	want := float32(20000.0/9.0)*2.67923 - 4000.0/9.0
	assert.InDelta(t, want, conv.Pressure(RawSample{Signal: 2048}), 1.0)
}

func TestConverter_ReferenceIgnored(t *testing.T) {
	cfg := config.Default()
	conv := NewConverter(cfg.ADC, cfg.Sensor)

	a := conv.Pressure(RawSample{Signal: 1000, Reference: 0})
	b := conv.Pressure(RawSample{Signal: 1000, Reference: 4095})
	assert.Equal(t, a, b)
}

func TestConverter_RawRoundTrip(t *testing.T) {
	cfg := config.Default()
	conv := NewConverter(cfg.ADC, cfg.Sensor)

	for _, counts := range []uint16{200, 1000, 2500, 4000} {
		p := conv.Pressure(RawSample{Signal: counts})
		assert.InDelta(t, float32(counts), conv.Raw(p), 0.05)
	}
}
