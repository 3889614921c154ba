package sample

import (
	"github.com/itohio/golevel/pkg/config"
)

// RawSample is one pair of ADC conversions for a tank: the sensor signal
// channel and the shared ground-reference channel.
type RawSample struct {
	Signal    uint16 // 12-bit ADC reading of the sensor output (0-4095)
	Reference uint16 // 12-bit ADC reading of the ground reference (0-4095)
}

// Converter turns raw ADC counts into instantaneous pressure.
type Converter struct {
	vref   float32
	levels float32
	r1, r2 float32
	gain   float32
	offset float32
}

// NewConverter creates a converter from the ADC and sensor configuration.
func NewConverter(adc config.ADCConfig, sensor config.SensorConfig) Converter {
	return Converter{
		vref:   adc.VRef,
		levels: adc.Levels,
		r1:     adc.R1,
		r2:     adc.R2,
		gain:   sensor.Gain,
		offset: sensor.Offset,
	}
}

// Pressure converts a raw sample into instantaneous pressure (Pa).
// The reference channel is carried along but not subtracted, matching the
// board firmware the calibration constants were fitted against.
func (c Converter) Pressure(raw RawSample) float32 {
	measured := adcToVoltage(raw.Signal, c.vref, c.levels)
	sensor := voltageDivider(measured, c.r1, c.r2)
	return c.gain*sensor + c.offset
}

// Raw is the inverse of Pressure: the signal count that would produce the
// given pressure. Used by the simulated plant.
func (c Converter) Raw(pressure float32) float32 {
	sensor := (pressure - c.offset) / c.gain
	measured := sensor * c.r2 / (c.r1 + c.r2)
	return measured * c.levels / c.vref
}

// adcToVoltage converts an ADC reading to voltage.
func adcToVoltage(adc uint16, vref, levels float32) float32 {
	return float32(adc) * (vref / levels)
}

// voltageDivider calculates the input voltage from the measured output voltage.
// Formula: V_in = V_out * ((R1 + R2) / R2)
func voltageDivider(vout float32, r1, r2 float32) float32 {
	return vout * ((r1 + r2) / r2)
}
