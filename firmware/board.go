//go:build tinygo

package main

import (
	"context"
	"machine"
	"sync/atomic"
	"time"

	"github.com/itohio/golevel/pkg/device"
	"github.com/itohio/golevel/pkg/sample"
)

// adcSensor reads one tank sensor and the shared reference channel.
type adcSensor struct {
	signal    machine.ADC
	reference machine.ADC
}

func newSensor(pin machine.Pin, reference machine.ADC) adcSensor {
	adc := machine.ADC{Pin: pin}
	adc.Configure(machine.ADCConfig{})
	return adcSensor{signal: adc, reference: reference}
}

func (s adcSensor) Read() sample.RawSample {
	return sample.RawSample{
		Signal:    s.signal.Get() >> ADC_SHIFT,
		Reference: s.reference.Get() >> ADC_SHIFT,
	}
}

// pinValves drives the fill and drain valves of one tank.
type pinValves struct {
	fill  machine.Pin
	drain machine.Pin
}

func newValves(fill, drain machine.Pin) pinValves {
	fill.Configure(machine.PinConfig{Mode: machine.PinOutput})
	drain.Configure(machine.PinConfig{Mode: machine.PinOutput})
	fill.Low()
	drain.Low()
	return pinValves{fill: fill, drain: drain}
}

func (v pinValves) Set(fill, drain bool) {
	v.fill.Set(fill)
	v.drain.Set(drain)
}

// pinSwitch is the enable switch. The interrupt handler only raises a flag;
// watch delivers the edge to the registered callback outside interrupt
// context.
type pinSwitch struct {
	pin     machine.Pin
	pending atomic.Bool
	onEdge  atomic.Pointer[func()]
}

func newSwitch(pin machine.Pin) *pinSwitch {
	s := &pinSwitch{pin: pin}
	pin.Configure(machine.PinConfig{Mode: machine.PinInputPulldown})
	pin.SetInterrupt(machine.PinToggle, func(machine.Pin) {
		s.pending.Store(true)
	})
	return s
}

func (s *pinSwitch) Level() bool {
	return s.pin.Get()
}

func (s *pinSwitch) OnEdge(fn func()) {
	s.onEdge.Store(&fn)
}

func (s *pinSwitch) watch(ctx context.Context) {
	ticker := time.NewTicker(EDGE_POLL_MS * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !s.pending.Swap(false) {
			continue
		}
		if fn := s.onEdge.Load(); fn != nil {
			(*fn)()
		}
	}
}

// uartPort adapts the UART to the transport. Read never waits: it returns
// zero bytes when nothing is buffered.
type uartPort struct {
	uart *machine.UART
}

func (p uartPort) Read(buf []byte) (int, error) {
	n := 0
	for n < len(buf) && p.uart.Buffered() > 0 {
		b, err := p.uart.ReadByte()
		if err != nil {
			break
		}
		buf[n] = b
		n++
	}
	return n, nil
}

func (p uartPort) Write(buf []byte) (int, error) {
	return p.uart.Write(buf)
}

var (
	_ device.SensorSource = adcSensor{}
	_ device.ValvePair    = pinValves{}
	_ device.EnableLine   = (*pinSwitch)(nil)
)
