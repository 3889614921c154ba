//go:build tinygo

//go:generate tinygo flash -target=pico

package main

import (
	"context"
	"log"
	"machine"
	"time"

	"github.com/itohio/golevel/pkg/config"
	"github.com/itohio/golevel/pkg/control"
	"github.com/itohio/golevel/pkg/device"
	"github.com/itohio/golevel/pkg/meter"
	"github.com/itohio/golevel/pkg/signal"
	"github.com/itohio/golevel/pkg/tank"
	"github.com/itohio/golevel/pkg/transport"
)

var uart = machine.UART0

func main() {
	// The board has no file system; it runs on the built-in defaults.
	cfg := config.Default()

	uart.Configure(machine.UARTConfig{
		BaudRate: UART_BAUD_RATE,
		TX:       PIN_UART_TX,
		RX:       PIN_UART_RX,
	})

	machine.InitADC()
	reference := machine.ADC{Pin: PIN_ADC_REFERENCE}
	reference.Configure(machine.ADCConfig{})

	sensors := [tank.Count]device.SensorSource{
		newSensor(PIN_ADC_TANK1, reference),
		newSensor(PIN_ADC_TANK2, reference),
	}
	valves := [tank.Count]device.ValvePair{
		newValves(PIN_FILL1, PIN_DRAIN1),
		newValves(PIN_FILL2, PIN_DRAIN2),
	}
	enable := newSwitch(PIN_ENABLE)

	ctx := context.Background()
	bus := signal.NewBus()

	var timeouts [tank.Count]time.Duration
	for _, id := range tank.IDs {
		loop := meter.New(cfg, id, sensors[id], bus.Link(id))
		go loop.Run(ctx)
		timeouts[id] = cfg.ReadingTimeout(id)
	}

	sup := control.NewSupervisor(bus, enable, valves, control.NewSupervisorConfig(cfg))
	go sup.Run(ctx)
	go enable.watch(ctx)

	log.Printf("tank controller ready, enable switch %t", enable.Level())

	srv := transport.NewServer(uartPort{uart: uart}, bus, timeouts)
	if err := srv.Serve(ctx); err != nil {
		log.Printf("transport: %v", err)
	}
}
