package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/itohio/golevel/pkg/api"
	"github.com/itohio/golevel/pkg/config"
	"github.com/itohio/golevel/pkg/control"
	"github.com/itohio/golevel/pkg/device"
	"github.com/itohio/golevel/pkg/meter"
	sigbus "github.com/itohio/golevel/pkg/signal"
	"github.com/itohio/golevel/pkg/tank"
	"github.com/itohio/golevel/pkg/telemetry"
	"github.com/itohio/golevel/pkg/transport"
)

// daemon owns the simulated plant, the control core and its outer surfaces.
type daemon struct {
	cfg *config.Config

	plant   *device.Plant
	bus     *sigbus.Bus
	loops   [tank.Count]*meter.Loop
	sup     *control.Supervisor
	metrics *telemetry.Metrics
	history *api.History

	mqttClient mqtt.Client
	port       io.ReadWriteCloser
}

func newDaemon(cfg *config.Config) (*daemon, error) {
	d := &daemon{
		cfg:     cfg,
		plant:   device.NewPlant(cfg),
		bus:     sigbus.NewBus(),
		metrics: telemetry.NewMetrics(),
		history: api.NewHistory(cfg.HTTP.HistoryWindow),
	}

	var valves [tank.Count]device.ValvePair
	for _, id := range tank.IDs {
		d.loops[id] = meter.New(cfg, id, d.plant.Sensor(id), d.bus.Link(id))
		d.loops[id].OnUpdate(d.metrics.ObserveSnapshot)
		d.loops[id].OnUpdate(d.history.Add)
		valves[id] = d.plant.Valves(id)
	}

	d.sup = control.NewSupervisor(d.bus, d.plant.Switch(), valves, control.NewSupervisorConfig(cfg))
	d.sup.OnCommand(d.metrics.ObserveCommand)
	d.sup.OnTransition(d.metrics.ObserveTransition)
	d.sup.OnTransition(func(st control.State) {
		log.Printf("control %s", st)
	})

	if cfg.MQTT.Broker != "" {
		client, err := telemetry.Connect(cfg.MQTT)
		if err != nil {
			// Telemetry is optional; the controller runs without it.
			log.Printf("mqtt: %v, publishing disabled", err)
		} else {
			d.mqttClient = client
			d.wirePublisher(client)
		}
	}

	if cfg.Serial.Port != "" {
		port, err := transport.Open(cfg.Serial.Port, cfg.Serial.BaudRate, cfg.Serial.ReadTimeout)
		if err != nil {
			d.close()
			return nil, err
		}
		log.Printf("serial: serving on %s at %d baud", cfg.Serial.Port, cfg.Serial.BaudRate)
		d.port = port
	}

	return d, nil
}

func (d *daemon) wirePublisher(client telemetry.Client) {
	var interval [tank.Count]time.Duration
	for _, id := range tank.IDs {
		interval[id] = d.cfg.Tank(id).SamplePeriod
	}
	pub := telemetry.NewPublisher(client, d.cfg.MQTT.TopicPrefix, interval)
	for _, l := range d.loops {
		l.OnUpdate(pub.PublishSnapshot)
	}
	d.sup.OnTransition(pub.PublishTransition)
}

// run starts every worker and blocks until ctx is cancelled or one of them
// fails. All workers have exited when it returns.
func (d *daemon) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer d.close()

	var wg sync.WaitGroup
	errCh := make(chan error, 8)
	start := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("%s: %w", name, err)
				cancel()
			}
		}()
	}

	start("plant", func(ctx context.Context) error {
		d.plant.Run(ctx)
		return nil
	})
	start("supervisor", d.sup.Run)
	for _, l := range d.loops {
		start(l.Tank().String(), l.Run)
	}

	if d.port != nil {
		var timeouts [tank.Count]time.Duration
		for _, id := range tank.IDs {
			timeouts[id] = d.cfg.ReadingTimeout(id)
		}
		srv := transport.NewServer(d.port, d.bus, timeouts)
		srv.OnRequest(d.metrics.ObserveRequest)
		start("transport", srv.Serve)
	}

	if d.cfg.HTTP.Listen != "" {
		srv := api.NewServer(api.Options{
			Loops:   [tank.Count]api.Snapshotter{d.loops[tank.Tank1], d.loops[tank.Tank2]},
			Control: d.sup,
			Switch:  d.plant,
			History: d.history,
			Metrics: d.metrics.Handler(),
		})
		start("http", func(ctx context.Context) error {
			return srv.ListenAndServe(ctx, d.cfg.HTTP.Listen)
		})
	}

	log.Printf("tankd: running, enable switch %t", d.plant.Enabled())
	<-ctx.Done()
	wg.Wait()

	select {
	case err := <-errCh:
		return err
	default:
		return ctx.Err()
	}
}

func (d *daemon) close() {
	if d.port != nil {
		if err := d.port.Close(); err != nil {
			log.Printf("serial: close: %v", err)
		}
		d.port = nil
	}
	if d.mqttClient != nil {
		d.mqttClient.Disconnect(250)
		d.mqttClient = nil
	}
}
