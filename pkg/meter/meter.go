package meter

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/itohio/golevel/pkg/config"
	"github.com/itohio/golevel/pkg/control"
	"github.com/itohio/golevel/pkg/sample"
	"github.com/itohio/golevel/pkg/signal"
	"github.com/itohio/golevel/pkg/tank"
)

var _ Estimator = (*sample.Filter)(nil)

// Estimator turns raw sensor samples into a smoothed tank height.
type Estimator interface {
	Sample(src sample.Source) float32
}

// Snapshot is the observable state of one tank after a measurement cycle.
type Snapshot struct {
	Tank           tank.ID
	Height         float32
	Filling        bool
	Draining       bool
	ControlEnabled bool
	Commands       []tank.ValveCommand // commands raised this cycle
	Dropped        int                 // commands that found no free actuator mailbox
	Time           time.Time
}

// Config is the timing of a measurement loop.
type Config struct {
	Period             time.Duration // sample period
	RequestTimeout     time.Duration // wait per mailbox check
	ReadingSendTimeout time.Duration // max block on a full readings queue
}

// NewConfig extracts the loop timing of one tank from the configuration.
func NewConfig(cfg *config.Config, id tank.ID) Config {
	return Config{
		Period:             cfg.Tank(id).SamplePeriod,
		RequestTimeout:     cfg.Control.RequestTimeout,
		ReadingSendTimeout: cfg.Control.ReadingSendTimeout,
	}
}

// Loop is the measurement loop of one tank. Every period it samples the
// sensor, tracks the control state announced by the supervisor, runs the
// hysteresis controller while control is enabled and answers pending height
// requests.
//
// The tank state is owned by the goroutine running Run. Other goroutines only
// observe it through Latest and OnUpdate.
type Loop struct {
	id   tank.ID
	cfg  Config
	est  Estimator
	src  sample.Source
	link *signal.Link
	hyst control.Hysteresis

	state tank.State

	mu   sync.RWMutex
	last Snapshot

	callbacks []func(Snapshot)
	cbMu      sync.RWMutex

	now func() time.Time
}

// New creates the measurement loop of one tank with a PressureFilter built
// from the configuration.
func New(cfg *config.Config, id tank.ID, src sample.Source, link *signal.Link) *Loop {
	th := cfg.Thresholds(id)
	filter := sample.NewFilter(sample.NewConverter(cfg.ADC, cfg.Sensor), th, cfg.Control.AverageFilledOnly)
	return NewLoop(id, NewConfig(cfg, id), th, filter, src, link)
}

// NewLoop creates a measurement loop from its parts.
func NewLoop(id tank.ID, cfg Config, th tank.Thresholds, est Estimator, src sample.Source, link *signal.Link) *Loop {
	return &Loop{
		id:   id,
		cfg:  cfg,
		est:  est,
		src:  src,
		link: link,
		hyst: control.NewHysteresis(th),
		last: Snapshot{Tank: id},
		now:  time.Now,
	}
}

// Tank returns the tank this loop measures.
func (l *Loop) Tank() tank.ID {
	return l.id
}

// Run measures until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.cfg.Period)
	defer ticker.Stop()

	for {
		l.step()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Latest returns the snapshot of the most recent cycle.
func (l *Loop) Latest() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.last
}

// OnUpdate registers a callback invoked after every cycle. The callback runs
// on the measurement goroutine and should return quickly.
func (l *Loop) OnUpdate(callback func(Snapshot)) {
	l.cbMu.Lock()
	defer l.cbMu.Unlock()
	l.callbacks = append(l.callbacks, callback)
}

// step performs one measurement cycle.
func (l *Loop) step() Snapshot {
	l.pollControl()

	height := l.est.Sample(l.src)

	var (
		cmds    []tank.ValveCommand
		dropped int
	)
	if l.state.ControlEnabled {
		cmds = l.hyst.Evaluate(height, &l.state)
		// Channels are absent while no actuator is live; sends are then dropped.
		valves := l.link.Valves()
		for _, cmd := range cmds {
			if !valves.Send(cmd) {
				dropped++
			}
		}
	} else {
		l.state.Filling = false
		l.state.Draining = false
	}
	l.state.Check(l.id)

	if l.link.Request.TryTake(l.cfg.RequestTimeout) {
		r := tank.Reading{Tank: l.id, Height: height}
		if !l.link.PushReading(r, l.cfg.ReadingSendTimeout) {
			log.Printf("%s: readings queue full, reading dropped", l.id)
		}
	}

	snap := Snapshot{
		Tank:           l.id,
		Height:         height,
		Filling:        l.state.Filling,
		Draining:       l.state.Draining,
		ControlEnabled: l.state.ControlEnabled,
		Commands:       cmds,
		Dropped:        dropped,
		Time:           l.now(),
	}

	l.mu.Lock()
	l.last = snap
	l.mu.Unlock()

	l.notifyCallbacks(snap)
	return snap
}

// pollControl applies pending control-on/control-off notifications.
func (l *Loop) pollControl() {
	on := l.link.ControlOn.TryTake(l.cfg.RequestTimeout)
	off := l.link.ControlOff.TryTake(l.cfg.RequestTimeout)

	switch {
	case on && off:
		// Both transitions happened since the last cycle. Only an enable
		// leaves actuator channels attached.
		l.state.ControlEnabled = l.link.Valves() != nil
	case on:
		l.state.ControlEnabled = true
	case off:
		l.state.ControlEnabled = false
	default:
		return
	}
	log.Printf("%s: control enabled=%t", l.id, l.state.ControlEnabled)
}

func (l *Loop) notifyCallbacks(snap Snapshot) {
	l.cbMu.RLock()
	callbacks := make([]func(Snapshot), len(l.callbacks))
	copy(callbacks, l.callbacks)
	l.cbMu.RUnlock()

	for _, cb := range callbacks {
		if cb != nil {
			cb(snap)
		}
	}
}
