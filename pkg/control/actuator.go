package control

import (
	"context"
	"log"
	"time"

	"github.com/itohio/golevel/pkg/device"
	"github.com/itohio/golevel/pkg/signal"
	"github.com/itohio/golevel/pkg/tank"
)

// ActuatorConfig is the timing of a valve actuator.
type ActuatorConfig struct {
	Poll          time.Duration // delay between poll cycles
	SignalTimeout time.Duration // wait per mailbox check
}

// Actuator owns the two valve outputs of one tank and applies the commands
// it receives on its ValveChannels. It terminates, with both valves closed,
// on a Delete signal or when its context is cancelled.
type Actuator struct {
	id     tank.ID
	ch     *signal.ValveChannels
	valves device.ValvePair
	cfg    ActuatorConfig

	// Owned by the run goroutine.
	filling  bool
	draining bool

	onCommand func(id tank.ID, cmd tank.ValveCommand)

	done chan struct{}
}

// StartActuator forces both valves closed and starts the actuator worker.
func StartActuator(ctx context.Context, id tank.ID, ch *signal.ValveChannels, valves device.ValvePair, cfg ActuatorConfig) *Actuator {
	return startActuator(ctx, id, ch, valves, cfg, nil)
}

func startActuator(ctx context.Context, id tank.ID, ch *signal.ValveChannels, valves device.ValvePair, cfg ActuatorConfig, onCommand func(tank.ID, tank.ValveCommand)) *Actuator {
	a := &Actuator{
		id:        id,
		ch:        ch,
		valves:    valves,
		cfg:       cfg,
		onCommand: onCommand,
		done:      make(chan struct{}),
	}
	a.valves.Set(false, false)
	go a.run(ctx)
	return a
}

// Tank returns the tank this actuator drives.
func (a *Actuator) Tank() tank.ID {
	return a.id
}

// Channels returns the mailboxes this actuator consumes.
func (a *Actuator) Channels() *signal.ValveChannels {
	return a.ch
}

// Done is closed once the worker has closed both valves and exited.
func (a *Actuator) Done() <-chan struct{} {
	return a.done
}

// Wait blocks until the worker has exited or ctx is cancelled.
func (a *Actuator) Wait(ctx context.Context) error {
	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Actuator) run(ctx context.Context) {
	defer close(a.done)
	defer a.valves.Set(false, false)

	log.Printf("%s: valve actuator started", a.id)

	for {
		if a.ch == nil {
			log.Printf("%s: valve actuator has no channels, stopping", a.id)
			return
		}

		// Fixed order: stop-fill, fill, stop-drain, drain, then delete.
		for _, cmd := range tank.Commands {
			if a.ch.For(cmd).TryTake(a.cfg.SignalTimeout) {
				a.apply(cmd)
			}
		}

		if a.ch.Delete.TryTake(a.cfg.SignalTimeout) {
			log.Printf("%s: valve actuator deleted, closing valves", a.id)
			return
		}

		select {
		case <-ctx.Done():
			log.Printf("%s: valve actuator stopping: %v", a.id, ctx.Err())
			return
		case <-time.After(a.cfg.Poll):
		}
	}
}

func (a *Actuator) apply(cmd tank.ValveCommand) {
	switch cmd {
	case tank.Fill:
		a.filling = true
	case tank.StopFill:
		a.filling = false
	case tank.Drain:
		a.draining = true
	case tank.StopDrain:
		a.draining = false
	}
	a.valves.Set(a.filling, a.draining)
	log.Printf("%s: %s applied (fill=%t drain=%t)", a.id, cmd, a.filling, a.draining)

	if a.onCommand != nil {
		a.onCommand(a.id, cmd)
	}
}
