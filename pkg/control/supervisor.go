package control

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/itohio/golevel/pkg/config"
	"github.com/itohio/golevel/pkg/device"
	"github.com/itohio/golevel/pkg/signal"
	"github.com/itohio/golevel/pkg/tank"
)

// ErrSpawn is returned when a valve actuator cannot be constructed.
var ErrSpawn = errors.New("cannot start valve actuator")

// State is the control state of the supervisor.
type State int

const (
	Disabled State = iota
	Enabled
)

func (s State) String() string {
	if s == Enabled {
		return "enabled"
	}
	return "disabled"
}

// SupervisorConfig is the timing of the enable supervisor.
type SupervisorConfig struct {
	Actuator        ActuatorConfig
	SettleDelay     time.Duration // pause after each handled edge
	ResampleOnStart bool          // act on the line level present at startup
}

// NewSupervisorConfig extracts the supervisor timing from the configuration.
func NewSupervisorConfig(cfg *config.Config) SupervisorConfig {
	return SupervisorConfig{
		Actuator: ActuatorConfig{
			Poll:          cfg.Control.ActuatorPoll,
			SignalTimeout: cfg.Control.SignalTimeout,
		},
		SettleDelay:     cfg.Control.SettleDelay,
		ResampleOnStart: cfg.Control.ResampleOnStart,
	}
}

type spawnFunc func(ctx context.Context, id tank.ID, ch *signal.ValveChannels, valves device.ValvePair) (*Actuator, error)

// Supervisor turns enable-switch edges into control transitions. On enable
// it starts a valve actuator per tank and then tells the measurement loops
// control is live; on disable it detaches and deletes the actuators, waits
// for them to close their valves, and tells the measurement loops control is
// off.
type Supervisor struct {
	bus    *signal.Bus
	line   device.EnableLine
	valves [tank.Count]device.ValvePair
	cfg    SupervisorConfig
	spawn  spawnFunc

	mu        sync.RWMutex
	state     State
	actuators [tank.Count]*Actuator

	cbMu         sync.RWMutex
	onTransition []func(State)
	onCommand    []func(tank.ID, tank.ValveCommand)
}

// NewSupervisor creates a supervisor in the Disabled state.
func NewSupervisor(bus *signal.Bus, line device.EnableLine, valves [tank.Count]device.ValvePair, cfg SupervisorConfig) *Supervisor {
	s := &Supervisor{
		bus:    bus,
		line:   line,
		valves: valves,
		cfg:    cfg,
		state:  Disabled,
	}
	s.spawn = s.startActuator
	return s
}

// Edge posts an enable-line edge. It only performs a saturating mailbox give
// and is safe to call from an interrupt handler.
func (s *Supervisor) Edge() {
	s.bus.Enable.Give()
}

// State returns the current control state.
func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Actuator returns the live actuator of a tank, or nil.
func (s *Supervisor) Actuator(id tank.ID) *Actuator {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.actuators[id]
}

// OnTransition registers a callback invoked after every completed transition.
func (s *Supervisor) OnTransition(fn func(State)) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.onTransition = append(s.onTransition, fn)
}

// OnCommand registers a callback invoked whenever an actuator applies a command.
func (s *Supervisor) OnCommand(fn func(tank.ID, tank.ValveCommand)) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.onCommand = append(s.onCommand, fn)
}

// Run waits for enable edges and performs transitions until ctx is cancelled.
// On return every actuator has exited with its valves closed.
func (s *Supervisor) Run(ctx context.Context) error {
	if s.line != nil {
		s.line.OnEdge(s.Edge)
	}
	if s.cfg.ResampleOnStart {
		s.Edge()
	}

	for {
		if !s.bus.Enable.Take(ctx) {
			s.joinAll()
			return ctx.Err()
		}

		s.resample(ctx)

		// Edges during the settle delay coalesce into one pending signal.
		select {
		case <-ctx.Done():
			s.joinAll()
			return ctx.Err()
		case <-time.After(s.cfg.SettleDelay):
		}
	}
}

// resample reads the line level and transitions if it differs from the
// current state.
func (s *Supervisor) resample(ctx context.Context) {
	target := Disabled
	if s.line != nil && s.line.Level() {
		target = Enabled
	}

	if target == s.State() {
		log.Printf("control: edge ignored, already %s", target)
		return
	}

	if target == Enabled {
		s.enable(ctx)
	} else {
		s.disable(ctx)
	}
	log.Printf("control: %s", target)
	s.notifyTransition(target)
}

func (s *Supervisor) enable(ctx context.Context) {
	var started [tank.Count]*signal.ValveChannels

	for _, id := range tank.IDs {
		ch := signal.NewValveChannels()
		a, err := s.spawn(ctx, id, ch, s.valves[id])
		if err != nil {
			log.Printf("%s: %v, control stays inert until the next enable", id, err)
			continue
		}
		s.mu.Lock()
		s.actuators[id] = a
		s.mu.Unlock()
		s.bus.Link(id).Attach(ch)
		started[id] = ch
	}

	for _, id := range tank.IDs {
		if started[id] != nil {
			s.bus.Link(id).ControlOn.Give()
		}
	}

	s.mu.Lock()
	s.state = Enabled
	s.mu.Unlock()
}

func (s *Supervisor) disable(ctx context.Context) {
	var stopping [tank.Count]*Actuator

	for _, id := range tank.IDs {
		s.bus.Link(id).Detach()
		s.mu.Lock()
		stopping[id] = s.actuators[id]
		s.actuators[id] = nil
		s.mu.Unlock()
		if stopping[id] != nil {
			stopping[id].Channels().Delete.Give()
		}
	}

	for _, id := range tank.IDs {
		if a := stopping[id]; a != nil {
			if err := a.Wait(ctx); err != nil {
				log.Printf("%s: waiting for valve actuator: %v", id, err)
			}
		}
	}

	for _, id := range tank.IDs {
		s.bus.Link(id).ControlOff.Give()
	}

	s.mu.Lock()
	s.state = Disabled
	s.mu.Unlock()
}

// joinAll waits for actuators stopped by context cancellation.
func (s *Supervisor) joinAll() {
	s.mu.Lock()
	actuators := s.actuators
	s.actuators = [tank.Count]*Actuator{}
	s.mu.Unlock()

	for _, id := range tank.IDs {
		s.bus.Link(id).Detach()
		if a := actuators[id]; a != nil {
			<-a.Done()
		}
	}
}

func (s *Supervisor) startActuator(ctx context.Context, id tank.ID, ch *signal.ValveChannels, valves device.ValvePair) (*Actuator, error) {
	if valves == nil {
		return nil, fmt.Errorf("%w: no valve outputs", ErrSpawn)
	}
	return startActuator(ctx, id, ch, valves, s.cfg.Actuator, s.notifyCommand), nil
}

func (s *Supervisor) notifyTransition(st State) {
	s.cbMu.RLock()
	callbacks := make([]func(State), len(s.onTransition))
	copy(callbacks, s.onTransition)
	s.cbMu.RUnlock()

	for _, cb := range callbacks {
		if cb != nil {
			cb(st)
		}
	}
}

func (s *Supervisor) notifyCommand(id tank.ID, cmd tank.ValveCommand) {
	s.cbMu.RLock()
	callbacks := make([]func(tank.ID, tank.ValveCommand), len(s.onCommand))
	copy(callbacks, s.onCommand)
	s.cbMu.RUnlock()

	for _, cb := range callbacks {
		if cb != nil {
			cb(id, cmd)
		}
	}
}
