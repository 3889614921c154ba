package signal

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/itohio/golevel/pkg/tank"
)

// ReadingsCapacity is the depth of each tank's readings queue.
const ReadingsCapacity = 10

// ValveChannels are the mailboxes a valve actuator consumes. A fresh set is
// built for every actuator instance and discarded when it terminates.
type ValveChannels struct {
	Fill      *Mailbox
	StopFill  *Mailbox
	Drain     *Mailbox
	StopDrain *Mailbox
	Delete    *Mailbox
}

// NewValveChannels allocates an empty set of actuator mailboxes.
func NewValveChannels() *ValveChannels {
	return &ValveChannels{
		Fill:      NewMailbox(),
		StopFill:  NewMailbox(),
		Drain:     NewMailbox(),
		StopDrain: NewMailbox(),
		Delete:    NewMailbox(),
	}
}

// For returns the mailbox that carries the given command.
func (v *ValveChannels) For(cmd tank.ValveCommand) *Mailbox {
	if v == nil {
		return nil
	}
	switch cmd {
	case tank.Fill:
		return v.Fill
	case tank.StopFill:
		return v.StopFill
	case tank.Drain:
		return v.Drain
	case tank.StopDrain:
		return v.StopDrain
	}
	return nil
}

// Send gives the mailbox for cmd. Sending on an absent set is a no-op.
func (v *ValveChannels) Send(cmd tank.ValveCommand) bool {
	return v.For(cmd).Give()
}

// Dropped sums the coalesced sends over the command mailboxes.
func (v *ValveChannels) Dropped() uint64 {
	if v == nil {
		return 0
	}
	return v.Fill.Dropped() + v.StopFill.Dropped() + v.Drain.Dropped() + v.StopDrain.Dropped()
}

// Link is the long-lived wiring of one tank's measurement loop: control
// on/off notifications, height requests, the readings queue, and the valve
// channels of whichever actuator is currently live.
type Link struct {
	Tank       tank.ID
	ControlOn  *Mailbox
	ControlOff *Mailbox
	Request    *Mailbox

	readings chan tank.Reading
	valves   atomic.Pointer[ValveChannels]
}

// NewLink creates the wiring for one tank.
func NewLink(id tank.ID) *Link {
	return &Link{
		Tank:       id,
		ControlOn:  NewMailbox(),
		ControlOff: NewMailbox(),
		Request:    NewMailbox(),
		readings:   make(chan tank.Reading, ReadingsCapacity),
	}
}

// Attach publishes the valve channels of a newly started actuator.
func (l *Link) Attach(v *ValveChannels) {
	l.valves.Store(v)
}

// Detach removes the valve channels of a terminated actuator.
func (l *Link) Detach() {
	l.valves.Store(nil)
}

// Valves returns the live actuator's channels, or nil when there is none.
func (l *Link) Valves() *ValveChannels {
	return l.valves.Load()
}

// PushReading queues a reading, blocking up to timeout if the queue is full.
func (l *Link) PushReading(r tank.Reading, timeout time.Duration) bool {
	select {
	case l.readings <- r:
		return true
	default:
	}
	if timeout <= 0 {
		return false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case l.readings <- r:
		return true
	case <-timer.C:
		return false
	}
}

// NextReading waits up to timeout for a queued reading.
func (l *Link) NextReading(ctx context.Context, timeout time.Duration) (tank.Reading, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-l.readings:
		return r, true
	case <-timer.C:
		return tank.Reading{}, false
	case <-ctx.Done():
		return tank.Reading{}, false
	}
}

// DrainReadings discards every queued reading and returns the newest one.
// Readings queued after a reader gave up waiting would otherwise answer the
// next request with an older height.
func (l *Link) DrainReadings() (tank.Reading, bool) {
	var (
		last tank.Reading
		ok   bool
	)
	for {
		select {
		case r := <-l.readings:
			last, ok = r, true
		default:
			return last, ok
		}
	}
}

// Bus groups the enable-edge mailbox and the per-tank links.
type Bus struct {
	Enable *Mailbox
	links  [tank.Count]*Link
}

// NewBus creates the signal bus for both tanks.
func NewBus() *Bus {
	b := &Bus{Enable: NewMailbox()}
	for _, id := range tank.IDs {
		b.links[id] = NewLink(id)
	}
	return b
}

// Link returns the wiring of the given tank.
func (b *Bus) Link(id tank.ID) *Link {
	return b.links[id]
}
