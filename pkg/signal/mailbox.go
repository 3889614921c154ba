// Package signal implements the single-slot notification channels used
// between the measurement loops, the enable supervisor and the valve
// actuators.
//
// A Mailbox holds at most one pending signal. Giving to a mailbox that
// already holds one is a no-op: the second signal is lost, not queued.
package signal

import (
	"context"
	"sync/atomic"
	"time"
)

// Mailbox is a single-slot, drop-on-coalesce notification channel.
// A nil *Mailbox is an absent channel: Give and Take on it are no-ops.
type Mailbox struct {
	slot    chan struct{}
	dropped atomic.Uint64
}

// NewMailbox creates an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{slot: make(chan struct{}, 1)}
}

// Give marks the slot occupied. It never blocks and never allocates, so it is
// safe to call from an edge callback. It reports whether the signal was
// stored; false means one was already pending (or the mailbox is absent).
func (m *Mailbox) Give() bool {
	if m == nil {
		return false
	}
	select {
	case m.slot <- struct{}{}:
		return true
	default:
		m.dropped.Add(1)
		return false
	}
}

// TryTake clears the slot and returns true if a signal is pending now or
// arrives within timeout. A zero timeout polls without waiting.
func (m *Mailbox) TryTake(timeout time.Duration) bool {
	if m == nil {
		return false
	}
	select {
	case <-m.slot:
		return true
	default:
	}
	if timeout <= 0 {
		return false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-m.slot:
		return true
	case <-timer.C:
		return false
	}
}

// Take blocks until a signal is pending, then clears it. It returns false if
// ctx is cancelled first.
func (m *Mailbox) Take(ctx context.Context) bool {
	if m == nil {
		<-ctx.Done()
		return false
	}
	select {
	case <-m.slot:
		return true
	case <-ctx.Done():
		return false
	}
}

// Pending reports whether a signal is waiting without consuming it.
func (m *Mailbox) Pending() bool {
	if m == nil {
		return false
	}
	return len(m.slot) > 0
}

// Dropped returns how many Give calls were coalesced into an already
// pending signal.
func (m *Mailbox) Dropped() uint64 {
	if m == nil {
		return 0
	}
	return m.dropped.Load()
}
