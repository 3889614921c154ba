// Package transport implements the serial request/response protocol: a
// single 'R' byte asks for both tank heights and the answer is the literal
// text T1=<h1>T2=<h2>! with one decimal digit per height.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/itohio/golevel/pkg/signal"
	"github.com/itohio/golevel/pkg/tank"
)

// RequestByte asks the controller for the current heights.
const RequestByte = 'R'

// DefaultIdleDelay is the pause after a read that returned no data.
const DefaultIdleDelay = 10 * time.Millisecond

// Format renders a response frame.
func Format(h1, h2 float32) string {
	return fmt.Sprintf("T1=%.1fT2=%.1f!", h1, h2)
}

// Server answers height requests arriving on a byte stream. Each request
// asks both measurement loops for a fresh reading and falls back to the last
// reported height of a tank whose reading does not arrive in time.
type Server struct {
	rw       io.ReadWriter
	bus      *signal.Bus
	timeouts [tank.Count]time.Duration
	idle     time.Duration

	// Serializes whole responses on the stream.
	writeMu sync.Mutex

	mu   sync.Mutex
	last [tank.Count]float32

	cbMu      sync.RWMutex
	onRequest []func(id tank.ID, fresh bool)
}

// NewServer creates a server on rw. timeouts is how long to wait for each
// tank's reading.
func NewServer(rw io.ReadWriter, bus *signal.Bus, timeouts [tank.Count]time.Duration) *Server {
	return &Server{
		rw:       rw,
		bus:      bus,
		timeouts: timeouts,
		idle:     DefaultIdleDelay,
	}
}

// OnRequest registers a callback invoked per tank and request, reporting
// whether a fresh reading arrived.
func (s *Server) OnRequest(fn func(id tank.ID, fresh bool)) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.onRequest = append(s.onRequest, fn)
}

// Last returns the most recently reported height of a tank.
func (s *Server) Last(id tank.ID) float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last[id]
}

// Serve reads request bytes until ctx is cancelled or the stream ends.
// Bytes other than RequestByte are ignored.
func (s *Server) Serve(ctx context.Context) error {
	buf := make([]byte, 16)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := s.rw.Read(buf)
		for _, b := range buf[:n] {
			if b != RequestByte {
				continue
			}
			if werr := s.Respond(ctx); werr != nil {
				return werr
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to read request: %w", err)
		}
		if n == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.idle):
			}
		}
	}
}

// Respond queries both tanks and writes one response frame.
func (s *Server) Respond(ctx context.Context) error {
	h := s.Query(ctx)
	frame := Format(h[tank.Tank1], h[tank.Tank2])

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := io.WriteString(s.rw, frame); err != nil {
		return fmt.Errorf("failed to write response: %w", err)
	}
	return nil
}

// Query asks both measurement loops for a reading and returns the heights
// to report.
func (s *Server) Query(ctx context.Context) [tank.Count]float32 {
	for _, id := range tank.IDs {
		link := s.bus.Link(id)
		if r, ok := link.DrainReadings(); ok {
			s.store(id, r.Height)
		}
		link.Request.Give()
	}

	var heights [tank.Count]float32
	for _, id := range tank.IDs {
		r, fresh := s.bus.Link(id).NextReading(ctx, s.timeouts[id])
		if fresh {
			s.store(id, r.Height)
		} else {
			log.Printf("%s: no fresh reading within %v, reporting last height", id, s.timeouts[id])
		}
		heights[id] = s.Last(id)
		s.notify(id, fresh)
	}
	return heights
}

func (s *Server) store(id tank.ID, h float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last[id] = h
}

func (s *Server) notify(id tank.ID, fresh bool) {
	s.cbMu.RLock()
	callbacks := make([]func(tank.ID, bool), len(s.onRequest))
	copy(callbacks, s.onRequest)
	s.cbMu.RUnlock()

	for _, cb := range callbacks {
		if cb != nil {
			cb(id, fresh)
		}
	}
}
