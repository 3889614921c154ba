package api

import (
	"sync"
	"time"

	"github.com/itohio/golevel/pkg/meter"
	"github.com/itohio/golevel/pkg/tank"
)

// Point is one recorded measurement.
type Point struct {
	Time     time.Time `json:"time"`
	Height   float32   `json:"height_cm"`
	Filling  bool      `json:"filling"`
	Draining bool      `json:"draining"`
}

// History keeps the recent measurements of each tank in memory. Points
// older than the window, measured from the newest point, are discarded.
type History struct {
	window time.Duration

	mu     sync.RWMutex
	points [tank.Count][]Point
}

// NewHistory creates a history covering the given window.
func NewHistory(window time.Duration) *History {
	return &History{window: window}
}

// Add records a measurement snapshot. Snapshots must arrive in time order
// per tank, as they do from a measurement loop.
func (h *History) Add(s meter.Snapshot) {
	if !s.Tank.Valid() {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	points := append(h.points[s.Tank], Point{
		Time:     s.Time,
		Height:   s.Height,
		Filling:  s.Filling,
		Draining: s.Draining,
	})

	// Removal is by timestamp, not by count.
	cutoff := s.Time.Add(-h.window)
	drop := 0
	for drop < len(points) && !points[drop].Time.After(cutoff) {
		drop++
	}
	if drop > 0 {
		points = append(points[:0], points[drop:]...)
	}
	h.points[s.Tank] = points
}

// Len returns the number of points held for a tank.
func (h *History) Len(id tank.ID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.points[id])
}

// Points returns up to maxPoints points of a tank, oldest first, decimated
// evenly across the window. maxPoints <= 0 returns every point.
func (h *History) Points(id tank.ID, maxPoints int) []Point {
	h.mu.RLock()
	defer h.mu.RUnlock()

	src := h.points[id]
	if maxPoints <= 0 {
		maxPoints = len(src)
	}
	return Downsample(nil, src, maxPoints)
}

// Downsample reduces src to at most maxPoints elements by simple decimation.
// Destination-based: dst is reused if it has sufficient capacity, otherwise a
// new slice is allocated. The result never aliases src.
func Downsample[T any](dst, src []T, maxPoints int) []T {
	if len(src) <= maxPoints {
		if cap(dst) >= len(src) {
			dst = dst[:len(src)]
		} else {
			dst = make([]T, len(src))
		}
		copy(dst, src)
		return dst
	}

	if cap(dst) >= maxPoints {
		dst = dst[:0]
	} else {
		dst = make([]T, 0, maxPoints)
	}

	step := float64(len(src)) / float64(maxPoints)
	for i := 0; i < maxPoints; i++ {
		idx := int(float64(i) * step)
		if idx < len(src) {
			dst = append(dst, src[idx])
		}
	}
	return dst
}
