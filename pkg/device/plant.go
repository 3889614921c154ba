package device

import (
	"context"
	"sync"
	"time"

	"github.com/chewxy/math32"
	"github.com/itohio/golevel/pkg/config"
	"github.com/itohio/golevel/pkg/sample"
	"github.com/itohio/golevel/pkg/tank"
)

const (
	// MaxHeight is the physical height of a simulated tank (cm).
	MaxHeight = 100
	// referenceCounts is the ground-reference channel reading.
	referenceCounts = 10
	maxCounts       = 4095
)

// Plant simulates two tanks, their valves, pressure sensors and the enable
// switch, for development without the board and for tests.
type Plant struct {
	cfg  config.MockConfig
	conv sample.Converter
	th   [tank.Count]tank.Thresholds

	mu      sync.RWMutex
	height  [tank.Count]float32
	fill    [tank.Count]bool
	drain   [tank.Count]bool
	writes  [tank.Count]int
	enabled bool
	onEdge  func()
	reads   uint32
}

// NewPlant creates a simulated plant from the configuration.
func NewPlant(cfg *config.Config) *Plant {
	p := &Plant{
		cfg:     cfg.Mock,
		conv:    sample.NewConverter(cfg.ADC, cfg.Sensor),
		enabled: cfg.Mock.EnabledAtStart,
	}
	for _, id := range tank.IDs {
		p.th[id] = cfg.Thresholds(id)
	}
	p.height[tank.Tank1] = clampHeight(cfg.Mock.InitialLevel1)
	p.height[tank.Tank2] = clampHeight(cfg.Mock.InitialLevel2)
	return p
}

// Sensor returns the pressure sensor of the given tank.
func (p *Plant) Sensor(id tank.ID) SensorSource {
	return plantSensor{p: p, id: id}
}

// Valves returns the valve outputs of the given tank.
func (p *Plant) Valves(id tank.ID) ValvePair {
	return plantValves{p: p, id: id}
}

// Switch returns the enable switch.
func (p *Plant) Switch() EnableLine {
	return plantSwitch{p: p}
}

// SetEnable moves the enable switch. A change of level fires the edge callback.
func (p *Plant) SetEnable(on bool) {
	p.mu.Lock()
	changed := p.enabled != on
	p.enabled = on
	cb := p.onEdge
	p.mu.Unlock()

	if changed && cb != nil {
		cb()
	}
}

// Enabled returns the enable switch level.
func (p *Plant) Enabled() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.enabled
}

// Height returns the simulated liquid height of a tank (cm).
func (p *Plant) Height(id tank.ID) float32 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.height[id]
}

// SetHeight forces the liquid height of a tank.
func (p *Plant) SetHeight(id tank.ID, h float32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.height[id] = clampHeight(h)
}

// ValveState returns the fill and drain valve outputs of a tank.
func (p *Plant) ValveState(id tank.ID) (fill, drain bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.fill[id], p.drain[id]
}

// ValveWrites returns how many times the valve outputs of a tank were written.
func (p *Plant) ValveWrites(id tank.ID) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.writes[id]
}

// Run advances the simulation every Step until ctx is cancelled.
func (p *Plant) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Step)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Step(p.cfg.Step)
		}
	}
}

// Step advances the simulation by dt.
func (p *Plant) Step(dt time.Duration) {
	sec := float32(dt.Seconds())

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, id := range tank.IDs {
		rate := -p.cfg.LeakRate
		if p.fill[id] {
			rate += p.cfg.FillRate
		}
		if p.drain[id] {
			rate -= p.cfg.DrainRate
		}
		p.height[id] = clampHeight(p.height[id] + rate*sec)
	}
}

// read synthesizes the ADC counts the sensor of a tank would produce.
func (p *Plant) read(id tank.ID) sample.RawSample {
	p.mu.Lock()
	h := p.height[id]
	p.reads++
	k := float32(p.reads)
	p.mu.Unlock()

	counts := p.conv.Raw(sample.PressureForHeight(p.th[id], h))

	// Deterministic pseudo-noise, zero mean over a window.
	noise := (math32.Sin(k*0.7) + math32.Cos(k*1.3)) * p.cfg.Noise * 0.5
	counts += noise

	return sample.RawSample{
		Signal:    toCounts(counts),
		Reference: toCounts(referenceCounts + noise*0.1),
	}
}

func (p *Plant) setValves(id tank.ID, fill, drain bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fill[id] = fill
	p.drain[id] = drain
	p.writes[id]++
}

func toCounts(v float32) uint16 {
	v = math32.Round(v)
	v = math32.Max(0, math32.Min(v, maxCounts))
	return uint16(v)
}

func clampHeight(h float32) float32 {
	return math32.Max(0, math32.Min(h, MaxHeight))
}

type plantSensor struct {
	p  *Plant
	id tank.ID
}

func (s plantSensor) Read() sample.RawSample {
	return s.p.read(s.id)
}

type plantValves struct {
	p  *Plant
	id tank.ID
}

func (v plantValves) Set(fill, drain bool) {
	v.p.setValves(v.id, fill, drain)
}

type plantSwitch struct {
	p *Plant
}

func (s plantSwitch) Level() bool {
	return s.p.Enabled()
}

func (s plantSwitch) OnEdge(fn func()) {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	s.p.onEdge = fn
}
