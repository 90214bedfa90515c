package collar

import (
	"math"
	"sync"
	"time"

	"github.com/srg/cowtag/internal/telemetry"
)

// SimMotion produces a deterministic acceleration pattern. When NotReadyEvery is
// positive, every NotReadyEvery-th read reports ErrNotReady.
type SimMotion struct {
	NotReadyEvery int

	mu      sync.Mutex
	enabled bool
	rate    float64
	reads   int
}

// Enable turns the sensor on at rateHz.
func (m *SimMotion) Enable(rateHz float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = true
	m.rate = rateHz
	return nil
}

// Rate returns the configured output data rate.
func (m *SimMotion) Rate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rate
}

// Acceleration returns a slow swing around 1 g on the z axis, in milli-g.
func (m *SimMotion) Acceleration() (telemetry.Vector, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.enabled {
		return telemetry.Vector{}, ErrNotInitialized
	}
	m.reads++
	if m.NotReadyEvery > 0 && m.reads%m.NotReadyEvery == 0 {
		return telemetry.Vector{}, ErrNotReady
	}
	phase := float64(m.reads) / 10
	return telemetry.Vector{
		int16(200 * math.Sin(phase)),
		int16(150 * math.Cos(phase)),
		int16(1000 + 50*math.Sin(phase/3)),
	}, nil
}

// SimClimate returns fixed readings.
type SimClimate struct {
	Humidity    uint32
	Temperature int32
	Err         error
}

// Read returns the configured values or Err.
func (c *SimClimate) Read() (uint32, int32, error) {
	if c.Err != nil {
		return 0, 0, c.Err
	}
	return c.Humidity, c.Temperature, nil
}

// SimBattery returns a fixed level.
type SimBattery struct {
	Value uint8
	Err   error
}

// Level returns Value or Err.
func (b *SimBattery) Level() (uint8, error) {
	if b.Err != nil {
		return 0, b.Err
	}
	return b.Value, nil
}

// SimClock keeps calendar time as an offset from a base clock.
type SimClock struct {
	mu     sync.Mutex
	base   func() time.Time
	offset time.Duration
}

// NewSimClock creates a clock over base; nil uses time.Now.
func NewSimClock(base func() time.Time) *SimClock {
	if base == nil {
		base = time.Now
	}
	return &SimClock{base: base}
}

// Now returns the calendar time in UTC.
func (c *SimClock) Now() (time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.base().Add(c.offset).UTC(), nil
}

// Set moves the calendar to t.
func (c *SimClock) Set(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset = t.Sub(c.base())
	return nil
}
