package collar

import (
	"errors"
	"time"

	"github.com/srg/cowtag/internal/telemetry"
)

var (
	// ErrNotReady is returned by sensors that have no fresh data yet.
	ErrNotReady = errors.New("sensor data not ready")
	// ErrNotInitialized is returned by sensors read before being enabled.
	ErrNotInitialized = errors.New("sensor not initialized")
)

// Motion is the accelerometer.
type Motion interface {
	Enable(rateHz float64) error
	Acceleration() (telemetry.Vector, error)
}

// Climate is the relative humidity and temperature sensor.
type Climate interface {
	// Read returns humidity in milli-percent and temperature in milli-degrees Celsius.
	Read() (humidity uint32, temperature int32, err error)
}

// Battery samples the supply level.
type Battery interface {
	Level() (uint8, error)
}

// Clock is the calendar clock set during provisioning.
type Clock interface {
	Now() (time.Time, error)
	Set(t time.Time) error
}

// Watchdog supervises sampling liveness once started.
type Watchdog interface {
	Start() error
	Feed()
}

// Sensors groups the collaborators read by the Sampler.
type Sensors struct {
	Motion  Motion
	Climate Climate
	Battery Battery
	Clock   Clock
}
