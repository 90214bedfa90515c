package collar

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/cowtag/internal/eventloop"
	"github.com/srg/cowtag/internal/telemetry"
)

// Sampler folds motion samples and environment readings into telemetry frames.
//
// The trailer cache is refreshed by RefreshEnvironment but only reaches a frame
// when the sample buffer wraps. The first wrap after boot reads every sensor;
// later wraps only refresh minute and second.
type Sampler struct {
	sensors  Sensors
	asm      Assembler
	trailer  telemetry.Trailer
	acquired bool
	frames   int
	notReady int
	logger   *logrus.Logger
}

// NewSampler creates a sampler over sensors.
func NewSampler(sensors Sensors, logger *logrus.Logger) *Sampler {
	if logger == nil {
		logger = logrus.New()
	}
	return &Sampler{sensors: sensors, logger: logger}
}

// Start arms the motion and environment cadences.
func (s *Sampler) Start(timers eventloop.Timers, motionEvery, environmentEvery time.Duration) (stop func()) {
	stopMotion := timers.Every(motionEvery, SignalSampleMotion)
	stopEnv := timers.Every(environmentEvery, SignalSampleEnvironment)
	s.logger.WithFields(logrus.Fields{
		"motion":      motionEvery,
		"environment": environmentEvery,
	}).Info("Sampling started")
	return func() {
		stopMotion()
		stopEnv()
	}
}

// SetCollarID records the provisioned identity in the trailer cache.
func (s *Sampler) SetCollarID(id uint8) {
	s.trailer.CollarID = id
}

// Trailer returns the cached trailer.
func (s *Sampler) Trailer() telemetry.Trailer { return s.trailer }

// Frames returns the number of frames produced.
func (s *Sampler) Frames() int { return s.frames }

// NotReady returns how many motion reads were substituted by a zero vector.
func (s *Sampler) NotReady() int { return s.notReady }

// Pending returns the number of samples waiting for the next frame.
func (s *Sampler) Pending() int { return s.asm.Len() }

// SampleMotion reads one acceleration vector. It returns a frame when the
// sample completes one.
func (s *Sampler) SampleMotion() (telemetry.Frame, bool) {
	v, err := s.sensors.Motion.Acceleration()
	if err != nil {
		s.notReady++
		s.logger.WithError(err).Trace("Motion sample substituted")
		v = telemetry.Vector{}
	}
	if !s.asm.Push(v) {
		return telemetry.Frame{}, false
	}

	if !s.acquired {
		s.acquire()
		s.acquired = true
	} else if now, ok := s.now(); ok {
		s.trailer.Minute = uint8(now.Minute())
		s.trailer.Second = uint8(now.Second())
	}

	f := s.asm.Seal(s.trailer)
	s.frames++
	s.logger.WithFields(logrus.Fields{
		"frame":   s.frames,
		"trailer": s.trailer.String(),
	}).Debug("Frame assembled")
	return f, true
}

// RefreshEnvironment updates hour, temperature and battery in the trailer
// cache. The values reach the air at the next frame.
func (s *Sampler) RefreshEnvironment() {
	if now, ok := s.now(); ok {
		s.trailer.Hour = uint8(now.Hour())
	}
	s.refreshClimate()
	s.refreshBattery()
	s.logger.WithField("trailer", s.trailer.String()).Debug("Environment refreshed")
}

func (s *Sampler) acquire() {
	if now, ok := s.now(); ok {
		s.trailer.Hour = uint8(now.Hour())
		s.trailer.Minute = uint8(now.Minute())
		s.trailer.Second = uint8(now.Second())
	}
	s.refreshClimate()
	s.refreshBattery()
}

func (s *Sampler) now() (time.Time, bool) {
	now, err := s.sensors.Clock.Now()
	if err != nil {
		s.logger.WithError(err).Warn("Clock read failed, keeping previous time")
		return time.Time{}, false
	}
	return now, true
}

func (s *Sampler) refreshClimate() {
	_, temp, err := s.sensors.Climate.Read()
	if err != nil {
		s.logger.WithError(err).Warn("Climate read failed, keeping previous temperature")
		return
	}
	s.trailer.Temperature = telemetry.TemperatureByte(temp)
}

func (s *Sampler) refreshBattery() {
	level, err := s.sensors.Battery.Level()
	if err != nil {
		s.logger.WithError(err).Warn("Battery read failed, keeping previous level")
		return
	}
	s.trailer.Battery = level
}
