package collar

import (
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/cowtag/internal/telemetry"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type scriptedMotion struct {
	next telemetry.Vector
	err  error
}

func (m *scriptedMotion) Enable(float64) error { return nil }

func (m *scriptedMotion) Acceleration() (telemetry.Vector, error) {
	if m.err != nil {
		return telemetry.Vector{}, m.err
	}
	return m.next, nil
}

type brokenClock struct{ err error }

func (c brokenClock) Now() (time.Time, error) { return time.Time{}, c.err }
func (c brokenClock) Set(time.Time) error     { return c.err }

func TestAssembler(t *testing.T) {
	var a Assembler
	for i := 0; i < telemetry.SamplesPerFrame-1; i++ {
		require.False(t, a.Push(telemetry.Vector{int16(i), 0, 0}), "sample %d MUST NOT complete the frame", i)
	}
	assert.True(t, a.Push(telemetry.Vector{29, 0, 0}), "the 30th sample MUST complete the frame")
	assert.Equal(t, telemetry.SamplesPerFrame, a.Len())

	f := a.Seal(telemetry.Trailer{CollarID: 9})
	assert.Len(t, f, telemetry.FrameSize)
	assert.Equal(t, telemetry.Vector{29, 0, 0}, f.Sample(29))
	assert.Equal(t, uint8(9), f[185])
	assert.Equal(t, 0, a.Len(), "seal MUST reset the buffer")

	assert.False(t, a.Push(telemetry.Vector{1, 1, 1}))
	next := a.Seal(telemetry.Trailer{})
	assert.Equal(t, telemetry.Vector{}, next.Sample(1), "seal MUST clear stale samples")
}

func TestSamplerWrapsEveryThirtySamples(t *testing.T) {
	motion := &scriptedMotion{next: telemetry.Vector{1, 2, 3}}
	clock := NewSimClock(func() time.Time { return time.Date(2025, 6, 1, 7, 8, 9, 0, time.UTC) })
	s := NewSampler(Sensors{
		Motion:  motion,
		Climate: &SimClimate{Temperature: 30500},
		Battery: &SimBattery{Value: 99},
		Clock:   clock,
	}, quietLogger())
	s.SetCollarID(4)

	frames := 0
	for i := 1; i <= 90; i++ {
		if f, ok := s.SampleMotion(); ok {
			frames++
			assert.Equal(t, 0, i%telemetry.SamplesPerFrame, "frame MUST complete on a multiple of 30, got sample %d", i)
			assert.Equal(t, telemetry.Trailer{Hour: 7, Minute: 8, Second: 9, Battery: 99, Temperature: 30, CollarID: 4}, f.Trailer())
			assert.Equal(t, telemetry.Vector{1, 2, 3}, f.Sample(0))
		}
	}
	assert.Equal(t, 3, frames)
	assert.Equal(t, 3, s.Frames())
}

func TestSamplerNotReadyGivesZeroVector(t *testing.T) {
	motion := &scriptedMotion{err: ErrNotReady}
	s := NewSampler(Sensors{
		Motion:  motion,
		Climate: &SimClimate{},
		Battery: &SimBattery{},
		Clock:   NewSimClock(nil),
	}, quietLogger())

	var frame telemetry.Frame
	for i := 0; i < telemetry.SamplesPerFrame; i++ {
		if i == 10 {
			motion.err = nil
			motion.next = telemetry.Vector{5, 5, 5}
		}
		if i == 11 {
			motion.err = ErrNotReady
		}
		if f, ok := s.SampleMotion(); ok {
			frame = f
		}
	}
	assert.Equal(t, telemetry.Vector{}, frame.Sample(0))
	assert.Equal(t, telemetry.Vector{5, 5, 5}, frame.Sample(10))
	assert.Equal(t, telemetry.Vector{}, frame.Sample(11))
	assert.Equal(t, 29, s.NotReady())
}

func TestSamplerRefreshAsymmetry(t *testing.T) {
	// GOAL: environment values reach a frame only at the next wrap; later wraps
	// refresh minute and second but never the hour
	now := time.Date(2025, 6, 1, 10, 59, 58, 0, time.UTC)
	climate := &SimClimate{Temperature: 20000}
	battery := &SimBattery{Value: 50}
	s := NewSampler(Sensors{
		Motion:  &scriptedMotion{},
		Climate: climate,
		Battery: battery,
		Clock:   NewSimClock(func() time.Time { return now }),
	}, quietLogger())

	wrap := func() telemetry.Trailer {
		for {
			if f, ok := s.SampleMotion(); ok {
				return f.Trailer()
			}
		}
	}

	first := wrap()
	assert.Equal(t, telemetry.Trailer{Hour: 10, Minute: 59, Second: 58, Battery: 50, Temperature: 20}, first)

	now = now.Add(3 * time.Second)
	climate.Temperature = 25000
	battery.Value = 40
	second := wrap()
	assert.Equal(t, uint8(10), second.Hour, "hour MUST only change on environment refresh")
	assert.Equal(t, uint8(0), second.Minute)
	assert.Equal(t, uint8(1), second.Second)
	assert.Equal(t, uint8(20), second.Temperature, "temperature MUST wait for environment refresh")
	assert.Equal(t, uint8(50), second.Battery)

	s.RefreshEnvironment()
	assert.Equal(t, uint8(25), s.Trailer().Temperature)
	third := wrap()
	assert.Equal(t, uint8(11), third.Hour)
	assert.Equal(t, uint8(25), third.Temperature)
	assert.Equal(t, uint8(40), third.Battery)
}

func TestSamplerSensorFailureKeepsPrevious(t *testing.T) {
	climate := &SimClimate{Temperature: 18000}
	battery := &SimBattery{Value: 77}
	s := NewSampler(Sensors{
		Motion:  &scriptedMotion{},
		Climate: climate,
		Battery: battery,
		Clock:   NewSimClock(func() time.Time { return time.Date(2025, 1, 1, 3, 4, 5, 0, time.UTC) }),
	}, quietLogger())
	s.RefreshEnvironment()

	climate.Err = errors.New("i2c nack")
	battery.Err = errors.New("adc timeout")
	s.sensors.Clock = brokenClock{err: errors.New("rtc stopped")}
	s.RefreshEnvironment()

	assert.Equal(t, telemetry.Trailer{Hour: 3, Battery: 77, Temperature: 18}, s.Trailer())
}

func TestSoftWatchdog(t *testing.T) {
	t.Run("resets when starved", func(t *testing.T) {
		var resets atomic.Int32
		w := NewSoftWatchdog(20*time.Millisecond, func() { resets.Add(1) }, quietLogger())
		w.Feed()
		require.NoError(t, w.Start())
		require.NoError(t, w.Start())

		require.Eventually(t, func() bool { return resets.Load() == 1 }, time.Second, 5*time.Millisecond)
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, int32(1), resets.Load(), "reset MUST be called once")
		assert.Equal(t, int64(0), w.Fed(), "feeding before start MUST be ignored")
	})

	t.Run("feeding keeps it alive", func(t *testing.T) {
		var resets atomic.Int32
		w := NewSoftWatchdog(50*time.Millisecond, func() { resets.Add(1) }, quietLogger())
		require.NoError(t, w.Start())
		defer w.Stop()

		for i := 0; i < 10; i++ {
			time.Sleep(10 * time.Millisecond)
			w.Feed()
		}
		assert.Equal(t, int32(0), resets.Load())
		assert.Equal(t, int64(10), w.Fed())
		assert.True(t, w.Started())
	})
}

func TestSimMotion(t *testing.T) {
	m := &SimMotion{NotReadyEvery: 3}
	_, err := m.Acceleration()
	assert.ErrorIs(t, err, ErrNotInitialized)

	require.NoError(t, m.Enable(15))
	var notReady int
	for i := 0; i < 9; i++ {
		if _, err := m.Acceleration(); errors.Is(err, ErrNotReady) {
			notReady++
		}
	}
	assert.Equal(t, 3, notReady)
}
