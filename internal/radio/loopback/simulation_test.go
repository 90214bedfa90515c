package loopback

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/srg/cowtag/internal/host"
	"github.com/srg/cowtag/internal/logsink"
	"github.com/srg/cowtag/internal/telemetry"
)

type syncSink struct {
	mu   sync.Mutex
	rows []logsink.Row
}

func (s *syncSink) Append(r logsink.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, r)
	return nil
}

func (s *syncSink) IsNew() bool { return true }

func (s *syncSink) snapshot() []logsink.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]logsink.Row(nil), s.rows...)
}

func fastOptions() SimulationOptions {
	opts := DefaultSimulationOptions()
	opts.Host.CollarID = 42
	opts.Host.DisconnectDelay = 20 * time.Millisecond
	opts.Host.ReprovisionDelay = 100 * time.Millisecond
	opts.Host.Now = func() time.Time { return time.Date(2025, time.June, 1, 12, 0, 0, 0, time.Local) }

	opts.Collar.AdvInterval = 5 * time.Millisecond
	opts.Collar.PeriodicInterval = 10 * time.Millisecond
	opts.Collar.CloseDelay = 20 * time.Millisecond
	opts.Collar.MotionEvery = 2 * time.Millisecond
	opts.Collar.EnvironmentEvery = 50 * time.Millisecond
	opts.WatchdogPeriod = time.Second
	return opts
}

type SimulationTestSuite struct {
	suite.Suite
	logger *logrus.Logger
	sink   *syncSink
}

func (s *SimulationTestSuite) SetupTest() {
	s.logger = logrus.New()
	s.logger.SetOutput(io.Discard)
	s.sink = &syncSink{}
}

func (s *SimulationTestSuite) TestProvisionThenHarvest() {
	// GOAL: a collar provisioned over the air broadcasts frames the host logs once each
	//
	// TEST SCENARIO: boot both roles → host provisions id 42 → collar broadcasts →
	// host syncs → rows carry id 42 → repeated periodic data is deduplicated
	sim, err := NewSimulation(fastOptions(), s.sink, s.logger)
	s.Require().NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sim.Run(ctx) }()

	s.Require().Eventually(func() bool {
		return len(s.sink.snapshot()) >= 3
	}, 5*time.Second, 10*time.Millisecond, "host MUST log frames")

	cancel()
	s.Require().ErrorIs(<-done, context.Canceled)

	rows := s.sink.snapshot()
	for i, row := range rows {
		s.Equal(uint8(42), row.Trailer[5], "row %d MUST carry the provisioned id", i)
		s.Equal(uint8(12), row.Trailer[0], "row %d MUST carry the provisioned hour", i)
		s.Equal(uint8(180), row.Trailer[3])
		s.Equal(uint8(21), row.Trailer[4])
		if i > 0 {
			s.NotEqual(rows[i-1].Trailer, row.Trailer, "consecutive rows MUST differ in trailer")
		}
	}

	stats := sim.Receiver.Stats()
	s.Greater(stats.Duplicates, int64(0), "repeated periodic data MUST be deduplicated")
	s.Equal(int64(0), stats.Rejected)
	s.Equal(host.PeriodicSync, sim.Manager.State())
	s.Equal(uint8(42), sim.Controller.CollarID())

	frames, reports, _ := sim.Air.Stats()
	s.GreaterOrEqual(frames, int64(len(rows)))
	s.Greater(reports, int64(len(rows)))
}

func (s *SimulationTestSuite) TestSyncLossReprovisions() {
	sim, err := NewSimulation(fastOptions(), s.sink, s.logger)
	s.Require().NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sim.Run(ctx) }()

	s.Require().Eventually(func() bool { return len(s.sink.snapshot()) >= 1 }, 5*time.Second, 10*time.Millisecond)
	before := len(s.sink.snapshot())
	sim.Air.DropSync(0x3e)

	s.Require().Eventually(func() bool {
		return len(s.sink.snapshot()) >= before+2
	}, 5*time.Second, 10*time.Millisecond, "host MUST resync after losing the train")

	cancel()
	s.Require().ErrorIs(<-done, context.Canceled)
}

func (s *SimulationTestSuite) TestWatchdogResetsStalledCollar() {
	opts := fastOptions()
	opts.Collar.MotionEvery = time.Hour
	opts.WatchdogPeriod = 50 * time.Millisecond

	sim, err := NewSimulation(opts, s.sink, s.logger)
	s.Require().NoError(err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.ErrorIs(sim.Run(ctx), ErrWatchdogReset, "stalled sampling MUST reset the collar")
}

func TestSimulationTestSuite(t *testing.T) {
	suite.Run(t, new(SimulationTestSuite))
}

func TestPeriodicBufferKeepsNewestFrame(t *testing.T) {
	air := New(DefaultOptions(), nil)
	radio := air.Collar()

	var samples [telemetry.SamplesPerFrame]telemetry.Vector
	for id := uint8(1); id <= 6; id++ {
		f := telemetry.EncodeFrame(&samples, telemetry.Trailer{CollarID: id})
		require.NoError(t, radio.SetPeriodicData(0, f[:]))
	}
	require.NoError(t, radio.StartPeriodicAdvertising(0, 10*time.Millisecond))
	assert.Error(t, radio.SetPeriodicData(0, []byte{1, 2, 3}))

	air.periodicOnce()
	require.Len(t, air.perCurrent, telemetry.FrameSize)
	assert.Equal(t, uint8(6), air.perCurrent[185], "the newest queued frame MUST be on air")

	frames, reports, _ := air.Stats()
	assert.Equal(t, int64(6), frames)
	assert.Equal(t, int64(0), reports, "nothing MUST be sent without a sync")
}
