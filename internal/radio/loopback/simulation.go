package loopback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/cowtag/internal/collar"
	"github.com/srg/cowtag/internal/eventloop"
	"github.com/srg/cowtag/internal/host"
	"github.com/srg/cowtag/internal/logsink"
)

// ErrWatchdogReset is returned by Run when the collar watchdog expired.
var ErrWatchdogReset = errors.New("collar watchdog reset")

// SimulationOptions configures a one-collar, one-host run.
type SimulationOptions struct {
	Host           host.Options
	Collar         collar.Options
	Air            Options
	QueueSize      int
	HistorySize    uint32
	WatchdogPeriod time.Duration
	NotReadyEvery  int
	Temperature    int32
	Humidity       uint32
	Battery        uint8
}

// DefaultSimulationOptions uses the deployed timings.
func DefaultSimulationOptions() SimulationOptions {
	return SimulationOptions{
		Host:           host.DefaultOptions(),
		Collar:         collar.DefaultOptions(),
		Air:            DefaultOptions(),
		QueueSize:      64,
		HistorySize:    64,
		WatchdogPeriod: 2 * time.Second,
		Temperature:    21500,
		Humidity:       48000,
		Battery:        180,
	}
}

// Simulation runs a collar and a host against one Air.
type Simulation struct {
	Air        *Air
	Manager    *host.Manager
	Receiver   *host.SyncReceiver
	Controller *collar.Controller
	Motion     *collar.SimMotion

	hostLoop   *eventloop.Loop[host.Event]
	collarLoop *eventloop.Loop[collar.Event]
	watchdog   *collar.SoftWatchdog
	logger     *logrus.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	reset bool
}

// NewSimulation wires both roles. Frames received by the host go to sink.
func NewSimulation(opts SimulationOptions, sink logsink.Sink, logger *logrus.Logger) (*Simulation, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Simulation{
		Air:        New(opts.Air, logger),
		Motion:     &collar.SimMotion{NotReadyEvery: opts.NotReadyEvery},
		hostLoop:   eventloop.New[host.Event](opts.QueueSize, host.SignalEvent, logger),
		collarLoop: eventloop.New[collar.Event](opts.QueueSize, collar.SignalEvent, logger),
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}

	receiver, err := host.NewSyncReceiver(sink, opts.HistorySize, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create receiver: %w", err)
	}
	s.Receiver = receiver

	hostTimers := eventloop.NewSystemTimers(ctx, s.hostLoop.Mailbox(), logger)
	s.Manager = host.NewManager(s.Air.Host(), hostTimers, receiver, opts.Host, logger)

	s.watchdog = collar.NewSoftWatchdog(opts.WatchdogPeriod, s.onWatchdogReset, logger)
	sensors := collar.Sensors{
		Motion:  s.Motion,
		Climate: &collar.SimClimate{Humidity: opts.Humidity, Temperature: opts.Temperature},
		Battery: &collar.SimBattery{Value: opts.Battery},
		Clock:   collar.NewSimClock(nil),
	}
	collarTimers := eventloop.NewSystemTimers(ctx, s.collarLoop.Mailbox(), logger)
	s.Controller = collar.NewController(s.Air.Collar(), collarTimers, sensors, s.watchdog, opts.Collar, logger)

	s.Air.AttachHost(s.hostLoop.Post)
	s.Air.AttachCollar(s.collarLoop.Post)
	return s, nil
}

func (s *Simulation) onWatchdogReset() {
	s.mu.Lock()
	s.reset = true
	s.mu.Unlock()
	s.cancel()
}

// Run drives both roles until ctx ends or either side fails. A cancelled ctx
// is reported as context.Canceled.
func (s *Simulation) Run(ctx context.Context) error {
	go func() {
		select {
		case <-ctx.Done():
			s.cancel()
		case <-s.ctx.Done():
		}
	}()
	defer s.cancel()
	defer s.watchdog.Stop()
	defer s.Controller.Stop()

	s.Air.Start(s.ctx)

	if err := s.collarLoop.Post(s.ctx, collar.Boot{}); err != nil {
		return err
	}
	if err := s.hostLoop.Post(s.ctx, host.Boot{}); err != nil {
		return err
	}

	errs := make(chan error, 2)
	go func() { errs <- s.runRole("host", func() error { return s.hostLoop.Run(s.ctx, s.Manager.Handle) }) }()
	go func() { errs <- s.runRole("collar", func() error { return s.collarLoop.Run(s.ctx, s.Controller.Handle) }) }()

	first := <-errs
	s.cancel()
	second := <-errs
	s.Air.Wait()

	s.mu.Lock()
	reset := s.reset
	s.mu.Unlock()
	if reset {
		return ErrWatchdogReset
	}

	for _, err := range []error{first, second} {
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}
	return ctx.Err()
}

func (s *Simulation) runRole(name string, run func() error) error {
	err := run()
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.WithError(err).WithField("role", name).Error("Role stopped")
		return fmt.Errorf("%s: %w", name, err)
	}
	return err
}
