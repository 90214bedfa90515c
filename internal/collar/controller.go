// Package collar implements the tag side: it advertises until provisioned, then
// broadcasts telemetry frames over periodic advertising.
package collar

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/cowtag/internal/advert"
	"github.com/srg/cowtag/internal/eventloop"
	"github.com/srg/cowtag/internal/profile"
	"github.com/srg/cowtag/internal/telemetry"
)

// State of the collar advertising controller.
type State int

const (
	Init State = iota
	ConnectableAdvertising
	Provisioning
	Closing
	Broadcasting
)

func (s State) String() string {
	switch s {
	case Init:
		return "init"
	case ConnectableAdvertising:
		return "connectable-advertising"
	case Provisioning:
		return "provisioning"
	case Closing:
		return "closing"
	case Broadcasting:
		return "broadcasting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Options configures a Controller.
type Options struct {
	MotionRate       float64
	TxPower          int16
	AdvInterval      time.Duration
	PeriodicInterval time.Duration
	CloseDelay       time.Duration
	MotionEvery      time.Duration
	EnvironmentEvery time.Duration
}

// DefaultOptions mirrors the timings of the deployed collar.
func DefaultOptions() Options {
	return Options{
		MotionRate:       15,
		TxPower:          60,
		AdvInterval:      time.Second,
		PeriodicInterval: time.Second,
		CloseDelay:       2 * time.Second,
		MotionEvery:      100 * time.Millisecond,
		EnvironmentEvery: 30 * time.Second,
	}
}

// Controller is the collar state machine. Handle must be called from a single
// goroutine, normally an eventloop.Loop.
type Controller struct {
	radio    Radio
	timers   eventloop.Timers
	sampler  *Sampler
	sensors  Sensors
	watchdog Watchdog
	opts     Options
	logger   *logrus.Logger

	state           State
	set             uint8
	conn            uint8
	connOpen        bool
	collarID        uint8
	watchdogStarted bool
	periodic        bool
	stopSampling    func()
}

// NewController wires a controller. The sampler is built over sensors.
func NewController(radio Radio, timers eventloop.Timers, sensors Sensors, watchdog Watchdog, opts Options, logger *logrus.Logger) *Controller {
	if logger == nil {
		logger = logrus.New()
	}
	return &Controller{
		radio:    radio,
		timers:   timers,
		sampler:  NewSampler(sensors, logger),
		sensors:  sensors,
		watchdog: watchdog,
		opts:     opts,
		logger:   logger,
	}
}

// State returns the current state.
func (c *Controller) State() State { return c.state }

// Sampler returns the frame pipeline.
func (c *Controller) Sampler() *Sampler { return c.sampler }

// CollarID returns the provisioned identity.
func (c *Controller) CollarID() uint8 { return c.collarID }

// Stop halts the sampling cadences.
func (c *Controller) Stop() {
	if c.stopSampling != nil {
		c.stopSampling()
		c.stopSampling = nil
	}
}

// AdvertisingPayload is the advertisement data used in both advertising modes.
func AdvertisingPayload() []byte {
	return advert.Payload(profile.ServiceUUID, profile.DeviceName)
}

// Handle processes one event. A returned error means the collar cannot continue.
func (c *Controller) Handle(ev Event) error {
	switch e := ev.(type) {
	case Boot:
		return c.onBoot()
	case ConnectionOpened:
		c.conn = e.Connection
		c.connOpen = true
		c.logger.WithField("connection", e.Connection).Info("Connection opened")
		c.setState(Provisioning)
		return nil
	case AttributeWritten:
		return c.onAttributeWritten(e)
	case ConnectionClosed:
		return c.onConnectionClosed(e)
	case Signal:
		return c.onSignal(e.Signal)
	default:
		return fmt.Errorf("unknown collar event %T", ev)
	}
}

func (c *Controller) setState(s State) {
	if s == c.state {
		return
	}
	c.logger.WithFields(logrus.Fields{
		"from": c.state.String(),
		"to":   s.String(),
	}).Debug("Collar state")
	c.state = s
}

func (c *Controller) onBoot() error {
	if err := c.sensors.Motion.Enable(c.opts.MotionRate); err != nil {
		return fmt.Errorf("failed to enable motion sensor: %w", err)
	}

	set, err := c.radio.CreateAdvertisingSet()
	if err != nil {
		return radioError("create advertising set", err)
	}
	c.set = set

	power, err := c.radio.SetTxPower(set, c.opts.TxPower)
	if err != nil {
		return radioError("set tx power", err)
	}
	if err := c.radio.SetTiming(set, c.opts.AdvInterval); err != nil {
		return radioError("set advertising timing", err)
	}
	if err := c.radio.StartLegacyAdvertising(set, AdvertisingPayload(), true); err != nil {
		return radioError("start legacy advertising", err)
	}

	c.logger.WithFields(logrus.Fields{
		"set":      set,
		"tx_power": float64(power) / 10,
	}).Info("Advertising, waiting for provisioning")
	c.setState(ConnectableAdvertising)
	return nil
}

func (c *Controller) onAttributeWritten(e AttributeWritten) error {
	switch e.Attribute {
	case AttributeTime:
		dt, err := telemetry.DecodeDateTime(e.Value)
		if err != nil {
			c.logger.WithError(err).WithField("value", fmt.Sprintf("% x", e.Value)).Warn("Ignoring date-time write")
			return nil
		}
		if err := c.sensors.Clock.Set(dt.Time(time.UTC)); err != nil {
			return fmt.Errorf("failed to set clock: %w", err)
		}
		c.logger.WithField("time", dt.String()).Info("Clock set")
	case AttributeIdentity:
		id, err := telemetry.DecodeCollarID(e.Value)
		if err != nil {
			c.logger.WithError(err).Warn("Ignoring collar id write")
			return nil
		}
		c.collarID = id
		c.sampler.SetCollarID(id)
		c.timers.Once(c.opts.CloseDelay, SignalCloseConnection)
		c.logger.WithField("collar_id", id).Info("Collar id set")
		c.setState(Closing)
	default:
		c.logger.WithField("attribute", e.Attribute.String()).Debug("Ignoring attribute write")
	}
	return nil
}

func (c *Controller) onConnectionClosed(e ConnectionClosed) error {
	c.connOpen = false
	c.logger.WithFields(logrus.Fields{
		"connection": e.Connection,
		"reason":     fmt.Sprintf("%#04x", e.Reason),
	}).Info("Connection closed")

	if c.state == Broadcasting {
		return nil
	}

	if err := c.radio.SetTiming(c.set, c.opts.AdvInterval); err != nil {
		return radioError("set extended timing", err)
	}
	if err := c.radio.SetPHY(c.set, PHYCoded, PHYCoded); err != nil {
		return radioError("set advertising phy", err)
	}
	if err := c.radio.StartExtendedAdvertising(c.set, AdvertisingPayload(), false); err != nil {
		return radioError("start extended advertising", err)
	}
	c.stopSampling = c.sampler.Start(c.timers, c.opts.MotionEvery, c.opts.EnvironmentEvery)
	c.setState(Broadcasting)
	return nil
}

func (c *Controller) onSignal(sig eventloop.Signal) error {
	switch sig {
	case SignalCloseConnection:
		return c.onCloseTimer()
	case SignalSampleMotion:
		if c.state != Broadcasting {
			return nil
		}
		return c.sampleMotion()
	case SignalSampleEnvironment:
		if c.state != Broadcasting {
			return nil
		}
		c.sampler.RefreshEnvironment()
		return nil
	default:
		c.logger.WithField("signal", fmt.Sprintf("%#x", uint32(sig))).Debug("Unknown signal")
		return nil
	}
}

// onCloseTimer closes the provisioning connection and arms supervision. When the
// host closed the link first, only supervision is armed.
func (c *Controller) onCloseTimer() error {
	switch {
	case c.state == Closing && c.connOpen:
		if err := c.radio.CloseConnection(c.conn); err != nil {
			c.logger.WithError(err).Warn("Failed to close connection, peer may have closed it")
		}
		c.connOpen = false
		c.conn = 0
	case c.state == Broadcasting && !c.watchdogStarted:
	default:
		c.logger.WithField("state", c.state.String()).Debug("Close timer ignored")
		return nil
	}
	return c.startWatchdog()
}

func (c *Controller) startWatchdog() error {
	if c.watchdog == nil || c.watchdogStarted {
		return nil
	}
	if err := c.watchdog.Start(); err != nil {
		return fmt.Errorf("failed to start watchdog: %w", err)
	}
	c.watchdogStarted = true
	return nil
}

func (c *Controller) sampleMotion() error {
	if c.watchdogStarted {
		c.watchdog.Feed()
	}
	f, ok := c.sampler.SampleMotion()
	if !ok {
		return nil
	}
	if err := c.radio.SetPeriodicData(c.set, f[:]); err != nil {
		return radioError("set periodic data", err)
	}
	if c.periodic {
		return nil
	}
	if err := c.radio.StartPeriodicAdvertising(c.set, c.opts.PeriodicInterval); err != nil {
		return radioError("start periodic advertising", err)
	}
	c.periodic = true
	c.logger.WithField("interval", c.opts.PeriodicInterval).Info("Periodic advertising started")
	return nil
}

