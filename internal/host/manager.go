// Package host implements the gateway side: it provisions collars over a short
// connection and then logs their periodic advertising telemetry.
package host

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/cowtag/internal/advert"
	"github.com/srg/cowtag/internal/eventloop"
	"github.com/srg/cowtag/internal/profile"
	"github.com/srg/cowtag/internal/telemetry"
)

// State of the host connection manager.
type State int

const (
	Disconnected State = iota
	Scanning
	Connecting
	ServiceDiscovery
	CharacteristicDiscovery
	ProvisioningWrite
	PeriodicSync
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Scanning:
		return "scanning"
	case Connecting:
		return "connecting"
	case ServiceDiscovery:
		return "service-discovery"
	case CharacteristicDiscovery:
		return "characteristic-discovery"
	case ProvisioningWrite:
		return "provisioning-write"
	case PeriodicSync:
		return "periodic-sync"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Session holds the handles of the single provisioning connection.
type Session struct {
	Connection   uint8
	Open         bool
	Service      uint32
	TimeChar     uint16
	IdentityChar uint16

	hasService      bool
	hasTimeChar     bool
	hasIdentityChar bool
}

// Options configures a Manager.
type Options struct {
	CollarID         uint8
	DisconnectDelay  time.Duration
	ReprovisionDelay time.Duration
	Scan             ScanParameters
	Sync             SyncParameters
	// Now supplies the local time written to collars. Defaults to time.Now.
	Now func() time.Time
}

// DefaultOptions mirrors the timings of the deployed gateway.
func DefaultOptions() Options {
	return Options{
		CollarID:         1,
		DisconnectDelay:  2 * time.Second,
		ReprovisionDelay: 20 * time.Second,
		Scan:             ScanParameters{Passive: true, Interval: 160, Window: 160},
		Sync:             SyncParameters{Skip: 0, Timeout: 6000, ReportAll: true},
	}
}

// Manager is the host state machine. Handle must be called from a single
// goroutine, normally an eventloop.Loop.
type Manager struct {
	stack    Stack
	timers   eventloop.Timers
	scanner  *advert.Scanner
	receiver *SyncReceiver
	opts     Options
	logger   *logrus.Logger

	state       State
	session     Session
	scanning    bool
	observing   bool
	provisioned bool
	syncPending bool
	sync        uint16
}

// NewManager wires a manager to its stack, timers and report receiver.
func NewManager(stack Stack, timers eventloop.Timers, receiver *SyncReceiver, opts Options, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		stack:    stack,
		timers:   timers,
		scanner:  advert.NewScanner(profile.ServiceUUID, logger),
		receiver: receiver,
		opts:     opts,
		logger:   logger,
		state:    Disconnected,
	}
}

// State returns the current state.
func (m *Manager) State() State { return m.state }

// Session returns a copy of the connection session.
func (m *Manager) Session() Session { return m.session }

// Scanner returns the advertisement scanner.
func (m *Manager) Scanner() *advert.Scanner { return m.scanner }

// Handle processes one event. A returned error wraps ErrStack and means the
// host cannot continue.
func (m *Manager) Handle(ev Event) error {
	switch e := ev.(type) {
	case Boot:
		return m.onBoot()
	case LegacyAdvertisement:
		return m.onLegacy(e)
	case ExtendedAdvertisement:
		return m.onExtended(e)
	case ConnectionOpened:
		return m.onConnectionOpened(e)
	case ConnectionParameters:
		m.logger.WithFields(logrus.Fields{
			"connection": e.Connection,
			"interval":   e.Interval,
			"latency":    e.Latency,
			"timeout":    e.Timeout,
		}).Debug("Connection parameters")
		return nil
	case ConnectionClosed:
		return m.onConnectionClosed(e)
	case ServiceFound:
		m.onServiceFound(e)
		return nil
	case CharacteristicFound:
		m.onCharacteristicFound(e)
		return nil
	case ProcedureCompleted:
		return m.onProcedureCompleted(e)
	case SyncOpened:
		return m.onSyncOpened(e)
	case SyncClosed:
		return m.onSyncClosed(e)
	case SyncReport:
		return m.onSyncReport(e)
	case Signal:
		return m.onSignal(e.Signal)
	default:
		return fmt.Errorf("unknown host event %T", ev)
	}
}

func (m *Manager) setState(s State) {
	if s == m.state {
		return
	}
	m.logger.WithFields(logrus.Fields{
		"from": m.state.String(),
		"to":   s.String(),
	}).Debug("Host state")
	m.state = s
}

func (m *Manager) onBoot() error {
	m.logger.Info("Host radio ready, scanning for collars")
	if err := m.startScan(PHY1MAndCoded, DiscoverGeneric); err != nil {
		return err
	}
	m.setState(Scanning)
	return nil
}

func (m *Manager) onLegacy(e LegacyAdvertisement) error {
	if m.state != Scanning || !e.Connectable {
		return nil
	}
	if !m.scanner.Match(e.Address, e.Data) {
		return nil
	}

	conn, err := m.stack.OpenConnection(e.Address, e.AddressType)
	if err != nil {
		m.logger.WithError(err).WithField("address", e.Address).Warn("Failed to open connection, still scanning")
		return nil
	}
	m.logger.WithFields(logrus.Fields{
		"address":    e.Address,
		"rssi":       e.RSSI,
		"connection": conn,
	}).Info("Collar found, connecting")

	if err := m.stopScan(); err != nil {
		return err
	}
	m.setState(Connecting)
	return nil
}

func (m *Manager) onExtended(e ExtendedAdvertisement) error {
	if m.syncPending || (m.state != Scanning && m.state != Disconnected) {
		return nil
	}
	if !m.scanner.Match(e.Address, e.Data) {
		return nil
	}

	fields := logrus.Fields{"address": e.Address, "sid": e.SID}
	sync, err := m.stack.OpenSync(e.Address, e.AddressType, e.SID)
	if err != nil {
		entry := m.logger.WithError(err).WithFields(fields)
		if errors.Is(err, ErrUnsupported) {
			entry.Debug("Periodic sync not available")
		} else {
			entry.Warn("Failed to open periodic sync")
		}
		return nil
	}
	m.syncPending = true
	m.sync = sync
	m.logger.WithFields(fields).WithField("sync", sync).Info("Opening periodic sync")
	return nil
}

func (m *Manager) onConnectionOpened(e ConnectionOpened) error {
	m.session = Session{Connection: e.Connection, Open: true}
	m.logger.WithFields(logrus.Fields{
		"connection": e.Connection,
		"address":    e.Address,
	}).Info("Connection opened")

	if err := m.stack.DiscoverPrimaryServicesByUUID(e.Connection, profile.ServiceUUID); err != nil {
		return stackError("discover services", err)
	}
	m.setState(ServiceDiscovery)
	return nil
}

func (m *Manager) onServiceFound(e ServiceFound) {
	if !profile.Is(e.UUID, profile.ServiceUUID) {
		return
	}
	m.session.Service = e.Service
	m.session.hasService = true
	m.logger.WithField("service", e.Service).Debug("Service discovered")
}

func (m *Manager) onCharacteristicFound(e CharacteristicFound) {
	switch {
	case profile.Is(e.UUID, profile.TimeCharUUID):
		m.session.TimeChar = e.Characteristic
		m.session.hasTimeChar = true
		m.logger.WithField("handle", e.Characteristic).Debug("Time characteristic discovered")
	case profile.Is(e.UUID, profile.IdentityCharUUID):
		m.session.IdentityChar = e.Characteristic
		m.session.hasIdentityChar = true
		m.logger.WithField("handle", e.Characteristic).Debug("Identity characteristic discovered")
	}
}

func (m *Manager) onProcedureCompleted(e ProcedureCompleted) error {
	switch m.state {
	case ServiceDiscovery:
		if !m.session.hasService {
			m.logger.WithField("connection", m.session.Connection).Warn("Collar service not found, closing connection")
			return m.closeSession()
		}
		if err := m.stack.DiscoverCharacteristics(m.session.Connection, m.session.Service); err != nil {
			return stackError("discover characteristics", err)
		}
		m.setState(CharacteristicDiscovery)
	case CharacteristicDiscovery:
		if !m.session.hasTimeChar || !m.session.hasIdentityChar {
			m.logger.WithFields(logrus.Fields{
				"time":     m.session.hasTimeChar,
				"identity": m.session.hasIdentityChar,
			}).Warn("Collar characteristics not found, closing connection")
			return m.closeSession()
		}
		m.provision()
		m.provisioned = true
		m.timers.Once(m.opts.DisconnectDelay, SignalDisconnect)
		m.setState(ProvisioningWrite)
	default:
		m.logger.WithField("state", m.state.String()).Debug("Ignoring procedure completion")
	}
	return nil
}

// provision writes local time and collar id. Writes are best effort.
func (m *Manager) provision() {
	now := m.opts.Now()
	dt := telemetry.DateTimeFromTime(now)
	conn := m.session.Connection

	if err := m.stack.WriteWithoutResponse(conn, m.session.TimeChar, dt.Bytes()); err != nil {
		m.logger.WithError(err).Warn("Failed to write collar time")
	}
	if err := m.stack.WriteWithoutResponse(conn, m.session.IdentityChar, []byte{m.opts.CollarID}); err != nil {
		m.logger.WithError(err).Warn("Failed to write collar id")
	}
	m.logger.WithFields(logrus.Fields{
		"time":      dt.String(),
		"collar_id": m.opts.CollarID,
	}).Info("Collar provisioned")
}

func (m *Manager) closeSession() error {
	if err := m.stack.CloseConnection(m.session.Connection); err != nil {
		return stackError("close connection", err)
	}
	return nil
}

func (m *Manager) onConnectionClosed(e ConnectionClosed) error {
	m.logger.WithFields(logrus.Fields{
		"connection": e.Connection,
		"reason":     fmt.Sprintf("%#04x", e.Reason),
	}).Info("Connection closed")
	m.session = Session{}

	if m.state == PeriodicSync {
		if err := m.observe(PHYCoded); err != nil {
			return err
		}
		m.setState(Disconnected)
		m.timers.Once(m.opts.ReprovisionDelay, SignalReprovision)
		return nil
	}

	// The collar closed first; provisioning is done, so observe its broadcast.
	if m.provisioned {
		m.provisioned = false
		if err := m.observe(PHYCoded); err != nil {
			return err
		}
		m.setState(Scanning)
		return nil
	}

	if !m.observing {
		if err := m.startScan(PHY1M, DiscoverGeneric); err != nil {
			return err
		}
	}
	m.setState(Scanning)
	return nil
}

func (m *Manager) onSyncOpened(e SyncOpened) error {
	m.logger.WithFields(logrus.Fields{
		"sync":     e.Sync,
		"interval": e.Interval,
	}).Info("Periodic sync opened")
	m.sync = e.Sync
	m.syncPending = true
	if err := m.stopScan(); err != nil {
		return err
	}
	m.setState(PeriodicSync)
	return nil
}

func (m *Manager) onSyncClosed(e SyncClosed) error {
	m.logger.WithFields(logrus.Fields{
		"sync":   e.Sync,
		"reason": fmt.Sprintf("%#04x", e.Reason),
	}).Warn("Periodic sync closed")
	m.syncPending = false

	if err := m.startScan(PHYCoded, DiscoverObservation); err != nil {
		return err
	}
	m.setState(Disconnected)
	m.timers.Once(m.opts.ReprovisionDelay, SignalReprovision)
	return nil
}

func (m *Manager) onSyncReport(e SyncReport) error {
	if m.receiver == nil {
		return nil
	}
	err := m.receiver.Receive(e)
	if errors.Is(err, ErrShortReport) {
		m.logger.WithError(err).WithField("sync", e.Sync).Warn("Dropping periodic report")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to log frame: %w", err)
	}
	return nil
}

func (m *Manager) onSignal(sig eventloop.Signal) error {
	switch sig {
	case SignalDisconnect:
		if !m.provisioned {
			m.logger.WithField("state", m.state.String()).Debug("Disconnect timer ignored")
			return nil
		}
		m.provisioned = false
		if m.session.Open {
			if err := m.stack.CloseConnection(m.session.Connection); err != nil {
				m.logger.WithError(err).Debug("Connection already gone")
			}
		}
		return m.observe(PHYCoded)
	case SignalReprovision:
		if m.state != Disconnected {
			m.logger.WithField("state", m.state.String()).Debug("Reprovision timer ignored")
			return nil
		}
		m.logger.Info("Re-entering broadcast observation")
		return m.observe(PHY1MAndCoded)
	default:
		m.logger.WithField("signal", fmt.Sprintf("%#x", uint32(sig))).Debug("Unknown signal")
		return nil
	}
}

// observe reconfigures the scanner to follow non-connectable broadcasters.
func (m *Manager) observe(phy PHY) error {
	if err := m.stopScan(); err != nil {
		return err
	}
	if err := m.stack.SetScanParameters(m.opts.Scan); err != nil {
		return stackError("set scan parameters", err)
	}
	if err := m.stack.SetSyncParameters(m.opts.Sync); err != nil {
		return stackError("set sync parameters", err)
	}
	return m.startScan(phy, DiscoverObservation)
}

func (m *Manager) startScan(phy PHY, mode DiscoveryMode) error {
	if m.scanning {
		if err := m.stopScan(); err != nil {
			return err
		}
	}
	if err := m.stack.StartScan(phy, mode); err != nil {
		return stackError("start scan", err)
	}
	m.scanning = true
	m.observing = mode == DiscoverObservation
	m.logger.WithFields(logrus.Fields{
		"phy":  phy.String(),
		"mode": mode.String(),
	}).Debug("Scanning")
	return nil
}

func (m *Manager) stopScan() error {
	if !m.scanning {
		return nil
	}
	if err := m.stack.StopScan(); err != nil {
		return stackError("stop scan", err)
	}
	m.scanning = false
	m.observing = false
	return nil
}
