// Package goble implements the host radio stack on top of go-ble.
//
// go-ble exposes scanning, GATT client and connection control but no periodic
// advertising sync, so OpenSync reports host.ErrUnsupported. Scan and sync
// parameters are accepted and logged only.
package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/cowtag/internal/advert"
	"github.com/srg/cowtag/internal/groutine"
	"github.com/srg/cowtag/internal/host"
	"github.com/srg/cowtag/internal/profile"
)

// ErrNoConnection is returned for commands on an unknown connection handle.
var ErrNoConnection = errors.New("no such connection")

// Poster delivers events to the host loop.
type Poster func(context.Context, host.Event) error

// Options configures a Stack.
type Options struct {
	ConnectTimeout time.Duration
	AllowDuplicate bool
}

// DefaultOptions returns a usable configuration.
func DefaultOptions() Options {
	return Options{ConnectTimeout: 10 * time.Second, AllowDuplicate: true}
}

// Stack adapts a ble.Device to host.Stack. Command results are posted back as
// host events from background goroutines.
type Stack struct {
	ctx    context.Context
	dev    ble.Device
	post   Poster
	opts   Options
	logger *logrus.Logger

	mu         sync.Mutex
	wg         sync.WaitGroup
	scanCancel context.CancelFunc
	scanDone   chan struct{}
	nextConn   uint8
	conn       uint8
	client     ble.Client
	services   map[uint32]*ble.Service
	chars      map[uint16]*ble.Characteristic
}

var _ host.Stack = (*Stack)(nil)

// New creates a stack over dev. Background work stops when ctx ends.
func New(ctx context.Context, dev ble.Device, post Poster, opts Options, logger *logrus.Logger) *Stack {
	if logger == nil {
		logger = logrus.New()
	}
	return &Stack{
		ctx:    ctx,
		dev:    dev,
		post:   post,
		opts:   opts,
		logger: logger,
	}
}

// Wait blocks until background goroutines have returned.
func (s *Stack) Wait() { s.wg.Wait() }

func (s *Stack) emit(ev host.Event) {
	s.emitCtx(s.ctx, ev)
}

func (s *Stack) emitCtx(ctx context.Context, ev host.Event) {
	if err := s.post(ctx, ev); err != nil && ctx.Err() == nil {
		s.logger.WithError(err).WithField("event", fmt.Sprintf("%T", ev)).Warn("Failed to post radio event")
	}
}

// StartScan scans until StopScan. go-ble picks the PHY itself.
func (s *Stack) StartScan(phy host.PHY, mode host.DiscoveryMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scanCancel != nil {
		return fmt.Errorf("scan already running")
	}

	scanCtx, cancel := context.WithCancel(s.ctx)
	done := make(chan struct{})
	s.scanCancel, s.scanDone = cancel, done

	s.logger.WithFields(logrus.Fields{
		"phy":  phy.String(),
		"mode": mode.String(),
	}).Debug("Starting go-ble scan")

	groutine.GoTracked(scanCtx, &s.wg, "goble-scan", func(ctx context.Context) {
		defer close(done)
		// Posting with the scan context lets StopScan, called from the loop,
		// unblock a handler waiting on a full queue.
		err := s.dev.Scan(ctx, s.opts.AllowDuplicate, func(adv ble.Advertisement) {
			s.emitCtx(ctx, host.LegacyAdvertisement{
				Address:     adv.Addr().String(),
				RSSI:        int8(adv.RSSI()),
				Connectable: adv.Connectable(),
				Data:        Synthesize(adv),
			})
		})
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			s.logger.WithError(err).Error("Scan stopped")
		}
	})
	return nil
}

// StopScan stops a running scan and waits for it to end.
func (s *Stack) StopScan() error {
	s.mu.Lock()
	cancel, done := s.scanCancel, s.scanDone
	s.scanCancel, s.scanDone = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

func (s *Stack) SetScanParameters(p host.ScanParameters) error {
	s.logger.WithFields(logrus.Fields{
		"passive":  p.Passive,
		"interval": p.Interval,
		"window":   p.Window,
	}).Debug("Scan parameters are managed by the platform")
	return nil
}

func (s *Stack) SetSyncParameters(p host.SyncParameters) error {
	s.logger.WithFields(logrus.Fields{
		"skip":    p.Skip,
		"timeout": p.Timeout,
	}).Debug("Periodic sync is not available on go-ble")
	return nil
}

// OpenConnection dials address in the background. ConnectionOpened or
// ConnectionClosed follows.
func (s *Stack) OpenConnection(address string, _ uint8) (uint8, error) {
	s.mu.Lock()
	if s.client != nil {
		s.mu.Unlock()
		return 0, fmt.Errorf("already connected")
	}
	s.nextConn++
	conn := s.nextConn
	s.conn = conn
	s.mu.Unlock()

	groutine.GoTracked(s.ctx, &s.wg, "goble-dial", func(ctx context.Context) {
		dialCtx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
		defer cancel()

		client, err := s.dev.Dial(dialCtx, ble.NewAddr(address))
		if err != nil {
			s.logger.WithError(err).WithField("address", address).Warn("Failed to dial collar")
			s.emit(host.ConnectionClosed{Connection: conn, Reason: 0x3e})
			return
		}

		s.mu.Lock()
		s.client = client
		s.services = make(map[uint32]*ble.Service)
		s.chars = make(map[uint16]*ble.Characteristic)
		s.mu.Unlock()

		s.emit(host.ConnectionOpened{Connection: conn, Address: address})
		s.watch(ctx, conn, client)
	})
	return conn, nil
}

// watch posts ConnectionClosed once the client reports disconnection.
func (s *Stack) watch(ctx context.Context, conn uint8, client ble.Client) {
	dc, ok := client.(interface{ Disconnected() <-chan struct{} })
	if !ok {
		s.logger.Debug("Client does not report disconnection")
		return
	}
	select {
	case <-dc.Disconnected():
	case <-ctx.Done():
		return
	}

	s.mu.Lock()
	if s.client == client {
		s.client = nil
		s.services, s.chars = nil, nil
	}
	s.mu.Unlock()
	s.emit(host.ConnectionClosed{Connection: conn, Reason: 0x13})
}

func (s *Stack) clientFor(conn uint8) (ble.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil || conn != s.conn {
		return nil, fmt.Errorf("%w: %d", ErrNoConnection, conn)
	}
	return s.client, nil
}

func (s *Stack) CloseConnection(conn uint8) error {
	client, err := s.clientFor(conn)
	if err != nil {
		return err
	}
	return client.CancelConnection()
}

// DiscoverPrimaryServicesByUUID posts a ServiceFound per match and then
// ProcedureCompleted.
func (s *Stack) DiscoverPrimaryServicesByUUID(conn uint8, uuid ble.UUID) error {
	client, err := s.clientFor(conn)
	if err != nil {
		return err
	}
	groutine.GoTracked(s.ctx, &s.wg, "goble-discover-services", func(context.Context) {
		services, err := client.DiscoverServices([]ble.UUID{uuid})
		if err != nil {
			s.logger.WithError(err).Warn("Service discovery failed")
			s.emit(host.ProcedureCompleted{Connection: conn, Result: 1})
			return
		}
		for _, svc := range services {
			handle := uint32(svc.Handle)
			s.mu.Lock()
			if s.services != nil {
				s.services[handle] = svc
			}
			s.mu.Unlock()
			s.emit(host.ServiceFound{Connection: conn, Service: handle, UUID: svc.UUID})
		}
		s.emit(host.ProcedureCompleted{Connection: conn})
	})
	return nil
}

// DiscoverCharacteristics posts a CharacteristicFound per characteristic of
// service and then ProcedureCompleted.
func (s *Stack) DiscoverCharacteristics(conn uint8, service uint32) error {
	client, err := s.clientFor(conn)
	if err != nil {
		return err
	}
	s.mu.Lock()
	svc := s.services[service]
	s.mu.Unlock()
	if svc == nil {
		return fmt.Errorf("unknown service handle %#x", service)
	}

	groutine.GoTracked(s.ctx, &s.wg, "goble-discover-characteristics", func(context.Context) {
		chars, err := client.DiscoverCharacteristics(nil, svc)
		if err != nil {
			s.logger.WithError(err).Warn("Characteristic discovery failed")
			s.emit(host.ProcedureCompleted{Connection: conn, Result: 1})
			return
		}
		for _, c := range chars {
			s.mu.Lock()
			if s.chars != nil {
				s.chars[c.ValueHandle] = c
			}
			s.mu.Unlock()
			s.logger.WithFields(logrus.Fields{
				"uuid": c.UUID.String(),
				"name": profile.LookupName(c.UUID.String()),
			}).Debug("Characteristic")
			s.emit(host.CharacteristicFound{Connection: conn, Characteristic: c.ValueHandle, UUID: c.UUID})
		}
		s.emit(host.ProcedureCompleted{Connection: conn})
	})
	return nil
}

func (s *Stack) WriteWithoutResponse(conn uint8, characteristic uint16, value []byte) error {
	client, err := s.clientFor(conn)
	if err != nil {
		return err
	}
	s.mu.Lock()
	c := s.chars[characteristic]
	s.mu.Unlock()
	if c == nil {
		return fmt.Errorf("unknown characteristic handle %#04x", characteristic)
	}
	return client.WriteCharacteristic(c, value, true)
}

func (s *Stack) OpenSync(address string, _ uint8, sid uint8) (uint16, error) {
	return 0, fmt.Errorf("%w: periodic sync to %s sid %d", host.ErrUnsupported, address, sid)
}

// Synthesize rebuilds an advertising payload from the fields go-ble parsed:
// one complete 128-bit UUID list entry per service and the local name.
func Synthesize(adv ble.Advertisement) []byte {
	var out []byte
	for _, u := range adv.Services() {
		if len(u) == 16 {
			out = advert.Field(out, advert.AllUUID128, u)
		}
	}
	if name := adv.LocalName(); name != "" {
		out = advert.Field(out, advert.CompleteName, []byte(name))
	}
	return out
}
