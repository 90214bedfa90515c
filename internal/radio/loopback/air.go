// Package loopback joins one simulated collar and one host over an in-process
// air channel. It implements host.Stack and collar.Radio.
package loopback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"

	"github.com/srg/cowtag/internal/collar"
	"github.com/srg/cowtag/internal/eventloop"
	"github.com/srg/cowtag/internal/groutine"
	"github.com/srg/cowtag/internal/host"
	"github.com/srg/cowtag/internal/telemetry"
)

var (
	// ErrNotAdvertising is returned when the host targets a collar that is not
	// advertising in a compatible mode.
	ErrNotAdvertising = errors.New("collar not advertising")
	// ErrNoConnection is returned for commands on an unknown connection.
	ErrNoConnection = errors.New("no such connection")
	// ErrAirBusy is returned when the air channel cannot take more deliveries.
	ErrAirBusy = errors.New("air channel busy")
)

const (
	connectionHandle = 1
	syncHandle       = 1
	advertisingSet   = 0
	serviceHandle    = 0x0010
	timeHandle       = 0x0012
	identityHandle   = 0x0015
	idlePoll         = 50 * time.Millisecond
)

// Options configures an Air.
type Options struct {
	CollarAddress string
	RSSI          int8
	// Deliveries bounds the pending event deliveries.
	Deliveries int
}

// DefaultOptions returns a usable configuration.
func DefaultOptions() Options {
	return Options{CollarAddress: "00:0b:57:c0:ff:01", RSSI: -58, Deliveries: 256}
}

// Air is the shared medium. The collar side is reached through Collar() and the
// host side through Host().
type Air struct {
	opts   Options
	logger *logrus.Logger

	toHost   func(context.Context, host.Event) error
	toCollar func(context.Context, collar.Event) error

	deliveries *eventloop.Queue[func(context.Context)]
	periodic   *ringbuffer.RingBuffer

	mu           sync.Mutex
	advertising  bool
	connectable  bool
	extended     bool
	advPayload   []byte
	advInterval  time.Duration
	perInterval  time.Duration
	perRunning   bool
	perCurrent   []byte
	scanning     bool
	connected    bool
	syncPending  bool
	syncOpen     bool
	counter      uint16
	framesOnAir  int64
	reportsSent  int64

	dropped atomic.Int64
	wg      sync.WaitGroup
}

// New creates an air channel. Attach both sides before Start.
func New(opts Options, logger *logrus.Logger) *Air {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.Deliveries <= 0 {
		opts.Deliveries = DefaultOptions().Deliveries
	}
	return &Air{
		opts:       opts,
		logger:     logger,
		deliveries: eventloop.NewQueue[func(context.Context)](opts.Deliveries),
		periodic:   ringbuffer.New(4 * telemetry.FrameSize),
	}
}

// AttachHost routes host events, normally to the host loop's Post.
func (a *Air) AttachHost(post func(context.Context, host.Event) error) { a.toHost = post }

// AttachCollar routes collar events, normally to the collar loop's Post.
func (a *Air) AttachCollar(post func(context.Context, collar.Event) error) { a.toCollar = post }

// Host returns the host-side stack.
func (a *Air) Host() *HostStack { return &HostStack{air: a} }

// Collar returns the collar-side radio.
func (a *Air) Collar() *CollarRadio { return &CollarRadio{air: a} }

// Start runs the delivery, advertising and periodic goroutines until ctx ends.
func (a *Air) Start(ctx context.Context) {
	groutine.GoTracked(ctx, &a.wg, "air-delivery", a.deliver)
	groutine.GoTracked(ctx, &a.wg, "air-advertiser", a.advertiseLoop)
	groutine.GoTracked(ctx, &a.wg, "air-periodic", a.periodicLoop)
}

// Wait blocks until every goroutine started by Start has returned.
func (a *Air) Wait() { a.wg.Wait() }

// Stats reports frames set on air and periodic reports delivered.
func (a *Air) Stats() (frames, reports, dropped int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.framesOnAir, a.reportsSent, a.dropped.Load()
}

// DropSync simulates losing the periodic train.
func (a *Air) DropSync(reason uint16) {
	a.mu.Lock()
	open := a.syncOpen
	a.syncOpen = false
	a.syncPending = false
	a.mu.Unlock()
	if open {
		_ = a.emitHost(host.SyncClosed{Sync: syncHandle, Reason: reason})
	}
}

func (a *Air) deliver(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fn, ok := <-a.deliveries.C():
			if !ok {
				return
			}
			fn(ctx)
		}
	}
}

func (a *Air) emit(fn func(context.Context)) error {
	if err := a.deliveries.TryPost(fn); err != nil {
		a.dropped.Add(1)
		return fmt.Errorf("%w: %w", ErrAirBusy, err)
	}
	return nil
}

func (a *Air) emitHost(ev host.Event) error {
	return a.emit(func(ctx context.Context) {
		if a.toHost == nil {
			return
		}
		if err := a.toHost(ctx, ev); err != nil && ctx.Err() == nil {
			a.logger.WithError(err).WithField("event", fmt.Sprintf("%T", ev)).Warn("Host did not take event")
		}
	})
}

func (a *Air) emitCollar(ev collar.Event) error {
	return a.emit(func(ctx context.Context) {
		if a.toCollar == nil {
			return
		}
		if err := a.toCollar(ctx, ev); err != nil && ctx.Err() == nil {
			a.logger.WithError(err).WithField("event", fmt.Sprintf("%T", ev)).Warn("Collar did not take event")
		}
	})
}

func (a *Air) wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = idlePoll
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (a *Air) advertiseLoop(ctx context.Context) {
	for {
		a.mu.Lock()
		d := a.advInterval
		a.mu.Unlock()
		if !a.wait(ctx, d) {
			return
		}
		a.advertiseOnce()
	}
}

func (a *Air) advertiseOnce() {
	a.mu.Lock()
	if !a.advertising || !a.scanning {
		a.mu.Unlock()
		return
	}
	payload := append([]byte(nil), a.advPayload...)
	extended, connectable := a.extended, a.connectable
	perInterval := uint16(0)
	if a.perRunning {
		perInterval = uint16(a.perInterval / (1250 * time.Microsecond))
	}
	a.mu.Unlock()

	var ev host.Event
	if extended {
		ev = host.ExtendedAdvertisement{
			Address:          a.opts.CollarAddress,
			RSSI:             a.opts.RSSI,
			SID:              advertisingSet,
			PeriodicInterval: perInterval,
			Data:             payload,
		}
	} else {
		ev = host.LegacyAdvertisement{
			Address:     a.opts.CollarAddress,
			RSSI:        a.opts.RSSI,
			Connectable: connectable,
			Data:        payload,
		}
	}
	if err := a.emitHost(ev); err != nil {
		a.logger.WithError(err).Debug("Advertisement lost")
	}
}

func (a *Air) periodicLoop(ctx context.Context) {
	for {
		a.mu.Lock()
		d := a.perInterval
		a.mu.Unlock()
		if !a.wait(ctx, d) {
			return
		}
		a.periodicOnce()
	}
}

// periodicOnce drains frames queued by the collar, keeping the newest, and
// sends it to a synced host. Unchanged data is repeated every interval.
func (a *Air) periodicOnce() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.perRunning {
		return
	}

	buf := make([]byte, telemetry.FrameSize)
	for a.periodic.Length() >= telemetry.FrameSize {
		n, err := a.periodic.TryRead(buf)
		if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
			a.logger.WithError(err).Warn("Periodic buffer read failed")
			break
		}
		if n == telemetry.FrameSize {
			a.perCurrent = append(a.perCurrent[:0], buf...)
		}
	}

	if a.syncPending {
		a.syncPending = false
		a.syncOpen = true
		interval := uint16(a.perInterval / (1250 * time.Microsecond))
		_ = a.emitHost(host.SyncOpened{Sync: syncHandle, Interval: interval})
	}
	if !a.syncOpen || len(a.perCurrent) == 0 {
		return
	}

	a.counter++
	report := host.SyncReport{
		Sync:    syncHandle,
		RSSI:    a.opts.RSSI,
		Counter: a.counter,
		Data:    append([]byte(nil), a.perCurrent...),
	}
	if err := a.emitHost(report); err == nil {
		a.reportsSent++
	}
}
