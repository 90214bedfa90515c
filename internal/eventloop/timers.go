package eventloop

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/cowtag/internal/groutine"
)

// Timers arms one-shot and periodic timers whose only effect is posting a signal.
//
// One-shot timers cannot be cancelled. A handler that no longer wants the signal
// ignores it by checking its own state when the signal is dispatched.
type Timers interface {
	Once(d time.Duration, sig Signal)
	Every(d time.Duration, sig Signal) (stop func())
}

// SystemTimers implements Timers on the Go runtime timers.
// Nothing fires after ctx is done.
type SystemTimers struct {
	ctx    context.Context
	mb     *Mailbox
	logger *logrus.Logger
}

// NewSystemTimers creates timers posting into mb.
func NewSystemTimers(ctx context.Context, mb *Mailbox, logger *logrus.Logger) *SystemTimers {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &SystemTimers{ctx: ctx, mb: mb, logger: logger}
}

// Once posts sig after d.
func (t *SystemTimers) Once(d time.Duration, sig Signal) {
	time.AfterFunc(d, func() {
		if t.ctx.Err() != nil {
			return
		}
		t.mb.Post(sig)
	})
}

// Every posts sig each d until stop is called or the context ends.
func (t *SystemTimers) Every(d time.Duration, sig Signal) (stop func()) {
	done := make(chan struct{})
	var once sync.Once

	name := fmt.Sprintf("timer-%#x-%s", uint32(sig), d)
	groutine.Go(t.ctx, name, func(ctx context.Context) {
		ticker := time.NewTicker(d)
		defer ticker.Stop()
		t.logger.WithField("timer", name).Debug("Periodic timer started")
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				t.mb.Post(sig)
			}
		}
	})

	return func() { once.Do(func() { close(done) }) }
}
