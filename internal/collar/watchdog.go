package collar

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// SoftWatchdog calls reset when it is not fed within period after Start.
type SoftWatchdog struct {
	period time.Duration
	reset  func()
	logger *logrus.Logger

	mu      sync.Mutex
	timer   *time.Timer
	started bool
	fed     int64
	expired bool
}

// NewSoftWatchdog creates a stopped watchdog.
func NewSoftWatchdog(period time.Duration, reset func(), logger *logrus.Logger) *SoftWatchdog {
	if logger == nil {
		logger = logrus.New()
	}
	return &SoftWatchdog{period: period, reset: reset, logger: logger}
}

// Start arms the watchdog. Starting twice is a no-op.
func (w *SoftWatchdog) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}
	w.started = true
	w.timer = time.AfterFunc(w.period, w.expire)
	w.logger.WithField("period", w.period).Info("Watchdog started")
	return nil
}

// Feed restarts the countdown. Feeding a stopped watchdog does nothing.
func (w *SoftWatchdog) Feed() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started || w.expired {
		return
	}
	w.timer.Reset(w.period)
	w.fed++
}

// Stop disarms the watchdog.
func (w *SoftWatchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.started = false
}

// Started reports whether the watchdog is armed.
func (w *SoftWatchdog) Started() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.started
}

// Fed returns the number of feeds since Start.
func (w *SoftWatchdog) Fed() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fed
}

func (w *SoftWatchdog) expire() {
	w.mu.Lock()
	if !w.started || w.expired {
		w.mu.Unlock()
		return
	}
	w.expired = true
	w.mu.Unlock()

	w.logger.WithField("period", w.period).Error("Watchdog expired, resetting")
	if w.reset != nil {
		w.reset()
	}
}
