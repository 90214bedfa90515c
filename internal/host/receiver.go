package host

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"

	"github.com/srg/cowtag/internal/logsink"
	"github.com/srg/cowtag/internal/telemetry"
)

// ErrShortReport is returned for periodic reports that cannot hold a full frame.
var ErrShortReport = errors.New("periodic report shorter than a frame")

// DedupState remembers the trailer of the last logged frame.
type DedupState struct {
	last [telemetry.TrailerSize]byte
	seen bool
}

// Observe records trailer and reports whether it differs from the previous one.
// The first trailer observed is always new.
func (d *DedupState) Observe(trailer [telemetry.TrailerSize]byte) bool {
	if d.seen && d.last == trailer {
		return false
	}
	d.last = trailer
	d.seen = true
	return true
}

// Last returns the last observed trailer.
func (d *DedupState) Last() ([telemetry.TrailerSize]byte, bool) {
	return d.last, d.seen
}

// Report is one entry of the receiver diagnostics history.
type Report struct {
	At        time.Time
	Sync      uint16
	Counter   uint16
	RSSI      int8
	Trailer   [telemetry.TrailerSize]byte
	Duplicate bool
}

// ReceiverStats counts periodic reports by outcome.
type ReceiverStats struct {
	Reports     int64
	Logged      int64
	Duplicates  int64
	Rejected    int64
	Overwritten int64
}

// SyncReceiver turns periodic advertising reports into log rows, skipping frames
// whose trailer did not change since the last one.
type SyncReceiver struct {
	sink    logsink.Sink
	dedup   DedupState
	history mpmc.RichOverlappedRingBuffer[Report]
	stats   ReceiverStats
	now     func() time.Time
	logger  *logrus.Logger
}

// NewSyncReceiver creates a receiver appending to sink and keeping the last
// historySize reports for diagnostics.
func NewSyncReceiver(sink logsink.Sink, historySize uint32, logger *logrus.Logger) (*SyncReceiver, error) {
	if sink == nil {
		return nil, fmt.Errorf("sink cannot be nil")
	}
	if historySize == 0 {
		return nil, fmt.Errorf("history size must be > 0")
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &SyncReceiver{
		sink:    sink,
		history: mpmc.NewOverlappedRingBuffer[Report](historySize),
		now:     time.Now,
		logger:  logger,
	}, nil
}

// Receive handles one periodic report. Reports shorter than a frame are
// rejected with ErrShortReport; longer ones are truncated to the frame.
func (r *SyncReceiver) Receive(ev SyncReport) error {
	atomic.AddInt64(&r.stats.Reports, 1)

	frame, err := telemetry.DecodeFrame(ev.Data)
	if err != nil {
		atomic.AddInt64(&r.stats.Rejected, 1)
		return fmt.Errorf("%w: got %d bytes", ErrShortReport, len(ev.Data))
	}

	trailer := frame.TrailerBytes()
	fresh := r.dedup.Observe(trailer)
	r.remember(Report{
		At:        r.now(),
		Sync:      ev.Sync,
		Counter:   ev.Counter,
		RSSI:      ev.RSSI,
		Trailer:   trailer,
		Duplicate: !fresh,
	})

	r.logger.WithFields(logrus.Fields{
		"sync":    ev.Sync,
		"counter": ev.Counter,
		"rssi":    ev.RSSI,
		"new":     fresh,
	}).Debug("Periodic report")

	if !fresh {
		atomic.AddInt64(&r.stats.Duplicates, 1)
		return nil
	}

	if err := r.sink.Append(logsink.RowFromFrame(&frame, ev.Counter, ev.RSSI)); err != nil {
		return err
	}
	atomic.AddInt64(&r.stats.Logged, 1)
	r.logger.WithField("trailer", telemetry.TrailerFromBytes(trailer).String()).Info("Frame logged")
	return nil
}

func (r *SyncReceiver) remember(rep Report) {
	overwrites, err := r.history.EnqueueM(rep)
	if err != nil {
		r.logger.WithError(err).Warn("Failed to record report history")
		return
	}
	atomic.AddInt64(&r.stats.Overwritten, int64(overwrites))
}

// Drain removes and returns the buffered report history, oldest first.
func (r *SyncReceiver) Drain() []Report {
	var out []Report
	for !r.history.IsEmpty() {
		rep, err := r.history.Dequeue()
		if err != nil {
			break
		}
		out = append(out, rep)
	}
	return out
}

// Stats returns a snapshot of the counters.
func (r *SyncReceiver) Stats() ReceiverStats {
	return ReceiverStats{
		Reports:     atomic.LoadInt64(&r.stats.Reports),
		Logged:      atomic.LoadInt64(&r.stats.Logged),
		Duplicates:  atomic.LoadInt64(&r.stats.Duplicates),
		Rejected:    atomic.LoadInt64(&r.stats.Rejected),
		Overwritten: atomic.LoadInt64(&r.stats.Overwritten),
	}
}
