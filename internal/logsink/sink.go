// Package logsink persists telemetry rows received by the host.
package logsink

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/cowtag/internal/telemetry"
)

// Header is written once, when the sink is newly created.
var Header = []string{"ID", "ID", "ID", "ID", "ID", "ID", "Values->", "Counter", "RSSI"}

// Row is one logged telemetry frame.
type Row struct {
	Trailer [telemetry.TrailerSize]byte
	Samples [telemetry.SamplesPerFrame]telemetry.Vector
	Counter uint16
	RSSI    int8
}

// RowFromFrame builds a row from a decoded frame and its report metadata.
func RowFromFrame(f *telemetry.Frame, counter uint16, rssi int8) Row {
	return Row{
		Trailer: f.TrailerBytes(),
		Samples: f.Samples(),
		Counter: counter,
		RSSI:    rssi,
	}
}

// Fields renders the row as CSV fields: 6 trailer bytes, 90 sample components,
// counter, rssi.
func (r Row) Fields() []string {
	out := make([]string, 0, telemetry.TrailerSize+3*telemetry.SamplesPerFrame+2)
	for _, b := range r.Trailer {
		out = append(out, strconv.Itoa(int(b)))
	}
	for _, v := range r.Samples {
		out = append(out,
			strconv.Itoa(int(v[0])),
			strconv.Itoa(int(v[1])),
			strconv.Itoa(int(v[2])))
	}
	return append(out, strconv.Itoa(int(r.Counter)), strconv.Itoa(int(r.RSSI)))
}

// Sink is an append-only record stream.
type Sink interface {
	Append(Row) error
	IsNew() bool
}

// CSVSink writes rows as CSV, flushing after every row.
type CSVSink struct {
	mu     sync.Mutex
	w      *csv.Writer
	closer io.Closer
	isNew  bool
	rows   int
	logger *logrus.Logger
}

// Open appends to the CSV file at path, creating it if needed. The header is
// written only when the file is empty.
func Open(path string, logger *logrus.Logger) (*CSVSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log sink: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to stat log sink: %w", err)
	}

	s, err := NewCSVSink(f, info.Size() == 0, logger)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	s.closer = f

	if logger != nil {
		logger.WithFields(logrus.Fields{
			"path": path,
			"new":  s.isNew,
		}).Info("Telemetry log opened")
	}
	return s, nil
}

// NewCSVSink writes to w. When isNew is set the header row is emitted first.
func NewCSVSink(w io.Writer, isNew bool, logger *logrus.Logger) (*CSVSink, error) {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	s := &CSVSink{w: csv.NewWriter(w), isNew: isNew, logger: logger}
	if isNew {
		if err := s.write(Header); err != nil {
			return nil, fmt.Errorf("failed to write log header: %w", err)
		}
	}
	return s, nil
}

// IsNew reports whether the sink was created empty.
func (s *CSVSink) IsNew() bool {
	return s.isNew
}

// Append writes one row.
func (s *CSVSink) Append(r Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.write(r.Fields()); err != nil {
		return fmt.Errorf("failed to append log row: %w", err)
	}
	s.rows++
	return nil
}

// Rows returns the number of rows appended through this sink.
func (s *CSVSink) Rows() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows
}

// Close flushes and closes the underlying file, if any.
func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Flush()
	if s.closer == nil {
		return s.w.Error()
	}
	err := s.closer.Close()
	s.closer = nil
	return err
}

func (s *CSVSink) write(fields []string) error {
	if err := s.w.Write(fields); err != nil {
		return err
	}
	s.w.Flush()
	return s.w.Error()
}
