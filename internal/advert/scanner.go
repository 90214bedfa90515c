package advert

import (
	"errors"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
)

// Scanner matches advertisement reports against a fixed service identifier and
// remembers the last local name seen per address for diagnostics.
type Scanner struct {
	target    ble.UUID
	names     *hashmap.Map[string, string]
	logger    *logrus.Logger
	malformed int
}

// NewScanner creates a scanner for target.
func NewScanner(target ble.UUID, logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}
	return &Scanner{
		target: target,
		names:  hashmap.New[string, string](),
		logger: logger,
	}
}

// Match parses one report payload and reports whether it advertises the target.
// Malformed payloads never match and only affect this report.
func (s *Scanner) Match(addr string, payload []byte) bool {
	res, err := Parse(payload, s.target)
	if res.Name != "" {
		if prev, ok := s.names.Get(addr); !ok || prev != res.Name {
			s.names.Set(addr, res.Name)
			s.logger.WithFields(logrus.Fields{
				"address": addr,
				"name":    res.Name,
			}).Debug("Advertisement name")
		}
	}
	if err != nil {
		if errors.Is(err, ErrMalformed) {
			s.malformed++
		}
		s.logger.WithError(err).WithField("address", addr).Debug("Dropping advertisement")
		return false
	}
	return res.Match
}

// Name returns the last local name advertised by addr.
func (s *Scanner) Name(addr string) (string, bool) {
	return s.names.Get(addr)
}

// Seen returns the number of addresses that advertised a name.
func (s *Scanner) Seen() int {
	return s.names.Len()
}

// Malformed returns how many reports were dropped as malformed.
func (s *Scanner) Malformed() int {
	return s.malformed
}
