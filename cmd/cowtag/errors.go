package main

import (
	"errors"

	"github.com/srg/cowtag/internal/host"
	"github.com/srg/cowtag/internal/radio/loopback"
	"github.com/srg/cowtag/pkg/config"
)

// FormatUserError appends a hint for errors users can act on.
func FormatUserError(err error) string {
	msg := err.Error()
	switch {
	case errors.Is(err, config.ErrInvalidConfig):
		return msg + " (see --config and --log-level)"
	case errors.Is(err, host.ErrUnsupported):
		return msg + " (try 'cowtag sim' on this platform)"
	case errors.Is(err, loopback.ErrWatchdogReset):
		return msg + " (sampling stalled longer than collar.watchdog)"
	}
	return msg
}
