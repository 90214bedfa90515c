package collar

import (
	"errors"
	"fmt"
	"time"
)

// ErrRadio marks a radio failure the collar does not tolerate.
var ErrRadio = errors.New("collar radio failure")

// PHY values follow the GAP encoding.
type PHY uint8

const (
	PHY1M    PHY = 0x1
	PHY2M    PHY = 0x2
	PHYCoded PHY = 0x4
)

// Radio is the peripheral-side radio stack.
type Radio interface {
	CreateAdvertisingSet() (uint8, error)
	// SetTxPower takes and returns power in 0.1 dBm units.
	SetTxPower(set uint8, power int16) (int16, error)
	SetTiming(set uint8, interval time.Duration) error
	SetPHY(set uint8, primary, secondary PHY) error

	StartLegacyAdvertising(set uint8, payload []byte, connectable bool) error
	StartExtendedAdvertising(set uint8, payload []byte, connectable bool) error
	SetPeriodicData(set uint8, data []byte) error
	StartPeriodicAdvertising(set uint8, interval time.Duration) error

	CloseConnection(conn uint8) error
}

func radioError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrRadio, op, err)
}
