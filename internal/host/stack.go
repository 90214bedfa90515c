package host

import (
	"errors"
	"fmt"

	"github.com/go-ble/ble"
)

var (
	// ErrStack marks a radio stack failure the host does not tolerate.
	ErrStack = errors.New("radio stack failure")
	// ErrUnsupported is returned by stacks that lack an optional capability.
	ErrUnsupported = errors.New("not supported by radio stack")
)

// PHY is a bitmask of scanning PHYs.
type PHY uint8

const (
	PHY1M PHY = 1 << iota
	PHYCoded

	PHY1MAndCoded = PHY1M | PHYCoded
)

func (p PHY) String() string {
	switch p {
	case PHY1M:
		return "1M"
	case PHYCoded:
		return "coded"
	case PHY1MAndCoded:
		return "1M+coded"
	default:
		return fmt.Sprintf("phy(%#x)", uint8(p))
	}
}

// DiscoveryMode selects which advertisers the scanner reports.
type DiscoveryMode uint8

const (
	// DiscoverGeneric reports discoverable advertisers.
	DiscoverGeneric DiscoveryMode = iota
	// DiscoverObservation reports every advertiser, including non-connectable broadcasters.
	DiscoverObservation
)

func (m DiscoveryMode) String() string {
	if m == DiscoverObservation {
		return "observation"
	}
	return "generic"
}

// ScanParameters configures the scanner. Interval and Window are in 0.625 ms units.
type ScanParameters struct {
	Passive  bool
	Interval uint16
	Window   uint16
}

// SyncParameters configures periodic advertising sync. Timeout is in 10 ms units.
type SyncParameters struct {
	Skip      uint16
	Timeout   uint16
	ReportAll bool
}

// Stack is the host-side radio stack. Results of asynchronous commands arrive
// later as Events.
type Stack interface {
	StartScan(phy PHY, mode DiscoveryMode) error
	StopScan() error
	SetScanParameters(p ScanParameters) error
	SetSyncParameters(p SyncParameters) error

	OpenConnection(address string, addressType uint8) (uint8, error)
	CloseConnection(conn uint8) error

	DiscoverPrimaryServicesByUUID(conn uint8, uuid ble.UUID) error
	DiscoverCharacteristics(conn uint8, service uint32) error
	WriteWithoutResponse(conn uint8, characteristic uint16, value []byte) error

	OpenSync(address string, addressType uint8, sid uint8) (uint16, error)
}

func stackError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStack, op, err)
}
