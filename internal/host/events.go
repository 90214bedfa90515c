package host

import (
	"github.com/srg/cowtag/internal/eventloop"
)

// Event is a radio stack event or an internal timer signal delivered to the
// Manager. The set of implementations is closed.
type Event interface {
	hostEvent()
}

// Boot is delivered once the radio is ready for commands.
type Boot struct{}

// LegacyAdvertisement is a legacy advertising report.
type LegacyAdvertisement struct {
	Address     string
	AddressType uint8
	RSSI        int8
	Connectable bool
	Data        []byte
}

// ExtendedAdvertisement is an extended advertising report. A non-zero
// PeriodicInterval means the advertiser runs a periodic train.
type ExtendedAdvertisement struct {
	Address          string
	AddressType      uint8
	RSSI             int8
	SID              uint8
	PeriodicInterval uint16
	Data             []byte
}

// ConnectionOpened reports an established connection.
type ConnectionOpened struct {
	Connection uint8
	Address    string
}

// ConnectionParameters reports negotiated link parameters. Interval is in 1.25 ms units.
type ConnectionParameters struct {
	Connection uint8
	Interval   uint16
	Latency    uint16
	Timeout    uint16
}

// ConnectionClosed reports a closed connection.
type ConnectionClosed struct {
	Connection uint8
	Reason     uint16
}

// ServiceFound is one result of a primary service discovery.
type ServiceFound struct {
	Connection uint8
	Service    uint32
	UUID       []byte
}

// CharacteristicFound is one result of a characteristic discovery.
type CharacteristicFound struct {
	Connection     uint8
	Characteristic uint16
	UUID           []byte
}

// ProcedureCompleted ends a GATT discovery procedure.
type ProcedureCompleted struct {
	Connection uint8
	Result     uint16
}

// SyncOpened reports an established periodic advertising sync.
type SyncOpened struct {
	Sync     uint16
	Interval uint16
}

// SyncClosed reports a lost or terminated periodic advertising sync.
type SyncClosed struct {
	Sync   uint16
	Reason uint16
}

// SyncReport carries one periodic advertising payload.
type SyncReport struct {
	Sync    uint16
	RSSI    int8
	Counter uint16
	Data    []byte
}

// Signal is an expired timer routed through the loop mailbox.
type Signal struct {
	Signal eventloop.Signal
}

func (Boot) hostEvent()                  {}
func (LegacyAdvertisement) hostEvent()   {}
func (ExtendedAdvertisement) hostEvent() {}
func (ConnectionOpened) hostEvent()      {}
func (ConnectionParameters) hostEvent()  {}
func (ConnectionClosed) hostEvent()      {}
func (ServiceFound) hostEvent()          {}
func (CharacteristicFound) hostEvent()   {}
func (ProcedureCompleted) hostEvent()    {}
func (SyncOpened) hostEvent()            {}
func (SyncClosed) hostEvent()            {}
func (SyncReport) hostEvent()            {}
func (Signal) hostEvent()                {}

// Timer signals owned by the host.
const (
	SignalDisconnect eventloop.Signal = 1 << iota
	SignalReprovision
)

// SignalEvent maps a mailbox signal to an Event. It is the conversion function
// handed to eventloop.New.
func SignalEvent(s eventloop.Signal) Event {
	return Signal{Signal: s}
}
