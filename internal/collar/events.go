package collar

import (
	"fmt"

	"github.com/srg/cowtag/internal/eventloop"
)

// Event is a radio event or an internal timer signal delivered to the
// Controller. The set of implementations is closed.
type Event interface {
	collarEvent()
}

// Boot is delivered once the radio is ready for commands.
type Boot struct{}

// ConnectionOpened reports a central connecting to the collar.
type ConnectionOpened struct {
	Connection uint8
}

// ConnectionClosed reports the provisioning connection going away.
type ConnectionClosed struct {
	Connection uint8
	Reason     uint16
}

// Attribute identifies a writable attribute of the collar's GATT server.
type Attribute uint8

const (
	AttributeTime Attribute = iota + 1
	AttributeIdentity
)

func (a Attribute) String() string {
	switch a {
	case AttributeTime:
		return "date-time"
	case AttributeIdentity:
		return "collar-id"
	default:
		return fmt.Sprintf("attribute(%d)", uint8(a))
	}
}

// AttributeWritten reports a value written by the connected central.
type AttributeWritten struct {
	Attribute Attribute
	Value     []byte
}

// Signal is an expired timer routed through the loop mailbox.
type Signal struct {
	Signal eventloop.Signal
}

func (Boot) collarEvent()             {}
func (ConnectionOpened) collarEvent() {}
func (ConnectionClosed) collarEvent() {}
func (AttributeWritten) collarEvent() {}
func (Signal) collarEvent()           {}

// Timer signals owned by the collar.
const (
	SignalSampleMotion eventloop.Signal = 1 << iota
	SignalSampleEnvironment
	SignalCloseConnection
)

// SignalEvent maps a mailbox signal to an Event.
func SignalEvent(s eventloop.Signal) Event {
	return Signal{Signal: s}
}
