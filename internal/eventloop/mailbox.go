package eventloop

import (
	"math/bits"
	"sync/atomic"
)

// Signal is one bit of the mailbox. Each role defines its own signals.
type Signal uint32

// Mailbox carries timer signals into the dispatch loop.
//
// Post may be called from any goroutine; it only sets a bit and nudges the loop.
// A signal posted again before the loop takes it is delivered once.
type Mailbox struct {
	pending atomic.Uint32
	notify  chan struct{}
	posted  atomic.Int64
}

// NewMailbox creates an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{notify: make(chan struct{}, 1)}
}

// Post raises sig.
func (m *Mailbox) Post(sig Signal) {
	m.pending.Or(uint32(sig))
	m.posted.Add(1)
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// C is readable whenever at least one signal may be pending.
func (m *Mailbox) C() <-chan struct{} {
	return m.notify
}

// Take clears and returns every pending signal.
func (m *Mailbox) Take() Signal {
	return Signal(m.pending.Swap(0))
}

// Posted returns how many times Post was called, coalesced or not.
func (m *Mailbox) Posted() int64 {
	return m.posted.Load()
}

// Each calls fn for every bit set in s, lowest bit first.
func (s Signal) Each(fn func(Signal)) {
	for v := uint32(s); v != 0; {
		bit := uint32(1) << bits.TrailingZeros32(v)
		fn(Signal(bit))
		v &^= bit
	}
}
