package eventloop

import (
	"sort"
	"sync"
	"time"
)

// Armed describes one timer registered with ManualTimers.
type Armed struct {
	Signal   Signal
	Due      time.Duration // virtual time of the next expiry
	Period   time.Duration // zero for one-shot timers
	Stopped  bool
	Expiries int
}

// ManualTimers implements Timers on a virtual clock advanced by hand.
// Expired timers post into the mailbox exactly like SystemTimers do.
type ManualTimers struct {
	mu     sync.Mutex
	mb     *Mailbox
	now    time.Duration
	timers []*Armed
}

// NewManualTimers creates a virtual clock at zero posting into mb.
func NewManualTimers(mb *Mailbox) *ManualTimers {
	return &ManualTimers{mb: mb}
}

// Once arms a one-shot timer.
func (m *ManualTimers) Once(d time.Duration, sig Signal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timers = append(m.timers, &Armed{Signal: sig, Due: m.now + d})
}

// Every arms a periodic timer.
func (m *ManualTimers) Every(d time.Duration, sig Signal) (stop func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &Armed{Signal: sig, Due: m.now + d, Period: d}
	m.timers = append(m.timers, t)
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		t.Stopped = true
	}
}

// Now returns the virtual time.
func (m *ManualTimers) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d and posts every expiry on the way, in time
// order. It returns the number of expiries. Expiries of the same signal that are
// not consumed in between coalesce in the mailbox.
func (m *ManualTimers) Advance(d time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	target := m.now + d
	fired := 0
	for {
		next := m.nextDue(target)
		if next == nil {
			break
		}
		m.now = next.Due
		next.Expiries++
		if next.Period > 0 {
			next.Due += next.Period
		} else {
			next.Stopped = true
		}
		m.mb.Post(next.Signal)
		fired++
	}
	m.now = target
	return fired
}

func (m *ManualTimers) nextDue(limit time.Duration) *Armed {
	var best *Armed
	for _, t := range m.timers {
		if t.Stopped || t.Due > limit {
			continue
		}
		if best == nil || t.Due < best.Due {
			best = t
		}
	}
	return best
}

// Timers returns a snapshot of all armed timers ordered by registration.
func (m *ManualTimers) Timers() []Armed {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Armed, len(m.timers))
	for i, t := range m.timers {
		out[i] = *t
	}
	return out
}

// Active returns the live timers ordered by due time.
func (m *ManualTimers) Active() []Armed {
	all := m.Timers()
	out := all[:0]
	for _, t := range all {
		if !t.Stopped {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Due < out[j].Due })
	return out
}
