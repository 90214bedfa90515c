package collar

import (
	"github.com/srg/cowtag/internal/telemetry"
)

// Assembler collects motion samples until a frame is full.
type Assembler struct {
	buf [telemetry.SamplesPerFrame]telemetry.Vector
	idx int
}

// Push stores v in the next slot and reports whether the buffer is full.
// Pushing into a full buffer overwrites the last slot.
func (a *Assembler) Push(v telemetry.Vector) bool {
	if a.idx >= telemetry.SamplesPerFrame {
		a.idx = telemetry.SamplesPerFrame - 1
	}
	a.buf[a.idx] = v
	a.idx++
	return a.idx == telemetry.SamplesPerFrame
}

// Len returns the number of buffered samples.
func (a *Assembler) Len() int { return a.idx }

// Seal encodes the buffered samples with trailer and starts a new frame.
func (a *Assembler) Seal(trailer telemetry.Trailer) telemetry.Frame {
	f := telemetry.EncodeFrame(&a.buf, trailer)
	a.buf = [telemetry.SamplesPerFrame]telemetry.Vector{}
	a.idx = 0
	return f
}
