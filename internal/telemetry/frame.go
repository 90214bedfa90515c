package telemetry

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Frame geometry. Every frame broadcast by a collar has exactly this layout:
//
//	bytes   0..179  30 motion samples, each x,y,z as little-endian int16
//	bytes 180..185  trailer {hour, minute, second, battery, temperature, collar id}
const (
	SamplesPerFrame = 30
	SampleSize      = 6
	TrailerSize     = 6
	TrailerOffset   = SamplesPerFrame * SampleSize
	FrameSize       = TrailerOffset + TrailerSize
)

// ErrShortFrame is returned when fewer than FrameSize bytes are available.
var ErrShortFrame = errors.New("short telemetry frame")

// Vector is one motion sample: x, y, z acceleration components.
type Vector [3]int16

// Trailer is the identity/time/environment block carried by each frame.
type Trailer struct {
	Hour        uint8
	Minute      uint8
	Second      uint8
	Battery     uint8
	Temperature uint8
	CollarID    uint8
}

// Bytes returns the wire form of the trailer.
func (t Trailer) Bytes() [TrailerSize]byte {
	return [TrailerSize]byte{t.Hour, t.Minute, t.Second, t.Battery, t.Temperature, t.CollarID}
}

// TrailerFromBytes is the inverse of Trailer.Bytes.
func TrailerFromBytes(b [TrailerSize]byte) Trailer {
	return Trailer{
		Hour:        b[0],
		Minute:      b[1],
		Second:      b[2],
		Battery:     b[3],
		Temperature: b[4],
		CollarID:    b[5],
	}
}

// String renders the trailer as hh:mm:ss plus its byte fields.
func (t Trailer) String() string {
	return fmt.Sprintf("%02d:%02d:%02d bat=%d temp=%d id=%d",
		t.Hour, t.Minute, t.Second, t.Battery, t.Temperature, t.CollarID)
}

// TemperatureByte converts milli-degrees Celsius to the single trailer byte.
// The integer part is truncated to its low 8 bits, so negative values wrap.
func TemperatureByte(milliC int32) uint8 {
	return uint8(milliC / 1000)
}

// Frame is one complete telemetry frame in wire form.
type Frame [FrameSize]byte

// EncodeFrame lays out samples and trailer into a frame.
func EncodeFrame(samples *[SamplesPerFrame]Vector, trailer Trailer) Frame {
	var f Frame
	for i, v := range samples {
		off := i * SampleSize
		binary.LittleEndian.PutUint16(f[off:], uint16(v[0]))
		binary.LittleEndian.PutUint16(f[off+2:], uint16(v[1]))
		binary.LittleEndian.PutUint16(f[off+4:], uint16(v[2]))
	}
	tb := trailer.Bytes()
	copy(f[TrailerOffset:], tb[:])
	return f
}

// DecodeFrame copies the first FrameSize bytes of b into a Frame.
// Extra bytes are ignored.
func DecodeFrame(b []byte) (Frame, error) {
	var f Frame
	if len(b) < FrameSize {
		return f, fmt.Errorf("%w: got %d bytes, want %d", ErrShortFrame, len(b), FrameSize)
	}
	copy(f[:], b[:FrameSize])
	return f, nil
}

// Sample returns the i-th motion sample.
func (f *Frame) Sample(i int) Vector {
	off := i * SampleSize
	return Vector{
		int16(binary.LittleEndian.Uint16(f[off:])),
		int16(binary.LittleEndian.Uint16(f[off+2:])),
		int16(binary.LittleEndian.Uint16(f[off+4:])),
	}
}

// Samples decodes all motion samples in wire order.
func (f *Frame) Samples() [SamplesPerFrame]Vector {
	var out [SamplesPerFrame]Vector
	for i := range out {
		out[i] = f.Sample(i)
	}
	return out
}

// TrailerBytes returns the raw trailer block (the last 6 bytes).
func (f *Frame) TrailerBytes() [TrailerSize]byte {
	var b [TrailerSize]byte
	copy(b[:], f[TrailerOffset:])
	return b
}

// Trailer decodes the trailer block.
func (f *Frame) Trailer() Trailer {
	return TrailerFromBytes(f.TrailerBytes())
}
