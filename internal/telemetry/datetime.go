package telemetry

import (
	"errors"
	"fmt"
	"time"
)

// DateTimeSize is the length of the provisioning date-time payload.
const DateTimeSize = 6

// ErrMalformed is returned for provisioning payloads that cannot be decoded.
var ErrMalformed = errors.New("malformed provisioning payload")

// DateTime is the provisioning clock value written by the host.
// Year is stored as an offset from 2000.
type DateTime struct {
	Year   uint8
	Month  uint8
	Day    uint8
	Hour   uint8
	Minute uint8
	Second uint8
}

// DateTimeFromTime converts a wall-clock time to its provisioning form.
func DateTimeFromTime(t time.Time) DateTime {
	return DateTime{
		Year:   uint8(t.Year() - 2000),
		Month:  uint8(t.Month()),
		Day:    uint8(t.Day()),
		Hour:   uint8(t.Hour()),
		Minute: uint8(t.Minute()),
		Second: uint8(t.Second()),
	}
}

// Bytes returns the 6-byte wire form.
func (d DateTime) Bytes() []byte {
	return []byte{d.Year, d.Month, d.Day, d.Hour, d.Minute, d.Second}
}

// Time returns the date-time in loc. A nil loc means UTC.
func (d DateTime) Time(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(2000+int(d.Year), time.Month(d.Month), int(d.Day),
		int(d.Hour), int(d.Minute), int(d.Second), 0, loc)
}

func (d DateTime) String() string {
	return fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02d",
		2000+int(d.Year), d.Month, d.Day, d.Hour, d.Minute, d.Second)
}

// DecodeDateTime parses and range-checks a provisioning date-time.
func DecodeDateTime(b []byte) (DateTime, error) {
	if len(b) != DateTimeSize {
		return DateTime{}, fmt.Errorf("%w: date-time is %d bytes, want %d", ErrMalformed, len(b), DateTimeSize)
	}
	d := DateTime{Year: b[0], Month: b[1], Day: b[2], Hour: b[3], Minute: b[4], Second: b[5]}
	switch {
	case d.Month < 1 || d.Month > 12:
		return DateTime{}, fmt.Errorf("%w: month %d", ErrMalformed, d.Month)
	case d.Day < 1 || d.Day > 31:
		return DateTime{}, fmt.Errorf("%w: day %d", ErrMalformed, d.Day)
	case d.Hour > 23 || d.Minute > 59 || d.Second > 59:
		return DateTime{}, fmt.Errorf("%w: time %02d:%02d:%02d", ErrMalformed, d.Hour, d.Minute, d.Second)
	}
	return d, nil
}

// DecodeCollarID parses the identity characteristic payload.
func DecodeCollarID(b []byte) (uint8, error) {
	if len(b) < 1 {
		return 0, fmt.Errorf("%w: empty collar id", ErrMalformed)
	}
	return b[0], nil
}
