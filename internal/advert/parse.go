// Package advert parses raw advertisement payloads and matches them against the
// collar service identifier.
package advert

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/go-ble/ble"
)

// Advertising data field types used by the collar protocol.
const (
	SomeUUID128  = 0x06 // Incomplete List of 128-bit Service Class UUIDs
	AllUUID128   = 0x07 // Complete List of 128-bit Service Class UUIDs
	ShortName    = 0x08 // Shortened Local Name
	CompleteName = 0x09 // Complete Local Name
)

const uuid128Len = 16

// ErrMalformed reports a field whose declared length overruns the payload.
var ErrMalformed = errors.New("malformed advertisement")

// Result is the outcome of parsing one advertisement payload.
type Result struct {
	Match  bool   // a 128-bit service list contained the target identifier
	Name   string // last local name in the payload
	Fields int    // fields walked
}

// Parse walks the length-prefixed fields of payload.
//
// Name fields are copied into Result.Name. 128-bit service lists are compared
// entry by entry against target using exact byte equality. The walk continues
// past a hit so a name that follows the service list is still reported. A zero
// length byte ends the walk as AD padding. A field that would run past the end of
// payload stops parsing with ErrMalformed and Match false, unless the target was
// already found, in which case the walk ends there and the match stands.
func Parse(payload []byte, target ble.UUID) (Result, error) {
	var res Result
	i := 0
	for i < len(payload) {
		length := int(payload[i])
		if length == 0 {
			break
		}
		if i+1+length > len(payload) {
			if res.Match {
				break
			}
			return res, fmt.Errorf("%w: field at offset %d declares %d bytes, %d available",
				ErrMalformed, i, length, len(payload)-i-1)
		}
		typ := payload[i+1]
		value := payload[i+2 : i+1+length]
		res.Fields++

		switch typ {
		case ShortName, CompleteName:
			res.Name = string(value)
		case SomeUUID128, AllUUID128:
			for off := 0; !res.Match && off+uuid128Len <= len(value); off += uuid128Len {
				res.Match = bytes.Equal(value[off:off+uuid128Len], target)
			}
		}

		i += length + 1
	}
	return res, nil
}

// Field appends one (length, type, value) field to dst.
// Values longer than 254 bytes are truncated.
func Field(dst []byte, typ byte, value []byte) []byte {
	if len(value) > 254 {
		value = value[:254]
	}
	dst = append(dst, byte(len(value)+1), typ)
	return append(dst, value...)
}

// Payload builds an advertisement carrying a complete 128-bit service list and,
// when name is not empty, a complete local name.
func Payload(service ble.UUID, name string) []byte {
	p := Field(nil, AllUUID128, service)
	if name != "" {
		p = Field(p, CompleteName, []byte(name))
	}
	return p
}
