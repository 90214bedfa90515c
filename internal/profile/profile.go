// Package profile holds the collar GATT profile: the service and characteristic
// identifiers shared by the host and the collar.
//
// Identifiers are kept in the byte order they travel over the air (little-endian),
// which is also the order go-ble stores a ble.UUID in. They are compared byte for
// byte and never re-ordered.
package profile

import (
	"strings"

	"github.com/go-ble/ble"
)

// ServiceUUID identifies the collar provisioning service, and is also advertised
// by the collar so the host can find it.
var ServiceUUID = ble.UUID{
	0x79, 0x2d, 0xf6, 0x66, 0x9c, 0x19, 0xca, 0x84,
	0xc4, 0x45, 0xcd, 0x93, 0x5f, 0x14, 0x98, 0x86,
}

// TimeCharUUID is the characteristic receiving the 6-byte date-time.
var TimeCharUUID = ble.UUID{
	0x33, 0xd0, 0x83, 0xd1, 0x99, 0x50, 0x50, 0xa5,
	0x59, 0x44, 0x9d, 0x42, 0x9c, 0x05, 0xb5, 0xb6,
}

// IdentityCharUUID is the characteristic receiving the 1-byte collar id.
var IdentityCharUUID = ble.UUID{
	0x61, 0xaa, 0x30, 0x57, 0x9e, 0x60, 0x25, 0x82,
	0x7c, 0x4f, 0x73, 0x0f, 0xdd, 0x4a, 0xab, 0x52,
}

// DeviceName is the local name the collar advertises while connectable.
const DeviceName = "CowTag"

var knownNames = map[string]string{
	normalize(ServiceUUID.String()):      "Collar Provisioning",
	normalize(TimeCharUUID.String()):     "Collar Date Time",
	normalize(IdentityCharUUID.String()): "Collar Identifier",
}

func normalize(uuid string) string {
	return strings.ToLower(strings.ReplaceAll(uuid, "-", ""))
}

// LookupName returns a human-readable name for a collar profile UUID, or "" if the
// UUID is not part of the profile. Accepts the canonical dashed form as well.
func LookupName(uuid string) string {
	return knownNames[normalize(uuid)]
}

// Is reports whether u equals want byte for byte.
func Is(u []byte, want ble.UUID) bool {
	return len(u) == len(want) && ble.UUID(u).Equal(want)
}
