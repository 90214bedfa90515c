package profile

import (
	"testing"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/assert"
)

func TestIdentifiersMatchCanonicalForm(t *testing.T) {
	tests := []struct {
		name      string
		uuid      ble.UUID
		canonical string
		known     string
	}{
		{"service", ServiceUUID, "8698145f-93cd-45c4-84ca-199c66f62d79", "Collar Provisioning"},
		{"time characteristic", TimeCharUUID, "b6b5059c-429d-4459-a550-5099d183d033", "Collar Date Time"},
		{"identity characteristic", IdentityCharUUID, "52ab4add-0f73-4f7c-8225-609e5730aa61", "Collar Identifier"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, tt.uuid, 16)
			assert.True(t, tt.uuid.Equal(ble.MustParse(tt.canonical)), "wire bytes MUST be the reversed canonical form")
			assert.Equal(t, tt.known, LookupName(tt.canonical))
			assert.Equal(t, tt.known, LookupName(tt.uuid.String()))
		})
	}
}

func TestIs(t *testing.T) {
	assert.True(t, Is([]byte(ServiceUUID), ServiceUUID))
	assert.False(t, Is([]byte(TimeCharUUID), ServiceUUID))
	assert.False(t, Is([]byte(ServiceUUID)[:15], ServiceUUID))
	assert.False(t, Is(nil, ServiceUUID))
	assert.Equal(t, "", LookupName("180f"))
}
