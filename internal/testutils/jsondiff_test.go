package testutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJSONDiff(t *testing.T) {
	tests := []struct {
		name     string
		actual   string
		expected string
		opts     []JSONOption
		equal    bool
	}{
		{
			name:     "key order does not matter",
			actual:   `{"b":2,"a":1}`,
			expected: `{"a":1,"b":2}`,
			equal:    true,
		},
		{
			name:     "extra actual keys ignored by default",
			actual:   `{"a":1,"extra":true}`,
			expected: `{"a":1}`,
			equal:    true,
		},
		{
			name:     "strict keys",
			actual:   `{"a":1,"extra":true}`,
			expected: `{"a":1}`,
			opts:     []JSONOption{StrictKeys()},
		},
		{
			name:     "presence placeholder",
			actual:   `{"samples":[[1,2,3]],"id":7}`,
			expected: `{"samples":"<<PRESENCE>>","id":7}`,
			equal:    true,
		},
		{
			name:     "ignored fields at depth",
			actual:   `{"rows":[{"id":1,"rssi":-40}]}`,
			expected: `{"rows":[{"id":1,"rssi":-70}]}`,
			opts:     []JSONOption{IgnoreFields("rssi")},
			equal:    true,
		},
		{
			name:     "root arrays",
			actual:   `[1,2,4]`,
			expected: `[1,2,3]`,
		},
		{
			name:     "changed value",
			actual:   `{"battery":180}`,
			expected: `{"battery":181}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diff := JSONDiff(tt.actual, tt.expected, tt.opts...)
			if tt.equal {
				assert.Empty(t, diff)
			} else {
				assert.NotEmpty(t, diff)
			}
		})
	}
}

func TestAssertJSON(t *testing.T) {
	rec := &recordingT{}
	assert.True(t, AssertJSON(rec, `{"a":1}`, `{"a":1}`))
	assert.False(t, AssertJSON(rec, `{"a":1}`, `{"a":2}`))
	assert.False(t, AssertJSON(rec, `not json`, `{"a":2}`))
	assert.Len(t, rec.failures, 2)
}
