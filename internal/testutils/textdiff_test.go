package testutils

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingT struct {
	failures []string
}

func (r *recordingT) Helper() {}

func (r *recordingT) Errorf(format string, args ...interface{}) {
	r.failures = append(r.failures, fmt.Sprintf(format, args...))
}

func TestTextDiff(t *testing.T) {
	t.Run("equal after normalization", func(t *testing.T) {
		assert.Empty(t, TextDiff("a,b\r\n\n c,d \n", "a,b\n c,d"))
	})

	t.Run("reports changed line", func(t *testing.T) {
		diff := TextDiff("1,2,3\n4,5,6\n", "1,2,3\n4,5,7\n")
		assert.Contains(t, diff, "-4,5,7")
		assert.Contains(t, diff, "+4,5,6")
	})

	t.Run("empty lines can be significant", func(t *testing.T) {
		assert.NotEmpty(t, TextDiff("a\n\nb", "a\nb", KeepEmptyLines()))
	})

	t.Run("colors wrap diff lines", func(t *testing.T) {
		diff := TextDiff("x", "y", WithColors(true))
		assert.Contains(t, diff, "\x1b[")
	})
}

func TestAssertText(t *testing.T) {
	rec := &recordingT{}
	assert.True(t, AssertText(rec, "same", "same"))
	assert.False(t, AssertText(rec, "left", "right"))
	assert.Len(t, rec.failures, 1)
}
