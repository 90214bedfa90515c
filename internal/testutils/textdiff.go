// Package testutils holds assertions shared by package tests.
package testutils

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/mcuadros/go-defaults"
)

// TestingT is the subset of testing.T the asserter needs.
type TestingT interface {
	Helper()
	Errorf(format string, args ...interface{})
}

// DiffOptions controls how texts are normalized before comparison.
type DiffOptions struct {
	TrimSpace         bool `default:"true"`
	IgnoreEmptyLines  bool `default:"true"`
	IgnoreTrailingCRs bool `default:"true"`
	EnableColors      bool `default:"false"`
}

// DiffOption mutates DiffOptions.
type DiffOption func(*DiffOptions)

// WithColors turns on colored unified diffs.
func WithColors(enable bool) DiffOption {
	return func(o *DiffOptions) { o.EnableColors = enable }
}

// KeepEmptyLines makes empty lines significant.
func KeepEmptyLines() DiffOption {
	return func(o *DiffOptions) { o.IgnoreEmptyLines = false }
}

// TextDiff returns a unified diff of expected against actual, or "" when the
// normalized texts are equal.
func TextDiff(actual, expected string, opts ...DiffOption) string {
	o := DiffOptions{}
	defaults.SetDefaults(&o)
	for _, opt := range opts {
		opt(&o)
	}

	a, e := normalize(actual, o), normalize(expected, o)
	if a == e {
		return ""
	}
	edits := myers.ComputeEdits("", e, a)
	diff := fmt.Sprint(gotextdiff.ToUnified("expected", "actual", e, edits))
	if o.EnableColors {
		diff = colorize(diff)
	}
	return diff
}

// AssertText fails t with a unified diff when actual differs from expected.
func AssertText(t TestingT, actual, expected string, opts ...DiffOption) bool {
	t.Helper()
	if diff := TextDiff(actual, expected, opts...); diff != "" {
		t.Errorf("text mismatch:\n%s", diff)
		return false
	}
	return true
}

func normalize(text string, o DiffOptions) string {
	if o.IgnoreTrailingCRs {
		text = strings.ReplaceAll(text, "\r\n", "\n")
	}
	if o.TrimSpace {
		text = strings.TrimSpace(text)
	}
	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, l := range lines {
		if o.IgnoreEmptyLines && strings.TrimSpace(l) == "" {
			continue
		}
		out = append(out, l)
	}
	return strings.Join(out, "\n") + "\n"
}

func colorize(diff string) string {
	red := color.New(color.FgRed)
	red.EnableColor()
	green := color.New(color.FgGreen)
	green.EnableColor()
	cyan := color.New(color.FgCyan)
	cyan.EnableColor()

	lines := strings.Split(diff, "\n")
	for i, l := range lines {
		switch {
		case strings.HasPrefix(l, "---"), strings.HasPrefix(l, "+++"), strings.HasPrefix(l, "@@"):
			lines[i] = cyan.Sprint(l)
		case strings.HasPrefix(l, "-"):
			lines[i] = red.Sprint(l)
		case strings.HasPrefix(l, "+"):
			lines[i] = green.Sprint(l)
		}
	}
	return strings.Join(lines, "\n")
}
