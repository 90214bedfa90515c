package testutils

import (
	"encoding/json"
	"fmt"

	"github.com/mcuadros/go-defaults"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// Presence in an expected document matches any actual value under that key.
const Presence = "<<PRESENCE>>"

// JSONOptions controls how documents are reduced before comparison.
type JSONOptions struct {
	IgnoreExtraKeys bool     `default:"true"`
	AllowPresence   bool     `default:"true"`
	IgnoredFields   []string `default:""`
}

// JSONOption mutates JSONOptions.
type JSONOption func(*JSONOptions)

// StrictKeys makes keys missing from expected significant.
func StrictKeys() JSONOption {
	return func(o *JSONOptions) { o.IgnoreExtraKeys = false }
}

// IgnoreFields drops the named keys at any depth on both sides.
func IgnoreFields(names ...string) JSONOption {
	return func(o *JSONOptions) { o.IgnoredFields = append(o.IgnoredFields, names...) }
}

// JSONDiff returns an ASCII delta of actual against expected, or "" when the
// reduced documents are equal.
func JSONDiff(actual, expected string, opts ...JSONOption) string {
	o := JSONOptions{}
	defaults.SetDefaults(&o)
	for _, opt := range opts {
		opt(&o)
	}

	var exp, act any
	if err := json.Unmarshal([]byte(expected), &exp); err != nil {
		return fmt.Sprintf("invalid expected JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(actual), &act); err != nil {
		return fmt.Sprintf("invalid actual JSON: %v", err)
	}

	// gojsondiff compares objects only.
	if _, ok := exp.([]any); ok {
		exp = map[string]any{"array": exp}
		act = map[string]any{"array": act}
	}

	reduce(exp, act, o)

	expBytes, _ := json.Marshal(exp)
	actBytes, _ := json.Marshal(act)
	diff, err := gojsondiff.New().Compare(expBytes, actBytes)
	if err != nil {
		return fmt.Sprintf("JSON comparison failed: %v", err)
	}
	if !diff.Modified() {
		return ""
	}

	f := formatter.NewAsciiFormatter(exp, formatter.AsciiFormatterConfig{ShowArrayIndex: true})
	out, err := f.Format(diff)
	if err != nil {
		return fmt.Sprintf("JSON diff formatting failed: %v", err)
	}
	return out
}

// AssertJSON fails t with a delta when actual differs from expected.
func AssertJSON(t TestingT, actual, expected string, opts ...JSONOption) bool {
	t.Helper()
	if diff := JSONDiff(actual, expected, opts...); diff != "" {
		t.Errorf("JSON mismatch:\n%s", diff)
		return false
	}
	return true
}

// reduce walks both documents in step, applying placeholders, ignored fields
// and extra-key pruning to the pair in place.
func reduce(exp, act any, o JSONOptions) {
	switch e := exp.(type) {
	case map[string]any:
		a, ok := act.(map[string]any)
		if !ok {
			return
		}
		for _, name := range o.IgnoredFields {
			delete(e, name)
			delete(a, name)
		}
		if o.IgnoreExtraKeys {
			for k := range a {
				if _, found := e[k]; !found {
					delete(a, k)
				}
			}
		}
		for k, v := range e {
			if s, ok := v.(string); ok && o.AllowPresence && s == Presence {
				if av, found := a[k]; found {
					e[k] = av
				}
				continue
			}
			reduce(v, a[k], o)
		}
	case []any:
		a, ok := act.([]any)
		if !ok {
			return
		}
		for i := range e {
			if i < len(a) {
				reduce(e[i], a[i], o)
			}
		}
	}
}
