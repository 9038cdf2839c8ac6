package worker

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Options is the open-ended knob bag of a job. Values are limited to string,
// float64 and bool; adapters read only the keys they know and never assume
// presence.
type Options map[string]any

// UnmarshalJSON accepts an object of scalars. Nulls are dropped.
func (o *Options) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Options, len(raw))
	for k, v := range raw {
		if v == nil {
			continue
		}
		out[k] = v
	}
	if err := out.Validate(); err != nil {
		return err
	}
	*o = out
	return nil
}

// Validate reports the first key (in sorted order) holding a non-scalar value.
func (o Options) Validate() error {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch v := o[k].(type) {
		case string, bool:
		case float64:
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("option %q must be a finite number", k)
			}
		case int, int64:
		default:
			return fmt.Errorf("option %q must be a string, number or boolean", k)
		}
	}
	return nil
}

// Clone returns a shallow copy. A nil bag clones to an empty one.
func (o Options) Clone() Options {
	out := make(Options, len(o))
	maps.Copy(out, o)
	return out
}

// Has reports whether key is present.
func (o Options) Has(key string) bool {
	_, ok := o[key]
	return ok
}

// String returns a non-empty string option or def.
func (o Options) String(key, def string) string {
	if s, ok := o[key].(string); ok && strings.TrimSpace(s) != "" {
		return strings.TrimSpace(s)
	}
	return def
}

// Float returns a numeric option clamped to [lo, hi], or def when absent or
// not a number. Numeric strings are accepted.
func (o Options) Float(key string, def, lo, hi float64) float64 {
	v, ok := o.number(key)
	if !ok {
		return def
	}
	return math.Min(math.Max(v, lo), hi)
}

// Int is Float for whole numbers; fractions are truncated.
func (o Options) Int(key string, def, lo, hi int) int {
	v, ok := o.number(key)
	if !ok {
		return def
	}
	return int(math.Min(math.Max(math.Trunc(v), float64(lo)), float64(hi)))
}

// Bool returns a boolean option or def. "true"/"false" strings are accepted.
func (o Options) Bool(key string, def bool) bool {
	switch v := o[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func (o Options) number(key string) (float64, bool) {
	var f float64
	switch v := o[key].(type) {
	case float64:
		f = v
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Without returns a copy with the given keys removed.
func (o Options) Without(keys ...string) map[string]any {
	out := make(map[string]any, len(o))
	maps.Copy(out, o)
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

// ParseScalar converts a command-line value to the scalar it spells:
// booleans and numbers are recognized, everything else stays a string.
func ParseScalar(s string) any {
	if s == "true" || s == "false" {
		return s == "true"
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return f
	}
	return s
}
