package component

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Fallback describes one config field that was replaced by its default.
type Fallback struct {
	Tag    string
	Field  string
	Raw    any
	Reason string
}

// Config is a read-only view over a declarative component definition. Every
// accessor returns a usable value: a missing field yields the default
// silently, a malformed one yields the default and is reported to onFallback.
type Config struct {
	tag        string
	values     map[string]any
	onFallback func(Fallback)
}

func NewConfig(tag string, values map[string]any, onFallback func(Fallback)) Config {
	if values == nil {
		values = map[string]any{}
	}
	if onFallback == nil {
		onFallback = func(Fallback) {}
	}
	return Config{tag: tag, values: values, onFallback: onFallback}
}

func (c Config) Tag() string { return c.tag }

func (c Config) Has(field string) bool {
	_, ok := c.values[field]
	return ok
}

// Child returns the nested map under field as a Config sharing the same reporter.
func (c Config) Child(field string) Config {
	raw, ok := c.values[field]
	if !ok {
		return NewConfig(c.tag, nil, c.onFallback)
	}
	m, ok := toStringMap(raw)
	if !ok {
		c.fallback(field, raw, "not a mapping")
		return NewConfig(c.tag, nil, c.onFallback)
	}
	return Config{tag: c.tag, values: m, onFallback: c.onFallback}
}

// Children returns the list under field as configs. Non-mapping entries are skipped.
func (c Config) Children(field string) []Config {
	raw, ok := c.values[field]
	if !ok {
		return nil
	}
	list, ok := raw.([]any)
	if !ok {
		c.fallback(field, raw, "not a list")
		return nil
	}
	out := make([]Config, 0, len(list))
	for i, item := range list {
		m, ok := toStringMap(item)
		if !ok {
			c.fallback(fmt.Sprintf("%s[%d]", field, i), item, "not a mapping")
			continue
		}
		out = append(out, Config{tag: c.tag, values: m, onFallback: c.onFallback})
	}
	return out
}

// Keys returns the sorted field names.
func (c Config) Keys() []string {
	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Int accepts integers, integral floats and numeric strings.
func (c Config) Int(field string, def int) int {
	raw, ok := c.values[field]
	if !ok || raw == nil {
		return def
	}
	v, ok := parseInt(raw)
	if !ok {
		c.fallback(field, raw, fmt.Sprintf("not an integer, using %d", def))
		return def
	}
	return v
}

// IntRange is Int clamped to [lo, hi]; clamping is reported.
func (c Config) IntRange(field string, def, lo, hi int) int {
	v := c.Int(field, def)
	if v < lo {
		c.fallback(field, v, fmt.Sprintf("below minimum, clamped to %d", lo))
		return lo
	}
	if v > hi {
		c.fallback(field, v, fmt.Sprintf("above maximum, clamped to %d", hi))
		return hi
	}
	return v
}

// Float accepts integers, floats and numeric strings.
func (c Config) Float(field string, def float64) float64 {
	raw, ok := c.values[field]
	if !ok || raw == nil {
		return def
	}
	v, ok := parseFloat(raw)
	if !ok {
		c.fallback(field, raw, fmt.Sprintf("not a number, using %g", def))
		return def
	}
	return v
}

func (c Config) String(field, def string) string {
	raw, ok := c.values[field]
	if !ok || raw == nil {
		return def
	}
	switch v := raw.(type) {
	case string:
		return v
	case int, int64, float64, bool:
		return fmt.Sprint(v)
	default:
		c.fallback(field, raw, fmt.Sprintf("not a string, using %q", def))
		return def
	}
}

// Bool accepts booleans, "true"/"false"/"yes"/"no" strings and 0/1.
func (c Config) Bool(field string, def bool) bool {
	raw, ok := c.values[field]
	if !ok || raw == nil {
		return def
	}
	switch v := raw.(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes", "on", "1":
			return true
		case "false", "no", "off", "0":
			return false
		}
	default:
		if n, ok := parseInt(v); ok && (n == 0 || n == 1) {
			return n == 1
		}
	}
	c.fallback(field, raw, fmt.Sprintf("not a boolean, using %t", def))
	return def
}

// Strings accepts a list of scalars or a single string.
func (c Config) Strings(field string) []string {
	raw, ok := c.values[field]
	if !ok || raw == nil {
		return nil
	}
	switch v := raw.(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
				continue
			}
			c.fallback(field, item, "list entry is not a string, skipped")
		}
		return out
	default:
		c.fallback(field, raw, "not a list of strings")
		return nil
	}
}

func (c Config) fallback(field string, raw any, reason string) {
	c.onFallback(Fallback{Tag: c.tag, Field: field, Raw: raw, Reason: reason})
}

func parseInt(raw any) (int, bool) {
	switch v := raw.(type) {
	case int:
		return v, true
	case int8:
		return int(v), true
	case int16:
		return int(v), true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case uint:
		return int(v), true
	case uint8:
		return int(v), true
	case uint16:
		return int(v), true
	case uint32:
		return int(v), true
	case uint64:
		if v > math.MaxInt32 {
			return 0, false
		}
		return int(v), true
	case float32:
		return floatToInt(float64(v))
	case float64:
		return floatToInt(v)
	case string:
		s := strings.TrimSpace(v)
		if n, err := strconv.Atoi(s); err == nil {
			return n, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return floatToInt(f)
		}
		return 0, false
	default:
		return 0, false
	}
}

func floatToInt(f float64) (int, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f > math.MaxInt32 || f < math.MinInt32 {
		return 0, false
	}
	return int(f), true
}

func parseFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, !math.IsNaN(v) && !math.IsInf(v, 0)
	case float32:
		return parseFloat(float64(v))
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return parseFloat(f)
	default:
		if n, ok := parseInt(v); ok {
			return float64(n), true
		}
		return 0, false
	}
}

func toStringMap(raw any) (map[string]any, bool) {
	switch v := raw.(type) {
	case map[string]any:
		return v, true
	case map[any]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	default:
		return nil, false
	}
}
