package schema

import (
	"encoding/json"
	"math"
	"time"
)

// WireTimeLayout is the canonical timestamp format on the wire: UTC with
// millisecond precision.
const WireTimeLayout = "2006-01-02T15:04:05.000Z"

// FormatWireTime renders t in the canonical wire format.
func FormatWireTime(t time.Time) string {
	return t.UTC().Format(WireTimeLayout)
}

// EpochMsToWire converts epoch milliseconds to the wire format.
func EpochMsToWire(ms int64) string {
	return FormatWireTime(time.UnixMilli(ms))
}

// ParseWireTime parses a wire timestamp. RFC 3339 input with any precision
// is accepted.
func ParseWireTime(s string) (time.Time, bool) {
	for _, layout := range []string{WireTimeLayout, time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// Epoch-millisecond bounds of the wire format: 0000-01-01T00:00:00.000Z
// through 9999-12-31T23:59:59.999Z.
const (
	MinEpochMs int64 = -62167219200000
	MaxEpochMs int64 = 253402300799999
)

// inWireRange reports whether f is a finite epoch-millisecond value the wire
// format can represent.
func inWireRange(f float64) bool {
	return !math.IsNaN(f) && f >= float64(MinEpochMs) && f <= float64(MaxEpochMs)
}

// EpochMs coerces a decoded JSON value holding a finite epoch-millisecond
// number within the wire range. It reports false for anything else.
func EpochMs(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		if !inWireRange(n) {
			return 0, false
		}
		return int64(n), true
	case float32:
		if !inWireRange(float64(n)) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return checkRange(i)
		}
		f, err := n.Float64()
		if err != nil || !inWireRange(f) {
			return 0, false
		}
		return int64(f), true
	case int:
		return checkRange(int64(n))
	case int64:
		return checkRange(n)
	case int32:
		return int64(n), true
	default:
		return 0, false
	}
}

func checkRange(ms int64) (int64, bool) {
	if ms < MinEpochMs || ms > MaxEpochMs {
		return 0, false
	}
	return ms, true
}

// WireTimestamp converts a raw timestamp value to the wire format. Numbers
// are taken as epoch milliseconds; strings must already parse as a wire or
// RFC 3339 time.
func WireTimestamp(v any) (string, bool) {
	if ms, ok := EpochMs(v); ok {
		return EpochMsToWire(ms), true
	}
	if s, ok := v.(string); ok {
		if t, ok := ParseWireTime(s); ok {
			return FormatWireTime(t), true
		}
	}
	return "", false
}

// WireToEpochMs converts a wire timestamp value (string or number) back to
// epoch milliseconds.
func WireToEpochMs(v any) (int64, bool) {
	if ms, ok := EpochMs(v); ok {
		return ms, true
	}
	if s, ok := v.(string); ok {
		if t, ok := ParseWireTime(s); ok {
			return t.UnixMilli(), true
		}
	}
	return 0, false
}
