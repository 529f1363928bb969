package normalize

import (
	"math"
	"strconv"
	"strings"
	"time"
)

var layouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp converts a source timestamp to an instant. Unparseable
// values return the zero time (the unknown instant). Purely numeric values
// are epoch offsets whose unit is inferred from magnitude.
func ParseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return fromEpoch(f)
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func fromEpoch(f float64) time.Time {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}
	}
	abs := math.Abs(f)
	var ns float64
	switch {
	case abs < 1e11:
		ns = f * 1e9
	case abs < 1e14:
		ns = f * 1e6
	case abs < 1e17:
		ns = f * 1e3
	default:
		ns = f
	}
	if ns > math.MaxInt64 || ns < math.MinInt64 {
		return time.Time{}
	}
	return time.Unix(0, int64(ns)).UTC()
}
