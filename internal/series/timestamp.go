package series

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"time"
)

// epochMillisThreshold separates epoch seconds from epoch milliseconds.
// 1e11 seconds is year 5138; 1e11 milliseconds is March 1973.
const epochMillisThreshold = 1e11

var errBadTimestamp = errors.New("unparseable timestamp")

// timestampLayouts are tried in order for string timestamps.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseTimestamp parses an ISO-8601 string or an epoch number.
// Strings without a zone are read as UTC.
func ParseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, errBadTimestamp
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return EpochToTime(f)
	}
	return time.Time{}, errBadTimestamp
}

// EpochToTime converts epoch seconds or milliseconds to a time.
func EpochToTime(v float64) (time.Time, error) {
	if !IsFinite(v) {
		return time.Time{}, errBadTimestamp
	}
	if math.Abs(v) >= epochMillisThreshold {
		// Outside int64 milliseconds the conversion is undefined
		if v >= math.MaxInt64 || v < math.MinInt64 {
			return time.Time{}, errBadTimestamp
		}
		return time.UnixMilli(int64(v)).UTC(), nil
	}
	sec, frac := math.Modf(v)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), nil
}
