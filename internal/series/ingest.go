package series

import (
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// DefaultTimestampField is the record field read as the sample timestamp.
const DefaultTimestampField = "timestamp"

// ErrMalformedPayload is returned by IngestJSON when the payload is not a
// JSON array of records (or an object wrapping one under "data").
var ErrMalformedPayload = errors.New("malformed record payload")

// Record is one raw record as delivered by the data-fetch collaborator.
type Record map[string]any

// RejectReason classifies why a record was dropped at ingest.
type RejectReason string

const (
	RejectNotObject        RejectReason = "not_object"
	RejectBadTimestamp     RejectReason = "bad_timestamp"
	RejectMissingField     RejectReason = "missing_field"
	RejectNonNumeric       RejectReason = "non_numeric"
	RejectNonFinite        RejectReason = "non_finite"
	RejectNoNumericChannel RejectReason = "no_numeric_channel"
)

// RejectSink receives one call per dropped record.
type RejectSink interface {
	Reject(index int, reason RejectReason)
}

// IngestOptions controls which record fields become sample channels.
type IngestOptions struct {
	// TimestampField names the timestamp field (default "timestamp").
	TimestampField string

	// Fields lists the tracked channels. Every tracked field must be present
	// and finite. When empty, every numeric field of a record is tracked.
	Fields []string
}

func (o IngestOptions) timestampField() string {
	if o.TimestampField == "" {
		return DefaultTimestampField
	}
	return o.TimestampField
}

// Ingest validates records and returns them as a clean, stably sorted Series.
// Invalid records are dropped and reported to sink (which may be nil).
func Ingest(records []Record, opts IngestOptions, sink RejectSink) Series {
	tsField := opts.timestampField()
	out := make(Series, 0, len(records))

	for i, rec := range records {
		if rec == nil {
			report(sink, i, RejectNotObject)
			continue
		}
		ts, ok := recordTime(rec[tsField])
		if !ok {
			report(sink, i, RejectBadTimestamp)
			continue
		}
		values, reason := recordValues(rec, tsField, opts.Fields)
		if reason != "" {
			report(sink, i, reason)
			continue
		}
		out = append(out, Sample{Time: ts, Values: values})
	}

	sortStable(out)
	return out
}

// IngestJSON parses a JSON payload of records and ingests it.
// An empty payload yields an empty series.
func IngestJSON(data []byte, opts IngestOptions, sink RejectSink) (Series, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return Series{}, nil
	}
	if !gjson.ValidBytes(data) {
		return nil, ErrMalformedPayload
	}

	root := gjson.ParseBytes(data)
	if root.IsObject() {
		root = root.Get("data")
	}
	if !root.IsArray() {
		return nil, ErrMalformedPayload
	}

	tsField := opts.timestampField()
	out := make(Series, 0, 256)
	idx := 0
	root.ForEach(func(_, item gjson.Result) bool {
		i := idx
		idx++

		if !item.IsObject() {
			report(sink, i, RejectNotObject)
			return true
		}
		ts, ok := jsonTime(item.Get(gjson.Escape(tsField)))
		if !ok {
			report(sink, i, RejectBadTimestamp)
			return true
		}
		values, reason := jsonValues(item, tsField, opts.Fields)
		if reason != "" {
			report(sink, i, reason)
			return true
		}
		out = append(out, Sample{Time: ts, Values: values})
		return true
	})

	sortStable(out)
	return out, nil
}

func report(sink RejectSink, index int, reason RejectReason) {
	if sink != nil {
		sink.Reject(index, reason)
	}
}

func sortStable(s Series) {
	sort.SliceStable(s, func(i, j int) bool {
		return s[i].Time.Before(s[j].Time)
	})
}

// =============================================================================
// Go-value records
// =============================================================================

func recordTime(raw any) (time.Time, bool) {
	switch v := raw.(type) {
	case time.Time:
		return v, !v.IsZero()
	case string:
		t, err := ParseTimestamp(v)
		return t, err == nil
	case nil:
		return time.Time{}, false
	}
	f, ok := toFloat(raw)
	if !ok {
		return time.Time{}, false
	}
	t, err := EpochToTime(f)
	return t, err == nil
}

func recordValues(rec Record, tsField string, fields []string) (map[string]float64, RejectReason) {
	if len(fields) > 0 {
		values := make(map[string]float64, len(fields))
		for _, f := range fields {
			raw, ok := rec[f]
			if !ok || raw == nil {
				return nil, RejectMissingField
			}
			v, ok := toFloat(raw)
			if !ok {
				return nil, RejectNonNumeric
			}
			if !IsFinite(v) {
				return nil, RejectNonFinite
			}
			values[f] = v
		}
		return values, ""
	}

	values := make(map[string]float64)
	for k, raw := range rec {
		if k == tsField {
			continue
		}
		v, ok := toFloat(raw)
		if !ok {
			continue
		}
		if !IsFinite(v) {
			return nil, RejectNonFinite
		}
		values[k] = v
	}
	if len(values) == 0 {
		return nil, RejectNoNumericChannel
	}
	return values, ""
}

func toFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	}
	return 0, false
}

// =============================================================================
// JSON records
// =============================================================================

func jsonTime(r gjson.Result) (time.Time, bool) {
	switch r.Type {
	case gjson.String:
		t, err := ParseTimestamp(r.Str)
		return t, err == nil
	case gjson.Number:
		t, err := EpochToTime(r.Num)
		return t, err == nil
	}
	return time.Time{}, false
}

func jsonValues(item gjson.Result, tsField string, fields []string) (map[string]float64, RejectReason) {
	if len(fields) > 0 {
		values := make(map[string]float64, len(fields))
		for _, f := range fields {
			r := item.Get(gjson.Escape(f))
			if !r.Exists() || r.Type == gjson.Null {
				return nil, RejectMissingField
			}
			v, ok := jsonFloat(r)
			if !ok {
				return nil, RejectNonNumeric
			}
			if !IsFinite(v) {
				return nil, RejectNonFinite
			}
			values[f] = v
		}
		return values, ""
	}

	values := make(map[string]float64)
	var reason RejectReason
	item.ForEach(func(key, val gjson.Result) bool {
		if key.Str == tsField {
			return true
		}
		v, ok := jsonFloat(val)
		if !ok {
			return true
		}
		if !IsFinite(v) {
			reason = RejectNonFinite
			return false
		}
		values[key.Str] = v
		return true
	})
	if reason != "" {
		return nil, reason
	}
	if len(values) == 0 {
		return nil, RejectNoNumericChannel
	}
	return values, ""
}

func jsonFloat(r gjson.Result) (float64, bool) {
	switch r.Type {
	case gjson.Number:
		return r.Num, true
	case gjson.String:
		f, err := strconv.ParseFloat(strings.TrimSpace(r.Str), 64)
		return f, err == nil
	}
	return 0, false
}
