package series

import (
	"errors"
	"math"
	"testing"
	"time"
)

// recordingSink collects rejections for assertions.
type recordingSink struct {
	reasons map[RejectReason]int
	indexes []int
}

func newRecordingSink() *recordingSink {
	return &recordingSink{reasons: make(map[RejectReason]int)}
}

func (r *recordingSink) Reject(index int, reason RejectReason) {
	r.reasons[reason]++
	r.indexes = append(r.indexes, index)
}

// =============================================================================
// Tests: ParseTimestamp
// =============================================================================

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Time
		wantErr bool
	}{
		{"2024-03-01T10:00:00Z", time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), false},
		{"2024-03-01T10:00:00.250Z", time.Date(2024, 3, 1, 10, 0, 0, 250e6, time.UTC), false},
		{"2024-03-01T10:00:00", time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), false},
		{"2024-03-01 10:00:00", time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), false},
		{"2024-03-01", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), false},
		{"1709287200", time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), false},
		{"1709287200000", time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), false},
		{"", time.Time{}, true},
		{"yesterday", time.Time{}, true},
		{"NaN", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseTimestamp(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTimestamp(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && !got.Equal(tt.want) {
				t.Errorf("ParseTimestamp(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestEpochToTime(t *testing.T) {
	tests := []struct {
		name    string
		input   float64
		want    time.Time
		wantErr bool
	}{
		{"seconds", 1709287200, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), false},
		{"fractional seconds", 1709287200.5, time.Date(2024, 3, 1, 10, 0, 0, 500e6, time.UTC), false},
		{"milliseconds", 1709287200000, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), false},
		{"negative milliseconds", -1e12, time.UnixMilli(-1e12).UTC(), false},
		{"+Inf", math.Inf(1), time.Time{}, true},
		{"NaN", math.NaN(), time.Time{}, true},
		{"huge", 1e30, time.Time{}, true},
		{"huge negative", -1e30, time.Time{}, true},
		{"just past int64", math.MaxInt64, time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EpochToTime(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("EpochToTime(%v) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, errBadTimestamp) {
				t.Errorf("EpochToTime(%v) error = %v, want errBadTimestamp", tt.input, err)
			}
			if !tt.wantErr && !got.Equal(tt.want) {
				t.Errorf("EpochToTime(%v) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestIngest_RejectsOutOfRangeEpoch(t *testing.T) {
	records := []Record{
		{"timestamp": 1e30, "speed": 1.0},
		{"timestamp": "-1e30", "speed": 2.0},
		{"timestamp": 1709287200000.0, "speed": 3.0},
	}
	sink := newRecordingSink()

	s := Ingest(records, IngestOptions{}, sink)

	if s.Len() != 1 || s[0].Values["speed"] != 3.0 {
		t.Fatalf("Ingest() = %+v, want only the in-range record", s)
	}
	if sink.reasons[RejectBadTimestamp] != 2 {
		t.Errorf("bad_timestamp rejections = %d, want 2", sink.reasons[RejectBadTimestamp])
	}
}

// =============================================================================
// Tests: Ingest
// =============================================================================

func TestIngest_SortsStably(t *testing.T) {
	records := []Record{
		{"timestamp": "2024-01-01T00:00:02Z", "speed": 2.0},
		{"timestamp": "2024-01-01T00:00:01Z", "speed": 1.0},
		{"timestamp": "2024-01-01T00:00:02Z", "speed": 3.0},
		{"timestamp": "2024-01-01T00:00:00Z", "speed": 0.0},
	}

	s := Ingest(records, IngestOptions{}, nil)

	if s.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", s.Len())
	}
	want := []float64{0, 1, 2, 3}
	for i, w := range want {
		if got := s[i].Values["speed"]; got != w {
			t.Errorf("s[%d].speed = %v, want %v", i, got, w)
		}
	}
	if !s.IsSorted() {
		t.Error("series not sorted")
	}
}

func TestIngest_RejectsInvalid(t *testing.T) {
	records := []Record{
		{"timestamp": "2024-01-01T00:00:00Z", "speed": 1.0, "temp": 20.0},
		{"timestamp": "not a time", "speed": 1.0, "temp": 20.0},
		{"timestamp": "2024-01-01T00:00:01Z", "speed": math.NaN(), "temp": 20.0},
		{"timestamp": "2024-01-01T00:00:02Z", "speed": 1.0},
		{"timestamp": "2024-01-01T00:00:03Z", "speed": "fast", "temp": 20.0},
		{"timestamp": "2024-01-01T00:00:04Z", "speed": math.Inf(1), "temp": 20.0},
		nil,
		{"timestamp": 1704067205, "speed": "2.5", "temp": 21},
	}
	sink := newRecordingSink()

	s := Ingest(records, IngestOptions{Fields: []string{"speed", "temp"}}, sink)

	if s.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", s.Len())
	}
	if got := s[1].Values["speed"]; got != 2.5 {
		t.Errorf("numeric string speed = %v, want 2.5", got)
	}

	wantReasons := map[RejectReason]int{
		RejectBadTimestamp: 1,
		RejectNonFinite:    2,
		RejectMissingField: 1,
		RejectNonNumeric:   1,
		RejectNotObject:    1,
	}
	for reason, want := range wantReasons {
		if got := sink.reasons[reason]; got != want {
			t.Errorf("reasons[%s] = %d, want %d", reason, got, want)
		}
	}
}

func TestIngest_UntrackedFieldsKeepNumericOnly(t *testing.T) {
	records := []Record{
		{"timestamp": "2024-01-01T00:00:00Z", "speed": 1.0, "device": "press-1"},
		{"timestamp": "2024-01-01T00:00:01Z", "device": "press-1"},
	}
	sink := newRecordingSink()

	s := Ingest(records, IngestOptions{}, sink)

	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", s.Len())
	}
	if _, ok := s[0].Values["device"]; ok {
		t.Error("non-numeric field should not become a channel")
	}
	if sink.reasons[RejectNoNumericChannel] != 1 {
		t.Errorf("expected one no_numeric_channel rejection, got %v", sink.reasons)
	}
}

func TestIngest_EmptyIsNotError(t *testing.T) {
	if s := Ingest(nil, IngestOptions{}, nil); s.Len() != 0 {
		t.Errorf("Len() = %d, want 0", s.Len())
	}
	all := []Record{{"timestamp": "bad", "x": 1.0}}
	if s := Ingest(all, IngestOptions{}, nil); s.Len() != 0 {
		t.Errorf("all-invalid Len() = %d, want 0", s.Len())
	}
}

func TestIngest_CustomTimestampField(t *testing.T) {
	records := []Record{{"kayitZamani": "2024-01-01T00:00:00Z", "machineSpeed": 120.0}}

	s := Ingest(records, IngestOptions{TimestampField: "kayitZamani"}, nil)

	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", s.Len())
	}
	if _, ok := s[0].Values["kayitZamani"]; ok {
		t.Error("timestamp field must not be a channel")
	}
}

// =============================================================================
// Tests: IngestJSON
// =============================================================================

func TestIngestJSON(t *testing.T) {
	payload := []byte(`[
		{"timestamp": "2024-01-01T00:00:01Z", "temperature": 21.5, "humidity": 40},
		{"timestamp": "2024-01-01T00:00:00Z", "temperature": 21.0, "humidity": 41},
		{"timestamp": "garbage", "temperature": 21.0, "humidity": 41},
		{"timestamp": 1704067202000, "temperature": "22.0", "humidity": 42},
		{"timestamp": "2024-01-01T00:00:03Z", "temperature": null, "humidity": 42},
		42
	]`)
	sink := newRecordingSink()

	s, err := IngestJSON(payload, IngestOptions{Fields: []string{"temperature", "humidity"}}, sink)
	if err != nil {
		t.Fatalf("IngestJSON() error = %v", err)
	}

	if s.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", s.Len())
	}
	if s[0].Values["temperature"] != 21.0 {
		t.Errorf("first temperature = %v, want 21.0", s[0].Values["temperature"])
	}
	if s[2].Values["temperature"] != 22.0 {
		t.Errorf("epoch-ms record temperature = %v, want 22.0", s[2].Values["temperature"])
	}
	if sink.reasons[RejectBadTimestamp] != 1 || sink.reasons[RejectMissingField] != 1 || sink.reasons[RejectNotObject] != 1 {
		t.Errorf("unexpected rejections: %v", sink.reasons)
	}
}

func TestIngestJSON_Envelope(t *testing.T) {
	payload := []byte(`{"data": [{"timestamp": "2024-01-01T00:00:00Z", "speed": 5}]}`)

	s, err := IngestJSON(payload, IngestOptions{}, nil)
	if err != nil {
		t.Fatalf("IngestJSON() error = %v", err)
	}
	if s.Len() != 1 || s[0].Values["speed"] != 5 {
		t.Errorf("unexpected series: %+v", s)
	}
}

func TestIngestJSON_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"truncated", `[{"timestamp": "2024`},
		{"scalar", `17`},
		{"object without data", `{"rows": []}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := IngestJSON([]byte(tt.payload), IngestOptions{}, nil)
			if !errors.Is(err, ErrMalformedPayload) {
				t.Errorf("error = %v, want ErrMalformedPayload", err)
			}
		})
	}
}

func TestIngestJSON_Empty(t *testing.T) {
	s, err := IngestJSON([]byte("  "), IngestOptions{}, nil)
	if err != nil {
		t.Fatalf("IngestJSON() error = %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0", s.Len())
	}
}

// =============================================================================
// Tests: Series helpers
// =============================================================================

func TestSeries_SliceClamps(t *testing.T) {
	s := make(Series, 5)
	if got := s.Slice(-3, 2).Len(); got != 2 {
		t.Errorf("Slice(-3,2).Len() = %d, want 2", got)
	}
	if got := s.Slice(3, 99).Len(); got != 2 {
		t.Errorf("Slice(3,99).Len() = %d, want 2", got)
	}
	if got := s.Slice(4, 1).Len(); got != 0 {
		t.Errorf("Slice(4,1).Len() = %d, want 0", got)
	}
}

func TestSeries_Keys(t *testing.T) {
	s := Series{
		{Values: map[string]float64{"b": 1}},
		{Values: map[string]float64{"a": 1, "c": 2}},
	}
	keys := s.Keys()
	want := []string{"a", "b", "c"}
	if len(keys) != len(want) {
		t.Fatalf("Keys() = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("Keys()[%d] = %s, want %s", i, keys[i], want[i])
		}
	}
}
