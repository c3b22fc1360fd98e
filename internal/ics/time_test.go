package ics

import (
	"errors"
	"testing"
	"time"
)

func TestNormalizeTemporal(t *testing.T) {
	utc := time.UTC

	tests := []struct {
		name      string
		value     string
		tzid      string
		wantTime  time.Time
		wantAll   bool
		wantError bool
	}{
		{
			name:     "utc date-time",
			value:    "20260310T090000Z",
			wantTime: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
		},
		{
			name:     "floating date-time in loc",
			value:    "20260310T090000",
			wantTime: time.Date(2026, 3, 10, 9, 0, 0, 0, utc),
		},
		{
			name:     "date anchors to midnight",
			value:    "20260310",
			wantAll:  true,
			wantTime: time.Date(2026, 3, 10, 0, 0, 0, 0, utc),
		},
		{
			name:      "empty value",
			value:     "",
			wantError: true,
		},
		{
			name:      "garbage",
			value:     "not-a-time",
			wantError: true,
		},
		{
			name:      "truncated date-time",
			value:     "20260310T09",
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, allDay, err := NormalizeTemporal(tt.value, tt.tzid, utc)
			if tt.wantError {
				if err == nil {
					t.Fatalf("NormalizeTemporal(%q) expected error, got %v", tt.value, got)
				}
				if !errors.Is(err, ErrInvalidTemporalValue) {
					t.Fatalf("NormalizeTemporal(%q) error = %v, want ErrInvalidTemporalValue", tt.value, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizeTemporal(%q) unexpected error: %v", tt.value, err)
			}
			if !got.Equal(tt.wantTime) {
				t.Errorf("NormalizeTemporal(%q) = %v, want %v", tt.value, got, tt.wantTime)
			}
			if allDay != tt.wantAll {
				t.Errorf("NormalizeTemporal(%q) allDay = %v, want %v", tt.value, allDay, tt.wantAll)
			}
		})
	}
}

func TestNormalizeTemporalTZID(t *testing.T) {
	got, allDay, err := NormalizeTemporal("20260110T090000", "America/New_York", time.UTC)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allDay {
		t.Fatal("date-time should not be all-day")
	}
	want := time.Date(2026, 1, 10, 14, 0, 0, 0, time.UTC) // EST is UTC-5 on that date
	if !got.Equal(want) {
		t.Errorf("got %v, want instant %v", got, want)
	}
}
