package ics

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidTemporalValue is returned for property values that are
// neither an iCalendar DATE nor a DATE-TIME.
var ErrInvalidTemporalValue = errors.New("invalid date or date-time value")

// NormalizeTemporal coerces an iCalendar DATE or DATE-TIME property value
// into a time.Time. DATE values anchor to midnight in loc and are
// reported as all-day. tzid, when non-empty, names the zone a floating
// DATE-TIME should be interpreted in; an unknown tzid falls back to loc.
func NormalizeTemporal(value, tzid string, loc *time.Location) (t time.Time, allDay bool, err error) {
	value = strings.TrimSpace(value)
	if loc == nil {
		loc = time.Local
	}

	switch {
	case value == "":
		return time.Time{}, false, fmt.Errorf("%w: empty value", ErrInvalidTemporalValue)

	// UTC form, e.g. 20250101T090000Z
	case strings.HasSuffix(value, "Z"):
		t, err = time.Parse("20060102T150405Z", value)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("%w: %q", ErrInvalidTemporalValue, value)
		}
		return t, false, nil

	// Floating or TZID-qualified form, e.g. 20250101T090000
	case strings.Contains(value, "T"):
		zone := loc
		if tzid != "" {
			if z, zerr := time.LoadLocation(tzid); zerr == nil {
				zone = z
			}
		}
		t, err = time.ParseInLocation("20060102T150405", value, zone)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("%w: %q", ErrInvalidTemporalValue, value)
		}
		return t, false, nil

	// Date-only form, e.g. 20250101; anchored to midnight.
	default:
		t, err = time.ParseInLocation("20060102", value, loc)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("%w: %q", ErrInvalidTemporalValue, value)
		}
		return t, true, nil
	}
}
