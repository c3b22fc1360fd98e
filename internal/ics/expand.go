package ics

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	appLog "github.com/r3voc/ical-email-notifier/internal/log"
	"github.com/r3voc/ical-email-notifier/internal/model"
)

const defaultMaxOccurrencesPerEvent = 5000

// ExpandConfig controls recurrence expansion.
type ExpandConfig struct {
	// WindowStart / WindowEnd define the inclusive interval an
	// occurrence's start must fall in. WindowStart is "now": anything
	// starting strictly before it is dropped even when a recurrence
	// library yields a boundary occurrence that already began.
	WindowStart time.Time
	WindowEnd   time.Time

	// Location is the timezone instances are converted into.
	// If nil, time.Local is used.
	Location *time.Location

	// MaxPerEvent caps expansion per event to avoid runaway rules.
	// Zero means defaultMaxOccurrencesPerEvent.
	MaxPerEvent int
}

// Expand materializes parsed events into concrete instances within the
// configured window. It handles:
//
//   - single non-recurring events
//   - RRULE-based recurrence
//   - EXDATE exception removal
//   - RECURRENCE-ID overrides
//   - all-day semantics (start anchored to midnight, 24h span)
//
// Output order is not chronological; callers must not rely on it.
func Expand(events []ParsedEvent, cfg ExpandConfig) ([]model.Instance, error) {
	if cfg.WindowEnd.Before(cfg.WindowStart) {
		return nil, errors.New("expand: window end is before window start")
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.MaxPerEvent <= 0 {
		cfg.MaxPerEvent = defaultMaxOccurrencesPerEvent
	}

	// Group base events and their instance overrides by UID.
	baseByUID := make(map[string][]ParsedEvent)
	overridesByUID := make(map[string][]ParsedEvent)
	for _, ev := range events {
		if ev.IsOverride && ev.Recurrence != nil {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
		} else {
			baseByUID[ev.UID] = append(baseByUID[ev.UID], ev)
		}
	}

	instances := make([]model.Instance, 0)

	for uid, baseEvents := range baseByUID {
		ov := overridesByUID[uid]
		truncated := false

		for _, ev := range baseEvents {
			out, hitCap := expandEvent(ev, ov, cfg)
			if hitCap {
				truncated = true
			}
			instances = append(instances, out...)
		}

		if truncated {
			appLog.Error("expand: occurrence cap hit for event",
				errors.New("max occurrences reached"),
				"uid", uid,
				"cap", cfg.MaxPerEvent,
			)
		}
	}

	return instances, nil
}

func expandEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]model.Instance, bool) {
	if ev.RawRRule == "" {
		return expandSingleEvent(ev, overrides, cfg), false
	}
	return expandRecurringEvent(ev, overrides, cfg)
}

func expandSingleEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) []model.Instance {
	start := ev.Start
	end := ev.End

	if o, ok := findOverrideForStart(overrides, start); ok {
		start = o.Start
		end = o.End
		ev = o
	}

	if !startInWindow(start, cfg) {
		return nil
	}
	return []model.Instance{makeInstance(ev, start, end, cfg.Location)}
}

func expandRecurringEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]model.Instance, bool) {
	out := make([]model.Instance, 0)

	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("expand: failed to parse RRULE, skipping event", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return out, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	// Between operates in the event's own location.
	rangeStart := cfg.WindowStart.In(ev.Start.Location())
	rangeEnd := cfg.WindowEnd.In(ev.Start.Location())

	occTimes := set.Between(rangeStart, rangeEnd, true)

	hitCap := false
	if len(occTimes) > cfg.MaxPerEvent {
		occTimes = occTimes[:cfg.MaxPerEvent]
		hitCap = true
	}

	for _, occStart := range occTimes {
		var occEnd time.Time
		if ev.AllDay {
			day := time.Date(occStart.Year(), occStart.Month(), occStart.Day(), 0, 0, 0, 0, occStart.Location())
			occStart = day
			occEnd = day.Add(24 * time.Hour)
		} else {
			occEnd = occStart.Add(ev.End.Sub(ev.Start))
		}

		occEv := ev
		if o, ok := findOverrideForStart(overrides, occStart); ok {
			occStart = o.Start
			occEnd = o.End
			occEv = o
		}

		if !startInWindow(occStart, cfg) {
			continue
		}
		out = append(out, makeInstance(occEv, occStart, occEnd, cfg.Location))
	}

	return out, hitCap
}

// startInWindow reports whether start falls inside [WindowStart, WindowEnd].
// The lower bound is strict on the past side: an occurrence that already
// began is never emitted.
func startInWindow(start time.Time, cfg ExpandConfig) bool {
	return !start.Before(cfg.WindowStart) && !start.After(cfg.WindowEnd)
}

// findOverrideForStart finds an override whose RECURRENCE-ID matches the
// given occurrence start exactly.
func findOverrideForStart(overrides []ParsedEvent, start time.Time) (ParsedEvent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence == nil {
			continue
		}
		if ov.Recurrence.In(start.Location()).Equal(start) {
			return ov, true
		}
	}
	return ParsedEvent{}, false
}

func makeInstance(ev ParsedEvent, start, end time.Time, loc *time.Location) model.Instance {
	return model.Instance{
		UID:         ev.UID,
		Summary:     ev.Summary,
		Description: ev.Description,
		Location:    ev.Location,
		AllDay:      ev.AllDay,
		Start:       start.In(loc),
		End:         end.In(loc),
	}
}
