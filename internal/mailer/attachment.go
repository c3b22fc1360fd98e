package mailer

import (
	ical "github.com/arran4/golang-ical"

	"github.com/r3voc/ical-email-notifier/internal/model"
)

// eventAttachment serializes a single instance as an iCalendar document,
// suitable for attaching to the notification as event.ics.
func eventAttachment(inst model.Instance) []byte {
	cal := ical.NewCalendar()
	cal.SetProductId("-//ical-email-notifier//event notification//EN")
	cal.SetMethod(ical.MethodPublish)

	ev := cal.AddEvent(inst.UID)
	ev.SetSummary(inst.Summary)
	if inst.AllDay {
		ev.SetAllDayStartAt(inst.Start)
		ev.SetAllDayEndAt(inst.End)
	} else {
		ev.SetStartAt(inst.Start)
		ev.SetEndAt(inst.End)
	}
	if inst.Description != "" {
		ev.SetDescription(inst.Description)
	}
	if inst.Location != "" {
		ev.SetLocation(inst.Location)
	}

	return []byte(cal.Serialize())
}
