package model

import "time"

// Instance is a single concrete occurrence of a calendar event, after
// recurrence expansion and time normalization. A recurring definition
// yields one Instance per repeat, each carrying its own start and end.
type Instance struct {
	UID string // iCalendar UID of the defining VEVENT

	Summary     string
	Description string
	Location    string

	AllDay bool

	// Start and End are normalized instants in the configured display
	// timezone. All-day values are anchored to midnight.
	Start time.Time
	End   time.Time
}

// Identity is the deduplication key recorded in the notification ledger.
// It is the summary text: once any occurrence with a given summary has
// been notified, later occurrences sharing it are suppressed.
func (i Instance) Identity() string {
	return i.Summary
}
