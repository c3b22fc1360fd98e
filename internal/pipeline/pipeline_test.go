package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/r3voc/ical-email-notifier/internal/ledger"
	"github.com/r3voc/ical-email-notifier/internal/model"
)

// testNow is the fixed instant every pipeline test runs at.
var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type stubFetcher struct {
	body []byte
	err  error
}

func (f stubFetcher) Fetch(ctx context.Context) ([]byte, error) {
	return f.body, f.err
}

type recordingDispatcher struct {
	fail bool
	sent []model.Instance
}

func (d *recordingDispatcher) Dispatch(inst model.Instance) error {
	if d.fail {
		return errors.New("smtp connection refused")
	}
	d.sent = append(d.sent, inst)
	return nil
}

func (d *recordingDispatcher) sentSummaries() []string {
	var out []string
	for _, inst := range d.sent {
		out = append(out, inst.Summary)
	}
	return out
}

func buildICS(components ...string) []byte {
	lines := []string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//icalnotify tests//EN",
	}
	lines = append(lines, components...)
	lines = append(lines, "END:VCALENDAR", "")
	return []byte(strings.Join(lines, "\r\n"))
}

func vevent(fields ...string) string {
	lines := append([]string{"BEGIN:VEVENT", "DTSTAMP:20260101T000000Z"}, fields...)
	lines = append(lines, "END:VEVENT")
	return strings.Join(lines, "\r\n")
}

func newTestPipeline(t *testing.T, fetcher FeedFetcher, dispatcher Dispatcher) (*Pipeline, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sent_emails.json")
	p := New(Config{
		ExpansionWindow: 30 * 24 * time.Hour,
		ImminentWindow:  24 * time.Hour,
		LedgerPath:      path,
		Location:        time.UTC,
	}, fetcher, dispatcher)
	p.clock = func() time.Time { return testNow }
	return p, path
}

func seedLedger(t *testing.T, path string, identities ...string) {
	t.Helper()
	led, err := ledger.Load(path)
	if err != nil {
		t.Fatalf("seed ledger: %v", err)
	}
	for _, identity := range identities {
		led.Record(identity, testNow.Add(-time.Hour))
	}
	if err := led.Save(); err != nil {
		t.Fatalf("seed ledger save: %v", err)
	}
}

func TestRunWindowCorrectness(t *testing.T) {
	// One event 23 hours out (due), one 25 hours out (not due yet).
	feed := buildICS(
		vevent("UID:soon", "SUMMARY:Soon", "DTSTART:20260311T110000Z", "DTEND:20260311T120000Z"),
		vevent("UID:later", "SUMMARY:Later", "DTSTART:20260311T130000Z", "DTEND:20260311T140000Z"),
	)
	dispatcher := &recordingDispatcher{}
	p, path := newTestPipeline(t, stubFetcher{body: feed}, dispatcher)

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if diff := cmp.Diff([]string{"Soon"}, dispatcher.sentSummaries()); diff != "" {
		t.Errorf("dispatched events mismatch (-want +got):\n%s", diff)
	}

	led, err := ledger.Load(path)
	if err != nil {
		t.Fatalf("reload ledger: %v", err)
	}
	if !led.Contains("Soon") || led.Contains("Later") {
		t.Errorf("ledger identities = %v, want only Soon", led.Identities())
	}
}

func TestRunIdempotence(t *testing.T) {
	// Recurring event already in the ledger: no occurrence may dispatch,
	// no matter how many fall inside the expansion window.
	feed := buildICS(vevent(
		"UID:standup",
		"SUMMARY:Daily standup",
		"DTSTART:20260301T130000Z",
		"DTEND:20260301T131500Z",
		"RRULE:FREQ=DAILY",
	))
	dispatcher := &recordingDispatcher{}
	p, path := newTestPipeline(t, stubFetcher{body: feed}, dispatcher)
	seedLedger(t, path, "Daily standup")

	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		if err := p.Run(context.Background()); err != nil {
			t.Fatalf("Run #%d: %v", i+1, err)
		}
	}

	if len(dispatcher.sent) != 0 {
		t.Fatalf("dispatched %v, want nothing", dispatcher.sentSummaries())
	}

	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !cmp.Equal(before, after) {
		t.Error("ledger file changed despite no successful dispatch")
	}
}

func TestRunAtMostOneSendForSharedIdentity(t *testing.T) {
	// Two imminent occurrences sharing a summary: exactly one send,
	// exactly one ledger entry.
	feed := buildICS(
		vevent("UID:occ-1", "SUMMARY:Daily standup", "DTSTART:20260310T140000Z", "DTEND:20260310T141500Z"),
		vevent("UID:occ-2", "SUMMARY:Daily standup", "DTSTART:20260310T200000Z", "DTEND:20260310T201500Z"),
	)
	dispatcher := &recordingDispatcher{}
	p, path := newTestPipeline(t, stubFetcher{body: feed}, dispatcher)

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(dispatcher.sent) != 1 {
		t.Fatalf("dispatched %d times, want exactly 1", len(dispatcher.sent))
	}

	led, err := ledger.Load(path)
	if err != nil {
		t.Fatalf("reload ledger: %v", err)
	}
	if diff := cmp.Diff([]string{"Daily standup"}, led.Identities()); diff != "" {
		t.Errorf("ledger mismatch (-want +got):\n%s", diff)
	}
}

func TestRunLedgerUntouchedWhenEveryDispatchFails(t *testing.T) {
	feed := buildICS(
		vevent("UID:a", "SUMMARY:Alpha", "DTSTART:20260310T140000Z", "DTEND:20260310T150000Z"),
		vevent("UID:b", "SUMMARY:Beta", "DTSTART:20260310T160000Z", "DTEND:20260310T170000Z"),
	)
	dispatcher := &recordingDispatcher{fail: true}
	p, path := newTestPipeline(t, stubFetcher{body: feed}, dispatcher)
	seedLedger(t, path, "Unrelated")

	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run should isolate dispatch failures, got %v", err)
	}

	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !cmp.Equal(before, after) {
		t.Error("ledger file changed after a run with zero successes")
	}
}

func TestRunRecoversFromCorruptLedger(t *testing.T) {
	feed := buildICS(
		vevent("UID:a", "SUMMARY:Alpha", "DTSTART:20260310T140000Z", "DTEND:20260310T150000Z"),
	)
	dispatcher := &recordingDispatcher{}
	p, path := newTestPipeline(t, stubFetcher{body: feed}, dispatcher)

	if err := os.WriteFile(path, []byte(">>> definitely not json <<<"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run should proceed with an empty ledger, got %v", err)
	}
	if len(dispatcher.sent) != 1 {
		t.Fatalf("dispatched %d times, want 1", len(dispatcher.sent))
	}

	led, err := ledger.Load(path)
	if err != nil {
		t.Fatalf("reload ledger: %v", err)
	}
	if !led.Contains("Alpha") {
		t.Error("rewritten ledger is missing the dispatched identity")
	}
}

func TestRunFetchFailureAbortsRun(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	p, path := newTestPipeline(t, stubFetcher{err: errors.New("connection timed out")}, dispatcher)

	if err := p.Run(context.Background()); err == nil {
		t.Fatal("expected fetch failure to abort the run")
	}
	if len(dispatcher.sent) != 0 {
		t.Error("dispatched despite fetch failure")
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Error("ledger file was touched by an aborted run")
	}
}

func TestRunPartialParseFailureIsolation(t *testing.T) {
	// The malformed middle component must not take down its neighbors.
	feed := buildICS(
		vevent("UID:a", "SUMMARY:Alpha", "DTSTART:20260310T140000Z", "DTEND:20260310T150000Z"),
		vevent("UID:b", "SUMMARY:Beta", "DTSTART:garbage", "DTEND:20260310T170000Z"),
		vevent("UID:c", "SUMMARY:Gamma", "DTSTART:20260310T180000Z", "DTEND:20260310T190000Z"),
	)
	dispatcher := &recordingDispatcher{}
	p, _ := newTestPipeline(t, stubFetcher{body: feed}, dispatcher)

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Expansion order is not chronological, so compare as a set.
	got := dispatcher.sentSummaries()
	sort.Strings(got)
	if diff := cmp.Diff([]string{"Alpha", "Gamma"}, got); diff != "" {
		t.Errorf("dispatched events mismatch (-want +got):\n%s", diff)
	}
}

func TestRunDispatchFailureLeavesEventEligible(t *testing.T) {
	feed := buildICS(
		vevent("UID:a", "SUMMARY:Alpha", "DTSTART:20260310T140000Z", "DTEND:20260310T150000Z"),
	)
	dispatcher := &recordingDispatcher{fail: true}
	p, path := newTestPipeline(t, stubFetcher{body: feed}, dispatcher)

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// Delivery comes back; the next run retries the same event.
	dispatcher.fail = false
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}

	if diff := cmp.Diff([]string{"Alpha"}, dispatcher.sentSummaries()); diff != "" {
		t.Errorf("dispatched events mismatch (-want +got):\n%s", diff)
	}
	led, err := ledger.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !led.Contains("Alpha") {
		t.Error("retried event was not recorded after success")
	}
}

func TestRunNoImminentEventsShortCircuits(t *testing.T) {
	// Inside the expansion window but outside the imminent window.
	feed := buildICS(
		vevent("UID:far", "SUMMARY:Far out", "DTSTART:20260320T120000Z", "DTEND:20260320T130000Z"),
	)
	dispatcher := &recordingDispatcher{}
	p, _ := newTestPipeline(t, stubFetcher{body: feed}, dispatcher)

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(dispatcher.sent) != 0 {
		t.Errorf("dispatched %v, want nothing", dispatcher.sentSummaries())
	}
}

func TestFilterDuePreservesOrderAndCutoff(t *testing.T) {
	led, err := ledger.Load(filepath.Join(t.TempDir(), "ledger.json"))
	if err != nil {
		t.Fatal(err)
	}
	led.Record("Seen", testNow)

	cutoff := testNow.Add(24 * time.Hour)
	instances := []model.Instance{
		{Summary: "C", Start: cutoff.Add(-time.Hour)},
		{Summary: "Seen", Start: cutoff.Add(-2 * time.Hour)},
		{Summary: "A", Start: cutoff}, // boundary is inclusive
		{Summary: "B", Start: cutoff.Add(time.Minute)},
	}

	due := filterDue(instances, cutoff, led)

	var got []string
	for _, inst := range due {
		got = append(got, inst.Summary)
	}
	if diff := cmp.Diff([]string{"C", "A"}, got); diff != "" {
		t.Errorf("due set mismatch (-want +got):\n%s", diff)
	}
}
