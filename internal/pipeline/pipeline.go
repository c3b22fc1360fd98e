// Package pipeline wires one notification run: fetch the feed, expand
// recurrences, filter to due events, dispatch notifications, and commit
// ledger entries for the dispatches that succeeded.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/r3voc/ical-email-notifier/internal/ics"
	"github.com/r3voc/ical-email-notifier/internal/ledger"
	appLog "github.com/r3voc/ical-email-notifier/internal/log"
	"github.com/r3voc/ical-email-notifier/internal/model"
)

// FeedFetcher obtains the raw calendar document. A fetch error aborts
// the whole run.
type FeedFetcher interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// Dispatcher sends one notification per due event. An error means the
// event was not notified and stays eligible for the next run.
type Dispatcher interface {
	Dispatch(inst model.Instance) error
}

// Config holds the per-pipeline tunables derived from config.Options.
type Config struct {
	ExpansionWindow time.Duration
	ImminentWindow  time.Duration
	LedgerPath      string
	Location        *time.Location
}

// Pipeline runs the fetch-expand-filter-dispatch-persist cycle. One run
// executes to completion before the next may start; the caller's trigger
// enforces non-overlap.
type Pipeline struct {
	cfg        Config
	fetcher    FeedFetcher
	dispatcher Dispatcher
	clock      func() time.Time
}

func New(cfg Config, fetcher FeedFetcher, dispatcher Dispatcher) *Pipeline {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Pipeline{
		cfg:        cfg,
		fetcher:    fetcher,
		dispatcher: dispatcher,
		clock:      time.Now,
	}
}

// Run executes a single pipeline cycle. Only fetch and whole-document
// parse failures abort the run; per-event failures are isolated and
// leave the ledger file untouched for those events.
func (p *Pipeline) Run(ctx context.Context) error {
	now := p.clock().In(p.cfg.Location)

	body, err := p.fetcher.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("fetch feed: %w", err)
	}

	events, err := ics.Parse(body, p.cfg.Location)
	if err != nil {
		return fmt.Errorf("parse feed: %w", err)
	}

	instances, err := ics.Expand(events, ics.ExpandConfig{
		WindowStart: now,
		WindowEnd:   now.Add(p.cfg.ExpansionWindow),
		Location:    p.cfg.Location,
	})
	if err != nil {
		return fmt.Errorf("expand events: %w", err)
	}
	if len(instances) == 0 {
		appLog.Info("no upcoming events in expansion window")
		return nil
	}

	led, err := ledger.Load(p.cfg.LedgerPath)
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}

	due := filterDue(instances, now.Add(p.cfg.ImminentWindow), led)
	if len(due) == 0 {
		appLog.Info("no new events to notify", "imminent_window", p.cfg.ImminentWindow)
		return nil
	}

	sent := 0
	failed := 0
	for _, inst := range due {
		// Two due occurrences may share an identity; once the first
		// is recorded, the rest are suppressed within the same run.
		if led.Contains(inst.Identity()) {
			continue
		}
		if err := p.dispatcher.Dispatch(inst); err != nil {
			failed++
			appLog.Error("dispatch failed, event stays eligible for the next run", err, "identity", inst.Identity())
			continue
		}
		led.Record(inst.Identity(), inst.Start)
		sent++
	}

	// The ledger file is rewritten only when something was sent, so a
	// run where every dispatch fails leaves it byte-identical.
	if sent > 0 {
		if err := led.Save(); err != nil {
			return fmt.Errorf("persist ledger: %w", err)
		}
	}

	appLog.Info("pipeline run finished", "due", len(due), "sent", sent, "failed", failed, "ledger_size", led.Len())
	return nil
}

// filterDue keeps instances starting at or before cutoff whose identity
// is not yet in the ledger, preserving input order.
func filterDue(instances []model.Instance, cutoff time.Time, led *ledger.Ledger) []model.Instance {
	due := make([]model.Instance, 0, len(instances))
	for _, inst := range instances {
		if inst.Start.After(cutoff) {
			continue
		}
		if led.Contains(inst.Identity()) {
			continue
		}
		due = append(due, inst)
	}
	return due
}
