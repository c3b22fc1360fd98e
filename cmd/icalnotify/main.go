package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/r3voc/ical-email-notifier/internal/config"
	"github.com/r3voc/ical-email-notifier/internal/ics"
	appLog "github.com/r3voc/ical-email-notifier/internal/log"
	"github.com/r3voc/ical-email-notifier/internal/mailer"
	"github.com/r3voc/ical-email-notifier/internal/pipeline"
)

type flagConfig struct {
	optionsPath string
	once        bool
}

func main() {
	os.Exit(run())
}

func run() int {
	flags := parseFlags()

	settings, err := config.FromEnv()
	if err != nil {
		appLog.Error("missing required configuration", err)
		return 1
	}

	opts, err := config.LoadOptions(flags.optionsPath)
	if err != nil {
		appLog.Error("failed to load options", err, "path", flags.optionsPath)
		return 1
	}
	appLog.SetLevel(appLog.ParseLevel(opts.LogLevel))

	loc := time.Local
	if opts.Timezone != "" {
		loc, err = time.LoadLocation(opts.Timezone)
		if err != nil {
			appLog.Error("invalid timezone in options", err, "timezone", opts.Timezone)
			return 1
		}
	}

	appLog.Info("icalnotify starting",
		"expansion_window_days", opts.ExpansionWindowDays,
		"imminent_window_hours", opts.ImminentWindowHours,
		"run_interval_minutes", opts.RunIntervalMinutes,
		"ledger_path", opts.LedgerPath,
		"once", flags.once,
	)

	m, err := mailer.New(settings, opts.TemplatePath)
	if err != nil {
		appLog.Error("failed to set up mailer", err)
		return 1
	}

	pipe := pipeline.New(pipeline.Config{
		ExpansionWindow: time.Duration(opts.ExpansionWindowDays) * 24 * time.Hour,
		ImminentWindow:  time.Duration(opts.ImminentWindowHours) * time.Hour,
		LedgerPath:      opts.LedgerPath,
		Location:        loc,
	}, ics.NewFetcher(settings.CalendarURL, opts.CacheDir), m)

	// Root context canceled on SIGINT/SIGTERM. The stop signal is
	// honored between runs; an in-flight run completes first.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	runOnce := func() {
		if err := pipe.Run(ctx); err != nil {
			appLog.Error("pipeline run failed", err)
		}
	}

	// First run happens immediately; the schedule takes over afterwards.
	runOnce()
	if flags.once {
		appLog.Info("single run requested, exiting")
		return 0
	}

	// SkipIfStillRunning guarantees runs never overlap: a tick that
	// fires while the previous run is still going is dropped.
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	spec := fmt.Sprintf("@every %dm", opts.RunIntervalMinutes)
	if _, err := c.AddFunc(spec, runOnce); err != nil {
		appLog.Error("failed to schedule pipeline", err, "spec", spec)
		return 1
	}

	appLog.Info("scheduler started", "spec", spec)
	c.Start()

	<-ctx.Done()

	// Stop returns a context that is done once in-flight jobs finish.
	<-c.Stop().Done()
	appLog.Info("icalnotify exiting")
	return 0
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.optionsPath, "config", "./config.yaml", "Path to the YAML options file")
	flag.BoolVar(&cfg.once, "once", false, "Run one pipeline cycle and exit")

	flag.Parse()

	return cfg
}
