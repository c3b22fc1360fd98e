// Package config holds the two configuration surfaces of the notifier:
// required connection settings read from the environment once at startup,
// and tunable pipeline options stored in a YAML file.
package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment keys required at startup. Startup fails listing every
// missing key, so operators can fix them in one pass.
const (
	EnvCalendarURL  = "CALENDAR_URL"
	EnvSMTPHost     = "SMTP_HOST"
	EnvSMTPPort     = "SMTP_PORT"
	EnvSMTPUser     = "SMTP_USER"
	EnvSMTPPassword = "SMTP_PASSWORD"
	EnvEmailFrom    = "EMAIL_FROM"
	EnvEmailTo      = "EMAIL_TO"
)

// Settings are the connection settings the notifier cannot run without.
// They are read from the environment exactly once, in FromEnv; no other
// package reads ambient environment state.
type Settings struct {
	CalendarURL  string
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	EmailFrom    string
	// EmailTo is the recipient list, split from a comma-separated
	// EMAIL_TO value.
	EmailTo []string
}

// FromEnv builds Settings from the environment. All keys are required;
// the returned error is a ValidationErrors naming every missing or
// invalid key.
func FromEnv() (Settings, error) {
	var errs ValidationErrors

	required := func(key string) string {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			errs = append(errs, ValidationError{Field: key, Message: "required"})
		}
		return v
	}

	// Keys are checked in declaration order so the failure message
	// lists them the way operators expect to set them.
	s := Settings{
		CalendarURL: required(EnvCalendarURL),
		SMTPHost:    required(EnvSMTPHost),
	}

	if portStr := required(EnvSMTPPort); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil || port <= 0 || port > 65535 {
			errs = append(errs, ValidationError{
				Field:   EnvSMTPPort,
				Message: "must be a TCP port number, got " + strconv.Quote(portStr),
			})
		} else {
			s.SMTPPort = port
		}
	}

	s.SMTPUser = required(EnvSMTPUser)
	s.SMTPPassword = required(EnvSMTPPassword)
	s.EmailFrom = required(EnvEmailFrom)

	if to := required(EnvEmailTo); to != "" {
		for _, addr := range strings.Split(to, ",") {
			addr = strings.TrimSpace(addr)
			if addr != "" {
				s.EmailTo = append(s.EmailTo, addr)
			}
		}
		if len(s.EmailTo) == 0 {
			errs = append(errs, ValidationError{Field: EnvEmailTo, Message: "no recipient addresses"})
		}
	}

	if len(errs) > 0 {
		return Settings{}, errs
	}
	return s, nil
}

// Options are the tunable pipeline knobs, persisted as YAML.
type Options struct {
	// ExpansionWindowDays is how far ahead recurring definitions are
	// materialized into concrete instances.
	ExpansionWindowDays int `yaml:"expansion_window_days"`

	// ImminentWindowHours is how close an instance must be to trigger
	// a notification.
	ImminentWindowHours int `yaml:"imminent_window_hours"`

	// RunIntervalMinutes is the pipeline trigger cadence.
	RunIntervalMinutes int `yaml:"run_interval_minutes"`

	// LedgerPath is the JSON file recording already-notified identities.
	LedgerPath string `yaml:"ledger_path"`

	// CacheDir stores feed bodies and conditional-request metadata.
	CacheDir string `yaml:"cache_dir"`

	// TemplatePath optionally overrides the embedded email body template.
	TemplatePath string `yaml:"template_path"`

	// Timezone is the IANA zone used for display and window math.
	// Empty means the process-local zone.
	Timezone string `yaml:"timezone"`

	// LogLevel is one of debug, info, error.
	LogLevel string `yaml:"log_level"`
}

// DefaultOptions returns the built-in option values.
func DefaultOptions() *Options {
	return &Options{
		ExpansionWindowDays: 30,
		ImminentWindowHours: 24,
		RunIntervalMinutes:  30,
		LedgerPath:          "./data/sent_emails.json",
		CacheDir:            "./data/feed-cache",
		LogLevel:            "info",
	}
}

// Normalize fills zero or out-of-range values with defaults so that
// partially-filled option files still behave correctly.
func (o *Options) Normalize() {
	def := DefaultOptions()
	if o.ExpansionWindowDays <= 0 {
		o.ExpansionWindowDays = def.ExpansionWindowDays
	}
	if o.ImminentWindowHours <= 0 {
		o.ImminentWindowHours = def.ImminentWindowHours
	}
	if o.RunIntervalMinutes <= 0 {
		o.RunIntervalMinutes = def.RunIntervalMinutes
	}
	if o.LedgerPath == "" {
		o.LedgerPath = def.LedgerPath
	}
	if o.CacheDir == "" {
		o.CacheDir = def.CacheDir
	}
	if o.LogLevel == "" {
		o.LogLevel = def.LogLevel
	}
}

// LoadOptions loads pipeline options from the given YAML path.
//
// If the file does not exist, a default options file is written there
// (0600, parent directory created) and the defaults are returned.
func LoadOptions(path string) (*Options, error) {
	if path == "" {
		return nil, errors.New("options path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			opts := DefaultOptions()
			if err := SaveOptions(path, opts); err != nil {
				return opts, err
			}
			return opts, nil
		}
		return nil, err
	}

	var opts Options
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return nil, err
	}
	opts.Normalize()

	return &opts, nil
}

// SaveOptions writes the options to path atomically (temp file in the
// same directory, then rename) with 0600 permissions.
func SaveOptions(path string, opts *Options) error {
	if path == "" {
		return errors.New("options path is empty")
	}
	if opts == nil {
		return errors.New("options are nil")
	}

	opts.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(opts)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".icalnotify-options-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}
