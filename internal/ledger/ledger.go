// Package ledger persists which event identities have already triggered
// a notification, as a single JSON object file mapping identity to the
// RFC 3339 instant that was notified.
package ledger

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	appLog "github.com/r3voc/ical-email-notifier/internal/log"
)

// Ledger is the in-memory view of the notification history for one
// pipeline run. It is loaded at the start of a run, mutated only after
// successful dispatches, and rewritten wholesale by Save.
type Ledger struct {
	path    string
	entries map[string]time.Time
}

// Load reads the ledger file at path.
//
//   - Missing file: an empty ledger is created and persisted immediately,
//     establishing the file.
//   - Unreadable or unparsable file: the run proceeds with an empty
//     ledger. The previous history is lost, which is preferable to a
//     notifier that never runs again.
//   - A single entry with an unparsable timestamp is dropped, keeping
//     the rest. The next Save omits it, so that identity becomes
//     eligible to notify again.
func Load(path string) (*Ledger, error) {
	if path == "" {
		return nil, errors.New("ledger path is empty")
	}

	led := &Ledger{
		path:    path,
		entries: make(map[string]time.Time),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			appLog.Info("ledger file not found, creating empty ledger", "path", path)
			if err := led.Save(); err != nil {
				return nil, err
			}
			return led, nil
		}
		appLog.Error("ledger read failed, proceeding with empty ledger", err, "path", path)
		return led, nil
	}

	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		appLog.Error("ledger file is unparsable, proceeding with empty ledger", err, "path", path)
		return led, nil
	}

	for identity, stamp := range raw {
		t, err := time.Parse(time.RFC3339, stamp)
		if err != nil {
			appLog.Error("ledger entry has a bad timestamp, dropping entry", err, "identity", identity)
			continue
		}
		led.entries[identity] = t
	}

	return led, nil
}

// Contains reports whether identity has already been notified.
func (l *Ledger) Contains(identity string) bool {
	_, ok := l.entries[identity]
	return ok
}

// Record marks identity as notified at the given instant. An existing
// entry is left untouched: presence means "do not notify again".
func (l *Ledger) Record(identity string, at time.Time) {
	if _, ok := l.entries[identity]; ok {
		return
	}
	l.entries[identity] = at
}

// Len returns the number of recorded identities.
func (l *Ledger) Len() int {
	return len(l.entries)
}

// Identities returns the recorded identities in sorted order.
func (l *Ledger) Identities() []string {
	out := make([]string, 0, len(l.entries))
	for identity := range l.entries {
		out = append(out, identity)
	}
	sort.Strings(out)
	return out
}

// Save rewrites the ledger file. The write goes to a temp file in the
// same directory followed by a rename, so readers never observe a
// half-written ledger.
func (l *Ledger) Save() error {
	raw := make(map[string]string, len(l.entries))
	for identity, at := range l.entries {
		raw[identity] = at.Format(time.RFC3339)
	}

	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".ledger-*.tmp")
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

	return os.Rename(tmpName, l.path)
}
