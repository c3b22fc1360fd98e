package config

import "fmt"

// ValidationError describes a single bad or missing configuration value.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors collects every configuration problem found in one
// pass, so startup can report all of them at once.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	switch len(e) {
	case 0:
		return ""
	case 1:
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d configuration errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// MissingKeys returns the field names of all errors, in order.
func (e ValidationErrors) MissingKeys() []string {
	keys := make([]string, 0, len(e))
	for _, err := range e {
		keys = append(keys, err.Field)
	}
	return keys
}
