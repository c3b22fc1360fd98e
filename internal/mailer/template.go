package mailer

import (
	_ "embed"
	"fmt"
	"html/template"
	"os"
)

//go:embed templates/default.html
var defaultTemplate string

// loadTemplate parses the body template. An empty path selects the
// embedded default; otherwise the file at path replaces it.
func loadTemplate(path string) (*template.Template, error) {
	text := defaultTemplate
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read body template: %w", err)
		}
		text = string(data)
	}

	tmpl, err := template.New("body").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse body template: %w", err)
	}
	return tmpl, nil
}
