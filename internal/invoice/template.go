package invoice

import (
	_ "embed"
	"fmt"

	"github.com/cbroglie/mustache"
)

//go:embed templates/invoice.tex
var defaultTemplate string

// Template is a parsed mustache LaTeX template. Values are inserted with
// triple braces, so callers escape them beforehand.
type Template struct {
	tmpl *mustache.Template
}

// LoadTemplate parses the template at path, or the embedded one when path is empty.
func LoadTemplate(path string) (*Template, error) {
	var (
		tmpl *mustache.Template
		err  error
	)
	if path == "" {
		tmpl, err = mustache.ParseString(defaultTemplate)
	} else {
		tmpl, err = mustache.ParseFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("parse invoice template: %w", err)
	}
	return &Template{tmpl: tmpl}, nil
}

// Render produces the LaTeX source for one invoice.
func (t *Template) Render(fields map[string]any) ([]byte, error) {
	out, err := t.tmpl.Render(fields)
	if err != nil {
		return nil, fmt.Errorf("render invoice template: %w", err)
	}
	return []byte(out), nil
}
