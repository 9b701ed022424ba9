// Package output renders CLI results as JSON, YAML or human-readable text.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatText Format = "text"
)

// Format selects the serialization applied to results.
type Format string

// ParseFormat validates a user-supplied format string.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatJSON:
		return FormatJSON, nil
	case FormatYAML:
		return FormatYAML, nil
	case FormatText, "":
		return FormatText, nil
	default:
		return "", fmt.Errorf("unsupported output format: '%s' (expected json, yaml or text)", s)
	}
}

// Printer writes results and errors in one configured format.
type Printer struct {
	out    io.Writer
	format Format
}

// NewPrinter creates a printer writing to w.
func NewPrinter(w io.Writer, format Format) *Printer {
	return &Printer{out: w, format: format}
}

// Writer returns the underlying io.Writer where output will be written.
func (p *Printer) Writer() io.Writer {
	return p.out
}

// Result renders one value. In text mode, values implementing fmt.Stringer print
// themselves; everything else falls back to YAML, which reads well enough in a terminal.
func (p *Printer) Result(v any) error {
	switch p.format {
	case FormatJSON:
		enc := json.NewEncoder(p.out)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Result any `json:"result"`
		}{v})
	case FormatYAML:
		return yaml.NewEncoder(p.out).Encode(struct {
			Result any `yaml:"result"`
		}{v})
	default:
		if s, ok := v.(fmt.Stringer); ok {
			_, err := fmt.Fprintln(p.out, s.String())
			return err
		}
		return yaml.NewEncoder(p.out).Encode(v)
	}
}

// Results renders a collection under a "results" key.
func (p *Printer) Results(items ...any) error {
	switch p.format {
	case FormatJSON:
		enc := json.NewEncoder(p.out)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Results []any `json:"results"`
		}{items})
	case FormatYAML:
		return yaml.NewEncoder(p.out).Encode(struct {
			Results []any `yaml:"results"`
		}{items})
	default:
		for _, item := range items {
			if err := p.Result(item); err != nil {
				return err
			}
		}
		return nil
	}
}

// Error renders the error in the configured format.
func (p *Printer) Error(err error) error {
	switch p.format {
	case FormatJSON:
		enc := json.NewEncoder(p.out)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Error string `json:"error"`
		}{err.Error()})
	case FormatYAML:
		return yaml.NewEncoder(p.out).Encode(struct {
			Error string `yaml:"error"`
		}{err.Error()})
	default:
		_, werr := fmt.Fprintf(p.out, "Error: %s\n", err.Error())
		return werr
	}
}
