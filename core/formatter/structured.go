package formatter

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// StructuredFormatter writes listings as documents with a
// definition/count/total/data envelope. Unset values are null.
type StructuredFormatter struct {
	name        string
	description string
	encode      func(w io.Writer, v any, compact bool) error
}

// NewJSONFormatter creates a JSON formatter. Compact output is one line.
func NewJSONFormatter() *StructuredFormatter {
	return &StructuredFormatter{name: "json", description: "JSON output format", encode: encodeJSON}
}

// NewYAMLFormatter creates a YAML formatter. Compact is ignored.
func NewYAMLFormatter() *StructuredFormatter {
	return &StructuredFormatter{name: "yaml", description: "YAML output format", encode: encodeYAML}
}

func (f *StructuredFormatter) Name() string        { return f.name }
func (f *StructuredFormatter) Description() string { return f.description }

// FormatList formats every record with the unpaged total.
func (f *StructuredFormatter) FormatList(w io.Writer, l Listing, opts FormatOptions) error {
	return f.encode(w, map[string]any{
		"definition": l.Definition,
		"count":      len(l.Records),
		"total":      l.Total,
		"data":       l.objects(l.columns(opts.Columns)),
	}, opts.Compact)
}

// FormatRecord formats the first record; data is null when there is none.
func (f *StructuredFormatter) FormatRecord(w io.Writer, l Listing, opts FormatOptions) error {
	output := map[string]any{
		"definition": l.Definition,
		"data":       nil,
	}
	if r := l.first(); r != nil {
		output["data"] = r.object(l.columns(opts.Columns))
	}
	return f.encode(w, output, opts.Compact)
}

func (f *StructuredFormatter) FormatError(w io.Writer, err error) error {
	return f.encode(w, map[string]any{"error": err.Error()}, false)
}

func encodeJSON(w io.Writer, v any, compact bool) error {
	encoder := json.NewEncoder(w)
	if !compact {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(v)
}

func encodeYAML(w io.Writer, v any, _ bool) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(v); err != nil {
		return err
	}
	return encoder.Close()
}

func init() {
	for _, f := range []Formatter{NewJSONFormatter(), NewYAMLFormatter()} {
		if err := Register(f); err != nil {
			fmt.Printf("failed to register %s formatter: %v\n", f.Name(), err)
		}
	}
}
