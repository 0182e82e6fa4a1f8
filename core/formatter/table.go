package formatter

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// TableFormatter formats output as aligned text tables.
type TableFormatter struct{}

// NewTableFormatter creates a new table formatter.
func NewTableFormatter() *TableFormatter {
	return &TableFormatter{}
}

// Name returns the formatter name.
func (f *TableFormatter) Name() string {
	return "table"
}

// Description returns the formatter description.
func (f *TableFormatter) Description() string {
	return "Aligned text table output"
}

// FormatList formats a listing as a table followed by a "shown of total"
// line.
func (f *TableFormatter) FormatList(w io.Writer, l Listing, opts FormatOptions) error {
	if len(l.Records) == 0 {
		fmt.Fprintln(w, "No records found.")
		fmt.Fprintf(w, "\n0 of %d\n", l.Total)
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	columns := l.columns(opts.Columns)

	if !opts.NoHeader {
		headers := []string{"ID", "IDENTIFIER"}
		for _, col := range columns {
			headers = append(headers, strings.ToUpper(col))
		}
		fmt.Fprintln(tw, strings.Join(headers, "\t"))
	}

	for _, r := range l.Records {
		values := []string{r.ID, f.formatValue(r.Identifier, opts.MaxWidth)}
		for _, col := range columns {
			values = append(values, f.formatValue(r.Values[col], opts.MaxWidth))
		}
		fmt.Fprintln(tw, strings.Join(values, "\t"))
	}

	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\n%d of %d\n", len(l.Records), l.Total)
	return nil
}

// FormatRecord formats a single record as key-value pairs.
func (f *TableFormatter) FormatRecord(w io.Writer, l Listing, opts FormatOptions) error {
	r := l.first()
	if r == nil {
		fmt.Fprintln(w, "Record not found.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Id:\t%s\n", r.ID)
	fmt.Fprintf(tw, "Identifier:\t%s\n", f.formatValue(r.Identifier, 0))
	for _, col := range l.columns(opts.Columns) {
		// No truncation for detail view
		fmt.Fprintf(tw, "%s:\t%s\n", f.formatLabel(col), f.formatValue(r.Values[col], 0))
	}
	return tw.Flush()
}

// FormatError formats an error message.
func (f *TableFormatter) FormatError(w io.Writer, err error) error {
	fmt.Fprintf(w, "Error: %s\n", err.Error())
	return nil
}

// formatLabel formats a field name as a label.
func (f *TableFormatter) formatLabel(name string) string {
	// Convert snake_case to Title Case
	words := strings.Split(name, "_")
	for i, word := range words {
		if len(word) > 0 {
			words[i] = strings.ToUpper(word[:1]) + word[1:]
		}
	}
	return strings.Join(words, " ")
}

// formatValue formats a value for display.
func (f *TableFormatter) formatValue(val string, maxWidth int) string {
	if val == "" {
		return "-"
	}
	if maxWidth > 3 && len(val) > maxWidth {
		return val[:maxWidth-3] + "..."
	}
	return val
}

func init() {
	Register(NewTableFormatter())
}
