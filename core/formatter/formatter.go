// Package formatter renders entity listings for command output.
// Formatters convert rendered entities to an output format (table, json, yaml).
package formatter

import (
	"fmt"
	"io"
	"slices"
	"sync"
)

// Formatter converts a listing to a specific output format.
type Formatter interface {
	// Name returns the formatter name (e.g., "table", "json", "yaml").
	Name() string

	// Description returns a human-readable description.
	Description() string

	// FormatList formats every record of a listing.
	FormatList(w io.Writer, l Listing, opts FormatOptions) error

	// FormatRecord formats the first record of a listing, or reports
	// that there is none.
	FormatRecord(w io.Writer, l Listing, opts FormatOptions) error

	// FormatError formats an error.
	FormatError(w io.Writer, err error) error
}

// FormatOptions configures formatting behavior.
type FormatOptions struct {
	// Columns specifies which fields to include (nil = all of the listing).
	Columns []string

	// NoHeader disables header row for tabular formats.
	NoHeader bool

	// Compact minimizes whitespace (for json).
	Compact bool

	// MaxWidth truncates long values (0 = no limit).
	MaxWidth int
}

// Listing is a page of entities of one definition, already rendered as
// text in the display locale.
type Listing struct {
	Definition string
	Columns    []string
	Records    []Record
	// Total counts every match, ignoring paging.
	Total int
}

// Record is one rendered entity. Values are keyed by column; an empty
// value means the field is unset.
type Record struct {
	ID         string
	Identifier string
	Values     map[string]string
}

// columns resolves the requested columns against the listing. Unknown
// names are dropped.
func (l Listing) columns(requested []string) []string {
	if len(requested) == 0 {
		return l.Columns
	}
	out := make([]string, 0, len(requested))
	for _, c := range requested {
		if slices.Contains(l.Columns, c) {
			out = append(out, c)
		}
	}
	return out
}

func (l Listing) first() *Record {
	if len(l.Records) == 0 {
		return nil
	}
	return &l.Records[0]
}

// object converts a record for the structured encoders. Unset values
// become nil.
func (r Record) object(columns []string) map[string]any {
	obj := map[string]any{"id": r.ID, "identifier": r.Identifier}
	for _, c := range columns {
		if v := r.Values[c]; v != "" {
			obj[c] = v
		} else {
			obj[c] = nil
		}
	}
	return obj
}

func (l Listing) objects(columns []string) []map[string]any {
	out := make([]map[string]any, len(l.Records))
	for i, r := range l.Records {
		out[i] = r.object(columns)
	}
	return out
}

// Registry manages registered formatters.
type Registry struct {
	mu         sync.RWMutex
	formatters map[string]Formatter
	defaultFmt string
}

// NewRegistry creates a new formatter registry.
func NewRegistry() *Registry {
	return &Registry{
		formatters: make(map[string]Formatter),
		defaultFmt: "table",
	}
}

// Register adds a formatter to the registry.
func (r *Registry) Register(f Formatter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.formatters[f.Name()]; exists {
		return fmt.Errorf("formatter %q already registered", f.Name())
	}

	r.formatters[f.Name()] = f
	return nil
}

// Get returns a formatter by name.
func (r *Registry) Get(name string) (Formatter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.formatters[name]
	return f, ok
}

// Default returns the default formatter.
func (r *Registry) Default() Formatter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.formatters[r.defaultFmt]
	if !ok {
		// Fallback to the first name in order
		names := r.names()
		if len(names) == 0 {
			return nil
		}
		return r.formatters[names[0]]
	}
	return f
}

// SetDefault sets the default formatter.
func (r *Registry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.formatters[name]; !exists {
		return fmt.Errorf("formatter %q not registered", name)
	}

	r.defaultFmt = name
	return nil
}

// List returns all registered formatter names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.names()
}

func (r *Registry) names() []string {
	names := make([]string, 0, len(r.formatters))
	for name := range r.formatters {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// DefaultRegistry is the global formatter registry.
var DefaultRegistry = NewRegistry()

// Register adds a formatter to the default registry.
func Register(f Formatter) error {
	return DefaultRegistry.Register(f)
}

// Get returns a formatter from the default registry.
func Get(name string) (Formatter, bool) {
	return DefaultRegistry.Get(name)
}

// Default returns the default formatter from the default registry.
func Default() Formatter {
	return DefaultRegistry.Default()
}

// List returns all formatter names from the default registry.
func List() []string {
	return DefaultRegistry.List()
}
