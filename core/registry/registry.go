// Package registry is the process-wide store of data definitions.
//
// Readers see an immutable snapshot swapped atomically on every change, so
// a lookup never observes a definition half registered or a plugin half
// disabled. Writers are serialized. Every change bumps the version.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/artpar/entitycore/core/model"
	"github.com/artpar/entitycore/core/types"
)

type snapshot struct {
	version  uint64
	defs     map[types.Ref]*model.DataDefinition
	disabled map[types.Ref]bool
	tables   map[string]types.Ref
}

func (s *snapshot) clone() *snapshot {
	out := &snapshot{
		version:  s.version + 1,
		defs:     make(map[types.Ref]*model.DataDefinition, len(s.defs)),
		disabled: make(map[types.Ref]bool, len(s.disabled)),
		tables:   make(map[string]types.Ref, len(s.tables)),
	}
	for k, v := range s.defs {
		out.defs[k] = v
	}
	for k, v := range s.disabled {
		out.disabled[k] = v
	}
	for k, v := range s.tables {
		out.tables[k] = v
	}
	return out
}

// Registry holds registered definitions and their enabled state.
type Registry struct {
	mu     sync.Mutex
	snap   atomic.Pointer[snapshot]
	logger zerolog.Logger
}

// New creates an empty registry.
func New(logger zerolog.Logger) *Registry {
	r := &Registry{logger: logger}
	r.snap.Store(&snapshot{
		defs:     map[types.Ref]*model.DataDefinition{},
		disabled: map[types.Ref]bool{},
		tables:   map[string]types.Ref{},
	})
	return r
}

// update applies fn to a copy of the current snapshot and publishes it
// unless fn fails.
func (r *Registry) update(fn func(s *snapshot) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.snap.Load().clone()
	if err := fn(next); err != nil {
		return err
	}
	r.snap.Store(next)
	return nil
}

// Register adds enabled definitions. Either all are registered or none.
func (r *Registry) Register(defs ...*model.DataDefinition) error {
	return r.update(func(s *snapshot) error {
		var conflicts []Conflict
		for _, d := range defs {
			if _, exists := s.defs[d.Ref()]; exists {
				return fmt.Errorf("definition %s already registered", d.Ref())
			}
			if owner, exists := s.tables[d.TableName()]; exists {
				conflicts = append(conflicts, Conflict{Table: d.TableName(), Claims: []types.Ref{owner, d.Ref()}})
				continue
			}
			s.defs[d.Ref()] = d
			s.tables[d.TableName()] = d.Ref()
		}
		if len(conflicts) > 0 {
			return &ConflictError{Conflicts: conflicts}
		}
		for _, d := range defs {
			r.logger.Debug().Str("definition", d.Ref().String()).Uint64("version", s.version).Msg("registered definition")
		}
		return nil
	})
}

// Unregister removes a definition.
func (r *Registry) Unregister(ref types.Ref) error {
	return r.update(func(s *snapshot) error {
		d, exists := s.defs[ref]
		if !exists {
			return fmt.Errorf("definition %s not registered", ref)
		}
		delete(s.defs, ref)
		delete(s.disabled, ref)
		delete(s.tables, d.TableName())
		return nil
	})
}

// Enable makes a registered definition visible to Get.
func (r *Registry) Enable(ref types.Ref) error {
	return r.setDisabled(ref, false)
}

// Disable hides a definition from Get without discarding it.
func (r *Registry) Disable(ref types.Ref) error {
	return r.setDisabled(ref, true)
}

func (r *Registry) setDisabled(ref types.Ref, disabled bool) error {
	return r.update(func(s *snapshot) error {
		if _, exists := s.defs[ref]; !exists {
			return fmt.Errorf("definition %s not registered", ref)
		}
		if disabled {
			s.disabled[ref] = true
		} else {
			delete(s.disabled, ref)
		}
		return nil
	})
}

// EnablePlugin enables every definition of a plugin in one step.
func (r *Registry) EnablePlugin(plugin string) int {
	return r.setPlugin(plugin, false)
}

// DisablePlugin disables every definition of a plugin in one step.
func (r *Registry) DisablePlugin(plugin string) int {
	return r.setPlugin(plugin, true)
}

func (r *Registry) setPlugin(plugin string, disabled bool) int {
	var n int
	_ = r.update(func(s *snapshot) error {
		for ref := range s.defs {
			if ref.Plugin != plugin {
				continue
			}
			if disabled {
				s.disabled[ref] = true
			} else {
				delete(s.disabled, ref)
			}
			n++
		}
		return nil
	})
	r.logger.Info().Str("plugin", plugin).Bool("enabled", !disabled).Int("definitions", n).Msg("plugin toggled")
	return n
}

// Get returns an enabled definition.
func (r *Registry) Get(plugin, name string) (*model.DataDefinition, bool) {
	return r.Lookup(types.Ref{Plugin: plugin, Name: name})
}

// Lookup returns an enabled definition by ref.
func (r *Registry) Lookup(ref types.Ref) (*model.DataDefinition, bool) {
	s := r.snap.Load()
	d, ok := s.defs[ref]
	if !ok || s.disabled[ref] {
		return nil, false
	}
	return d, true
}

// Resolve is Lookup returning a schema mismatch error for unknown refs.
func (r *Registry) Resolve(ref types.Ref) (*model.DataDefinition, error) {
	d, ok := r.Lookup(ref)
	if !ok {
		return nil, &model.SchemaError{Definition: ref, Reason: "definition not registered or disabled"}
	}
	return d, nil
}

// Enabled reports whether ref is registered and enabled.
func (r *Registry) Enabled(ref types.Ref) bool {
	_, ok := r.Lookup(ref)
	return ok
}

// List returns the enabled definitions sorted by ref.
func (r *Registry) List() []*model.DataDefinition {
	return r.list(false)
}

// All returns every registered definition, enabled or not, sorted by ref.
func (r *Registry) All() []*model.DataDefinition {
	return r.list(true)
}

func (r *Registry) list(all bool) []*model.DataDefinition {
	s := r.snap.Load()
	out := make([]*model.DataDefinition, 0, len(s.defs))
	for ref, d := range s.defs {
		if all || !s.disabled[ref] {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Ref().String() < out[j].Ref().String()
	})
	return out
}

// Version returns the snapshot version; it increases on every change.
func (r *Registry) Version() uint64 {
	return r.snap.Load().version
}

// Conflict is a table name claimed by two definitions.
type Conflict struct {
	Table  string
	Claims []types.Ref
}

func (c Conflict) Error() string {
	names := make([]string, len(c.Claims))
	for i, ref := range c.Claims {
		names[i] = ref.String()
	}
	return fmt.Sprintf("table %q claimed by %s", c.Table, strings.Join(names, ", "))
}

// ConflictError represents one or more table conflicts.
type ConflictError struct {
	Conflicts []Conflict
}

// Error returns the conflict error message.
func (e *ConflictError) Error() string {
	var msgs []string
	for _, c := range e.Conflicts {
		msgs = append(msgs, c.Error())
	}
	return fmt.Sprintf("table conflicts detected:\n  - %s", strings.Join(msgs, "\n  - "))
}
