package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/artpar/entitycore/core/model"
)

// ParseFile parses a model definition from a YAML file.
func ParseFile(path string) (Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Model{}, fmt.Errorf("read file %s: %w", path, err)
	}

	m, err := Parse(data)
	if err != nil {
		return Model{}, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Parse parses a model definition from YAML bytes.
func Parse(data []byte) (Model, error) {
	var m Model
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Model{}, fmt.Errorf("parse yaml: %w", err)
	}

	if err := Validate(m); err != nil {
		return Model{}, fmt.Errorf("validate model %s.%s: %w", m.Plugin, m.Name, err)
	}

	return m, nil
}

// ParseDir parses all model definitions from a directory, including
// subdirectories. Files are visited in lexical order.
func ParseDir(dir string) ([]Model, error) {
	var models []Model

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}

	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())

		if entry.IsDir() {
			sub, err := ParseDir(path)
			if err != nil {
				return nil, err
			}
			models = append(models, sub...)
			continue
		}

		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		m, err := ParseFile(path)
		if err != nil {
			return nil, err
		}

		models = append(models, m)
	}

	return models, nil
}

// Validate checks a model for structural problems that do not need the
// type registry or the catalog.
func Validate(m Model) error {
	var errs []string

	if !isValidIdentifier(m.Plugin) {
		errs = append(errs, fmt.Sprintf("plugin name %q is not a valid identifier", m.Plugin))
	}
	if !isValidIdentifier(m.Name) {
		errs = append(errs, fmt.Sprintf("model name %q is not a valid identifier", m.Name))
	}

	if len(m.Fields) == 0 {
		errs = append(errs, "model must have at least one field")
	}

	seen := make(map[string]bool, len(m.Fields))
	for _, f := range m.Fields {
		if !isValidIdentifier(f.Name) {
			errs = append(errs, fmt.Sprintf("field name %q is not a valid identifier", f.Name))
			continue
		}
		if seen[f.Name] {
			errs = append(errs, fmt.Sprintf("duplicate field %q", f.Name))
		}
		seen[f.Name] = true

		if f.Type == "" {
			errs = append(errs, fmt.Sprintf("field %q: type is required", f.Name))
		}
	}

	for _, h := range m.Hooks {
		if h.Name == "" {
			errs = append(errs, fmt.Sprintf("hook %s/%s: name is required", h.Type, h.Phase))
		}
		if !isHookType(h.Type) {
			errs = append(errs, fmt.Sprintf("hook %q: unknown type %q", h.Name, h.Type))
		}
		if h.Phase != string(model.PhaseBefore) && h.Phase != string(model.PhaseAfter) {
			errs = append(errs, fmt.Sprintf("hook %q: unknown phase %q", h.Name, h.Phase))
		}
	}

	filters := make(map[string]bool, len(m.Filters))
	for _, f := range m.Filters {
		if f.Name == "" {
			errs = append(errs, "filter name is required")
		} else if filters[f.Name] {
			errs = append(errs, fmt.Sprintf("duplicate filter %q", f.Name))
		}
		filters[f.Name] = true
		for _, r := range f.Restrictions {
			if !isOp(r.Op) {
				errs = append(errs, fmt.Sprintf("filter %q: unknown operator %q", f.Name, r.Op))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

func isHookType(t string) bool {
	switch model.HookType(t) {
	case model.HookView, model.HookCreate, model.HookUpdate, model.HookSave, model.HookDelete, model.HookCopy:
		return true
	}
	return false
}

func isOp(op string) bool {
	switch model.Op(op) {
	case model.OpEq, model.OpNe, model.OpLike, model.OpBelongsTo, model.OpBetween,
		model.OpGt, model.OpGe, model.OpLt, model.OpLe,
		model.OpIsNull, model.OpIsNotNull, model.OpIn:
		return true
	}
	return false
}

// isValidIdentifier checks if a string is a valid identifier.
func isValidIdentifier(s string) bool {
	if s == "" {
		return false
	}

	for i, c := range s {
		if i == 0 {
			if !isLetter(c) && c != '_' {
				return false
			}
		} else {
			if !isLetter(c) && !isDigit(c) && c != '_' {
				return false
			}
		}
	}

	return true
}

func isLetter(c rune) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigit(c rune) bool {
	return c >= '0' && c <= '9'
}
