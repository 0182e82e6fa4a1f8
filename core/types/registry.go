package types

import (
	"fmt"
	"sort"
	"sync"
)

// Params are the declaration attributes a factory builds a type from.
type Params struct {
	// Owner is the definition declaring the field, used to resolve
	// unqualified targets and label keys.
	Owner Ref
	Field string

	To          string
	JoinField   string
	ParentField string
	Cascade     string
	Lazy        bool
	Copyable    *bool
	MaxLength   int
	Scale       int
	Scope       string
	Values      []string
	Inactive    []string
}

// Factory builds a field type from declaration parameters.
type Factory func(p Params) (FieldType, error)

// Registry maps kind names to factories. Plugins may register additional
// kinds before schemas are compiled.
type Registry struct {
	mu        sync.RWMutex
	factories map[Kind]Factory
}

// NewRegistry returns a registry preloaded with the built-in kinds.
func NewRegistry(hasher Hasher, translator Translator) *Registry {
	r := &Registry{factories: make(map[Kind]Factory)}

	r.Register(KindBoolean, func(Params) (FieldType, error) { return Boolean{}, nil })
	r.Register(KindInteger, func(Params) (FieldType, error) { return Integer{}, nil })
	r.Register(KindDecimal, func(p Params) (FieldType, error) { return Decimal{Scale: p.Scale}, nil })
	r.Register(KindString, func(p Params) (FieldType, error) {
		if p.MaxLength > StringMaxLength {
			return nil, fmt.Errorf("string max_length %d exceeds %d, use text", p.MaxLength, StringMaxLength)
		}
		return String{MaxLength: p.MaxLength}, nil
	})
	r.Register(KindText, func(p Params) (FieldType, error) {
		if p.MaxLength == 0 {
			return Text(), nil
		}
		return String{MaxLength: p.MaxLength}, nil
	})
	r.Register(KindDate, func(Params) (FieldType, error) { return Date{}, nil })
	r.Register(KindDateTime, func(Params) (FieldType, error) { return DateTime{}, nil })
	r.Register(KindPassword, func(Params) (FieldType, error) { return NewPassword(hasher), nil })
	r.Register(KindPriority, func(p Params) (FieldType, error) { return Priority{Scope: p.Scope}, nil })
	r.Register(KindEnum, func(p Params) (FieldType, error) {
		return NewEnum(p.Values, p.Inactive, p.Owner.String()+"."+p.Field+".value", translator)
	})
	r.Register(KindBelongsTo, func(p Params) (FieldType, error) {
		to, err := ParseRef(p.To, p.Owner.Plugin)
		if err != nil {
			return nil, err
		}
		return BelongsTo{To: to, LazyLoad: p.Lazy, NoCopy: p.Copyable != nil && !*p.Copyable}, nil
	})
	r.Register(KindHasMany, func(p Params) (FieldType, error) {
		return buildHasMany(p)
	})
	r.Register(KindTree, func(p Params) (FieldType, error) {
		hm, err := buildHasMany(p)
		if err != nil {
			return nil, err
		}
		return Tree{HasMany: hm, ParentField: p.ParentField}, nil
	})
	r.Register(KindManyToMany, func(p Params) (FieldType, error) {
		to, err := ParseRef(p.To, p.Owner.Plugin)
		if err != nil {
			return nil, err
		}
		cascade, err := ParseCascade(p.Cascade)
		if err != nil {
			return nil, err
		}
		return ManyToMany{To: to, Join: p.JoinField, OnDelete: cascade, LazyLoad: p.Lazy}, nil
	})

	return r
}

func buildHasMany(p Params) (HasMany, error) {
	to, err := ParseRef(p.To, p.Owner.Plugin)
	if err != nil {
		return HasMany{}, err
	}
	if p.JoinField == "" {
		return HasMany{}, fmt.Errorf("join_field is required")
	}
	cascade, err := ParseCascade(p.Cascade)
	if err != nil {
		return HasMany{}, err
	}
	return HasMany{
		To:        to,
		Join:      p.JoinField,
		OnDelete:  cascade,
		CopyChild: p.Copyable != nil && *p.Copyable,
	}, nil
}

// Register adds or replaces the factory for a kind.
func (r *Registry) Register(kind Kind, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = f
}

// Build resolves a kind name into a field type.
func (r *Registry) Build(kind Kind, p Params) (FieldType, error) {
	r.mu.RLock()
	f, ok := r.factories[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("field type %q not found", kind)
	}
	t, err := f(p)
	if err != nil {
		return nil, fmt.Errorf("field %q (%s): %w", p.Field, kind, err)
	}
	return t, nil
}

// Kinds lists registered kind names, sorted.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Kind, 0, len(r.factories))
	for k := range r.factories {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
