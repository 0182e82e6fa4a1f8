package types

import (
	"fmt"
	"strconv"

	"golang.org/x/text/language"
)

// Cascade is what happens to dependent rows when their owner is deleted.
type Cascade string

const (
	CascadeNone    Cascade = "none"
	CascadeDelete  Cascade = "delete"
	CascadeNullify Cascade = "nullify"
)

// ParseCascade parses a cascade policy; empty means none.
func ParseCascade(s string) (Cascade, error) {
	switch Cascade(s) {
	case "", CascadeNone:
		return CascadeNone, nil
	case CascadeDelete, CascadeNullify:
		return Cascade(s), nil
	}
	return "", fmt.Errorf("unknown cascade %q", s)
}

// Identified is anything carrying an entity id.
type Identified interface {
	ID() string
}

// RelationType is implemented by every relation variant.
type RelationType interface {
	FieldType
	Target() Ref
	JoinField() string
	Cascade() Cascade
	Lazy() bool
}

// BelongsTo points at one row of the target definition.
type BelongsTo struct {
	To       Ref
	LazyLoad bool
	NoCopy   bool
}

func (BelongsTo) Kind() Kind        { return KindBelongsTo }
func (b BelongsTo) Copyable() bool  { return !b.NoCopy }
func (b BelongsTo) Target() Ref     { return b.To }
func (BelongsTo) JoinField() string { return "" }
func (BelongsTo) Cascade() Cascade  { return CascadeNone }
func (b BelongsTo) Lazy() bool      { return b.LazyLoad }

// ToObject accepts an id or an identified value. Entities pass through so
// the mapping service can decide between reference and recursion.
func (BelongsTo) ToObject(value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		if v == "" {
			return nil, nil
		}
		return v, nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case int:
		return strconv.Itoa(v), nil
	case Identified:
		return v, nil
	}
	return nil, conversionError(MsgInvalidReference, fmt.Sprintf("%T", value))
}

func (BelongsTo) ToString(value any, _ language.Tag) string {
	return ReferenceID(value)
}

func (b BelongsTo) FromString(text string, _ language.Tag) (any, error) {
	return b.ToObject(text)
}

// ReferenceID extracts the id of a belongs_to value.
func ReferenceID(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case Identified:
		if v == nil {
			return ""
		}
		return v.ID()
	}
	return ""
}

// HasMany is the inverse side of a belongs_to on the target: the target's
// JoinField holds the owner id.
type HasMany struct {
	To        Ref
	Join      string
	OnDelete  Cascade
	CopyChild bool
}

func (HasMany) Kind() Kind          { return KindHasMany }
func (h HasMany) Copyable() bool    { return h.CopyChild }
func (h HasMany) Target() Ref       { return h.To }
func (h HasMany) JoinField() string { return h.Join }
func (h HasMany) Cascade() Cascade  { return h.OnDelete }
func (HasMany) Lazy() bool          { return true }

func (HasMany) ToObject(value any) (any, error) { return value, nil }

func (HasMany) ToString(_ any, _ language.Tag) string { return "" }

func (HasMany) FromString(_ string, _ language.Tag) (any, error) { return nil, nil }

// Tree is a has-many whose target rows form a hierarchy through a
// self-referencing belongs_to named ParentField.
type Tree struct {
	HasMany
	ParentField string
}

// DefaultParentField is used when a tree does not name its parent field.
const DefaultParentField = "parent"

func (Tree) Kind() Kind { return KindTree }

// Parent returns the parent field name of the target.
func (t Tree) Parent() string {
	if t.ParentField == "" {
		return DefaultParentField
	}
	return t.ParentField
}

// ManyToMany persists the set of target ids on the owning row. Join names
// the field on the target pointing back, when the target declares one.
type ManyToMany struct {
	To       Ref
	Join     string
	OnDelete Cascade
	LazyLoad bool
}

func (ManyToMany) Kind() Kind          { return KindManyToMany }
func (ManyToMany) Copyable() bool      { return true }
func (m ManyToMany) Target() Ref       { return m.To }
func (m ManyToMany) JoinField() string { return m.Join }
func (m ManyToMany) Cascade() Cascade  { return m.OnDelete }
func (m ManyToMany) Lazy() bool        { return m.LazyLoad }

// ToObject normalises ids and identified values into an id list. Other
// values (a loaded collection) pass through untouched.
func (ManyToMany) ToObject(value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []string:
		return v, nil
	case []any:
		ids := make([]string, 0, len(v))
		for _, item := range v {
			id := ReferenceID(item)
			if id == "" {
				return nil, conversionError(MsgInvalidReference, fmt.Sprintf("%T", item))
			}
			ids = append(ids, id)
		}
		return ids, nil
	}
	return value, nil
}

func (ManyToMany) ToString(_ any, _ language.Tag) string { return "" }

func (ManyToMany) FromString(_ string, _ language.Tag) (any, error) { return nil, nil }

var (
	_ RelationType = BelongsTo{}
	_ RelationType = HasMany{}
	_ RelationType = Tree{}
	_ RelationType = ManyToMany{}
)
