package model

import "slices"

// IDField addresses the row id in restrictions and orders.
const IDField = "id"

// Op is a restriction operator.
type Op string

const (
	OpEq        Op = "eq"
	OpNe        Op = "ne"
	OpLike      Op = "like"
	OpBelongsTo Op = "belongs_to"
	OpBetween   Op = "between"
	OpGt        Op = "gt"
	OpGe        Op = "ge"
	OpLt        Op = "lt"
	OpLe        Op = "le"
	OpIsNull    Op = "is_null"
	OpIsNotNull Op = "is_not_null"
	OpIn        Op = "in"
)

// Restriction is one condition. Field is a field name, IDField, or
// "alias.field" for a field reached through a declared alias. Upper is only
// used by OpBetween. Like patterns use % and _ wildcards.
type Restriction struct {
	Field string
	Op    Op
	Value any
	Upper any
}

// Order sorts by one field.
type Order struct {
	Field string
	Desc  bool
}

// Alias joins the target of a belongs_to field under Name.
type Alias struct {
	Field string
	Name  string
}

// PredefinedFilter is a named restriction and order template declared on a
// definition.
type PredefinedFilter struct {
	Name         string
	Restrictions []Restriction
	Orders       []Order
}

// Criteria is a conjunction of restrictions plus ordering and pagination.
// The builder methods mutate and return the receiver.
type Criteria struct {
	Restrictions []Restriction
	Orders       []Order
	Aliases      []Alias
	FirstResult  int
	MaxResults   int // zero means unlimited
}

// NewCriteria returns empty criteria.
func NewCriteria() *Criteria {
	return &Criteria{}
}

func (c *Criteria) add(r Restriction) *Criteria {
	c.Restrictions = append(c.Restrictions, r)
	return c
}

func (c *Criteria) Eq(field string, v any) *Criteria { return c.add(Restriction{Field: field, Op: OpEq, Value: v}) }
func (c *Criteria) Ne(field string, v any) *Criteria { return c.add(Restriction{Field: field, Op: OpNe, Value: v}) }
func (c *Criteria) Gt(field string, v any) *Criteria { return c.add(Restriction{Field: field, Op: OpGt, Value: v}) }
func (c *Criteria) Ge(field string, v any) *Criteria { return c.add(Restriction{Field: field, Op: OpGe, Value: v}) }
func (c *Criteria) Lt(field string, v any) *Criteria { return c.add(Restriction{Field: field, Op: OpLt, Value: v}) }
func (c *Criteria) Le(field string, v any) *Criteria { return c.add(Restriction{Field: field, Op: OpLe, Value: v}) }

// Like matches a pattern with % and _ wildcards.
func (c *Criteria) Like(field, pattern string) *Criteria {
	return c.add(Restriction{Field: field, Op: OpLike, Value: pattern})
}

// BelongsTo matches rows whose belongs_to field references id. An empty id
// matches rows with no reference.
func (c *Criteria) BelongsTo(field, id string) *Criteria {
	if id == "" {
		return c.IsNull(field)
	}
	return c.add(Restriction{Field: field, Op: OpBelongsTo, Value: id})
}

// Between matches lo <= field <= hi.
func (c *Criteria) Between(field string, lo, hi any) *Criteria {
	return c.add(Restriction{Field: field, Op: OpBetween, Value: lo, Upper: hi})
}

func (c *Criteria) IsNull(field string) *Criteria    { return c.add(Restriction{Field: field, Op: OpIsNull}) }
func (c *Criteria) IsNotNull(field string) *Criteria { return c.add(Restriction{Field: field, Op: OpIsNotNull}) }

// In matches any of values. An empty list matches nothing.
func (c *Criteria) In(field string, values ...any) *Criteria {
	return c.add(Restriction{Field: field, Op: OpIn, Value: values})
}

func (c *Criteria) Asc(field string) *Criteria {
	c.Orders = append(c.Orders, Order{Field: field})
	return c
}

func (c *Criteria) Desc(field string) *Criteria {
	c.Orders = append(c.Orders, Order{Field: field, Desc: true})
	return c
}

// Alias declares a join through a belongs_to field.
func (c *Criteria) Alias(field, name string) *Criteria {
	c.Aliases = append(c.Aliases, Alias{Field: field, Name: name})
	return c
}

// Page sets pagination.
func (c *Criteria) Page(first, limit int) *Criteria {
	c.FirstResult = first
	c.MaxResults = limit
	return c
}

// Apply adds a predefined filter's restrictions and orders.
func (c *Criteria) Apply(f PredefinedFilter) *Criteria {
	c.Restrictions = append(c.Restrictions, f.Restrictions...)
	c.Orders = append(c.Orders, f.Orders...)
	return c
}

// Clone returns a deep copy.
func (c *Criteria) Clone() *Criteria {
	if c == nil {
		return NewCriteria()
	}
	return &Criteria{
		Restrictions: slices.Clone(c.Restrictions),
		Orders:       slices.Clone(c.Orders),
		Aliases:      slices.Clone(c.Aliases),
		FirstResult:  c.FirstResult,
		MaxResults:   c.MaxResults,
	}
}

// Unpaged returns a copy without pagination or ordering, for counting.
func (c *Criteria) Unpaged() *Criteria {
	out := c.Clone()
	out.Orders = nil
	out.FirstResult = 0
	out.MaxResults = 0
	return out
}

// SearchResult is one page of entities plus the total match count.
type SearchResult struct {
	Entities []*Entity
	Total    int
}
