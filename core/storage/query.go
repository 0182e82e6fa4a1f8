package storage

import (
	"fmt"
	"strings"

	"github.com/artpar/entitycore/core/model"
	"github.com/artpar/entitycore/core/types"
)

// tableAlias names the queried table in generated SQL.
const tableAlias = "t"

// query accumulates the FROM, WHERE and ORDER BY clauses of one criteria
// and their arguments.
type query struct {
	g    *Gateway
	def  *model.DataDefinition
	c    *model.Criteria
	args []any

	joins   []string
	aliases map[string]*model.DataDefinition
}

func (g *Gateway) newQuery(def *model.DataDefinition, c *model.Criteria) (*query, error) {
	q := &query{g: g, def: def, c: c, aliases: make(map[string]*model.DataDefinition)}
	if c == nil {
		return q, nil
	}
	for _, a := range c.Aliases {
		if err := q.join(a); err != nil {
			return nil, err
		}
	}
	return q, nil
}

func (q *query) join(a model.Alias) error {
	f, err := q.def.Field(a.Field)
	if err != nil {
		return err
	}
	rel, ok := f.Relation()
	if !ok || f.Kind() != types.KindBelongsTo {
		return &model.SchemaError{Definition: q.def.Ref(), Reason: fmt.Sprintf("alias %q: %s is not a belongs_to field", a.Name, a.Field)}
	}
	if q.g.defs == nil {
		return &model.SchemaError{Definition: q.def.Ref(), Reason: "aliases need a definition resolver"}
	}
	target, ok := q.g.defs.Lookup(rel.Target())
	if !ok {
		return &model.SchemaError{Definition: rel.Target(), Reason: "alias target not registered"}
	}
	if a.Name == tableAlias || q.aliases[a.Name] != nil {
		return &model.SchemaError{Definition: q.def.Ref(), Reason: fmt.Sprintf("alias %q declared twice", a.Name)}
	}
	q.aliases[a.Name] = target
	q.joins = append(q.joins, fmt.Sprintf(" LEFT JOIN %s AS %s ON %s.%s = %s.%s",
		quote(target.TableName()), quote(a.Name),
		quote(a.Name), quote(colID),
		tableAlias, quote(a.Field)))
	return nil
}

func (q *query) arg(v any) string {
	q.args = append(q.args, v)
	return q.g.dialect.placeholder(len(q.args))
}

// column resolves a restriction or order path to a qualified column and
// its kind.
func (q *query) column(path string) (string, types.Kind, error) {
	table, def, field := tableAlias, q.def, path
	if alias, rest, ok := strings.Cut(path, "."); ok {
		target, declared := q.aliases[alias]
		if !declared {
			return "", "", &model.SchemaError{Definition: q.def.Ref(), Reason: fmt.Sprintf("undeclared alias %q", alias)}
		}
		table, def, field = quote(alias), target, rest
	}
	if field == model.IDField {
		return table + "." + quote(colID), types.KindString, nil
	}
	for _, col := range def.Columns() {
		if col.Name == field {
			return table + "." + quote(col.Name), col.Kind, nil
		}
	}
	if _, err := def.Field(field); err != nil {
		return "", "", err
	}
	return "", "", &model.SchemaError{Definition: def.Ref(), Reason: fmt.Sprintf("field %q is not stored", field)}
}

func (q *query) from() string {
	return quote(q.def.TableName()) + " AS " + tableAlias + strings.Join(q.joins, "")
}

func (q *query) where() (string, error) {
	if q.c == nil || len(q.c.Restrictions) == 0 {
		return "", nil
	}
	conds := make([]string, 0, len(q.c.Restrictions))
	for _, r := range q.c.Restrictions {
		cond, err := q.restriction(r)
		if err != nil {
			return "", err
		}
		conds = append(conds, cond)
	}
	return " WHERE " + strings.Join(conds, " AND "), nil
}

func (q *query) value(k types.Kind, v any) (string, error) {
	enc, err := q.g.dialect.encode(k, v)
	if err != nil {
		return "", err
	}
	return q.arg(enc), nil
}

func (q *query) restriction(r model.Restriction) (string, error) {
	col, kind, err := q.column(r.Field)
	if err != nil {
		return "", err
	}
	switch r.Op {
	case model.OpIsNull:
		return col + " IS NULL", nil
	case model.OpIsNotNull:
		return col + " IS NOT NULL", nil
	case model.OpEq, model.OpBelongsTo:
		if r.Value == nil {
			return col + " IS NULL", nil
		}
		p, err := q.value(kind, r.Value)
		return col + " = " + p, err
	case model.OpNe:
		if r.Value == nil {
			return col + " IS NOT NULL", nil
		}
		p, err := q.value(kind, r.Value)
		return "(" + col + " <> " + p + " OR " + col + " IS NULL)", err
	case model.OpLike:
		return col + " " + q.g.dialect.like + " " + q.arg(fmt.Sprint(r.Value)), nil
	case model.OpGt, model.OpGe, model.OpLt, model.OpLe:
		p, err := q.value(kind, r.Value)
		return col + " " + comparison[r.Op] + " " + p, err
	case model.OpBetween:
		lo, err := q.value(kind, r.Value)
		if err != nil {
			return "", err
		}
		hi, err := q.value(kind, r.Upper)
		return col + " BETWEEN " + lo + " AND " + hi, err
	case model.OpIn:
		values, ok := r.Value.([]any)
		if !ok {
			return "", fmt.Errorf("in %q: values must be a list, got %T", r.Field, r.Value)
		}
		if len(values) == 0 {
			return "1 = 0", nil
		}
		ps := make([]string, len(values))
		for i, v := range values {
			if ps[i], err = q.value(kind, v); err != nil {
				return "", err
			}
		}
		return col + " IN (" + strings.Join(ps, ", ") + ")", nil
	}
	return "", fmt.Errorf("unsupported operator %q", r.Op)
}

var comparison = map[model.Op]string{
	model.OpGt: ">",
	model.OpGe: ">=",
	model.OpLt: "<",
	model.OpLe: "<=",
}

// orderBy sorts nulls first, matching the memory gateway, and breaks ties
// by id.
func (q *query) orderBy() (string, error) {
	var parts []string
	byID := false
	if q.c != nil {
		for _, o := range q.c.Orders {
			col, _, err := q.column(o.Field)
			if err != nil {
				return "", err
			}
			if o.Desc {
				parts = append(parts, col+" DESC NULLS LAST")
			} else {
				parts = append(parts, col+" ASC NULLS FIRST")
			}
			byID = byID || o.Field == model.IDField
		}
	}
	if !byID {
		parts = append(parts, tableAlias+"."+quote(colID)+" ASC")
	}
	return " ORDER BY " + strings.Join(parts, ", "), nil
}

func (q *query) limit() string {
	if q.c == nil || (q.c.MaxResults <= 0 && q.c.FirstResult <= 0) {
		return ""
	}
	limit := q.g.dialect.noLimit
	if q.c.MaxResults > 0 {
		limit = fmt.Sprint(q.c.MaxResults)
	}
	return fmt.Sprintf(" LIMIT %s OFFSET %d", limit, max(q.c.FirstResult, 0))
}
