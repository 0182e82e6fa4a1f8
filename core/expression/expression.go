// Package expression renders entity identifiers from expr-lang programs.
//
// An identifier expression sees every non-collection field of the entity,
// rendered as text for the requested locale, plus "id". An empty expression
// joins the non-empty rendered fields with ", ".
package expression

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"golang.org/x/text/language"

	"github.com/artpar/entitycore/core/model"
	"github.com/artpar/entitycore/core/types"
)

// DefaultSeparator joins fields when a definition declares no expression.
const DefaultSeparator = ", "

var functions = []expr.Option{
	expr.Function("lower", func(params ...any) (any, error) {
		if len(params) != 1 {
			return nil, fmt.Errorf("lower requires 1 argument")
		}
		return strings.ToLower(toString(params[0])), nil
	}),
	expr.Function("upper", func(params ...any) (any, error) {
		if len(params) != 1 {
			return nil, fmt.Errorf("upper requires 1 argument")
		}
		return strings.ToUpper(toString(params[0])), nil
	}),
	expr.Function("trim", func(params ...any) (any, error) {
		if len(params) != 1 {
			return nil, fmt.Errorf("trim requires 1 argument")
		}
		return strings.TrimSpace(toString(params[0])), nil
	}),
	// coalesce returns the first non-empty argument.
	expr.Function("coalesce", func(params ...any) (any, error) {
		for _, p := range params {
			if s := toString(p); s != "" {
				return s, nil
			}
		}
		return "", nil
	}),
}

// Identifier is a compiled identifier expression for one definition.
type Identifier struct {
	def    *model.DataDefinition
	fields []*model.FieldDefinition
	prog   *vm.Program
}

// Compile checks the identifier expression of def against its fields. Field
// names the definition does not declare are compile errors.
func Compile(def *model.DataDefinition) (*Identifier, error) {
	id := &Identifier{def: def}
	env := map[string]any{model.IDField: ""}
	for _, f := range def.Fields() {
		if f.Kind().IsCollection() {
			continue
		}
		id.fields = append(id.fields, f)
		env[f.Name()] = ""
	}

	source := def.IdentifierExpression()
	if source == "" {
		return id, nil
	}
	opts := append([]expr.Option{expr.Env(env), expr.AsKind(reflect.String)}, functions...)
	prog, err := expr.Compile(source, opts...)
	if err != nil {
		return nil, &model.SchemaError{Definition: def.Ref(), Reason: fmt.Sprintf("identifier expression: %v", err)}
	}
	id.prog = prog
	return id, nil
}

// Render evaluates the identifier of e.
func (id *Identifier) Render(ctx context.Context, e *model.Entity, locale language.Tag) (string, error) {
	values, err := e.Values(ctx)
	if err != nil {
		return "", err
	}

	if id.prog == nil {
		var parts []string
		for _, f := range id.fields {
			if f.Kind() == types.KindPassword {
				continue
			}
			v, ok := values[f.Name()]
			if !ok || v == nil {
				continue
			}
			if s := f.Type().ToString(v, locale); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, DefaultSeparator), nil
	}

	env := make(map[string]any, len(id.fields)+1)
	env[model.IDField] = e.ID()
	for _, f := range id.fields {
		env[f.Name()] = ""
		if v, ok := values[f.Name()]; ok && v != nil {
			env[f.Name()] = f.Type().ToString(v, locale)
		}
	}
	out, err := expr.Run(id.prog, env)
	if err != nil {
		return "", fmt.Errorf("identifier of %s: %w", e, err)
	}
	return toString(out), nil
}

// Cache holds compiled identifiers per definition.
type Cache struct {
	mu  sync.RWMutex
	ids map[*model.DataDefinition]*Identifier
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{ids: make(map[*model.DataDefinition]*Identifier)}
}

// For returns the compiled identifier of def, compiling it on first use.
func (c *Cache) For(def *model.DataDefinition) (*Identifier, error) {
	c.mu.RLock()
	id, ok := c.ids[def]
	c.mu.RUnlock()
	if ok {
		return id, nil
	}

	id, err := Compile(def)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.ids[def] = id
	c.mu.Unlock()
	return id, nil
}

func toString(v any) string {
	if v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
