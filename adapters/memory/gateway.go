// Package memory provides an in-memory gateway for tests and the CLI.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/artpar/entitycore/core/model"
	"github.com/artpar/entitycore/core/types"
	"github.com/artpar/entitycore/ports"
)

type table map[string]*model.Row

func (t table) clone() table {
	out := make(table, len(t))
	for id, r := range t {
		out[id] = r
	}
	return out
}

// store is the committed state shared by a gateway and its transactions.
// Writers are serialized on txMu; readers see the committed tables under mu.
type store struct {
	mu     sync.RWMutex
	txMu   sync.Mutex
	tables map[string]table

	ids   ports.IDGenerator
	clock ports.Clock
	defs  ports.Resolver
}

// Gateway is an in-memory implementation of ports.Store.
//
// Transactions are copy-on-write per table: a transaction clones a table the
// first time it writes to it and publishes its tables on commit.
type Gateway struct {
	s *store

	// dirty holds the tables written by the transaction; nil outside one.
	dirty map[string]table
}

// New creates an empty gateway. defs resolves alias targets; it may be nil
// when no criteria use aliases.
func New(ids ports.IDGenerator, clock ports.Clock, defs ports.Resolver) *Gateway {
	return &Gateway{s: &store{
		tables: make(map[string]table),
		ids:    ids,
		clock:  clock,
		defs:   defs,
	}}
}

func (g *Gateway) inTx() bool { return g.dirty != nil }

// read returns the table of def as the caller should see it.
func (g *Gateway) read(def *model.DataDefinition) table {
	if g.inTx() {
		if t, ok := g.dirty[def.TableName()]; ok {
			return t
		}
	}
	g.s.mu.RLock()
	defer g.s.mu.RUnlock()
	return g.s.tables[def.TableName()]
}

// write returns the transaction's private copy of def's table.
func (g *Gateway) write(def *model.DataDefinition) table {
	name := def.TableName()
	if t, ok := g.dirty[name]; ok {
		return t
	}
	g.s.mu.RLock()
	t := g.s.tables[name].clone()
	g.s.mu.RUnlock()
	g.dirty[name] = t
	return t
}

// EnsureSchema creates the table of def when missing.
func (g *Gateway) EnsureSchema(_ context.Context, def *model.DataDefinition) error {
	g.s.mu.Lock()
	defer g.s.mu.Unlock()
	if _, ok := g.s.tables[def.TableName()]; !ok {
		g.s.tables[def.TableName()] = make(table)
	}
	return nil
}

// FetchByID returns a copy of the stored row.
func (g *Gateway) FetchByID(_ context.Context, def *model.DataDefinition, id string) (*model.Row, error) {
	r, ok := g.read(def)[id]
	if !ok {
		return nil, fmt.Errorf("%s %q: %w", def, id, model.ErrNotFound)
	}
	return r.Clone(), nil
}

// Query returns copies of the matching rows.
func (g *Gateway) Query(ctx context.Context, def *model.DataDefinition, c *model.Criteria) ([]*model.Row, error) {
	rows, err := g.filter(ctx, def, c)
	if err != nil {
		return nil, err
	}
	if c != nil {
		if err := g.order(def, c, rows); err != nil {
			return nil, err
		}
		rows = page(rows, c.FirstResult, c.MaxResults)
	}
	out := make([]*model.Row, len(rows))
	for i, r := range rows {
		out[i] = r.Clone()
	}
	return out, nil
}

// Count returns the number of matching rows, ignoring paging.
func (g *Gateway) Count(ctx context.Context, def *model.DataDefinition, c *model.Criteria) (int, error) {
	rows, err := g.filter(ctx, def, c)
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// Persist inserts or updates a row.
func (g *Gateway) Persist(ctx context.Context, def *model.DataDefinition, row *model.Row) (*model.Row, error) {
	if !g.inTx() {
		var out *model.Row
		err := g.InTx(ctx, func(tx ports.Gateway) error {
			var err error
			out, err = tx.Persist(ctx, def, row)
			return err
		})
		return out, err
	}

	t := g.write(def)
	stored := row.Clone()
	now := g.s.clock.Now().UTC()
	if stored.ID == "" {
		stored.ID = g.s.ids.New()
		stored.CreatedAt = now
	} else if prev, ok := t[stored.ID]; ok {
		stored.CreatedAt = prev.CreatedAt
	} else {
		// Caller-assigned id on a new row.
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	if n := len(def.Columns()); len(stored.Slots) < n {
		stored.Slots = append(stored.Slots, make([]any, n-len(stored.Slots))...)
	}
	t[stored.ID] = stored
	return stored.Clone(), nil
}

// Remove deletes a row.
func (g *Gateway) Remove(ctx context.Context, def *model.DataDefinition, row *model.Row) error {
	if !g.inTx() {
		return g.InTx(ctx, func(tx ports.Gateway) error {
			return tx.Remove(ctx, def, row)
		})
	}
	t := g.write(def)
	if _, ok := t[row.ID]; !ok {
		return fmt.Errorf("%s %q: %w", def, row.ID, model.ErrNotFound)
	}
	delete(t, row.ID)
	return nil
}

// InTx runs fn against a private copy of the written tables and publishes
// them when fn succeeds. Transactions run one at a time.
func (g *Gateway) InTx(ctx context.Context, fn func(tx ports.Gateway) error) error {
	if g.inTx() {
		return fn(g)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	g.s.txMu.Lock()
	defer g.s.txMu.Unlock()

	tx := &Gateway{s: g.s, dirty: make(map[string]table)}
	if err := fn(tx); err != nil {
		return err
	}

	g.s.mu.Lock()
	for name, t := range tx.dirty {
		g.s.tables[name] = t
	}
	g.s.mu.Unlock()
	return nil
}

// Close is a no-op.
func (g *Gateway) Close() error { return nil }

func (g *Gateway) filter(_ context.Context, def *model.DataDefinition, c *model.Criteria) ([]*model.Row, error) {
	t := g.read(def)
	out := make([]*model.Row, 0, len(t))
	if c == nil {
		for _, r := range t {
			out = append(out, r)
		}
		sortByID(out)
		return out, nil
	}
	read := g.reader(def, c)
	for _, r := range t {
		ok, err := matches(r, c, read)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, r)
		}
	}
	sortByID(out)
	return out, nil
}

func (g *Gateway) order(def *model.DataDefinition, c *model.Criteria, rows []*model.Row) error {
	if len(c.Orders) == 0 {
		return nil
	}
	read := g.reader(def, c)
	keys := make(map[*model.Row][]any, len(rows))
	for _, r := range rows {
		k := make([]any, len(c.Orders))
		for i, o := range c.Orders {
			v, err := read(r, o.Field)
			if err != nil {
				return err
			}
			k[i] = normalize(v)
		}
		keys[r] = k
	}
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := keys[rows[i]], keys[rows[j]]
		for n, o := range c.Orders {
			cmp := compare(a[n], b[n])
			if cmp == 0 {
				continue
			}
			if o.Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
	return nil
}

// reader resolves field paths: "id", a field of def, or "alias.field"
// through a declared alias.
func (g *Gateway) reader(def *model.DataDefinition, c *model.Criteria) fieldReader {
	return func(row *model.Row, field string) (any, error) {
		if field == model.IDField {
			return row.ID, nil
		}
		if alias, rest, ok := strings.Cut(field, "."); ok {
			return g.readAlias(def, c, row, alias, rest)
		}
		acc, ok := def.Accessor(field)
		if !ok {
			return nil, &model.FieldNotFoundError{Definition: def.Ref(), Field: field}
		}
		return acc.Get(row), nil
	}
}

func (g *Gateway) readAlias(def *model.DataDefinition, c *model.Criteria, row *model.Row, alias, field string) (any, error) {
	var via string
	for _, a := range c.Aliases {
		if a.Name == alias {
			via = a.Field
		}
	}
	if via == "" {
		return nil, &model.SchemaError{Definition: def.Ref(), Reason: fmt.Sprintf("undeclared alias %q", alias)}
	}
	f, err := def.Field(via)
	if err != nil {
		return nil, err
	}
	rel, ok := f.Relation()
	if !ok || f.Kind() != types.KindBelongsTo {
		return nil, &model.SchemaError{Definition: def.Ref(), Reason: fmt.Sprintf("alias %q: %s is not a belongs_to field", alias, via)}
	}
	if g.s.defs == nil {
		return nil, &model.SchemaError{Definition: def.Ref(), Reason: "aliases need a definition resolver"}
	}
	target, ok := g.s.defs.Lookup(rel.Target())
	if !ok {
		return nil, &model.SchemaError{Definition: rel.Target(), Reason: "alias target not registered"}
	}

	acc, _ := def.Accessor(via)
	id, _ := acc.Get(row).(string)
	if id == "" {
		return nil, nil
	}
	ref, ok := g.read(target)[id]
	if !ok {
		return nil, nil
	}
	return g.reader(target, model.NewCriteria())(ref, field)
}

func sortByID(rows []*model.Row) {
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
}

func page(rows []*model.Row, first, limit int) []*model.Row {
	if first > 0 {
		if first >= len(rows) {
			return nil
		}
		rows = rows[first:]
	}
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}

var _ ports.Store = (*Gateway)(nil)
