package storage

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/artpar/entitycore/adapters/clock"
	"github.com/artpar/entitycore/core/model"
	"github.com/artpar/entitycore/core/types"
	"github.com/artpar/entitycore/ports"
)

type defs map[types.Ref]*model.DataDefinition

func (d defs) Lookup(ref types.Ref) (*model.DataDefinition, bool) {
	def, ok := d[ref]
	return def, ok
}

var status, _ = types.NewEnum([]string{"new", "done"}, nil, "status", nil)

var (
	category = model.MustCompile(model.DefinitionSpec{
		Plugin: "shop",
		Name:   "category",
		Flags:  model.DefaultFlags(),
		Fields: []model.FieldSpec{{Name: "label", Type: types.String{}}},
	})
	item = model.MustCompile(model.DefinitionSpec{
		Plugin: "shop",
		Name:   "item",
		Flags:  model.DefaultFlags(),
		Fields: []model.FieldSpec{
			{Name: "name", Type: types.String{}, Unique: true},
			{Name: "price", Type: types.Decimal{}},
			{Name: "qty", Type: types.Integer{}},
			{Name: "active", Type: types.Boolean{}},
			{Name: "due", Type: types.Date{}},
			{Name: "seen", Type: types.DateTime{}},
			{Name: "status", Type: status},
			{Name: "category", Type: types.BelongsTo{To: category.Ref()}},
			{Name: "tags", Type: types.ManyToMany{To: category.Ref()}},
			{Name: "position", Type: types.Priority{Scope: "category"}},
		},
	})
	catalog = defs{category.Ref(): category, item.Ref(): item}
)

func testOptions() []Option {
	return []Option{
		WithResolver(catalog),
		WithClock(clock.NewTicking(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Second)),
	}
}

func ensure(t *testing.T, g *Gateway) {
	t.Helper()
	ctx := context.Background()
	for _, d := range []*model.DataDefinition{category, item} {
		if err := g.EnsureSchema(ctx, d); err != nil {
			t.Fatalf("EnsureSchema(%s) failed: %v", d, err)
		}
	}
	// A second run leaves the schema alone.
	if err := g.EnsureSchema(ctx, item); err != nil {
		t.Fatalf("EnsureSchema twice failed: %v", err)
	}
}

func newRow(def *model.DataDefinition, values map[string]any) *model.Row {
	row := def.NewRow()
	for name, v := range values {
		acc, ok := def.Accessor(name)
		if !ok {
			panic("no field " + name)
		}
		acc.Set(row, v)
	}
	return row
}

func slot(def *model.DataDefinition, row *model.Row, name string) any {
	acc, _ := def.Accessor(name)
	return acc.Get(row)
}

func persist(t *testing.T, g ports.Gateway, def *model.DataDefinition, values map[string]any) *model.Row {
	t.Helper()
	row, err := g.Persist(context.Background(), def, newRow(def, values))
	if err != nil {
		t.Fatalf("Persist failed: %v", err)
	}
	return row
}

func ids(rows []*model.Row) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.ID
	}
	return out
}

// runGatewaySuite checks the behaviour every SQL dialect shares.
func runGatewaySuite(t *testing.T, g *Gateway) {
	ensure(t, g)
	ctx := context.Background()

	due := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	seen := time.Date(2024, 3, 1, 12, 30, 5, 0, time.UTC)

	tools := persist(t, g, category, map[string]any{"label": "tools"})
	garden := persist(t, g, category, map[string]any{"label": "garden"})

	hammer := persist(t, g, item, map[string]any{
		"name": "hammer", "price": 9.5, "qty": int64(3), "active": true,
		"due": due, "seen": seen, "status": "new",
		"category": tools.ID, "tags": []string{tools.ID, garden.ID}, "position": int64(1),
	})
	saw := persist(t, g, item, map[string]any{
		"name": "saw", "price": 20.0, "qty": int64(1), "active": false,
		"category": tools.ID, "position": int64(2),
	})
	rake := persist(t, g, item, map[string]any{
		"name": "rake", "qty": int64(7), "category": garden.ID, "position": int64(1),
	})
	loose := persist(t, g, item, map[string]any{"name": "loose", "qty": int64(5)})

	t.Run("insert", func(t *testing.T) {
		if hammer.ID == "" {
			t.Fatal("Persist returned empty ID")
		}
		if hammer.CreatedAt.IsZero() || !hammer.CreatedAt.Equal(hammer.UpdatedAt) {
			t.Errorf("timestamps = %v / %v", hammer.CreatedAt, hammer.UpdatedAt)
		}

		got, err := g.FetchByID(ctx, item, hammer.ID)
		if err != nil {
			t.Fatalf("FetchByID failed: %v", err)
		}
		want := map[string]any{
			"name": "hammer", "price": 9.5, "qty": int64(3), "active": true,
			"status": "new", "category": tools.ID,
			"tags": []string{tools.ID, garden.ID}, "position": int64(1),
		}
		for name, v := range want {
			if got := slot(item, got, name); !reflect.DeepEqual(got, v) {
				t.Errorf("%s = %#v, want %#v", name, got, v)
			}
		}
		if d, _ := slot(item, got, "due").(time.Time); !d.Equal(due) {
			t.Errorf("due = %v, want %v", d, due)
		}
		if s, _ := slot(item, got, "seen").(time.Time); !s.Equal(seen) {
			t.Errorf("seen = %v, want %v", s, seen)
		}
	})

	t.Run("nulls", func(t *testing.T) {
		got, err := g.FetchByID(ctx, item, loose.ID)
		if err != nil {
			t.Fatalf("FetchByID failed: %v", err)
		}
		for _, name := range []string{"price", "active", "due", "category", "tags"} {
			if v := slot(item, got, name); v != nil {
				t.Errorf("%s = %#v, want nil", name, v)
			}
		}
	})

	t.Run("update", func(t *testing.T) {
		row := saw.Clone()
		acc, _ := item.Accessor("qty")
		acc.Set(row, int64(4))
		updated, err := g.Persist(ctx, item, row)
		if err != nil {
			t.Fatalf("Persist failed: %v", err)
		}
		if updated.ID != saw.ID {
			t.Errorf("ID = %q, want %q", updated.ID, saw.ID)
		}
		if !updated.CreatedAt.Equal(saw.CreatedAt) {
			t.Errorf("CreatedAt changed: %v -> %v", saw.CreatedAt, updated.CreatedAt)
		}
		if !updated.UpdatedAt.After(saw.UpdatedAt) {
			t.Errorf("UpdatedAt not advanced: %v -> %v", saw.UpdatedAt, updated.UpdatedAt)
		}
		if v := slot(item, updated, "qty"); v != int64(4) {
			t.Errorf("qty = %v, want 4", v)
		}
	})

	t.Run("caller assigned id", func(t *testing.T) {
		row := newRow(category, map[string]any{"label": "fixed"})
		row.ID = "fixed-id"
		got, err := g.Persist(ctx, category, row)
		if err != nil {
			t.Fatalf("Persist failed: %v", err)
		}
		if got.ID != "fixed-id" {
			t.Errorf("ID = %q, want fixed-id", got.ID)
		}
	})

	t.Run("not found", func(t *testing.T) {
		if _, err := g.FetchByID(ctx, item, "missing"); !errors.Is(err, model.ErrNotFound) {
			t.Errorf("FetchByID error = %v, want ErrNotFound", err)
		}
		if err := g.Remove(ctx, item, &model.Row{ID: "missing"}); !errors.Is(err, model.ErrNotFound) {
			t.Errorf("Remove error = %v, want ErrNotFound", err)
		}
	})

	t.Run("unique", func(t *testing.T) {
		_, err := g.Persist(ctx, item, newRow(item, map[string]any{"name": "hammer"}))
		if !errors.Is(err, ErrUniqueViolation) {
			t.Errorf("Persist error = %v, want ErrUniqueViolation", err)
		}
		var pe *model.PersistenceError
		if !errors.As(err, &pe) || pe.Op != "insert" {
			t.Errorf("Persist error = %#v, want insert PersistenceError", err)
		}
	})

	tests := []struct {
		name string
		c    *model.Criteria
		want []string
	}{
		{"eq", model.NewCriteria().Eq("name", "saw"), []string{saw.ID}},
		{"eq id", model.NewCriteria().Eq(model.IDField, rake.ID), []string{rake.ID}},
		{"ne keeps nulls", model.NewCriteria().Ne("category", tools.ID).Asc("name"), []string{loose.ID, rake.ID}},
		{"like ignores case", model.NewCriteria().Like("name", "R%"), []string{rake.ID}},
		{"between", model.NewCriteria().Between("qty", 3, 5).Asc("qty"), []string{hammer.ID, saw.ID, loose.ID}},
		{"gt", model.NewCriteria().Gt("qty", int64(4)).Desc("qty"), []string{rake.ID, loose.ID}},
		{"in", model.NewCriteria().In("name", "saw", "rake").Asc("name"), []string{rake.ID, saw.ID}},
		{"empty in", model.NewCriteria().In("name"), []string{}},
		{"is null", model.NewCriteria().IsNull("category"), []string{loose.ID}},
		{"belongs to", model.NewCriteria().BelongsTo("category", tools.ID).Asc("position"), []string{hammer.ID, saw.ID}},
		{"date", model.NewCriteria().Eq("due", due), []string{hammer.ID}},
		{"bool", model.NewCriteria().Eq("active", true), []string{hammer.ID}},
		{"nulls sort first", model.NewCriteria().Asc("price").Asc("name"), []string{loose.ID, rake.ID, hammer.ID, saw.ID}},
		{"paging", model.NewCriteria().Asc("name").Page(1, 2), []string{loose.ID, rake.ID}},
		{"offset only", model.NewCriteria().Asc("name").Page(3, 0), []string{saw.ID}},
		{"alias", model.NewCriteria().Alias("category", "c").Eq("c.label", "garden"), []string{rake.ID}},
		{"alias order", model.NewCriteria().Alias("category", "c").IsNotNull("category").Asc("c.label").Asc("name"), []string{rake.ID, hammer.ID, saw.ID}},
	}
	for _, tt := range tests {
		t.Run("query "+tt.name, func(t *testing.T) {
			rows, err := g.Query(ctx, item, tt.c)
			if err != nil {
				t.Fatalf("Query failed: %v", err)
			}
			if got := ids(rows); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ids = %v, want %v", got, tt.want)
			}
		})
	}

	t.Run("count ignores paging", func(t *testing.T) {
		n, err := g.Count(ctx, item, model.NewCriteria().Page(0, 1))
		if err != nil {
			t.Fatalf("Count failed: %v", err)
		}
		if n != 4 {
			t.Errorf("Count = %d, want 4", n)
		}
	})

	t.Run("undeclared alias", func(t *testing.T) {
		_, err := g.Query(ctx, item, model.NewCriteria().Eq("c.label", "x"))
		if !errors.Is(err, model.ErrSchemaMismatch) {
			t.Errorf("Query error = %v, want ErrSchemaMismatch", err)
		}
	})

	t.Run("rollback", func(t *testing.T) {
		boom := errors.New("boom")
		err := g.InTx(ctx, func(tx ports.Gateway) error {
			persist(t, tx, category, map[string]any{"label": "temp"})
			return tx.InTx(ctx, func(inner ports.Gateway) error {
				if err := inner.Remove(ctx, item, loose); err != nil {
					return err
				}
				return boom
			})
		})
		if !errors.Is(err, boom) {
			t.Fatalf("InTx error = %v, want boom", err)
		}
		if n, _ := g.Count(ctx, category, model.NewCriteria().Eq("label", "temp")); n != 0 {
			t.Errorf("rolled back insert visible: %d rows", n)
		}
		if _, err := g.FetchByID(ctx, item, loose.ID); err != nil {
			t.Errorf("rolled back delete applied: %v", err)
		}
	})

	t.Run("commit", func(t *testing.T) {
		err := g.InTx(ctx, func(tx ports.Gateway) error {
			return tx.Remove(ctx, item, loose)
		})
		if err != nil {
			t.Fatalf("InTx failed: %v", err)
		}
		if _, err := g.FetchByID(ctx, item, loose.ID); !errors.Is(err, model.ErrNotFound) {
			t.Errorf("FetchByID error = %v, want ErrNotFound", err)
		}
	})
}
