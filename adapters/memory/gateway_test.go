package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/artpar/entitycore/adapters/clock"
	"github.com/artpar/entitycore/adapters/idgen"
	"github.com/artpar/entitycore/adapters/memory"
	"github.com/artpar/entitycore/core/model"
	"github.com/artpar/entitycore/core/types"
	"github.com/artpar/entitycore/ports"
)

type defs map[types.Ref]*model.DataDefinition

func (d defs) Lookup(ref types.Ref) (*model.DataDefinition, bool) {
	def, ok := d[ref]
	return def, ok
}

var (
	technology = model.MustCompile(model.DefinitionSpec{
		Plugin: "tech",
		Name:   "technology",
		Flags:  model.DefaultFlags(),
		Fields: []model.FieldSpec{{Name: "name", Type: types.String{}}},
	})
	operation = model.MustCompile(model.DefinitionSpec{
		Plugin: "tech",
		Name:   "operation",
		Flags:  model.DefaultFlags(),
		Fields: []model.FieldSpec{
			{Name: "name", Type: types.String{}},
			{Name: "duration", Type: types.Integer{}},
			{Name: "technology", Type: types.BelongsTo{To: technology.Ref()}},
		},
	})
)

func newGateway(t *testing.T) *memory.Gateway {
	t.Helper()
	g := memory.New(
		idgen.NewSequential("r"),
		clock.NewTicking(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Second),
		defs{technology.Ref(): technology, operation.Ref(): operation},
	)
	ctx := context.Background()
	for _, d := range []*model.DataDefinition{technology, operation} {
		if err := g.EnsureSchema(ctx, d); err != nil {
			t.Fatalf("EnsureSchema failed: %v", err)
		}
	}
	return g
}

func insert(t *testing.T, g ports.Gateway, def *model.DataDefinition, slots ...any) *model.Row {
	t.Helper()
	r, err := g.Persist(context.Background(), def, &model.Row{Slots: slots})
	if err != nil {
		t.Fatalf("Persist failed: %v", err)
	}
	return r
}

func TestGateway_PersistAndFetch(t *testing.T) {
	g := newGateway(t)
	ctx := context.Background()

	r := insert(t, g, operation, "Drill", int64(10), nil)
	if r.ID != "r000001" {
		t.Errorf("ID = %q, want r000001", r.ID)
	}
	if r.CreatedAt.IsZero() || !r.CreatedAt.Equal(r.UpdatedAt) {
		t.Errorf("timestamps = %v / %v", r.CreatedAt, r.UpdatedAt)
	}

	got, err := g.FetchByID(ctx, operation, r.ID)
	if err != nil {
		t.Fatalf("FetchByID failed: %v", err)
	}
	if got.Slots[0] != "Drill" || got.Slots[1] != int64(10) {
		t.Errorf("Slots = %v", got.Slots)
	}

	// Callers get copies.
	got.Slots[0] = "changed"
	again, _ := g.FetchByID(ctx, operation, r.ID)
	if again.Slots[0] != "Drill" {
		t.Error("mutating a fetched row must not change the store")
	}

	got.Slots[0] = "Mill"
	updated, err := g.Persist(ctx, operation, got)
	if err != nil {
		t.Fatalf("Persist update failed: %v", err)
	}
	if !updated.CreatedAt.Equal(r.CreatedAt) || !updated.UpdatedAt.After(r.UpdatedAt) {
		t.Errorf("update timestamps = %v / %v", updated.CreatedAt, updated.UpdatedAt)
	}
}

func TestGateway_FetchMissing(t *testing.T) {
	g := newGateway(t)
	_, err := g.FetchByID(context.Background(), operation, "nope")
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("FetchByID error = %v, want ErrNotFound", err)
	}
	err = g.Remove(context.Background(), operation, &model.Row{ID: "nope"})
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("Remove error = %v, want ErrNotFound", err)
	}
}

func TestGateway_Query(t *testing.T) {
	g := newGateway(t)
	ctx := context.Background()

	tech := insert(t, g, technology, "Milling")
	insert(t, g, operation, "Drill", int64(30), tech.ID)
	insert(t, g, operation, "drill press", int64(10), nil)
	insert(t, g, operation, "Saw", int64(20), tech.ID)

	tests := []struct {
		name     string
		criteria *model.Criteria
		want     []string
	}{
		{"all in id order", nil, []string{"Drill", "drill press", "Saw"}},
		{"eq", model.NewCriteria().Eq("name", "Saw"), []string{"Saw"}},
		{"int width", model.NewCriteria().Eq("duration", 20), []string{"Saw"}},
		{"like ignores case", model.NewCriteria().Like("name", "drill%"), []string{"Drill", "drill press"}},
		{"belongs to", model.NewCriteria().BelongsTo("technology", tech.ID), []string{"Drill", "Saw"}},
		{"no reference", model.NewCriteria().BelongsTo("technology", ""), []string{"drill press"}},
		{"between", model.NewCriteria().Between("duration", 10, 20), []string{"drill press", "Saw"}},
		{"in", model.NewCriteria().In("name", "Saw", "Drill"), []string{"Drill", "Saw"}},
		{"in empty", model.NewCriteria().In("name"), nil},
		{"ne id", model.NewCriteria().Ne(model.IDField, "r000002"), []string{"drill press", "Saw"}},
		{"order desc", model.NewCriteria().Desc("duration"), []string{"Drill", "Saw", "drill press"}},
		{"page", model.NewCriteria().Asc("duration").Page(1, 1), []string{"Saw"}},
		{"alias", model.NewCriteria().Alias("technology", "t").Eq("t.name", "Milling").Asc("name"), []string{"Drill", "Saw"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := g.Query(ctx, operation, tt.criteria)
			if err != nil {
				t.Fatalf("Query failed: %v", err)
			}
			var names []string
			for _, r := range rows {
				names = append(names, r.Slots[0].(string))
			}
			if len(names) != len(tt.want) {
				t.Fatalf("names = %v, want %v", names, tt.want)
			}
			for i := range names {
				if names[i] != tt.want[i] {
					t.Errorf("names = %v, want %v", names, tt.want)
					break
				}
			}
		})
	}

	n, err := g.Count(ctx, operation, model.NewCriteria().Gt("duration", 10).Page(0, 1))
	if err != nil || n != 2 {
		t.Errorf("Count = %d, %v; want 2 ignoring paging", n, err)
	}
}

func TestGateway_QueryUnknownField(t *testing.T) {
	g := newGateway(t)
	insert(t, g, operation, "Drill", int64(1), nil)

	_, err := g.Query(context.Background(), operation, model.NewCriteria().Eq("colour", "red"))
	if !errors.Is(err, model.ErrSchemaMismatch) {
		t.Errorf("Query error = %v, want schema mismatch", err)
	}
}

func TestGateway_InTxRollback(t *testing.T) {
	g := newGateway(t)
	ctx := context.Background()
	keep := insert(t, g, operation, "Drill", int64(1), nil)

	boom := errors.New("boom")
	err := g.InTx(ctx, func(tx ports.Gateway) error {
		insert(t, tx, operation, "Saw", int64(2), nil)
		if err := tx.Remove(ctx, operation, keep); err != nil {
			return err
		}
		// The transaction sees its own writes.
		if n, _ := tx.Count(ctx, operation, nil); n != 1 {
			t.Errorf("Count inside tx = %d, want 1", n)
		}
		// Nested calls join the transaction.
		return tx.InTx(ctx, func(ports.Gateway) error { return boom })
	})
	if !errors.Is(err, boom) {
		t.Fatalf("InTx error = %v, want boom", err)
	}

	rows, _ := g.Query(ctx, operation, nil)
	if len(rows) != 1 || rows[0].ID != keep.ID {
		t.Errorf("rows after rollback = %v", rows)
	}
}

func TestGateway_InTxCommit(t *testing.T) {
	g := newGateway(t)
	ctx := context.Background()

	err := g.InTx(ctx, func(tx ports.Gateway) error {
		insert(t, tx, operation, "Drill", int64(1), nil)
		insert(t, tx, operation, "Saw", int64(2), nil)
		return nil
	})
	if err != nil {
		t.Fatalf("InTx failed: %v", err)
	}
	if n, _ := g.Count(ctx, operation, nil); n != 2 {
		t.Errorf("Count = %d, want 2", n)
	}
}
