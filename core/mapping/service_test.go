package mapping_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/entitycore/adapters/clock"
	"github.com/artpar/entitycore/adapters/hasher"
	"github.com/artpar/entitycore/adapters/idgen"
	"github.com/artpar/entitycore/adapters/memory"
	"github.com/artpar/entitycore/core/collection"
	"github.com/artpar/entitycore/core/events"
	"github.com/artpar/entitycore/core/mapping"
	"github.com/artpar/entitycore/core/model"
	"github.com/artpar/entitycore/core/registry"
	"github.com/artpar/entitycore/core/types"
	"github.com/artpar/entitycore/core/validation"
	"github.com/artpar/entitycore/ports"
)

func ref(plugin, name string) types.Ref {
	return types.Ref{Plugin: plugin, Name: name}
}

// counting wraps a gateway and counts reads made outside transactions.
type counting struct {
	ports.Gateway
	mu      sync.Mutex
	fetches int
	queries int
}

func (c *counting) FetchByID(ctx context.Context, def *model.DataDefinition, id string) (*model.Row, error) {
	c.mu.Lock()
	c.fetches++
	c.mu.Unlock()
	return c.Gateway.FetchByID(ctx, def, id)
}

func (c *counting) Query(ctx context.Context, def *model.DataDefinition, cr *model.Criteria) ([]*model.Row, error) {
	c.mu.Lock()
	c.queries++
	c.mu.Unlock()
	return c.Gateway.Query(ctx, def, cr)
}

func (c *counting) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetches, c.queries = 0, 0
}

type recorder struct {
	mu  sync.Mutex
	ops []string
}

func (r *recorder) Operation(definition, op, result string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, definition+" "+op+" "+result)
}

func (r *recorder) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.ops) == 0 {
		return ""
	}
	return r.ops[len(r.ops)-1]
}

type fixture struct {
	svc    *mapping.Service
	gw     *counting
	rec    *recorder
	events []events.Event

	vetoDelete    bool
	vetoAfterSave bool

	// beforeSave and afterSave run as order save hooks when set.
	beforeSave, afterSave func(ctx context.Context, e *model.Entity) bool

	customer, order, line, tag, project, step, account, archive, board, card *model.DataDefinition
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureOn(t, func(reg *registry.Registry) ports.Store {
		return memory.New(idgen.NewSequential("r"), clock.NewTicking(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Second), reg)
	})
}

// newFixtureOn builds the fixture on the store returned by open.
func newFixtureOn(t *testing.T, open func(reg *registry.Registry) ports.Store) *fixture {
	t.Helper()
	f := &fixture{rec: &recorder{}}

	f.customer = model.MustCompile(model.DefinitionSpec{
		Plugin: "shop",
		Name:   "customer",
		Flags:  model.DefaultFlags(),
		Fields: []model.FieldSpec{
			{Name: "name", Type: types.String{}, Required: true, Unique: true},
			{Name: "orders", Type: types.HasMany{To: ref("shop", "order"), Join: "customer", OnDelete: types.CascadeNullify}},
		},
	})
	f.order = model.MustCompile(model.DefinitionSpec{
		Plugin:               "shop",
		Name:                 "order",
		Flags:                model.DefaultFlags(),
		IdentifierExpression: "upper(number)",
		Fields: []model.FieldSpec{
			{Name: "number", Type: types.String{}, Required: true, Unique: true},
			{Name: "note", Type: types.String{}},
			{Name: "customer", Type: types.BelongsTo{To: ref("shop", "customer"), LazyLoad: true}},
			{Name: "lines", Type: types.HasMany{To: ref("shop", "line"), Join: "order", OnDelete: types.CascadeDelete, CopyChild: true}},
			{Name: "tags", Type: types.ManyToMany{To: ref("shop", "tag")}},
		},
		Hooks: []model.HookSpec{
			{Type: model.HookDelete, Phase: model.PhaseBefore, Name: "guard", Hook: model.HookFunc(func(ctx context.Context, e *model.Entity) bool {
				if f.vetoDelete {
					e.AddGlobalError("order.locked")
					return false
				}
				return true
			})},
			{Type: model.HookSave, Phase: model.PhaseBefore, Name: "check", Hook: model.HookFunc(func(ctx context.Context, e *model.Entity) bool {
				return f.beforeSave == nil || f.beforeSave(ctx, e)
			})},
			{Type: model.HookSave, Phase: model.PhaseAfter, Name: "audit", Hook: model.HookFunc(func(ctx context.Context, e *model.Entity) bool {
				return !f.vetoAfterSave && (f.afterSave == nil || f.afterSave(ctx, e))
			})},
		},
	})
	f.line = model.MustCompile(model.DefinitionSpec{
		Plugin: "shop",
		Name:   "line",
		Flags:  model.DefaultFlags(),
		Fields: []model.FieldSpec{
			{Name: "order", Type: types.BelongsTo{To: ref("shop", "order")}},
			{Name: "product", Type: types.String{}, Required: true},
			{Name: "position", Type: types.Priority{Scope: "order"}},
		},
	})
	f.tag = model.MustCompile(model.DefinitionSpec{
		Plugin: "shop",
		Name:   "tag",
		Flags:  model.DefaultFlags(),
		Fields: []model.FieldSpec{{Name: "label", Type: types.String{}}},
		Hooks: []model.HookSpec{
			{Type: model.HookView, Phase: model.PhaseBefore, Name: "hide", Hook: model.HookFunc(func(ctx context.Context, e *model.Entity) bool {
				label, _ := e.StringField(ctx, "label")
				return label != "secret"
			})},
		},
	})
	f.project = model.MustCompile(model.DefinitionSpec{
		Plugin: "plan",
		Name:   "project",
		Flags:  model.DefaultFlags(),
		Fields: []model.FieldSpec{
			{Name: "name", Type: types.String{}, Unique: true},
			{Name: "steps", Type: types.Tree{
				HasMany:     types.HasMany{To: ref("plan", "step"), Join: "project", OnDelete: types.CascadeDelete, CopyChild: true},
				ParentField: "parent",
			}},
		},
	})
	f.step = model.MustCompile(model.DefinitionSpec{
		Plugin: "plan",
		Name:   "step",
		Flags:  model.DefaultFlags(),
		Fields: []model.FieldSpec{
			{Name: "name", Type: types.String{}},
			{Name: "project", Type: types.BelongsTo{To: ref("plan", "project"), LazyLoad: true}},
			{Name: "parent", Type: types.BelongsTo{To: ref("plan", "step"), LazyLoad: true}},
			{Name: "position", Type: types.Priority{Scope: "project"}},
		},
	})
	f.account = model.MustCompile(model.DefinitionSpec{
		Plugin: "auth",
		Name:   "account",
		Flags:  model.DefaultFlags(),
		Fields: []model.FieldSpec{
			{Name: "login", Type: types.String{}, Unique: true},
			{Name: "secret", Type: types.NewPassword(hasher.Fake{}), Required: true},
		},
	})
	f.archive = model.MustCompile(model.DefinitionSpec{
		Plugin: "shop",
		Name:   "archive",
		Flags:  model.Flags{},
		Fields: []model.FieldSpec{{Name: "label", Type: types.String{}}},
	})

	f.board = model.MustCompile(model.DefinitionSpec{
		Plugin: "plan",
		Name:   "board",
		Flags:  model.DefaultFlags(),
		Fields: []model.FieldSpec{
			{Name: "title", Type: types.String{}},
			{Name: "cards", Type: types.HasMany{To: ref("plan", "card"), Join: "board", OnDelete: types.CascadeNullify}},
		},
	})
	f.card = model.MustCompile(model.DefinitionSpec{
		Plugin: "plan",
		Name:   "card",
		Flags:  model.DefaultFlags(),
		Fields: []model.FieldSpec{
			{Name: "title", Type: types.String{}},
			{Name: "board", Type: types.BelongsTo{To: ref("plan", "board"), LazyLoad: true}},
			{Name: "position", Type: types.Priority{Scope: "board"}},
		},
	})

	defs := []*model.DataDefinition{f.customer, f.order, f.line, f.tag, f.project, f.step, f.account, f.archive, f.board, f.card}
	reg := registry.New(zerolog.Nop())
	require.NoError(t, reg.Register(defs...))

	store := open(reg)
	t.Cleanup(func() { _ = store.Close() })
	for _, d := range defs {
		require.NoError(t, store.EnsureSchema(context.Background(), d))
	}
	f.gw = &counting{Gateway: store}

	bus := events.NewBus(zerolog.Nop())
	bus.Subscribe("*", func(ctx context.Context, ev events.Event) error {
		f.events = append(f.events, ev)
		return nil
	})
	f.svc = mapping.New(f.gw, reg, zerolog.Nop(),
		mapping.WithEvents(bus),
		mapping.WithRecorder(f.rec),
		mapping.WithClock(clock.NewFake(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))),
	)
	return f
}

// create saves a new entity of def with the given values and fails the
// test unless it is stored.
func (f *fixture) create(t *testing.T, def *model.DataDefinition, values map[string]any) *model.Entity {
	t.Helper()
	ctx := context.Background()
	e := model.New(def)
	for k, v := range values {
		require.NoError(t, e.SetField(ctx, k, v))
	}
	saved, err := f.svc.Save(ctx, e)
	require.NoError(t, err)
	require.True(t, saved.IsValid(), saved.ErrorSummary())
	require.NotEmpty(t, saved.ID())
	return saved
}

func (f *fixture) count(t *testing.T, def *model.DataDefinition) int {
	t.Helper()
	n, err := f.svc.Count(context.Background(), def, nil)
	require.NoError(t, err)
	return n
}

func (f *fixture) eventNames() []string {
	names := make([]string, len(f.events))
	for i, ev := range f.events {
		names[i] = ev.Name
	}
	return names
}

func names(t *testing.T, c model.Collection, field string) []string {
	t.Helper()
	ctx := context.Background()
	all, err := c.All(ctx)
	require.NoError(t, err)
	out := make([]string, len(all))
	for i, e := range all {
		out[i], err = e.StringField(ctx, field)
		require.NoError(t, err)
	}
	return out
}

func TestSave_CreateAndGet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c := f.create(t, f.customer, map[string]any{"name": "Ada"})

	got, err := f.svc.Get(ctx, f.customer, c.ID())
	require.NoError(t, err)
	name, err := got.StringField(ctx, "name")
	require.NoError(t, err)
	assert.Equal(t, "Ada", name)

	require.Len(t, f.events, 1)
	ev := f.events[0]
	assert.Equal(t, "shop.customer.saved", ev.Name)
	assert.Equal(t, c.ID(), ev.ID)
	assert.True(t, ev.Created)
	assert.Equal(t, "Ada", ev.Data["name"])
	assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), ev.At)
	assert.Contains(t, f.rec.ops, "shop.customer save ok")
}

func TestSave_InvalidReturnsInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e := model.New(f.customer)
	out, err := f.svc.Save(ctx, e)
	require.NoError(t, err)
	assert.Same(t, e, out)
	assert.False(t, out.IsValid())
	assert.Equal(t, []model.Message{{Key: validation.MsgMissing}}, out.FieldErrors("name"))
	assert.Zero(t, f.count(t, f.customer))
	assert.Empty(t, f.events)
	assert.Equal(t, "shop.customer save invalid", f.rec.last())
}

func TestSave_Unique(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, f.customer, map[string]any{"name": "Ada"})

	dup := model.New(f.customer)
	require.NoError(t, dup.SetField(ctx, "name", "Ada"))
	out, err := f.svc.Save(ctx, dup)
	require.NoError(t, err)
	assert.Equal(t, []model.Message{{Key: validation.MsgDuplicated}}, out.FieldErrors("name"))
	assert.Equal(t, 1, f.count(t, f.customer))
}

func TestSave_Update(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.create(t, f.customer, map[string]any{"name": "Ada"})

	require.NoError(t, c.SetField(ctx, "name", "Ada Lovelace"))
	updated, err := f.svc.Save(ctx, c)
	require.NoError(t, err)
	require.True(t, updated.IsValid(), updated.ErrorSummary())
	assert.Equal(t, c.ID(), updated.ID())

	// Saving under its own unique value is not a duplicate.
	again, err := f.svc.Save(ctx, updated)
	require.NoError(t, err)
	assert.True(t, again.IsValid(), again.ErrorSummary())

	got, err := f.svc.Get(ctx, f.customer, c.ID())
	require.NoError(t, err)
	name, _ := got.StringField(ctx, "name")
	assert.Equal(t, "Ada Lovelace", name)
	assert.Equal(t, 1, f.count(t, f.customer))
	require.Len(t, f.events, 3)
	assert.False(t, f.events[1].Created)
}

func TestSave_AfterHookVetoRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.vetoAfterSave = true

	e := model.New(f.order)
	require.NoError(t, e.SetField(ctx, "number", "A-1"))
	out, err := f.svc.Save(ctx, e)
	require.NoError(t, err)
	assert.Same(t, e, out)
	require.False(t, out.IsValid())
	assert.Equal(t, mapping.MsgAborted, out.GlobalErrors()[0].Key)
	assert.Zero(t, f.count(t, f.order))
	assert.Empty(t, f.events)
}

func TestSave_NotAllowed(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Save(context.Background(), model.New(f.archive))
	assert.ErrorIs(t, err, model.ErrOperationNotAllowed)
	assert.Equal(t, "shop.archive save error", f.rec.last())
}

func TestSave_CallerAssignedID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e := model.NewWithID(f.tag, "fixed")
	require.NoError(t, e.SetField(ctx, "label", "x"))
	out, err := f.svc.Save(ctx, e)
	require.NoError(t, err)
	assert.Equal(t, "fixed", out.ID())
	require.Len(t, f.events, 1)
	assert.True(t, f.events[0].Created)
}

func TestSave_PriorityAppendsIgnoringHint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.create(t, f.order, map[string]any{"number": "A-1"})

	first := f.create(t, f.line, map[string]any{"order": o.ID(), "product": "bolt", "position": 13})
	second := f.create(t, f.line, map[string]any{"order": o.ID(), "product": "nut"})

	p1, _ := first.IntField(ctx, "position")
	p2, _ := second.IntField(ctx, "position")
	assert.Equal(t, int64(1), p1)
	assert.Equal(t, int64(2), p2)

	// Updates keep the stored priority.
	require.NoError(t, first.SetField(ctx, "position", 7))
	updated, err := f.svc.Save(ctx, first)
	require.NoError(t, err)
	p, _ := updated.IntField(ctx, "position")
	assert.Equal(t, int64(1), p)
}

func TestToGeneric_RelationsAreLazy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.create(t, f.customer, map[string]any{"name": "Ada"})
	o := f.create(t, f.order, map[string]any{"number": "A-1", "customer": c.ID()})
	f.create(t, f.line, map[string]any{"order": o.ID(), "product": "bolt"})

	f.gw.reset()
	got, err := f.svc.Get(ctx, f.order, o.ID())
	require.NoError(t, err)
	assert.Equal(t, 1, f.gw.fetches)
	assert.Zero(t, f.gw.queries)

	owner, err := got.BelongsToField(ctx, "customer")
	require.NoError(t, err)
	require.NotNil(t, owner)
	assert.True(t, owner.IsProxy())
	assert.Equal(t, c.ID(), owner.ID())
	assert.Equal(t, 1, f.gw.fetches, "reading the id must not load the proxy")

	name, err := owner.StringField(ctx, "name")
	require.NoError(t, err)
	assert.Equal(t, "Ada", name)
	assert.Equal(t, 2, f.gw.fetches)
	_, _ = owner.StringField(ctx, "name")
	assert.Equal(t, 2, f.gw.fetches, "a proxy loads once")

	lines, err := got.CollectionField(ctx, "lines")
	require.NoError(t, err)
	assert.Zero(t, f.gw.queries)
	assert.Equal(t, []string{"bolt"}, names(t, lines, "product"))
	assert.Equal(t, 1, f.gw.queries)

	// The line's eager belongs_to comes back loaded.
	line, err := lines.At(ctx, 0)
	require.NoError(t, err)
	parent, err := line.BelongsToField(ctx, "order")
	require.NoError(t, err)
	require.NotNil(t, parent)
	assert.False(t, parent.IsProxy())
	assert.Equal(t, o.ID(), parent.ID())

	// The inverse side sees the order.
	orders, err := owner.CollectionField(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, []string{"A-1"}, names(t, orders, "number"))
}

func TestToPersisted_RecordsMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e := model.New(f.line)
	require.NoError(t, e.SetField(ctx, "position", "not a number"))
	require.NoError(t, e.SetField(ctx, "product", "bolt"))
	row, err := f.svc.ToPersisted(ctx, f.line, e, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, e.FieldErrors("position"))
	assert.Equal(t, []any{nil, "bolt", nil}, row.Slots)
}

func TestManyToMany(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, f.tag, map[string]any{"label": "red"})
	b := f.create(t, f.tag, map[string]any{"label": "blue"})
	o := f.create(t, f.order, map[string]any{"number": "A-1", "tags": []any{a, b.ID()}})

	got, err := f.svc.Get(ctx, f.order, o.ID())
	require.NoError(t, err)
	tags, err := got.CollectionField(ctx, "tags")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"red", "blue"}, names(t, tags, "label"))

	// Saving the loaded entity keeps the set.
	resaved, err := f.svc.Save(ctx, got)
	require.NoError(t, err)
	tags, err = resaved.CollectionField(ctx, "tags")
	require.NoError(t, err)
	n, err := tags.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestFind(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.create(t, f.customer, map[string]any{"name": "Ada"})
	o := f.create(t, f.order, map[string]any{"number": "A-1", "customer": c.ID()})
	f.create(t, f.order, map[string]any{"number": "A-2"})
	for _, p := range []string{"bolt", "nut", "washer"} {
		f.create(t, f.line, map[string]any{"order": o.ID(), "product": p})
	}

	t.Run("entity values are normalized", func(t *testing.T) {
		res, err := f.svc.Find(ctx, f.order, model.NewCriteria().Eq("customer", c))
		require.NoError(t, err)
		require.Len(t, res.Entities, 1)
		assert.Equal(t, o.ID(), res.Entities[0].ID())
	})

	t.Run("text values are converted", func(t *testing.T) {
		res, err := f.svc.Find(ctx, f.line, model.NewCriteria().Eq("position", "2"))
		require.NoError(t, err)
		require.Len(t, res.Entities, 1)
		product, _ := res.Entities[0].StringField(ctx, "product")
		assert.Equal(t, "nut", product)
	})

	t.Run("total ignores paging", func(t *testing.T) {
		res, err := f.svc.Find(ctx, f.line, model.NewCriteria().Asc("position").Page(1, 1))
		require.NoError(t, err)
		assert.Equal(t, 3, res.Total)
		require.Len(t, res.Entities, 1)
		product, _ := res.Entities[0].StringField(ctx, "product")
		assert.Equal(t, "nut", product)
	})

	t.Run("nil criteria", func(t *testing.T) {
		res, err := f.svc.Find(ctx, f.order, nil)
		require.NoError(t, err)
		assert.Equal(t, 2, res.Total)
	})
}

func TestViewHook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, f.tag, map[string]any{"label": "red"})
	secret := f.create(t, f.tag, map[string]any{"label": "secret"})

	res, err := f.svc.Find(ctx, f.tag, nil)
	require.NoError(t, err)
	require.Len(t, res.Entities, 1)

	_, err = f.svc.Get(ctx, f.tag, secret.ID())
	var aborted *model.AbortedError
	require.ErrorAs(t, err, &aborted)
	assert.Equal(t, model.HookView, aborted.Hook)
}

func TestFilter(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Filter(f.order, "missing")
	assert.ErrorIs(t, err, model.ErrSchemaMismatch)
}

func TestDelete_RenumbersSiblings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.create(t, f.order, map[string]any{"number": "A-1"})
	var lines []*model.Entity
	for _, p := range []string{"bolt", "nut", "washer"} {
		lines = append(lines, f.create(t, f.line, map[string]any{"order": o.ID(), "product": p}))
	}

	require.NoError(t, f.svc.Delete(ctx, lines[1]))

	res, err := f.svc.Find(ctx, f.line, model.NewCriteria().Asc("position"))
	require.NoError(t, err)
	require.Len(t, res.Entities, 2)
	for i, e := range res.Entities {
		p, _ := e.IntField(ctx, "position")
		assert.Equal(t, int64(i+1), p)
	}
	assert.NoError(t, f.svc.VerifyPriorities(ctx, f.line, o.ID()))
	assert.Equal(t, "shop.line.deleted", f.events[len(f.events)-1].Name)
}

func TestDelete_Cascade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.create(t, f.customer, map[string]any{"name": "Ada"})
	o := f.create(t, f.order, map[string]any{"number": "A-1", "customer": c.ID()})
	f.create(t, f.line, map[string]any{"order": o.ID(), "product": "bolt"})
	f.create(t, f.line, map[string]any{"order": o.ID(), "product": "nut"})

	t.Run("nullify", func(t *testing.T) {
		require.NoError(t, f.svc.Delete(ctx, c))
		got, err := f.svc.Get(ctx, f.order, o.ID())
		require.NoError(t, err)
		id, err := got.ReferenceID(ctx, "customer")
		require.NoError(t, err)
		assert.Empty(t, id)
	})

	t.Run("delete", func(t *testing.T) {
		f.events = nil
		require.NoError(t, f.svc.Delete(ctx, o))
		assert.Zero(t, f.count(t, f.line))
		assert.Zero(t, f.count(t, f.order))
		assert.Equal(t, []string{"shop.line.deleted", "shop.line.deleted", "shop.order.deleted"}, f.eventNames())
	})
}

func TestDelete_HookVeto(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.create(t, f.order, map[string]any{"number": "A-1"})
	f.create(t, f.line, map[string]any{"order": o.ID(), "product": "bolt"})
	f.vetoDelete = true
	f.events = nil

	err := f.svc.Delete(ctx, o)
	var aborted *model.AbortedError
	require.ErrorAs(t, err, &aborted)
	assert.Equal(t, model.HookDelete, aborted.Hook)
	assert.Equal(t, "order.locked", aborted.Entity.GlobalErrors()[0].Key)
	assert.Equal(t, 1, f.count(t, f.order))
	assert.Equal(t, 1, f.count(t, f.line))
	assert.Empty(t, f.events)
	assert.Equal(t, "shop.order delete aborted", f.rec.last())
}

func TestDelete_NotAllowed(t *testing.T) {
	f := newFixture(t)
	err := f.svc.Delete(context.Background(), model.NewWithID(f.archive, "x"))
	assert.ErrorIs(t, err, model.ErrOperationNotAllowed)
}

func TestCopy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	red := f.create(t, f.tag, map[string]any{"label": "red"})
	o := f.create(t, f.order, map[string]any{"number": "A-1", "note": "rush", "tags": []any{red.ID()}})
	f.create(t, f.line, map[string]any{"order": o.ID(), "product": "bolt"})
	f.create(t, f.line, map[string]any{"order": o.ID(), "product": "nut"})
	f.events = nil

	dup, err := f.svc.Copy(ctx, o)
	require.NoError(t, err)
	assert.NotEqual(t, o.ID(), dup.ID())

	number, _ := dup.StringField(ctx, "number")
	note, _ := dup.StringField(ctx, "note")
	assert.Equal(t, "A-1(1)", number)
	assert.Equal(t, "rush", note)

	lines, err := dup.CollectionField(ctx, "lines")
	require.NoError(t, err)
	assert.Equal(t, []string{"bolt", "nut"}, names(t, lines, "product"))
	assert.NoError(t, f.svc.VerifyPriorities(ctx, f.line, dup.ID()))
	assert.NoError(t, f.svc.VerifyPriorities(ctx, f.line, o.ID()))

	tags, err := dup.CollectionField(ctx, "tags")
	require.NoError(t, err)
	assert.Equal(t, []string{"red"}, names(t, tags, "label"))

	last := f.events[len(f.events)-1]
	assert.Equal(t, "shop.order.copied", last.Name)
	assert.Equal(t, o.ID(), last.Source)

	second, err := f.svc.Copy(ctx, o)
	require.NoError(t, err)
	number, _ = second.StringField(ctx, "number")
	assert.Equal(t, "A-1(2)", number)

	third, err := f.svc.Copy(ctx, dup)
	require.NoError(t, err)
	number, _ = third.StringField(ctx, "number")
	assert.Equal(t, "A-1(3)", number)
}

func TestCopy_InvalidDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, f.account, map[string]any{"login": "ada", "secret": "pw"})

	_, err := f.svc.Copy(ctx, a)
	var ce *model.CopyError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, a.ID(), ce.SourceID)
	assert.Equal(t, []model.Message{{Key: validation.MsgMissing}}, ce.Entity.FieldErrors("secret"))
	assert.Equal(t, 1, f.count(t, f.account))
	assert.Equal(t, "auth.account copy invalid", f.rec.last())
}

func TestCopy_Tree(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.create(t, f.project, map[string]any{"name": "P"})
	root := f.create(t, f.step, map[string]any{"name": "root", "project": p.ID()})
	a := f.create(t, f.step, map[string]any{"name": "a", "project": p.ID(), "parent": root.ID()})
	f.create(t, f.step, map[string]any{"name": "b", "project": p.ID(), "parent": root.ID()})
	f.create(t, f.step, map[string]any{"name": "a1", "project": p.ID(), "parent": a.ID()})

	dup, err := f.svc.Copy(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, 8, f.count(t, f.step))

	steps, err := dup.CollectionField(ctx, "steps")
	require.NoError(t, err)
	assert.Equal(t, []string{"root", "a", "a1", "b"}, names(t, steps, "name"))

	tree, ok := steps.(*collection.Tree)
	require.True(t, ok)
	top, err := tree.Root(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, root.ID(), top.Entity.ID())
	require.Len(t, top.Children, 2)
	a1 := top.Children[0].Children[0]
	parent, err := a1.Entity.ReferenceID(ctx, "parent")
	require.NoError(t, err)
	assert.Equal(t, top.Children[0].Entity.ID(), parent)
	assert.NoError(t, f.svc.VerifyPriorities(ctx, f.step, dup.ID()))

	// Deleting the project removes the whole tree.
	require.NoError(t, f.svc.Delete(ctx, dup))
	assert.Equal(t, 4, f.count(t, f.step))
	assert.NoError(t, f.svc.VerifyPriorities(ctx, f.step, p.ID()))
}

func TestMove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.create(t, f.order, map[string]any{"number": "A-1"})
	var lines []*model.Entity
	for _, p := range []string{"bolt", "nut", "washer"} {
		lines = append(lines, f.create(t, f.line, map[string]any{"order": o.ID(), "product": p}))
	}
	f.events = nil

	moved, err := f.svc.Move(ctx, lines[0], 1)
	require.NoError(t, err)
	p, _ := moved.IntField(ctx, "position")
	assert.Equal(t, int64(2), p)
	assert.Equal(t, []string{"shop.line.moved"}, f.eventNames())

	order, err := f.svc.Get(ctx, f.order, o.ID())
	require.NoError(t, err)
	all, err := order.CollectionField(ctx, "lines")
	require.NoError(t, err)
	assert.Equal(t, []string{"nut", "bolt", "washer"}, names(t, all, "product"))

	_, err = f.svc.MoveTo(ctx, lines[2], 0)
	assert.ErrorIs(t, err, model.ErrInvalidPosition)

	// Already last: nothing changes, nothing is published.
	f.events = nil
	_, err = f.svc.MoveTo(ctx, lines[2], 3)
	require.NoError(t, err)
	assert.Empty(t, f.events)

	top, err := f.svc.MoveTo(ctx, lines[2], 1)
	require.NoError(t, err)
	p, _ = top.IntField(ctx, "position")
	assert.Equal(t, int64(1), p)
	assert.NoError(t, f.svc.VerifyPriorities(ctx, f.line, o.ID()))
}

func TestMove_NotPrioritizable(t *testing.T) {
	f := newFixture(t)
	c := f.create(t, f.customer, map[string]any{"name": "Ada"})
	_, err := f.svc.Move(context.Background(), c, 1)
	assert.ErrorIs(t, err, model.ErrSchemaMismatch)
}

func TestIdentifier(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.create(t, f.customer, map[string]any{"name": "Ada"})
	o := f.create(t, f.order, map[string]any{"number": "a-1"})

	got, err := f.svc.Identifier(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, "Ada", got)

	got, err = f.svc.Identifier(ctx, o)
	require.NoError(t, err)
	assert.Equal(t, "A-1", got)
}

// saveMissingReference saves an order whose lazy customer does not exist.
func saveMissingReference(t *testing.T, f *fixture) {
	t.Helper()
	ctx := context.Background()

	e := model.New(f.order)
	require.NoError(t, e.SetField(ctx, "number", "A-1"))
	require.NoError(t, e.SetField(ctx, "customer", "no-such-customer"))
	_, err := f.svc.Save(ctx, e)
	var pe *model.PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.Zero(t, f.count(t, f.order))

	// Eager references are checked the same way.
	line := model.New(f.line)
	require.NoError(t, line.SetField(ctx, "order", "no-such-order"))
	require.NoError(t, line.SetField(ctx, "product", "bolt"))
	_, err = f.svc.Save(ctx, line)
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.Zero(t, f.count(t, f.line))

	// Re-pointing a stored reference is checked on update.
	c := f.create(t, f.customer, map[string]any{"name": "Ada"})
	o := f.create(t, f.order, map[string]any{"number": "A-2", "customer": c.ID()})
	require.NoError(t, o.SetField(ctx, "customer", "gone"))
	_, err = f.svc.Save(ctx, o)
	assert.ErrorIs(t, err, model.ErrNotFound)
	require.NoError(t, o.SetField(ctx, "customer", c.ID()))
	saved, err := f.svc.Save(ctx, o)
	require.NoError(t, err)
	assert.True(t, saved.IsValid(), saved.ErrorSummary())
}

func TestSave_MissingReference(t *testing.T) {
	saveMissingReference(t, newFixture(t))
}

func TestSave_SelfReferenceWithAssignedID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.create(t, f.project, map[string]any{"name": "P"})

	e := model.NewWithID(f.step, "root")
	require.NoError(t, e.SetField(ctx, "name", "root"))
	require.NoError(t, e.SetField(ctx, "project", p.ID()))
	require.NoError(t, e.SetField(ctx, "parent", "root"))
	saved, err := f.svc.Save(ctx, e)
	require.NoError(t, err)
	id, err := saved.ReferenceID(ctx, "parent")
	require.NoError(t, err)
	assert.Equal(t, "root", id)
}

func TestSave_HooksReadInsideTransaction(t *testing.T) {
	f := newFixture(t)
	c := f.create(t, f.customer, map[string]any{"name": "Ada"})

	var counted int
	var owner string
	f.afterSave = func(ctx context.Context, e *model.Entity) bool {
		n, err := f.svc.Count(ctx, f.order, nil)
		if err != nil {
			return false
		}
		counted = n
		ref, err := e.BelongsToField(ctx, "customer")
		if err != nil || ref == nil {
			return false
		}
		owner, err = ref.StringField(ctx, "name")
		return err == nil
	}
	f.create(t, f.order, map[string]any{"number": "A-1", "customer": c.ID()})
	assert.Equal(t, 1, counted, "the uncommitted order is visible to the hook")
	assert.Equal(t, "Ada", owner)
}

func TestSave_NestedSaveJoinsTransaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.beforeSave = func(ctx context.Context, e *model.Entity) bool {
		tag := model.New(f.tag)
		if err := tag.SetField(ctx, "label", "auto"); err != nil {
			return false
		}
		saved, err := f.svc.Save(ctx, tag)
		return err == nil && saved.IsValid()
	}
	f.create(t, f.order, map[string]any{"number": "A-1"})
	assert.Equal(t, 1, f.count(t, f.tag))
	// Events from the joined save publish with the outer commit.
	assert.Equal(t, []string{"shop.tag.saved", "shop.order.saved"}, f.eventNames())

	f.events = nil
	f.vetoAfterSave = true
	f.beforeSave = func(ctx context.Context, e *model.Entity) bool {
		tag := model.New(f.tag)
		_ = tag.SetField(ctx, "label", "rolled back")
		_, err := f.svc.Save(ctx, tag)
		return err == nil
	}
	e := model.New(f.order)
	require.NoError(t, e.SetField(ctx, "number", "A-2"))
	_, err := f.svc.Save(ctx, e)
	require.NoError(t, err)
	assert.Equal(t, 1, f.count(t, f.tag))
	assert.Empty(t, f.events)
}

func TestSave_ScopeChangeRenumbers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, f.order, map[string]any{"number": "A"})
	b := f.create(t, f.order, map[string]any{"number": "B"})
	x := f.create(t, f.line, map[string]any{"order": a.ID(), "product": "x"})
	y := f.create(t, f.line, map[string]any{"order": a.ID(), "product": "y"})
	f.create(t, f.line, map[string]any{"order": b.ID(), "product": "z"})

	require.NoError(t, x.SetField(ctx, "order", b.ID()))
	moved, err := f.svc.Save(ctx, x)
	require.NoError(t, err)
	require.True(t, moved.IsValid(), moved.ErrorSummary())

	p, _ := moved.IntField(ctx, "position")
	assert.Equal(t, int64(2), p)
	got, err := f.svc.Get(ctx, f.line, y.ID())
	require.NoError(t, err)
	p, _ = got.IntField(ctx, "position")
	assert.Equal(t, int64(1), p)
	assert.NoError(t, f.svc.VerifyPriorities(ctx, f.line, a.ID()))
	assert.NoError(t, f.svc.VerifyPriorities(ctx, f.line, b.ID()))

	// Leaving every scope joins the unscoped siblings.
	require.NoError(t, got.SetField(ctx, "order", nil))
	_, err = f.svc.Save(ctx, got)
	require.NoError(t, err)
	assert.NoError(t, f.svc.VerifyPriorities(ctx, f.line, a.ID()))
	assert.NoError(t, f.svc.VerifyPriorities(ctx, f.line, ""))
	assert.Equal(t, 3, f.count(t, f.line))
}

func TestDelete_NullifyRenumbersChildren(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, f.card, map[string]any{"title": "loose"})
	board := f.create(t, f.board, map[string]any{"title": "B"})
	for _, title := range []string{"one", "two", "three"} {
		f.create(t, f.card, map[string]any{"title": title, "board": board.ID()})
	}

	require.NoError(t, f.svc.Delete(ctx, board))
	require.NoError(t, f.svc.VerifyPriorities(ctx, f.card, ""))

	res, err := f.svc.Find(ctx, f.card, model.NewCriteria().IsNull("board").Asc("position"))
	require.NoError(t, err)
	var titles []string
	for _, e := range res.Entities {
		title, _ := e.StringField(ctx, "title")
		titles = append(titles, title)
	}
	assert.Equal(t, []string{"loose", "one", "two", "three"}, titles)
}
