package mapping

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/artpar/entitycore/core/collection"
	"github.com/artpar/entitycore/core/events"
	"github.com/artpar/entitycore/core/model"
	"github.com/artpar/entitycore/core/types"
)

var copySuffix = regexp.MustCompile(`\(\d+\)$`)

// Copy duplicates the stored entity e and its copyable has-many and tree
// children. Unique string fields get the first free "value(n)" suffix. A
// duplicate that fails validation returns *model.CopyError and nothing is
// stored.
func (s *Service) Copy(ctx context.Context, e *model.Entity) (out *model.Entity, err error) {
	def := e.Definition()
	var result string
	defer s.observe(def, OpCopy, time.Now(), &result, &err)

	if e.ID() == "" {
		return nil, fmt.Errorf("copy %s: %w", e, model.ErrNotFound)
	}

	err = s.inTx(ctx, func(ctx context.Context, sess *session) error {
		out, err = sess.copy(ctx, def, e.ID(), nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// copy duplicates the row id of def. overrides are set on the duplicate
// before the copy hooks run.
func (ss *session) copy(ctx context.Context, def *model.DataDefinition, id string, overrides map[string]any) (*model.Entity, error) {
	row, err := ss.gw.FetchByID(ctx, def, id)
	if err != nil {
		return nil, err
	}
	source, err := ss.toGeneric(ctx, def, row)
	if err != nil {
		return nil, err
	}
	dup, err := ss.duplicate(ctx, source)
	if err != nil {
		return nil, err
	}
	for name, v := range overrides {
		if err := dup.SetField(ctx, name, v); err != nil {
			return nil, err
		}
	}

	if !ss.pipeline.RunHooks(ctx, model.HookCopy, model.PhaseBefore, dup) {
		return nil, &model.AbortedError{Hook: model.HookCopy, Entity: dup}
	}
	saved, ok, err := ss.save(ctx, dup)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &model.CopyError{SourceID: id, Entity: dup}
	}

	for _, f := range def.Fields() {
		if !f.Kind().IsCollection() || f.Kind() == types.KindManyToMany || !f.Type().Copyable() {
			continue
		}
		if err := ss.copyChildren(ctx, f, id, saved.ID()); err != nil {
			return nil, err
		}
	}

	stored, err := ss.gw.FetchByID(ctx, def, saved.ID())
	if err != nil {
		return nil, err
	}
	ss.emit(def, events.ActionCopied, stored, true)
	ss.pending[len(ss.pending)-1].Source = id
	return saved, nil
}

// duplicate returns a new entity holding the copyable values of source.
func (ss *session) duplicate(ctx context.Context, source *model.Entity) (*model.Entity, error) {
	def := source.Definition()
	values, err := source.Values(ctx)
	if err != nil {
		return nil, err
	}
	dup := model.New(def)
	for _, f := range def.Fields() {
		if !f.Persistent() || !f.Type().Copyable() {
			continue
		}
		v, ok := values[f.Name()]
		if !ok || v == nil {
			continue
		}
		if s, isString := v.(string); isString && f.Unique() {
			if v, err = ss.freeCopyName(ctx, def, f, s); err != nil {
				return nil, err
			}
		}
		if err := dup.SetField(ctx, f.Name(), v); err != nil {
			return nil, err
		}
	}
	return dup, nil
}

// freeCopyName returns value with the lowest "(n)" suffix not yet stored.
// An existing suffix is replaced rather than stacked.
func (ss *session) freeCopyName(ctx context.Context, def *model.DataDefinition, f *model.FieldDefinition, value string) (string, error) {
	base := copySuffix.ReplaceAllString(value, "")
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s(%d)", base, n)
		count, err := ss.gw.Count(ctx, def, model.NewCriteria().Eq(f.Name(), candidate))
		if err != nil {
			return "", err
		}
		if count == 0 {
			return candidate, nil
		}
	}
}

// copyChildren copies the children of srcOwner reached through the
// collection field f onto newOwner. Tree nodes are copied parents first so
// parent references can be remapped to the new nodes.
func (ss *session) copyChildren(ctx context.Context, f *model.FieldDefinition, srcOwner, newOwner string) error {
	rel, _ := f.Relation()
	target, err := ss.resolve(rel.Target())
	if err != nil {
		return err
	}
	c := model.NewCriteria().BelongsTo(rel.JoinField(), srcOwner)
	if target.Prioritizable() {
		c.Asc(target.PriorityField().Name())
	}
	rows, err := ss.gw.Query(ctx, target, c.Asc(model.IDField))
	if err != nil {
		return err
	}

	tree, isTree := f.Type().(types.Tree)
	if !isTree {
		for _, row := range rows {
			if _, err := ss.copy(ctx, target, row.ID, map[string]any{rel.JoinField(): newOwner}); err != nil {
				return fmt.Errorf("copy %s: %w", f.Name(), err)
			}
		}
		return nil
	}

	entities := make([]*model.Entity, len(rows))
	for i, row := range rows {
		if entities[i], err = ss.toGeneric(ctx, target, row); err != nil {
			return err
		}
	}
	root, err := collection.BuildTree(ctx, target, tree.Parent(), entities)
	if err != nil || root == nil {
		return err
	}

	copied := make(map[string]string, len(rows))
	var walkErr error
	root.Walk(func(n *collection.Node) {
		if walkErr != nil {
			return
		}
		overrides := map[string]any{rel.JoinField(): newOwner, tree.Parent(): nil}
		if n.Parent != nil {
			overrides[tree.Parent()] = copied[n.Parent.Entity.ID()]
		}
		dup, err := ss.copy(ctx, target, n.Entity.ID(), overrides)
		if err != nil {
			walkErr = fmt.Errorf("copy %s: %w", f.Name(), err)
			return
		}
		copied[n.Entity.ID()] = dup.ID()
	})
	return walkErr
}
