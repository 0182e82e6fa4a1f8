package registry

import (
	"fmt"

	"github.com/artpar/entitycore/core/model"
	"github.com/artpar/entitycore/core/types"
)

// Issue is a cross-definition problem found by Lint.
type Issue struct {
	Definition types.Ref
	Field      string
	Message    string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s.%s: %s", i.Definition, i.Field, i.Message)
}

// Lint checks relations between registered definitions: targets must be
// registered, join fields must exist on the target as belongs_to fields
// pointing back, tree targets must have their parent field.
func (r *Registry) Lint() []Issue {
	s := r.snap.Load()
	var issues []Issue
	for _, d := range r.All() {
		for _, f := range d.Relations() {
			rel, _ := f.Relation()
			add := func(format string, args ...any) {
				issues = append(issues, Issue{Definition: d.Ref(), Field: f.Name(), Message: fmt.Sprintf(format, args...)})
			}
			target, ok := s.defs[rel.Target()]
			if !ok {
				add("target %s is not registered", rel.Target())
				continue
			}
			switch f.Kind() {
			case types.KindHasMany, types.KindTree:
				checkBackReference(target, rel.JoinField(), d.Ref(), add)
				if tree, ok := f.Type().(types.Tree); ok {
					checkBackReference(target, tree.Parent(), target.Ref(), add)
				}
			case types.KindManyToMany:
				if jf := rel.JoinField(); jf != "" {
					tf, err := target.Field(jf)
					if err != nil {
						add("join field %q missing on %s", jf, target.Ref())
					} else if tf.Kind() != types.KindManyToMany {
						add("join field %s.%s is %s, want many_to_many", target.Ref(), jf, tf.Kind())
					}
				}
			}
		}
	}
	return issues
}

func checkBackReference(target *model.DataDefinition, field string, want types.Ref, add func(string, ...any)) {
	tf, err := target.Field(field)
	if err != nil {
		add("join field %q missing on %s", field, target.Ref())
		return
	}
	rel, ok := tf.Relation()
	if !ok || tf.Kind() != types.KindBelongsTo {
		add("join field %s.%s is %s, want belongs_to", target.Ref(), field, tf.Kind())
		return
	}
	if rel.Target() != want {
		add("join field %s.%s points at %s, want %s", target.Ref(), field, rel.Target(), want)
	}
}
