package mapping

import (
	"context"
	"fmt"
	"time"

	"github.com/artpar/entitycore/core/events"
	"github.com/artpar/entitycore/core/model"
	"github.com/artpar/entitycore/core/priority"
	"github.com/artpar/entitycore/ports"
)

// Move shifts e by offset positions among its siblings, clamped to the
// sibling range. It returns the entity as stored afterwards.
func (s *Service) Move(ctx context.Context, e *model.Entity, offset int64) (*model.Entity, error) {
	return s.move(ctx, e, func(ctx context.Context, p *priority.Prioritizer, tx ports.Gateway, row *model.Row) (*model.Row, error) {
		return p.Move(ctx, tx, row, offset)
	})
}

// MoveTo places e at position pos, clamped to the sibling count. Positions
// below 1 fail with model.ErrInvalidPosition before anything is read.
func (s *Service) MoveTo(ctx context.Context, e *model.Entity, pos int64) (*model.Entity, error) {
	if pos < 1 {
		return nil, fmt.Errorf("move %s to %d: %w", e, pos, model.ErrInvalidPosition)
	}
	return s.move(ctx, e, func(ctx context.Context, p *priority.Prioritizer, tx ports.Gateway, row *model.Row) (*model.Row, error) {
		return p.MoveTo(ctx, tx, row, pos)
	})
}

type moveFunc func(ctx context.Context, p *priority.Prioritizer, tx ports.Gateway, row *model.Row) (*model.Row, error)

func (s *Service) move(ctx context.Context, e *model.Entity, fn moveFunc) (out *model.Entity, err error) {
	def := e.Definition()
	var result string
	defer s.observe(def, OpMove, time.Now(), &result, &err)

	if !def.Flags().Updatable {
		return nil, fmt.Errorf("move %s: %w", e, model.ErrOperationNotAllowed)
	}
	p, err := priority.New(def)
	if err != nil {
		return nil, err
	}

	err = s.inTx(ctx, func(ctx context.Context, sess *session) error {
		tx := sess.gw
		row, err := tx.FetchByID(ctx, def, e.ID())
		if err != nil {
			return err
		}
		moved, err := fn(ctx, p, tx, row)
		if err != nil {
			return err
		}
		if p.Of(moved) != p.Of(row) {
			sess.emit(def, events.ActionMoved, moved, false)
		}
		out, err = sess.toGeneric(ctx, def, moved)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// VerifyPriorities checks that the siblings in scopeID hold exactly the
// priorities 1..N. Corruption is reported as *model.StructuralError.
func (s *Service) VerifyPriorities(ctx context.Context, def *model.DataDefinition, scopeID string) error {
	p, err := priority.New(def)
	if err != nil {
		return err
	}
	return p.Verify(ctx, s.gatewayFor(ctx), scopeID)
}
