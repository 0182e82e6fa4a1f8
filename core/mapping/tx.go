package mapping

import (
	"context"

	"github.com/artpar/entitycore/ports"
)

type txKey struct{}

// inTx runs fn in a transaction of the service gateway, joining the one
// already open in ctx. The ctx handed to fn carries the transaction, so
// reads made through the service with it, proxies and collections
// included, see its uncommitted writes. Events queue until the outermost
// transaction commits.
//
// A joined call has no savepoint: its writes roll back only with the
// outer transaction.
func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context, ss *session) error) error {
	if outer := s.txSession(ctx); outer != nil {
		ss := s.session(outer.gw)
		if err := fn(ctx, ss); err != nil {
			return err
		}
		outer.pending = append(outer.pending, ss.pending...)
		return nil
	}

	var ss *session
	err := s.gateway.InTx(ctx, func(tx ports.Gateway) error {
		ss = s.session(tx)
		return fn(context.WithValue(ctx, txKey{}, ss), ss)
	})
	if err != nil {
		return err
	}
	ss.publish(ctx)
	return nil
}

// txSession returns the session of this service's transaction open in
// ctx, nil outside one.
func (s *Service) txSession(ctx context.Context) *session {
	ss, ok := ctx.Value(txKey{}).(*session)
	if !ok || ss.Service != s {
		return nil
	}
	return ss
}

// gatewayFor returns the gateway reads in ctx go through.
func (s *Service) gatewayFor(ctx context.Context) ports.Gateway {
	if ss := s.txSession(ctx); ss != nil {
		return ss.gw
	}
	return s.gateway
}
