// Package mapping converts between persisted rows and generic entities and
// runs the entity lifecycle: save, delete, copy and priority moves.
//
// Every write runs inside one gateway transaction: validation, hooks,
// cascades, priority renumbering and the row writes either all apply or
// none do. Events are published after the transaction commits.
//
// The Service is the model.Loader of the proxies and the model.Finder of
// the collections it creates, so relations are fetched lazily through it.
// Reads made with the context of an open write go through its
// transaction.
package mapping

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/language"

	"github.com/artpar/entitycore/core/events"
	"github.com/artpar/entitycore/core/expression"
	"github.com/artpar/entitycore/core/model"
	"github.com/artpar/entitycore/core/types"
	"github.com/artpar/entitycore/core/validation"
	"github.com/artpar/entitycore/ports"
)

// Operation names reported to the recorder.
const (
	OpGet    = "get"
	OpFind   = "find"
	OpSave   = "save"
	OpDelete = "delete"
	OpCopy   = "copy"
	OpMove   = "move"
)

// Results reported to the recorder.
const (
	ResultOK      = "ok"
	ResultInvalid = "invalid"
	ResultAborted = "aborted"
	ResultError   = "error"
)

// MsgAborted is recorded as a global error when a save hook vetoes without
// recording a reason of its own.
const MsgAborted = "validate.entity.error.aborted"

// errVetoed rolls back a save that failed validation or a hook. It never
// leaves the package.
var errVetoed = errors.New("save vetoed")

// Service maps entities of every definition known to its resolver.
type Service struct {
	gateway  ports.Gateway
	defs     ports.Resolver
	pipeline *validation.Pipeline
	idents   *expression.Cache
	events   events.Publisher
	recorder ports.Recorder
	now      func() time.Time
	locale   language.Tag
	logger   zerolog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithEvents publishes lifecycle events to p.
func WithEvents(p events.Publisher) Option {
	return func(s *Service) { s.events = p }
}

// WithRecorder reports operation outcomes to r.
func WithRecorder(r ports.Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithClock timestamps events with c.
func WithClock(c ports.Clock) Option {
	return func(s *Service) { s.now = c.Now }
}

// WithLocale sets the locale identifiers are rendered in.
func WithLocale(tag language.Tag) Option {
	return func(s *Service) { s.locale = tag }
}

// New creates a mapping service over gateway. defs resolves relation
// targets.
func New(gateway ports.Gateway, defs ports.Resolver, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		gateway:  gateway,
		defs:     defs,
		pipeline: validation.New(logger),
		idents:   expression.NewCache(),
		events:   events.Nop{},
		recorder: nopRecorder{},
		now:      func() time.Time { return time.Now().UTC() },
		locale:   language.English,
		logger:   logger.With().Str("component", "mapping").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type nopRecorder struct{}

func (nopRecorder) Operation(string, string, string, time.Duration) {}

// observe reports one operation. result is derived from err unless the
// caller already settled it.
func (s *Service) observe(def *model.DataDefinition, op string, start time.Time, result *string, err *error) {
	r := *result
	if r == "" {
		r = ResultOK
		if *err != nil {
			r = ResultError
			var aborted *model.AbortedError
			if errors.As(*err, &aborted) {
				r = ResultAborted
			}
			var invalid *model.CopyError
			if errors.As(*err, &invalid) {
				r = ResultInvalid
			}
		}
	}
	s.recorder.Operation(def.Ref().String(), op, r, time.Since(start))
}

func (s *Service) resolve(ref types.Ref) (*model.DataDefinition, error) {
	def, ok := s.defs.Lookup(ref)
	if !ok {
		return nil, &model.SchemaError{Definition: ref, Reason: "definition not registered or disabled"}
	}
	return def, nil
}

// ToGeneric converts a persisted row into an entity. Lazy belongs_to fields
// become proxies, eager ones are fetched; collections are bound to the row
// id and not queried.
func (s *Service) ToGeneric(ctx context.Context, def *model.DataDefinition, row *model.Row) (*model.Entity, error) {
	return s.session(s.gatewayFor(ctx)).toGeneric(ctx, def, row)
}

// ToPersisted merges the values present on e into a row. New entities get
// a fresh row; existing ones merge into existing, or into the stored row
// when existing is nil. Values that do not convert are recorded as field
// errors on e and left out of the row.
func (s *Service) ToPersisted(ctx context.Context, def *model.DataDefinition, e *model.Entity, existing *model.Row) (*model.Row, error) {
	return s.session(s.gatewayFor(ctx)).toPersisted(ctx, def, e, existing)
}

// Get fetches and converts one entity. A vetoing view hook returns an
// *model.AbortedError.
func (s *Service) Get(ctx context.Context, def *model.DataDefinition, id string) (e *model.Entity, err error) {
	var result string
	defer s.observe(def, OpGet, time.Now(), &result, &err)

	e, err = s.session(s.gatewayFor(ctx)).get(ctx, def, id)
	if err != nil {
		return nil, err
	}
	if !s.pipeline.RunHooks(ctx, model.HookView, model.PhaseBefore, e) {
		return nil, &model.AbortedError{Hook: model.HookView, Entity: e}
	}
	return e, nil
}

// Find returns the entities matching c plus the total match count ignoring
// paging. Entities vetoed by a view hook are left out of the page.
// Restriction values are converted through their field types first, so
// callers may pass text or entities.
func (s *Service) Find(ctx context.Context, def *model.DataDefinition, c *model.Criteria) (res model.SearchResult, err error) {
	var result string
	defer s.observe(def, OpFind, time.Now(), &result, &err)

	c, err = normalizeCriteria(def, c)
	if err != nil {
		return model.SearchResult{}, err
	}
	gw := s.gatewayFor(ctx)
	total, err := gw.Count(ctx, def, c.Unpaged())
	if err != nil {
		return model.SearchResult{}, err
	}
	rows, err := gw.Query(ctx, def, c)
	if err != nil {
		return model.SearchResult{}, err
	}

	sess := s.session(gw)
	res = model.SearchResult{Entities: make([]*model.Entity, 0, len(rows)), Total: total}
	for _, row := range rows {
		e, err := sess.toGeneric(ctx, def, row)
		if err != nil {
			return model.SearchResult{}, err
		}
		if !s.pipeline.RunHooks(ctx, model.HookView, model.PhaseBefore, e) {
			continue
		}
		res.Entities = append(res.Entities, e)
	}
	return res, nil
}

// Count returns the number of entities matching c.
func (s *Service) Count(ctx context.Context, def *model.DataDefinition, c *model.Criteria) (int, error) {
	c, err := normalizeCriteria(def, c)
	if err != nil {
		return 0, err
	}
	return s.gatewayFor(ctx).Count(ctx, def, c.Unpaged())
}

// Filter returns criteria preloaded with a predefined filter of def.
func (s *Service) Filter(def *model.DataDefinition, name string) (*model.Criteria, error) {
	f, ok := def.Filter(name)
	if !ok {
		return nil, &model.SchemaError{Definition: def.Ref(), Reason: fmt.Sprintf("unknown filter %q", name)}
	}
	return model.NewCriteria().Apply(f), nil
}

// Identifier renders the display string of e in the service locale.
func (s *Service) Identifier(ctx context.Context, e *model.Entity) (string, error) {
	return s.IdentifierIn(ctx, e, s.locale)
}

// IdentifierIn renders the display string of e in locale.
func (s *Service) IdentifierIn(ctx context.Context, e *model.Entity, locale language.Tag) (string, error) {
	id, err := s.idents.For(e.Definition())
	if err != nil {
		return "", err
	}
	return id.Render(ctx, e, locale)
}

// normalizeCriteria converts restriction values on the definition's own
// fields through their field types.
func normalizeCriteria(def *model.DataDefinition, c *model.Criteria) (*model.Criteria, error) {
	out := c.Clone()
	for i, r := range out.Restrictions {
		if r.Field == model.IDField || !def.HasField(r.Field) {
			continue
		}
		f, err := def.Field(r.Field)
		if err != nil {
			return nil, err
		}
		if f.Kind() == types.KindPassword || f.Kind().IsCollection() {
			continue
		}
		switch r.Op {
		case model.OpIsNull, model.OpIsNotNull, model.OpLike:
			continue
		case model.OpIn:
			values, _ := r.Value.([]any)
			converted := make([]any, len(values))
			for j, v := range values {
				converted[j] = normalizeValue(f, v)
			}
			r.Value = converted
		case model.OpBetween:
			r.Value = normalizeValue(f, r.Value)
			r.Upper = normalizeValue(f, r.Upper)
		default:
			r.Value = normalizeValue(f, r.Value)
		}
		out.Restrictions[i] = r
	}
	return out, nil
}

// normalizeValue converts v through f's type, keeping v when it does not
// convert so the gateway reports the mismatch.
func normalizeValue(f *model.FieldDefinition, v any) any {
	if v == nil {
		return nil
	}
	if f.Kind() == types.KindBelongsTo {
		return types.ReferenceID(v)
	}
	out, err := f.Type().ToObject(v)
	if err != nil || out == nil {
		return v
	}
	return out
}

var (
	_ model.Loader = (*Service)(nil)
	_ model.Finder = (*Service)(nil)
)
