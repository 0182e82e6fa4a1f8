package bootstrap

import (
	"context"
	"regexp"

	"github.com/rs/zerolog"

	"github.com/artpar/entitycore/core/model"
	"github.com/artpar/entitycore/core/schema"
	"github.com/artpar/entitycore/core/validation"
)

// Names of the built-in catalog entries. Schemas refer to them like any
// plugin-provided hook or validator.
const (
	HookAuditLog  = "core.audit_log"
	HookReadOnly  = "core.read_only"
	ValidatorSlug = "core.slug"
)

// MsgReadOnly is recorded by the read-only hook.
const MsgReadOnly = "validate.entity.error.readonly"

// MsgSlug is recorded by the slug validator.
const MsgSlug = "validate.field.error.slug"

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// RegisterHooks registers the built-in hooks and validators with cat.
func RegisterHooks(cat *schema.Catalog, logger zerolog.Logger) {
	cat.RegisterHook(HookAuditLog, auditLog(logger))
	cat.RegisterHook(HookReadOnly, model.HookFunc(readOnly))
	cat.RegisterFieldValidator(ValidatorSlug, validation.With(MsgSlug, validation.Regex(slugPattern)))

	logger.Debug().Strs("names", cat.Names()).Msg("built-in hooks registered")
}

// auditLog logs every entity passing through the hook point. It never vetoes.
func auditLog(logger zerolog.Logger) model.Hook {
	log := logger.With().Str("component", "audit").Logger()
	return model.HookFunc(func(ctx context.Context, e *model.Entity) bool {
		log.Info().
			Str("definition", e.Definition().String()).
			Str("id", e.ID()).
			Msg("entity changed")
		return true
	})
}

// readOnly vetoes the operation with MsgReadOnly.
func readOnly(ctx context.Context, e *model.Entity) bool {
	e.AddGlobalError(MsgReadOnly)
	return false
}
