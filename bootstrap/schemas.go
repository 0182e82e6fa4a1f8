package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"

	"github.com/rs/zerolog"

	"github.com/artpar/entitycore/core/model"
	"github.com/artpar/entitycore/core/registry"
	"github.com/artpar/entitycore/core/schema"
	"github.com/artpar/entitycore/core/types"
	"github.com/artpar/entitycore/ports"
)

// LoadDefinitions parses and compiles every model under dir. A missing
// directory yields no definitions.
func LoadDefinitions(dir string, typeReg *types.Registry, cat *schema.Catalog) ([]*model.DataDefinition, error) {
	models, err := schema.ParseDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("parse schemas: %w", err)
	}

	defs, err := schema.CompileAll(models, typeReg, cat)
	if err != nil {
		return nil, fmt.Errorf("compile schemas: %w", err)
	}
	return defs, nil
}

// ensureSchemas creates or extends the storage of every registered
// definition, disabled ones included.
func ensureSchemas(ctx context.Context, store ports.SchemaManager, reg *registry.Registry, logger zerolog.Logger) error {
	for _, def := range reg.All() {
		if err := store.EnsureSchema(ctx, def); err != nil {
			return fmt.Errorf("ensure schema %s: %w", def.Ref(), err)
		}
		logger.Debug().Str("definition", def.Ref().String()).Str("table", def.TableName()).Msg("schema ready")
	}
	return nil
}

// Plugins returns the plugin names of every registered definition, sorted.
func Plugins(reg *registry.Registry) []string {
	seen := make(map[string]bool)
	var plugins []string
	for _, def := range reg.All() {
		if !seen[def.Plugin()] {
			seen[def.Plugin()] = true
			plugins = append(plugins, def.Plugin())
		}
	}
	sort.Strings(plugins)
	return plugins
}

// pluginEnabled reports whether any definition of plugin is enabled.
func pluginEnabled(reg *registry.Registry, plugin string) bool {
	for _, def := range reg.All() {
		if def.Plugin() == plugin && reg.Enabled(def.Ref()) {
			return true
		}
	}
	return false
}

// togglePlugins enables or disables each registered plugin to match the
// configuration. It returns the number of plugins toggled.
func togglePlugins(reg *registry.Registry, enabled func(plugin string) bool) int {
	var n int
	for _, plugin := range Plugins(reg) {
		want := enabled(plugin)
		if pluginEnabled(reg, plugin) == want {
			continue
		}
		if want {
			reg.EnablePlugin(plugin)
		} else {
			reg.DisablePlugin(plugin)
		}
		n++
	}
	return n
}
