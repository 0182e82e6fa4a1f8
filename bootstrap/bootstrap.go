// Package bootstrap wires all dependencies of an entitycore application:
// the store, the type and definition registries, message catalogs, metrics
// and the mapping service.
package bootstrap

import (
	"context"
	_ "embed"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/text/language"

	"github.com/artpar/entitycore/adapters/clock"
	"github.com/artpar/entitycore/adapters/hasher"
	"github.com/artpar/entitycore/adapters/i18n"
	"github.com/artpar/entitycore/adapters/idgen"
	"github.com/artpar/entitycore/adapters/memory"
	"github.com/artpar/entitycore/adapters/metrics"
	"github.com/artpar/entitycore/config"
	"github.com/artpar/entitycore/core/events"
	"github.com/artpar/entitycore/core/mapping"
	"github.com/artpar/entitycore/core/model"
	"github.com/artpar/entitycore/core/registry"
	"github.com/artpar/entitycore/core/schema"
	"github.com/artpar/entitycore/core/storage"
	"github.com/artpar/entitycore/core/types"
	"github.com/artpar/entitycore/ports"
)

//go:embed messages/en.yaml
var defaultMessages []byte

// App represents a wired application.
type App struct {
	Logger   zerolog.Logger
	Config   *config.Config
	Store    ports.Store
	Types    *types.Registry
	Catalog  *schema.Catalog
	Messages *i18n.Catalog
	Registry *registry.Registry
	Events   *events.Bus
	Service  *mapping.Service

	// Metrics is nil unless metrics are enabled.
	Metrics *metrics.Collector
	// Gatherer collects the metrics of this application only.
	Gatherer prometheus.Gatherer

	holder *config.Holder
}

// Option customizes New.
type Option func(*options)

type options struct {
	catalog *schema.Catalog
	hasher  types.Hasher
	clock   ports.Clock
}

// WithCatalog uses cat for schema hooks and validators. Plugins register
// their own entries in it before calling New; the built-ins are added on
// top.
func WithCatalog(cat *schema.Catalog) Option {
	return func(o *options) { o.catalog = cat }
}

// WithHasher replaces the bcrypt password hasher.
func WithHasher(h types.Hasher) Option {
	return func(o *options) { o.hasher = h }
}

// WithClock replaces the wall clock.
func WithClock(c ports.Clock) Option {
	return func(o *options) { o.clock = c }
}

// New creates and initializes the application.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts ...Option) (*App, error) {
	o := options{clock: clock.Real{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.catalog == nil {
		o.catalog = schema.NewCatalog()
	}
	if o.hasher == nil {
		o.hasher = hasher.NewBcrypt(cfg.Passwords.BcryptCost)
	}

	logger.Info().Str("driver", cfg.Database.Driver).Msg("initializing entitycore")

	a := &App{
		Logger:   logger,
		Config:   cfg,
		Catalog:  o.catalog,
		Registry: registry.New(logger),
		Events:   events.NewBus(logger),
	}

	if err := a.initMessages(); err != nil {
		return nil, fmt.Errorf("init messages: %w", err)
	}

	a.Types = types.NewRegistry(o.hasher, a.Messages)
	RegisterHooks(a.Catalog, logger)

	defs, err := LoadDefinitions(cfg.Schemas.Dir, a.Types, a.Catalog)
	if err != nil {
		return nil, err
	}
	if len(defs) == 0 {
		logger.Warn().Str("dir", cfg.Schemas.Dir).Msg("no schemas found")
	}
	if err := a.Registry.Register(defs...); err != nil {
		return nil, fmt.Errorf("register definitions: %w", err)
	}
	for _, issue := range a.Registry.Lint() {
		logger.Warn().Str("issue", issue.String()).Msg("schema lint")
	}

	store, err := openStore(cfg.Database, a.Registry, o.clock, logger)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	a.Store = store

	if err := ensureSchemas(ctx, store, a.Registry, logger); err != nil {
		store.Close()
		return nil, err
	}

	togglePlugins(a.Registry, cfg.PluginEnabled)

	svcOpts := []mapping.Option{
		mapping.WithEvents(a.Events),
		mapping.WithClock(o.clock),
		mapping.WithLocale(cfg.LocaleTag()),
	}

	reg := prometheus.NewRegistry()
	a.Gatherer = reg
	if cfg.Metrics.Enabled {
		a.Metrics = metrics.NewWithRegistry(reg, cfg.Metrics.Namespace)
		a.Metrics.DefinitionsEnabled.Set(float64(len(a.Registry.List())))
		a.Events.Subscribe("*", func(_ context.Context, e events.Event) error {
			a.Metrics.EventsPublished.WithLabelValues(e.Action).Inc()
			return nil
		})
		svcOpts = append(svcOpts, mapping.WithRecorder(a.Metrics))
		logger.Info().Str("namespace", cfg.Metrics.Namespace).Msg("prometheus metrics enabled")
	}

	a.Service = mapping.New(store, a.Registry, logger, svcOpts...)

	logger.Info().
		Int("definitions", len(a.Registry.All())).
		Int("enabled", len(a.Registry.List())).
		Msg("entitycore ready")
	return a, nil
}

func (a *App) initMessages() error {
	a.Messages = i18n.New(language.English)
	if err := a.Messages.LoadYAML(language.English, defaultMessages); err != nil {
		return err
	}
	if dir := a.Config.Messages.Dir; dir != "" {
		if err := a.Messages.LoadDir(dir); err != nil {
			return err
		}
	}
	return nil
}

// openStore builds the gateway named by the database config.
func openStore(cfg config.DatabaseConfig, defs ports.Resolver, c ports.Clock, logger zerolog.Logger) (ports.Store, error) {
	if cfg.Driver == "memory" {
		return memory.New(idgen.NewULID(c), c, defs), nil
	}

	dialect, err := storage.DialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}
	opts := []storage.Option{
		storage.WithResolver(defs),
		storage.WithClock(c),
		storage.WithLogger(logger),
	}
	switch dialect.Name {
	case storage.SQLite.Name:
		return storage.NewSQLite(cfg.DSN, opts...)
	default:
		return storage.NewPostgres(cfg.DSN, opts...)
	}
}

// Definition resolves an enabled definition from "plugin.model".
func (a *App) Definition(ref string) (*model.DataDefinition, error) {
	r, err := types.ParseRef(ref, "")
	if err != nil {
		return nil, err
	}
	return a.Registry.Resolve(r)
}

// Translate renders an entity message in the configured locale.
func (a *App) Translate(m model.Message) string {
	return a.Messages.Translate(a.Config.LocaleTag(), m.Key, m.Args...)
}

// WatchConfig applies reloadable settings from holder: plugin toggles and
// the log level. Metrics, when enabled, count the reloads.
func (a *App) WatchConfig(holder *config.Holder) {
	a.holder = holder
	holder.OnChange(func(cfg *config.Config) {
		if n := togglePlugins(a.Registry, cfg.PluginEnabled); n > 0 && a.Metrics != nil {
			a.Metrics.DefinitionsEnabled.Set(float64(len(a.Registry.List())))
		}
		if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
			zerolog.SetGlobalLevel(level)
		}
	})
	if a.Metrics != nil {
		holder.OnReload(a.Metrics.ConfigReloaded)
	}
}

// Close releases the store and stops config watching. When a metrics
// textfile is configured, the final metrics are written to it first.
func (a *App) Close() error {
	if a.holder != nil {
		a.holder.Stop()
	}
	if a.Metrics != nil && a.Config.Metrics.Textfile != "" {
		if err := metrics.WriteTextfile(a.Config.Metrics.Textfile, a.Gatherer); err != nil {
			a.Logger.Error().Err(err).Str("path", a.Config.Metrics.Textfile).Msg("metrics textfile write error")
		}
	}
	if a.Store == nil {
		return nil
	}
	return a.Store.Close()
}

// SetupLogger creates the logger described by cfg and sets the global
// level. Output goes to w, stdout when nil.
func SetupLogger(cfg config.LoggingConfig, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stdout
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}

	return zerolog.New(w).With().Timestamp().Logger()
}
