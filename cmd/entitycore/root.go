package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/artpar/entitycore/bootstrap"
	"github.com/artpar/entitycore/config"
)

const (
	checkMark = "\033[32m✓\033[0m"
	crossMark = "\033[31m✗\033[0m"
)

// cli holds the global flags shared by every command.
type cli struct {
	cfgFile string
}

// newRootCmd builds the command tree.
func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "entitycore",
		Short: "Schema-driven entity persistence",
		Long: `entitycore maps schema-defined entities onto SQLite, Postgres or an
in-memory store.

Schemas are YAML files, one model per file. The configuration names the
schema directory and the database.

Examples:
  entitycore validate ./schemas
  entitycore schema list
  entitycore entity create shop.customer name=Ada
  entitycore entity list shop.order --order -number`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&c.cfgFile, "config", "c", "entitycore.yaml", "config file path")

	root.AddCommand(
		c.newValidateCmd(),
		c.newSchemaCmd(),
		c.newEntityCmd(),
		c.newPriorityCmd(),
		newVersionCmd(),
	)
	return root
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the config file, falling back to ENTITYCORE_*
// variables when it does not exist.
func (c *cli) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithFallback(c.cfgFile)
	if err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	return cfg, nil
}

// openApp wires the application. Logs go to stderr so command output
// stays parseable.
func (c *cli) openApp(cmd *cobra.Command) (*bootstrap.App, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}
	logger := bootstrap.SetupLogger(cfg.Logging, cmd.ErrOrStderr())
	return bootstrap.New(cmd.Context(), cfg, logger)
}
