package main

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"

	"github.com/artpar/entitycore/adapters/hasher"
	"github.com/artpar/entitycore/adapters/i18n"
	"github.com/artpar/entitycore/bootstrap"
	"github.com/artpar/entitycore/core/model"
	"github.com/artpar/entitycore/core/registry"
	"github.com/artpar/entitycore/core/schema"
	"github.com/artpar/entitycore/core/types"
)

func (c *cli) newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [dir]",
		Short: "Validate schema definitions before deployment",
		Long: `Validate the schema files of a directory.

Checks:
  - YAML syntax and model structure of every file
  - Field types, hooks and validators resolve
  - Definitions do not collide
  - Relations point at registered definitions and back

The directory defaults to schemas.dir from the configuration.

Examples:
  entitycore validate
  entitycore validate ./schemas`,
		Args: cobra.MaximumNArgs(1),
		RunE: c.runValidate,
	}
}

func (c *cli) runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	dir := cfg.Schemas.Dir
	if len(args) == 1 {
		dir = args[0]
	}

	fmt.Fprintf(out, "Validating %s...\n\n", dir)

	var models []schema.Model
	var failed int
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if ext := filepath.Ext(path); ext != ".yaml" && ext != ".yml" {
			return nil
		}
		m, err := schema.ParseFile(path)
		if err != nil {
			fmt.Fprintf(out, "  %s %v\n", crossMark, err)
			failed++
			return nil
		}
		fmt.Fprintf(out, "  %s %s.%s parsed (%s)\n", checkMark, m.Plugin, m.Name, filepath.Base(path))
		models = append(models, m)
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(out, "  %s Schema directory exists\n", crossMark)
		return fmt.Errorf("schema directory not found: %s", dir)
	}
	if err != nil {
		return fmt.Errorf("read schemas: %w", err)
	}

	cat := schema.NewCatalog()
	bootstrap.RegisterHooks(cat, zerolog.Nop())
	typeReg := types.NewRegistry(hasher.NewBcrypt(cfg.Passwords.BcryptCost), i18n.New(language.English))

	var defs []*model.DataDefinition
	for _, m := range models {
		def, err := schema.Compile(m, typeReg, cat)
		if err != nil {
			fmt.Fprintf(out, "  %s %s.%s: %v\n", crossMark, m.Plugin, m.Name, err)
			failed++
			continue
		}
		defs = append(defs, def)
	}
	if failed == 0 {
		fmt.Fprintf(out, "  %s Compiled %d definitions\n", checkMark, len(defs))
	}

	reg := registry.New(zerolog.Nop())
	if err := reg.Register(defs...); err != nil {
		fmt.Fprintf(out, "  %s %v\n", crossMark, err)
		failed++
	} else if issues := reg.Lint(); len(issues) > 0 {
		for _, issue := range issues {
			fmt.Fprintf(out, "  %s %s\n", crossMark, issue)
		}
		failed += len(issues)
	} else {
		fmt.Fprintf(out, "  %s Relations consistent\n", checkMark)
	}

	fmt.Fprintln(out)
	if failed > 0 {
		return fmt.Errorf("%d schema problem(s) found", failed)
	}
	fmt.Fprintln(out, "Schemas are valid.")
	return nil
}
