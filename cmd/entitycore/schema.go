package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/artpar/entitycore/core/model"
)

func (c *cli) newSchemaCmd() *cobra.Command {
	schemaCmd := &cobra.Command{
		Use:   "schema",
		Short: "Inspect registered definitions",
	}
	schemaCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered definitions",
		Args:  cobra.NoArgs,
		RunE:  c.runSchemaList,
	})
	return schemaCmd
}

func (c *cli) runSchemaList(cmd *cobra.Command, args []string) error {
	app, err := c.openApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	defs := app.Registry.All()
	out := cmd.OutOrStdout()
	if len(defs) == 0 {
		fmt.Fprintf(out, "No definitions found in %s.\n", app.Config.Schemas.Dir)
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DEFINITION\tTABLE\tENABLED\tFIELDS")
	fmt.Fprintln(w, "----------\t-----\t-------\t------")
	for _, def := range defs {
		enabled := "yes"
		if !app.Registry.Enabled(def.Ref()) {
			enabled = "no"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", def.Ref(), def.TableName(), enabled, describeFields(def))
	}
	return w.Flush()
}

func describeFields(def *model.DataDefinition) string {
	parts := make([]string, 0, len(def.Fields()))
	for _, f := range def.Fields() {
		s := f.Name() + ":" + string(f.Kind())
		if f.Required() {
			s += "!"
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, " ")
}
