package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/artpar/entitycore/bootstrap"
)

func (c *cli) newPriorityCmd() *cobra.Command {
	priorityCmd := &cobra.Command{
		Use:   "priority",
		Short: "Maintain sibling ordering",
	}
	priorityCmd.AddCommand(&cobra.Command{
		Use:   "check <definition> [scope-id]",
		Short: "Verify that siblings hold the priorities 1..N",
		Long: `Verify the priority sequence of one scope.

For scoped priorities pass the id of the owning entity; leave it out for
definitions whose priority is global.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope := ""
			if len(args) == 2 {
				scope = args[1]
			}
			return c.withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				def, err := app.Definition(args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if err := app.Service.VerifyPriorities(ctx, def, scope); err != nil {
					fmt.Fprintf(out, "  %s %v\n", crossMark, err)
					return fmt.Errorf("priorities of %s are inconsistent", def.Ref())
				}
				fmt.Fprintf(out, "  %s Priorities of %s are consistent\n", checkMark, def.Ref())
				return nil
			})
		},
	})
	return priorityCmd
}
