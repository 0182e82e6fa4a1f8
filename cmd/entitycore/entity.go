package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/artpar/entitycore/bootstrap"
	"github.com/artpar/entitycore/core/collection"
	"github.com/artpar/entitycore/core/formatter"
	"github.com/artpar/entitycore/core/model"
	"github.com/artpar/entitycore/core/types"
)

func (c *cli) newEntityCmd() *cobra.Command {
	entityCmd := &cobra.Command{
		Use:   "entity",
		Short: "Read and write entities",
		Long: `Read and write entities of a registered definition.

Definitions are named <plugin>.<model>. Field values are given as
field=value and parsed in the configured locale; an empty value clears
the field. Many-to-many fields take comma-separated ids.

Examples:
  entitycore entity create shop.customer name=Ada status=vip
  entitycore entity update shop.customer 0190c1 status=
  entitycore entity list shop.order --where customer=0190c1 --order -number
  entitycore entity get shop.customer 0190c1 -o json
  entitycore entity move plan.step 0190d4 -- -1
  entitycore entity tree plan.project 0190a2 steps`,
	}

	var output string
	entityCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "output format: "+strings.Join(formatter.List(), ", "))
	outputFormatter := func() (formatter.Formatter, error) {
		f, ok := formatter.Get(output)
		if !ok {
			return nil, fmt.Errorf("unknown output format %q", output)
		}
		return f, nil
	}

	var list listOptions
	listCmd := &cobra.Command{
		Use:   "list <definition>",
		Short: "List entities",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := outputFormatter()
			if err != nil {
				return err
			}
			return c.withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				return runEntityList(ctx, cmd.OutOrStdout(), app, args[0], list, f)
			})
		},
	}
	listCmd.Flags().StringVar(&list.filter, "filter", "", "predefined filter name")
	listCmd.Flags().StringArrayVar(&list.where, "where", nil, "restriction: field=value, field!=value, field~pattern, or field= for null")
	listCmd.Flags().StringArrayVar(&list.order, "order", nil, "order by field; prefix with - for descending")
	listCmd.Flags().IntVar(&list.first, "first", 0, "index of the first result")
	listCmd.Flags().IntVar(&list.limit, "limit", 0, "maximum number of results (0 for all)")
	listCmd.Flags().StringSliceVar(&list.columns, "columns", nil, "fields to show (default all)")
	listCmd.Flags().IntVar(&list.maxWidth, "max-width", 0, "truncate table values longer than this")

	entityCmd.AddCommand(
		&cobra.Command{
			Use:   "get <definition> <id>",
			Short: "Show one entity",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				f, err := outputFormatter()
				if err != nil {
					return err
				}
				return c.withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
					e, err := getEntity(ctx, app, args[0], args[1])
					if err != nil {
						return err
					}
					return printEntity(ctx, cmd.OutOrStdout(), app, e, f)
				})
			},
		},
		listCmd,
		&cobra.Command{
			Use:   "create <definition> [field=value...]",
			Short: "Create an entity",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
					def, err := app.Definition(args[0])
					if err != nil {
						return err
					}
					return saveEntity(ctx, cmd.OutOrStdout(), app, model.New(def), args[1:])
				})
			},
		},
		&cobra.Command{
			Use:   "update <definition> <id> field=value...",
			Short: "Update an entity",
			Args:  cobra.MinimumNArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
					e, err := getEntity(ctx, app, args[0], args[1])
					if err != nil {
						return err
					}
					return saveEntity(ctx, cmd.OutOrStdout(), app, e, args[2:])
				})
			},
		},
		&cobra.Command{
			Use:   "delete <definition> <id>",
			Short: "Delete an entity and cascade to its relations",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
					e, err := getEntity(ctx, app, args[0], args[1])
					if err != nil {
						return err
					}
					if err := app.Service.Delete(ctx, e); err != nil {
						return describeError(app, err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s %s\n", args[0], args[1])
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "copy <definition> <id>",
			Short: "Duplicate an entity and its copyable children",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
					e, err := getEntity(ctx, app, args[0], args[1])
					if err != nil {
						return err
					}
					dup, err := app.Service.Copy(ctx, e)
					if err != nil {
						return describeError(app, err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Copied %s %s to %s\n", args[0], args[1], dup.ID())
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "move <definition> <id> <offset>",
			Short: "Move an entity among its siblings by offset",
			Args:  cobra.ExactArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.runMove(cmd, args, false)
			},
		},
		&cobra.Command{
			Use:   "move-to <definition> <id> <position>",
			Short: "Move an entity to a priority position",
			Args:  cobra.ExactArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.runMove(cmd, args, true)
			},
		},
		&cobra.Command{
			Use:   "tree <definition> <id> <field>",
			Short: "Print a tree collection of an entity",
			Args:  cobra.ExactArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
					e, err := getEntity(ctx, app, args[0], args[1])
					if err != nil {
						return err
					}
					return printTree(ctx, cmd.OutOrStdout(), app, e, args[2])
				})
			},
		},
	)
	return entityCmd
}

// withApp opens the application for the duration of fn.
func (c *cli) withApp(cmd *cobra.Command, fn func(ctx context.Context, app *bootstrap.App) error) error {
	app, err := c.openApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(cmd.Context(), app)
}

func getEntity(ctx context.Context, app *bootstrap.App, ref, id string) (*model.Entity, error) {
	def, err := app.Definition(ref)
	if err != nil {
		return nil, err
	}
	e, err := app.Service.Get(ctx, def, id)
	if err != nil {
		return nil, describeError(app, err)
	}
	return e, nil
}

func saveEntity(ctx context.Context, out io.Writer, app *bootstrap.App, e *model.Entity, assignments []string) error {
	for _, a := range assignments {
		name, value, ok := strings.Cut(a, "=")
		if !ok || name == "" {
			return fmt.Errorf("invalid assignment %q, want field=value", a)
		}
		if err := assign(ctx, app, e, name, value); err != nil {
			return err
		}
	}

	creating := e.ID() == ""
	saved, err := app.Service.Save(ctx, e)
	if err != nil {
		return describeError(app, err)
	}
	if !saved.IsValid() {
		printErrors(out, app, saved)
		return errors.New("entity is invalid")
	}

	verb := "Updated"
	if creating {
		verb = "Created"
	}
	fmt.Fprintf(out, "%s %s %s\n", verb, saved.Definition().Ref(), saved.ID())
	return nil
}

// assign parses text through the field type and sets it on e.
func assign(ctx context.Context, app *bootstrap.App, e *model.Entity, name, text string) error {
	f, err := e.Definition().Field(name)
	if err != nil {
		return err
	}
	if text == "" {
		return e.SetField(ctx, name, nil)
	}
	switch f.Kind() {
	case types.KindManyToMany:
		return e.SetField(ctx, name, splitIDs(text))
	case types.KindHasMany, types.KindTree:
		return fmt.Errorf("field %s is a collection; assign the children instead", name)
	}
	v, err := parseValue(app, f, text)
	if err != nil {
		return err
	}
	return e.SetField(ctx, name, v)
}

func parseValue(app *bootstrap.App, f *model.FieldDefinition, text string) (any, error) {
	v, err := f.Type().FromString(text, app.Config.LocaleTag())
	if err != nil {
		var ce *types.ConversionError
		if errors.As(err, &ce) {
			return nil, fmt.Errorf("%s %s", f.Name(), app.Translate(model.Message{Key: ce.Key, Args: ce.Args}))
		}
		return nil, fmt.Errorf("%s: %w", f.Name(), err)
	}
	return v, nil
}

func splitIDs(text string) []string {
	var ids []string
	for _, id := range strings.Split(text, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// listOptions are the flags of entity list.
type listOptions struct {
	filter   string
	where    []string
	order    []string
	first    int
	limit    int
	columns  []string
	maxWidth int
}

func (o listOptions) criteria(app *bootstrap.App, def *model.DataDefinition) (*model.Criteria, error) {
	c := model.NewCriteria()
	if o.filter != "" {
		var err error
		if c, err = app.Service.Filter(def, o.filter); err != nil {
			return nil, err
		}
	}

	for _, w := range o.where {
		if err := restrict(app, def, c, w); err != nil {
			return nil, err
		}
	}
	for _, field := range o.order {
		if name, desc := strings.CutPrefix(field, "-"); desc {
			c.Desc(name)
		} else {
			c.Asc(field)
		}
	}
	if o.first > 0 || o.limit > 0 {
		c.Page(o.first, o.limit)
	}
	return c, nil
}

// restrict adds one --where expression to c. Values of the definition's
// own fields are parsed through their field types; values on aliased
// paths are passed as text.
func restrict(app *bootstrap.App, def *model.DataDefinition, c *model.Criteria, expr string) error {
	var field, value string
	var op model.Op
	switch {
	case strings.Contains(expr, "!="):
		field, value, _ = strings.Cut(expr, "!=")
		op = model.OpNe
	case strings.Contains(expr, "~"):
		field, value, _ = strings.Cut(expr, "~")
		c.Like(field, value)
		return nil
	case strings.Contains(expr, "="):
		field, value, _ = strings.Cut(expr, "=")
		op = model.OpEq
	default:
		return fmt.Errorf("invalid restriction %q", expr)
	}

	if value == "" {
		if op == model.OpNe {
			c.IsNotNull(field)
		} else {
			c.IsNull(field)
		}
		return nil
	}

	var v any = value
	if f, err := def.Field(field); err == nil && !f.Kind().IsCollection() {
		if v, err = parseValue(app, f, value); err != nil {
			return err
		}
	}
	if op == model.OpNe {
		c.Ne(field, v)
	} else {
		c.Eq(field, v)
	}
	return nil
}

func runEntityList(ctx context.Context, out io.Writer, app *bootstrap.App, ref string, opts listOptions, f formatter.Formatter) error {
	def, err := app.Definition(ref)
	if err != nil {
		return err
	}
	c, err := opts.criteria(app, def)
	if err != nil {
		return err
	}
	res, err := app.Service.Find(ctx, def, c)
	if err != nil {
		return describeError(app, err)
	}

	l, err := render(ctx, app, def, scalarFields(def), res.Entities)
	if err != nil {
		return err
	}
	l.Total = res.Total
	return f.FormatList(out, l, formatter.FormatOptions{Columns: opts.columns, MaxWidth: opts.maxWidth})
}

// render converts entities to a listing over the given fields.
func render(ctx context.Context, app *bootstrap.App, def *model.DataDefinition, fields []*model.FieldDefinition, entities []*model.Entity) (formatter.Listing, error) {
	l := formatter.Listing{Definition: def.Ref().String(), Total: len(entities)}
	for _, f := range fields {
		l.Columns = append(l.Columns, f.Name())
	}
	for _, e := range entities {
		ident, err := app.Service.Identifier(ctx, e)
		if err != nil {
			return l, err
		}
		r := formatter.Record{ID: e.ID(), Identifier: ident, Values: make(map[string]string, len(fields))}
		for _, f := range fields {
			if r.Values[f.Name()], err = formatField(ctx, app, e, f); err != nil {
				return l, err
			}
		}
		l.Records = append(l.Records, r)
	}
	return l, nil
}

// scalarFields are the fields shown as list columns: everything except
// collections.
func scalarFields(def *model.DataDefinition) []*model.FieldDefinition {
	var out []*model.FieldDefinition
	for _, f := range def.Fields() {
		if !f.Kind().IsCollection() {
			out = append(out, f)
		}
	}
	return out
}

func formatField(ctx context.Context, app *bootstrap.App, e *model.Entity, f *model.FieldDefinition) (string, error) {
	switch f.Kind() {
	case types.KindBelongsTo:
		return e.ReferenceID(ctx, f.Name())
	case types.KindManyToMany:
		c, err := e.CollectionField(ctx, f.Name())
		if err != nil {
			return "", err
		}
		if l, ok := c.(*collection.List); ok {
			return strings.Join(l.IDs(), ","), nil
		}
		return "", nil
	case types.KindHasMany, types.KindTree:
		c, err := e.CollectionField(ctx, f.Name())
		if err != nil {
			return "", err
		}
		n, err := c.Len(ctx)
		if err != nil {
			return "", err
		}
		return "(" + strconv.Itoa(n) + ")", nil
	}
	v, err := e.Field(ctx, f.Name())
	if err != nil {
		return "", err
	}
	return f.Type().ToString(v, app.Config.LocaleTag()), nil
}

func printEntity(ctx context.Context, out io.Writer, app *bootstrap.App, e *model.Entity, f formatter.Formatter) error {
	def := e.Definition()
	l, err := render(ctx, app, def, def.Fields(), []*model.Entity{e})
	if err != nil {
		return err
	}
	return f.FormatRecord(out, l, formatter.FormatOptions{})
}

func printTree(ctx context.Context, out io.Writer, app *bootstrap.App, e *model.Entity, field string) error {
	c, err := e.CollectionField(ctx, field)
	if err != nil {
		return err
	}
	tree, ok := c.(*collection.Tree)
	if !ok {
		return fmt.Errorf("field %s of %s is not a tree", field, e.Definition().Ref())
	}
	root, err := tree.Root(ctx)
	if err != nil {
		return describeError(app, err)
	}
	if root == nil {
		fmt.Fprintln(out, "(empty)")
		return nil
	}

	var walkErr error
	root.Walk(func(n *collection.Node) {
		if walkErr != nil {
			return
		}
		ident, err := app.Service.Identifier(ctx, n.Entity)
		if err != nil {
			walkErr = err
			return
		}
		fmt.Fprintf(out, "%s%s (%s)\n", strings.Repeat("  ", n.Depth()), ident, n.Entity.ID())
	})
	return walkErr
}

func (c *cli) runMove(cmd *cobra.Command, args []string, absolute bool) error {
	n, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid number %q: %w", args[2], err)
	}
	return c.withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
		e, err := getEntity(ctx, app, args[0], args[1])
		if err != nil {
			return err
		}
		var moved *model.Entity
		if absolute {
			moved, err = app.Service.MoveTo(ctx, e, n)
		} else {
			moved, err = app.Service.Move(ctx, e, n)
		}
		if err != nil {
			return describeError(app, err)
		}
		pos, err := moved.IntField(ctx, moved.Definition().PriorityField().Name())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Moved %s %s to position %d\n", args[0], args[1], pos)
		return nil
	})
}

func printErrors(out io.Writer, app *bootstrap.App, e *model.Entity) {
	for _, m := range e.GlobalErrors() {
		fmt.Fprintf(out, "  %s %s\n", crossMark, app.Translate(m))
	}
	for _, f := range e.Definition().Fields() {
		for _, m := range e.FieldErrors(f.Name()) {
			fmt.Fprintf(out, "  %s %s %s\n", crossMark, f.Name(), app.Translate(m))
		}
	}
}

// describeError renders hook vetoes and invalid copies with their
// translated messages.
func describeError(app *bootstrap.App, err error) error {
	var aborted *model.AbortedError
	if errors.As(err, &aborted) {
		return fmt.Errorf("%s hook rejected the operation%s", aborted.Hook, messages(app, aborted.Entity))
	}
	var invalid *model.CopyError
	if errors.As(err, &invalid) {
		return fmt.Errorf("copy of %s is invalid%s", invalid.SourceID, messages(app, invalid.Entity))
	}
	return err
}

func messages(app *bootstrap.App, e *model.Entity) string {
	var parts []string
	for _, m := range e.GlobalErrors() {
		parts = append(parts, app.Translate(m))
	}
	for _, f := range e.Definition().Fields() {
		for _, m := range e.FieldErrors(f.Name()) {
			parts = append(parts, f.Name()+" "+app.Translate(m))
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return ": " + strings.Join(parts, "; ")
}
