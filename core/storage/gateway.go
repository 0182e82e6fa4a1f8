package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/artpar/entitycore/core/model"
	"github.com/artpar/entitycore/ports"
)

// ErrUniqueViolation reports a write rejected by a unique index.
var ErrUniqueViolation = errors.New("unique constraint violated")

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Gateway implements ports.Store on database/sql.
type Gateway struct {
	db      *sql.DB
	q       querier
	tx      *sql.Tx
	dialect Dialect

	defs   ports.Resolver
	newID  func() string
	now    func() time.Time
	logger zerolog.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithResolver sets the resolver used for alias joins.
func WithResolver(defs ports.Resolver) Option {
	return func(g *Gateway) { g.defs = defs }
}

// WithIDs replaces the default UUID ids.
func WithIDs(ids ports.IDGenerator) Option {
	return func(g *Gateway) { g.newID = ids.New }
}

// WithClock sets the clock for row timestamps.
func WithClock(c ports.Clock) Option {
	return func(g *Gateway) { g.now = c.Now }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(g *Gateway) { g.logger = logger.With().Str("component", "storage").Logger() }
}

// New returns a gateway on db. The gateway owns db and closes it.
func New(db *sql.DB, d Dialect, opts ...Option) *Gateway {
	g := &Gateway{
		db:      db,
		q:       db,
		dialect: d,
		newID:   uuid.NewString,
		now:     time.Now,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Dialect returns the gateway's dialect.
func (g *Gateway) Dialect() Dialect { return g.dialect }

// DB returns the underlying database connection.
func (g *Gateway) DB() *sql.DB { return g.db }

// Close closes the database connection.
func (g *Gateway) Close() error { return g.db.Close() }

func failure(op string, def *model.DataDefinition, err error) error {
	if pgUnique(err) || sqliteUniqueViolation(err) {
		err = fmt.Errorf("%w: %v", ErrUniqueViolation, err)
	}
	return &model.PersistenceError{Op: op, Definition: def.Ref(), Err: err}
}

// EnsureSchema creates the table of def, adds columns declared since the
// table was created and creates its indexes.
func (g *Gateway) EnsureSchema(ctx context.Context, def *model.DataDefinition) error {
	if _, err := g.q.ExecContext(ctx, BuildCreateTableSQL(def, g.dialect)); err != nil {
		return failure("create table", def, err)
	}

	existing, err := g.existingColumns(ctx, def)
	if err != nil {
		return failure("inspect table", def, err)
	}
	for _, f := range def.Fields() {
		if !f.Persistent() || existing[f.Name()] {
			continue
		}
		if _, err := g.q.ExecContext(ctx, BuildAddColumnSQL(def, f, g.dialect)); err != nil {
			return failure("add column", def, err)
		}
		g.logger.Info().
			Str("table", def.TableName()).
			Str("column", f.Name()).
			Msg("column added")
	}

	for _, indexSQL := range BuildIndexSQL(def) {
		if _, err := g.q.ExecContext(ctx, indexSQL); err != nil {
			return failure("create index", def, err)
		}
	}
	return nil
}

func (g *Gateway) existingColumns(ctx context.Context, def *model.DataDefinition) (map[string]bool, error) {
	rows, err := g.q.QueryContext(ctx, "SELECT * FROM "+quote(def.TableName())+" LIMIT 0")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out, rows.Err()
}

func selectColumns(def *model.DataDefinition) string {
	cols := []string{colID, colCreatedAt, colUpdatedAt}
	for _, c := range def.Columns() {
		cols = append(cols, c.Name)
	}
	for i, c := range cols {
		cols[i] = tableAlias + "." + quote(c)
	}
	return strings.Join(cols, ", ")
}

type scanner interface {
	Scan(dest ...any) error
}

func (g *Gateway) scan(def *model.DataDefinition, s scanner) (*model.Row, error) {
	columns := def.Columns()
	values := make([]any, len(columns)+3)
	dest := make([]any, len(values))
	for i := range values {
		dest[i] = &values[i]
	}
	if err := s.Scan(dest...); err != nil {
		return nil, err
	}

	row := def.NewRow()
	id, err := decode("", values[0])
	if err != nil {
		return nil, err
	}
	row.ID = id.(string)
	if row.CreatedAt, err = decodeTime(values[1]); err != nil {
		return nil, err
	}
	if row.UpdatedAt, err = decodeTime(values[2]); err != nil {
		return nil, err
	}
	for i, col := range columns {
		v, err := decode(col.Kind, values[i+3])
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", col.Name, err)
		}
		row.Slots[i] = v
	}
	return row, nil
}

// FetchByID returns the stored row or model.ErrNotFound.
func (g *Gateway) FetchByID(ctx context.Context, def *model.DataDefinition, id string) (*model.Row, error) {
	query := fmt.Sprintf("SELECT %s FROM %s AS %s WHERE %s.%s = %s",
		selectColumns(def), quote(def.TableName()), tableAlias, tableAlias, quote(colID), g.dialect.placeholder(1))

	row, err := g.scan(def, g.q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %q: %w", def, id, model.ErrNotFound)
	}
	if err != nil {
		return nil, failure("fetch", def, err)
	}
	return row, nil
}

// Query returns the rows matching c in c's order.
func (g *Gateway) Query(ctx context.Context, def *model.DataDefinition, c *model.Criteria) ([]*model.Row, error) {
	q, err := g.newQuery(def, c)
	if err != nil {
		return nil, err
	}
	where, err := q.where()
	if err != nil {
		return nil, err
	}
	order, err := q.orderBy()
	if err != nil {
		return nil, err
	}
	querySQL := "SELECT " + selectColumns(def) + " FROM " + q.from() + where + order + q.limit()

	rows, err := g.q.QueryContext(ctx, querySQL, q.args...)
	if err != nil {
		return nil, failure("query", def, err)
	}
	defer rows.Close()

	var out []*model.Row
	for rows.Next() {
		row, err := g.scan(def, rows)
		if err != nil {
			return nil, failure("query", def, err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, failure("query", def, err)
	}
	return out, nil
}

// Count returns the number of rows matching c, ignoring paging.
func (g *Gateway) Count(ctx context.Context, def *model.DataDefinition, c *model.Criteria) (int, error) {
	q, err := g.newQuery(def, c)
	if err != nil {
		return 0, err
	}
	where, err := q.where()
	if err != nil {
		return 0, err
	}
	var count int
	if err := g.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+q.from()+where, q.args...).Scan(&count); err != nil {
		return 0, failure("count", def, err)
	}
	return count, nil
}

// Persist inserts a row with an empty or unknown ID and updates an
// existing one. It returns the row as stored.
func (g *Gateway) Persist(ctx context.Context, def *model.DataDefinition, row *model.Row) (*model.Row, error) {
	stored := row.Clone()
	if n := len(def.Columns()); len(stored.Slots) < n {
		stored.Slots = append(stored.Slots, make([]any, n-len(stored.Slots))...)
	}
	now := g.now().UTC()
	stored.UpdatedAt = now

	if stored.ID != "" {
		updated, err := g.update(ctx, def, stored)
		if err != nil {
			return nil, failure("update", def, err)
		}
		if updated {
			return g.FetchByID(ctx, def, stored.ID)
		}
	} else {
		stored.ID = g.newID()
	}

	stored.CreatedAt = now
	if err := g.insert(ctx, def, stored); err != nil {
		return nil, failure("insert", def, err)
	}
	return g.FetchByID(ctx, def, stored.ID)
}

func (g *Gateway) insert(ctx context.Context, def *model.DataDefinition, row *model.Row) error {
	columns := []string{quote(colID), quote(colCreatedAt), quote(colUpdatedAt)}
	values := []any{row.ID, g.dialect.encodeTime(row.CreatedAt), g.dialect.encodeTime(row.UpdatedAt)}
	for i, col := range def.Columns() {
		v, err := g.dialect.encode(col.Kind, row.Slots[i])
		if err != nil {
			return fmt.Errorf("column %s: %w", col.Name, err)
		}
		columns = append(columns, quote(col.Name))
		values = append(values, v)
	}
	placeholders := make([]string, len(values))
	for i := range values {
		placeholders[i] = g.dialect.placeholder(i + 1)
	}

	insertSQL := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		quote(def.TableName()),
		strings.Join(columns, ", "),
		strings.Join(placeholders, ", "),
	)
	_, err := g.q.ExecContext(ctx, insertSQL, values...)
	return err
}

// update writes every column of row and reports whether the row existed.
func (g *Gateway) update(ctx context.Context, def *model.DataDefinition, row *model.Row) (bool, error) {
	sets := []string{quote(colUpdatedAt) + " = " + g.dialect.placeholder(1)}
	values := []any{g.dialect.encodeTime(row.UpdatedAt)}
	for i, col := range def.Columns() {
		v, err := g.dialect.encode(col.Kind, row.Slots[i])
		if err != nil {
			return false, fmt.Errorf("column %s: %w", col.Name, err)
		}
		values = append(values, v)
		sets = append(sets, quote(col.Name)+" = "+g.dialect.placeholder(len(values)))
	}
	values = append(values, row.ID)

	updateSQL := fmt.Sprintf(
		"UPDATE %s SET %s WHERE %s = %s",
		quote(def.TableName()),
		strings.Join(sets, ", "),
		quote(colID), g.dialect.placeholder(len(values)),
	)
	result, err := g.q.ExecContext(ctx, updateSQL, values...)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// Remove deletes a row. Removing a missing row returns model.ErrNotFound.
func (g *Gateway) Remove(ctx context.Context, def *model.DataDefinition, row *model.Row) error {
	deleteSQL := fmt.Sprintf("DELETE FROM %s WHERE %s = %s", quote(def.TableName()), quote(colID), g.dialect.placeholder(1))

	result, err := g.q.ExecContext(ctx, deleteSQL, row.ID)
	if err != nil {
		return failure("delete", def, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return failure("delete", def, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s %q: %w", def, row.ID, model.ErrNotFound)
	}
	return nil
}

// InTx runs fn in a database transaction. Nested calls join the outer
// transaction.
func (g *Gateway) InTx(ctx context.Context, fn func(tx ports.Gateway) error) (err error) {
	if g.tx != nil {
		return fn(g)
	}
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				g.logger.Error().Err(rbErr).Msg("rollback failed")
			}
		}
	}()

	scoped := *g
	scoped.q, scoped.tx = tx, tx
	if err := fn(&scoped); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	committed = true
	return nil
}

// LockScope holds key until the transaction ends. Outside a transaction,
// or on a dialect whose write transactions already run one at a time, it
// does nothing.
func (g *Gateway) LockScope(ctx context.Context, key string) error {
	if g.tx == nil || g.dialect.lockScope == "" {
		return nil
	}
	if _, err := g.q.ExecContext(ctx, g.dialect.lockScope, key); err != nil {
		return fmt.Errorf("lock scope %q: %w", key, err)
	}
	return nil
}

var (
	_ ports.Store       = (*Gateway)(nil)
	_ ports.ScopeLocker = (*Gateway)(nil)
)
