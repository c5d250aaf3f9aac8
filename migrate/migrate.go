// Package migrate applies either a rendered solve.Plan as a single
// anonymous migration, or the set of user-registered migration
// functions, tracking which versions have been applied in a
// reserved-prefix state table.
package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/bearcove/dibs/errs"
	"github.com/bearcove/dibs/render"
	"github.com/bearcove/dibs/schema"
	"github.com/bearcove/dibs/solve"
)

// stateTable is the reserved-prefix table recording applied migration
// versions, named <reserved_prefix>migrations.
const stateTable = schema.InternalPrefix + "migrations"

// advisoryLockKey is the fixed 64-bit constant ("dibs" + version 1)
// the runner locks on so only one process migrates at a time.
const advisoryLockKey int64 = 0x64_69_62_73_00_00_00_01

var versionPattern = regexp.MustCompile(`^[0-9]{4}-[0-9]{2}-[0-9]{2}-[a-z0-9][a-z0-9-]*$`)

// MigrationFunc is a user-registered migration body. The ambient ctx
// is threaded through explicitly so Execute/Backfill calls can honor
// cancellation and timeouts without the function needing to stash it.
type MigrationFunc func(ctx context.Context, mc *MigrationContext) error

type registeredMigration struct {
	version string
	fn      MigrationFunc
}

var (
	registryMu sync.Mutex
	registry   []registeredMigration
	frozen     bool
)

// Register adds a migration to the registry. Call it from an init()
// function in a migrations package, one call per file, mirroring the
// original source's #[dibs::migration]/inventory::collect! model
// without requiring code generation. Panics if called after the
// registry has already been read by ApplyPendingMigrations.
func Register(version string, fn MigrationFunc) {
	if !versionPattern.MatchString(version) {
		panic(fmt.Sprintf("migrate: invalid migration version %q, want YYYY-MM-DD-<slug>", version))
	}

	registryMu.Lock()
	defer registryMu.Unlock()
	if frozen {
		panic(fmt.Sprintf("migrate: Register(%q) called after the migration registry was frozen", version))
	}
	registry = append(registry, registeredMigration{version: version, fn: fn})
}

// freeze locks in the registered migrations, sorted by version, and
// forbids any further Register calls. Safe to call more than once;
// later calls just re-read the already-frozen, already-sorted slice.
func freeze() []registeredMigration {
	registryMu.Lock()
	defer registryMu.Unlock()
	frozen = true
	out := make([]registeredMigration, len(registry))
	copy(out, registry)
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out
}

// MigrationContext is the handle a registered migration function
// receives to run statements and backfills inside its transaction.
type MigrationContext struct {
	tx *sql.Tx
}

// Execute runs a single statement within the migration's transaction.
func (mc *MigrationContext) Execute(ctx context.Context, query string, args ...any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := mc.tx.ExecContext(ctx, query, args...); err != nil {
		return wrapExecutionError(err, query)
	}
	return nil
}

// Backfill repeatedly invokes body, which should perform one bounded
// batch of work (e.g. an UPDATE ... LIMIT n) and report how many rows
// it touched, until body reports zero rows affected.
func (mc *MigrationContext) Backfill(ctx context.Context, body func() (rowsAffected int64, err error)) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := body()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
	}
}

// Options configures per-statement and per-migration timeouts.
// A zero Options applies no timeout beyond ctx's own deadline.
type Options struct {
	StatementTimeout time.Duration
	MigrationTimeout time.Duration
}

// ApplyPendingMigrations runs every registered migration whose
// version is not yet recorded in the state table, in ascending
// version order, each in its own transaction. It returns the versions
// it applied, in the order they were applied; a partial prefix is
// returned alongside the error if a migration fails midway.
func ApplyPendingMigrations(ctx context.Context, db *sql.DB, opts *Options) ([]string, error) {
	return applyPending(ctx, db, opts, freeze())
}

// applyPending does the work of ApplyPendingMigrations against an
// explicit, already-ordered migration list, so tests can exercise it
// without going through the process-wide Register/freeze registry.
func applyPending(ctx context.Context, db *sql.DB, opts *Options, registered []registeredMigration) ([]string, error) {
	if opts == nil {
		opts = &Options{}
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("migrate: acquire connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, advisoryLockKey); err != nil {
		return nil, fmt.Errorf("migrate: acquire advisory lock: %w", err)
	}
	defer conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, advisoryLockKey)

	if err := bootstrap(ctx, conn); err != nil {
		return nil, err
	}

	applied, err := appliedVersions(ctx, conn)
	if err != nil {
		return nil, err
	}

	var pending []registeredMigration
	for _, m := range registered {
		if !applied[m.version] {
			pending = append(pending, m)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].version < pending[j].version })

	var ran []string
	for _, m := range pending {
		if err := ctx.Err(); err != nil {
			return ran, err
		}

		migCtx := ctx
		var cancel context.CancelFunc
		if opts.MigrationTimeout > 0 {
			migCtx, cancel = context.WithTimeout(ctx, opts.MigrationTimeout)
		}
		err := runOne(migCtx, conn, m, opts.StatementTimeout)
		if cancel != nil {
			cancel()
		}
		if err != nil {
			return ran, fmt.Errorf("migrate: %s: %w", m.version, err)
		}
		ran = append(ran, m.version)
	}

	return ran, nil
}

func runOne(ctx context.Context, conn *sql.Conn, m registeredMigration, statementTimeout time.Duration) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	if statementTimeout > 0 {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`SET LOCAL statement_timeout = %d`, statementTimeout.Milliseconds())); err != nil {
			return err
		}
	}

	mc := &MigrationContext{tx: tx}
	if err := m.fn(ctx, mc); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s (version, applied_at) VALUES ($1, now())`, quoteTable(stateTable)), m.version); err != nil {
		return wrapExecutionError(err, "insert migration state row")
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// ApplyPlan runs every statement in a rendered plan within a single
// transaction, treating the whole plan as one anonymous migration: on
// success, no row is written to the state table, since a computed
// plan has no stable version to track.
func ApplyPlan(ctx context.Context, db *sql.DB, plan *solve.Plan) error {
	stmts, err := render.Render(plan)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	for _, stmt := range stmts {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return wrapExecutionError(err, stmt)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

func bootstrap(ctx context.Context, conn *sql.Conn) error {
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version text PRIMARY KEY,
			applied_at timestamptz NOT NULL DEFAULT now()
		);
	`, quoteTable(stateTable))
	if _, err := conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("migrate: bootstrap state table: %w", err)
	}
	return nil
}

func appliedVersions(ctx context.Context, conn *sql.Conn) (map[string]bool, error) {
	rows, err := conn.QueryContext(ctx, fmt.Sprintf(`SELECT version FROM %s`, quoteTable(stateTable)))
	if err != nil {
		return nil, fmt.Errorf("migrate: read applied versions: %w", err)
	}
	defer rows.Close()

	out := map[string]bool{}
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, &errs.StateError{Reason: fmt.Sprintf("could not scan version column: %v", err)}
		}
		if !versionPattern.MatchString(version) {
			return nil, &errs.StateError{Reason: fmt.Sprintf("applied version %q does not match YYYY-MM-DD-<slug>", version)}
		}
		out[version] = true
	}
	return out, rows.Err()
}

func quoteTable(name string) string {
	return `"` + name + `"`
}

func wrapExecutionError(err error, sql string) error {
	if pqErr, ok := err.(*pq.Error); ok {
		return &errs.ExecutionError{
			SQLState: string(pqErr.Code),
			Message:  pqErr.Message,
			Detail:   pqErr.Detail,
			Hint:     pqErr.Hint,
			SQL:      sql,
			Err:      err,
		}
	}
	return &errs.ExecutionError{Message: err.Error(), SQL: sql, Err: err}
}
