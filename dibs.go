// Package dibs ties introspection, diffing, solving, rendering, and
// migration execution into the operations an external driver (CLI,
// TUI, UI) calls. Grounded on the teacher's root sqldef.go, which
// plays the same orchestration role for the MySQL/Postgres/MSSQL/
// SQLite generator pipeline.
package dibs

import (
	"context"
	"database/sql"

	"github.com/bearcove/dibs/diff"
	"github.com/bearcove/dibs/introspect"
	"github.com/bearcove/dibs/migrate"
	"github.com/bearcove/dibs/render"
	"github.com/bearcove/dibs/schema"
	"github.com/bearcove/dibs/solve"
)

// CollectDeclared builds a declared schema.Schema by invoking fn
// against a fresh schema.Builder. fn is supplied by the external
// driver (e.g. cmd/dibs reading a schema-definition file or package);
// this core only specifies the builder shape, not how declarations are
// authored.
func CollectDeclared(fn func(b *schema.Builder)) *schema.Schema {
	b := schema.NewBuilder()
	fn(b)
	return b.Build()
}

// Introspect reads the live schema of targetSchema from db.
func Introspect(ctx context.Context, db *sql.DB, targetSchema string) (*schema.Schema, error) {
	return introspect.Introspect(ctx, db, targetSchema)
}

// Diff computes the ChangeSet that reconciles live toward declared.
func Diff(declared, live *schema.Schema) *solve.ChangeSet {
	return diff.Diff(declared, live)
}

// Solve orders a ChangeSet into a verified Plan against live,
// resolving rename cycles and checking every change's preconditions
// along the way.
func Solve(cs *solve.ChangeSet, live, declared *schema.Schema, opts *solve.Options) (*solve.Plan, error) {
	return solve.Solve(cs, live, declared, opts)
}

// Render turns a solved Plan into the SQL statements that implement
// it, one statement per slice entry.
func Render(plan *solve.Plan) ([]string, error) {
	return render.Render(plan)
}

// ApplyPlan runs every statement of a rendered Plan in a single
// transaction. No row is recorded in the migration state table: a
// computed plan has no stable version to track.
func ApplyPlan(ctx context.Context, db *sql.DB, plan *solve.Plan) error {
	return migrate.ApplyPlan(ctx, db, plan)
}

// ApplyPendingMigrations runs every registered user migration not yet
// recorded in the migration state table, in ascending version order.
func ApplyPendingMigrations(ctx context.Context, db *sql.DB, opts *migrate.Options) ([]string, error) {
	return migrate.ApplyPendingMigrations(ctx, db, opts)
}

// Reconcile runs the full pipeline from a live connection and a
// declared schema through to a verified, rendered Plan, without
// applying it. This is the shared core of cmd/dibs's --dry-run and
// apply code paths: they differ only in what they do with the
// returned Plan. (--export renders from Introspect and Render
// directly.) opts may be nil; its Trace func, if set, is
// invoked by Solve after every successfully applied change, letting a
// CLI's --debug flag observe the solver step by step.
func Reconcile(ctx context.Context, db *sql.DB, targetSchema string, declared *schema.Schema, opts *solve.Options) (*solve.Plan, []string, error) {
	live, err := Introspect(ctx, db, targetSchema)
	if err != nil {
		return nil, nil, err
	}

	cs := Diff(declared, live)

	plan, err := Solve(cs, live, declared, opts)
	if err != nil {
		return nil, nil, err
	}

	stmts, err := Render(plan)
	if err != nil {
		return nil, nil, err
	}

	return plan, stmts, nil
}
