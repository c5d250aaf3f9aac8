package migrate

import (
	"context"
	"fmt"
	"testing"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bearcove/dibs/schema"
	"github.com/bearcove/dibs/solve"
	"github.com/bearcove/dibs/testutil"
)

func TestRegisterRejectsMalformedVersion(t *testing.T) {
	assert.Panics(t, func() {
		Register("not-a-version", func(ctx context.Context, mc *MigrationContext) error { return nil })
	})
}

func TestBackfillStopsOnZeroRowsAffected(t *testing.T) {
	mc := &MigrationContext{}
	calls := 0
	remaining := []int64{5, 5, 2, 0}
	err := mc.Backfill(context.Background(), func() (int64, error) {
		n := remaining[calls]
		calls++
		return n, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 4, calls)
}

func TestBackfillPropagatesBodyError(t *testing.T) {
	mc := &MigrationContext{}
	boom := fmt.Errorf("boom")
	err := mc.Backfill(context.Background(), func() (int64, error) {
		return 0, boom
	})
	assert.Equal(t, boom, err)
}

func TestApplyPendingMigrationsRunsInVersionOrderAndRecordsState(t *testing.T) {
	db := testutil.SetupTestDatabase(t, "dibs_migrate_test")
	ctx := context.Background()

	var order []string
	runner := func(v string) MigrationFunc {
		return func(ctx context.Context, mc *MigrationContext) error {
			order = append(order, v)
			return mc.Execute(ctx, fmt.Sprintf(`CREATE TABLE marker_%s (id int)`, sanitize(v)))
		}
	}

	registered := []registeredMigration{
		{version: "2026-01-02-second", fn: runner("2026-01-02-second")},
		{version: "2026-01-01-first", fn: runner("2026-01-01-first")},
	}

	applied, err := applyPending(ctx, db, nil, registered)
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-01-01-first", "2026-01-02-second"}, applied)
	assert.Equal(t, []string{"2026-01-01-first", "2026-01-02-second"}, order)

	var count int
	err = db.QueryRowContext(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, quoteTable(stateTable))).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// Re-running is a no-op: nothing pending.
	order = nil
	applied, err = applyPending(ctx, db, nil, registered)
	require.NoError(t, err)
	assert.Empty(t, applied)
	assert.Empty(t, order)
}

func TestApplyPendingMigrationsRollsBackFailedMigrationWithoutRecordingState(t *testing.T) {
	db := testutil.SetupTestDatabase(t, "dibs_migrate_test")
	ctx := context.Background()

	registered := []registeredMigration{
		{version: "2026-02-01-fails", fn: func(ctx context.Context, mc *MigrationContext) error {
			if err := mc.Execute(ctx, `CREATE TABLE partial_progress (id int)`); err != nil {
				return err
			}
			return fmt.Errorf("boom")
		}},
	}

	_, err := applyPending(ctx, db, nil, registered)
	require.Error(t, err)

	var exists bool
	err = db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = 'partial_progress')`).Scan(&exists)
	require.NoError(t, err)
	assert.False(t, exists, "failed migration's statements must be rolled back")

	var count int
	err = db.QueryRowContext(ctx, fmt.Sprintf(`SELECT count(*) FROM %s WHERE version = '2026-02-01-fails'`, quoteTable(stateTable))).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestApplyPlanRunsAllStatementsInOneTransactionWithoutStateRow(t *testing.T) {
	db := testutil.SetupTestDatabase(t, "dibs_migrate_test")
	ctx := context.Background()

	b := schema.NewBuilder()
	b.Table("widgets").
		Column("id", schema.NewBigint(), schema.NotNull()).
		PrimaryKey("id")
	table := b.Build().Table("widgets")

	plan := &solve.Plan{Changes: []solve.Change{&solve.CreateTable{Table: table}}}

	err := ApplyPlan(ctx, db, plan)
	require.NoError(t, err)

	var exists bool
	err = db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = 'widgets')`).Scan(&exists)
	require.NoError(t, err)
	assert.True(t, exists)

	err = db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = '__dibs_migrations')`).Scan(&exists)
	require.NoError(t, err)
	assert.False(t, exists, "ApplyPlan must not bootstrap or write the migration state table")
}

func sanitize(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '-' {
			out[i] = '_'
		} else {
			out[i] = s[i]
		}
	}
	return string(out)
}
