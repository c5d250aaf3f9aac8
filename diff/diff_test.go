package diff

import (
	"testing"

	"github.com/bearcove/dibs/schema"
	"github.com/bearcove/dibs/solve"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func describeAll(changes []solve.Change) []string {
	out := make([]string, len(changes))
	for i, c := range changes {
		out[i] = c.Describe()
	}
	return out
}

func TestDiffDetectsTableRename(t *testing.T) {
	liveB := schema.NewBuilder()
	liveB.Table("user").
		Column("id", schema.NewBigint(), schema.NotNull()).
		Column("email", schema.NewText(), schema.NotNull()).
		PrimaryKey("id")
	live := liveB.Build()

	declaredB := schema.NewBuilder()
	declaredB.Table("users").
		Column("id", schema.NewBigint(), schema.NotNull()).
		Column("email", schema.NewText(), schema.NotNull()).
		PrimaryKey("id")
	declared := declaredB.Build()

	cs := Diff(declared, live)
	require.Len(t, cs.Changes, 1)
	assert.Equal(t, "RenameTable(user -> users)", cs.Changes[0].Describe())
	require.Len(t, cs.RenameCandidates, 1)
	assert.Equal(t, "table", cs.RenameCandidates[0].Kind)
}

func TestDiffCreatesAndDropsUnrelatedTables(t *testing.T) {
	liveB := schema.NewBuilder()
	liveB.Table("legacy_widgets").
		Column("id", schema.NewBigint(), schema.NotNull()).
		PrimaryKey("id")
	live := liveB.Build()

	declaredB := schema.NewBuilder()
	declaredB.Table("gadgets").
		Column("id", schema.NewBigint(), schema.NotNull()).
		Column("sprocket_count", schema.NewInt(), schema.NotNull()).
		PrimaryKey("id")
	declared := declaredB.Build()

	cs := Diff(declared, live)
	descs := describeAll(cs.Changes)
	assert.Contains(t, descs, "DropTable(legacy_widgets)")
	assert.Contains(t, descs, "CreateTable(gadgets)")
}

func TestDiffColumnRenameWithTypeChangeIsDropAndAdd(t *testing.T) {
	liveB := schema.NewBuilder()
	liveB.Table("people").
		Column("id", schema.NewBigint(), schema.NotNull()).
		Column("age", schema.NewInt()).
		PrimaryKey("id")
	live := liveB.Build()

	declaredB := schema.NewBuilder()
	declaredB.Table("people").
		Column("id", schema.NewBigint(), schema.NotNull()).
		Column("age_years", schema.NewBigint()).
		PrimaryKey("id")
	declared := declaredB.Build()

	// The type change zeroes the 0.5 type-equality term, so the pair
	// scores 0.5 * (1 - 6/9) ~= 0.17, below RenameThreshold: the differ
	// emits a drop and an add rather than a rename.
	cs := Diff(declared, live)
	descs := describeAll(cs.Changes)
	assert.Contains(t, descs, "DropColumn(people.age)")
	assert.Contains(t, descs, "AddColumn(people.age_years)")
	assert.NotContains(t, descs, "RenameColumn(people.age -> age_years)")
}

func TestDiffColumnNullabilityAndDefault(t *testing.T) {
	liveB := schema.NewBuilder()
	liveB.Table("widgets").
		Column("id", schema.NewBigint(), schema.NotNull()).
		Column("note", schema.NewText()).
		PrimaryKey("id")
	live := liveB.Build()

	declaredB := schema.NewBuilder()
	declaredB.Table("widgets").
		Column("id", schema.NewBigint(), schema.NotNull()).
		Column("note", schema.NewText(), schema.NotNull(), schema.Default("''")).
		PrimaryKey("id")
	declared := declaredB.Build()

	cs := Diff(declared, live)
	var sawNullability, sawDefault bool
	for _, c := range cs.Changes {
		switch ch := c.(type) {
		case *solve.AlterColumnNullability:
			assert.False(t, ch.Nullable)
			sawNullability = true
		case *solve.AlterColumnDefault:
			assert.Equal(t, "''", ch.Default)
			sawDefault = true
		}
	}
	assert.True(t, sawNullability)
	assert.True(t, sawDefault)
}

func TestDiffKeepsForeignKeyMatchedByStructuralSignature(t *testing.T) {
	liveB := schema.NewBuilder()
	liveB.Table("accounts").
		Column("id", schema.NewBigint(), schema.NotNull()).
		PrimaryKey("id")
	liveB.Table("orders").
		Column("id", schema.NewBigint(), schema.NotNull()).
		Column("account_id", schema.NewBigint(), schema.NotNull()).
		PrimaryKey("id").
		ForeignKey("", []string{"account_id"}, "accounts", []string{"id"})
	live := liveB.Build()

	declaredB := schema.NewBuilder()
	declaredB.Table("accounts").
		Column("id", schema.NewBigint(), schema.NotNull()).
		PrimaryKey("id")
	declaredB.Table("orders").
		Column("id", schema.NewBigint(), schema.NotNull()).
		Column("account_id", schema.NewBigint(), schema.NotNull()).
		PrimaryKey("id").
		ForeignKey("", []string{"account_id"}, "accounts", []string{"id"})
	declared := declaredB.Build()

	cs := Diff(declared, live)
	for _, c := range cs.Changes {
		_, isDrop := c.(*solve.DropForeignKey)
		_, isAdd := c.(*solve.AddForeignKey)
		assert.False(t, isDrop, "unnamed but structurally identical FK should not be dropped")
		assert.False(t, isAdd, "unnamed but structurally identical FK should not be re-added")
	}
}

func TestDiffPrimaryKeyColumnSetChange(t *testing.T) {
	liveB := schema.NewBuilder()
	liveB.Table("memberships").
		Column("user_id", schema.NewBigint(), schema.NotNull()).
		PrimaryKey("user_id")
	live := liveB.Build()

	declaredB := schema.NewBuilder()
	declaredB.Table("memberships").
		Column("user_id", schema.NewBigint(), schema.NotNull()).
		Column("org_id", schema.NewBigint(), schema.NotNull()).
		PrimaryKey("user_id", "org_id")
	declared := declaredB.Build()

	cs := Diff(declared, live)
	descs := describeAll(cs.Changes)
	assert.Contains(t, descs, "DropPrimaryKey(memberships)")
	assert.Contains(t, descs, "AddPrimaryKey(memberships)")
}

func TestDiffNoOpOnIdenticalSchemas(t *testing.T) {
	b := schema.NewBuilder()
	b.Table("users").
		Column("id", schema.NewBigint(), schema.NotNull()).
		Column("email", schema.NewText(), schema.NotNull()).
		PrimaryKey("id").
		UniqueIndex("users_email_idx", "email")
	s := b.Build()

	cs := Diff(s, s)
	assert.Empty(t, cs.Changes)
}

// A renamed table combined with any other change on that same table
// (an added column here) must solve cleanly: RenameTable is always
// picked before the other change in the solver's scan order, so every
// other Change this diff emits for that table must already carry the
// table's declared (post-rename) name, not its stale live name.
func TestDiffTableRenameWithColumnAdditionSolves(t *testing.T) {
	liveB := schema.NewBuilder()
	liveB.Table("user").
		Column("id", schema.NewBigint(), schema.NotNull()).
		Column("email", schema.NewText(), schema.NotNull()).
		PrimaryKey("id")
	live := liveB.Build()

	declaredB := schema.NewBuilder()
	declaredB.Table("users").
		Column("id", schema.NewBigint(), schema.NotNull()).
		Column("email", schema.NewText(), schema.NotNull()).
		Column("signup_at", schema.NewTimestamptz(), schema.NotNull(), schema.Default("now()")).
		PrimaryKey("id")
	declared := declaredB.Build()

	cs := Diff(declared, live)
	descs := describeAll(cs.Changes)
	assert.Contains(t, descs, "RenameTable(user -> users)")
	assert.Contains(t, descs, "AddColumn(users.signup_at)")

	for _, c := range cs.Changes {
		if ac, ok := c.(*solve.AddColumn); ok {
			assert.Equal(t, "users", ac.Table, "AddColumn must reference the table's declared post-rename name")
		}
	}

	plan, err := solve.Solve(cs, live, declared, nil)
	require.NoError(t, err, "a table rename combined with another change on the same table must solve")
	assert.NotEmpty(t, plan.Changes)
}

// A foreign key whose referenced table is renamed in the same diff is
// semantically unchanged and must not be dropped and recreated: the
// structural match has to translate the live FK's RefTable through the
// table-rename map before comparing it to the declared RefTable.
func TestDiffForeignKeyFollowsRenamedRefTable(t *testing.T) {
	liveB := schema.NewBuilder()
	liveB.Table("account").
		Column("id", schema.NewBigint(), schema.NotNull()).
		PrimaryKey("id")
	liveB.Table("orders").
		Column("id", schema.NewBigint(), schema.NotNull()).
		Column("account_id", schema.NewBigint(), schema.NotNull()).
		PrimaryKey("id").
		ForeignKey("", []string{"account_id"}, "account", []string{"id"})
	live := liveB.Build()

	declaredB := schema.NewBuilder()
	declaredB.Table("accounts").
		Column("id", schema.NewBigint(), schema.NotNull()).
		PrimaryKey("id")
	declaredB.Table("orders").
		Column("id", schema.NewBigint(), schema.NotNull()).
		Column("account_id", schema.NewBigint(), schema.NotNull()).
		PrimaryKey("id").
		ForeignKey("", []string{"account_id"}, "accounts", []string{"id"})
	declared := declaredB.Build()

	cs := Diff(declared, live)
	descs := describeAll(cs.Changes)
	assert.Contains(t, descs, "RenameTable(account -> accounts)")
	for _, d := range descs {
		assert.NotContains(t, d, "DropForeignKey", "FK to a renamed table requires no drop/recreate")
		assert.NotContains(t, d, "AddForeignKey", "FK to a renamed table requires no drop/recreate")
	}

	plan, err := solve.Solve(cs, live, declared, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, plan.Changes)
}

// tableSimilarity scores this pair at exactly RenameThreshold (0.7):
// Jaccard column overlap of 0.5 (one shared column signature out of a
// union of two) weighted 0.6, plus a plural/singular name match
// weighted 0.4. The boundary must count as a match.
func TestDiffTableRenameExactlyAtThreshold(t *testing.T) {
	liveB := schema.NewBuilder()
	liveB.Table("widget").
		Column("id", schema.NewBigint(), schema.NotNull()).
		Column("foo", schema.NewText()).
		PrimaryKey("id")
	live := liveB.Build()

	declaredB := schema.NewBuilder()
	declaredB.Table("widgets").
		Column("id", schema.NewBigint(), schema.NotNull()).
		PrimaryKey("id")
	declared := declaredB.Build()

	score := tableSimilarity(live.Table("widget"), declared.Table("widgets"))
	require.InDelta(t, 0.7, score, 1e-9)

	cs := Diff(declared, live)
	descs := describeAll(cs.Changes)
	assert.Contains(t, descs, "RenameTable(widget -> widgets)")
}

// columnSimilarity scores this pair at exactly RenameThreshold (0.7):
// equal types weighted 0.5, plus a name edit-distance similarity of
// 0.4 weighted 0.5. The boundary must count as a match.
func TestDiffColumnRenameExactlyAtThreshold(t *testing.T) {
	liveB := schema.NewBuilder()
	liveB.Table("items").
		Column("id", schema.NewBigint(), schema.NotNull()).
		Column("aaaaa", schema.NewText()).
		PrimaryKey("id")
	live := liveB.Build()

	declaredB := schema.NewBuilder()
	declaredB.Table("items").
		Column("id", schema.NewBigint(), schema.NotNull()).
		Column("aabbb", schema.NewText()).
		PrimaryKey("id")
	declared := declaredB.Build()

	score := columnSimilarity(live.Table("items").Column("aaaaa"), declared.Table("items").Column("aabbb"))
	require.InDelta(t, 0.7, score, 1e-9)

	cs := Diff(declared, live)
	descs := describeAll(cs.Changes)
	assert.Contains(t, descs, "RenameColumn(items.aaaaa -> aabbb)")
}
