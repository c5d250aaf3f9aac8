package solve_test

import (
	"testing"

	"github.com/bearcove/dibs/diff"
	"github.com/bearcove/dibs/schema"
	"github.com/bearcove/dibs/solve"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildUsersTable(b *schema.Builder, name string) {
	b.Table(name).
		Column("id", schema.NewBigint(), schema.NotNull()).
		Column("email", schema.NewText(), schema.NotNull()).
		PrimaryKey("id")
}

func TestSolvePluralizationRename(t *testing.T) {
	liveB := schema.NewBuilder()
	buildUsersTable(liveB, "user")
	live := liveB.Build()

	declaredB := schema.NewBuilder()
	buildUsersTable(declaredB, "users")
	declared := declaredB.Build()

	cs := &solve.ChangeSet{Changes: []solve.Change{&solve.RenameTable{From: "user", To: "users"}}}

	plan, err := solve.Solve(cs, live, declared, nil)
	require.NoError(t, err)
	require.Len(t, plan.Changes, 1)
	assert.Equal(t, "RenameTable(user -> users)", plan.Changes[0].Describe())
}

func TestSolveRenameWithForeignKeyFollowThrough(t *testing.T) {
	liveB := schema.NewBuilder()
	liveB.Table("account").
		Column("id", schema.NewBigint(), schema.NotNull()).
		PrimaryKey("id")
	liveB.Table("orders").
		Column("id", schema.NewBigint(), schema.NotNull()).
		Column("account_id", schema.NewBigint(), schema.NotNull()).
		PrimaryKey("id").
		ForeignKey("orders_account_id_fkey", []string{"account_id"}, "account", []string{"id"})
	live := liveB.Build()

	declaredB := schema.NewBuilder()
	declaredB.Table("accounts").
		Column("id", schema.NewBigint(), schema.NotNull()).
		PrimaryKey("id")
	declaredB.Table("orders").
		Column("id", schema.NewBigint(), schema.NotNull()).
		Column("account_id", schema.NewBigint(), schema.NotNull()).
		PrimaryKey("id").
		ForeignKey("orders_account_id_fkey", []string{"account_id"}, "accounts", []string{"id"})
	declared := declaredB.Build()

	cs := &solve.ChangeSet{Changes: []solve.Change{&solve.RenameTable{From: "account", To: "accounts"}}}

	plan, err := solve.Solve(cs, live, declared, nil)
	require.NoError(t, err)
	require.Len(t, plan.Changes, 1)
}

func TestSolveCircularTableRename(t *testing.T) {
	liveB := schema.NewBuilder()
	buildUsersTable(liveB, "alpha")
	buildUsersTable(liveB, "beta")
	live := liveB.Build()

	declaredB := schema.NewBuilder()
	buildUsersTable(declaredB, "alpha")
	buildUsersTable(declaredB, "beta")
	declared := declaredB.Build()
	// swap names: alpha's columns now live under "beta" and vice versa
	declared.Tables["alpha"], declared.Tables["beta"] = declared.Tables["beta"], declared.Tables["alpha"]
	declared.Tables["alpha"].Name = "alpha"
	declared.Tables["beta"].Name = "beta"

	cs := &solve.ChangeSet{Changes: []solve.Change{
		&solve.RenameTable{From: "alpha", To: "beta"},
		&solve.RenameTable{From: "beta", To: "alpha"},
	}}

	plan, err := solve.Solve(cs, live, declared, nil)
	require.NoError(t, err)
	require.Len(t, plan.Changes, 3)
	assert.Contains(t, plan.Changes[0].Describe(), "alpha ->")
}

// A column retype whose FK dependent is also being retyped cannot simply
// slot in alongside the two AlterColumnTypes: the live FK links mismatched
// types the moment either side changes, so the real Diff->Solve pipeline
// must drop the constraint before either retype and recreate it after both
// have landed. This is the literal scenario from the precondition table
// ("if part of any FK, the referenced column must also be scheduled for
// matching type change or already compatible").
func TestSolveColumnRetypeWithForeignKeyDependent(t *testing.T) {
	liveB := schema.NewBuilder()
	liveB.Table("widgets").
		Column("id", schema.NewInt(), schema.NotNull()).
		PrimaryKey("id")
	liveB.Table("parts").
		Column("id", schema.NewBigint(), schema.NotNull()).
		Column("widget_id", schema.NewInt(), schema.NotNull()).
		PrimaryKey("id").
		ForeignKey("parts_widget_id_fkey", []string{"widget_id"}, "widgets", []string{"id"})
	live := liveB.Build()

	declaredB := schema.NewBuilder()
	declaredB.Table("widgets").
		Column("id", schema.NewBigint(), schema.NotNull()).
		PrimaryKey("id")
	declaredB.Table("parts").
		Column("id", schema.NewBigint(), schema.NotNull()).
		Column("widget_id", schema.NewBigint(), schema.NotNull()).
		PrimaryKey("id").
		ForeignKey("parts_widget_id_fkey", []string{"widget_id"}, "widgets", []string{"id"})
	declared := declaredB.Build()

	cs := diff.Diff(declared, live)
	plan, err := solve.Solve(cs, live, declared, nil)
	require.NoError(t, err)

	require.Len(t, plan.Changes, 4)

	var kinds []string
	for _, c := range plan.Changes {
		switch c.(type) {
		case *solve.DropForeignKey:
			kinds = append(kinds, "DropForeignKey")
		case *solve.AlterColumnType:
			kinds = append(kinds, "AlterColumnType")
		case *solve.AddForeignKey:
			kinds = append(kinds, "AddForeignKey")
		default:
			kinds = append(kinds, "other")
		}
	}
	assert.Equal(t, []string{"DropForeignKey", "AlterColumnType", "AlterColumnType", "AddForeignKey"}, kinds)

	drop := plan.Changes[0].(*solve.DropForeignKey)
	assert.Equal(t, "parts", drop.Table)
	assert.Equal(t, "parts_widget_id_fkey", drop.Name)

	add := plan.Changes[3].(*solve.AddForeignKey)
	assert.Equal(t, "parts", add.Table)
	assert.Equal(t, "parts_widget_id_fkey", add.FK.Name)
}

func TestSolveNoOpProducesEmptyPlan(t *testing.T) {
	b := schema.NewBuilder()
	buildUsersTable(b, "users")
	s := b.Build()

	cs := &solve.ChangeSet{}
	plan, err := solve.Solve(cs, s, s, nil)
	require.NoError(t, err)
	assert.Empty(t, plan.Changes)
}

func TestSolveColumnRenameWithTypeChange(t *testing.T) {
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

	cs := &solve.ChangeSet{Changes: []solve.Change{
		&solve.RenameColumn{Table: "people", From: "age", To: "age_years"},
		&solve.AlterColumnType{Table: "people", Column: "age_years", From: schema.NewInt(), To: schema.NewBigint()},
	}}

	plan, err := solve.Solve(cs, live, declared, nil)
	require.NoError(t, err)
	require.Len(t, plan.Changes, 2)
	assert.Equal(t, "RenameColumn(people.age -> age_years)", plan.Changes[0].Describe())
}

func TestSolveEnumColumnNoOp(t *testing.T) {
	liveB := schema.NewBuilder()
	liveB.Table("tickets").
		Column("id", schema.NewBigint(), schema.NotNull()).
		Column("status", schema.NewEnumRef("ticket_status"), schema.NotNull()).
		PrimaryKey("id")
	live := liveB.Build()

	declaredB := schema.NewBuilder()
	declaredB.Table("tickets").
		Column("id", schema.NewBigint(), schema.NotNull()).
		Column("status", schema.NewEnumRef("ticket_status"), schema.NotNull()).
		PrimaryKey("id")
	declared := declaredB.Build()

	plan, err := solve.Solve(&solve.ChangeSet{}, live, declared, nil)
	require.NoError(t, err)
	assert.Empty(t, plan.Changes)
}

func TestSolveUnresolvableDependencyWhenForeignKeyTargetNeverAppears(t *testing.T) {
	live := schema.New()
	declaredB := schema.NewBuilder()
	declaredB.Table("children").
		Column("id", schema.NewBigint(), schema.NotNull()).
		Column("parent_id", schema.NewBigint(), schema.NotNull()).
		PrimaryKey("id").
		ForeignKey("children_parent_id_fkey", []string{"parent_id"}, "parents", []string{"id"})
	declared := declaredB.Build()

	cs := &solve.ChangeSet{Changes: []solve.Change{
		&solve.CreateTable{Table: declared.Table("children")},
	}}

	_, err := solve.Solve(cs, live, declared, nil)
	require.Error(t, err)
}

func TestSolveTraceCallbackFiresPerStep(t *testing.T) {
	liveB := schema.NewBuilder()
	buildUsersTable(liveB, "user")
	live := liveB.Build()

	declaredB := schema.NewBuilder()
	buildUsersTable(declaredB, "users")
	declared := declaredB.Build()

	cs := &solve.ChangeSet{Changes: []solve.Change{&solve.RenameTable{From: "user", To: "users"}}}

	var traced int
	_, err := solve.Solve(cs, live, declared, &solve.Options{
		Trace: func(step int, virt *schema.Schema, applied solve.Change) {
			traced++
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, traced)
}
