package render

import (
	"testing"

	"github.com/bearcove/dibs/schema"
	"github.com/bearcove/dibs/solve"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderPluralizationRename(t *testing.T) {
	plan := &solve.Plan{Changes: []solve.Change{&solve.RenameTable{From: "users", To: "user"}}}
	stmts, err := Render(plan)
	require.NoError(t, err)
	require.Len(t, stmts, 1)
	assert.Equal(t, `ALTER TABLE "users" RENAME TO "user";`, stmts[0])
}

func TestRenderCreateTableWithConstraintsAndIndex(t *testing.T) {
	b := schema.NewBuilder()
	b.Table("users").
		Column("id", schema.NewBigint(), schema.NotNull()).
		Column("email", schema.NewText(), schema.NotNull()).
		PrimaryKey("id").
		UniqueIndex("users_email_idx", "email")
	table := b.Build().Table("users")

	plan := &solve.Plan{Changes: []solve.Change{&solve.CreateTable{Table: table}}}
	stmts, err := Render(plan)
	require.NoError(t, err)
	require.Len(t, stmts, 2)
	assert.Contains(t, stmts[0], `CREATE TABLE "users"`)
	assert.Contains(t, stmts[0], `CONSTRAINT "users_pkey" PRIMARY KEY ("id")`)
	assert.Equal(t, `CREATE UNIQUE INDEX "users_email_idx" ON "users" USING btree ("email");`, stmts[1])
}

func TestRenderAlterColumnTypeAddsUsingOnKindChange(t *testing.T) {
	plan := &solve.Plan{Changes: []solve.Change{
		&solve.AlterColumnType{Table: "widgets", Column: "id", From: schema.NewInt(), To: schema.NewBigint()},
	}}
	stmts, err := Render(plan)
	require.NoError(t, err)
	require.Len(t, stmts, 1)
	assert.Equal(t, `ALTER TABLE "widgets" ALTER COLUMN "id" TYPE bigint USING "id"::bigint;`, stmts[0])
}

func TestRenderAlterColumnNullability(t *testing.T) {
	plan := &solve.Plan{Changes: []solve.Change{
		&solve.AlterColumnNullability{Table: "widgets", Column: "note", Nullable: false},
	}}
	stmts, err := Render(plan)
	require.NoError(t, err)
	assert.Equal(t, `ALTER TABLE "widgets" ALTER COLUMN "note" SET NOT NULL;`, stmts[0])
}

func TestRenderAddForeignKeyWithGeneratedName(t *testing.T) {
	plan := &solve.Plan{Changes: []solve.Change{
		&solve.AddForeignKey{Table: "orders", FK: &schema.ForeignKey{
			LocalColumns: []string{"account_id"}, RefTable: "accounts", RefColumns: []string{"id"},
		}},
	}}
	stmts, err := Render(plan)
	require.NoError(t, err)
	assert.Equal(t, `ALTER TABLE "orders" ADD CONSTRAINT "orders_account_id_fkey" FOREIGN KEY ("account_id") REFERENCES "accounts" ("id");`, stmts[0])
}

func TestRenderDropPrimaryKeyUsesDefaultPostgresName(t *testing.T) {
	plan := &solve.Plan{Changes: []solve.Change{&solve.DropPrimaryKey{Table: "widgets"}}}
	stmts, err := Render(plan)
	require.NoError(t, err)
	assert.Equal(t, `ALTER TABLE "widgets" DROP CONSTRAINT "widgets_pkey";`, stmts[0])
}

func TestRenderEnumColumnType(t *testing.T) {
	plan := &solve.Plan{Changes: []solve.Change{
		&solve.AddColumn{Table: "tickets", Column: &schema.Column{Name: "status", Type: schema.NewEnumRef("ticket_status"), Nullable: false}},
	}}
	stmts, err := Render(plan)
	require.NoError(t, err)
	assert.Equal(t, `ALTER TABLE "tickets" ADD COLUMN "status" "ticket_status" NOT NULL;`, stmts[0])
}

func TestRenderQuotesReservedWordIdentifiers(t *testing.T) {
	plan := &solve.Plan{Changes: []solve.Change{&solve.DropTable{Name: "order"}}}
	stmts, err := Render(plan)
	require.NoError(t, err)
	assert.Equal(t, `DROP TABLE "order";`, stmts[0])
}
