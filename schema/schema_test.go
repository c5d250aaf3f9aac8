package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderProducesValidSchema(t *testing.T) {
	b := NewBuilder()
	b.Table("user").
		Column("id", NewBigint(), NotNull()).
		Column("email", NewText(), NotNull()).
		PrimaryKey("id").
		Unique("user_email_key", "email")

	b.Table("post").
		Column("id", NewBigint(), NotNull()).
		Column("user_id", NewBigint(), NotNull()).
		PrimaryKey("id").
		ForeignKey("post_user_id_fkey", []string{"user_id"}, "user", []string{"id"})

	s := b.Build()
	require.NoError(t, Validate(s))
	assert.Equal(t, []string{"post", "user"}, s.TableNames())
}

func TestValidateRejectsDanglingForeignKey(t *testing.T) {
	b := NewBuilder()
	b.Table("post").
		Column("id", NewBigint(), NotNull()).
		Column("user_id", NewBigint(), NotNull()).
		PrimaryKey("id").
		ForeignKey("post_user_id_fkey", []string{"user_id"}, "user", []string{"id"})

	err := Validate(b.Build())
	assert.Error(t, err)
}

func TestValidateRejectsNullablePrimaryKey(t *testing.T) {
	s := New()
	s.AddTable(&Table{
		Name: "t",
		Columns: []*Column{
			{Name: "id", Type: NewBigint(), Nullable: true},
		},
		PrimaryKey: []string{"id"},
	})
	assert.Error(t, Validate(s))
}

func TestEqualIgnoresUnnamedConstraintOrder(t *testing.T) {
	a := New()
	a.AddTable(&Table{
		Name: "t",
		Columns: []*Column{
			{Name: "id", Type: NewBigint()},
			{Name: "a", Type: NewText()},
			{Name: "b", Type: NewText()},
		},
		UniqueConstraints: []*UniqueConstraint{
			{Name: "t_a_key", Columns: []string{"a"}},
			{Name: "t_b_key", Columns: []string{"b"}},
		},
	})
	b := New()
	b.AddTable(&Table{
		Name: "t",
		Columns: []*Column{
			{Name: "id", Type: NewBigint()},
			{Name: "a", Type: NewText()},
			{Name: "b", Type: NewText()},
		},
		UniqueConstraints: []*UniqueConstraint{
			{Name: "t_b_key", Columns: []string{"b"}},
			{Name: "t_a_key", Columns: []string{"a"}},
		},
	})
	assert.True(t, Equal(a, b))
}

func TestQuoteIdentDoublesEmbeddedQuotes(t *testing.T) {
	assert.Equal(t, `"user"`, QuoteIdent("user"))
	assert.Equal(t, `"we""ird"`, QuoteIdent(`we"ird`))
}

func TestGenerateConstraintNameTruncatesAt63Bytes(t *testing.T) {
	table := "a_very_long_table_name_that_pushes_things_over_the_limit"
	cols := []string{"a_very_long_column_name_too"}
	name := GenerateConstraintName(table, cols, "fkey")
	assert.LessOrEqual(t, len(name), MaxIdentifierLength)
	assert.Contains(t, name, "_fkey")
}

func TestNextTempNameAscends(t *testing.T) {
	taken := map[string]bool{
		"a_dibs_tmp_0": true,
		"a_dibs_tmp_1": true,
	}
	assert.Equal(t, "a_dibs_tmp_2", NextTempName("a", taken))
}
