// Package render turns a solved Plan into the Postgres DDL statements
// that realize it, one logical statement per line.
package render

import (
	"fmt"
	"strings"

	"github.com/bearcove/dibs/errs"
	"github.com/bearcove/dibs/schema"
	"github.com/bearcove/dibs/solve"
	"github.com/bearcove/dibs/util"
)

// Render emits one or more SQL statements for every change in the
// plan, in plan order. A single CreateTable may emit several
// statements: the table itself, then one CREATE INDEX per declared
// index (Postgres has no inline index clause inside CREATE TABLE).
func Render(plan *solve.Plan) ([]string, error) {
	var out []string
	for _, c := range plan.Changes {
		stmts, err := renderChange(c)
		if err != nil {
			return nil, err
		}
		out = append(out, stmts...)
	}
	return out, nil
}

func renderChange(c solve.Change) ([]string, error) {
	switch ch := c.(type) {
	case *solve.CreateTable:
		return renderCreateTable(ch)
	case *solve.DropTable:
		return []string{fmt.Sprintf("DROP TABLE %s;", schema.QuoteIdent(ch.Name))}, nil
	case *solve.RenameTable:
		return []string{fmt.Sprintf("ALTER TABLE %s RENAME TO %s;", schema.QuoteIdent(ch.From), schema.QuoteIdent(ch.To))}, nil
	case *solve.AddColumn:
		return renderAddColumn(ch)
	case *solve.DropColumn:
		return []string{fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s;", schema.QuoteIdent(ch.Table), schema.QuoteIdent(ch.Column))}, nil
	case *solve.RenameColumn:
		return []string{fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s;", schema.QuoteIdent(ch.Table), schema.QuoteIdent(ch.From), schema.QuoteIdent(ch.To))}, nil
	case *solve.AlterColumnType:
		return renderAlterColumnType(ch)
	case *solve.AlterColumnNullability:
		return renderAlterColumnNullability(ch)
	case *solve.AlterColumnDefault:
		return renderAlterColumnDefault(ch)
	case *solve.AddForeignKey:
		return renderAddForeignKey(ch)
	case *solve.DropForeignKey:
		return []string{fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s;", schema.QuoteIdent(ch.Table), schema.QuoteIdent(ch.Name))}, nil
	case *solve.AddUnique:
		return renderAddUnique(ch)
	case *solve.DropUnique:
		return []string{fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s;", schema.QuoteIdent(ch.Table), schema.QuoteIdent(ch.Name))}, nil
	case *solve.AddPrimaryKey:
		return renderAddPrimaryKey(ch)
	case *solve.DropPrimaryKey:
		return []string{fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s;", schema.QuoteIdent(ch.Table), schema.QuoteIdent(pkConstraintName(ch.Table)))}, nil
	case *solve.AddIndex:
		return renderAddIndex(ch)
	case *solve.DropIndex:
		return []string{fmt.Sprintf("DROP INDEX %s;", schema.QuoteIdent(ch.Name))}, nil
	default:
		return nil, &errs.RenderError{Change: c.Describe(), Reason: "unrecognized change variant"}
	}
}

func renderCreateTable(c *solve.CreateTable) ([]string, error) {
	t := c.Table
	var cols []string
	for _, col := range t.Columns {
		def, err := renderColumnDef(col)
		if err != nil {
			return nil, &errs.RenderError{Change: c.Describe(), Reason: err.Error()}
		}
		cols = append(cols, def)
	}
	if len(t.PrimaryKey) > 0 {
		cols = append(cols, fmt.Sprintf("CONSTRAINT %s PRIMARY KEY (%s)", schema.QuoteIdent(pkConstraintName(t.Name)), quoteIdentList(t.PrimaryKey)))
	}
	for _, u := range t.UniqueConstraints {
		name := u.Name
		if name == "" {
			name = schema.GenerateConstraintName(t.Name, u.Columns, "key")
		}
		cols = append(cols, fmt.Sprintf("CONSTRAINT %s UNIQUE (%s)", schema.QuoteIdent(name), quoteIdentList(u.Columns)))
	}
	for _, fk := range t.ForeignKeys {
		name := fk.Name
		if name == "" {
			name = schema.GenerateConstraintName(t.Name, fk.LocalColumns, "fkey")
		}
		cols = append(cols, fmt.Sprintf("CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)",
			schema.QuoteIdent(name), quoteIdentList(fk.LocalColumns), schema.QuoteIdent(fk.RefTable), quoteIdentList(fk.RefColumns)))
	}

	stmts := []string{fmt.Sprintf("CREATE TABLE %s (%s);", schema.QuoteIdent(t.Name), strings.Join(cols, ", "))}
	for _, idx := range t.Indexes {
		stmt, err := renderIndexStatement(t.Name, idx)
		if err != nil {
			return nil, &errs.RenderError{Change: c.Describe(), Reason: err.Error()}
		}
		stmts = append(stmts, stmt)
	}
	return stmts, nil
}

func renderColumnDef(col *schema.Column) (string, error) {
	typ, err := renderType(col.Type)
	if err != nil {
		return "", err
	}
	def := fmt.Sprintf("%s %s", schema.QuoteIdent(col.Name), typ)
	switch col.Identity {
	case schema.IdentityAlways:
		def += " GENERATED ALWAYS AS IDENTITY"
	case schema.IdentityByDefault:
		def += " GENERATED BY DEFAULT AS IDENTITY"
	}
	if !col.Nullable {
		def += " NOT NULL"
	}
	if col.HasDefault() {
		def += " DEFAULT " + col.Default
	}
	return def, nil
}

func renderAddColumn(c *solve.AddColumn) ([]string, error) {
	def, err := renderColumnDef(c.Column)
	if err != nil {
		return nil, &errs.RenderError{Change: c.Describe(), Reason: err.Error()}
	}
	return []string{fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s;", schema.QuoteIdent(c.Table), def)}, nil
}

func renderAlterColumnType(c *solve.AlterColumnType) ([]string, error) {
	typ, err := renderType(c.To)
	if err != nil {
		return nil, &errs.RenderError{Change: c.Describe(), Reason: err.Error()}
	}
	stmt := fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s", schema.QuoteIdent(c.Table), schema.QuoteIdent(c.Column), typ)
	if c.From.Kind != c.To.Kind {
		stmt += fmt.Sprintf(" USING %s::%s", schema.QuoteIdent(c.Column), typ)
	}
	return []string{stmt + ";"}, nil
}

func renderAlterColumnNullability(c *solve.AlterColumnNullability) ([]string, error) {
	verb := "SET NOT NULL"
	if c.Nullable {
		verb = "DROP NOT NULL"
	}
	return []string{fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s %s;", schema.QuoteIdent(c.Table), schema.QuoteIdent(c.Column), verb)}, nil
}

func renderAlterColumnDefault(c *solve.AlterColumnDefault) ([]string, error) {
	if c.Default == "" {
		return []string{fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP DEFAULT;", schema.QuoteIdent(c.Table), schema.QuoteIdent(c.Column))}, nil
	}
	return []string{fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET DEFAULT %s;", schema.QuoteIdent(c.Table), schema.QuoteIdent(c.Column), c.Default)}, nil
}

func renderAddForeignKey(c *solve.AddForeignKey) ([]string, error) {
	name := c.FK.Name
	if name == "" {
		name = schema.GenerateConstraintName(c.Table, c.FK.LocalColumns, "fkey")
	}
	stmt := fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s);",
		schema.QuoteIdent(c.Table), schema.QuoteIdent(name), quoteIdentList(c.FK.LocalColumns),
		schema.QuoteIdent(c.FK.RefTable), quoteIdentList(c.FK.RefColumns))
	return []string{stmt}, nil
}

func renderAddUnique(c *solve.AddUnique) ([]string, error) {
	name := c.Name
	if name == "" {
		name = schema.GenerateConstraintName(c.Table, c.Columns, "key")
	}
	return []string{fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s UNIQUE (%s);", schema.QuoteIdent(c.Table), schema.QuoteIdent(name), quoteIdentList(c.Columns))}, nil
}

func renderAddPrimaryKey(c *solve.AddPrimaryKey) ([]string, error) {
	name := pkConstraintName(c.Table)
	return []string{fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s PRIMARY KEY (%s);", schema.QuoteIdent(c.Table), schema.QuoteIdent(name), quoteIdentList(c.Columns))}, nil
}

func renderAddIndex(c *solve.AddIndex) ([]string, error) {
	stmt, err := renderIndexStatement(c.Table, c.Index)
	if err != nil {
		return nil, &errs.RenderError{Change: c.Describe(), Reason: err.Error()}
	}
	return []string{stmt}, nil
}

func renderIndexStatement(table string, idx *schema.Index) (string, error) {
	name := idx.Name
	if name == "" {
		name = schema.GenerateConstraintName(table, idx.Columns, "idx")
	}
	unique := ""
	if idx.Unique {
		unique = "UNIQUE "
	}
	method := idx.Method
	if method == "" {
		method = "btree"
	}
	return fmt.Sprintf("CREATE %sINDEX %s ON %s USING %s (%s);", unique, schema.QuoteIdent(name), schema.QuoteIdent(table), method, quoteIdentList(idx.Columns)), nil
}

// pkConstraintName follows Postgres's own "<table>_pkey" default naming
// convention, truncating the table portion alone if the full name would
// overflow MaxIdentifierLength (the suffix "_pkey" carries no column
// part for GenerateConstraintName's truncation split to operate on).
func pkConstraintName(table string) string {
	suffix := "_pkey"
	if len(table)+len(suffix) <= schema.MaxIdentifierLength {
		return table + suffix
	}
	return table[:schema.MaxIdentifierLength-len(suffix)] + suffix
}

func quoteIdentList(cols []string) string {
	return strings.Join(util.TransformSlice(cols, schema.QuoteIdent), ", ")
}

// renderType is the inverse of the Introspector's type mapping (§4.1):
// it serializes a PgType back into the Postgres type syntax the
// renderer emits in DDL.
func renderType(t schema.PgType) (string, error) {
	switch t.Kind {
	case schema.Bigint:
		return "bigint", nil
	case schema.Int:
		return "integer", nil
	case schema.SmallInt:
		return "smallint", nil
	case schema.Text:
		return "text", nil
	case schema.Varchar:
		if t.HasLen {
			return fmt.Sprintf("varchar(%d)", t.VarcharLen), nil
		}
		return "varchar", nil
	case schema.Bool:
		return "boolean", nil
	case schema.Bytea:
		return "bytea", nil
	case schema.Uuid:
		return "uuid", nil
	case schema.Timestamptz:
		return "timestamp with time zone", nil
	case schema.Timestamp:
		return "timestamp without time zone", nil
	case schema.Date:
		return "date", nil
	case schema.Time:
		return "time without time zone", nil
	case schema.Numeric:
		switch {
		case t.HasPrecision && t.HasScale:
			return fmt.Sprintf("numeric(%d,%d)", t.NumericPrecision, t.NumericScale), nil
		case t.HasPrecision:
			return fmt.Sprintf("numeric(%d)", t.NumericPrecision), nil
		default:
			return "numeric", nil
		}
	case schema.Jsonb:
		return "jsonb", nil
	case schema.EnumRef:
		return schema.QuoteIdent(t.EnumName), nil
	case schema.Array:
		if t.ArrayInner == nil {
			return "", fmt.Errorf("array type with no element type")
		}
		inner, err := renderType(*t.ArrayInner)
		if err != nil {
			return "", err
		}
		return inner + "[]", nil
	case schema.Other:
		if t.RawName == "" {
			return "", fmt.Errorf("opaque type with no raw name")
		}
		return t.RawName, nil
	default:
		return "", fmt.Errorf("unrecognized pg_type kind")
	}
}
