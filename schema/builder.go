package schema

// Builder accumulates tables into a Schema via explicit calls, standing
// in for the reflection-based declared-schema collection this core does
// not depend on (§9). Callers start one TableBuilder per table via
// Table, which registers the table with the Builder immediately.
type Builder struct {
	schema *Schema
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{schema: New()}
}

// Table starts a new TableBuilder for the named table and registers it
// with the Builder immediately; further calls mutate the same Table.
func (b *Builder) Table(name string) *TableBuilder {
	t := &Table{Name: name}
	b.schema.AddTable(t)
	return &TableBuilder{table: t}
}

// Build returns the accumulated Schema. It does not validate; callers
// should call Validate separately once all tables are registered.
func (b *Builder) Build() *Schema {
	return b.schema
}

// TableBuilder builds up a single Table via chained calls.
type TableBuilder struct {
	table *Table
}

// ColumnOpt mutates a Column during construction.
type ColumnOpt func(*Column)

// NotNull marks a column NOT NULL.
func NotNull() ColumnOpt { return func(c *Column) { c.Nullable = false } }

// Default sets a column's default expression, as raw SQL.
func Default(expr string) ColumnOpt { return func(c *Column) { c.Default = expr } }

// GeneratedAlways marks a column GENERATED ALWAYS AS IDENTITY.
func GeneratedAlways() ColumnOpt { return func(c *Column) { c.Identity = IdentityAlways } }

// GeneratedByDefault marks a column GENERATED BY DEFAULT AS IDENTITY.
func GeneratedByDefault() ColumnOpt { return func(c *Column) { c.Identity = IdentityByDefault } }

// Column appends a nullable column of the given type, then applies opts.
// Columns default to nullable; use NotNull() to require a value.
func (tb *TableBuilder) Column(name string, t PgType, opts ...ColumnOpt) *TableBuilder {
	c := &Column{Name: name, Type: t, Nullable: true}
	for _, opt := range opts {
		opt(c)
	}
	tb.table.Columns = append(tb.table.Columns, c)
	return tb
}

// PrimaryKey sets the table's primary key to the given ordered columns.
func (tb *TableBuilder) PrimaryKey(columns ...string) *TableBuilder {
	tb.table.PrimaryKey = columns
	for _, name := range columns {
		if c := tb.table.Column(name); c != nil {
			c.Nullable = false
		}
	}
	return tb
}

// Unique adds a named unique constraint over the given ordered columns.
func (tb *TableBuilder) Unique(name string, columns ...string) *TableBuilder {
	tb.table.UniqueConstraints = append(tb.table.UniqueConstraints, &UniqueConstraint{
		Name:    name,
		Columns: columns,
	})
	return tb
}

// ForeignKey adds a named foreign key from the given local columns to
// refTable's refColumns, in order.
func (tb *TableBuilder) ForeignKey(name string, localColumns []string, refTable string, refColumns []string) *TableBuilder {
	tb.table.ForeignKeys = append(tb.table.ForeignKeys, &ForeignKey{
		Name:         name,
		LocalColumns: localColumns,
		RefTable:     refTable,
		RefColumns:   refColumns,
	})
	return tb
}

// Index adds a named, non-unique index over the given ordered columns,
// using the btree access method. UniqueIndex adds a unique one.
func (tb *TableBuilder) Index(name string, columns ...string) *TableBuilder {
	tb.table.Indexes = append(tb.table.Indexes, &Index{
		Name:    name,
		Columns: columns,
		Method:  "btree",
	})
	return tb
}

// UniqueIndex adds a named unique index over the given ordered columns.
func (tb *TableBuilder) UniqueIndex(name string, columns ...string) *TableBuilder {
	tb.table.Indexes = append(tb.table.Indexes, &Index{
		Name:    name,
		Columns: columns,
		Unique:  true,
		Method:  "btree",
	})
	return tb
}
