package solve

import (
	"fmt"

	"github.com/bearcove/dibs/errs"
	"github.com/bearcove/dibs/schema"
)

// Change is a typed, atomic schema mutation. Preconditions reports
// whether the change can legally apply to the current virtual schema;
// Apply performs the mutation and must only be called once
// Preconditions has returned nil. Describe renders a short
// human-readable summary used in traces, errors, and warnings.
type Change interface {
	Preconditions(vs *VirtualSchema) error
	Apply(vs *VirtualSchema)
	Describe() string
}

// Warning is a non-blocking note attached to a Plan, e.g. an AddColumn
// with NOT NULL and no default on a non-empty table (§9).
type Warning struct {
	Change  Change
	Message string
}

func precondErr(change Change, missing string) error {
	return &errs.PreconditionError{Change: change.Describe(), Missing: missing}
}

// ---- CreateTable ----

type CreateTable struct {
	Table *schema.Table
}

func (c *CreateTable) Describe() string { return fmt.Sprintf("CreateTable(%s)", c.Table.Name) }

func (c *CreateTable) Preconditions(vs *VirtualSchema) error {
	if vs.HasTable(c.Table.Name) {
		return precondErr(c, fmt.Sprintf("table %q already present", c.Table.Name))
	}
	for _, fk := range c.Table.ForeignKeys {
		ref := vs.Table(fk.RefTable)
		if ref == nil {
			return precondErr(c, fmt.Sprintf("referenced table %q not present", fk.RefTable))
		}
		for _, col := range fk.RefColumns {
			if ref.Column(col) == nil {
				return precondErr(c, fmt.Sprintf("referenced column %q.%q not present", fk.RefTable, col))
			}
		}
	}
	return nil
}

func (c *CreateTable) Apply(vs *VirtualSchema) {
	vs.Schema.AddTable(c.Table.Clone())
}

// ---- DropTable ----

type DropTable struct {
	Name string
}

func (c *DropTable) Describe() string { return fmt.Sprintf("DropTable(%s)", c.Name) }

func (c *DropTable) Preconditions(vs *VirtualSchema) error {
	if !vs.HasTable(c.Name) {
		return precondErr(c, fmt.Sprintf("table %q not present", c.Name))
	}
	if refs := vs.referencingForeignKeys(c.Name); len(refs) > 0 {
		return precondErr(c, fmt.Sprintf("table %q is still referenced by %q.%q", c.Name, refs[0].Table, refs[0].FK.Name))
	}
	return nil
}

func (c *DropTable) Apply(vs *VirtualSchema) {
	delete(vs.Schema.Tables, c.Name)
}

// ---- RenameTable ----

type RenameTable struct {
	From, To string
}

func (c *RenameTable) Describe() string { return fmt.Sprintf("RenameTable(%s -> %s)", c.From, c.To) }

func (c *RenameTable) renameFrom() string  { return c.From }
func (c *RenameTable) renameTo() string    { return c.To }
func (c *RenameTable) renameScope() string { return "" }

func (c *RenameTable) Preconditions(vs *VirtualSchema) error {
	if !vs.HasTable(c.From) {
		return precondErr(c, fmt.Sprintf("table %q not present", c.From))
	}
	if vs.HasTable(c.To) {
		return precondErr(c, fmt.Sprintf("table %q already present", c.To))
	}
	return nil
}

func (c *RenameTable) Apply(vs *VirtualSchema) {
	t := vs.Table(c.From)
	delete(vs.Schema.Tables, c.From)
	t.Name = c.To
	vs.Schema.AddTable(t)
	for _, other := range vs.Schema.Tables {
		for _, fk := range other.ForeignKeys {
			if fk.RefTable == c.From {
				fk.RefTable = c.To
			}
		}
	}
}

// ---- AddColumn ----

type AddColumn struct {
	Table  string
	Column *schema.Column
	// PromiseEmpty, when true, asserts the table has no rows, so the
	// solver raises no warning for a NOT NULL column without a default.
	// The renderer emits the column as declared either way; no
	// component splits the change into a nullable add plus a later
	// SET NOT NULL.
	PromiseEmpty bool
}

func (c *AddColumn) Describe() string {
	return fmt.Sprintf("AddColumn(%s.%s)", c.Table, c.Column.Name)
}

func (c *AddColumn) Preconditions(vs *VirtualSchema) error {
	t := vs.Table(c.Table)
	if t == nil {
		return precondErr(c, fmt.Sprintf("table %q not present", c.Table))
	}
	if t.Column(c.Column.Name) != nil {
		return precondErr(c, fmt.Sprintf("column %q already present", c.Column.Name))
	}
	return nil
}

func (c *AddColumn) Apply(vs *VirtualSchema) {
	t := vs.Table(c.Table)
	col := *c.Column
	t.Columns = append(t.Columns, &col)
}

// ---- DropColumn ----

type DropColumn struct {
	Table  string
	Column string
}

func (c *DropColumn) Describe() string { return fmt.Sprintf("DropColumn(%s.%s)", c.Table, c.Column) }

func (c *DropColumn) Preconditions(vs *VirtualSchema) error {
	t := vs.Table(c.Table)
	if t == nil {
		return precondErr(c, fmt.Sprintf("table %q not present", c.Table))
	}
	if t.Column(c.Column) == nil {
		return precondErr(c, fmt.Sprintf("column %q not present", c.Column))
	}
	if vs.columnReferenced(c.Table, c.Column) {
		return precondErr(c, fmt.Sprintf("column %q.%q is still referenced", c.Table, c.Column))
	}
	return nil
}

func (c *DropColumn) Apply(vs *VirtualSchema) {
	t := vs.Table(c.Table)
	out := t.Columns[:0]
	for _, col := range t.Columns {
		if col.Name != c.Column {
			out = append(out, col)
		}
	}
	t.Columns = out
}

// ---- RenameColumn ----

type RenameColumn struct {
	Table    string
	From, To string
}

func (c *RenameColumn) Describe() string {
	return fmt.Sprintf("RenameColumn(%s.%s -> %s)", c.Table, c.From, c.To)
}

func (c *RenameColumn) renameFrom() string  { return c.From }
func (c *RenameColumn) renameTo() string    { return c.To }
func (c *RenameColumn) renameScope() string { return c.Table }

func (c *RenameColumn) Preconditions(vs *VirtualSchema) error {
	t := vs.Table(c.Table)
	if t == nil {
		return precondErr(c, fmt.Sprintf("table %q not present", c.Table))
	}
	if t.Column(c.From) == nil {
		return precondErr(c, fmt.Sprintf("column %q not present", c.From))
	}
	if t.Column(c.To) != nil {
		return precondErr(c, fmt.Sprintf("column %q already present", c.To))
	}
	return nil
}

func (c *RenameColumn) Apply(vs *VirtualSchema) {
	t := vs.Table(c.Table)
	col := t.Column(c.From)
	col.Name = c.To
	renameColumnEverywhere(t, c.From, c.To)
}

func renameColumnEverywhere(t *schema.Table, from, to string) {
	for i, name := range t.PrimaryKey {
		if name == from {
			t.PrimaryKey[i] = to
		}
	}
	for _, u := range t.UniqueConstraints {
		for i, name := range u.Columns {
			if name == from {
				u.Columns[i] = to
			}
		}
	}
	for _, idx := range t.Indexes {
		for i, name := range idx.Columns {
			if name == from {
				idx.Columns[i] = to
			}
		}
	}
	for _, fk := range t.ForeignKeys {
		for i, name := range fk.LocalColumns {
			if name == from {
				fk.LocalColumns[i] = to
			}
		}
	}
}

// ---- AlterColumnType ----

type AlterColumnType struct {
	Table, Column string
	From, To      schema.PgType
}

func (c *AlterColumnType) Describe() string {
	return fmt.Sprintf("AlterColumnType(%s.%s: %s -> %s)", c.Table, c.Column, c.From.String(), c.To.String())
}

func (c *AlterColumnType) Preconditions(vs *VirtualSchema) error {
	t := vs.Table(c.Table)
	if t == nil {
		return precondErr(c, fmt.Sprintf("table %q not present", c.Table))
	}
	if t.Column(c.Column) == nil {
		return precondErr(c, fmt.Sprintf("column %q not present", c.Column))
	}
	if mismatches := vs.foreignKeyTypeMismatches(c.Table, c.Column, c.To); len(mismatches) > 0 {
		return precondErr(c, mismatches[0])
	}
	return nil
}

func (c *AlterColumnType) Apply(vs *VirtualSchema) {
	vs.Table(c.Table).Column(c.Column).Type = c.To
}

// ---- AlterColumnNullability ----

type AlterColumnNullability struct {
	Table, Column string
	Nullable      bool
}

func (c *AlterColumnNullability) Describe() string {
	return fmt.Sprintf("AlterColumnNullability(%s.%s, nullable=%v)", c.Table, c.Column, c.Nullable)
}

func (c *AlterColumnNullability) Preconditions(vs *VirtualSchema) error {
	t := vs.Table(c.Table)
	if t == nil {
		return precondErr(c, fmt.Sprintf("table %q not present", c.Table))
	}
	if t.Column(c.Column) == nil {
		return precondErr(c, fmt.Sprintf("column %q not present", c.Column))
	}
	return nil
}

func (c *AlterColumnNullability) Apply(vs *VirtualSchema) {
	vs.Table(c.Table).Column(c.Column).Nullable = c.Nullable
}

// ---- AlterColumnDefault ----

type AlterColumnDefault struct {
	Table, Column string
	Default       string
}

func (c *AlterColumnDefault) Describe() string {
	return fmt.Sprintf("AlterColumnDefault(%s.%s)", c.Table, c.Column)
}

func (c *AlterColumnDefault) Preconditions(vs *VirtualSchema) error {
	t := vs.Table(c.Table)
	if t == nil {
		return precondErr(c, fmt.Sprintf("table %q not present", c.Table))
	}
	if t.Column(c.Column) == nil {
		return precondErr(c, fmt.Sprintf("column %q not present", c.Column))
	}
	return nil
}

func (c *AlterColumnDefault) Apply(vs *VirtualSchema) {
	vs.Table(c.Table).Column(c.Column).Default = c.Default
}

// ---- AddForeignKey ----

type AddForeignKey struct {
	Table string
	FK    *schema.ForeignKey
}

func (c *AddForeignKey) Describe() string { return fmt.Sprintf("AddForeignKey(%s.%s)", c.Table, c.FK.Name) }

func (c *AddForeignKey) Preconditions(vs *VirtualSchema) error {
	t := vs.Table(c.Table)
	if t == nil {
		return precondErr(c, fmt.Sprintf("table %q not present", c.Table))
	}
	for _, col := range c.FK.LocalColumns {
		if t.Column(col) == nil {
			return precondErr(c, fmt.Sprintf("local column %q not present", col))
		}
	}
	ref := vs.Table(c.FK.RefTable)
	if ref == nil {
		return precondErr(c, fmt.Sprintf("referenced table %q not present", c.FK.RefTable))
	}
	for _, col := range c.FK.RefColumns {
		if ref.Column(col) == nil {
			return precondErr(c, fmt.Sprintf("referenced column %q.%q not present", c.FK.RefTable, col))
		}
	}
	if !columnsFormKeyGroup(ref, c.FK.RefColumns) {
		return precondErr(c, fmt.Sprintf("referenced columns are not a primary key or unique constraint on %q", c.FK.RefTable))
	}
	return nil
}

func (c *AddForeignKey) Apply(vs *VirtualSchema) {
	t := vs.Table(c.Table)
	fk := *c.FK
	fk.LocalColumns = append([]string(nil), c.FK.LocalColumns...)
	fk.RefColumns = append([]string(nil), c.FK.RefColumns...)
	t.ForeignKeys = append(t.ForeignKeys, &fk)
}

func columnsFormKeyGroup(t *schema.Table, cols []string) bool {
	if sameColumnSet(t.PrimaryKey, cols) {
		return true
	}
	for _, u := range t.UniqueConstraints {
		if sameColumnSet(u.Columns, cols) {
			return true
		}
	}
	return false
}

func sameColumnSet(a, b []string) bool {
	if len(a) != len(b) || len(a) == 0 {
		return false
	}
	set := map[string]bool{}
	for _, c := range a {
		set[c] = true
	}
	for _, c := range b {
		if !set[c] {
			return false
		}
	}
	return true
}

// ---- DropForeignKey ----

type DropForeignKey struct {
	Table, Name string
}

func (c *DropForeignKey) Describe() string { return fmt.Sprintf("DropForeignKey(%s.%s)", c.Table, c.Name) }

func (c *DropForeignKey) Preconditions(vs *VirtualSchema) error {
	t := vs.Table(c.Table)
	if t == nil {
		return precondErr(c, fmt.Sprintf("table %q not present", c.Table))
	}
	if t.ForeignKey(c.Name) == nil {
		return precondErr(c, fmt.Sprintf("foreign key %q not present", c.Name))
	}
	return nil
}

func (c *DropForeignKey) Apply(vs *VirtualSchema) {
	t := vs.Table(c.Table)
	out := t.ForeignKeys[:0]
	for _, fk := range t.ForeignKeys {
		if fk.Name != c.Name {
			out = append(out, fk)
		}
	}
	t.ForeignKeys = out
}

// ---- AddUnique ----

type AddUnique struct {
	Table, Name string
	Columns     []string
}

func (c *AddUnique) Describe() string { return fmt.Sprintf("AddUnique(%s.%s)", c.Table, c.Name) }

func (c *AddUnique) Preconditions(vs *VirtualSchema) error {
	t := vs.Table(c.Table)
	if t == nil {
		return precondErr(c, fmt.Sprintf("table %q not present", c.Table))
	}
	for _, col := range c.Columns {
		if t.Column(col) == nil {
			return precondErr(c, fmt.Sprintf("column %q not present", col))
		}
	}
	if t.UniqueConstraint(c.Name) != nil {
		return precondErr(c, fmt.Sprintf("constraint name %q already taken", c.Name))
	}
	return nil
}

func (c *AddUnique) Apply(vs *VirtualSchema) {
	t := vs.Table(c.Table)
	t.UniqueConstraints = append(t.UniqueConstraints, &schema.UniqueConstraint{
		Name:    c.Name,
		Columns: append([]string(nil), c.Columns...),
	})
}

// ---- DropUnique ----

type DropUnique struct {
	Table, Name string
}

func (c *DropUnique) Describe() string { return fmt.Sprintf("DropUnique(%s.%s)", c.Table, c.Name) }

func (c *DropUnique) Preconditions(vs *VirtualSchema) error {
	t := vs.Table(c.Table)
	if t == nil {
		return precondErr(c, fmt.Sprintf("table %q not present", c.Table))
	}
	if t.UniqueConstraint(c.Name) == nil {
		return precondErr(c, fmt.Sprintf("constraint %q not present", c.Name))
	}
	return nil
}

func (c *DropUnique) Apply(vs *VirtualSchema) {
	t := vs.Table(c.Table)
	out := t.UniqueConstraints[:0]
	for _, u := range t.UniqueConstraints {
		if u.Name != c.Name {
			out = append(out, u)
		}
	}
	t.UniqueConstraints = out
}

// ---- AddPrimaryKey ----

type AddPrimaryKey struct {
	Table   string
	Columns []string
}

func (c *AddPrimaryKey) Describe() string { return fmt.Sprintf("AddPrimaryKey(%s)", c.Table) }

func (c *AddPrimaryKey) Preconditions(vs *VirtualSchema) error {
	t := vs.Table(c.Table)
	if t == nil {
		return precondErr(c, fmt.Sprintf("table %q not present", c.Table))
	}
	if t.PrimaryKey != nil {
		return precondErr(c, fmt.Sprintf("table %q already has a primary key", c.Table))
	}
	for _, col := range c.Columns {
		cc := t.Column(col)
		if cc == nil {
			return precondErr(c, fmt.Sprintf("column %q not present", col))
		}
		if cc.Nullable {
			return precondErr(c, fmt.Sprintf("column %q must be NOT NULL", col))
		}
	}
	return nil
}

func (c *AddPrimaryKey) Apply(vs *VirtualSchema) {
	vs.Table(c.Table).PrimaryKey = append([]string(nil), c.Columns...)
}

// ---- DropPrimaryKey ----

type DropPrimaryKey struct {
	Table string
}

func (c *DropPrimaryKey) Describe() string { return fmt.Sprintf("DropPrimaryKey(%s)", c.Table) }

func (c *DropPrimaryKey) Preconditions(vs *VirtualSchema) error {
	t := vs.Table(c.Table)
	if t == nil {
		return precondErr(c, fmt.Sprintf("table %q not present", c.Table))
	}
	if t.PrimaryKey == nil {
		return precondErr(c, fmt.Sprintf("table %q has no primary key", c.Table))
	}
	return nil
}

func (c *DropPrimaryKey) Apply(vs *VirtualSchema) {
	vs.Table(c.Table).PrimaryKey = nil
}

// ---- AddIndex ----

type AddIndex struct {
	Table string
	Index *schema.Index
}

func (c *AddIndex) Describe() string { return fmt.Sprintf("AddIndex(%s.%s)", c.Table, c.Index.Name) }

func (c *AddIndex) Preconditions(vs *VirtualSchema) error {
	t := vs.Table(c.Table)
	if t == nil {
		return precondErr(c, fmt.Sprintf("table %q not present", c.Table))
	}
	for _, col := range c.Index.Columns {
		if t.Column(col) == nil {
			return precondErr(c, fmt.Sprintf("column %q not present", col))
		}
	}
	if t.Index(c.Index.Name) != nil {
		return precondErr(c, fmt.Sprintf("index name %q already taken", c.Index.Name))
	}
	return nil
}

func (c *AddIndex) Apply(vs *VirtualSchema) {
	t := vs.Table(c.Table)
	idx := *c.Index
	idx.Columns = append([]string(nil), c.Index.Columns...)
	t.Indexes = append(t.Indexes, &idx)
}

// ---- DropIndex ----

type DropIndex struct {
	Table, Name string
}

func (c *DropIndex) Describe() string { return fmt.Sprintf("DropIndex(%s.%s)", c.Table, c.Name) }

func (c *DropIndex) Preconditions(vs *VirtualSchema) error {
	t := vs.Table(c.Table)
	if t == nil {
		return precondErr(c, fmt.Sprintf("table %q not present", c.Table))
	}
	if t.Index(c.Name) == nil {
		return precondErr(c, fmt.Sprintf("index %q not present", c.Name))
	}
	return nil
}

func (c *DropIndex) Apply(vs *VirtualSchema) {
	t := vs.Table(c.Table)
	out := t.Indexes[:0]
	for _, idx := range t.Indexes {
		if idx.Name != c.Name {
			out = append(out, idx)
		}
	}
	t.Indexes = out
}
