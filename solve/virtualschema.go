// Package solve converts a ChangeSet into an ordered Plan by simulating
// each candidate change against a mutable virtual schema, and verifies
// that the resulting state matches the declared schema.
package solve

import (
	"fmt"

	"github.com/bearcove/dibs/schema"
	"github.com/bearcove/dibs/util"
)

// VirtualSchema is the mutable clone of the live schema the solver
// simulates changes against. It is never the caller's original schema.
type VirtualSchema struct {
	Schema *schema.Schema
}

// NewVirtualSchema clones live into a fresh VirtualSchema.
func NewVirtualSchema(live *schema.Schema) *VirtualSchema {
	return &VirtualSchema{Schema: live.Clone()}
}

// Table returns the named table, or nil.
func (v *VirtualSchema) Table(name string) *schema.Table {
	return v.Schema.Table(name)
}

// HasTable reports whether the named table exists.
func (v *VirtualSchema) HasTable(name string) bool {
	return v.Schema.Table(name) != nil
}

// fkRef names a foreign key together with the table that declares it.
type fkRef struct {
	Table string
	FK    *schema.ForeignKey
}

// referencingForeignKeys returns every (table, fk) pair anywhere in the
// schema whose RefTable is the given table name.
func (v *VirtualSchema) referencingForeignKeys(tableName string) []fkRef {
	var out []fkRef
	for _, t := range util.CanonicalMapIter(v.Schema.Tables) {
		for _, fk := range t.ForeignKeys {
			if fk.RefTable == tableName {
				out = append(out, fkRef{t.Name, fk})
			}
		}
	}
	return out
}

// foreignKeyTypeMismatches reports every foreign key that links (tableName,
// column) to a column whose current type is neither newType nor already
// equal to it, on the live side of the link (i.e. the side not being
// retyped by this same change). This covers both directions a column can
// participate in a FK: as a local column referencing another table's PK,
// and as a PK/unique column referenced by another table's FK. Each
// returned string describes one mismatched link for use in a precondition
// error; an empty result means the retype is safe to apply as-is.
func (v *VirtualSchema) foreignKeyTypeMismatches(tableName, column string, newType schema.PgType) []string {
	var mismatches []string

	t := v.Table(tableName)
	if t != nil {
		for _, fk := range t.ForeignKeys {
			for i, local := range fk.LocalColumns {
				if local != column {
					continue
				}
				refTable := v.Table(fk.RefTable)
				if refTable == nil || i >= len(fk.RefColumns) {
					continue
				}
				refCol := refTable.Column(fk.RefColumns[i])
				if refCol != nil && !refCol.Type.Equal(newType) {
					mismatches = append(mismatches, fmt.Sprintf(
						"foreign key %q links %s.%s to %s.%s (%s), which is not also being retyped to %s",
						fk.Name, tableName, column, fk.RefTable, refCol.Name, refCol.Type.String(), newType.String()))
				}
			}
		}
	}

	for _, other := range util.CanonicalMapIter(v.Schema.Tables) {
		if other.Name == tableName {
			continue
		}
		for _, fk := range other.ForeignKeys {
			if fk.RefTable != tableName {
				continue
			}
			for i, ref := range fk.RefColumns {
				if ref != column || i >= len(fk.LocalColumns) {
					continue
				}
				localCol := other.Column(fk.LocalColumns[i])
				if localCol != nil && !localCol.Type.Equal(newType) {
					mismatches = append(mismatches, fmt.Sprintf(
						"foreign key %q links %s.%s to %s.%s (%s), which is not also being retyped to %s",
						fk.Name, other.Name, localCol.Name, tableName, column, localCol.Type.String(), newType.String()))
				}
			}
		}
	}

	return mismatches
}

// columnReferenced reports whether (table, column) is used by any FK
// (as a local column, or as a referenced column from any other table),
// any PK, unique constraint, or index, on the given table.
func (v *VirtualSchema) columnReferenced(tableName, column string) bool {
	t := v.Table(tableName)
	if t == nil {
		return false
	}
	for _, c := range t.PrimaryKey {
		if c == column {
			return true
		}
	}
	for _, u := range t.UniqueConstraints {
		for _, c := range u.Columns {
			if c == column {
				return true
			}
		}
	}
	for _, idx := range t.Indexes {
		for _, c := range idx.Columns {
			if c == column {
				return true
			}
		}
	}
	for _, fk := range t.ForeignKeys {
		for _, c := range fk.LocalColumns {
			if c == column {
				return true
			}
		}
	}
	for _, other := range util.CanonicalMapIter(v.Schema.Tables) {
		for _, fk := range other.ForeignKeys {
			if fk.RefTable != tableName {
				continue
			}
			for _, c := range fk.RefColumns {
				if c == column {
					return true
				}
			}
		}
	}
	return false
}
