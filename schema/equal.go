package schema

import "sort"

// Equal reports whether two schemas are structurally equal: same tables,
// same columns in the same order, same constraints and indexes
// (order-independent for sets, order-sensitive for primary-key,
// unique-constraint and foreign-key column lists; index column lists
// are compared without regard to order). Constraint and index names
// are not compared.
func Equal(a, b *Schema) bool {
	if len(a.Tables) != len(b.Tables) {
		return false
	}
	for name, ta := range a.Tables {
		tb, ok := b.Tables[name]
		if !ok {
			return false
		}
		if !TablesEqual(ta, tb) {
			return false
		}
	}
	return true
}

// TablesEqual reports structural equality between two tables.
func TablesEqual(a, b *Table) bool {
	if a.Name != b.Name {
		return false
	}
	if len(a.Columns) != len(b.Columns) {
		return false
	}
	for i, ca := range a.Columns {
		cb := b.Columns[i]
		if !columnsEqual(ca, cb) {
			return false
		}
	}
	if !stringSliceEqual(a.PrimaryKey, b.PrimaryKey) {
		return false
	}
	if !uniqueSetsEqual(a.UniqueConstraints, b.UniqueConstraints) {
		return false
	}
	if !foreignKeySetsEqual(a.ForeignKeys, b.ForeignKeys) {
		return false
	}
	if !indexSetsEqual(a.Indexes, b.Indexes) {
		return false
	}
	return true
}

func columnsEqual(a, b *Column) bool {
	return a.Name == b.Name &&
		a.Type.Equal(b.Type) &&
		a.Nullable == b.Nullable &&
		a.Default == b.Default &&
		a.Identity == b.Identity
}

func stringSliceEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// uniqueSetsEqual compares two sets of unique constraints ignoring order
// and names: constraints are matched by their ordered column list alone.
func uniqueSetsEqual(a, b []*UniqueConstraint) bool {
	if len(a) != len(b) {
		return false
	}
	used := make([]bool, len(b))
	for _, ua := range a {
		found := false
		for j, ub := range b {
			if used[j] {
				continue
			}
			if stringSliceEqual(ua.Columns, ub.Columns) {
				used[j] = true
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func foreignKeySetsEqual(a, b []*ForeignKey) bool {
	if len(a) != len(b) {
		return false
	}
	used := make([]bool, len(b))
	for _, fa := range a {
		found := false
		for j, fb := range b {
			if used[j] {
				continue
			}
			if stringSliceEqual(fa.LocalColumns, fb.LocalColumns) &&
				fa.RefTable == fb.RefTable &&
				stringSliceEqual(fa.RefColumns, fb.RefColumns) {
				used[j] = true
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func indexSetsEqual(a, b []*Index) bool {
	if len(a) != len(b) {
		return false
	}
	used := make([]bool, len(b))
	for _, ia := range a {
		found := false
		for j, ib := range b {
			if used[j] {
				continue
			}
			ca := append([]string(nil), ia.Columns...)
			cb := append([]string(nil), ib.Columns...)
			sort.Strings(ca)
			sort.Strings(cb)
			if stringSliceEqual(ca, cb) && ia.Unique == ib.Unique && ia.Method == ib.Method {
				used[j] = true
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
