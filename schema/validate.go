package schema

import "fmt"

// Validate checks the six invariants a Schema must satisfy (§3): FK
// referents exist and match a PK or unique group, PK/unique/index
// columns exist, names are unique, and PK columns are NOT NULL.
func Validate(s *Schema) error {
	for _, t := range s.Tables {
		colSet := map[string]bool{}
		for _, c := range t.Columns {
			if colSet[c.Name] {
				return fmt.Errorf("table %q: duplicate column %q", t.Name, c.Name)
			}
			colSet[c.Name] = true
		}

		for _, col := range t.PrimaryKey {
			if !colSet[col] {
				return fmt.Errorf("table %q: primary key references missing column %q", t.Name, col)
			}
			if c := t.Column(col); c != nil && c.Nullable {
				return fmt.Errorf("table %q: primary key column %q must be NOT NULL", t.Name, col)
			}
		}

		for _, u := range t.UniqueConstraints {
			for _, col := range u.Columns {
				if !colSet[col] {
					return fmt.Errorf("table %q: unique constraint %q references missing column %q", t.Name, u.Name, col)
				}
			}
		}

		for _, idx := range t.Indexes {
			for _, col := range idx.Columns {
				if !colSet[col] {
					return fmt.Errorf("table %q: index %q references missing column %q", t.Name, idx.Name, col)
				}
			}
		}

		for _, fk := range t.ForeignKeys {
			for _, col := range fk.LocalColumns {
				if !colSet[col] {
					return fmt.Errorf("table %q: foreign key %q references missing local column %q", t.Name, fk.Name, col)
				}
			}
			if len(fk.LocalColumns) != len(fk.RefColumns) {
				return fmt.Errorf("table %q: foreign key %q has mismatched column counts", t.Name, fk.Name)
			}
			refTable, ok := s.Tables[fk.RefTable]
			if !ok {
				return fmt.Errorf("table %q: foreign key %q references missing table %q", t.Name, fk.Name, fk.RefTable)
			}
			for _, col := range fk.RefColumns {
				if refTable.Column(col) == nil {
					return fmt.Errorf("table %q: foreign key %q references missing column %q.%q", t.Name, fk.Name, fk.RefTable, col)
				}
			}
			if !columnsFormKeyGroup(refTable, fk.RefColumns) {
				return fmt.Errorf("table %q: foreign key %q's referenced columns are not a primary key or unique constraint on %q", t.Name, fk.Name, fk.RefTable)
			}
		}
	}

	names := map[string]bool{}
	for _, t := range s.Tables {
		for _, u := range t.UniqueConstraints {
			if names[u.Name] {
				return fmt.Errorf("duplicate constraint name %q", u.Name)
			}
			names[u.Name] = true
		}
		for _, fk := range t.ForeignKeys {
			if names[fk.Name] {
				return fmt.Errorf("duplicate constraint name %q", fk.Name)
			}
			names[fk.Name] = true
		}
		for _, idx := range t.Indexes {
			if names[idx.Name] {
				return fmt.Errorf("duplicate index name %q", idx.Name)
			}
			names[idx.Name] = true
		}
	}

	return nil
}

// columnsFormKeyGroup reports whether cols, taken as a set, equals the
// table's primary key or one of its unique-constraint column groups.
func columnsFormKeyGroup(t *Table, cols []string) bool {
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
