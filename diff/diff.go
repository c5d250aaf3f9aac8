// Package diff compares a declared schema against a live schema and
// produces the typed ChangeSet the solver needs to reconcile them.
package diff

import (
	"sort"
	"strings"

	"github.com/bearcove/dibs/schema"
	"github.com/bearcove/dibs/solve"
)

// Diff computes a ChangeSet whose effect, applied to live, yields
// declared. The differ is total over valid schemas: there is no
// failure mode.
func Diff(declared, live *schema.Schema) *solve.ChangeSet {
	cs := &solve.ChangeSet{}

	tableRenames, added, removed, tableCandidates := matchTables(declared, live)
	for _, m := range tableRenames {
		cs.Changes = append(cs.Changes, &solve.RenameTable{From: m.from, To: m.to})
	}
	for _, c := range tableCandidates {
		cs.RenameCandidates = append(cs.RenameCandidates, solve.RenameCandidate{
			Kind: "table", From: c.from, To: c.to, Score: c.score,
		})
	}
	for _, name := range removed {
		cs.Changes = append(cs.Changes, &solve.DropTable{Name: name})
	}
	for _, name := range added {
		cs.Changes = append(cs.Changes, &solve.CreateTable{Table: declared.Table(name).Clone()})
	}

	// Every table present on both sides after rename resolution -
	// matched-by-rename pairs plus tables whose name did not change -
	// gets a full per-table diff.
	pairs := map[string]string{} // live name -> declared name
	for _, m := range tableRenames {
		pairs[m.from] = m.to
	}
	for _, name := range declared.TableNames() {
		if live.Table(name) != nil {
			if _, renamed := pairs[name]; !renamed {
				pairs[name] = name
			}
		}
	}

	liveNames := make([]string, 0, len(pairs))
	for liveName := range pairs {
		liveNames = append(liveNames, liveName)
	}
	sort.Strings(liveNames)

	for _, liveName := range liveNames {
		declaredName := pairs[liveName]
		diffTable(cs, declared, live, declared.Table(declaredName), live.Table(liveName), declaredName, pairs)
	}

	return cs
}

type tableMatch struct {
	from, to string
	score    float64
}

// matchTables computes the rename-aware partition of declared/live
// table names: a bipartite match of removed-vs-added tables scoring
// at or above RenameThreshold, plus the names left over on each side. It
// also returns every removed-vs-added pair it scored, matched or not,
// so a human override UI can see candidates that fell short of the
// threshold (§9).
func matchTables(declared, live *schema.Schema) (matches []tableMatch, added, removed []string, allCandidates []tableMatch) {
	declaredNames := declared.TableNames()
	liveNames := live.TableNames()

	declaredSet := map[string]bool{}
	for _, n := range declaredNames {
		declaredSet[n] = true
	}
	liveSet := map[string]bool{}
	for _, n := range liveNames {
		liveSet[n] = true
	}

	for _, n := range declaredNames {
		if !liveSet[n] {
			added = append(added, n)
		}
	}
	for _, n := range liveNames {
		if !declaredSet[n] {
			removed = append(removed, n)
		}
	}

	for _, from := range removed {
		for _, to := range added {
			score := tableSimilarity(live.Table(from), declared.Table(to))
			allCandidates = append(allCandidates, tableMatch{from, to, score})
		}
	}

	var aboveThreshold []tableMatch
	for _, c := range allCandidates {
		if c.score >= RenameThreshold {
			aboveThreshold = append(aboveThreshold, c)
		}
	}
	sort.Slice(aboveThreshold, func(i, j int) bool {
		if aboveThreshold[i].score != aboveThreshold[j].score {
			return aboveThreshold[i].score > aboveThreshold[j].score
		}
		return aboveThreshold[i].to < aboveThreshold[j].to
	})

	usedFrom := map[string]bool{}
	usedTo := map[string]bool{}
	for _, c := range aboveThreshold {
		if usedFrom[c.from] || usedTo[c.to] {
			continue
		}
		usedFrom[c.from] = true
		usedTo[c.to] = true
		matches = append(matches, c)
	}

	var remainingAdded, remainingRemoved []string
	for _, n := range added {
		if !usedTo[n] {
			remainingAdded = append(remainingAdded, n)
		}
	}
	for _, n := range removed {
		if !usedFrom[n] {
			remainingRemoved = append(remainingRemoved, n)
		}
	}
	return matches, remainingAdded, remainingRemoved, allCandidates
}

// diffTable emits every column, constraint, index, and primary-key
// change needed to turn liveTable into declaredTable. tableName is the
// identity the solver will know this table under when these changes
// run - the declared (post-rename) name, since a RenameTable change
// for this table (if any) is applied before any other change on the
// same table (solve.go's scan order ranks RenameTable ahead of the
// alterations and additions, and the drops ranked ahead of it name
// the table by its declared name, so their preconditions do not hold
// until the rename has run), so the virtual
// schema never has this table under its old live name by the time
// these changes' Preconditions are checked. tableRenames maps live
// table name -> declared table name for every table present on both
// sides, used to translate a foreign key's referenced table through
// a same-diff rename when matching it structurally. declaredSchema
// and liveSchema are the full schemas, needed to resolve a foreign
// key's referenced table and columns on both sides when checking
// whether the key's linked columns are retyped in this same diff.
func diffTable(cs *solve.ChangeSet, declaredSchema, liveSchema *schema.Schema, declaredTable, liveTable *schema.Table, tableName string, tableRenames map[string]string) {
	colRenames, addedCols, removedCols, colCandidates := matchColumns(declaredTable, liveTable)
	for _, m := range colRenames {
		cs.Changes = append(cs.Changes, &solve.RenameColumn{Table: tableName, From: m.from, To: m.to})
	}
	for _, c := range colCandidates {
		cs.RenameCandidates = append(cs.RenameCandidates, solve.RenameCandidate{
			Kind: "column", Table: tableName, From: c.from, To: c.to, Score: c.score,
		})
	}
	for _, name := range removedCols {
		cs.Changes = append(cs.Changes, &solve.DropColumn{Table: tableName, Column: name})
	}
	for _, name := range addedCols {
		col := declaredTable.Column(name)
		cs.Changes = append(cs.Changes, &solve.AddColumn{Table: tableName, Column: col})
	}

	colPairs := map[string]string{} // live col name -> declared col name
	for _, m := range colRenames {
		colPairs[m.from] = m.to
	}
	for _, name := range declaredTable.ColumnNames() {
		if liveTable.Column(name) != nil {
			if _, renamed := colPairs[name]; !renamed {
				colPairs[name] = name
			}
		}
	}
	liveColNames := make([]string, 0, len(colPairs))
	for liveCol := range colPairs {
		liveColNames = append(liveColNames, liveCol)
	}
	sort.Strings(liveColNames)

	for _, liveCol := range liveColNames {
		declaredCol := colPairs[liveCol]
		diffColumnAttributes(cs, declaredTable.Column(declaredCol), liveTable.Column(liveCol), tableName, declaredCol)
	}

	diffPrimaryKey(cs, declaredTable, liveTable, tableName, colPairs)
	diffUniqueConstraints(cs, declaredTable, liveTable, tableName, colPairs)
	diffForeignKeys(cs, declaredSchema, liveSchema, declaredTable, liveTable, tableName, colPairs, tableRenames)
	diffIndexes(cs, declaredTable, liveTable, tableName, colPairs)
}

type columnMatch struct {
	from, to string
	score    float64
}

func matchColumns(declaredTable, liveTable *schema.Table) (matches []columnMatch, added, removed []string, allCandidates []columnMatch) {
	declaredNames := declaredTable.ColumnNames()
	liveNames := liveTable.ColumnNames()

	declaredSet := map[string]bool{}
	for _, n := range declaredNames {
		declaredSet[n] = true
	}
	liveSet := map[string]bool{}
	for _, n := range liveNames {
		liveSet[n] = true
	}

	for _, n := range declaredNames {
		if !liveSet[n] {
			added = append(added, n)
		}
	}
	for _, n := range liveNames {
		if !declaredSet[n] {
			removed = append(removed, n)
		}
	}

	for _, from := range removed {
		for _, to := range added {
			score := columnSimilarity(liveTable.Column(from), declaredTable.Column(to))
			allCandidates = append(allCandidates, columnMatch{from, to, score})
		}
	}

	var aboveThreshold []columnMatch
	for _, c := range allCandidates {
		if c.score >= RenameThreshold {
			aboveThreshold = append(aboveThreshold, c)
		}
	}
	sort.Slice(aboveThreshold, func(i, j int) bool {
		if aboveThreshold[i].score != aboveThreshold[j].score {
			return aboveThreshold[i].score > aboveThreshold[j].score
		}
		return aboveThreshold[i].to < aboveThreshold[j].to
	})

	usedFrom := map[string]bool{}
	usedTo := map[string]bool{}
	for _, c := range aboveThreshold {
		if usedFrom[c.from] || usedTo[c.to] {
			continue
		}
		usedFrom[c.from] = true
		usedTo[c.to] = true
		matches = append(matches, c)
	}

	var remainingAdded, remainingRemoved []string
	for _, n := range added {
		if !usedTo[n] {
			remainingAdded = append(remainingAdded, n)
		}
	}
	for _, n := range removed {
		if !usedFrom[n] {
			remainingRemoved = append(remainingRemoved, n)
		}
	}
	return matches, remainingAdded, remainingRemoved, allCandidates
}

// diffColumnAttributes emits AlterColumnType, AlterColumnNullability,
// and AlterColumnDefault, in that priority, for a pair of aligned
// columns whose attributes differ. columnName is the declared (post-
// rename) column name: RenameColumn outranks all three of these in
// the solver's scan order, so by the time these changes' Preconditions
// run, the column is only reachable under its declared name.
func diffColumnAttributes(cs *solve.ChangeSet, declaredCol, liveCol *schema.Column, table, columnName string) {
	if !declaredCol.Type.Equal(liveCol.Type) {
		cs.Changes = append(cs.Changes, &solve.AlterColumnType{
			Table: table, Column: columnName, From: liveCol.Type, To: declaredCol.Type,
		})
	}
	if declaredCol.Nullable != liveCol.Nullable {
		cs.Changes = append(cs.Changes, &solve.AlterColumnNullability{
			Table: table, Column: columnName, Nullable: declaredCol.Nullable,
		})
	}
	if strings.TrimSpace(declaredCol.Default) != strings.TrimSpace(liveCol.Default) {
		cs.Changes = append(cs.Changes, &solve.AlterColumnDefault{
			Table: table, Column: columnName, Default: declaredCol.Default,
		})
	}
}

func renameColumns(cols []string, pairs map[string]string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		if to, ok := pairs[c]; ok {
			out[i] = to
		} else {
			out[i] = c
		}
	}
	return out
}

func diffPrimaryKey(cs *solve.ChangeSet, declaredTable, liveTable *schema.Table, tableName string, colPairs map[string]string) {
	declaredPK := declaredTable.PrimaryKey
	livePKInDeclaredNames := renameColumns(liveTable.PrimaryKey, colPairs)

	switch {
	case declaredPK == nil && liveTable.PrimaryKey == nil:
		return
	case declaredPK == nil:
		cs.Changes = append(cs.Changes, &solve.DropPrimaryKey{Table: tableName})
	case liveTable.PrimaryKey == nil:
		cs.Changes = append(cs.Changes, &solve.AddPrimaryKey{Table: tableName, Columns: declaredPK})
	case !sameOrderedColumns(declaredPK, livePKInDeclaredNames):
		cs.Changes = append(cs.Changes, &solve.DropPrimaryKey{Table: tableName})
		cs.Changes = append(cs.Changes, &solve.AddPrimaryKey{Table: tableName, Columns: declaredPK})
	}
}

func sameOrderedColumns(a, b []string) bool {
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

func diffUniqueConstraints(cs *solve.ChangeSet, declaredTable, liveTable *schema.Table, tableName string, colPairs map[string]string) {
	type keyed struct {
		name string
		cols []string
	}
	var liveItems []keyed
	for _, u := range liveTable.UniqueConstraints {
		liveItems = append(liveItems, keyed{u.Name, renameColumns(u.Columns, colPairs)})
	}
	var declaredItems []keyed
	for _, u := range declaredTable.UniqueConstraints {
		declaredItems = append(declaredItems, keyed{u.Name, u.Columns})
	}

	matchedLive := make([]bool, len(liveItems))
	matchedDeclared := make([]bool, len(declaredItems))

	// pass 1: match by name when both sides name the constraint
	for i, d := range declaredItems {
		if d.name == "" {
			continue
		}
		for j, l := range liveItems {
			if matchedLive[j] || l.name != d.name {
				continue
			}
			matchedDeclared[i], matchedLive[j] = true, true
			break
		}
	}
	// pass 2: match remaining by structural column signature
	for i, d := range declaredItems {
		if matchedDeclared[i] {
			continue
		}
		for j, l := range liveItems {
			if matchedLive[j] || !sameColumnSetUnordered(l.cols, d.cols) {
				continue
			}
			matchedDeclared[i], matchedLive[j] = true, true
			break
		}
	}

	for j, l := range liveItems {
		if !matchedLive[j] {
			cs.Changes = append(cs.Changes, &solve.DropUnique{Table: tableName, Name: l.name})
		}
	}
	for i, d := range declaredItems {
		if !matchedDeclared[i] {
			name := d.name
			if name == "" {
				name = schema.GenerateConstraintName(tableName, d.cols, "key")
			}
			cs.Changes = append(cs.Changes, &solve.AddUnique{Table: tableName, Name: name, Columns: d.cols})
		}
	}
}

func diffForeignKeys(cs *solve.ChangeSet, declaredSchema, liveSchema *schema.Schema, declaredTable, liveTable *schema.Table, tableName string, colPairs map[string]string, tableRenames map[string]string) {
	type keyed struct {
		name    string
		fk      *schema.ForeignKey
		renamed *schema.ForeignKey
	}
	var liveItems []keyed
	for _, fk := range liveTable.ForeignKeys {
		r := *fk
		r.LocalColumns = renameColumns(fk.LocalColumns, colPairs)
		liveItems = append(liveItems, keyed{fk.Name, fk, &r})
	}

	matchedLive := make([]bool, len(liveItems))
	matchedDeclared := make([]bool, len(declaredTable.ForeignKeys))

	for i, d := range declaredTable.ForeignKeys {
		if d.Name == "" {
			continue
		}
		for j, l := range liveItems {
			if matchedLive[j] || l.name != d.Name {
				continue
			}
			if !fkLinkedColumnTypesCompatible(declaredSchema, liveSchema, declaredTable, liveTable, d, l.fk) {
				continue
			}
			matchedDeclared[i], matchedLive[j] = true, true
			break
		}
	}
	for i, d := range declaredTable.ForeignKeys {
		if matchedDeclared[i] {
			continue
		}
		for j, l := range liveItems {
			if matchedLive[j] {
				continue
			}
			refTable := l.renamed.RefTable
			if to, ok := tableRenames[refTable]; ok {
				refTable = to
			}
			if sameOrderedColumns(l.renamed.LocalColumns, d.LocalColumns) &&
				refTable == d.RefTable &&
				sameOrderedColumns(l.renamed.RefColumns, d.RefColumns) {
				if !fkLinkedColumnTypesCompatible(declaredSchema, liveSchema, declaredTable, liveTable, d, l.fk) {
					continue
				}
				matchedDeclared[i], matchedLive[j] = true, true
				break
			}
		}
	}

	for j, l := range liveItems {
		if !matchedLive[j] {
			cs.Changes = append(cs.Changes, &solve.DropForeignKey{Table: tableName, Name: l.fk.Name})
		}
	}
	for i, d := range declaredTable.ForeignKeys {
		if !matchedDeclared[i] {
			fk := *d
			name := fk.Name
			if name == "" {
				name = schema.GenerateConstraintName(tableName, fk.LocalColumns, "fkey")
				fk.Name = name
			}
			cs.Changes = append(cs.Changes, &solve.AddForeignKey{Table: tableName, FK: &fk})
		}
	}
}

// fkLinkedColumnTypesCompatible reports whether every column a foreign
// key links - its local columns on declaredTable/liveTable, and its
// referenced columns on the (declared/live) ref table - has the same
// type on both sides. A declared-vs-live type mismatch on either end
// means the column is scheduled for an AlterColumnType this same diff
// (spec.md scenario 4), so the constraint cannot simply be left in
// place: it must be dropped and recreated around the retype, the same
// as if the constraint itself had changed shape.
func fkLinkedColumnTypesCompatible(declaredSchema, liveSchema *schema.Schema, declaredTable, liveTable *schema.Table, d, l *schema.ForeignKey) bool {
	if len(d.LocalColumns) != len(l.LocalColumns) || len(d.RefColumns) != len(l.RefColumns) {
		return false
	}
	for i := range d.LocalColumns {
		declaredCol := declaredTable.Column(d.LocalColumns[i])
		liveCol := liveTable.Column(l.LocalColumns[i])
		if declaredCol == nil || liveCol == nil || !declaredCol.Type.Equal(liveCol.Type) {
			return false
		}
	}
	declaredRef := declaredSchema.Table(d.RefTable)
	liveRef := liveSchema.Table(l.RefTable)
	if declaredRef == nil || liveRef == nil {
		return false
	}
	for i := range d.RefColumns {
		declaredCol := declaredRef.Column(d.RefColumns[i])
		liveCol := liveRef.Column(l.RefColumns[i])
		if declaredCol == nil || liveCol == nil || !declaredCol.Type.Equal(liveCol.Type) {
			return false
		}
	}
	return true
}

func diffIndexes(cs *solve.ChangeSet, declaredTable, liveTable *schema.Table, tableName string, colPairs map[string]string) {
	type keyed struct {
		name string
		idx  *schema.Index
		cols []string
	}
	var liveItems []keyed
	for _, idx := range liveTable.Indexes {
		liveItems = append(liveItems, keyed{idx.Name, idx, renameColumns(idx.Columns, colPairs)})
	}

	matchedLive := make([]bool, len(liveItems))
	matchedDeclared := make([]bool, len(declaredTable.Indexes))

	for i, d := range declaredTable.Indexes {
		if d.Name == "" {
			continue
		}
		for j, l := range liveItems {
			if matchedLive[j] || l.name != d.Name {
				continue
			}
			matchedDeclared[i], matchedLive[j] = true, true
			break
		}
	}
	for i, d := range declaredTable.Indexes {
		if matchedDeclared[i] {
			continue
		}
		for j, l := range liveItems {
			if matchedLive[j] {
				continue
			}
			if sameColumnSetUnordered(l.cols, d.Columns) && l.idx.Unique == d.Unique && l.idx.Method == d.Method {
				matchedDeclared[i], matchedLive[j] = true, true
				break
			}
		}
	}

	for j, l := range liveItems {
		if !matchedLive[j] {
			cs.Changes = append(cs.Changes, &solve.DropIndex{Table: tableName, Name: l.name})
		}
	}
	for i, d := range declaredTable.Indexes {
		if !matchedDeclared[i] {
			idx := *d
			if idx.Name == "" {
				kind := "idx"
				idx.Name = schema.GenerateConstraintName(tableName, idx.Columns, kind)
			}
			cs.Changes = append(cs.Changes, &solve.AddIndex{Table: tableName, Index: &idx})
		}
	}
}

func sameColumnSetUnordered(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := map[string]int{}
	for _, c := range a {
		set[c]++
	}
	for _, c := range b {
		if set[c] == 0 {
			return false
		}
		set[c]--
	}
	return true
}
