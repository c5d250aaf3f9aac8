package schema

import (
	"strconv"
	"strings"
)

// QuoteIdent double-quotes a Postgres identifier, doubling any embedded
// double quote. Every identifier this core emits is quoted unconditionally
// (table and column names that collide with reserved words like "user",
// "order", and "group" are common in this domain).
func QuoteIdent(name string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range name {
		if r == '"' {
			b.WriteString(`""`)
		} else {
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// MaxIdentifierLength is Postgres's NAMEDATALEN - 1.
const MaxIdentifierLength = 63

// GenerateConstraintName builds a constraint or index name from a table
// name, a set of column names, and a kind suffix (e.g. "fkey", "key",
// "idx"), truncating to fit within MaxIdentifierLength using Postgres's
// own truncation algorithm: reduce the column portion to 28 bytes before
// touching the table portion.
func GenerateConstraintName(table string, columns []string, kind string) string {
	colPart := strings.Join(columns, "_")
	full := table + "_" + colPart + "_" + kind
	if len(full) <= MaxIdentifierLength {
		return full
	}

	overflow := len(full) - MaxIdentifierLength
	tableLen := len(table)
	colLen := len(colPart)

	tableRemove, colRemove := 0, 0
	if colLen > 28 {
		colRemove = overflow
		if colRemove > colLen-28 {
			tableRemove = colRemove - (colLen - 28)
			colRemove = colLen - 28
		}
	} else {
		tableRemove = overflow
	}
	if tableRemove > tableLen {
		tableRemove = tableLen
	}
	if colRemove > colLen {
		colRemove = colLen
	}

	truncatedTable := table[:tableLen-tableRemove]
	truncatedCol := colPart[:colLen-colRemove]
	return truncatedTable + "_" + truncatedCol + "_" + kind
}

// NextTempName returns the lowest-numbered synthetic temporary name of
// the form "<original>_dibs_tmp_<n>" not already present in taken.
func NextTempName(original string, taken map[string]bool) string {
	for n := 0; ; n++ {
		candidate := GenerateTempName(original, n)
		if !taken[candidate] {
			return candidate
		}
	}
}

// GenerateTempName builds the n-th synthetic temporary name for original.
func GenerateTempName(original string, n int) string {
	return original + "_dibs_tmp_" + strconv.Itoa(n)
}
