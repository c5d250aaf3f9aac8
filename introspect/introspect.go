// Package introspect reads the live schema of a running Postgres
// database into the canonical schema.Schema model.
package introspect

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	_ "github.com/lib/pq"

	"github.com/bearcove/dibs/errs"
	"github.com/bearcove/dibs/schema"
)

// Introspect reads every base table in targetSchema (default "public"
// if empty) into a schema.Schema, excluding views, partitioned
// children, and tables reserved for migration-runner bookkeeping.
func Introspect(ctx context.Context, db *sql.DB, targetSchema string) (*schema.Schema, error) {
	if targetSchema == "" {
		targetSchema = "public"
	}

	names, err := tableNames(ctx, db, targetSchema)
	if err != nil {
		return nil, &errs.IntrospectionError{Kind: "tables", Context: targetSchema, Err: err}
	}

	enumTypes, err := enumTypeNames(ctx, db)
	if err != nil {
		return nil, &errs.IntrospectionError{Kind: "enum-types", Context: targetSchema, Err: err}
	}

	out := schema.New()
	for _, name := range names {
		t, err := introspectTable(ctx, db, targetSchema, name, enumTypes)
		if err != nil {
			return nil, &errs.IntrospectionError{Kind: "table", Context: name, Err: err}
		}
		out.AddTable(t)
	}
	return out, nil
}

// tableNames lists base tables in the target schema, excluding views,
// partitioned children, and tables under the migration-runner's
// reserved prefix. Grounded in database/postgres/database.go's
// tableNames query, narrowed to a single schema.
func tableNames(ctx context.Context, db *sql.DB, targetSchema string) ([]string, error) {
	const query = `
		SELECT c.relname
		FROM pg_catalog.pg_class c
		INNER JOIN pg_catalog.pg_namespace n ON c.relnamespace = n.oid
		WHERE n.nspname = $1
		AND c.relkind IN ('r', 'p')
		AND c.relpersistence IN ('p', 'u')
		AND c.relispartition = false
		ORDER BY c.relname;
	`
	rows, err := db.QueryContext(ctx, query, targetSchema)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		if strings.HasPrefix(name, schema.InternalPrefix) {
			continue
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// enumTypeNames returns every type name Postgres reports as an enum
// (pg_type.typtype = 'e'), grounded in database/postgres/database.go's
// types() enum-discovery query.
func enumTypeNames(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	const query = `
		SELECT DISTINCT t.typname
		FROM pg_catalog.pg_type t
		WHERE t.typtype = 'e';
	`
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out[name] = true
	}
	return out, rows.Err()
}

func introspectTable(ctx context.Context, db *sql.DB, targetSchema, table string, enumTypes map[string]bool) (*schema.Table, error) {
	cols, err := getColumns(ctx, db, targetSchema, table, enumTypes)
	if err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}
	pk, err := getPrimaryKeyColumns(ctx, db, targetSchema, table)
	if err != nil {
		return nil, fmt.Errorf("primary key: %w", err)
	}
	uniques, err := getUniqueConstraints(ctx, db, targetSchema, table)
	if err != nil {
		return nil, fmt.Errorf("unique constraints: %w", err)
	}
	fks, err := getForeignKeys(ctx, db, targetSchema, table)
	if err != nil {
		return nil, fmt.Errorf("foreign keys: %w", err)
	}
	indexes, err := getIndexes(ctx, db, targetSchema, table)
	if err != nil {
		return nil, fmt.Errorf("indexes: %w", err)
	}

	return &schema.Table{
		Name:              table,
		Columns:           cols,
		PrimaryKey:        pk,
		UniqueConstraints: uniques,
		ForeignKeys:       fks,
		Indexes:           indexes,
	}, nil
}

// getColumns reads ordinal-position-ordered columns, grounded in
// database/postgres/database.go's getColumns query, narrowed to the
// fields the typed schema model needs and reshaped to return a
// schema.PgType rather than a DDL type string.
func getColumns(ctx context.Context, db *sql.DB, targetSchema, table string, enumTypes map[string]bool) ([]*schema.Column, error) {
	const query = `
		SELECT
			a.attname,
			a.attnotnull,
			pg_get_expr(ad.adbin, ad.adrelid),
			a.attidentity,
			t.typname,
			format_type(a.atttypid, a.atttypmod) AS formatted_type,
			CASE WHEN t.typcategory = 'A' THEN et.typname ELSE NULL END AS elem_typname
		FROM pg_attribute a
		JOIN pg_class c ON c.oid = a.attrelid
		JOIN pg_namespace n ON n.oid = c.relnamespace
		JOIN pg_type t ON t.oid = a.atttypid
		LEFT JOIN pg_type et ON et.oid = t.typelem
		LEFT JOIN pg_attrdef ad ON ad.adrelid = c.oid AND ad.adnum = a.attnum
		WHERE n.nspname = $1 AND c.relname = $2 AND a.attnum > 0 AND NOT a.attisdropped
		ORDER BY a.attnum;
	`
	rows, err := db.QueryContext(ctx, query, targetSchema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []*schema.Column
	for rows.Next() {
		var (
			name, attidentity, typname, formattedType string
			notNull                                    bool
			defaultExpr, elemTypname                   sql.NullString
		)
		if err := rows.Scan(&name, &notNull, &defaultExpr, &attidentity, &typname, &formattedType, &elemTypname); err != nil {
			return nil, err
		}

		pgType := mapPgType(typname, formattedType, elemTypname.String, enumTypes)

		identity := schema.IdentityNone
		switch attidentity {
		case "a":
			identity = schema.IdentityAlways
		case "d":
			identity = schema.IdentityByDefault
		}

		cols = append(cols, &schema.Column{
			Name:     name,
			Type:     pgType,
			Nullable: !notNull,
			Default:  defaultExpr.String,
			Identity: identity,
		})
	}
	return cols, rows.Err()
}

// mapPgType implements §4.1's type mapping table.
func mapPgType(typname, formattedType, elemTypname string, enumTypes map[string]bool) schema.PgType {
	switch typname {
	case "int8":
		return schema.NewBigint()
	case "int4":
		return schema.NewInt()
	case "int2":
		return schema.NewSmallInt()
	case "text":
		return schema.NewText()
	case "bool":
		return schema.NewBool()
	case "bytea":
		return schema.NewBytea()
	case "uuid":
		return schema.NewUuid()
	case "timestamptz":
		return schema.NewTimestamptz()
	case "timestamp":
		return schema.NewTimestamp()
	case "date":
		return schema.NewDate()
	case "time":
		return schema.NewTime()
	case "jsonb":
		return schema.NewJsonb()
	case "varchar":
		if n, ok := parseVarcharLen(formattedType); ok {
			return schema.NewVarchar(n)
		}
		return schema.NewVarcharUnbounded()
	case "numeric":
		p, s, ok := parseNumericPrecisionScale(formattedType)
		switch {
		case ok && s >= 0:
			return schema.NewNumeric(p, s)
		case ok:
			return schema.NewNumericP(p)
		default:
			return schema.NewNumericUnbounded()
		}
	case "_int8", "_int4", "_int2", "_text", "_varchar", "_uuid", "_bool", "_jsonb", "_timestamptz", "_timestamp", "_date", "_numeric":
		inner := mapPgType(elemTypname, elemTypname, "", enumTypes)
		return schema.NewArray(inner)
	default:
		if enumTypes[typname] {
			return schema.NewEnumRef(typname)
		}
		return schema.NewOther(typname)
	}
}

func parseVarcharLen(formatted string) (int, bool) {
	open := strings.IndexByte(formatted, '(')
	close := strings.IndexByte(formatted, ')')
	if open < 0 || close < 0 || close < open {
		return 0, false
	}
	var n int
	if _, err := fmt.Sscanf(formatted[open+1:close], "%d", &n); err != nil {
		return 0, false
	}
	return n, true
}

func parseNumericPrecisionScale(formatted string) (precision, scale int, ok bool) {
	open := strings.IndexByte(formatted, '(')
	close := strings.IndexByte(formatted, ')')
	if open < 0 || close < 0 || close < open {
		return 0, 0, false
	}
	inner := formatted[open+1 : close]
	parts := strings.SplitN(inner, ",", 2)
	if len(parts) == 2 {
		if _, err := fmt.Sscanf(parts[0], "%d", &precision); err != nil {
			return 0, 0, false
		}
		if _, err := fmt.Sscanf(parts[1], "%d", &scale); err != nil {
			return 0, 0, false
		}
		return precision, scale, true
	}
	if _, err := fmt.Sscanf(parts[0], "%d", &precision); err != nil {
		return 0, 0, false
	}
	return precision, -1, true
}

// getPrimaryKeyColumns reads PK columns in conkey order, grounded in
// database/postgres/database.go's getPrimaryKeyColumns, rewritten to
// preserve ordinal order via pg_constraint directly rather than
// information_schema (which does not guarantee conkey order across
// joins).
func getPrimaryKeyColumns(ctx context.Context, db *sql.DB, targetSchema, table string) ([]string, error) {
	const query = `
		SELECT a.attname
		FROM pg_constraint con
		JOIN pg_namespace nsp ON nsp.oid = con.connamespace
		JOIN pg_class cls ON cls.oid = con.conrelid
		CROSS JOIN UNNEST(con.conkey) WITH ORDINALITY AS k(attnum, ordinality)
		JOIN pg_attribute a ON a.attrelid = con.conrelid AND a.attnum = k.attnum
		WHERE con.contype = 'p' AND nsp.nspname = $1 AND cls.relname = $2
		ORDER BY k.ordinality;
	`
	rows, err := db.QueryContext(ctx, query, targetSchema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		cols = append(cols, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, nil
	}
	return cols, nil
}

func getUniqueConstraints(ctx context.Context, db *sql.DB, targetSchema, table string) ([]*schema.UniqueConstraint, error) {
	const query = `
		SELECT con.conname, a.attname, k.ordinality
		FROM pg_constraint con
		JOIN pg_namespace nsp ON nsp.oid = con.connamespace
		JOIN pg_class cls ON cls.oid = con.conrelid
		CROSS JOIN UNNEST(con.conkey) WITH ORDINALITY AS k(attnum, ordinality)
		JOIN pg_attribute a ON a.attrelid = con.conrelid AND a.attnum = k.attnum
		WHERE con.contype = 'u' AND nsp.nspname = $1 AND cls.relname = $2
		ORDER BY con.conname, k.ordinality;
	`
	rows, err := db.QueryContext(ctx, query, targetSchema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byName := map[string]*schema.UniqueConstraint{}
	var order []string
	for rows.Next() {
		var name, col string
		var ordinality int
		if err := rows.Scan(&name, &col, &ordinality); err != nil {
			return nil, err
		}
		u, ok := byName[name]
		if !ok {
			u = &schema.UniqueConstraint{Name: name}
			byName[name] = u
			order = append(order, name)
		}
		u.Columns = append(u.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*schema.UniqueConstraint, 0, len(order))
	for _, name := range order {
		out = append(out, byName[name])
	}
	return out, nil
}

// getForeignKeys reads foreign keys preserving conkey/confkey order,
// grounded in database/postgres/database.go's getForeignDefs.
func getForeignKeys(ctx context.Context, db *sql.DB, targetSchema, table string) ([]*schema.ForeignKey, error) {
	const query = `
		SELECT c.conname, r2.relname AS ref_table, a1.attname AS local_col, a2.attname AS ref_col, k.ordinality
		FROM pg_constraint c
		JOIN pg_namespace n1 ON n1.oid = c.connamespace
		JOIN pg_class r1 ON r1.oid = c.conrelid
		JOIN pg_class r2 ON r2.oid = c.confrelid
		CROSS JOIN UNNEST(c.conkey, c.confkey) WITH ORDINALITY AS k(localattnum, refattnum, ordinality)
		JOIN pg_attribute a1 ON a1.attrelid = c.conrelid AND a1.attnum = k.localattnum
		JOIN pg_attribute a2 ON a2.attrelid = c.confrelid AND a2.attnum = k.refattnum
		WHERE c.contype = 'f' AND n1.nspname = $1 AND r1.relname = $2
		ORDER BY c.conname, k.ordinality;
	`
	rows, err := db.QueryContext(ctx, query, targetSchema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byName := map[string]*schema.ForeignKey{}
	var order []string
	for rows.Next() {
		var name, refTable, localCol, refCol string
		var ordinality int
		if err := rows.Scan(&name, &refTable, &localCol, &refCol, &ordinality); err != nil {
			return nil, err
		}
		fk, ok := byName[name]
		if !ok {
			fk = &schema.ForeignKey{Name: name, RefTable: refTable}
			byName[name] = fk
			order = append(order, name)
		}
		fk.LocalColumns = append(fk.LocalColumns, localCol)
		fk.RefColumns = append(fk.RefColumns, refCol)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*schema.ForeignKey, 0, len(order))
	for _, name := range order {
		out = append(out, byName[name])
	}
	return out, nil
}

// getIndexes reads indexes via pg_index/pg_am, excluding those backing
// a primary key or unique constraint (already captured above), grounded
// in database/postgres/database.go's getIndexDefs query shape.
func getIndexes(ctx context.Context, db *sql.DB, targetSchema, table string) ([]*schema.Index, error) {
	const query = `
		SELECT ic.relname AS index_name, a.attname, k.ordinality, i.indisunique, am.amname
		FROM pg_index i
		JOIN pg_class ic ON ic.oid = i.indexrelid
		JOIN pg_class tc ON tc.oid = i.indrelid
		JOIN pg_namespace n ON n.oid = tc.relnamespace
		JOIN pg_am am ON am.oid = ic.relam
		CROSS JOIN UNNEST(i.indkey) WITH ORDINALITY AS k(attnum, ordinality)
		JOIN pg_attribute a ON a.attrelid = tc.oid AND a.attnum = k.attnum
		WHERE n.nspname = $1 AND tc.relname = $2
		AND NOT EXISTS (
			SELECT 1 FROM pg_constraint con
			WHERE con.conindid = i.indexrelid AND con.contype IN ('p', 'u')
		)
		ORDER BY ic.relname, k.ordinality;
	`
	rows, err := db.QueryContext(ctx, query, targetSchema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byName := map[string]*schema.Index{}
	var order []string
	for rows.Next() {
		var name, col, method string
		var ordinality int
		var unique bool
		if err := rows.Scan(&name, &col, &ordinality, &unique, &method); err != nil {
			return nil, err
		}
		idx, ok := byName[name]
		if !ok {
			idx = &schema.Index{Name: name, Unique: unique, Method: method}
			byName[name] = idx
			order = append(order, name)
		}
		idx.Columns = append(idx.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Strings(order)
	out := make([]*schema.Index, 0, len(order))
	for _, name := range order {
		out = append(out, byName[name])
	}
	return out, nil
}
