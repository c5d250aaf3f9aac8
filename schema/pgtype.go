package schema

import "fmt"

// PgTypeKind tags the variant of a PgType.
type PgTypeKind int

const (
	Bigint PgTypeKind = iota
	Int
	SmallInt
	Text
	Varchar
	Bool
	Bytea
	Uuid
	Timestamptz
	Timestamp
	Date
	Time
	Numeric
	Jsonb
	EnumRef
	Array
	Other
)

// PgType is a tagged variant over the Postgres column types this core
// understands. Varchar carries an optional length, Numeric an optional
// precision/scale, EnumRef the referenced enum type name, Array the
// inner element type, and Other the raw type name reported by Postgres
// for anything not otherwise modeled.
type PgType struct {
	Kind PgTypeKind

	VarcharLen int  // valid when Kind == Varchar; 0 means unbounded
	HasLen     bool // whether VarcharLen is meaningful

	NumericPrecision int
	NumericScale     int
	HasPrecision     bool
	HasScale         bool

	EnumName string // valid when Kind == EnumRef

	ArrayInner *PgType // valid when Kind == Array

	RawName string // valid when Kind == Other
}

// Equal reports structural equality between two PgType values.
func (t PgType) Equal(o PgType) bool {
	if t.Kind != o.Kind {
		return false
	}
	switch t.Kind {
	case Varchar:
		return t.HasLen == o.HasLen && (!t.HasLen || t.VarcharLen == o.VarcharLen)
	case Numeric:
		return t.HasPrecision == o.HasPrecision && t.HasScale == o.HasScale &&
			(!t.HasPrecision || t.NumericPrecision == o.NumericPrecision) &&
			(!t.HasScale || t.NumericScale == o.NumericScale)
	case EnumRef:
		return t.EnumName == o.EnumName
	case Array:
		if t.ArrayInner == nil || o.ArrayInner == nil {
			return t.ArrayInner == o.ArrayInner
		}
		return t.ArrayInner.Equal(*o.ArrayInner)
	case Other:
		return t.RawName == o.RawName
	default:
		return true
	}
}

// String renders the type the way it would appear in declared-schema
// debug output; it is not used for DDL rendering (see package render).
func (t PgType) String() string {
	switch t.Kind {
	case Bigint:
		return "bigint"
	case Int:
		return "int"
	case SmallInt:
		return "smallint"
	case Text:
		return "text"
	case Varchar:
		if t.HasLen {
			return fmt.Sprintf("varchar(%d)", t.VarcharLen)
		}
		return "varchar"
	case Bool:
		return "bool"
	case Bytea:
		return "bytea"
	case Uuid:
		return "uuid"
	case Timestamptz:
		return "timestamptz"
	case Timestamp:
		return "timestamp"
	case Date:
		return "date"
	case Time:
		return "time"
	case Numeric:
		switch {
		case t.HasPrecision && t.HasScale:
			return fmt.Sprintf("numeric(%d,%d)", t.NumericPrecision, t.NumericScale)
		case t.HasPrecision:
			return fmt.Sprintf("numeric(%d)", t.NumericPrecision)
		default:
			return "numeric"
		}
	case Jsonb:
		return "jsonb"
	case EnumRef:
		return t.EnumName
	case Array:
		if t.ArrayInner != nil {
			return t.ArrayInner.String() + "[]"
		}
		return "unknown[]"
	default:
		return t.RawName
	}
}

// Constructors for the common, argument-free variants.

func NewBigint() PgType      { return PgType{Kind: Bigint} }
func NewInt() PgType         { return PgType{Kind: Int} }
func NewSmallInt() PgType    { return PgType{Kind: SmallInt} }
func NewText() PgType        { return PgType{Kind: Text} }
func NewBool() PgType        { return PgType{Kind: Bool} }
func NewBytea() PgType       { return PgType{Kind: Bytea} }
func NewUuid() PgType        { return PgType{Kind: Uuid} }
func NewTimestamptz() PgType { return PgType{Kind: Timestamptz} }
func NewTimestamp() PgType   { return PgType{Kind: Timestamp} }
func NewDate() PgType        { return PgType{Kind: Date} }
func NewTime() PgType        { return PgType{Kind: Time} }
func NewJsonb() PgType       { return PgType{Kind: Jsonb} }

// NewVarchar returns a Varchar type with an explicit length.
func NewVarchar(n int) PgType {
	return PgType{Kind: Varchar, HasLen: true, VarcharLen: n}
}

// NewVarcharUnbounded returns a Varchar type with no length limit.
func NewVarcharUnbounded() PgType {
	return PgType{Kind: Varchar}
}

// NewNumeric returns a Numeric type with explicit precision and scale.
func NewNumeric(precision, scale int) PgType {
	return PgType{Kind: Numeric, HasPrecision: true, NumericPrecision: precision, HasScale: true, NumericScale: scale}
}

// NewNumericP returns a Numeric type with only a precision.
func NewNumericP(precision int) PgType {
	return PgType{Kind: Numeric, HasPrecision: true, NumericPrecision: precision}
}

// NewNumericUnbounded returns a Numeric type with neither precision nor scale.
func NewNumericUnbounded() PgType {
	return PgType{Kind: Numeric}
}

// NewEnumRef returns a reference to a named enum type.
func NewEnumRef(name string) PgType {
	return PgType{Kind: EnumRef, EnumName: name}
}

// NewArray returns an array type over the given inner element type.
func NewArray(inner PgType) PgType {
	return PgType{Kind: Array, ArrayInner: &inner}
}

// NewOther returns an opaque type carrying the raw Postgres type name.
func NewOther(rawName string) PgType {
	return PgType{Kind: Other, RawName: rawName}
}
