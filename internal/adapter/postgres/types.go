package postgres

import (
	"github.com/jackc/pgtype"

	"github.com/melkeydev/dbbroker/internal/types"
)

// NormalizeOID maps a Postgres type OID onto the shared category
// vocabulary (spec.md §9). Unknown OIDs normalize to string.
func NormalizeOID(oid uint32) types.ColumnCategory {
	switch oid {
	case pgtype.Int2OID, pgtype.Int4OID, pgtype.Int8OID:
		return types.CategoryInteger
	case pgtype.Float4OID, pgtype.Float8OID:
		return types.CategoryFloat
	case pgtype.NumericOID:
		return types.CategoryDecimal
	case pgtype.VarcharOID, pgtype.BPCharOID, pgtype.NameOID:
		return types.CategoryString
	case pgtype.TextOID:
		return types.CategoryText
	case pgtype.ByteaOID:
		return types.CategoryBinary
	case pgtype.DateOID:
		return types.CategoryDate
	case pgtype.TimeOID:
		return types.CategoryTime
	case pgtype.TimestampOID:
		return types.CategoryDateTime
	case pgtype.TimestamptzOID:
		return types.CategoryTimestamp
	case pgtype.JSONOID, pgtype.JSONBOID:
		return types.CategoryJSON
	case pgtype.PointOID, pgtype.PolygonOID, pgtype.PathOID:
		return types.CategoryGeometry
	default:
		return types.CategoryString
	}
}

// normalizeNativeName maps a pg_catalog format_type() string onto the
// category vocabulary; used by the schema analyzer, which reads type names
// rather than OIDs out of information_schema.
func normalizeNativeName(name string) types.ColumnCategory {
	switch name {
	case "smallint", "integer", "bigint", "serial", "bigserial", "smallserial":
		return types.CategoryInteger
	case "real", "double precision":
		return types.CategoryFloat
	case "numeric", "decimal", "money":
		return types.CategoryDecimal
	case "character varying", "character", "varchar", "char", "uuid":
		return types.CategoryString
	case "text":
		return types.CategoryText
	case "bytea":
		return types.CategoryBinary
	case "date":
		return types.CategoryDate
	case "time", "time without time zone", "time with time zone":
		return types.CategoryTime
	case "timestamp", "timestamp without time zone":
		return types.CategoryDateTime
	case "timestamp with time zone", "timestamptz":
		return types.CategoryTimestamp
	case "json", "jsonb":
		return types.CategoryJSON
	case "point", "polygon", "path", "geometry":
		return types.CategoryGeometry
	default:
		return types.CategoryString
	}
}

var (
	emailPattern = `[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`
	phonePattern = `^\+?[0-9()\-. ]{7,}$`
	urlPattern   = `^https?://`
	isoDatePattern = `^[0-9]{4}-[0-9]{2}-[0-9]{2}`
)
