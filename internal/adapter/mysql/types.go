package mysql

import (
	"regexp"
	"strings"

	"github.com/melkeydev/dbbroker/internal/types"
)

// typeMap is the fixed normalization table from spec.md §4.2.
var typeMap = map[string]types.ColumnCategory{
	"TINYINT":    types.CategoryInteger,
	"SMALLINT":   types.CategoryInteger,
	"MEDIUMINT":  types.CategoryInteger,
	"INT":        types.CategoryInteger,
	"INTEGER":    types.CategoryInteger,
	"BIGINT":     types.CategoryInteger,
	"YEAR":       types.CategoryInteger,
	"FLOAT":      types.CategoryFloat,
	"DOUBLE":     types.CategoryFloat,
	"DECIMAL":    types.CategoryDecimal,
	"NUMERIC":    types.CategoryDecimal,
	"VARCHAR":    types.CategoryString,
	"CHAR":       types.CategoryString,
	"ENUM":       types.CategoryString,
	"SET":        types.CategoryString,
	"TEXT":       types.CategoryText,
	"TINYTEXT":   types.CategoryText,
	"MEDIUMTEXT": types.CategoryText,
	"LONGTEXT":   types.CategoryText,
	"BLOB":       types.CategoryBinary,
	"TINYBLOB":   types.CategoryBinary,
	"MEDIUMBLOB": types.CategoryBinary,
	"LONGBLOB":   types.CategoryBinary,
	"BINARY":     types.CategoryBinary,
	"VARBINARY":  types.CategoryBinary,
	"DATE":       types.CategoryDate,
	"TIME":       types.CategoryTime,
	"DATETIME":   types.CategoryDateTime,
	"TIMESTAMP":  types.CategoryTimestamp,
	"JSON":       types.CategoryJSON,
	"GEOMETRY":   types.CategoryGeometry,
	"POINT":      types.CategoryGeometry,
	"POLYGON":    types.CategoryGeometry,
}

// NormalizeType maps a native MySQL type name onto the shared category
// vocabulary. Unknown types normalize to string, matching the teacher's
// permissive treatment of unrecognized INFORMATION_SCHEMA values.
func NormalizeType(native string) types.ColumnCategory {
	base := strings.ToUpper(native)
	if idx := strings.IndexAny(base, "( "); idx >= 0 {
		base = base[:idx]
	}
	if cat, ok := typeMap[base]; ok {
		return cat
	}
	return types.CategoryString
}

// isNumericCategory reports whether the profiler should run numeric
// aggregation (STDDEV/VARIANCE/AVG) for a column of this category.
func isNumericCategory(c types.ColumnCategory) bool {
	switch c {
	case types.CategoryInteger, types.CategoryFloat, types.CategoryDecimal:
		return true
	}
	return false
}

// systemSchemaPattern excludes MySQL's own catalog tables from schema scans
// by default (spec.md §4.2).
var systemSchemaPattern = regexp.MustCompile(`^(mysql|sys|performance_schema|information_schema)`)

// Pattern regexes used by the data profiler for column pattern counting.
var (
	emailPattern = `^[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`
	phonePattern = `^\+?[0-9()\-. ]{7,}$`
	urlPattern   = `^https?://`
)
