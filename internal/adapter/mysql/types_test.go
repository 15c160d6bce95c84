package mysql

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/melkeydev/dbbroker/internal/types"
)

func TestNormalizeTypeKnownTypes(t *testing.T) {
	assert.Equal(t, types.CategoryInteger, NormalizeType("int"))
	assert.Equal(t, types.CategoryInteger, NormalizeType("BIGINT"))
	assert.Equal(t, types.CategoryDecimal, NormalizeType("decimal(10,2)"))
	assert.Equal(t, types.CategoryString, NormalizeType("varchar(255)"))
	assert.Equal(t, types.CategoryText, NormalizeType("longtext"))
	assert.Equal(t, types.CategoryJSON, NormalizeType("json"))
}

func TestNormalizeTypeStripsParametersAndModifiers(t *testing.T) {
	assert.Equal(t, types.CategoryString, NormalizeType("enum('a','b')"))
	assert.Equal(t, types.CategoryInteger, NormalizeType("int unsigned"))
}

func TestNormalizeTypeUnknownFallsBackToString(t *testing.T) {
	assert.Equal(t, types.CategoryString, NormalizeType("some_future_type"))
}

func TestIsNumericCategory(t *testing.T) {
	assert.True(t, isNumericCategory(types.CategoryInteger))
	assert.True(t, isNumericCategory(types.CategoryFloat))
	assert.True(t, isNumericCategory(types.CategoryDecimal))
	assert.False(t, isNumericCategory(types.CategoryString))
	assert.False(t, isNumericCategory(types.CategoryDate))
}

func TestSystemSchemaPatternExcludesCatalogs(t *testing.T) {
	for _, name := range []string{"mysql", "sys", "performance_schema", "information_schema"} {
		assert.True(t, systemSchemaPattern.MatchString(name), "%q should match", name)
	}
	assert.False(t, systemSchemaPattern.MatchString("app_production"))
}
