package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryResultClone(t *testing.T) {
	total := 42
	original := &QueryResult{
		Rows: []Row{
			{"id": int64(1), "name": "alice"},
			{"id": int64(2), "name": "bob"},
		},
		Fields:    []FieldInfo{{Name: "id", Type: CategoryInteger}},
		RowCount:  2,
		TotalRows: &total,
	}

	clone := original.Clone()
	require.NotNil(t, clone)

	clone.Rows[0]["name"] = "mutated"
	clone.Fields[0].Name = "changed"
	*clone.TotalRows = 99

	assert.Equal(t, "alice", original.Rows[0]["name"], "cloned row mutation must not leak back")
	assert.Equal(t, "id", original.Fields[0].Name, "cloned field mutation must not leak back")
	assert.Equal(t, 42, *original.TotalRows, "cloned TotalRows mutation must not leak back")
}

func TestQueryResultCloneNil(t *testing.T) {
	var r *QueryResult
	assert.Nil(t, r.Clone())
}

func TestQueryResultCloneEmptyFields(t *testing.T) {
	original := &QueryResult{}
	clone := original.Clone()
	assert.Nil(t, clone.Rows)
	assert.Nil(t, clone.Fields)
	assert.Nil(t, clone.TotalRows)
}

func TestRelationshipMapAddPreservesInsertionOrder(t *testing.T) {
	m := NewRelationshipMap()
	m.Add("orders", "users")
	m.Add("orders", "products")
	m.Add("reviews", "products")
	m.Add("orders", "users") // duplicate, should not append again or reorder

	assert.Equal(t, []string{"orders", "reviews"}, m.Order)
	assert.Equal(t, []string{"users", "products"}, m.Refs["orders"])
	assert.Equal(t, []string{"products"}, m.Refs["reviews"])
}

func TestRelationshipMapAddDeduplicatesRefs(t *testing.T) {
	m := NewRelationshipMap()
	m.Add("a", "b")
	m.Add("a", "b")
	m.Add("a", "b")

	assert.Len(t, m.Refs["a"], 1)
}
