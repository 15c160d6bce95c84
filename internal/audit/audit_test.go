package audit

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/melkeydev/dbbroker/internal/types"
)

func TestAppendAndRecent(t *testing.T) {
	r := NewRing(10)
	for i := 0; i < 3; i++ {
		r.Append(types.AuditEntry{Query: fmt.Sprintf("q%d", i)})
	}
	require.Equal(t, 3, r.Len())

	recent := r.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "q1", recent[0].Query)
	assert.Equal(t, "q2", recent[1].Query)
}

func TestRecentZeroOrNegativeReturnsAll(t *testing.T) {
	r := NewRing(10)
	r.Append(types.AuditEntry{Query: "a"})
	r.Append(types.AuditEntry{Query: "b"})

	assert.Len(t, r.Recent(0), 2)
	assert.Len(t, r.Recent(-5), 2)
}

func TestAppendDropsOldestPastCapacity(t *testing.T) {
	r := NewRing(3)
	for i := 0; i < 5; i++ {
		r.Append(types.AuditEntry{Query: fmt.Sprintf("q%d", i)})
	}
	assert.Equal(t, 3, r.Len())

	all := r.Recent(0)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"q2", "q3", "q4"}, []string{all[0].Query, all[1].Query, all[2].Query})
}

func TestNewRingDefaultsInvalidCapacity(t *testing.T) {
	r := NewRing(0)
	assert.Equal(t, 1000, r.capacity)
	r2 := NewRing(-5)
	assert.Equal(t, 1000, r2.capacity)
}
