package testutil

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUIDSequence_Reproducible(t *testing.T) {
	a := NewUUIDSequence("nodes")
	b := NewUUIDSequence("nodes")

	for i := 0; i < 5; i++ {
		assert.Equal(t, a.Next(), b.Next())
	}
}

func TestUUIDSequence_DistinctValues(t *testing.T) {
	s := NewUUIDSequence("")
	first, second := s.Next(), s.Next()
	assert.NotEqual(t, first, second)

	parsed, err := uuid.Parse(first)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(5), parsed.Version())
}

func TestUUIDSequence_PrefixesDoNotCollide(t *testing.T) {
	assert.NotEqual(t, NewUUIDSequence("a").Next(), NewUUIDSequence("b").Next())
}

func TestUUIDSequence_ThreadSafe(t *testing.T) {
	s := NewUUIDSequence("concurrent")
	const n = 200

	var mu sync.Mutex
	seen := make(map[string]bool, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			id := s.Next()
			mu.Lock()
			seen[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, n)
}
