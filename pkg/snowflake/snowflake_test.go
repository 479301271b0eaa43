package snowflake

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIDGenerator(t *testing.T) {
	gen, err := NewIDGenerator(1)
	assert.NoError(t, err)
	assert.NotNil(t, gen)
	assert.Equal(t, int64(1), gen.nodeID)

	gen, err = NewIDGenerator(-1)
	assert.Error(t, err)
	assert.Nil(t, gen)

	gen, err = NewIDGenerator(nodeMask + 1)
	assert.Error(t, err)
	assert.Nil(t, gen)

	gen, err = NewIDGenerator(0)
	assert.NoError(t, err)
	assert.NotNil(t, gen)

	gen, err = NewIDGenerator(nodeMask)
	assert.NoError(t, err)
	assert.NotNil(t, gen)
}

func TestNextIDUnique(t *testing.T) {
	gen, err := NewIDGenerator(1)
	require.NoError(t, err)

	ids := make([]int64, 1000)
	for i := range ids {
		ids[i] = gen.NextID()
	}

	idSet := make(map[int64]bool)
	for _, id := range ids {
		assert.False(t, idSet[id], "Duplicate ID generated: %d", id)
		assert.Positive(t, id)
		idSet[id] = true
	}
}

func TestNextIDConcurrent(t *testing.T) {
	gen, err := NewIDGenerator(2)
	require.NoError(t, err)

	const workers = 8
	const perWorker = 200

	var mu sync.Mutex
	seen := make(map[int64]bool)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				id := gen.NextID()
				mu.Lock()
				assert.False(t, seen[id], "Duplicate ID under concurrency: %d", id)
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*perWorker)
}

func TestParseID(t *testing.T) {
	gen, err := NewIDGenerator(5)
	require.NoError(t, err)

	id := gen.NextID()
	_, nodeID, _ := ParseID(id)
	assert.Equal(t, int64(5), nodeID)
}
