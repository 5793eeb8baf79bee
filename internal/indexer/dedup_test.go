package indexer

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gitvec/gitvec/internal/store"
)

func TestDedupLookupMiss(t *testing.T) {
	d := NewDeduplicationIndex()
	_, ok := d.Lookup("missing")
	assert.False(t, ok)
	assert.Equal(t, 0, d.Len())
}

func TestDedupFirstWriteWins(t *testing.T) {
	d := NewDeduplicationIndex()
	d.Put("h", []float32{1})
	d.Put("h", []float32{2})
	vec, ok := d.Lookup("h")
	require.True(t, ok)
	assert.Equal(t, float32(1), vec[0])
}

func TestDedupIgnoresEmptyVector(t *testing.T) {
	d := NewDeduplicationIndex()
	d.Put("h", nil)
	_, ok := d.Lookup("h")
	assert.False(t, ok)
}

// Many readers against one writer; run with -race to verify the locking.
func TestDedupConcurrentReadersAndWriter(t *testing.T) {
	d := NewDeduplicationIndex()
	const hashes = 200

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < hashes; i++ {
			d.Put(fmt.Sprintf("hash-%d", i), []float32{float32(i)})
		}
	}()

	for r := 0; r < 8; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < hashes; i++ {
				if vec, ok := d.Lookup(fmt.Sprintf("hash-%d", i)); ok {
					// A visible entry is always complete.
					if vec[0] != float32(i) {
						t.Errorf("hash-%d resolved to %v", i, vec)
					}
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, hashes, d.Len())
}

func TestDedupSeedFromStore(t *testing.T) {
	ms := newMemStore()
	require.NoError(t, ms.UpsertPoints(context.Background(), []store.Point{
		{ID: "1", ContentHash: "h1", Vector: []float32{1, 2}},
		{ID: "2", ContentHash: "h2", Vector: []float32{3, 4}},
	}))

	d := NewDeduplicationIndex()
	require.NoError(t, d.SeedFromStore(context.Background(), ms))
	assert.Equal(t, 2, d.Len())
	vec, ok := d.Lookup("h1")
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2}, vec)
}
