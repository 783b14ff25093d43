package fetch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestByteRange(t *testing.T) {
	r := ByteRange{Start: 1000, End: 2000}
	assert.Equal(t, int64(1000), r.Len())
	assert.Equal(t, "bytes=1000-1999", r.Header())
}

func TestChunkCache_PutGet(t *testing.T) {
	c := NewChunkCache(1024)

	assert.Nil(t, c.Get("x", 0))

	c.Put(&Chunk{ContentID: "x", Offset: 0, Status: ChunkLoaded, Size: 100})
	got := c.Get("x", 0)
	assert.NotNil(t, got)
	assert.Equal(t, int64(100), got.Size)

	stats := c.Stats()
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
}

func TestChunkCache_OnlyLoadedChunksStored(t *testing.T) {
	c := NewChunkCache(1024)

	c.Put(&Chunk{ContentID: "x", Offset: 0, Status: ChunkFailed, Size: 100})
	c.Put(&Chunk{ContentID: "x", Offset: 100, Status: ChunkAborted, Size: 100})
	c.Put(nil)

	assert.Equal(t, 0, c.Stats().Entries)
}

func TestChunkCache_EvictsOldestPastBudget(t *testing.T) {
	c := NewChunkCache(250)

	c.Put(&Chunk{ContentID: "x", Offset: 0, Status: ChunkLoaded, Size: 100})
	c.Put(&Chunk{ContentID: "x", Offset: 100, Status: ChunkLoaded, Size: 100})
	c.Put(&Chunk{ContentID: "x", Offset: 200, Status: ChunkLoaded, Size: 100})

	assert.Nil(t, c.Get("x", 0), "oldest entry should be evicted")
	assert.NotNil(t, c.Get("x", 100))
	assert.NotNil(t, c.Get("x", 200))
	assert.LessOrEqual(t, c.Stats().Bytes, int64(250))
}

func TestChunkCache_ReplaceSameKey(t *testing.T) {
	c := NewChunkCache(1024)

	c.Put(&Chunk{ContentID: "x", Offset: 0, Status: ChunkLoaded, Size: 100})
	c.Put(&Chunk{ContentID: "x", Offset: 0, Status: ChunkLoaded, Size: 200})

	stats := c.Stats()
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, int64(200), stats.Bytes)
}

func TestChunkStatus_String(t *testing.T) {
	assert.Equal(t, "pending", ChunkPending.String())
	assert.Equal(t, "loaded", ChunkLoaded.String())
	assert.Equal(t, "failed", ChunkFailed.String())
	assert.Equal(t, "aborted", ChunkAborted.String())
}
