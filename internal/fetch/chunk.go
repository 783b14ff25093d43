package fetch

import (
	"fmt"
	"sync"
	"time"
)

// ChunkStatus is the lifecycle state of a fetched byte range.
type ChunkStatus int

const (
	// ChunkPending means the fetch has not completed yet.
	ChunkPending ChunkStatus = iota
	// ChunkLoaded means the payload is available.
	ChunkLoaded
	// ChunkFailed means the fetch failed.
	ChunkFailed
	// ChunkAborted means the fetch was cancelled.
	ChunkAborted
)

func (s ChunkStatus) String() string {
	switch s {
	case ChunkPending:
		return "pending"
	case ChunkLoaded:
		return "loaded"
	case ChunkFailed:
		return "failed"
	case ChunkAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// ByteRange is a half-open [Start,End) byte interval.
type ByteRange struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Len returns the number of bytes in the range.
func (r ByteRange) Len() int64 {
	return r.End - r.Start
}

// Header renders the range as an HTTP Range header value.
func (r ByteRange) Header() string {
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End-1)
}

// Chunk is one fetched byte range of content, keyed by (content id, offset).
type Chunk struct {
	ContentID string        `json:"content_id"`
	Offset    int64         `json:"offset"`
	Status    ChunkStatus   `json:"status"`
	Payload   []byte        `json:"-"`
	Size      int64         `json:"size"`
	Provider  string        `json:"provider"`
	FetchedAt time.Time     `json:"fetched_at"`
	Elapsed   time.Duration `json:"elapsed_ns"`
}

// chunkKey is the content-address cache key.
type chunkKey struct {
	contentID string
	offset    int64
}

// ChunkCache is a bounded, content-address-keyed result cache.
// Eviction is oldest-inserted-first once the byte budget is exceeded.
type ChunkCache struct {
	mu       sync.Mutex
	maxBytes int64
	curBytes int64
	entries  map[chunkKey]*Chunk
	order    []chunkKey

	hits   uint64
	misses uint64
}

// NewChunkCache creates a cache with the given byte budget.
func NewChunkCache(maxBytes int64) *ChunkCache {
	return &ChunkCache{
		maxBytes: maxBytes,
		entries:  make(map[chunkKey]*Chunk),
	}
}

// Get returns a cached chunk, or nil.
func (c *ChunkCache) Get(contentID string, offset int64) *Chunk {
	c.mu.Lock()
	defer c.mu.Unlock()

	chunk, ok := c.entries[chunkKey{contentID, offset}]
	if !ok {
		c.misses++
		return nil
	}
	c.hits++
	return chunk
}

// Put stores a loaded chunk, evicting oldest entries past the budget.
func (c *ChunkCache) Put(chunk *Chunk) {
	if chunk == nil || chunk.Status != ChunkLoaded {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := chunkKey{chunk.ContentID, chunk.Offset}
	if old, ok := c.entries[key]; ok {
		c.curBytes -= old.Size
	} else {
		c.order = append(c.order, key)
	}
	c.entries[key] = chunk
	c.curBytes += chunk.Size

	for c.curBytes > c.maxBytes && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		if evicted, ok := c.entries[oldest]; ok {
			c.curBytes -= evicted.Size
			delete(c.entries, oldest)
		}
	}
}

// Clear drops all cached chunks.
func (c *ChunkCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[chunkKey]*Chunk)
	c.order = nil
	c.curBytes = 0
}

// Stats returns cache statistics.
func (c *ChunkCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return CacheStats{
		Entries:  len(c.entries),
		Bytes:    c.curBytes,
		MaxBytes: c.maxBytes,
		Hits:     c.hits,
		Misses:   c.misses,
	}
}

// CacheStats holds chunk cache statistics.
type CacheStats struct {
	Entries  int    `json:"entries"`
	Bytes    int64  `json:"bytes"`
	MaxBytes int64  `json:"max_bytes"`
	Hits     uint64 `json:"hits"`
	Misses   uint64 `json:"misses"`
}
