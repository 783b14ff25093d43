package buffer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestTracker(clock *fakeClock) *Tracker {
	cfg := DefaultConfig()
	cfg.Clock = clock.Now
	return NewTracker(cfg)
}

func TestTracker_ObserveMergesOutOfOrder(t *testing.T) {
	tr := newTestTracker(newFakeClock())

	tr.Observe(0, Range{Start: 4, End: 8}, 1000)
	tr.Observe(0, Range{Start: 0, End: 4}, 1000)

	assert.Equal(t, []Range{{Start: 0, End: 8}}, tr.Ranges())
	assert.Equal(t, 8.0, tr.Ahead(0))
}

func TestTracker_ObserveIsIdempotent(t *testing.T) {
	tr := newTestTracker(newFakeClock())

	tr.Observe(0, Range{Start: 0, End: 4}, 1000)
	tr.Observe(0, Range{Start: 0, End: 4}, 1000)

	assert.Equal(t, []Range{{Start: 0, End: 4}}, tr.Ranges())
	assert.Equal(t, int64(1000), tr.Stats().BufferedBytes)
}

func TestTracker_Health(t *testing.T) {
	tr := newTestTracker(newFakeClock())

	assert.Equal(t, HealthStalled, tr.Health(0), "empty buffer, not seeking")

	tr.Observe(0, Range{Start: 0, End: 4}, 1000)
	assert.Equal(t, HealthLow, tr.Health(0), "4s ahead is below optimal")

	tr.Observe(0, Range{Start: 4, End: 12}, 2000)
	assert.Equal(t, HealthHealthy, tr.Health(0), "12s ahead meets optimal")

	assert.Equal(t, HealthStalled, tr.Health(20), "cursor beyond buffered data")
}

func TestTracker_NeverStalledDuringSeek(t *testing.T) {
	tr := newTestTracker(newFakeClock())

	tr.BeginSeek()
	assert.Equal(t, HealthLow, tr.Health(50), "seek gap must not read as stalled")

	health, stall := tr.Evaluate(50)
	assert.Equal(t, HealthLow, health)
	assert.Nil(t, stall)

	tr.EndSeek()
	assert.Equal(t, HealthStalled, tr.Health(50))
}

func TestTracker_StallSignalOncePerEpisode(t *testing.T) {
	clock := newFakeClock()
	tr := newTestTracker(clock)

	// Cursor has no data; walk through 3x the stall timeout.
	var events []*StallEvent
	for range 15 {
		clock.Advance(time.Second)
		_, stall := tr.Evaluate(0)
		if stall != nil {
			events = append(events, stall)
		}
	}
	require.Len(t, events, 1, "exactly one signal per stall episode")
	assert.NotEmpty(t, events[0].Episode)

	// Recovery ends the episode; a fresh stall signals again.
	tr.Observe(0, Range{Start: 0, End: 4}, 1000)
	health, stall := tr.Evaluate(0)
	assert.Equal(t, HealthLow, health)
	assert.Nil(t, stall)

	for range 10 {
		clock.Advance(time.Second)
		_, stall := tr.Evaluate(100)
		if stall != nil {
			events = append(events, stall)
		}
	}
	require.Len(t, events, 2)
	assert.NotEqual(t, events[0].Episode, events[1].Episode)
}

func TestTracker_StallSignalWaitsForTimeout(t *testing.T) {
	clock := newFakeClock()
	tr := newTestTracker(clock)

	_, stall := tr.Evaluate(0)
	assert.Nil(t, stall, "stall window has not elapsed yet")

	clock.Advance(DefaultStallTimeout - time.Millisecond)
	_, stall = tr.Evaluate(0)
	assert.Nil(t, stall)

	clock.Advance(2 * time.Millisecond)
	_, stall = tr.Evaluate(0)
	assert.NotNil(t, stall)
}

func TestTracker_NeedsFetch(t *testing.T) {
	tr := newTestTracker(newFakeClock())

	r, ok := tr.NeedsFetch(0, 0)
	require.True(t, ok)
	assert.Equal(t, Range{Start: 0, End: DefaultChunkDuration}, r)

	tr.Observe(0, Range{Start: 0, End: 4}, 1000)
	r, ok = tr.NeedsFetch(0, 0)
	require.True(t, ok)
	assert.Equal(t, Range{Start: 4, End: 8}, r)

	// Optimal buffer-ahead reached: nothing to fetch.
	tr.Observe(0, Range{Start: 4, End: 12}, 2000)
	_, ok = tr.NeedsFetch(0, 0)
	assert.False(t, ok)

	// Outstanding budget exhausted: nothing to fetch.
	_, ok = tr.NeedsFetch(20, DefaultFetchBudget)
	assert.False(t, ok)
}

func TestTracker_NeedsFetchCapsAtNextRange(t *testing.T) {
	tr := newTestTracker(newFakeClock())

	tr.Observe(0, Range{Start: 0, End: 2}, 500)
	tr.Observe(0, Range{Start: 3, End: 7}, 1000)

	r, ok := tr.NeedsFetch(0, 0)
	require.True(t, ok)
	assert.Equal(t, Range{Start: 2, End: 3}, r, "gap fill stops at the next buffered range")
}

func TestTracker_EvictionPreservesCursorRange(t *testing.T) {
	clock := newFakeClock()
	cfg := DefaultConfig()
	cfg.Clock = clock.Now
	cfg.MaxBufferBytes = 2500
	tr := NewTracker(cfg)

	// Old content far behind the cursor, observed first.
	tr.Observe(100, Range{Start: 0, End: 10}, 1000)
	clock.Advance(time.Second)
	tr.Observe(100, Range{Start: 20, End: 30}, 1000)
	clock.Advance(time.Second)

	// New content at the cursor pushes the total past the budget.
	tr.Observe(100, Range{Start: 98, End: 110}, 1000)

	ranges := tr.Ranges()
	assert.NotContains(t, ranges, Range{Start: 0, End: 10}, "oldest evictable range goes first")
	assert.Contains(t, ranges, Range{Start: 98, End: 110}, "cursor range is never evicted")
	assert.LessOrEqual(t, tr.Stats().BufferedBytes, int64(2500))
}

func TestTracker_EvictionSparesRecentContent(t *testing.T) {
	clock := newFakeClock()
	cfg := DefaultConfig()
	cfg.Clock = clock.Now
	cfg.MaxBufferBytes = 1500
	tr := NewTracker(cfg)

	// Behind the cursor but inside the retention window: not evictable.
	tr.Observe(40, Range{Start: 15, End: 25}, 1000)
	tr.Observe(40, Range{Start: 38, End: 44}, 1000)

	assert.Contains(t, tr.Ranges(), Range{Start: 15, End: 25})
}

func TestTracker_Clear(t *testing.T) {
	tr := newTestTracker(newFakeClock())

	tr.Observe(0, Range{Start: 0, End: 4}, 1000)
	tr.BeginSeek()
	tr.Clear()

	assert.Empty(t, tr.Ranges())
	assert.False(t, tr.Seeking())
	assert.Equal(t, int64(0), tr.Stats().BufferedBytes)
}

func TestHealth_String(t *testing.T) {
	assert.Equal(t, "healthy", HealthHealthy.String())
	assert.Equal(t, "low", HealthLow.String())
	assert.Equal(t, "stalled", HealthStalled.String())
}
