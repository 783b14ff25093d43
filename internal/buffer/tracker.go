package buffer

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Health classifies how much playable content is available ahead of the
// playback cursor.
type Health int

const (
	// HealthHealthy means buffer-ahead meets the optimal threshold.
	HealthHealthy Health = iota
	// HealthLow means buffer-ahead is below optimal but the cursor still
	// has data to advance into.
	HealthLow
	// HealthStalled means the cursor has no fetched data and no seek is
	// in progress.
	HealthStalled
)

func (h Health) String() string {
	switch h {
	case HealthHealthy:
		return "healthy"
	case HealthLow:
		return "low"
	case HealthStalled:
		return "stalled"
	default:
		return "unknown"
	}
}

// Default tracker configuration values.
const (
	DefaultMinBufferAhead     = 2.0
	DefaultOptimalBufferAhead = 10.0
	DefaultStallTimeout       = 5 * time.Second
	DefaultMaxBufferBytes     = 50 * 1024 * 1024
	DefaultRetentionWindow    = 30.0
	DefaultChunkDuration      = 4.0
	DefaultFetchBudget        = 3
)

// Config holds buffer tracker configuration.
type Config struct {
	// MinBufferAhead is the minimum buffer-ahead, in seconds, for
	// playback to proceed.
	MinBufferAhead float64

	// OptimalBufferAhead is the buffer-ahead, in seconds, at which the
	// tracker stops asking for more data.
	OptimalBufferAhead float64

	// StallTimeout is how long the cursor may sit without data before
	// the tracker raises a stall signal.
	StallTimeout time.Duration

	// MaxBufferBytes caps the total buffered payload size.
	MaxBufferBytes int64

	// RetentionWindow is how many seconds behind the cursor buffered
	// content is kept before becoming evictable.
	RetentionWindow float64

	// ChunkDuration is the nominal playback length, in seconds, of one
	// fetched range.
	ChunkDuration float64

	// FetchBudget is the outstanding-fetch count beyond which NeedsFetch
	// stops proposing new ranges.
	FetchBudget int

	// Clock overrides the time source. Tests use this.
	Clock func() time.Time

	// Logger is the structured logger; defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns sensible tracker defaults.
func DefaultConfig() Config {
	return Config{
		MinBufferAhead:     DefaultMinBufferAhead,
		OptimalBufferAhead: DefaultOptimalBufferAhead,
		StallTimeout:       DefaultStallTimeout,
		MaxBufferBytes:     DefaultMaxBufferBytes,
		RetentionWindow:    DefaultRetentionWindow,
		ChunkDuration:      DefaultChunkDuration,
		FetchBudget:        DefaultFetchBudget,
	}
}

// span is one buffered range with its byte cost and insertion time.
type span struct {
	Range
	bytes   int64
	addedAt time.Time
}

// StallEvent is raised once per stall episode when the cursor has had no
// data for the stall timeout.
type StallEvent struct {
	Episode string    `json:"episode"`
	Since   time.Time `json:"since"`
	Cursor  float64   `json:"cursor"`
}

// Tracker maintains the set of contiguously buffered playback ranges and
// classifies buffer health against the playback cursor.
type Tracker struct {
	config Config
	logger *slog.Logger
	now    func() time.Time

	mu         sync.Mutex
	spans      []span
	totalBytes int64
	seeking    bool

	stalledSince time.Time
	stallActive  bool
	signaled     bool
	episode      string

	evictions     uint64
	stallEpisodes uint64
}

// NewTracker creates a tracker with the given configuration.
func NewTracker(cfg Config) *Tracker {
	if cfg.MinBufferAhead <= 0 {
		cfg.MinBufferAhead = DefaultMinBufferAhead
	}
	if cfg.OptimalBufferAhead <= cfg.MinBufferAhead {
		cfg.OptimalBufferAhead = DefaultOptimalBufferAhead
	}
	if cfg.StallTimeout <= 0 {
		cfg.StallTimeout = DefaultStallTimeout
	}
	if cfg.MaxBufferBytes <= 0 {
		cfg.MaxBufferBytes = DefaultMaxBufferBytes
	}
	if cfg.RetentionWindow <= 0 {
		cfg.RetentionWindow = DefaultRetentionWindow
	}
	if cfg.ChunkDuration <= 0 {
		cfg.ChunkDuration = DefaultChunkDuration
	}
	if cfg.FetchBudget <= 0 {
		cfg.FetchBudget = DefaultFetchBudget
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}

	return &Tracker{
		config: cfg,
		logger: cfg.Logger,
		now:    now,
	}
}

// Observe merges a newly fetched range into the tracked set, coalescing
// adjacent and overlapping intervals, then evicts past the byte budget.
// Completions may arrive in any order; observing the same range twice
// changes nothing.
func (t *Tracker) Observe(cursor float64, r Range, bytes int64) {
	if r.End <= r.Start {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// Scale the byte cost to the newly covered seconds so re-observed
	// ranges do not inflate the accounting.
	covered := t.coveredLocked(r)
	newSeconds := r.Len() - covered
	if newSeconds <= 0 {
		bytes = 0
	} else if covered > 0 {
		bytes = int64(float64(bytes) * newSeconds / r.Len())
	}

	t.mergeLocked(r, bytes)
	t.evictLocked(cursor)
}

// coveredLocked returns how many seconds of r are already tracked.
func (t *Tracker) coveredLocked(r Range) float64 {
	var covered float64
	for _, s := range t.spans {
		start := max(s.Start, r.Start)
		end := min(s.End, r.End)
		if end > start {
			covered += end - start
		}
	}
	return covered
}

// mergeLocked coalesces r into the span list. A merged span keeps the
// earliest insertion time of its parts so eviction stays oldest-first.
func (t *Tracker) mergeLocked(r Range, bytes int64) {
	merged := span{Range: r, bytes: bytes, addedAt: t.now()}
	out := t.spans[:0]
	for _, existing := range t.spans {
		if !existing.touches(merged.Range) {
			out = append(out, existing)
			continue
		}
		if existing.Start < merged.Start {
			merged.Start = existing.Start
		}
		if existing.End > merged.End {
			merged.End = existing.End
		}
		merged.bytes += existing.bytes
		if existing.addedAt.Before(merged.addedAt) {
			merged.addedAt = existing.addedAt
		}
	}
	out = append(out, merged)
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	t.spans = out
	t.totalBytes += bytes
}

// evictLocked drops ranges strictly behind cursor-retention, oldest first,
// until the byte budget is met. The range containing the cursor is never
// evicted.
func (t *Tracker) evictLocked(cursor float64) {
	if t.totalBytes <= t.config.MaxBufferBytes {
		return
	}

	horizon := cursor - t.config.RetentionWindow
	candidates := make([]int, 0, len(t.spans))
	for i, s := range t.spans {
		if s.End <= horizon && !s.Contains(cursor) {
			candidates = append(candidates, i)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return t.spans[candidates[i]].addedAt.Before(t.spans[candidates[j]].addedAt)
	})

	evict := make(map[int]bool)
	remaining := t.totalBytes
	for _, idx := range candidates {
		if remaining <= t.config.MaxBufferBytes {
			break
		}
		evict[idx] = true
		remaining -= t.spans[idx].bytes
	}
	if len(evict) == 0 {
		return
	}

	out := t.spans[:0]
	for i, s := range t.spans {
		if evict[i] {
			t.totalBytes -= s.bytes
			t.evictions++
			continue
		}
		out = append(out, s)
	}
	t.spans = out

	t.logger.Debug("evicted buffered ranges",
		slog.Int("count", len(evict)),
		slog.Int64("buffered_bytes", t.totalBytes),
	)
}

// Health classifies buffer state at the cursor. During an active seek a
// cursor with no data is expected and reported as Low, never Stalled.
func (t *Tracker) Health(cursor float64) Health {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.healthLocked(cursor)
}

func (t *Tracker) healthLocked(cursor float64) Health {
	ahead := t.aheadLocked(cursor)
	switch {
	case ahead >= t.config.OptimalBufferAhead:
		return HealthHealthy
	case ahead > 0:
		return HealthLow
	case t.seeking:
		return HealthLow
	default:
		return HealthStalled
	}
}

func (t *Tracker) aheadLocked(cursor float64) float64 {
	for _, s := range t.spans {
		if s.Contains(cursor) {
			return s.End - cursor
		}
	}
	return 0
}

// Evaluate updates stall bookkeeping for the current cursor and returns
// the health plus, at most once per stall episode, a stall event after
// the cursor has had no data for the stall timeout.
func (t *Tracker) Evaluate(cursor float64) (Health, *StallEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	health := t.healthLocked(cursor)

	if health != HealthStalled {
		// Health recovered; the next stall starts a fresh episode.
		t.stallActive = false
		t.signaled = false
		return health, nil
	}

	if !t.stallActive {
		t.stallActive = true
		t.stalledSince = now
		t.signaled = false
		t.episode = ulid.Make().String()
		t.stallEpisodes++
	}

	if !t.signaled && now.Sub(t.stalledSince) >= t.config.StallTimeout {
		t.signaled = true
		t.logger.Warn("stall window elapsed",
			slog.String("episode", t.episode),
			slog.Float64("cursor", cursor),
		)
		return health, &StallEvent{
			Episode: t.episode,
			Since:   t.stalledSince,
			Cursor:  cursor,
		}
	}
	return health, nil
}

// NeedsFetch returns the next unfetched range following the buffer edge,
// or false when buffer-ahead already meets the optimal threshold or the
// outstanding fetch budget is exhausted.
func (t *Tracker) NeedsFetch(cursor float64, outstanding int) (Range, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if outstanding >= t.config.FetchBudget {
		return Range{}, false
	}
	if t.aheadLocked(cursor) >= t.config.OptimalBufferAhead {
		return Range{}, false
	}

	edge := cursor
	for _, s := range t.spans {
		if s.Contains(cursor) {
			edge = s.End
			break
		}
	}

	next := Range{Start: edge, End: edge + t.config.ChunkDuration}
	for _, s := range t.spans {
		if s.Start > edge && s.Start < next.End {
			next.End = s.Start
			break
		}
	}
	return next, true
}

// BeginSeek marks a seek in progress: the tracker expects a transient
// data gap at the new cursor and will not classify it as a stall.
func (t *Tracker) BeginSeek() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.seeking = true
	t.stallActive = false
	t.signaled = false
}

// EndSeek clears the seek-in-progress flag.
func (t *Tracker) EndSeek() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seeking = false
}

// Seeking reports whether a seek is in progress.
func (t *Tracker) Seeking() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.seeking
}

// Ahead returns the seconds of contiguous content ahead of the cursor.
func (t *Tracker) Ahead(cursor float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.aheadLocked(cursor)
}

// Ranges returns the tracked ranges in ascending order.
func (t *Tracker) Ranges() []Range {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Range, len(t.spans))
	for i, s := range t.spans {
		out[i] = s.Range
	}
	return out
}

// Clear drops all tracked ranges and resets stall bookkeeping. Used when
// a new load supersedes the current content.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.spans = nil
	t.totalBytes = 0
	t.stallActive = false
	t.signaled = false
	t.seeking = false
}

// Stats returns tracker statistics.
func (t *Tracker) Stats() TrackerStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	var seconds float64
	for _, s := range t.spans {
		seconds += s.Len()
	}
	return TrackerStats{
		Ranges:          len(t.spans),
		BufferedSeconds: seconds,
		BufferedBytes:   t.totalBytes,
		Seeking:         t.seeking,
		Evictions:       t.evictions,
		StallEpisodes:   t.stallEpisodes,
	}
}

// TrackerStats holds buffer tracker statistics.
type TrackerStats struct {
	Ranges          int     `json:"ranges"`
	BufferedSeconds float64 `json:"buffered_seconds"`
	BufferedBytes   int64   `json:"buffered_bytes"`
	Seeking         bool    `json:"seeking"`
	Evictions       uint64  `json:"evictions"`
	StallEpisodes   uint64  `json:"stall_episodes"`
}
