package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jmylchreest/mediaflow/internal/buffer"
	"github.com/jmylchreest/mediaflow/internal/fetch"
	"github.com/jmylchreest/mediaflow/internal/provider"
	"github.com/jmylchreest/mediaflow/internal/quality"
)

// Default session configuration values.
const (
	DefaultRecoveryWindow     = 1500 * time.Millisecond
	DefaultMaxProviderRetries = 3
	DefaultTickInterval       = 250 * time.Millisecond
	DefaultMinBufferAhead     = buffer.DefaultMinBufferAhead
	DefaultOptimalBufferAhead = buffer.DefaultOptimalBufferAhead
	DefaultChunkDuration      = buffer.DefaultChunkDuration
	DefaultFetchBudget        = buffer.DefaultFetchBudget
)

// loadFailureLimit is the number of consecutive fetch failures from one
// provider during the initial fill before the session fails over to the
// next ranked candidate.
const loadFailureLimit = 3

// Config holds stream session configuration.
type Config struct {
	// RecoveryWindow bounds how long one provider gets to restore the
	// buffer during recovery before the next candidate is tried.
	RecoveryWindow time.Duration

	// MaxProviderRetries is the total provider switches allowed per
	// stall episode before the session fails.
	MaxProviderRetries int

	// TickInterval drives the orchestration loop.
	TickInterval time.Duration

	// MinBufferAhead is the buffer-ahead, in seconds, required for
	// playback to proceed.
	MinBufferAhead float64

	// OptimalBufferAhead is the buffer-ahead, in seconds, beyond which
	// no further fetches are scheduled.
	OptimalBufferAhead float64

	// ChunkDuration is the seconds of content requested per fetch.
	ChunkDuration float64

	// FetchBudget is the maximum outstanding fetches.
	FetchBudget int

	// Logger is the structured logger; defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultSessionConfig returns sensible defaults.
func DefaultSessionConfig() Config {
	return Config{
		RecoveryWindow:     DefaultRecoveryWindow,
		MaxProviderRetries: DefaultMaxProviderRetries,
		TickInterval:       DefaultTickInterval,
		MinBufferAhead:     DefaultMinBufferAhead,
		OptimalBufferAhead: DefaultOptimalBufferAhead,
		ChunkDuration:      DefaultChunkDuration,
		FetchBudget:        DefaultFetchBudget,
	}
}

// Deps are the session's collaborators. Registry may be shared between
// sessions; everything else belongs to one session.
type Deps struct {
	Registry   *provider.Registry
	Fetcher    *fetch.Fetcher
	Tracker    *buffer.Tracker
	Advisor    *quality.Advisor
	Validator  Validator
	Notifier   Notifier
	DecodeCost quality.CostSource
}

// ContentHandle identifies one piece of content being played: its id,
// the provider and tier in use, and the playback cursor in seconds.
type ContentHandle struct {
	ContentID string        `json:"content_id"`
	Provider  provider.Info `json:"provider"`
	Tier      quality.Tier  `json:"tier"`
	Cursor    float64       `json:"cursor"`
}

// pendingFetch is one scheduled fetch that has not completed.
type pendingFetch struct {
	r      buffer.Range
	cancel context.CancelFunc
}

// Session orchestrates provider selection, fetching, buffer tracking,
// and quality adaptation for one piece of content. All mutable state is
// owned here; collaborators are reached only through their APIs.
type Session struct {
	id     string
	config Config
	logger *slog.Logger

	registry   *provider.Registry
	fetcher    *fetch.Fetcher
	tracker    *buffer.Tracker
	advisor    *quality.Advisor
	validator  Validator
	notifier   Notifier
	decodeCost quality.CostSource

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	state         State
	handle        *ContentHandle
	switching     bool
	outstanding   int
	fetchSeq      uint64
	pending       map[uint64]pendingFetch
	requestedEdge float64
	lastHealth    buffer.Health
	healthKnown   bool
	fetchFailures int
	lastFetchErr  error
	loadSwitches  int
	loadTried     map[string]bool

	providerSwitches uint64
	loads            uint64

	events     chan func(Notifier)
	loopDone   chan struct{}
	notifyDone chan struct{}
}

// NewSession creates a session and starts its orchestration loop.
func NewSession(cfg Config, deps Deps) *Session {
	if cfg.RecoveryWindow <= 0 {
		cfg.RecoveryWindow = DefaultRecoveryWindow
	}
	if cfg.MaxProviderRetries <= 0 {
		cfg.MaxProviderRetries = DefaultMaxProviderRetries
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.MinBufferAhead <= 0 {
		cfg.MinBufferAhead = DefaultMinBufferAhead
	}
	if cfg.OptimalBufferAhead <= cfg.MinBufferAhead {
		cfg.OptimalBufferAhead = DefaultOptimalBufferAhead
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
	if deps.Validator == nil {
		deps.Validator = defaultValidator()
	}
	if deps.Notifier == nil {
		deps.Notifier = NopNotifier{}
	}
	if deps.DecodeCost == nil {
		deps.DecodeCost = quality.ZeroCost{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:         uuid.NewString(),
		config:     cfg,
		registry:   deps.Registry,
		fetcher:    deps.Fetcher,
		tracker:    deps.Tracker,
		advisor:    deps.Advisor,
		validator:  deps.Validator,
		notifier:   deps.Notifier,
		decodeCost: deps.DecodeCost,
		ctx:        ctx,
		cancel:     cancel,
		state:      StateIdle,
		pending:    make(map[uint64]pendingFetch),
		events:     make(chan func(Notifier), 64),
		loopDone:   make(chan struct{}),
		notifyDone: make(chan struct{}),
	}
	s.logger = cfg.Logger.With(slog.String("session_id", s.id))

	go s.notifyLoop()
	go s.run()
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Handle returns a copy of the current content handle.
func (s *Session) Handle() (ContentHandle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil {
		return ContentHandle{}, false
	}
	return *s.handle, true
}

// Load validates a content id and begins filling the initial buffer from
// the top-ranked provider. A Load supersedes any content already playing.
// Validation failure is fatal: a bad content id is not recoverable by
// switching provider.
func (s *Session) Load(ctx context.Context, contentID string) error {
	s.mu.Lock()
	if s.state == StateDisposed {
		s.mu.Unlock()
		return ErrDisposed
	}
	s.cancelPendingLocked()
	s.handle = nil
	s.switching = false
	s.healthKnown = false
	s.fetchFailures = 0
	s.lastFetchErr = nil
	s.loadSwitches = 0
	s.loadTried = nil
	s.loads++
	s.setStateLocked(StateResolving)
	s.mu.Unlock()

	s.tracker.Clear()

	if err := s.validator.Validate(ctx, contentID); err != nil {
		s.mu.Lock()
		s.setStateLocked(StateFailed)
		s.emitLocked(func(n Notifier) { n.OnFatalError(s.id, "validation", err) })
		s.mu.Unlock()
		return err
	}

	ranked := s.registry.Rank(nil)
	if len(ranked) == 0 {
		s.mu.Lock()
		s.setStateLocked(StateFailed)
		s.emitLocked(func(n Notifier) { n.OnFatalError(s.id, "provider_exhausted", ErrProviderExhausted) })
		s.mu.Unlock()
		return ErrProviderExhausted
	}
	top := ranked[0]

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateResolving {
		// Disposed or superseded while validating.
		return ErrDisposed
	}
	s.handle = &ContentHandle{
		ContentID: contentID,
		Provider:  top,
		Tier:      s.advisor.Current(),
	}
	s.requestedEdge = 0
	s.setStateLocked(StateLoading)
	s.emitLocked(func(n Notifier) { n.OnSourceChanged(s.id, top.Name) })
	return nil
}

// Seek moves the playback cursor. In-flight fetches for ranges that no
// longer lead the new cursor are cancelled immediately so their
// concurrency slots free up; the data gap at the new cursor is expected
// and not treated as a stall while the seek settles.
func (s *Session) Seek(to float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateDisposed {
		return ErrDisposed
	}
	if s.handle == nil {
		return ErrNoContent
	}
	if to < 0 {
		to = 0
	}

	s.tracker.BeginSeek()
	s.handle.Cursor = to

	for _, p := range s.pending {
		if p.r.End <= to || p.r.Start > to+s.config.OptimalBufferAhead {
			p.cancel()
		}
	}
	s.requestedEdge = 0

	s.logger.Debug("seek", slog.Float64("to", to))
	return nil
}

// UpdatePosition records the playback cursor reported by the
// presentation layer.
func (s *Session) UpdatePosition(seconds float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateDisposed {
		return ErrDisposed
	}
	if s.handle == nil {
		return ErrNoContent
	}
	s.handle.Cursor = seconds
	return nil
}

// SetAutoQuality toggles automatic quality adaptation.
func (s *Session) SetAutoQuality(enabled bool) {
	s.advisor.SetAutoQuality(enabled)
}

// ForceQuality pins a tier by name and disables automatic adaptation.
func (s *Session) ForceQuality(name string) error {
	tier, err := s.advisor.ForceTier(name)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle != nil && s.handle.Tier.Name != tier.Name {
		s.handle.Tier = tier
		s.emitLocked(func(n Notifier) { n.OnQualityChanged(s.id, tier) })
	}
	return nil
}

// Dispose terminates the session, cancelling every in-flight fetch and
// timer. It is idempotent and safe to call from any state.
func (s *Session) Dispose() {
	s.mu.Lock()
	if s.state == StateDisposed {
		s.mu.Unlock()
		return
	}
	s.cancelPendingLocked()
	s.handle = nil
	s.setStateLocked(StateDisposed)
	s.mu.Unlock()

	s.cancel()
	<-s.loopDone

	close(s.events)
	<-s.notifyDone

	s.fetcher.Close()
}

// run is the orchestration loop: one goroutine drives state transitions,
// quality adaptation, and fetch scheduling, so transitions never race.
func (s *Session) run() {
	defer close(s.loopDone)

	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Session) tick() {
	s.mu.Lock()
	if s.handle == nil || !s.state.active() || s.state == StateRecovering {
		s.mu.Unlock()
		return
	}
	cursor := s.handle.Cursor
	loading := s.state == StateLoading
	s.mu.Unlock()

	// Stall episodes only exist once playback has started; during the
	// initial fill an empty buffer is the expected condition.
	var health buffer.Health
	var stall *buffer.StallEvent
	if loading {
		health = s.tracker.Health(cursor)
	} else {
		health, stall = s.tracker.Evaluate(cursor)
	}
	ahead := s.tracker.Ahead(cursor)

	if s.tracker.Seeking() && ahead > 0 {
		s.tracker.EndSeek()
	}

	s.mu.Lock()
	switch s.state {
	case StateLoading:
		if ahead >= s.config.MinBufferAhead {
			s.setStateLocked(StatePlaying)
			s.loadSwitches = 0
			s.loadTried = nil
		} else if s.fetchFailures >= loadFailureLimit {
			s.failoverLoadLocked()
		}
	case StatePlaying:
		if ahead < s.config.MinBufferAhead {
			s.setStateLocked(StateBuffering)
		}
	case StateBuffering:
		if ahead >= s.config.MinBufferAhead {
			s.setStateLocked(StatePlaying)
		}
	}

	if !s.healthKnown || health != s.lastHealth {
		s.healthKnown = true
		s.lastHealth = health
		s.emitLocked(func(n Notifier) { n.OnBufferHealth(s.id, health) })
	}

	startRecovery := stall != nil && s.state == StateBuffering
	if startRecovery {
		s.setStateLocked(StateRecovering)
		s.switching = true
		s.emitLocked(func(n Notifier) { n.OnRecoverableError(s.id, "stall", ErrStallTimeout) })
	}
	s.mu.Unlock()

	if startRecovery {
		go s.recoverFromStall(cursor)
		return
	}

	s.adaptQuality(health)
	s.scheduleFetches(cursor, health)
}

// failoverLoadLocked switches providers when the initial fill keeps
// failing: the current provider is excluded and the next ranked
// candidate takes over, up to MaxProviderRetries switches per load.
// Exhausting the budget is fatal. Must hold the lock.
func (s *Session) failoverLoadLocked() {
	failed := s.handle.Provider.Name
	if s.loadTried == nil {
		s.loadTried = make(map[string]bool)
	}
	s.loadTried[failed] = true
	s.fetchFailures = 0
	s.cancelPendingLocked()

	ranked := s.registry.Rank(s.loadTried)
	if len(ranked) == 0 || s.loadSwitches >= s.config.MaxProviderRetries {
		s.setStateLocked(StateFailed)
		s.emitLocked(func(n Notifier) { n.OnFatalError(s.id, "provider_exhausted", ErrProviderExhausted) })
		return
	}
	next := ranked[0]

	s.handle.Provider = next
	s.loadSwitches++
	s.providerSwitches++
	err := s.lastFetchErr
	s.emitLocked(func(n Notifier) { n.OnRecoverableError(s.id, "fetch", err) })
	if next.Name != failed {
		s.emitLocked(func(n Notifier) { n.OnSourceChanged(s.id, next.Name) })
	}

	s.logger.Info("load provider switch",
		slog.String("failed", failed),
		slog.String("provider", next.Name),
	)
}

// adaptQuality applies the advisor's recommendation. A provider switch
// in progress suppresses quality re-resolution so two source
// re-assignments never race.
func (s *Session) adaptQuality(health buffer.Health) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.switching || s.handle == nil || !s.state.active() {
		return
	}

	bandwidth := s.fetcher.Bandwidth().BitsPerSecond()
	if bandwidth == 0 {
		return
	}

	tier, switched := s.advisor.Recommend(bandwidth, health, s.decodeCost.Cost())
	if !switched || s.handle.Tier.Name == tier.Name {
		return
	}
	s.handle.Tier = tier
	s.emitLocked(func(n Notifier) { n.OnQualityChanged(s.id, tier) })
}

// scheduleFetches keeps the fetch pipeline full up to the outstanding
// budget and the optimal buffer-ahead, extending past ranges already
// requested. When buffer-ahead is below minimum the requests go out
// high-priority.
func (s *Session) scheduleFetches(cursor float64, health buffer.Health) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle == nil || !s.state.active() || s.state == StateRecovering {
		return
	}

	edge := cursor + s.tracker.Ahead(cursor)
	start := edge
	if s.requestedEdge > start {
		start = s.requestedEdge
	}

	high := health != buffer.HealthHealthy
	for s.outstanding < s.config.FetchBudget && start-cursor < s.config.OptimalBufferAhead {
		r := buffer.Range{Start: start, End: start + s.config.ChunkDuration}
		s.startFetchLocked(r, high)
		start = r.End
	}
	if start > s.requestedEdge {
		s.requestedEdge = start
	}
}

func (s *Session) startFetchLocked(r buffer.Range, high bool) {
	fctx, cancel := context.WithCancel(s.ctx)
	key := s.fetchSeq
	s.fetchSeq++
	s.pending[key] = pendingFetch{r: r, cancel: cancel}
	s.outstanding++

	handle := *s.handle
	go s.doFetch(fctx, cancel, key, handle, r, high)
}

func (s *Session) doFetch(ctx context.Context, cancel context.CancelFunc, key uint64, handle ContentHandle, r buffer.Range, high bool) {
	defer cancel()

	br := byteRangeFor(r, handle.Tier)
	chunk, err := s.fetcher.Fetch(ctx, handle.Provider, handle.ContentID, handle.Tier.Name, br, high)
	aborted := err != nil && (errors.Is(err, context.Canceled) || ctx.Err() != nil)

	s.mu.Lock()
	delete(s.pending, key)
	s.outstanding--
	var cursor float64
	current := s.handle != nil && s.handle.Provider.Name == handle.Provider.Name
	if s.handle != nil {
		cursor = s.handle.Cursor
	}
	if err != nil && r.Start < s.requestedEdge {
		// The gap reopens; the next scheduling pass re-requests it.
		s.requestedEdge = r.Start
	}
	if !aborted && current {
		if err != nil {
			s.fetchFailures++
			s.lastFetchErr = err
		} else {
			s.fetchFailures = 0
		}
	}
	s.mu.Unlock()

	if err != nil {
		if aborted {
			return
		}
		_ = s.registry.ReportOutcome(handle.Provider.Name, false)
		s.logger.Debug("fetch failed",
			slog.String("provider", handle.Provider.Name),
			slog.Float64("start", r.Start),
			slog.Any("error", err),
		)
		return
	}

	_ = s.registry.ReportOutcome(handle.Provider.Name, true)
	if chunk != nil {
		s.tracker.Observe(cursor, r, chunk.Size)
	}
}

// recoverFromStall executes one recovery episode: penalize the stalled
// provider, switch to the next ranked candidate, and give it a bounded
// window to restore the buffer, up to the per-episode retry budget.
func (s *Session) recoverFromStall(cursor float64) {
	s.mu.Lock()
	if s.state != StateRecovering || s.handle == nil {
		s.switching = false
		s.mu.Unlock()
		return
	}
	s.cancelPendingLocked()
	failed := s.handle.Provider.Name
	contentID := s.handle.ContentID
	tier := s.handle.Tier
	s.mu.Unlock()

	excluded := make(map[string]bool)

	for attempt := 1; attempt <= s.config.MaxProviderRetries; attempt++ {
		if s.ctx.Err() != nil {
			return
		}

		_ = s.registry.ReportOutcome(failed, false)
		excluded[failed] = true

		ranked := s.registry.Rank(excluded)
		if len(ranked) == 0 {
			break
		}
		next := ranked[0]

		s.mu.Lock()
		if s.state != StateRecovering || s.handle == nil {
			s.switching = false
			s.mu.Unlock()
			return
		}
		s.handle.Provider = next
		s.providerSwitches++
		s.emitLocked(func(n Notifier) { n.OnSourceChanged(s.id, next.Name) })
		s.mu.Unlock()

		s.logger.Info("recovery provider switch",
			slog.Int("attempt", attempt),
			slog.String("provider", next.Name),
		)

		if s.refill(next, contentID, tier, cursor) {
			_ = s.registry.ReportOutcome(next.Name, true)
			s.mu.Lock()
			if s.state == StateRecovering {
				s.switching = false
				s.requestedEdge = cursor + s.tracker.Ahead(cursor)
				s.setStateLocked(StatePlaying)
			}
			s.mu.Unlock()
			return
		}
		failed = next.Name
	}

	s.mu.Lock()
	if s.state == StateRecovering {
		s.switching = false
		s.setStateLocked(StateFailed)
		s.emitLocked(func(n Notifier) { n.OnFatalError(s.id, "provider_exhausted", ErrProviderExhausted) })
	}
	s.mu.Unlock()
}

// refill fetches high-priority from one provider until buffer-ahead
// reaches minimum or the recovery window expires.
func (s *Session) refill(prov provider.Info, contentID string, tier quality.Tier, cursor float64) bool {
	ctx, cancel := context.WithTimeout(s.ctx, s.config.RecoveryWindow)
	defer cancel()

	for {
		if s.tracker.Ahead(cursor) >= s.config.MinBufferAhead {
			return true
		}
		if ctx.Err() != nil {
			return false
		}

		r, ok := s.tracker.NeedsFetch(cursor, 0)
		if !ok {
			return s.tracker.Ahead(cursor) >= s.config.MinBufferAhead
		}

		chunk, err := s.fetcher.Fetch(ctx, prov, contentID, tier.Name, byteRangeFor(r, tier), true)
		if err != nil {
			return false
		}
		s.tracker.Observe(cursor, r, chunk.Size)
	}
}

// cancelPendingLocked cancels every in-flight fetch. Must hold the lock;
// the fetch goroutines clean up their own bookkeeping.
func (s *Session) cancelPendingLocked() {
	for _, p := range s.pending {
		p.cancel()
	}
	s.requestedEdge = 0
}

func (s *Session) setStateLocked(next State) {
	if s.state == next {
		return
	}
	s.logger.Info("state transition",
		slog.String("from", s.state.String()),
		slog.String("to", next.String()),
	)
	s.state = next
}

// emitLocked queues a notification for the dispatch goroutine. Must hold
// the lock so notification order matches transition order.
func (s *Session) emitLocked(fn func(Notifier)) {
	if s.state == StateDisposed {
		return
	}
	select {
	case s.events <- fn:
	default:
		s.logger.Warn("notification dropped")
	}
}

// notifyLoop dispatches notifications from a single goroutine.
func (s *Session) notifyLoop() {
	defer close(s.notifyDone)
	for fn := range s.events {
		fn(s.notifier)
	}
}

// byteRangeFor maps a playback-time range to a byte range using the
// tier's nominal bitrate.
func byteRangeFor(r buffer.Range, tier quality.Tier) fetch.ByteRange {
	bytesPerSecond := float64(tier.Bitrate) / 8
	return fetch.ByteRange{
		Start: int64(r.Start * bytesPerSecond),
		End:   int64(r.End * bytesPerSecond),
	}
}

// Stats returns a session statistics snapshot.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		ID:               s.id,
		State:            s.state.String(),
		Outstanding:      s.outstanding,
		ProviderSwitches: s.providerSwitches,
		Loads:            s.loads,
	}
	if s.handle != nil {
		st.ContentID = s.handle.ContentID
		st.Provider = s.handle.Provider.Name
		st.Tier = s.handle.Tier.Name
		st.Cursor = s.handle.Cursor
		st.BufferAhead = s.tracker.Ahead(s.handle.Cursor)
	}
	return st
}

// Stats holds session statistics.
type Stats struct {
	ID               string  `json:"id"`
	State            string  `json:"state"`
	ContentID        string  `json:"content_id,omitempty"`
	Provider         string  `json:"provider,omitempty"`
	Tier             string  `json:"tier,omitempty"`
	Cursor           float64 `json:"cursor"`
	BufferAhead      float64 `json:"buffer_ahead"`
	Outstanding      int     `json:"outstanding"`
	ProviderSwitches uint64  `json:"provider_switches"`
	Loads            uint64  `json:"loads"`
}
