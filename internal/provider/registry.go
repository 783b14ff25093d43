package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"
	"time"
)

// ErrUnknownProvider is returned when an operation references a provider
// that was never registered.
var ErrUnknownProvider = errors.New("unknown provider")

// ErrNoProviders is returned when a registry is created without providers.
var ErrNoProviders = errors.New("no providers configured")

// Policy holds scoring and selection configuration.
type Policy struct {
	// SuccessGain nudges the score toward 1 on success:
	// score += (1 - score) * SuccessGain.
	SuccessGain float64

	// DecayFactor multiplies the score on failure.
	DecayFactor float64

	// DisableThreshold excludes providers scoring below it from Rank.
	DisableThreshold float64

	// RetryBudget is the consecutive failure count that triggers cooldown.
	RetryBudget int

	// Cooldown is the exclusion window entered when the retry budget
	// is exhausted, regardless of score.
	Cooldown time.Duration

	// Jitter is the bounded random tie-break added to scores during
	// ranking so a marginally-behind provider still sees traffic.
	Jitter float64
}

// DefaultPolicy returns sensible defaults.
func DefaultPolicy() Policy {
	return Policy{
		SuccessGain:      0.15,
		DecayFactor:      0.85,
		DisableThreshold: 0.2,
		RetryBudget:      3,
		Cooldown:         5 * time.Second,
		Jitter:           0.05,
	}
}

// Registry holds the candidate providers and their reliability state.
// Scores are loaded from and persisted to a ScoreStore so they survive
// process restarts.
type Registry struct {
	policy Policy
	store  ScoreStore
	logger *slog.Logger

	// now is the time source, overridable in tests.
	now func() time.Time

	mu        sync.Mutex
	providers map[string]*provider
	order     []string
	lastGood  string
}

// NewRegistry creates a registry from static configuration and hydrates
// scores from the store. Providers without a persisted score start at 1.0.
func NewRegistry(specs []Spec, policy Policy, store ScoreStore, logger *slog.Logger) (*Registry, error) {
	if len(specs) == 0 {
		return nil, ErrNoProviders
	}
	if logger == nil {
		logger = slog.Default()
	}
	if store == nil {
		store = NewMemoryStore()
	}

	r := &Registry{
		policy:    policy,
		store:     store,
		logger:    logger,
		now:       time.Now,
		providers: make(map[string]*provider, len(specs)),
	}

	for _, spec := range specs {
		if _, dup := r.providers[spec.Name]; dup {
			return nil, fmt.Errorf("duplicate provider %q", spec.Name)
		}
		r.providers[spec.Name] = &provider{
			name:     spec.Name,
			endpoint: spec.Endpoint,
			score:    1.0,
		}
		r.order = append(r.order, spec.Name)
	}

	entries, err := store.Load(context.Background())
	if err != nil {
		return nil, fmt.Errorf("loading provider scores: %w", err)
	}
	for _, e := range entries {
		if p, ok := r.providers[e.Name]; ok {
			p.score = clampScore(e.Score)
		}
	}

	return r, nil
}

// Rank returns selectable providers sorted descending by score, excluding
// the given names and any provider that is disabled, cooling down, or
// scoring below the disablement threshold. Ties are broken by a bounded
// random jitter; the last provider that served a successful fetch gets a
// small preference within the jitter band.
//
// If every provider is excluded, the least-recently-disabled provider is
// returned as a last resort so the caller can still attempt a fetch.
func (r *Registry) Rank(excluding map[string]bool) []Info {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()

	type ranked struct {
		info Info
		key  float64
	}

	var eligible []ranked
	for _, name := range r.order {
		p := r.providers[name]
		if excluding[name] || !p.available(r.policy.DisableThreshold, now) {
			continue
		}
		key := p.score + rand.Float64()*r.policy.Jitter
		if name == r.lastGood {
			// Sticky preference for the last known working provider,
			// kept inside the jitter band so it remains a tie-break.
			key += r.policy.Jitter / 2
		}
		eligible = append(eligible, ranked{info: p.info(), key: key})
	}

	if len(eligible) == 0 {
		if last := r.lastResortLocked(excluding); last != nil {
			return []Info{last.info()}
		}
		return nil
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].key > eligible[j].key
	})

	infos := make([]Info, len(eligible))
	for i, e := range eligible {
		infos[i] = e.info
	}
	return infos
}

// lastResortLocked picks the provider that has been unselectable the
// longest, preferring candidates outside the exclusion set.
func (r *Registry) lastResortLocked(excluding map[string]bool) *provider {
	pick := func(skipExcluded bool) *provider {
		var best *provider
		for _, name := range r.order {
			p := r.providers[name]
			if skipExcluded && excluding[name] {
				continue
			}
			if best == nil || p.unavailableSince().Before(best.unavailableSince()) {
				best = p
			}
		}
		return best
	}

	if best := pick(true); best != nil {
		return best
	}
	return pick(false)
}

// ReportOutcome records the result of a fetch attempt against a provider.
// Success nudges the score toward 1 and resets the consecutive failure
// count; failure decays the score and, past the retry budget, puts the
// provider into cooldown regardless of score.
func (r *Registry) ReportOutcome(name string, success bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.providers[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}

	now := r.now()
	if success {
		p.score = clampScore(p.score + (1-p.score)*r.policy.SuccessGain)
		p.consecFailures = 0
		p.lastSuccess = now
		r.lastGood = name
		return nil
	}

	p.score = clampScore(p.score * r.policy.DecayFactor)
	p.consecFailures++
	p.lastFailure = now

	if p.consecFailures > r.policy.RetryBudget {
		p.cooldownUntil = now.Add(r.policy.Cooldown)
		p.consecFailures = 0
		r.logger.Warn("provider entered cooldown",
			slog.String("provider", name),
			slog.Float64("score", p.score),
			slog.Duration("cooldown", r.policy.Cooldown),
		)
	}

	return nil
}

// Disable removes a provider from selection until Reenable is called.
// Used for explicit circuit-breaker style overrides.
func (r *Registry) Disable(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.providers[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	if !p.disabled {
		p.disabled = true
		p.disabledAt = r.now()
		r.logger.Info("provider disabled", slog.String("provider", name))
	}
	return nil
}

// Reenable returns a disabled provider to selection.
func (r *Registry) Reenable(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.providers[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	if p.disabled {
		p.disabled = false
		p.disabledAt = time.Time{}
		r.logger.Info("provider reenabled", slog.String("provider", name))
	}
	return nil
}

// Get returns a selection snapshot for a provider by name.
func (r *Registry) Get(name string) (Info, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.providers[name]
	if !ok {
		return Info{}, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return p.info(), nil
}

// SaveScores persists the current score table. Updates are last-write-wins.
func (r *Registry) SaveScores(ctx context.Context) error {
	r.mu.Lock()
	entries := make([]Entry, 0, len(r.providers))
	now := r.now()
	for _, name := range r.order {
		entries = append(entries, Entry{
			Name:      name,
			Score:     r.providers[name].score,
			UpdatedAt: now,
		})
	}
	r.mu.Unlock()

	if err := r.store.Save(ctx, entries); err != nil {
		return fmt.Errorf("saving provider scores: %w", err)
	}
	return nil
}

// Stats returns statistics for all providers.
func (r *Registry) Stats() []ProviderStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := make([]ProviderStats, 0, len(r.providers))
	for _, name := range r.order {
		p := r.providers[name]
		stats = append(stats, ProviderStats{
			Name:           p.name,
			Score:          p.score,
			ConsecFailures: p.consecFailures,
			Disabled:       p.disabled,
			CooldownUntil:  p.cooldownUntil,
			LastSuccess:    p.lastSuccess,
			LastFailure:    p.lastFailure,
		})
	}
	return stats
}

// clampScore bounds a score to [0,1].
func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
