package quality

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jmylchreest/mediaflow/internal/buffer"
)

// Default advisor configuration values.
const (
	// DefaultHeadroom keeps the selected tier's bitrate at or below this
	// fraction of effective bandwidth, so the choice does not oscillate
	// at the edge.
	DefaultHeadroom = 0.8

	// DefaultMinSwitchInterval rate-limits tier switches.
	DefaultMinSwitchInterval = 5 * time.Second
)

// ErrUnknownTier is returned when forcing a tier not in the ladder.
var ErrUnknownTier = errors.New("unknown quality tier")

// Config holds quality advisor configuration.
type Config struct {
	// Ladder is the tier table. Defaults to DefaultLadder().
	Ladder []Tier

	// Headroom is the bandwidth fraction a tier may consume.
	Headroom float64

	// MinSwitchInterval is the minimum time between tier switches,
	// except forced downgrades under buffer pressure.
	MinSwitchInterval time.Duration

	// Clock overrides the time source. Tests use this.
	Clock func() time.Time

	// Logger is the structured logger; defaults to slog.Default().
	Logger *slog.Logger
}

// Advisor recommends quality tiers with hysteresis. Automatic adaptation
// can be pinned off with ForceTier and restored with SetAutoQuality.
type Advisor struct {
	headroom    float64
	minInterval time.Duration
	logger      *slog.Logger
	now         func() time.Time

	mu            sync.Mutex
	ladder        []Tier // ascending by bitrate
	current       int
	auto          bool
	lastSwitch    time.Time
	lowDowngraded bool

	switches uint64
}

// NewAdvisor creates an advisor starting at the lowest tier with
// automatic adaptation enabled.
func NewAdvisor(cfg Config) *Advisor {
	ladder := cfg.Ladder
	if len(ladder) == 0 {
		ladder = DefaultLadder()
	}
	ladder = append([]Tier(nil), ladder...)
	sort.Slice(ladder, func(i, j int) bool { return ladder[i].Bitrate < ladder[j].Bitrate })

	if cfg.Headroom <= 0 || cfg.Headroom > 1 {
		cfg.Headroom = DefaultHeadroom
	}
	if cfg.MinSwitchInterval <= 0 {
		cfg.MinSwitchInterval = DefaultMinSwitchInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}

	return &Advisor{
		headroom:    cfg.Headroom,
		minInterval: cfg.MinSwitchInterval,
		logger:      cfg.Logger,
		now:         now,
		ladder:      ladder,
		auto:        true,
	}
}

// Recommend returns the tier playback should use given the current
// bandwidth estimate (bits per second), buffer health, and decode-cost
// penalty in [0,1]. The boolean reports whether a switch should be
// applied now; hysteresis and the Low-health override are already folded
// in, so callers act on the result directly.
func (a *Advisor) Recommend(bandwidthBps float64, health buffer.Health, decodeCost float64) (Tier, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.auto {
		return a.ladder[a.current], false
	}

	now := a.now()

	switch health {
	case buffer.HealthLow:
		// Buffer pressure: one-step downgrade, immediately, once per
		// Low episode. Availability beats picture quality here.
		if a.lowDowngraded || a.current == 0 {
			return a.ladder[a.current], false
		}
		a.current--
		a.lowDowngraded = true
		a.lastSwitch = now
		a.switches++
		a.logger.Info("forced downgrade under buffer pressure",
			slog.String("tier", a.ladder[a.current].Name),
		)
		return a.ladder[a.current], true

	case buffer.HealthStalled:
		// Recovery is in the session's hands; no quality moves.
		return a.ladder[a.current], false
	}

	a.lowDowngraded = false

	target := a.targetLocked(bandwidthBps, decodeCost)
	if target == a.current {
		return a.ladder[a.current], false
	}
	if !a.lastSwitch.IsZero() && now.Sub(a.lastSwitch) < a.minInterval {
		return a.ladder[a.current], false
	}

	from := a.ladder[a.current]
	a.current = target
	a.lastSwitch = now
	a.switches++
	a.logger.Info("quality switch",
		slog.String("from", from.Name),
		slog.String("to", a.ladder[target].Name),
		slog.Float64("bandwidth_bps", bandwidthBps),
	)
	return a.ladder[target], true
}

// targetLocked picks the highest tier whose bitrate fits within the
// headroom fraction of effective bandwidth, falling back to the lowest.
func (a *Advisor) targetLocked(bandwidthBps, decodeCost float64) int {
	if decodeCost < 0 {
		decodeCost = 0
	}
	if decodeCost > 1 {
		decodeCost = 1
	}
	effective := bandwidthBps * (1 - decodeCost)

	target := 0
	for i, t := range a.ladder {
		if float64(t.Bitrate) <= a.headroom*effective {
			target = i
		}
	}
	return target
}

// ForceTier pins a tier and disables automatic adaptation.
func (a *Advisor) ForceTier(name string) (Tier, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i, t := range a.ladder {
		if t.Name == name {
			a.auto = false
			if i != a.current {
				a.current = i
				a.lastSwitch = a.now()
				a.switches++
			}
			return t, nil
		}
	}
	return Tier{}, fmt.Errorf("%w: %q", ErrUnknownTier, name)
}

// SetAutoQuality toggles automatic adaptation.
func (a *Advisor) SetAutoQuality(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.auto = enabled
}

// AutoQuality reports whether automatic adaptation is enabled.
func (a *Advisor) AutoQuality() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.auto
}

// Current returns the active tier.
func (a *Advisor) Current() Tier {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ladder[a.current]
}

// Ladder returns the tier table in ascending bitrate order.
func (a *Advisor) Ladder() []Tier {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Tier(nil), a.ladder...)
}

// Stats returns advisor statistics.
func (a *Advisor) Stats() AdvisorStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	return AdvisorStats{
		Current:    a.ladder[a.current].Name,
		Auto:       a.auto,
		Switches:   a.switches,
		LastSwitch: a.lastSwitch,
	}
}

// AdvisorStats holds quality advisor statistics.
type AdvisorStats struct {
	Current    string    `json:"current"`
	Auto       bool      `json:"auto"`
	Switches   uint64    `json:"switches"`
	LastSwitch time.Time `json:"last_switch,omitzero"`
}
