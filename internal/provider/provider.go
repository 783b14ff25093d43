// Package provider manages the set of candidate content sources, their
// reliability scores, and ranked selection with cooldown and failover.
package provider

import (
	"strings"
	"time"
)

// Spec describes a provider from static configuration.
type Spec struct {
	// Name uniquely identifies the provider. Scores are persisted
	// against this name.
	Name string

	// Endpoint is a URL template. {content} and {tier} placeholders are
	// substituted when resolving a source URL.
	Endpoint string
}

// Info is an immutable snapshot of a provider handed out by Rank.
type Info struct {
	Name     string  `json:"name"`
	Endpoint string  `json:"endpoint"`
	Score    float64 `json:"score"`
}

// ResolveURL substitutes the content identifier and quality tier into the
// provider's endpoint template.
func (i Info) ResolveURL(contentID, tier string) string {
	url := strings.ReplaceAll(i.Endpoint, "{content}", contentID)
	return strings.ReplaceAll(url, "{tier}", tier)
}

// provider holds the mutable per-provider state. All access goes through
// the registry mutex so score updates are atomic read-modify-write.
type provider struct {
	name     string
	endpoint string

	score          float64
	consecFailures int
	cooldownUntil  time.Time
	disabled       bool
	disabledAt     time.Time
	lastSuccess    time.Time
	lastFailure    time.Time
}

// info returns a selection snapshot.
func (p *provider) info() Info {
	return Info{Name: p.name, Endpoint: p.endpoint, Score: p.score}
}

// available reports whether the provider is selectable at the given time.
func (p *provider) available(threshold float64, now time.Time) bool {
	if p.disabled {
		return false
	}
	if now.Before(p.cooldownUntil) {
		return false
	}
	return p.score >= threshold
}

// unavailableSince returns when the provider last became unselectable.
// Used to pick a last-resort candidate when every provider is excluded.
func (p *provider) unavailableSince() time.Time {
	if p.disabled {
		return p.disabledAt
	}
	if !p.cooldownUntil.IsZero() {
		return p.cooldownUntil
	}
	return p.lastFailure
}

// ProviderStats holds per-provider statistics.
type ProviderStats struct {
	Name           string    `json:"name"`
	Score          float64   `json:"score"`
	ConsecFailures int       `json:"consec_failures"`
	Disabled       bool      `json:"disabled"`
	CooldownUntil  time.Time `json:"cooldown_until,omitempty"`
	LastSuccess    time.Time `json:"last_success,omitempty"`
	LastFailure    time.Time `json:"last_failure,omitempty"`
}
