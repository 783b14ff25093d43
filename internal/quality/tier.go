// Package quality recommends a quality tier from bandwidth, buffer
// health, and decode-cost signals, with hysteresis so tiers do not
// thrash.
package quality

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Tier is one quality level the content can be requested at.
type Tier struct {
	Name    string `json:"name" yaml:"name"`
	Bitrate int64  `json:"bitrate" yaml:"bitrate"` // bits per second
	Height  int    `json:"height" yaml:"height"`   // vertical resolution
}

func (t Tier) String() string {
	return t.Name
}

// DefaultLadder returns the built-in tier table, ascending by bitrate.
func DefaultLadder() []Tier {
	return []Tier{
		{Name: "240p", Bitrate: 200_000, Height: 240},
		{Name: "360p", Bitrate: 500_000, Height: 360},
		{Name: "480p", Bitrate: 1_200_000, Height: 480},
		{Name: "720p", Bitrate: 2_000_000, Height: 720},
		{Name: "1080p", Bitrate: 3_000_000, Height: 1080},
	}
}

// LoadLadder reads a tier table from a YAML file. The file holds a list
// of {name, bitrate, height} entries; order in the file does not matter.
func LoadLadder(path string) ([]Tier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tier table: %w", err)
	}

	var tiers []Tier
	if err := yaml.Unmarshal(data, &tiers); err != nil {
		return nil, fmt.Errorf("parsing tier table: %w", err)
	}
	if err := validateLadder(tiers); err != nil {
		return nil, err
	}

	sort.Slice(tiers, func(i, j int) bool { return tiers[i].Bitrate < tiers[j].Bitrate })
	return tiers, nil
}

func validateLadder(tiers []Tier) error {
	if len(tiers) == 0 {
		return fmt.Errorf("tier table is empty")
	}
	seen := make(map[string]bool, len(tiers))
	for _, t := range tiers {
		if t.Name == "" {
			return fmt.Errorf("tier with empty name")
		}
		if t.Bitrate <= 0 {
			return fmt.Errorf("tier %q has non-positive bitrate", t.Name)
		}
		if seen[t.Name] {
			return fmt.Errorf("duplicate tier %q", t.Name)
		}
		seen[t.Name] = true
	}
	return nil
}
