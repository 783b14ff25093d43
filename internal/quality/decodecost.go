package quality

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
)

// CostSource supplies the decode-cost penalty in [0,1] that discounts
// the raw bandwidth estimate. Zero means no penalty.
type CostSource interface {
	Cost() float64
}

// ZeroCost is the default source when no decode-cost signal is wired.
type ZeroCost struct{}

// Cost always returns 0.
func (ZeroCost) Cost() float64 { return 0 }

// CostFunc adapts a function to a CostSource.
type CostFunc func() float64

// Cost calls the wrapped function.
func (f CostFunc) Cost() float64 { return f() }

// Default CPU sampler values. Load below the floor costs nothing; load
// at or above saturation maps to the full penalty.
const (
	DefaultSampleInterval = 2 * time.Second
	DefaultLoadFloor      = 0.5
	DefaultLoadSaturation = 0.95
	DefaultMaxPenalty     = 0.5
)

// CPUCostSampler derives a decode-cost penalty from system CPU load.
// A machine already saturated decoding gets its effective bandwidth
// discounted so the advisor stops pushing it up the tier ladder.
type CPUCostSampler struct {
	interval   time.Duration
	floor      float64
	saturation float64
	maxPenalty float64
	logger     *slog.Logger

	mu   sync.Mutex
	cost float64

	cancel context.CancelFunc
	done   chan struct{}
}

// NewCPUCostSampler creates a sampler with default thresholds.
func NewCPUCostSampler(logger *slog.Logger) *CPUCostSampler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CPUCostSampler{
		interval:   DefaultSampleInterval,
		floor:      DefaultLoadFloor,
		saturation: DefaultLoadSaturation,
		maxPenalty: DefaultMaxPenalty,
		logger:     logger,
	}
}

// Start begins sampling in the background until Stop is called.
func (s *CPUCostSampler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sample(ctx)
			}
		}
	}()
}

// Stop halts sampling.
func (s *CPUCostSampler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
}

func (s *CPUCostSampler) sample(ctx context.Context) {
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil || len(percents) == 0 {
		s.logger.Debug("cpu sample unavailable", slog.Any("error", err))
		return
	}
	load := percents[0] / 100

	var penalty float64
	switch {
	case load <= s.floor:
		penalty = 0
	case load >= s.saturation:
		penalty = s.maxPenalty
	default:
		penalty = s.maxPenalty * (load - s.floor) / (s.saturation - s.floor)
	}

	s.mu.Lock()
	s.cost = penalty
	s.mu.Unlock()
}

// Cost returns the most recent penalty.
func (s *CPUCostSampler) Cost() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cost
}
