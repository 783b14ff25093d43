package fetch

import (
	"sync"
	"time"
)

// DefaultBandwidthWindow is the default number of completions the
// bandwidth estimate is smoothed across.
const DefaultBandwidthWindow = 5

// BandwidthEstimator maintains a running bandwidth estimate from chunk
// completions. Each sample is bytes/elapsed, exponentially smoothed across
// the last K completions so a single slow or fast fetch does not swing
// the estimate.
type BandwidthEstimator struct {
	mu       sync.Mutex
	window   int
	alpha    float64
	smoothed float64 // bytes per second
	samples  uint64
}

// NewBandwidthEstimator creates an estimator smoothing over the given
// number of completions.
func NewBandwidthEstimator(window int) *BandwidthEstimator {
	if window <= 0 {
		window = DefaultBandwidthWindow
	}
	return &BandwidthEstimator{
		window: window,
		alpha:  2.0 / (float64(window) + 1),
	}
}

// Record adds one completed fetch to the estimate.
func (e *BandwidthEstimator) Record(bytes int64, elapsed time.Duration) {
	if bytes <= 0 || elapsed <= 0 {
		return
	}

	sample := float64(bytes) / elapsed.Seconds()

	e.mu.Lock()
	defer e.mu.Unlock()

	e.samples++
	if e.samples == 1 {
		e.smoothed = sample
		return
	}
	e.smoothed = e.alpha*sample + (1-e.alpha)*e.smoothed
}

// BytesPerSecond returns the smoothed estimate, or 0 before any sample.
func (e *BandwidthEstimator) BytesPerSecond() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.smoothed
}

// BitsPerSecond returns the smoothed estimate in bits per second, the
// unit quality tiers are described in.
func (e *BandwidthEstimator) BitsPerSecond() float64 {
	return e.BytesPerSecond() * 8
}

// SampleCount returns the number of recorded completions.
func (e *BandwidthEstimator) SampleCount() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.samples
}

// Reset clears the estimate.
func (e *BandwidthEstimator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.smoothed = 0
	e.samples = 0
}
