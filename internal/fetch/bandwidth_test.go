package fetch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBandwidthEstimator_FirstSampleSeeds(t *testing.T) {
	e := NewBandwidthEstimator(5)

	assert.Equal(t, 0.0, e.BytesPerSecond())

	e.Record(1000, time.Second)
	assert.InDelta(t, 1000, e.BytesPerSecond(), 1e-9)
	assert.Equal(t, uint64(1), e.SampleCount())
}

func TestBandwidthEstimator_Smoothing(t *testing.T) {
	e := NewBandwidthEstimator(5)
	alpha := 2.0 / 6.0

	e.Record(1000, time.Second)
	e.Record(2000, time.Second)

	expected := alpha*2000 + (1-alpha)*1000
	assert.InDelta(t, expected, e.BytesPerSecond(), 1e-9)
}

func TestBandwidthEstimator_ResistsSingleSampleNoise(t *testing.T) {
	e := NewBandwidthEstimator(5)

	for range 20 {
		e.Record(1000, time.Second)
	}
	e.Record(100_000, time.Second)

	// One outlier must not swing the estimate to its own value.
	assert.Less(t, e.BytesPerSecond(), 40_000.0)
	assert.Greater(t, e.BytesPerSecond(), 1000.0)
}

func TestBandwidthEstimator_IgnoresInvalidSamples(t *testing.T) {
	e := NewBandwidthEstimator(5)

	e.Record(0, time.Second)
	e.Record(1000, 0)
	e.Record(-5, time.Second)

	assert.Equal(t, uint64(0), e.SampleCount())
}

func TestBandwidthEstimator_BitsPerSecond(t *testing.T) {
	e := NewBandwidthEstimator(5)
	e.Record(1000, time.Second)
	assert.InDelta(t, 8000, e.BitsPerSecond(), 1e-9)
}

func TestBandwidthEstimator_Reset(t *testing.T) {
	e := NewBandwidthEstimator(5)
	e.Record(1000, time.Second)

	e.Reset()
	assert.Equal(t, 0.0, e.BytesPerSecond())
	assert.Equal(t, uint64(0), e.SampleCount())
}
