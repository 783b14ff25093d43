package fetch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlotPool_AcquireUpToLimit(t *testing.T) {
	p := newSlotPool(2)

	r1, err := p.Acquire(context.Background(), false)
	require.NoError(t, err)
	r2, err := p.Acquire(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, 2, p.InFlight())
	assert.Equal(t, 0, p.Queued())

	r1()
	r2()
	assert.Equal(t, 0, p.InFlight())
}

func TestSlotPool_QueuesBeyondLimit(t *testing.T) {
	p := newSlotPool(1)

	release, err := p.Acquire(context.Background(), false)
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		r, err := p.Acquire(context.Background(), false)
		if err == nil {
			r()
		}
		close(acquired)
	}()

	require.Eventually(t, func() bool { return p.Queued() == 1 }, time.Second, time.Millisecond)

	select {
	case <-acquired:
		t.Fatal("second acquire should block until release")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("queued acquire did not get the freed slot")
	}
}

func TestSlotPool_CancellationFreesSlotImmediately(t *testing.T) {
	p := newSlotPool(1)

	release, err := p.Acquire(context.Background(), false)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := p.Acquire(ctx, false)
		errCh <- err
	}()

	require.Eventually(t, func() bool { return p.Queued() == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled acquire did not return")
	}
	assert.Equal(t, 0, p.Queued())

	// The slot itself stays usable.
	release()
	r, err := p.Acquire(context.Background(), false)
	require.NoError(t, err)
	r()
}

func TestSlotPool_HighPriorityJumpsQueue(t *testing.T) {
	p := newSlotPool(1)

	release, err := p.Acquire(context.Background(), false)
	require.NoError(t, err)

	var mu sync.Mutex
	var order []string

	lowQueued := make(chan struct{})
	done := make(chan struct{}, 2)

	go func() {
		r, err := p.Acquire(context.Background(), false)
		require.NoError(t, err)
		mu.Lock()
		order = append(order, "low")
		mu.Unlock()
		r()
		done <- struct{}{}
	}()

	require.Eventually(t, func() bool { return p.Queued() == 1 }, time.Second, time.Millisecond)
	close(lowQueued)

	go func() {
		<-lowQueued
		r, err := p.Acquire(context.Background(), true)
		require.NoError(t, err)
		mu.Lock()
		order = append(order, "high")
		mu.Unlock()
		r()
		done <- struct{}{}
	}()

	require.Eventually(t, func() bool { return p.Queued() == 2 }, time.Second, time.Millisecond)

	release()
	<-done
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"high", "low"}, order)
}

func TestSlotPool_Close(t *testing.T) {
	p := newSlotPool(1)

	release, err := p.Acquire(context.Background(), false)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := p.Acquire(context.Background(), false)
		errCh <- err
	}()
	require.Eventually(t, func() bool { return p.Queued() == 1 }, time.Second, time.Millisecond)

	p.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrSlotsClosed)
	case <-time.After(time.Second):
		t.Fatal("queued acquire did not fail on close")
	}

	_, err = p.Acquire(context.Background(), false)
	assert.ErrorIs(t, err, ErrSlotsClosed)

	// Releasing after close must not panic.
	release()
}

func TestSlotPool_ReleaseIsIdempotent(t *testing.T) {
	p := newSlotPool(1)

	release, err := p.Acquire(context.Background(), false)
	require.NoError(t, err)

	release()
	release()
	assert.Equal(t, 0, p.InFlight())
}
