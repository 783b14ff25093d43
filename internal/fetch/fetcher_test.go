package fetch

import (
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/mediaflow/internal/provider"
)

func testProvider(url string) provider.Info {
	return provider.Info{Name: "edge-a", Endpoint: url + "/{content}/{tier}", Score: 1.0}
}

func newTestFetcher(t *testing.T) *Fetcher {
	t.Helper()
	f := NewFetcher(DefaultFetcherConfig())
	t.Cleanup(f.Close)
	return f
}

func TestFetcher_FetchSuccess(t *testing.T) {
	payload := bytes.Repeat([]byte("abcd"), 256)
	var gotRange atomic.Value

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange.Store(r.Header.Get("Range"))
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	f := newTestFetcher(t)
	chunk, err := f.Fetch(context.Background(), testProvider(srv.URL), "movie-1", "720p",
		ByteRange{Start: 0, End: 1024}, false)
	require.NoError(t, err)

	assert.Equal(t, ChunkLoaded, chunk.Status)
	assert.Equal(t, payload, chunk.Payload)
	assert.Equal(t, int64(len(payload)), chunk.Size)
	assert.Equal(t, "edge-a", chunk.Provider)
	assert.Equal(t, "bytes=0-1023", gotRange.Load())

	assert.Equal(t, uint64(1), f.Bandwidth().SampleCount())
	assert.Greater(t, f.Bandwidth().BytesPerSecond(), 0.0)
}

func TestFetcher_CacheHitSkipsNetwork(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write(bytes.Repeat([]byte("x"), 2048))
	}))
	defer srv.Close()

	f := newTestFetcher(t)
	br := ByteRange{Start: 0, End: 1024}

	_, err := f.Fetch(context.Background(), testProvider(srv.URL), "movie-1", "720p", br, false)
	require.NoError(t, err)
	_, err = f.Fetch(context.Background(), testProvider(srv.URL), "movie-1", "720p", br, false)
	require.NoError(t, err)

	assert.Equal(t, int64(1), hits.Load())
	assert.Equal(t, uint64(1), f.Stats().Cache.Hits)
}

func TestFetcher_NotFoundIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := newTestFetcher(t)
	chunk, err := f.Fetch(context.Background(), testProvider(srv.URL), "missing", "720p",
		ByteRange{Start: 0, End: 1024}, false)

	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.False(t, IsTransient(err))
	assert.Equal(t, ChunkFailed, chunk.Status)

	var fe *Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, http.StatusNotFound, fe.Status)
	assert.Equal(t, "edge-a", fe.Provider)
}

func TestFetcher_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := newTestFetcher(t)
	_, err := f.Fetch(context.Background(), testProvider(srv.URL), "movie-1", "720p",
		ByteRange{Start: 0, End: 1024}, false)

	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.False(t, IsFatal(err))
}

func TestFetcher_TimeoutIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(500 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := DefaultFetcherConfig()
	cfg.RequestTimeout = 50 * time.Millisecond
	f := NewFetcher(cfg)
	defer f.Close()

	_, err := f.Fetch(context.Background(), testProvider(srv.URL), "movie-1", "720p",
		ByteRange{Start: 0, End: 1024}, false)

	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestFetcher_CancellationAborts(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
	}))
	defer srv.Close()

	f := newTestFetcher(t)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	var chunk *Chunk
	go func() {
		var err error
		chunk, err = f.Fetch(ctx, testProvider(srv.URL), "movie-1", "720p",
			ByteRange{Start: 0, End: 1024}, false)
		errCh <- err
	}()

	<-started
	cancel()

	err := <-errCh
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, chunk)
	assert.Equal(t, ChunkAborted, chunk.Status)
	assert.Equal(t, 0, f.InFlight(), "cancellation must free the slot")
}

func TestFetcher_GzipDecompression(t *testing.T) {
	payload := bytes.Repeat([]byte("streaming media segment "), 64)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("Accept-Encoding"), "br")

		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		_, _ = gz.Write(payload)
		_ = gz.Close()

		w.Header().Set("Content-Encoding", "gzip")
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write(buf.Bytes())
	}))
	defer srv.Close()

	f := newTestFetcher(t)
	chunk, err := f.Fetch(context.Background(), testProvider(srv.URL), "movie-1", "720p",
		ByteRange{Start: 0, End: int64(len(payload))}, false)
	require.NoError(t, err)
	assert.Equal(t, payload, chunk.Payload)
}

func TestFetcher_Stats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write([]byte("data"))
	}))
	defer srv.Close()

	f := newTestFetcher(t)
	_, err := f.Fetch(context.Background(), testProvider(srv.URL), "movie-1", "720p",
		ByteRange{Start: 0, End: 4}, false)
	require.NoError(t, err)

	stats := f.Stats()
	assert.Equal(t, uint64(1), stats.Completed)
	assert.Equal(t, uint64(0), stats.Failed)
	assert.Equal(t, 0, stats.InFlight)
}
