// Package fetch performs concurrent, cancellable byte-range fetches against
// content providers, with a bounded in-flight concurrency per content
// handle, a content-address-keyed result cache, and a running bandwidth
// estimate.
package fetch

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/andybalholm/brotli"
	"golang.org/x/net/http2"

	"github.com/jmylchreest/mediaflow/internal/provider"
)

// HTTP header constants.
const (
	headerAcceptEncoding  = "Accept-Encoding"
	headerContentEncoding = "Content-Encoding"
	headerUserAgent       = "User-Agent"
	headerRange           = "Range"

	acceptEncodings = "gzip, deflate, br"
)

// Default fetcher configuration values.
const (
	DefaultConcurrency    = 3
	DefaultRequestTimeout = 10 * time.Second
	DefaultCacheSize      = 16 * 1024 * 1024
	DefaultUserAgent      = "mediaflow/1.0"
)

// Config holds segment fetcher configuration.
type Config struct {
	// Concurrency is the maximum in-flight fetches.
	Concurrency int

	// RequestTimeout bounds a single range request.
	RequestTimeout time.Duration

	// BandwidthWindow is the smoothing window for the bandwidth estimate.
	BandwidthWindow int

	// CacheSize caps the chunk result cache in bytes.
	CacheSize int64

	// UserAgent is sent with every request.
	UserAgent string

	// HTTPClient overrides the default transport. Mostly for tests.
	HTTPClient *http.Client

	// Logger is the structured logger; defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultFetcherConfig returns sensible defaults.
func DefaultFetcherConfig() Config {
	return Config{
		Concurrency:     DefaultConcurrency,
		RequestTimeout:  DefaultRequestTimeout,
		BandwidthWindow: DefaultBandwidthWindow,
		CacheSize:       DefaultCacheSize,
		UserAgent:       DefaultUserAgent,
	}
}

// Fetcher retrieves byte ranges of content from providers.
type Fetcher struct {
	config    Config
	client    *http.Client
	slots     *slotPool
	cache     *ChunkCache
	bandwidth *BandwidthEstimator
	logger    *slog.Logger

	completed atomic.Uint64
	failed    atomic.Uint64
	aborted   atomic.Uint64
}

// NewFetcher creates a fetcher with the given configuration.
func NewFetcher(cfg Config) *Fetcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	client := cfg.HTTPClient
	if client == nil {
		client = newHTTPClient()
	}

	return &Fetcher{
		config:    cfg,
		client:    client,
		slots:     newSlotPool(cfg.Concurrency),
		cache:     NewChunkCache(cfg.CacheSize),
		bandwidth: NewBandwidthEstimator(cfg.BandwidthWindow),
		logger:    cfg.Logger,
	}
}

// newHTTPClient builds the default transport: connection-level timeouts,
// HTTP/2 enabled, no overall client timeout (per-request contexts bound
// each fetch instead).
func newHTTPClient() *http.Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
	}
	// Best effort; falls back to HTTP/1.1 when the upstream does not
	// negotiate h2.
	_ = http2.ConfigureTransport(transport)

	return &http.Client{Transport: transport}
}

// Fetch retrieves one byte range of content from the given provider.
// At most Concurrency fetches run at once; additional calls queue.
// A high-priority fetch jumps ahead of queued low-priority work but never
// preempts an in-flight request. Cancelling ctx frees the concurrency
// slot immediately.
func (f *Fetcher) Fetch(ctx context.Context, prov provider.Info, contentID, tier string, br ByteRange, high bool) (*Chunk, error) {
	if cached := f.cache.Get(contentID, br.Start); cached != nil && cached.Size >= br.Len() {
		return cached, nil
	}

	release, err := f.slots.Acquire(ctx, high)
	if err != nil {
		return nil, err
	}
	defer release()

	reqCtx, cancel := context.WithTimeout(ctx, f.config.RequestTimeout)
	defer cancel()

	chunk := &Chunk{
		ContentID: contentID,
		Offset:    br.Start,
		Status:    ChunkPending,
		Provider:  prov.Name,
	}

	start := time.Now()
	payload, status, err := f.doRange(reqCtx, prov.ResolveURL(contentID, tier), br)
	chunk.Elapsed = time.Since(start)
	chunk.FetchedAt = time.Now()

	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			chunk.Status = ChunkAborted
			f.aborted.Add(1)
			return chunk, ctx.Err()
		}
		chunk.Status = ChunkFailed
		f.failed.Add(1)
		return chunk, &Error{
			Kind:      classifyTransport(err),
			Provider:  prov.Name,
			ContentID: contentID,
			Err:       err,
		}
	}

	if status != http.StatusOK && status != http.StatusPartialContent {
		chunk.Status = ChunkFailed
		f.failed.Add(1)
		f.logger.Debug("range request rejected",
			slog.String("provider", prov.Name),
			slog.String("content_id", contentID),
			slog.Int("status", status),
		)
		return chunk, &Error{
			Kind:      classifyStatus(status),
			Provider:  prov.Name,
			ContentID: contentID,
			Status:    status,
		}
	}

	chunk.Status = ChunkLoaded
	chunk.Payload = payload
	chunk.Size = int64(len(payload))
	f.completed.Add(1)

	f.bandwidth.Record(chunk.Size, chunk.Elapsed)
	f.cache.Put(chunk)

	return chunk, nil
}

// doRange performs one byte-range GET and fully reads the body.
func (f *Fetcher) doRange(ctx context.Context, url string, br ByteRange) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set(headerUserAgent, f.config.UserAgent)
	req.Header.Set(headerAcceptEncoding, acceptEncodings)
	if br.Len() > 0 {
		req.Header.Set(headerRange, br.Header())
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, resp.StatusCode, nil
	}

	body := decompressionReader(resp)
	payload, err := io.ReadAll(body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return payload, resp.StatusCode, nil
}

// decompressionReader wraps the response body per its Content-Encoding.
func decompressionReader(resp *http.Response) io.Reader {
	switch strings.ToLower(resp.Header.Get(headerContentEncoding)) {
	case "gzip":
		if r, err := gzip.NewReader(resp.Body); err == nil {
			return r
		}
		return resp.Body
	case "deflate":
		return flate.NewReader(resp.Body)
	case "br":
		return brotli.NewReader(resp.Body)
	default:
		return resp.Body
	}
}

// Bandwidth returns the fetcher's bandwidth estimator.
func (f *Fetcher) Bandwidth() *BandwidthEstimator {
	return f.bandwidth
}

// InFlight returns the number of in-flight fetches.
func (f *Fetcher) InFlight() int {
	return f.slots.InFlight()
}

// Close releases the fetcher's resources and fails queued fetches.
func (f *Fetcher) Close() {
	f.slots.Close()
	f.cache.Clear()
	f.client.CloseIdleConnections()
}

// Stats returns fetcher statistics.
func (f *Fetcher) Stats() FetcherStats {
	return FetcherStats{
		InFlight:  f.slots.InFlight(),
		Queued:    f.slots.Queued(),
		Completed: f.completed.Load(),
		Failed:    f.failed.Load(),
		Aborted:   f.aborted.Load(),
		Cache:     f.cache.Stats(),
		Bandwidth: f.bandwidth.BytesPerSecond(),
	}
}

// FetcherStats holds fetcher statistics.
type FetcherStats struct {
	InFlight  int        `json:"in_flight"`
	Queued    int        `json:"queued"`
	Completed uint64     `json:"completed"`
	Failed    uint64     `json:"failed"`
	Aborted   uint64     `json:"aborted"`
	Cache     CacheStats `json:"cache"`
	Bandwidth float64    `json:"bandwidth_bytes_per_sec"`
}
