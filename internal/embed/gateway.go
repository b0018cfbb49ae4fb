package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/efebarandurmaz/lodestone/internal/observability"
)

// ErrUnavailable is returned when the embedding endpoint is still failing
// after the configured retry budget is exhausted.
var ErrUnavailable = errors.New("embed: provider unavailable")

// RetryConfig bounds retries for embedding calls.
type RetryConfig struct {
	MaxRetries int           // Maximum number of retry attempts (0 = no retries)
	RetryDelay time.Duration // Initial delay between retries
	MaxDelay   time.Duration // Maximum delay between retries (caps exponential backoff)
	Timeout    time.Duration // Per-attempt timeout
}

// DefaultRetryConfig returns a sensible default configuration.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries: 3,
		RetryDelay: 500 * time.Millisecond,
		MaxDelay:   10 * time.Second,
		Timeout:    30 * time.Second,
	}
}

// Config configures the gateway.
type Config struct {
	// CacheSize is the cache budget in bytes (default 64 MiB).
	CacheSize int64
	// Retry overrides the default retry budget.
	Retry *RetryConfig
}

// Gateway batches embedding requests through a provider, caching results by
// content hash so re-ingesting unchanged chunks skips recomputation.
// Concurrent cache fills for the same key may race; the duplicate work is
// harmless.
type Gateway struct {
	provider Provider
	cache    *ristretto.Cache
	retry    RetryConfig
}

// NewGateway creates a gateway around the given provider.
func NewGateway(p Provider, cfg *Config) (*Gateway, error) {
	if p == nil {
		return nil, errors.New("embed: provider is required")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	cacheSize := cfg.CacheSize
	if cacheSize <= 0 {
		cacheSize = 64 << 20
	}
	retry := DefaultRetryConfig()
	if cfg.Retry != nil {
		retry = cfg.Retry
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 100_000,
		MaxCost:     cacheSize,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("embed: create cache: %w", err)
	}

	return &Gateway{provider: p, cache: cache, retry: *retry}, nil
}

// Dimensions returns the provider's embedding dimension.
func (g *Gateway) Dimensions() int {
	return g.provider.Dimensions()
}

// Embed returns one vector per input text, serving cached entries and
// batching the rest through the provider.
func (g *Gateway) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	var missTexts []string
	missPos := make(map[string][]int) // cache key -> positions in out

	for i, t := range texts {
		key := g.cacheKey(t)
		if v, ok := g.cache.Get(key); ok {
			out[i] = v.([]float32)
			continue
		}
		if _, seen := missPos[key]; !seen {
			missTexts = append(missTexts, t)
		}
		missPos[key] = append(missPos[key], i)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	spanCtx, span := observability.StartEmbedSpan(ctx, g.provider.Name(), len(missTexts))
	vecs, err := g.embedWithRetry(spanCtx, missTexts)
	if err != nil {
		observability.RecordError(span, err)
		span.End()
		return nil, err
	}
	span.End()
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("embed: vector count mismatch: got %d, want %d", len(vecs), len(missTexts))
	}

	dims := g.provider.Dimensions()
	for i, t := range missTexts {
		if len(vecs[i]) != dims {
			return nil, fmt.Errorf("embed: provider returned %d dimensions, expected %d", len(vecs[i]), dims)
		}
		key := g.cacheKey(t)
		g.cache.Set(key, vecs[i], int64(4*len(vecs[i])))
		for _, pos := range missPos[key] {
			out[pos] = vecs[i]
		}
	}
	return out, nil
}

// EmbedOne embeds a single text.
func (g *Gateway) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := g.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// Wait blocks until pending cache writes are applied. Mostly useful in
// tests that assert on cache hits.
func (g *Gateway) Wait() {
	g.cache.Wait()
}

// Close releases the cache.
func (g *Gateway) Close() {
	g.cache.Close()
}

func (g *Gateway) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error

	for attempt := 0; attempt <= g.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(g.calculateBackoff(attempt)):
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, g.retry.Timeout)
		vecs, err := g.provider.Embed(attemptCtx, texts)
		cancel()

		if err == nil {
			return vecs, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !isRetryable(err) {
			return nil, fmt.Errorf("%w: non-retryable: %w", ErrUnavailable, err)
		}
	}

	return nil, fmt.Errorf("%w: max retries (%d) exceeded: %w", ErrUnavailable, g.retry.MaxRetries, lastErr)
}

// calculateBackoff returns the delay for the given attempt using exponential backoff.
func (g *Gateway) calculateBackoff(attempt int) time.Duration {
	delay := g.retry.RetryDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay > g.retry.MaxDelay {
			delay = g.retry.MaxDelay
			break
		}
	}
	return delay
}

// isRetryable determines if an error should trigger a retry. Client errors
// will not resolve by retrying; everything else (timeouts, 429, 5xx,
// network) is assumed transient.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	errStr := err.Error()
	if strings.Contains(errStr, "429") {
		return true
	}
	for _, code := range []string{"400", "401", "403", "404"} {
		if strings.Contains(errStr, code) {
			return false
		}
	}
	return true
}

func (g *Gateway) cacheKey(text string) string {
	h := sha256.Sum256([]byte(g.provider.Name() + "\x00" + text))
	return hex.EncodeToString(h[:])
}
