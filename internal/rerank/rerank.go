// Package rerank reorders similarity-ranked candidates with a more
// expensive query-aware cross-scoring model. Reranking is best-effort: on
// scorer failure the caller gets the original similarity order back, never
// an error.
package rerank

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/efebarandurmaz/lodestone/internal/observability"
	"github.com/efebarandurmaz/lodestone/internal/vector"
)

// ErrUnavailable marks scorer failures after the retry budget. It is
// recovered inside the gateway and logged, never surfaced to callers.
var ErrUnavailable = errors.New("rerank: scorer unavailable")

// Scorer is the cross-scoring model interface: one relevance score per
// candidate text, higher is more relevant.
type Scorer interface {
	Score(ctx context.Context, query string, texts []string) ([]float64, error)
	Name() string
}

// RetryConfig bounds retries for scoring calls. Reranking degrades instead
// of failing, so the budget is small by default.
type RetryConfig struct {
	MaxRetries int
	RetryDelay time.Duration
	Timeout    time.Duration
}

// DefaultRetryConfig returns a sensible default configuration.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries: 1,
		RetryDelay: 250 * time.Millisecond,
		Timeout:    15 * time.Second,
	}
}

// Gateway wraps a Scorer with retries and graceful degradation.
type Gateway struct {
	scorer Scorer
	retry  RetryConfig
	logger *slog.Logger
}

// NewGateway creates a rerank gateway.
func NewGateway(scorer Scorer, retry *RetryConfig, logger *slog.Logger) (*Gateway, error) {
	if scorer == nil {
		return nil, errors.New("rerank: scorer is required")
	}
	if retry == nil {
		retry = DefaultRetryConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{scorer: scorer, retry: *retry, logger: logger}, nil
}

// Rerank reorders candidates by cross-score, descending. The result has the
// same cardinality as the input; no candidate is added or dropped. Ties and
// failures preserve the incoming similarity order.
func (g *Gateway) Rerank(ctx context.Context, query string, cands []vector.Candidate) []vector.Candidate {
	if len(cands) < 2 {
		return cands
	}

	ctx, span := observability.StartRerankSpan(ctx, g.scorer.Name(), len(cands))
	defer span.End()

	texts := make([]string, len(cands))
	for i, c := range cands {
		texts[i] = c.Text
	}

	scores, err := g.scoreWithRetry(ctx, query, texts)
	if err != nil {
		observability.RecordError(span, err)
		g.logger.Warn("rerank degraded to similarity order",
			"scorer", g.scorer.Name(), "error", err)
		return cands
	}

	out := make([]vector.Candidate, len(cands))
	copy(out, cands)
	for i := range out {
		out[i].Score = float32(scores[i])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}

func (g *Gateway) scoreWithRetry(ctx context.Context, query string, texts []string) ([]float64, error) {
	var lastErr error

	for attempt := 0; attempt <= g.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(g.retry.RetryDelay):
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, g.retry.Timeout)
		scores, err := g.scorer.Score(attemptCtx, query, texts)
		cancel()

		if err == nil {
			if len(scores) != len(texts) {
				return nil, fmt.Errorf("%w: score count mismatch: got %d, want %d",
					ErrUnavailable, len(scores), len(texts))
			}
			return scores, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("%w: max retries (%d) exceeded: %w", ErrUnavailable, g.retry.MaxRetries, lastErr)
}
