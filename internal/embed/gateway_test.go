package embed

import (
	"context"
	"errors"
	"testing"
	"time"
)

// countingProvider records how many provider calls and texts it served.
type countingProvider struct {
	dims  int
	calls int
	texts int
	err   error
}

func (p *countingProvider) Name() string    { return "counting" }
func (p *countingProvider) Dimensions() int { return p.dims }

func (p *countingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	p.calls++
	p.texts += len(texts)
	if p.err != nil {
		return nil, p.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		vec := make([]float32, p.dims)
		vec[0] = 1
		out[i] = vec
	}
	return out, nil
}

func fastRetry() *RetryConfig {
	return &RetryConfig{
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
		Timeout:    time.Second,
	}
}

func TestGatewayCachesByContent(t *testing.T) {
	p := &countingProvider{dims: 4}
	g, err := NewGateway(p, &Config{Retry: fastRetry()})
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	defer g.Close()

	ctx := context.Background()
	if _, err := g.Embed(ctx, []string{"alpha", "beta"}); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	g.Wait()

	if _, err := g.Embed(ctx, []string{"alpha", "beta"}); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if p.calls != 1 {
		t.Errorf("expected 1 provider call after cache warm-up, got %d", p.calls)
	}
}

func TestGatewayDeduplicatesBatch(t *testing.T) {
	p := &countingProvider{dims: 4}
	g, err := NewGateway(p, &Config{Retry: fastRetry()})
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	defer g.Close()

	vecs, err := g.Embed(context.Background(), []string{"same", "same", "same"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("expected 3 vectors, got %d", len(vecs))
	}
	if p.texts != 1 {
		t.Errorf("expected 1 text sent to provider, got %d", p.texts)
	}
	for i, v := range vecs {
		if len(v) != 4 {
			t.Errorf("vector %d has %d dimensions", i, len(v))
		}
	}
}

func TestGatewayRetryExhaustion(t *testing.T) {
	p := &countingProvider{dims: 4, err: errors.New("connection refused")}
	g, err := NewGateway(p, &Config{Retry: fastRetry()})
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	defer g.Close()

	_, err = g.Embed(context.Background(), []string{"alpha"})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if p.calls != 3 {
		t.Errorf("expected 3 attempts (1 + 2 retries), got %d", p.calls)
	}
}

func TestGatewayNonRetryableClientError(t *testing.T) {
	p := &countingProvider{dims: 4, err: errors.New("status 401: invalid api key")}
	g, err := NewGateway(p, &Config{Retry: fastRetry()})
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	defer g.Close()

	_, err = g.Embed(context.Background(), []string{"alpha"})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if p.calls != 1 {
		t.Errorf("client errors must not be retried, got %d attempts", p.calls)
	}
}

func TestGatewayContextCanceled(t *testing.T) {
	p := &countingProvider{dims: 4}
	g, err := NewGateway(p, &Config{Retry: fastRetry()})
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	defer g.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = g.Embed(ctx, []string{"alpha"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestGatewayDimensionValidation(t *testing.T) {
	// Provider claims 8 dimensions but returns 4.
	p := &countingProvider{dims: 4}
	wrapped := &dimLiar{inner: p, claimed: 8}
	g, err := NewGateway(wrapped, &Config{Retry: fastRetry()})
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	defer g.Close()

	if _, err := g.Embed(context.Background(), []string{"alpha"}); err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

type dimLiar struct {
	inner   Provider
	claimed int
}

func (d *dimLiar) Name() string    { return d.inner.Name() }
func (d *dimLiar) Dimensions() int { return d.claimed }
func (d *dimLiar) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return d.inner.Embed(ctx, texts)
}

func TestGatewayEmptyInput(t *testing.T) {
	p := &countingProvider{dims: 4}
	g, err := NewGateway(p, nil)
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	defer g.Close()

	vecs, err := g.Embed(context.Background(), nil)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if vecs != nil {
		t.Errorf("expected nil for empty input, got %v", vecs)
	}
	if p.calls != 0 {
		t.Errorf("provider should not be called for empty input")
	}
}
