// Package mock implements a deterministic embed.Provider for tests and
// offline runs. Vectors are generated from a text hash, so identical text
// always embeds to the identical unit vector.
package mock

import (
	"context"
	"hash/fnv"
	"math"
)

const defaultDimensions = 384

// Provider is a hash-based embedding provider.
type Provider struct {
	dims int
}

// New creates a mock provider. A non-positive dims falls back to 384.
func New(dims int) *Provider {
	if dims <= 0 {
		dims = defaultDimensions
	}
	return &Provider{dims: dims}
}

func (p *Provider) Name() string { return "mock" }

func (p *Provider) Dimensions() int { return p.dims }

func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = p.embedOne(t)
	}
	return out, nil
}

func (p *Provider) embedOne(text string) []float32 {
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, p.dims)
	var norm float64
	for i := range vec {
		// Linear congruential generator seeded by the text hash.
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int64(seed)) / float32(math.MaxInt64)
		norm += float64(vec[i]) * float64(vec[i])
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec
}
