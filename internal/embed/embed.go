// Package embed turns chunk and query text into fixed-dimension vectors.
//
// The Gateway wraps a model Provider with a content-hash cache and a
// bounded retry budget; it is the only component that talks to the
// embedding endpoint.
package embed

import "context"

// Provider is the interface all embedding model backends must implement.
type Provider interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions returns the fixed embedding vector size.
	Dimensions() int
	// Name returns the provider identifier (e.g. "openai/text-embedding-3-small").
	Name() string
}
