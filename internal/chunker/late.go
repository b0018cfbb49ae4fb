package chunker

import (
	"context"
	"fmt"
)

// LateChunker implements late chunking as a two-phase pipeline: boundaries
// come from the recursive strategy, sized for the embedding model's context,
// but vectors are assigned afterwards from sentence embeddings computed over
// the whole document and mean-pooled per chunk. Each chunk's vector thus
// carries surrounding-document context instead of being embedded in
// isolation.
type LateChunker struct {
	spec Spec
	emb  Embedder
}

// NewLate creates a late chunker.
func NewLate(spec Spec, emb Embedder) (*LateChunker, error) {
	spec = spec.withDefaults()
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if emb == nil {
		return nil, fmt.Errorf("%w: late strategy requires an embedder", ErrInvalidSpec)
	}
	return &LateChunker{spec: spec, emb: emb}, nil
}

func (c *LateChunker) Chunk(ctx context.Context, text string) ([]Chunk, error) {
	if text == "" {
		return nil, nil
	}

	// Phase 1: boundaries.
	pieces := splitRecursive(text, defaultSeparators, c.spec.ChunkSize)

	// Phase 2: document-context vectors.
	sents := splitSentences(text)
	if len(sents) == 0 {
		return nil, nil
	}
	vecs, err := c.emb.Embed(ctx, sents)
	if err != nil {
		return nil, fmt.Errorf("embed document: %w", err)
	}
	if len(vecs) != len(sents) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(vecs), len(sents))
	}

	// Both splits reconstruct the input by concatenation, so byte offsets
	// are cumulative and chunks can be aligned to overlapping sentences.
	sentEnds := make([]int, len(sents))
	off := 0
	for i, s := range sents {
		off += len(s)
		sentEnds[i] = off
	}

	chunks := make([]Chunk, len(pieces))
	pieceStart := 0
	si := 0
	for i, p := range pieces {
		pieceEnd := pieceStart + len(p)
		var pooled [][]float32
		for si < len(sents) {
			sentStart := sentEnds[si] - len(sents[si])
			if sentStart >= pieceEnd {
				break
			}
			pooled = append(pooled, vecs[si])
			if sentEnds[si] > pieceEnd {
				// Sentence straddles the boundary; it also belongs
				// to the next chunk.
				break
			}
			si++
		}
		chunks[i] = Chunk{Text: p, Index: i, Vector: meanVector(pooled)}
		pieceStart = pieceEnd
	}
	return chunks, nil
}

var _ Chunker = (*LateChunker)(nil)
