package chunker

import (
	"context"
	"fmt"
	"strings"
)

// SemanticChunker embeds individual sentences and merges adjacent ones into
// a chunk while their pairwise similarity stays above the threshold and the
// running size stays within ChunkSize. A similarity drop or the size limit
// starts a new chunk.
//
// With doublePass set (SDPM), a second pass merges any two adjacent chunks
// whose combined size fits and whose boundary similarity exceeds the
// threshold, reducing over-fragmentation from the single-pass method.
type SemanticChunker struct {
	spec       Spec
	emb        Embedder
	doublePass bool
}

// NewSemantic creates a single-pass semantic chunker.
func NewSemantic(spec Spec, emb Embedder) (*SemanticChunker, error) {
	return newSemantic(spec, emb, false)
}

// NewSDPM creates a semantic double-pass merge chunker.
func NewSDPM(spec Spec, emb Embedder) (*SemanticChunker, error) {
	return newSemantic(spec, emb, true)
}

func newSemantic(spec Spec, emb Embedder, doublePass bool) (*SemanticChunker, error) {
	spec = spec.withDefaults()
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if emb == nil {
		return nil, fmt.Errorf("%w: semantic strategy requires an embedder", ErrInvalidSpec)
	}
	return &SemanticChunker{spec: spec, emb: emb, doublePass: doublePass}, nil
}

type group struct {
	texts  []string
	vecs   [][]float32
	length int
}

func (g *group) text() string { return strings.Join(g.texts, "") }

func (c *SemanticChunker) Chunk(ctx context.Context, text string) ([]Chunk, error) {
	if text == "" {
		return nil, nil
	}
	sents := splitSentences(text)
	if len(sents) == 0 {
		return nil, nil
	}

	vecs, err := c.emb.Embed(ctx, sents)
	if err != nil {
		return nil, fmt.Errorf("embed sentences: %w", err)
	}
	if len(vecs) != len(sents) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(vecs), len(sents))
	}

	groups := c.firstPass(sents, vecs)
	if c.doublePass {
		groups = c.mergePass(groups)
	}

	chunks := make([]Chunk, len(groups))
	for i, g := range groups {
		chunks[i] = Chunk{Text: g.text(), Index: i, Vector: meanVector(g.vecs)}
	}
	return chunks, nil
}

func (c *SemanticChunker) firstPass(sents []string, vecs [][]float32) []*group {
	cur := &group{texts: []string{sents[0]}, vecs: [][]float32{vecs[0]}, length: runeLen(sents[0])}
	groups := []*group{cur}

	for i := 1; i < len(sents); i++ {
		sl := runeLen(sents[i])
		sim := cosine(vecs[i-1], vecs[i])
		if sim >= c.spec.SimilarityThreshold && cur.length+sl <= c.spec.ChunkSize {
			cur.texts = append(cur.texts, sents[i])
			cur.vecs = append(cur.vecs, vecs[i])
			cur.length += sl
			continue
		}
		cur = &group{texts: []string{sents[i]}, vecs: [][]float32{vecs[i]}, length: sl}
		groups = append(groups, cur)
	}
	return groups
}

// mergePass walks the first-pass groups left to right, merging a group into
// its predecessor when the combined size fits and the boundary similarity
// (between the pooled group vectors) exceeds the threshold.
func (c *SemanticChunker) mergePass(groups []*group) []*group {
	if len(groups) < 2 {
		return groups
	}
	out := []*group{groups[0]}
	for _, g := range groups[1:] {
		prev := out[len(out)-1]
		if prev.length+g.length <= c.spec.ChunkSize &&
			cosine(meanVector(prev.vecs), meanVector(g.vecs)) >= c.spec.SimilarityThreshold {
			prev.texts = append(prev.texts, g.texts...)
			prev.vecs = append(prev.vecs, g.vecs...)
			prev.length += g.length
			continue
		}
		out = append(out, g)
	}
	return out
}

var _ Chunker = (*SemanticChunker)(nil)
