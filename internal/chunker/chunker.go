// Package chunker splits normalized text into bounded retrieval units.
//
// Six strategies are available behind one interface, selected by Spec at
// construction time. All strategies are deterministic: the same input and
// spec always yield the same chunk sequence.
package chunker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"unicode/utf8"
)

// Strategy selects the splitting algorithm.
type Strategy string

const (
	// StrategyToken slides a fixed-size token window with overlap.
	StrategyToken Strategy = "token"
	// StrategySentence accumulates whole sentences up to the size limit.
	StrategySentence Strategy = "sentence"
	// StrategyRecursive splits at the coarsest separator that fits (default).
	StrategyRecursive Strategy = "recursive"
	// StrategySemantic merges adjacent sentences while similar.
	StrategySemantic Strategy = "semantic"
	// StrategySDPM is semantic chunking with a second merge pass.
	StrategySDPM Strategy = "sdpm"
	// StrategyLate takes recursive boundaries but assigns vectors from
	// whole-document context.
	StrategyLate Strategy = "late"
)

// ErrInvalidSpec is returned for configuration errors such as
// ChunkOverlap >= ChunkSize or an unknown strategy.
var ErrInvalidSpec = errors.New("chunker: invalid spec")

// Default spec values. The size unit is tokens for the token strategy and
// runes for everything else.
const (
	DefaultChunkSize           = 512
	DefaultChunkOverlap        = 50
	DefaultTokenizer           = "cl100k_base"
	DefaultSimilarityThreshold = 0.7
)

// Spec configures a chunker. Immutable once a Chunker is constructed.
type Spec struct {
	Strategy  Strategy
	ChunkSize int
	// ChunkOverlap of zero disables overlap; a negative value requests
	// the default.
	ChunkOverlap int
	// Tokenizer is the tiktoken encoding name used by the token strategy.
	Tokenizer string
	// SimilarityThreshold is the boundary similarity for the semantic,
	// sdpm and late strategies, in [0, 1].
	SimilarityThreshold float64
}

func (s Spec) withDefaults() Spec {
	if s.Strategy == "" {
		s.Strategy = StrategyRecursive
	}
	if s.ChunkSize == 0 {
		s.ChunkSize = DefaultChunkSize
	}
	if s.ChunkOverlap < 0 {
		s.ChunkOverlap = 0
		if s.ChunkSize > DefaultChunkOverlap {
			s.ChunkOverlap = DefaultChunkOverlap
		}
	}
	if s.Tokenizer == "" {
		s.Tokenizer = DefaultTokenizer
	}
	if s.SimilarityThreshold == 0 {
		s.SimilarityThreshold = DefaultSimilarityThreshold
	}
	return s
}

// Validate checks the spec for configuration errors.
func (s Spec) Validate() error {
	if s.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidSpec, s.ChunkSize)
	}
	if s.ChunkOverlap < 0 {
		return fmt.Errorf("%w: chunk overlap must not be negative, got %d", ErrInvalidSpec, s.ChunkOverlap)
	}
	if s.ChunkOverlap >= s.ChunkSize {
		return fmt.Errorf("%w: chunk overlap %d must be smaller than chunk size %d",
			ErrInvalidSpec, s.ChunkOverlap, s.ChunkSize)
	}
	if s.SimilarityThreshold < 0 || s.SimilarityThreshold > 1 {
		return fmt.Errorf("%w: similarity threshold %.2f outside [0, 1]", ErrInvalidSpec, s.SimilarityThreshold)
	}
	switch s.Strategy {
	case StrategyToken, StrategySentence, StrategyRecursive, StrategySemantic, StrategySDPM, StrategyLate:
	default:
		return fmt.Errorf("%w: unknown strategy %q", ErrInvalidSpec, s.Strategy)
	}
	return nil
}

// Chunk is one bounded span of source text. Vector is set only by
// strategies that compute embeddings while chunking (semantic, sdpm, late);
// the ingestion pipeline embeds the rest.
type Chunk struct {
	Text   string
	Index  int
	Vector []float32
}

// Embedder supplies sentence embeddings to the semantic strategies.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Chunker produces an ordered chunk sequence from normalized text.
// Empty input yields an empty sequence.
type Chunker interface {
	Chunk(ctx context.Context, text string) ([]Chunk, error)
}

// New builds the chunker selected by the spec. The embedder is required for
// the semantic, sdpm and late strategies and ignored otherwise.
func New(spec Spec, emb Embedder) (Chunker, error) {
	spec = spec.withDefaults()
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	switch spec.Strategy {
	case StrategyToken:
		tok, err := NewTiktokenTokenizer(spec.Tokenizer)
		if err != nil {
			return nil, err
		}
		return NewToken(spec, tok)
	case StrategySentence:
		return NewSentence(spec)
	case StrategyRecursive:
		return NewRecursive(spec)
	case StrategySemantic:
		return NewSemantic(spec, emb)
	case StrategySDPM:
		return NewSDPM(spec, emb)
	case StrategyLate:
		return NewLate(spec, emb)
	default:
		return nil, fmt.Errorf("%w: unknown strategy %q", ErrInvalidSpec, spec.Strategy)
	}
}

// splitSentences splits text into sentence spans. Each span keeps its
// trailing punctuation and whitespace, so concatenating the spans
// reconstructs the input exactly.
func splitSentences(text string) []string {
	var out []string
	start := 0
	i := 0
	for i < len(text) {
		switch text[i] {
		case '.', '!', '?':
			j := i + 1
			for j < len(text) && (text[j] == '.' || text[j] == '!' || text[j] == '?' || text[j] == '"' || text[j] == '\'' || text[j] == ')') {
				j++
			}
			if j >= len(text) {
				out = append(out, text[start:])
				return out
			}
			if text[j] != ' ' && text[j] != '\t' && text[j] != '\n' {
				// Not a sentence boundary (e.g. "3.14", "v1.2").
				i = j
				continue
			}
			for j < len(text) && (text[j] == ' ' || text[j] == '\t') {
				j++
			}
			for j < len(text) && text[j] == '\n' {
				j++
			}
			out = append(out, text[start:j])
			start, i = j, j
		case '\n':
			j := i + 1
			for j < len(text) && text[j] == '\n' {
				j++
			}
			out = append(out, text[start:j])
			start, i = j, j
		default:
			i++
		}
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// meanVector returns the normalized mean of the given vectors.
func meanVector(vecs [][]float32) []float32 {
	if len(vecs) == 0 {
		return nil
	}
	out := make([]float32, len(vecs[0]))
	for _, v := range vecs {
		for i := range v {
			out[i] += v[i]
		}
	}
	var norm float64
	for i := range out {
		out[i] /= float32(len(vecs))
		norm += float64(out[i]) * float64(out[i])
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range out {
			out[i] *= scale
		}
	}
	return out
}
