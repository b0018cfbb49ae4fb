package chunker

import (
	"context"
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// Tokenizer converts text to token ids and back. Decode(Encode(s)) must
// reconstruct s for the reconstruction property to hold.
type Tokenizer interface {
	Encode(text string) []int
	Decode(tokens []int) string
}

// NewTiktokenTokenizer returns a Tokenizer backed by the named tiktoken
// encoding (e.g. "cl100k_base").
func NewTiktokenTokenizer(encoding string) (Tokenizer, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("%w: tokenizer %q: %v", ErrInvalidSpec, encoding, err)
	}
	return &tiktokenTokenizer{enc: enc}, nil
}

type tiktokenTokenizer struct {
	enc *tiktoken.Tiktoken
}

func (t *tiktokenTokenizer) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

func (t *tiktokenTokenizer) Decode(tokens []int) string {
	return t.enc.Decode(tokens)
}

// TokenChunker slides a fixed-size token window of ChunkSize tokens,
// advancing by ChunkSize-ChunkOverlap each step. The last window may be
// shorter than ChunkSize.
type TokenChunker struct {
	spec Spec
	tok  Tokenizer
}

// NewToken creates a token-window chunker with an explicit tokenizer.
func NewToken(spec Spec, tok Tokenizer) (*TokenChunker, error) {
	spec = spec.withDefaults()
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if tok == nil {
		return nil, fmt.Errorf("%w: token strategy requires a tokenizer", ErrInvalidSpec)
	}
	return &TokenChunker{spec: spec, tok: tok}, nil
}

func (c *TokenChunker) Chunk(ctx context.Context, text string) ([]Chunk, error) {
	if text == "" {
		return nil, nil
	}

	toks := c.tok.Encode(text)
	if len(toks) == 0 {
		return nil, nil
	}

	step := c.spec.ChunkSize - c.spec.ChunkOverlap
	var chunks []Chunk
	for start := 0; start < len(toks); start += step {
		end := start + c.spec.ChunkSize
		if end > len(toks) {
			end = len(toks)
		}
		chunks = append(chunks, Chunk{
			Text:  c.tok.Decode(toks[start:end]),
			Index: len(chunks),
		})
		if end == len(toks) {
			break
		}
	}
	return chunks, nil
}

var _ Chunker = (*TokenChunker)(nil)
