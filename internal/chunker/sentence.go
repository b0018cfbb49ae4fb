package chunker

import (
	"context"
	"strings"
)

// SentenceChunker accumulates whole sentences until adding the next one
// would exceed ChunkSize runes. A sentence is never split; a single
// sentence longer than ChunkSize is emitted as its own oversized chunk.
// ChunkOverlap is the number of trailing sentences re-included at the
// start of the next chunk.
type SentenceChunker struct {
	spec Spec
}

// NewSentence creates a sentence chunker.
func NewSentence(spec Spec) (*SentenceChunker, error) {
	spec = spec.withDefaults()
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &SentenceChunker{spec: spec}, nil
}

func (c *SentenceChunker) Chunk(ctx context.Context, text string) ([]Chunk, error) {
	if text == "" {
		return nil, nil
	}
	sents := splitSentences(text)
	if len(sents) == 0 {
		return nil, nil
	}

	var chunks []Chunk
	var cur []string
	curLen := 0

	emit := func() {
		if len(cur) == 0 {
			return
		}
		chunks = append(chunks, Chunk{Text: strings.Join(cur, ""), Index: len(chunks)})
	}

	for _, sent := range sents {
		sl := runeLen(sent)
		if curLen > 0 && curLen+sl > c.spec.ChunkSize {
			emit()
			cur, curLen = c.overlapTail(cur, sl)
		}
		cur = append(cur, sent)
		curLen += sl
	}
	emit()
	return chunks, nil
}

// overlapTail returns the trailing overlap sentences of the previous chunk,
// dropping leading ones while they would not leave room for the next
// sentence. This guarantees forward progress.
func (c *SentenceChunker) overlapTail(prev []string, nextLen int) ([]string, int) {
	if c.spec.ChunkOverlap <= 0 {
		return nil, 0
	}
	n := c.spec.ChunkOverlap
	if n > len(prev) {
		n = len(prev)
	}
	tail := prev[len(prev)-n:]
	tailLen := 0
	for _, s := range tail {
		tailLen += runeLen(s)
	}
	for len(tail) > 0 && tailLen+nextLen > c.spec.ChunkSize {
		tailLen -= runeLen(tail[0])
		tail = tail[1:]
	}
	out := make([]string, len(tail))
	copy(out, tail)
	return out, tailLen
}

var _ Chunker = (*SentenceChunker)(nil)
