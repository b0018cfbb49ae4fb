package chunker

import (
	"context"
	"strings"
)

// defaultSeparators is ordered coarsest to finest: paragraph, line, word.
var defaultSeparators = []string{"\n\n", "\n", " "}

// RecursiveChunker splits at the coarsest separator that yields parts within
// ChunkSize, recursing to finer separators for oversized parts and falling
// back to a hard rune cut when no separator helps. Separators stay attached
// to the preceding part, so concatenating the chunks reconstructs the input.
type RecursiveChunker struct {
	spec Spec
}

// NewRecursive creates a recursive chunker.
func NewRecursive(spec Spec) (*RecursiveChunker, error) {
	spec = spec.withDefaults()
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &RecursiveChunker{spec: spec}, nil
}

func (c *RecursiveChunker) Chunk(ctx context.Context, text string) ([]Chunk, error) {
	if text == "" {
		return nil, nil
	}
	parts := splitRecursive(text, defaultSeparators, c.spec.ChunkSize)
	chunks := make([]Chunk, len(parts))
	for i, p := range parts {
		chunks[i] = Chunk{Text: p, Index: i}
	}
	return chunks, nil
}

func splitRecursive(text string, seps []string, size int) []string {
	if runeLen(text) <= size {
		return []string{text}
	}
	if len(seps) == 0 {
		return hardSplit(text, size)
	}

	parts := strings.SplitAfter(text, seps[0])
	if len(parts) == 1 {
		return splitRecursive(text, seps[1:], size)
	}

	var out []string
	var cur string
	curLen := 0
	flush := func() {
		if curLen > 0 {
			out = append(out, cur)
			cur, curLen = "", 0
		}
	}
	for _, p := range parts {
		pl := runeLen(p)
		if pl > size {
			flush()
			out = append(out, splitRecursive(p, seps[1:], size)...)
			continue
		}
		if curLen > 0 && curLen+pl > size {
			flush()
		}
		cur += p
		curLen += pl
	}
	flush()
	return out
}

// hardSplit cuts text into windows of exactly size runes.
func hardSplit(text string, size int) []string {
	var out []string
	runes := []rune(text)
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
	}
	return out
}

var _ Chunker = (*RecursiveChunker)(nil)
