package knowledge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnsupportedFormat is returned when a source file exists but its format
// cannot be decoded into plain text.
var ErrUnsupportedFormat = errors.New("knowledge: unsupported source format")

// Normalized is the canonical form every source reduces to before chunking.
type Normalized struct {
	Text        string
	ContentType string
	SourceID    string
}

// Normalizer turns an opaque source reference (file path, URL, raw text)
// into normalized plain text.
type Normalizer interface {
	Normalize(ctx context.Context, source string) (Normalized, error)
}

// textExtensions are file formats readable as plain text without decoding.
var textExtensions = map[string]string{
	".txt":      "text/plain",
	".md":       "text/markdown",
	".markdown": "text/markdown",
	".log":      "text/plain",
	".csv":      "text/csv",
	".json":     "application/json",
	".yaml":     "application/yaml",
	".yml":      "application/yaml",
}

// PlainNormalizer handles plain-text files and literal strings. Sources
// that resolve to an existing file are read from disk; anything else is
// treated as literal text. Binary document formats (pdf, docx, and so on)
// are rejected with ErrUnsupportedFormat rather than silently indexing
// undecoded bytes.
type PlainNormalizer struct{}

var _ Normalizer = PlainNormalizer{}

func (PlainNormalizer) Normalize(ctx context.Context, source string) (Normalized, error) {
	if err := ctx.Err(); err != nil {
		return Normalized{}, err
	}

	if fi, err := os.Stat(source); err == nil && !fi.IsDir() {
		ext := strings.ToLower(filepath.Ext(source))
		contentType, ok := textExtensions[ext]
		if !ok {
			return Normalized{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
		}
		data, err := os.ReadFile(source)
		if err != nil {
			return Normalized{}, fmt.Errorf("read source %s: %w", source, err)
		}
		return Normalized{
			Text:        string(data),
			ContentType: contentType,
			SourceID:    source,
		}, nil
	}

	return Normalized{
		Text:        source,
		ContentType: "text/plain",
		SourceID:    textSourceID(source),
	}, nil
}

// textSourceID derives a stable source identifier for literal text, so
// re-ingesting the same string groups under one source.
func textSourceID(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "text:" + hex.EncodeToString(sum[:8])
}
