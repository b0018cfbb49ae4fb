package knowledge

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/efebarandurmaz/lodestone/internal/vector"
)

func TestNormalizeTextFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	content := "Some plain notes.\nSecond line."
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	norm, err := PlainNormalizer{}.Normalize(context.Background(), path)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if norm.Text != content {
		t.Errorf("text mismatch: %q", norm.Text)
	}
	if norm.SourceID != path {
		t.Errorf("file sources keep their path as id, got %q", norm.SourceID)
	}
	if norm.ContentType != "text/plain" {
		t.Errorf("content type: %q", norm.ContentType)
	}
}

func TestNormalizeMarkdownFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "readme.md")
	if err := os.WriteFile(path, []byte("# Title\n\nBody."), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	norm, err := PlainNormalizer{}.Normalize(context.Background(), path)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if norm.ContentType != "text/markdown" {
		t.Errorf("content type: %q", norm.ContentType)
	}
}

func TestNormalizeUnsupportedFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scan.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	_, err := PlainNormalizer{}.Normalize(context.Background(), path)
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestNormalizeLiteralText(t *testing.T) {
	norm, err := PlainNormalizer{}.Normalize(context.Background(), "just a sentence to remember")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if norm.Text != "just a sentence to remember" {
		t.Errorf("text mismatch: %q", norm.Text)
	}
	if !strings.HasPrefix(norm.SourceID, "text:") {
		t.Errorf("literal text should get a derived source id, got %q", norm.SourceID)
	}

	// The same literal text always maps to the same source id.
	again, err := PlainNormalizer{}.Normalize(context.Background(), "just a sentence to remember")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if norm.SourceID != again.SourceID {
		t.Errorf("source id not stable: %q vs %q", norm.SourceID, again.SourceID)
	}
}

func TestAddFileSource(t *testing.T) {
	k := newTestEngine(t, defaultSpec())
	ctx := context.Background()

	dir := t.TempDir()
	path := filepath.Join(dir, "facts.txt")
	if err := os.WriteFile(path, []byte("The speed of light is constant."), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	ids, err := k.Add(ctx, path, vector.Scope{}, nil)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(ids))
	}
	rec, err := k.Get(ctx, ids[0])
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Source != path {
		t.Errorf("source should be the file path, got %q", rec.Source)
	}
}

func TestAddUnsupportedFile(t *testing.T) {
	k := newTestEngine(t, defaultSpec())

	dir := t.TempDir()
	path := filepath.Join(dir, "img.png")
	if err := os.WriteFile(path, []byte{0x89, 0x50, 0x4e, 0x47}, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	_, err := k.Add(context.Background(), path, vector.Scope{}, nil)
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}
