package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alphapipe/alphapipe/pkg/engine"
)

func TestWatcher_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yaml")
	if err := os.WriteFile(path, []byte(validDocument), 0o644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Document, 4)
	w := NewWatcher(NewParser(), nil)
	err := w.Watch(ctx, path, func(_ *engine.Pipeline, doc *Document) error {
		reloaded <- doc
		return nil
	})
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	updated := `
pipeline:
  name: updated
  outputs:
    px:
      fn: latest
      input: close
`
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("Failed to rewrite file: %v", err)
	}

	select {
	case doc := <-reloaded:
		if doc.Pipeline.Name != "updated" {
			t.Errorf("Expected updated document, got %q", doc.Pipeline.Name)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for reload")
	}
}

func TestWatcher_InvalidChangeDoesNotReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yaml")
	if err := os.WriteFile(path, []byte(validDocument), 0o644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Document, 4)
	w := NewWatcher(NewParser(), nil)
	err := w.Watch(ctx, path, func(_ *engine.Pipeline, doc *Document) error {
		reloaded <- doc
		return nil
	})
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	if err := os.WriteFile(path, []byte("pipeline:\n  name: broken\n"), 0o644); err != nil {
		t.Fatalf("Failed to rewrite file: %v", err)
	}

	select {
	case doc := <-reloaded:
		t.Errorf("Expected no reload for an invalid document, got %q", doc.Pipeline.Name)
	case <-time.After(1500 * time.Millisecond):
	}
}

func TestWatcher_MissingFile(t *testing.T) {
	w := NewWatcher(NewParser(), nil)
	err := w.Watch(context.Background(), filepath.Join(t.TempDir(), "absent.yaml"),
		func(_ *engine.Pipeline, _ *Document) error { return nil })
	if err == nil {
		t.Fatal("Expected an error for a missing file")
	}
}
