package persistence

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestFileWriter_Save(t *testing.T) {
	dir := t.TempDir()
	w := NewFileWriter(dir, "run-1")

	if err := w.Save(context.Background(), "requirements", "# Requirements"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	path := filepath.Join(dir, "run-1", "requirements.md")
	if w.Path("requirements") != path {
		t.Errorf("Path = %s, want %s", w.Path("requirements"), path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "# Requirements\n" {
		t.Errorf("content = %q, want trailing newline added", data)
	}

	entries, err := os.ReadDir(filepath.Join(dir, "run-1"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("found %d entries, want only the document (no temp files)", len(entries))
	}
}

func TestFileWriter_Overwrites(t *testing.T) {
	w := NewFileWriter(t.TempDir(), "run-1")
	ctx := context.Background()

	if err := w.Save(ctx, "a", "first\n"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := w.Save(ctx, "a", "second\n"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, _ := os.ReadFile(w.Path("a"))
	if string(data) != "second\n" {
		t.Errorf("content = %q, want second", data)
	}
}

func TestFileWriter_RejectsPathIDs(t *testing.T) {
	w := NewFileWriter(t.TempDir(), "run-1")
	for _, id := range []string{"", "..", "../escape", `a\b`, "nested/doc"} {
		if err := w.Save(context.Background(), id, "x"); err == nil {
			t.Errorf("Save(%q) succeeded, want an error", id)
		}
	}
}

func TestFileWriter_ConcurrentSameDocument(t *testing.T) {
	w := NewFileWriter(t.TempDir(), "run-1")
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body := strings.Repeat(fmt.Sprintf("%02d", i), 2048)
			if err := w.Save(ctx, "shared", body); err != nil {
				t.Errorf("Save %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	data, err := os.ReadFile(w.Path("shared"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	content := strings.TrimSuffix(string(data), "\n")
	if len(content) != 4096 || strings.Count(content, content[:2]) != 2048 {
		t.Errorf("file holds an interleaved write (%d bytes)", len(content))
	}
	if w.locks.size() != 0 {
		t.Errorf("%d path locks left behind", w.locks.size())
	}
}

func TestFileWriter_CancelledContext(t *testing.T) {
	w := NewFileWriter(t.TempDir(), "run-1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := w.Save(ctx, "a", "x"); err == nil {
		t.Fatal("expected an error for a cancelled context")
	}
}
