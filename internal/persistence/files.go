package persistence

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileWriter writes accepted documents to <dir>/<runID>/<taskID>.md.
type FileWriter struct {
	dir   string
	runID string
	locks *pathLocks
}

// NewFileWriter creates a writer rooted at dir for one run.
func NewFileWriter(dir, runID string) *FileWriter {
	return &FileWriter{dir: dir, runID: runID, locks: newPathLocks()}
}

// Path returns the file a task's document is written to.
func (w *FileWriter) Path(taskID string) string {
	return filepath.Join(w.dir, w.runID, taskID+".md")
}

// Save writes content atomically through a temporary file in the same
// directory.
func (w *FileWriter) Save(ctx context.Context, taskID, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if taskID == "" || strings.ContainsAny(taskID, `/\`) || taskID == "." || taskID == ".." {
		return fmt.Errorf("invalid document id %q", taskID)
	}

	path := w.Path(taskID)
	unlock := w.locks.lock(path)
	defer unlock()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+taskID+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	body := content
	if !strings.HasSuffix(body, "\n") {
		body += "\n"
	}
	if _, err := tmp.WriteString(body); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return fmt.Errorf("failed to set permissions on %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", path, err)
	}
	return nil
}
