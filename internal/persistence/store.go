// Package persistence stores runs and their documents in SQLite and writes
// accepted documents to disk.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aristath/docflow/internal/scheduler"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a run or document does not exist.
var ErrNotFound = errors.New("not found")

// Store defines the persistence interface for runs, documents and their
// quality assessments.
type Store interface {
	// Run lifecycle
	CreateRun(ctx context.Context, run Run) error
	FinishRun(ctx context.Context, runID string, state scheduler.RunState, runErr error) error
	GetRun(ctx context.Context, runID string) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]Run, error)

	// Documents
	SaveDocument(ctx context.Context, runID, phase string, result scheduler.TaskResult) error
	GetDocument(ctx context.Context, runID, taskID string) (*Document, error)
	ListDocuments(ctx context.Context, runID string) ([]Document, error)

	// Lifecycle
	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath. Parent
// directories are created as needed.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	// _pragma applies to every pooled connection, unlike a one-off PRAGMA statement.
	connStr := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", dbPath)
	// Two connections: concurrent task completions write while the CLI reads.
	return open(ctx, connStr, 2)
}

// NewMemoryStore creates a private in-memory store for tests. Each call gets
// its own named database.
func NewMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	connStr := fmt.Sprintf("file:docflow-%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())
	// Shared-cache table locks are not covered by busy_timeout; one connection avoids them.
	return open(ctx, connStr, 1)
}

func open(ctx context.Context, connStr string, maxConns int) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(maxConns)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
