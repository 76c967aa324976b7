package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/docflow/internal/scheduler"
)

// Document is a stored task result together with its scoring history.
type Document struct {
	RunID       string
	TaskID      string
	Phase       string
	Status      scheduler.TaskStatus
	Content     string
	Error       string
	Attempts    int
	Assessments []scheduler.Assessment
	StartedAt   time.Time
	FinishedAt  time.Time
}

// SaveDocument upserts the result of a task and replaces its assessments.
func (s *SQLiteStore) SaveDocument(ctx context.Context, runID, phase string, result scheduler.TaskResult) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	errStr := ""
	if result.Err != nil {
		errStr = result.Err.Error()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (run_id, task_id, phase, status, content, error, attempts, started_at, finished_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(run_id, task_id) DO UPDATE SET
			phase = excluded.phase,
			status = excluded.status,
			content = excluded.content,
			error = excluded.error,
			attempts = excluded.attempts,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at,
			updated_at = CURRENT_TIMESTAMP
	`, runID, result.TaskID, phase, int(result.Status), result.Content, errStr, result.Attempts,
		nullTime(result.StartedAt), nullTime(result.FinishedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert document %s: %w", result.TaskID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM assessments WHERE run_id = ? AND task_id = ?`, runID, result.TaskID); err != nil {
		return fmt.Errorf("failed to delete old assessments: %w", err)
	}

	for _, a := range result.Assessments {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO assessments (run_id, task_id, attempt, score, threshold, passed, summary, issues)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, runID, result.TaskID, a.Attempt, a.Score, a.Threshold, a.Passed, a.Feedback.Summary, strings.Join(a.Feedback.Issues, "\n"))
		if err != nil {
			return fmt.Errorf("failed to insert assessment %d of %s: %w", a.Attempt, result.TaskID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetDocument retrieves a document and its assessments.
func (s *SQLiteStore) GetDocument(ctx context.Context, runID, taskID string) (*Document, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	row := s.db.QueryRowContext(ctx, documentColumns+` WHERE run_id = ? AND task_id = ?`, runID, taskID)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s/%s: %w", runID, taskID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query document: %w", err)
	}

	byTask, err := s.assessments(ctx, runID)
	if err != nil {
		return nil, err
	}
	doc.Assessments = byTask[taskID]
	return doc, nil
}

// ListDocuments returns every document of a run ordered by completion.
func (s *SQLiteStore) ListDocuments(ctx context.Context, runID string) ([]Document, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, documentColumns+` WHERE run_id = ? ORDER BY finished_at ASC, task_id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}

	docs := []Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error iterating documents: %w", err)
	}
	// Release the connection before the second query.
	rows.Close()

	byTask, err := s.assessments(ctx, runID)
	if err != nil {
		return nil, err
	}
	for i := range docs {
		docs[i].Assessments = byTask[docs[i].TaskID]
	}
	return docs, nil
}

// assessments loads every assessment of a run keyed by task ID.
func (s *SQLiteStore) assessments(ctx context.Context, runID string) (map[string][]scheduler.Assessment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, attempt, score, threshold, passed, COALESCE(summary, ''), COALESCE(issues, '')
		FROM assessments
		WHERE run_id = ?
		ORDER BY task_id ASC, attempt ASC, id ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query assessments: %w", err)
	}
	defer rows.Close()

	byTask := make(map[string][]scheduler.Assessment)
	for rows.Next() {
		var taskID, issues string
		var a scheduler.Assessment
		if err := rows.Scan(&taskID, &a.Attempt, &a.Score, &a.Threshold, &a.Passed, &a.Feedback.Summary, &issues); err != nil {
			return nil, fmt.Errorf("failed to scan assessment: %w", err)
		}
		if issues != "" {
			a.Feedback.Issues = strings.Split(issues, "\n")
		}
		byTask[taskID] = append(byTask[taskID], a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating assessments: %w", err)
	}
	return byTask, nil
}

const documentColumns = `
	SELECT run_id, task_id, phase, status, COALESCE(content, ''), COALESCE(error, ''), attempts, started_at, finished_at
	FROM documents`

func scanDocument(row scanner) (*Document, error) {
	var doc Document
	var status int
	var started, finished sql.NullTime
	if err := row.Scan(&doc.RunID, &doc.TaskID, &doc.Phase, &status, &doc.Content, &doc.Error, &doc.Attempts, &started, &finished); err != nil {
		return nil, err
	}
	doc.Status = scheduler.TaskStatus(status)
	doc.StartedAt = started.Time
	doc.FinishedAt = finished.Time
	return &doc, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t.UTC(), Valid: !t.IsZero()}
}
