package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ski11z/autoboom/pkg/errors"
	"github.com/ski11z/autoboom/pkg/model"
	_ "modernc.org/sqlite"
)

// Repository is the persisted job store: projects, job progress, run history
// and batches. Writes are last-write-wins.
type Repository struct {
	db *sql.DB
}

// NewRepository opens the database and creates the schema
func NewRepository(dbPath string) (*Repository, error) {
	slog.Info("database_init", "db_path", dbPath)

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		slog.Error("database_open_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to open database")
	}
	db.SetMaxOpenConns(1)

	slog.Info("database_create_schema", "db_path", dbPath)
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		slog.Error("database_schema_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to create schema")
	}

	slog.Info("database_ready", "db_path", dbPath)
	return &Repository{db: db}, nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.UnixMilli(v).UTC()
}

// SaveProject inserts or replaces a project definition
func (r *Repository) SaveProject(ctx context.Context, p *model.Project) error {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if p.Status == "" {
		p.Status = model.ProjectDraft
	}

	data, err := json.Marshal(p)
	if err != nil {
		return errors.Wrap(err, "failed to encode project")
	}

	query := `
		INSERT INTO projects (id, name, mode, status, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		    name = excluded.name, mode = excluded.mode, status = excluded.status,
		    data = excluded.data, updated_at = excluded.updated_at
	`
	_, err = r.db.ExecContext(ctx, query,
		p.ID, p.Name, string(p.Mode), string(p.Status), string(data),
		millis(p.CreatedAt), millis(p.UpdatedAt))
	if err != nil {
		slog.Error("database_save_project_failed", "project_id", p.ID, "error", err)
		return errors.Wrap(err, "failed to save project")
	}

	slog.Debug("database_project_saved", "project_id", p.ID, "status", p.Status)
	return nil
}

// GetProject returns a project or ErrNotFound
func (r *Repository) GetProject(ctx context.Context, id string) (*model.Project, error) {
	var data string
	err := r.db.QueryRowContext(ctx, `SELECT data FROM projects WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("project %s: %w", id, errors.ErrNotFound)
	}
	if err != nil {
		slog.Error("database_query_failed", "project_id", id, "error", err)
		return nil, errors.Wrap(err, "failed to query project")
	}

	var p model.Project
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, errors.Wrap(err, "failed to decode project")
	}
	return &p, nil
}

// ListProjects returns every project, newest first
func (r *Repository) ListProjects(ctx context.Context) ([]*model.Project, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT data FROM projects ORDER BY created_at DESC, id`)
	if err != nil {
		slog.Error("database_list_query_failed", "error", err)
		return nil, errors.Wrap(err, "failed to list projects")
	}
	defer rows.Close()

	var projects []*model.Project
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			slog.Error("database_scan_row_failed", "error", err)
			return nil, errors.Wrap(err, "failed to scan row")
		}
		var p model.Project
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return nil, errors.Wrap(err, "failed to decode project")
		}
		projects = append(projects, &p)
	}
	if err := rows.Err(); err != nil {
		slog.Error("database_rows_error", "error", err)
		return nil, errors.Wrap(err, "rows error")
	}
	return projects, nil
}

// DeleteProject removes a project with its progress and run history
func (r *Repository) DeleteProject(ctx context.Context, id string) error {
	slog.Info("database_delete_project", "project_id", id)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(err, "failed to delete project")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("project %s: %w", id, errors.ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM job_progress WHERE project_id = ?`, id); err != nil {
		return errors.Wrap(err, "failed to delete job progress")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM run_records WHERE project_id = ?`, id); err != nil {
		return errors.Wrap(err, "failed to delete run records")
	}

	if err := tx.Commit(); err != nil {
		slog.Error("failed_to_commit_transaction", "error", err)
		return errors.Wrap(err, "failed to commit transaction")
	}
	slog.Info("database_project_deleted", "project_id", id)
	return nil
}

// SaveJobProgress writes the progress record of a project
func (r *Repository) SaveJobProgress(ctx context.Context, p *model.JobProgress) error {
	data, err := json.Marshal(p)
	if err != nil {
		return errors.Wrap(err, "failed to encode job progress")
	}

	query := `
		INSERT INTO job_progress (project_id, state, phase, data, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(project_id) DO UPDATE SET
		    state = excluded.state, phase = excluded.phase,
		    data = excluded.data, updated_at = excluded.updated_at
	`
	_, err = r.db.ExecContext(ctx, query,
		p.ProjectID, string(p.State), string(p.Phase), string(data), millis(time.Now()))
	if err != nil {
		slog.Error("database_save_progress_failed", "project_id", p.ProjectID, "error", err)
		return errors.Wrap(err, "failed to save job progress")
	}
	return nil
}

// GetJobProgress returns the progress record of a project, or nil when the
// project has never run
func (r *Repository) GetJobProgress(ctx context.Context, projectID string) (*model.JobProgress, error) {
	var data string
	err := r.db.QueryRowContext(ctx, `SELECT data FROM job_progress WHERE project_id = ?`, projectID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("database_query_failed", "project_id", projectID, "error", err)
		return nil, errors.Wrap(err, "failed to query job progress")
	}

	var p model.JobProgress
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, errors.Wrap(err, "failed to decode job progress")
	}
	return &p, nil
}

// SaveRunRecord appends a run history entry
func (r *Repository) SaveRunRecord(ctx context.Context, rec *model.RunRecord) error {
	query := `
		INSERT INTO run_records (id, project_id, outcome, error_message,
		    images_ready, images_failed, videos_ready, videos_failed, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.ProjectID, string(rec.Outcome), rec.Error,
		rec.ImagesReady, rec.ImagesFailed, rec.VideosReady, rec.VideosFailed,
		millis(rec.StartedAt), millis(rec.FinishedAt))
	if err != nil {
		slog.Error("database_insert_failed", "run_id", rec.ID, "project_id", rec.ProjectID, "error", err)
		return errors.Wrap(err, "failed to insert run record")
	}

	slog.Info("database_run_recorded", "run_id", rec.ID, "project_id", rec.ProjectID, "outcome", rec.Outcome)
	return nil
}

// ListRunRecords returns the run history of a project, newest first. A
// non-positive limit returns everything.
func (r *Repository) ListRunRecords(ctx context.Context, projectID string, limit int) ([]*model.RunRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `
		SELECT id, project_id, outcome, error_message,
		       images_ready, images_failed, videos_ready, videos_failed, started_at, finished_at
		FROM run_records WHERE project_id = ? ORDER BY finished_at DESC, rowid DESC LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, query, projectID, limit)
	if err != nil {
		slog.Error("database_list_query_failed", "project_id", projectID, "error", err)
		return nil, errors.Wrap(err, "failed to list run records")
	}
	defer rows.Close()

	var records []*model.RunRecord
	for rows.Next() {
		var rec model.RunRecord
		var outcome string
		var errorMessage sql.NullString
		var started, finished int64

		err := rows.Scan(&rec.ID, &rec.ProjectID, &outcome, &errorMessage,
			&rec.ImagesReady, &rec.ImagesFailed, &rec.VideosReady, &rec.VideosFailed,
			&started, &finished)
		if err != nil {
			slog.Error("database_scan_row_failed", "error", err)
			return nil, errors.Wrap(err, "failed to scan row")
		}
		rec.Outcome = model.Outcome(outcome)
		rec.Error = errorMessage.String
		rec.StartedAt = fromMillis(started)
		rec.FinishedAt = fromMillis(finished)
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows error")
	}
	return records, nil
}
