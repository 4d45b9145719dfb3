package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/ski11z/autoboom/pkg/errors"
	"github.com/ski11z/autoboom/pkg/model"
)

// CreateBatch stores a batch with all of its entries
func (r *Repository) CreateBatch(ctx context.Context, b *model.Batch) error {
	now := time.Now().UTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	if b.Status == "" {
		b.Status = model.BatchPending
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO batches (id, status, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		b.ID, string(b.Status), millis(b.CreatedAt), millis(b.UpdatedAt))
	if err != nil {
		slog.Error("database_insert_failed", "batch_id", b.ID, "error", err)
		return errors.Wrap(err, "failed to insert batch")
	}

	for i := range b.Entries {
		e := &b.Entries[i]
		e.Position = i
		if e.Status == "" {
			e.Status = model.EntryPending
		}
		e.UpdatedAt = now
		_, err := tx.ExecContext(ctx, `
			INSERT INTO batch_entries (batch_id, position, project_id, status, error_message, run_id, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			b.ID, e.Position, e.ProjectID, string(e.Status), e.Error, e.RunID, millis(e.UpdatedAt))
		if err != nil {
			return errors.Wrap(err, "failed to insert batch entry")
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	slog.Info("database_batch_created", "batch_id", b.ID, "entries", len(b.Entries))
	return nil
}

// GetBatch returns a batch with its entries in queue order, or ErrNotFound
func (r *Repository) GetBatch(ctx context.Context, id string) (*model.Batch, error) {
	var b model.Batch
	var status string
	var created, updated int64
	err := r.db.QueryRowContext(ctx,
		`SELECT id, status, created_at, updated_at FROM batches WHERE id = ?`, id).
		Scan(&b.ID, &status, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("batch %s: %w", id, errors.ErrNotFound)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to query batch")
	}
	b.Status = model.BatchStatus(status)
	b.CreatedAt = fromMillis(created)
	b.UpdatedAt = fromMillis(updated)

	rows, err := r.db.QueryContext(ctx, `
		SELECT position, project_id, status, error_message, run_id, updated_at
		FROM batch_entries WHERE batch_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query batch entries")
	}
	defer rows.Close()

	for rows.Next() {
		var e model.BatchEntry
		var st string
		var errorMessage, runID sql.NullString
		var at int64
		if err := rows.Scan(&e.Position, &e.ProjectID, &st, &errorMessage, &runID, &at); err != nil {
			return nil, errors.Wrap(err, "failed to scan row")
		}
		e.Status = model.EntryStatus(st)
		e.Error = errorMessage.String
		e.RunID = runID.String
		e.UpdatedAt = fromMillis(at)
		b.Entries = append(b.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows error")
	}
	return &b, nil
}

// UpdateBatchStatus sets the status of a batch
func (r *Repository) UpdateBatchStatus(ctx context.Context, id string, status model.BatchStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE batches SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), millis(time.Now()), id)
	if err != nil {
		return errors.Wrap(err, "failed to update batch status")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("batch %s: %w", id, errors.ErrNotFound)
	}
	slog.Info("database_batch_status_updated", "batch_id", id, "status", status)
	return nil
}

// UpdateBatchEntry writes the status of one entry
func (r *Repository) UpdateBatchEntry(ctx context.Context, batchID string, e model.BatchEntry) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE batch_entries SET status = ?, error_message = ?, run_id = ?, updated_at = ?
		WHERE batch_id = ? AND position = ?`,
		string(e.Status), e.Error, e.RunID, millis(time.Now()), batchID, e.Position)
	if err != nil {
		slog.Error("database_update_failed", "batch_id", batchID, "position", e.Position, "error", err)
		return errors.Wrap(err, "failed to update batch entry")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("batch %s entry %d: %w", batchID, e.Position, errors.ErrNotFound)
	}
	return nil
}

// ListBatches returns the batches, newest first, without their entries
func (r *Repository) ListBatches(ctx context.Context) ([]*model.Batch, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, status, created_at, updated_at FROM batches ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list batches")
	}
	defer rows.Close()

	var batches []*model.Batch
	for rows.Next() {
		var b model.Batch
		var status string
		var created, updated int64
		if err := rows.Scan(&b.ID, &status, &created, &updated); err != nil {
			return nil, errors.Wrap(err, "failed to scan row")
		}
		b.Status = model.BatchStatus(status)
		b.CreatedAt = fromMillis(created)
		b.UpdatedAt = fromMillis(updated)
		batches = append(batches, &b)
	}
	return batches, rows.Err()
}
