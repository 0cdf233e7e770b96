package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/ytsync/internal/models"
	"github.com/desertthunder/ytsync/internal/shared"
)

// OperationRepository persists the append-only sync operation ledger.
//
// A row whose ended_at is set is never written again.
type OperationRepository struct {
	db *sql.DB
}

// NewOperationRepository creates a new OperationRepository with the given database connection
func NewOperationRepository(db *sql.DB) *OperationRepository {
	return &OperationRepository{db: db}
}

const operationColumns = `id, sequence, playlist_id, status, trigger_reason, matched_count, unmatched_count, error_count,
	errors, retry_recommended, started_at, ended_at, created_at, updated_at`

// Create appends a new operation
func (r *OperationRepository) Create(ctx context.Context, op *models.SyncOperation) error {
	if err := op.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	errs, err := shared.MarshalJSON(op.Errors())
	if err != nil {
		return err
	}

	sequence, err := NextSequence(ctx, r.db, "sync_operations")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	id := shared.GenerateID()
	query := `
		INSERT INTO sync_operations (id, sequence, playlist_id, status, trigger_reason, matched_count, unmatched_count,
			error_count, errors, retry_recommended, started_at, ended_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query,
		id,
		sequence,
		op.PlaylistID(),
		op.Status(),
		op.Trigger(),
		op.MatchedCount(),
		op.UnmatchedCount(),
		op.ErrorCount(),
		errs,
		op.RetryRecommended(),
		nullTime(op.StartedAt()),
		nullTime(op.EndedAt()),
		op.CreatedAt(),
		op.UpdatedAt(),
	)
	if err != nil {
		return mapWriteError(err, "insert sync operation")
	}

	op.SetID(id)
	op.SetSequence(sequence)
	return nil
}

// Update writes the mutable fields of an operation that has not ended yet.
//
// Returns [shared.ErrInvalidTransition] when the stored row is already terminal.
func (r *OperationRepository) Update(ctx context.Context, op *models.SyncOperation) error {
	if err := op.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	errs, err := shared.MarshalJSON(op.Errors())
	if err != nil {
		return err
	}

	query := `
		UPDATE sync_operations
		SET status = ?, matched_count = ?, unmatched_count = ?, error_count = ?, errors = ?,
			retry_recommended = ?, started_at = ?, ended_at = ?, updated_at = ?
		WHERE id = ? AND ended_at IS NULL
	`
	result, err := r.db.ExecContext(ctx, query,
		op.Status(),
		op.MatchedCount(),
		op.UnmatchedCount(),
		op.ErrorCount(),
		errs,
		op.RetryRecommended(),
		nullTime(op.StartedAt()),
		nullTime(op.EndedAt()),
		op.UpdatedAt(),
		op.ID(),
	)
	if err != nil {
		return fmt.Errorf("failed to update sync operation: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		if _, getErr := r.Get(ctx, op.ID()); getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: operation %s already ended", shared.ErrInvalidTransition, op.ID())
	}
	return nil
}

// Get retrieves an operation by ID
func (r *OperationRepository) Get(ctx context.Context, id string) (*models.SyncOperation, error) {
	query := `SELECT ` + operationColumns + ` FROM sync_operations WHERE id = ?`
	return r.scan(r.db.QueryRowContext(ctx, query, id))
}

// Latest returns the most recent operation of a playlist or [shared.ErrNotFound].
func (r *OperationRepository) Latest(ctx context.Context, playlistID string) (*models.SyncOperation, error) {
	query := `SELECT ` + operationColumns + ` FROM sync_operations WHERE playlist_id = ? ORDER BY sequence DESC LIMIT 1`
	return r.scan(r.db.QueryRowContext(ctx, query, playlistID))
}

// ListByPlaylist returns a playlist's operations, newest first. limit <= 0 returns all.
func (r *OperationRepository) ListByPlaylist(ctx context.Context, playlistID string, limit int) ([]*models.SyncOperation, error) {
	query := `SELECT ` + operationColumns + ` FROM sync_operations WHERE playlist_id = ? ORDER BY sequence DESC`
	args := []any{playlistID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return r.query(ctx, query, args...)
}

// ListOpen returns operations of a playlist that never reached a terminal state.
func (r *OperationRepository) ListOpen(ctx context.Context, playlistID string) ([]*models.SyncOperation, error) {
	query := `SELECT ` + operationColumns + ` FROM sync_operations WHERE playlist_id = ? AND ended_at IS NULL ORDER BY sequence ASC`
	return r.query(ctx, query, playlistID)
}

func (r *OperationRepository) query(ctx context.Context, query string, args ...any) ([]*models.SyncOperation, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync operations: %w", err)
	}
	defer rows.Close()

	var ops []*models.SyncOperation
	for rows.Next() {
		op, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return ops, nil
}

// scan reads one row into a [models.SyncOperation]
func (r *OperationRepository) scan(row scanner) (*models.SyncOperation, error) {
	var (
		id         string
		sequence   int
		playlistID string
		status     string
		trigger    string
		out        models.Outcome
		errs       string
		startedAt  sql.NullTime
		endedAt    sql.NullTime
		createdAt  time.Time
		updatedAt  time.Time
	)

	err := row.Scan(&id, &sequence, &playlistID, &status, &trigger, &out.Matched, &out.Unmatched, &out.ErrorCount,
		&errs, &out.RetryRecommended, &startedAt, &endedAt, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: sync operation", shared.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan sync operation: %w", err)
	}

	out.Errors = map[string]string{}
	if err := shared.UnmarshalJSON(errs, &out.Errors); err != nil {
		return nil, err
	}

	op := models.NewSyncOperation(playlistID, models.Trigger(trigger))
	op.SetID(id)
	op.SetSequence(sequence)
	op.Restore(models.OperationStatus(status), out, timePtr(startedAt), timePtr(endedAt))
	op.SetCreatedAt(createdAt.UTC())
	op.SetUpdatedAt(updatedAt.UTC())
	return op, nil
}
