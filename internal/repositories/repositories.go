// Package repositories provides persistence layer implementations for all model types.
//
// Each repository implements models.Repository[T] (or the subset its entity allows) for a specific
// entity type, handling CRUD operations and sequence generation.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/desertthunder/ytsync/internal/shared"
)

// DBTX is satisfied by both [sql.DB] and [sql.Tx] so helpers can run inside or outside a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// scanner is satisfied by [sql.Row] and [sql.Rows].
type scanner interface {
	Scan(dest ...any) error
}

// Store groups the repositories backing the sync engine.
type Store struct {
	DB         *sql.DB
	Users      *UserRepository
	Playlists  *PlaylistRepository
	Items      *ItemRepository
	Matches    *MatchRepository
	Operations *OperationRepository
}

// NewStore wires every repository to db.
func NewStore(db *sql.DB) *Store {
	return &Store{
		DB:         db,
		Users:      NewUserRepository(db),
		Playlists:  NewPlaylistRepository(db),
		Items:      NewItemRepository(db),
		Matches:    NewMatchRepository(db),
		Operations: NewOperationRepository(db),
	}
}

// NextSequence atomically increments and returns the next sequence number for the given table.
//
// Sequence numbers provide human-readable ordering for entities (e.g., playlist #15, operation #42).
// They are NOT exposed as identifiers but used for sorting and debugging.
func NextSequence(ctx context.Context, q DBTX, table string) (int, error) {
	var sequence int
	query := fmt.Sprintf("UPDATE %s_sequence SET value = value + 1 WHERE id = 1 RETURNING value", table)
	if err := q.QueryRowContext(ctx, query).Scan(&sequence); err != nil {
		return 0, fmt.Errorf("failed to increment sequence: %w", err)
	}
	return sequence, nil
}

// withTx runs fn in a transaction, committing on success.
func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// mapWriteError translates constraint violations into shared sentinels.
func mapWriteError(err error, action string) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		switch sqliteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("failed to %s: %w: %v", action, shared.ErrDuplicate, err)
		case sqlite3.ErrConstraintForeignKey:
			return fmt.Errorf("failed to %s: %w: missing parent: %v", action, shared.ErrNotFound, err)
		}
	}
	return fmt.Errorf("failed to %s: %w", action, err)
}

// expectAffected returns ErrNotFound when a write touched no rows.
func expectAffected(result sql.Result, what, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s %s", shared.ErrNotFound, what, id)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
