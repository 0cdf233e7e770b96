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

// MatchRepository is the track match store.
//
// Rows are never deleted. Activation always runs deactivate-then-activate inside one transaction,
// backed by a partial unique index on (playlist_item_id) WHERE is_active = 1.
type MatchRepository struct {
	db *sql.DB
}

// NewMatchRepository creates a new MatchRepository with the given database connection
func NewMatchRepository(db *sql.DB) *MatchRepository {
	return &MatchRepository{db: db}
}

const matchColumns = `id, sequence, playlist_item_id, track_id, track_uri, confidence_score, match_method, metadata,
	is_active, matched_at, applied_position, applied_at, created_at, updated_at`

// Record inserts a new inactive match.
func (r *MatchRepository) Record(ctx context.Context, match *models.TrackMatch) error {
	match.SetActive(false)
	return r.insert(ctx, r.db, match)
}

// Activate makes matchID the only active match of its item.
func (r *MatchRepository) Activate(ctx context.Context, matchID string) (*models.TrackMatch, error) {
	var activated *models.TrackMatch
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		var itemID string
		err := tx.QueryRowContext(ctx, `SELECT playlist_item_id FROM track_matches WHERE id = ?`, matchID).Scan(&itemID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: track match %s", shared.ErrNotFound, matchID)
		}
		if err != nil {
			return fmt.Errorf("failed to load track match: %w", err)
		}

		if err := r.activate(ctx, tx, itemID, matchID); err != nil {
			return err
		}

		activated, err = r.get(ctx, tx, matchID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return activated, nil
}

// RecordAndActivate inserts match and makes it the item's active match in one transaction.
func (r *MatchRepository) RecordAndActivate(ctx context.Context, match *models.TrackMatch) error {
	match.SetActive(false)
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := r.insert(ctx, tx, match); err != nil {
			return err
		}
		if err := r.activate(ctx, tx, match.ItemID(), match.ID()); err != nil {
			return err
		}
		match.SetActive(true)
		return nil
	})
}

// Override records a manual match for itemID and activates it immediately.
func (r *MatchRepository) Override(ctx context.Context, itemID, trackID, trackURI string, metadata map[string]any) (*models.TrackMatch, error) {
	match := models.NewTrackMatch(itemID, trackID, trackURI, 1.0, models.MatchManual)
	match.SetMetadata(metadata)
	if err := r.RecordAndActivate(ctx, match); err != nil {
		return nil, err
	}
	return match, nil
}

// ClearOverride deactivates the item's active manual match so automatic matching resumes.
// Returns [shared.ErrNotFound] when the active match is not manual.
func (r *MatchRepository) ClearOverride(ctx context.Context, itemID string) error {
	query := `
		UPDATE track_matches SET is_active = 0, updated_at = ?
		WHERE playlist_item_id = ? AND is_active = 1 AND match_method = 'manual'
	`
	result, err := r.db.ExecContext(ctx, query, time.Now().UTC(), itemID)
	if err != nil {
		return fmt.Errorf("failed to clear override: %w", err)
	}
	return expectAffected(result, "manual match for item", itemID)
}

// Get retrieves a match by ID
func (r *MatchRepository) Get(ctx context.Context, id string) (*models.TrackMatch, error) {
	return r.get(ctx, r.db, id)
}

func (r *MatchRepository) get(ctx context.Context, q DBTX, id string) (*models.TrackMatch, error) {
	query := `SELECT ` + matchColumns + ` FROM track_matches WHERE id = ?`
	return r.scan(q.QueryRowContext(ctx, query, id))
}

// Active returns the active match of an item or [shared.ErrNotFound].
func (r *MatchRepository) Active(ctx context.Context, itemID string) (*models.TrackMatch, error) {
	query := `SELECT ` + matchColumns + ` FROM track_matches WHERE playlist_item_id = ? AND is_active = 1`
	return r.scan(r.db.QueryRowContext(ctx, query, itemID))
}

// ActiveByPlaylist returns active matches of every item in a playlist keyed by item ID.
func (r *MatchRepository) ActiveByPlaylist(ctx context.Context, playlistID string) (map[string]*models.TrackMatch, error) {
	query := `
		SELECT m.id, m.sequence, m.playlist_item_id, m.track_id, m.track_uri, m.confidence_score, m.match_method,
			m.metadata, m.is_active, m.matched_at, m.applied_position, m.applied_at, m.created_at, m.updated_at
		FROM track_matches m
		JOIN playlist_items i ON i.id = m.playlist_item_id
		WHERE i.playlist_id = ? AND m.is_active = 1
	`
	matches, err := r.query(ctx, query, playlistID)
	if err != nil {
		return nil, err
	}

	active := make(map[string]*models.TrackMatch, len(matches))
	for _, m := range matches {
		active[m.ItemID()] = m
	}
	return active, nil
}

// History lists every match of an item, best confidence first, then newest.
func (r *MatchRepository) History(ctx context.Context, itemID string) ([]*models.TrackMatch, error) {
	query := `SELECT ` + matchColumns + ` FROM track_matches WHERE playlist_item_id = ?
		ORDER BY confidence_score DESC, matched_at DESC, sequence DESC`
	return r.query(ctx, query, itemID)
}

// CountActive returns how many active matches an item has; always 0 or 1.
func (r *MatchRepository) CountActive(ctx context.Context, itemID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM track_matches WHERE playlist_item_id = ? AND is_active = 1`, itemID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count active matches: %w", err)
	}
	return n, nil
}

// MarkApplied records where a match's track now sits on the destination playlist.
func (r *MatchRepository) MarkApplied(ctx context.Context, matchID string, position int, at time.Time) error {
	at = at.UTC()
	result, err := r.db.ExecContext(ctx,
		`UPDATE track_matches SET applied_position = ?, applied_at = ?, updated_at = ? WHERE id = ?`,
		position, at, at, matchID)
	if err != nil {
		return fmt.Errorf("failed to mark match applied: %w", err)
	}
	return expectAffected(result, "track match", matchID)
}

// activate deactivates every other active match of itemID, then activates matchID.
func (r *MatchRepository) activate(ctx context.Context, tx *sql.Tx, itemID, matchID string) error {
	now := time.Now().UTC()

	_, err := tx.ExecContext(ctx,
		`UPDATE track_matches SET is_active = 0, updated_at = ? WHERE playlist_item_id = ? AND is_active = 1 AND id <> ?`,
		now, itemID, matchID)
	if err != nil {
		return fmt.Errorf("failed to deactivate matches: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE track_matches SET is_active = 1, updated_at = ? WHERE id = ?`, now, matchID)
	if err != nil {
		return mapWriteError(err, "activate match")
	}
	return expectAffected(result, "track match", matchID)
}

func (r *MatchRepository) insert(ctx context.Context, q DBTX, match *models.TrackMatch) error {
	if err := match.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	metadata, err := shared.MarshalJSON(match.Metadata())
	if err != nil {
		return err
	}

	sequence, err := NextSequence(ctx, q, "track_matches")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	id := shared.GenerateID()
	query := `
		INSERT INTO track_matches (id, sequence, playlist_item_id, track_id, track_uri, confidence_score, match_method,
			metadata, is_active, matched_at, applied_position, applied_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	var appliedPosition sql.NullInt64
	if p := match.AppliedPosition(); p != nil {
		appliedPosition = sql.NullInt64{Int64: int64(*p), Valid: true}
	}

	_, err = q.ExecContext(ctx, query,
		id,
		sequence,
		match.ItemID(),
		match.TrackID(),
		match.TrackURI(),
		match.Confidence(),
		match.Method(),
		metadata,
		match.IsActive(),
		match.MatchedAt(),
		appliedPosition,
		nullTime(match.AppliedAt()),
		match.CreatedAt(),
		match.UpdatedAt(),
	)
	if err != nil {
		return mapWriteError(err, "insert track match")
	}

	match.SetID(id)
	match.SetSequence(sequence)
	return nil
}

func (r *MatchRepository) query(ctx context.Context, query string, args ...any) ([]*models.TrackMatch, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query track matches: %w", err)
	}
	defer rows.Close()

	var matches []*models.TrackMatch
	for rows.Next() {
		match, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, match)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return matches, nil
}

// scan reads one row into a [models.TrackMatch]
func (r *MatchRepository) scan(row scanner) (*models.TrackMatch, error) {
	var (
		id              string
		sequence        int
		itemID          string
		trackID         string
		trackURI        string
		confidence      float64
		method          string
		metadata        string
		active          bool
		matchedAt       time.Time
		appliedPosition sql.NullInt64
		appliedAt       sql.NullTime
		createdAt       time.Time
		updatedAt       time.Time
	)

	err := row.Scan(&id, &sequence, &itemID, &trackID, &trackURI, &confidence, &method, &metadata,
		&active, &matchedAt, &appliedPosition, &appliedAt, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: track match", shared.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan track match: %w", err)
	}

	md := map[string]any{}
	if err := shared.UnmarshalJSON(metadata, &md); err != nil {
		return nil, err
	}

	match := models.NewTrackMatch(itemID, trackID, trackURI, confidence, models.MatchMethod(method))
	match.SetID(id)
	match.SetSequence(sequence)
	match.SetMetadata(md)
	match.SetActive(active)
	match.SetMatchedAt(matchedAt.UTC())
	if appliedPosition.Valid {
		pos := int(appliedPosition.Int64)
		match.SetApplied(&pos, timePtr(appliedAt))
	}
	match.SetCreatedAt(createdAt.UTC())
	match.SetUpdatedAt(updatedAt.UTC())
	return match, nil
}
