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

var _ models.Repository[*models.Playlist] = (*PlaylistRepository)(nil)

// PlaylistRepository implements models.Repository[*models.Playlist].
//
// Besides CRUD it owns the compare-and-set claim that keeps a single sync running per playlist.
type PlaylistRepository struct {
	db *sql.DB
}

// NewPlaylistRepository creates a new PlaylistRepository with the given database connection
func NewPlaylistRepository(db *sql.DB) *PlaylistRepository {
	return &PlaylistRepository{db: db}
}

const playlistColumns = `id, sequence, user_id, title, description, source_id, destination_id, destination_uri,
	sync_status, source_status, last_synced_at, created_at, updated_at`

// Create inserts a new playlist with generated ID and sequence.
//
// Returns [shared.ErrDuplicate] when the user already linked the same source playlist.
func (r *PlaylistRepository) Create(ctx context.Context, playlist *models.Playlist) error {
	if err := playlist.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	sequence, err := NextSequence(ctx, r.db, "playlists")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	id := shared.GenerateID()
	query := `
		INSERT INTO playlists (id, sequence, user_id, title, description, source_id, destination_id, destination_uri,
			sync_status, source_status, last_synced_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, query,
		id,
		sequence,
		playlist.UserID(),
		playlist.Title(),
		playlist.Description(),
		nullString(playlist.SourceID()),
		nullString(playlist.DestinationID()),
		nullString(playlist.DestinationURI()),
		playlist.SyncStatus(),
		playlist.SourceStatus(),
		nullTime(playlist.LastSyncedAt()),
		playlist.CreatedAt(),
		playlist.UpdatedAt(),
	)
	if err != nil {
		return mapWriteError(err, "insert playlist")
	}

	playlist.SetID(id)
	playlist.SetSequence(sequence)
	return nil
}

// Get retrieves a playlist by ID
func (r *PlaylistRepository) Get(ctx context.Context, id string) (*models.Playlist, error) {
	return r.get(ctx, r.db, id)
}

func (r *PlaylistRepository) get(ctx context.Context, q DBTX, id string) (*models.Playlist, error) {
	query := `SELECT ` + playlistColumns + ` FROM playlists WHERE id = ?`
	return r.scan(q.QueryRowContext(ctx, query, id))
}

// GetBySource retrieves a user's playlist linked to the given YouTube playlist ID
func (r *PlaylistRepository) GetBySource(ctx context.Context, userID, sourceID string) (*models.Playlist, error) {
	query := `SELECT ` + playlistColumns + ` FROM playlists WHERE user_id = ? AND source_id = ?`
	return r.scan(r.db.QueryRowContext(ctx, query, userID, sourceID))
}

// Update modifies the user-editable fields of a playlist.
//
// sync_status and last_synced_at are left alone; they move only through [PlaylistRepository.Claim]
// and [PlaylistRepository.Release].
func (r *PlaylistRepository) Update(ctx context.Context, playlist *models.Playlist) error {
	if err := playlist.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	now := time.Now().UTC()
	query := `
		UPDATE playlists
		SET title = ?, description = ?, source_id = ?, destination_id = ?, destination_uri = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		playlist.Title(),
		playlist.Description(),
		nullString(playlist.SourceID()),
		nullString(playlist.DestinationID()),
		nullString(playlist.DestinationURI()),
		now,
		playlist.ID(),
	)
	if err != nil {
		return mapWriteError(err, "update playlist")
	}
	if err := expectAffected(result, "playlist", playlist.ID()); err != nil {
		return err
	}

	playlist.SetUpdatedAt(now)
	return nil
}

// Delete removes a playlist; items, matches and operations go with it.
func (r *PlaylistRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM playlists WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete playlist: %w", err)
	}
	return expectAffected(result, "playlist", id)
}

// List retrieves playlists ordered by sequence. Supported criteria: "user_id", "sync_status",
// "linked" (bool, only playlists with a source id).
func (r *PlaylistRepository) List(ctx context.Context, criteria map[string]any) ([]*models.Playlist, error) {
	query := `SELECT ` + playlistColumns + ` FROM playlists WHERE 1 = 1`
	args := []any{}

	if userID, ok := criteria["user_id"].(string); ok && userID != "" {
		query += " AND user_id = ?"
		args = append(args, userID)
	}

	switch status := criteria["sync_status"].(type) {
	case models.SyncStatus:
		query += " AND sync_status = ?"
		args = append(args, string(status))
	case string:
		if status != "" {
			query += " AND sync_status = ?"
			args = append(args, status)
		}
	}

	if linked, ok := criteria["linked"].(bool); ok && linked {
		query += " AND source_id IS NOT NULL"
	}

	query += " ORDER BY sequence ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query playlists: %w", err)
	}
	defer rows.Close()

	var playlists []*models.Playlist
	for rows.Next() {
		playlist, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		playlists = append(playlists, playlist)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return playlists, nil
}

// Claim atomically moves a playlist to syncing and returns it along with the status it held before.
//
// A playlist already syncing is only taken over when its last update is older than staleBefore,
// which recovers from a worker that died mid-operation. Otherwise [shared.ErrSyncInProgress].
func (r *PlaylistRepository) Claim(ctx context.Context, id string, staleBefore time.Time) (*models.Playlist, models.SyncStatus, error) {
	var (
		playlist *models.Playlist
		previous models.SyncStatus
	)

	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		query := `
			UPDATE playlists
			SET sync_status = 'syncing', updated_at = ?
			WHERE id = ? AND (sync_status <> 'syncing' OR updated_at < ?)
		`

		current, err := r.get(ctx, tx, id)
		if err != nil {
			return err
		}
		previous = current.SyncStatus()

		result, err := tx.ExecContext(ctx, query, now, id, staleBefore.UTC())
		if err != nil {
			return fmt.Errorf("failed to claim playlist: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get affected rows: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("%w: playlist %s", shared.ErrSyncInProgress, id)
		}

		current.SetSyncStatus(models.SyncSyncing)
		current.SetUpdatedAt(now)
		playlist = current
		return nil
	})
	if err != nil {
		return nil, "", err
	}

	return playlist, previous, nil
}

// Heartbeat refreshes updated_at on a claimed playlist so [PlaylistRepository.Claim] does not
// treat a live sync as stale. It fails with [shared.ErrClaimLost] once the playlist left syncing.
func (r *PlaylistRepository) Heartbeat(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE playlists SET updated_at = ? WHERE id = ? AND sync_status = 'syncing'`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to refresh playlist claim: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: playlist %s is no longer syncing", shared.ErrClaimLost, id)
	}
	return nil
}

// Release ends a claim by writing the final sync status. syncedAt, when set, becomes last_synced_at.
func (r *PlaylistRepository) Release(ctx context.Context, id string, status models.SyncStatus, syncedAt *time.Time) error {
	if !status.Valid() || status == models.SyncSyncing {
		return fmt.Errorf("%w: cannot release to %q", shared.ErrInvalidInput, status)
	}

	query := `
		UPDATE playlists
		SET sync_status = ?, last_synced_at = COALESCE(?, last_synced_at), updated_at = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query, status, nullTime(syncedAt), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to release playlist: %w", err)
	}
	return expectAffected(result, "playlist", id)
}

// Enqueue marks a playlist queued unless a sync currently holds it. Reports whether it was queued.
func (r *PlaylistRepository) Enqueue(ctx context.Context, id string) (bool, error) {
	query := `UPDATE playlists SET sync_status = 'queued', updated_at = ? WHERE id = ? AND sync_status <> 'syncing'`
	result, err := r.db.ExecContext(ctx, query, time.Now().UTC(), id)
	if err != nil {
		return false, fmt.Errorf("failed to enqueue playlist: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows == 1, nil
}

// SetSourceStatus records whether the source platform still serves the playlist.
func (r *PlaylistRepository) SetSourceStatus(ctx context.Context, id string, status models.SourceStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown source status %q", shared.ErrInvalidInput, status)
	}
	result, err := r.db.ExecContext(ctx, `UPDATE playlists SET source_status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update source status: %w", err)
	}
	return expectAffected(result, "playlist", id)
}

// SetDestination links the Spotify playlist created for id.
func (r *PlaylistRepository) SetDestination(ctx context.Context, id, destinationID, destinationURI string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE playlists SET destination_id = ?, destination_uri = ?, updated_at = ? WHERE id = ?`,
		nullString(destinationID), nullString(destinationURI), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set destination: %w", err)
	}
	return expectAffected(result, "playlist", id)
}

// scan reads one row into a [models.Playlist]
func (r *PlaylistRepository) scan(row scanner) (*models.Playlist, error) {
	var (
		id             string
		sequence       int
		userID         string
		title          string
		description    string
		sourceID       sql.NullString
		destinationID  sql.NullString
		destinationURI sql.NullString
		syncStatus     string
		sourceStatus   string
		lastSyncedAt   sql.NullTime
		createdAt      time.Time
		updatedAt      time.Time
	)

	err := row.Scan(&id, &sequence, &userID, &title, &description, &sourceID, &destinationID, &destinationURI,
		&syncStatus, &sourceStatus, &lastSyncedAt, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: playlist", shared.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan playlist: %w", err)
	}

	playlist := models.NewPlaylist(userID, title, sourceID.String)
	playlist.SetID(id)
	playlist.SetSequence(sequence)
	playlist.SetDescription(description)
	playlist.SetDestination(destinationID.String, destinationURI.String)
	playlist.SetSyncStatus(models.SyncStatus(syncStatus))
	playlist.SetSourceStatus(models.SourceStatus(sourceStatus))
	playlist.SetLastSyncedAt(timePtr(lastSyncedAt))
	playlist.SetCreatedAt(createdAt.UTC())
	playlist.SetUpdatedAt(updatedAt.UTC())
	return playlist, nil
}
