package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/desertthunder/ytsync/internal/models"
	"github.com/desertthunder/ytsync/internal/shared"
)

// ItemRepository persists [models.PlaylistItem] rows.
//
// Items are never deleted here; removal from the source is recorded with a flag.
type ItemRepository struct {
	db *sql.DB
}

// ItemChanges is a reconciliation outcome ready to be written.
type ItemChanges struct {
	Insert []*models.PlaylistItem
	Update []*models.PlaylistItem
	Remove []*models.PlaylistItem
}

// Empty reports whether there is nothing to write.
func (c ItemChanges) Empty() bool {
	return len(c.Insert) == 0 && len(c.Update) == 0 && len(c.Remove) == 0
}

// NewItemRepository creates a new ItemRepository with the given database connection
func NewItemRepository(db *sql.DB) *ItemRepository {
	return &ItemRepository{db: db}
}

const itemColumns = `id, sequence, playlist_id, source_video_id, title, channel, duration_seconds, thumbnail_url,
	position, is_removed_from_source, created_at, updated_at`

// Create inserts one item
func (r *ItemRepository) Create(ctx context.Context, item *models.PlaylistItem) error {
	return r.insert(ctx, r.db, item)
}

func (r *ItemRepository) insert(ctx context.Context, q DBTX, item *models.PlaylistItem) error {
	if err := item.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	sequence, err := NextSequence(ctx, q, "playlist_items")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	id := shared.GenerateID()
	query := `
		INSERT INTO playlist_items (id, sequence, playlist_id, source_video_id, title, channel, duration_seconds,
			thumbnail_url, position, is_removed_from_source, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = q.ExecContext(ctx, query,
		id,
		sequence,
		item.PlaylistID(),
		item.SourceVideoID(),
		item.Title(),
		item.Channel(),
		item.DurationSeconds(),
		item.ThumbnailURL(),
		item.Position(),
		item.RemovedFromSource(),
		item.CreatedAt(),
		item.UpdatedAt(),
	)
	if err != nil {
		return mapWriteError(err, "insert playlist item")
	}

	item.SetID(id)
	item.SetSequence(sequence)
	return nil
}

// Get retrieves an item by ID
func (r *ItemRepository) Get(ctx context.Context, id string) (*models.PlaylistItem, error) {
	query := `SELECT ` + itemColumns + ` FROM playlist_items WHERE id = ?`
	return r.scan(r.db.QueryRowContext(ctx, query, id))
}

// GetBySourceVideo retrieves the item of playlistID keyed by the given YouTube video ID
func (r *ItemRepository) GetBySourceVideo(ctx context.Context, playlistID, videoID string) (*models.PlaylistItem, error) {
	query := `SELECT ` + itemColumns + ` FROM playlist_items WHERE playlist_id = ? AND source_video_id = ?`
	return r.scan(r.db.QueryRowContext(ctx, query, playlistID, videoID))
}

// ListByPlaylist returns the stored items of a playlist in source order.
func (r *ItemRepository) ListByPlaylist(ctx context.Context, playlistID string, includeRemoved bool) ([]*models.PlaylistItem, error) {
	query := `SELECT ` + itemColumns + ` FROM playlist_items WHERE playlist_id = ?`
	if !includeRemoved {
		query += " AND is_removed_from_source = 0"
	}
	query += " ORDER BY position ASC, sequence ASC"

	rows, err := r.db.QueryContext(ctx, query, playlistID)
	if err != nil {
		return nil, fmt.Errorf("failed to query playlist items: %w", err)
	}
	defer rows.Close()

	var items []*models.PlaylistItem
	for rows.Next() {
		item, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return items, nil
}

// ApplyChanges writes inserts, metadata/position updates and removal flags in one transaction.
func (r *ItemRepository) ApplyChanges(ctx context.Context, changes ItemChanges) error {
	if changes.Empty() {
		return nil
	}

	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		for _, item := range changes.Insert {
			if err := r.insert(ctx, tx, item); err != nil {
				return err
			}
		}

		now := time.Now().UTC()
		update := `
			UPDATE playlist_items
			SET title = ?, channel = ?, duration_seconds = ?, thumbnail_url = ?, position = ?,
				is_removed_from_source = ?, updated_at = ?
			WHERE id = ?
		`
		for _, item := range slices.Concat(changes.Update, changes.Remove) {
			if err := item.Validate(); err != nil {
				return fmt.Errorf("validation failed: %w", err)
			}
			result, err := tx.ExecContext(ctx, update,
				item.Title(),
				item.Channel(),
				item.DurationSeconds(),
				item.ThumbnailURL(),
				item.Position(),
				item.RemovedFromSource(),
				now,
				item.ID(),
			)
			if err != nil {
				return mapWriteError(err, "update playlist item")
			}
			if err := expectAffected(result, "playlist item", item.ID()); err != nil {
				return err
			}
			item.SetUpdatedAt(now)
		}
		return nil
	})
}

// scan reads one row into a [models.PlaylistItem]
func (r *ItemRepository) scan(row scanner) (*models.PlaylistItem, error) {
	var (
		id         string
		sequence   int
		playlistID string
		src        models.SourceItem
		removed    bool
		createdAt  time.Time
		updatedAt  time.Time
	)

	err := row.Scan(&id, &sequence, &playlistID, &src.ID, &src.Title, &src.Channel, &src.DurationSeconds,
		&src.ThumbnailURL, &src.Position, &removed, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: playlist item", shared.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan playlist item: %w", err)
	}

	item := models.NewPlaylistItem(playlistID, src)
	item.SetID(id)
	item.SetSequence(sequence)
	item.SetRemovedFromSource(removed)
	item.SetCreatedAt(createdAt.UTC())
	item.SetUpdatedAt(updatedAt.UTC())
	return item, nil
}
