package ui

import (
	"context"
	"errors"

	"github.com/desertthunder/ytsync/internal/formatter"
	"github.com/desertthunder/ytsync/internal/models"
	"github.com/desertthunder/ytsync/internal/repositories"
	"github.com/desertthunder/ytsync/internal/shared"
	"github.com/desertthunder/ytsync/internal/tasks"
)

// historyDepth is the number of operations shown in the detail view.
const historyDepth = 5

// Backend is everything the dashboard reads or triggers.
type Backend interface {
	Playlists(ctx context.Context) ([]*models.Playlist, error)
	Detail(ctx context.Context, playlistID string) (*Detail, error)
	Sync(ctx context.Context, req tasks.Request) (*tasks.Report, error)
}

// Detail is one playlist with its match table and recent operations.
type Detail struct {
	Playlist *models.Playlist
	Matches  []formatter.MatchRow
	History  []*models.SyncOperation
}

// StoreBackend serves the dashboard from the local store and runs syncs through the orchestrator.
type StoreBackend struct {
	store  *repositories.Store
	orch   *tasks.Orchestrator
	userID string
}

// NewStoreBackend limits the playlist list to userID, or shows every user's when empty.
func NewStoreBackend(store *repositories.Store, orch *tasks.Orchestrator, userID string) *StoreBackend {
	return &StoreBackend{store: store, orch: orch, userID: userID}
}

func (b *StoreBackend) Playlists(ctx context.Context) ([]*models.Playlist, error) {
	return b.store.Playlists.List(ctx, map[string]any{"user_id": b.userID, "linked": true})
}

func (b *StoreBackend) Detail(ctx context.Context, playlistID string) (*Detail, error) {
	p, err := b.store.Playlists.Get(ctx, playlistID)
	if err != nil {
		return nil, err
	}

	items, err := b.store.Items.ListByPlaylist(ctx, playlistID, true)
	if err != nil {
		return nil, err
	}
	active, err := b.store.Matches.ActiveByPlaylist(ctx, playlistID)
	if err != nil {
		return nil, err
	}

	rows := make([]formatter.MatchRow, 0, len(items))
	for _, item := range items {
		rows = append(rows, formatter.NewMatchRow(item, active[item.ID()]))
	}

	history, err := b.orch.Ledger().History(ctx, playlistID, historyDepth)
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return nil, err
	}
	return &Detail{Playlist: p, Matches: rows, History: history}, nil
}

func (b *StoreBackend) Sync(ctx context.Context, req tasks.Request) (*tasks.Report, error) {
	return b.orch.Sync(ctx, req)
}
