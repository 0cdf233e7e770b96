// package services defines the capability interfaces the sync engine consumes
//
// YouTube (via proxy) is the source, Spotify is the destination.
package services

import (
	"context"

	"github.com/desertthunder/ytsync/internal/models"
)

// SourceClient lists the current items of a source playlist.
//
// Failures are reported as [*SourceError].
type SourceClient interface {
	ListItems(ctx context.Context, sourcePlaylistID string) ([]models.SourceItem, error)
}

// DestinationClient searches destination tracks and writes them into a destination playlist.
//
// Platform failures are reported as [*DestinationError].
type DestinationClient interface {
	// SearchCandidates returns tracks matching a free text query.
	SearchCandidates(ctx context.Context, query string) ([]models.Candidate, error)

	// AddOrUpdateTrack places trackURI at position, adding it when absent and moving it when present elsewhere.
	AddOrUpdateTrack(ctx context.Context, destinationPlaylistID, trackURI string, position int) error
}

// PlaylistCreator is implemented by destination clients able to create playlists.
type PlaylistCreator interface {
	CreatePlaylist(ctx context.Context, name, description string) (id, uri string, err error)
}

// DestinationStateReader is implemented by destination clients able to list a playlist's track URIs in order.
type DestinationStateReader interface {
	PlaylistTrackURIs(ctx context.Context, destinationPlaylistID string) ([]string, error)
}

// SourcePlaylist describes a source playlist without its items.
type SourcePlaylist struct {
	ID          string
	Title       string
	Description string
	ItemCount   int
}
