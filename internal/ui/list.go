package ui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"

	"github.com/desertthunder/ytsync/internal/models"
)

var _ list.Item = playlistItem{}

// playlistItem wraps [models.Playlist] to implement [list.Item].
type playlistItem struct {
	playlist *models.Playlist
}

func (i playlistItem) FilterValue() string { return i.playlist.Title() }
func (i playlistItem) Title() string       { return i.playlist.Title() }
func (i playlistItem) Description() string {
	desc := fmt.Sprintf("%s • source %s", i.playlist.SyncStatus(), i.playlist.SourceID())
	if i.playlist.SourceStatus() != models.SourceActive {
		desc = fmt.Sprintf("%s (%s)", desc, i.playlist.SourceStatus())
	}
	if last := i.playlist.LastSyncedAt(); last != nil {
		desc = fmt.Sprintf("%s • synced %s", desc, last.Local().Format("Jan 2 15:04"))
	}
	return desc
}

func playlistItems(playlists []*models.Playlist) []list.Item {
	items := make([]list.Item, len(playlists))
	for i, p := range playlists {
		items[i] = playlistItem{playlist: p}
	}
	return items
}
