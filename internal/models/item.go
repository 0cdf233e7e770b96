package models

import (
	"fmt"

	"github.com/desertthunder/ytsync/internal/shared"
)

// PlaylistItem is one entry of a playlist's source list, unique per (playlist, source video).
//
// Items are never deleted outside a playlist cascade; removal from the source is a flag so
// match history survives.
type PlaylistItem struct {
	base
	playlistID        string
	sourceVideoID     string
	title             string
	channel           string
	durationSeconds   int
	thumbnailURL      string
	position          int
	removedFromSource bool
}

// NewPlaylistItem creates an item for the given playlist from fetched source metadata.
func NewPlaylistItem(playlistID string, src SourceItem) *PlaylistItem {
	item := &PlaylistItem{base: newBase(), playlistID: playlistID, sourceVideoID: src.ID}
	item.setMetadata(src)
	return item
}

func (i *PlaylistItem) PlaylistID() string      { return i.playlistID }
func (i *PlaylistItem) SourceVideoID() string   { return i.sourceVideoID }
func (i *PlaylistItem) Title() string           { return i.title }
func (i *PlaylistItem) Channel() string         { return i.channel }
func (i *PlaylistItem) DurationSeconds() int    { return i.durationSeconds }
func (i *PlaylistItem) ThumbnailURL() string    { return i.thumbnailURL }
func (i *PlaylistItem) Position() int           { return i.position }
func (i *PlaylistItem) RemovedFromSource() bool { return i.removedFromSource }

func (i *PlaylistItem) SetRemovedFromSource(removed bool) { i.removedFromSource = removed }

// Apply copies fresh source metadata and position onto the item and clears the removed flag.
func (i *PlaylistItem) Apply(src SourceItem) {
	i.setMetadata(src)
	i.removedFromSource = false
}

// MarkRemoved flags the item as no longer served by the source platform.
func (i *PlaylistItem) MarkRemoved() { i.removedFromSource = true }

// Snapshot returns the cached source metadata as a [SourceItem].
func (i *PlaylistItem) Snapshot() SourceItem {
	return SourceItem{
		ID:              i.sourceVideoID,
		Title:           i.title,
		Channel:         i.channel,
		DurationSeconds: i.durationSeconds,
		ThumbnailURL:    i.thumbnailURL,
		Position:        i.position,
	}
}

// MetadataEqual reports whether the cached metadata (excluding position) matches src.
func (i *PlaylistItem) MetadataEqual(src SourceItem) bool {
	return i.title == src.Title &&
		i.channel == src.Channel &&
		i.durationSeconds == src.DurationSeconds &&
		i.thumbnailURL == src.ThumbnailURL
}

// Clone returns an independent copy.
func (i *PlaylistItem) Clone() *PlaylistItem {
	c := *i
	return &c
}

func (i *PlaylistItem) setMetadata(src SourceItem) {
	i.title = src.Title
	i.channel = src.Channel
	i.durationSeconds = src.DurationSeconds
	i.thumbnailURL = src.ThumbnailURL
	i.position = src.Position
}

func (i *PlaylistItem) Validate() error {
	if i.playlistID == "" {
		return fmt.Errorf("%w: item playlist is required", shared.ErrInvalidInput)
	}
	if i.sourceVideoID == "" {
		return fmt.Errorf("%w: item source video id is required", shared.ErrInvalidInput)
	}
	if i.position < 0 {
		return fmt.Errorf("%w: negative position %d", shared.ErrInvalidInput, i.position)
	}
	if i.durationSeconds < 0 {
		return fmt.Errorf("%w: negative duration %d", shared.ErrInvalidInput, i.durationSeconds)
	}
	return nil
}
