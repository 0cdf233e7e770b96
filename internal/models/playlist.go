package models

import (
	"fmt"
	"time"

	"github.com/desertthunder/ytsync/internal/shared"
)

// Playlist is a YouTube playlist mirrored into a Spotify playlist.
//
// sync_status and last_synced_at are only changed by the orchestrator at operation boundaries.
type Playlist struct {
	base
	userID         string
	title          string
	description    string
	sourceID       string
	destinationID  string
	destinationURI string
	syncStatus     SyncStatus
	sourceStatus   SourceStatus
	lastSyncedAt   *time.Time
}

// NewPlaylist creates an idle playlist linked to the given YouTube playlist ID (may be empty).
func NewPlaylist(userID, title, sourceID string) *Playlist {
	return &Playlist{
		base:         newBase(),
		userID:       userID,
		title:        title,
		sourceID:     sourceID,
		syncStatus:   SyncIdle,
		sourceStatus: SourceActive,
	}
}

func (p *Playlist) UserID() string             { return p.userID }
func (p *Playlist) Title() string              { return p.title }
func (p *Playlist) Description() string        { return p.description }
func (p *Playlist) SourceID() string           { return p.sourceID }
func (p *Playlist) DestinationID() string      { return p.destinationID }
func (p *Playlist) DestinationURI() string     { return p.destinationURI }
func (p *Playlist) SyncStatus() SyncStatus     { return p.syncStatus }
func (p *Playlist) SourceStatus() SourceStatus { return p.sourceStatus }
func (p *Playlist) LastSyncedAt() *time.Time   { return p.lastSyncedAt }

func (p *Playlist) SetTitle(title string)             { p.title = title }
func (p *Playlist) SetDescription(description string) { p.description = description }
func (p *Playlist) SetSourceID(id string)             { p.sourceID = id }
func (p *Playlist) SetSyncStatus(s SyncStatus)        { p.syncStatus = s }
func (p *Playlist) SetSourceStatus(s SourceStatus)    { p.sourceStatus = s }
func (p *Playlist) SetLastSyncedAt(t *time.Time)      { p.lastSyncedAt = t }

// SetDestination links the Spotify playlist ID and URI.
func (p *Playlist) SetDestination(id, uri string) {
	p.destinationID = id
	p.destinationURI = uri
}

// IsSyncing reports whether an operation currently holds the playlist.
func (p *Playlist) IsSyncing() bool { return p.syncStatus == SyncSyncing }

func (p *Playlist) Validate() error {
	if p.userID == "" {
		return fmt.Errorf("%w: playlist user is required", shared.ErrInvalidInput)
	}
	if p.title == "" {
		return fmt.Errorf("%w: playlist title is required", shared.ErrInvalidInput)
	}
	if !p.syncStatus.Valid() {
		return fmt.Errorf("%w: unknown sync status %q", shared.ErrInvalidInput, p.syncStatus)
	}
	if !p.sourceStatus.Valid() {
		return fmt.Errorf("%w: unknown source status %q", shared.ErrInvalidInput, p.sourceStatus)
	}
	return nil
}
