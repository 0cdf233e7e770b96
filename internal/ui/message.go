package ui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/desertthunder/ytsync/internal/models"
	"github.com/desertthunder/ytsync/internal/tasks"
)

// MsgKind enumerates all message types in the application.
type MsgKind int

// Msg represents all possible messages in the TUI (Elm-style message union).
type Msg struct {
	kind MsgKind
	data any
	err  error
}

var _ tea.Msg = Msg{}

const (
	MsgPlaylistsLoaded MsgKind = iota
	MsgDetailLoaded
	MsgProgressUpdate
	MsgSyncComplete
)

// playlistsLoadedMsg is the constructor for [MsgPlaylistsLoaded]
func playlistsLoadedMsg(playlists []*models.Playlist, err error) Msg {
	return Msg{kind: MsgPlaylistsLoaded, data: playlists, err: err}
}

// detailLoadedMsg is the constructor for [MsgDetailLoaded]
func detailLoadedMsg(detail *Detail, err error) Msg {
	return Msg{kind: MsgDetailLoaded, data: detail, err: err}
}

// progressUpdateMsg is the constructor for [MsgProgressUpdate]
func progressUpdateMsg(update tasks.ProgressUpdate) Msg {
	return Msg{kind: MsgProgressUpdate, data: update}
}

// syncCompleteMsg is the constructor for [MsgSyncComplete]
func syncCompleteMsg(report *tasks.Report, err error) Msg {
	return Msg{kind: MsgSyncComplete, data: report, err: err}
}
