package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/desertthunder/ytsync/internal/models"
)

var styles = NewPalette("#7D56F4", "#04B575", "#FF0000", "#FFA500", "#626262")

// struct Palette is a simple stylesheet built with named [lipgloss.Style] fields
type Palette struct {
	title lipgloss.Style
	ok    lipgloss.Style
	err   lipgloss.Style
	warn  lipgloss.Style
	help  lipgloss.Style
}

func NewPalette(t, s, e, w, h string) *Palette {
	return &Palette{
		title: NewBold(t).MarginBottom(1),
		ok:    NewBold(s),
		err:   NewBold(e),
		warn:  NewStyle(w),
		help:  NewEm(h),
	}
}

func NewStyle(fg string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(fg))
}

func NewBold(fg string) lipgloss.Style {
	return NewStyle(fg).Bold(true)
}

func NewEm(fg string) lipgloss.Style {
	return NewStyle(fg).Italic(true)
}

// status paints a playlist sync status with the palette color for its outcome.
func (p *Palette) status(s models.SyncStatus) string {
	switch s {
	case models.SyncSuccess:
		return p.ok.Render(string(s))
	case models.SyncFailed:
		return p.err.Render(string(s))
	case models.SyncPartial, models.SyncSyncing, models.SyncQueued:
		return p.warn.Render(string(s))
	default:
		return p.help.Render(string(s))
	}
}

// operation paints a terminal operation status.
func (p *Palette) operation(s models.OperationStatus) string {
	return p.status(s.PlaylistStatus())
}
