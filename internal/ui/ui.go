package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/desertthunder/ytsync/internal/formatter"
	"github.com/desertthunder/ytsync/internal/models"
	"github.com/desertthunder/ytsync/internal/tasks"
)

// ViewState represents the current view in the TUI.
type ViewState int

const (
	PlaylistListView ViewState = iota
	DetailView
	ConfirmView
	SyncView
	ResultView
)

// Model represents the TUI application state.
type Model struct {
	ctx          context.Context
	backend      Backend
	view         ViewState
	width        int
	height       int
	playlistList list.Model
	detail       *Detail
	trigger      models.Trigger
	progressChan chan tasks.ProgressUpdate
	done         chan Msg
	progress     tasks.ProgressUpdate
	spinner      spinner.Model
	report       *tasks.Report
	err          error
	help         help.Model
	keys         keyMap
}

// NewModel creates a new TUI model reading from backend.
func NewModel(ctx context.Context, backend Backend) *Model {
	l := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	l.Title = "Linked Playlists"

	return &Model{
		ctx:          ctx,
		backend:      backend,
		view:         PlaylistListView,
		playlistList: l,
		spinner:      spinner.New(spinner.WithSpinner(spinner.Dot)),
		help:         help.New(),
		keys:         newKeyMap(),
	}
}

// Init loads the linked playlists.
func (m *Model) Init() tea.Cmd {
	return m.loadPlaylists()
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.playlistList.SetSize(msg.Width-4, msg.Height-8)
		return m, nil

	case tea.KeyMsg:
		switch m.view {
		case PlaylistListView:
			return m.handlePlaylistListKeys(msg)
		case DetailView:
			return m.handleDetailKeys(msg)
		case ConfirmView:
			return m.handleConfirmKeys(msg)
		case SyncView:
			if msg.String() == "ctrl+c" {
				return m, tea.Quit
			}
			return m, nil
		case ResultView:
			return m.handleResultKeys(msg)
		}

	case spinner.TickMsg:
		if m.view != SyncView {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case Msg:
		return m.handleMsg(msg)
	}

	return m.updateList(msg)
}

func (m *Model) handleMsg(msg Msg) (tea.Model, tea.Cmd) {
	switch msg.kind {
	case MsgPlaylistsLoaded:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		playlists, _ := msg.data.([]*models.Playlist)
		cmd := m.playlistList.SetItems(playlistItems(playlists))
		return m, cmd

	case MsgDetailLoaded:
		if msg.err != nil {
			m.err = msg.err
			m.view = PlaylistListView
			return m, nil
		}
		m.err = nil
		m.detail, _ = msg.data.(*Detail)
		m.view = DetailView
		return m, nil

	case MsgProgressUpdate:
		m.progress, _ = msg.data.(tasks.ProgressUpdate)
		return m, m.waitForProgress()

	case MsgSyncComplete:
		m.report, _ = msg.data.(*tasks.Report)
		m.err = msg.err
		m.progressChan = nil
		m.done = nil
		m.view = ResultView
		return m, nil
	}
	return m, nil
}

// View renders the UI based on the current view state.
func (m *Model) View() string {
	if m.err != nil && m.view == PlaylistListView {
		return styles.err.Render(fmt.Sprintf("Error: %v\n\nPress ctrl+r to reload, q to quit", m.err))
	}

	switch m.view {
	case PlaylistListView:
		return m.renderPlaylistList()
	case DetailView:
		return m.renderDetail()
	case ConfirmView:
		return m.renderConfirm()
	case SyncView:
		return m.renderSync()
	case ResultView:
		return m.renderResult()
	default:
		return ""
	}
}

func (m *Model) handlePlaylistListKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.playlistList.FilterState() == list.Filtering {
		return m.updateList(msg)
	}

	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.refresh):
		return m, m.loadPlaylists()
	case key.Matches(msg, m.keys.enter):
		if pl, ok := m.playlistList.SelectedItem().(playlistItem); ok {
			return m, m.loadDetail(pl.playlist.ID())
		}
		return m, nil
	}
	return m.updateList(msg)
}

func (m *Model) handleDetailKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.back):
		m.view = PlaylistListView
		m.detail = nil
		return m, m.loadPlaylists()
	case key.Matches(msg, m.keys.refresh):
		return m, m.loadDetail(m.detail.Playlist.ID())
	case key.Matches(msg, m.keys.sync):
		m.trigger = models.TriggerUser
		m.view = ConfirmView
	case key.Matches(msg, m.keys.retry):
		m.trigger = models.TriggerRetry
		m.view = ConfirmView
	}
	return m, nil
}

func (m *Model) handleConfirmKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.yes):
		m.view = SyncView
		m.progress = tasks.ProgressUpdate{}
		return m, tea.Batch(m.startSync(), m.spinner.Tick)
	case key.Matches(msg, m.keys.no), key.Matches(msg, m.keys.back), key.Matches(msg, m.keys.quit):
		m.view = DetailView
	}
	return m, nil
}

func (m *Model) handleResultKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.back), key.Matches(msg, m.keys.enter):
		id := m.detail.Playlist.ID()
		m.report = nil
		m.err = nil
		return m, m.loadDetail(id)
	}
	return m, nil
}

func (m *Model) updateList(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.view != PlaylistListView {
		return m, nil
	}
	var cmd tea.Cmd
	m.playlistList, cmd = m.playlistList.Update(msg)
	return m, cmd
}

func (m *Model) loadPlaylists() tea.Cmd {
	return func() tea.Msg {
		return playlistsLoadedMsg(m.backend.Playlists(m.ctx))
	}
}

func (m *Model) loadDetail(playlistID string) tea.Cmd {
	return func() tea.Msg {
		return detailLoadedMsg(m.backend.Detail(m.ctx, playlistID))
	}
}

// startSync runs the operation in the background; updates arrive through waitForProgress.
func (m *Model) startSync() tea.Cmd {
	progress := make(chan tasks.ProgressUpdate, 64)
	done := make(chan Msg, 1)
	m.progressChan, m.done = progress, done

	req := tasks.Request{PlaylistID: m.detail.Playlist.ID(), Trigger: m.trigger, Progress: progress}
	go func() {
		report, err := m.backend.Sync(m.ctx, req)
		close(progress)
		done <- syncCompleteMsg(report, err)
	}()

	return m.waitForProgress()
}

func (m *Model) waitForProgress() tea.Cmd {
	progress, done := m.progressChan, m.done
	return func() tea.Msg {
		if progress == nil {
			return syncCompleteMsg(nil, nil)
		}
		if update, ok := <-progress; ok {
			return progressUpdateMsg(update)
		}
		return <-done
	}
}

func (m *Model) renderPlaylistList() string {
	helpView := m.help.ShortHelpView([]key.Binding{m.keys.enter, m.keys.refresh, m.keys.quit})
	return fmt.Sprintf("%s\n\n%s", m.playlistList.View(), helpView)
}

func (m *Model) renderDetail() string {
	d := m.detail
	var b strings.Builder

	b.WriteString(styles.title.Render(d.Playlist.Title()))
	b.WriteString("\n")
	fmt.Fprintf(&b, "Status: %s   Source: %s", styles.status(d.Playlist.SyncStatus()), d.Playlist.SourceStatus())
	if d.Playlist.DestinationURI() != "" {
		fmt.Fprintf(&b, "   Destination: %s", d.Playlist.DestinationURI())
	}
	b.WriteString("\n\n")

	if len(d.History) > 0 {
		b.WriteString("Recent operations\n")
		for _, op := range d.History {
			fmt.Fprintf(&b, "  %s  %-9s %-9s matched %d, unmatched %d, errors %d\n",
				op.CreatedAt().Local().Format("Jan 2 15:04"), styles.operation(op.Status()), op.Trigger(),
				op.MatchedCount(), op.UnmatchedCount(), op.ErrorCount())
		}
		b.WriteString("\n")
	}

	if len(d.Matches) == 0 {
		b.WriteString(styles.help.Render("No items yet. Press s to sync."))
		b.WriteString("\n")
	} else if table, err := formatter.MatchesToText(d.Matches); err == nil {
		b.Write(table)
	}

	b.WriteString("\n")
	b.WriteString(m.help.ShortHelpView([]key.Binding{m.keys.sync, m.keys.retry, m.keys.back, m.keys.quit}))
	return b.String()
}

func (m *Model) renderConfirm() string {
	action := "Sync"
	if m.trigger == models.TriggerRetry {
		action = "Retry"
	}
	title := styles.title.Render(fmt.Sprintf("%s '%s' to Spotify?", action, m.detail.Playlist.Title()))
	info := fmt.Sprintf("\nItems: %d\n", len(m.detail.Matches))
	helpView := m.help.ShortHelpView([]key.Binding{m.keys.yes, m.keys.no})
	return fmt.Sprintf("%s\n%s\n%s", title, info, helpView)
}

func (m *Model) renderSync() string {
	title := styles.title.Render(fmt.Sprintf("Syncing '%s'", m.detail.Playlist.Title()))

	phase := "Waiting for lease..."
	switch m.progress.Phase {
	case tasks.Claim:
		phase = "Claimed playlist"
	case tasks.FetchSource:
		phase = "Fetching YouTube playlist..."
	case tasks.Reconcile:
		phase = "Reconciling items..."
	case tasks.PrepareDestination:
		phase = "Preparing Spotify playlist..."
	case tasks.ProcessItems:
		phase = fmt.Sprintf("Matching tracks (%d/%d)", m.progress.Step, m.progress.Total)
	case tasks.Finalize:
		phase = "Recording outcome..."
	}

	return fmt.Sprintf("%s\n\n%s %s\n%s", title, m.spinner.View(), phase, styles.help.Render(m.progress.Message))
}

func (m *Model) renderResult() string {
	helpView := m.help.ShortHelpView([]key.Binding{m.keys.back, m.keys.quit})

	if m.err != nil {
		return fmt.Sprintf("%s\n\n%s", styles.err.Render(fmt.Sprintf("Sync not started: %v", m.err)), helpView)
	}
	if m.report == nil || m.report.Operation == nil {
		return fmt.Sprintf("%s\n\n%s", styles.err.Render("No result available"), helpView)
	}

	var title string
	switch m.report.Operation.Status() {
	case models.OperationCompleted:
		title = styles.ok.Render("✓ Sync complete")
	case models.OperationPartial:
		title = styles.warn.Render("! Sync partially complete")
	default:
		title = styles.err.Render("✗ Sync failed")
	}

	return fmt.Sprintf("%s\n\n%s\n%s", title, formatter.ReportToText(m.report, false), helpView)
}
