package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/urfave/cli/v3"

	"github.com/desertthunder/ytsync/internal/shared"
	"github.com/desertthunder/ytsync/internal/ui"
)

// tuiCommand returns the top-level TUI command for interactive syncing.
func tuiCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "tui",
		Aliases: []string{"interactive", "ui"},
		Usage:   "Launch the interactive sync dashboard",
		Flags: []cli.Flag{
			emailFlag(),
			&cli.StringFlag{Name: "log-file", Usage: "Where dashboard logs are written", Value: "./tmp/ytsync-tui.log"},
		},
		Action: r.TUI,
	}
}

// TUI launches the dashboard for the current user's playlists.
func (r *Runner) TUI(ctx context.Context, cmd *cli.Command) error {
	if err := r.requireOrchestrator(); err != nil {
		return err
	}

	user, err := r.currentUser(ctx, cmd)
	if err != nil {
		return err
	}

	// The orchestrator shares this logger, so redirecting it keeps every log line off the screen.
	closer, err := shared.RedirectToFile(r.logger, cmd.String("log-file"))
	if err != nil {
		return err
	}
	defer closer.Close()

	model := ui.NewModel(ctx, ui.NewStoreBackend(r.store, r.orchestrator, user.ID()))
	if _, err := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx)).Run(); err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}

	return nil
}
