package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/ytsync/internal/models"
	"github.com/desertthunder/ytsync/internal/shared"
)

// playlistCommand links YouTube playlists to a user.
func playlistCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "playlist",
		Aliases: []string{"pl"},
		Usage:   "Manage linked playlists",
		Commands: []*cli.Command{
			{
				Name:      "link",
				Usage:     "Link a YouTube playlist for syncing",
				Arguments: []cli.Argument{&cli.StringArg{Name: "source-id"}},
				Flags: []cli.Flag{
					emailFlag(),
					&cli.StringFlag{Name: "name", Usage: "Display name used when the user is created"},
					&cli.StringFlag{Name: "title", Aliases: []string{"t"}, Usage: "Playlist title (looked up from YouTube when empty)"},
					&cli.StringFlag{Name: "description", Usage: "Playlist description"},
					&cli.StringFlag{Name: "destination", Aliases: []string{"d"}, Usage: "Existing Spotify playlist ID to sync into"},
				},
				Action: r.PlaylistLink,
			},
			{
				Name:  "list",
				Usage: "List linked playlists and their sync status",
				Flags: []cli.Flag{
					emailFlag(),
					&cli.StringFlag{Name: "status", Usage: "Only show playlists with this sync status"},
					&cli.BoolFlag{Name: "json", Usage: "Output raw JSON"},
				},
				Action: r.PlaylistList,
			},
			{
				Name:      "unlink",
				Usage:     "Delete a playlist with its items, matches and history",
				Arguments: []cli.Argument{&cli.StringArg{Name: "playlist"}},
				Flags:     []cli.Flag{emailFlag()},
				Action:    r.PlaylistUnlink,
			},
		},
	}
}

// PlaylistLink creates a playlist for the current user.
func (r *Runner) PlaylistLink(ctx context.Context, cmd *cli.Command) error {
	if err := r.requireStore(); err != nil {
		return err
	}

	sourceID := cmd.StringArg("source-id")
	if sourceID == "" {
		return fmt.Errorf("%w: source-id", shared.ErrMissingArgument)
	}

	user, err := r.currentUser(ctx, cmd)
	if err != nil {
		return err
	}

	title, description := cmd.String("title"), cmd.String("description")
	if title == "" {
		lookup, ok := r.source.(PlaylistLookup)
		if !ok {
			return fmt.Errorf("%w: --title is required", shared.ErrMissingArgument)
		}
		sp, err := lookup.Playlist(ctx, sourceID)
		if err != nil {
			return fmt.Errorf("failed to look up playlist %s: %w", sourceID, err)
		}
		title = sp.Title
		if description == "" {
			description = sp.Description
		}
	}

	p := models.NewPlaylist(user.ID(), title, sourceID)
	p.SetDescription(description)
	if dest := cmd.String("destination"); dest != "" {
		p.SetDestination(dest, "spotify:playlist:"+dest)
	}

	if err := r.store.Playlists.Create(ctx, p); err != nil {
		if errors.Is(err, shared.ErrDuplicate) {
			return fmt.Errorf("%w: %s is already linked for %s", shared.ErrDuplicate, sourceID, user.Email())
		}
		return err
	}

	r.logger.Info("playlist linked", "playlist", p.ID(), "source", sourceID, "user", user.Email())
	return r.writePlain("✓ Linked '%s' as %s\n", p.Title(), p.ID())
}

// PlaylistList prints the current user's playlists.
func (r *Runner) PlaylistList(ctx context.Context, cmd *cli.Command) error {
	if err := r.requireStore(); err != nil {
		return err
	}

	user, err := r.currentUser(ctx, cmd)
	if err != nil {
		return err
	}

	criteria := map[string]any{"user_id": user.ID()}
	if status := cmd.String("status"); status != "" {
		if !models.SyncStatus(status).Valid() {
			return fmt.Errorf("%w: --status %q", shared.ErrInvalidFlag, status)
		}
		criteria["sync_status"] = models.SyncStatus(status)
	}

	playlists, err := r.store.Playlists.List(ctx, criteria)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		rows := make([]map[string]any, 0, len(playlists))
		for _, p := range playlists {
			rows = append(rows, map[string]any{
				"id":             p.ID(),
				"title":          p.Title(),
				"source_id":      p.SourceID(),
				"destination_id": p.DestinationID(),
				"sync_status":    p.SyncStatus(),
				"source_status":  p.SourceStatus(),
				"last_synced_at": p.LastSyncedAt(),
			})
		}
		return r.writeJSON(rows, true)
	}

	if len(playlists) == 0 {
		return r.writePlain("No playlists linked for %s.\n", user.Email())
	}

	tw := tabwriter.NewWriter(r.output, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tSOURCE\tSPOTIFY\tSTATUS\tLAST SYNCED")
	for _, p := range playlists {
		last := "never"
		if at := p.LastSyncedAt(); at != nil {
			last = at.Local().Format(time.DateTime)
		}
		dest := p.DestinationID()
		if dest == "" {
			dest = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", p.ID(), p.Title(), p.SourceID(), dest, p.SyncStatus(), last)
	}
	return tw.Flush()
}

// PlaylistUnlink deletes a playlist. Syncing playlists are refused.
func (r *Runner) PlaylistUnlink(ctx context.Context, cmd *cli.Command) error {
	if err := r.requireStore(); err != nil {
		return err
	}

	p, err := r.resolvePlaylist(ctx, cmd, cmd.StringArg("playlist"))
	if err != nil {
		return err
	}
	if p.IsSyncing() {
		return fmt.Errorf("%w: %s", shared.ErrSyncInProgress, p.ID())
	}

	if err := r.store.Playlists.Delete(ctx, p.ID()); err != nil {
		return err
	}

	r.logger.Info("playlist unlinked", "playlist", p.ID())
	return r.writePlain("✓ Unlinked '%s'\n", p.Title())
}
