package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/ytsync/internal/formatter"
	"github.com/desertthunder/ytsync/internal/models"
	"github.com/desertthunder/ytsync/internal/shared"
)

// matchCommand inspects and overrides track matches.
func matchCommand(r *Runner) *cli.Command {
	itemFlags := func() []cli.Flag {
		return []cli.Flag{
			emailFlag(),
			&cli.StringFlag{Name: "playlist", Aliases: []string{"p"}, Usage: "Treat the item argument as a video ID within this playlist"},
		}
	}

	return &cli.Command{
		Name:  "match",
		Usage: "Inspect and override track matches",
		Commands: []*cli.Command{
			{
				Name:      "list",
				Usage:     "Show the active match of every item in a playlist",
				Arguments: []cli.Argument{&cli.StringArg{Name: "playlist"}},
				Flags: []cli.Flag{
					emailFlag(),
					formatFlag(),
					&cli.BoolFlag{Name: "removed", Usage: "Include items removed from the source"},
				},
				Action: r.MatchList,
			},
			{
				Name:      "history",
				Usage:     "Show every match recorded for an item",
				Arguments: []cli.Argument{&cli.StringArg{Name: "item"}},
				Flags:     itemFlags(),
				Action:    r.MatchHistory,
			},
			{
				Name:  "override",
				Usage: "Pin an item to a Spotify track",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "item"},
					&cli.StringArg{Name: "track"},
				},
				Flags:  itemFlags(),
				Action: r.MatchOverride,
			},
			{
				Name:      "clear",
				Usage:     "Remove a manual override so automatic matching resumes",
				Arguments: []cli.Argument{&cli.StringArg{Name: "item"}},
				Flags:     itemFlags(),
				Action:    r.MatchClear,
			},
		},
	}
}

// MatchList prints the active match table of a playlist.
func (r *Runner) MatchList(ctx context.Context, cmd *cli.Command) error {
	if err := r.requireStore(); err != nil {
		return err
	}

	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	p, err := r.resolvePlaylist(ctx, cmd, cmd.StringArg("playlist"))
	if err != nil {
		return err
	}

	items, err := r.store.Items.ListByPlaylist(ctx, p.ID(), cmd.Bool("removed"))
	if err != nil {
		return err
	}
	active, err := r.store.Matches.ActiveByPlaylist(ctx, p.ID())
	if err != nil {
		return err
	}

	rows := make([]formatter.MatchRow, 0, len(items))
	for _, item := range items {
		rows = append(rows, formatter.NewMatchRow(item, active[item.ID()]))
	}
	return formatter.WriteMatches(r.output, format, rows)
}

// MatchHistory prints all matches of one item, best first.
func (r *Runner) MatchHistory(ctx context.Context, cmd *cli.Command) error {
	if err := r.requireStore(); err != nil {
		return err
	}

	item, err := r.resolveItem(ctx, cmd)
	if err != nil {
		return err
	}

	history, err := r.store.Matches.History(ctx, item.ID())
	if err != nil {
		return err
	}
	if len(history) == 0 {
		return r.writePlain("No matches recorded for '%s'.\n", item.Title())
	}

	r.writePlain("%s (%s)\n\n", item.Title(), item.SourceVideoID())
	tw := tabwriter.NewWriter(r.output, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MATCHED AT\tTRACK\tMETHOD\tCONFIDENCE\tACTIVE")
	for _, m := range history {
		active := ""
		if m.IsActive() {
			active = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.4f\t%s\n",
			m.MatchedAt().Local().Format(time.DateTime), m.TrackURI(), m.Method(), m.Confidence(), active)
	}
	return tw.Flush()
}

// MatchOverride records a manual match and makes it active.
func (r *Runner) MatchOverride(ctx context.Context, cmd *cli.Command) error {
	if err := r.requireStore(); err != nil {
		return err
	}

	item, err := r.resolveItem(ctx, cmd)
	if err != nil {
		return err
	}

	trackID, trackURI, err := parseTrack(cmd.StringArg("track"))
	if err != nil {
		return err
	}

	m, err := r.store.Matches.Override(ctx, item.ID(), trackID, trackURI, map[string]any{
		"source_title":  item.Title(),
		"overridden_at": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	r.logger.Info("manual match recorded", "item", item.ID(), "track", trackURI, "match", m.ID())
	return r.writePlain("✓ '%s' now maps to %s\n", item.Title(), trackURI)
}

// MatchClear deactivates the item's manual match.
func (r *Runner) MatchClear(ctx context.Context, cmd *cli.Command) error {
	if err := r.requireStore(); err != nil {
		return err
	}

	item, err := r.resolveItem(ctx, cmd)
	if err != nil {
		return err
	}

	if err := r.store.Matches.ClearOverride(ctx, item.ID()); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return fmt.Errorf("%w: '%s' has no manual match", shared.ErrNotFound, item.Title())
		}
		return err
	}

	r.logger.Info("manual match cleared", "item", item.ID())
	return r.writePlain("✓ Cleared override for '%s'; it will be rematched on the next sync\n", item.Title())
}

// resolveItem reads the item argument as an item ID, or as a video ID when --playlist is set.
func (r *Runner) resolveItem(ctx context.Context, cmd *cli.Command) (*models.PlaylistItem, error) {
	ref := cmd.StringArg("item")
	if ref == "" {
		return nil, fmt.Errorf("%w: item", shared.ErrMissingArgument)
	}

	if pl := cmd.String("playlist"); pl != "" {
		p, err := r.resolvePlaylist(ctx, cmd, pl)
		if err != nil {
			return nil, err
		}
		return r.store.Items.GetBySourceVideo(ctx, p.ID(), ref)
	}
	return r.store.Items.Get(ctx, ref)
}

// parseTrack accepts a Spotify track URI, an open.spotify.com track link or a bare track ID.
func parseTrack(ref string) (id, uri string, err error) {
	ref = strings.TrimSpace(ref)
	switch {
	case ref == "":
		return "", "", fmt.Errorf("%w: track", shared.ErrMissingArgument)
	case strings.HasPrefix(ref, "spotify:track:"):
		id = strings.TrimPrefix(ref, "spotify:track:")
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		u, perr := url.Parse(ref)
		if perr != nil || u.Host != "open.spotify.com" {
			return "", "", fmt.Errorf("%w: not a Spotify track link: %s", shared.ErrInvalidArgument, ref)
		}
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		if len(parts) < 2 || parts[len(parts)-2] != "track" {
			return "", "", fmt.Errorf("%w: not a Spotify track link: %s", shared.ErrInvalidArgument, ref)
		}
		id = parts[len(parts)-1]
	case strings.Contains(ref, ":"), strings.Contains(ref, "/"):
		return "", "", fmt.Errorf("%w: unrecognized track %q", shared.ErrInvalidArgument, ref)
	default:
		id = ref
	}

	if id == "" {
		return "", "", fmt.Errorf("%w: empty track id in %q", shared.ErrInvalidArgument, ref)
	}
	return id, "spotify:track:" + id, nil
}
