package main

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/ytsync/internal/formatter"
	"github.com/desertthunder/ytsync/internal/models"
	"github.com/desertthunder/ytsync/internal/shared"
	"github.com/desertthunder/ytsync/internal/tasks"
)

// syncCommand runs and inspects sync operations.
func syncCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Sync YouTube playlists to Spotify",
		Commands: []*cli.Command{
			{
				Name:      "run",
				Usage:     "Sync one playlist now",
				Arguments: []cli.Argument{&cli.StringArg{Name: "playlist"}},
				Flags: []cli.Flag{
					emailFlag(),
					&cli.StringSliceFlag{
						Name:  "rematch",
						Usage: "Item or video ID to re-evaluate even when manually matched (repeatable)",
					},
					&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "Do not print progress"},
				},
				Action: r.SyncRun,
			},
			{
				Name:      "retry",
				Usage:     "Retry the last failed or partial operation of a playlist",
				Arguments: []cli.Argument{&cli.StringArg{Name: "playlist"}},
				Flags: []cli.Flag{
					emailFlag(),
					&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "Do not print progress"},
				},
				Action: r.SyncRetry,
			},
			{
				Name:  "all",
				Usage: "Sync every linked playlist that is not already syncing",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "email", Aliases: []string{"e"}, Usage: "Only sync this user's playlists"},
					&cli.StringFlag{Name: "trigger", Usage: "Trigger recorded on each operation (scheduled or user)", Value: string(models.TriggerScheduled)},
				},
				Action: r.SyncAll,
			},
			{
				Name:      "history",
				Usage:     "Show the operation history of a playlist",
				Arguments: []cli.Argument{&cli.StringArg{Name: "playlist"}},
				Flags: []cli.Flag{
					emailFlag(),
					formatFlag(),
					&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Usage: "Number of operations to show", Value: 20},
					&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Write to a file instead of stdout"},
				},
				Action: r.SyncHistory,
			},
		},
	}
}

// SyncRun syncs one playlist with the user trigger.
func (r *Runner) SyncRun(ctx context.Context, cmd *cli.Command) error {
	return r.runSync(ctx, cmd, models.TriggerUser, cmd.StringSlice("rematch"))
}

// SyncRetry syncs one playlist with the retry trigger; the ledger rejects it unless the last operation failed.
func (r *Runner) SyncRetry(ctx context.Context, cmd *cli.Command) error {
	return r.runSync(ctx, cmd, models.TriggerRetry, nil)
}

func (r *Runner) runSync(ctx context.Context, cmd *cli.Command, trigger models.Trigger, rematch []string) error {
	if err := r.requireOrchestrator(); err != nil {
		return err
	}

	p, err := r.resolvePlaylist(ctx, cmd, cmd.StringArg("playlist"))
	if err != nil {
		return err
	}

	progress, wait := r.printProgress(!cmd.Bool("quiet"))
	report, err := r.orchestrator.Sync(ctx, tasks.Request{
		PlaylistID: p.ID(),
		Trigger:    trigger,
		Rematch:    rematch,
		Progress:   progress,
	})
	wait()
	if err != nil {
		return err
	}

	if _, err := r.output.Write(formatter.ReportToText(report, cmd.Bool("verbose"))); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	if report.Operation.Status() == models.OperationFailed {
		return fmt.Errorf("sync of '%s' failed: %w", p.Title(), failureCause(report))
	}
	return nil
}

// printProgress drains progress updates onto the output until the returned wait func is called.
func (r *Runner) printProgress(enabled bool) (chan tasks.ProgressUpdate, func()) {
	if !enabled {
		return nil, func() {}
	}

	ch := make(chan tasks.ProgressUpdate, 64)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for u := range ch {
			if u.Total > 1 {
				r.writePlain("[%s %d/%d] %s\n", u.Phase, u.Step, u.Total, u.Message)
			} else {
				r.writePlain("[%s] %s\n", u.Phase, u.Message)
			}
		}
	}()

	return ch, func() {
		close(ch)
		wg.Wait()
	}
}

func failureCause(report *tasks.Report) error {
	if report.Cause != nil {
		return report.Cause
	}
	return fmt.Errorf("%d unmatched, %d errors", report.Operation.UnmatchedCount(), report.Operation.ErrorCount())
}

// SyncAll runs every idle linked playlist with bounded concurrency.
func (r *Runner) SyncAll(ctx context.Context, cmd *cli.Command) error {
	if err := r.requireOrchestrator(); err != nil {
		return err
	}

	trigger := models.Trigger(cmd.String("trigger"))
	if !trigger.Valid() || trigger == models.TriggerRetry {
		return fmt.Errorf("%w: --trigger %q", shared.ErrInvalidFlag, trigger)
	}

	var userID string
	if cmd.String("email") != "" {
		user, err := r.store.Users.GetByEmail(ctx, cmd.String("email"))
		if err != nil {
			return err
		}
		userID = user.ID()
	}

	results, err := r.orchestrator.SyncAll(ctx, userID, trigger, nil)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		return r.writePlain("No linked playlists.\n")
	}

	var failed int
	var buf bytes.Buffer
	for _, res := range results {
		switch {
		case res.Skipped:
			fmt.Fprintf(&buf, "- %s: skipped, already syncing\n", res.Title)
		case res.Err != nil:
			failed++
			fmt.Fprintf(&buf, "✗ %s: %v\n", res.Title, res.Err)
		case res.Report != nil:
			op := res.Report.Operation
			mark := "✓"
			if op.Status() != models.OperationCompleted {
				mark = "!"
			}
			if op.Status() == models.OperationFailed {
				failed++
			}
			fmt.Fprintf(&buf, "%s %s: %s (matched %d, unmatched %d, errors %d)\n",
				mark, res.Title, op.Status(), op.MatchedCount(), op.UnmatchedCount(), op.ErrorCount())
		}
	}
	if _, err := r.output.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	r.logger.Info("batch sync finished", "playlists", len(results), "failed", failed)
	if failed > 0 {
		return fmt.Errorf("%d of %d playlists failed", failed, len(results))
	}
	return nil
}

// SyncHistory renders the newest operations of a playlist.
func (r *Runner) SyncHistory(ctx context.Context, cmd *cli.Command) error {
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

	ops, err := r.ledger.History(ctx, p.ID(), cmd.Int("limit"))
	if err != nil {
		return err
	}

	if path := cmd.String("output"); path != "" {
		var buf bytes.Buffer
		if err := formatter.WriteHistory(&buf, format, p, ops, cmd.Bool("verbose")); err != nil {
			return err
		}
		if err := formatter.WriteFile(path, buf.Bytes()); err != nil {
			return err
		}
		return r.writePlain("✓ %d operations written to %s\n", len(ops), path)
	}
	return formatter.WriteHistory(r.output, format, p, ops, cmd.Bool("verbose"))
}
