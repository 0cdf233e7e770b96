package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/desertthunder/ytsync/internal/models"
	"github.com/desertthunder/ytsync/internal/shared"
)

// BatchResult is the result of one playlist in [Orchestrator.SyncAll].
type BatchResult struct {
	PlaylistID string
	Title      string
	Report     *Report
	Skipped    bool // another sync held the playlist
	Err        error
}

// SyncAll queues every linked playlist (of userID, or of everyone when empty) that is not
// syncing and runs them with bounded concurrency. Playlists busy at queue or claim time are skipped.
func (o *Orchestrator) SyncAll(ctx context.Context, userID string, trigger models.Trigger, progress chan<- ProgressUpdate) ([]BatchResult, error) {
	if trigger == "" {
		trigger = models.TriggerScheduled
	}

	playlists, err := o.store.Playlists.List(ctx, map[string]any{"user_id": userID, "linked": true})
	if err != nil {
		return nil, fmt.Errorf("failed to list playlists: %w", err)
	}

	var (
		mu      sync.Mutex
		results = make([]BatchResult, len(playlists))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Concurrency)

	for i, p := range playlists {
		results[i] = BatchResult{PlaylistID: p.ID(), Title: p.Title()}

		queued, err := o.store.Playlists.Enqueue(ctx, p.ID())
		if err != nil {
			results[i].Err = err
			continue
		}
		if !queued {
			results[i].Skipped = true
			o.logger.Info("skipping busy playlist", "playlist", p.ID())
			continue
		}

		g.Go(func() error {
			report, err := o.Sync(gctx, Request{PlaylistID: p.ID(), Trigger: trigger, Progress: progress})

			mu.Lock()
			defer mu.Unlock()
			results[i].Report = report
			switch {
			case errors.Is(err, shared.ErrSyncInProgress):
				results[i].Skipped = true
			case err != nil:
				results[i].Err = err
				o.restore(ctx, p)
			}
			return nil
		})
	}

	_ = g.Wait()
	return results, ctx.Err()
}

// restore puts back the status a playlist had before it was queued by a batch that never ran it.
func (o *Orchestrator) restore(ctx context.Context, p *models.Playlist) {
	status := p.SyncStatus()
	if status == models.SyncSyncing || status == models.SyncQueued {
		status = models.SyncIdle
	}
	if err := o.store.Playlists.Release(context.WithoutCancel(ctx), p.ID(), status, nil); err != nil {
		o.logger.Error("failed to restore playlist status", "playlist", p.ID(), "error", err)
	}
}
