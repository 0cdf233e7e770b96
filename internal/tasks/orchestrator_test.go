package tasks

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/desertthunder/ytsync/internal/lease"
	"github.com/desertthunder/ytsync/internal/models"
	"github.com/desertthunder/ytsync/internal/repositories"
	"github.com/desertthunder/ytsync/internal/services"
	"github.com/desertthunder/ytsync/internal/shared"
	th "github.com/desertthunder/ytsync/internal/testing"
)

var catalog = []models.Candidate{
	{ID: "t1", URI: "spotify:track:t1", Title: "Never Gonna Give You Up", Artists: []string{"Rick Astley"}, DurationSeconds: 213},
	{ID: "t2", URI: "spotify:track:t2", Title: "Take On Me", Artists: []string{"a-ha"}, DurationSeconds: 225},
	{ID: "t3", URI: "spotify:track:t3", Title: "Africa", Artists: []string{"Toto"}, DurationSeconds: 295},
}

var (
	rick  = models.SourceItem{ID: "v1", Title: "Rick Astley - Never Gonna Give You Up (Official Music Video)", Channel: "Rick Astley", DurationSeconds: 213}
	aha   = models.SourceItem{ID: "v2", Title: "a-ha - Take On Me (Official Video)", Channel: "a-ha", DurationSeconds: 225}
	toto  = models.SourceItem{ID: "v3", Title: "Toto - Africa (Official HD Video)", Channel: "TotoVEVO", DurationSeconds: 295}
	nomad = models.SourceItem{ID: "vx", Title: "Zzyzx Quartet - Lullaby Nobody Wrote", Channel: "Zzyzx", DurationSeconds: 180}
)

type env struct {
	store    *repositories.Store
	source   *th.FakeSource
	dest     *th.FakeDestination
	orch     *Orchestrator
	playlist *models.Playlist
	cfg      shared.SyncConfig

	mu     sync.Mutex
	sleeps []time.Duration
}

func newEnv(t *testing.T, configure ...func(*shared.SyncConfig)) *env {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = shared.RunMigrations(db)
	require.NoError(t, err)

	e := &env{
		store:  repositories.NewStore(db),
		source: th.NewFakeSource(),
		dest:   th.NewFakeDestination(catalog...),
		cfg: shared.SyncConfig{
			Workers:     1,
			MaxRetries:  3,
			BackoffBase: 10 * time.Millisecond,
			BackoffMax:  100 * time.Millisecond,
		},
	}
	for _, fn := range configure {
		fn(&e.cfg)
	}

	e.playlist = e.seedPlaylist(t, "Road Trip", "PL1")
	e.orch = e.newOrchestrator()
	return e
}

func (e *env) newOrchestrator(opts ...Option) *Orchestrator {
	sleep := func(ctx context.Context, d time.Duration) error {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.sleeps = append(e.sleeps, d)
		return ctx.Err()
	}
	opts = append([]Option{WithSleep(sleep)}, opts...)
	return NewOrchestrator(e.store, e.source, e.dest, e.cfg, shared.NewLogger(io.Discard), opts...)
}

func (e *env) seedPlaylist(t *testing.T, title, sourceID string) *models.Playlist {
	t.Helper()
	ctx := context.Background()
	user, err := e.store.Users.FindOrCreate(ctx, "sync@example.com", "Sync")
	require.NoError(t, err)
	p := models.NewPlaylist(user.ID(), title, sourceID)
	require.NoError(t, e.store.Playlists.Create(ctx, p))
	return p
}

func (e *env) sync(t *testing.T, req Request) *Report {
	t.Helper()
	if req.PlaylistID == "" {
		req.PlaylistID = e.playlist.ID()
	}
	report, err := e.orch.Sync(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, report)
	return report
}

func (e *env) reload(t *testing.T) *models.Playlist {
	t.Helper()
	p, err := e.store.Playlists.Get(context.Background(), e.playlist.ID())
	require.NoError(t, err)
	return p
}

func (e *env) item(t *testing.T, videoID string) *models.PlaylistItem {
	t.Helper()
	item, err := e.store.Items.GetBySourceVideo(context.Background(), e.playlist.ID(), videoID)
	require.NoError(t, err)
	return item
}

func (e *env) active(t *testing.T, videoID string) *models.TrackMatch {
	t.Helper()
	m, err := e.store.Matches.Active(context.Background(), e.item(t, videoID).ID())
	require.NoError(t, err)
	return m
}

func TestSync(t *testing.T) {
	ctx := context.Background()

	t.Run("first sync creates destination and matches every item", func(t *testing.T) {
		e := newEnv(t)
		e.source.Set("PL1", rick, aha, toto)

		report := e.sync(t, Request{})

		op := report.Operation
		assert.Equal(t, models.OperationCompleted, op.Status())
		assert.Equal(t, 3, op.MatchedCount())
		assert.Zero(t, op.UnmatchedCount())
		assert.Zero(t, op.ErrorCount())
		assert.NotNil(t, op.EndedAt())
		assert.Equal(t, 3, report.Reconcile.Inserted)
		assert.Len(t, report.Outcomes, 3)

		p := e.reload(t)
		assert.Equal(t, models.SyncSuccess, p.SyncStatus())
		assert.Equal(t, "sp-1", p.DestinationID())
		assert.NotNil(t, p.LastSyncedAt())

		assert.Equal(t, []string{"spotify:track:t1", "spotify:track:t2", "spotify:track:t3"}, e.dest.Tracks("sp-1"))

		m := e.active(t, "v3")
		assert.Equal(t, "t3", m.TrackID())
		assert.Equal(t, models.MatchFuzzy, m.Method())
		assert.True(t, m.IsAppliedAt(2))
	})

	t.Run("re-running an unchanged playlist is a no-op", func(t *testing.T) {
		e := newEnv(t)
		e.source.Set("PL1", rick, aha, toto)
		e.sync(t, Request{})

		searches, writes := e.dest.Searches(), e.dest.Writes()
		report := e.sync(t, Request{Trigger: models.TriggerScheduled})

		assert.Equal(t, models.OperationCompleted, report.Operation.Status())
		assert.Equal(t, 3, report.Operation.MatchedCount())
		assert.Equal(t, searches, e.dest.Searches(), "matcher must not run for matched unchanged items")
		assert.Equal(t, writes, e.dest.Writes(), "already applied matches must not be written again")
		assert.Equal(t, 3, len(e.dest.Tracks("sp-1")))
		assert.Equal(t, 1, e.dest.Created())

		history, err := e.store.Matches.History(ctx, e.item(t, "v1").ID())
		require.NoError(t, err)
		assert.Len(t, history, 1)

		ops, err := e.orch.Ledger().History(ctx, e.playlist.ID(), 0)
		require.NoError(t, err)
		assert.Len(t, ops, 2)
	})

	t.Run("one new item runs the matcher once", func(t *testing.T) {
		e := newEnv(t)
		e.source.Set("PL1", rick, aha)
		e.sync(t, Request{})

		e.source.Set("PL1", rick, aha, toto)
		searches := e.dest.Searches()
		report := e.sync(t, Request{})

		assert.Equal(t, 1, report.Reconcile.Inserted)
		assert.Zero(t, report.Reconcile.Updated)
		assert.Equal(t, searches+1, e.dest.Searches())
		assert.Equal(t, models.OperationCompleted, report.Operation.Status())
	})

	t.Run("unmatched item makes the operation partial", func(t *testing.T) {
		e := newEnv(t)
		e.source.Set("PL1", rick, nomad)

		report := e.sync(t, Request{})
		op := report.Operation

		assert.Equal(t, models.OperationPartial, op.Status())
		assert.Equal(t, 1, op.MatchedCount())
		assert.Equal(t, 1, op.UnmatchedCount())
		assert.Zero(t, op.ErrorCount())

		nomadItem := e.item(t, "vx")
		assert.Equal(t, UnmatchedReason, op.Errors()[nomadItem.ID()])
		assert.Equal(t, models.SyncPartial, e.reload(t).SyncStatus())

		_, err := e.store.Matches.Active(ctx, nomadItem.ID())
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})

	t.Run("only unmatched items fails the operation", func(t *testing.T) {
		e := newEnv(t)
		e.source.Set("PL1", nomad)

		report := e.sync(t, Request{})
		assert.Equal(t, models.OperationFailed, report.Operation.Status())
		assert.Equal(t, 1, report.Operation.UnmatchedCount())
	})

	t.Run("source unavailable fails without processing items", func(t *testing.T) {
		e := newEnv(t)
		e.source.Fail("PL1", &services.SourceError{Kind: services.SourceUnavailable, PlaylistID: "PL1"})

		report := e.sync(t, Request{})
		op := report.Operation

		assert.Equal(t, models.OperationFailed, op.Status())
		assert.Zero(t, op.MatchedCount()+op.UnmatchedCount())
		assert.True(t, op.RetryRecommended())
		assert.Contains(t, op.Errors()["operation"], "source unavailable")
		assert.Empty(t, report.Outcomes)
		assert.ErrorIs(t, report.Cause, services.ErrSourceUnavailable)

		p := e.reload(t)
		assert.Equal(t, models.SourceUnavailable, p.SourceStatus())
		assert.Equal(t, models.SyncFailed, p.SyncStatus())
		assert.Nil(t, p.LastSyncedAt())

		e.source.Fail("PL1", nil)
		e.source.Set("PL1", rick)
		report = e.sync(t, Request{Trigger: models.TriggerRetry})
		assert.Equal(t, models.OperationCompleted, report.Operation.Status())
		assert.Equal(t, models.SourceActive, e.reload(t).SourceStatus())
	})

	t.Run("private source updates source status", func(t *testing.T) {
		e := newEnv(t)
		e.source.Fail("PL1", &services.SourceError{Kind: services.SourcePrivate, PlaylistID: "PL1"})

		report := e.sync(t, Request{})
		assert.Equal(t, models.OperationFailed, report.Operation.Status())
		assert.False(t, report.Operation.RetryRecommended())
		assert.Equal(t, models.SourcePrivate, e.reload(t).SourceStatus())
	})

	t.Run("playlist without source fails", func(t *testing.T) {
		e := newEnv(t)
		unlinked := e.seedPlaylist(t, "Draft", "")

		report := e.sync(t, Request{PlaylistID: unlinked.ID()})
		assert.Equal(t, models.OperationFailed, report.Operation.Status())
		assert.ErrorIs(t, report.Cause, shared.ErrNoSource)
	})

	t.Run("apply failure on one item is isolated", func(t *testing.T) {
		e := newEnv(t)
		e.source.Set("PL1", rick, aha, toto)
		e.dest.FailApply("spotify:track:t2", errors.New("boom"))

		report := e.sync(t, Request{})
		op := report.Operation

		assert.Equal(t, models.OperationPartial, op.Status())
		assert.Equal(t, 2, op.MatchedCount())
		assert.Equal(t, 1, op.ErrorCount())
		require.Len(t, op.Errors(), 1)
		assert.Contains(t, op.Errors()[e.item(t, "v2").ID()], "boom")

		var applyErr *ApplyError
		require.ErrorAs(t, report.Outcomes[1].Err, &applyErr)
		assert.Equal(t, "spotify:track:t2", applyErr.TrackURI)

		report = e.sync(t, Request{Trigger: models.TriggerRetry})
		assert.Equal(t, models.OperationCompleted, report.Operation.Status())
		assert.Contains(t, e.dest.Tracks("sp-1"), "spotify:track:t2")
	})

	t.Run("slow source fetch times out the operation", func(t *testing.T) {
		e := newEnv(t, func(c *shared.SyncConfig) { c.FetchTimeout = 20 * time.Millisecond })
		e.source.OnList = func(ctx context.Context, _ string) error {
			<-ctx.Done()
			return ctx.Err()
		}
		e.source.Set("PL1", rick)

		report := e.sync(t, Request{})
		assert.Equal(t, models.OperationFailed, report.Operation.Status())
		assert.ErrorIs(t, report.Cause, shared.ErrTimeout)
		assert.True(t, report.Operation.RetryRecommended())
		assert.Empty(t, report.Outcomes)
		assert.Equal(t, models.SourceActive, e.reload(t).SourceStatus())
	})

	t.Run("item timeout is recorded per item", func(t *testing.T) {
		e := newEnv(t, func(c *shared.SyncConfig) { c.ItemTimeout = 20 * time.Millisecond })
		e.dest.OnApply = func(ctx context.Context, uri string) error {
			if uri == "spotify:track:t2" {
				<-ctx.Done()
				return ctx.Err()
			}
			return nil
		}
		e.source.Set("PL1", rick, aha, toto)

		report := e.sync(t, Request{})
		assert.Equal(t, models.OperationPartial, report.Operation.Status())
		assert.Equal(t, 2, report.Operation.MatchedCount())
		assert.ErrorIs(t, report.Outcomes[1].Err, shared.ErrTimeout)
	})

	t.Run("auth expiry aborts the operation", func(t *testing.T) {
		e := newEnv(t)
		e.source.Set("PL1", rick, aha, toto)
		e.dest.FailApply("spotify:track:t1", &services.DestinationError{Kind: services.DestinationAuthExpired})

		report := e.sync(t, Request{})
		op := report.Operation

		assert.Equal(t, models.OperationFailed, op.Status())
		assert.ErrorIs(t, report.Cause, services.ErrDestinationAuthExpired)
		assert.Contains(t, op.Errors(), "operation")
		assert.Empty(t, report.Outcomes, "no item after the abort is processed")
		assert.Equal(t, models.SyncFailed, e.reload(t).SyncStatus())
	})

	t.Run("rate limits back off and retry", func(t *testing.T) {
		e := newEnv(t)
		e.source.Set("PL1", rick)
		limited := &services.DestinationError{Kind: services.DestinationRateLimited}
		e.dest.FailApply("spotify:track:t1", limited, limited)

		report := e.sync(t, Request{})
		assert.Equal(t, models.OperationCompleted, report.Operation.Status())
		assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, e.sleeps)
		assert.False(t, report.Operation.RetryRecommended())
	})

	t.Run("exhausted rate limit recommends retry", func(t *testing.T) {
		e := newEnv(t)
		e.source.Set("PL1", rick, aha)
		limited := &services.DestinationError{Kind: services.DestinationRateLimited, RetryAfter: 50 * time.Millisecond}
		e.dest.FailApply("spotify:track:t1", limited, limited, limited, limited)

		report := e.sync(t, Request{})
		op := report.Operation
		assert.Equal(t, models.OperationPartial, op.Status())
		assert.Equal(t, 1, op.ErrorCount())
		assert.True(t, op.RetryRecommended())
		assert.Len(t, e.sleeps, 3)
		assert.Equal(t, 50*time.Millisecond, e.sleeps[0], "retry-after wins when longer")
	})

	t.Run("cancellation keeps committed work", func(t *testing.T) {
		e := newEnv(t)
		e.source.Set("PL1", rick, aha, toto)

		cctx, cancel := context.WithCancel(ctx)
		defer cancel()
		calls := 0
		e.dest.OnApply = func(ctx context.Context, uri string) error {
			calls++
			if calls == 2 {
				cancel()
				return context.Canceled
			}
			return nil
		}

		report, err := e.orch.Sync(cctx, Request{PlaylistID: e.playlist.ID()})
		require.NoError(t, err)

		op := report.Operation
		assert.Equal(t, models.OperationPartial, op.Status())
		assert.Equal(t, 1, op.MatchedCount())
		assert.ErrorIs(t, report.Cause, context.Canceled)
		assert.NotNil(t, op.EndedAt())
		assert.Equal(t, models.SyncPartial, e.reload(t).SyncStatus())
	})

	t.Run("removed items are flagged and keep their matches", func(t *testing.T) {
		e := newEnv(t)
		e.source.Set("PL1", rick, aha, toto)
		e.sync(t, Request{})

		e.source.Set("PL1", rick, aha)
		report := e.sync(t, Request{})

		assert.Equal(t, 1, report.Reconcile.Removed)
		assert.Equal(t, 2, report.Operation.MatchedCount())
		assert.Equal(t, models.OperationCompleted, report.Operation.Status())

		removed := e.item(t, "v3")
		assert.True(t, removed.RemovedFromSource())
		n, err := e.store.Matches.CountActive(ctx, removed.ID())
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		e.source.Set("PL1", rick, aha, toto)
		report = e.sync(t, Request{})
		assert.Equal(t, 1, report.Reconcile.Updated)
		assert.False(t, e.item(t, "v3").RemovedFromSource())
	})

	t.Run("moved and restored items reuse their matches", func(t *testing.T) {
		e := newEnv(t)
		e.source.Set("PL1", rick, aha, toto)
		e.sync(t, Request{})
		searches := e.dest.Searches()

		e.source.Set("PL1", toto, rick, aha)
		report := e.sync(t, Request{})

		assert.Equal(t, 3, report.Reconcile.Updated)
		assert.Equal(t, models.OperationCompleted, report.Operation.Status())
		assert.Equal(t, searches, e.dest.Searches(), "a position change must not re-run the matcher")
		assert.Equal(t, []string{"spotify:track:t3", "spotify:track:t1", "spotify:track:t2"}, e.dest.Tracks("sp-1"))
		assert.True(t, e.active(t, "v3").IsAppliedAt(0))

		e.source.Set("PL1", toto, rick)
		e.sync(t, Request{})
		e.source.Set("PL1", toto, rick, aha)
		report = e.sync(t, Request{})

		assert.Equal(t, 1, report.Reconcile.Updated)
		assert.Equal(t, searches, e.dest.Searches(), "a restored item must not re-run the matcher")

		history, err := e.store.Matches.History(ctx, e.item(t, "v2").ID())
		require.NoError(t, err)
		assert.Len(t, history, 1)
	})

	t.Run("manual overrides survive automatic matching", func(t *testing.T) {
		e := newEnv(t)
		e.source.Set("PL1", rick, aha)
		e.sync(t, Request{})

		before := e.active(t, "v1")
		manual, err := e.store.Matches.Override(ctx, e.item(t, "v1").ID(), "m1", "spotify:track:m1", nil)
		require.NoError(t, err)

		old, err := e.store.Matches.Get(ctx, before.ID())
		require.NoError(t, err)
		assert.False(t, old.IsActive(), "former automatic match is deactivated, not deleted")

		changed := rick
		changed.Title = "Rick Astley - Never Gonna Give You Up (Remastered 4K)"
		e.source.Set("PL1", changed, aha)
		searches := e.dest.Searches()

		report := e.sync(t, Request{})
		assert.Equal(t, 1, report.Reconcile.Updated)
		assert.Equal(t, searches, e.dest.Searches(), "manual matches are not re-evaluated")
		assert.Equal(t, manual.ID(), e.active(t, "v1").ID())
		assert.Equal(t, "spotify:track:m1", e.dest.Tracks("sp-1")[0])

		report = e.sync(t, Request{Rematch: []string{"v1"}})
		assert.Equal(t, models.OperationCompleted, report.Operation.Status())
		rematched := e.active(t, "v1")
		assert.Equal(t, "t1", rematched.TrackID())
		assert.Equal(t, models.MatchFuzzy, rematched.Method())
		assert.Equal(t, "spotify:track:t1", e.dest.Tracks("sp-1")[0])

		history, err := e.store.Matches.History(ctx, e.item(t, "v1").ID())
		require.NoError(t, err)
		assert.Len(t, history, 3)
	})

	t.Run("exact id matches win", func(t *testing.T) {
		e := newEnv(t)
		e.dest = th.NewFakeDestination(append(catalog, models.Candidate{
			ID: "t9", URI: "spotify:track:t9", Title: "Never Gonna (Live)", Artists: []string{"Tribute"},
			Description: "originally https://youtu.be/v1",
		})...)
		e.orch = e.newOrchestrator()
		e.source.Set("PL1", rick)

		e.sync(t, Request{})
		m := e.active(t, "v1")
		assert.Equal(t, "t9", m.TrackID())
		assert.Equal(t, models.MatchExactID, m.Method())
		assert.Equal(t, 1.0, m.Confidence())
	})

	t.Run("progress updates", func(t *testing.T) {
		e := newEnv(t)
		e.source.Set("PL1", rick, aha)
		progress := make(chan ProgressUpdate, 64)

		e.sync(t, Request{Progress: progress})
		close(progress)

		var phases []Phase
		for u := range progress {
			phases = append(phases, u.Phase)
		}
		assert.Equal(t, []Phase{Claim, FetchSource, FetchSource, Reconcile, PrepareDestination, ProcessItems, ProcessItems, Finalize}, phases)
	})

	t.Run("stale operations are abandoned", func(t *testing.T) {
		e := newEnv(t)
		e.source.Set("PL1", rick)

		stale, err := e.orch.Ledger().Begin(ctx, e.playlist.ID(), models.TriggerUser)
		require.NoError(t, err)
		require.NoError(t, e.orch.Ledger().Start(ctx, stale))

		e.sync(t, Request{})

		got, err := e.store.Operations.Get(ctx, stale.ID())
		require.NoError(t, err)
		assert.Equal(t, models.OperationFailed, got.Status())
		assert.NotNil(t, got.EndedAt())
	})
}

func TestSyncExclusivity(t *testing.T) {
	ctx := context.Background()

	t.Run("retry needs a failed or partial operation", func(t *testing.T) {
		e := newEnv(t)
		e.source.Set("PL1", rick)

		_, err := e.orch.Sync(ctx, Request{PlaylistID: e.playlist.ID(), Trigger: models.TriggerRetry})
		assert.ErrorIs(t, err, shared.ErrRetryNotAllowed)
		assert.Equal(t, models.SyncIdle, e.reload(t).SyncStatus(), "rejected claim restores the previous status")
	})

	t.Run("claimed playlist is rejected", func(t *testing.T) {
		e := newEnv(t)
		_, _, err := e.store.Playlists.Claim(ctx, e.playlist.ID(), time.Now().Add(-time.Hour))
		require.NoError(t, err)

		_, err = e.orch.Sync(ctx, Request{PlaylistID: e.playlist.ID()})
		assert.ErrorIs(t, err, shared.ErrSyncInProgress)
	})

	t.Run("held lease is rejected", func(t *testing.T) {
		e := newEnv(t)
		locker := lease.NewLocalLocker()
		_, err := locker.Acquire(ctx, lease.Key(e.playlist.ID()), time.Minute)
		require.NoError(t, err)

		orch := e.newOrchestrator(WithLocker(locker))
		_, err = orch.Sync(ctx, Request{PlaylistID: e.playlist.ID()})
		assert.ErrorIs(t, err, shared.ErrSyncInProgress)
		assert.ErrorIs(t, err, shared.ErrLeaseHeld)
	})

	t.Run("concurrent syncs run one at a time", func(t *testing.T) {
		e := newEnv(t)
		e.source.Set("PL1", rick)

		entered := make(chan struct{})
		release := make(chan struct{})
		var once sync.Once
		e.dest.OnApply = func(ctx context.Context, uri string) error {
			once.Do(func() { close(entered) })
			<-release
			return nil
		}

		done := make(chan error, 1)
		go func() {
			_, err := e.orch.Sync(ctx, Request{PlaylistID: e.playlist.ID()})
			done <- err
		}()
		<-entered

		_, err := e.orch.Sync(ctx, Request{PlaylistID: e.playlist.ID()})
		assert.ErrorIs(t, err, shared.ErrSyncInProgress, "same process")

		other := e.newOrchestrator()
		_, err = other.Sync(ctx, Request{PlaylistID: e.playlist.ID()})
		assert.ErrorIs(t, err, shared.ErrSyncInProgress, "separate process sharing the store")

		close(release)
		require.NoError(t, <-done)

		ops, err := e.orch.Ledger().History(ctx, e.playlist.ID(), 0)
		require.NoError(t, err)
		assert.Len(t, ops, 1)
	})

	t.Run("long sync keeps its claim past the lease ttl", func(t *testing.T) {
		e := newEnv(t, func(c *shared.SyncConfig) { c.LeaseTTL = 60 * time.Millisecond })
		e.source.Set("PL1", rick)

		entered := make(chan struct{})
		release := make(chan struct{})
		var once sync.Once
		e.dest.OnApply = func(ctx context.Context, uri string) error {
			once.Do(func() { close(entered) })
			select {
			case <-release:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		type result struct {
			report *Report
			err    error
		}
		done := make(chan result, 1)
		go func() {
			report, err := e.orch.Sync(ctx, Request{PlaylistID: e.playlist.ID()})
			done <- result{report, err}
		}()
		<-entered
		time.Sleep(200 * time.Millisecond)

		other := e.newOrchestrator()
		_, err := other.Sync(ctx, Request{PlaylistID: e.playlist.ID()})
		assert.ErrorIs(t, err, shared.ErrSyncInProgress, "a live sync must not look stale")

		close(release)
		res := <-done
		require.NoError(t, res.err)
		assert.Equal(t, models.OperationCompleted, res.report.Operation.Status())

		ops, err := e.orch.Ledger().History(ctx, e.playlist.ID(), 0)
		require.NoError(t, err)
		require.Len(t, ops, 1)
		assert.Equal(t, models.OperationCompleted, ops[0].Status())
		assert.Equal(t, models.SyncSuccess, e.reload(t).SyncStatus())
	})

	t.Run("losing the claim cancels the run", func(t *testing.T) {
		e := newEnv(t, func(c *shared.SyncConfig) { c.LeaseTTL = 60 * time.Millisecond })
		e.source.Set("PL1", rick)

		e.dest.OnApply = func(ctx context.Context, uri string) error {
			// Another worker resets the playlist while this one is mid-apply.
			if err := e.store.Playlists.Release(context.Background(), e.playlist.ID(), models.SyncIdle, nil); err != nil {
				return err
			}
			<-ctx.Done()
			return ctx.Err()
		}

		report := e.sync(t, Request{})
		assert.Equal(t, models.OperationFailed, report.Operation.Status())
		assert.ErrorIs(t, report.Cause, shared.ErrClaimLost)
		assert.Equal(t, models.SyncIdle, e.reload(t).SyncStatus(), "status written by the other worker is kept")
	})

	t.Run("worker pool counts every item once", func(t *testing.T) {
		e := newEnv(t, func(c *shared.SyncConfig) { c.Workers = 4 })
		e.source.Set("PL1", rick, aha, toto, nomad)
		e.dest.FailApply("spotify:track:t3", errors.New("boom"))

		report := e.sync(t, Request{})
		op := report.Operation
		assert.Equal(t, 2, op.MatchedCount())
		assert.Equal(t, 1, op.UnmatchedCount())
		assert.Equal(t, 1, op.ErrorCount())
		assert.Len(t, report.Outcomes, 4)
		assert.ElementsMatch(t, []string{"spotify:track:t1", "spotify:track:t2"}, e.dest.Tracks("sp-1"))

		for _, id := range []string{"v1", "v2", "v3"} {
			n, err := e.store.Matches.CountActive(ctx, e.item(t, id).ID())
			require.NoError(t, err)
			assert.Equal(t, 1, n, id)
		}
	})
}

func TestSyncAll(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, func(c *shared.SyncConfig) { c.Concurrency = 2 })
	second := e.seedPlaylist(t, "Chill", "PL2")
	busy := e.seedPlaylist(t, "Busy", "PL3")

	e.source.Set("PL1", rick, aha)
	e.source.Set("PL2", toto)
	_, _, err := e.store.Playlists.Claim(ctx, busy.ID(), time.Now().Add(-time.Hour))
	require.NoError(t, err)

	results, err := e.orch.SyncAll(ctx, "", models.TriggerScheduled, nil)
	require.NoError(t, err)
	require.Len(t, results, 3)

	byID := map[string]BatchResult{}
	for _, r := range results {
		byID[r.PlaylistID] = r
	}

	for _, id := range []string{e.playlist.ID(), second.ID()} {
		r := byID[id]
		require.NoError(t, r.Err)
		require.NotNil(t, r.Report)
		assert.Equal(t, models.OperationCompleted, r.Report.Operation.Status())
		assert.Equal(t, models.TriggerScheduled, r.Report.Operation.Trigger())
	}
	assert.True(t, byID[busy.ID()].Skipped)
	assert.Equal(t, 2, e.dest.Created())
}

func TestBackoff(t *testing.T) {
	o := &Orchestrator{cfg: shared.SyncConfig{BackoffBase: 100 * time.Millisecond, BackoffMax: time.Second}}

	tests := []struct {
		attempt int
		hint    time.Duration
		want    time.Duration
	}{
		{0, 0, 100 * time.Millisecond},
		{1, 0, 200 * time.Millisecond},
		{3, 0, 800 * time.Millisecond},
		{4, 0, time.Second},
		{40, 0, time.Second},
		{0, 5 * time.Second, 5 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, o.backoff(tt.attempt, tt.hint), "attempt %d hint %s", tt.attempt, tt.hint)
	}
}
