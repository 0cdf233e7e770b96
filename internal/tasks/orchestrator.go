package tasks

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/desertthunder/ytsync/internal/lease"
	"github.com/desertthunder/ytsync/internal/ledger"
	"github.com/desertthunder/ytsync/internal/matcher"
	"github.com/desertthunder/ytsync/internal/models"
	"github.com/desertthunder/ytsync/internal/reconcile"
	"github.com/desertthunder/ytsync/internal/repositories"
	"github.com/desertthunder/ytsync/internal/services"
	"github.com/desertthunder/ytsync/internal/shared"
)

// Request asks for one sync of a playlist.
type Request struct {
	PlaylistID string
	Trigger    models.Trigger // defaults to user
	Rematch    []string       // item ids or video ids to re-evaluate even when manually matched
	Progress   chan<- ProgressUpdate
}

// Report describes a finished operation.
type Report struct {
	Playlist   *models.Playlist
	Operation  *models.SyncOperation
	Reconcile  reconcile.Stats
	Duplicates []string
	Outcomes   []ItemOutcome
	Cause      error // operation-level failure or cancellation, nil otherwise
}

// Orchestrator drives sync operations end to end.
//
// One playlist is synced by at most one operation at a time: a lease keyed by playlist guards
// processes sharing a store, and a compare-and-set claim on sync_status guards the store itself.
type Orchestrator struct {
	store   *repositories.Store
	ledger  *ledger.Ledger
	locker  lease.Locker
	matcher *matcher.Matcher
	source  services.SourceClient
	dest    services.DestinationClient
	cfg     shared.SyncConfig
	limiter *rate.Limiter
	logger  *log.Logger
	now     func() time.Time
	sleep   func(context.Context, time.Duration) error
}

// Option configures an [Orchestrator].
type Option func(*Orchestrator)

// WithLocker replaces the in-process locker, e.g. with a [lease.RedisLocker].
func WithLocker(l lease.Locker) Option {
	return func(o *Orchestrator) { o.locker = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithSleep replaces the backoff sleep, for tests.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(o *Orchestrator) { o.sleep = sleep }
}

// NewOrchestrator wires the engine. Zero config values fall back to [shared.DefaultConfig].
func NewOrchestrator(
	store *repositories.Store,
	source services.SourceClient,
	dest services.DestinationClient,
	cfg shared.SyncConfig,
	logger *log.Logger,
	opts ...Option,
) *Orchestrator {
	cfg = withDefaults(cfg)
	o := &Orchestrator{
		store:   store,
		locker:  lease.NewLocalLocker(),
		matcher: matcher.New(cfg.MatchThreshold),
		source:  source,
		dest:    dest,
		cfg:     cfg,
		limiter: newLimiter(cfg.DestinationRPS),
		logger:  logger,
		now:     time.Now,
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.ledger = ledger.New(store.Operations, logger, ledger.WithClock(o.now))
	return o
}

// Ledger exposes the operation ledger for history queries.
func (o *Orchestrator) Ledger() *ledger.Ledger { return o.ledger }

// Sync runs one operation for req.PlaylistID.
//
// An error is returned only when no operation could be recorded: the playlist is unknown, another
// sync holds it ([shared.ErrSyncInProgress]), a retry is not allowed ([shared.ErrRetryNotAllowed]),
// or the store failed. Operation failures are reported through [Report.Operation] and [Report.Cause].
func (o *Orchestrator) Sync(ctx context.Context, req Request) (*Report, error) {
	if req.Trigger == "" {
		req.Trigger = models.TriggerUser
	}
	if !req.Trigger.Valid() {
		return nil, fmt.Errorf("%w: unknown trigger %q", shared.ErrInvalidInput, req.Trigger)
	}

	held, err := o.locker.Acquire(ctx, lease.Key(req.PlaylistID), o.cfg.LeaseTTL)
	if errors.Is(err, shared.ErrLeaseHeld) {
		return nil, fmt.Errorf("%w: %w", shared.ErrSyncInProgress, err)
	}
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := held.Release(context.WithoutCancel(ctx)); err != nil {
			o.logger.Warn("failed to release lease", "key", held.Key(), "error", err)
		}
	}()

	playlist, previous, err := o.store.Playlists.Claim(ctx, req.PlaylistID, o.now().Add(-o.cfg.LeaseTTL))
	if err != nil {
		return nil, err
	}

	if n, err := o.ledger.Abandon(ctx, playlist.ID(), "abandoned: worker stopped before finishing"); err != nil {
		o.unclaim(ctx, playlist.ID(), previous)
		return nil, err
	} else if n > 0 {
		previous = models.SyncFailed
	}

	op, err := o.ledger.Begin(ctx, playlist.ID(), req.Trigger)
	if err != nil {
		o.unclaim(ctx, playlist.ID(), previous)
		return nil, err
	}
	if err := o.ledger.Start(ctx, op); err != nil {
		o.unclaim(ctx, playlist.ID(), previous)
		return nil, err
	}

	logger := shared.WithLogger(o.logger, "playlist", playlist.ID(), "operation", op.ID())
	logger.Info("sync started", "trigger", req.Trigger, "title", playlist.Title())
	sendProgress(req.Progress, claimedUpdate(playlist, op))

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stop := o.heartbeat(runCtx, cancel, held, playlist.ID(), logger)

	run := &syncRun{
		Orchestrator: o,
		ctx:          runCtx,
		req:          req,
		playlist:     playlist,
		op:           op,
		logger:       logger,
		report:       &Report{Playlist: playlist, Operation: op},
	}
	out := run.execute()
	stop()
	return run.finish(out)
}

// heartbeat renews the lease and the playlist claim every LeaseTTL/3 until stop is called.
// A failed renewal cancels the run with [shared.ErrClaimLost] so it never outlives its claim.
func (o *Orchestrator) heartbeat(ctx context.Context, cancel context.CancelCauseFunc, held lease.Lease, playlistID string, logger *log.Logger) (stop func()) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(max(o.cfg.LeaseTTL/3, time.Millisecond))
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			err := held.Extend(ctx, o.cfg.LeaseTTL)
			if err == nil {
				err = o.store.Playlists.Heartbeat(ctx, playlistID)
			}
			if err != nil && ctx.Err() == nil {
				if !errors.Is(err, shared.ErrClaimLost) {
					err = fmt.Errorf("%w: %w", shared.ErrClaimLost, err)
				}
				logger.Error("sync claim lost; canceling", "error", err)
				cancel(err)
				return
			}
		}
	}()

	return func() {
		close(done)
		wg.Wait()
	}
}

// unclaim restores the status held before a claim that never produced an operation.
func (o *Orchestrator) unclaim(ctx context.Context, id string, previous models.SyncStatus) {
	if previous == models.SyncSyncing || !previous.Valid() {
		previous = models.SyncIdle
	}
	if err := o.store.Playlists.Release(context.WithoutCancel(ctx), id, previous, nil); err != nil {
		o.logger.Error("failed to release playlist claim", "playlist", id, "error", err)
	}
}

// syncRun holds the state of one operation.
type syncRun struct {
	*Orchestrator
	ctx      context.Context
	req      Request
	playlist *models.Playlist
	op       *models.SyncOperation
	logger   *log.Logger
	report   *Report
}

// execute runs every phase and returns the outcome to record.
func (r *syncRun) execute() models.Outcome {
	ctx := r.ctx

	items, err := r.fetch(ctx)
	if err != nil {
		return r.abort(err)
	}

	current, changed, err := r.reconcile(ctx, items)
	if err != nil {
		return r.abort(err)
	}

	if err := r.ensureDestination(ctx); err != nil {
		return r.abort(err)
	}

	jobs, err := r.plan(ctx, current, changed)
	if err != nil {
		return r.abort(err)
	}

	outcomes, cause := r.process(ctx, jobs)
	r.report.Outcomes = outcomes
	return r.tally(outcomes, cause)
}

// fetch lists source items within the fetch timeout and keeps source_status current.
func (r *syncRun) fetch(ctx context.Context) ([]models.SourceItem, error) {
	if r.playlist.SourceID() == "" {
		return nil, fmt.Errorf("%w: %s", shared.ErrNoSource, r.playlist.ID())
	}

	sendProgress(r.req.Progress, fetchingSourceUpdate(r.playlist))
	fctx, cancel := context.WithTimeout(ctx, r.cfg.FetchTimeout)
	defer cancel()

	items, err := r.source.ListItems(fctx, r.playlist.SourceID())
	if err != nil {
		var srcErr *services.SourceError
		if errors.As(err, &srcErr) {
			r.setSourceStatus(ctx, srcErr.SourceStatus())
			return nil, err
		}
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: fetching source playlist after %s", shared.ErrTimeout, r.cfg.FetchTimeout)
		}
		return nil, fmt.Errorf("failed to fetch source playlist: %w", err)
	}

	if r.playlist.SourceStatus() != models.SourceActive {
		r.setSourceStatus(ctx, models.SourceActive)
	}
	sendProgress(r.req.Progress, fetchedSourceUpdate(len(items)))
	r.logger.Debug("fetched source", "items", len(items))
	return items, nil
}

func (r *syncRun) setSourceStatus(ctx context.Context, status models.SourceStatus) {
	if err := r.store.Playlists.SetSourceStatus(context.WithoutCancel(ctx), r.playlist.ID(), status); err != nil {
		r.logger.Error("failed to update source status", "status", status, "error", err)
		return
	}
	r.playlist.SetSourceStatus(status)
}

// reconcile diffs and persists items. It returns the items the source still serves and the IDs
// of items whose metadata changed.
func (r *syncRun) reconcile(ctx context.Context, items []models.SourceItem) ([]*models.PlaylistItem, map[string]bool, error) {
	stored, err := r.store.Items.ListByPlaylist(ctx, r.playlist.ID(), true)
	if err != nil {
		return nil, nil, err
	}

	res := reconcile.Reconcile(r.playlist, stored, items)
	if res.HasChanges() {
		changes := repositories.ItemChanges{Insert: res.Inserts, Update: res.UpdatedItems(), Remove: res.Removals}
		if err := r.store.Items.ApplyChanges(ctx, changes); err != nil {
			return nil, nil, fmt.Errorf("failed to persist reconciliation: %w", err)
		}
	}
	if len(res.Duplicates) > 0 {
		r.logger.Warn("source lists duplicate videos; first occurrence kept", "ids", res.Duplicates)
	}

	stats := res.Stats()
	r.report.Reconcile = stats
	r.report.Duplicates = res.Duplicates
	sendProgress(r.req.Progress, reconciledUpdate(stats))
	r.logger.Debug("reconciled", "inserted", stats.Inserted, "updated", stats.Updated,
		"removed", stats.Removed, "unchanged", stats.Unchanged)

	changed := make(map[string]bool, len(res.Updates))
	for _, u := range res.Updates {
		if u.MetadataChanged {
			changed[u.Item.ID()] = true
		}
	}
	return res.Current(), changed, nil
}

// ensureDestination creates the Spotify playlist on first sync.
func (r *syncRun) ensureDestination(ctx context.Context) error {
	if r.playlist.DestinationID() != "" {
		return nil
	}

	creator, ok := r.dest.(services.PlaylistCreator)
	if !ok {
		return fmt.Errorf("%w: %s", shared.ErrNoDestination, r.playlist.ID())
	}

	var id, uri string
	err := r.callDestination(ctx, func(ctx context.Context) error {
		var err error
		id, uri, err = creator.CreatePlaylist(ctx, r.playlist.Title(), r.playlist.Description())
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to create destination playlist: %w", err)
	}

	if err := r.store.Playlists.SetDestination(ctx, r.playlist.ID(), id, uri); err != nil {
		return err
	}
	r.playlist.SetDestination(id, uri)
	sendProgress(r.req.Progress, createdDestinationUpdate(id))
	r.logger.Info("created destination playlist", "destination", id)
	return nil
}

// plan pairs every current item with its active match and decides whether to run the matcher.
func (r *syncRun) plan(ctx context.Context, current []*models.PlaylistItem, changed map[string]bool) ([]job, error) {
	active, err := r.store.Matches.ActiveByPlaylist(ctx, r.playlist.ID())
	if err != nil {
		return nil, err
	}

	var state *destinationState
	if reader, ok := r.dest.(services.DestinationStateReader); ok {
		var uris []string
		err := r.callDestination(ctx, func(ctx context.Context) error {
			var err error
			uris, err = reader.PlaylistTrackURIs(ctx, r.playlist.DestinationID())
			return err
		})
		switch {
		case err == nil:
			state = &destinationState{uris: uris}
		case fatal(err):
			return nil, err
		default:
			r.logger.Warn("destination state unavailable; relying on applied bookkeeping", "error", err)
		}
	}

	jobs := make([]job, 0, len(current))
	for _, item := range current {
		existing := active[item.ID()]
		rematch := slices.Contains(r.req.Rematch, item.ID()) || slices.Contains(r.req.Rematch, item.SourceVideoID())

		needsMatch := existing == nil || rematch
		if existing != nil && !existing.IsManual() && changed[item.ID()] {
			needsMatch = true
		}
		jobs = append(jobs, job{item: item, existing: existing, needsMatch: needsMatch, state: state})
	}
	return jobs, nil
}

// abort turns an operation-level failure into a failed outcome.
func (r *syncRun) abort(err error) models.Outcome {
	r.report.Cause = err
	if errors.Is(err, context.Canceled) {
		r.logger.Warn("sync canceled", "error", err)
	} else {
		r.logger.Error("sync aborted", "error", err)
	}

	var srcErr *services.SourceError
	retry := errors.Is(err, shared.ErrTimeout) || rateLimited(err) ||
		(errors.As(err, &srcErr) && srcErr.Kind == services.SourceUnavailable)

	return models.Outcome{
		Status:           models.OperationFailed,
		ErrorCount:       1,
		Errors:           map[string]string{ledger.OperationKey: err.Error()},
		RetryRecommended: retry,
	}
}

// tally merges per-item outcomes into the operation outcome.
func (r *syncRun) tally(outcomes []ItemOutcome, cause error) models.Outcome {
	out := models.Outcome{Errors: map[string]string{}}
	for _, o := range outcomes {
		switch o.Kind {
		case OutcomeMatched:
			out.Matched++
		case OutcomeUnmatched:
			out.Unmatched++
			out.Errors[o.ItemID] = UnmatchedReason
		case OutcomeFailed:
			out.ErrorCount++
			out.Errors[o.ItemID] = o.Err.Error()
			if rateLimited(o.Err) {
				out.RetryRecommended = true
			}
		}
	}

	total := len(outcomes)
	failures := out.ErrorCount + out.Unmatched

	switch {
	case cause != nil && (errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded)):
		r.report.Cause = cause
		out.Errors[ledger.OperationKey] = "canceled: " + cause.Error()
		out.Status = models.OperationFailed
		if out.Matched > 0 {
			out.Status = models.OperationPartial
		}
	case cause != nil:
		r.report.Cause = cause
		r.logger.Error("sync aborted", "error", cause)
		out.Errors[ledger.OperationKey] = cause.Error()
		out.ErrorCount++
		out.Status = models.OperationFailed
		out.RetryRecommended = out.RetryRecommended || rateLimited(cause)
	case failures == 0:
		out.Status = models.OperationCompleted
	case failures < total:
		out.Status = models.OperationPartial
	default:
		out.Status = models.OperationFailed
	}
	return out
}

// finish records the outcome and releases the claim even when ctx was canceled.
func (r *syncRun) finish(out models.Outcome) (*Report, error) {
	ctx := context.WithoutCancel(r.ctx)

	lost := errors.Is(context.Cause(r.ctx), shared.ErrClaimLost)

	if err := r.ledger.Finish(ctx, r.op, out); err != nil {
		r.logger.Error("failed to record outcome", "error", err)
		if !lost && !errors.Is(err, shared.ErrInvalidTransition) {
			r.unclaim(ctx, r.playlist.ID(), models.SyncFailed)
		}
		return r.report, err
	}

	if lost {
		// The playlist row may already belong to another sync; its status is theirs to write.
		r.logger.Warn("sync claim lost; leaving playlist status untouched", "status", r.op.Status())
		sendProgress(r.req.Progress, finishedUpdate(r.op))
		return r.report, nil
	}

	status := out.Status.PlaylistStatus()
	var syncedAt *time.Time
	if out.Status != models.OperationFailed {
		now := r.now().UTC()
		syncedAt = &now
		r.playlist.SetLastSyncedAt(syncedAt)
	}
	if err := r.store.Playlists.Release(ctx, r.playlist.ID(), status, syncedAt); err != nil {
		return r.report, err
	}
	r.playlist.SetSyncStatus(status)

	sendProgress(r.req.Progress, finishedUpdate(r.op))
	r.logger.Info("sync finished", "status", r.op.Status(), "matched", r.op.MatchedCount(),
		"unmatched", r.op.UnmatchedCount(), "errors", r.op.ErrorCount(), "duration", r.op.Duration())
	return r.report, nil
}

// callDestination runs fn under the rate limiter, retrying rate-limited calls with exponential backoff.
func (o *Orchestrator) callDestination(ctx context.Context, fn func(context.Context) error) error {
	for attempt := 0; ; attempt++ {
		if err := o.limiter.Wait(ctx); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}

		var destErr *services.DestinationError
		if !errors.As(err, &destErr) || destErr.Kind != services.DestinationRateLimited || attempt >= o.cfg.MaxRetries {
			return err
		}

		wait := o.backoff(attempt, destErr.RetryAfter)
		o.logger.Debug("destination rate limited; backing off", "attempt", attempt+1, "wait", wait)
		if err := o.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// backoff returns base·2^attempt capped at BackoffMax, or hint when the platform asked for longer.
func (o *Orchestrator) backoff(attempt int, hint time.Duration) time.Duration {
	d := o.cfg.BackoffBase << attempt
	if d <= 0 || d > o.cfg.BackoffMax {
		d = o.cfg.BackoffMax
	}
	return max(d, hint)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(rps), 1)
}

func withDefaults(cfg shared.SyncConfig) shared.SyncConfig {
	def := shared.DefaultConfig().Sync
	if cfg.MatchThreshold <= 0 || cfg.MatchThreshold > 1 {
		cfg.MatchThreshold = def.MatchThreshold
	}
	if cfg.Workers < 1 {
		cfg.Workers = def.Workers
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = def.FetchTimeout
	}
	if cfg.ItemTimeout <= 0 {
		cfg.ItemTimeout = def.ItemTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = def.BackoffBase
	}
	if cfg.BackoffMax < cfg.BackoffBase {
		cfg.BackoffMax = max(def.BackoffMax, cfg.BackoffBase)
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = def.LeaseTTL
	}
	return cfg
}
