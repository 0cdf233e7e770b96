// Package ledger records sync attempts as an append-only history.
//
// Every attempt is a new [models.SyncOperation]; a finished operation is never reopened.
// The ledger also gates retries: a retry is allowed only when the most recent operation for
// the playlist ended failed or partial.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/ytsync/internal/models"
	"github.com/desertthunder/ytsync/internal/shared"
)

// OperationKey is the error map key used for operation-level failures.
const OperationKey = "operation"

// Store persists operations. Implemented by repositories.OperationRepository.
type Store interface {
	Create(ctx context.Context, op *models.SyncOperation) error
	Update(ctx context.Context, op *models.SyncOperation) error
	Latest(ctx context.Context, playlistID string) (*models.SyncOperation, error)
	ListByPlaylist(ctx context.Context, playlistID string, limit int) ([]*models.SyncOperation, error)
	ListOpen(ctx context.Context, playlistID string) ([]*models.SyncOperation, error)
}

// Ledger drives operation records through queued → running → terminal.
type Ledger struct {
	store  Store
	logger *log.Logger
	now    func() time.Time
}

// Option configures a [Ledger].
type Option func(*Ledger)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates a ledger over store.
func New(store Store, logger *log.Logger, opts ...Option) *Ledger {
	l := &Ledger{store: store, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Begin appends a queued operation. A retry trigger is rejected with [shared.ErrRetryNotAllowed]
// unless the latest operation ended failed or partial.
func (l *Ledger) Begin(ctx context.Context, playlistID string, trigger models.Trigger) (*models.SyncOperation, error) {
	if !trigger.Valid() {
		return nil, fmt.Errorf("%w: unknown trigger %q", shared.ErrInvalidInput, trigger)
	}

	if trigger == models.TriggerRetry {
		ok, latest, err := l.CanRetry(ctx, playlistID)
		if err != nil {
			return nil, err
		}
		if !ok {
			reason := "no previous operation"
			if latest != nil {
				reason = fmt.Sprintf("latest operation is %s", latest.Status())
			}
			return nil, fmt.Errorf("%w: %s", shared.ErrRetryNotAllowed, reason)
		}
	}

	op := models.NewSyncOperation(playlistID, trigger)
	if err := l.store.Create(ctx, op); err != nil {
		return nil, fmt.Errorf("failed to record operation: %w", err)
	}

	l.logger.Debug("operation queued", "playlist", playlistID, "operation", op.ID(), "trigger", trigger)
	return op, nil
}

// Start moves a queued operation to running.
func (l *Ledger) Start(ctx context.Context, op *models.SyncOperation) error {
	if err := op.Start(l.now()); err != nil {
		return err
	}
	if err := l.store.Update(ctx, op); err != nil {
		return fmt.Errorf("failed to start operation: %w", err)
	}
	return nil
}

// Finish records the outcome and ends the operation.
func (l *Ledger) Finish(ctx context.Context, op *models.SyncOperation, out models.Outcome) error {
	if err := op.Finish(out, l.now()); err != nil {
		return err
	}
	if err := l.store.Update(ctx, op); err != nil {
		return fmt.Errorf("failed to finish operation: %w", err)
	}

	l.logger.Debug("operation finished", "operation", op.ID(), "status", op.Status(), "duration", op.Duration())
	return nil
}

// CanRetry reports whether a retry may start and returns the latest operation (nil when none).
func (l *Ledger) CanRetry(ctx context.Context, playlistID string) (bool, *models.SyncOperation, error) {
	latest, err := l.store.Latest(ctx, playlistID)
	if errors.Is(err, shared.ErrNotFound) {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, fmt.Errorf("failed to load latest operation: %w", err)
	}

	if latest.EndedAt() == nil {
		return false, latest, nil
	}
	switch latest.Status() {
	case models.OperationFailed, models.OperationPartial:
		return true, latest, nil
	}
	return false, latest, nil
}

// History returns a playlist's operations, newest first.
func (l *Ledger) History(ctx context.Context, playlistID string, limit int) ([]*models.SyncOperation, error) {
	ops, err := l.store.ListByPlaylist(ctx, playlistID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return ops, nil
}

// Abandon fails every operation of the playlist left open by a worker that stopped before
// finishing. Callers must hold the playlist claim. Returns how many were closed.
func (l *Ledger) Abandon(ctx context.Context, playlistID, reason string) (int, error) {
	open, err := l.store.ListOpen(ctx, playlistID)
	if err != nil {
		return 0, fmt.Errorf("failed to load open operations: %w", err)
	}

	for _, op := range open {
		out := models.Outcome{
			Status:     models.OperationFailed,
			ErrorCount: 1,
			Errors:     map[string]string{OperationKey: reason},
		}
		if err := l.Finish(ctx, op, out); err != nil {
			return 0, err
		}
		l.logger.Warn("abandoned stale operation", "playlist", playlistID, "operation", op.ID())
	}
	return len(open), nil
}
