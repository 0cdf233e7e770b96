package ledger

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/desertthunder/ytsync/internal/models"
	"github.com/desertthunder/ytsync/internal/repositories"
	"github.com/desertthunder/ytsync/internal/shared"
)

func setup(t *testing.T) (*Ledger, *repositories.Store, *models.Playlist) {
	t.Helper()
	ctx := context.Background()

	db, err := shared.NewDatabase(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = shared.RunMigrations(db)
	require.NoError(t, err)

	store := repositories.NewStore(db)
	user, err := store.Users.FindOrCreate(ctx, "ledger@example.com", "Ledger")
	require.NoError(t, err)
	playlist := models.NewPlaylist(user.ID(), "Mix", "PL1")
	require.NoError(t, store.Playlists.Create(ctx, playlist))

	clock := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	now := func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return New(store.Operations, shared.NewLogger(io.Discard), WithClock(now)), store, playlist
}

func finish(t *testing.T, l *Ledger, op *models.SyncOperation, status models.OperationStatus) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, l.Start(ctx, op))
	require.NoError(t, l.Finish(ctx, op, models.Outcome{Status: status}))
}

func TestLedger(t *testing.T) {
	ctx := context.Background()

	t.Run("lifecycle", func(t *testing.T) {
		l, store, p := setup(t)

		op, err := l.Begin(ctx, p.ID(), models.TriggerUser)
		require.NoError(t, err)
		assert.Equal(t, models.OperationQueued, op.Status())

		require.NoError(t, l.Start(ctx, op))
		assert.Equal(t, models.OperationRunning, op.Status())

		out := models.Outcome{Status: models.OperationCompleted, Matched: 3}
		require.NoError(t, l.Finish(ctx, op, out))

		stored, err := store.Operations.Get(ctx, op.ID())
		require.NoError(t, err)
		assert.Equal(t, models.OperationCompleted, stored.Status())
		assert.Equal(t, 3, stored.MatchedCount())
		assert.Equal(t, time.Second, stored.Duration())

		err = l.Finish(ctx, op, models.Outcome{Status: models.OperationFailed})
		assert.ErrorIs(t, err, shared.ErrInvalidTransition, "terminal operations are immutable")
	})

	t.Run("retry requires failed or partial", func(t *testing.T) {
		l, _, p := setup(t)

		_, err := l.Begin(ctx, p.ID(), models.TriggerRetry)
		assert.ErrorIs(t, err, shared.ErrRetryNotAllowed, "no history")

		op, err := l.Begin(ctx, p.ID(), models.TriggerUser)
		require.NoError(t, err)
		require.NoError(t, l.Start(ctx, op))

		_, err = l.Begin(ctx, p.ID(), models.TriggerRetry)
		assert.ErrorIs(t, err, shared.ErrRetryNotAllowed, "still running")

		require.NoError(t, l.Finish(ctx, op, models.Outcome{Status: models.OperationCompleted}))
		_, err = l.Begin(ctx, p.ID(), models.TriggerRetry)
		assert.ErrorIs(t, err, shared.ErrRetryNotAllowed, "completed")

		for _, status := range []models.OperationStatus{models.OperationPartial, models.OperationFailed} {
			op, err := l.Begin(ctx, p.ID(), models.TriggerUser)
			require.NoError(t, err)
			finish(t, l, op, status)

			retry, err := l.Begin(ctx, p.ID(), models.TriggerRetry)
			require.NoError(t, err, "after %s", status)
			assert.Equal(t, models.TriggerRetry, retry.Trigger())
			finish(t, l, retry, models.OperationCompleted)
		}
	})

	t.Run("abandon closes open operations", func(t *testing.T) {
		l, _, p := setup(t)

		op, err := l.Begin(ctx, p.ID(), models.TriggerScheduled)
		require.NoError(t, err)
		require.NoError(t, l.Start(ctx, op))

		n, err := l.Abandon(ctx, p.ID(), "worker lost")
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		ok, latest, err := l.CanRetry(ctx, p.ID())
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "worker lost", latest.Errors()[OperationKey])

		n, err = l.Abandon(ctx, p.ID(), "again")
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("history newest first", func(t *testing.T) {
		l, _, p := setup(t)
		for _, trig := range []models.Trigger{models.TriggerUser, models.TriggerScheduled} {
			op, err := l.Begin(ctx, p.ID(), trig)
			require.NoError(t, err)
			finish(t, l, op, models.OperationCompleted)
		}

		ops, err := l.History(ctx, p.ID(), 0)
		require.NoError(t, err)
		require.Len(t, ops, 2)
		assert.Equal(t, models.TriggerScheduled, ops[0].Trigger())
	})

	t.Run("rejects unknown trigger", func(t *testing.T) {
		l, _, p := setup(t)
		_, err := l.Begin(ctx, p.ID(), models.Trigger("cron"))
		assert.ErrorIs(t, err, shared.ErrInvalidInput)
	})
}
