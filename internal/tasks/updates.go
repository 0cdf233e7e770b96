package tasks

import (
	"fmt"

	"github.com/desertthunder/ytsync/internal/models"
	"github.com/desertthunder/ytsync/internal/reconcile"
)

// ProgressUpdate represents a progress event during a sync operation.
//
// Used to send real-time updates to the CLI or UI layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data for advanced UIs
}

// Operation phase enumeration
type Phase int

const (
	Claim Phase = iota
	FetchSource
	Reconcile
	PrepareDestination
	ProcessItems
	Finalize
)

func (p Phase) String() string {
	switch p {
	case Claim:
		return "claim"
	case FetchSource:
		return "fetch_source"
	case Reconcile:
		return "reconcile"
	case PrepareDestination:
		return "prepare_destination"
	case ProcessItems:
		return "process_items"
	case Finalize:
		return "finalize"
	default:
		return ""
	}
}

// sendProgress sends a progress update through the channel without blocking.
func sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}

func claimedUpdate(p *models.Playlist, op *models.SyncOperation) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Claim,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Started %s sync of %s", op.Trigger(), p.Title()),
		Data:    op,
	}
}

func fetchingSourceUpdate(p *models.Playlist) ProgressUpdate {
	return ProgressUpdate{
		Phase:   FetchSource,
		Step:    0,
		Total:   1,
		Message: fmt.Sprintf("Fetching YouTube playlist %s...", p.SourceID()),
	}
}

func fetchedSourceUpdate(n int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   FetchSource,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Fetched %d items", n),
	}
}

func reconciledUpdate(stats reconcile.Stats) ProgressUpdate {
	return ProgressUpdate{
		Phase: Reconcile,
		Step:  1,
		Total: 1,
		Message: fmt.Sprintf("%d new, %d updated, %d removed, %d unchanged",
			stats.Inserted, stats.Updated, stats.Removed, stats.Unchanged),
		Data: stats,
	}
}

func createdDestinationUpdate(id string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   PrepareDestination,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Created Spotify playlist %s", id),
	}
}

func itemUpdate(step, total int, out ItemOutcome) ProgressUpdate {
	mark := "✓"
	switch out.Kind {
	case OutcomeUnmatched:
		mark = "?"
	case OutcomeFailed:
		mark = "✗"
	}
	return ProgressUpdate{
		Phase:   ProcessItems,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] %s %s", step, total, mark, out.Title),
		Data:    out,
	}
}

func finishedUpdate(op *models.SyncOperation) ProgressUpdate {
	return ProgressUpdate{
		Phase: Finalize,
		Step:  1,
		Total: 1,
		Message: fmt.Sprintf("Sync %s: %d matched, %d unmatched, %d errors",
			op.Status(), op.MatchedCount(), op.UnmatchedCount(), op.ErrorCount()),
		Data: op,
	}
}
