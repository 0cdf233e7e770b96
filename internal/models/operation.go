package models

import (
	"fmt"
	"maps"
	"time"

	"github.com/desertthunder/ytsync/internal/shared"
)

// SyncOperation is one auditable sync attempt against a [Playlist].
//
// Once ended_at is set the record is immutable; a new attempt always creates a new operation.
type SyncOperation struct {
	base
	playlistID       string
	status           OperationStatus
	trigger          Trigger
	matchedCount     int
	unmatchedCount   int
	errorCount       int
	errors           map[string]string
	retryRecommended bool
	startedAt        *time.Time
	endedAt          *time.Time
}

// Outcome carries the final counts recorded when an operation reaches a terminal state.
type Outcome struct {
	Status           OperationStatus
	Matched          int
	Unmatched        int
	ErrorCount       int
	Errors           map[string]string // keyed by item id, or "operation" for operation-level failures
	RetryRecommended bool
}

// NewSyncOperation creates a queued operation.
func NewSyncOperation(playlistID string, trigger Trigger) *SyncOperation {
	return &SyncOperation{
		base:       newBase(),
		playlistID: playlistID,
		status:     OperationQueued,
		trigger:    trigger,
		errors:     map[string]string{},
	}
}

func (o *SyncOperation) PlaylistID() string        { return o.playlistID }
func (o *SyncOperation) Status() OperationStatus   { return o.status }
func (o *SyncOperation) Trigger() Trigger          { return o.trigger }
func (o *SyncOperation) MatchedCount() int         { return o.matchedCount }
func (o *SyncOperation) UnmatchedCount() int       { return o.unmatchedCount }
func (o *SyncOperation) ErrorCount() int           { return o.errorCount }
func (o *SyncOperation) RetryRecommended() bool    { return o.retryRecommended }
func (o *SyncOperation) StartedAt() *time.Time     { return o.startedAt }
func (o *SyncOperation) EndedAt() *time.Time       { return o.endedAt }
func (o *SyncOperation) Errors() map[string]string { return maps.Clone(o.errors) }

// IsFinished reports whether the operation reached a terminal state.
func (o *SyncOperation) IsFinished() bool { return o.endedAt != nil || o.status.IsTerminal() }

// Start moves a queued operation to running.
func (o *SyncOperation) Start(now time.Time) error {
	if o.status != OperationQueued {
		return fmt.Errorf("%w: cannot start operation in state %s", shared.ErrInvalidTransition, o.status)
	}
	now = now.UTC()
	o.status = OperationRunning
	o.startedAt = &now
	o.updatedAt = now
	return nil
}

// Finish applies the outcome and sets ended_at. It refuses to touch a finished operation.
func (o *SyncOperation) Finish(out Outcome, now time.Time) error {
	if o.IsFinished() {
		return fmt.Errorf("%w: operation %s already ended", shared.ErrInvalidTransition, o.id)
	}
	if !out.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is not a terminal status", shared.ErrInvalidTransition, out.Status)
	}
	now = now.UTC()
	if o.startedAt == nil {
		o.startedAt = &now
	}
	o.status = out.Status
	o.matchedCount = out.Matched
	o.unmatchedCount = out.Unmatched
	o.errorCount = out.ErrorCount
	o.errors = maps.Clone(out.Errors)
	if o.errors == nil {
		o.errors = map[string]string{}
	}
	o.retryRecommended = out.RetryRecommended
	o.endedAt = &now
	o.updatedAt = now
	return nil
}

// Restore sets every mutable field when scanning from storage.
func (o *SyncOperation) Restore(status OperationStatus, out Outcome, startedAt, endedAt *time.Time) {
	o.status = status
	o.matchedCount = out.Matched
	o.unmatchedCount = out.Unmatched
	o.errorCount = out.ErrorCount
	o.errors = out.Errors
	if o.errors == nil {
		o.errors = map[string]string{}
	}
	o.retryRecommended = out.RetryRecommended
	o.startedAt = startedAt
	o.endedAt = endedAt
}

// Duration returns the elapsed run time, or zero while unfinished.
func (o *SyncOperation) Duration() time.Duration {
	if o.startedAt == nil || o.endedAt == nil {
		return 0
	}
	return o.endedAt.Sub(*o.startedAt)
}

func (o *SyncOperation) Validate() error {
	if o.playlistID == "" {
		return fmt.Errorf("%w: operation playlist is required", shared.ErrInvalidInput)
	}
	if !o.status.Valid() {
		return fmt.Errorf("%w: unknown operation status %q", shared.ErrInvalidInput, o.status)
	}
	if !o.trigger.Valid() {
		return fmt.Errorf("%w: unknown trigger %q", shared.ErrInvalidInput, o.trigger)
	}
	if o.matchedCount < 0 || o.unmatchedCount < 0 || o.errorCount < 0 {
		return fmt.Errorf("%w: negative counts", shared.ErrInvalidInput)
	}
	return nil
}
