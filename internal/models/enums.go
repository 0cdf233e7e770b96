package models

// SyncStatus reflects the outcome of the latest sync operation on a [Playlist].
type SyncStatus string

const (
	SyncIdle    SyncStatus = "idle"
	SyncQueued  SyncStatus = "queued"
	SyncSyncing SyncStatus = "syncing"
	SyncPartial SyncStatus = "partial"
	SyncFailed  SyncStatus = "failed"
	SyncSuccess SyncStatus = "success"
)

func (s SyncStatus) Valid() bool {
	switch s {
	case SyncIdle, SyncQueued, SyncSyncing, SyncPartial, SyncFailed, SyncSuccess:
		return true
	}
	return false
}

// SourceStatus reflects whether the source platform still serves a playlist.
type SourceStatus string

const (
	SourceActive      SourceStatus = "active"
	SourceUnavailable SourceStatus = "unavailable"
	SourceDeleted     SourceStatus = "deleted"
	SourcePrivate     SourceStatus = "private"
)

func (s SourceStatus) Valid() bool {
	switch s {
	case SourceActive, SourceUnavailable, SourceDeleted, SourcePrivate:
		return true
	}
	return false
}

// MatchMethod records how a [TrackMatch] was produced.
type MatchMethod string

const (
	MatchFuzzy   MatchMethod = "auto_fuzzy"
	MatchExactID MatchMethod = "exact_id"
	MatchManual  MatchMethod = "manual"
)

func (m MatchMethod) Valid() bool {
	switch m {
	case MatchFuzzy, MatchExactID, MatchManual:
		return true
	}
	return false
}

// IsAutomatic reports whether the match came from the matcher rather than a user.
func (m MatchMethod) IsAutomatic() bool {
	return m == MatchFuzzy || m == MatchExactID
}

// OperationStatus is the state of a [SyncOperation]: queued → running → {completed | partial | failed}.
type OperationStatus string

const (
	OperationQueued    OperationStatus = "queued"
	OperationRunning   OperationStatus = "running"
	OperationCompleted OperationStatus = "completed"
	OperationPartial   OperationStatus = "partial"
	OperationFailed    OperationStatus = "failed"
)

func (s OperationStatus) Valid() bool {
	switch s {
	case OperationQueued, OperationRunning, OperationCompleted, OperationPartial, OperationFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is allowed.
func (s OperationStatus) IsTerminal() bool {
	return s == OperationCompleted || s == OperationPartial || s == OperationFailed
}

// PlaylistStatus maps a terminal operation status to the playlist's sync status.
func (s OperationStatus) PlaylistStatus() SyncStatus {
	switch s {
	case OperationCompleted:
		return SyncSuccess
	case OperationPartial:
		return SyncPartial
	case OperationFailed:
		return SyncFailed
	case OperationRunning:
		return SyncSyncing
	default:
		return SyncQueued
	}
}

// Trigger records why a sync operation was started.
type Trigger string

const (
	TriggerUser      Trigger = "user"
	TriggerScheduled Trigger = "scheduled"
	TriggerRetry     Trigger = "retry"
)

func (t Trigger) Valid() bool {
	switch t {
	case TriggerUser, TriggerScheduled, TriggerRetry:
		return true
	}
	return false
}
