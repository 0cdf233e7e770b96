// Package tasks runs sync operations that mirror a YouTube playlist into a Spotify playlist.
//
// # Operation Lifecycle
//
// [Orchestrator.Sync] drives one operation: queued → running → completed, partial or failed.
//
//  1. Claim: a [lease.Locker] lease plus a compare-and-set on the playlist's sync_status.
//     A playlist already syncing is rejected with [shared.ErrSyncInProgress].
//  2. Fetch: list source items within the fetch timeout. Source errors abort and update source_status.
//  3. Reconcile: diff against stored items and persist inserts, updates and removal flags.
//  4. Prepare: create the Spotify playlist on first sync and read its current track order.
//  5. Process: match and apply every current item on a bounded worker pool.
//  6. Finalize: record counts on the operation and release the playlist with its new status.
//
// # Item Processing
//
// Items without an active match, items whose metadata changed under an automatic match, and items
// named in [Request.Rematch] go through the matcher. Manual matches are otherwise left alone.
// Each item lands in exactly one bucket (matched, unmatched or failed). Item failures are
// recorded and processing continues; auth-expired and not-found destination errors abort.
//
// Destination calls share a rate limiter. Rate-limited calls back off exponentially up to
// max_retries; exhausting them flags the operation as retry recommended.
//
// # Progress Reporting
//
// The [ProgressUpdate] struct contains phase, step counters, messages, and optional data for advanced UI rendering.
// Updates use select with default to prevent blocking.
//
// # Batches
//
// [Orchestrator.SyncAll] queues every linked playlist and syncs them concurrently with an errgroup.
package tasks
