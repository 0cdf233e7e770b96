// Package repositories implements SQLite persistence for all domain entities.
//
// Key Implementations:
//   - [UserRepository] : User accounts looked up by email
//   - [PlaylistRepository] : Linked playlists, including the compare-and-set [PlaylistRepository.Claim]
//   - [ItemRepository] : Source items written per reconciliation in one transaction
//   - [MatchRepository] : Match history with atomic single-active activation
//   - [OperationRepository] : Append-only sync operation ledger
//
// Sequence numbers provide stable, human-readable ordering independent of UUIDs and creation timestamps.
// The [NextSequence] function atomically increments per-table sequence counters in dedicated sequence tables.
package repositories
