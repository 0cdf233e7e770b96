// Package models defines domain entities and persistence interfaces for the ytsync playlist mirroring engine.
//
// The package contains two categories of types:
//
// 1. Data Transfer Objects (DTOs): Lightweight structs representing external platform data
//   - [SourceItem] : One video from a YouTube playlist as reported by the source platform
//   - [Candidate] : A Spotify track returned by a destination search
//
// 2. Persistent Entities: Database-backed models with full lifecycle management
//   - [User] : Owner of linked playlists
//   - [Playlist] : A YouTube playlist mirrored into a Spotify playlist, with sync and source health
//   - [PlaylistItem] : One entry of the source list with cached metadata and ordering
//   - [TrackMatch] : Candidate or confirmed mapping from an item to a destination track
//   - [SyncOperation] : Append-only record of one sync attempt
//
// All persistent entities implement the [Model] interface providing ID, timestamps and validation.
// The [Repository] interface defines standard CRUD operations for database access.
package models
