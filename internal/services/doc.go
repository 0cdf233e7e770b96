// Package services implements the platform clients consumed by the sync engine.
//
// # Capabilities
//
// The engine depends on narrow interfaces rather than concrete clients:
//   - [SourceClient] lists a source playlist's items in order
//   - [DestinationClient] searches candidate tracks and writes them into a playlist
//   - [PlaylistCreator] and [DestinationStateReader] are optional extras detected with a type assertion
//
// # YouTube Implementation
//
// [YouTubeClient] communicates with the FastAPI proxy server (music/) wrapping ytmusicapi.
// The auth_file path is sent via X-Auth-File header on each request.
//
// # Spotify Implementation
//
// [SpotifyClient] uses an [oauth2] client that refreshes expired tokens using the refresh token.
//
// # Error Handling
//
// Platform failures are typed so the orchestrator can decide between aborting and continuing:
//   - [*SourceError]: unavailable, not found or private. Always aborts the operation.
//   - [*DestinationError]: rate limited (backoff), auth expired or not found (abort).
//   - [*StatusError]: any other HTTP failure, recorded against the item being applied.
//
// Each kind matches its sentinel with [errors.Is], e.g. [ErrSourcePrivate] or [ErrDestinationRateLimited].
package services
