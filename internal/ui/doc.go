// Package ui implements an interactive terminal dashboard using bubbletea's Elm architecture.
//
// Views:
//  1. [PlaylistListView] : linked playlists with their sync status
//  2. [DetailView] : item matches and recent operations of one playlist
//  3. [ConfirmView] : confirm a sync or retry
//  4. [SyncView] : live progress of the running operation
//  5. [ResultView] : operation outcome with unmatched and failed items
//
// The (view) [Model] implements bubbletea/Elm's standard Init/Update/View pattern, receiving messages via the Msg union type.
// Progress updates flow through a channel from the sync orchestrator; the orchestrator never blocks on a slow UI.
//
// Keyboard navigation uses vim-style bindings (j/k, enter, esc, s/r, y/n, q) with contextual help displayed via charmbracelet/bubbles/help.
package ui
