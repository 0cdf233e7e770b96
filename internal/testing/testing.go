// package testing contains shared testing utilities
package testing

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/desertthunder/ytsync/internal/models"
	"github.com/desertthunder/ytsync/internal/services"
)

// FakeSource is an in-memory [services.SourceClient].
type FakeSource struct {
	mu     sync.Mutex
	items  map[string][]models.SourceItem
	titles map[string]string
	errs   map[string]error
	calls  int

	// OnList, when set, runs before every listing while no lock is held.
	OnList func(ctx context.Context, playlistID string) error
}

func NewFakeSource() *FakeSource {
	return &FakeSource{items: map[string][]models.SourceItem{}, titles: map[string]string{}, errs: map[string]error{}}
}

// Describe sets the title returned by Playlist.
func (f *FakeSource) Describe(playlistID, title string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.titles[playlistID] = title
}

// Playlist returns the described playlist or a [services.SourceNotFound] error.
func (f *FakeSource) Playlist(ctx context.Context, playlistID string) (*services.SourcePlaylist, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	title, ok := f.titles[playlistID]
	if !ok {
		return nil, &services.SourceError{Kind: services.SourceNotFound, PlaylistID: playlistID}
	}
	return &services.SourcePlaylist{ID: playlistID, Title: title, ItemCount: len(f.items[playlistID])}, nil
}

// Set replaces the items served for playlistID. Positions follow slice order.
func (f *FakeSource) Set(playlistID string, items ...models.SourceItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.SourceItem, len(items))
	for i, it := range items {
		it.Position = i
		out[i] = it
	}
	f.items[playlistID] = out
}

// Fail makes ListItems return err for playlistID. A nil err clears it.
func (f *FakeSource) Fail(playlistID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errs, playlistID)
		return
	}
	f.errs[playlistID] = err
}

func (f *FakeSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *FakeSource) ListItems(ctx context.Context, playlistID string) ([]models.SourceItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.OnList != nil {
		if err := f.OnList(ctx, playlistID); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.errs[playlistID]; err != nil {
		return nil, err
	}
	return slices.Clone(f.items[playlistID]), nil
}

// FakeDestination is an in-memory destination implementing search, placement, creation and state reads.
//
// Search returns every catalog track whose title shares a word with the query, which leaves the
// final choice to the matcher.
type FakeDestination struct {
	mu        sync.Mutex
	catalog   []models.Candidate
	playlists map[string][]string
	applyErrs map[string][]error
	searchErr []error
	searches  int
	writes    int
	created   int

	// OnApply, when set, runs before every placement while no lock is held.
	OnApply func(ctx context.Context, trackURI string) error
}

func NewFakeDestination(catalog ...models.Candidate) *FakeDestination {
	return &FakeDestination{
		catalog:   catalog,
		playlists: map[string][]string{},
		applyErrs: map[string][]error{},
	}
}

// AddPlaylist registers an existing destination playlist.
func (f *FakeDestination) AddPlaylist(id string, uris ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playlists[id] = slices.Clone(uris)
}

// FailApply queues errors returned by successive placements of trackURI.
func (f *FakeDestination) FailApply(trackURI string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applyErrs[trackURI] = append(f.applyErrs[trackURI], errs...)
}

// FailSearch queues errors returned by successive searches.
func (f *FakeDestination) FailSearch(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchErr = append(f.searchErr, errs...)
}

// Tracks returns the track URIs of a destination playlist in order.
func (f *FakeDestination) Tracks(id string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.playlists[id])
}

func (f *FakeDestination) Searches() int { f.mu.Lock(); defer f.mu.Unlock(); return f.searches }
func (f *FakeDestination) Writes() int   { f.mu.Lock(); defer f.mu.Unlock(); return f.writes }
func (f *FakeDestination) Created() int  { f.mu.Lock(); defer f.mu.Unlock(); return f.created }

func (f *FakeDestination) SearchCandidates(ctx context.Context, query string) ([]models.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches++

	if len(f.searchErr) > 0 {
		err := f.searchErr[0]
		f.searchErr = f.searchErr[1:]
		if err != nil {
			return nil, err
		}
	}

	words := strings.Fields(strings.ToLower(query))
	var out []models.Candidate
	for _, c := range f.catalog {
		title := strings.ToLower(c.Title)
		for _, w := range words {
			if strings.Contains(title, w) {
				out = append(out, c)
				break
			}
		}
	}
	return out, nil
}

func (f *FakeDestination) AddOrUpdateTrack(ctx context.Context, playlistID, trackURI string, position int) error {
	if f.OnApply != nil {
		if err := f.OnApply(ctx, trackURI); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if errs := f.applyErrs[trackURI]; len(errs) > 0 {
		f.applyErrs[trackURI] = errs[1:]
		if errs[0] != nil {
			return errs[0]
		}
	}

	order, ok := f.playlists[playlistID]
	if !ok {
		return fmt.Errorf("playlist %s does not exist", playlistID)
	}
	f.writes++

	if i := slices.Index(order, trackURI); i >= 0 {
		order = slices.Delete(order, i, i+1)
	}
	position = min(max(position, 0), len(order))
	f.playlists[playlistID] = slices.Insert(order, position, trackURI)
	return nil
}

func (f *FakeDestination) CreatePlaylist(ctx context.Context, name, description string) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	id := fmt.Sprintf("sp-%d", f.created)
	f.playlists[id] = []string{}
	return id, "spotify:playlist:" + id, nil
}

func (f *FakeDestination) PlaylistTrackURIs(ctx context.Context, playlistID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.playlists[playlistID]
	if !ok {
		return nil, fmt.Errorf("playlist %s does not exist", playlistID)
	}
	return slices.Clone(order), nil
}

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}
