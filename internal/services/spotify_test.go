package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/desertthunder/ytsync/internal/shared"
)

// fakeSpotify serves the handful of Web API endpoints the client uses, backed by in-memory playlists.
type fakeSpotify struct {
	mu        sync.Mutex
	playlists map[string][]string
	writes    []string
	pageSize  int
}

func (f *fakeSpotify) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer test_access_token" {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"message": "invalid token"}})
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.URL.Path == "/search":
		if r.URL.Query().Get("type") != "track" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"tracks": map[string]any{"items": []map[string]any{
			{
				"id": "t1", "uri": "spotify:track:t1", "name": "Never Gonna Give You Up", "duration_ms": 213573,
				"artists":       []map[string]any{{"name": "Rick Astley"}},
				"album":         map[string]any{"name": "Whenever You Need Somebody"},
				"external_ids":  map[string]any{"isrc": "GBARL9300135"},
				"external_urls": map[string]any{"spotify": "https://open.spotify.com/track/t1"},
			},
			{"id": "", "uri": "", "name": "broken"},
		}}})

	case r.URL.Path == "/me/playlists" && r.Method == http.MethodPost:
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		f.playlists["new"] = nil
		json.NewEncoder(w).Encode(map[string]any{"id": "new", "uri": "spotify:playlist:new", "name": body["name"]})

	case strings.HasPrefix(r.URL.Path, "/playlists/") && strings.HasSuffix(r.URL.Path, "/tracks"):
		id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/playlists/"), "/tracks")
		order, ok := f.playlists[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		f.serveTracks(w, r, id, order)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeSpotify) serveTracks(w http.ResponseWriter, r *http.Request, id string, order []string) {
	switch r.Method {
	case http.MethodGet:
		offset := 0
		if v := r.URL.Query().Get("offset"); v != "" {
			json.Unmarshal([]byte(v), &offset)
		}
		end := min(offset+f.pageSize, len(order))
		items := []map[string]any{}
		for _, uri := range order[min(offset, end):end] {
			items = append(items, map[string]any{"track": map[string]any{"uri": uri}})
		}
		resp := map[string]any{"items": items, "next": nil}
		if end < len(order) {
			resp["next"] = "more"
		}
		json.NewEncoder(w).Encode(resp)
	case http.MethodPost:
		var body struct {
			URIs     []string `json:"uris"`
			Position int      `json:"position"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		f.playlists[id] = slices.Insert(order, body.Position, body.URIs...)
		f.writes = append(f.writes, "add")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"snapshot_id": "s"})
	case http.MethodPut:
		var body struct {
			RangeStart   int `json:"range_start"`
			InsertBefore int `json:"insert_before"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		uri := order[body.RangeStart]
		target := body.InsertBefore
		if target > body.RangeStart {
			target--
		}
		order = slices.Delete(order, body.RangeStart, body.RangeStart+1)
		f.playlists[id] = slices.Insert(order, target, uri)
		f.writes = append(f.writes, "move")
		json.NewEncoder(w).Encode(map[string]string{"snapshot_id": "s"})
	}
}

func newSpotifyTestClient(t *testing.T, fake http.Handler) *SpotifyClient {
	t.Helper()
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	client, err := NewSpotifyClient(context.Background(), shared.SpotifyConfig{
		AccessToken: "test_access_token",
		BaseURL:     server.URL,
	}, WithHTTPClient(server.Client()), WithCandidateLimit(5))
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	return client
}

func TestSpotifyClient(t *testing.T) {
	ctx := context.Background()

	t.Run("NewSpotifyClient", func(t *testing.T) {
		t.Run("requires a token", func(t *testing.T) {
			_, err := NewSpotifyClient(ctx, shared.SpotifyConfig{ClientID: "id", ClientSecret: "secret"})
			if !errors.Is(err, shared.ErrMissingCredentials) {
				t.Fatalf("expected ErrMissingCredentials, got %v", err)
			}
		})

		t.Run("refresh token needs client credentials", func(t *testing.T) {
			_, err := NewSpotifyClient(ctx, shared.SpotifyConfig{RefreshToken: "refresh"})
			if !errors.Is(err, shared.ErrMissingCredentials) {
				t.Fatalf("expected ErrMissingCredentials, got %v", err)
			}
		})

		t.Run("defaults", func(t *testing.T) {
			c, err := NewSpotifyClient(ctx, shared.SpotifyConfig{AccessToken: "tok"}, WithCandidateLimit(500))
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if c.baseURL != spotifyBaseURL {
				t.Errorf("expected default base URL, got %s", c.baseURL)
			}
			if c.candidateLimit != defaultCandidateLimit {
				t.Errorf("expected limit clamp to default, got %d", c.candidateLimit)
			}
			if c.config.RedirectURL != "http://127.0.0.1:3000/callback" {
				t.Errorf("unexpected redirect %s", c.config.RedirectURL)
			}
		})
	})

	t.Run("SpotifyOAuthConfig", func(t *testing.T) {
		config := SpotifyOAuthConfig(shared.SpotifyConfig{ClientID: "test_client_id", ClientSecret: "s"})
		authURL := config.AuthCodeURL("test_state", oauth2.AccessTypeOffline)
		for _, want := range []string{"accounts.spotify.com", "test_client_id", "test_state", "playlist-modify-private"} {
			if !strings.Contains(authURL, want) {
				t.Errorf("auth URL should contain %q: %s", want, authURL)
			}
		}
	})

	t.Run("SearchCandidates", func(t *testing.T) {
		c := newSpotifyTestClient(t, &fakeSpotify{playlists: map[string][]string{}, pageSize: 100})

		candidates, err := c.SearchCandidates(ctx, "never gonna give you up rick astley")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(candidates) != 1 {
			t.Fatalf("expected incomplete tracks to be dropped, got %d", len(candidates))
		}

		got := candidates[0]
		if got.ID != "t1" || got.URI != "spotify:track:t1" || got.DurationSeconds != 214 {
			t.Errorf("unexpected candidate %+v", got)
		}
		if len(got.Artists) != 1 || got.Artists[0] != "Rick Astley" || got.Album != "Whenever You Need Somebody" {
			t.Errorf("unexpected artists/album %+v", got)
		}
		if got.Metadata["isrc"] != "GBARL9300135" {
			t.Errorf("expected isrc metadata, got %v", got.Metadata)
		}

		empty, err := c.SearchCandidates(ctx, "   ")
		if err != nil || empty != nil {
			t.Errorf("expected empty query to short-circuit, got %v %v", empty, err)
		}
	})

	t.Run("AddOrUpdateTrack", func(t *testing.T) {
		fake := &fakeSpotify{playlists: map[string][]string{"P": {"spotify:track:a", "spotify:track:b"}}, pageSize: 1}
		c := newSpotifyTestClient(t, fake)

		if err := c.AddOrUpdateTrack(ctx, "P", "spotify:track:c", 0); err != nil {
			t.Fatalf("add failed: %v", err)
		}
		if err := c.AddOrUpdateTrack(ctx, "P", "spotify:track:d", 99); err != nil {
			t.Fatalf("add at end failed: %v", err)
		}
		if err := c.AddOrUpdateTrack(ctx, "P", "spotify:track:c", 3); err != nil {
			t.Fatalf("move failed: %v", err)
		}
		if err := c.AddOrUpdateTrack(ctx, "P", "spotify:track:c", 3); err != nil {
			t.Fatalf("repeat failed: %v", err)
		}

		want := []string{"spotify:track:a", "spotify:track:b", "spotify:track:d", "spotify:track:c"}
		if !slices.Equal(fake.playlists["P"], want) {
			t.Errorf("expected %v, got %v", want, fake.playlists["P"])
		}
		if !slices.Equal(fake.writes, []string{"add", "add", "move"}) {
			t.Errorf("expected repeated placement to be a no-op, writes %v", fake.writes)
		}

		uris, err := c.PlaylistTrackURIs(ctx, "P")
		if err != nil {
			t.Fatalf("list failed: %v", err)
		}
		if !slices.Equal(uris, want) {
			t.Errorf("expected paginated read %v, got %v", want, uris)
		}
	})

	t.Run("writes to different playlists run concurrently", func(t *testing.T) {
		fake := &fakeSpotify{playlists: map[string][]string{"A": {}, "B": {}}, pageSize: 100}
		entered := make(chan struct{})
		release := make(chan struct{})
		stalled := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost && r.URL.Path == "/playlists/A/tracks" {
				close(entered)
				select {
				case <-release:
				case <-time.After(5 * time.Second):
				}
			}
			fake.ServeHTTP(w, r)
		})
		c := newSpotifyTestClient(t, stalled)

		slow := make(chan error, 1)
		go func() { slow <- c.AddOrUpdateTrack(ctx, "A", "spotify:track:a", 0) }()

		select {
		case <-entered:
		case <-time.After(2 * time.Second):
			t.Fatal("write to A never reached the server")
		}

		fastCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := c.AddOrUpdateTrack(fastCtx, "B", "spotify:track:b", 0); err != nil {
			t.Fatalf("write to B blocked behind A: %v", err)
		}

		close(release)
		if err := <-slow; err != nil {
			t.Fatalf("write to A failed: %v", err)
		}

		fake.mu.Lock()
		defer fake.mu.Unlock()
		if !slices.Equal(fake.playlists["A"], []string{"spotify:track:a"}) || !slices.Equal(fake.playlists["B"], []string{"spotify:track:b"}) {
			t.Errorf("unexpected playlists %v", fake.playlists)
		}
	})

	t.Run("writes to one playlist keep positions consistent", func(t *testing.T) {
		fake := &fakeSpotify{playlists: map[string][]string{"P": {}}, pageSize: 100}
		c := newSpotifyTestClient(t, fake)

		var wg sync.WaitGroup
		for _, uri := range []string{"spotify:track:a", "spotify:track:b", "spotify:track:c", "spotify:track:d"} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := c.AddOrUpdateTrack(ctx, "P", uri, 99); err != nil {
					t.Errorf("add %s failed: %v", uri, err)
				}
			}()
		}
		wg.Wait()

		uris, err := c.PlaylistTrackURIs(ctx, "P")
		if err != nil {
			t.Fatalf("list failed: %v", err)
		}
		if len(uris) != 4 {
			t.Fatalf("expected 4 tracks, got %v", uris)
		}
		fake.mu.Lock()
		defer fake.mu.Unlock()
		if !slices.Equal(fake.playlists["P"], uris) {
			t.Errorf("cache %v diverged from server %v", uris, fake.playlists["P"])
		}
	})

	t.Run("CreatePlaylist", func(t *testing.T) {
		fake := &fakeSpotify{playlists: map[string][]string{}, pageSize: 100}
		c := newSpotifyTestClient(t, fake)

		id, uri, err := c.CreatePlaylist(ctx, "Road Trip", "mirrored from YouTube")
		if err != nil {
			t.Fatalf("create failed: %v", err)
		}
		if id != "new" || uri != "spotify:playlist:new" {
			t.Errorf("unexpected playlist %s %s", id, uri)
		}

		if err := c.AddOrUpdateTrack(ctx, id, "spotify:track:x", 0); err != nil {
			t.Fatalf("add to new playlist failed: %v", err)
		}
		if !slices.Equal(fake.playlists["new"], []string{"spotify:track:x"}) {
			t.Errorf("unexpected playlist state %v", fake.playlists["new"])
		}
	})

	t.Run("Error Handling", func(t *testing.T) {
		t.Run("missing playlist", func(t *testing.T) {
			c := newSpotifyTestClient(t, &fakeSpotify{playlists: map[string][]string{}, pageSize: 100})
			err := c.AddOrUpdateTrack(ctx, "missing", "spotify:track:x", 0)
			if !errors.Is(err, ErrDestinationNotFound) {
				t.Fatalf("expected ErrDestinationNotFound, got %v", err)
			}
		})

		t.Run("rate limited", func(t *testing.T) {
			c := newSpotifyTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Retry-After", "2")
				w.WriteHeader(http.StatusTooManyRequests)
			}))
			_, err := c.SearchCandidates(ctx, "q")

			var destErr *DestinationError
			if !errors.As(err, &destErr) || destErr.Kind != DestinationRateLimited {
				t.Fatalf("expected rate limit, got %v", err)
			}
			if destErr.RetryAfter.Seconds() != 2 {
				t.Errorf("expected retry after 2s, got %s", destErr.RetryAfter)
			}
		})

		t.Run("unauthorized", func(t *testing.T) {
			server := httptest.NewServer(&fakeSpotify{playlists: map[string][]string{}, pageSize: 100})
			t.Cleanup(server.Close)
			c, err := NewSpotifyClient(ctx, shared.SpotifyConfig{AccessToken: "stale", BaseURL: server.URL},
				WithHTTPClient(server.Client()))
			if err != nil {
				t.Fatal(err)
			}

			if _, err := c.SearchCandidates(ctx, "q"); !errors.Is(err, ErrDestinationAuthExpired) {
				t.Fatalf("expected ErrDestinationAuthExpired, got %v", err)
			}
		})

		t.Run("invalid input", func(t *testing.T) {
			c := newSpotifyTestClient(t, &fakeSpotify{playlists: map[string][]string{}, pageSize: 100})
			if err := c.AddOrUpdateTrack(ctx, "", "uri", 0); !errors.Is(err, shared.ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	})
}
