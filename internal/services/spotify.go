// Spotify Web API [DestinationClient] implementation
//
// Spotify API response types based on https://developer.spotify.com/documentation/web-api/reference/
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/oauth2"

	"github.com/desertthunder/ytsync/internal/models"
	"github.com/desertthunder/ytsync/internal/shared"
)

const (
	spotifyAuthURL  = "https://accounts.spotify.com/authorize"
	spotifyTokenURL = "https://accounts.spotify.com/api/token"
	spotifyBaseURL  = "https://api.spotify.com/v1"

	defaultRedirectURI = "http://127.0.0.1:3000/callback"

	defaultCandidateLimit = 10
	playlistPageSize      = 100
)

// SpotifyImage represents an image resource.
type SpotifyImage struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

type externalIDs struct {
	ISRC string `json:"isrc"`
}

// SpotifyTrack represents a Spotify track.
type SpotifyTrack struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Artists      []SpotifyArtist   `json:"artists"`
	Album        SpotifyAlbum      `json:"album"`
	DurationMS   int               `json:"duration_ms"`
	ExternalIDs  externalIDs       `json:"external_ids"`
	ExternalURLs map[string]string `json:"external_urls"`
	URI          string            `json:"uri"`
}

// SpotifyArtist represents a Spotify artist.
type SpotifyArtist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URI  string `json:"uri"`
}

// SpotifyAlbum represents a Spotify album.
type SpotifyAlbum struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Images []SpotifyImage `json:"images"`
	URI    string         `json:"uri"`
}

// SpotifyPlaylist represents a created or fetched Spotify playlist.
type SpotifyPlaylist struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Public      bool   `json:"public"`
	URI         string `json:"uri"`
}

type spotifySearchResponse struct {
	Tracks struct {
		Items []SpotifyTrack `json:"items"`
	} `json:"tracks"`
}

type spotifyPlaylistItems struct {
	Items []struct {
		Track *struct {
			URI string `json:"uri"`
		} `json:"track"`
	} `json:"items"`
	Next *string `json:"next"`
}

// Candidate converts a track into a matcher candidate.
func (t SpotifyTrack) Candidate() models.Candidate {
	artists := make([]string, len(t.Artists))
	for i, a := range t.Artists {
		artists[i] = a.Name
	}

	md := map[string]string{}
	if t.ExternalIDs.ISRC != "" {
		md["isrc"] = t.ExternalIDs.ISRC
	}
	if u := t.ExternalURLs["spotify"]; u != "" {
		md["external_url"] = u
	}

	return models.Candidate{
		ID:              t.ID,
		URI:             t.URI,
		Title:           t.Name,
		Artists:         artists,
		Album:           t.Album.Name,
		DurationSeconds: int(math.Round(float64(t.DurationMS) / 1000)),
		Metadata:        md,
	}
}

// SpotifyClient implements [DestinationClient], [PlaylistCreator] and [DestinationStateReader].
//
// Requests go through an [oauth2] client that refreshes expired tokens with the refresh token.
// Writes to the same playlist are serialized; writes to different playlists run
// concurrently. The last known track order of each destination playlist is cached so
// positions can be computed without re-reading it.
type SpotifyClient struct {
	config         *oauth2.Config
	httpClient     *http.Client
	baseURL        string
	candidateLimit int

	// mu guards order and writers only. It is never held across a request.
	mu      sync.Mutex
	order   map[string][]string
	writers map[string]*sync.Mutex
}

// SpotifyOption configures a [SpotifyClient].
type SpotifyOption func(*spotifyOptions)

type spotifyOptions struct {
	httpClient     *http.Client
	candidateLimit int
}

// WithHTTPClient sets the transport used for API and token requests.
func WithHTTPClient(c *http.Client) SpotifyOption {
	return func(o *spotifyOptions) { o.httpClient = c }
}

// WithCandidateLimit caps the number of search results requested.
func WithCandidateLimit(n int) SpotifyOption {
	return func(o *spotifyOptions) { o.candidateLimit = n }
}

// NewSpotifyClient creates a client from configuration.
//
// Either an access token or a refresh token is required; client id and secret are needed for refreshes.
func NewSpotifyClient(ctx context.Context, cfg shared.SpotifyConfig, opts ...SpotifyOption) (*SpotifyClient, error) {
	if cfg.AccessToken == "" && cfg.RefreshToken == "" {
		return nil, fmt.Errorf("%w: spotify access_token or refresh_token", shared.ErrMissingCredentials)
	}
	if cfg.RefreshToken != "" && !cfg.HasClient() {
		return nil, fmt.Errorf("%w: spotify client_id and client_secret are required to refresh tokens", shared.ErrMissingCredentials)
	}

	o := spotifyOptions{candidateLimit: defaultCandidateLimit}
	for _, opt := range opts {
		opt(&o)
	}
	if o.candidateLimit <= 0 || o.candidateLimit > 50 {
		o.candidateLimit = defaultCandidateLimit
	}

	config := SpotifyOAuthConfig(cfg)

	if o.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, o.httpClient)
	}
	token := &oauth2.Token{AccessToken: cfg.AccessToken, RefreshToken: cfg.RefreshToken, TokenType: "Bearer"}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = spotifyBaseURL
	}

	return &SpotifyClient{
		config:         config,
		httpClient:     config.Client(ctx, token),
		baseURL:        baseURL,
		candidateLimit: o.candidateLimit,
		order:          make(map[string][]string),
		writers:        make(map[string]*sync.Mutex),
	}, nil
}

// SpotifyOAuthConfig builds the authorization code flow configuration. The redirect URI defaults to
// http://127.0.0.1:3000/callback.
func SpotifyOAuthConfig(cfg shared.SpotifyConfig) *oauth2.Config {
	redirectURI := cfg.RedirectURI
	if redirectURI == "" {
		redirectURI = defaultRedirectURI
	}

	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  redirectURI,
		Scopes: []string{
			"playlist-read-private",
			"playlist-read-collaborative",
			"playlist-modify-private",
			"playlist-modify-public",
		},
		Endpoint: oauth2.Endpoint{
			AuthURL:  spotifyAuthURL,
			TokenURL: spotifyTokenURL,
		},
	}
}

// SearchCandidates calls GET /search?type=track.
func (s *SpotifyClient) SearchCandidates(ctx context.Context, query string) ([]models.Candidate, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("type", "track")
	params.Set("limit", fmt.Sprint(s.candidateLimit))

	var resp spotifySearchResponse
	if err := s.doRequest(ctx, http.MethodGet, "/search?"+params.Encode(), nil, &resp); err != nil {
		return nil, err
	}

	candidates := make([]models.Candidate, 0, len(resp.Tracks.Items))
	for _, t := range resp.Tracks.Items {
		if t.ID == "" || t.URI == "" {
			continue
		}
		candidates = append(candidates, t.Candidate())
	}
	return candidates, nil
}

// AddOrUpdateTrack places trackURI at position in the destination playlist.
//
// An absent track is inserted (clamped to the end of the playlist); a track already present at
// another index is moved; a track already at position is left alone.
func (s *SpotifyClient) AddOrUpdateTrack(ctx context.Context, destinationPlaylistID, trackURI string, position int) error {
	if destinationPlaylistID == "" || trackURI == "" {
		return fmt.Errorf("%w: playlist id and track uri are required", shared.ErrInvalidInput)
	}
	position = max(position, 0)

	unlock := s.lockPlaylist(destinationPlaylistID)
	defer unlock()

	order, err := s.cachedOrder(ctx, destinationPlaylistID)
	if err != nil {
		return err
	}

	current := indexOf(order, trackURI)
	switch {
	case current == position:
		return nil
	case current < 0:
		position = min(position, len(order))
		body := map[string]any{"uris": []string{trackURI}, "position": position}
		if err := s.doRequest(ctx, http.MethodPost, tracksEndpoint(destinationPlaylistID), body, nil); err != nil {
			s.forgetOrder(destinationPlaylistID)
			return err
		}
		s.storeOrder(destinationPlaylistID, insertAt(order, position, trackURI))
	default:
		position = min(position, len(order)-1)
		if current == position {
			return nil
		}
		insertBefore := position
		if position > current {
			insertBefore = position + 1
		}
		body := map[string]any{"range_start": current, "insert_before": insertBefore, "range_length": 1}
		if err := s.doRequest(ctx, http.MethodPut, tracksEndpoint(destinationPlaylistID), body, nil); err != nil {
			s.forgetOrder(destinationPlaylistID)
			return err
		}
		s.storeOrder(destinationPlaylistID, move(order, current, position))
	}
	return nil
}

// PlaylistTrackURIs returns the playlist's track URIs in order, following pagination.
func (s *SpotifyClient) PlaylistTrackURIs(ctx context.Context, destinationPlaylistID string) ([]string, error) {
	unlock := s.lockPlaylist(destinationPlaylistID)
	defer unlock()

	s.forgetOrder(destinationPlaylistID)
	order, err := s.cachedOrder(ctx, destinationPlaylistID)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), order...), nil
}

// CreatePlaylist creates a private playlist for the current user via POST /me/playlists.
func (s *SpotifyClient) CreatePlaylist(ctx context.Context, name, description string) (string, string, error) {
	body := map[string]any{"name": name, "description": description, "public": false}

	var created SpotifyPlaylist
	if err := s.doRequest(ctx, http.MethodPost, "/me/playlists", body, &created); err != nil {
		return "", "", err
	}
	if created.ID == "" {
		return "", "", fmt.Errorf("spotify returned a playlist without id")
	}

	s.storeOrder(created.ID, []string{})
	return created.ID, created.URI, nil
}

// lockPlaylist serializes writers of one playlist and returns the matching unlock.
func (s *SpotifyClient) lockPlaylist(playlistID string) func() {
	s.mu.Lock()
	w, ok := s.writers[playlistID]
	if !ok {
		w = &sync.Mutex{}
		s.writers[playlistID] = w
	}
	s.mu.Unlock()

	w.Lock()
	return w.Unlock
}

func (s *SpotifyClient) storeOrder(playlistID string, order []string) {
	s.mu.Lock()
	s.order[playlistID] = order
	s.mu.Unlock()
}

func (s *SpotifyClient) forgetOrder(playlistID string) {
	s.mu.Lock()
	delete(s.order, playlistID)
	s.mu.Unlock()
}

// cachedOrder loads the playlist order on first use. Callers hold the playlist's writer lock;
// cached slices are never mutated in place.
func (s *SpotifyClient) cachedOrder(ctx context.Context, playlistID string) ([]string, error) {
	s.mu.Lock()
	order, ok := s.order[playlistID]
	s.mu.Unlock()
	if ok {
		return order, nil
	}

	for offset := 0; ; {
		endpoint := fmt.Sprintf("%s?fields=items(track(uri)),next&limit=%d&offset=%d",
			tracksEndpoint(playlistID), playlistPageSize, offset)

		var page spotifyPlaylistItems
		if err := s.doRequest(ctx, http.MethodGet, endpoint, nil, &page); err != nil {
			return nil, err
		}
		for _, item := range page.Items {
			uri := ""
			if item.Track != nil {
				uri = item.Track.URI
			}
			order = append(order, uri)
		}
		if page.Next == nil || len(page.Items) == 0 {
			break
		}
		offset += len(page.Items)
	}

	if order == nil {
		order = []string{}
	}
	s.storeOrder(playlistID, order)
	return order, nil
}

// doRequest performs an authenticated request against the Web API.
func (s *SpotifyClient) doRequest(ctx context.Context, method, endpoint string, body, result any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return &DestinationError{Kind: DestinationAuthExpired, Err: retrieveErr}
		}
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		return destinationErrorFromResponse(resp, errResp.Error.Message)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

func tracksEndpoint(playlistID string) string {
	return fmt.Sprintf("/playlists/%s/tracks", url.PathEscape(playlistID))
}

func indexOf(order []string, uri string) int {
	for i, u := range order {
		if u == uri {
			return i
		}
	}
	return -1
}

func insertAt(order []string, i int, uri string) []string {
	out := make([]string, 0, len(order)+1)
	out = append(out, order[:i]...)
	out = append(out, uri)
	return append(out, order[i:]...)
}

func move(order []string, from, to int) []string {
	uri := order[from]
	out := make([]string, 0, len(order))
	out = append(out, order[:from]...)
	out = append(out, order[from+1:]...)
	return insertAt(out, to, uri)
}
