// YouTube [SourceClient] implementation
//
// Communicates with the FastAPI proxy server (music/) running on port 8080.
// The proxy wraps ytmusicapi Python library for YouTube Music operations.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/desertthunder/ytsync/internal/models"
	"github.com/desertthunder/ytsync/internal/shared"
)

const defaultYTBaseURL string = "http://localhost:8080"

// YouTubeImage represents an image/thumbnail from YouTube Music.
type YouTubeImage struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// YouTubeArtist represents an artist in YouTube Music responses.
type YouTubeArtist struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// YouTubeTrack represents a track/video in YouTube Music responses.
type YouTubeTrack struct {
	VideoID     string          `json:"videoId"`
	Title       string          `json:"title"`
	Artists     []YouTubeArtist `json:"artists"`
	Author      string          `json:"author,omitempty"` // uploader, for plain videos
	Duration    string          `json:"duration"`         // "m:ss" or "h:mm:ss"
	DurationSec int             `json:"duration_seconds"`
	Thumbnails  []YouTubeImage  `json:"thumbnails"`
	IsAvailable *bool           `json:"isAvailable,omitempty"`
}

// YouTubePlaylist represents a playlist from YouTube Music.
type YouTubePlaylist struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Privacy     string         `json:"privacy"`
	TrackCount  int            `json:"trackCount"`
	Tracks      []YouTubeTrack `json:"tracks,omitempty"`
}

// YouTubeClient implements [SourceClient] over the proxy.
type YouTubeClient struct {
	baseURL    string
	authFile   string
	httpClient *http.Client
}

// NewYouTubeClient creates a client from configuration. A nil httpClient uses [http.DefaultClient].
func NewYouTubeClient(cfg shared.YouTubeConfig, httpClient *http.Client) *YouTubeClient {
	baseURL := strings.TrimRight(cfg.ProxyURL, "/")
	if baseURL == "" {
		baseURL = defaultYTBaseURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &YouTubeClient{baseURL: baseURL, authFile: cfg.AuthFile, httpClient: httpClient}
}

// ListItems returns the playlist's available videos in source order.
//
// Calls GET /api/playlists/{id} on the proxy. Unavailable videos are skipped and positions are
// assigned to the remaining items so they stay contiguous.
func (y *YouTubeClient) ListItems(ctx context.Context, sourcePlaylistID string) ([]models.SourceItem, error) {
	playlist, err := y.fetch(ctx, sourcePlaylistID)
	if err != nil {
		return nil, err
	}

	items := make([]models.SourceItem, 0, len(playlist.Tracks))
	for _, t := range playlist.Tracks {
		if t.VideoID == "" || (t.IsAvailable != nil && !*t.IsAvailable) {
			continue
		}
		items = append(items, models.SourceItem{
			ID:              t.VideoID,
			Title:           t.Title,
			Channel:         t.channel(),
			DurationSeconds: t.seconds(),
			ThumbnailURL:    t.thumbnail(),
			Position:        len(items),
		})
	}
	return items, nil
}

// Playlist returns playlist details without items.
func (y *YouTubeClient) Playlist(ctx context.Context, sourcePlaylistID string) (*SourcePlaylist, error) {
	playlist, err := y.fetch(ctx, sourcePlaylistID)
	if err != nil {
		return nil, err
	}
	count := playlist.TrackCount
	if count == 0 {
		count = len(playlist.Tracks)
	}
	return &SourcePlaylist{ID: sourcePlaylistID, Title: playlist.Title, Description: playlist.Description, ItemCount: count}, nil
}

func (y *YouTubeClient) fetch(ctx context.Context, id string) (*YouTubePlaylist, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: source playlist id", shared.ErrMissingArgument)
	}

	var playlist YouTubePlaylist
	endpoint := fmt.Sprintf("/api/playlists/%s", url.PathEscape(id))
	if err := y.doRequest(ctx, http.MethodGet, endpoint, id, &playlist); err != nil {
		return nil, err
	}
	if playlist.Privacy == "PRIVATE" && len(playlist.Tracks) == 0 && playlist.TrackCount > 0 {
		return nil, &SourceError{Kind: SourcePrivate, PlaylistID: id}
	}
	return &playlist, nil
}

func (y *YouTubeClient) doRequest(ctx context.Context, method, endpoint, playlistID string, result any) error {
	req, err := http.NewRequestWithContext(ctx, method, y.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if y.authFile != "" {
		req.Header.Set("X-Auth-File", y.authFile)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := y.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return &SourceError{Kind: SourceUnavailable, PlaylistID: playlistID, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp struct {
			Detail string `json:"detail"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		return sourceErrorFromStatus(playlistID, resp.StatusCode, errResp.Detail)
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return &SourceError{Kind: SourceUnavailable, PlaylistID: playlistID, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}

func (t YouTubeTrack) channel() string {
	names := make([]string, 0, len(t.Artists))
	for _, a := range t.Artists {
		if a.Name != "" {
			names = append(names, a.Name)
		}
	}
	if len(names) > 0 {
		return strings.Join(names, ", ")
	}
	return t.Author
}

func (t YouTubeTrack) seconds() int {
	if t.DurationSec > 0 {
		return t.DurationSec
	}
	return parseClock(t.Duration)
}

// thumbnail returns the widest thumbnail URL.
func (t YouTubeTrack) thumbnail() string {
	best := YouTubeImage{}
	for _, img := range t.Thumbnails {
		if best.URL == "" || img.Width > best.Width {
			best = img
		}
	}
	return best.URL
}

// parseClock converts "h:mm:ss" or "m:ss" to seconds. Malformed input yields 0.
func parseClock(s string) int {
	if s == "" {
		return 0
	}
	total := 0
	for part := range strings.SplitSeq(s, ":") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 0 {
			return 0
		}
		total = total*60 + n
	}
	return total
}
