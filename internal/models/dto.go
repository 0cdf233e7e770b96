package models

// SourceItem represents one video of a YouTube playlist as fetched from the source platform.
type SourceItem struct {
	ID              string `json:"id"`               // YouTube video ID
	Title           string `json:"title"`            // Video title
	Channel         string `json:"channel"`          // Channel or primary artist name
	DurationSeconds int    `json:"duration_seconds"` // Zero when unknown
	ThumbnailURL    string `json:"thumbnail_url"`
	Position        int    `json:"position"` // Zero-based position in the source list
}

// Candidate represents a destination track returned by a Spotify search.
type Candidate struct {
	ID              string            `json:"id"`
	URI             string            `json:"uri"`
	Title           string            `json:"title"`
	Artists         []string          `json:"artists"`
	Album           string            `json:"album"`
	DurationSeconds int               `json:"duration_seconds"`
	Description     string            `json:"description,omitempty"` // Free text that may embed a source video ID
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// Snapshot returns the candidate as a JSON-friendly map stored alongside a [TrackMatch].
func (c Candidate) Snapshot() map[string]any {
	snap := map[string]any{
		"id":               c.ID,
		"uri":              c.URI,
		"title":            c.Title,
		"artists":          c.Artists,
		"album":            c.Album,
		"duration_seconds": c.DurationSeconds,
	}
	for k, v := range c.Metadata {
		if _, taken := snap[k]; !taken {
			snap[k] = v
		}
	}
	return snap
}
