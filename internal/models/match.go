package models

import (
	"fmt"
	"math"
	"time"

	"github.com/desertthunder/ytsync/internal/shared"
)

// TrackMatch maps one [PlaylistItem] to one destination track.
//
// At most one match per item is active. Inactive rows are history and are never deleted.
type TrackMatch struct {
	base
	itemID          string
	trackID         string
	trackURI        string
	confidence      float64
	method          MatchMethod
	active          bool
	metadata        map[string]any
	matchedAt       time.Time
	appliedPosition *int
	appliedAt       *time.Time
}

// NewTrackMatch creates an inactive match. Confidence is rounded to four decimals.
func NewTrackMatch(itemID, trackID, trackURI string, confidence float64, method MatchMethod) *TrackMatch {
	b := newBase()
	return &TrackMatch{
		base:       b,
		itemID:     itemID,
		trackID:    trackID,
		trackURI:   trackURI,
		confidence: RoundConfidence(confidence),
		method:     method,
		metadata:   map[string]any{},
		matchedAt:  b.createdAt,
	}
}

// RoundConfidence rounds a score to the four decimals stored for matches.
func RoundConfidence(c float64) float64 {
	return math.Round(c*10000) / 10000
}

func (m *TrackMatch) ItemID() string           { return m.itemID }
func (m *TrackMatch) TrackID() string          { return m.trackID }
func (m *TrackMatch) TrackURI() string         { return m.trackURI }
func (m *TrackMatch) Confidence() float64      { return m.confidence }
func (m *TrackMatch) Method() MatchMethod      { return m.method }
func (m *TrackMatch) IsActive() bool           { return m.active }
func (m *TrackMatch) Metadata() map[string]any { return m.metadata }
func (m *TrackMatch) MatchedAt() time.Time     { return m.matchedAt }
func (m *TrackMatch) AppliedPosition() *int    { return m.appliedPosition }
func (m *TrackMatch) AppliedAt() *time.Time    { return m.appliedAt }

func (m *TrackMatch) SetActive(active bool)    { m.active = active }
func (m *TrackMatch) SetMatchedAt(t time.Time) { m.matchedAt = t }

func (m *TrackMatch) SetMetadata(md map[string]any) {
	if md == nil {
		md = map[string]any{}
	}
	m.metadata = md
}

// SetApplied records the last position the track was written to on the destination.
func (m *TrackMatch) SetApplied(position *int, at *time.Time) {
	m.appliedPosition = position
	m.appliedAt = at
}

// IsAppliedAt reports whether the track is known to sit at position on the destination.
func (m *TrackMatch) IsAppliedAt(position int) bool {
	return m.appliedAt != nil && m.appliedPosition != nil && *m.appliedPosition == position
}

// IsManual reports whether a user selected this match.
func (m *TrackMatch) IsManual() bool { return m.method == MatchManual }

func (m *TrackMatch) Validate() error {
	if m.itemID == "" {
		return fmt.Errorf("%w: match item is required", shared.ErrInvalidInput)
	}
	if m.trackID == "" && m.trackURI == "" {
		return fmt.Errorf("%w: match track is required", shared.ErrInvalidInput)
	}
	if m.confidence < 0 || m.confidence > 1 || math.IsNaN(m.confidence) {
		return fmt.Errorf("%w: confidence %v outside [0,1]", shared.ErrInvalidInput, m.confidence)
	}
	if !m.method.Valid() {
		return fmt.Errorf("%w: unknown match method %q", shared.ErrInvalidInput, m.method)
	}
	return nil
}
