// Package matcher picks the destination track that best fits a source item.
//
// Resolution order:
//  1. exact identifier: a candidate whose description or metadata embeds the source video ID
//  2. fuzzy: weighted title/artist similarity plus duration proximity, accepted above a threshold
//
// The matcher holds no state beyond its threshold; identical inputs always give identical results.
package matcher

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/desertthunder/ytsync/internal/models"
)

// DefaultThreshold is the minimum fuzzy confidence accepted as a match.
const DefaultThreshold = 0.55

const (
	titleWeight    = 0.65
	artistWeight   = 0.35
	albumBonus     = 0.05
	textWeight     = 0.8
	durationWeight = 0.2

	durationExact    = 2  // seconds of drift scored as a perfect duration match
	durationMaxDelta = 30 // seconds of drift scored as zero
	durationUnknown  = 0.5
)

// ErrNoMatch is returned when no candidate reaches the acceptance threshold.
var ErrNoMatch = errors.New("no acceptable match")

// Result is the chosen candidate with its score breakdown.
type Result struct {
	Candidate     models.Candidate
	Confidence    float64
	Method        models.MatchMethod
	TitleScore    float64
	ArtistScore   float64
	DurationScore float64
	DurationDelta int // -1 when either duration is unknown
}

// Metadata returns the snapshot stored with a [models.TrackMatch].
func (r Result) Metadata() map[string]any {
	md := r.Candidate.Snapshot()
	md["title_score"] = models.RoundConfidence(r.TitleScore)
	md["artist_score"] = models.RoundConfidence(r.ArtistScore)
	md["duration_score"] = models.RoundConfidence(r.DurationScore)
	if r.DurationDelta >= 0 {
		md["duration_delta"] = r.DurationDelta
	}
	return md
}

// Matcher scores candidates against a fixed acceptance threshold.
type Matcher struct {
	threshold float64
}

// New creates a matcher. A threshold outside [0,1] falls back to [DefaultThreshold].
func New(threshold float64) *Matcher {
	if threshold < 0 || threshold > 1 || math.IsNaN(threshold) {
		threshold = DefaultThreshold
	}
	return &Matcher{threshold: threshold}
}

// Threshold returns the acceptance threshold.
func (m *Matcher) Threshold() float64 { return m.threshold }

// FindBestMatch returns the best candidate for item or an error wrapping [ErrNoMatch].
func (m *Matcher) FindBestMatch(item models.SourceItem, candidates []models.Candidate) (Result, error) {
	if len(candidates) == 0 {
		return Result{}, fmt.Errorf("%w: no candidates", ErrNoMatch)
	}

	if res, ok := exactMatch(item, candidates); ok {
		return res, nil
	}

	artist, track := Describe(item)
	src := sourceFields{
		track:    Normalize(track),
		artist:   Normalize(artist),
		full:     Normalize(CleanTitle(item.Title)),
		duration: item.DurationSeconds,
	}

	var (
		best  Result
		found bool
	)
	for _, c := range candidates {
		res := score(src, c)
		if !found || better(res, best) {
			best, found = res, true
		}
	}

	if best.Confidence < m.threshold {
		return Result{}, fmt.Errorf("%w: best score %.4f below %.2f", ErrNoMatch, best.Confidence, m.threshold)
	}
	return best, nil
}

type sourceFields struct {
	track    string
	artist   string
	full     string
	duration int
}

// exactMatch selects the candidate embedding the video ID; several hits resolve to the smallest ID.
func exactMatch(item models.SourceItem, candidates []models.Candidate) (Result, bool) {
	if item.ID == "" {
		return Result{}, false
	}

	var hits []models.Candidate
	for _, c := range candidates {
		if embedsID(c, item.ID) {
			hits = append(hits, c)
		}
	}
	if len(hits) == 0 {
		return Result{}, false
	}

	slices.SortFunc(hits, func(a, b models.Candidate) int { return strings.Compare(a.ID, b.ID) })
	c := hits[0]
	return Result{
		Candidate:     c,
		Confidence:    1.0,
		Method:        models.MatchExactID,
		TitleScore:    1,
		ArtistScore:   1,
		DurationScore: 1,
		DurationDelta: durationDelta(item.DurationSeconds, c.DurationSeconds),
	}, true
}

func embedsID(c models.Candidate, id string) bool {
	if strings.Contains(c.Description, id) {
		return true
	}
	for _, v := range c.Metadata {
		if strings.Contains(v, id) {
			return true
		}
	}
	return false
}

// score computes the fuzzy confidence of one candidate.
func score(src sourceFields, c models.Candidate) Result {
	candTitle := Normalize(CleanTitle(c.Title))

	titleScore := Similarity(src.track, candTitle)
	artistScore := 0.0
	for _, a := range c.Artists {
		artistScore = max(artistScore, Similarity(src.artist, Normalize(a)))
	}

	// Titles like "Track Artist" without a separator compare whole against "artist title".
	if len(c.Artists) > 0 {
		combined := Normalize(c.Artists[0] + " " + c.Title)
		if s := Similarity(src.full, combined); s > titleScore {
			titleScore = s
			artistScore = max(artistScore, s)
		}
	}

	text := titleWeight*titleScore + artistWeight*artistScore
	if c.Album != "" && Similarity(src.track, Normalize(c.Album)) >= 0.9 {
		text += albumBonus
	}
	text = min(text, 1)

	delta := durationDelta(src.duration, c.DurationSeconds)
	dur := durationScore(delta)

	return Result{
		Candidate:     c,
		Confidence:    models.RoundConfidence(textWeight*text + durationWeight*dur),
		Method:        models.MatchFuzzy,
		TitleScore:    titleScore,
		ArtistScore:   artistScore,
		DurationScore: dur,
		DurationDelta: delta,
	}
}

func durationDelta(a, b int) int {
	if a <= 0 || b <= 0 {
		return -1
	}
	d := a - b
	if d < 0 {
		d = -d
	}
	return d
}

func durationScore(delta int) float64 {
	switch {
	case delta < 0:
		return durationUnknown
	case delta <= durationExact:
		return 1
	case delta >= durationMaxDelta:
		return 0
	default:
		return 1 - float64(delta-durationExact)/float64(durationMaxDelta-durationExact)
	}
}

// better orders by confidence, then smaller duration delta (unknown last), then candidate ID.
func better(a, b Result) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	da, db := a.DurationDelta, b.DurationDelta
	if da < 0 {
		da = math.MaxInt
	}
	if db < 0 {
		db = math.MaxInt
	}
	if da != db {
		return da < db
	}
	return a.Candidate.ID < b.Candidate.ID
}
