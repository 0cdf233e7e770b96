package matcher

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/desertthunder/ytsync/internal/models"
)

func candidate(id, title, artist string, duration int) models.Candidate {
	return models.Candidate{
		ID:              id,
		URI:             "spotify:track:" + id,
		Title:           title,
		Artists:         []string{artist},
		DurationSeconds: duration,
	}
}

func TestFindBestMatch(t *testing.T) {
	m := New(DefaultThreshold)
	item := models.SourceItem{
		ID:              "dQw4w9WgXcQ",
		Title:           "Band - Song (Official Video)",
		Channel:         "BandVEVO",
		DurationSeconds: 200,
	}

	t.Run("fuzzy match on clean metadata", func(t *testing.T) {
		res, err := m.FindBestMatch(item, []models.Candidate{
			candidate("t2", "Another Tune", "Other Band", 180),
			candidate("t1", "Song", "Band", 201),
		})
		require.NoError(t, err)
		assert.Equal(t, "t1", res.Candidate.ID)
		assert.Equal(t, models.MatchFuzzy, res.Method)
		assert.Equal(t, 1.0, res.Confidence)
		assert.Equal(t, 1, res.DurationDelta)
	})

	t.Run("exact identifier beats a perfect fuzzy match", func(t *testing.T) {
		exact := candidate("zz", "Unrelated Upload", "Someone", 0)
		exact.Description = "source: https://youtu.be/dQw4w9WgXcQ"

		res, err := m.FindBestMatch(item, []models.Candidate{candidate("t1", "Song", "Band", 200), exact})
		require.NoError(t, err)
		assert.Equal(t, "zz", res.Candidate.ID)
		assert.Equal(t, models.MatchExactID, res.Method)
		assert.Equal(t, 1.0, res.Confidence)
	})

	t.Run("exact identifier in metadata picks smallest id", func(t *testing.T) {
		a := candidate("b-track", "X", "Y", 0)
		a.Metadata = map[string]string{"youtube_id": "dQw4w9WgXcQ"}
		b := candidate("a-track", "X", "Y", 0)
		b.Metadata = map[string]string{"link": "watch?v=dQw4w9WgXcQ"}

		res, err := m.FindBestMatch(item, []models.Candidate{a, b})
		require.NoError(t, err)
		assert.Equal(t, "a-track", res.Candidate.ID)
	})

	t.Run("no acceptable candidate", func(t *testing.T) {
		other := models.SourceItem{ID: "x", Title: "Completely Different Thing", Channel: "Someone"}
		_, err := m.FindBestMatch(other, []models.Candidate{candidate("t1", "Song", "Band", 0)})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrNoMatch))
	})

	t.Run("no candidates", func(t *testing.T) {
		_, err := m.FindBestMatch(item, nil)
		assert.ErrorIs(t, err, ErrNoMatch)
	})

	t.Run("tie prefers smaller duration delta", func(t *testing.T) {
		res, err := m.FindBestMatch(item, []models.Candidate{
			candidate("a", "Song", "Band", 202),
			candidate("b", "Song", "Band", 200),
		})
		require.NoError(t, err)
		assert.Equal(t, "b", res.Candidate.ID)
	})

	t.Run("tie falls back to candidate id", func(t *testing.T) {
		res, err := m.FindBestMatch(item, []models.Candidate{
			candidate("x2", "Song", "Band", 200),
			candidate("x1", "Song", "Band", 200),
		})
		require.NoError(t, err)
		assert.Equal(t, "x1", res.Candidate.ID)
	})

	t.Run("threshold is configurable", func(t *testing.T) {
		strict := New(0.99)
		_, err := strict.FindBestMatch(item, []models.Candidate{candidate("t1", "Song", "Band", 220)})
		assert.ErrorIs(t, err, ErrNoMatch)

		assert.Equal(t, DefaultThreshold, New(1.5).Threshold())
		assert.Equal(t, DefaultThreshold, New(-0.1).Threshold())
	})

	t.Run("metadata snapshot", func(t *testing.T) {
		res, err := m.FindBestMatch(item, []models.Candidate{candidate("t1", "Song", "Band", 201)})
		require.NoError(t, err)
		md := res.Metadata()
		assert.Equal(t, "t1", md["id"])
		assert.Equal(t, 1, md["duration_delta"])
		assert.Contains(t, md, "title_score")
	})
}

func TestFindBestMatchProperties(t *testing.T) {
	m := New(DefaultThreshold)
	r := rand.New(rand.NewSource(7))
	titles := []string{"Song", "Song (Live)", "Songs", "Another Song", "Sing", "Band Song"}
	artists := []string{"Band", "The Band", "Bandit", "Other"}

	for i := range 100 {
		item := models.SourceItem{ID: "vid", Title: "Band - Song", Channel: "Band", DurationSeconds: 180 + r.Intn(20)}

		var cands []models.Candidate
		for j := range 2 + r.Intn(6) {
			c := candidate(string(rune('a'+j)), titles[r.Intn(len(titles))], artists[r.Intn(len(artists))], 170+r.Intn(40))
			cands = append(cands, c)
		}

		first, errFirst := m.FindBestMatch(item, cands)

		shuffled := append([]models.Candidate(nil), cands...)
		r.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		second, errSecond := m.FindBestMatch(item, shuffled)

		require.Equal(t, errFirst == nil, errSecond == nil, "case %d", i)
		if errFirst == nil {
			require.Equal(t, first.Candidate.ID, second.Candidate.ID, "case %d: choice must not depend on order", i)
			require.Equal(t, first.Confidence, second.Confidence, "case %d", i)
			require.GreaterOrEqual(t, first.Confidence, 0.0)
			require.LessOrEqual(t, first.Confidence, 1.0)
		}

		exact := cands[r.Intn(len(cands))]
		exact.Description = "mirror of vid"
		withExact := append([]models.Candidate{exact}, cands...)
		res, err := m.FindBestMatch(item, withExact)
		require.NoError(t, err)
		require.Equal(t, models.MatchExactID, res.Method, "case %d: exact id must take precedence", i)
	}
}

func TestDurationScore(t *testing.T) {
	tc := []struct {
		delta int
		want  float64
	}{
		{-1, 0.5},
		{0, 1},
		{2, 1},
		{16, 0.5},
		{30, 0},
		{45, 0},
	}

	for _, tt := range tc {
		assert.InDelta(t, tt.want, durationScore(tt.delta), 1e-9, "delta %d", tt.delta)
	}
}
