package matcher

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/desertthunder/ytsync/internal/models"
)

var (
	// Bracketed segments such as "(Official Video)" or "[HD]".
	bracketed = regexp.MustCompile(`\s*[\(\[\{【]([^\)\]\}】]*)[\)\]\}】]`)
	// Featured artist suffix outside brackets.
	featuring = regexp.MustCompile(`(?i)\s+(feat\.?|ft\.?|featuring)\s+.*$`)
	// Trailing "| Channel Name" style suffixes.
	pipeSuffix = regexp.MustCompile(`\s*[|｜].*$`)
	// Separator between artist and title in video titles.
	artistSep = regexp.MustCompile(`\s+[-–—]\s+`)

	noiseTokens = map[string]struct{}{
		"official": {}, "video": {}, "audio": {}, "lyric": {}, "lyrics": {}, "visualizer": {},
		"visualiser": {}, "hd": {}, "hq": {}, "4k": {}, "mv": {}, "explicit": {}, "clip": {},
		"feat": {}, "ft": {}, "featuring": {},
	}
	noisePhrases = []string{"m v", "color coded"}

	channelSuffixes = []string{" - topic", "vevo", " official", "official"}
)

// Normalize folds s for comparison: NFKD decomposition with combining marks dropped,
// lowercase, "&" spelled out, punctuation replaced by spaces and whitespace collapsed.
func Normalize(s string) string {
	s = norm.NFKD.String(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.Is(unicode.Mn, r):
		case r == '&':
			b.WriteString(" and ")
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteRune(' ')
		}
	}

	return strings.Join(strings.Fields(b.String()), " ")
}

// CleanTitle strips video noise from a YouTube title: bracketed tags naming the upload type,
// featured artist suffixes and "| ..." trailers. Bracketed text that is not noise is kept.
func CleanTitle(title string) string {
	title = pipeSuffix.ReplaceAllString(title, "")
	title = bracketed.ReplaceAllStringFunc(title, func(seg string) string {
		if isNoise(bracketed.FindStringSubmatch(seg)[1]) {
			return ""
		}
		return seg
	})
	title = featuring.ReplaceAllString(title, "")
	return strings.TrimSpace(title)
}

// isNoise reports whether a bracketed segment only describes the upload.
func isNoise(segment string) bool {
	n := Normalize(segment)
	for _, tok := range strings.Fields(n) {
		if _, ok := noiseTokens[tok]; ok {
			return true
		}
	}
	padded := " " + n + " "
	for _, phrase := range noisePhrases {
		if strings.Contains(padded, " "+phrase+" ") {
			return true
		}
	}
	return false
}

// CleanChannel removes auto-generated channel decorations such as " - Topic" and "VEVO".
func CleanChannel(channel string) string {
	c := strings.TrimSpace(channel)
	for _, suffix := range channelSuffixes {
		if len(c) > len(suffix) && strings.HasSuffix(strings.ToLower(c), suffix) {
			c = strings.TrimSpace(c[:len(c)-len(suffix)])
		}
	}
	return c
}

// SplitArtistTitle splits "Artist - Track" titles. ok is false when no separator is present.
func SplitArtistTitle(title string) (artist, track string, ok bool) {
	parts := artistSep.Split(title, 2)
	if len(parts) != 2 {
		return "", title, false
	}
	artist, track = strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	if artist == "" || track == "" {
		return "", title, false
	}
	return artist, track, true
}

// Describe derives the artist and track name for a source item.
//
// "Artist - Track" titles win; otherwise the cleaned channel name stands in for the artist.
func Describe(item models.SourceItem) (artist, track string) {
	cleaned := CleanTitle(item.Title)
	if a, t, ok := SplitArtistTitle(cleaned); ok {
		return a, t
	}
	return CleanChannel(item.Channel), cleaned
}

// BuildQuery returns the destination search query for a source item.
func BuildQuery(item models.SourceItem) string {
	artist, track := Describe(item)
	if artist == "" {
		return track
	}
	return track + " " + artist
}
