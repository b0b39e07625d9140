// Package release picks a download link for a named episode or batch out of
// a ranked list of search results.
package release

import (
	"fmt"
	"regexp"
	"strings"

	"magnet-queue/internal/domain"
)

// Candidate is one search result. Candidates are expected in rank order,
// best first (usually by seed count).
type Candidate struct {
	Title string `json:"title"`
	Link  string `json:"link"`
	Size  string `json:"size"`
}

// Query describes the release being looked for.
type Query struct {
	Name       string `json:"name"`
	SearchName string `json:"search_name,omitempty"`
	Season     int    `json:"season,omitempty"`
	Episode    int    `json:"episode,omitempty"`
	Batch      bool   `json:"batch,omitempty"`
	Movie      bool   `json:"movie,omitempty"`
	Resolution string `json:"resolution,omitempty"`
	// Excluded tags reject a title when matching a single episode. Nil
	// means DefaultExcluded; an empty slice excludes nothing.
	Excluded []string `json:"excluded,omitempty"`
	// Codecs, when set, require one of the tokens somewhere in the title.
	Codecs []string `json:"codecs,omitempty"`
	// BatchUploaders restricts batch matches to these uploader tags, e.g. "[ember]".
	BatchUploaders []string `json:"batch_uploaders,omitempty"`
}

const DefaultResolution = "1080p"

// DefaultExcluded is the tag rejected when a query leaves Excluded nil.
const DefaultExcluded = "vostfr"

var (
	batchMarkers    = []string{"batch", "complete"}
	anySeasonMarker = regexp.MustCompile(`(?i)\b(season\s*\d+|s\d{1,2})\b`)
)

// Match returns the first candidate, in input order, that satisfies q.
// It returns domain.ErrNoMatchFound when nothing qualifies.
func Match(q Query, candidates []Candidate) (Candidate, error) {
	q = q.normalized()
	if q.Name == "" {
		return Candidate{}, fmt.Errorf("release name is required: %w", domain.ErrInvalidInput)
	}
	if len(candidates) == 0 {
		return Candidate{}, domain.ErrNoMatchFound
	}

	titleRe := titlePattern(q)
	var seasonRe *regexp.Regexp
	if q.Batch && !q.Movie {
		seasonRe = regexp.MustCompile(fmt.Sprintf(`(?i)\b(season\s*0*%d|s0*%d)\b`, q.Season, q.Season))
	}

	for _, c := range candidates {
		if !titleRe.MatchString(c.Title) {
			continue
		}
		lower := " " + strings.ToLower(c.Title) + " "
		if !hasCodec(lower, q.Codecs) {
			continue
		}
		if q.Batch {
			if matchBatch(q, lower, c.Title, seasonRe) {
				return c, nil
			}
			continue
		}
		if containsAny(lower, q.Excluded) {
			continue
		}
		if matchEpisode(q, lower) {
			return c, nil
		}
	}
	return Candidate{}, fmt.Errorf("%s: %w", q.describe(), domain.ErrNoMatchFound)
}

func (q Query) normalized() Query {
	q.Name = strings.TrimSpace(q.Name)
	q.SearchName = strings.TrimSpace(q.SearchName)
	if q.SearchName == "" {
		q.SearchName = q.Name
	}
	if q.Name == "" {
		q.Name = q.SearchName
	}
	if q.Season <= 0 {
		q.Season = 1
	}
	if strings.TrimSpace(q.Resolution) == "" {
		q.Resolution = DefaultResolution
	}
	if q.Excluded == nil {
		q.Excluded = []string{DefaultExcluded}
	}
	q.Excluded = lowerAll(q.Excluded)
	q.Codecs = lowerAll(q.Codecs)
	q.BatchUploaders = lowerAll(q.BatchUploaders)
	return q
}

func (q Query) describe() string {
	if q.Batch {
		return fmt.Sprintf("%s season %d batch", q.Name, q.Season)
	}
	return fmt.Sprintf("%s season %d episode %d", q.Name, q.Season, q.Episode)
}

// titlePattern requires the resolution and one of the names, in either
// order, each as a whole word.
func titlePattern(q Query) *regexp.Regexp {
	res := wholeWord(q.Resolution)
	names := wholeWord(q.Name)
	if !strings.EqualFold(q.Name, q.SearchName) {
		names += "|" + wholeWord(q.SearchName)
	}
	return regexp.MustCompile(fmt.Sprintf(`(?i)%s.*(?:%s)|(?:%s).*%s`, res, names, names, res))
}

// wholeWord quotes s and anchors each end on a word boundary when that end
// is a word character, so "Show Name" does not match inside "Show Namesake".
func wholeWord(s string) string {
	p := regexp.QuoteMeta(s)
	if s == "" {
		return p
	}
	if isWordByte(s[0]) {
		p = `\b` + p
	}
	if isWordByte(s[len(s)-1]) {
		p += `\b`
	}
	return p
}

// isWordByte mirrors the ASCII-only \b of the regexp package.
func isWordByte(b byte) bool {
	return b == '_' || ('0' <= b && b <= '9') || ('a' <= b && b <= 'z') || ('A' <= b && b <= 'Z')
}

func matchEpisode(q Query, lower string) bool {
	rule := ruleFor(lower)
	for _, needle := range rule.needles(q.Season, q.Episode) {
		if strings.Contains(lower, needle) {
			return true
		}
	}
	return false
}

func matchBatch(q Query, lower, title string, seasonRe *regexp.Regexp) bool {
	if len(q.BatchUploaders) > 0 && !containsAny(lower, q.BatchUploaders) {
		return false
	}
	if !containsAny(lower, batchMarkers) {
		return false
	}
	if seasonRe == nil || seasonRe.MatchString(title) {
		return true
	}
	// first seasons are often released without any season marker
	return q.Season == 1 && !anySeasonMarker.MatchString(title)
}

func hasCodec(lower string, codecs []string) bool {
	return len(codecs) == 0 || containsAny(lower, codecs)
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
