package release

import (
	"sort"
	"strings"

	"github.com/anacrolix/torrent/metainfo"
	"github.com/dustin/go-humanize"
	"github.com/lithammer/fuzzysearch/fuzzy"

	"magnet-queue/internal/domain"
)

// Smallest returns the candidate with the smallest parsable size. Ties keep
// the earlier candidate.
func Smallest(candidates []Candidate) (Candidate, error) {
	var (
		best     Candidate
		bestSize uint64
		found    bool
	)
	for _, c := range candidates {
		size, err := ParseSize(c.Size)
		if err != nil {
			continue
		}
		if !found || size < bestSize {
			best, bestSize, found = c, size, true
		}
	}
	if !found {
		return Candidate{}, domain.ErrNoMatchFound
	}
	return best, nil
}

// ParseSize reads sizes as search sites print them ("1.4 GiB", "700 MB").
func ParseSize(s string) (uint64, error) {
	return humanize.ParseBytes(strings.TrimSpace(s))
}

// Alternatives ranks candidates whose title fuzzily contains the query name,
// closest first, and returns at most limit of them. It is meant for
// presenting a choice after Match fails.
func Alternatives(q Query, candidates []Candidate, limit int) []Candidate {
	q = q.normalized()
	type ranked struct {
		c     Candidate
		score int
		pos   int
	}
	var out []ranked
	for i, c := range candidates {
		score := -1
		for _, name := range []string{q.Name, q.SearchName} {
			if name == "" {
				continue
			}
			if r := fuzzy.RankMatchNormalizedFold(name, c.Title); r >= 0 && (score < 0 || r < score) {
				score = r
			}
		}
		if score < 0 {
			continue
		}
		out = append(out, ranked{c: c, score: score, pos: i})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score < out[j].score
		}
		return out[i].pos < out[j].pos
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	result := make([]Candidate, len(out))
	for i, r := range out {
		result[i] = r.c
	}
	return result
}

// Dedupe drops candidates whose link points at a torrent already seen,
// comparing magnet info hashes. The first occurrence wins.
func Dedupe(candidates []Candidate) []Candidate {
	seen := make(map[string]struct{}, len(candidates))
	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		key := linkKey(c.Link)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}

func linkKey(link string) string {
	if m, err := metainfo.ParseMagnetUri(link); err == nil {
		return "btih:" + m.InfoHash.HexString()
	}
	return "link:" + strings.TrimSpace(link)
}
