package release

import (
	"fmt"
	"strings"
)

// episodeRule formats the episode substrings an uploader uses in its titles.
// Needles are matched against the lowercased title padded with one space on
// each side.
type episodeRule struct {
	tag     string
	needles func(season, episode int) []string
}

var episodeRules = []episodeRule{
	{
		tag: "[ember]",
		needles: func(s, e int) []string {
			return []string{fmt.Sprintf(" s%02de%02d ", s, e)}
		},
	},
	{
		tag: "[subsplease]",
		needles: func(s, e int) []string {
			if s >= 2 {
				return []string{fmt.Sprintf(" s%d - %02d ", s, e)}
			}
			return []string{fmt.Sprintf(" - %02d ", e)}
		},
	},
	{
		tag: "[erai-raws]",
		needles: func(_, e int) []string {
			return []string{fmt.Sprintf("%02d ", e)}
		},
	},
	{
		tag: "[toonshub]",
		needles: func(_, e int) []string {
			return []string{fmt.Sprintf("e%d ", e)}
		},
	},
}

var defaultRule = episodeRule{
	needles: func(s, e int) []string {
		full := fmt.Sprintf(" s%02de%02d ", s, e)
		if s >= 2 {
			return []string{full}
		}
		return []string{fmt.Sprintf(" e%02d ", e), full}
	},
}

func ruleFor(lowerTitle string) episodeRule {
	for _, rule := range episodeRules {
		if strings.Contains(lowerTitle, rule.tag) {
			return rule
		}
	}
	return defaultRule
}
