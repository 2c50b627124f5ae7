package filter

import (
	"streamforge/models"
)

// Precompute writes the ranking annotations onto the surviving streams:
// ranked regex and expression scores plus the first matching preferred
// regex, keyword and expression. Runs after filtering, before sorting.
func (p *Pipeline) Precompute(streams []*models.ParsedStream) {
	for _, s := range streams {
		for _, ranked := range p.user.RankedRegexes {
			if !p.regexMatchesStream(ranked.Pattern, s) {
				continue
			}
			s.RegexScore += ranked.Score
			name := ranked.Name
			if name == "" {
				name = ranked.Pattern
			}
			s.RankedRegexesMatched = append(s.RankedRegexesMatched, name)
		}
		for _, ranked := range p.user.RankedExpressions {
			if p.sel.eval(ranked.Expression, s) {
				s.ExpressionScore += ranked.Score
			}
		}

		// Preferred lists are priority-ordered; the first match wins.
		for _, pattern := range p.user.PreferredRegexes {
			if p.regexMatchesStream(pattern, s) {
				s.RegexMatched = pattern
				break
			}
		}
		for _, keyword := range p.user.PreferredKeywords {
			if p.keywordMatchesStream(keyword, s) {
				s.KeywordMatched = keyword
				break
			}
		}
		for _, src := range p.user.PreferredExpressions {
			if p.sel.eval(src, s) {
				s.ExpressionMatched = src
				break
			}
		}
	}
}

// Score is the composite ranking score used as the final sort tie breaker:
// ranked regex and expression contributions plus per-attribute ranked values.
func (p *Pipeline) Score(s *models.ParsedStream) int {
	score := s.RegexScore + s.ExpressionScore
	for _, attr := range p.enumAttrs(s) {
		for value, points := range attr.filter.Ranked {
			if containsFold(attr.values, value) {
				score += points
			}
		}
	}
	return score
}
