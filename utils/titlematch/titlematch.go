// Package titlematch normalises and fuzzily compares titles, tolerant of
// transliteration, umlauts, punctuation, and multilingual aliases.
package titlematch

import (
	"strings"
	"unicode"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/mozillazg/go-unidecode"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"streamforge/models"
)

// DefaultThreshold is the minimum similarity (0.0-1.0) for a title to be
// considered the same content.
const DefaultThreshold = 0.85

// Scorer selects the similarity strategy.
type Scorer int

const (
	// ScorerExact compares whole normalized strings.
	ScorerExact Scorer = iota
	// ScorerPartial compares the shorter string against every same-length
	// word window of the longer one and keeps the best score.
	ScorerPartial
)

// Letters that NFKD leaves intact; folded before decomposition so "Björk"
// and "Bjoerk"-style spellings land on comparable forms.
var asciiFolds = strings.NewReplacer(
	"ä", "ae", "Ä", "ae",
	"ö", "oe", "Ö", "oe",
	"ü", "ue", "Ü", "ue",
	"ß", "ss",
	"æ", "ae", "Æ", "ae",
	"œ", "oe", "Œ", "oe",
	"ø", "o", "Ø", "o",
	"ð", "d", "Ð", "d",
	"þ", "th", "Þ", "th",
	"&", " and ",
)

// Normalize maps a title to its canonical comparison form: umlauts folded to
// ASCII, "&" to "and", diacritics stripped, transliterated, lowercased, and
// punctuation removed. Apostrophes survive only when keepApostrophes is set.
func Normalize(s string, keepApostrophes bool) string {
	s = asciiFolds.Replace(s)

	// transform.Chain is not safe for concurrent reuse; build per call.
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))
	if stripped, _, err := transform.String(t, s); err == nil {
		s = stripped
	}
	s = unidecode.Unidecode(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '\'' && keepApostrophes:
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Similarity returns the exact-ratio similarity of two raw titles, 0.0 to
// 1.0. Handles suffix containment for possessive prefixes, so
// "Will Vinton's Claymation Christmas" still matches "Claymation Christmas".
func Similarity(a, b string) float64 {
	na := Normalize(a, false)
	nb := Normalize(b, false)
	return normalizedRatio(na, nb)
}

// PartialRatio returns the best similarity of the shorter title against any
// contiguous word window of the longer one.
func PartialRatio(a, b string) float64 {
	na := Normalize(a, false)
	nb := Normalize(b, false)
	return partialRatio(na, nb)
}

func normalizedRatio(na, nb string) float64 {
	if na == nb {
		return 1.0
	}
	if na == "" || nb == "" {
		return 0.0
	}
	if score := suffixContainmentScore(na, nb); score > 0 {
		return score
	}
	distance := fuzzy.LevenshteinDistance(na, nb)
	maxLen := len([]rune(na))
	if l := len([]rune(nb)); l > maxLen {
		maxLen = l
	}
	return 1.0 - float64(distance)/float64(maxLen)
}

func partialRatio(na, nb string) float64 {
	shorter, longer := na, nb
	if len(shorter) > len(longer) {
		shorter, longer = longer, shorter
	}
	if shorter == "" {
		return 0.0
	}
	longerWords := strings.Fields(longer)
	window := len(strings.Fields(shorter))
	if window == 0 || window > len(longerWords) {
		return normalizedRatio(na, nb)
	}
	best := 0.0
	for i := 0; i+window <= len(longerWords); i++ {
		candidate := strings.Join(longerWords[i:i+window], " ")
		if score := normalizedRatio(shorter, candidate); score > best {
			best = score
			if best == 1.0 {
				break
			}
		}
	}
	return best
}

// suffixContainmentScore scores one normalized string being a word-boundary
// suffix of the other, covering "Disney's X" vs "X". The suffix must cover
// at least 60% of the longer string.
func suffixContainmentScore(na, nb string) float64 {
	longer, shorter := na, nb
	if len(na) < len(nb) {
		longer, shorter = nb, na
	}
	if !strings.HasSuffix(longer, shorter) {
		return 0
	}
	prefixLen := len(longer) - len(shorter)
	if prefixLen != 0 && longer[prefixLen-1] != ' ' {
		return 0
	}
	ratio := float64(len(shorter)) / float64(len(longer))
	if ratio < 0.6 {
		return 0
	}
	return 0.90 + ratio*0.10
}

func score(title, alias string, scorer Scorer) float64 {
	if scorer == ScorerPartial {
		return PartialRatio(title, alias)
	}
	return Similarity(title, alias)
}

// TitleMatch reports whether title matches any alias above the threshold.
// A zero threshold uses DefaultThreshold.
func TitleMatch(title string, aliases []models.Alias, threshold float64, scorer Scorer) bool {
	ok, _ := TitleMatchWithLang(title, aliases, threshold, scorer)
	return ok
}

// TitleMatchWithLang is TitleMatch plus the language of the best-scoring
// alias that cleared the threshold.
func TitleMatchWithLang(title string, aliases []models.Alias, threshold float64, scorer Scorer) (bool, string) {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	best := 0.0
	bestLang := ""
	for _, alias := range aliases {
		if alias.Title == "" {
			continue
		}
		if s := score(title, alias.Title, scorer); s >= threshold && s > best {
			best = s
			bestLang = alias.Language
			if best == 1.0 {
				break
			}
		}
	}
	return best > 0, bestLang
}

// PreprocessTitle expands a parsed title into the comparison variants:
// "A / B" and "X aka Y" alternates, a trailing parenthesised alternate, and
// a " Saga" suffix when the request aliases and filename carry "saga" but
// the parsed title does not. A separator present in at least 20% of aliases
// is treated as part of the real title and not split on.
func PreprocessTitle(title, filename string, aliases []models.Alias) []string {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil
	}
	variants := []string{title}

	appendVariant := func(v string) {
		v = strings.TrimSpace(v)
		if v == "" {
			return
		}
		for _, existing := range variants {
			if strings.EqualFold(existing, v) {
				return
			}
		}
		variants = append(variants, v)
	}

	for _, sep := range []string{" / ", "/"} {
		if strings.Contains(title, sep) && !separatorIsCommon(sep, aliases) {
			for _, part := range strings.Split(title, sep) {
				appendVariant(part)
			}
			break
		}
	}

	lowered := strings.ToLower(title)
	if idx := strings.Index(lowered, " aka "); idx >= 0 && !separatorIsCommon(" aka ", aliases) {
		appendVariant(title[:idx])
		appendVariant(title[idx+len(" aka "):])
	}

	if strings.HasSuffix(title, ")") {
		if open := strings.LastIndex(title, "("); open > 0 && !separatorIsCommon("(", aliases) {
			appendVariant(title[:open])
			appendVariant(title[open+1 : len(title)-1])
		}
	}

	if !strings.Contains(lowered, "saga") &&
		strings.Contains(strings.ToLower(filename), "saga") &&
		anyAliasContains(aliases, "saga") {
		appendVariant(title + " Saga")
	}

	return variants
}

func separatorIsCommon(sep string, aliases []models.Alias) bool {
	if len(aliases) == 0 {
		return false
	}
	sep = strings.ToLower(sep)
	count := 0
	for _, alias := range aliases {
		if strings.Contains(strings.ToLower(alias.Title), sep) {
			count++
		}
	}
	return float64(count)/float64(len(aliases)) >= 0.2
}

func anyAliasContains(aliases []models.Alias, needle string) bool {
	needle = strings.ToLower(needle)
	for _, alias := range aliases {
		if strings.Contains(strings.ToLower(alias.Title), needle) {
			return true
		}
	}
	return false
}

// IsTitleWrong reports a definite title mismatch: the parsed title (and its
// preprocessed variants) clears the threshold against no metadata alias.
// Absent metadata or an empty parsed title never count as wrong.
func IsTitleWrong(parsed models.ParsedTitle, filename string, meta *models.TitleMetadata, threshold float64) bool {
	if meta == nil || parsed.Title == "" {
		return false
	}
	aliases := make([]models.Alias, 0, len(meta.Aliases)+1)
	if meta.Primary != "" {
		aliases = append(aliases, models.Alias{Title: meta.Primary})
	}
	aliases = append(aliases, meta.Aliases...)
	if len(aliases) == 0 {
		return false
	}
	for _, variant := range PreprocessTitle(parsed.Title, filename, aliases) {
		if TitleMatch(variant, aliases, threshold, ScorerExact) {
			return false
		}
		if TitleMatch(variant, aliases, threshold, ScorerPartial) {
			return false
		}
	}
	return true
}

// IsSeasonWrong reports a definite season mismatch: seasons were parsed and
// the wanted one is not among them. No season info is never wrong.
func IsSeasonWrong(parsed models.ParsedTitle, season int) bool {
	if season <= 0 || len(parsed.Seasons) == 0 {
		return false
	}
	return !parsed.HasSeason(season)
}

// IsEpisodeWrong reports a definite episode mismatch: episodes were parsed
// and none of the wanted, absolute, or relative-absolute numbers are among
// them. Season packs (no episode list) are never wrong.
func IsEpisodeWrong(parsed models.ParsedTitle, episode, absolute, relativeAbsolute int) bool {
	if episode <= 0 || len(parsed.Episodes) == 0 {
		return false
	}
	if parsed.HasEpisode(episode) {
		return false
	}
	if absolute > 0 && parsed.HasEpisode(absolute) {
		return false
	}
	if relativeAbsolute > 0 && parsed.HasEpisode(relativeAbsolute) {
		return false
	}
	return true
}
