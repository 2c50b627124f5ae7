// Package titleparse maps a release or file name to a structured
// descriptor. Parsing is pure and deterministic; repeated invocations on
// the same input always produce the same result.
package titleparse

import (
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/autobrr/autobrr/pkg/ttlcache"
	"github.com/moistari/rls"

	"streamforge/models"
)

var (
	// Multi-season packs that rls reports as a single season.
	seasonRangePattern = regexp.MustCompile(`(?i)\bs(?:eason[ .]?)?(\d{1,2})[ .]?[-~][ .]?s?(?:eason[ .]?)?(\d{1,2})\b`)

	completePattern = regexp.MustCompile(`(?i)\b(complete|collection|integrale?|batch)\b`)
	properPattern   = regexp.MustCompile(`(?i)\bproper\b`)
	repackPattern   = regexp.MustCompile(`(?i)\brepack\d?\b`)
	extendedPattern = regexp.MustCompile(`(?i)\b(extended|director'?s[ .]cut)\b`)
	bitDepthPattern = regexp.MustCompile(`(?i)\b(8|10|12)[ .-]?bit\b`)

	// Absolute episode numbering used by anime releases. Ordered by
	// reliability; resolutions, years, and CRC checksums are excluded first.
	absoluteDashPattern    = regexp.MustCompile(`[-–]\s*(\d{2,4})(?:v\d)?\s*[\[\(\s.]`)
	absoluteKeywordPattern = regexp.MustCompile(`(?i)(?:episode|ep\.?)\s*(\d{1,4})(?:\s|$|[\[\(])`)
	absoluteHashPattern    = regexp.MustCompile(`#\s*(\d{1,4})(?:\s|$|[\[\(])`)
	s01AbsolutePattern     = regexp.MustCompile(`(?i)s01e(\d{3,4})(?:\s|$|[.\-\[\(])`)

	resolutionNumberPattern = regexp.MustCompile(`(?i)(\d{3,4})[pi]`)
	yearNumberPattern       = regexp.MustCompile(`[\(\[]?((?:19|20)\d{2})[\)\]]?`)
	checksumPattern         = regexp.MustCompile(`[\[\(][A-Fa-f0-9]{8}[\]\)]`)

	videoContainers = map[string]string{
		".mkv": "mkv", ".mp4": "mp4", ".m4v": "m4v", ".avi": "avi",
		".mov": "mov", ".mpg": "mpg", ".mpeg": "mpeg", ".ts": "ts",
		".m2ts": "m2ts", ".mts": "mts", ".wmv": "wmv", ".webm": "webm",
	}
)

// Parser caches parses per name. Release-name parsing runs on every
// candidate of every request, so a short-lived cache pays for itself.
type Parser struct {
	cache *ttlcache.Cache[string, models.ParsedTitle]
}

// NewParser creates a parser with a five-minute parse cache.
func NewParser() *Parser {
	return &Parser{
		cache: ttlcache.New(ttlcache.Options[string, models.ParsedTitle]{}.
			SetDefaultTTL(5 * time.Minute)),
	}
}

// Parse returns the structured descriptor for name, cached.
func (p *Parser) Parse(name string) models.ParsedTitle {
	if cached, found := p.cache.Get(name); found {
		return cached
	}
	parsed := Parse(name)
	p.cache.Set(name, parsed, ttlcache.DefaultTTL)
	return parsed
}

// Parse maps a release or file name to a ParsedTitle without caching.
func Parse(name string) models.ParsedTitle {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return models.ParsedTitle{}
	}

	release := rls.ParseString(trimmed)

	parsed := models.ParsedTitle{
		Title:        strings.TrimSpace(release.Title),
		Year:         release.Year,
		Resolution:   normalizeResolution(release.Resolution),
		Quality:      release.Source,
		ReleaseGroup: strings.TrimSpace(release.Group),
	}
	if len(release.Codec) > 0 {
		parsed.Encode = release.Codec[0]
	}
	parsed.VisualTags = dedupeUpper(release.HDR)
	parsed.AudioTags = dedupeUpper(release.Audio)
	if ch := strings.TrimSpace(release.Channels); ch != "" {
		parsed.AudioChannels = []string{ch}
	}
	parsed.Languages = detectLanguages(trimmed)
	parsed.Container = containerOf(trimmed)

	if release.Series > 0 {
		parsed.Seasons = []int{release.Series}
	}
	if release.Episode > 0 {
		parsed.Episodes = []int{release.Episode}
	}

	// Season ranges like "S01-S05" collapse to one season under rls.
	if m := seasonRangePattern.FindStringSubmatch(trimmed); len(m) == 3 {
		from, _ := strconv.Atoi(m[1])
		to, _ := strconv.Atoi(m[2])
		if from > 0 && to >= from && to-from < 100 {
			seasons := make([]int, 0, to-from+1)
			for s := from; s <= to; s++ {
				seasons = append(seasons, s)
			}
			parsed.Seasons = seasons
			parsed.Episodes = nil
		}
	}

	parsed.Complete = completePattern.MatchString(trimmed)
	parsed.Proper = properPattern.MatchString(trimmed)
	parsed.Repack = repackPattern.MatchString(trimmed)
	parsed.Extended = extendedPattern.MatchString(trimmed)
	if m := bitDepthPattern.FindStringSubmatch(trimmed); len(m) == 2 {
		parsed.BitDepth = m[1] + "bit"
	}

	// Bare absolute episode numbers (anime convention): only when no
	// explicit SxxEyy information was present.
	if len(parsed.Seasons) == 0 && len(parsed.Episodes) == 0 {
		if episode, ok := ParseAbsoluteEpisode(trimmed); ok {
			parsed.Episodes = []int{episode}
		}
	}

	return parsed
}

// ParseAbsoluteEpisode extracts an absolute episode number from an anime
// style release name ("One Piece - 1153 [1080p]", "Episode 42", "#042",
// "S01E1153"), avoiding false positives from resolutions, years and CRCs.
func ParseAbsoluteEpisode(name string) (int, bool) {
	if strings.TrimSpace(name) == "" {
		return 0, false
	}

	cleaned := checksumPattern.ReplaceAllString(name, "")

	exclude := make(map[int]bool)
	for _, m := range resolutionNumberPattern.FindAllStringSubmatch(cleaned, -1) {
		if n, err := strconv.Atoi(m[1]); err == nil {
			exclude[n] = true
		}
	}
	for _, m := range yearNumberPattern.FindAllStringSubmatch(cleaned, -1) {
		if n, err := strconv.Atoi(m[1]); err == nil {
			exclude[n] = true
		}
	}

	for _, pattern := range []*regexp.Regexp{
		absoluteDashPattern,
		absoluteKeywordPattern,
		absoluteHashPattern,
		s01AbsolutePattern,
	} {
		if m := pattern.FindStringSubmatch(cleaned + " "); len(m) >= 2 {
			if episode, err := strconv.Atoi(m[1]); err == nil && episode > 0 && !exclude[episode] {
				return episode, true
			}
		}
	}

	return 0, false
}

func normalizeResolution(res string) string {
	res = strings.ToLower(strings.TrimSpace(res))
	switch res {
	case "4k", "uhd", "2160p":
		return "2160p"
	case "1080p", "1080i":
		return "1080p"
	case "720p", "720i":
		return "720p"
	case "576p", "576i":
		return "576p"
	case "480p", "480i":
		return "480p"
	case "":
		return ""
	default:
		return res
	}
}

func containerOf(name string) string {
	ext := strings.ToLower(path.Ext(name))
	return videoContainers[ext]
}

var languageTokens = map[string]string{
	"multi":   "multi",
	"vostfr":  "ja",
	"french":  "fr",
	"truefrench": "fr",
	"vff":     "fr",
	"german":  "de",
	"spanish": "es",
	"castellano": "es",
	"latino":  "es",
	"italian": "it",
	"ita":     "it",
	"dual":    "multi",
	"dubbed":  "multi",
	"nordic":  "nordic",
	"korean":  "ko",
	"japanese": "ja",
	"hindi":   "hi",
	"russian": "ru",
	"portuguese": "pt",
}

func detectLanguages(name string) []string {
	lowered := strings.ToLower(name)
	fields := strings.FieldsFunc(lowered, func(r rune) bool {
		return !(r >= 'a' && r <= 'z')
	})
	var out []string
	seen := make(map[string]struct{})
	for _, field := range fields {
		lang, ok := languageTokens[field]
		if !ok {
			continue
		}
		if _, dup := seen[lang]; dup {
			continue
		}
		seen[lang] = struct{}{}
		out = append(out, lang)
	}
	return out
}

func dedupeUpper(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		n := strings.ToUpper(strings.TrimSpace(v))
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
