// Package filter implements the stream filter pipeline: the digital-release
// gate, enumerated allow/deny filters, regex and keyword filters, cache and
// season-pack gates, range constraints, metadata validation, selector
// expressions, ranking, sorting, deduplication and result limits.
package filter

import (
	"fmt"
	"strings"
	"time"

	"streamforge/models"
	"streamforge/utils/titlematch"
)

// Stage names double as passthrough tags: a stream tagged with a stage name
// is exempt from that stage only.
const (
	StageDigitalRelease = "digitalRelease"
	StageExcluded       = "excluded"
	StageRequired       = "required"
	StageRegex          = "regex"
	StageKeyword        = "keyword"
	StageCacheGate      = "cacheGate"
	StageRange          = "range"
	StageMatch          = "match"
	StageSize           = "size"
	StageExpression     = "expression"
	StageLimit          = "limit"
)

// Request carries the per-request facts the stages evaluate against.
type Request struct {
	MediaType      models.MediaType
	ID             models.ContentID
	Metadata       *models.TitleMetadata
	ReleaseDates   *models.ReleaseDates
	EpisodeDetails *models.EpisodeDetails
	IsAnime        bool
}

// Pipeline applies the configured stages to one request's stream set. Not
// safe for concurrent use; construct one per request.
type Pipeline struct {
	user    *models.UserData
	regexes *regexCache
	sel     *selEvaluator
	now     func() time.Time
	removed map[string]int
}

// New builds a pipeline for one request.
func New(user *models.UserData) *Pipeline {
	regexes := newRegexCache()
	return &Pipeline{
		user:    user,
		regexes: regexes,
		sel:     newSELEvaluator(regexes),
		now:     time.Now,
		removed: make(map[string]int),
	}
}

// Removed returns the per-reason removal counters accumulated so far.
func (p *Pipeline) Removed() map[string]int { return p.removed }

func (p *Pipeline) drop(reason string) {
	p.removed[reason]++
}

// Apply runs the deny stages in order over the stream set. Streams matching
// an explicit "included" configuration skip every subsequent deny rule.
func (p *Pipeline) Apply(streams []*models.ParsedStream, req Request) []*models.ParsedStream {
	digitalAllowed := true
	digitalReason := ""
	if p.user.DigitalRelease.Enabled {
		digitalAllowed, digitalReason = digitalReleaseDecision(req, p.user.DigitalRelease.ToleranceHours, p.now())
	}

	kept := make([]*models.ParsedStream, 0, len(streams))
	for _, s := range streams {
		if !digitalAllowed && !s.HasPassthrough(StageDigitalRelease) {
			p.drop("digital release: " + digitalReason)
			continue
		}
		if p.isIncluded(s) {
			kept = append(kept, s)
			continue
		}
		if reason := p.denyReason(s, req); reason != "" {
			p.drop(reason)
			continue
		}
		kept = append(kept, s)
	}
	return kept
}

// isIncluded implements the stage-2 accelerators: any included enumeration,
// keyword, regex or expression keeps the stream unconditionally.
func (p *Pipeline) isIncluded(s *models.ParsedStream) bool {
	for _, attr := range p.enumAttrs(s) {
		if anyFold(attr.filter.Included, attr.values) {
			return true
		}
	}
	for _, pattern := range p.user.IncludedRegexes {
		if p.regexMatchesStream(pattern, s) {
			return true
		}
	}
	for _, keyword := range p.user.IncludedKeywords {
		if p.keywordMatchesStream(keyword, s) {
			return true
		}
	}
	for _, src := range p.user.IncludedExpressions {
		if p.sel.eval(src, s) {
			return true
		}
	}
	return false
}

func (p *Pipeline) denyReason(s *models.ParsedStream, req Request) string {
	if reason := p.enumReason(s); reason != "" {
		return reason
	}
	if reason := p.regexReason(s); reason != "" {
		return reason
	}
	if reason := p.keywordReason(s); reason != "" {
		return reason
	}
	if reason := p.cacheGateReason(s); reason != "" {
		return reason
	}
	if reason := p.rangeReason(s); reason != "" {
		return reason
	}
	if reason := p.matchReason(s, req); reason != "" {
		return reason
	}
	if reason := p.sizeReason(s, req); reason != "" {
		return reason
	}
	if reason := p.expressionReason(s); reason != "" {
		return reason
	}
	return ""
}

type enumAttr struct {
	name   string
	filter models.EnumFilter
	values []string
}

func (p *Pipeline) enumAttrs(s *models.ParsedStream) []enumAttr {
	return []enumAttr{
		{"stream type", p.user.StreamTypes, []string{string(s.Type)}},
		{"resolution", p.user.Resolutions, []string{s.Resolution()}},
		{"quality", p.user.Qualities, []string{s.Quality()}},
		{"encode", p.user.Encodes, []string{s.Encode()}},
		{"release group", p.user.ReleaseGroups, []string{s.ReleaseGroup()}},
		{"visual tag", p.user.VisualTags, orUnknown(parsedTags(s, func(t models.ParsedTitle) []string { return t.VisualTags }))},
		{"audio tag", p.user.AudioTags, orUnknown(parsedTags(s, func(t models.ParsedTitle) []string { return t.AudioTags }))},
		{"audio channels", p.user.AudioChannels, orUnknown(parsedTags(s, func(t models.ParsedTitle) []string { return t.AudioChannels }))},
		{"language", p.user.Languages, orUnknown(s.Languages)},
	}
}

func (p *Pipeline) enumReason(s *models.ParsedStream) string {
	for _, attr := range p.enumAttrs(s) {
		if !s.HasPassthrough(StageExcluded) && anyFold(attr.filter.Excluded, attr.values) {
			return "excluded " + attr.name
		}
		if !s.HasPassthrough(StageRequired) && len(attr.filter.Required) > 0 && !anyFold(attr.filter.Required, attr.values) {
			return "missing required " + attr.name
		}
	}
	return ""
}

// regexMatchesStream tests a pattern against the stream's textual fields.
func (p *Pipeline) regexMatchesStream(pattern string, s *models.ParsedStream) bool {
	re := p.regexes.get(pattern)
	if re == nil {
		return false
	}
	for _, field := range []string{s.Filename, s.FolderName, s.ReleaseGroup(), s.Indexer} {
		if field != "" && re.MatchString(field) {
			return true
		}
	}
	return false
}

func (p *Pipeline) regexReason(s *models.ParsedStream) string {
	if s.HasPassthrough(StageRegex) {
		return ""
	}
	for _, pattern := range p.user.ExcludedRegexes {
		if p.regexMatchesStream(pattern, s) {
			return "excluded regex"
		}
	}
	if len(p.user.RequiredRegexes) > 0 {
		for _, pattern := range p.user.RequiredRegexes {
			if p.regexMatchesStream(pattern, s) {
				return ""
			}
		}
		return "missing required regex"
	}
	return ""
}

// keywordMatchesStream does a case-insensitive whole-word match on the
// filename and folder name.
func (p *Pipeline) keywordMatchesStream(keyword string, s *models.ParsedStream) bool {
	if keyword == "" {
		return false
	}
	pattern := `(?i)\b` + escapeKeyword(keyword) + `\b`
	re := p.regexes.get(pattern)
	if re == nil {
		return false
	}
	return re.MatchString(s.Filename) || re.MatchString(s.FolderName)
}

func (p *Pipeline) keywordReason(s *models.ParsedStream) string {
	if s.HasPassthrough(StageKeyword) {
		return ""
	}
	for _, keyword := range p.user.ExcludedKeywords {
		if p.keywordMatchesStream(keyword, s) {
			return "excluded keyword"
		}
	}
	if len(p.user.RequiredKeywords) > 0 {
		for _, keyword := range p.user.RequiredKeywords {
			if p.keywordMatchesStream(keyword, s) {
				return ""
			}
		}
		return "missing required keyword"
	}
	return ""
}

// gateApplies resolves the per-addon / per-service / per-type scoping of a
// cache gate. An empty gate applies to everything.
func gateApplies(g *models.CacheGate, s *models.ParsedStream) bool {
	if g == nil {
		return true
	}
	var checks []bool
	if len(g.Addons) > 0 {
		checks = append(checks, containsFold(g.Addons, s.AddonID))
	}
	if len(g.Services) > 0 {
		checks = append(checks, containsFold(g.Services, s.ServiceID()))
	}
	if len(g.StreamTypes) > 0 {
		checks = append(checks, containsFold(g.StreamTypes, string(s.Type)))
	}
	if len(checks) == 0 {
		return true
	}
	if strings.EqualFold(g.Mode, "and") {
		for _, ok := range checks {
			if !ok {
				return false
			}
		}
		return true
	}
	for _, ok := range checks {
		if ok {
			return true
		}
	}
	return false
}

func (p *Pipeline) cacheGateReason(s *models.ParsedStream) string {
	if s.HasPassthrough(StageCacheGate) {
		return ""
	}
	if p.user.ExcludeCached && s.Cached() && gateApplies(p.user.CachedGate, s) {
		return "cached excluded"
	}
	if p.user.ExcludeUncached && s.Service != nil && !s.Cached() && gateApplies(p.user.UncachedGate, s) {
		return "uncached excluded"
	}
	if p.user.ExcludeSeasonPacks && s.Parsed != nil && s.Parsed.IsSeasonPack() && gateApplies(p.user.SeasonPackGate, s) {
		return "season pack excluded"
	}
	return ""
}

func (p *Pipeline) rangeReason(s *models.ParsedStream) string {
	if s.HasPassthrough(StageRange) {
		return ""
	}

	seederCategory := "uncached"
	switch {
	case s.Type == models.StreamTypeP2P:
		seederCategory = "p2p"
	case s.Cached():
		seederCategory = "cached"
	}
	if r := p.user.SeederRanges[seederCategory]; r.Enabled() && !r.Contains(int64(s.Seeders)) {
		return "seeders out of range"
	}

	ageCategory := ""
	switch s.Type {
	case models.StreamTypeDebrid:
		ageCategory = "debrid"
	case models.StreamTypeUsenet:
		ageCategory = "usenet"
	case models.StreamTypeP2P:
		ageCategory = "p2p"
	}
	if ageCategory != "" {
		if r := p.user.AgeRanges[ageCategory]; r.Enabled() && !r.Contains(int64(s.AgeHours)) {
			return "age out of range"
		}
	}
	return ""
}

func scopedToAddon(addons []string, addonID string) bool {
	return len(addons) == 0 || containsFold(addons, addonID)
}

func (p *Pipeline) matchReason(s *models.ParsedStream, req Request) string {
	if s.HasPassthrough(StageMatch) || s.Parsed == nil {
		return ""
	}
	parsed := *s.Parsed
	meta := req.Metadata

	if cfg := p.user.YearMatch; cfg.Enabled && scopedToAddon(cfg.Addons, s.AddonID) && meta != nil && meta.Year > 0 {
		if parsed.Year > 0 {
			yearEnd := meta.Year
			if meta.YearEnd > yearEnd {
				yearEnd = meta.YearEnd
			}
			if parsed.Year < meta.Year-1 || parsed.Year > yearEnd+1 {
				return "wrong year"
			}
		} else if cfg.Strict && req.MediaType == models.MediaTypeMovie {
			return "no detectable year"
		}
	}

	if cfg := p.user.TitleMatch; cfg.Enabled && scopedToAddon(cfg.Addons, s.AddonID) {
		threshold := cfg.Threshold
		if threshold <= 0 {
			threshold = titlematch.DefaultThreshold
		}
		if titlematch.IsTitleWrong(parsed, s.Filename, meta, threshold) {
			return "wrong title"
		}
	}

	if cfg := p.user.SeasonEpisode; cfg.Enabled && scopedToAddon(cfg.Addons, s.AddonID) {
		if titlematch.IsSeasonWrong(parsed, req.ID.Season) {
			return "wrong season"
		}
		absolute, relative := 0, 0
		if meta != nil {
			absolute, relative = meta.AbsoluteEpisode, meta.RelativeAbsoluteEpisode
		}
		if titlematch.IsEpisodeWrong(parsed, req.ID.Episode, absolute, relative) {
			return "wrong episode"
		}
	}
	return ""
}

func (p *Pipeline) sizeReason(s *models.ParsedStream, req Request) string {
	if s.HasPassthrough(StageSize) {
		return ""
	}

	sizeRange := p.user.SizeRange
	switch {
	case req.IsAnime && p.user.AnimeSize != nil:
		sizeRange = p.user.AnimeSize
	case req.MediaType != models.MediaTypeMovie && p.user.SeriesSize != nil:
		sizeRange = p.user.SeriesSize
	}

	size := s.SizeBytes
	if size == 0 {
		size = s.FolderSize
	}
	effective := effectiveSize(s, req, size)

	if r := sizeRange.For(s.Resolution()); r.Enabled() && effective > 0 && !r.Contains(effective) {
		return "size out of range"
	}

	if p.user.BitrateRange.Enabled() {
		bitrate := int64(s.BitrateKbps)
		if bitrate == 0 && req.Metadata != nil && req.Metadata.RuntimeMinutes > 0 && effective > 0 {
			bitrate = effective * 8 / int64(req.Metadata.RuntimeMinutes) / 60 / 1000
		}
		if bitrate > 0 && !p.user.BitrateRange.Contains(bitrate) {
			return "bitrate out of range"
		}
	}
	return ""
}

// effectiveSize divides a season pack's size by its episode count when every
// included season's count is known; otherwise the full size is kept.
func effectiveSize(s *models.ParsedStream, req Request, size int64) int64 {
	if s.Parsed == nil || !s.Parsed.IsSeasonPack() || req.Metadata == nil || size == 0 {
		return size
	}
	seasons := s.Parsed.Seasons
	if len(seasons) == 0 {
		for _, info := range req.Metadata.Seasons {
			if info.Number > 0 {
				seasons = append(seasons, info.Number)
			}
		}
	}
	count, ok := req.Metadata.EpisodeCountForSeasons(seasons)
	if !ok || count == 0 {
		return size
	}
	return size / int64(count)
}

func (p *Pipeline) expressionReason(s *models.ParsedStream) string {
	if s.HasPassthrough(StageExpression) {
		return ""
	}
	for _, src := range p.user.ExcludedExpressions {
		if p.sel.eval(src, s) {
			return "excluded expression"
		}
	}
	if len(p.user.RequiredExpressions) > 0 {
		for _, src := range p.user.RequiredExpressions {
			if p.sel.eval(src, s) {
				return ""
			}
		}
		return "missing required expression"
	}
	return ""
}

// Diagnostics renders the removal counters as info pseudo-streams.
func (p *Pipeline) Diagnostics() []*models.ParsedStream {
	if len(p.removed) == 0 {
		return nil
	}
	out := make([]*models.ParsedStream, 0, len(p.removed))
	for reason, count := range p.removed {
		out = append(out, &models.ParsedStream{
			ID:      "diag:" + reason,
			Type:    models.StreamTypeInfo,
			Message: fmt.Sprintf("removed %d streams: %s", count, reason),
		})
	}
	return out
}

// --- helpers ---

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}

func anyFold(list, values []string) bool {
	for _, v := range values {
		if containsFold(list, v) {
			return true
		}
	}
	return false
}

func orUnknown(values []string) []string {
	if len(values) == 0 {
		return []string{models.UnknownBucket}
	}
	return values
}

func parsedTags(s *models.ParsedStream, pick func(models.ParsedTitle) []string) []string {
	if s.Parsed == nil {
		return nil
	}
	return pick(*s.Parsed)
}

func escapeKeyword(keyword string) string {
	replacer := strings.NewReplacer(
		`\`, `\\`, `.`, `\.`, `+`, `\+`, `*`, `\*`, `?`, `\?`, `(`, `\(`,
		`)`, `\)`, `[`, `\[`, `]`, `\]`, `{`, `\{`, `}`, `\}`, `^`, `\^`,
		`$`, `\$`, `|`, `\|`,
	)
	return replacer.Replace(keyword)
}
