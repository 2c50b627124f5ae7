package models

import (
	"fmt"
	"regexp"
	"strings"
)

// RegexAccess gates whether user-supplied regular expressions are honored.
type RegexAccess string

const (
	RegexAccessAll     RegexAccess = "all"
	RegexAccessTrusted RegexAccess = "trusted"
	RegexAccessNone    RegexAccess = "none"
)

// RankedPattern is a regex with a score contribution and a display name.
type RankedPattern struct {
	Name    string `json:"name"`
	Pattern string `json:"pattern"`
	Score   int    `json:"score"`
}

// RankedExpression is a selector-language expression with a score.
type RankedExpression struct {
	Name       string `json:"name"`
	Expression string `json:"expression"`
	Score      int    `json:"score"`
}

// Range is an inclusive numeric constraint; zero bounds are open.
type Range struct {
	Min int64 `json:"min,omitempty"`
	Max int64 `json:"max,omitempty"`
}

// Contains reports whether v satisfies the range. A nil range always does.
func (r *Range) Contains(v int64) bool {
	if r == nil {
		return true
	}
	if r.Min > 0 && v < r.Min {
		return false
	}
	if r.Max > 0 && v > r.Max {
		return false
	}
	return true
}

// Enabled reports whether the range constrains anything.
func (r *Range) Enabled() bool {
	return r != nil && (r.Min > 0 || r.Max > 0)
}

// SizeRange holds size constraints with resolution-specific overrides.
type SizeRange struct {
	Global        *Range            `json:"global,omitempty"`
	PerResolution map[string]*Range `json:"perResolution,omitempty"`
}

// For returns the most specific range for a resolution bucket.
func (s *SizeRange) For(resolution string) *Range {
	if s == nil {
		return nil
	}
	if r, ok := s.PerResolution[resolution]; ok && r.Enabled() {
		return r
	}
	return s.Global
}

// SortCriterion is one key of the user ordering tuple.
type SortCriterion struct {
	Key       string `json:"key"` // resolution | quality | size | seeders | cached | library | age | bitrate | score
	Ascending bool   `json:"ascending,omitempty"`
}

// ResultLimits caps result cardinality per category. Zero disables a cap.
type ResultLimits struct {
	Global       int  `json:"global,omitempty"`
	Indexer      int  `json:"indexer,omitempty"`
	ReleaseGroup int  `json:"releaseGroup,omitempty"`
	Resolution   int  `json:"resolution,omitempty"`
	Quality      int  `json:"quality,omitempty"`
	Addon        int  `json:"addon,omitempty"`
	StreamType   int  `json:"streamType,omitempty"`
	Service      int  `json:"service,omitempty"`
	Conjunctive  bool `json:"conjunctive,omitempty"`
}

// ServiceConfig names one configured debrid service with its credential blob.
type ServiceConfig struct {
	ID         string `json:"id"` // e.g. "stremthru", "streamdav"
	Credential string `json:"credential"`
	Enabled    bool   `json:"enabled"`
}

// ProxyConfig rewrites playback URLs through a proxy front.
type ProxyConfig struct {
	Enabled  bool   `json:"enabled"`
	URL      string `json:"url,omitempty"`
	Password string `json:"password,omitempty"`
}

// EnumFilter is a per-attribute allow/deny configuration. Values compare
// case-insensitively; the literal "Unknown" bucket matches absent fields.
type EnumFilter struct {
	Excluded []string `json:"excluded,omitempty"`
	Required []string `json:"required,omitempty"`
	Included []string `json:"included,omitempty"`
	Ranked   map[string]int `json:"ranked,omitempty"`
}

// CacheGate scopes cached/uncached/season-pack gating.
type CacheGate struct {
	Mode        string   `json:"mode,omitempty"` // "", "and", "or"
	Addons      []string `json:"addons,omitempty"`
	Services    []string `json:"services,omitempty"`
	StreamTypes []string `json:"streamTypes,omitempty"`
}

// DigitalReleaseFilter gates streams on the content's release calendar.
type DigitalReleaseFilter struct {
	Enabled        bool `json:"enabled"`
	ToleranceHours int  `json:"toleranceHours,omitempty"`
}

// YearMatchConfig controls the year validation stage.
type YearMatchConfig struct {
	Enabled bool     `json:"enabled"`
	Strict  bool     `json:"strict,omitempty"`
	Addons  []string `json:"addons,omitempty"`
}

// TitleMatchConfig controls the title/season/episode validation stage.
type TitleMatchConfig struct {
	Enabled   bool     `json:"enabled"`
	Threshold float64  `json:"threshold,omitempty"` // 0 means default
	Addons    []string `json:"addons,omitempty"`
}

// UserData is the declarative per-request configuration the core receives
// from the transport layer. The core never persists it.
type UserData struct {
	Resolutions   EnumFilter `json:"resolutions,omitempty"`
	Qualities     EnumFilter `json:"qualities,omitempty"`
	Encodes       EnumFilter `json:"encodes,omitempty"`
	VisualTags    EnumFilter `json:"visualTags,omitempty"`
	AudioTags     EnumFilter `json:"audioTags,omitempty"`
	AudioChannels EnumFilter `json:"audioChannels,omitempty"`
	Languages     EnumFilter `json:"languages,omitempty"`
	StreamTypes   EnumFilter `json:"streamTypes,omitempty"`
	ReleaseGroups EnumFilter `json:"releaseGroups,omitempty"`

	ExcludedRegexes  []string        `json:"excludedRegexes,omitempty"`
	RequiredRegexes  []string        `json:"requiredRegexes,omitempty"`
	IncludedRegexes  []string        `json:"includedRegexes,omitempty"`
	RankedRegexes    []RankedPattern `json:"rankedRegexes,omitempty"`
	PreferredRegexes []string        `json:"preferredRegexes,omitempty"`

	ExcludedKeywords  []string `json:"excludedKeywords,omitempty"`
	RequiredKeywords  []string `json:"requiredKeywords,omitempty"`
	IncludedKeywords  []string `json:"includedKeywords,omitempty"`
	PreferredKeywords []string `json:"preferredKeywords,omitempty"`

	ExcludedExpressions  []string           `json:"excludedExpressions,omitempty"`
	RequiredExpressions  []string           `json:"requiredExpressions,omitempty"`
	IncludedExpressions  []string           `json:"includedExpressions,omitempty"`
	RankedExpressions    []RankedExpression `json:"rankedExpressions,omitempty"`
	PreferredExpressions []string           `json:"preferredExpressions,omitempty"`

	SizeRange    *SizeRange            `json:"sizeRange,omitempty"`
	SeriesSize   *SizeRange            `json:"seriesSizeRange,omitempty"`
	AnimeSize    *SizeRange            `json:"animeSizeRange,omitempty"`
	BitrateRange *Range                `json:"bitrateRange,omitempty"`
	SeederRanges map[string]*Range     `json:"seederRanges,omitempty"` // keyed by p2p|cached|uncached
	AgeRanges    map[string]*Range     `json:"ageRanges,omitempty"`    // keyed by debrid|usenet|p2p

	ExcludeCached      bool       `json:"excludeCached,omitempty"`
	ExcludeUncached    bool       `json:"excludeUncached,omitempty"`
	ExcludeSeasonPacks bool       `json:"excludeSeasonPacks,omitempty"`
	CachedGate         *CacheGate `json:"cachedGate,omitempty"`
	UncachedGate       *CacheGate `json:"uncachedGate,omitempty"`
	SeasonPackGate     *CacheGate `json:"seasonPackGate,omitempty"`

	DigitalRelease DigitalReleaseFilter `json:"digitalRelease,omitempty"`
	YearMatch      YearMatchConfig      `json:"yearMatch,omitempty"`
	TitleMatch     TitleMatchConfig     `json:"titleMatch,omitempty"`
	SeasonEpisode  TitleMatchConfig     `json:"seasonEpisodeMatch,omitempty"`

	SortCriteria []SortCriterion `json:"sortCriteria,omitempty"`
	Limits       ResultLimits    `json:"limits,omitempty"`

	Services []ServiceConfig `json:"services,omitempty"`
	Proxy    *ProxyConfig    `json:"proxy,omitempty"`

	RegexAccess RegexAccess `json:"regexAccess,omitempty"`
	Trusted     bool        `json:"trusted,omitempty"`

	// Feature toggles.
	BestReleaseEnabled     bool `json:"bestReleaseEnabled,omitempty"`
	MetadataBitrateEnabled bool `json:"metadataBitrateEnabled,omitempty"`
	StatisticsEnabled      bool `json:"statisticsEnabled,omitempty"`
	ErrorStreamsEnabled    bool `json:"errorStreamsEnabled,omitempty"`
	SkipFileEpisodeCheck   bool `json:"skipFileEpisodeCheck,omitempty"`

	ChosenIndex    int    `json:"chosenIndex,omitempty"`
	ChosenFilename string `json:"chosenFilename,omitempty"`
}

// ValidationLimits bound user configuration at ingestion time.
type ValidationLimits struct {
	MaxExpressions          int
	MaxExpressionTotalChars int
	MaxKeywordFilters       int
	MaxGroups               int
}

/// Validate rejects malformed user data outright: invalid regexes, regex use
// without access, and configurations past the global caps. No partial
// acceptance; the first problem found is returned.
func (u *UserData) Validate(limits ValidationLimits) error {
	access := u.RegexAccess
	if access == "" {
		access = RegexAccessTrusted
	}

	regexAllowed := access == RegexAccessAll || (access == RegexAccessTrusted && u.Trusted)
	totalRegexes := len(u.ExcludedRegexes) + len(u.RequiredRegexes) + len(u.IncludedRegexes) +
		len(u.RankedRegexes) + len(u.PreferredRegexes)
	if totalRegexes > 0 && !regexAllowed {
		return fmt.Errorf("regex filters are not permitted for this configuration")
	}

	for _, group := range [][]string{u.ExcludedRegexes, u.RequiredRegexes, u.IncludedRegexes, u.PreferredRegexes} {
		for _, pattern := range group {
			if _, err := regexp.Compile(pattern); err != nil {
				return fmt.Errorf("invalid regex %q: %w", pattern, err)
			}
		}
	}
	for _, ranked := range u.RankedRegexes {
		if _, err := regexp.Compile(ranked.Pattern); err != nil {
			return fmt.Errorf("invalid ranked regex %q: %w", ranked.Pattern, err)
		}
	}

	exprCount := len(u.ExcludedExpressions) + len(u.RequiredExpressions) + len(u.IncludedExpressions) +
		len(u.RankedExpressions) + len(u.PreferredExpressions)
	if limits.MaxExpressions > 0 && exprCount > limits.MaxExpressions {
		return fmt.Errorf("too many stream expressions: %d > %d", exprCount, limits.MaxExpressions)
	}

	totalChars := 0
	for _, group := range [][]string{u.ExcludedExpressions, u.RequiredExpressions, u.IncludedExpressions, u.PreferredExpressions} {
		for _, e := range group {
			totalChars += len(e)
		}
	}
	for _, ranked := range u.RankedExpressions {
		totalChars += len(ranked.Expression)
	}
	if limits.MaxExpressionTotalChars > 0 && totalChars > limits.MaxExpressionTotalChars {
		return fmt.Errorf("stream expressions exceed %d total characters", limits.MaxExpressionTotalChars)
	}

	keywordCount := len(u.ExcludedKeywords) + len(u.RequiredKeywords) + len(u.IncludedKeywords) + len(u.PreferredKeywords)
	if limits.MaxKeywordFilters > 0 && keywordCount > limits.MaxKeywordFilters {
		return fmt.Errorf("too many keyword filters: %d > %d", keywordCount, limits.MaxKeywordFilters)
	}

	seen := make(map[string]struct{}, len(u.Services))
	for _, svc := range u.Services {
		id := strings.TrimSpace(svc.ID)
		if id == "" {
			return fmt.Errorf("service with empty id")
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("duplicate service %q", id)
		}
		seen[id] = struct{}{}
	}

	return nil
}

// EnabledServices returns the enabled services in declared order.
func (u *UserData) EnabledServices() []ServiceConfig {
	var out []ServiceConfig
	for _, svc := range u.Services {
		if svc.Enabled {
			out = append(out, svc)
		}
	}
	return out
}
