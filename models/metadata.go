package models

import (
	"strings"
	"time"
)

// Alias is an alternate title, optionally tagged with a language code.
type Alias struct {
	Title    string `json:"title"`
	Language string `json:"language,omitempty"`
}

// SeasonInfo is one season of a series with its episode count.
type SeasonInfo struct {
	Number       int `json:"number"`
	EpisodeCount int `json:"episodeCount"`
}

// TitleMetadata unifies titles, years, runtime and seasons gathered from the
// upstream metadata providers. It is owned by the RequestContext and
// read-only to downstream pipeline stages.
type TitleMetadata struct {
	Primary          string       `json:"primary"`
	Aliases          []Alias      `json:"aliases,omitempty"`
	Year             int          `json:"year,omitempty"`
	YearEnd          int          `json:"yearEnd,omitempty"`
	OriginalLanguage string       `json:"originalLanguage,omitempty"`
	Seasons          []SeasonInfo `json:"seasons,omitempty"`
	Genres           []string     `json:"genres,omitempty"`
	RuntimeMinutes   int          `json:"runtimeMinutes,omitempty"`
	FirstAired       string       `json:"firstAired,omitempty"`
	LastAired        string       `json:"lastAired,omitempty"`
	NextAir          string       `json:"nextAir,omitempty"`

	// Anime episode numbering, derived from the season table and the anime
	// mapping entry. Zero when not applicable.
	AbsoluteEpisode         int `json:"absoluteEpisode,omitempty"`
	RelativeAbsoluteEpisode int `json:"relativeAbsoluteEpisode,omitempty"`
}

// AddAlias appends an alias unless an equal title (case-insensitive) is
// already present as the primary or another alias. The language tag of the
// first occurrence wins.
func (m *TitleMetadata) AddAlias(title, language string) {
	trimmed := strings.TrimSpace(title)
	if trimmed == "" {
		return
	}
	lowered := strings.ToLower(trimmed)
	if strings.ToLower(m.Primary) == lowered {
		return
	}
	for _, existing := range m.Aliases {
		if strings.ToLower(existing.Title) == lowered {
			return
		}
	}
	m.Aliases = append(m.Aliases, Alias{Title: trimmed, Language: language})
}

// AliasTitles returns the primary title followed by all alias titles.
func (m *TitleMetadata) AliasTitles() []string {
	titles := make([]string, 0, len(m.Aliases)+1)
	if m.Primary != "" {
		titles = append(titles, m.Primary)
	}
	for _, alias := range m.Aliases {
		titles = append(titles, alias.Title)
	}
	return titles
}

// EpisodeCountForSeasons sums episode counts across the given season numbers.
// Returns ok=false when any requested season has no known count.
func (m *TitleMetadata) EpisodeCountForSeasons(seasons []int) (int, bool) {
	counts := make(map[int]int, len(m.Seasons))
	for _, s := range m.Seasons {
		counts[s.Number] = s.EpisodeCount
	}
	total := 0
	for _, number := range seasons {
		count, ok := counts[number]
		if !ok || count <= 0 {
			return 0, false
		}
		total += count
	}
	return total, true
}

// EpisodeDetails holds per-episode facts fetched lazily for series requests.
type EpisodeDetails struct {
	AirDate        string `json:"airDate,omitempty"`
	RuntimeMinutes int    `json:"runtimeMinutes,omitempty"`
}

// ReleaseWindow is one dated release of a movie on a given channel.
type ReleaseWindow struct {
	Kind string    `json:"kind"` // theatrical | digital | physical | tv
	Date time.Time `json:"date"`
}

// ReleaseDates is the TMDB release calendar for a movie.
type ReleaseDates struct {
	Theatrical *time.Time      `json:"theatrical,omitempty"`
	Windows    []ReleaseWindow `json:"windows,omitempty"`
}

// DigitalWindows returns the digital/physical/TV windows only.
func (r *ReleaseDates) DigitalWindows() []ReleaseWindow {
	var out []ReleaseWindow
	for _, w := range r.Windows {
		switch w.Kind {
		case "digital", "physical", "tv":
			out = append(out, w)
		}
	}
	return out
}

// BestReleaseSet is the external "best release" tagging for an anime entry
// (SeaDex-style): hashes and release groups considered best or listed.
type BestReleaseSet struct {
	BestHashes []string `json:"bestHashes,omitempty"`
	AllHashes  []string `json:"allHashes,omitempty"`
	BestGroups []string `json:"bestGroups,omitempty"`
	AllGroups  []string `json:"allGroups,omitempty"`
}

// AnimeMapping is one entry of the in-memory anime ID database.
type AnimeMapping struct {
	Title          string   `json:"title,omitempty"`
	Synonyms       []string `json:"synonyms,omitempty"`
	IMDBID         string `json:"imdbId,omitempty"`
	TMDBID         int64  `json:"tmdbId,omitempty"`
	TVDBID         int64  `json:"tvdbId,omitempty"`
	AniListID      int64  `json:"anilistId,omitempty"`
	MALID          int64  `json:"malId,omitempty"`
	KitsuID        int64  `json:"kitsuId,omitempty"`
	StartingSeason int    `json:"startingSeason,omitempty"`
	SeasonYear     int    `json:"seasonYear,omitempty"`
	// Episode numbers that exist in the absolute ordering but not on IMDB
	// (specials aired mid-run). They shift the absolute episode count.
	NonIMDBEpisodes []int `json:"nonImdbEpisodes,omitempty"`
}
