package models

import (
	"fmt"
	"strconv"
	"strings"
)

// IDType identifies the upstream catalog a content ID belongs to.
type IDType string

const (
	IDTypeIMDB    IDType = "imdb"
	IDTypeTMDB    IDType = "tmdb"
	IDTypeTVDB    IDType = "tvdb"
	IDTypeKitsu   IDType = "kitsu"
	IDTypeMAL     IDType = "mal"
	IDTypeAniList IDType = "anilist"
)

// MediaType is the requested content class.
type MediaType string

const (
	MediaTypeMovie  MediaType = "movie"
	MediaTypeSeries MediaType = "series"
	MediaTypeAnime  MediaType = "anime"
)

// ContentID is a provider-agnostic content identifier parsed from the
// request path (e.g. "tt0111161", "tt0903747:2:3", "kitsu:1376:5",
// "tmdb:603"). Season/Episode are zero when not present.
type ContentID struct {
	Type    IDType
	Value   string
	Season  int
	Episode int
}

// String renders the canonical prefixed form.
func (id ContentID) String() string {
	var base string
	switch id.Type {
	case IDTypeIMDB:
		base = id.Value
	default:
		base = fmt.Sprintf("%s:%s", id.Type, id.Value)
	}
	if id.Season > 0 && id.Episode > 0 {
		return fmt.Sprintf("%s:%d:%d", base, id.Season, id.Episode)
	}
	if id.Episode > 0 {
		return fmt.Sprintf("%s:%d", base, id.Episode)
	}
	return base
}

// IsAnimeID reports whether the ID comes from an anime catalog.
func (id ContentID) IsAnimeID() bool {
	switch id.Type {
	case IDTypeKitsu, IDTypeMAL, IDTypeAniList:
		return true
	}
	return false
}

// ParseContentID parses a prefixed content ID string.
//
// Supported shapes:
//
//	tt1234567            IMDB movie
//	tt1234567:2:3        IMDB series, season 2 episode 3
//	tmdb:603             TMDB
//	tvdb:81189:1:5       TVDB with season/episode
//	kitsu:1376:5         Kitsu with episode only (anime convention)
//	mal:5114             MyAnimeList
//	anilist:21           AniList
func ParseContentID(raw string) (ContentID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ContentID{}, fmt.Errorf("empty content id")
	}

	parts := strings.Split(trimmed, ":")

	if strings.HasPrefix(parts[0], "tt") {
		id := ContentID{Type: IDTypeIMDB, Value: parts[0]}
		if err := applySeasonEpisode(&id, parts[1:]); err != nil {
			return ContentID{}, err
		}
		return id, nil
	}

	if len(parts) < 2 {
		return ContentID{}, fmt.Errorf("unrecognized content id %q", raw)
	}

	var idType IDType
	switch strings.ToLower(parts[0]) {
	case "tmdb":
		idType = IDTypeTMDB
	case "tvdb":
		idType = IDTypeTVDB
	case "kitsu":
		idType = IDTypeKitsu
	case "mal":
		idType = IDTypeMAL
	case "anilist":
		idType = IDTypeAniList
	default:
		return ContentID{}, fmt.Errorf("unrecognized content id prefix %q", parts[0])
	}

	if strings.TrimSpace(parts[1]) == "" {
		return ContentID{}, fmt.Errorf("content id %q has empty value", raw)
	}

	id := ContentID{Type: idType, Value: parts[1]}

	rest := parts[2:]
	// Kitsu-style IDs carry a bare episode number rather than season:episode.
	if (idType == IDTypeKitsu || idType == IDTypeMAL || idType == IDTypeAniList) && len(rest) == 1 {
		episode, err := strconv.Atoi(rest[0])
		if err != nil || episode < 0 {
			return ContentID{}, fmt.Errorf("content id %q has invalid episode %q", raw, rest[0])
		}
		id.Episode = episode
		return id, nil
	}

	if err := applySeasonEpisode(&id, rest); err != nil {
		return ContentID{}, err
	}
	return id, nil
}

func applySeasonEpisode(id *ContentID, parts []string) error {
	switch len(parts) {
	case 0:
		return nil
	case 2:
		season, err := strconv.Atoi(parts[0])
		if err != nil || season < 0 {
			return fmt.Errorf("invalid season %q", parts[0])
		}
		episode, err := strconv.Atoi(parts[1])
		if err != nil || episode < 0 {
			return fmt.Errorf("invalid episode %q", parts[1])
		}
		id.Season = season
		id.Episode = episode
		return nil
	default:
		return fmt.Errorf("unexpected id suffix %q", strings.Join(parts, ":"))
	}
}
