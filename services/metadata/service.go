// Package metadata aggregates title facts from TMDB, TVDB, Trakt, the
// cinemeta and IMDB suggestion endpoints, and the anime mapping database,
// merged into one TitleMetadata per request.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"streamforge/internal/cache"
	"streamforge/internal/lock"
	"streamforge/models"
	"streamforge/services/anime"
)

// ErrMetadataNotFound means no provider produced a usable title and the
// content cannot be validated downstream.
var ErrMetadataNotFound = errors.New("metadata: title not found")

// Config carries provider credentials. Empty keys disable a provider.
type Config struct {
	TMDBAPIKey    string
	TMDBLanguage  string
	TVDBAPIKey    string
	TraktClientID string
	CacheTTL      time.Duration
	HTTPClient    *http.Client
}

// Service resolves content ids to merged title metadata. Results are cached
// and fetches are single-flighted per id.
type Service struct {
	tmdb        *tmdbClient
	tvdb        *tvdbClient
	trakt       *traktClient
	cinemeta    *cinemetaClient
	suggestion  *suggestionClient
	bestRelease *bestReleaseClient
	anime       *anime.Service

	store cache.Cache
	locks lock.Manager
	ttl   time.Duration
}

// NewService wires the provider clients.
func NewService(cfg Config, animeDB *anime.Service, store cache.Cache, locks lock.Manager) *Service {
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	if animeDB == nil {
		animeDB = anime.NewService()
	}
	return &Service{
		tmdb:        newTMDBClient(cfg.TMDBAPIKey, cfg.TMDBLanguage, cfg.HTTPClient),
		tvdb:        newTVDBClient(cfg.TVDBAPIKey, cfg.HTTPClient),
		trakt:       newTraktClient(cfg.TraktClientID, cfg.HTTPClient),
		cinemeta:    newCinemetaClient(cfg.HTTPClient),
		suggestion:  newSuggestionClient(cfg.HTTPClient),
		bestRelease: newBestReleaseClient(cfg.HTTPClient),
		anime:       animeDB,
		store:       store,
		locks:       locks,
		ttl:         ttl,
	}
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// authFlags keys the cache by provider availability, so enabling a key does
// not serve results assembled without it.
func (s *Service) authFlags() string {
	return "t" + boolFlag(s.tmdb.isConfigured()) +
		"v" + boolFlag(s.tvdb.isConfigured()) +
		"k" + boolFlag(s.trakt.isConfigured())
}

// GetMetadata returns the merged metadata for id. Provider failures degrade
// to partial results; the call fails only when nothing usable was found for
// a movie without a year.
func (s *Service) GetMetadata(ctx context.Context, id models.ContentID, mediaType models.MediaType) (*models.TitleMetadata, error) {
	key := fmt.Sprintf("metadata:%s:%s:%s:%s", mediaType, id.Type, id.Value, s.authFlags())

	if meta, err := cache.GetJSON[*models.TitleMetadata](ctx, s.store, key); err == nil {
		return s.withEpisodeNumbers(meta, id), nil
	}

	var merged *models.TitleMetadata
	err := s.locks.WithLock(ctx, key, lock.Options{}, func(ctx context.Context) error {
		if meta, err := cache.GetJSON[*models.TitleMetadata](ctx, s.store, key); err == nil {
			merged = meta
			return nil
		}
		meta, err := s.fetchMerged(ctx, id, mediaType)
		if err != nil {
			return err
		}
		if err := cache.SetJSON(ctx, s.store, key, meta, s.ttl); err != nil {
			log.Printf("[metadata] cache write failed for %s: %v", key, err)
		}
		merged = meta
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.withEpisodeNumbers(merged, id), nil
}

type providerResults struct {
	tmdbMovie  *tmdbMovieDetails
	tmdbTV     *tmdbTVDetails
	tvdb       *tvdbSeriesExtended
	trakt      []traktAlias
	cinemeta   *cinemetaMeta
	suggTitle  string
	suggYear   int
	animeEntry *models.AnimeMapping
}

func (s *Service) fetchMerged(ctx context.Context, id models.ContentID, mediaType models.MediaType) (*models.TitleMetadata, error) {
	series := mediaType != models.MediaTypeMovie

	var results providerResults
	if entry, ok := s.anime.Lookup(id); ok {
		results.animeEntry = entry
	}

	imdbID := ""
	if id.Type == models.IDTypeIMDB {
		imdbID = id.Value
	} else if results.animeEntry != nil {
		imdbID = results.animeEntry.IMDBID
	}

	tmdbID := int64(0)
	if id.Type == models.IDTypeTMDB {
		tmdbID, _ = strconv.ParseInt(id.Value, 10, 64)
	} else if results.animeEntry != nil {
		tmdbID = results.animeEntry.TMDBID
	}

	g, gctx := errgroup.WithContext(ctx)

	if s.tmdb.isConfigured() {
		g.Go(func() error {
			resolvedID := tmdbID
			if resolvedID == 0 && imdbID != "" {
				entry, err := s.tmdb.findByIMDB(gctx, imdbID, series)
				if err != nil {
					log.Printf("[metadata] tmdb find %s failed: %v", imdbID, err)
					return nil
				}
				if entry != nil {
					resolvedID = entry.ID
				}
			}
			if resolvedID == 0 {
				return nil
			}
			if series {
				details, err := s.tmdb.tvDetails(gctx, resolvedID)
				if err != nil {
					log.Printf("[metadata] tmdb tv %d failed: %v", resolvedID, err)
					return nil
				}
				results.tmdbTV = details
			} else {
				details, err := s.tmdb.movieDetails(gctx, resolvedID)
				if err != nil {
					log.Printf("[metadata] tmdb movie %d failed: %v", resolvedID, err)
					return nil
				}
				results.tmdbMovie = details
			}
			return nil
		})
	}

	if s.tvdb.isConfigured() && series && imdbID != "" {
		g.Go(func() error {
			found, err := s.tvdb.seriesByRemoteID(gctx, imdbID)
			if err != nil || found == nil {
				if err != nil {
					log.Printf("[metadata] tvdb search %s failed: %v", imdbID, err)
				}
				return nil
			}
			seriesID, err := strconv.ParseInt(found.TVDBID, 10, 64)
			if err != nil {
				return nil
			}
			extended, err := s.tvdb.seriesExtended(gctx, seriesID)
			if err != nil {
				log.Printf("[metadata] tvdb extended %d failed: %v", seriesID, err)
				return nil
			}
			results.tvdb = extended
			return nil
		})
	}

	if s.trakt.isConfigured() && imdbID != "" {
		g.Go(func() error {
			aliases, err := s.trakt.aliases(gctx, imdbID, series)
			if err != nil {
				log.Printf("[metadata] trakt aliases %s failed: %v", imdbID, err)
				return nil
			}
			results.trakt = aliases
			return nil
		})
	}

	if imdbID != "" {
		g.Go(func() error {
			meta, err := s.cinemeta.meta(gctx, imdbID, series)
			if err != nil {
				log.Printf("[metadata] cinemeta %s failed: %v", imdbID, err)
				return nil
			}
			results.cinemeta = meta
			return nil
		})
		g.Go(func() error {
			title, year, err := s.suggestion.lookup(gctx, imdbID)
			if err != nil {
				log.Printf("[metadata] imdb suggestion %s failed: %v", imdbID, err)
				return nil
			}
			results.suggTitle = title
			results.suggYear = year
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	meta := mergeResults(&results)
	if meta.Primary == "" && mediaType == models.MediaTypeMovie && meta.Year == 0 {
		return nil, ErrMetadataNotFound
	}
	return meta, nil
}

// mergeResults applies the source precedence: primary title from TMDB, then
// TVDB, then cinemeta, then the suggestion endpoint, then the anime entry;
// aliases accumulate from every source.
func mergeResults(r *providerResults) *models.TitleMetadata {
	meta := &models.TitleMetadata{}

	if r.tmdbMovie != nil {
		meta.Primary = r.tmdbMovie.Title
		meta.OriginalLanguage = r.tmdbMovie.OriginalLanguage
		meta.Year = yearOf(r.tmdbMovie.ReleaseDate)
		meta.RuntimeMinutes = r.tmdbMovie.Runtime
		for _, g := range r.tmdbMovie.Genres {
			meta.Genres = append(meta.Genres, g.Name)
		}
		meta.AddAlias(r.tmdbMovie.OriginalTitle, strings.ToLower(r.tmdbMovie.OriginalLanguage))
		for _, alt := range r.tmdbMovie.AlternativeTitles.all() {
			meta.AddAlias(alt.Title, strings.ToLower(alt.ISO31661))
		}
	}
	if r.tmdbTV != nil {
		meta.Primary = r.tmdbTV.Name
		meta.OriginalLanguage = r.tmdbTV.OriginalLanguage
		meta.Year = yearOf(r.tmdbTV.FirstAirDate)
		meta.FirstAired = r.tmdbTV.FirstAirDate
		meta.LastAired = r.tmdbTV.LastAirDate
		if r.tmdbTV.NextEpisodeToAir != nil {
			meta.NextAir = r.tmdbTV.NextEpisodeToAir.AirDate
		}
		if len(r.tmdbTV.EpisodeRunTime) > 0 {
			meta.RuntimeMinutes = r.tmdbTV.EpisodeRunTime[0]
		}
		for _, g := range r.tmdbTV.Genres {
			meta.Genres = append(meta.Genres, g.Name)
		}
		for _, season := range r.tmdbTV.Seasons {
			meta.Seasons = append(meta.Seasons, models.SeasonInfo{
				Number:       season.SeasonNumber,
				EpisodeCount: season.EpisodeCount,
			})
		}
		meta.AddAlias(r.tmdbTV.OriginalName, strings.ToLower(r.tmdbTV.OriginalLanguage))
		for _, alt := range r.tmdbTV.AlternativeTitles.all() {
			meta.AddAlias(alt.Title, strings.ToLower(alt.ISO31661))
		}
	}

	if r.tvdb != nil {
		if meta.Primary == "" {
			meta.Primary = r.tvdb.Name
		} else {
			meta.AddAlias(r.tvdb.Name, "")
		}
		if meta.Year == 0 {
			meta.Year, _ = strconv.Atoi(r.tvdb.Year)
		}
		if end := yearOf(r.tvdb.LastAired); end > 0 {
			meta.YearEnd = end
		}
		for _, alias := range r.tvdb.Aliases {
			meta.AddAlias(alias.Name, alias.Language)
		}
	}

	if r.cinemeta != nil {
		if meta.Primary == "" {
			meta.Primary = r.cinemeta.Name
		} else {
			meta.AddAlias(r.cinemeta.Name, "")
		}
		first, last := parseYearRange(r.cinemeta.Year)
		if first == 0 {
			first, last = parseYearRange(r.cinemeta.ReleaseInfo)
		}
		if meta.Year == 0 {
			meta.Year = first
		}
		if meta.YearEnd == 0 && last > 0 {
			meta.YearEnd = last
		}
		if meta.RuntimeMinutes == 0 {
			meta.RuntimeMinutes = parseRuntimeMinutes(r.cinemeta.Runtime)
		}
		if len(meta.Genres) == 0 {
			meta.Genres = r.cinemeta.Genres
		}
		if len(meta.Seasons) == 0 {
			for number, count := range r.cinemeta.seasonCounts() {
				meta.Seasons = append(meta.Seasons, models.SeasonInfo{Number: number, EpisodeCount: count})
			}
			sortSeasons(meta.Seasons)
		}
	}

	if r.suggTitle != "" {
		if meta.Primary == "" {
			meta.Primary = r.suggTitle
		} else {
			meta.AddAlias(r.suggTitle, "")
		}
		if meta.Year == 0 {
			meta.Year = r.suggYear
		}
	}

	if r.animeEntry != nil {
		if meta.Primary == "" {
			meta.Primary = r.animeEntry.Title
		} else {
			meta.AddAlias(r.animeEntry.Title, "")
		}
		for _, synonym := range r.animeEntry.Synonyms {
			meta.AddAlias(synonym, "")
		}
	}

	for _, alias := range r.trakt {
		meta.AddAlias(alias.Title, strings.ToLower(alias.Country))
	}

	return meta
}

// withEpisodeNumbers fills the anime absolute episode numbers for the
// concrete requested season/episode; the cached merge stays request-neutral.
func (s *Service) withEpisodeNumbers(meta *models.TitleMetadata, id models.ContentID) *models.TitleMetadata {
	if meta == nil {
		return nil
	}
	entry, isAnime := s.anime.Lookup(id)
	if !isAnime || id.Episode <= 0 {
		return meta
	}

	out := *meta
	season := id.Season
	if season <= 0 {
		season = entry.StartingSeason
	}

	absolute := sumEpisodesBefore(meta.Seasons, 1, season) + id.Episode
	for _, special := range entry.NonIMDBEpisodes {
		if special > 0 && special <= absolute {
			absolute++
		}
	}
	out.AbsoluteEpisode = absolute

	if entry.StartingSeason > 0 && entry.StartingSeason != season {
		relative := sumEpisodesBefore(meta.Seasons, entry.StartingSeason, season) + id.Episode
		if relative != id.Episode {
			out.RelativeAbsoluteEpisode = relative
		}
	}
	return &out
}

// sumEpisodesBefore sums episode counts over seasons in [from, before),
// skipping specials (season 0).
func sumEpisodesBefore(seasons []models.SeasonInfo, from, before int) int {
	if from < 1 {
		from = 1
	}
	total := 0
	for _, s := range seasons {
		if s.Number >= from && s.Number < before {
			total += s.EpisodeCount
		}
	}
	return total
}

// GetReleaseDates fetches the TMDB release calendar for a movie.
func (s *Service) GetReleaseDates(ctx context.Context, id models.ContentID) (*models.ReleaseDates, error) {
	if !s.tmdb.isConfigured() {
		return nil, fmt.Errorf("release dates: tmdb not configured")
	}
	key := fmt.Sprintf("releasedates:%s:%s", id.Type, id.Value)
	if dates, err := cache.GetJSON[*models.ReleaseDates](ctx, s.store, key); err == nil {
		return dates, nil
	}

	tmdbID, err := s.resolveTMDBID(ctx, id, false)
	if err != nil {
		return nil, err
	}
	payload, err := s.tmdb.releaseDates(ctx, tmdbID)
	if err != nil {
		return nil, err
	}

	dates := &models.ReleaseDates{}
	for _, country := range payload.Results {
		for _, entry := range country.ReleaseDates {
			kind := tmdbReleaseKind(entry.Type)
			if kind == "" {
				continue
			}
			when, err := time.Parse(time.RFC3339, entry.ReleaseDate)
			if err != nil {
				continue
			}
			dates.Windows = append(dates.Windows, models.ReleaseWindow{Kind: kind, Date: when})
			if kind == "theatrical" && (dates.Theatrical == nil || when.Before(*dates.Theatrical)) {
				t := when
				dates.Theatrical = &t
			}
		}
	}

	if err := cache.SetJSON(ctx, s.store, key, dates, s.ttl); err != nil {
		log.Printf("[metadata] cache write failed for %s: %v", key, err)
	}
	return dates, nil
}

// GetEpisodeDetails fetches air date and runtime for one episode.
func (s *Service) GetEpisodeDetails(ctx context.Context, id models.ContentID) (*models.EpisodeDetails, error) {
	if !s.tmdb.isConfigured() {
		return nil, fmt.Errorf("episode details: tmdb not configured")
	}
	if id.Episode <= 0 {
		return nil, fmt.Errorf("episode details: no episode in id %s", id)
	}
	season := id.Season
	if season <= 0 {
		season = 1
	}

	key := fmt.Sprintf("episodedetails:%s:%s:%d:%d", id.Type, id.Value, season, id.Episode)
	if details, err := cache.GetJSON[*models.EpisodeDetails](ctx, s.store, key); err == nil {
		return details, nil
	}

	tmdbID, err := s.resolveTMDBID(ctx, id, true)
	if err != nil {
		return nil, err
	}
	payload, err := s.tmdb.episodeDetails(ctx, tmdbID, season, id.Episode)
	if err != nil {
		return nil, err
	}

	details := &models.EpisodeDetails{AirDate: payload.AirDate, RuntimeMinutes: payload.Runtime}
	if err := cache.SetJSON(ctx, s.store, key, details, s.ttl); err != nil {
		log.Printf("[metadata] cache write failed for %s: %v", key, err)
	}
	return details, nil
}

// GetBestRelease fetches the community best-release set for an anime id.
func (s *Service) GetBestRelease(ctx context.Context, id models.ContentID) (*models.BestReleaseSet, error) {
	entry, ok := s.anime.Lookup(id)
	if !ok || entry.AniListID == 0 {
		return nil, nil
	}

	key := fmt.Sprintf("bestrelease:%d", entry.AniListID)
	if set, err := cache.GetJSON[*models.BestReleaseSet](ctx, s.store, key); err == nil {
		return set, nil
	}

	set, err := s.bestRelease.fetch(ctx, entry.AniListID)
	if err != nil {
		return nil, err
	}
	if err := cache.SetJSON(ctx, s.store, key, set, s.ttl); err != nil {
		log.Printf("[metadata] cache write failed for %s: %v", key, err)
	}
	return set, nil
}

func (s *Service) resolveTMDBID(ctx context.Context, id models.ContentID, series bool) (int64, error) {
	if id.Type == models.IDTypeTMDB {
		return strconv.ParseInt(id.Value, 10, 64)
	}
	if entry, ok := s.anime.Lookup(id); ok && entry.TMDBID > 0 {
		return entry.TMDBID, nil
	}
	if id.Type == models.IDTypeIMDB {
		entry, err := s.tmdb.findByIMDB(ctx, id.Value, series)
		if err != nil {
			return 0, err
		}
		if entry != nil {
			return entry.ID, nil
		}
	}
	return 0, fmt.Errorf("no tmdb id for %s", id)
}

func yearOf(date string) int {
	if len(date) < 4 {
		return 0
	}
	year, err := strconv.Atoi(date[:4])
	if err != nil {
		return 0
	}
	return year
}

// parseYearRange handles "1999" and "2011-2019" ("2011-" for running shows).
func parseYearRange(raw string) (first, last int) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, 0
	}
	parts := strings.SplitN(raw, "-", 2)
	first, _ = strconv.Atoi(strings.TrimSpace(parts[0]))
	if len(parts) == 2 {
		last, _ = strconv.Atoi(strings.TrimSpace(parts[1]))
	}
	return first, last
}

// parseRuntimeMinutes handles "42 min" and bare "42".
func parseRuntimeMinutes(raw string) int {
	fields := strings.Fields(strings.TrimSpace(raw))
	if len(fields) == 0 {
		return 0
	}
	minutes, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0
	}
	return minutes
}

func sortSeasons(seasons []models.SeasonInfo) {
	sort.Slice(seasons, func(i, j int) bool { return seasons[i].Number < seasons[j].Number })
}
