package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
)

const tmdbBaseURL = "https://api.themoviedb.org/3"

type tmdbClient struct {
	apiKey   string
	language string
	baseURL  string
	httpc    *http.Client
}

func newTMDBClient(apiKey, language string, httpc *http.Client) *tmdbClient {
	if httpc == nil {
		httpc = &http.Client{Timeout: 15 * time.Second}
	}
	if language == "" {
		language = "en-US"
	}
	return &tmdbClient{
		apiKey:   strings.TrimSpace(apiKey),
		language: language,
		baseURL:  tmdbBaseURL,
		httpc:    httpc,
	}
}

func (c *tmdbClient) isConfigured() bool {
	return c != nil && c.apiKey != ""
}

// doGET performs a GET with bounded exponential-backoff retries on network
// errors, 429 and 5xx. Other HTTP errors fail immediately.
func (c *tmdbClient) doGET(ctx context.Context, path string, query url.Values, v any) error {
	if query == nil {
		query = url.Values{}
	}
	query.Set("api_key", c.apiKey)
	query.Set("language", c.language)
	endpoint := c.baseURL + path + "?" + query.Encode()

	return retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			resp, err := c.httpc.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return fmt.Errorf("tmdb %s: %s", path, resp.Status)
			}
			if resp.StatusCode >= 400 {
				return retry.Unrecoverable(fmt.Errorf("tmdb %s: %s", path, resp.Status))
			}
			if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
				return retry.Unrecoverable(fmt.Errorf("tmdb %s: decode: %w", path, err))
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(300*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
}

type tmdbFindResponse struct {
	MovieResults []tmdbFindEntry `json:"movie_results"`
	TVResults    []tmdbFindEntry `json:"tv_results"`
}

type tmdbFindEntry struct {
	ID               int64  `json:"id"`
	Title            string `json:"title"`
	Name             string `json:"name"`
	OriginalTitle    string `json:"original_title"`
	OriginalName     string `json:"original_name"`
	OriginalLanguage string `json:"original_language"`
	ReleaseDate      string `json:"release_date"`
	FirstAirDate     string `json:"first_air_date"`
}

// findByIMDB resolves an IMDB id to the TMDB entry of the given media type.
func (c *tmdbClient) findByIMDB(ctx context.Context, imdbID string, series bool) (*tmdbFindEntry, error) {
	var payload tmdbFindResponse
	query := url.Values{"external_source": []string{"imdb_id"}}
	if err := c.doGET(ctx, "/find/"+url.PathEscape(imdbID), query, &payload); err != nil {
		return nil, err
	}
	results := payload.MovieResults
	if series {
		results = payload.TVResults
	}
	if len(results) == 0 {
		return nil, nil
	}
	return &results[0], nil
}

type tmdbMovieDetails struct {
	ID               int64           `json:"id"`
	Title            string          `json:"title"`
	OriginalTitle    string          `json:"original_title"`
	OriginalLanguage string          `json:"original_language"`
	ReleaseDate      string          `json:"release_date"`
	Runtime          int             `json:"runtime"`
	Genres           []tmdbGenre     `json:"genres"`
	AlternativeTitles tmdbAltTitles  `json:"alternative_titles"`
}

type tmdbGenre struct {
	Name string `json:"name"`
}

type tmdbAltTitles struct {
	Titles []tmdbAltTitle `json:"titles"`
	// TV endpoints use "results" for the same payload.
	Results []tmdbAltTitle `json:"results"`
}

func (t tmdbAltTitles) all() []tmdbAltTitle {
	if len(t.Titles) > 0 {
		return t.Titles
	}
	return t.Results
}

type tmdbAltTitle struct {
	ISO31661 string `json:"iso_3166_1"`
	Title    string `json:"title"`
}

func (c *tmdbClient) movieDetails(ctx context.Context, tmdbID int64) (*tmdbMovieDetails, error) {
	var payload tmdbMovieDetails
	query := url.Values{"append_to_response": []string{"alternative_titles"}}
	err := c.doGET(ctx, "/movie/"+strconv.FormatInt(tmdbID, 10), query, &payload)
	if err != nil {
		return nil, err
	}
	return &payload, nil
}

type tmdbTVDetails struct {
	ID               int64            `json:"id"`
	Name             string           `json:"name"`
	OriginalName     string           `json:"original_name"`
	OriginalLanguage string           `json:"original_language"`
	FirstAirDate     string           `json:"first_air_date"`
	LastAirDate      string           `json:"last_air_date"`
	EpisodeRunTime   []int            `json:"episode_run_time"`
	Genres           []tmdbGenre      `json:"genres"`
	Seasons          []tmdbSeason     `json:"seasons"`
	NextEpisodeToAir *tmdbEpisodeStub `json:"next_episode_to_air"`
	AlternativeTitles tmdbAltTitles   `json:"alternative_titles"`
}

type tmdbSeason struct {
	SeasonNumber int `json:"season_number"`
	EpisodeCount int `json:"episode_count"`
}

type tmdbEpisodeStub struct {
	AirDate string `json:"air_date"`
}

func (c *tmdbClient) tvDetails(ctx context.Context, tmdbID int64) (*tmdbTVDetails, error) {
	var payload tmdbTVDetails
	query := url.Values{"append_to_response": []string{"alternative_titles"}}
	err := c.doGET(ctx, "/tv/"+strconv.FormatInt(tmdbID, 10), query, &payload)
	if err != nil {
		return nil, err
	}
	return &payload, nil
}

type tmdbReleaseDatesResponse struct {
	Results []struct {
		ISO31661     string `json:"iso_3166_1"`
		ReleaseDates []struct {
			ReleaseDate string `json:"release_date"`
			Type        int    `json:"type"`
		} `json:"release_dates"`
	} `json:"results"`
}

// TMDB release types: 1 premiere, 2 limited theatrical, 3 theatrical,
// 4 digital, 5 physical, 6 TV.
func tmdbReleaseKind(t int) string {
	switch t {
	case 1, 2, 3:
		return "theatrical"
	case 4:
		return "digital"
	case 5:
		return "physical"
	case 6:
		return "tv"
	default:
		return ""
	}
}

func (c *tmdbClient) releaseDates(ctx context.Context, tmdbID int64) (*tmdbReleaseDatesResponse, error) {
	var payload tmdbReleaseDatesResponse
	err := c.doGET(ctx, "/movie/"+strconv.FormatInt(tmdbID, 10)+"/release_dates", nil, &payload)
	if err != nil {
		return nil, err
	}
	return &payload, nil
}

type tmdbEpisodeDetails struct {
	AirDate string `json:"air_date"`
	Runtime int    `json:"runtime"`
}

func (c *tmdbClient) episodeDetails(ctx context.Context, tmdbID int64, season, episode int) (*tmdbEpisodeDetails, error) {
	var payload tmdbEpisodeDetails
	path := fmt.Sprintf("/tv/%d/season/%d/episode/%d", tmdbID, season, episode)
	if err := c.doGET(ctx, path, nil, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}
