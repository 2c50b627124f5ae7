package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const cinemetaBaseURL = "https://v3-cinemeta.strem.io"

type cinemetaClient struct {
	baseURL string
	httpc   *http.Client
}

func newCinemetaClient(httpc *http.Client) *cinemetaClient {
	if httpc == nil {
		httpc = &http.Client{Timeout: 15 * time.Second}
	}
	return &cinemetaClient{baseURL: cinemetaBaseURL, httpc: httpc}
}

type cinemetaMeta struct {
	Name        string `json:"name"`
	Year        string `json:"year"` // "1999" or "2011-2019" for series
	ReleaseInfo string `json:"releaseInfo"`
	Runtime     string `json:"runtime"` // "42 min"
	Genres      []string `json:"genres"`
	Videos      []struct {
		Season  int `json:"season"`
		Episode int `json:"episode"`
	} `json:"videos"`
}

type cinemetaResponse struct {
	Meta *cinemetaMeta `json:"meta"`
}

// meta fetches the cinemeta record for an IMDB id. A 404 is a soft miss.
func (c *cinemetaClient) meta(ctx context.Context, imdbID string, series bool) (*cinemetaMeta, error) {
	kind := "movie"
	if series {
		kind = "series"
	}
	endpoint := fmt.Sprintf("%s/meta/%s/%s.json", c.baseURL, kind, url.PathEscape(imdbID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cinemeta meta: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("cinemeta meta: %s", resp.Status)
	}

	var payload cinemetaResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("cinemeta meta: decode: %w", err)
	}
	return payload.Meta, nil
}

// seasonCounts derives per-season episode counts from the episode list.
// Season 0 (specials) is included; callers skip it where appropriate.
func (m *cinemetaMeta) seasonCounts() map[int]int {
	if m == nil || len(m.Videos) == 0 {
		return nil
	}
	counts := make(map[int]int)
	for _, v := range m.Videos {
		if v.Episode > 0 {
			counts[v.Season]++
		}
	}
	return counts
}
