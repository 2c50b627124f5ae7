package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const traktBaseURL = "https://api.trakt.tv"

type traktClient struct {
	clientID string
	baseURL  string
	httpc    *http.Client
}

func newTraktClient(clientID string, httpc *http.Client) *traktClient {
	if httpc == nil {
		httpc = &http.Client{Timeout: 15 * time.Second}
	}
	return &traktClient{clientID: clientID, baseURL: traktBaseURL, httpc: httpc}
}

func (c *traktClient) isConfigured() bool {
	return c != nil && c.clientID != ""
}

type traktAlias struct {
	Title   string `json:"title"`
	Country string `json:"country"`
}

// aliases fetches the alternate titles Trakt knows for an IMDB id.
func (c *traktClient) aliases(ctx context.Context, imdbID string, series bool) ([]traktAlias, error) {
	kind := "movies"
	if series {
		kind = "shows"
	}
	endpoint := fmt.Sprintf("%s/%s/%s/aliases", c.baseURL, kind, url.PathEscape(imdbID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("trakt-api-version", "2")
	req.Header.Set("trakt-api-key", c.clientID)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("trakt aliases: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("trakt aliases: %s", resp.Status)
	}

	var payload []traktAlias
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("trakt aliases: decode: %w", err)
	}
	return payload, nil
}
