package metadata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
)

const tvdbBaseURL = "https://api4.thetvdb.com/v4"

type tvdbClient struct {
	apiKey  string
	baseURL string
	httpc   *http.Client

	tokenMu sync.Mutex
	token   string
}

func newTVDBClient(apiKey string, httpc *http.Client) *tvdbClient {
	if httpc == nil {
		httpc = &http.Client{Timeout: 15 * time.Second}
	}
	return &tvdbClient{apiKey: apiKey, baseURL: tvdbBaseURL, httpc: httpc}
}

func (c *tvdbClient) isConfigured() bool {
	return c != nil && c.apiKey != ""
}

type tvdbLoginResponse struct {
	Data struct {
		Token string `json:"token"`
	} `json:"data"`
}

func (c *tvdbClient) ensureToken(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	if c.token != "" {
		return c.token, nil
	}

	body, _ := json.Marshal(map[string]string{"apikey": c.apiKey})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/login", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("tvdb login: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("tvdb login: %s", resp.Status)
	}

	var payload tvdbLoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("tvdb login: decode: %w", err)
	}
	if payload.Data.Token == "" {
		return "", fmt.Errorf("tvdb login: empty token")
	}
	c.token = payload.Data.Token
	return c.token, nil
}

func (c *tvdbClient) doGET(ctx context.Context, path string, v any) error {
	token, err := c.ensureToken(ctx)
	if err != nil {
		return err
	}

	return retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			req.Header.Set("Authorization", "Bearer "+token)

			resp, err := c.httpc.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode == http.StatusUnauthorized {
				// Token expired; clear and fail unrecoverably so the caller
				// retries with a fresh login.
				c.tokenMu.Lock()
				c.token = ""
				c.tokenMu.Unlock()
				return retry.Unrecoverable(fmt.Errorf("tvdb %s: %s", path, resp.Status))
			}
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return fmt.Errorf("tvdb %s: %s", path, resp.Status)
			}
			if resp.StatusCode >= 400 {
				return retry.Unrecoverable(fmt.Errorf("tvdb %s: %s", path, resp.Status))
			}
			if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
				return retry.Unrecoverable(fmt.Errorf("tvdb %s: decode: %w", path, err))
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

type tvdbSearchResponse struct {
	Data []tvdbSearchResult `json:"data"`
}

type tvdbSearchResult struct {
	TVDBID     string            `json:"tvdb_id"`
	Name       string            `json:"name"`
	Year       string            `json:"year"`
	Translations map[string]string `json:"translations"`
}

// seriesByRemoteID finds a series via an external (IMDB) id.
func (c *tvdbClient) seriesByRemoteID(ctx context.Context, imdbID string) (*tvdbSearchResult, error) {
	var payload tvdbSearchResponse
	path := "/search/remoteid/" + url.PathEscape(imdbID)
	if err := c.doGET(ctx, path, &payload); err != nil {
		return nil, err
	}
	if len(payload.Data) == 0 {
		return nil, nil
	}
	return &payload.Data[0], nil
}

type tvdbSeriesExtendedResponse struct {
	Data tvdbSeriesExtended `json:"data"`
}

type tvdbSeriesExtended struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Year      string `json:"year"`
	LastAired string `json:"lastAired"`
	Aliases   []struct {
		Language string `json:"language"`
		Name     string `json:"name"`
	} `json:"aliases"`
	Seasons []struct {
		Number int `json:"number"`
		Type   struct {
			Type string `json:"type"`
		} `json:"type"`
	} `json:"seasons"`
}

func (c *tvdbClient) seriesExtended(ctx context.Context, tvdbID int64) (*tvdbSeriesExtended, error) {
	var payload tvdbSeriesExtendedResponse
	path := "/series/" + strconv.FormatInt(tvdbID, 10) + "/extended"
	if err := c.doGET(ctx, path, &payload); err != nil {
		return nil, err
	}
	return &payload.Data, nil
}
