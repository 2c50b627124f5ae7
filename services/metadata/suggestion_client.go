package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const suggestionBaseURL = "https://v2.sg.media-imdb.com"

// suggestionClient hits the public IMDB suggestion endpoint, the fallback
// title source when the richer providers come up empty.
type suggestionClient struct {
	baseURL string
	httpc   *http.Client
}

func newSuggestionClient(httpc *http.Client) *suggestionClient {
	if httpc == nil {
		httpc = &http.Client{Timeout: 15 * time.Second}
	}
	return &suggestionClient{baseURL: suggestionBaseURL, httpc: httpc}
}

type suggestionResponse struct {
	D []struct {
		ID    string `json:"id"`
		Label string `json:"l"`
		Year  int    `json:"y"`
	} `json:"d"`
}

// lookup returns the title and year the suggestion endpoint has for imdbID.
func (c *suggestionClient) lookup(ctx context.Context, imdbID string) (title string, year int, err error) {
	endpoint := fmt.Sprintf("%s/suggestion/%s/%s.json",
		c.baseURL, url.PathEscape(imdbID[:2]), url.PathEscape(imdbID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", 0, err
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("imdb suggestion: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", 0, nil
	}
	if resp.StatusCode >= 400 {
		return "", 0, fmt.Errorf("imdb suggestion: %s", resp.Status)
	}

	var payload suggestionResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", 0, fmt.Errorf("imdb suggestion: decode: %w", err)
	}
	for _, entry := range payload.D {
		if entry.ID == imdbID {
			return entry.Label, entry.Year, nil
		}
	}
	return "", 0, nil
}
