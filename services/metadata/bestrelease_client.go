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

	"streamforge/models"
)

const bestReleaseBaseURL = "https://releases.moe"

// bestReleaseClient fetches community "best release" tags for anime entries,
// keyed by AniList id.
type bestReleaseClient struct {
	baseURL string
	httpc   *http.Client
}

func newBestReleaseClient(httpc *http.Client) *bestReleaseClient {
	if httpc == nil {
		httpc = &http.Client{Timeout: 15 * time.Second}
	}
	return &bestReleaseClient{baseURL: bestReleaseBaseURL, httpc: httpc}
}

type bestReleaseResponse struct {
	Items []struct {
		Expand struct {
			Trs []struct {
				IsBest       bool   `json:"isBest"`
				InfoHash     string `json:"infoHash"`
				ReleaseGroup string `json:"releaseGroup"`
			} `json:"trs"`
		} `json:"expand"`
	} `json:"items"`
}

// fetch returns the best-release set for an AniList id. A miss yields an
// empty set, not an error.
func (c *bestReleaseClient) fetch(ctx context.Context, anilistID int64) (*models.BestReleaseSet, error) {
	query := url.Values{
		"filter": []string{"alID=" + strconv.FormatInt(anilistID, 10)},
		"expand": []string{"trs"},
	}
	endpoint := c.baseURL + "/api/collections/entries/records?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("best release: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("best release: %s", resp.Status)
	}

	var payload bestReleaseResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("best release: decode: %w", err)
	}

	set := &models.BestReleaseSet{}
	seenHash := make(map[string]struct{})
	seenGroup := make(map[string]struct{})
	for _, item := range payload.Items {
		for _, tr := range item.Expand.Trs {
			hash := strings.ToLower(strings.TrimSpace(tr.InfoHash))
			group := strings.TrimSpace(tr.ReleaseGroup)
			if hash != "" {
				if _, dup := seenHash[hash]; !dup {
					seenHash[hash] = struct{}{}
					set.AllHashes = append(set.AllHashes, hash)
					if tr.IsBest {
						set.BestHashes = append(set.BestHashes, hash)
					}
				}
			}
			if group != "" {
				if _, dup := seenGroup[group]; !dup {
					seenGroup[group] = struct{}{}
					set.AllGroups = append(set.AllGroups, group)
					if tr.IsBest {
						set.BestGroups = append(set.BestGroups, group)
					}
				}
			}
		}
	}
	return set, nil
}
