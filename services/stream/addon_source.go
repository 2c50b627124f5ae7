package stream

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"streamforge/models"
	"streamforge/services/reqctx"
)

// AddonSource queries an upstream stream addon over HTTP. The addon exposes
// the usual GET /stream/{type}/{id}.json shape; torrent entries carry an
// infoHash, usenet entries an NZB download URL.
type AddonSource struct {
	id      string
	baseURL string
	httpc   *http.Client
}

func NewAddonSource(id, baseURL string, httpc *http.Client) *AddonSource {
	if httpc == nil {
		httpc = &http.Client{Timeout: 15 * time.Second}
	}
	return &AddonSource{
		id:      id,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   httpc,
	}
}

func (a *AddonSource) ID() string { return a.id }

type addonStream struct {
	Name          string   `json:"name"`
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	InfoHash      string   `json:"infoHash"`
	FileIdx       *int     `json:"fileIdx"`
	URL           string   `json:"url"`
	Sources       []string `json:"sources"`
	BehaviorHints struct {
		Filename  string `json:"filename"`
		VideoSize int64  `json:"videoSize"`
	} `json:"behaviorHints"`
}

type addonResponse struct {
	Streams []addonStream `json:"streams"`
}

// Fetch lists the addon's streams for the request and maps them onto
// candidates. Entries with neither an info hash nor an NZB URL are skipped.
func (a *AddonSource) Fetch(ctx context.Context, rc *reqctx.Context) ([]models.CandidateTorrent, []models.CandidateNZB, error) {
	endpoint := fmt.Sprintf("%s/stream/%s/%s.json", a.baseURL, rc.MediaType, url.PathEscape(rc.ID.String()))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, nil, err
	}
	resp, err := a.httpc.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("addon %s: %w", a.id, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, nil, fmt.Errorf("addon %s: status %d", a.id, resp.StatusCode)
	}

	var parsed addonResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, nil, fmt.Errorf("addon %s: decode: %w", a.id, err)
	}

	var torrents []models.CandidateTorrent
	var nzbs []models.CandidateNZB
	for _, s := range parsed.Streams {
		title := candidateTitle(s)
		switch {
		case s.InfoHash != "":
			t := models.CandidateTorrent{
				Hash:           strings.ToLower(s.InfoHash),
				Title:          title,
				SizeBytes:      s.BehaviorHints.VideoSize,
				TrackerSources: s.Sources,
				AddonID:        a.id,
				Indexer:        a.id,
				Seeders:        seedersFromDescription(s.Title + "\n" + s.Description),
			}
			if s.FileIdx != nil {
				t.FileIndex = *s.FileIdx
			} else {
				t.FileIndex = -1
			}
			torrents = append(torrents, t)
		case strings.Contains(strings.ToLower(s.URL), ".nzb"):
			nzbs = append(nzbs, models.CandidateNZB{
				Hash:      nzbHash(s.URL),
				NZBURL:    s.URL,
				Title:     title,
				SizeBytes: s.BehaviorHints.VideoSize,
				AddonID:   a.id,
				Indexer:   a.id,
			})
		}
	}
	return torrents, nzbs, nil
}

// candidateTitle prefers the hinted filename, then the first line of the
// title, which addons conventionally use for the release name.
func candidateTitle(s addonStream) string {
	if s.BehaviorHints.Filename != "" {
		return s.BehaviorHints.Filename
	}
	text := s.Title
	if text == "" {
		text = s.Description
	}
	if line, _, ok := strings.Cut(text, "\n"); ok {
		return strings.TrimSpace(line)
	}
	return strings.TrimSpace(text)
}

var seedersPattern = regexp.MustCompile(`(?:👤|[Ss]eeders?:?)\s*(\d+)`)

func seedersFromDescription(text string) int {
	m := seedersPattern.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

// nzbHash derives a stable candidate hash from the download URL with the
// volatile query parameters dropped.
func nzbHash(raw string) string {
	cleaned := strings.ToLower(raw)
	if u, err := url.Parse(raw); err == nil {
		u.RawQuery = ""
		u.Fragment = ""
		cleaned = strings.ToLower(u.String())
	}
	return fmt.Sprintf("%x", md5.Sum([]byte(cleaned)))
}
