package debrid

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"streamforge/internal/cache"
	"streamforge/internal/lock"
	"streamforge/models"
)

const (
	defaultCheckBatchSize = 500
	minPageSize           = 100
	maxPageSize           = 500
)

// StoreClientConfig wires one multi-store backend instance.
type StoreClientConfig struct {
	ID         string
	BaseURL    string
	Token      string
	HTTPClient *http.Client

	Store cache.Cache
	Locks lock.Manager

	LibraryTTL            time.Duration
	LibraryStaleThreshold time.Duration
	AvailabilityTTL       time.Duration
	LinkTTL               time.Duration
	ResolveErrorTTL       time.Duration

	PageSize  int
	PageLimit int
}

// StoreClient adapts a generic multi-store backend exposing both the magnet
// (torrent) and newz (usenet) surfaces of the store API.
type StoreClient struct {
	id      string
	baseURL string
	token   string
	httpc   *http.Client

	store   cache.Cache
	locks   lock.Manager
	library *libraryCache

	availabilityTTL time.Duration
	linkTTL         time.Duration
	resolveErrTTL   time.Duration

	pageSize  int
	pageLimit int
}

var _ Adapter = (*StoreClient)(nil)

// NewStoreClient builds an adapter for one configured multi-store service.
func NewStoreClient(cfg StoreClientConfig) *StoreClient {
	httpc := cfg.HTTPClient
	if httpc == nil {
		httpc = &http.Client{Timeout: 30 * time.Second}
	}
	pageSize := cfg.PageSize
	if pageSize < minPageSize {
		pageSize = minPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	pageLimit := cfg.PageLimit
	if pageLimit <= 0 {
		pageLimit = 10
	}
	availabilityTTL := cfg.AvailabilityTTL
	if availabilityTTL <= 0 {
		availabilityTTL = 5 * time.Minute
	}
	linkTTL := cfg.LinkTTL
	if linkTTL <= 0 {
		linkTTL = 20 * time.Minute
	}
	resolveErrTTL := cfg.ResolveErrorTTL
	if resolveErrTTL <= 0 {
		resolveErrTTL = time.Minute
	}
	return &StoreClient{
		id:              cfg.ID,
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		token:           cfg.Token,
		httpc:           httpc,
		store:           cfg.Store,
		locks:           cfg.Locks,
		library:         newLibraryCache(cfg.Store, cfg.Locks, cfg.LibraryTTL, cfg.LibraryStaleThreshold),
		availabilityTTL: availabilityTTL,
		linkTTL:         linkTTL,
		resolveErrTTL:   resolveErrTTL,
		pageSize:        pageSize,
		pageLimit:       pageLimit,
	}
}

func (c *StoreClient) ID() string { return c.id }

func (c *StoreClient) Capabilities() Capabilities {
	return Capabilities{SupportsTorrents: true, SupportsUsenet: true}
}

type storeAPIError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

type storeResponse[T any] struct {
	Data  T              `json:"data"`
	Error *storeAPIError `json:"error,omitempty"`
}

type storeFile struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	Path  string `json:"path,omitempty"`
	Size  int64  `json:"size"`
	Link  string `json:"link,omitempty"`
	Mime  string `json:"mime_type,omitempty"`
}

type storeItem struct {
	ID      string      `json:"id"`
	Hash    string      `json:"hash,omitempty"`
	Name    string      `json:"name,omitempty"`
	Status  string      `json:"status"`
	Size    int64       `json:"size,omitempty"`
	Files   []storeFile `json:"files,omitempty"`
	AddedAt string      `json:"added_at,omitempty"`
}

type storePage struct {
	Items      []storeItem `json:"items"`
	TotalItems int         `json:"total_items"`
}

func (it storeItem) toDownload() models.DebridDownload {
	d := models.DebridDownload{
		ID:      it.ID,
		Hash:    strings.ToLower(it.Hash),
		Name:    it.Name,
		Status:  downloadStatus(it.Status),
		Size:    it.Size,
		AddedAt: it.AddedAt,
	}
	for _, f := range it.Files {
		d.Files = append(d.Files, models.DebridFile{
			Index:    f.Index,
			Name:     f.Name,
			Path:     f.Path,
			Size:     f.Size,
			Link:     f.Link,
			MimeType: f.Mime,
		})
	}
	return d
}

func downloadStatus(s string) models.DownloadStatus {
	switch status := models.DownloadStatus(strings.ToLower(s)); status {
	case models.StatusCached, models.StatusDownloaded, models.StatusDownloading,
		models.StatusQueued, models.StatusUploading, models.StatusProcessing,
		models.StatusFailed, models.StatusInvalid:
		return status
	default:
		return models.StatusUnknown
	}
}

func (c *StoreClient) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create %s request: %w", path, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return AsError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return AsError(err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var envelope storeResponse[json.RawMessage]
		if json.Unmarshal(raw, &envelope) == nil && envelope.Error != nil {
			return errorFromStatus(resp.StatusCode, envelope.Error.Message)
		}
		return errorFromStatus(resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode %s response: %w", path, err)
		}
	}
	return nil
}

// listItems paginates one store surface until the server returns a short
// page, the reported total is reached, or the page limit trips.
func (c *StoreClient) listItems(ctx context.Context, path string) ([]models.DebridDownload, error) {
	var out []models.DebridDownload
	offset := 0
	for page := 0; page < c.pageLimit; page++ {
		query := url.Values{}
		query.Set("limit", strconv.Itoa(c.pageSize))
		query.Set("offset", strconv.Itoa(offset))

		var resp storeResponse[storePage]
		if err := c.do(ctx, http.MethodGet, path, query, nil, &resp); err != nil {
			return nil, err
		}
		for _, item := range resp.Data.Items {
			out = append(out, item.toDownload())
		}
		offset += len(resp.Data.Items)
		if len(resp.Data.Items) < c.pageSize || (resp.Data.TotalItems > 0 && offset >= resp.Data.TotalItems) {
			break
		}
	}
	return out, nil
}

func (c *StoreClient) ListMagnets(ctx context.Context) ([]models.DebridDownload, error) {
	return c.library.get(ctx, "magnets", c.id, c.token, func(ctx context.Context) ([]models.DebridDownload, error) {
		items, err := c.listItems(ctx, "/v0/store/magnets")
		if err != nil {
			return nil, err
		}
		log.Printf("[debrid:%s] listed %d magnets", c.id, len(items))
		return items, nil
	})
}

func (c *StoreClient) ListNzbs(ctx context.Context) ([]models.DebridDownload, error) {
	return c.library.get(ctx, "newz", c.id, c.token, func(ctx context.Context) ([]models.DebridDownload, error) {
		items, err := c.listItems(ctx, "/v0/store/newz")
		if err != nil {
			return nil, err
		}
		log.Printf("[debrid:%s] listed %d newz items", c.id, len(items))
		return items, nil
	})
}

func (c *StoreClient) CheckMagnets(ctx context.Context, hashes []string, opts CheckOptions) (map[string]*models.DebridDownload, error) {
	results := make(map[string]*models.DebridDownload, len(hashes))
	for start := 0; start < len(hashes); start += defaultCheckBatchSize {
		end := start + defaultCheckBatchSize
		if end > len(hashes) {
			end = len(hashes)
		}
		batch := make([]string, 0, end-start)
		for _, h := range hashes[start:end] {
			batch = append(batch, strings.ToLower(h))
		}

		query := url.Values{}
		query.Set("magnet", strings.Join(batch, ","))
		if opts.StremioID != "" {
			query.Set("sid", opts.StremioID)
		}
		var resp storeResponse[storePage]
		if err := c.do(ctx, http.MethodGet, "/v0/store/magnets/check", query, nil, &resp); err != nil {
			return nil, err
		}
		for _, item := range resp.Data.Items {
			d := item.toDownload()
			results[d.Hash] = &d
		}
	}

	if opts.CheckOwned {
		if err := c.reconcileLibrary(ctx, results, c.ListMagnets); err != nil {
			log.Printf("[debrid:%s] library reconciliation skipped: %v", c.id, err)
		}
	}
	return results, nil
}

func (c *StoreClient) CheckNzbs(ctx context.Context, queries []NzbQuery, opts CheckOptions) (map[string]*models.DebridDownload, error) {
	results := make(map[string]*models.DebridDownload, len(queries))
	for start := 0; start < len(queries); start += defaultCheckBatchSize {
		end := start + defaultCheckBatchSize
		if end > len(queries) {
			end = len(queries)
		}
		batch := make([]string, 0, end-start)
		for _, q := range queries[start:end] {
			if q.Hash != "" {
				batch = append(batch, strings.ToLower(q.Hash))
			}
		}
		if len(batch) == 0 {
			continue
		}

		query := url.Values{}
		query.Set("hash", strings.Join(batch, ","))
		var resp storeResponse[storePage]
		if err := c.do(ctx, http.MethodGet, "/v0/store/newz/check", query, nil, &resp); err != nil {
			return nil, err
		}
		for _, item := range resp.Data.Items {
			d := item.toDownload()
			results[d.Hash] = &d
		}
	}

	if opts.CheckOwned {
		if err := c.reconcileNzbLibrary(ctx, queries, results); err != nil {
			log.Printf("[debrid:%s] newz library reconciliation skipped: %v", c.id, err)
		}
	}
	return results, nil
}

// reconcileLibrary merges the account library into check results. A library
// match wins the library flag; a known-failed item wins the status.
func (c *StoreClient) reconcileLibrary(ctx context.Context, results map[string]*models.DebridDownload, list func(context.Context) ([]models.DebridDownload, error)) error {
	items, err := list(ctx)
	if err != nil {
		return err
	}
	for i := range items {
		item := items[i]
		if item.Hash == "" {
			continue
		}
		existing, ok := results[item.Hash]
		if !ok {
			owned := item
			owned.Library = true
			results[item.Hash] = &owned
			continue
		}
		existing.Library = true
		if existing.ID == "" {
			existing.ID = item.ID
		}
		if item.Status.Terminal() {
			existing.Status = item.Status
		} else if !existing.Status.Ready() && item.Status.Ready() {
			existing.Status = item.Status
			if len(existing.Files) == 0 {
				existing.Files = item.Files
			}
		}
	}
	return nil
}

// reconcileNzbLibrary matches by hash first, then by exact name, so items
// added under a release title are recognised without a hash.
func (c *StoreClient) reconcileNzbLibrary(ctx context.Context, queries []NzbQuery, results map[string]*models.DebridDownload) error {
	items, err := c.ListNzbs(ctx)
	if err != nil {
		return err
	}
	byName := make(map[string]models.DebridDownload, len(items))
	byHash := make(map[string]models.DebridDownload, len(items))
	for _, item := range items {
		if item.Hash != "" {
			byHash[item.Hash] = item
		}
		if item.Name != "" {
			byName[strings.ToLower(item.Name)] = item
		}
	}
	for _, q := range queries {
		hash := strings.ToLower(q.Hash)
		item, ok := byHash[hash]
		if !ok && q.Name != "" {
			item, ok = byName[strings.ToLower(q.Name)]
		}
		if !ok {
			continue
		}
		owned := item
		owned.Library = true
		if hash != "" {
			owned.Hash = hash
		}
		if existing, found := results[hash]; found && existing.Status.Terminal() {
			owned.Status = existing.Status
		}
		results[hash] = &owned
	}
	return nil
}

func (c *StoreClient) AddMagnet(ctx context.Context, magnetURI string) (*models.DebridDownload, error) {
	var resp storeResponse[storeItem]
	body := map[string]string{"magnet": magnetURI}
	if err := c.do(ctx, http.MethodPost, "/v0/store/magnets", nil, body, &resp); err != nil {
		return nil, err
	}
	d := resp.Data.toDownload()
	log.Printf("[debrid:%s] added magnet %s (status %s)", c.id, d.Hash, d.Status)
	return &d, nil
}

// AddTorrent registers a torrent by its download URL and records the
// placeholder-to-real hash mapping for later candidates.
func (c *StoreClient) AddTorrent(ctx context.Context, downloadURL string) (*models.DebridDownload, error) {
	var resp storeResponse[storeItem]
	body := map[string]string{"torrent": downloadURL}
	if err := c.do(ctx, http.MethodPost, "/v0/store/magnets", nil, body, &resp); err != nil {
		return nil, err
	}
	d := resp.Data.toDownload()
	if d.Hash != "" {
		key := placeholderKey(c.id, downloadURL)
		if err := c.store.Set(ctx, key, []byte(d.Hash), 24*time.Hour); err != nil {
			log.Printf("[debrid:%s] failed to record hash mapping: %v", c.id, err)
		}
	}
	return &d, nil
}

func placeholderKey(serviceID, downloadURL string) string {
	sum := sha1.Sum([]byte(downloadURL))
	return fmt.Sprintf("hashmap:%s:%s", serviceID, hex.EncodeToString(sum[:]))
}

// ResolvePlaceholderHash returns the real info hash for a download URL the
// service has already ingested.
func (c *StoreClient) ResolvePlaceholderHash(ctx context.Context, downloadURL string) (string, bool) {
	raw, found, err := c.store.Get(ctx, placeholderKey(c.id, downloadURL))
	if err != nil || !found {
		return "", false
	}
	return string(raw), true
}

func (c *StoreClient) AddNzb(ctx context.Context, nzbURL, name string) (*models.DebridDownload, error) {
	var resp storeResponse[storeItem]
	body := map[string]string{"link": nzbURL, "name": name}
	if err := c.do(ctx, http.MethodPost, "/v0/store/newz", nil, body, &resp); err != nil {
		return nil, err
	}
	d := resp.Data.toDownload()
	log.Printf("[debrid:%s] added nzb %q (status %s)", c.id, name, d.Status)
	return &d, nil
}

func (c *StoreClient) GetMagnet(ctx context.Context, id string) (*models.DebridDownload, error) {
	var resp storeResponse[storeItem]
	if err := c.do(ctx, http.MethodGet, "/v0/store/magnets/"+url.PathEscape(id), nil, nil, &resp); err != nil {
		return nil, err
	}
	d := resp.Data.toDownload()
	return &d, nil
}

func (c *StoreClient) GetNzb(ctx context.Context, id string) (*models.DebridDownload, error) {
	var resp storeResponse[storeItem]
	if err := c.do(ctx, http.MethodGet, "/v0/store/newz/"+url.PathEscape(id), nil, nil, &resp); err != nil {
		return nil, err
	}
	d := resp.Data.toDownload()
	return &d, nil
}

func (c *StoreClient) RemoveMagnet(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v0/store/magnets/"+url.PathEscape(id), nil, nil, nil)
}

func (c *StoreClient) RemoveNzb(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v0/store/newz/"+url.PathEscape(id), nil, nil, nil)
}

func (c *StoreClient) RefreshLibraryCache(ctx context.Context) error {
	if err := c.library.invalidate(ctx, "magnets", c.id, c.token); err != nil {
		return err
	}
	return c.library.invalidate(ctx, "newz", c.id, c.token)
}

type generateLinkRequest struct {
	Link     string `json:"link"`
	ClientIP string `json:"client_ip,omitempty"`
}

type generateLinkResponse struct {
	Link string `json:"link"`
}

func (c *StoreClient) generateLink(ctx context.Context, path, link, clientIP string) (string, error) {
	var resp storeResponse[generateLinkResponse]
	body := generateLinkRequest{Link: link, ClientIP: clientIP}
	if err := c.do(ctx, http.MethodPost, path, nil, body, &resp); err != nil {
		return "", err
	}
	if resp.Data.Link == "" {
		return "", NewError(CodeNoMatchingFile, "backend returned an empty link")
	}
	return resp.Data.Link, nil
}
