package debrid

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"streamforge/internal/cache"
	"streamforge/internal/lock"
	"streamforge/models"
)

const (
	historyPollTimeout  = 80 * time.Second
	historyPollInterval = 2 * time.Second

	walkMaxDepth    = 6
	walkMinFileSize = 500 << 20 // 500 MiB
)

var streamDAVCategories = []string{"Movies", "TV", "uncategorized"}

// StreamDAVConfig wires one SABnzbd-compatible streaming WebDAV backend.
type StreamDAVConfig struct {
	ID         string
	SABnzbdURL string
	APIKey     string

	WebDAVURL      string
	WebDAVUser     string
	WebDAVPassword string
	// PathPrefix roots synthesised content paths when SABnzbd does not
	// report a storage location.
	PathPrefix string

	HTTPClient *http.Client
	Store      cache.Cache
	Locks      lock.Manager

	LibraryTTL            time.Duration
	LibraryStaleThreshold time.Duration
	LinkTTL               time.Duration
	ResolveErrorTTL       time.Duration
}

// StreamDAVClient adapts a usenet backend that downloads via a SABnzbd API
// and exposes the finished content over WebDAV.
type StreamDAVClient struct {
	id         string
	sabURL     string
	apiKey     string
	davURL     string
	davUser    string
	davPass    string
	pathPrefix string

	httpc   *http.Client
	store   cache.Cache
	locks   lock.Manager
	library *libraryCache

	linkTTL       time.Duration
	resolveErrTTL time.Duration
}

var _ Adapter = (*StreamDAVClient)(nil)

// NewStreamDAVClient builds the adapter from its configuration.
func NewStreamDAVClient(cfg StreamDAVConfig) *StreamDAVClient {
	httpc := cfg.HTTPClient
	if httpc == nil {
		httpc = &http.Client{Timeout: 30 * time.Second}
	}
	linkTTL := cfg.LinkTTL
	if linkTTL <= 0 {
		linkTTL = 20 * time.Minute
	}
	resolveErrTTL := cfg.ResolveErrorTTL
	if resolveErrTTL <= 0 {
		resolveErrTTL = time.Minute
	}
	return &StreamDAVClient{
		id:            cfg.ID,
		sabURL:        strings.TrimRight(cfg.SABnzbdURL, "/"),
		apiKey:        cfg.APIKey,
		davURL:        strings.TrimRight(cfg.WebDAVURL, "/"),
		davUser:       cfg.WebDAVUser,
		davPass:       cfg.WebDAVPassword,
		pathPrefix:    strings.Trim(cfg.PathPrefix, "/"),
		httpc:         httpc,
		store:         cfg.Store,
		locks:         cfg.Locks,
		library:       newLibraryCache(cfg.Store, cfg.Locks, cfg.LibraryTTL, cfg.LibraryStaleThreshold),
		linkTTL:       linkTTL,
		resolveErrTTL: resolveErrTTL,
	}
}

func (c *StreamDAVClient) ID() string { return c.id }

func (c *StreamDAVClient) Capabilities() Capabilities {
	return Capabilities{SupportsUsenet: true}
}

// --- SABnzbd API ---

type sabAddResponse struct {
	Status bool     `json:"status"`
	NzoIDs []string `json:"nzo_ids"`
	Error  string   `json:"error,omitempty"`
}

type sabHistorySlot struct {
	NzoID       string `json:"nzo_id"`
	Status      string `json:"status"`
	Name        string `json:"name"`
	Storage     string `json:"storage"`
	FailMessage string `json:"fail_message"`
	Bytes       int64  `json:"bytes"`
}

type sabHistoryResponse struct {
	History struct {
		Slots []sabHistorySlot `json:"slots"`
	} `json:"history"`
}

func (c *StreamDAVClient) sabCall(ctx context.Context, query url.Values, out any) error {
	query.Set("output", "json")
	endpoint := c.sabURL + "/api?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create sabnzbd request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)

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
		return errorFromStatus(resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode sabnzbd response: %w", err)
		}
	}
	return nil
}

// categoryFor buckets content for the download client.
func categoryFor(info PlaybackInfo) string {
	switch {
	case info.Season > 0 || info.Episode > 0:
		return "TV"
	case info.Metadata != nil && info.Metadata.Year > 0:
		return "Movies"
	default:
		return "uncategorized"
	}
}

// AddNzb hands the URL to SABnzbd and waits for the history slot to settle.
func (c *StreamDAVClient) AddNzb(ctx context.Context, nzbURL, name string) (*models.DebridDownload, error) {
	return c.addNzbWithCategory(ctx, nzbURL, name, "uncategorized")
}

func (c *StreamDAVClient) addNzbWithCategory(ctx context.Context, nzbURL, name, category string) (*models.DebridDownload, error) {
	query := url.Values{}
	query.Set("mode", "addurl")
	query.Set("name", nzbURL)
	query.Set("cat", category)
	query.Set("nzbname", name)

	var resp sabAddResponse
	if err := c.sabCall(ctx, query, &resp); err != nil {
		return nil, err
	}
	if !resp.Status || len(resp.NzoIDs) == 0 {
		msg := resp.Error
		if msg == "" {
			msg = "download client rejected the nzb"
		}
		return nil, NewError(CodeBadRequest, msg)
	}
	nzoID := resp.NzoIDs[0]
	log.Printf("[debrid:%s] queued nzb %q as %s", c.id, name, nzoID)

	slot, err := c.awaitHistory(ctx, nzoID)
	if err != nil {
		return nil, err
	}
	download := &models.DebridDownload{
		ID:     nzoID,
		Name:   slot.Name,
		Size:   slot.Bytes,
		Status: models.StatusDownloaded,
	}
	if strings.EqualFold(slot.Status, "failed") {
		download.Status = models.StatusFailed
	}
	return download, nil
}

// awaitHistory polls the history endpoint until the slot completes or fails.
func (c *StreamDAVClient) awaitHistory(ctx context.Context, nzoID string) (*sabHistorySlot, error) {
	ctx, cancel := context.WithTimeout(ctx, historyPollTimeout)
	defer cancel()
	for {
		query := url.Values{}
		query.Set("mode", "history")
		query.Set("nzo_ids", nzoID)

		var resp sabHistoryResponse
		if err := c.sabCall(ctx, query, &resp); err != nil {
			return nil, err
		}
		for i := range resp.History.Slots {
			slot := &resp.History.Slots[i]
			if slot.NzoID != nzoID {
				continue
			}
			switch strings.ToLower(slot.Status) {
			case "completed":
				return slot, nil
			case "failed":
				msg := slot.FailMessage
				if msg == "" {
					msg = "download failed"
				}
				return nil, NewError(CodeUnknown, msg)
			}
		}

		select {
		case <-ctx.Done():
			return nil, AsError(ctx.Err())
		case <-time.After(historyPollInterval):
		}
	}
}

// --- WebDAV ---

type davMultistatus struct {
	Responses []davResponse `xml:"response"`
}

type davResponse struct {
	Href     string `xml:"href"`
	Propstat []struct {
		Prop davProp `xml:"prop"`
	} `xml:"propstat"`
}

type davProp struct {
	DisplayName   string `xml:"displayname"`
	ContentLength int64  `xml:"getcontentlength"`
	ContentType   string `xml:"getcontenttype"`
	ResourceType  struct {
		Collection *struct{} `xml:"collection"`
	} `xml:"resourcetype"`
}

type davEntry struct {
	Path  string
	Name  string
	Size  int64
	Mime  string
	IsDir bool
}

// getDirectoryContents lists one directory level over WebDAV.
func (c *StreamDAVClient) getDirectoryContents(ctx context.Context, dir string) ([]davEntry, error) {
	endpoint := c.davURL + encodePath(dir)
	req, err := http.NewRequestWithContext(ctx, "PROPFIND", endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create propfind request: %w", err)
	}
	req.Header.Set("Depth", "1")
	req.SetBasicAuth(c.davUser, c.davPass)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, AsError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		raw, _ := io.ReadAll(resp.Body)
		return nil, errorFromStatus(resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var ms davMultistatus
	if err := xml.NewDecoder(resp.Body).Decode(&ms); err != nil {
		return nil, fmt.Errorf("decode propfind response: %w", err)
	}

	normalizedDir := "/" + strings.Trim(dir, "/")
	var entries []davEntry
	for _, r := range ms.Responses {
		href, err := url.PathUnescape(r.Href)
		if err != nil {
			href = r.Href
		}
		entryPath := "/" + strings.Trim(strings.TrimPrefix(href, davBasePath(c.davURL)), "/")
		if entryPath == normalizedDir {
			continue // the directory itself
		}
		if len(r.Propstat) == 0 {
			continue
		}
		prop := r.Propstat[0].Prop
		name := prop.DisplayName
		if name == "" {
			name = path.Base(entryPath)
		}
		entries = append(entries, davEntry{
			Path:  entryPath,
			Name:  name,
			Size:  prop.ContentLength,
			Mime:  prop.ContentType,
			IsDir: prop.ResourceType.Collection != nil,
		})
	}
	return entries, nil
}

func davBasePath(davURL string) string {
	parsed, err := url.Parse(davURL)
	if err != nil {
		return ""
	}
	return strings.TrimRight(parsed.Path, "/")
}

func encodePath(p string) string {
	segments := strings.Split(strings.Trim(p, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return "/" + strings.Join(segments, "/")
}

// walkContent searches the content tree breadth-first for playable files.
// A directory holding a video file, or any file past the size floor, is a
// terminal location.
func (c *StreamDAVClient) walkContent(ctx context.Context, root string) ([]davEntry, error) {
	queue := []string{root}
	for depth := 0; depth <= walkMaxDepth && len(queue) > 0; depth++ {
		var next []string
		for _, dir := range queue {
			entries, err := c.getDirectoryContents(ctx, dir)
			if err != nil {
				return nil, err
			}
			var files []davEntry
			terminal := false
			for _, e := range entries {
				if e.IsDir {
					next = append(next, e.Path)
					continue
				}
				files = append(files, e)
				if e.Size >= walkMinFileSize || IsVideoFile(models.DebridFile{Name: e.Name, MimeType: e.Mime}) {
					terminal = true
				}
			}
			if terminal {
				return files, nil
			}
		}
		queue = next
	}
	return nil, NewError(CodeNotFound, "no playable content under "+root)
}

func filesFromEntries(entries []davEntry) []models.DebridFile {
	files := make([]models.DebridFile, 0, len(entries))
	for i, e := range entries {
		files = append(files, models.DebridFile{
			Index:    i,
			Name:     e.Name,
			Size:     e.Size,
			Path:     e.Path,
			MimeType: e.Mime,
		})
	}
	return files
}

// --- Adapter surface ---

// ListNzbs lists the finished content tree one level below each category.
func (c *StreamDAVClient) ListNzbs(ctx context.Context) ([]models.DebridDownload, error) {
	return c.library.get(ctx, "newz", c.id, c.apiKey, func(ctx context.Context) ([]models.DebridDownload, error) {
		var out []models.DebridDownload
		for _, category := range streamDAVCategories {
			dir := c.contentRoot(category)
			entries, err := c.getDirectoryContents(ctx, dir)
			if err != nil {
				if AsError(err).Code == CodeNotFound {
					continue
				}
				return nil, err
			}
			for _, e := range entries {
				if !e.IsDir {
					continue
				}
				out = append(out, models.DebridDownload{
					ID:      e.Path,
					Name:    e.Name,
					Status:  models.StatusDownloaded,
					Library: true,
				})
			}
		}
		log.Printf("[debrid:%s] listed %d library folders", c.id, len(out))
		return out, nil
	})
}

func (c *StreamDAVClient) contentRoot(category string) string {
	if c.pathPrefix == "" {
		return "/" + category
	}
	return "/" + c.pathPrefix + "/" + category
}

// CheckNzbs reconciles purely against the library tree: this backend has no
// shared cache, so only already-downloaded names count as available.
func (c *StreamDAVClient) CheckNzbs(ctx context.Context, queries []NzbQuery, opts CheckOptions) (map[string]*models.DebridDownload, error) {
	items, err := c.ListNzbs(ctx)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]models.DebridDownload, len(items))
	for _, item := range items {
		byName[strings.ToLower(item.Name)] = item
	}

	results := make(map[string]*models.DebridDownload, len(queries))
	for _, q := range queries {
		if q.Name == "" {
			continue
		}
		item, ok := byName[strings.ToLower(q.Name)]
		if !ok {
			continue
		}
		owned := item
		owned.Hash = strings.ToLower(q.Hash)
		owned.Status = models.StatusCached
		owned.Library = true
		results[strings.ToLower(q.Hash)] = &owned
	}
	return results, nil
}

// GetNzb walks the folder behind id and returns its playable files.
func (c *StreamDAVClient) GetNzb(ctx context.Context, id string) (*models.DebridDownload, error) {
	entries, err := c.walkContent(ctx, id)
	if err != nil {
		return nil, err
	}
	download := &models.DebridDownload{
		ID:      id,
		Name:    path.Base(id),
		Status:  models.StatusDownloaded,
		Library: true,
		Files:   filesFromEntries(entries),
	}
	for _, f := range download.Files {
		download.Size += f.Size
	}
	return download, nil
}

func (c *StreamDAVClient) RemoveNzb(ctx context.Context, id string) error {
	endpoint := c.davURL + encodePath(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create delete request: %w", err)
	}
	req.SetBasicAuth(c.davUser, c.davPass)
	resp, err := c.httpc.Do(req)
	if err != nil {
		return AsError(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest && resp.StatusCode != http.StatusNotFound {
		return errorFromStatus(resp.StatusCode, "delete failed")
	}
	return nil
}

func (c *StreamDAVClient) RefreshLibraryCache(ctx context.Context) error {
	return c.library.invalidate(ctx, "newz", c.id, c.apiKey)
}

// Resolve downloads the item when needed and returns a direct WebDAV URL
// with inline credentials.
func (c *StreamDAVClient) Resolve(ctx context.Context, info PlaybackInfo, opts ResolveOptions) (string, error) {
	timeout := defaultResolveTimeout
	if opts.CacheAndPlay {
		timeout = cacheAndPlayTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var playURL string
	err := c.locks.WithLock(ctx, resolveLockKey(c.id, info, c.apiKey), lock.Options{Timeout: timeout}, func(ctx context.Context) error {
		link, err := c.resolveLocked(ctx, info, opts)
		playURL = link
		return err
	})
	if err != nil {
		return "", AsError(err)
	}
	return playURL, nil
}

func (c *StreamDAVClient) resolveLocked(ctx context.Context, info PlaybackInfo, opts ResolveOptions) (string, error) {
	if raw, found, _ := c.store.Get(ctx, resolveLinkKey(c.id, info)); found {
		return string(raw), nil
	}
	if _, found, _ := c.store.Get(ctx, resolveNegativeKey(c.id, info)); found && !opts.CacheAndPlay {
		return "", nil
	}

	category := categoryFor(info)
	contentPath, err := c.locateContent(ctx, info, category, opts)
	if err != nil || contentPath == "" {
		return "", err
	}

	entries, err := c.walkContent(ctx, contentPath)
	if err != nil {
		return "", err
	}
	download := &models.DebridDownload{
		ID:     contentPath,
		Name:   path.Base(contentPath),
		Status: models.StatusDownloaded,
		Files:  filesFromEntries(entries),
	}
	selection := SelectFile(download, selectionRequestFrom(info, opts))
	if selection.Reason != "" {
		return "", NewError(CodeNoMatchingFile, selection.Reason)
	}
	selected := entries[selection.File.Index]

	playURL := c.publicURL(selected.Path)
	if err := c.store.Set(ctx, resolveLinkKey(c.id, info), []byte(playURL), c.linkTTL); err != nil {
		log.Printf("[debrid:%s] failed to cache resolved link: %v", c.id, err)
	}
	return playURL, nil
}

// locateContent finds the finished folder for the request, downloading it
// first when cache-and-play asks for it.
func (c *StreamDAVClient) locateContent(ctx context.Context, info PlaybackInfo, category string, opts ResolveOptions) (string, error) {
	if info.Title != "" {
		dir := c.contentRoot(category)
		if entries, err := c.getDirectoryContents(ctx, dir); err == nil {
			for _, e := range entries {
				if e.IsDir && strings.EqualFold(e.Name, info.Title) {
					return e.Path, nil
				}
			}
		}
	}

	if !opts.CacheAndPlay {
		if err := c.store.Set(ctx, resolveNegativeKey(c.id, info), []byte("pending"), c.resolveErrTTL); err != nil {
			log.Printf("[debrid:%s] failed to cache negative resolve: %v", c.id, err)
		}
		return "", nil
	}
	if info.NZBURL == "" {
		return "", NewError(CodeBadRequest, "no nzb url to download")
	}

	slot, err := c.downloadAndWait(ctx, info, category)
	if err != nil {
		return "", err
	}
	if slot.Storage != "" {
		return "/" + strings.Trim(slot.Storage, "/"), nil
	}
	return c.contentRoot(category) + "/" + info.Title, nil
}

func (c *StreamDAVClient) downloadAndWait(ctx context.Context, info PlaybackInfo, category string) (*sabHistorySlot, error) {
	query := url.Values{}
	query.Set("mode", "addurl")
	query.Set("name", info.NZBURL)
	query.Set("cat", category)
	query.Set("nzbname", info.Title)

	var resp sabAddResponse
	if err := c.sabCall(ctx, query, &resp); err != nil {
		return nil, err
	}
	if !resp.Status || len(resp.NzoIDs) == 0 {
		msg := resp.Error
		if msg == "" {
			msg = "download client rejected the nzb"
		}
		return nil, NewError(CodeBadRequest, msg)
	}
	return c.awaitHistory(ctx, resp.NzoIDs[0])
}

// publicURL builds the playable WebDAV URL with credentials inline.
func (c *StreamDAVClient) publicURL(contentPath string) string {
	parsed, err := url.Parse(c.davURL)
	if err != nil {
		return strings.TrimRight(c.davURL+encodePath(contentPath), "/")
	}
	parsed.User = url.UserPassword(c.davUser, c.davPass)
	parsed.Path = strings.TrimRight(parsed.Path, "/") + "/" + strings.Trim(contentPath, "/")
	return strings.TrimRight(parsed.String(), "/")
}

// Torrent operations are out of scope for a usenet-only backend.

func (c *StreamDAVClient) ListMagnets(context.Context) ([]models.DebridDownload, error) {
	return nil, notImplemented("listMagnets")
}

func (c *StreamDAVClient) CheckMagnets(context.Context, []string, CheckOptions) (map[string]*models.DebridDownload, error) {
	return nil, notImplemented("checkMagnets")
}

func (c *StreamDAVClient) AddMagnet(context.Context, string) (*models.DebridDownload, error) {
	return nil, notImplemented("addMagnet")
}

func (c *StreamDAVClient) GetMagnet(context.Context, string) (*models.DebridDownload, error) {
	return nil, notImplemented("getMagnet")
}

func (c *StreamDAVClient) RemoveMagnet(context.Context, string) error {
	return notImplemented("removeMagnet")
}
