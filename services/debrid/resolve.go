package debrid

import (
	"context"
	"fmt"
	"log"
	"time"

	"streamforge/internal/lock"
	"streamforge/models"
)

const (
	defaultResolveTimeout = 30 * time.Second
	cacheAndPlayTimeout   = 120 * time.Second
	resolvePollInterval   = 2 * time.Second
)

// resolveLockKey coalesces duplicate user-driven polls for the same item.
func resolveLockKey(serviceID string, info PlaybackInfo, token string) string {
	return fmt.Sprintf("resolve:%s:%s:%d:%d:%d:%s:%s:%s",
		serviceID, info.Hash, info.Season, info.Episode, info.AbsoluteEpisode,
		info.Filename, info.ClientIP, tokenDigest(token))
}

func resolveLinkKey(serviceID string, info PlaybackInfo) string {
	return fmt.Sprintf("resolve:link:%s:%s:%d:%s", serviceID, info.Hash, info.FileIndex, info.Filename)
}

func resolveNegativeKey(serviceID string, info PlaybackInfo) string {
	return fmt.Sprintf("resolve:neg:%s:%s:%d:%s", serviceID, info.Hash, info.FileIndex, info.Filename)
}

func selectionRequestFrom(info PlaybackInfo, opts ResolveOptions) SelectionRequest {
	req := SelectionRequest{
		Season:                  info.Season,
		Episode:                 info.Episode,
		AbsoluteEpisode:         info.AbsoluteEpisode,
		RelativeAbsoluteEpisode: info.RelativeAbsoluteEpisode,
		SeasonYear:              info.SeasonYear,
		ChosenIndex:             info.FileIndex,
		ChosenFilename:          info.Filename,
		SkipEpisodeCheck:        opts.SkipFileEpisodeCheck,
	}
	if meta := info.Metadata; meta != nil {
		req.Year = meta.Year
		if meta.Primary != "" {
			req.Titles = append(req.Titles, models.Alias{Title: meta.Primary})
		}
		req.Titles = append(req.Titles, meta.Aliases...)
	}
	return req
}

// Resolve turns one candidate into a playable URL. The whole flow runs under
// a per-item lock so concurrent callers share a single add-and-poll cycle.
func (c *StoreClient) Resolve(ctx context.Context, info PlaybackInfo, opts ResolveOptions) (string, error) {
	timeout := defaultResolveTimeout
	if opts.CacheAndPlay {
		timeout = cacheAndPlayTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var playURL string
	err := c.locks.WithLock(ctx, resolveLockKey(c.id, info, c.token), lock.Options{Timeout: timeout}, func(ctx context.Context) error {
		link, err := c.resolveLocked(ctx, info, opts)
		playURL = link
		return err
	})
	if err != nil {
		return "", AsError(err)
	}
	return playURL, nil
}

func (c *StoreClient) resolveLocked(ctx context.Context, info PlaybackInfo, opts ResolveOptions) (string, error) {
	if raw, found, _ := c.store.Get(ctx, resolveLinkKey(c.id, info)); found {
		return string(raw), nil
	}
	if _, found, _ := c.store.Get(ctx, resolveNegativeKey(c.id, info)); found && !opts.CacheAndPlay {
		return "", nil
	}

	usenet := info.NZBURL != ""
	download, err := c.locateOrAdd(ctx, info, usenet)
	if err != nil {
		return "", err
	}

	download, err = c.awaitReady(ctx, download, info, opts, usenet)
	if err != nil || download == nil {
		return "", err
	}

	selection := SelectFile(download, selectionRequestFrom(info, opts))
	if selection.Reason != "" {
		return "", NewError(CodeNoMatchingFile, selection.Reason)
	}

	link := fileLink(download, selection.File.Index)
	if link == "" {
		// Availability checks omit links; refetch the full item.
		refreshed, err := c.getItem(ctx, download.ID, usenet)
		if err != nil {
			return "", err
		}
		link = fileLink(refreshed, selection.File.Index)
	}
	if link == "" {
		return "", NewError(CodeNoMatchingFile, "selected file has no downloadable link")
	}

	generatePath := "/v0/store/link/generate"
	if usenet {
		generatePath = "/v0/store/newz/link/generate"
	}
	playURL, err := c.generateLink(ctx, generatePath, link, info.ClientIP)
	if err != nil {
		return "", err
	}
	if err := c.store.Set(ctx, resolveLinkKey(c.id, info), []byte(playURL), c.linkTTL); err != nil {
		log.Printf("[debrid:%s] failed to cache resolved link: %v", c.id, err)
	}
	return playURL, nil
}

// locateOrAdd finds the item in the account by hash or registers it.
func (c *StoreClient) locateOrAdd(ctx context.Context, info PlaybackInfo, usenet bool) (*models.DebridDownload, error) {
	list := c.ListMagnets
	if usenet {
		list = c.ListNzbs
	}
	if items, err := list(ctx); err == nil {
		for i := range items {
			if items[i].Hash != "" && items[i].Hash == info.Hash {
				return &items[i], nil
			}
		}
	}

	if usenet {
		return c.AddNzb(ctx, info.NZBURL, info.Title)
	}
	magnet := info.MagnetURI
	if magnet == "" {
		magnet = "magnet:?xt=urn:btih:" + info.Hash
	}
	return c.AddMagnet(ctx, magnet)
}

func (c *StoreClient) getItem(ctx context.Context, id string, usenet bool) (*models.DebridDownload, error) {
	if usenet {
		return c.GetNzb(ctx, id)
	}
	return c.GetMagnet(ctx, id)
}

// awaitReady polls the item until it is playable. Without cache-and-play an
// unready item caches a short negative entry and returns nil with no error.
func (c *StoreClient) awaitReady(ctx context.Context, download *models.DebridDownload, info PlaybackInfo, opts ResolveOptions, usenet bool) (*models.DebridDownload, error) {
	for {
		if download.Status.Ready() {
			return download, nil
		}
		if download.Status.Terminal() {
			if opts.AutoRemove && download.ID != "" {
				if err := c.removeItem(ctx, download.ID, usenet); err != nil {
					log.Printf("[debrid:%s] auto-remove of %s failed: %v", c.id, download.ID, err)
				}
			}
			return nil, NewError(CodeUnknown, fmt.Sprintf("download ended in status %q", download.Status))
		}
		if !opts.CacheAndPlay {
			if err := c.store.Set(ctx, resolveNegativeKey(c.id, info), []byte("pending"), c.resolveErrTTL); err != nil {
				log.Printf("[debrid:%s] failed to cache negative resolve: %v", c.id, err)
			}
			return nil, nil
		}

		select {
		case <-ctx.Done():
			return nil, AsError(ctx.Err())
		case <-time.After(resolvePollInterval):
		}
		refreshed, err := c.getItem(ctx, download.ID, usenet)
		if err != nil {
			return nil, err
		}
		download = refreshed
	}
}

func (c *StoreClient) removeItem(ctx context.Context, id string, usenet bool) error {
	if usenet {
		return c.RemoveNzb(ctx, id)
	}
	return c.RemoveMagnet(ctx, id)
}

func fileLink(download *models.DebridDownload, index int) string {
	for _, f := range download.Files {
		if f.Index == index {
			return f.Link
		}
	}
	return ""
}
