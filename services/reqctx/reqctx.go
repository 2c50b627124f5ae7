// Package reqctx carries the per-request lazily fetched facts: title
// metadata, movie release dates, episode details and anime best-release
// tags. Fetches start on demand, run in the background, and are memoised;
// awaiting an unstarted fetch returns empty rather than blocking.
package reqctx

import (
	"context"
	"sync"
	"sync/atomic"

	"streamforge/models"
)

// MetadataProvider is the slice of the metadata service the request context
// consumes.
type MetadataProvider interface {
	GetMetadata(ctx context.Context, id models.ContentID, mediaType models.MediaType) (*models.TitleMetadata, error)
	GetReleaseDates(ctx context.Context, id models.ContentID) (*models.ReleaseDates, error)
	GetEpisodeDetails(ctx context.Context, id models.ContentID) (*models.EpisodeDetails, error)
	GetBestRelease(ctx context.Context, id models.ContentID) (*models.BestReleaseSet, error)
}

type fetchSlot[T any] struct {
	once    sync.Once
	started atomic.Bool
	done    chan struct{}
	value   T
	err     error
}

func newFetchSlot[T any]() *fetchSlot[T] {
	return &fetchSlot[T]{done: make(chan struct{})}
}

func (s *fetchSlot[T]) start(ctx context.Context, fetch func(context.Context) (T, error)) {
	s.once.Do(func() {
		s.started.Store(true)
		go func() {
			defer close(s.done)
			s.value, s.err = fetch(ctx)
		}()
	})
}

// await blocks until the fetch completes or ctx is cancelled. A slot that
// was never started yields the zero value immediately.
func (s *fetchSlot[T]) await(ctx context.Context) (T, error) {
	if !s.started.Load() {
		var zero T
		return zero, nil
	}
	select {
	case <-s.done:
		return s.value, s.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Context is the metadata-aware request context. Constructed synchronously;
// all fetching is deferred to the Start methods.
type Context struct {
	MediaType models.MediaType
	ID        models.ContentID
	UserData  *models.UserData

	provider MetadataProvider

	metadata     *fetchSlot[*models.TitleMetadata]
	releaseDates *fetchSlot[*models.ReleaseDates]
	episode      *fetchSlot[*models.EpisodeDetails]
	bestRelease  *fetchSlot[*models.BestReleaseSet]
}

// New builds a request context for one stream request.
func New(mediaType models.MediaType, id models.ContentID, userData *models.UserData, provider MetadataProvider) *Context {
	if userData == nil {
		userData = &models.UserData{}
	}
	return &Context{
		MediaType:    mediaType,
		ID:           id,
		UserData:     userData,
		provider:     provider,
		metadata:     newFetchSlot[*models.TitleMetadata](),
		releaseDates: newFetchSlot[*models.ReleaseDates](),
		episode:      newFetchSlot[*models.EpisodeDetails](),
		bestRelease:  newFetchSlot[*models.BestReleaseSet](),
	}
}

// IsAnime reports whether the request targets anime content.
func (c *Context) IsAnime() bool {
	return c.MediaType == models.MediaTypeAnime || c.ID.IsAnimeID()
}

// StartMetadataFetch launches the metadata fetch. Idempotent.
func (c *Context) StartMetadataFetch(ctx context.Context) {
	c.metadata.start(ctx, func(ctx context.Context) (*models.TitleMetadata, error) {
		return c.provider.GetMetadata(ctx, c.ID, c.MediaType)
	})
}

// StartReleaseDatesFetch launches the release-dates fetch when it applies:
// movies with the digital-release filter enabled.
func (c *Context) StartReleaseDatesFetch(ctx context.Context) {
	if c.MediaType != models.MediaTypeMovie || !c.UserData.DigitalRelease.Enabled {
		return
	}
	c.releaseDates.start(ctx, func(ctx context.Context) (*models.ReleaseDates, error) {
		return c.provider.GetReleaseDates(ctx, c.ID)
	})
}

// StartEpisodeDetailsFetch launches the episode-details fetch when it
// applies: series/anime episodes needing the digital-release gate or the
// runtime-derived bitrate.
func (c *Context) StartEpisodeDetailsFetch(ctx context.Context) {
	if c.MediaType == models.MediaTypeMovie || c.ID.Episode <= 0 {
		return
	}
	if !c.UserData.DigitalRelease.Enabled && !c.UserData.MetadataBitrateEnabled {
		return
	}
	c.episode.start(ctx, func(ctx context.Context) (*models.EpisodeDetails, error) {
		return c.provider.GetEpisodeDetails(ctx, c.ID)
	})
}

// StartBestReleaseFetch launches the best-release fetch when it applies:
// anime with the best-release feature enabled.
func (c *Context) StartBestReleaseFetch(ctx context.Context) {
	if !c.IsAnime() || !c.UserData.BestReleaseEnabled {
		return
	}
	c.bestRelease.start(ctx, func(ctx context.Context) (*models.BestReleaseSet, error) {
		return c.provider.GetBestRelease(ctx, c.ID)
	})
}

// StartAllFetches launches every fetch that applies to this request.
func (c *Context) StartAllFetches(ctx context.Context) {
	c.StartMetadataFetch(ctx)
	c.StartReleaseDatesFetch(ctx)
	c.StartEpisodeDetailsFetch(ctx)
	c.StartBestReleaseFetch(ctx)
}

// AwaitMetadata returns the fetched metadata, blocking until done. Never
// started means (nil, nil).
func (c *Context) AwaitMetadata(ctx context.Context) (*models.TitleMetadata, error) {
	return c.metadata.await(ctx)
}

// AwaitReleaseDates returns the movie release calendar, if fetched.
func (c *Context) AwaitReleaseDates(ctx context.Context) (*models.ReleaseDates, error) {
	return c.releaseDates.await(ctx)
}

// AwaitEpisodeDetails returns the episode facts, if fetched.
func (c *Context) AwaitEpisodeDetails(ctx context.Context) (*models.EpisodeDetails, error) {
	return c.episode.await(ctx)
}

// AwaitBestRelease returns the anime best-release set, if fetched.
func (c *Context) AwaitBestRelease(ctx context.Context) (*models.BestReleaseSet, error) {
	return c.bestRelease.await(ctx)
}
