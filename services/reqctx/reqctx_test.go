package reqctx

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"streamforge/models"
)

type fakeProvider struct {
	metadataCalls    atomic.Int32
	releaseCalls     atomic.Int32
	episodeCalls     atomic.Int32
	bestReleaseCalls atomic.Int32

	metadataErr error
	block       chan struct{}
}

func (f *fakeProvider) GetMetadata(ctx context.Context, id models.ContentID, mediaType models.MediaType) (*models.TitleMetadata, error) {
	f.metadataCalls.Add(1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.metadataErr != nil {
		return nil, f.metadataErr
	}
	return &models.TitleMetadata{Primary: "Title for " + id.Value}, nil
}

func (f *fakeProvider) GetReleaseDates(context.Context, models.ContentID) (*models.ReleaseDates, error) {
	f.releaseCalls.Add(1)
	return &models.ReleaseDates{}, nil
}

func (f *fakeProvider) GetEpisodeDetails(context.Context, models.ContentID) (*models.EpisodeDetails, error) {
	f.episodeCalls.Add(1)
	return &models.EpisodeDetails{AirDate: "2024-01-01"}, nil
}

func (f *fakeProvider) GetBestRelease(context.Context, models.ContentID) (*models.BestReleaseSet, error) {
	f.bestReleaseCalls.Add(1)
	return &models.BestReleaseSet{BestHashes: []string{"aa"}}, nil
}

func movieID() models.ContentID {
	return models.ContentID{Type: models.IDTypeIMDB, Value: "tt0133093"}
}

func seriesID() models.ContentID {
	return models.ContentID{Type: models.IDTypeIMDB, Value: "tt0903747", Season: 2, Episode: 3}
}

func TestMetadataMemoised(t *testing.T) {
	provider := &fakeProvider{}
	c := New(models.MediaTypeMovie, movieID(), nil, provider)
	ctx := context.Background()

	c.StartMetadataFetch(ctx)
	c.StartMetadataFetch(ctx)

	for i := 0; i < 3; i++ {
		meta, err := c.AwaitMetadata(ctx)
		if err != nil {
			t.Fatalf("AwaitMetadata: %v", err)
		}
		if meta.Primary != "Title for tt0133093" {
			t.Errorf("meta = %+v", meta)
		}
	}
	if calls := provider.metadataCalls.Load(); calls != 1 {
		t.Errorf("metadata fetched %d times, want 1", calls)
	}
}

func TestAwaitWithoutStart(t *testing.T) {
	c := New(models.MediaTypeMovie, movieID(), nil, &fakeProvider{})
	ctx := context.Background()

	meta, err := c.AwaitMetadata(ctx)
	if meta != nil || err != nil {
		t.Errorf("AwaitMetadata unstarted = (%v, %v), want (nil, nil)", meta, err)
	}
	dates, err := c.AwaitReleaseDates(ctx)
	if dates != nil || err != nil {
		t.Errorf("AwaitReleaseDates unstarted = (%v, %v)", dates, err)
	}
}

func TestConditionalFetches(t *testing.T) {
	tests := []struct {
		name      string
		mediaType models.MediaType
		id        models.ContentID
		userData  *models.UserData
		release   int32
		episode   int32
		best      int32
	}{
		{
			name:      "movie with digital filter",
			mediaType: models.MediaTypeMovie,
			id:        movieID(),
			userData:  &models.UserData{DigitalRelease: models.DigitalReleaseFilter{Enabled: true}},
			release:   1,
		},
		{
			name:      "movie without digital filter",
			mediaType: models.MediaTypeMovie,
			id:        movieID(),
			userData:  &models.UserData{},
		},
		{
			name:      "series with bitrate feature",
			mediaType: models.MediaTypeSeries,
			id:        seriesID(),
			userData:  &models.UserData{MetadataBitrateEnabled: true},
			episode:   1,
		},
		{
			name:      "series without features",
			mediaType: models.MediaTypeSeries,
			id:        seriesID(),
			userData:  &models.UserData{},
		},
		{
			name:      "anime with best release",
			mediaType: models.MediaTypeAnime,
			id:        seriesID(),
			userData:  &models.UserData{BestReleaseEnabled: true},
			best:      1,
		},
		{
			name:      "series is not anime",
			mediaType: models.MediaTypeSeries,
			id:        seriesID(),
			userData:  &models.UserData{BestReleaseEnabled: true},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			provider := &fakeProvider{}
			c := New(tc.mediaType, tc.id, tc.userData, provider)
			ctx := context.Background()

			c.StartAllFetches(ctx)
			if _, err := c.AwaitMetadata(ctx); err != nil {
				t.Fatalf("AwaitMetadata: %v", err)
			}
			_, _ = c.AwaitReleaseDates(ctx)
			_, _ = c.AwaitEpisodeDetails(ctx)
			_, _ = c.AwaitBestRelease(ctx)

			if got := provider.releaseCalls.Load(); got != tc.release {
				t.Errorf("release calls = %d, want %d", got, tc.release)
			}
			if got := provider.episodeCalls.Load(); got != tc.episode {
				t.Errorf("episode calls = %d, want %d", got, tc.episode)
			}
			if got := provider.bestReleaseCalls.Load(); got != tc.best {
				t.Errorf("best-release calls = %d, want %d", got, tc.best)
			}
		})
	}
}

func TestFetchErrorPropagates(t *testing.T) {
	sentinel := errors.New("upstream down")
	provider := &fakeProvider{metadataErr: sentinel}
	c := New(models.MediaTypeMovie, movieID(), nil, provider)
	ctx := context.Background()

	c.StartMetadataFetch(ctx)
	if _, err := c.AwaitMetadata(ctx); !errors.Is(err, sentinel) {
		t.Errorf("err = %v, want sentinel", err)
	}
}

func TestAwaitCancellation(t *testing.T) {
	provider := &fakeProvider{block: make(chan struct{})}
	defer close(provider.block)

	c := New(models.MediaTypeMovie, movieID(), nil, provider)
	c.StartMetadataFetch(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := c.AwaitMetadata(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestKitsuIDCountsAsAnime(t *testing.T) {
	provider := &fakeProvider{}
	id := models.ContentID{Type: models.IDTypeKitsu, Value: "1376", Episode: 5}
	c := New(models.MediaTypeSeries, id, &models.UserData{BestReleaseEnabled: true}, provider)
	ctx := context.Background()

	c.StartAllFetches(ctx)
	if _, err := c.AwaitBestRelease(ctx); err != nil {
		t.Fatalf("AwaitBestRelease: %v", err)
	}
	if provider.bestReleaseCalls.Load() != 1 {
		t.Error("kitsu id did not trigger best-release fetch")
	}
}
