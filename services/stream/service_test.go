package stream

import (
	"context"
	"errors"
	"strings"
	"testing"

	"streamforge/models"
	"streamforge/services/debrid"
	"streamforge/services/reqctx"
)

const testHash = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

type fakeProvider struct {
	metadata *models.TitleMetadata
	best     *models.BestReleaseSet
}

func (f *fakeProvider) GetMetadata(ctx context.Context, id models.ContentID, mediaType models.MediaType) (*models.TitleMetadata, error) {
	return f.metadata, nil
}

func (f *fakeProvider) GetReleaseDates(ctx context.Context, id models.ContentID) (*models.ReleaseDates, error) {
	return nil, nil
}

func (f *fakeProvider) GetEpisodeDetails(ctx context.Context, id models.ContentID) (*models.EpisodeDetails, error) {
	return nil, nil
}

func (f *fakeProvider) GetBestRelease(ctx context.Context, id models.ContentID) (*models.BestReleaseSet, error) {
	return f.best, nil
}

type fakeAdapter struct {
	id      string
	results map[string]*models.DebridDownload
	err     error
}

func (f *fakeAdapter) ID() string { return f.id }

func (f *fakeAdapter) Capabilities() debrid.Capabilities {
	return debrid.Capabilities{SupportsTorrents: true}
}

func (f *fakeAdapter) ListMagnets(ctx context.Context) ([]models.DebridDownload, error) {
	return nil, nil
}

func (f *fakeAdapter) ListNzbs(ctx context.Context) ([]models.DebridDownload, error) {
	return nil, nil
}

func (f *fakeAdapter) CheckMagnets(ctx context.Context, hashes []string, opts debrid.CheckOptions) (map[string]*models.DebridDownload, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

func (f *fakeAdapter) CheckNzbs(ctx context.Context, queries []debrid.NzbQuery, opts debrid.CheckOptions) (map[string]*models.DebridDownload, error) {
	return nil, nil
}

func (f *fakeAdapter) AddMagnet(ctx context.Context, magnetURI string) (*models.DebridDownload, error) {
	return nil, debrid.NewError(debrid.CodeNotImplemented, "addMagnet")
}

func (f *fakeAdapter) AddNzb(ctx context.Context, nzbURL, name string) (*models.DebridDownload, error) {
	return nil, debrid.NewError(debrid.CodeNotImplemented, "addNzb")
}

func (f *fakeAdapter) GetMagnet(ctx context.Context, id string) (*models.DebridDownload, error) {
	return nil, debrid.NewError(debrid.CodeNotFound, "getMagnet")
}

func (f *fakeAdapter) GetNzb(ctx context.Context, id string) (*models.DebridDownload, error) {
	return nil, debrid.NewError(debrid.CodeNotFound, "getNzb")
}

func (f *fakeAdapter) RemoveMagnet(ctx context.Context, id string) error { return nil }

func (f *fakeAdapter) RemoveNzb(ctx context.Context, id string) error { return nil }

func (f *fakeAdapter) Resolve(ctx context.Context, info debrid.PlaybackInfo, opts debrid.ResolveOptions) (string, error) {
	return "", nil
}

func (f *fakeAdapter) RefreshLibraryCache(ctx context.Context) error { return nil }

var _ debrid.Adapter = (*fakeAdapter)(nil)

type staticSource struct {
	id       string
	torrents []models.CandidateTorrent
	nzbs     []models.CandidateNZB
	err      error
}

func (s *staticSource) ID() string { return s.id }

func (s *staticSource) Fetch(ctx context.Context, rc *reqctx.Context) ([]models.CandidateTorrent, []models.CandidateNZB, error) {
	return s.torrents, s.nzbs, s.err
}

func showMetadata() *models.TitleMetadata {
	return &models.TitleMetadata{
		Primary:        "Show",
		Year:           2019,
		RuntimeMinutes: 50,
		Seasons: []models.SeasonInfo{
			{Number: 1, EpisodeCount: 10},
			{Number: 2, EpisodeCount: 10},
		},
	}
}

func cachedDownload() *models.DebridDownload {
	return &models.DebridDownload{
		ID:     "dl-1",
		Hash:   testHash,
		Name:   "Show.S02E03.1080p.WEB-DL",
		Status: models.StatusCached,
		Files: []models.DebridFile{
			{Index: 0, Name: "Show.S02E03.1080p.WEB-DL.mkv", Size: 1_500_000_000, MimeType: "video/x-matroska"},
		},
	}
}

func episodeCandidate() models.CandidateTorrent {
	return models.CandidateTorrent{
		Hash:      testHash,
		Title:     "Show.S02E03.1080p.WEB-DL",
		SizeBytes: 1_500_000_000,
		Seeders:   20,
	}
}

func newTestService(provider *fakeProvider, sources []Source, adapter debrid.Adapter, adapterErr error) *Service {
	return NewService(provider, Options{
		Sources: sources,
		Adapters: func(cfg models.ServiceConfig) (debrid.Adapter, error) {
			if adapterErr != nil {
				return nil, adapterErr
			}
			return adapter, nil
		},
	})
}

func userWithService() *models.UserData {
	return &models.UserData{
		Services: []models.ServiceConfig{{ID: "stremthru", Enabled: true}},
	}
}

func TestGetEndToEnd(t *testing.T) {
	provider := &fakeProvider{metadata: showMetadata()}
	source := &staticSource{id: "indexer-a", torrents: []models.CandidateTorrent{episodeCandidate()}}
	adapter := &fakeAdapter{id: "stremthru", results: map[string]*models.DebridDownload{testHash: cachedDownload()}}
	svc := newTestService(provider, []Source{source}, adapter, nil)

	list, err := svc.Get(context.Background(), models.MediaTypeSeries, "tt0000001:2:3", userWithService(), "203.0.113.7")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(list.Errors) != 0 {
		t.Fatalf("errors = %+v", list.Errors)
	}
	if len(list.Streams) != 1 {
		t.Fatalf("streams = %+v", list.Streams)
	}
	s := list.Streams[0]
	if s.ServiceID() != "stremthru" || !s.Cached() {
		t.Errorf("service = %+v", s.Service)
	}
	if s.Indexer != "indexer-a" {
		t.Errorf("indexer = %q", s.Indexer)
	}
	if s.AddonID != "indexer-a" {
		t.Errorf("addon id = %q", s.AddonID)
	}
	if s.BitrateKbps != 4000 {
		t.Errorf("bitrate = %d", s.BitrateKbps)
	}
}

func TestGetRejectsBadID(t *testing.T) {
	svc := newTestService(&fakeProvider{}, nil, nil, nil)
	if _, err := svc.Get(context.Background(), models.MediaTypeMovie, "not a real id", &models.UserData{}, ""); err == nil {
		t.Fatal("expected error for malformed id")
	}
}

func TestGetCollectsSourceAndServiceErrors(t *testing.T) {
	provider := &fakeProvider{metadata: showMetadata()}
	sources := []Source{
		&staticSource{id: "broken", err: errors.New("indexer down")},
		&staticSource{id: "working", torrents: []models.CandidateTorrent{episodeCandidate()}},
	}
	adapter := &fakeAdapter{id: "stremthru", err: debrid.NewError(debrid.CodeUnauthorized, "bad token")}
	svc := newTestService(provider, sources, adapter, nil)

	user := userWithService()
	user.ErrorStreamsEnabled = true
	list, err := svc.Get(context.Background(), models.MediaTypeSeries, "tt0000001:2:3", user, "")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(list.Errors) != 2 {
		t.Fatalf("errors = %+v", list.Errors)
	}

	var errorStreams int
	for _, s := range list.Streams {
		if s.Type == models.StreamTypeError {
			errorStreams++
		}
	}
	if errorStreams != 2 {
		t.Errorf("error pseudo-streams = %d, want 2", errorStreams)
	}
}

func TestGetAnnotatesBestReleaseBeforeFiltering(t *testing.T) {
	best := &models.BestReleaseSet{BestHashes: []string{strings.ToUpper(testHash)}}
	provider := &fakeProvider{metadata: showMetadata(), best: best}

	other := episodeCandidate()
	other.Hash = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	other.Title = "Show.S02E03.720p.WEB"
	source := &staticSource{id: "anime-indexer", torrents: []models.CandidateTorrent{episodeCandidate(), other}}

	otherDownload := cachedDownload()
	otherDownload.Hash = other.Hash
	adapter := &fakeAdapter{id: "stremthru", results: map[string]*models.DebridDownload{
		testHash:   cachedDownload(),
		other.Hash: otherDownload,
	}}
	svc := newTestService(provider, []Source{source}, adapter, nil)

	user := userWithService()
	user.BestReleaseEnabled = true
	user.RequiredExpressions = []string{"seadexBest()"}
	list, err := svc.Get(context.Background(), models.MediaTypeAnime, "tt0000001:2:3", user, "")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(list.Streams) != 1 {
		t.Fatalf("streams = %+v", list.Streams)
	}
	if list.Streams[0].InfoHash != testHash {
		t.Errorf("kept = %q", list.Streams[0].InfoHash)
	}
}

func TestGetWithoutServicesFallsBackToP2P(t *testing.T) {
	provider := &fakeProvider{metadata: showMetadata()}
	source := &staticSource{id: "indexer-a", torrents: []models.CandidateTorrent{episodeCandidate()}}
	svc := newTestService(provider, []Source{source}, nil, nil)

	list, err := svc.Get(context.Background(), models.MediaTypeSeries, "tt0000001:2:3", &models.UserData{}, "")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(list.Streams) != 1 {
		t.Fatalf("streams = %+v", list.Streams)
	}
	s := list.Streams[0]
	if s.Type != models.StreamTypeP2P {
		t.Errorf("type = %q, want p2p", s.Type)
	}
	if s.InfoHash != testHash || s.Cached() {
		t.Errorf("stream = %+v", s)
	}
	if s.AddonID != "indexer-a" {
		t.Errorf("addon id = %q", s.AddonID)
	}
}

func TestGetEmitsP2PForUnmatchedCandidates(t *testing.T) {
	provider := &fakeProvider{metadata: showMetadata()}

	unmatched := episodeCandidate()
	unmatched.Hash = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	unmatched.Title = "Show.S02E03.720p.WEB"
	source := &staticSource{id: "indexer-a", torrents: []models.CandidateTorrent{episodeCandidate(), unmatched}}

	// Only the first hash is cached on the service.
	adapter := &fakeAdapter{id: "stremthru", results: map[string]*models.DebridDownload{testHash: cachedDownload()}}
	svc := newTestService(provider, []Source{source}, adapter, nil)

	list, err := svc.Get(context.Background(), models.MediaTypeSeries, "tt0000001:2:3", userWithService(), "")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	byType := map[models.StreamType]int{}
	for _, s := range list.Streams {
		byType[s.Type]++
	}
	if byType[models.StreamTypeDebrid] != 1 || byType[models.StreamTypeP2P] != 1 {
		t.Fatalf("streams by type = %v", byType)
	}
	for _, s := range list.Streams {
		if s.Type == models.StreamTypeP2P && s.InfoHash != unmatched.Hash {
			t.Errorf("p2p stream hash = %q", s.InfoHash)
		}
	}
}
