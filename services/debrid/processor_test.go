package debrid

import (
	"context"
	"sync"
	"testing"

	"streamforge/models"
)

// fakeAdapter scripts availability answers for processor tests.
type fakeAdapter struct {
	id   string
	caps Capabilities

	magnetResults map[string]*models.DebridDownload
	nzbResults    map[string]*models.DebridDownload
	checkErr      error
	hashMapping   map[string]string

	mu            sync.Mutex
	checkedHashes [][]string
}

func (f *fakeAdapter) ID() string                 { return f.id }
func (f *fakeAdapter) Capabilities() Capabilities { return f.caps }

func (f *fakeAdapter) CheckMagnets(_ context.Context, hashes []string, _ CheckOptions) (map[string]*models.DebridDownload, error) {
	f.mu.Lock()
	f.checkedHashes = append(f.checkedHashes, hashes)
	f.mu.Unlock()
	if f.checkErr != nil {
		return nil, f.checkErr
	}
	return f.magnetResults, nil
}

func (f *fakeAdapter) CheckNzbs(context.Context, []NzbQuery, CheckOptions) (map[string]*models.DebridDownload, error) {
	if f.checkErr != nil {
		return nil, f.checkErr
	}
	return f.nzbResults, nil
}

func (f *fakeAdapter) ResolvePlaceholderHash(_ context.Context, downloadURL string) (string, bool) {
	real, ok := f.hashMapping[downloadURL]
	return real, ok
}

func (f *fakeAdapter) ListMagnets(context.Context) ([]models.DebridDownload, error) { return nil, nil }
func (f *fakeAdapter) ListNzbs(context.Context) ([]models.DebridDownload, error)    { return nil, nil }
func (f *fakeAdapter) AddMagnet(context.Context, string) (*models.DebridDownload, error) {
	return nil, notImplemented("addMagnet")
}
func (f *fakeAdapter) AddNzb(context.Context, string, string) (*models.DebridDownload, error) {
	return nil, notImplemented("addNzb")
}
func (f *fakeAdapter) GetMagnet(context.Context, string) (*models.DebridDownload, error) {
	return nil, notImplemented("getMagnet")
}
func (f *fakeAdapter) GetNzb(context.Context, string) (*models.DebridDownload, error) {
	return nil, notImplemented("getNzb")
}
func (f *fakeAdapter) RemoveMagnet(context.Context, string) error { return nil }
func (f *fakeAdapter) RemoveNzb(context.Context, string) error    { return nil }
func (f *fakeAdapter) Resolve(context.Context, PlaybackInfo, ResolveOptions) (string, error) {
	return "", notImplemented("resolve")
}
func (f *fakeAdapter) RefreshLibraryCache(context.Context) error { return nil }

const testHash = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

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

func cachedDownload(hash string) *models.DebridDownload {
	return &models.DebridDownload{
		ID:     "dl-1",
		Hash:   hash,
		Status: models.StatusCached,
		Files: []models.DebridFile{
			{Index: 0, Name: "Show.S02E03.1080p.x264-GRP.mkv", Size: 1_500_000_000},
			{Index: 1, Name: "Show.S02E03.sample.mkv", Size: 50_000_000},
		},
	}
}

func processRequest() ProcessRequest {
	return ProcessRequest{
		ID:          models.ContentID{Type: models.IDTypeIMDB, Value: "tt0000001", Season: 2, Episode: 3},
		Metadata:    showMetadata(),
		ChosenIndex: -1,
	}
}

func TestProcessTorrentsCachedExactMatch(t *testing.T) {
	adapter := &fakeAdapter{
		id:            "storeA",
		caps:          Capabilities{SupportsTorrents: true},
		magnetResults: map[string]*models.DebridDownload{testHash: cachedDownload(testHash)},
	}
	p := NewProcessor([]Adapter{adapter}, false)

	candidates := []models.CandidateTorrent{
		{Hash: testHash, Title: "Show.S02E03.1080p.x264-GRP", SizeBytes: 1_550_000_000},
	}
	streams, errs := p.ProcessTorrents(context.Background(), candidates, processRequest())
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %+v", errs)
	}
	if len(streams) != 1 {
		t.Fatalf("got %d streams, want 1", len(streams))
	}
	s := streams[0]
	if s.Service == nil || s.Service.ID != "storeA" || !s.Service.Cached || s.Service.Library {
		t.Errorf("service annotation = %+v", s.Service)
	}
	if s.File.Index != 0 {
		t.Errorf("selected file index %d, want 0", s.File.Index)
	}
	if s.InfoHash != testHash {
		t.Errorf("info hash = %q", s.InfoHash)
	}
	// 1.5 GB over 50 minutes.
	if s.BitrateKbps != 4000 {
		t.Errorf("bitrate = %d kbps, want 4000", s.BitrateKbps)
	}
}

func TestProcessTorrentsCarriesAddonIdentity(t *testing.T) {
	adapter := &fakeAdapter{
		id:            "storeA",
		caps:          Capabilities{SupportsTorrents: true},
		magnetResults: map[string]*models.DebridDownload{testHash: cachedDownload(testHash)},
	}
	p := NewProcessor([]Adapter{adapter}, false)

	candidates := []models.CandidateTorrent{
		{Hash: testHash, Title: "Show.S02E03.1080p.x264-GRP", AddonID: "torrentio", Indexer: "rarbg"},
	}
	streams, errs := p.ProcessTorrents(context.Background(), candidates, processRequest())
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %+v", errs)
	}
	if len(streams) != 1 {
		t.Fatalf("got %d streams, want 1", len(streams))
	}
	if streams[0].AddonID != "torrentio" {
		t.Errorf("addon id = %q, want torrentio", streams[0].AddonID)
	}
	if streams[0].Indexer != "rarbg" {
		t.Errorf("indexer = %q, want rarbg", streams[0].Indexer)
	}
}

func TestProcessTorrentsPerServiceErrors(t *testing.T) {
	good := &fakeAdapter{
		id:            "storeA",
		caps:          Capabilities{SupportsTorrents: true},
		magnetResults: map[string]*models.DebridDownload{testHash: cachedDownload(testHash)},
	}
	bad := &fakeAdapter{
		id:       "storeB",
		caps:     Capabilities{SupportsTorrents: true},
		checkErr: NewError(CodeUnauthorized, "bad token"),
	}
	p := NewProcessor([]Adapter{bad, good}, false)

	candidates := []models.CandidateTorrent{{Hash: testHash, Title: "Show.S02E03.1080p.x264-GRP"}}
	streams, errs := p.ProcessTorrents(context.Background(), candidates, processRequest())
	if len(streams) != 1 {
		t.Fatalf("got %d streams, want 1 from the healthy service", len(streams))
	}
	if len(errs) != 1 || errs[0].ServiceID != "storeB" {
		t.Fatalf("errors = %+v", errs)
	}
}

func TestProcessTorrentsPrivateTrackerExclusion(t *testing.T) {
	store := &fakeAdapter{id: "storeA", caps: Capabilities{SupportsTorrents: true}}
	qbit := &fakeAdapter{
		id:            qBittorrentServiceID,
		caps:          Capabilities{SupportsTorrents: true},
		magnetResults: map[string]*models.DebridDownload{testHash: cachedDownload(testHash)},
	}
	p := NewProcessor([]Adapter{store, qbit}, true)

	candidates := []models.CandidateTorrent{
		{Hash: testHash, Title: "Show.S02E03.1080p.x264-GRP", Private: true},
	}
	streams, errs := p.ProcessTorrents(context.Background(), candidates, processRequest())
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %+v", errs)
	}
	if len(store.checkedHashes) != 0 {
		t.Errorf("private candidate reached a debrid store: %v", store.checkedHashes)
	}
	if len(streams) != 1 || streams[0].Service.ID != qBittorrentServiceID {
		t.Fatalf("streams = %+v", streams)
	}
}

func TestProcessTorrentsConfirmedBypassesValidation(t *testing.T) {
	wrongSeason := "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	adapter := &fakeAdapter{
		id:   "storeA",
		caps: Capabilities{SupportsTorrents: true},
		magnetResults: map[string]*models.DebridDownload{
			wrongSeason: {
				ID:     "dl-2",
				Hash:   wrongSeason,
				Status: models.StatusCached,
				Files: []models.DebridFile{
					{Index: 0, Name: "Show.S05E03.1080p.x264-GRP.mkv", Size: 1_000_000_000},
				},
			},
		},
	}
	p := NewProcessor([]Adapter{adapter}, false)

	candidates := []models.CandidateTorrent{
		{Hash: wrongSeason, Title: "Show.S05E03.1080p.x264-GRP"},
	}
	streams, _ := p.ProcessTorrents(context.Background(), candidates, processRequest())
	if len(streams) != 0 {
		t.Fatalf("wrong-season candidate should be dropped, got %+v", streams)
	}

	candidates[0].Confirmed = true
	streams, _ = p.ProcessTorrents(context.Background(), candidates, processRequest())
	if len(streams) != 1 {
		t.Fatalf("confirmed candidate should bypass validation, got %d streams", len(streams))
	}
}

func TestProcessTorrentsLibraryOverridesCached(t *testing.T) {
	adapter := &fakeAdapter{
		id:   "storeA",
		caps: Capabilities{SupportsTorrents: true},
		magnetResults: map[string]*models.DebridDownload{
			testHash: {
				ID:      "dl-3",
				Hash:    testHash,
				Status:  models.StatusDownloading,
				Library: true,
				Files: []models.DebridFile{
					{Index: 0, Name: "Show.S02E03.1080p.x264-GRP.mkv", Size: 1_500_000_000},
				},
			},
		},
	}
	p := NewProcessor([]Adapter{adapter}, false)

	candidates := []models.CandidateTorrent{{Hash: testHash, Title: "Show.S02E03.1080p.x264-GRP"}}
	streams, _ := p.ProcessTorrents(context.Background(), candidates, processRequest())
	if len(streams) != 1 {
		t.Fatalf("library item should be kept, got %d streams", len(streams))
	}
	if !streams[0].Service.Library || streams[0].Service.Cached {
		t.Errorf("service annotation = %+v", streams[0].Service)
	}
}

func TestProcessTorrentsPlaceholderHashResolution(t *testing.T) {
	downloadURL := "https://indexer.example/dl/42"
	placeholder := "cccccccccccccccccccccccccccccccccccccccc"
	adapter := &fakeAdapter{
		id:            "storeA",
		caps:          Capabilities{SupportsTorrents: true},
		hashMapping:   map[string]string{downloadURL: testHash},
		magnetResults: map[string]*models.DebridDownload{testHash: cachedDownload(testHash)},
	}
	p := NewProcessor([]Adapter{adapter}, false)

	candidates := []models.CandidateTorrent{
		{Hash: placeholder, PlaceholderHash: true, DownloadURL: downloadURL, Title: "Show.S02E03.1080p.x264-GRP"},
	}
	streams, _ := p.ProcessTorrents(context.Background(), candidates, processRequest())
	if len(adapter.checkedHashes) != 1 || adapter.checkedHashes[0][0] != testHash {
		t.Fatalf("checked hashes = %v, want the resolved real hash", adapter.checkedHashes)
	}
	if len(streams) != 1 || streams[0].InfoHash != testHash {
		t.Fatalf("streams = %+v", streams)
	}
}

func TestProcessNzbsLibraryMatch(t *testing.T) {
	nzbHash := "d41d8cd98f00b204e9800998ecf8427e"
	adapter := &fakeAdapter{
		id:   "streamdav",
		caps: Capabilities{SupportsUsenet: true},
		nzbResults: map[string]*models.DebridDownload{
			nzbHash: {
				ID:      "/content/TV/Show.S02E03.1080p.WEB-DL",
				Name:    "Show.S02E03.1080p.WEB-DL",
				Status:  models.StatusCached,
				Library: true,
				Files: []models.DebridFile{
					{Index: 0, Name: "Show.S02E03.1080p.WEB-DL.mkv", Size: 1_200_000_000},
				},
			},
		},
	}
	p := NewProcessor([]Adapter{adapter}, false)

	candidates := []models.CandidateNZB{
		{Hash: nzbHash, Title: "Show.S02E03.1080p.WEB-DL", NZBURL: "https://indexer.example/nzb/1", AddonID: "nzb-addon"},
	}
	streams, errs := p.ProcessNzbs(context.Background(), candidates, processRequest())
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %+v", errs)
	}
	if len(streams) != 1 {
		t.Fatalf("got %d streams, want 1", len(streams))
	}
	s := streams[0]
	if s.Type != models.StreamTypeUsenet {
		t.Errorf("stream type = %q", s.Type)
	}
	if !s.Service.Library || !s.Service.Cached {
		t.Errorf("service annotation = %+v", s.Service)
	}
	if s.AddonID != "nzb-addon" {
		t.Errorf("addon id = %q", s.AddonID)
	}
}

func TestProcessTorrentsNoCapableAdapter(t *testing.T) {
	usenetOnly := &fakeAdapter{id: "streamdav", caps: Capabilities{SupportsUsenet: true}}
	p := NewProcessor([]Adapter{usenetOnly}, false)

	streams, errs := p.ProcessTorrents(context.Background(), []models.CandidateTorrent{{Hash: testHash}}, processRequest())
	if streams != nil || errs != nil {
		t.Errorf("expected empty result, got %v / %v", streams, errs)
	}
}
