package debrid

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/sourcegraph/conc"

	"streamforge/models"
	"streamforge/utils/titlematch"
	"streamforge/utils/titleparse"
)

// qBittorrentServiceID marks the user's own download client, the only
// service private-tracker candidates may reach.
const qBittorrentServiceID = "qbittorrent"

// placeholderResolver is implemented by adapters that can map a download URL
// they have already ingested to the real info hash.
type placeholderResolver interface {
	ResolvePlaceholderHash(ctx context.Context, downloadURL string) (string, bool)
}

// ProcessRequest carries the request-side inputs of one dispatch run.
type ProcessRequest struct {
	ID         models.ContentID
	Metadata   *models.TitleMetadata
	SeasonYear int
	ClientIP   string
	CheckOwned bool

	TitleMatchThreshold  float64
	SkipFileEpisodeCheck bool
	// ChosenIndex is the user's preferred file index, -1 when unset.
	ChosenIndex    int
	ChosenFilename string
}

func (r ProcessRequest) threshold() float64 {
	if r.TitleMatchThreshold > 0 {
		return r.TitleMatchThreshold
	}
	return titlematch.DefaultThreshold
}

// Processor fans candidate batches across the configured adapters, keeps the
// positive hits, and selects a file for each.
type Processor struct {
	adapters               []Adapter
	parser                 *titleparse.Parser
	excludePrivateTrackers bool
}

// NewProcessor builds a dispatcher over the given adapters in user-declared
// order.
func NewProcessor(adapters []Adapter, excludePrivateTrackers bool) *Processor {
	return &Processor{
		adapters:               adapters,
		parser:                 titleparse.NewParser(),
		excludePrivateTrackers: excludePrivateTrackers,
	}
}

type serviceStreams struct {
	streams []*models.ParsedStream
	err     *models.StreamError
}

// ProcessTorrents checks the candidates against every torrent-capable
// service in parallel. Per-service failures become errors in the result; the
// remaining services still contribute. Results are concatenated in declared
// service order with per-service input order preserved.
func (p *Processor) ProcessTorrents(ctx context.Context, candidates []models.CandidateTorrent, req ProcessRequest) ([]*models.ParsedStream, []models.StreamError) {
	var adapters []Adapter
	for _, a := range p.adapters {
		if a.Capabilities().SupportsTorrents {
			adapters = append(adapters, a)
		}
	}
	if len(adapters) == 0 || len(candidates) == 0 {
		return nil, nil
	}

	slots := make([]serviceStreams, len(adapters))
	var wg conc.WaitGroup
	for i, adapter := range adapters {
		i, adapter := i, adapter
		wg.Go(func() {
			slots[i] = p.processTorrentService(ctx, adapter, candidates, req)
		})
	}
	wg.Wait()

	return mergeSlots(slots)
}

func (p *Processor) processTorrentService(ctx context.Context, adapter Adapter, candidates []models.CandidateTorrent, req ProcessRequest) serviceStreams {
	kept := make([]models.CandidateTorrent, 0, len(candidates))
	for _, c := range candidates {
		if p.excludePrivateTrackers && c.Private && adapter.ID() != qBittorrentServiceID {
			continue
		}
		if c.PlaceholderHash && c.DownloadURL != "" {
			if resolver, ok := adapter.(placeholderResolver); ok {
				if real, found := resolver.ResolvePlaceholderHash(ctx, c.DownloadURL); found {
					c.Hash = real
					c.PlaceholderHash = false
				}
			}
		}
		c.Hash = strings.ToLower(c.Hash)
		kept = append(kept, c)
	}
	if len(kept) == 0 {
		return serviceStreams{}
	}

	hashes := make([]string, 0, len(kept))
	for _, c := range kept {
		hashes = append(hashes, c.Hash)
	}
	results, err := adapter.CheckMagnets(ctx, hashes, CheckOptions{
		StremioID:  req.ID.String(),
		CheckOwned: req.CheckOwned,
	})
	if err != nil {
		derr := AsError(err)
		log.Printf("[debrid:%s] checkMagnets failed: %v", adapter.ID(), derr)
		return serviceStreams{err: &models.StreamError{ServiceID: adapter.ID(), Message: derr.Error()}}
	}

	var streams []*models.ParsedStream
	for _, c := range kept {
		download := results[c.Hash]
		if download == nil || (!download.Status.Ready() && !download.Library) {
			continue
		}
		stream := p.buildStream(adapter.ID(), c.Hash, c.Title, c.Parsed, download, req, torrentExtras{
			sizeBytes: c.SizeBytes,
			addonID:   c.AddonID,
			indexer:   c.Indexer,
			seeders:   c.Seeders,
			ageHours:  c.AgeHours,
			sources:   c.TrackerSources,
			library:   c.Library,
			confirmed: c.Confirmed,
			fileIndex: c.FileIndex,
		})
		if stream != nil {
			streams = append(streams, stream)
		}
	}
	return serviceStreams{streams: streams}
}

// ProcessNzbs is the usenet counterpart of ProcessTorrents.
func (p *Processor) ProcessNzbs(ctx context.Context, candidates []models.CandidateNZB, req ProcessRequest) ([]*models.ParsedStream, []models.StreamError) {
	var adapters []Adapter
	for _, a := range p.adapters {
		if a.Capabilities().SupportsUsenet {
			adapters = append(adapters, a)
		}
	}
	if len(adapters) == 0 || len(candidates) == 0 {
		return nil, nil
	}

	slots := make([]serviceStreams, len(adapters))
	var wg conc.WaitGroup
	for i, adapter := range adapters {
		i, adapter := i, adapter
		wg.Go(func() {
			slots[i] = p.processNzbService(ctx, adapter, candidates, req)
		})
	}
	wg.Wait()

	return mergeSlots(slots)
}

func (p *Processor) processNzbService(ctx context.Context, adapter Adapter, candidates []models.CandidateNZB, req ProcessRequest) serviceStreams {
	queries := make([]NzbQuery, 0, len(candidates))
	for _, c := range candidates {
		queries = append(queries, NzbQuery{Hash: strings.ToLower(c.Hash), Name: c.Title})
	}
	results, err := adapter.CheckNzbs(ctx, queries, CheckOptions{CheckOwned: req.CheckOwned})
	if err != nil {
		derr := AsError(err)
		log.Printf("[debrid:%s] checkNzbs failed: %v", adapter.ID(), derr)
		return serviceStreams{err: &models.StreamError{ServiceID: adapter.ID(), Message: derr.Error()}}
	}

	var streams []*models.ParsedStream
	for _, c := range candidates {
		download := results[strings.ToLower(c.Hash)]
		if download == nil || (!download.Status.Ready() && !download.Library) {
			continue
		}
		stream := p.buildStream(adapter.ID(), strings.ToLower(c.Hash), c.Title, c.Parsed, download, req, torrentExtras{
			sizeBytes:  c.SizeBytes,
			addonID:    c.AddonID,
			indexer:    c.Indexer,
			ageHours:   c.AgeHours,
			library:    c.Library,
			confirmed:  c.Confirmed,
			fileIndex:  -1,
			streamType: models.StreamTypeUsenet,
		})
		if stream != nil {
			streams = append(streams, stream)
		}
	}
	return serviceStreams{streams: streams}
}

type torrentExtras struct {
	sizeBytes  int64
	addonID    string
	indexer    string
	seeders    int
	ageHours   float64
	sources    []string
	library    bool
	confirmed  bool
	fileIndex  int
	streamType models.StreamType
}

// buildStream validates one positive hit and selects its file. Returns nil
// when the candidate is rejected.
func (p *Processor) buildStream(serviceID, hash, title string, preParsed *models.ParsedTitle, download *models.DebridDownload, req ProcessRequest, extras torrentExtras) *models.ParsedStream {
	var parsed models.ParsedTitle
	if preParsed != nil {
		parsed = *preParsed
	} else {
		parsed = p.parser.Parse(title)
	}

	absolute, relative := absoluteEpisodes(req.Metadata)
	if !extras.confirmed {
		if titlematch.IsTitleWrong(parsed, title, req.Metadata, req.threshold()) {
			return nil
		}
		if titlematch.IsSeasonWrong(parsed, req.ID.Season) {
			return nil
		}
		if titlematch.IsEpisodeWrong(parsed, req.ID.Episode, absolute, relative) {
			return nil
		}
	}

	selReq := SelectionRequest{
		Season:                  req.ID.Season,
		Episode:                 req.ID.Episode,
		AbsoluteEpisode:         absolute,
		RelativeAbsoluteEpisode: relative,
		SeasonYear:              req.SeasonYear,
		ChosenIndex:             chosenIndex(req, extras),
		ChosenFilename:          req.ChosenFilename,
		SkipEpisodeCheck:        extras.confirmed || req.SkipFileEpisodeCheck,
	}
	if req.Metadata != nil {
		selReq.Year = req.Metadata.Year
		if req.Metadata.Primary != "" {
			selReq.Titles = append(selReq.Titles, models.Alias{Title: req.Metadata.Primary})
		}
		selReq.Titles = append(selReq.Titles, req.Metadata.Aliases...)
	}
	selection := SelectFile(download, selReq)
	if selection.Reason != "" {
		log.Printf("[debrid:%s] skipped %s: %s", serviceID, hash, selection.Reason)
		return nil
	}

	streamType := extras.streamType
	if streamType == "" {
		streamType = models.StreamTypeDebrid
	}
	filename := selection.File.Name
	fileParsed := parsed
	if filename != "" && selection.File.Index >= 0 {
		fileParsed = selection.Parsed
		// Container-level facts stay authoritative when the file name is
		// too bare to carry them.
		if fileParsed.Resolution == "" {
			fileParsed.Resolution = parsed.Resolution
		}
		if fileParsed.Quality == "" {
			fileParsed.Quality = parsed.Quality
		}
		if fileParsed.Encode == "" {
			fileParsed.Encode = parsed.Encode
		}
		if fileParsed.ReleaseGroup == "" {
			fileParsed.ReleaseGroup = parsed.ReleaseGroup
		}
		if len(fileParsed.Languages) == 0 {
			fileParsed.Languages = parsed.Languages
		}
	} else {
		filename = title
	}

	stream := &models.ParsedStream{
		ID:         fmt.Sprintf("%s:%s", serviceID, hash),
		Type:       streamType,
		Service:    &models.ServiceAnnotation{ID: serviceID, Cached: download.Status.Ready(), Library: download.Library || extras.library},
		Parsed:     &fileParsed,
		Filename:   filename,
		FolderName: title,
		SizeBytes:  selection.File.Size,
		FolderSize: extras.sizeBytes,
		AddonID:    extras.addonID,
		Indexer:    extras.indexer,
		AgeHours:   extras.ageHours,
		Seeders:    extras.seeders,
		Languages:  fileParsed.Languages,
		File:       selection.File,
		InfoHash:   hash,
		FileIdx:    selection.File.Index,
		Sources:    extras.sources,
	}
	if stream.SizeBytes == 0 {
		stream.SizeBytes = extras.sizeBytes
	}
	if req.Metadata != nil && req.Metadata.RuntimeMinutes > 0 {
		stream.BitrateKbps = estimateBitrateKbps(stream.SizeBytes, req.Metadata.RuntimeMinutes)
	}
	return stream
}

// chosenIndex prefers the candidate's own file index hint over the
// user-level one. Zero is ambiguous with "unset", so only positive candidate
// indexes count.
func chosenIndex(req ProcessRequest, extras torrentExtras) int {
	if extras.fileIndex > 0 {
		return extras.fileIndex
	}
	return req.ChosenIndex
}

func absoluteEpisodes(meta *models.TitleMetadata) (absolute, relative int) {
	if meta == nil {
		return 0, 0
	}
	return meta.AbsoluteEpisode, meta.RelativeAbsoluteEpisode
}

// estimateBitrateKbps derives an average bitrate from size and runtime.
func estimateBitrateKbps(sizeBytes int64, runtimeMinutes int) int {
	if sizeBytes <= 0 || runtimeMinutes <= 0 {
		return 0
	}
	return int(sizeBytes * 8 / int64(runtimeMinutes) / 60 / 1000)
}

func mergeSlots(slots []serviceStreams) ([]*models.ParsedStream, []models.StreamError) {
	var streams []*models.ParsedStream
	var errs []models.StreamError
	for _, slot := range slots {
		streams = append(streams, slot.streams...)
		if slot.err != nil {
			errs = append(errs, *slot.err)
		}
	}
	return streams, errs
}
