// Package stream orchestrates one stream request end to end: parse the
// content ID, start the metadata fetches, gather candidates from the search
// sources, dispatch them across the debrid services, then filter, rank,
// sort, dedupe and limit the merged result.
package stream

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"

	"streamforge/models"
	"streamforge/services/debrid"
	"streamforge/services/filter"
	"streamforge/services/reqctx"
	"streamforge/utils/titleparse"
)

const defaultSourceTimeout = 15 * time.Second

// Source is one upstream search addon producing candidates for a request.
// Implementations return whichever candidate kind they index; the other
// slice is nil.
type Source interface {
	ID() string
	Fetch(ctx context.Context, rc *reqctx.Context) ([]models.CandidateTorrent, []models.CandidateNZB, error)
}

// AdapterFactory builds the debrid adapter for one configured service.
type AdapterFactory func(cfg models.ServiceConfig) (debrid.Adapter, error)

// Options configures the orchestrator.
type Options struct {
	Sources                []Source
	Adapters               AdapterFactory
	SourceTimeout          time.Duration
	ExcludePrivateTrackers bool
}

// Service is the stream orchestrator.
type Service struct {
	metadata reqctx.MetadataProvider
	parser   *titleparse.Parser
	opts     Options
}

// NewService builds the orchestrator over the given metadata provider.
func NewService(metadata reqctx.MetadataProvider, opts Options) *Service {
	if opts.SourceTimeout <= 0 {
		opts.SourceTimeout = defaultSourceTimeout
	}
	return &Service{metadata: metadata, parser: titleparse.NewParser(), opts: opts}
}

// Get resolves one stream request. Per-source and per-service failures are
// carried in the result; only an unparseable ID fails the request outright.
func (s *Service) Get(ctx context.Context, mediaType models.MediaType, rawID string, user *models.UserData, clientIP string) (*models.StreamList, error) {
	id, err := models.ParseContentID(rawID)
	if err != nil {
		return nil, fmt.Errorf("parse content id %q: %w", rawID, err)
	}

	rc := reqctx.New(mediaType, id, user, s.metadata)
	rc.StartAllFetches(ctx)

	torrents, nzbs, errs := s.fetchCandidates(ctx, rc)

	meta, err := rc.AwaitMetadata(ctx)
	if err != nil {
		errs = append(errs, streamErrorFrom("", "metadata", err))
	}

	streams, serviceErrs := s.dispatch(ctx, rc, meta, torrents, nzbs, clientIP)
	errs = append(errs, serviceErrs...)
	streams = append(streams, s.p2pFallback(torrents, streams, meta)...)

	best, err := rc.AwaitBestRelease(ctx)
	if err != nil {
		errs = append(errs, streamErrorFrom("", "best release", err))
	}
	annotateBestRelease(streams, best)

	releaseDates, err := rc.AwaitReleaseDates(ctx)
	if err != nil {
		errs = append(errs, streamErrorFrom("", "release dates", err))
	}
	episode, err := rc.AwaitEpisodeDetails(ctx)
	if err != nil {
		errs = append(errs, streamErrorFrom("", "episode details", err))
	}

	pipeline := filter.New(rc.UserData)
	req := filter.Request{
		MediaType:      mediaType,
		ID:             id,
		Metadata:       meta,
		ReleaseDates:   releaseDates,
		EpisodeDetails: episode,
		IsAnime:        rc.IsAnime(),
	}
	kept := pipeline.Apply(streams, req)
	pipeline.Precompute(kept)
	kept = pipeline.Sort(kept)
	kept = pipeline.Dedupe(kept)
	kept = pipeline.Limit(kept)

	if rc.UserData.StatisticsEnabled {
		kept = append(kept, pipeline.Diagnostics()...)
	}
	if rc.UserData.ErrorStreamsEnabled {
		kept = append(kept, errorStreams(errs)...)
	}

	log.Printf("[stream] %s %s: %d streams, %d errors", mediaType, id.String(), len(kept), len(errs))
	return &models.StreamList{Streams: kept, Errors: errs}, nil
}

type sourceResult struct {
	torrents []models.CandidateTorrent
	nzbs     []models.CandidateNZB
	err      *models.StreamError
}

// fetchCandidates runs every source in parallel under the per-source
// deadline. Results concatenate in configured source order.
func (s *Service) fetchCandidates(ctx context.Context, rc *reqctx.Context) ([]models.CandidateTorrent, []models.CandidateNZB, []models.StreamError) {
	slots := make([]sourceResult, len(s.opts.Sources))
	var wg conc.WaitGroup
	for i, source := range s.opts.Sources {
		i, source := i, source
		wg.Go(func() {
			fetchCtx, cancel := context.WithTimeout(ctx, s.opts.SourceTimeout)
			defer cancel()
			torrents, nzbs, err := source.Fetch(fetchCtx, rc)
			if err != nil {
				log.Printf("[stream] source %s failed: %v", source.ID(), err)
				slots[i] = sourceResult{err: &models.StreamError{AddonID: source.ID(), Message: debrid.AsError(err).Error()}}
				return
			}
			for j := range torrents {
				torrents[j].AddonID = orDefault(torrents[j].AddonID, source.ID())
				torrents[j].Indexer = orDefault(torrents[j].Indexer, source.ID())
			}
			for j := range nzbs {
				nzbs[j].AddonID = orDefault(nzbs[j].AddonID, source.ID())
				nzbs[j].Indexer = orDefault(nzbs[j].Indexer, source.ID())
			}
			slots[i] = sourceResult{torrents: torrents, nzbs: nzbs}
		})
	}
	wg.Wait()

	var torrents []models.CandidateTorrent
	var nzbs []models.CandidateNZB
	var errs []models.StreamError
	for _, slot := range slots {
		torrents = append(torrents, slot.torrents...)
		nzbs = append(nzbs, slot.nzbs...)
		if slot.err != nil {
			errs = append(errs, *slot.err)
		}
	}
	return torrents, nzbs, errs
}

func (s *Service) dispatch(ctx context.Context, rc *reqctx.Context, meta *models.TitleMetadata, torrents []models.CandidateTorrent, nzbs []models.CandidateNZB, clientIP string) ([]*models.ParsedStream, []models.StreamError) {
	var adapters []debrid.Adapter
	var errs []models.StreamError
	for _, cfg := range rc.UserData.EnabledServices() {
		adapter, err := s.opts.Adapters(cfg)
		if err != nil {
			errs = append(errs, models.StreamError{ServiceID: cfg.ID, Message: err.Error()})
			continue
		}
		adapters = append(adapters, adapter)
	}
	if len(adapters) == 0 {
		return nil, errs
	}

	req := debrid.ProcessRequest{
		ID:                   rc.ID,
		Metadata:             meta,
		SeasonYear:           seasonYear(meta, rc.ID.Season),
		ClientIP:             clientIP,
		CheckOwned:           true,
		SkipFileEpisodeCheck: rc.UserData.SkipFileEpisodeCheck,
		ChosenIndex:          chosenIndex(rc.UserData),
		ChosenFilename:       rc.UserData.ChosenFilename,
	}
	if rc.UserData.TitleMatch.Enabled {
		req.TitleMatchThreshold = rc.UserData.TitleMatch.Threshold
	}

	processor := debrid.NewProcessor(adapters, s.opts.ExcludePrivateTrackers)
	streams, torrentErrs := processor.ProcessTorrents(ctx, torrents, req)
	errs = append(errs, torrentErrs...)
	nzbStreams, nzbErrs := processor.ProcessNzbs(ctx, nzbs, req)
	streams = append(streams, nzbStreams...)
	errs = append(errs, nzbErrs...)
	return streams, errs
}

// p2pFallback emits torrent candidates no service produced a stream for as
// plain p2p streams, so they stay playable through the swarm and reachable
// by the p2p-keyed seeder and age ranges. Placeholder hashes stay out: there
// is nothing to hand a torrent client.
func (s *Service) p2pFallback(candidates []models.CandidateTorrent, matched []*models.ParsedStream, meta *models.TitleMetadata) []*models.ParsedStream {
	covered := make(map[string]struct{}, len(matched))
	for _, m := range matched {
		if m.InfoHash != "" {
			covered[strings.ToLower(m.InfoHash)] = struct{}{}
		}
	}

	var out []*models.ParsedStream
	for _, c := range candidates {
		hash := strings.ToLower(c.Hash)
		if hash == "" || c.PlaceholderHash {
			continue
		}
		if _, ok := covered[hash]; ok {
			continue
		}
		if s.opts.ExcludePrivateTrackers && c.Private {
			continue
		}
		covered[hash] = struct{}{}

		var parsed models.ParsedTitle
		if c.Parsed != nil {
			parsed = *c.Parsed
		} else {
			parsed = s.parser.Parse(c.Title)
		}
		stream := &models.ParsedStream{
			ID:         "p2p:" + hash,
			Type:       models.StreamTypeP2P,
			Parsed:     &parsed,
			Filename:   c.Title,
			FolderName: c.Title,
			SizeBytes:  c.SizeBytes,
			AddonID:    c.AddonID,
			Indexer:    c.Indexer,
			AgeHours:   c.AgeHours,
			Seeders:    c.Seeders,
			Languages:  parsed.Languages,
			InfoHash:   hash,
			FileIdx:    c.FileIndex,
			Sources:    c.TrackerSources,
		}
		if meta != nil && meta.RuntimeMinutes > 0 && c.SizeBytes > 0 {
			stream.BitrateKbps = int(c.SizeBytes * 8 / int64(meta.RuntimeMinutes) / 60 / 1000)
		}
		out = append(out, stream)
	}
	return out
}

// annotateBestRelease tags streams whose hash or release group appears in
// the best-release set. Runs before filtering so the selector language can
// reference the tags.
func annotateBestRelease(streams []*models.ParsedStream, best *models.BestReleaseSet) {
	if best == nil {
		return
	}
	bestHashes := foldSet(best.BestHashes)
	allHashes := foldSet(best.AllHashes)
	bestGroups := foldSet(best.BestGroups)
	allGroups := foldSet(best.AllGroups)

	for _, s := range streams {
		hash := strings.ToLower(s.InfoHash)
		group := strings.ToLower(s.ReleaseGroup())
		info := models.SeadexInfo{}
		if _, ok := bestHashes[hash]; ok {
			info.IsBest, info.IsSeadex = true, true
		} else if _, ok := bestGroups[group]; ok {
			info.IsBest, info.IsSeadex = true, true
		} else if _, ok := allHashes[hash]; ok {
			info.IsSeadex = true
		} else if _, ok := allGroups[group]; ok {
			info.IsSeadex = true
		}
		if info.IsSeadex {
			s.Seadex = &info
		}
	}
}

// seasonYear resolves the release year of the requested season, which the
// file selector scores against. Only the first season's year is derivable
// from the series air date.
func seasonYear(meta *models.TitleMetadata, season int) int {
	if meta == nil || season != 1 || meta.FirstAired == "" {
		return 0
	}
	aired, err := time.Parse("2006-01-02", meta.FirstAired)
	if err != nil {
		return 0
	}
	return aired.Year()
}

// chosenIndex maps the user-data hint onto the processor convention of -1
// for unset. Zero is indistinguishable from absent in the JSON form, so
// index hints start at 1 there.
func chosenIndex(user *models.UserData) int {
	if user.ChosenIndex > 0 {
		return user.ChosenIndex
	}
	return -1
}

func errorStreams(errs []models.StreamError) []*models.ParsedStream {
	out := make([]*models.ParsedStream, 0, len(errs))
	for _, e := range errs {
		origin := e.ServiceID
		if origin == "" {
			origin = e.AddonID
		}
		out = append(out, &models.ParsedStream{
			ID:          "error:" + origin + ":" + uuid.NewString(),
			Type:        models.StreamTypeError,
			Message:     e.Message,
			Passthrough: []string{filter.StageLimit},
		})
	}
	return out
}

func streamErrorFrom(serviceID, what string, err error) models.StreamError {
	return models.StreamError{
		ServiceID: serviceID,
		Message:   fmt.Sprintf("%s: %s", what, debrid.AsError(err).Error()),
	}
}

func foldSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[strings.ToLower(v)] = struct{}{}
	}
	return set
}

func orDefault(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
