// Package anime holds the in-memory anime ID mapping database. Entries map
// between IMDB, TMDB, TVDB, AniList, MAL and Kitsu ids and carry the season
// offsets needed for absolute episode numbering.
package anime

import (
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"streamforge/models"
)

// Service answers id-mapping lookups. The database is loaded once and then
// read-only, so lookups need no locking.
type Service struct {
	byIMDB    map[string]*models.AnimeMapping
	byTMDB    map[int64]*models.AnimeMapping
	byTVDB    map[int64]*models.AnimeMapping
	byAniList map[int64]*models.AnimeMapping
	byMAL     map[int64]*models.AnimeMapping
	byKitsu   map[int64]*models.AnimeMapping
}

// NewService creates an empty mapping service.
func NewService() *Service {
	return &Service{
		byIMDB:    make(map[string]*models.AnimeMapping),
		byTMDB:    make(map[int64]*models.AnimeMapping),
		byTVDB:    make(map[int64]*models.AnimeMapping),
		byAniList: make(map[int64]*models.AnimeMapping),
		byMAL:     make(map[int64]*models.AnimeMapping),
		byKitsu:   make(map[int64]*models.AnimeMapping),
	}
}

// Load reads the mapping file at path and indexes every entry by all ids it
// carries. Later entries win on id collisions, matching the file order.
func (s *Service) Load(fs afero.Fs, path string) error {
	raw, err := afero.ReadFile(fs, path)
	if err != nil {
		return fmt.Errorf("read anime mapping file: %w", err)
	}

	var entries []models.AnimeMapping
	if err := json.Unmarshal(raw, &entries); err != nil {
		return fmt.Errorf("parse anime mapping file: %w", err)
	}

	s.AddAll(entries)
	log.Printf("[anime] loaded %d mappings from %s", len(entries), path)
	return nil
}

// AddAll indexes the given entries.
func (s *Service) AddAll(entries []models.AnimeMapping) {
	for i := range entries {
		entry := &entries[i]
		if entry.IMDBID != "" {
			s.byIMDB[strings.ToLower(entry.IMDBID)] = entry
		}
		if entry.TMDBID > 0 {
			s.byTMDB[entry.TMDBID] = entry
		}
		if entry.TVDBID > 0 {
			s.byTVDB[entry.TVDBID] = entry
		}
		if entry.AniListID > 0 {
			s.byAniList[entry.AniListID] = entry
		}
		if entry.MALID > 0 {
			s.byMAL[entry.MALID] = entry
		}
		if entry.KitsuID > 0 {
			s.byKitsu[entry.KitsuID] = entry
		}
	}
}

// Size returns the number of distinct indexed IMDB ids.
func (s *Service) Size() int {
	return len(s.byIMDB)
}

// Lookup resolves a ContentID to its anime mapping entry, if any.
func (s *Service) Lookup(id models.ContentID) (*models.AnimeMapping, bool) {
	switch id.Type {
	case models.IDTypeIMDB:
		entry, ok := s.byIMDB[strings.ToLower(id.Value)]
		return entry, ok
	case models.IDTypeTMDB:
		return s.lookupNumeric(s.byTMDB, id.Value)
	case models.IDTypeTVDB:
		return s.lookupNumeric(s.byTVDB, id.Value)
	case models.IDTypeAniList:
		return s.lookupNumeric(s.byAniList, id.Value)
	case models.IDTypeMAL:
		return s.lookupNumeric(s.byMAL, id.Value)
	case models.IDTypeKitsu:
		return s.lookupNumeric(s.byKitsu, id.Value)
	default:
		return nil, false
	}
}

func (s *Service) lookupNumeric(index map[int64]*models.AnimeMapping, value string) (*models.AnimeMapping, bool) {
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return nil, false
	}
	entry, ok := index[n]
	return entry, ok
}
