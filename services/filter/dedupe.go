package filter

import (
	"fmt"
	"strings"

	"streamforge/models"
)

// Dedupe removes later occurrences of the same release: streams are equal
// when they share an info hash, or when filename, size and service all
// match. Runs after sorting so the best-ranked copy survives.
func (p *Pipeline) Dedupe(streams []*models.ParsedStream) []*models.ParsedStream {
	seenHash := make(map[string]struct{})
	seenFile := make(map[string]struct{})

	kept := streams[:0]
	for _, s := range streams {
		hashKey := strings.ToLower(s.InfoHash)
		fileKey := ""
		if s.Filename != "" {
			fileKey = fmt.Sprintf("%s|%d|%s", strings.ToLower(s.Filename), streamSize(s), s.ServiceID())
		}

		duplicate := false
		if hashKey != "" {
			_, duplicate = seenHash[hashKey]
		}
		if !duplicate && fileKey != "" {
			_, duplicate = seenFile[fileKey]
		}
		if duplicate {
			p.drop("duplicate stream")
			continue
		}
		if hashKey != "" {
			seenHash[hashKey] = struct{}{}
		}
		if fileKey != "" {
			seenFile[fileKey] = struct{}{}
		}
		kept = append(kept, s)
	}
	return kept
}

// Limit applies the result-count caps. In independent mode every enabled cap
// counts on its own key and any hit drops the stream; in conjunctive mode a
// single counter keyed by the tuple of enabled categories is capped at the
// smallest enabled cap. Streams tagged "limit" are exempt.
func (p *Pipeline) Limit(streams []*models.ParsedStream) []*models.ParsedStream {
	limits := p.user.Limits

	type category struct {
		cap int
		key func(*models.ParsedStream) string
	}
	categories := []category{
		{limits.Global, func(*models.ParsedStream) string { return "" }},
		{limits.Indexer, func(s *models.ParsedStream) string { return strings.ToLower(s.Indexer) }},
		{limits.ReleaseGroup, func(s *models.ParsedStream) string { return strings.ToLower(s.ReleaseGroup()) }},
		{limits.Resolution, func(s *models.ParsedStream) string { return strings.ToLower(s.Resolution()) }},
		{limits.Quality, func(s *models.ParsedStream) string { return strings.ToLower(s.Quality()) }},
		{limits.Addon, func(s *models.ParsedStream) string { return strings.ToLower(s.AddonID) }},
		{limits.StreamType, func(s *models.ParsedStream) string { return string(s.Type) }},
		{limits.Service, func(s *models.ParsedStream) string { return strings.ToLower(s.ServiceID()) }},
	}

	var enabled []category
	for _, c := range categories {
		if c.cap > 0 {
			enabled = append(enabled, c)
		}
	}
	if len(enabled) == 0 {
		return streams
	}

	if limits.Conjunctive {
		minCap := enabled[0].cap
		for _, c := range enabled[1:] {
			if c.cap < minCap {
				minCap = c.cap
			}
		}
		counts := make(map[string]int)
		kept := streams[:0]
		for _, s := range streams {
			if s.HasPassthrough(StageLimit) {
				kept = append(kept, s)
				continue
			}
			parts := make([]string, len(enabled))
			for i, c := range enabled {
				parts[i] = c.key(s)
			}
			key := strings.Join(parts, "|")
			counts[key]++
			if counts[key] > minCap {
				p.drop("result limit")
				continue
			}
			kept = append(kept, s)
		}
		return kept
	}

	counters := make([]map[string]int, len(enabled))
	for i := range counters {
		counters[i] = make(map[string]int)
	}
	kept := streams[:0]
	for _, s := range streams {
		if s.HasPassthrough(StageLimit) {
			kept = append(kept, s)
			continue
		}
		over := false
		for i, c := range enabled {
			if counters[i][c.key(s)] >= c.cap {
				over = true
				break
			}
		}
		if over {
			p.drop("result limit")
			continue
		}
		for i, c := range enabled {
			counters[i][c.key(s)]++
		}
		kept = append(kept, s)
	}
	return kept
}
