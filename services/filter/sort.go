package filter

import (
	"sort"
	"strings"

	"streamforge/models"
)

var defaultSortCriteria = []models.SortCriterion{
	{Key: "cached"},
	{Key: "resolution"},
	{Key: "size"},
}

var resolutionRank = map[string]int{
	"2160p": 6,
	"1440p": 5,
	"1080p": 4,
	"720p":  3,
	"576p":  2,
	"480p":  1,
}

var qualityRank = map[string]int{
	"bluray remux": 9,
	"remux":        9,
	"bluray":       8,
	"web-dl":       7,
	"web":          6,
	"webrip":       5,
	"hdtv":         4,
	"dvd":          3,
	"scr":          2,
	"cam":          1,
	"ts":           1,
	"tc":           1,
}

// Sort orders the streams by the user's criteria tuple, breaking remaining
// ties with the composite score. The sort is stable, so equal streams keep
// their merge order. Pin directives recorded during expression evaluation
// move streams to the head or tail after sorting.
func (p *Pipeline) Sort(streams []*models.ParsedStream) []*models.ParsedStream {
	criteria := p.user.SortCriteria
	if len(criteria) == 0 {
		criteria = defaultSortCriteria
	}

	scores := make(map[*models.ParsedStream]int, len(streams))
	for _, s := range streams {
		scores[s] = p.Score(s)
	}

	sort.SliceStable(streams, func(i, j int) bool {
		a, b := streams[i], streams[j]
		for _, c := range criteria {
			va, vb := sortValue(c.Key, a, b, scores)
			if va == vb {
				continue
			}
			if c.Ascending {
				return va < vb
			}
			return va > vb
		}
		return scores[a] > scores[b]
	})

	var top, middle, bottom []*models.ParsedStream
	for _, s := range streams {
		switch where, _ := p.sel.pinFor(s.ID); where {
		case PinTop:
			top = append(top, s)
		case PinBottom:
			bottom = append(bottom, s)
		default:
			middle = append(middle, s)
		}
	}
	return append(append(top, middle...), bottom...)
}

func sortValue(key string, a, b *models.ParsedStream, scores map[*models.ParsedStream]int) (int64, int64) {
	switch key {
	case "resolution":
		return int64(resolutionRank[strings.ToLower(a.Resolution())]), int64(resolutionRank[strings.ToLower(b.Resolution())])
	case "quality":
		return int64(qualityRank[strings.ToLower(a.Quality())]), int64(qualityRank[strings.ToLower(b.Quality())])
	case "size":
		return streamSize(a), streamSize(b)
	case "seeders":
		return int64(a.Seeders), int64(b.Seeders)
	case "cached":
		return boolRank(a.Cached()), boolRank(b.Cached())
	case "library":
		return boolRank(a.Service != nil && a.Service.Library), boolRank(b.Service != nil && b.Service.Library)
	case "age":
		return int64(a.AgeHours), int64(b.AgeHours)
	case "bitrate":
		return int64(a.BitrateKbps), int64(b.BitrateKbps)
	case "score":
		return int64(scores[a]), int64(scores[b])
	default:
		return 0, 0
	}
}

func streamSize(s *models.ParsedStream) int64 {
	if s.SizeBytes > 0 {
		return s.SizeBytes
	}
	return s.FolderSize
}

func boolRank(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
