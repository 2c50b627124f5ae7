package debrid

import (
	"path/filepath"
	"regexp"
	"strings"

	"streamforge/models"
	"streamforge/utils/titlematch"
	"streamforge/utils/titleparse"
)

var videoExtensions = map[string]struct{}{
	".mkv": {}, ".mp4": {}, ".avi": {}, ".mov": {}, ".wmv": {}, ".flv": {},
	".webm": {}, ".m4v": {}, ".mpg": {}, ".mpeg": {}, ".ts": {}, ".m2ts": {},
	".vob": {}, ".ogv": {}, ".3gp": {}, ".divx": {},
}

// blockedExtensions lists non-media payloads that must never be selected,
// even when the mime type claims video.
var blockedExtensions = map[string]struct{}{
	".srt": {}, ".sub": {}, ".idx": {}, ".ass": {}, ".ssa": {}, ".vtt": {},
	".nfo": {}, ".txt": {}, ".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {},
	".zip": {}, ".rar": {}, ".7z": {}, ".exe": {}, ".iso": {}, ".sfv": {},
	".par2": {}, ".db": {}, ".url": {}, ".lnk": {}, ".html": {}, ".htm": {},
}

// IsVideoFile reports whether the file is playable media. The extension
// blocklist wins over the mime type.
func IsVideoFile(file models.DebridFile) bool {
	ext := strings.ToLower(filepath.Ext(file.Name))
	if _, blocked := blockedExtensions[ext]; blocked {
		return false
	}
	if strings.HasPrefix(strings.ToLower(file.MimeType), "video") {
		return true
	}
	_, ok := videoExtensions[ext]
	return ok
}

var (
	samplePattern     = regexp.MustCompile(`(?i)\b(sample|trailer|preview)\b`)
	animeExtraPattern = regexp.MustCompile(`(?i)\b(NCOP|NCED|OP\d*|ED\d*|Opening\d*|Ending\d*)\b`)
)

// SelectionRequest carries the request-side facts file scoring needs.
type SelectionRequest struct {
	Season                  int
	Episode                 int
	AbsoluteEpisode         int
	RelativeAbsoluteEpisode int
	Year                    int
	SeasonYear              int
	Titles                  []models.Alias

	ChosenIndex    int // -1 when the user expressed no preference
	ChosenFilename string

	SkipEpisodeCheck bool
}

// Selection is the outcome of picking one file inside a download.
type Selection struct {
	File   models.FileRef
	Parsed models.ParsedTitle
	// Reason is non-empty when no file could be selected.
	Reason string
}

// Episode scores, keyed by whether the file name carries season info and by
// the kind of number that matched. An exact file names one episode; a batch
// spans several.
var episodeScores = map[bool]map[string][2]int{
	false: {
		"regular":          {300, 100},
		"absolute":         {2000, 500},
		"relativeAbsolute": {1000, 300},
	},
	true: {
		"regular":          {750, 250},
		"absolute":         {200, 100},
		"relativeAbsolute": {150, 50},
	},
}

// SelectFile scores every video file in the download and returns the best
// one. A download with no file list yields a stub referencing the container
// itself rather than failing.
func SelectFile(download *models.DebridDownload, req SelectionRequest) Selection {
	if len(download.Files) == 0 {
		return Selection{File: models.FileRef{Name: download.Name, Size: download.Size, Index: -1}}
	}

	var maxSize int64
	for _, f := range download.Files {
		if f.Size > maxSize {
			maxSize = f.Size
		}
	}

	best := -1
	bestScore := 0
	var bestParsed models.ParsedTitle
	for i, file := range download.Files {
		if !IsVideoFile(file) {
			continue
		}
		parsed := titleparse.Parse(file.Name)
		score := scoreFile(file, parsed, req, maxSize)
		if best == -1 || score > bestScore {
			best, bestScore, bestParsed = i, score, parsed
		}
	}
	if best == -1 {
		return Selection{Reason: "no video file in download"}
	}

	selected := download.Files[best]
	if !req.SkipEpisodeCheck && req.Episode > 0 {
		if titlematch.IsEpisodeWrong(bestParsed, req.Episode, req.AbsoluteEpisode, req.RelativeAbsoluteEpisode) {
			return Selection{Reason: "selected file does not match the requested episode"}
		}
	}
	return Selection{
		File:   models.FileRef{Name: selected.Name, Size: selected.Size, Index: selected.Index},
		Parsed: bestParsed,
	}
}

func scoreFile(file models.DebridFile, parsed models.ParsedTitle, req SelectionRequest, maxSize int64) int {
	score := 1000

	if samplePattern.MatchString(file.Name) {
		score -= 500
	}
	if animeExtraPattern.MatchString(file.Name) {
		score -= 500
	}

	if req.Year > 0 && parsed.Year == req.Year {
		score += 500
	}
	if req.SeasonYear > 0 && parsed.Year == req.SeasonYear {
		score += 750
	}

	if req.Season > 0 {
		switch {
		case parsed.HasSeason(req.Season):
			score += 500
		case len(parsed.Seasons) > 0:
			score -= 2000
		default:
			score -= 500
		}
	}

	if req.Episode > 0 {
		score += episodeScore(parsed, req)
	}

	if len(req.Titles) > 0 && parsed.Title != "" {
		for _, variant := range titlematch.PreprocessTitle(parsed.Title, file.Name, req.Titles) {
			if titlematch.TitleMatch(variant, req.Titles, titlematch.DefaultThreshold, titlematch.ScorerPartial) {
				score += 100
				break
			}
		}
	}

	if maxSize > 0 && file.Size > 0 {
		score += int(50 * file.Size / maxSize)
	}

	if req.ChosenIndex >= 0 && file.Index == req.ChosenIndex {
		score += 25
	}
	if req.ChosenFilename != "" && strings.Contains(strings.ToLower(file.Name), strings.ToLower(req.ChosenFilename)) {
		score += 25
	}
	return score
}

// episodeScore applies the match table. Kinds are tried best-first so a file
// matching on several numberings keeps the highest award.
func episodeScore(parsed models.ParsedTitle, req SelectionRequest) int {
	if len(parsed.Episodes) == 0 {
		return -500
	}
	hasSeason := len(parsed.Seasons) > 0
	exact := len(parsed.Episodes) == 1
	table := episodeScores[hasSeason]

	bestScore := 0
	matched := false
	for kind, wanted := range map[string]int{
		"regular":          req.Episode,
		"absolute":         req.AbsoluteEpisode,
		"relativeAbsolute": req.RelativeAbsoluteEpisode,
	} {
		if wanted <= 0 || !parsed.HasEpisode(wanted) {
			continue
		}
		scores := table[kind]
		score := scores[1]
		if exact {
			score = scores[0]
		}
		if !matched || score > bestScore {
			bestScore, matched = score, true
		}
	}
	if !matched {
		return -500
	}
	return bestScore
}
