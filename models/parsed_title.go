package models

// ParsedTitle is the structured descriptor extracted from a release or file
// name. Produced by utils/titleparse; deterministic for a given input.
type ParsedTitle struct {
	Title         string   `json:"title"`
	Year          int      `json:"year,omitempty"`
	Seasons       []int    `json:"seasons,omitempty"`
	Episodes      []int    `json:"episodes,omitempty"`
	Resolution    string   `json:"resolution,omitempty"`
	Quality       string   `json:"quality,omitempty"` // source quality: BluRay, WEB-DL, CAM, ...
	Encode        string   `json:"encode,omitempty"`  // video encode: x264, x265, AV1, ...
	VisualTags    []string `json:"visualTags,omitempty"`
	AudioTags     []string `json:"audioTags,omitempty"`
	AudioChannels []string `json:"audioChannels,omitempty"`
	Languages     []string `json:"languages,omitempty"`
	ReleaseGroup  string   `json:"releaseGroup,omitempty"`
	Container     string   `json:"container,omitempty"`
	BitDepth      string   `json:"bitDepth,omitempty"`
	Extended      bool     `json:"extended,omitempty"`
	Proper        bool     `json:"proper,omitempty"`
	Repack        bool     `json:"repack,omitempty"`
	Complete      bool     `json:"complete,omitempty"`
}

// IsSeasonPack reports whether the name describes a multi-episode pack:
// seasons present without specific episodes, or a complete-series marker.
func (p ParsedTitle) IsSeasonPack() bool {
	if p.Complete {
		return true
	}
	return len(p.Seasons) > 0 && len(p.Episodes) == 0
}

// HasSeason reports whether the given season number is listed.
func (p ParsedTitle) HasSeason(season int) bool {
	for _, s := range p.Seasons {
		if s == season {
			return true
		}
	}
	return false
}

// HasEpisode reports whether the given episode number is listed.
func (p ParsedTitle) HasEpisode(episode int) bool {
	for _, e := range p.Episodes {
		if e == episode {
			return true
		}
	}
	return false
}
