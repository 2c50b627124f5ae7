package models

// StreamType discriminates the stream variants the pipeline handles.
type StreamType string

const (
	StreamTypeDebrid   StreamType = "debrid"
	StreamTypeP2P      StreamType = "p2p"
	StreamTypeUsenet   StreamType = "usenet"
	StreamTypeHTTP     StreamType = "http"
	StreamTypeYouTube  StreamType = "youtube"
	StreamTypeLive     StreamType = "live"
	StreamTypeExternal StreamType = "external"
	StreamTypeInfo     StreamType = "info"
	StreamTypeError    StreamType = "error"
)

// ServiceAnnotation marks which debrid service produced a stream and how.
type ServiceAnnotation struct {
	ID      string `json:"id"`
	Cached  bool   `json:"cached"`
	Library bool   `json:"library"`
}

// FileRef identifies the selected file inside a multi-file download.
// Index is -1 when the container exposed no file list.
type FileRef struct {
	Name  string `json:"name,omitempty"`
	Size  int64  `json:"size,omitempty"`
	Index int    `json:"index"`
}

// SeadexInfo carries the best-release tags computed before filtering so the
// selector language can reference them.
type SeadexInfo struct {
	IsBest   bool `json:"isBest"`
	IsSeadex bool `json:"isSeadex"`
}

// ParsedStream is the per-request aggregation of one playable (or
// diagnostic) stream flowing through the filter pipeline. Fields are set
// once during merge and treated as read-only afterwards, except the
// precompute annotations written by the ranking stage.
type ParsedStream struct {
	ID         string             `json:"id"`
	AddonID    string             `json:"addonId,omitempty"`
	Type       StreamType         `json:"type"`
	Service    *ServiceAnnotation `json:"service,omitempty"`
	Parsed     *ParsedTitle       `json:"parsed,omitempty"`
	Filename   string             `json:"filename,omitempty"`
	FolderName string             `json:"folderName,omitempty"`
	SizeBytes  int64              `json:"sizeBytes,omitempty"`
	FolderSize int64              `json:"folderSizeBytes,omitempty"`
	// BitrateKbps is computed from runtime and size when the indexer did
	// not report one.
	BitrateKbps int      `json:"bitrateKbps,omitempty"`
	Indexer     string   `json:"indexer,omitempty"`
	AgeHours    float64  `json:"ageHours,omitempty"`
	Seeders     int      `json:"seeders,omitempty"`
	Languages   []string `json:"languages,omitempty"`
	File        FileRef  `json:"file"`

	URL         string   `json:"url,omitempty"`
	ExternalURL string   `json:"externalUrl,omitempty"`
	InfoHash    string   `json:"infoHash,omitempty"`
	FileIdx     int      `json:"fileIdx,omitempty"`
	Sources     []string `json:"sources,omitempty"`

	// Message carries the human text for info/error pseudo-streams.
	Message string `json:"message,omitempty"`

	// Passthrough lists pipeline stage names this stream is exempt from.
	Passthrough []string    `json:"passthrough,omitempty"`
	Seadex      *SeadexInfo `json:"seadex,omitempty"`

	// Precompute annotations (written by the ranking stage).
	RankedRegexesMatched []string `json:"rankedRegexesMatched,omitempty"`
	RegexScore           int      `json:"regexScore,omitempty"`
	ExpressionScore      int      `json:"streamExpressionScore,omitempty"`
	RegexMatched         string   `json:"regexMatched,omitempty"`
	KeywordMatched       string   `json:"keywordMatched,omitempty"`
	ExpressionMatched    string   `json:"streamExpressionMatched,omitempty"`
}

// HasPassthrough reports whether the stream bypasses the named stage.
func (s *ParsedStream) HasPassthrough(stage string) bool {
	for _, tag := range s.Passthrough {
		if tag == stage {
			return true
		}
	}
	return false
}

// Resolution returns the parsed resolution or "Unknown".
func (s *ParsedStream) Resolution() string {
	if s.Parsed != nil && s.Parsed.Resolution != "" {
		return s.Parsed.Resolution
	}
	return UnknownBucket
}

// Quality returns the parsed source quality or "Unknown".
func (s *ParsedStream) Quality() string {
	if s.Parsed != nil && s.Parsed.Quality != "" {
		return s.Parsed.Quality
	}
	return UnknownBucket
}

// Encode returns the parsed encode or "Unknown".
func (s *ParsedStream) Encode() string {
	if s.Parsed != nil && s.Parsed.Encode != "" {
		return s.Parsed.Encode
	}
	return UnknownBucket
}

// ReleaseGroup returns the parsed release group or "Unknown".
func (s *ParsedStream) ReleaseGroup() string {
	if s.Parsed != nil && s.Parsed.ReleaseGroup != "" {
		return s.Parsed.ReleaseGroup
	}
	return UnknownBucket
}

// ServiceID returns the owning service ID or empty for service-less streams.
func (s *ParsedStream) ServiceID() string {
	if s.Service == nil {
		return ""
	}
	return s.Service.ID
}

// Cached reports whether a debrid service holds the item ready.
func (s *ParsedStream) Cached() bool {
	return s.Service != nil && s.Service.Cached
}

// UnknownBucket is the literal bucket absent enumeration fields fall into.
const UnknownBucket = "Unknown"

// StreamError records a per-service failure carried as data through the
// pipeline rather than aborting the request.
type StreamError struct {
	ServiceID string `json:"serviceId,omitempty"`
	AddonID   string `json:"addonId,omitempty"`
	Message   string `json:"message"`
}

// StreamList is the orchestrator result: ranked streams plus the errors
// collected along the way.
type StreamList struct {
	Streams []*ParsedStream `json:"streams"`
	Errors  []StreamError   `json:"errors,omitempty"`
}
