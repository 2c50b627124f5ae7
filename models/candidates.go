package models

// CandidateTorrent is a pre-resolution torrent produced by a search adapter.
// Either Hash holds a real 40-hex info hash (lowercase canonical) or
// PlaceholderHash is true and Hash is the SHA-1 of DownloadURL.
type CandidateTorrent struct {
	Hash            string       `json:"hash"`
	PlaceholderHash bool         `json:"placeholderHash,omitempty"`
	Title           string       `json:"title,omitempty"`
	SizeBytes       int64        `json:"sizeBytes,omitempty"`
	DownloadURL     string       `json:"downloadUrl,omitempty"`
	TrackerSources  []string     `json:"trackerSources,omitempty"`
	Private         bool         `json:"private,omitempty"`
	Library         bool         `json:"library,omitempty"`
	AddonID         string       `json:"addonId,omitempty"`
	Indexer         string       `json:"indexer,omitempty"`
	Seeders         int          `json:"seeders,omitempty"`
	AgeHours        float64      `json:"ageHours,omitempty"`
	FileIndex       int          `json:"fileIndex,omitempty"`
	Confirmed       bool         `json:"confirmed,omitempty"`
	Parsed          *ParsedTitle `json:"parsed,omitempty"`
}

// CandidateNZB is a pre-resolution usenet item. Hash is the MD5 of the
// cleaned NZB URL, or the upstream item identifier when one exists.
type CandidateNZB struct {
	Hash        string       `json:"hash"`
	NZBURL      string       `json:"nzbUrl,omitempty"`
	Title       string       `json:"title,omitempty"`
	SizeBytes   int64        `json:"sizeBytes,omitempty"`
	EasynewsURL string       `json:"easynewsUrl,omitempty"`
	Library     bool         `json:"library,omitempty"`
	AddonID     string       `json:"addonId,omitempty"`
	Indexer     string       `json:"indexer,omitempty"`
	AgeHours    float64      `json:"ageHours,omitempty"`
	Confirmed   bool         `json:"confirmed,omitempty"`
	Parsed      *ParsedTitle `json:"parsed,omitempty"`
}

// DownloadStatus is the debrid-side state of an added item.
type DownloadStatus string

const (
	StatusCached      DownloadStatus = "cached"
	StatusDownloaded  DownloadStatus = "downloaded"
	StatusDownloading DownloadStatus = "downloading"
	StatusQueued      DownloadStatus = "queued"
	StatusUploading   DownloadStatus = "uploading"
	StatusProcessing  DownloadStatus = "processing"
	StatusFailed      DownloadStatus = "failed"
	StatusInvalid     DownloadStatus = "invalid"
	StatusUnknown     DownloadStatus = "unknown"
)

// Terminal reports whether the status is a terminal negative state.
func (s DownloadStatus) Terminal() bool {
	return s == StatusFailed || s == StatusInvalid
}

// Ready reports whether the item can be played immediately.
func (s DownloadStatus) Ready() bool {
	return s == StatusCached || s == StatusDownloaded
}

// DebridFile is one file inside a debrid download.
type DebridFile struct {
	Index    int    `json:"index"`
	Name     string `json:"name,omitempty"`
	Size     int64  `json:"size"`
	Path     string `json:"path,omitempty"`
	Link     string `json:"link,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// DebridDownload is an item known to a debrid service, either from the
// user's library or from an availability check.
type DebridDownload struct {
	ID      string         `json:"id"`
	Hash    string         `json:"hash,omitempty"`
	Name    string         `json:"name,omitempty"`
	Status  DownloadStatus `json:"status"`
	Size    int64          `json:"size,omitempty"`
	Files   []DebridFile   `json:"files,omitempty"`
	Library bool           `json:"library,omitempty"`
	AddedAt string         `json:"addedAt,omitempty"`
}
