// Package debrid dispatches candidate torrents and NZBs across the user's
// configured debrid services, reconciles them with the account library, and
// resolves a selected file into a playable URL.
package debrid

import (
	"context"

	"streamforge/models"
)

// Capabilities declares which candidate kinds an adapter can handle.
type Capabilities struct {
	SupportsTorrents bool
	SupportsUsenet   bool
}

// CheckOptions tunes availability checks.
type CheckOptions struct {
	// StremioID scopes the check server-side when the backend supports it.
	StremioID string
	// CheckOwned cross-references the account library: library matches are
	// flagged, known-failed hashes are downgraded.
	CheckOwned bool
}

// NzbQuery identifies one usenet item for an availability check, by hash or
// by exact name.
type NzbQuery struct {
	Hash string
	Name string
}

// PlaybackInfo carries everything resolve needs to turn one candidate into a
// playable URL.
type PlaybackInfo struct {
	Hash      string
	MagnetURI string
	NZBURL    string
	Title     string
	Filename  string
	// FileIndex is the user-chosen file index, -1 when not specified.
	FileIndex int
	SizeBytes int64
	ClientIP  string

	Season                  int
	Episode                 int
	AbsoluteEpisode         int
	RelativeAbsoluteEpisode int
	SeasonYear              int
	Metadata                *models.TitleMetadata
}

// ResolveOptions tunes the resolve flow.
type ResolveOptions struct {
	// CacheAndPlay polls the backend until an uncached item becomes ready
	// instead of returning empty.
	CacheAndPlay bool
	// AutoRemove deletes the item from the account after a failed resolve.
	AutoRemove bool
	// SkipFileEpisodeCheck disables the post-selection episode re-assertion.
	SkipFileEpisodeCheck bool
}

// Adapter is the per-service debrid contract. Every method reports failures
// as *Error; a nil-able URL result distinguishes "not ready yet" from error.
type Adapter interface {
	ID() string
	Capabilities() Capabilities

	// ListMagnets and ListNzbs return the account library, served through a
	// stale-while-revalidate cache keyed per service and user token.
	ListMagnets(ctx context.Context) ([]models.DebridDownload, error)
	ListNzbs(ctx context.Context) ([]models.DebridDownload, error)

	// CheckMagnets reports instant availability per hash. Input hashes are
	// batched internally; the result map is keyed by lowercase hash.
	CheckMagnets(ctx context.Context, hashes []string, opts CheckOptions) (map[string]*models.DebridDownload, error)
	CheckNzbs(ctx context.Context, queries []NzbQuery, opts CheckOptions) (map[string]*models.DebridDownload, error)

	AddMagnet(ctx context.Context, magnetURI string) (*models.DebridDownload, error)
	AddNzb(ctx context.Context, nzbURL, name string) (*models.DebridDownload, error)

	GetMagnet(ctx context.Context, id string) (*models.DebridDownload, error)
	GetNzb(ctx context.Context, id string) (*models.DebridDownload, error)

	RemoveMagnet(ctx context.Context, id string) error
	RemoveNzb(ctx context.Context, id string) error

	// Resolve produces a playable URL for the candidate, adding it to the
	// account when needed and selecting one file inside the download. An
	// empty URL with a nil error means the item is not ready and
	// CacheAndPlay was off.
	Resolve(ctx context.Context, info PlaybackInfo, opts ResolveOptions) (string, error)

	// RefreshLibraryCache drops the cached library listing so the next read
	// refetches.
	RefreshLibraryCache(ctx context.Context) error
}

// notImplemented is the stock answer for capability mismatches, e.g. NZB
// calls on a torrent-only adapter.
func notImplemented(op string) *Error {
	return NewError(CodeNotImplemented, op+" is not supported by this service")
}
