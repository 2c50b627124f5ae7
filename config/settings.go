// Package config loads and persists the application settings: a JSON file
// with defaults and backfills, plus environment-variable overrides for the
// operational knobs.
package config

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Settings represents the application configuration persisted to disk.
type Settings struct {
	Server    ServerSettings     `json:"server"`
	Metadata  MetadataSettings   `json:"metadata"`
	Cache     CacheSettings      `json:"cache"`
	Addons    []AddonSettings    `json:"addons,omitempty"`
	Debrid    DebridSettings     `json:"debrid"`
	StreamDAV *StreamDAVSettings `json:"streamdav,omitempty"`
	Limits    LimitSettings      `json:"limits"`
	Proxy     ProxySettings      `json:"proxy"`
	Log       LogConfig          `json:"log"`
}

// AddonSettings names one upstream stream addon to query for candidates.
type AddonSettings struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type ServerSettings struct {
	Host    string `json:"host"`
	Port    int    `json:"port"`
	BaseURL string `json:"baseUrl,omitempty"`
}

type MetadataSettings struct {
	TMDBAPIKey  string `json:"tmdbApiKey"`
	TVDBAPIKey  string `json:"tvdbApiKey"`
	TraktAPIKey string `json:"traktApiKey,omitempty"`
	Language    string `json:"language"`
	TTLHours    int    `json:"ttlHours"`
	// AnimeMappingPath points at the anime ID mapping JSON file. Anime
	// detection, absolute episode numbering and kitsu resolution all need
	// it; empty leaves those lookups answering nothing.
	AnimeMappingPath string `json:"animeMappingPath,omitempty"`
}

// CacheSettings selects the cache and lock backends. An empty RedisURL keeps
// everything in-process; SQLitePath enables the persistent store for resolve
// links and availability entries.
type CacheSettings struct {
	Directory  string `json:"directory"`
	SQLitePath string `json:"sqlitePath,omitempty"`
	RedisURL   string `json:"redisUrl,omitempty"`
}

// DebridSettings holds the dispatcher and resolve tuning. Durations are
// JSON-encoded as Go duration strings ("15m", "90s").
type DebridSettings struct {
	StoreURL               string   `json:"storeUrl"`
	ExcludePrivateTrackers bool     `json:"excludePrivateTrackers"`
	LibraryCacheTTL        Duration `json:"libraryCacheTtl"`
	LibraryStaleThreshold  Duration `json:"libraryStaleThreshold"`
	LibraryPageSize        int      `json:"libraryPageSize"`
	LibraryPageLimit       int      `json:"libraryPageLimit"`
	AvailabilityCacheTTL   Duration `json:"availabilityCacheTtl"`
	PlaybackLinkCacheTTL   Duration `json:"playbackLinkCacheTtl"`
	PlaybackLinkValidity   Duration `json:"playbackLinkValidity"`
	ResolveErrorCacheTTL   Duration `json:"resolveErrorCacheTtl"`
}

// StreamDAVSettings configures the SABnzbd + WebDAV usenet service.
type StreamDAVSettings struct {
	Enabled        bool   `json:"enabled"`
	SABnzbdURL     string `json:"sabnzbdUrl"`
	APIKey         string `json:"apiKey"`
	WebDAVURL      string `json:"webdavUrl"`
	WebDAVUser     string `json:"webdavUser"`
	WebDAVPassword string `json:"webdavPassword"`
	PathPrefix     string `json:"pathPrefix,omitempty"`
}

// LimitSettings caps user-supplied configuration at ingestion.
type LimitSettings struct {
	MaxStreamExpressions          int `json:"maxStreamExpressions"`
	MaxStreamExpressionTotalChars int `json:"maxStreamExpressionTotalCharacters"`
	MaxKeywordFilters             int `json:"maxKeywordFilters"`
	MaxGroups                     int `json:"maxGroups"`
}

// ProxySettings forces or defaults a playback proxy for all users.
type ProxySettings struct {
	ForceEnabled    bool   `json:"forceEnabled"`
	ForceURL        string `json:"forceUrl,omitempty"`
	ForcePassword   string `json:"forcePassword,omitempty"`
	DefaultEnabled  bool   `json:"defaultEnabled"`
	DefaultURL      string `json:"defaultUrl,omitempty"`
	DefaultPassword string `json:"defaultPassword,omitempty"`
}

// LogConfig configures file logging with rotation.
type LogConfig struct {
	File       string `json:"file"`
	Level      string `json:"level"`
	MaxSize    int    `json:"maxSize"`
	MaxAge     int    `json:"maxAge"`
	MaxBackups int    `json:"maxBackups"`
	Compress   bool   `json:"compress"`
}

// Duration wraps time.Duration with Go duration-string JSON encoding.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// DefaultSettings returns sane defaults for a fresh install.
func DefaultSettings() Settings {
	return Settings{
		Server:   ServerSettings{Host: "0.0.0.0", Port: 7777},
		Metadata: MetadataSettings{Language: "en", TTLHours: 24},
		Cache:    CacheSettings{Directory: "cache", SQLitePath: "cache/streamforge.db"},
		Debrid: DebridSettings{
			LibraryCacheTTL:       Duration(15 * time.Minute),
			LibraryStaleThreshold: Duration(2 * time.Minute),
			LibraryPageSize:       500,
			LibraryPageLimit:      10,
			AvailabilityCacheTTL:  Duration(5 * time.Minute),
			PlaybackLinkCacheTTL:  Duration(20 * time.Minute),
			PlaybackLinkValidity:  Duration(20 * time.Minute),
			ResolveErrorCacheTTL:  Duration(time.Minute),
		},
		Limits: LimitSettings{
			MaxStreamExpressions:          50,
			MaxStreamExpressionTotalChars: 10000,
			MaxKeywordFilters:             200,
			MaxGroups:                     20,
		},
		Log: LogConfig{
			File:       "cache/logs/streamforge.log",
			Level:      "info",
			MaxSize:    50,
			MaxBackups: 3,
			MaxAge:     7,
			Compress:   true,
		},
	}
}

// Manager loads and persists settings to a JSON file.
type Manager struct {
	path string
}

func NewManager(configPath string) *Manager {
	return &Manager{path: configPath}
}

// EnsureDir ensures the parent directory exists.
func (m *Manager) EnsureDir() error {
	dir := filepath.Dir(m.path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// Load reads the settings file, creating it with defaults when missing, then
// applies backfills for fields older files predate and the environment
// overrides on top.
func (m *Manager) Load() (Settings, error) {
	if m.path == "" {
		return Settings{}, errors.New("config path not set")
	}
	if _, err := os.Stat(m.path); errors.Is(err, fs.ErrNotExist) {
		defaults := DefaultSettings()
		if err := m.Save(defaults); err != nil {
			return Settings{}, err
		}
		defaults.ApplyEnv()
		return defaults, nil
	}
	data, err := os.ReadFile(m.path)
	if err != nil {
		return Settings{}, err
	}

	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return Settings{}, err
	}

	defaults := DefaultSettings()
	if strings.TrimSpace(s.Server.Host) == "" {
		s.Server.Host = defaults.Server.Host
	}
	if s.Server.Port == 0 {
		s.Server.Port = defaults.Server.Port
	}
	if strings.TrimSpace(s.Metadata.Language) == "" {
		s.Metadata.Language = defaults.Metadata.Language
	}
	if s.Metadata.TTLHours == 0 {
		s.Metadata.TTLHours = defaults.Metadata.TTLHours
	}
	if strings.TrimSpace(s.Cache.Directory) == "" {
		s.Cache.Directory = defaults.Cache.Directory
	}
	if s.Debrid.LibraryCacheTTL == 0 {
		s.Debrid.LibraryCacheTTL = defaults.Debrid.LibraryCacheTTL
	}
	if s.Debrid.LibraryStaleThreshold == 0 {
		s.Debrid.LibraryStaleThreshold = defaults.Debrid.LibraryStaleThreshold
	}
	if s.Debrid.LibraryPageSize == 0 {
		s.Debrid.LibraryPageSize = defaults.Debrid.LibraryPageSize
	}
	if s.Debrid.LibraryPageLimit == 0 {
		s.Debrid.LibraryPageLimit = defaults.Debrid.LibraryPageLimit
	}
	if s.Debrid.AvailabilityCacheTTL == 0 {
		s.Debrid.AvailabilityCacheTTL = defaults.Debrid.AvailabilityCacheTTL
	}
	if s.Debrid.PlaybackLinkCacheTTL == 0 {
		s.Debrid.PlaybackLinkCacheTTL = defaults.Debrid.PlaybackLinkCacheTTL
	}
	if s.Debrid.PlaybackLinkValidity == 0 {
		s.Debrid.PlaybackLinkValidity = defaults.Debrid.PlaybackLinkValidity
	}
	if s.Debrid.ResolveErrorCacheTTL == 0 {
		s.Debrid.ResolveErrorCacheTTL = defaults.Debrid.ResolveErrorCacheTTL
	}
	if s.Limits.MaxStreamExpressions == 0 {
		s.Limits.MaxStreamExpressions = defaults.Limits.MaxStreamExpressions
	}
	if s.Limits.MaxStreamExpressionTotalChars == 0 {
		s.Limits.MaxStreamExpressionTotalChars = defaults.Limits.MaxStreamExpressionTotalChars
	}
	if s.Limits.MaxKeywordFilters == 0 {
		s.Limits.MaxKeywordFilters = defaults.Limits.MaxKeywordFilters
	}
	if s.Limits.MaxGroups == 0 {
		s.Limits.MaxGroups = defaults.Limits.MaxGroups
	}
	if strings.TrimSpace(s.Log.File) == "" {
		s.Log.File = defaults.Log.File
	}
	if s.Log.MaxSize == 0 {
		s.Log.MaxSize = defaults.Log.MaxSize
	}
	if s.Log.MaxBackups == 0 {
		s.Log.MaxBackups = defaults.Log.MaxBackups
	}
	if s.Log.MaxAge == 0 {
		s.Log.MaxAge = defaults.Log.MaxAge
	}

	s.ApplyEnv()
	return s, nil
}

// Save writes the provided settings to disk atomically.
func (m *Manager) Save(s Settings) error {
	if m.path == "" {
		return errors.New("config path not set")
	}
	if err := m.EnsureDir(); err != nil {
		return err
	}
	tmp := m.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, m.path)
}

// ApplyEnv overlays the environment knobs onto the loaded settings.
func (s *Settings) ApplyEnv() {
	envBool("DEBRID_EXCLUDE_PRIVATE_TRACKERS", &s.Debrid.ExcludePrivateTrackers)
	envDuration("LIBRARY_CACHE_TTL", &s.Debrid.LibraryCacheTTL)
	envDuration("LIBRARY_STALE_THRESHOLD", &s.Debrid.LibraryStaleThreshold)
	envInt("LIBRARY_PAGE_SIZE", &s.Debrid.LibraryPageSize)
	envInt("LIBRARY_PAGE_LIMIT", &s.Debrid.LibraryPageLimit)
	envDuration("AVAILABILITY_CACHE_TTL", &s.Debrid.AvailabilityCacheTTL)
	envDuration("PLAYBACK_LINK_CACHE_TTL", &s.Debrid.PlaybackLinkCacheTTL)
	envDuration("PLAYBACK_LINK_VALIDITY", &s.Debrid.PlaybackLinkValidity)
	envDuration("RESOLVE_ERROR_CACHE_TTL", &s.Debrid.ResolveErrorCacheTTL)

	envInt("MAX_STREAM_EXPRESSIONS", &s.Limits.MaxStreamExpressions)
	envInt("MAX_STREAM_EXPRESSIONS_TOTAL_CHARACTERS", &s.Limits.MaxStreamExpressionTotalChars)
	envInt("MAX_KEYWORD_FILTERS", &s.Limits.MaxKeywordFilters)
	envInt("MAX_GROUPS", &s.Limits.MaxGroups)

	envBool("FORCE_PROXY_ENABLED", &s.Proxy.ForceEnabled)
	envString("FORCE_PROXY_URL", &s.Proxy.ForceURL)
	envString("FORCE_PROXY_PASSWORD", &s.Proxy.ForcePassword)
	envBool("DEFAULT_PROXY_ENABLED", &s.Proxy.DefaultEnabled)
	envString("DEFAULT_PROXY_URL", &s.Proxy.DefaultURL)
	envString("DEFAULT_PROXY_PASSWORD", &s.Proxy.DefaultPassword)

	envString("REDIS_URL", &s.Cache.RedisURL)
	envString("TMDB_API_KEY", &s.Metadata.TMDBAPIKey)
	envString("TVDB_API_KEY", &s.Metadata.TVDBAPIKey)
	envString("ANIME_MAPPING_PATH", &s.Metadata.AnimeMappingPath)
}

func envString(name string, out *string) {
	if v, ok := os.LookupEnv(name); ok && strings.TrimSpace(v) != "" {
		*out = strings.TrimSpace(v)
	}
}

func envBool(name string, out *bool) {
	if v, ok := os.LookupEnv(name); ok {
		if parsed, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			*out = parsed
		}
	}
}

func envInt(name string, out *int) {
	if v, ok := os.LookupEnv(name); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*out = parsed
		}
	}
}

// envDuration accepts Go duration strings and, for compatibility with the
// older deployment scripts, bare second counts.
func envDuration(name string, out *Duration) {
	v, ok := os.LookupEnv(name)
	if !ok || strings.TrimSpace(v) == "" {
		return
	}
	v = strings.TrimSpace(v)
	if parsed, err := time.ParseDuration(v); err == nil {
		*out = Duration(parsed)
		return
	}
	if seconds, err := strconv.Atoi(v); err == nil {
		*out = Duration(time.Duration(seconds) * time.Second)
	}
}
