package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"
	"gopkg.in/natefinch/lumberjack.v2"

	"streamforge/api"
	"streamforge/config"
	"streamforge/handlers"
	"streamforge/internal/cache"
	"streamforge/internal/lock"
	"streamforge/models"
	"streamforge/services/anime"
	"streamforge/services/debrid"
	"streamforge/services/metadata"
	"streamforge/services/stream"
)

func main() {
	portOverride := flag.Int("port", 0, "override server port from config")
	flag.Parse()

	configPath := os.Getenv("STREAMFORGE_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("cache", "settings.json")
	}

	cfgManager := config.NewManager(configPath)
	settings, err := cfgManager.Load()
	if err != nil {
		log.Fatalf("failed to load settings: %v", err)
	}

	// Set up file logging with rotation
	if settings.Log.File != "" {
		logDir := filepath.Dir(settings.Log.File)
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			log.Printf("Warning: could not create log directory %s: %v", logDir, err)
		} else {
			fileWriter := &lumberjack.Logger{
				Filename:   settings.Log.File,
				MaxSize:    settings.Log.MaxSize,
				MaxBackups: settings.Log.MaxBackups,
				MaxAge:     settings.Log.MaxAge,
				Compress:   settings.Log.Compress,
			}
			log.SetOutput(io.MultiWriter(os.Stdout, fileWriter))
			log.SetFlags(log.LstdFlags | log.Lshortfile)
			log.Printf("Logging to file: %s", settings.Log.File)
		}
	}

	if *portOverride > 0 {
		settings.Server.Port = *portOverride
	}

	cacheTTL := time.Duration(settings.Metadata.TTLHours) * time.Hour

	// Cache and lock backends: redis when configured so multiple instances
	// share entries, sqlite for a persistent single node, memory otherwise.
	var store cache.Cache
	var locks lock.Manager
	switch {
	case settings.Cache.RedisURL != "":
		opt, err := redis.ParseURL(settings.Cache.RedisURL)
		if err != nil {
			log.Fatalf("failed to parse redis url: %v", err)
		}
		redisStore, err := cache.NewRedis(context.Background(), opt.Addr, opt.Password, opt.DB, "streamforge", cacheTTL)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer redisStore.Close()
		store = redisStore
		locks = lock.NewRedis(redis.NewClient(opt), "streamforge")
		log.Printf("[main] cache backend: redis %s", opt.Addr)
	case settings.Cache.SQLitePath != "":
		sqliteStore, err := cache.NewSQLite(settings.Cache.SQLitePath, cacheTTL)
		if err != nil {
			log.Fatalf("failed to open cache database: %v", err)
		}
		defer sqliteStore.Close()
		store = sqliteStore
		locks = lock.NewLocal()
		log.Printf("[main] cache backend: sqlite %s", settings.Cache.SQLitePath)
	default:
		store = cache.NewMemory(cacheTTL)
		locks = lock.NewLocal()
		log.Printf("[main] cache backend: memory")
	}

	// Anime id mappings drive anime detection, absolute episode numbering
	// and kitsu resolution; without the file those lookups answer nothing.
	var animeDB *anime.Service
	if settings.Metadata.AnimeMappingPath != "" {
		animeDB = anime.NewService()
		if err := animeDB.Load(afero.NewOsFs(), settings.Metadata.AnimeMappingPath); err != nil {
			log.Printf("warning: anime mappings unavailable: %v", err)
			animeDB = nil
		}
	} else {
		log.Printf("warning: no anime mapping file configured; anime detection disabled")
	}

	metadataService := metadata.NewService(metadata.Config{
		TMDBAPIKey:    settings.Metadata.TMDBAPIKey,
		TMDBLanguage:  settings.Metadata.Language,
		TVDBAPIKey:    settings.Metadata.TVDBAPIKey,
		TraktClientID: settings.Metadata.TraktAPIKey,
		CacheTTL:      cacheTTL,
	}, animeDB, store, locks)

	adapters := newAdapterFactory(settings, store, locks)

	var sources []stream.Source
	for _, addon := range settings.Addons {
		sources = append(sources, stream.NewAddonSource(addon.ID, addon.URL, nil))
	}
	if len(sources) == 0 {
		log.Printf("warning: no upstream addons configured; stream requests will return no candidates")
	}

	streamService := stream.NewService(metadataService, stream.Options{
		Sources:                sources,
		Adapters:               adapters,
		ExcludePrivateTrackers: settings.Debrid.ExcludePrivateTrackers,
	})

	r := mux.NewRouter()
	streamHandler := handlers.NewStreamHandler(streamService, settings.Limits, settings.Proxy)
	playbackHandler := handlers.NewPlaybackHandler(adapters)
	api.Register(r, streamHandler, playbackHandler)

	addr := fmt.Sprintf("%s:%d", settings.Server.Host, settings.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Printf("[main] server starting on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-shutdownChan
	log.Println("[main] shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	log.Println("[main] shutdown complete")
}

// newAdapterFactory maps a user-declared service onto its adapter. The
// streamdav id routes to the SABnzbd/WebDAV variant when that backend is
// enabled; every other id goes through the multi-store backend, with the
// user's credential as the store token.
func newAdapterFactory(settings config.Settings, store cache.Cache, locks lock.Manager) stream.AdapterFactory {
	return func(cfg models.ServiceConfig) (debrid.Adapter, error) {
		if dav := settings.StreamDAV; dav != nil && dav.Enabled && cfg.ID == "streamdav" {
			return debrid.NewStreamDAVClient(debrid.StreamDAVConfig{
				ID:                    cfg.ID,
				SABnzbdURL:            dav.SABnzbdURL,
				APIKey:                dav.APIKey,
				WebDAVURL:             dav.WebDAVURL,
				WebDAVUser:            dav.WebDAVUser,
				WebDAVPassword:        dav.WebDAVPassword,
				PathPrefix:            dav.PathPrefix,
				Store:                 store,
				Locks:                 locks,
				LibraryTTL:            settings.Debrid.LibraryCacheTTL.Std(),
				LibraryStaleThreshold: settings.Debrid.LibraryStaleThreshold.Std(),
				LinkTTL:               settings.Debrid.PlaybackLinkCacheTTL.Std(),
				ResolveErrorTTL:       settings.Debrid.ResolveErrorCacheTTL.Std(),
			}), nil
		}
		if settings.Debrid.StoreURL == "" {
			return nil, fmt.Errorf("service %q: no store URL configured", cfg.ID)
		}
		return debrid.NewStoreClient(debrid.StoreClientConfig{
			ID:                    cfg.ID,
			BaseURL:               settings.Debrid.StoreURL,
			Token:                 cfg.Credential,
			Store:                 store,
			Locks:                 locks,
			LibraryTTL:            settings.Debrid.LibraryCacheTTL.Std(),
			LibraryStaleThreshold: settings.Debrid.LibraryStaleThreshold.Std(),
			AvailabilityTTL:       settings.Debrid.AvailabilityCacheTTL.Std(),
			LinkTTL:               settings.Debrid.PlaybackLinkCacheTTL.Std(),
			ResolveErrorTTL:       settings.Debrid.ResolveErrorCacheTTL.Std(),
			PageSize:              settings.Debrid.LibraryPageSize,
			PageLimit:             settings.Debrid.LibraryPageLimit,
		}), nil
	}
}
