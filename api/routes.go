package api

import (
	"net/http"
	"net/http/pprof"
	"runtime"
	"strconv"

	"github.com/gorilla/mux"

	"streamforge/handlers"
)

func itoa(i int) string      { return strconv.Itoa(i) }
func itoa64(i uint64) string { return strconv.FormatUint(i, 10) }

// localhostOnlyMiddleware restricts access to localhost requests only
func localhostOnlyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		for i := len(host) - 1; i >= 0; i-- {
			if host[i] == ':' {
				host = host[:i]
				break
			}
		}
		if host != "localhost" && host != "127.0.0.1" && host != "::1" {
			http.Error(w, "Debug endpoints only accessible from localhost", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware handles CORS for API routes
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Register mounts the endpoints onto the provided router.
func Register(r *mux.Router, streamHandler *handlers.StreamHandler, playbackHandler *handlers.PlaybackHandler) {
	r.Use(corsMiddleware)

	// Stream listing, with and without the user-data segment.
	r.HandleFunc("/stream/{type}/{id}", streamHandler.GetStreams).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/u/{userData}/stream/{type}/{id}", streamHandler.GetStreams).Methods(http.MethodGet, http.MethodOptions)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/debrid/playback/{storeAuth}/{fileInfo}/{metadataId}/{filename}", playbackHandler.Redirect).
		Methods(http.MethodGet, http.MethodHead, http.MethodOptions)
	api.HandleFunc("/debrid/library/{storeAuth}/refresh", playbackHandler.RefreshLibrary).
		Methods(http.MethodPost, http.MethodOptions)

	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods(http.MethodGet)

	// Pprof debug endpoints for profiling (localhost only). Read-only and
	// essential for diagnosing production issues.
	pprofRouter := r.PathPrefix("/debug/pprof").Subrouter()
	pprofRouter.Use(localhostOnlyMiddleware)
	pprofRouter.HandleFunc("/", pprof.Index)
	pprofRouter.HandleFunc("/cmdline", pprof.Cmdline)
	pprofRouter.HandleFunc("/profile", pprof.Profile)
	pprofRouter.HandleFunc("/symbol", pprof.Symbol)
	pprofRouter.HandleFunc("/trace", pprof.Trace)
	pprofRouter.HandleFunc("/allocs", pprof.Handler("allocs").ServeHTTP)
	pprofRouter.HandleFunc("/goroutine", pprof.Handler("goroutine").ServeHTTP)
	pprofRouter.HandleFunc("/heap", pprof.Handler("heap").ServeHTTP)

	// Runtime stats endpoint (localhost only).
	runtimeRouter := r.PathPrefix("/debug/runtime").Subrouter()
	runtimeRouter.Use(localhostOnlyMiddleware)
	runtimeRouter.HandleFunc("", func(w http.ResponseWriter, r *http.Request) {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{` +
			`"goroutines":` + itoa(runtime.NumGoroutine()) + `,` +
			`"heapAlloc":` + itoa64(m.HeapAlloc) + `,` +
			`"heapSys":` + itoa64(m.HeapSys) + `,` +
			`"heapObjects":` + itoa64(m.HeapObjects) + `,` +
			`"stackInuse":` + itoa64(m.StackInuse) + `,` +
			`"numGC":` + itoa(int(m.NumGC)) + `,` +
			`"lastGC":` + itoa64(m.LastGC) +
			`}`))
	}).Methods(http.MethodGet)
}
