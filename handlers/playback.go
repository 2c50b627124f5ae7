package handlers

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"streamforge/models"
	"streamforge/services/debrid"
	"streamforge/services/stream"
)

// PlaybackHandler serves the playback redirect and the library refresh. The
// store auth path segment is base64url "serviceID:credential" so playback
// URLs stay self-contained.
type PlaybackHandler struct {
	adapters stream.AdapterFactory
}

func NewPlaybackHandler(adapters stream.AdapterFactory) *PlaybackHandler {
	return &PlaybackHandler{adapters: adapters}
}

func (h *PlaybackHandler) adapterFromAuth(encoded string) (debrid.Adapter, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode store auth: %w", err)
	}
	serviceID, credential, ok := strings.Cut(string(raw), ":")
	if !ok || serviceID == "" {
		return nil, fmt.Errorf("malformed store auth")
	}
	return h.adapters(models.ServiceConfig{ID: serviceID, Credential: credential, Enabled: true})
}

// Redirect resolves the referenced file to a fresh link and answers 302.
// {fileInfo} is either a bare info hash or "hash:fileIndex".
func (h *PlaybackHandler) Redirect(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	adapter, err := h.adapterFromAuth(vars["storeAuth"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	hash := vars["fileInfo"]
	fileIndex := -1
	if before, after, ok := strings.Cut(hash, ":"); ok {
		if idx, err := strconv.Atoi(after); err == nil {
			hash, fileIndex = before, idx
		}
	}

	info := debrid.PlaybackInfo{
		Hash:      strings.ToLower(hash),
		FileIndex: fileIndex,
		ClientIP:  clientIP(r),
	}
	if filename, err := url.PathUnescape(vars["filename"]); err == nil {
		info.Filename = filename
		info.Title = filename
	}
	if id, err := models.ParseContentID(vars["metadataId"]); err == nil {
		info.Season = id.Season
		info.Episode = id.Episode
	}

	opts := debrid.ResolveOptions{
		CacheAndPlay: r.URL.Query().Get("cacheAndPlay") == "true",
		AutoRemove:   r.URL.Query().Get("autoRemove") == "true",
	}
	link, err := adapter.Resolve(r.Context(), info, opts)
	if err != nil {
		derr := debrid.AsError(err)
		writeError(w, derr.StatusCode, derr.Message)
		return
	}
	if link == "" {
		writeError(w, http.StatusNotFound, "content is not cached; retry with cacheAndPlay")
		return
	}
	http.Redirect(w, r, link, http.StatusFound)
}

// RefreshLibrary drops the cached library listing for the authed service.
func (h *PlaybackHandler) RefreshLibrary(w http.ResponseWriter, r *http.Request) {
	adapter, err := h.adapterFromAuth(mux.Vars(r)["storeAuth"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := adapter.RefreshLibraryCache(r.Context()); err != nil {
		derr := debrid.AsError(err)
		writeError(w, derr.StatusCode, derr.Message)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "refreshed"})
}
