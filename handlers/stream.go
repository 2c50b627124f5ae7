// Package handlers contains the HTTP handlers behind the router: the stream
// listing endpoint, the playback redirect and the library refresh.
package handlers

import (
	"encoding/base64"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"streamforge/config"
	"streamforge/models"
	"streamforge/services/stream"
)

// StreamHandler serves GET /stream/{type}/{id}.json.
type StreamHandler struct {
	service *stream.Service
	limits  models.ValidationLimits
	proxy   config.ProxySettings
}

func NewStreamHandler(service *stream.Service, limits config.LimitSettings, proxy config.ProxySettings) *StreamHandler {
	return &StreamHandler{
		service: service,
		limits: models.ValidationLimits{
			MaxExpressions:          limits.MaxStreamExpressions,
			MaxExpressionTotalChars: limits.MaxStreamExpressionTotalChars,
			MaxKeywordFilters:       limits.MaxKeywordFilters,
			MaxGroups:               limits.MaxGroups,
		},
		proxy: proxy,
	}
}

// GetStreams resolves one stream request. The optional {userData} path
// segment carries the base64url-encoded UserData JSON.
func (h *StreamHandler) GetStreams(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	mediaType := models.MediaType(vars["type"])
	rawID := strings.TrimSuffix(vars["id"], ".json")

	user, err := h.decodeUserData(vars["userData"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.applyProxyPolicy(user)

	list, err := h.service.Get(r.Context(), mediaType, rawID, user, clientIP(r))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *StreamHandler) decodeUserData(encoded string) (*models.UserData, error) {
	user := &models.UserData{}
	if encoded != "" {
		raw, err := base64.RawURLEncoding.DecodeString(encoded)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, user); err != nil {
			return nil, err
		}
	}
	if err := user.Validate(h.limits); err != nil {
		return nil, err
	}
	return user, nil
}

// applyProxyPolicy overlays the server proxy policy: a forced proxy always
// wins; the default applies only when the user configured none.
func (h *StreamHandler) applyProxyPolicy(user *models.UserData) {
	if h.proxy.ForceEnabled {
		user.Proxy = &models.ProxyConfig{Enabled: true, URL: h.proxy.ForceURL, Password: h.proxy.ForcePassword}
		return
	}
	if user.Proxy == nil && h.proxy.DefaultEnabled {
		user.Proxy = &models.ProxyConfig{Enabled: true, URL: h.proxy.DefaultURL, Password: h.proxy.DefaultPassword}
	}
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[api] encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
