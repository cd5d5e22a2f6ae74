// Package handlers implements the HTTP surface: health probes, the
// carrier media-stream websocket, the TwiML voice webhook, outbound
// call origination, and the live-session count.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/voxwire/voxwire/pkg/bridge/config"
)

type HealthHandler struct{}

func (HealthHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type ReadyHandler struct {
	Config config.Config
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	if h.Config.AuthMode == config.AuthModeRequired && h.Config.SharedSecret == "" {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unavailable",
			"reason": "shared secret not configured",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type apiError struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func writeError(w http.ResponseWriter, status int, e apiError) {
	writeJSON(w, status, map[string]any{"error": e})
}
