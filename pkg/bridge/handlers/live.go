package handlers

import (
	"net/http"

	"github.com/voxwire/voxwire/pkg/bridge/sessions"
)

// LiveHandler reports the active bridge count, for ops dashboards.
type LiveHandler struct {
	Tracker *sessions.Tracker
}

func (h LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, apiError{
			Type: "invalid_request", Message: "method not allowed",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"active_sessions": h.Tracker.Count()})
}
