package mw

import (
	"net/http"
	"strconv"

	"github.com/voxwire/voxwire/pkg/bridge/auth"
	"github.com/voxwire/voxwire/pkg/bridge/rategate"
)

// Admission applies the address-keyed connection gate before anything
// else touches the request. Rejections fail closed with 429 and never
// reach the websocket upgrader.
func Admission(gate *rategate.Gate, trustProxyHeaders bool, next http.Handler) http.Handler {
	if gate == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Health endpoints must remain cheap and reliable.
		if r.URL.Path == "/healthz" || r.URL.Path == "/readyz" {
			next.ServeHTTP(w, r)
			return
		}

		addr := auth.ClientIP(r, trustProxyHeaders)
		dec := gate.Admit(addr)
		if !dec.Allowed {
			reqID, _ := RequestIDFrom(r.Context())
			retry := int(dec.RetryAfter.Seconds())
			if retry > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(retry))
			}
			writeJSONError(w, http.StatusTooManyRequests, apiError{
				Type:       string(dec.Reason),
				Message:    "connection attempts exceeded",
				RequestID:  reqID,
				RetryAfter: retry,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
