package handlers

import (
	"encoding/xml"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/voxwire/voxwire/pkg/bridge/config"
)

// VoiceHandler answers the carrier's inbound-call webhook with a
// stream-connect document pointing the call at the media-stream
// endpoint. The agent selector and the shared token ride along as
// custom parameters so they survive the carrier's reconnects.
type VoiceHandler struct {
	Config config.Config
	Logger *slog.Logger
}

type twimlParameter struct {
	XMLName xml.Name `xml:"Parameter"`
	Name    string   `xml:"name,attr"`
	Value   string   `xml:"value,attr"`
}

type twimlStream struct {
	XMLName    xml.Name `xml:"Stream"`
	URL        string   `xml:"url,attr"`
	Parameters []twimlParameter
}

type twimlConnect struct {
	XMLName xml.Name `xml:"Connect"`
	Stream  twimlStream
}

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Connect twimlConnect
}

func (h VoiceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, apiError{
			Type: "invalid_request", Message: "method not allowed",
		})
		return
	}

	agentName := strings.TrimSpace(r.URL.Query().Get("agent"))
	doc := twimlResponse{Connect: twimlConnect{Stream: twimlStream{
		URL: StreamURL(h.Config, r, agentName),
		Parameters: []twimlParameter{
			{Name: "agent", Value: agentName},
			{Name: "token", Value: h.Config.SharedSecret},
		},
	}}}

	out, err := xml.Marshal(doc)
	if err != nil {
		writeError(w, http.StatusInternalServerError, apiError{
			Type: "api_error", Message: "failed to build response document",
		})
		return
	}
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	_, _ = w.Write(append([]byte(xml.Header), out...))
}

// StreamURL builds the websocket URL the carrier should connect to,
// carrying the token and agent in the query as the first delivery
// channel (custom parameters are the second).
func StreamURL(cfg config.Config, r *http.Request, agentName string) string {
	base := strings.TrimSpace(cfg.PublicBaseURL)
	if base == "" && r != nil {
		base = "https://" + r.Host
	}
	base = strings.TrimRight(base, "/")
	base = strings.Replace(base, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)

	q := url.Values{}
	if cfg.SharedSecret != "" {
		q.Set("token", cfg.SharedSecret)
	}
	if agentName != "" {
		q.Set("agent", agentName)
	}
	u := base + "/media-stream"
	if encoded := q.Encode(); encoded != "" {
		u += "?" + encoded
	}
	return u
}
