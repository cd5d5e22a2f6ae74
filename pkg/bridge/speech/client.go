package speech

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
)

type DialConfig struct {
	URL    string
	Model  string
	APIKey string
}

// Dial opens the upstream realtime websocket. The caller owns the
// returned connection and is responsible for sending the session
// configuration before relaying audio.
func Dial(ctx context.Context, cfg DialConfig) (*websocket.Conn, error) {
	base := strings.TrimSpace(cfg.URL)
	if base == "" {
		return nil, fmt.Errorf("speech url is required")
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse speech url: %w", err)
	}
	if strings.TrimSpace(cfg.Model) != "" {
		q := u.Query()
		q.Set("model", cfg.Model)
		u.RawQuery = q.Encode()
	}

	header := http.Header{}
	if strings.TrimSpace(cfg.APIKey) != "" {
		header.Set("Authorization", "Bearer "+cfg.APIKey)
	}
	header.Set("OpenAI-Beta", "realtime=v1")

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial speech leg: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial speech leg: %w", err)
	}
	return conn, nil
}
