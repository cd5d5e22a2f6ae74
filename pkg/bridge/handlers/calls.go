package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	api "github.com/twilio/twilio-go/rest/api/v2010"
	"github.com/voxwire/voxwire/pkg/bridge/auth"
	"github.com/voxwire/voxwire/pkg/bridge/config"
	"github.com/voxwire/voxwire/pkg/bridge/mw"
)

// CallCreator is the slice of the carrier REST client the handler
// needs; the real client's Api service satisfies it.
type CallCreator interface {
	CreateCall(params *api.CreateCallParams) (*api.ApiV2010Call, error)
}

// CallsHandler originates an outbound call whose media streams back to
// this process. Guarded by the shared secret.
type CallsHandler struct {
	Config config.Config
	Logger *slog.Logger
	Auth   *auth.Authenticator
	Calls  CallCreator
}

type createCallRequest struct {
	To    string `json:"to"`
	Agent string `json:"agent,omitempty"`
}

func (h CallsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, apiError{
			Type: "invalid_request", Message: "method not allowed", RequestID: reqID,
		})
		return
	}
	if !h.Auth.TokenValid(auth.TokenFromRequest(r)) {
		writeError(w, http.StatusUnauthorized, apiError{
			Type: "token_invalid", Message: "invalid token", RequestID: reqID,
		})
		return
	}
	if h.Calls == nil || h.Config.TwilioFromNumber == "" {
		writeError(w, http.StatusServiceUnavailable, apiError{
			Type: "api_error", Message: "call origination is not configured", RequestID: reqID,
		})
		return
	}

	var req createCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, apiError{
			Type: "invalid_request", Message: "invalid JSON body", RequestID: reqID,
		})
		return
	}
	to := strings.TrimSpace(req.To)
	if to == "" {
		writeError(w, http.StatusBadRequest, apiError{
			Type: "invalid_request", Message: "to is required", RequestID: reqID,
		})
		return
	}

	streamURL := StreamURL(h.Config, r, strings.TrimSpace(req.Agent))
	twiml := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?><Response><Connect><Stream url=%q /></Connect></Response>`, streamURL)

	params := &api.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(h.Config.TwilioFromNumber)
	params.SetTwiml(twiml)

	resp, err := h.Calls.CreateCall(params)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Warn("call origination failed", "request_id", reqID, "err", err)
		}
		writeError(w, http.StatusBadGateway, apiError{
			Type: "api_error", Message: "carrier rejected the call", RequestID: reqID,
		})
		return
	}

	sid := ""
	if resp != nil && resp.Sid != nil {
		sid = *resp.Sid
	}
	writeJSON(w, http.StatusCreated, map[string]any{"call_sid": sid, "to": to})
}
