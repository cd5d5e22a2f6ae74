// Package collab holds thin JSON clients for the external collaborator
// services the tools delegate to. The bridge treats them as opaque
// request/response RPCs; all calls carry a hard timeout so a hung
// collaborator surfaces as a tool failure, never a stalled session.
package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 10 * time.Second

type CalendarClient struct {
	baseURL    string
	token      string
	timeout    time.Duration
	httpClient *http.Client
}

func NewCalendarClient(baseURL, token string, timeout time.Duration, httpClient *http.Client) *CalendarClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &CalendarClient{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:      strings.TrimSpace(token),
		timeout:    timeout,
		httpClient: httpClient,
	}
}

func (c *CalendarClient) Configured() bool {
	return c != nil && c.baseURL != ""
}

type Slot struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// FindSlots asks the calendar collaborator for open slots on a day.
func (c *CalendarClient) FindSlots(ctx context.Context, date string, durationMinutes int) ([]Slot, error) {
	var decoded struct {
		Slots []Slot `json:"slots"`
	}
	err := c.post(ctx, "/slots/find", map[string]any{
		"date":             date,
		"duration_minutes": durationMinutes,
	}, &decoded)
	if err != nil {
		return nil, err
	}
	return decoded.Slots, nil
}

type Event struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Start   string `json:"start"`
	End     string `json:"end"`
	Invitee string `json:"invitee,omitempty"`
}

func (c *CalendarClient) CreateEvent(ctx context.Context, ev Event) (Event, error) {
	var created Event
	if err := c.post(ctx, "/events", ev, &created); err != nil {
		return Event{}, err
	}
	return created, nil
}

func (c *CalendarClient) post(ctx context.Context, path string, payload, out any) error {
	if !c.Configured() {
		return fmt.Errorf("calendar collaborator is not configured")
	}
	return postJSON(ctx, c.httpClient, c.baseURL+path, c.token, c.timeout, payload, out)
}

func postJSON(ctx context.Context, client *http.Client, url, token string, timeout time.Duration, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		return fmt.Errorf("collaborator error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
