package collab

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

type EmailClient struct {
	baseURL    string
	token      string
	timeout    time.Duration
	httpClient *http.Client
}

func NewEmailClient(baseURL, token string, timeout time.Duration, httpClient *http.Client) *EmailClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &EmailClient{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:      strings.TrimSpace(token),
		timeout:    timeout,
		httpClient: httpClient,
	}
}

func (c *EmailClient) Configured() bool {
	return c != nil && c.baseURL != ""
}

type Message struct {
	ID      string `json:"id"`
	From    string `json:"from,omitempty"`
	To      string `json:"to,omitempty"`
	Subject string `json:"subject"`
	Snippet string `json:"snippet,omitempty"`
	Body    string `json:"body,omitempty"`
}

func (c *EmailClient) Search(ctx context.Context, query string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 5
	}
	var decoded struct {
		Messages []Message `json:"messages"`
	}
	err := c.post(ctx, "/messages/search", map[string]any{
		"query": query,
		"limit": limit,
	}, &decoded)
	if err != nil {
		return nil, err
	}
	return decoded.Messages, nil
}

func (c *EmailClient) Send(ctx context.Context, msg Message) (Message, error) {
	var sent Message
	if err := c.post(ctx, "/messages/send", msg, &sent); err != nil {
		return Message{}, err
	}
	return sent, nil
}

func (c *EmailClient) post(ctx context.Context, path string, payload, out any) error {
	if !c.Configured() {
		return fmt.Errorf("email collaborator is not configured")
	}
	return postJSON(ctx, c.httpClient, c.baseURL+path, c.token, c.timeout, payload, out)
}
