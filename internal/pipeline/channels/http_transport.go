package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// HTTPTransport implements Transport over a JSON HTTP API: the message
// channel backend is an opaque external collaborator reached over the
// network, not a vendored SDK, so this is the whole of the production
// wiring beneath Client.
type HTTPTransport struct {
	BaseURL string
	Token   string
	client  *http.Client
}

// NewHTTPTransport builds an HTTPTransport with a bounded request timeout.
func NewHTTPTransport(baseURL, token string) *HTTPTransport {
	return &HTTPTransport{
		BaseURL: baseURL,
		Token:   token,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// ListChannels fetches the channel catalog from GET {BaseURL}/channels.
func (t *HTTPTransport) ListChannels(ctx context.Context) ([]string, error) {
	var names []string
	if err := t.do(ctx, http.MethodGet, "/channels", nil, &names); err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	return names, nil
}

// Poll fetches messages posted to channel since the given cursor via
// GET {BaseURL}/channels/{channel}/messages?since={since}.
func (t *HTTPTransport) Poll(ctx context.Context, channel string, since string) ([]Message, error) {
	path := fmt.Sprintf("/channels/%s/messages", url.PathEscape(channel))
	if since != "" {
		path += "?since=" + url.QueryEscape(since)
	}
	var msgs []Message
	if err := t.do(ctx, http.MethodGet, path, nil, &msgs); err != nil {
		return nil, fmt.Errorf("poll channel %s: %w", channel, err)
	}
	return msgs, nil
}

// Post sends an already-signed message envelope to
// POST {BaseURL}/channels/{channel}/messages.
func (t *HTTPTransport) Post(ctx context.Context, channel string, body []byte) error {
	path := fmt.Sprintf("/channels/%s/messages", url.PathEscape(channel))
	if err := t.do(ctx, http.MethodPost, path, bytes.NewReader(body), nil); err != nil {
		return fmt.Errorf("post to channel %s: %w", channel, err)
	}
	return nil
}

func (t *HTTPTransport) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, t.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if t.Token != "" {
		req.Header.Set("Authorization", "Bearer "+t.Token)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(data))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
