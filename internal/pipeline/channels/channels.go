// Package channels abstracts the message channels the pipeline daemon
// polls for inbound reports and posts outbound notifications to. The
// transport is pluggable; this package owns the parts that are
// transport-independent: self-loop filtering by role, cursor
// persistence, outbound signing, and poll-cadence limiting.
package channels

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/foreman-run/foreman/internal/types"
)

// Message is one inbound or outbound channel message.
type Message struct {
	ID        string    `json:"id"`
	Channel   string    `json:"channel"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Transport is the minimal surface a concrete channel backend (Slack,
// email, a webhook relay, ...) must implement. Everything above this
// layer — self-loop filtering, cursor bookkeeping, signing, rate limiting
// — is transport-agnostic and lives in this package.
type Transport interface {
	ListChannels(ctx context.Context) ([]string, error)
	Poll(ctx context.Context, channel string, since string) ([]Message, error)
	Post(ctx context.Context, channel string, body []byte) error
}

// Client wraps a Transport with the pipeline-level concerns of self-loop
// filtering, cursor persistence, message signing, and poll-rate limiting.
type Client struct {
	Transport Transport
	AgentName string // this agent's own display name, for the self-loop filter
	SignKey   []byte // HMAC key for outbound signing; nil disables signing

	CursorDir string // directory holding per-channel cursor files

	limiter *rate.Limiter
}

// New constructs a Client with a poll-cadence limiter shared by all
// channels: at most one poll per interval, bursting up to burst.
func New(transport Transport, agentName string, signKey []byte, cursorDir string, interval time.Duration, burst int) *Client {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		Transport: transport,
		AgentName: agentName,
		SignKey:   signKey,
		CursorDir: cursorDir,
		limiter:   rate.NewLimiter(rate.Every(interval), burst),
	}
}

// ListChannels returns every channel the transport reports, unfiltered.
func (c *Client) ListChannels(ctx context.Context) ([]string, error) {
	return c.Transport.ListChannels(ctx)
}

// Poll fetches new messages since the saved cursor, waiting for the
// cadence limiter, filters out the agent's own prior posts (a self-loop
// guard so an agent never reacts to its own message) and any message
// explicitly addressed to a different agent via an @mention, and advances
// the cursor on success.
func (c *Client) Poll(ctx context.Context, channel string) ([]Message, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	since := c.loadCursor(channel)
	msgs, err := c.Transport.Poll(ctx, channel, since)
	if err != nil {
		return nil, err
	}

	filtered := msgs[:0]
	for _, m := range msgs {
		if m.Author == c.AgentName {
			continue
		}
		if addressedToOther(m.Text, c.AgentName) {
			continue
		}
		filtered = append(filtered, m)
	}

	if len(msgs) > 0 {
		if err := c.saveCursor(channel, msgs[len(msgs)-1].ID); err != nil {
			return filtered, err
		}
	}
	return filtered, nil
}

var mentionPattern = regexp.MustCompile(`@([A-Za-z0-9_-]+)`)

// addressedToOther reports whether text carries an @mention and none of
// the mentions name agentName — i.e. the message is directed at a
// different agent and should be skipped rather than acted on. A message
// with no mentions at all is a broadcast and is never filtered here.
func addressedToOther(text, agentName string) bool {
	matches := mentionPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return false
	}
	for _, m := range matches {
		if strings.EqualFold(m[1], agentName) {
			return false
		}
	}
	return true
}

// Post signs (if a key is configured) and sends a message to a channel.
func (c *Client) Post(ctx context.Context, channel, text string) error {
	msg := Message{
		ID:        fmt.Sprintf("%s-%d", c.AgentName, time.Now().UnixNano()),
		Channel:   channel,
		Author:    c.AgentName,
		Text:      text,
		Timestamp: time.Now(),
	}
	body, err := json.Marshal(envelope{Message: msg, Signature: c.sign(msg)})
	if err != nil {
		return fmt.Errorf("marshal outbound message: %w", err)
	}
	return c.Transport.Post(ctx, channel, body)
}

type envelope struct {
	Message   Message `json:"message"`
	Signature string  `json:"signature,omitempty"`
}

func (c *Client) sign(m Message) string {
	if len(c.SignKey) == 0 {
		return ""
	}
	mac := hmac.New(sha256.New, c.SignKey)
	fmt.Fprintf(mac, "%s|%s|%s|%d", m.Channel, m.Author, m.Text, m.Timestamp.UnixNano())
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks an inbound envelope's signature, when a key is configured.
func (c *Client) Verify(raw []byte) (Message, bool, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Message{}, false, err
	}
	if len(c.SignKey) == 0 {
		return env.Message, true, nil
	}
	expected := c.sign(env.Message)
	return env.Message, hmac.Equal([]byte(expected), []byte(env.Signature)), nil
}

func (c *Client) cursorPath(channel string) string {
	return filepath.Join(c.CursorDir, channel+".cursor")
}

func (c *Client) loadCursor(channel string) string {
	data, err := os.ReadFile(c.cursorPath(channel))
	if err != nil {
		return ""
	}
	return string(data)
}

func (c *Client) saveCursor(channel, cursor string) error {
	if err := os.MkdirAll(c.CursorDir, 0o755); err != nil {
		return err
	}
	tmp := c.cursorPath(channel) + ".tmp"
	if err := os.WriteFile(tmp, []byte(cursor), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, c.cursorPath(channel))
}

// ClassifyByRole groups a set of channel names by their recognized role
// suffix, ignoring any channel whose name does not match one of the fixed
// suffixes.
func ClassifyByRole(names []string) map[types.ChannelRole][]string {
	out := map[types.ChannelRole][]string{}
	for _, n := range names {
		role, ok := types.RoleForChannel(n)
		if !ok {
			continue
		}
		out[role] = append(out[role], n)
	}
	return out
}
