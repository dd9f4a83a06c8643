package invoker

import (
	"bufio"
	"encoding/json"
	"io"
	"regexp"
	"strings"
	"time"
)

// TokenStats tracks token usage during one agent invocation, optionally
// extracted from the structured stream; usage collection never blocks
// task progress.
type TokenStats struct {
	InputTokens     int
	OutputTokens    int
	TotalTokens     int
	CacheReadTokens int
}

// streamEvent mirrors the Claude stream-json wire format.
type streamEvent struct {
	Type    string          `json:"type"`
	Message *messageContent `json:"message,omitempty"`
	Result  string          `json:"result,omitempty"`
}

type messageContent struct {
	Content []contentBlock `json:"content,omitempty"`
	Usage   *usageBlock    `json:"usage,omitempty"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	Name string `json:"name,omitempty"`
}

type usageBlock struct {
	InputTokens         int `json:"input_tokens"`
	OutputTokens        int `json:"output_tokens"`
	CacheCreationTokens int `json:"cache_creation_input_tokens"`
	CacheReadTokens     int `json:"cache_read_input_tokens"`
}

// LineSink receives one line of subprocess output, already prefixed with
// a compact plan identifier, for the orchestrator log.
type LineSink func(line string)

// StreamResult is what ConsumeStream hands back after the subprocess's
// stdout has been fully drained.
type StreamResult struct {
	RawText string
	Tokens  TokenStats
}

// ConsumeStream reads a Claude stream-json transcript, forwarding
// human-readable text lines to sink and accumulating token usage. The raw
// text is also concatenated and returned so the caller can scan it for the
// rate-limit marker, independent of this parser.
func ConsumeStream(reader io.Reader, sink LineSink) (StreamResult, error) {
	scanner := bufio.NewScanner(reader)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	var result StreamResult
	var raw strings.Builder

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		var event streamEvent
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			// Not a JSON event line; still worth scanning for markers.
			raw.WriteString(line)
			raw.WriteString("\n")
			continue
		}

		switch event.Type {
		case "assistant":
			if event.Message == nil {
				continue
			}
			if event.Message.Usage != nil {
				accumulate(&result.Tokens, event.Message.Usage)
			}
			for _, block := range event.Message.Content {
				switch block.Type {
				case "tool_use":
					if sink != nil {
						sink("[tool] " + block.Name)
					}
				case "text":
					raw.WriteString(block.Text)
					raw.WriteString("\n")
					if sink != nil {
						sink(cleanText(block.Text))
					}
				}
			}
		case "result":
			raw.WriteString(event.Result)
			raw.WriteString("\n")
			if sink != nil {
				sink("[done] " + cleanText(event.Result))
			}
		}
	}

	result.RawText = raw.String()
	return result, scanner.Err()
}

func accumulate(t *TokenStats, u *usageBlock) {
	t.InputTokens += u.InputTokens
	t.OutputTokens += u.OutputTokens
	t.CacheReadTokens += u.CacheReadTokens
	t.TotalTokens = t.InputTokens + t.OutputTokens
}

func cleanText(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	for strings.Contains(s, "  ") {
		s = strings.ReplaceAll(s, "  ", " ")
	}
	return strings.TrimSpace(s)
}

// rateLimitPattern matches the "RATE_LIMITED_UNTIL:<RFC3339 timestamp>"
// marker an agent emits when it hits an upstream rate limit. Upstream
// wording varies, so this is deliberately narrow rather than attempting
// to parse prose.
var rateLimitPattern = regexp.MustCompile(`RATE_LIMITED_UNTIL:(\S+)`)

// ScanRateLimit looks for the rate-limit marker in captured output and, if
// found, returns the parsed reset time.
func ScanRateLimit(output string) (time.Time, bool) {
	m := rateLimitPattern.FindStringSubmatch(output)
	if len(m) != 2 {
		return time.Time{}, false
	}
	reset, err := time.Parse(time.RFC3339, m[1])
	if err != nil {
		return time.Time{}, false
	}
	return reset, true
}
