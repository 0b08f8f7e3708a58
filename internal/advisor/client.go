// Package advisor calls the remote LLM advisory service for discretionary
// trading signals. The service is an opaque collaborator: only the JSON
// request/response contract matters here. Response content arrives as a
// JSON-encoded string, possibly wrapped in markdown code fences, in either
// the OpenAI choices shape or the provider's response shape.
package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"silvermon/internal/feed/poll"
)

// Action is the decision verb.
type Action string

const (
	ActionBuy   Action = "BUY"
	ActionSell  Action = "SELL"
	ActionHold  Action = "HOLD"
	ActionClose Action = "CLOSE"
)

// Decision is the advisory service's trading decision schema.
type Decision struct {
	Action     Action  `json:"action"`
	Confidence float64 `json:"confidence"`
	EntryPrice float64 `json:"entry_price,omitempty"`
	StopLoss   float64 `json:"stop_loss,omitempty"`
	TakeProfit float64 `json:"take_profit,omitempty"`
	Rationale  string  `json:"rationale,omitempty"`
}

// Validate checks the decoded decision schema.
func (d *Decision) Validate() error {
	switch d.Action {
	case ActionBuy, ActionSell, ActionHold, ActionClose:
	default:
		return fmt.Errorf("advisor: unknown action %q", d.Action)
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("advisor: confidence %v out of [0,1]", d.Confidence)
	}
	return nil
}

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Config configures the advisor client.
type Config struct {
	Endpoint    string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration

	HTTPClient *http.Client
}

// Client posts advisory requests.
type Client struct {
	cfg  Config
	http *http.Client
}

// New creates an advisor client.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{cfg: cfg, http: hc}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

// chatResponse accepts both known provider shapes.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Response []struct {
		Message string `json:"message"`
	} `json:"response"`
}

// Decide sends the conversation and decodes the returned trading decision.
// Parse failures abort with no partial state; transient transport failures
// are retried once.
func (c *Client) Decide(ctx context.Context, messages []Message) (Decision, error) {
	content, err := c.complete(ctx, messages)
	if err != nil {
		return Decision{}, err
	}
	return ParseDecision(content)
}

// complete performs the POST and extracts the raw content string.
func (c *Client) complete(ctx context.Context, messages []Message) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("advisor: marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(2 * time.Second):
			}
		}
		content, err := c.doOnce(ctx, payload)
		if err == nil {
			return content, nil
		}
		if !errors.Is(err, poll.ErrTransient) {
			return "", err
		}
		lastErr = err
	}
	return "", lastErr
}

func (c *Client) doOnce(ctx context.Context, payload []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("advisor: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: %v", poll.ErrTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read body: %v", poll.ErrTransient, err)
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return "", fmt.Errorf("%w: status %d", poll.ErrTransient, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d: %s", poll.ErrPermanent, resp.StatusCode, body)
	}

	var cr chatResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return "", fmt.Errorf("advisor: decode response: %w", err)
	}
	switch {
	case len(cr.Choices) > 0:
		return cr.Choices[0].Message.Content, nil
	case len(cr.Response) > 0:
		return cr.Response[0].Message, nil
	default:
		return "", fmt.Errorf("advisor: response carries neither choices nor response")
	}
}

// ParseDecision decodes the decision JSON out of the model's content,
// stripping markdown code fences first.
func ParseDecision(content string) (Decision, error) {
	stripped := StripFences(content)

	var d Decision
	if err := json.Unmarshal([]byte(stripped), &d); err != nil {
		return Decision{}, fmt.Errorf("advisor: decision JSON: %w", err)
	}
	if err := d.Validate(); err != nil {
		return Decision{}, err
	}
	return d, nil
}

// StripFences removes a wrapping markdown code fence (``` or ```json) from
// the content, if present, and trims whitespace.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		// Drop the language tag line (e.g. "json").
		s = s[i+1:]
	}
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
