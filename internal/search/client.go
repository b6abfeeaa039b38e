package search

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/developerjeremylive-git/my-chat-agent-sub001/pkg/logger"
	"github.com/developerjeremylive-git/my-chat-agent-sub001/pkg/resilience"

	"github.com/cenkalti/backoff/v4"
)

var (
	// ErrRateLimited is returned when the upstream still answers 429 after all attempts
	ErrRateLimited = errors.New("search upstream rate limited")
	// ErrUpstream wraps any other upstream failure
	ErrUpstream = errors.New("search upstream error")
	// ErrNotConfigured is returned when no upstream URL is set
	ErrNotConfigured = errors.New("search upstream not configured")
)

// Config configures the upstream client
type Config struct {
	URL            string
	APIKey         string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Message is one turn of conversation context sent upstream
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a streaming search query
type Request struct {
	Query    string    `json:"query"`
	Model    string    `json:"model,omitempty"`
	Messages []Message `json:"messages,omitempty"`
	// APIKey overrides the configured key for this request
	APIKey string `json:"-"`
}

// Event types emitted on a stream
const (
	EventChunk = "chunk"
	EventError = "error"
	EventDone  = "done"
)

// Event is one item of a streamed answer
type Event struct {
	Type      string   `json:"type"`
	Content   string   `json:"content,omitempty"`
	Citations []string `json:"citations,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// Client talks to a streaming search+LLM API
type Client struct {
	cfg     Config
	http    *http.Client
	breaker *resilience.CircuitBreaker
	log     *logger.Logger
}

// NewClient creates a client. breaker may be nil.
func NewClient(cfg Config, breaker *resilience.CircuitBreaker, log *logger.Logger) *Client {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 10 * time.Second
	}

	// Timeout bounds the wait for response headers only; answers stream
	// for as long as the upstream keeps writing.
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = cfg.Timeout

	return &Client{
		cfg:     cfg,
		http:    &http.Client{Transport: transport},
		breaker: breaker,
		log:     log,
	}
}

type upstreamRequest struct {
	Query    string    `json:"query"`
	Model    string    `json:"model,omitempty"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

// Stream sends req and returns a channel of events. The channel always ends
// with a done or error event and is then closed. Opening the stream is
// retried on HTTP 429 only; every other failure is returned immediately.
func (c *Client) Stream(ctx context.Context, req Request) (<-chan Event, error) {
	if c.cfg.URL == "" {
		return nil, ErrNotConfigured
	}

	messages := append([]Message(nil), req.Messages...)
	if req.Query != "" {
		messages = append(messages, Message{Role: "user", Content: req.Query})
	}
	body, err := json.Marshal(upstreamRequest{
		Query:    req.Query,
		Model:    req.Model,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("encode search request: %w", err)
	}

	apiKey := req.APIKey
	if apiKey == "" {
		apiKey = c.cfg.APIKey
	}

	var resp *http.Response
	open := func(ctx context.Context) error {
		r, err := c.openWithRetry(ctx, body, apiKey)
		resp = r
		return err
	}
	if c.breaker != nil {
		err = c.breaker.Execute(ctx, open)
	} else {
		err = open(ctx)
	}
	if err != nil {
		return nil, err
	}

	events := make(chan Event)
	go c.readStream(ctx, resp.Body, events)
	return events, nil
}

func (c *Client) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialBackoff
	b.Multiplier = 2
	b.MaxInterval = c.cfg.MaxBackoff
	b.RandomizationFactor = 0.5
	b.MaxElapsedTime = 0
	b.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.cfg.MaxAttempts-1)), ctx)
}

func (c *Client) openWithRetry(ctx context.Context, body []byte, apiKey string) (*http.Response, error) {
	attempt := 0
	operation := func() (*http.Response, error) {
		attempt++

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("%w: %v", ErrUpstream, err))
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "text/event-stream")
		if apiKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+apiKey)
		}

		resp, err := c.http.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			return nil, backoff.Permanent(fmt.Errorf("%w: %v", ErrUpstream, err))
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			drain(resp.Body)
			return nil, fmt.Errorf("%w (attempt %d)", ErrRateLimited, attempt)
		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			drain(resp.Body)
			return nil, backoff.Permanent(fmt.Errorf("%w: status %d: %s",
				ErrUpstream, resp.StatusCode, strings.TrimSpace(string(snippet))))
		}

		return resp, nil
	}

	notify := func(err error, wait time.Duration) {
		c.log.Warn("Search upstream rate limited, backing off",
			"attempt", attempt,
			"wait", wait.String(),
			"error", err.Error(),
		)
	}

	return backoff.RetryNotifyWithData(operation, c.newBackOff(ctx), notify)
}

func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64<<10))
	_ = body.Close()
}

type upstreamChunk struct {
	Content string `json:"content"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Citations []string `json:"citations"`
}

func (c *Client) readStream(ctx context.Context, body io.ReadCloser, events chan<- Event) {
	defer close(events)
	defer body.Close()

	emit := func(ev Event) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}

		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			emit(Event{Type: EventDone})
			return
		}

		var chunk upstreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			c.log.Debug("Skipping malformed stream chunk", "error", err.Error())
			continue
		}

		content := chunk.Content
		if content == "" && len(chunk.Choices) > 0 {
			content = chunk.Choices[0].Delta.Content
		}
		if content == "" && len(chunk.Citations) == 0 {
			continue
		}
		if !emit(Event{Type: EventChunk, Content: content, Citations: chunk.Citations}) {
			return
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() == nil {
			c.log.Warn("Search stream interrupted", "error", err.Error())
			emit(Event{Type: EventError, Error: fmt.Sprintf("%v: stream interrupted", ErrUpstream)})
		}
		return
	}
	emit(Event{Type: EventDone})
}

// Collect drains a stream into the full answer text
func Collect(ctx context.Context, events <-chan Event) (string, error) {
	var sb strings.Builder
	for {
		select {
		case <-ctx.Done():
			return sb.String(), ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return sb.String(), nil
			}
			switch ev.Type {
			case EventChunk:
				sb.WriteString(ev.Content)
			case EventError:
				return sb.String(), fmt.Errorf("%w: %s", ErrUpstream, ev.Error)
			case EventDone:
				return sb.String(), nil
			}
		}
	}
}
