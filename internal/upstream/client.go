// Package upstream implements the client for the single external
// conversational API, in its two call contracts: a server-sent-events
// endpoint and a synchronous multipart-upload endpoint.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"chatrelay/internal/config"
	"chatrelay/internal/observability"
)

// StreamEvent is a single decoded frame from the streaming endpoint.
type StreamEvent struct {
	Answer string // incremental reply fragment
	Done   bool   // true when the stream is finished
}

// Client issues calls to the upstream conversational API. The configuration
// is fixed at construction; mode selection happens in the caller.
type Client struct {
	cfg     config.Upstream
	client  *http.Client
	logger  observability.Logger
	metrics *observability.Metrics
}

// NewClient creates a client for the configured upstream endpoint.
// logger may not be nil-checked by callers; a nil logger falls back to a
// default. metrics may be nil.
func NewClient(cfg config.Upstream, logger observability.Logger, metrics *observability.Metrics) *Client {
	if logger == nil {
		logger = observability.NewLogger(observability.DefaultConfig())
	}
	return &Client{
		cfg: cfg,
		// No overall client timeout: streaming responses are open-ended.
		// Synchronous calls bound themselves with a request context.
		client:  &http.Client{},
		logger:  logger.WithComponent("upstream"),
		metrics: metrics,
	}
}

// streamRequest is the JSON body for the streaming endpoint.
type streamRequest struct {
	AppID  string `json:"app_id"`
	Stream bool   `json:"stream"`
	Query  string `json:"query"`
}

// streamFrame is the JSON payload of one upstream SSE frame.
type streamFrame struct {
	Answer string `json:"answer"`
}

// Stream sends the query to the streaming endpoint and returns a channel of
// decoded frames. The channel is closed after the terminal frame or when the
// upstream connection ends. A non-200 initial response or transport failure
// is returned as an error before any event is produced.
func (c *Client) Stream(ctx context.Context, query string) (<-chan StreamEvent, error) {
	body, err := json.Marshal(streamRequest{
		AppID:  c.cfg.AppID,
		Stream: true,
		Query:  query,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.metrics.ObserveUpstreamError()
		return nil, fmt.Errorf("http request: %w", err)
	}
	c.metrics.ObserveUpstreamLatency(time.Since(start))

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		c.metrics.ObserveUpstreamError()
		return nil, fmt.Errorf("api error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	ch := make(chan StreamEvent, 64)
	go func() {
		defer close(ch)
		defer func() { _ = resp.Body.Close() }()
		c.readSSEStream(ctx, resp.Body, ch)
	}()

	return ch, nil
}

// readSSEStream decodes "data: {...}" frames line by line and emits one
// StreamEvent per frame carrying an answer fragment. Malformed frames are
// logged and skipped without aborting the stream. One inbound chunk is
// decoded and forwarded before the next read, so the browser connection
// applies backpressure to the upstream read.
func (c *Client) readSSEStream(ctx context.Context, r io.Reader, ch chan<- StreamEvent) {
	buf := make([]byte, 4096)
	var lineBuf strings.Builder

	for {
		n, err := r.Read(buf)
		if n > 0 {
			lineBuf.Write(buf[:n])
			for {
				text := lineBuf.String()
				idx := strings.Index(text, "\n")
				if idx == -1 {
					break
				}
				line := text[:idx]
				lineBuf.Reset()
				lineBuf.WriteString(text[idx+1:])

				line = strings.TrimSpace(line)
				if line == "" {
					continue
				}
				if !strings.HasPrefix(line, "data:") {
					continue
				}
				data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
				if data == "[DONE]" {
					ch <- StreamEvent{Done: true}
					return
				}

				var frame streamFrame
				if err := json.Unmarshal([]byte(data), &frame); err != nil {
					c.logger.WarnContext(ctx, "skipping malformed upstream frame", "error", err, "frame", data)
					continue
				}
				if frame.Answer == "" {
					continue
				}
				ch <- StreamEvent{Answer: frame.Answer}
			}
		}
		if err != nil {
			ch <- StreamEvent{Done: true}
			return
		}
	}
}
