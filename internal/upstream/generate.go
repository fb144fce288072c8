package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"time"
)

// ModelGemini is the only model identifier the synchronous endpoint serves.
// Identifiers are matched exactly, not by substring.
const ModelGemini = "gemini"

// ErrUnsupportedModel indicates a model identifier with no upstream
// integration. It is raised before any network call.
var ErrUnsupportedModel = errors.New("unsupported model")

// ValidateModel checks a requested model identifier. An empty identifier
// selects the default model.
func ValidateModel(model string) error {
	switch model {
	case "", ModelGemini:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedModel, model)
	}
}

// Attachment is one uploaded image forwarded to the multipart endpoint.
type Attachment struct {
	Path     string // transient file on local disk
	Filename string // client-supplied name, used in the form part
}

// Generate sends the formatted prompt and any attachments to the synchronous
// multipart endpoint and blocks until the full plain-text reply returns.
// A non-2xx status is returned as an error.
func (c *Client) Generate(ctx context.Context, model, prompt string, attachments []Attachment) (string, error) {
	if err := ValidateModel(model); err != nil {
		return "", err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("app_id", c.cfg.AppID); err != nil {
		return "", fmt.Errorf("write form field: %w", err)
	}
	if err := mw.WriteField("query", prompt); err != nil {
		return "", fmt.Errorf("write form field: %w", err)
	}
	for _, a := range attachments {
		part, err := mw.CreateFormFile("images", a.Filename)
		if err != nil {
			return "", fmt.Errorf("create form file: %w", err)
		}
		f, err := os.Open(a.Path)
		if err != nil {
			return "", fmt.Errorf("open attachment: %w", err)
		}
		_, err = io.Copy(part, f)
		_ = f.Close()
		if err != nil {
			return "", fmt.Errorf("copy attachment: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("finish form: %w", err)
	}

	if c.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, &body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.metrics.ObserveUpstreamError()
		return "", fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	c.metrics.ObserveUpstreamLatency(time.Since(start))

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.metrics.ObserveUpstreamError()
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.metrics.ObserveUpstreamError()
		return "", fmt.Errorf("api error (status %d): %s", resp.StatusCode, bytes.TrimSpace(respBody))
	}
	return string(respBody), nil
}
