// Package inference talks to the Hugging Face Inference API text-to-image
// endpoint. The service is a black box: one prompt in, one image out.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/digkill/imaginebot/internal/config"
)

// ErrEmptyImage is returned when the endpoint answers 2xx without image bytes.
var ErrEmptyImage = errors.New("inference returned no image")

// ErrResponseTooLarge is returned when the body exceeds the read cap.
var ErrResponseTooLarge = errors.New("inference response too large")

// maxResponseBytes is well above what a single generated image weighs.
const maxResponseBytes = 32 << 20

type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger
	maxBody    int64
}

type Image struct {
	Bytes []byte
	Mime  string
}

// APIError carries a non-2xx answer from the endpoint.
type APIError struct {
	Status  int
	Message string
	// EstimatedTime is set while the model is still loading (HTTP 503).
	EstimatedTime float64
}

func (e *APIError) Error() string {
	if e.EstimatedTime > 0 {
		return fmt.Sprintf("inference error: status=%d msg=%s (model loading, ~%.0fs)", e.Status, e.Message, e.EstimatedTime)
	}
	return fmt.Sprintf("inference error: status=%d msg=%s", e.Status, e.Message)
}

func NewClient(cfg config.Config, log *slog.Logger) *Client {
	timeout := cfg.GenerationTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	return &Client{
		token:   cfg.HFToken,
		baseURL: strings.TrimRight(cfg.HFBaseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log:     log,
		maxBody: maxResponseBytes,
	}
}

// TextToImage renders prompt with the given model repository id
// (for example "black-forest-labs/FLUX.1-schnell").
func (c *Client) TextToImage(ctx context.Context, prompt, modelID string) (*Image, error) {
	if strings.TrimSpace(modelID) == "" {
		return nil, fmt.Errorf("model id is required")
	}

	baseURL, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	fullURL := baseURL.JoinPath("models", modelID).String()

	body, err := json.Marshal(map[string]any{"inputs": prompt})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "image/png")

	if c.log != nil {
		c.log.Debug("inference request", "url", fullURL, "model", modelID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post inference: %w", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if int64(len(rawBody)) > c.maxBody {
		return nil, fmt.Errorf("%w: over %d bytes", ErrResponseTooLarge, c.maxBody)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Message: truncateBody(rawBody)}
		var parsed struct {
			Error         string  `json:"error"`
			EstimatedTime float64 `json:"estimated_time"`
		}
		if json.Unmarshal(rawBody, &parsed) == nil && parsed.Error != "" {
			apiErr.Message = parsed.Error
			apiErr.EstimatedTime = parsed.EstimatedTime
		}
		if c.log != nil {
			c.log.Error("inference request failed", "status", resp.StatusCode, "model", modelID, "body", truncateBody(rawBody))
		}
		return nil, apiErr
	}

	if len(rawBody) == 0 {
		return nil, ErrEmptyImage
	}
	mime := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Type")))
	if idx := strings.Index(mime, ";"); idx > 0 {
		mime = mime[:idx]
	}
	if mime == "" || mime == "application/octet-stream" {
		mime = http.DetectContentType(rawBody)
	}
	if !strings.HasPrefix(mime, "image/") {
		return nil, fmt.Errorf("unexpected content type %q: %s", mime, truncateBody(rawBody))
	}

	return &Image{Bytes: rawBody, Mime: mime}, nil
}

// truncateBody keeps the first 512 characters of body for logs and errors.
func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i] + "…"
		}
		n++
	}
	return s
}
