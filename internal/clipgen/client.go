// Package clipgen is the client for the asynchronous clip-generation service.
// Submissions return a request id; results arrive later via webhook, with a
// synchronous pull API for environments without reliable webhook delivery.
package clipgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/promoreel/backend/config"
)

// GenerateRequest asks the service for one short clip.
type GenerateRequest struct {
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt,omitempty"`
	DurationSec    float64 `json:"duration"`
	AspectRatio    string  `json:"aspect_ratio"`
	CallbackURL    string  `json:"callback_url,omitempty"`
}

// GenerateResponse acknowledges a queued generation request.
type GenerateResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

// RequestResult is the pull-API view of a generation request.
type RequestResult struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"` // "queued", "processing", "succeeded", "failed"
	ResultURL string `json:"result_url,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Succeeded reports whether the request finished with a usable clip.
func (r *RequestResult) Succeeded() bool { return r.Status == "succeeded" }

// Terminal reports whether the request reached a final state.
func (r *RequestResult) Terminal() bool {
	return r.Status == "succeeded" || r.Status == "failed"
}

// Client talks to the clip-generation service.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewClient creates a clip service client.
func NewClient(cfg *config.ClipGenConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
	}
}

// IsConfigured reports whether the service endpoint is set.
func (c *Client) IsConfigured() bool { return c.baseURL != "" }

// Generate submits a clip generation request.
func (c *Client) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	var result GenerateResponse
	if err := c.post(ctx, "/v1/clips/generate", req, &result); err != nil {
		return nil, err
	}
	if result.RequestID == "" {
		return nil, fmt.Errorf("clip service returned no request id")
	}
	return &result, nil
}

// GetRequest pulls the current state of a generation request.
func (c *Client) GetRequest(ctx context.Context, requestID string) (*RequestResult, error) {
	var result RequestResult
	if err := c.get(ctx, "/v1/clips/requests/"+requestID, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) post(ctx context.Context, endpoint string, body, out interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("clip service: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("clip service status %d: %s", resp.StatusCode, string(raw))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
