// Package renderfarm is the client for the remote rendering farm. Submissions
// are acknowledged immediately with a render id and storage key; progress is
// pulled via the status API.
package renderfarm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/promoreel/backend/config"
	"github.com/promoreel/backend/internal/models"
)

// ClipAssets references the generated clips by slot. A nil entry means that
// clip failed to generate and the renderer substitutes its default treatment.
type ClipAssets struct {
	Intro      *string `json:"intro"`
	Background *string `json:"background"`
	Outro      *string `json:"outro"`
}

// SubmitRequest asks the farm to render one output format.
type SubmitRequest struct {
	CompositionID string         `json:"composition_id"` // bundle id
	Format        string         `json:"format"`
	Script        *models.Script `json:"script"`
	ClipAssets    ClipAssets     `json:"clip_assets"`
	StorageKey    string         `json:"storage_key,omitempty"` // requested output location
}

// SubmitResponse acknowledges an accepted render.
type SubmitResponse struct {
	RenderID   string `json:"render_id"`
	StorageKey string `json:"storage_key"`
}

// Status is the farm's view of a render in flight.
type Status struct {
	RenderID     string  `json:"render_id"`
	Progress     float64 `json:"progress"` // [0,1]
	Done         bool    `json:"done"`
	FatalError   bool    `json:"fatal_error"`
	Error        string  `json:"error,omitempty"`
	OutputURL    string  `json:"output_url,omitempty"`
	ThumbnailURL string  `json:"thumbnail_url,omitempty"`
}

// Client talks to the rendering farm.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewClient creates a render farm client.
func NewClient(cfg *config.RenderFarmConfig) *Client {
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

// IsConfigured reports whether the farm endpoint is set.
func (c *Client) IsConfigured() bool { return c.baseURL != "" }

// Submit queues one per-format render.
func (c *Client) Submit(ctx context.Context, req *SubmitRequest) (*SubmitResponse, error) {
	var result SubmitResponse
	if err := c.post(ctx, "/v1/renders", req, &result); err != nil {
		return nil, err
	}
	if result.RenderID == "" {
		return nil, fmt.Errorf("render farm returned no render id")
	}
	return &result, nil
}

// GetStatus pulls progress for a render.
func (c *Client) GetStatus(ctx context.Context, renderID string) (*Status, error) {
	var result Status
	if err := c.get(ctx, "/v1/renders/"+renderID, &result); err != nil {
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
		return fmt.Errorf("render farm: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("render farm status %d: %s", resp.StatusCode, string(raw))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
