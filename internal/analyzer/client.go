// Package analyzer is the client for the page-analysis collaborator. Analysis
// is best-effort: partial or failed analysis substitutes defaults instead of
// failing the whole generation request.
package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/promoreel/backend/config"
	"github.com/promoreel/backend/internal/models"
)

type analyzeRequest struct {
	URL string `json:"url"`
}

type analyzeResponse struct {
	Content     contentBlock `json:"content"`
	Colors      []string     `json:"colors"`
	Screenshots []string     `json:"screenshots"`
	SiteType    string       `json:"site_type"`
}

type contentBlock struct {
	Headline     string   `json:"headline"`
	Features     []string `json:"features"`
	Stats        []string `json:"stats"`
	CallToAction string   `json:"call_to_action"`
}

// Client talks to the analyzer service.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *zap.Logger
}

// NewClient creates an analyzer client.
func NewClient(cfg *config.AnalyzerConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		logger:     logger,
	}
}

// Analyze fetches structured content for a URL. On any failure it returns
// defaults derived from the URL itself, never an error.
func (c *Client) Analyze(ctx context.Context, sourceURL string) *models.SiteContent {
	content, err := c.analyze(ctx, sourceURL)
	if err != nil {
		c.logger.Warn("page analysis failed, using defaults", zap.String("url", sourceURL), zap.Error(err))
		return DefaultContent(sourceURL)
	}
	fillDefaults(content, sourceURL)
	return content
}

func (c *Client) analyze(ctx context.Context, sourceURL string) (*models.SiteContent, error) {
	raw, err := json.Marshal(analyzeRequest{URL: sourceURL})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/analyze", bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("analyzer: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("analyzer status %d: %s", resp.StatusCode, string(body))
	}
	var out analyzeResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &models.SiteContent{
		Headline:     out.Content.Headline,
		Features:     out.Content.Features,
		Stats:        out.Content.Stats,
		CallToAction: out.Content.CallToAction,
		Colors:       out.Colors,
		Screenshots:  out.Screenshots,
		SiteType:     out.SiteType,
	}, nil
}

// DefaultContent builds fallback content from the URL alone.
func DefaultContent(sourceURL string) *models.SiteContent {
	name := siteName(sourceURL)
	return &models.SiteContent{
		Headline:     name,
		Features:     []string{"Fast", "Simple", "Reliable"},
		CallToAction: "Try " + name + " today",
		Colors:       []string{"#1a1a2e", "#e94560"},
		SiteType:     "generic",
	}
}

func fillDefaults(c *models.SiteContent, sourceURL string) {
	if c.Headline == "" {
		c.Headline = siteName(sourceURL)
	}
	if c.CallToAction == "" {
		c.CallToAction = "Learn more at " + siteName(sourceURL)
	}
	if len(c.Colors) == 0 {
		c.Colors = []string{"#1a1a2e", "#e94560"}
	}
	if c.SiteType == "" {
		c.SiteType = "generic"
	}
}

func siteName(sourceURL string) string {
	u, err := url.Parse(sourceURL)
	if err != nil || u.Host == "" {
		return sourceURL
	}
	host := strings.TrimPrefix(u.Host, "www.")
	if i := strings.IndexByte(host, '.'); i > 0 {
		host = host[:i]
	}
	if host == "" {
		return u.Host
	}
	return strings.ToUpper(host[:1]) + host[1:]
}
