// Package script turns analyzed site content into an ordered scene script.
// An AI collaborator writes the script when configured; a deterministic
// fallback always succeeds, so composition never fails a bundle.
package script

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/promoreel/backend/config"
	"github.com/promoreel/backend/internal/models"
)

// Composer produces scripts from site content.
type Composer struct {
	httpClient *http.Client
	cfg        config.ScriptConfig
	logger     *zap.Logger
}

// NewComposer creates a script composer.
func NewComposer(cfg config.ScriptConfig, logger *zap.Logger) *Composer {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Composer{
		httpClient: &http.Client{Timeout: timeout},
		cfg:        cfg,
		logger:     logger,
	}
}

// Compose returns a script for the content. The AI path is attempted when
// configured; any failure falls back to the deterministic composer.
func (c *Composer) Compose(ctx context.Context, content *models.SiteContent, style, mood string, durationSec int) *models.Script {
	if c.cfg.BaseURL != "" && c.cfg.APIKey != "" {
		s, err := c.composeAI(ctx, content, style, mood, durationSec)
		if err == nil && len(s.Scenes) > 0 {
			return s
		}
		c.logger.Warn("AI script generation failed, using fallback", zap.Error(err))
	}
	return Fallback(content, style, mood, durationSec)
}

type aiRequest struct {
	Model       string              `json:"model"`
	Content     *models.SiteContent `json:"content"`
	Style       string              `json:"style"`
	MusicMood   string              `json:"music_mood"`
	DurationSec int                 `json:"duration_sec"`
}

func (c *Composer) composeAI(ctx context.Context, content *models.SiteContent, style, mood string, durationSec int) (*models.Script, error) {
	raw, err := json.Marshal(aiRequest{
		Model:       c.cfg.Model,
		Content:     content,
		Style:       style,
		MusicMood:   mood,
		DurationSec: durationSec,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/scripts", bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("script service: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("script service status %d: %s", resp.StatusCode, string(body))
	}
	var s models.Script
	if err := json.Unmarshal(body, &s); err != nil {
		return nil, fmt.Errorf("decode script: %w", err)
	}
	s.Style = style
	s.MusicMood = mood
	return &s, nil
}

// Fallback builds a script deterministically from the content. Same inputs
// always produce the same scenes.
func Fallback(content *models.SiteContent, style, mood string, durationSec int) *models.Script {
	if durationSec <= 0 {
		durationSec = 30
	}

	var scenes []models.Scene
	scenes = append(scenes, models.Scene{
		Kind:   "hook",
		Text:   content.Headline,
		Visual: "headline over intro clip",
	})
	for i, f := range content.Features {
		if i >= 3 {
			break
		}
		scenes = append(scenes, models.Scene{
			Kind:   "feature",
			Text:   f,
			Visual: "feature callout over background clip",
		})
	}
	for i, s := range content.Stats {
		if i >= 2 {
			break
		}
		scenes = append(scenes, models.Scene{
			Kind:   "stat",
			Text:   s,
			Visual: "animated counter",
		})
	}
	scenes = append(scenes, models.Scene{
		Kind:   "cta",
		Text:   content.CallToAction,
		Visual: "call to action over outro clip",
	})

	// Hook and CTA get a fixed share; the middle splits the remainder evenly.
	// With no middle scenes the two split the total in the same ratio.
	total := float64(durationSec)
	hook := total * 0.15
	cta := total * 0.2
	middle := len(scenes) - 2
	per := 0.0
	if middle > 0 {
		per = (total - hook - cta) / float64(middle)
	} else {
		hook = total * (0.15 / 0.35)
		cta = total * (0.2 / 0.35)
	}
	for i := range scenes {
		switch {
		case i == 0:
			scenes[i].DurationSec = hook
		case i == len(scenes)-1:
			scenes[i].DurationSec = cta
		default:
			scenes[i].DurationSec = per
		}
	}

	return &models.Script{
		Scenes:      scenes,
		DurationSec: total,
		Style:       style,
		MusicMood:   mood,
	}
}
