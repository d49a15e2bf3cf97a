package bundles

import (
	"github.com/promoreel/backend/internal/models"
)

// Stage sub-ranges on the 0-100 lifecycle indicator. Rendering interpolates
// on the aggregate render fraction so callers see smooth progress across
// stage boundaries.
const (
	progressPending      = 5.0
	progressAnalyzing    = 15.0
	progressComposeStart = 25.0
	progressComposeSpan  = 30.0 // composing interpolates on terminal clip count
	progressRenderStart  = 55.0
	progressRenderSpan   = 40.0
	progressValidating   = 95.0
	progressReviewing    = 97.0
	progressDone         = 100.0
)

// FormatProgress is the per-format breakdown exposed to callers.
type FormatProgress struct {
	Format       string  `json:"format"`
	Status       string  `json:"status"`
	Progress     float64 `json:"progress"`
	OutputURL    string  `json:"output_url,omitempty"`
	ThumbnailURL string  `json:"thumbnail_url,omitempty"`
	Error        string  `json:"error,omitempty"`
}

// RenderFraction reduces a bundle's render jobs to one completion fraction:
// the mean of per-job fractions, where terminal jobs count as 1.0 and
// in-flight jobs contribute their reported progress.
func RenderFraction(jobs []models.RenderJob) float64 {
	if len(jobs) == 0 {
		return 0
	}
	var sum float64
	for _, j := range jobs {
		if models.RenderTerminal(j.Status) {
			sum += 1.0
			continue
		}
		p := j.Progress
		if p < 0 {
			p = 0
		}
		if p > 1 {
			p = 1
		}
		sum += p
	}
	return sum / float64(len(jobs))
}

// ClipFraction is the share of clip slots that reached a terminal state.
func ClipFraction(jobs []models.ClipJob) float64 {
	if len(jobs) == 0 {
		return 0
	}
	terminal := 0
	for _, j := range jobs {
		if models.ClipTerminal(j.Status) {
			terminal++
		}
	}
	return float64(terminal) / float64(len(models.ClipTypes))
}

// OverallProgress maps the bundle's stage plus job-level fractions onto the
// 0-100 indicator.
func OverallProgress(status string, clipJobs []models.ClipJob, renderJobs []models.RenderJob) float64 {
	switch status {
	case models.BundleStatusPending:
		return progressPending
	case models.BundleStatusAnalyzing:
		return progressAnalyzing
	case models.BundleStatusComposing:
		return progressComposeStart + progressComposeSpan*ClipFraction(clipJobs)
	case models.BundleStatusRendering:
		return progressRenderStart + progressRenderSpan*RenderFraction(renderJobs)
	case models.BundleStatusValidating:
		return progressValidating
	case models.BundleStatusReviewing:
		return progressReviewing
	case models.BundleStatusCompleted, models.BundleStatusFailed:
		return progressDone
	}
	return 0
}

// PerFormat returns the per-format view in canonical format order.
func PerFormat(jobs []models.RenderJob) []FormatProgress {
	byFormat := make(map[string]models.RenderJob, len(jobs))
	for _, j := range jobs {
		byFormat[j.Format] = j
	}
	out := make([]FormatProgress, 0, len(models.RenderFormats))
	for _, f := range models.RenderFormats {
		j, ok := byFormat[f]
		if !ok {
			out = append(out, FormatProgress{Format: f, Status: models.RenderStatusPending})
			continue
		}
		fp := FormatProgress{
			Format:       f,
			Status:       j.Status,
			Progress:     j.Progress,
			OutputURL:    j.OutputURL,
			ThumbnailURL: j.ThumbnailURL,
			Error:        j.ErrorMessage,
		}
		if models.RenderTerminal(j.Status) && j.Status == models.RenderStatusCompleted {
			fp.Progress = 1.0
		}
		out = append(out, fp)
	}
	return out
}
