// Package worker runs the pipeline's background side: the queue consumer that
// reacts to webhook-triggered advance jobs, and the periodic sweep that polls
// external services for bundles whose webhooks never arrived.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/promoreel/backend/internal/bundles"
	"github.com/promoreel/backend/pkg/queue"
)

// AdvanceProcessor consumes bundle-advance jobs and runs one reconcile pass each.
type AdvanceProcessor struct {
	service *bundles.Service
	queue   *queue.Queue
	logger  *zap.Logger
}

// NewAdvanceProcessor creates the queue consumer.
func NewAdvanceProcessor(service *bundles.Service, q *queue.Queue, logger *zap.Logger) *AdvanceProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdvanceProcessor{service: service, queue: q, logger: logger}
}

// Process executes one bundle-advance job. A vanished bundle is dropped, not
// retried; advance passes are idempotent so duplicate jobs are safe.
func (p *AdvanceProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeBundleAdvance {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.BundleAdvancePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	view, err := p.service.Status(ctx, payload.BundleID)
	if err != nil {
		if errors.Is(err, bundles.ErrNotFound) {
			p.logger.Warn("advance job for unknown bundle dropped",
				zap.String("bundle_id", payload.BundleID.String()))
			return nil
		}
		return fmt.Errorf("advance bundle %s: %w", payload.BundleID, err)
	}
	p.logger.Debug("bundle advanced",
		zap.String("bundle_id", payload.BundleID.String()),
		zap.String("reason", payload.Reason),
		zap.String("status", view.Bundle.Status),
		zap.Float64("progress", view.Overall))
	return nil
}

// Run starts the consumer loop: dequeue, process, retry on error.
func (p *AdvanceProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("advance worker stopping")
			return
		default:
		}

		job, _, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			time.Sleep(queue.RetryBackoff)
		}
	}
}

// Sweeper runs the periodic polling fallback so bundles keep moving even when
// no webhook arrives and nobody polls the status endpoint.
type Sweeper struct {
	service  *bundles.Service
	interval time.Duration
	logger   *zap.Logger
}

// NewSweeper creates the sweeper. interval <= 0 defaults to 30s.
func NewSweeper(service *bundles.Service, interval time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{service: service, interval: interval, logger: logger}
}

// Run sweeps on a ticker until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.logger.Info("sweep started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweep stopping")
			return
		case <-ticker.C:
			s.service.SweepActive(ctx)
		}
	}
}
