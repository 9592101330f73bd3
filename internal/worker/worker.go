package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/luqma-backoffice/backend/internal/reconcile"
	"github.com/luqma-backoffice/backend/pkg/queue"
)

// JobQueue is the subset of queue.Queue the processor needs.
type JobQueue interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job, cause error) error
}

// PrincipalReconciler rebuilds one principal's claims from its records.
type PrincipalReconciler interface {
	ReconcilePrincipal(ctx context.Context, uid string) (reconcile.PrincipalResult, error)
}

// ClaimsResyncProcessor repairs principals whose claim write failed after their record was saved.
type ClaimsResyncProcessor struct {
	reconciler PrincipalReconciler
	queue      JobQueue
	logger     *zap.Logger
	backoff    time.Duration
}

// NewClaimsResyncProcessor creates a claims resync processor.
func NewClaimsResyncProcessor(reconciler PrincipalReconciler, q JobQueue, logger *zap.Logger) *ClaimsResyncProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClaimsResyncProcessor{reconciler: reconciler, queue: q, logger: logger, backoff: queue.RetryBackoff}
}

// Process executes one claims resync job.
func (p *ClaimsResyncProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeClaimsResync {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.ClaimsResyncPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	if payload.UID == "" {
		return fmt.Errorf("job %s has no uid", job.ID)
	}

	res, err := p.reconciler.ReconcilePrincipal(ctx, payload.UID)
	if err != nil {
		return fmt.Errorf("resync %s: %w", payload.UID, err)
	}
	p.logger.Info("claims resync completed",
		zap.String("job_id", job.ID),
		zap.String("uid", payload.UID),
		zap.String("reason", payload.Reason),
		zap.Bool("drifted", res.Drifted),
	)
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *ClaimsResyncProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("claims resync worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job, err); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
		}
	}
}

func (p *ClaimsResyncProcessor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
