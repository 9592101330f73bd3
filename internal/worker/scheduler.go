package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/luqma-backoffice/backend/internal/reconcile"
)

// Reconciler runs a full reconciliation pass.
type Reconciler interface {
	Run(ctx context.Context, opts reconcile.Options) (*reconcile.Report, error)
}

// ReconcileScheduler runs the reconciliation job on a fixed interval.
// Run it on a single worker instance so report counts stay meaningful.
type ReconcileScheduler struct {
	job      Reconciler
	interval time.Duration
	opts     reconcile.Options
	logger   *zap.Logger
}

// NewReconcileScheduler creates a scheduler. An interval <= 0 disables it.
func NewReconcileScheduler(job Reconciler, interval time.Duration, opts reconcile.Options, logger *zap.Logger) *ReconcileScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReconcileScheduler{job: job, interval: interval, opts: opts, logger: logger}
}

// Run blocks until ctx is done, reconciling once per interval.
func (s *ReconcileScheduler) Run(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info("periodic reconciliation disabled")
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("reconcile scheduler stopping")
			return
		case <-ticker.C:
			if _, err := s.job.Run(ctx, s.opts); err != nil && ctx.Err() == nil {
				s.logger.Error("scheduled reconciliation failed", zap.Error(err))
			}
		}
	}
}
