package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smallbiznis/reconciler/internal/clock"
	obsmetrics "github.com/smallbiznis/reconciler/internal/observability/metrics"
	reconciliationdomain "github.com/smallbiznis/reconciler/internal/reconciliation/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log               *zap.Logger
	Clock             clock.Clock
	ReconciliationSvc reconciliationdomain.Service
	Config            Config `optional:"true"`
	Locker            Locker `optional:"true"`
}

type Scheduler struct {
	log               *zap.Logger
	cfg               Config
	clock             clock.Clock
	reconciliationSvc reconciliationdomain.Service
	locker            Locker
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.ReconciliationSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:               p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:               p.Config.withDefaults(),
		clock:             p.Clock,
		reconciliationSvc: p.ReconciliationSvc,
		locker:            p.Locker,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run := s.startJobRun(ctx, name)
	s.logJobStart(ctx, run)
	log := s.logger(ctx).With(zap.String("job", name))
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if err != nil {
		run.IncError()
	}
	s.logJobFinish(ctx, run)
	if err == nil {
		return nil
	}

	// Deadlines are soft; the next tick covers the following window.
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce reconciles the window ending now. When a locker is configured the
// run is skipped if another replica holds the lock.
func (s *Scheduler) RunOnce(parent context.Context) error {
	if s.locker == nil {
		return s.runJob(parent, JobReconciliation, s.cfg.JobTimeout, s.ReconcileJob)
	}

	token, acquired, err := s.locker.TryLock(parent, s.cfg.LockKey, s.cfg.LockTTL)
	if err != nil {
		return fmt.Errorf("%s: acquire lock: %w", JobReconciliation, err)
	}
	if !acquired {
		obsmetrics.Scheduler().IncJobSkipped(JobReconciliation, obsmetrics.SchedulerSkipReasonLockHeld)
		s.log.Info("scheduler.job.skipped",
			zap.String("job", JobReconciliation),
			zap.String("reason", obsmetrics.SchedulerSkipReasonLockHeld),
		)
		return nil
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.locker.Release(releaseCtx, s.cfg.LockKey, token); err != nil {
			s.log.Warn("release scheduler lock failed", zap.Error(err))
		}
	}()

	return s.runJob(parent, JobReconciliation, s.cfg.JobTimeout, s.ReconcileJob)
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		runLag := s.clock.Now().Sub(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)
	}
}

// ReconcileJob reconciles [now-window, now] and records any discrepancies.
func (s *Scheduler) ReconcileJob(ctx context.Context) error {
	end := s.clock.Now().UTC()
	start := end.Add(-s.cfg.Window)

	result, err := s.reconciliationSvc.Reconcile(ctx, reconciliationdomain.RunRequest{
		Start:        &start,
		End:          &end,
		LogForReview: true,
	})
	if err != nil {
		return err
	}

	run := jobRunFromContext(ctx)
	run.AddProcessed(result.LedgerTotals.TransactionCount)
	s.logger(ctx).Info("scheduler.reconciliation.done",
		zap.Time("start", start),
		zap.Time("end", end),
		zap.Int("discrepancy_count", len(result.Discrepancies)),
		zap.Bool("resolved", result.Resolved),
	)
	return nil
}
