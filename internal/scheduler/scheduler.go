package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/clientbilling/internal/clock"
	invoicedomain "github.com/smallbiznis/clientbilling/internal/invoice/domain"
	obsmetrics "github.com/smallbiznis/clientbilling/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const JobMarkOverdue = "mark_overdue"

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	InvoiceSvc invoicedomain.Service
	Redis      *redis.Client `optional:"true"`
	Config     Config        `optional:"true"`
}

type Scheduler struct {
	log        *zap.Logger
	cfg        Config
	genID      *snowflake.Node
	clock      clock.Clock
	invoiceSvc invoicedomain.Service
	locker     *Locker
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.InvoiceSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        p.Config.withDefaults(),
		genID:      p.GenID,
		clock:      p.Clock,
		invoiceSvc: p.InvoiceSvc,
		locker:     NewLocker(p.Redis),
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context, run *jobRun) error,
) error {
	schedMetrics := obsmetrics.Scheduler()

	token, acquired, err := s.locker.TryLock(parent, name, s.cfg.LockTTL)
	if err != nil {
		schedMetrics.IncJobError(name, err)
		return fmt.Errorf("%s: acquire lock: %w", name, err)
	}
	if !acquired {
		schedMetrics.IncJobError(name, obsmetrics.ErrLockHeld)
		s.log.Debug("scheduler.job.skipped", zap.String("job", name), zap.String("reason", obsmetrics.SchedulerJobReasonLockHeld))
		return nil
	}
	defer func() {
		if err := s.locker.Release(context.WithoutCancel(parent), name, token); err != nil {
			s.log.Warn("scheduler lock release failed", zap.String("job", name), zap.Error(err))
		}
	}()

	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	run := s.newJobRun(name)
	s.logJobStart(ctx, run)
	schedMetrics.IncJobRun(name)

	err = fn(ctx, run)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	if err != nil && run.errorCount == 0 {
		run.IncError()
	}
	s.logJobFinish(ctx, run)
	if err == nil {
		return nil
	}

	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		s.log.Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce executes every enabled job a single time.
func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context, *jobRun) error
	}{
		{JobMarkOverdue, s.markOverdueJob},
	}

	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, s.cfg.JobTimeout, job.Run))
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := time.Now()
	schedMetrics := obsmetrics.Scheduler()

	for {
		if runLag := time.Since(nextRun); runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

func (s *Scheduler) markOverdueJob(ctx context.Context, run *jobRun) error {
	count, err := s.invoiceSvc.MarkOverdue(ctx)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.invoice.overdue.failed", err)
		return err
	}
	run.AddProcessed(count)
	obsmetrics.Scheduler().AddBatchProcessed(JobMarkOverdue, "invoices", count)
	if count > 0 {
		s.logger(ctx).Info("invoice.marked_overdue",
			zap.Int64("count", count),
			zap.Time("as_of", s.clock.Now()),
		)
	}
	return nil
}
