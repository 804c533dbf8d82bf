// Package reconciler runs the periodic sweep that keeps billing plans,
// access grants and renewal payments consistent with each other. It is
// the only writer that moves plans to SETTLED and the only caller of
// the renewal orchestrator.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/coursekit/enroll/internal/clock"
	"github.com/coursekit/enroll/internal/config"
	grantdomain "github.com/coursekit/enroll/internal/grant/domain"
	identitydomain "github.com/coursekit/enroll/internal/identity/domain"
	notificationservice "github.com/coursekit/enroll/internal/notification/service"
	obslogger "github.com/coursekit/enroll/internal/observability/logger"
	obsmetrics "github.com/coursekit/enroll/internal/observability/metrics"
	offeringdomain "github.com/coursekit/enroll/internal/offering/domain"
	plandomain "github.com/coursekit/enroll/internal/plan/domain"
	"github.com/coursekit/enroll/internal/policy"
	"github.com/coursekit/enroll/internal/renewal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("reconciler: missing dependency")

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	ConfigHolder *config.ReconcilerConfigHolder
	Plans        plandomain.Repository
	Grants       grantdomain.Repository
	GrantSvc     grantdomain.Service
	Offerings    offeringdomain.Repository
	Identity     identitydomain.Resolver
	Resolver     *policy.CachedResolver
	Orchestrator *renewal.Orchestrator
	Outbox       *notificationservice.Outbox
	GenID        *snowflake.Node
	Clock        clock.Clock
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	cfg          *config.ReconcilerConfigHolder
	plans        plandomain.Repository
	grants       grantdomain.Repository
	grantSvc     grantdomain.Service
	offerings    offeringdomain.Repository
	identity     identitydomain.Resolver
	resolver     *policy.CachedResolver
	orchestrator *renewal.Orchestrator
	outbox       *notificationservice.Outbox
	genID        *snowflake.Node
	clock        clock.Clock
}

func New(p Params) (*Service, error) {
	if p.DB == nil || p.Log == nil || p.ConfigHolder == nil || p.Plans == nil || p.Grants == nil ||
		p.GrantSvc == nil || p.Offerings == nil || p.Identity == nil || p.Resolver == nil ||
		p.Orchestrator == nil || p.Outbox == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("reconciler").With(zap.String("component", "reconciler")),
		cfg:          p.ConfigHolder,
		plans:        p.Plans,
		grants:       p.Grants,
		grantSvc:     p.GrantSvc,
		offerings:    p.Offerings,
		identity:     p.Identity,
		resolver:     p.Resolver,
		orchestrator: p.Orchestrator,
		outbox:       p.Outbox,
		genID:        p.GenID,
		clock:        p.Clock,
	}, nil
}

func (s *Service) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context, run *jobRun) error,
) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	run := s.beginRun(parent, name)
	recMetrics := obsmetrics.Reconciler()
	recMetrics.IncJobRun(name)

	err := fn(ctx, run)
	recMetrics.ObserveJobDuration(name, time.Since(start))
	if err != nil {
		run.RecordError(err)
	}
	s.finishRun(parent, run)

	log := s.log.With(
		zap.String("job", name),
		zap.String("run_id", run.record.ID.String()),
		zap.Int("processed_count", run.record.Processed),
		zap.Int("error_count", run.record.Failed),
	)
	if err == nil {
		log.Info("reconciler.job.finish")
		return nil
	}

	// A deadline is a soft timeout: the next cycle picks up where this
	// one stopped.
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		recMetrics.IncJobTimeout(name)
	}
	recMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("reconciler.job.timeout",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	log.Warn("reconciler.job.finish", zap.Error(err))
	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce executes one full sweep: plan reconciliation, the grant
// expiry sweep, and the notification outbox drain. Job failures are
// joined, never fatal to the other jobs.
func (s *Service) RunOnce(parent context.Context) error {
	var err error

	// Policy blobs may change between sweeps; each run re-reads them.
	s.resolver.Flush()

	err = errors.Join(err, s.runJob(parent, "reconcile_plans", 5*time.Minute, s.ReconcilePlansJob))
	err = errors.Join(err, s.runJob(parent, "expire_grants", 30*time.Second, s.ExpireGrantsJob))
	err = errors.Join(err, s.runJob(parent, "dispatch_notifications", 30*time.Second, s.DispatchNotificationsJob))

	return err
}

func (s *Service) RunForever(ctx context.Context) {
	cfg := s.cfg.Get()
	ticker := time.NewTicker(cfg.RunInterval)
	defer ticker.Stop()
	nextRun := time.Now().Add(cfg.RunInterval)
	recMetrics := obsmetrics.Reconciler()

	for {
		runLag := time.Since(nextRun)
		if runLag > 0 {
			recMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("reconciler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if interval := s.cfg.Get().RunInterval; interval != cfg.RunInterval {
				cfg.RunInterval = interval
				ticker.Reset(interval)
			}
		}
	}
}

// ExpireGrantsJob flips lapsed ACTIVE grants to EXPIRED. Expiry is
// date-driven: the grant service owns the batch sweep, this job only
// schedules it.
func (s *Service) ExpireGrantsJob(ctx context.Context, run *jobRun) error {
	transitioned, err := s.grantSvc.ExpireDue(ctx, s.cfg.Get().BatchSize)
	run.AddProcessed(int(transitioned))
	if err != nil {
		obslogger.FromContext(ctx).Error("reconciler.expire_grants_failed", zap.Error(err))
	}
	return err
}

func (s *Service) DispatchNotificationsJob(ctx context.Context, run *jobRun) error {
	sent, err := s.outbox.Dispatch(ctx, s.cfg.Get().BatchSize)
	run.AddProcessed(sent)
	return err
}
