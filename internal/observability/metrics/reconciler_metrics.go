package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	ReconcilerErrorReasonDeadlineExceeded = "deadline_exceeded"
	ReconcilerErrorReasonStorageConflict  = "storage_conflict"
	ReconcilerErrorReasonIdentity         = "identity_unavailable"
	ReconcilerErrorReasonPaymentBoundary  = "payment_boundary"
	ReconcilerErrorReasonDB               = "db"
	ReconcilerErrorReasonUnknown          = "unknown"
)

const (
	PlanDispositionStillValid    = "still_valid"
	PlanDispositionDueForRenewal = "due_for_renewal"
	PlanDispositionExpired       = "expired_no_renewal"
)

const (
	PlanSkipReasonNoEndDate   = "no_end_date"
	PlanSkipReasonNoGrants    = "no_active_grants"
	PlanSkipReasonNoPolicy    = "no_parseable_policy"
	PlanSkipReasonNoIdentity  = "identity_unavailable"
	PlanSkipReasonError       = "error"
	PlanSkipReasonRenewalHeld = "renewal_pending"
)

// Config carries labels stamped on every reconciler metric.
type Config struct {
	ServiceName string
	Environment string
}

// ReconcilerMetrics captures plan-reconciliation health signals.
type ReconcilerMetrics struct {
	jobRuns          *prometheus.CounterVec
	jobDuration      *prometheus.HistogramVec
	jobTimeouts      *prometheus.CounterVec
	jobErrors        *prometheus.CounterVec
	plansProcessed   *prometheus.CounterVec
	plansSkipped     *prometheus.CounterVec
	grantTransitions *prometheus.CounterVec
	renewalAttempts  *prometheus.CounterVec
	runLoopLag       prometheus.Observer
}

var (
	reconcilerMetricsOnce sync.Once
	reconcilerMetrics     *ReconcilerMetrics
)

// Reconciler returns the singleton reconciler metrics registry.
func Reconciler() *ReconcilerMetrics {
	return ReconcilerWithConfig(Config{})
}

// ReconcilerWithConfig returns the singleton using config labels.
func ReconcilerWithConfig(cfg Config) *ReconcilerMetrics {
	reconcilerMetricsOnce.Do(func() {
		reconcilerMetrics = newReconcilerMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return reconcilerMetrics
}

// ResetReconcilerMetricsForTest resets the singleton for tests.
func ResetReconcilerMetricsForTest() {
	reconcilerMetricsOnce = sync.Once{}
	reconcilerMetrics = nil
}

func newReconcilerMetrics(registerer prometheus.Registerer, cfg Config) *ReconcilerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "enroll"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "enroll_reconciler_job_runs_total",
		Help:        "Reconciler job runs by name.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "enroll_reconciler_job_duration_seconds",
		Help:        "Reconciler job latency.",
		Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
		ConstLabels: constLabels,
	}, []string{"job"})
	jobTimeouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "enroll_reconciler_job_timeouts_total",
		Help:        "Reconciler jobs that hit their deadline.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "enroll_reconciler_job_errors_total",
		Help:        "Reconciler job errors by classified reason.",
		ConstLabels: constLabels,
	}, []string{"job", "reason"})
	plansProcessed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "enroll_reconciler_plans_processed_total",
		Help:        "Billing plans processed by disposition.",
		ConstLabels: constLabels,
	}, []string{"disposition", "source"})
	plansSkipped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "enroll_reconciler_plans_skipped_total",
		Help:        "Billing plans skipped this cycle by reason.",
		ConstLabels: constLabels,
	}, []string{"reason"})
	grantTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "enroll_grant_transitions_total",
		Help:        "Access grant status transitions.",
		ConstLabels: constLabels,
	}, []string{"from", "to"})
	renewalAttempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "enroll_renewal_attempts_total",
		Help:        "Renewal payment submissions and confirmed outcomes.",
		ConstLabels: constLabels,
	}, []string{"result"})
	runLoopLag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "enroll_reconciler_run_loop_lag_seconds",
		Help:        "How far behind schedule the run loop started.",
		Buckets:     []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		ConstLabels: constLabels,
	})

	collectors := []prometheus.Collector{
		jobRuns, jobDuration, jobTimeouts, jobErrors,
		plansProcessed, plansSkipped, grantTransitions, renewalAttempts, runLoopLag,
	}
	for _, c := range collectors {
		if err := registerer.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				panic(err)
			}
		}
	}

	return &ReconcilerMetrics{
		jobRuns:          jobRuns,
		jobDuration:      jobDuration,
		jobTimeouts:      jobTimeouts,
		jobErrors:        jobErrors,
		plansProcessed:   plansProcessed,
		plansSkipped:     plansSkipped,
		grantTransitions: grantTransitions,
		renewalAttempts:  renewalAttempts,
		runLoopLag:       runLoopLag,
	}
}

func (m *ReconcilerMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *ReconcilerMetrics) ObserveJobDuration(job string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

func (m *ReconcilerMetrics) IncJobTimeout(job string) {
	if m == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

func (m *ReconcilerMetrics) IncJobError(job string, err error) {
	if m == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifyReconcilerError(err)).Inc()
}

func (m *ReconcilerMetrics) IncPlanProcessed(disposition, source string) {
	if m == nil {
		return
	}
	m.plansProcessed.WithLabelValues(disposition, source).Inc()
}

func (m *ReconcilerMetrics) IncPlanSkipped(reason string) {
	if m == nil {
		return
	}
	m.plansSkipped.WithLabelValues(reason).Inc()
}

func (m *ReconcilerMetrics) IncGrantTransition(from, to string) {
	if m == nil {
		return
	}
	m.grantTransitions.WithLabelValues(from, to).Inc()
}

func (m *ReconcilerMetrics) IncRenewalAttempt(result string) {
	if m == nil {
		return
	}
	m.renewalAttempts.WithLabelValues(result).Inc()
}

func (m *ReconcilerMetrics) ObserveRunLoopLag(duration time.Duration) {
	if m == nil {
		return
	}
	m.runLoopLag.Observe(duration.Seconds())
}

// ClassifyReconcilerError buckets batch errors for the error counter.
func ClassifyReconcilerError(err error) string {
	switch {
	case err == nil:
		return ReconcilerErrorReasonUnknown
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ReconcilerErrorReasonDeadlineExceeded
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ReconcilerErrorReasonDB
	case isConflict(err):
		return ReconcilerErrorReasonStorageConflict
	default:
		return ReconcilerErrorReasonUnknown
	}
}

func isConflict(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "could not serialize access") ||
		strings.Contains(msg, "deadlock") ||
		strings.Contains(msg, "database is locked")
}
