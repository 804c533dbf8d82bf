package reconciler

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	obslogger "github.com/coursekit/enroll/internal/observability/logger"
	"go.uber.org/zap"
)

// RunRecord is the durable bookkeeping row for one job execution, kept
// so operators can inspect sweep history without log archaeology.
type RunRecord struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	JobName    string       `gorm:"type:text;not null"`
	StartedAt  time.Time    `gorm:"not null"`
	FinishedAt *time.Time   `gorm:""`
	Processed  int          `gorm:"not null;default:0"`
	Failed     int          `gorm:"not null;default:0"`
	LastError  string       `gorm:"type:text;not null;default:''"`
}

// TableName sets the database table name.
func (RunRecord) TableName() string { return "reconciler_runs" }

type jobRun struct {
	record    RunRecord
	persisted bool
}

func (r *jobRun) AddProcessed(count int) {
	if r == nil || count <= 0 {
		return
	}
	r.record.Processed += count
}

func (r *jobRun) RecordError(err error) {
	if r == nil || err == nil {
		return
	}
	r.record.Failed++
	r.record.LastError = err.Error()
}

func (s *Service) beginRun(ctx context.Context, name string) *jobRun {
	run := &jobRun{record: RunRecord{
		ID:        s.genID.Generate(),
		JobName:   name,
		StartedAt: s.clock.Now(),
	}}

	err := s.db.WithContext(ctx).Exec(
		`INSERT INTO reconciler_runs (id, job_name, started_at, processed, failed, last_error)
		 VALUES (?, ?, ?, 0, 0, '')`,
		run.record.ID, run.record.JobName, run.record.StartedAt,
	).Error
	if err != nil {
		// Bookkeeping must never block the sweep itself.
		obslogger.FromContext(ctx).Warn("reconciler.run_log_failed",
			zap.String("job", name),
			zap.Error(err),
		)
		return run
	}
	run.persisted = true
	return run
}

func (s *Service) finishRun(ctx context.Context, run *jobRun) {
	if run == nil || !run.persisted {
		return
	}
	finishedAt := s.clock.Now()
	err := s.db.WithContext(ctx).Exec(
		`UPDATE reconciler_runs
		 SET finished_at = ?, processed = ?, failed = ?, last_error = ?
		 WHERE id = ?`,
		finishedAt, run.record.Processed, run.record.Failed, run.record.LastError, run.record.ID,
	).Error
	if err != nil {
		obslogger.FromContext(ctx).Warn("reconciler.run_log_failed",
			zap.String("job", run.record.JobName),
			zap.Error(err),
		)
	}
}
