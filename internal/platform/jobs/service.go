package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"privacyd/internal/domain/compliance"
	"privacyd/internal/platform/config"
	"privacyd/internal/platform/querier"
)

const (
	JobExportCleanup   = "export_cleanup"
	JobComplianceSweep = "compliance_sweep"
	JobExpireOverdue   = "expire_overdue_requests"
)

// Cleaner sweeps expired export artifacts.
type Cleaner interface {
	CleanupExpired(ctx context.Context) (int, error)
}

// Expirer marks overdue rights requests expired.
type Expirer interface {
	ExpireOverdue(ctx context.Context) (int, error)
}

// Service runs background sweeps on a single worker fed by tickers. Every run
// is recorded in job_runs so operators can see when sweeps last happened.
type Service struct {
	DB      querier.Querier
	Cfg     config.Config
	cleaner Cleaner
	expirer Expirer
	monitor *compliance.Monitor
	queue   chan job
}

type job struct {
	Type string
	Run  func(context.Context) (any, error)
}

func New(db querier.Querier, cfg config.Config, cleaner Cleaner, expirer Expirer, monitor *compliance.Monitor) *Service {
	return &Service{
		DB:      db,
		Cfg:     cfg,
		cleaner: cleaner,
		expirer: expirer,
		monitor: monitor,
		queue:   make(chan job, 64),
	}
}

func (s *Service) Start(ctx context.Context) {
	go s.worker(ctx)
	if s.Cfg.CleanupInterval > 0 {
		go s.schedule(ctx, s.Cfg.CleanupInterval, s.enqueueCleanup)
	}
	if s.Cfg.ComplianceInterval > 0 {
		go s.schedule(ctx, s.Cfg.ComplianceInterval, s.enqueueCompliance)
	}
}

func (s *Service) Enqueue(jobType string, run func(context.Context) (any, error)) {
	select {
	case s.queue <- job{Type: jobType, Run: run}:
	default:
		slog.Warn("job queue full", "jobType", jobType)
	}
}

// RunNow executes a job synchronously, bypassing the queue.
func (s *Service) RunNow(ctx context.Context, jobType string, run func(context.Context) (any, error)) (any, error) {
	return s.runJob(ctx, job{Type: jobType, Run: run})
}

func (s *Service) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-s.queue:
			if _, err := s.runJob(ctx, j); err != nil {
				slog.Warn("job run failed", "jobType", j.Type, "err", err)
			}
		}
	}
}

func (s *Service) runJob(ctx context.Context, j job) (any, error) {
	runID := ""
	if err := s.DB.QueryRow(ctx, `
    INSERT INTO job_runs (job_type, status)
    VALUES ($1, $2)
    RETURNING id
  `, j.Type, "running").Scan(&runID); err != nil {
		slog.Warn("job run insert failed", "err", err)
	}

	details, err := j.Run(ctx)
	status := "completed"
	if err != nil {
		status = "failed"
	}
	detailsJSON, marshalErr := json.Marshal(details)
	if marshalErr != nil {
		slog.Warn("job details marshal failed", "err", marshalErr)
		detailsJSON = []byte("{}")
	}
	if runID != "" {
		if _, updErr := s.DB.Exec(ctx, `
      UPDATE job_runs
      SET status = $1, details_json = $2, completed_at = now()
      WHERE id = $3
    `, status, detailsJSON, runID); updErr != nil {
			slog.Warn("job run update failed", "err", updErr)
		}
	}
	return details, err
}

func (s *Service) schedule(ctx context.Context, interval time.Duration, enqueue func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			enqueue()
		}
	}
}

func (s *Service) enqueueCleanup() {
	s.Enqueue(JobExportCleanup, func(ctx context.Context) (any, error) {
		cleaned, err := s.cleaner.CleanupExpired(ctx)
		return map[string]any{"cleaned": cleaned}, err
	})
	if s.Cfg.ExpireOverdue {
		s.Enqueue(JobExpireOverdue, func(ctx context.Context) (any, error) {
			expired, err := s.expirer.ExpireOverdue(ctx)
			return map[string]any{"expired": expired}, err
		})
	}
}

func (s *Service) enqueueCompliance() {
	s.Enqueue(JobComplianceSweep, func(ctx context.Context) (any, error) {
		reports, err := s.monitor.Run(ctx)
		if err != nil {
			return nil, err
		}
		for _, report := range reports {
			if report.Status != compliance.StatusCompliant {
				slog.Warn("compliance check flagged",
					"check", report.Name,
					"status", string(report.Status),
					"count", report.Count)
			}
		}
		return map[string]any{"checks": len(reports)}, nil
	})
}
