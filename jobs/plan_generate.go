package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/duepilot/duepilot/internal/config"
	jobmetrics "github.com/duepilot/duepilot/internal/jobs"
	"github.com/duepilot/duepilot/internal/plan"
)

// OrgSource enumerates organizations and refreshes overdue flags before
// analysis.
type OrgSource interface {
	ListOrganizationIDs(ctx context.Context) ([]uuid.UUID, error)
	RefreshOverdueFlags(ctx context.Context, orgID uuid.UUID, asOf time.Time) (int64, error)
}

// PlanGenerator produces one organization's pending plan.
type PlanGenerator interface {
	Generate(ctx context.Context, orgID uuid.UUID) (*plan.ActionPlan, error)
}

// PlanGenerateJob fans plan generation out over every organization with open
// invoices, bounded by the analysis concurrency.
type PlanGenerateJob struct {
	Cfg     config.EngineConfig
	Orgs    OrgSource
	Plans   PlanGenerator
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewPlanGenerateJob initialises the handler.
func NewPlanGenerateJob(cfg config.EngineConfig, orgs OrgSource, plans PlanGenerator, logger *slog.Logger, metrics *jobmetrics.Metrics) *PlanGenerateJob {
	return &PlanGenerateJob{
		Cfg:     cfg,
		Orgs:    orgs,
		Plans:   plans,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes one generation run.
func (j *PlanGenerateJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("plan generate: handler not configured")
	}
	var payload OrgScopedPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	tracker := j.metrics().Track(TaskPlanGenerate)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger()
	now := j.now()

	orgs, err := j.orgIDs(ctx, payload)
	if err != nil {
		resultErr = err
		logger.Error("list organizations", slog.Any("error", err))
		return resultErr
	}
	logger.Info("starting plan generation", slog.Int("orgs", len(orgs)))

	var generated, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.concurrency())
	for _, orgID := range orgs {
		orgID := orgID
		g.Go(func() error {
			if flipped, err := j.Orgs.RefreshOverdueFlags(gctx, orgID, now); err != nil {
				failed.Add(1)
				logger.Error("refresh overdue flags", slog.String("org_id", orgID.String()), slog.Any("error", err))
				return nil
			} else if flipped > 0 {
				logger.Info("invoices flipped overdue", slog.String("org_id", orgID.String()), slog.Int64("count", flipped))
			}

			p, err := j.Plans.Generate(gctx, orgID)
			if err != nil {
				failed.Add(1)
				logger.Error("generate plan", slog.String("org_id", orgID.String()), slog.Any("error", err))
				return nil
			}
			if p == nil {
				return nil
			}
			generated.Add(1)
			for _, alert := range p.Snapshot.Alerts {
				j.metrics().AddAlerts(string(alert.Severity), 1)
			}
			return nil
		})
	}
	_ = g.Wait()

	logger.Info("completed plan generation",
		slog.Int("orgs", len(orgs)),
		slog.Int64("plans", generated.Load()),
		slog.Int64("failures", failed.Load()),
		slog.Duration("duration", time.Since(now)),
	)
	if failed.Load() > 0 && generated.Load() == 0 && len(orgs) > 0 {
		resultErr = fmt.Errorf("plan generate: all %d organizations failed", len(orgs))
	}
	return resultErr
}

func (j *PlanGenerateJob) orgIDs(ctx context.Context, payload OrgScopedPayload) ([]uuid.UUID, error) {
	if payload.OrgID != nil {
		return []uuid.UUID{*payload.OrgID}, nil
	}
	return j.Orgs.ListOrganizationIDs(ctx)
}

func (j *PlanGenerateJob) concurrency() int {
	if j.Cfg.AnalysisConcurrency > 0 {
		return j.Cfg.AnalysisConcurrency
	}
	return 1
}

func (j *PlanGenerateJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskPlanGenerate))
	}
	return slog.Default().With(slog.String("job", TaskPlanGenerate))
}

func (j *PlanGenerateJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *PlanGenerateJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
