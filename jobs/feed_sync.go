package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/duepilot/duepilot/internal/integration"
	jobmetrics "github.com/duepilot/duepilot/internal/jobs"
)

// ConnectedOrgs lists organizations with a working feed of the kind.
type ConnectedOrgs interface {
	ListConnected(ctx context.Context, kind integration.Kind) ([]uuid.UUID, error)
}

// Syncer runs one organization's pull.
type Syncer interface {
	Sync(ctx context.Context, orgID uuid.UUID) (integration.SyncResult, error)
}

// FeedSyncJob drives one feed kind across every connected organization. The
// same handler serves both accounting and bank syncs; the kind and task name
// select the feed. Organizations run sequentially: sync volume is small and
// the payment monitor serialises per invoice anyway.
type FeedSyncJob struct {
	Task    string
	Kind    integration.Kind
	Orgs    ConnectedOrgs
	Syncer  Syncer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewAccountingSyncJob initialises the accounting feed handler.
func NewAccountingSyncJob(orgs ConnectedOrgs, syncer Syncer, logger *slog.Logger, metrics *jobmetrics.Metrics) *FeedSyncJob {
	return &FeedSyncJob{
		Task:    TaskSyncAccounting,
		Kind:    integration.KindAccounting,
		Orgs:    orgs,
		Syncer:  syncer,
		Logger:  logger,
		Metrics: metrics,
	}
}

// NewBankSyncJob initialises the bank feed handler.
func NewBankSyncJob(orgs ConnectedOrgs, syncer Syncer, logger *slog.Logger, metrics *jobmetrics.Metrics) *FeedSyncJob {
	return &FeedSyncJob{
		Task:    TaskSyncBank,
		Kind:    integration.KindBank,
		Orgs:    orgs,
		Syncer:  syncer,
		Logger:  logger,
		Metrics: metrics,
	}
}

// Handle executes one sync run.
func (j *FeedSyncJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Syncer == nil {
		return errors.New("feed sync: handler not configured")
	}
	var payload OrgScopedPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	tracker := j.metrics().Track(j.Task)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := time.Now()
	logger := j.logger()

	orgs, err := j.orgIDs(ctx, payload)
	if err != nil {
		resultErr = err
		logger.Error("list connected organizations", slog.Any("error", err))
		return resultErr
	}

	var total integration.SyncResult
	failures := 0
	for _, orgID := range orgs {
		result, err := j.Syncer.Sync(ctx, orgID)
		if err != nil {
			failures++
			logger.Error("sync failed", slog.String("org_id", orgID.String()), slog.Any("error", err))
			continue
		}
		total.Fetched += result.Fetched
		total.Recorded += result.Recorded
		total.Skipped += result.Skipped
		total.Failed += result.Failed
	}
	j.metrics().AddRecoveries(string(j.Kind), total.Recorded)

	logger.Info("completed feed sync",
		slog.Int("orgs", len(orgs)),
		slog.Int("fetched", total.Fetched),
		slog.Int("recorded", total.Recorded),
		slog.Int("skipped", total.Skipped),
		slog.Int("record_failures", total.Failed),
		slog.Int("org_failures", failures),
		slog.Duration("duration", time.Since(start)),
	)
	if failures > 0 && failures == len(orgs) && len(orgs) > 0 {
		resultErr = fmt.Errorf("feed sync: all %d organizations failed", len(orgs))
	}
	return resultErr
}

func (j *FeedSyncJob) orgIDs(ctx context.Context, payload OrgScopedPayload) ([]uuid.UUID, error) {
	if payload.OrgID != nil {
		return []uuid.UUID{*payload.OrgID}, nil
	}
	return j.Orgs.ListConnected(ctx, j.Kind)
}

func (j *FeedSyncJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", j.Task))
	}
	return slog.Default().With(slog.String("job", j.Task))
}

func (j *FeedSyncJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
