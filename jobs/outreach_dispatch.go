package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/duepilot/duepilot/internal/jobs"
	"github.com/duepilot/duepilot/internal/outreach"
)

// Dispatcher drains one batch of due scheduled actions.
type Dispatcher interface {
	Run(ctx context.Context) (outreach.BatchResult, error)
}

// OutreachDispatchJob runs the executor on a cron cadence. Scheduling
// resolution is the cron interval; per-action times are floors, not exact
// send moments.
type OutreachDispatchJob struct {
	Dispatcher Dispatcher
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
}

// NewOutreachDispatchJob initialises the handler.
func NewOutreachDispatchJob(dispatcher Dispatcher, logger *slog.Logger, metrics *jobmetrics.Metrics) *OutreachDispatchJob {
	return &OutreachDispatchJob{Dispatcher: dispatcher, Logger: logger, Metrics: metrics}
}

// Handle executes one dispatch run.
func (j *OutreachDispatchJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Dispatcher == nil {
		return errors.New("outreach dispatch: handler not configured")
	}

	tracker := j.metrics().Track(TaskOutreachDispatch)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := time.Now()
	logger := j.logger()

	result, err := j.Dispatcher.Run(ctx)
	if err != nil {
		resultErr = err
		logger.Error("dispatch failed", slog.Any("error", err))
		return resultErr
	}

	j.metrics().AddActions("successful", result.Successful)
	j.metrics().AddActions("failed", result.Failed)

	if result.Processed > 0 {
		logger.Info("completed dispatch",
			slog.Int("processed", result.Processed),
			slog.Int("successful", result.Successful),
			slog.Int("failed", result.Failed),
			slog.Duration("duration", time.Since(start)),
		)
	}
	return resultErr
}

func (j *OutreachDispatchJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskOutreachDispatch))
	}
	return slog.Default().With(slog.String("job", TaskOutreachDispatch))
}

func (j *OutreachDispatchJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
