package jobs

import jobmetrics "github.com/duepilot/duepilot/internal/jobs"

// defaultJobMetrics backs handlers constructed without explicit metrics.
var defaultJobMetrics = jobmetrics.NewMetrics(nil)
