package pipeline

import (
	"context"
	"time"

	"github.com/cordum/cjcard/core/infra/logging"
	"github.com/cordum/cjcard/core/infra/metrics"
)

// Stage names a pipeline state.
type Stage string

const (
	StageConfigured        Stage = "configured"
	StageProvisioning      Stage = "provisioning"
	StageWorkspaceAcquired Stage = "workspace_acquired"
	StageSourceFetched     Stage = "source_fetched"
	StageMetadataResolved  Stage = "metadata_resolved"
	StageAnalyzed          Stage = "analyzed"
	StageNormalized        Stage = "normalized"
	StageStored            Stage = "stored"
	StageWorkspaceReleased Stage = "workspace_released"
)

// StageEvent is emitted when a stage completes or fails. Error and Kind are
// set on failure; the terminal released event carries the run's error, if any.
type StageEvent struct {
	RequestID string        `json:"request_id"`
	Repo      string        `json:"repo"`
	Stage     Stage         `json:"stage"`
	Error     string        `json:"error,omitempty"`
	Kind      Kind          `json:"code,omitempty"`
	Duration  time.Duration `json:"duration_ns"`
	Time      time.Time     `json:"time"`
}

// Observer receives stage events. Implementations must not block.
type Observer interface {
	Stage(ctx context.Context, ev StageEvent)
}

// Observers fans an event out to every member.
type Observers []Observer

func (o Observers) Stage(ctx context.Context, ev StageEvent) {
	for _, obs := range o {
		if obs != nil {
			obs.Stage(ctx, ev)
		}
	}
}

// LogObserver writes every event through the logging package.
type LogObserver struct{}

func (LogObserver) Stage(_ context.Context, ev StageEvent) {
	if ev.Error != "" {
		logging.Error("pipeline", "stage failed", "request_id", ev.RequestID, "repo", ev.Repo, "stage", ev.Stage, "kind", ev.Kind, "error", ev.Error)
		return
	}
	logging.Info("pipeline", "stage", "request_id", ev.RequestID, "repo", ev.Repo, "stage", ev.Stage, "elapsed", ev.Duration.Round(time.Millisecond))
}

// MetricsObserver feeds stage durations into PipelineMetrics.
type MetricsObserver struct {
	Metrics metrics.PipelineMetrics
}

func (m MetricsObserver) Stage(_ context.Context, ev StageEvent) {
	if m.Metrics == nil || ev.Duration <= 0 {
		return
	}
	m.Metrics.ObserveStage(string(ev.Stage), ev.Duration.Seconds())
}
