// Package worker consumes analysis jobs from the bus and publishes outcomes.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cordum/cjcard/core/analysis/pipeline"
	"github.com/cordum/cjcard/core/analysis/report"
	"github.com/cordum/cjcard/core/infra/bus"
	"github.com/cordum/cjcard/core/infra/logging"
	"github.com/google/uuid"
)

const (
	QueueGroup      = "workers-cjlint"
	defaultWorkerID = "worker-cjlint"
	storeRetryDelay = 5 * time.Second
)

// Bus is the subset of the NATS bus the worker needs.
type Bus interface {
	PublishWithID(subject, msgID string, v any) error
	Subscribe(subject, queue string, handler func([]byte) error) error
}

// Runner executes one analysis.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (*report.AnalysisResult, error)
}

// Job is the payload of job.cjlint.analyze.
type Job struct {
	RequestID string `json:"request_id,omitempty"`
	Repo      string `json:"repo"`
}

// Event is published on sys.cjlint.completed and sys.cjlint.failed.
type Event struct {
	RequestID   string `json:"request_id"`
	WorkerID    string `json:"worker_id"`
	Repo        string `json:"repo"`
	Commit      string `json:"commit,omitempty"`
	PackageName string `json:"package_name,omitempty"`
	Findings    int    `json:"findings"`
	Score       int    `json:"score,omitempty"`
	Grade       string `json:"grade,omitempty"`
	Error       string `json:"error,omitempty"`
	Code        string `json:"code,omitempty"`
}

type Worker struct {
	id     string
	bus    Bus
	runner Runner
	ctx    context.Context
}

func New(b Bus, runner Runner, id string) *Worker {
	if strings.TrimSpace(id) == "" {
		id = ResolveWorkerID(defaultWorkerID)
	}
	return &Worker{id: id, bus: b, runner: runner, ctx: context.Background()}
}

// Start subscribes to the job subject. ctx bounds every run triggered by the bus.
func (w *Worker) Start(ctx context.Context) error {
	w.ctx = ctx
	if err := w.bus.Subscribe(bus.SubjectAnalyze, QueueGroup, w.handle); err != nil {
		return fmt.Errorf("subscribe %s: %w", bus.SubjectAnalyze, err)
	}
	logging.Info("worker", "subscribed", "worker_id", w.id, "subject", bus.SubjectAnalyze, "queue", QueueGroup)
	return nil
}

func (w *Worker) handle(data []byte) error {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		logging.Error("worker", "dropping malformed job", "worker_id", w.id, "error", err)
		return nil
	}
	if strings.TrimSpace(job.RequestID) == "" {
		job.RequestID = uuid.NewString()
	}
	logging.Info("worker", "job received", "worker_id", w.id, "request_id", job.RequestID, "repo", job.Repo)

	res, err := w.runner.Run(w.ctx, pipeline.Request{ID: job.RequestID, Repo: job.Repo})
	if err != nil {
		kind := pipeline.KindOf(err)
		w.publish(bus.SubjectFailed, Event{
			RequestID: job.RequestID,
			WorkerID:  w.id,
			Repo:      job.Repo,
			Error:     err.Error(),
			Code:      string(kind),
		})
		if kind == pipeline.KindStore {
			return bus.RetryAfter(err, storeRetryDelay)
		}
		return nil
	}

	summary := report.Summarize(res.Cjlint)
	w.publish(bus.SubjectCompleted, Event{
		RequestID:   job.RequestID,
		WorkerID:    w.id,
		Repo:        job.Repo,
		Commit:      res.Commit,
		PackageName: res.PackageName,
		Findings:    len(res.Cjlint),
		Score:       summary.Score,
		Grade:       summary.Grade,
	})
	return nil
}

func (w *Worker) publish(subject string, ev Event) {
	// The request id is the JetStream de-duplication id.
	if err := w.bus.PublishWithID(subject, ev.RequestID, ev); err != nil {
		logging.Error("worker", "publish failed", "subject", subject, "request_id", ev.RequestID, "error", err)
	}
}

// ResolveWorkerID prefers WORKER_ID and otherwise suffixes defaultID with the hostname tail.
func ResolveWorkerID(defaultID string) string {
	if v := strings.TrimSpace(os.Getenv("WORKER_ID")); v != "" {
		return v
	}
	if h, err := os.Hostname(); err == nil && h != "" {
		if len(h) > 8 {
			h = h[len(h)-8:]
		}
		return fmt.Sprintf("%s-%s", defaultID, h)
	}
	return defaultID
}
