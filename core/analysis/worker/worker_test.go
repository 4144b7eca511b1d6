package worker

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/cordum/cjcard/core/analysis/pipeline"
	"github.com/cordum/cjcard/core/analysis/report"
	"github.com/cordum/cjcard/core/infra/bus"
)

type published struct {
	subject string
	msgID   string
	event   Event
}

type fakeBus struct {
	mu        sync.Mutex
	handler   func([]byte) error
	subject   string
	queue     string
	published []published
	subErr    error
}

func (f *fakeBus) PublishWithID(subject, msgID string, v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, published{subject: subject, msgID: msgID, event: v.(Event)})
	return nil
}

func (f *fakeBus) Subscribe(subject, queue string, handler func([]byte) error) error {
	if f.subErr != nil {
		return f.subErr
	}
	f.subject, f.queue, f.handler = subject, queue, handler
	return nil
}

type fakeRunner struct {
	req pipeline.Request
	res *report.AnalysisResult
	err error
}

func (f *fakeRunner) Run(_ context.Context, req pipeline.Request) (*report.AnalysisResult, error) {
	f.req = req
	return f.res, f.err
}

func startWorker(t *testing.T, runner Runner) (*Worker, *fakeBus) {
	t.Helper()
	b := &fakeBus{}
	w := New(b, runner, "worker-test")
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if b.subject != bus.SubjectAnalyze || b.queue != QueueGroup {
		t.Fatalf("unexpected subscription %s/%s", b.subject, b.queue)
	}
	return w, b
}

func jobBytes(t *testing.T, job Job) []byte {
	t.Helper()
	data, err := json.Marshal(job)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func TestHandleSuccessPublishesCompleted(t *testing.T) {
	runner := &fakeRunner{res: &report.AnalysisResult{
		Cjlint:      []report.Finding{{DefectLevel: report.Mandatory}},
		Commit:      "abc",
		PackageName: "demo",
	}}
	_, b := startWorker(t, runner)
	if err := b.handler(jobBytes(t, Job{RequestID: "r1", Repo: "https://x/y"})); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if runner.req.ID != "r1" || runner.req.Repo != "https://x/y" {
		t.Fatalf("unexpected request %+v", runner.req)
	}
	if len(b.published) != 1 || b.published[0].subject != bus.SubjectCompleted {
		t.Fatalf("expected completed event, got %+v", b.published)
	}
	ev := b.published[0].event
	if ev.Commit != "abc" || ev.Findings != 1 || ev.Score != 95 || ev.Grade != "A+" || ev.WorkerID != "worker-test" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if b.published[0].msgID != "r1" {
		t.Fatalf("expected request id as de-duplication id, got %q", b.published[0].msgID)
	}
}

func TestHandleFailurePublishesFailed(t *testing.T) {
	runner := &fakeRunner{err: &pipeline.Error{Kind: pipeline.KindFetch, Op: "clone repository", Err: errors.New("not found")}}
	_, b := startWorker(t, runner)
	if err := b.handler(jobBytes(t, Job{Repo: "https://x/y"})); err != nil {
		t.Fatalf("fetch failures are acked, got %v", err)
	}
	if len(b.published) != 1 || b.published[0].subject != bus.SubjectFailed {
		t.Fatalf("expected failed event, got %+v", b.published)
	}
	ev := b.published[0].event
	if ev.Code != "fetch" || !strings.Contains(ev.Error, "not found") {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.RequestID == "" || runner.req.ID != ev.RequestID || b.published[0].msgID != ev.RequestID {
		t.Fatalf("expected a generated request id shared by run, event and message id: %+v / %q", ev, b.published[0].msgID)
	}
}

func TestHandleStoreFailureIsRetryable(t *testing.T) {
	runner := &fakeRunner{err: &pipeline.Error{Kind: pipeline.KindStore, Op: "save result", Err: errors.New("timeout")}}
	_, b := startWorker(t, runner)
	err := b.handler(jobBytes(t, Job{Repo: "r"}))
	if delay, ok := bus.RetryDelay(err); !ok || delay != storeRetryDelay {
		t.Fatalf("expected retryable error, got %v", err)
	}
}

func TestHandleMalformedJobDropped(t *testing.T) {
	runner := &fakeRunner{}
	_, b := startWorker(t, runner)
	if err := b.handler([]byte("{not json")); err != nil {
		t.Fatalf("malformed job should be acked, got %v", err)
	}
	if len(b.published) != 0 || runner.req.Repo != "" {
		t.Fatalf("malformed job must not run")
	}
}

func TestStartSubscribeError(t *testing.T) {
	w := New(&fakeBus{subErr: errors.New("closed")}, &fakeRunner{}, "")
	if err := w.Start(context.Background()); err == nil {
		t.Fatalf("expected subscribe error")
	}
}

func TestResolveWorkerID(t *testing.T) {
	t.Setenv("WORKER_ID", "custom")
	if got := ResolveWorkerID("base"); got != "custom" {
		t.Fatalf("expected env override, got %s", got)
	}
	t.Setenv("WORKER_ID", "")
	if got := ResolveWorkerID("base"); !strings.HasPrefix(got, "base") {
		t.Fatalf("expected base prefix, got %s", got)
	}
}
