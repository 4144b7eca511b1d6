// Package pipeline runs one repository through provisioning, clone, manifest
// resolution, analysis, normalization and storage, releasing the workspace on
// every exit path.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cordum/cjcard/core/analysis/report"
	"github.com/cordum/cjcard/core/analysis/source"
	"github.com/cordum/cjcard/core/analysis/workspace"
	"github.com/cordum/cjcard/core/infra/logging"
	"github.com/cordum/cjcard/core/infra/metrics"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

type Provisioner interface {
	EnsureReady(ctx context.Context) error
}

type Workspaces interface {
	Acquire() (*workspace.Workspace, error)
	Release(ws *workspace.Workspace) error
}

type Fetcher interface {
	Fetch(ctx context.Context, repoURL, dir string) (*source.CloneOutcome, error)
}

type MetadataResolver interface {
	Resolve(root string) (string, error)
}

type Analyzer interface {
	Invoke(ctx context.Context, dir string) (string, error)
}

type ResultStore interface {
	Put(ctx context.Context, repo string, value []byte) error
}

// Deps wires the pipeline. Metrics, Observer and Now are optional.
type Deps struct {
	Provisioner Provisioner
	Workspaces  Workspaces
	Fetcher     Fetcher
	Resolver    MetadataResolver
	Analyzer    Analyzer
	Store       ResultStore
	Metrics     metrics.PipelineMetrics
	Observer    Observer
	Now         func() time.Time
	// Coalesce shares one run among concurrent requests for the same repo.
	Coalesce bool
	// MaxConcurrent bounds in-flight runs; zero means unbounded.
	MaxConcurrent int
}

// Request is a single analysis trigger.
type Request struct {
	ID   string
	Repo string
}

type Pipeline struct {
	deps  Deps
	group singleflight.Group
	slots chan struct{}
}

func New(deps Deps) *Pipeline {
	if deps.Metrics == nil {
		deps.Metrics = metrics.Noop{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	obs := Observers{LogObserver{}, MetricsObserver{Metrics: deps.Metrics}}
	if deps.Observer != nil {
		obs = append(obs, deps.Observer)
	}
	deps.Observer = obs
	p := &Pipeline{deps: deps}
	if deps.MaxConcurrent > 0 {
		p.slots = make(chan struct{}, deps.MaxConcurrent)
	}
	return p
}

// Run analyzes req.Repo and persists the result under the raw identifier.
func (p *Pipeline) Run(ctx context.Context, req Request) (*report.AnalysisResult, error) {
	if strings.TrimSpace(req.Repo) == "" {
		return nil, &Error{Kind: KindInvalidRequest, Op: "validate request", Err: ErrMissingRepo}
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if !p.deps.Coalesce {
		return p.limited(ctx, req)
	}
	// The shared run outlives any single caller; each caller only stops waiting.
	executed := false
	ch := p.group.DoChan(req.Repo, func() (any, error) {
		executed = true
		return p.limited(context.WithoutCancel(ctx), req)
	})
	select {
	case r := <-ch:
		if r.Shared && !executed {
			logging.Info("pipeline", "coalesced request", "request_id", req.ID, "repo", req.Repo)
		}
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*report.AnalysisResult), nil
	case <-ctx.Done():
		return nil, &Error{Kind: KindInternal, Op: "wait for analysis", Err: ctx.Err()}
	}
}

func (p *Pipeline) limited(ctx context.Context, req Request) (*report.AnalysisResult, error) {
	if p.slots != nil {
		select {
		case p.slots <- struct{}{}:
			defer func() { <-p.slots }()
		case <-ctx.Done():
			return nil, &Error{Kind: KindInternal, Op: "wait for slot", Err: ctx.Err()}
		}
	}
	res, err := p.run(ctx, req)
	if err != nil {
		p.deps.Metrics.IncRuns("failed")
		p.deps.Metrics.IncFailures(string(KindOf(err)))
		return nil, err
	}
	p.deps.Metrics.IncRuns("succeeded")
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, req Request) (res *report.AnalysisResult, err error) {
	if v, ok := p.deps.Store.(interface{ Validate() error }); ok {
		if verr := v.Validate(); verr != nil {
			err = &Error{Kind: storeKind(verr), Op: "configure store", Err: verr}
			p.emit(ctx, req, StageConfigured, 0, err)
			return nil, err
		}
	}
	p.emit(ctx, req, StageConfigured, 0, nil)

	start := time.Now()
	if perr := p.deps.Provisioner.EnsureReady(ctx); perr != nil {
		err = &Error{Kind: KindProvision, Op: "provision runtime", Err: perr}
		p.emit(ctx, req, StageProvisioning, time.Since(start), err)
		return nil, err
	}
	p.emit(ctx, req, StageProvisioning, time.Since(start), nil)

	start = time.Now()
	ws, werr := p.deps.Workspaces.Acquire()
	if werr != nil {
		err = &Error{Kind: KindWorkspace, Op: "acquire workspace", Err: werr}
		p.emit(ctx, req, StageWorkspaceAcquired, time.Since(start), err)
		return nil, err
	}
	p.emit(ctx, req, StageWorkspaceAcquired, time.Since(start), nil)

	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = &Error{Kind: KindInternal, Op: "pipeline panic", Err: fmt.Errorf("%v", r)}
		}
		relStart := time.Now()
		if rerr := p.deps.Workspaces.Release(ws); rerr != nil {
			logging.Warn("pipeline", "workspace release failed", "request_id", req.ID, "path", ws.Path, "error", rerr)
		}
		p.emit(ctx, req, StageWorkspaceReleased, time.Since(relStart), err)
	}()

	return p.analyze(ctx, req, ws)
}

func (p *Pipeline) analyze(ctx context.Context, req Request, ws *workspace.Workspace) (*report.AnalysisResult, error) {
	start := time.Now()
	clone, err := p.deps.Fetcher.Fetch(ctx, req.Repo, ws.Path)
	if err != nil {
		return nil, p.fail(ctx, req, StageSourceFetched, start, &Error{Kind: KindFetch, Op: "clone repository", Err: err})
	}
	p.emit(ctx, req, StageSourceFetched, time.Since(start), nil)

	start = time.Now()
	pkg, err := p.deps.Resolver.Resolve(ws.Path)
	if err != nil {
		logging.Error("pipeline", "manifest resolution failed", "request_id", req.ID, "reason", metadataDetail(err))
		return nil, p.fail(ctx, req, StageMetadataResolved, start, &Error{Kind: KindMetadata, Op: "find package name", Err: err})
	}
	p.emit(ctx, req, StageMetadataResolved, time.Since(start), nil)

	start = time.Now()
	raw, err := p.deps.Analyzer.Invoke(ctx, ws.Path)
	if err != nil {
		return nil, p.fail(ctx, req, StageAnalyzed, start, &Error{Kind: KindInvoke, Op: "run cjlint", Err: err})
	}
	findings, err := report.Parse(raw)
	if err != nil {
		return nil, p.fail(ctx, req, StageAnalyzed, start, &Error{Kind: KindInvoke, Op: "parse cjlint output", Err: err})
	}
	p.emit(ctx, req, StageAnalyzed, time.Since(start), nil)

	start = time.Now()
	result := report.Assemble(report.Normalize(findings, ws.Path), clone.Commit, pkg, p.deps.Now())
	data, err := json.Marshal(result)
	if err != nil {
		return nil, p.fail(ctx, req, StageNormalized, start, &Error{Kind: KindInternal, Op: "encode result", Err: err})
	}
	p.emit(ctx, req, StageNormalized, time.Since(start), nil)

	start = time.Now()
	if err := p.deps.Store.Put(ctx, req.Repo, data); err != nil {
		return nil, p.fail(ctx, req, StageStored, start, &Error{Kind: storeKind(err), Op: "save result", Err: err})
	}
	p.emit(ctx, req, StageStored, time.Since(start), nil)

	summary := report.Summarize(result.Cjlint)
	p.deps.Metrics.AddFindings(string(report.Mandatory), summary.Mandatory)
	p.deps.Metrics.AddFindings(string(report.Suggestion), summary.Suggestions)
	logging.Info("pipeline", "analysis complete",
		"request_id", req.ID,
		"repo", req.Repo,
		"commit", result.Commit,
		"package", result.PackageName,
		"findings", len(result.Cjlint),
		"score", summary.Score,
		"grade", summary.Grade,
	)
	return &result, nil
}

func (p *Pipeline) fail(ctx context.Context, req Request, stage Stage, start time.Time, err *Error) error {
	p.emit(ctx, req, stage, time.Since(start), err)
	return err
}

func (p *Pipeline) emit(ctx context.Context, req Request, stage Stage, d time.Duration, err error) {
	ev := StageEvent{
		RequestID: req.ID,
		Repo:      req.Repo,
		Stage:     stage,
		Duration:  d,
		Time:      p.deps.Now(),
	}
	if err != nil {
		ev.Error = err.Error()
		ev.Kind = KindOf(err)
	}
	p.deps.Observer.Stage(ctx, ev)
}
