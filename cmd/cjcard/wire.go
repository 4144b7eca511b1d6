package main

import (
	"fmt"

	"github.com/cordum/cjcard/core/analysis/analyzer"
	"github.com/cordum/cjcard/core/analysis/manifest"
	"github.com/cordum/cjcard/core/analysis/pipeline"
	"github.com/cordum/cjcard/core/analysis/provision"
	"github.com/cordum/cjcard/core/analysis/source"
	"github.com/cordum/cjcard/core/analysis/store"
	"github.com/cordum/cjcard/core/analysis/workspace"
	"github.com/cordum/cjcard/core/infra/config"
	"github.com/cordum/cjcard/core/infra/logging"
	"github.com/cordum/cjcard/core/infra/metrics"
)

type wiring struct {
	metrics  metrics.PipelineMetrics
	observer pipeline.Observer
	noStore  bool
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newProvisioner(cfg *config.Config, m metrics.PipelineMetrics) *provision.Provisioner {
	if cfg.BundlePath == "" && !provision.HasEmbedded() {
		logging.Warn("cjcard", "no runtime bundle embedded and CJCARD_BUNDLE_PATH unset; the analyzer must already be installed",
			"root", cfg.RuntimeRoot)
	}
	return provision.New(provision.Options{
		Root:       cfg.RuntimeRoot,
		Executable: cfg.AnalyzerRelPath,
		Open:       provision.DefaultOpener(cfg.BundlePath),
		Metrics:    m,
	})
}

func buildPipeline(cfg *config.Config, prov *provision.Provisioner, w wiring) *pipeline.Pipeline {
	var results pipeline.ResultStore = store.NewRedisStore(cfg.KVURL, cfg.KeyPrefix, cfg.ResultTTL, cfg.StoreTimeout)
	if w.noStore {
		results = store.Discard{}
	}
	return pipeline.New(pipeline.Deps{
		Provisioner: prov,
		Workspaces:  workspace.NewManager(cfg.WorkspaceRoot, cfg.WorkspacePrefix),
		Fetcher:     source.NewFetcher(cfg.GitBinary, cfg.CloneTimeout),
		Resolver:    manifest.NewResolver(cfg.ManifestName),
		Analyzer: analyzer.New(analyzer.Options{
			Binary:      prov.ExecutablePath(),
			RuntimeRoot: prov.Root(),
			Timeout:     cfg.AnalyzerTimeout,
		}),
		Store:         results,
		Metrics:       w.metrics,
		Observer:      w.observer,
		Coalesce:      cfg.Coalesce,
		MaxConcurrent: cfg.MaxConcurrent,
	})
}
