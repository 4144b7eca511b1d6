package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cordum/cjcard/core/analysis/worker"
	"github.com/cordum/cjcard/core/controlplane/gateway"
	"github.com/cordum/cjcard/core/infra/buildinfo"
	"github.com/cordum/cjcard/core/infra/bus"
	"github.com/cordum/cjcard/core/infra/logging"
	"github.com/cordum/cjcard/core/infra/metrics"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const metricsNamespace = "cjcard"

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway, metrics listener and optional bus worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx)
		},
	}
}

func runServe(ctx context.Context) error {
	buildinfo.Log("cjcard")
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	pm := metrics.NewProm(metricsNamespace)
	prov := newProvisioner(cfg, pm)
	if err := prov.EnsureReady(ctx); err != nil {
		return fmt.Errorf("provision runtime: %w", err)
	}

	hub := gateway.NewHub(256)
	pipe := buildPipeline(cfg, prov, wiring{metrics: pm, observer: hub})

	var natsBus *bus.NatsBus
	if cfg.NatsURL != "" {
		natsBus, err = bus.NewNatsBus(cfg.NatsURL)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer natsBus.Close()
		logging.Info("cjcard", "bus connected", "url", natsBus.ConnectedURL(), "status", natsBus.Status())
	}

	opts := gateway.Options{
		Runner:  pipe,
		Metrics: metrics.NewGatewayProm(metricsNamespace),
		Hub:     hub,
		Runtime: prov,
	}
	if natsBus != nil {
		opts.Bus = natsBus
	}
	srv := gateway.NewServer(opts)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error { return srv.ListenAndServe(gctx, cfg.HTTPAddr) })
	g.Go(func() error { return gateway.ServeMetrics(gctx, cfg.MetricsAddr) })
	if natsBus != nil {
		if err := worker.New(natsBus, pipe, "").Start(gctx); err != nil {
			return err
		}
	} else {
		logging.Info("cjcard", "bus worker disabled", "reason", "NATS_URL not set")
	}
	return g.Wait()
}
