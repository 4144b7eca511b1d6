package main

import (
	"encoding/json"
	"fmt"

	"github.com/cordum/cjcard/core/analysis/pipeline"
	"github.com/cordum/cjcard/core/analysis/report"
	"github.com/cordum/cjcard/core/controlplane/gateway"
	"github.com/spf13/cobra"
)

var analyzeFlags struct {
	noStore bool
}

func newAnalyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze <repo-url>",
		Short: "Clone a repository, run cjlint and print the result envelope",
		Long: `Runs the full pipeline once for the given repository and prints the
result envelope as JSON on stdout. The score and grade go to stderr.

The result is stored under KV_URL unless --no-store is given.`,
		Args: cobra.ExactArgs(1),
		RunE: runAnalyze,
	}
	cmd.Flags().BoolVar(&analyzeFlags.noStore, "no-store", false, "skip writing the result to the key-value store")
	return cmd
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	prov := newProvisioner(cfg, nil)
	pipe := buildPipeline(cfg, prov, wiring{noStore: analyzeFlags.noStore})

	res, runErr := pipe.Run(cmd.Context(), pipeline.Request{Repo: args[0]})
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(gateway.NewEnvelope(res, runErr)); err != nil {
		return err
	}
	if runErr != nil {
		return runErr
	}
	s := report.Summarize(res.Cjlint)
	fmt.Fprintf(cmd.ErrOrStderr(), "%s: score %d (%s), %d mandatory, %d suggestions\n",
		res.PackageName, s.Score, s.Grade, s.Mandatory, s.Suggestions)
	return nil
}
