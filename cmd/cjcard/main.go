// cjcard analyzes Cangjie repositories with cjlint and caches the result.
//
// Usage:
//
//	cjcard serve                 # HTTP gateway, metrics and optional bus worker
//	cjcard analyze <repo-url>    # one-shot analysis, prints the envelope
//	cjcard provision             # install the analyzer runtime only
//	cjcard version
package main

import (
	"fmt"
	"os"

	"github.com/cordum/cjcard/core/infra/buildinfo"
	"github.com/spf13/cobra"
)

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "cjcard",
		Short:         "Cangjie code-quality cards backed by cjlint",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
	}
	root.Version = buildinfo.Version
	root.AddCommand(newServeCmd(), newAnalyzeCmd(), newProvisionCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "cjcard "+buildinfo.Info())
		},
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
