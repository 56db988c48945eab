package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "productradar",
		Short: "Track consumer product trends across marketplaces and social platforms",
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")

	root.AddCommand(collectCmd())
	root.AddCommand(scoreCmd())
	root.AddCommand(recommendCmd())
	root.AddCommand(resolveCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(runCmd())

	return root
}

func collectCmd() *cobra.Command {
	var sources []string

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Run signal producers and ingest their batches",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCollect(cmd.Context(), sources)
		},
	}

	cmd.Flags().StringSliceVar(&sources, "source", nil, "specific sources to collect (e.g., amazon,tiktok,gt)")
	return cmd
}

func scoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "score",
		Short: "Score every known product and store a snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScore(cmd.Context())
		},
	}
}

func recommendCmd() *cobra.Command {
	var (
		jsonOutput bool
		top        int
	)

	cmd := &cobra.Command{
		Use:   "recommend",
		Short: "Show the current product recommendations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecommend(cmd.Context(), top, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().IntVar(&top, "top", 0, "number of recommendations (default: from config)")
	return cmd
}

func resolveCmd() *cobra.Command {
	var (
		src      string
		category string
	)

	cmd := &cobra.Command{
		Use:   "resolve <label>",
		Short: "Resolve a raw product label to a canonical product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(cmd.Context(), args[0], src, category)
		},
	}

	cmd.Flags().StringVar(&src, "source", "reddit", "source the label came from")
	cmd.Flags().StringVar(&category, "category", "", "category hint for new products")
	return cmd
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

func runCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start daemon with scheduler and HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}
