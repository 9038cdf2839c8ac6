package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"multimodal/internal/config"
	"multimodal/internal/job"
	"multimodal/internal/jobstore"
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var logLevel string

	root := &cobra.Command{
		Use:           "genctl",
		Short:         "Run multimodal generation pipelines and inspect jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Logs go to stderr so stdout stays machine readable.
			slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
				Level: config.ParseLevel(logLevel),
			})))
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", config.GetEnv("LOG_LEVEL", "warn"), "Log level (debug, info, warn, error)")

	root.AddCommand(runCmd())
	root.AddCommand(jobsCmd())
	root.AddCommand(pipelinesCmd())
	return root
}

// openStore opens the job store configured in the environment.
func openStore(ctx context.Context) (job.Store, error) {
	return jobstore.Open(ctx, jobstore.LoadConfigFromEnv())
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
