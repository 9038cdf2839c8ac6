package main

import (
	"context"
	"fmt"
	"multimodal/internal/dispatcher"
	"multimodal/internal/job"
	"multimodal/internal/jobstore"
	"multimodal/internal/pipeline"
	"multimodal/internal/storage"
	"multimodal/internal/worker"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func runCmd() *cobra.Command {
	var (
		pipelineName string
		inputs       job.Inputs
		opts         []string
		persist      bool
		timeout      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Create a job and execute it in this process",
		Example: `  genctl run --pipeline text_to_image --text "a lighthouse at dusk" --opt style=watercolor
  genctl run --pipeline speech_to_text --audio-url https://example.com/memo.mp3 --opt language=fr`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			options, err := parseOptions(opts)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var store job.Store = jobstore.NewMemory()
			if persist {
				if store, err = openStore(ctx); err != nil {
					return err
				}
			}
			defer store.Close()

			artifacts, err := storage.NewLocal(storage.LoadConfigFromEnv())
			if err != nil {
				return err
			}

			registry := worker.NewRegistry(worker.LoadConfigFromEnv(), artifacts, nil)
			executor := pipeline.NewExecutor(store, pipeline.NewRouter(registry), nil, nil)
			pool := dispatcher.NewPool(dispatcher.Config{BufferSize: 1, Workers: 1}, executor.Execute, nil)

			created, err := job.NewService(store, pool, nil, artifacts.Prefix()).Create(ctx, &job.CreateRequest{
				Pipeline: job.PipelineType(pipelineName),
				Inputs:   inputs,
				Options:  options,
			})
			if err != nil {
				_ = pool.Close(context.Background())
				return err
			}

			// Close waits for the job; on timeout or interrupt the execution is canceled.
			waitCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			if err := pool.Close(waitCtx); err != nil {
				return fmt.Errorf("job %s did not finish: %w", created.ID, err)
			}

			finished, err := store.Get(context.Background(), created.ID)
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), finished.Public()); err != nil {
				return err
			}
			if finished.Status == job.StatusFailed {
				return fmt.Errorf("job failed: %s", finished.Metadata.ErrorMessage)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&pipelineName, "pipeline", "", "Pipeline type ("+pipelineNames()+")")
	cmd.Flags().StringVar(&inputs.Text, "text", "", "Text input")
	cmd.Flags().StringVar(&inputs.ImageURL, "image-url", "", "Image input URL or storage reference")
	cmd.Flags().StringVar(&inputs.AudioURL, "audio-url", "", "Audio input URL or storage reference")
	cmd.Flags().StringArrayVar(&opts, "opt", nil, "Pipeline option as key=value (repeatable)")
	cmd.Flags().BoolVar(&persist, "persist", false, "Record the job in the configured store instead of memory")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "Maximum time to wait for the job")
	_ = cmd.MarkFlagRequired("pipeline")
	return cmd
}

// parseOptions turns key=value pairs into pipeline options. Values that spell
// a boolean or number are stored as such.
func parseOptions(pairs []string) (worker.Options, error) {
	options := make(worker.Options, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid option %q, expected key=value", pair)
		}
		options[key] = worker.ParseScalar(value)
	}
	return options, nil
}

func pipelineNames() string {
	types := job.PipelineTypes()
	names := make([]string, len(types))
	for i, p := range types {
		names[i] = string(p)
	}
	return strings.Join(names, ", ")
}
