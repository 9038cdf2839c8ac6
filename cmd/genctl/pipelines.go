package main

import (
	"fmt"
	"multimodal/internal/pipeline"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func pipelinesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pipelines",
		Short: "List supported pipelines and their steps",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PIPELINE\tDESCRIPTION\tSTEPS")
			for _, info := range pipeline.Catalog() {
				fmt.Fprintf(w, "%s\t%s\t%s\n", info.Type, info.Description, strings.Join(info.Steps, " -> "))
			}
			return w.Flush()
		},
	}
}
