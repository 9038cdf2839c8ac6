// genctl is the operator CLI: it runs pipelines in process and inspects the
// job store shared with the gateway.
package main

import (
	"log/slog"
	"multimodal/internal/config"
	"os"
)

func main() {
	config.LoadDotEnv()

	if err := newRootCmd().Execute(); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}
