// Package main is the entry point for the Argus correlation core.
package main

import (
	"context"
	"fmt"
	"os"

	"argus/bootstrap"
	"argus/cmd"
)

// run initializes and starts the Argus pipeline, then blocks until a
// shutdown signal arrives.
func run() error {
	ctx := context.Background()

	configPath := os.Getenv("ARGUS_CONFIG")

	app, err := bootstrap.NewApp(ctx, configPath)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	if err := app.Start(ctx); err != nil {
		app.Shutdown()
		return fmt.Errorf("failed to start application: %w", err)
	}

	app.WaitForShutdown()
	app.Shutdown()
	return nil
}

func main() {
	// CLI subcommands run without the full pipeline.
	if len(os.Args) > 1 && os.Args[1] == "alerts" {
		os.Args = append([]string{os.Args[0]}, os.Args[2:]...)

		alertsCmd := cmd.NewAlertsCmd()
		if err := alertsCmd.Execute(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
