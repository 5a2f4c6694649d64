// Package cmd provides command-line interface commands for Argus.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"argus/config"
	"argus/storage"
)

// CLI output formatters
var (
	errorColor  = color.New(color.FgRed, color.Bold)
	headerColor = color.New(color.FgBlue, color.Bold)
	warnColor   = color.New(color.FgYellow)
	critColor   = color.New(color.FgRed)
)

var (
	outputJSON bool
	configFile string
	limit      int
	offset     int
)

const defaultTimeout = 30 * time.Second

// NewAlertsCmd creates the alerts inspection command.
func NewAlertsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "List persisted detection alerts",
		Long:  "Lists alerts produced by the stateful pattern detector, newest first.",
		RunE:  runAlerts,
	}

	cmd.Flags().BoolVar(&outputJSON, "json", false, "Output as JSON")
	cmd.Flags().StringVar(&configFile, "config", "", "Config file path")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum alerts to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "Alerts to skip")
	return cmd
}

func runAlerts(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	cfg, err := config.Load(configFile)
	if err != nil {
		errorColor.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return err
	}

	store, err := storage.New(cfg.SQLitePath, zap.NewNop().Sugar())
	if err != nil {
		errorColor.Fprintf(os.Stderr, "Failed to open database %s: %v\n", cfg.SQLitePath, err)
		return err
	}
	defer store.Close()

	alerts, err := store.ListAlerts(ctx, limit, offset)
	if err != nil {
		errorColor.Fprintf(os.Stderr, "Failed to list alerts: %v\n", err)
		return err
	}

	if outputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(alerts)
	}

	total, err := store.AlertCount(ctx)
	if err != nil {
		return err
	}

	headerColor.Printf("Alerts (%d of %d)\n\n", len(alerts), total)
	if len(alerts) == 0 {
		fmt.Println("No alerts recorded.")
		return nil
	}

	for _, a := range alerts {
		sev := a.Severity.String()
		switch sev {
		case "critical":
			critColor.Printf("[%s]", sev)
		case "high":
			warnColor.Printf("[%s]", sev)
		default:
			fmt.Printf("[%s]", sev)
		}
		fmt.Printf(" %s  host=%s", a.RuleID, a.Hostname)
		if a.SrcIP != "" {
			fmt.Printf(" src_ip=%s", a.SrcIP)
		}
		if a.Username != "" {
			fmt.Printf(" user=%s", a.Username)
		}
		fmt.Printf(" count=%d evidence=%d at=%s\n",
			a.Count, len(a.Evidence), a.CreatedAt.Format(time.RFC3339))
	}
	return nil
}
