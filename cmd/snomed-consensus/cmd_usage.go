package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/joelkehle/snomed-consensus/internal/apiclient"
	"github.com/joelkehle/snomed-consensus/internal/usage"
)

var (
	usageJSON   bool
	usageServer string
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show oracle call counters against the configured limits",
	Args:  cobra.NoArgs,
	RunE:  runUsage,
}

func init() {
	usageCmd.Flags().BoolVar(&usageJSON, "json", false, "print JSON")
	usageCmd.Flags().StringVar(&usageServer, "server", "", "query a running server instead of the local database")
}

func runUsage(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	var (
		st     usage.Stats
		reason string
		err    error
	)
	if usageServer != "" {
		st, err = apiclient.NewClient(usageServer, 15*time.Second).Usage(ctx)
		if err != nil {
			return err
		}
		reason = "reported by " + usageServer
	} else {
		if cfg.Usage.Disabled {
			return fmt.Errorf("usage tracking is disabled in the configuration")
		}
		l, err := usage.Open(cfg.Usage.DBPath, cfg.Usage.Limits)
		if err != nil {
			return err
		}
		defer l.Close()
		if st, err = l.Stats(ctx); err != nil {
			return err
		}
		_, reason = l.CanProceed(ctx)
	}

	out := cmd.OutOrStdout()
	if usageJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"stats": st, "status": reason})
	}
	fmt.Fprintf(out, "daily calls:   %d / %d (%d remaining)\n", st.DailyUsage, st.DailyLimit, st.RemainingDaily)
	fmt.Fprintf(out, "hourly calls:  %d / %d (%d remaining)\n", st.HourlyUsage, st.HourlyLimit, st.RemainingHourly)
	fmt.Fprintf(out, "daily cost:    %.3f / %.2f\n", st.DailyCost, st.MaxDailyCost)
	fmt.Fprintf(out, "30-day cost:   %.3f\n", st.TotalCost30d)
	fmt.Fprintf(out, "status:        %s\n", reason)
	return nil
}
