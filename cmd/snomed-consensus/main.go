// Command snomed-consensus extracts SNOMED CT concepts from French clinical
// notes by running several LLM extractions and keeping what they agree on.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/joelkehle/snomed-consensus/internal/config"
	"github.com/joelkehle/snomed-consensus/internal/logging"
	"github.com/joelkehle/snomed-consensus/internal/telemetry"
)

var (
	configPath string
	logLevel   string
	jsonLogs   bool
	dataDir    string
	cachePath  string
	provider   string
	model      string

	cfg      config.Config
	logger   *zap.Logger
	tracer   trace.Tracer
	shutdown telemetry.ShutdownFunc
)

var rootCmd = &cobra.Command{
	Use:   "snomed-consensus",
	Short: "Consensus SNOMED CT normalization of French clinical notes",
	Long: `snomed-consensus runs several independent LLM extractions over a clinical
note, validates every proposed term against a local SNOMED CT snapshot, fuses
the runs and filters out codes whose official label does not match the text.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		applyFlags(cmd)

		logger, err = logging.New(cfg.Log.Level, cfg.Log.JSON)
		if err != nil {
			return err
		}
		tracer, shutdown, err = telemetry.Setup(cmd.Context(), telemetry.Config{
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			ServiceName: cfg.Telemetry.ServiceName,
		})
		if err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if shutdown != nil {
			if err := shutdown(context.WithoutCancel(cmd.Context())); err != nil {
				logger.Warn("telemetry shutdown failed", zap.Error(err))
			}
		}
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	pf.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.BoolVar(&jsonLogs, "json-logs", false, "emit JSON logs")
	pf.StringVar(&dataDir, "data-dir", "", "directory holding the RF2 snapshot tables")
	pf.StringVar(&cachePath, "cache", "", "SQLite terminology cache path")
	pf.StringVar(&provider, "provider", "", "oracle provider (gemini, anthropic, replay, none)")
	pf.StringVar(&model, "model", "", "oracle model name")

	rootCmd.AddCommand(extractCmd, serveCmd, usageCmd, lookupCmd, warmCacheCmd, healthCmd, initConfigCmd)
}

// applyFlags lets explicitly set flags win over file and environment values.
func applyFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if flags.Changed("json-logs") {
		cfg.Log.JSON = jsonLogs
	}
	if flags.Changed("data-dir") {
		cfg.Terminology.DataDir = dataDir
	}
	if flags.Changed("cache") {
		cfg.Terminology.CachePath = cachePath
	}
	if flags.Changed("provider") {
		cfg.Oracle.Provider = provider
		cfg.Oracle.APIKey = config.APIKeyFromEnv(provider)
	}
	if flags.Changed("model") {
		cfg.Oracle.Model = model
	}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
