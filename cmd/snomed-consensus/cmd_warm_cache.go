package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/joelkehle/snomed-consensus/internal/terminology"
)

var warmCacheCmd = &cobra.Command{
	Use:   "warm-cache",
	Short: "Parse the RF2 snapshot and (re)write the SQLite terminology cache",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := cfg.TerminologyOptions()
		if opts.CachePath == "" {
			return fmt.Errorf("no cache path configured (set terminology.cache_path or --cache)")
		}
		opts.Logger = logger
		st, err := terminology.WarmCache(opts)
		if err != nil {
			return err
		}
		logger.Info("terminology cache written",
			zap.String("path", opts.CachePath),
			zap.Int("concepts", st.Concepts),
			zap.Int("labels", st.Labels),
			zap.Int("relationships", st.Relationships))
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d concepts, %d labels, %d relationships\n", opts.CachePath, st.Concepts, st.Labels, st.Relationships)
		return nil
	},
}
