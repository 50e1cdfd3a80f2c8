package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/joelkehle/snomed-consensus/internal/apiclient"
	"github.com/joelkehle/snomed-consensus/internal/terminology"
)

var healthServer string

var errTerminologyDown = errors.New("terminology unavailable")

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the terminology snapshot loads, locally or on a running server",
	Args:  cobra.NoArgs,
	RunE:  runHealth,
}

func init() {
	healthCmd.Flags().StringVar(&healthServer, "server", "", "query a running server instead of loading the local snapshot")
}

func runHealth(cmd *cobra.Command, args []string) error {
	var (
		st terminology.Stats
		ok bool
	)
	if healthServer != "" {
		var err error
		st, ok, err = apiclient.NewClient(healthServer, 15*time.Second).Health(cmd.Context())
		if err != nil {
			return err
		}
	} else {
		opts := cfg.TerminologyOptions()
		opts.Logger = logger
		store := terminology.NewStore(opts)
		ok = store.Load() == nil
		st = store.Stats()
	}

	out := cmd.OutOrStdout()
	if !ok {
		fmt.Fprintf(out, "terminology: unavailable: %s\n", st.Error)
		return errTerminologyDown
	}
	fmt.Fprintf(out, "terminology: ok (%s, %d concepts, %d labels, %d relationships)\n", st.Source, st.Concepts, st.Labels, st.Relationships)
	return nil
}
