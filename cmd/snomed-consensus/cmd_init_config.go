package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joelkehle/snomed-consensus/internal/config"
)

var initConfigCmd = &cobra.Command{
	Use:   "init-config [path]",
	Short: "Write the default YAML configuration (existing files are left alone)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "snomed-consensus.yaml"
		if len(args) == 1 {
			path = args[0]
		}
		written, err := config.WriteDefault(path)
		if err != nil {
			return err
		}
		if !written {
			fmt.Fprintf(cmd.OutOrStdout(), "%s already exists, left unchanged\n", path)
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
		return nil
	},
}
