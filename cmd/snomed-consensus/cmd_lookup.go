package main

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/spf13/cobra"

	"github.com/joelkehle/snomed-consensus/internal/consensus"
	"github.com/joelkehle/snomed-consensus/internal/terminology"
)

var lookupCmd = &cobra.Command{
	Use:   "lookup <code|term>...",
	Short: "Resolve codes or terms against the local terminology",
	Long: `Diagnostics for the terminology store. A numeric argument is treated as a
concept id, anything else as a French term resolved exactly, then approximately.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runLookup,
}

func runLookup(cmd *cobra.Command, args []string) error {
	opts := cfg.TerminologyOptions()
	opts.Logger = logger
	store := terminology.NewStore(opts)
	if err := store.Load(); err != nil {
		return err
	}
	categorizer := consensus.NewCategorizer(store, nil)
	out := cmd.OutOrStdout()

	for _, arg := range args {
		arg = strings.TrimSpace(arg)
		if isCode(arg) {
			if !store.IsValid(arg) {
				fmt.Fprintf(out, "%s\tinactive or unknown\n", arg)
				continue
			}
			term, _ := store.OfficialTerm(arg)
			fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", arg, term, categorizer.Categorize(arg), strings.Join(store.TopLevelAncestors(arg), ","))
			continue
		}
		method := "exact"
		code, ok := store.ExactMatch(arg)
		if !ok {
			method = "closest"
			code, ok = store.ClosestMatch(arg)
		}
		if !ok {
			fmt.Fprintf(out, "%q\tno match\n", arg)
			continue
		}
		term, _ := store.OfficialTerm(code)
		fmt.Fprintf(out, "%q\t%s\t%s\t%s\t%s\n", arg, method, code, term, categorizer.Categorize(code))
	}
	return nil
}

func isCode(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
