package main

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/joelkehle/snomed-consensus/internal/apiclient"
	"github.com/joelkehle/snomed-consensus/internal/consensus"
	"github.com/joelkehle/snomed-consensus/internal/report"
)

var (
	extractOutput string
	extractFormat string
	extractRuns   int
	extractFusion string
	extractServer string
)

var extractCmd = &cobra.Command{
	Use:   "extract [note-file]",
	Short: "Normalize one clinical note and print the consensus result",
	Long: `Reads a note from a file (or stdin when the path is "-" or omitted), runs the
consensus pipeline and writes the result as json, markdown, html or pdf.

Example:
  snomed-consensus extract notes/consultation.txt -f markdown`,
	Args: cobra.MaximumNArgs(1),
	RunE: runExtract,
}

func init() {
	f := extractCmd.Flags()
	f.StringVarP(&extractOutput, "output", "o", "", "output file (defaults to stdout)")
	f.StringVarP(&extractFormat, "format", "f", "json", "output format: json, markdown, html, pdf")
	f.IntVarP(&extractRuns, "runs", "n", 0, "number of extraction runs (default from config)")
	f.StringVar(&extractFusion, "fusion", "", "fusion policy: completion_order or run_index")
	f.StringVar(&extractServer, "server", "", "send the note to a running server instead of normalizing locally")
}

func runExtract(cmd *cobra.Command, args []string) error {
	input := "-"
	if len(args) == 1 {
		input = args[0]
	}
	format, err := report.ParseFormat(extractFormat)
	if err != nil {
		return err
	}
	if extractRuns != 0 {
		cfg.Consensus.Runs = extractRuns
	}
	if extractFusion != "" {
		cfg.Consensus.Fusion = extractFusion
	}
	note, err := readNote(cmd.InOrStdin(), input)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	req := consensus.Request{NoteText: note, Runs: cfg.Consensus.Runs}
	var res consensus.Result
	if extractServer != "" {
		res, err = apiclient.NewClient(extractServer, 2*cfg.Consensus.RunTimeout).Normalize(ctx, req)
		if err != nil {
			return err
		}
	} else {
		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.close()

		res, err = a.pipeline.RunWithProgress(ctx, req, func(stage, message string) {
			logger.Info("stage complete", zap.String("stage", stage), zap.String("detail", message))
		})
		if err != nil {
			return fmt.Errorf("%s stage failed: %w", consensus.StageNameFromError(err), err)
		}
	}

	var pdf report.PDFPrinter
	if format == report.FormatPDF {
		pdf = cfg.PDFRenderer()
	}
	var out bytes.Buffer
	if err := report.Write(ctx, &out, res, format, pdf); err != nil {
		return err
	}
	if extractOutput == "" {
		_, err = cmd.OutOrStdout().Write(out.Bytes())
		return err
	}
	return os.WriteFile(extractOutput, out.Bytes(), 0o644)
}

func readNote(stdin io.Reader, path string) (string, error) {
	if path == "-" {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(b), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read note: %w", err)
	}
	return string(b), nil
}
