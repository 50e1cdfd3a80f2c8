package report

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/joelkehle/snomed-consensus/internal/consensus"
)

type Format string

const (
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
	FormatPDF      Format = "pdf"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "", FormatJSON:
		return FormatJSON, nil
	case "md", FormatMarkdown:
		return FormatMarkdown, nil
	case FormatHTML, FormatPDF:
		return f, nil
	}
	return "", fmt.Errorf("unknown report format %q (want json, markdown, html or pdf)", s)
}

// ContentType is the MIME type served for f.
func (f Format) ContentType() string {
	switch f {
	case FormatMarkdown:
		return "text/markdown; charset=utf-8"
	case FormatHTML:
		return "text/html; charset=utf-8"
	case FormatPDF:
		return "application/pdf"
	}
	return "application/json"
}

// PDFPrinter is implemented by PDFRenderer.
type PDFPrinter interface {
	Render(ctx context.Context, htmlDoc string) ([]byte, error)
}

// Write renders res to w. pdf is only used for FormatPDF.
func Write(ctx context.Context, w io.Writer, res consensus.Result, f Format, pdf PDFPrinter) error {
	switch f {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	case FormatMarkdown:
		_, err := io.WriteString(w, Markdown(res))
		return err
	}

	doc, err := HTML(Markdown(res), badges(res)...)
	if err != nil {
		return err
	}
	if f == FormatHTML {
		_, err = io.WriteString(w, doc)
		return err
	}
	if pdf == nil {
		return fmt.Errorf("pdf output needs a renderer")
	}
	out, err := pdf.Render(ctx, doc)
	if err != nil {
		return fmt.Errorf("render pdf: %w", err)
	}
	_, err = w.Write(out)
	return err
}

func badges(res consensus.Result) []string {
	out := []string{fmt.Sprintf("%d entities", res.Stats.Final)}
	if res.Stats.RunsSucceeded < res.Stats.RunsRequested {
		out = append(out, fmt.Sprintf("%d run(s) failed", res.Stats.RunsRequested-res.Stats.RunsSucceeded))
	}
	if res.Stats.ArbitrationError != "" {
		out = append(out, "arbitration failed")
	}
	return out
}
