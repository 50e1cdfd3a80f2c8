package report

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

const styleCSS = `body{font-family:"Helvetica Neue",Arial,sans-serif;color:#1c1917;background:#fff;margin:0;padding:0.6rem;}
.report{max-width:1000px;margin:0 auto;}
.report-meta{color:#44403c;font-size:0.85rem;margin-bottom:0.5rem;}
.report-badge{display:inline-block;background:#ecfdf5;color:#065f46;border:1px solid #6ee7b7;border-radius:4px;padding:0.1rem 0.4rem;margin-right:0.3rem;font-size:0.75rem;}
h1{font-size:1.4rem;} h2{font-size:1.1rem;border-bottom:1px solid #d6d3d1;padding-bottom:0.2rem;}
table{width:100%;border-collapse:collapse;border:1px solid #a8a29e;font-size:0.8rem;margin-bottom:1rem;}
th,td{border:1px solid #a8a29e;padding:0.35rem 0.45rem;text-align:left;vertical-align:top;}
thead th{background:#f1f5f9;font-weight:700;}
code{font-size:0.8rem;}
h2[data-page-break-before="true"]{break-before:page;page-break-before:always;}
html,body,*{-webkit-print-color-adjust:exact !important;print-color-adjust:exact !important;}
@media print{@page{size:auto;margin:12mm;} body{padding:0;}}`

var (
	markdown     = goldmark.New(goldmark.WithExtensions(extension.GFM))
	reStatistics = regexp.MustCompile(`(?i)<h2([^>]*)>\s*Pipeline Statistics\s*</h2>`)
)

// HTML converts a Markdown report into a standalone document.
func HTML(report string, badges ...string) (string, error) {
	var content strings.Builder
	if err := markdown.Convert([]byte(report), &content); err != nil {
		return "", fmt.Errorf("markdown convert: %w", err)
	}
	var badgeHTML strings.Builder
	for _, b := range badges {
		if b = strings.TrimSpace(b); b != "" {
			badgeHTML.WriteString("<span class='report-badge'>" + html.EscapeString(b) + "</span>")
		}
	}
	return "<!doctype html><html><head><meta charset='utf-8'><title>SNOMED CT Normalization Report</title>" +
		"<style>" + styleCSS + "</style></head><body><section class='report'>" +
		"<div class='report-meta'>" + badgeHTML.String() + "</div>" +
		applyPrintLayoutHooks(content.String()) +
		"</section></body></html>", nil
}

// applyPrintLayoutHooks moves the statistics appendix to its own page.
func applyPrintLayoutHooks(contentHTML string) string {
	return reStatistics.ReplaceAllString(contentHTML, `<h2$1 data-page-break-before="true">Pipeline Statistics</h2>`)
}
