package report

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

const defaultPDFTimeout = 30 * time.Second

// PaperSize is in inches, as Chromium's print API expects.
type PaperSize struct {
	Width  float64
	Height float64
}

var (
	PaperA4     = PaperSize{Width: 8.27, Height: 11.69}
	PaperLetter = PaperSize{Width: 8.5, Height: 11}
)

func ParsePaper(s string) (PaperSize, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "a4":
		return PaperA4, nil
	case "letter":
		return PaperLetter, nil
	}
	return PaperSize{}, fmt.Errorf("unknown paper size %q (want a4 or letter)", s)
}

// Margins are in inches.
type Margins struct {
	Top, Bottom, Left, Right float64
}

// PDFRenderer prints report HTML through a headless Chromium. The zero value is
// not usable; build one with NewPDFRenderer.
type PDFRenderer struct {
	// ChromePath may stay empty, chromedp then searches its own defaults.
	ChromePath string
	Timeout    time.Duration
	Paper      PaperSize
	Margins    Margins
	// Footer is a Chromium footer template; pageNumber and totalPages spans are filled in.
	Footer string
}

type PDFOption func(*PDFRenderer)

func WithChromePath(path string) PDFOption {
	return func(r *PDFRenderer) { r.ChromePath = path }
}

func WithPDFTimeout(d time.Duration) PDFOption {
	return func(r *PDFRenderer) {
		if d > 0 {
			r.Timeout = d
		}
	}
}

func WithPaper(p PaperSize) PDFOption {
	return func(r *PDFRenderer) { r.Paper = p }
}

func NewPDFRenderer(opts ...PDFOption) *PDFRenderer {
	r := &PDFRenderer{
		Timeout: defaultPDFTimeout,
		Paper:   PaperA4,
		Margins: Margins{Top: 0.5, Bottom: 0.75, Left: 0.45, Right: 0.45},
		Footer: `<div style="width:100%;font-size:8px;color:#666;padding:0 0.45in;display:flex;justify-content:space-between;">` +
			`<span>SNOMED CT normalization, for clinical review only</span>` +
			`<span><span class="pageNumber"></span> / <span class="totalPages"></span></span></div>`,
	}
	for _, o := range opts {
		o(r)
	}
	if r.ChromePath == "" {
		r.ChromePath = detectChromePath()
	}
	return r
}

func (r *PDFRenderer) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if r.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(r.ChromePath))
	}
	return opts
}

func (r *PDFRenderer) printParams() *page.PrintToPDFParams {
	return page.PrintToPDF().
		WithPrintBackground(true).
		WithDisplayHeaderFooter(r.Footer != "").
		WithHeaderTemplate(`<div></div>`).
		WithFooterTemplate(r.Footer).
		WithPaperWidth(r.Paper.Width).
		WithPaperHeight(r.Paper.Height).
		WithMarginTop(r.Margins.Top).
		WithMarginBottom(r.Margins.Bottom).
		WithMarginLeft(r.Margins.Left).
		WithMarginRight(r.Margins.Right)
}

func (r *PDFRenderer) Render(ctx context.Context, htmlDoc string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, r.allocatorOptions()...)
	defer allocCancel()
	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()

	var pdf []byte
	dataURL := "data:text/html;base64," + base64.StdEncoding.EncodeToString([]byte(htmlDoc))
	err := chromedp.Run(taskCtx,
		chromedp.Navigate(dataURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			out, _, err := r.printParams().Do(ctx)
			pdf = out
			return err
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("chromium (%s): %w", r.chromeLabel(), err)
	}
	return pdf, nil
}

func (r *PDFRenderer) chromeLabel() string {
	if r.ChromePath == "" {
		return "default lookup"
	}
	return r.ChromePath
}

func detectChromePath() string {
	for _, p := range []string{
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/usr/bin/google-chrome",
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
	} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, name := range []string{"chromium", "chromium-browser", "google-chrome", "headless-shell"} {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	return ""
}
