package report

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// PDFOptions control the Chrome print job.
type PDFOptions struct {
	// Paper dimensions in inches (A4: 8.27 x 11.69).
	PaperWidth  float64
	PaperHeight float64

	// Margins in inches.
	MarginTop    float64
	MarginBottom float64
	MarginLeft   float64
	MarginRight  float64

	PrintBackground bool
	Scale           float64

	Timeout time.Duration
}

// DefaultPDFOptions returns A4 paper with ~15mm margins.
func DefaultPDFOptions() PDFOptions {
	return PDFOptions{
		PaperWidth:      8.27,
		PaperHeight:     11.69,
		MarginTop:       0.59,
		MarginBottom:    0.59,
		MarginLeft:      0.59,
		MarginRight:     0.59,
		PrintBackground: true,
		Scale:           1.0,
		Timeout:         60 * time.Second,
	}
}

// printPDF writes the HTML to a temp file and prints it with headless
// Chrome. A file URL avoids data-URL size limits on large diffs.
func (e *Exporter) printPDF(ctx context.Context, chrome string, html []byte) ([]byte, error) {
	tmp, err := os.CreateTemp("", "prpatrol-export-*.html")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(html); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write temp file: %w", err)
	}
	tmp.Close()

	ctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(chrome),
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	defer allocCancel()

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	defer browserCancel()

	var pdf []byte
	err = chromedp.Run(browserCtx,
		chromedp.Navigate("file://"+tmpPath),
		chromedp.WaitReady("body"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			pdf, _, err = page.PrintToPDF().
				WithPaperWidth(e.opts.PaperWidth).
				WithPaperHeight(e.opts.PaperHeight).
				WithMarginTop(e.opts.MarginTop).
				WithMarginBottom(e.opts.MarginBottom).
				WithMarginLeft(e.opts.MarginLeft).
				WithMarginRight(e.opts.MarginRight).
				WithPrintBackground(e.opts.PrintBackground).
				WithScale(e.opts.Scale).
				WithPreferCSSPageSize(false).
				Do(ctx)
			return err
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("chrome print: %w", err)
	}
	return pdf, nil
}
