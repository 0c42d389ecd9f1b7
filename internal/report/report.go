// Package report renders an archived review as a standalone HTML page
// and, when a Chrome binary is available, prints it to PDF via the
// DevTools protocol. Without Chrome the exporter degrades to serving
// the HTML itself so the dashboard export button always works.
package report

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"go.uber.org/zap"

	"github.com/prpatrol/prpatrol/internal/model"
	"github.com/prpatrol/prpatrol/pkg/logger"
)

// Exporter turns a ReviewArchive into a downloadable document.
type Exporter struct {
	opts PDFOptions
	log  *zap.Logger

	// findChrome is swappable for tests.
	findChrome func() string
}

// NewExporter creates an exporter with A4 defaults.
func NewExporter() *Exporter {
	return &Exporter{
		opts:       DefaultPDFOptions(),
		log:        logger.Named("report"),
		findChrome: chromePath,
	}
}

// Export renders the archive. Returns the document bytes and its MIME
// content type: application/pdf when Chrome rendering succeeds,
// text/html otherwise.
func (e *Exporter) Export(ctx context.Context, archive *model.ReviewArchive) ([]byte, string, error) {
	html, err := renderHTML(archive)
	if err != nil {
		return nil, "", fmt.Errorf("render review html: %w", err)
	}

	chrome := e.findChrome()
	if chrome == "" {
		e.log.Debug("No Chrome binary found, exporting HTML",
			zap.String("archive_id", archive.ID),
		)
		return html, "text/html; charset=utf-8", nil
	}

	pdf, err := e.printPDF(ctx, chrome, html)
	if err != nil {
		// Chrome present but broken (missing libs, sandbox issues).
		// The export is still useful as HTML.
		e.log.Warn("PDF rendering failed, falling back to HTML",
			zap.String("archive_id", archive.ID),
			zap.Error(err),
		)
		return html, "text/html; charset=utf-8", nil
	}

	e.log.Info("Review exported",
		zap.String("archive_id", archive.ID),
		zap.String("pr", model.PRKey(archive.Owner, archive.Repo, archive.Number)),
		zap.Int("pdf_bytes", len(pdf)),
	)
	return pdf, "application/pdf", nil
}

// chromePath resolves a headless-capable Chrome binary. CHROME_PATH
// wins; otherwise the well-known binary names are probed on PATH.
func chromePath() string {
	if p := os.Getenv("CHROME_PATH"); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
		return ""
	}
	for _, name := range []string{
		"google-chrome",
		"google-chrome-stable",
		"chromium",
		"chromium-browser",
		"headless-shell",
	} {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	return ""
}
