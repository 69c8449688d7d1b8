package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// Default print parameters for the agenda page. Paper sizes are in inches
// (A4).
const (
	DefaultPaperWidth  = 8.27
	DefaultPaperHeight = 11.69
	DefaultTimeoutSec  = 30
)

var ErrNoURL = errors.New("capture: URL is required")

// PrintOptions defines parameters for a Chromium-based PDF print.
type PrintOptions struct {
	// URL to print, e.g. "http://127.0.0.1:8080/print/central-1234".
	URL string

	Landscape bool

	// Timeout bounds the entire print operation. If zero, DefaultTimeoutSec
	// is used.
	Timeout time.Duration
}

// PrintPDF launches a headless Chromium instance via chromedp, navigates to
// opts.URL, waits for the agenda root to report data-ready="true" and
// returns the page printed as PDF.
func PrintPDF(parentCtx context.Context, opts PrintOptions) ([]byte, error) {
	if opts.URL == "" {
		return nil, ErrNoURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Duration(DefaultTimeoutSec) * time.Second
	}

	ctx, cancel := chromedp.NewContext(parentCtx)
	defer cancel()

	ctx, timeoutCancel := context.WithTimeout(ctx, opts.Timeout)
	defer timeoutCancel()

	var pdf []byte
	tasks := chromedp.Tasks{
		chromedp.Navigate(opts.URL),
		chromedp.WaitVisible(`[data-ready="true"]`, chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			buf, _, err := page.PrintToPDF().
				WithPrintBackground(true).
				WithLandscape(opts.Landscape).
				WithPaperWidth(DefaultPaperWidth).
				WithPaperHeight(DefaultPaperHeight).
				Do(ctx)
			if err != nil {
				return err
			}
			pdf = buf
			return nil
		}),
	}

	if err := chromedp.Run(ctx, tasks); err != nil {
		return nil, fmt.Errorf("capture: chromedp run failed: %w", err)
	}
	return pdf, nil
}
