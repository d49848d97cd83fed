package tools

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	pdfx "github.com/ledongthuc/pdf"
)

// PDFText extracts the plain text of up to maxPages pages (0 means all). Parser panics on
// malformed documents are reported as errors.
func PDFText(ctx context.Context, data []byte, maxPages int) (text string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("malformed pdf: %v", p)
		}
	}()
	r, err := pdfx.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	total := r.NumPage()
	pages := total
	if maxPages > 0 && pages > maxPages {
		pages = maxPages
	}

	var out strings.Builder
	for i := 1; i <= pages; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		txt, err := p.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", i, err)
		}
		if t := strings.TrimSpace(txt); t != "" {
			out.WriteString(t)
			out.WriteString("\n\n")
		}
	}
	return strings.TrimSpace(out.String()), nil
}
