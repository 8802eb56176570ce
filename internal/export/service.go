package export

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// PDFRenderer turns a complete HTML page into PDF bytes.
type PDFRenderer func(ctx context.Context, html string) ([]byte, error)

type Service struct {
	pdf PDFRenderer
	log *zap.Logger
}

// NewService creates an export service. A nil renderer selects headless
// Chrome.
func NewService(pdf PDFRenderer, logger *zap.Logger) *Service {
	if pdf == nil {
		pdf = chromePDF
	}
	return &Service{pdf: pdf, log: logger.Named("export")}
}

// Export renders b in the requested format.
func (s *Service) Export(ctx context.Context, b Board, format Format) (*Result, error) {
	html, err := RenderHTML(b)
	if err != nil {
		return nil, fmt.Errorf("render board html: %w", err)
	}
	name := sanitizeFilename(b.Title)

	switch format {
	case FormatHTML:
		return &Result{Data: []byte(html), Filename: name + ".html", MimeType: "text/html; charset=utf-8"}, nil
	case FormatPDF:
		data, err := s.pdf(ctx, html)
		if err != nil {
			s.log.Warn("pdf export failed", zap.String("board", b.Title), zap.Error(err))
			return nil, err
		}
		return &Result{Data: data, Filename: name + ".pdf", MimeType: "application/pdf"}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}
