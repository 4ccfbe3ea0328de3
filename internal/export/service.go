package export

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"hydrowave/api/internal/store"
)

// ReportSource loads a consolidated report; it returns sql.ErrNoRows when
// the report does not exist.
type ReportSource interface {
	GetReport(ctx context.Context, id int64) (store.Report, error)
}

type Service struct {
	reports ReportSource
	pdf     func(ctx context.Context, html string) ([]byte, error)
	now     func() time.Time
}

func NewService(reports ReportSource) *Service {
	return &Service{reports: reports, pdf: renderPDF, now: time.Now}
}

func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	report, err := s.reports.GetReport(ctx, req.ReportID)
	if err != nil {
		return nil, err
	}

	html, err := RenderReportHTML(TemplateData{Report: report, GeneratedAt: s.now().UTC()})
	if err != nil {
		return nil, err
	}
	base := "report-" + strconv.FormatInt(report.ID, 10) + "-" + sanitizeFilename(report.Title)

	switch req.Format {
	case FormatHTML, "":
		return &Result{Data: []byte(html), Filename: base + ".html", MimeType: "text/html; charset=utf-8"}, nil
	case FormatPDF:
		pdf, err := s.pdf(ctx, html)
		if err != nil {
			return nil, err
		}
		return &Result{Data: pdf, Filename: base + ".pdf", MimeType: "application/pdf"}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}
}
