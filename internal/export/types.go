// Package export renders a report and its comments as a printable page or PDF.
package export

import "errors"

type Format string

const (
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
)

func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatHTML:
		return FormatHTML, nil
	case FormatPDF:
		return FormatPDF, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

type Request struct {
	ReportID int64
	Format   Format
}

type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	ErrUnsupportedFormat = errors.New("unsupported export format")
	// ErrPDFDependencyMissing means no Chrome/Chromium binary is installed.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)
