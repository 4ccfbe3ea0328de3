package export

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"
	"time"

	"hydrowave/api/internal/store"
)

//go:embed templates/*.html
var templateFS embed.FS

var reportTemplate = template.Must(
	template.New("report.html").Funcs(template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
		"coord": func(f float64) string {
			return fmt.Sprintf("%.5f", f)
		},
	}).ParseFS(templateFS, "templates/report.html"),
)

type TemplateData struct {
	Report      store.Report
	GeneratedAt time.Time
}

func RenderReportHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render report template: %w", err)
	}
	return buf.String(), nil
}
