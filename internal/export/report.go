package export

import (
	"bytes"
	"context"
	"embed"
	"html/template"
	"time"

	"strata/api/internal/pipeline"
	"strata/api/internal/timeline"
)

//go:embed templates/*.html
var templateFS embed.FS

var reportTemplate = template.Must(template.New("report.html").Funcs(template.FuncMap{
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
	"stageName": pipeline.StageName,
	"barWidth": func(count, max int) int {
		if max == 0 {
			return 0
		}
		return count * 100 / max
	},
}).ParseFS(templateFS, "templates/report.html"))

// ReportData feeds the stats report template.
type ReportData struct {
	Title     string
	Generated time.Time
	Stats     timeline.Stats
	MaxBucket int
}

// RenderReportHTML renders the stats summary page.
func RenderReportHTML(title string, stats timeline.Stats, generated time.Time) (string, error) {
	data := ReportData{Title: title, Generated: generated.UTC(), Stats: stats}
	for _, b := range stats.Buckets {
		if len(b.Sources) > data.MaxBucket {
			data.MaxBucket = len(b.Sources)
		}
	}
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// ReportPDF renders the stats report and prints it with headless Chrome.
func ReportPDF(ctx context.Context, stats timeline.Stats, generated time.Time) (*Result, error) {
	title := "Strata collection report"
	html, err := RenderReportHTML(title, stats, generated)
	if err != nil {
		return nil, err
	}
	data, err := printPDF(ctx, html)
	if err != nil {
		return nil, err
	}
	return &Result{
		Data:     data,
		Filename: sanitizeFilename(title+" "+generated.UTC().Format("2006-01-02")) + ".pdf",
		MimeType: "application/pdf",
	}, nil
}
