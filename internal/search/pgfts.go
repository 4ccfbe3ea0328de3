package search

import (
	"context"
	"strings"

	"hydrowave/api/internal/store"
)

// ReportStore is implemented by store.PostgresStore.
type ReportStore interface {
	SearchReports(ctx context.Context, query, status string, limit, offset int) ([]store.SearchHit, int, error)
	ListReports(ctx context.Context) ([]store.Report, error)
}

// PgFTS answers searches from the reports.search_vector column.
type PgFTS struct {
	reports ReportStore
}

func NewPgFTS(reports ReportStore) *PgFTS {
	return &PgFTS{reports: reports}
}

func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	q = q.normalized()
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	hits, total, err := p.reports.SearchReports(ctx, q.Text, q.Status, q.Limit, q.Offset)
	if err != nil {
		return nil, 0, err
	}
	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		results = append(results, Result{
			ID:             h.ID,
			Title:          h.Title,
			Snippet:        snippet(h.Observation, 160),
			LocationName:   h.LocationName,
			WaterSource:    h.WaterSource,
			Condition:      h.Condition,
			Status:         h.Status,
			AuthorUsername: h.AuthorUsername,
			ReportedAt:     h.ReportedAt,
		})
	}
	return results, total, nil
}

func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ReportRecord, error) {
	reports, err := p.reports.ListReports(ctx)
	if err != nil {
		return nil, err
	}
	records := make([]ReportRecord, 0, len(reports))
	for _, r := range reports {
		records = append(records, RecordFromReport(r))
	}
	return records, nil
}
