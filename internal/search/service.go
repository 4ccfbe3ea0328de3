package search

import (
	"context"

	"hydrowave/api/internal/logging"
	"hydrowave/api/internal/metrics"
	"hydrowave/api/internal/store"
)

// Service is the facade that tries Meilisearch first and falls back to Postgres.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService creates a search service. meili may be nil when Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

func (s *Service) Search(ctx context.Context, q Query) (Response, error) {
	q = q.normalized()
	if s.meili.Healthy() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			metrics.SearchBackendRequests.WithLabelValues("meilisearch").Inc()
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: "meilisearch"}, nil
		}
		logging.Ctx(ctx).Warn().Err(err).Msg("meilisearch failed, falling back to postgres")
	}

	results, total, err := s.pgfts.Search(ctx, q)
	if err != nil {
		return Response{}, err
	}
	metrics.SearchBackendRequests.WithLabelValues("postgres").Inc()
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: "postgres"}, nil
}

// IndexReport pushes a report to Meilisearch without blocking the caller.
func (s *Service) IndexReport(r store.Report) {
	if !s.meili.Healthy() {
		return
	}
	record := RecordFromReport(r)
	go func() {
		if err := s.meili.IndexReports([]ReportRecord{record}); err != nil {
			logging.Warn().Err(err).Int64("report_id", record.ID).Msg("index report")
		}
	}()
}

func (s *Service) DeleteReport(id int64) {
	if !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteReport(id); err != nil {
			logging.Warn().Err(err).Int64("report_id", id).Msg("delete report from index")
		}
	}()
}

// ReindexAllFromPG loads every report from Postgres into Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	records, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		logging.Warn().Err(err).Msg("reindex: load reports")
		return
	}
	if err := s.meili.IndexReports(records); err != nil {
		logging.Warn().Err(err).Msg("reindex: push reports")
		return
	}
	logging.Info().Int("count", len(records)).Msg("search index rebuilt")
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
