package search

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	meili "github.com/meilisearch/meilisearch-go"

	"hydrowave/api/internal/logging"
)

const idxReports = "hydrowave_reports"

// Meili searches and indexes reports in Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a client and configures the reports index. The returned
// value is usable even when Meilisearch is down; it reports itself unhealthy
// until a background probe succeeds.
func NewMeili(url, apiKey string) *Meili {
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		done:   make(chan struct{}),
	}
	if _, err := m.client.Health(); err != nil {
		logging.Warn().Err(err).Str("url", url).Msg("meilisearch unavailable")
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}
	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{Uid: idxReports, PrimaryKey: "id"}); err != nil {
		logging.Debug().Err(err).Msg("create reports index (may already exist)")
	}
	index := m.client.Index(idxReports)
	filterable := []interface{}{"status", "condition", "water_source"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		logging.Warn().Err(err).Msg("update filterable attributes")
	}
	searchable := []string{"title", "observation", "location_name", "water_source", "water_feature", "condition"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		logging.Warn().Err(err).Msg("update searchable attributes")
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				logging.Info().Msg("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m != nil && m.healthy.Load()
}

func (m *Meili) Search(_ context.Context, q Query) ([]Result, int, error) {
	if !m.Healthy() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}
	q = q.normalized()

	req := &meili.SearchRequest{
		IndexUID:              idxReports,
		Query:                 q.Text,
		Limit:                 int64(q.Limit),
		Offset:                int64(q.Offset),
		AttributesToHighlight: []string{"title", "observation"},
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
		ShowRankingScore:      true,
	}
	if q.Status != "" {
		req.Filter = []string{fmt.Sprintf("status = %s", strconv.Quote(q.Status))}
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{Queries: []*meili.SearchRequest{req}})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit))
		}
	}
	return results, total, nil
}

func hitToResult(hit meili.Hit) Result {
	r := Result{
		Title:          firstNonBlank(decodeFormatted(hit, "title"), decodeString(hit, "title")),
		Snippet:        snippet(firstNonBlank(decodeFormatted(hit, "observation"), decodeString(hit, "observation")), 200),
		LocationName:   decodeString(hit, "location_name"),
		WaterSource:    decodeString(hit, "water_source"),
		Condition:      decodeString(hit, "condition"),
		Status:         decodeString(hit, "status"),
		AuthorUsername: decodeString(hit, "author_username"),
	}
	if raw, ok := hit["id"]; ok {
		_ = json.Unmarshal(raw, &r.ID)
	}
	if raw, ok := hit["reported_at"]; ok {
		var unix int64
		if json.Unmarshal(raw, &unix) == nil && unix != 0 {
			r.ReportedAt = time.Unix(unix, 0).UTC()
		}
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func decodeFormatted(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]any
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	s, _ := formatted[key].(string)
	return strings.TrimSpace(s)
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func (m *Meili) IndexReports(records []ReportRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxReports).AddDocuments(records, nil)
	return err
}

func (m *Meili) DeleteReport(id int64) error {
	_, err := m.client.Index(idxReports).DeleteDocument(strconv.FormatInt(id, 10), nil)
	return err
}
