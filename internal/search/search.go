// Package search finds reports by free text. Meilisearch is used while it is
// healthy; Postgres full-text search answers otherwise.
package search

import (
	"time"

	"hydrowave/api/internal/store"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

// Result is a single search hit returned to the caller.
type Result struct {
	ID             int64     `json:"id"`
	Title          string    `json:"title"`
	Snippet        string    `json:"snippet"`
	LocationName   string    `json:"location_name"`
	WaterSource    string    `json:"water_source"`
	Condition      string    `json:"condition"`
	Status         string    `json:"status"`
	AuthorUsername string    `json:"author_username"`
	ReportedAt     time.Time `json:"reported_at"`
}

type Query struct {
	Text   string
	Status string
	Limit  int
	Offset int
}

func (q Query) normalized() Query {
	if q.Limit <= 0 {
		q.Limit = defaultLimit
	}
	if q.Limit > maxLimit {
		q.Limit = maxLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Backend string   `json:"backend"`
}

// ReportRecord is the document pushed to the search index.
type ReportRecord struct {
	ID             int64  `json:"id"`
	Title          string `json:"title"`
	Observation    string `json:"observation"`
	WaterSource    string `json:"water_source"`
	WaterFeature   string `json:"water_feature"`
	LocationName   string `json:"location_name"`
	Condition      string `json:"condition"`
	Status         string `json:"status"`
	AuthorUsername string `json:"author_username"`
	ReportedAt     int64  `json:"reported_at"`
}

func RecordFromReport(r store.Report) ReportRecord {
	return ReportRecord{
		ID:             r.ID,
		Title:          r.Title,
		Observation:    r.Observation,
		WaterSource:    r.WaterSource,
		WaterFeature:   r.WaterFeature,
		LocationName:   r.LocationName,
		Condition:      r.Condition,
		Status:         r.Status,
		AuthorUsername: r.AuthorUsername,
		ReportedAt:     r.ReportedAt.Unix(),
	}
}

func snippet(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "…"
}
