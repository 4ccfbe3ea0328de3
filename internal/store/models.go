package store

import (
	"database/sql"
	"time"
)

type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"-"`
}

// Report is a water-quality observation as returned by the API. Comments is
// never nil once a report has been read back from the database.
type Report struct {
	ID             int64            `json:"id"`
	AuthorID       int64            `json:"report_author_id"`
	AuthorUsername string           `json:"author_username"`
	Title          string           `json:"title"`
	ReportedAt     time.Time        `json:"reported_at"`
	WaterSource    string           `json:"water_source"`
	WaterFeature   string           `json:"water_feature"`
	LocationLat    float64          `json:"location_lat"`
	LocationLong   float64          `json:"location_long"`
	LocationName   string           `json:"location_name"`
	Observation    string           `json:"observation"`
	Condition      string           `json:"condition"`
	Status         string           `json:"status"`
	ImageURL       *string          `json:"image_url"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
	Comments       []CommentSummary `json:"comments"`
}

// CommentSummary is the shape of a comment nested inside a report.
type CommentSummary struct {
	ID             int64  `json:"comment_id"`
	Text           string `json:"comment_text"`
	AuthorUsername string `json:"comment_author_username"`
}

type Comment struct {
	ID             int64     `json:"id"`
	ReportID       int64     `json:"report_id"`
	AuthorID       int64     `json:"comment_author_id"`
	AuthorUsername string    `json:"comment_author_username"`
	Text           string    `json:"comment_text"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ReportRow is one row of reports LEFT JOIN comments. The comment columns are
// null when the report has no comments.
type ReportRow struct {
	Report
	CommentID             sql.NullInt64
	CommentText           sql.NullString
	CommentAuthorUsername sql.NullString
}

// ReportInput holds every mutable report field.
type ReportInput struct {
	Title        string
	ReportedAt   time.Time
	WaterSource  string
	WaterFeature string
	LocationLat  float64
	LocationLong float64
	LocationName string
	Observation  string
	Condition    string
	Status       string
	ImageURL     *string
}

// SearchHit is a report matched by a full-text query.
type SearchHit struct {
	Report
	Rank float64 `json:"rank"`
}
