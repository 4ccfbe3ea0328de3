package store

import (
	"database/sql"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func row(reportID int64, title string, commentID int64, text, author string) ReportRow {
	r := ReportRow{Report: Report{ID: reportID, Title: title}}
	if commentID != 0 {
		r.CommentID = sql.NullInt64{Int64: commentID, Valid: true}
		r.CommentText = sql.NullString{String: text, Valid: true}
		r.CommentAuthorUsername = sql.NullString{String: author, Valid: true}
	}
	return r
}

func TestConsolidateGroupsCommentsInOrder(t *testing.T) {
	rows := []ReportRow{
		row(1, "A", 10, "first", "amy"),
		row(2, "B", 0, "", ""),
		row(1, "A", 11, "second", "ben"),
	}

	got := Consolidate(rows)
	require.Len(t, got, 2)

	assert.Equal(t, int64(1), got[0].ID)
	assert.Equal(t, []CommentSummary{
		{ID: 10, Text: "first", AuthorUsername: "amy"},
		{ID: 11, Text: "second", AuthorUsername: "ben"},
	}, got[0].Comments)

	assert.Equal(t, int64(2), got[1].ID)
	assert.NotNil(t, got[1].Comments)
	assert.Empty(t, got[1].Comments)
}

func TestConsolidateEmptyInput(t *testing.T) {
	got := Consolidate(nil)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestConsolidatePreservesFirstSeenOrder(t *testing.T) {
	rows := []ReportRow{
		row(3, "C", 0, "", ""),
		row(1, "A", 5, "x", "u"),
		row(2, "B", 0, "", ""),
		row(1, "A", 6, "y", "u"),
	}
	got := Consolidate(rows)
	ids := make([]int64, 0, len(got))
	total := 0
	for _, r := range got {
		ids = append(ids, r.ID)
		total += len(r.Comments)
	}
	assert.Equal(t, []int64{3, 1, 2}, ids)
	assert.Equal(t, 2, total)
}

func TestConsolidateEmptySliceMarshalsAsArray(t *testing.T) {
	got := Consolidate([]ReportRow{row(1, "A", 0, "", "")})
	require.Len(t, got, 1)
	encoded, err := json.Marshal(got[0])
	require.NoError(t, err)
	assert.Contains(t, string(encoded), `"comments":[]`)
	assert.Contains(t, string(encoded), `"image_url":null`)
}

func TestResolveImageURL(t *testing.T) {
	stored := "https://img/old.png"
	fresh := "https://img/new.png"

	assert.Nil(t, ResolveImageURL(&stored, true, &fresh))
	assert.Equal(t, &fresh, ResolveImageURL(&stored, false, &fresh))
	assert.Equal(t, &stored, ResolveImageURL(&stored, false, nil))
	assert.Nil(t, ResolveImageURL(nil, false, nil))
}
