package store

// Consolidate folds flat report/comment join rows into reports with nested
// comments. Reports keep the order in which they first appear, comments keep
// row order, and a report without comments gets an empty slice.
func Consolidate(rows []ReportRow) []Report {
	reports := make([]Report, 0, len(rows))
	index := make(map[int64]int, len(rows))

	for _, row := range rows {
		pos, seen := index[row.ID]
		if !seen {
			report := row.Report
			report.Comments = []CommentSummary{}
			reports = append(reports, report)
			pos = len(reports) - 1
			index[row.ID] = pos
		}
		if row.CommentID.Valid {
			reports[pos].Comments = append(reports[pos].Comments, CommentSummary{
				ID:             row.CommentID.Int64,
				Text:           row.CommentText.String,
				AuthorUsername: row.CommentAuthorUsername.String,
			})
		}
	}
	return reports
}

// ResolveImageURL decides the image a report keeps after an update: an
// explicit removal clears it, a fresh upload replaces it, otherwise the
// stored value stays.
func ResolveImageURL(current *string, remove bool, uploaded *string) *string {
	switch {
	case remove:
		return nil
	case uploaded != nil:
		return uploaded
	default:
		return current
	}
}
