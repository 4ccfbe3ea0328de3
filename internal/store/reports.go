package store

import (
	"context"
	"database/sql"
	"fmt"
)

const reportColumns = `
	r.id, r.author, u_report.username, r.title, r.reported_at, r.water_source,
	r.water_feature, r.location_lat, r.location_long, r.location_name,
	r.observation, r.condition, r.status, r.image_url, r.created_at, r.updated_at`

const reportsWithCommentsQuery = `
	SELECT ` + reportColumns + `,
		c.id, c.text, u_comment.username
	FROM reports r
	JOIN users u_report ON r.author = u_report.id
	LEFT JOIN comments c ON c.report = r.id
	LEFT JOIN users u_comment ON c.author = u_comment.id`

type rowScanner interface {
	Scan(dest ...any) error
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func reportDest(r *Report, imageURL *sql.NullString) []any {
	return []any{
		&r.ID, &r.AuthorID, &r.AuthorUsername, &r.Title, &r.ReportedAt, &r.WaterSource,
		&r.WaterFeature, &r.LocationLat, &r.LocationLong, &r.LocationName,
		&r.Observation, &r.Condition, &r.Status, imageURL, &r.CreatedAt, &r.UpdatedAt,
	}
}

func scanReport(row rowScanner) (Report, error) {
	var report Report
	var imageURL sql.NullString
	if err := row.Scan(reportDest(&report, &imageURL)...); err != nil {
		return Report{}, err
	}
	if imageURL.Valid {
		report.ImageURL = &imageURL.String
	}
	return report, nil
}

func scanReportRows(rows *sql.Rows) ([]ReportRow, error) {
	defer rows.Close()
	var out []ReportRow
	for rows.Next() {
		var row ReportRow
		var imageURL sql.NullString
		dest := append(reportDest(&row.Report, &imageURL), &row.CommentID, &row.CommentText, &row.CommentAuthorUsername)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan report row: %w", err)
		}
		if imageURL.Valid {
			row.ImageURL = &imageURL.String
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListReports(ctx context.Context) ([]Report, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, reportsWithCommentsQuery+` ORDER BY r.id DESC, c.id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	flat, err := scanReportRows(rows)
	if err != nil {
		return nil, err
	}
	return Consolidate(flat), nil
}

func (s *PostgresStore) GetReport(ctx context.Context, id int64) (Report, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	return readReport(ctx, s.db, id)
}

// readReport returns sql.ErrNoRows when the report does not exist.
func readReport(ctx context.Context, q queryer, id int64) (Report, error) {
	rows, err := q.QueryContext(ctx, reportsWithCommentsQuery+` WHERE r.id = $1 ORDER BY c.id ASC`, id)
	if err != nil {
		return Report{}, fmt.Errorf("read report: %w", err)
	}
	flat, err := scanReportRows(rows)
	if err != nil {
		return Report{}, err
	}
	reports := Consolidate(flat)
	if len(reports) == 0 {
		return Report{}, sql.ErrNoRows
	}
	return reports[0], nil
}

func (s *PostgresStore) CreateReport(ctx context.Context, authorID int64, in ReportInput) (Report, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Report{}, fmt.Errorf("begin create report: %w", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO reports (
			author, title, reported_at, water_source, water_feature, location_lat,
			location_long, location_name, observation, condition, status, image_url
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id
	`, authorID, in.Title, in.ReportedAt, in.WaterSource, in.WaterFeature, in.LocationLat,
		in.LocationLong, in.LocationName, in.Observation, in.Condition, in.Status, in.ImageURL).Scan(&id)
	if err != nil {
		return Report{}, fmt.Errorf("insert report: %w", err)
	}

	report, err := readReport(ctx, tx, id)
	if err != nil {
		return Report{}, err
	}
	if err := tx.Commit(); err != nil {
		return Report{}, fmt.Errorf("commit create report: %w", err)
	}
	return report, nil
}

// UpdateReport locks the report, hands the current state to mutate and
// writes back whatever it returns. An error from mutate aborts the
// transaction and is returned unchanged.
func (s *PostgresStore) UpdateReport(ctx context.Context, id int64, mutate func(current Report) (ReportInput, error)) (Report, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Report{}, fmt.Errorf("begin update report: %w", err)
	}
	defer tx.Rollback()

	current, err := lockReport(ctx, tx, id)
	if err != nil {
		return Report{}, err
	}
	in, err := mutate(current)
	if err != nil {
		return Report{}, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE reports SET
			title=$2, reported_at=$3, water_source=$4, water_feature=$5, location_lat=$6,
			location_long=$7, location_name=$8, observation=$9, condition=$10, status=$11,
			image_url=$12, updated_at=NOW()
		WHERE id=$1
	`, id, in.Title, in.ReportedAt, in.WaterSource, in.WaterFeature, in.LocationLat,
		in.LocationLong, in.LocationName, in.Observation, in.Condition, in.Status, in.ImageURL)
	if err != nil {
		return Report{}, fmt.Errorf("update report: %w", err)
	}

	report, err := readReport(ctx, tx, id)
	if err != nil {
		return Report{}, err
	}
	if err := tx.Commit(); err != nil {
		return Report{}, fmt.Errorf("commit update report: %w", err)
	}
	return report, nil
}

// DeleteReport removes the report if guard allows it and returns the row as
// it was before deletion.
func (s *PostgresStore) DeleteReport(ctx context.Context, id int64, guard func(current Report) error) (Report, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Report{}, fmt.Errorf("begin delete report: %w", err)
	}
	defer tx.Rollback()

	if _, err := lockReport(ctx, tx, id); err != nil {
		return Report{}, err
	}
	deleted, err := readReport(ctx, tx, id)
	if err != nil {
		return Report{}, err
	}
	if err := guard(deleted); err != nil {
		return Report{}, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM reports WHERE id=$1`, id); err != nil {
		return Report{}, fmt.Errorf("delete report: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Report{}, fmt.Errorf("commit delete report: %w", err)
	}
	return deleted, nil
}

func lockReport(ctx context.Context, tx *sql.Tx, id int64) (Report, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT `+reportColumns+`
		FROM reports r
		JOIN users u_report ON r.author = u_report.id
		WHERE r.id = $1
		FOR UPDATE OF r
	`, id)
	report, err := scanReport(row)
	if err != nil {
		return Report{}, err
	}
	report.Comments = []CommentSummary{}
	return report, nil
}

// SearchReports runs a Postgres full-text query over reports. An empty
// status matches every report.
func (s *PostgresStore) SearchReports(ctx context.Context, query, status string, limit, offset int) ([]SearchHit, int, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var total int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM reports
		WHERE search_vector @@ websearch_to_tsquery('english', $1)
			AND ($2 = '' OR status = $2)
	`, query, status).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count report search: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+reportColumns+`,
			ts_rank(r.search_vector, websearch_to_tsquery('english', $1)) AS rank
		FROM reports r
		JOIN users u_report ON r.author = u_report.id
		WHERE r.search_vector @@ websearch_to_tsquery('english', $1)
			AND ($2 = '' OR r.status = $2)
		ORDER BY rank DESC, r.id DESC
		LIMIT $3 OFFSET $4
	`, query, status, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("search reports: %w", err)
	}
	defer rows.Close()

	hits := make([]SearchHit, 0)
	for rows.Next() {
		var hit SearchHit
		var imageURL sql.NullString
		dest := append(reportDest(&hit.Report, &imageURL), &hit.Rank)
		if err := rows.Scan(dest...); err != nil {
			return nil, 0, fmt.Errorf("scan search hit: %w", err)
		}
		if imageURL.Valid {
			hit.ImageURL = &imageURL.String
		}
		hit.Comments = []CommentSummary{}
		hits = append(hits, hit)
	}
	return hits, total, rows.Err()
}
