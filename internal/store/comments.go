package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const commentColumns = `
	c.id, c.report, c.author, u_comment.username, c.text, c.created_at, c.updated_at`

func scanComment(row rowScanner) (Comment, error) {
	var c Comment
	err := row.Scan(&c.ID, &c.ReportID, &c.AuthorID, &c.AuthorUsername, &c.Text, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func readComment(ctx context.Context, q queryer, reportID, commentID int64) (Comment, error) {
	return scanComment(q.QueryRowContext(ctx, `
		SELECT `+commentColumns+`
		FROM comments c
		JOIN users u_comment ON c.author = u_comment.id
		WHERE c.id = $1 AND c.report = $2
	`, commentID, reportID))
}

func reportExists(ctx context.Context, q queryer, reportID int64) error {
	var exists bool
	if err := q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM reports WHERE id=$1)`, reportID).Scan(&exists); err != nil {
		return fmt.Errorf("check report: %w", err)
	}
	if !exists {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) ListComments(ctx context.Context, reportID int64) ([]Comment, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if err := reportExists(ctx, s.db, reportID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+commentColumns+`
		FROM comments c
		JOIN users u_comment ON c.author = u_comment.id
		WHERE c.report = $1
		ORDER BY c.id
	`, reportID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	comments := make([]Comment, 0)
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

// CreateComment returns sql.ErrNoRows when the report does not exist.
func (s *PostgresStore) CreateComment(ctx context.Context, reportID, authorID int64, text string) (Comment, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Comment{}, fmt.Errorf("begin create comment: %w", err)
	}
	defer tx.Rollback()

	if err := reportExists(ctx, tx, reportID); err != nil {
		return Comment{}, err
	}

	var id int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO comments (report, author, text)
		VALUES ($1, $2, $3)
		RETURNING id
	`, reportID, authorID, text).Scan(&id)
	if err != nil {
		return Comment{}, fmt.Errorf("insert comment: %w", err)
	}

	comment, err := readComment(ctx, tx, reportID, id)
	if err != nil {
		return Comment{}, fmt.Errorf("reread comment: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Comment{}, fmt.Errorf("commit create comment: %w", err)
	}
	return comment, nil
}

func lockComment(ctx context.Context, tx *sql.Tx, reportID, commentID int64) (Comment, error) {
	return scanComment(tx.QueryRowContext(ctx, `
		SELECT `+commentColumns+`
		FROM comments c
		JOIN users u_comment ON c.author = u_comment.id
		WHERE c.id = $1 AND c.report = $2
		FOR UPDATE OF c
	`, commentID, reportID))
}

func (s *PostgresStore) UpdateComment(ctx context.Context, reportID, commentID int64, mutate func(current Comment) (string, error)) (Comment, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Comment{}, fmt.Errorf("begin update comment: %w", err)
	}
	defer tx.Rollback()

	current, err := lockComment(ctx, tx, reportID, commentID)
	if err != nil {
		return Comment{}, err
	}
	text, err := mutate(current)
	if err != nil {
		return Comment{}, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE comments SET text=$2, updated_at=NOW() WHERE id=$1`, commentID, text); err != nil {
		return Comment{}, fmt.Errorf("update comment: %w", err)
	}

	updated, err := readComment(ctx, tx, reportID, commentID)
	if err != nil {
		return Comment{}, fmt.Errorf("reread comment: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Comment{}, fmt.Errorf("commit update comment: %w", err)
	}
	return updated, nil
}

func (s *PostgresStore) DeleteComment(ctx context.Context, reportID, commentID int64, guard func(current Comment) error) (Comment, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Comment{}, fmt.Errorf("begin delete comment: %w", err)
	}
	defer tx.Rollback()

	current, err := lockComment(ctx, tx, reportID, commentID)
	if err != nil {
		return Comment{}, err
	}
	if err := guard(current); err != nil {
		return Comment{}, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM comments WHERE id=$1`, commentID); err != nil {
		return Comment{}, fmt.Errorf("delete comment: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Comment{}, fmt.Errorf("commit delete comment: %w", err)
	}
	return current, nil
}

// IsNotFound reports whether err means the requested row does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
