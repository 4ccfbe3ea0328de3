package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const queryTimeout = 5 * time.Second

var ErrDuplicateUsername = errors.New("username already taken")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, queryTimeout)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (s *PostgresStore) CreateUser(ctx context.Context, username, passwordHash string) (User, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	user := User{Username: username, PasswordHash: passwordHash}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (username, password)
		VALUES ($1, $2)
		RETURNING id, created_at
	`, username, passwordHash).Scan(&user.ID, &user.CreatedAt)
	if isUniqueViolation(err) {
		return User{}, ErrDuplicateUsername
	}
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (User, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var user User
	err := s.db.QueryRowContext(ctx, `SELECT id, username, password, created_at FROM users WHERE username=$1`, username).
		Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id int64) (User, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var user User
	err := s.db.QueryRowContext(ctx, `SELECT id, username, created_at FROM users WHERE id=$1`, id).
		Scan(&user.ID, &user.Username, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]User, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT id, username, created_at FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := make([]User, 0)
	for rows.Next() {
		var user User
		if err := rows.Scan(&user.ID, &user.Username, &user.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *PostgresStore) RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, expiresAt)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// PurgeExpiredRevocations drops revocation entries whose tokens have expired anyway.
func (s *PostgresStore) PurgeExpiredRevocations(ctx context.Context) (int64, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `DELETE FROM revoked_tokens WHERE expires_at < NOW()`)
	if err != nil {
		return 0, fmt.Errorf("purge revoked tokens: %w", err)
	}
	return res.RowsAffected()
}
