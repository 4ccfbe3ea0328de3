package session

import (
	"context"
	"time"
)

// TokenTable is implemented by store.PostgresStore.
type TokenTable interface {
	RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
	PurgeExpiredRevocations(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
}

// SQLStore keeps revocations in the revoked_tokens table when Redis is not configured.
type SQLStore struct {
	table TokenTable
}

func NewSQLStore(table TokenTable) *SQLStore {
	return &SQLStore{table: table}
}

func (s *SQLStore) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	if !expiresAt.After(time.Now()) {
		return nil
	}
	return s.table.RevokeToken(ctx, jti, expiresAt)
}

func (s *SQLStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	return s.table.IsTokenRevoked(ctx, jti)
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.table.Ping(ctx)
}

// Purge removes rows for tokens that have expired on their own.
func (s *SQLStore) Purge(ctx context.Context) (int64, error) {
	return s.table.PurgeExpiredRevocations(ctx)
}

func (s *SQLStore) Close() error { return nil }
