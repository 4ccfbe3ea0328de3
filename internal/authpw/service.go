// Package authpw provides username/password authentication.
package authpw

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"hydrowave/api/internal/store"
)

var (
	ErrUsernameTaken      = errors.New("username already taken")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrMissingCredentials = errors.New("username and password are required")
)

// UserStore is the subset of the store used for credentials.
type UserStore interface {
	GetUserByUsername(ctx context.Context, username string) (store.User, error)
	CreateUser(ctx context.Context, username, passwordHash string) (store.User, error)
}

type Service struct {
	store UserStore
	cost  int
}

func NewService(users UserStore) *Service {
	return &Service{store: users, cost: bcrypt.DefaultCost}
}

type Credentials struct {
	Username string
	Password string
}

func (c Credentials) normalized() (Credentials, error) {
	c.Username = strings.TrimSpace(c.Username)
	if c.Username == "" || c.Password == "" {
		return c, ErrMissingCredentials
	}
	return c, nil
}

// SignUp registers a new user. A username that already exists yields
// ErrUsernameTaken, whether detected up front or by the unique constraint.
func (s *Service) SignUp(ctx context.Context, creds Credentials) (store.User, error) {
	creds, err := creds.normalized()
	if err != nil {
		return store.User{}, err
	}

	_, err = s.store.GetUserByUsername(ctx, creds.Username)
	if err == nil {
		return store.User{}, ErrUsernameTaken
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), s.cost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.store.CreateUser(ctx, creds.Username, string(hash))
	if errors.Is(err, store.ErrDuplicateUsername) {
		return store.User{}, ErrUsernameTaken
	}
	if err != nil {
		return store.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// SignIn checks the password against the stored bcrypt hash. Unknown users
// and wrong passwords are indistinguishable to the caller.
func (s *Service) SignIn(ctx context.Context, creds Credentials) (store.User, error) {
	creds, err := creds.normalized()
	if err != nil {
		return store.User{}, ErrInvalidCredentials
	}

	user, err := s.store.GetUserByUsername(ctx, creds.Username)
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(creds.Password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	return user, nil
}
