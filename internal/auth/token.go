package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Identity is the payload carried inside every access token.
type Identity struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// Claims mirrors the token body: {"payload": {...}, "exp", "iat", "jti"}.
type Claims struct {
	Payload Identity `json:"payload"`
	jwt.RegisteredClaims
}

type Token struct {
	Value     string
	JTI       string
	ExpiresAt time.Time
}

var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrMalformedToken   = fmt.Errorf("%w: malformed", ErrInvalidToken)
	ErrInvalidSignature = fmt.Errorf("%w: signature mismatch", ErrInvalidToken)
	ErrExpiredToken     = fmt.Errorf("%w: expired", ErrInvalidToken)
)

type Codec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewCodec(secret string, ttl time.Duration) (*Codec, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("token secret is empty")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("token ttl must be positive, got %s", ttl)
	}
	return &Codec{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

func (c *Codec) TTL() time.Duration { return c.ttl }

func (c *Codec) Encode(identity Identity) (Token, error) {
	if identity.ID <= 0 || identity.Username == "" {
		return Token{}, fmt.Errorf("encode token: incomplete identity %+v", identity)
	}
	now := c.now().UTC().Truncate(time.Second)
	expiresAt := now.Add(c.ttl)
	jti := uuid.NewString()
	claims := Claims{
		Payload: identity,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return Token{}, fmt.Errorf("sign token: %w", err)
	}
	return Token{Value: signed, JTI: jti, ExpiresAt: expiresAt}, nil
}

func (c *Codec) Decode(token string) (Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return Claims{}, classify(err)
	}
	if claims.Payload.ID <= 0 || claims.Payload.Username == "" {
		return Claims{}, ErrMalformedToken
	}
	return claims, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformedToken
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrInvalidSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpiredToken
	default:
		return ErrMalformedToken
	}
}
