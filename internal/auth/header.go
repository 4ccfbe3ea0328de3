package auth

import (
	"errors"
	"strings"
)

var (
	ErrMissingToken    = errors.New("authorization header missing")
	ErrMalformedHeader = errors.New("authorization header must be 'Bearer <token>'")
)

// ParseAuthorizationHeader extracts the token from "Bearer <token>".
// The scheme is matched case-insensitively.
func ParseAuthorizationHeader(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", ErrMissingToken
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", ErrMalformedHeader
	}
	return parts[1], nil
}
