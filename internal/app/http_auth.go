package app

import (
	"errors"
	"net/http"

	"hydrowave/api/internal/auth"
	"hydrowave/api/internal/authpw"
	"hydrowave/api/internal/logging"
)

// requireIdentity rejects requests without a valid, unrevoked bearer token
// and stores the caller in the request context.
func (s *HTTPServer) requireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := auth.ParseAuthorizationHeader(r.Header.Get("Authorization"))
		switch {
		case errors.Is(err, auth.ErrMissingToken):
			writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "Authorization header missing", nil)
			return
		case err != nil:
			writeError(w, http.StatusUnauthorized, "MALFORMED_TOKEN", "Authorization header must be 'Bearer <token>'", nil)
			return
		}

		principal, err := s.service.Authenticate(r.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidToken) {
				writeError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid or expired token", nil)
				return
			}
			logging.Ctx(r.Context()).Error().Err(err).Msg("token verification failed")
			writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Token verification failed", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
	})
}

// principalFrom returns the caller set by requireIdentity.
func principalFrom(r *http.Request) auth.Principal {
	p, _ := auth.PrincipalFromContext(r.Context())
	return p
}

type credentialsBody struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *HTTPServer) readCredentials(w http.ResponseWriter, r *http.Request) (authpw.Credentials, bool) {
	var body credentialsBody
	if err := decodeBody(r, &body); err != nil {
		writeBodyError(w, err)
		return authpw.Credentials{}, false
	}
	return authpw.Credentials{Username: body.Username, Password: body.Password}, true
}

func (s *HTTPServer) handleSignUp(w http.ResponseWriter, r *http.Request) {
	creds, ok := s.readCredentials(w, r)
	if !ok {
		return
	}
	token, err := s.service.SignUp(r.Context(), creds)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"token": token.Value})
}

func (s *HTTPServer) handleSignIn(w http.ResponseWriter, r *http.Request) {
	creds, ok := s.readCredentials(w, r)
	if !ok {
		return
	}
	token, err := s.service.SignIn(r.Context(), creds)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token.Value})
}

func (s *HTTPServer) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if err := s.service.SignOut(r.Context(), principalFrom(r)); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	token, err := s.service.Refresh(r.Context(), principalFrom(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token.Value})
}

func (s *HTTPServer) handleMe(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	writeJSON(w, http.StatusOK, map[string]any{"id": p.ID, "username": p.Username})
}

func (s *HTTPServer) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.service.ListUsers(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *HTTPServer) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "userID", "user_id")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	user, err := s.service.GetUser(r.Context(), principalFrom(r), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
