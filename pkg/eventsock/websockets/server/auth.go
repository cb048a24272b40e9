package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

var (
	ErrTokenMissing  = errors.New("token is missing")
	ErrInvalidScheme = errors.New("invalid token scheme")
	ErrInvalidToken  = errors.New("invalid token")
)

// An Authorizer checks a WebSocket upgrade request before it is accepted.
// A non-nil error rejects the request with 401 Unauthorized.
type Authorizer func(r *http.Request) error

// RequireAuthorization returns an Authorizer that accepts only requests whose
// Authorization header equals expected, e.g. "Bearer s3cret". A header using
// a different scheme fails with ErrInvalidScheme.
func RequireAuthorization(expected string) Authorizer {
	scheme, _, _ := strings.Cut(expected, " ")
	prefix := scheme + " "
	want := []byte(expected)

	return func(r *http.Request) error {
		got := r.Header.Get("Authorization")
		switch {
		case got == "":
			return ErrTokenMissing
		case !strings.HasPrefix(got, prefix):
			return ErrInvalidScheme
		case subtle.ConstantTimeCompare([]byte(got), want) != 1:
			return ErrInvalidToken
		}
		return nil
	}
}

// RequireBearerToken returns an Authorizer that accepts only "Bearer <token>".
func RequireBearerToken(token string) Authorizer {
	return RequireAuthorization("Bearer " + token)
}

func writeUnauthorized(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
