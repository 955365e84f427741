package httpserver

import (
	"context"
	"net/http"
	"strings"

	"papertrade/internal/auth"
	"papertrade/internal/httputil"
)

type ctxKey string

const userIDKey ctxKey = "user_id"

// WithAuth guards every trading route: requests carry a bearer token, the
// resolved user id rides on the request context. Account ownership checks
// downstream rely on this id being token-derived, never client-supplied.
func WithAuth(svc *auth.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "missing bearer token"})
				return
			}
			userID, err := svc.ParseToken(token)
			if err != nil {
				httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "invalid token"})
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, found := strings.Cut(r.Header.Get("Authorization"), " ")
	if !found || !strings.EqualFold(scheme, "bearer") || token == "" {
		return "", false
	}
	return token, true
}

// UserID returns the authenticated user id set by WithAuth.
func UserID(r *http.Request) (string, bool) {
	v, ok := r.Context().Value(userIDKey).(string)
	return v, ok
}
