package httpserver

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"papertrade/internal/auth"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithAuth(t *testing.T) {
	svc := auth.NewService(nil, "papertrade", []byte("test-secret"), time.Hour)
	token, err := svc.IssueToken("user-1")
	require.NoError(t, err)

	var gotUserID string
	handler := WithAuth(svc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID, _ = UserID(r)
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := []struct {
		name       string
		authz      string
		wantStatus int
	}{
		{"valid token", "Bearer " + token, http.StatusNoContent},
		{"scheme is case-insensitive", "bearer " + token, http.StatusNoContent},
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + token, http.StatusUnauthorized},
		{"empty token", "Bearer ", http.StatusUnauthorized},
		{"garbage token", "Bearer not-a-token", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gotUserID = ""
			r := httptest.NewRequest(http.MethodGet, "/v1/account", nil)
			if tc.authz != "" {
				r.Header.Set("Authorization", tc.authz)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, r)
			assert.Equal(t, tc.wantStatus, w.Code)
			if tc.wantStatus == http.StatusNoContent {
				assert.Equal(t, "user-1", gotUserID)
			}
		})
	}
}

func TestUserIDAbsent(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := UserID(r)
	assert.False(t, ok)
}
