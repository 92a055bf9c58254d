package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Meridian-Network/rewards_core/pkg/credential"
)

func TestAdminAuth(t *testing.T) {
	hash, err := credential.Hash("super-secret")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	guard := NewAdminAuth(hash, []string{"/membership/adjust"}, nil).Handler(next)

	cases := []struct {
		name   string
		path   string
		token  string
		status int
	}{
		{"open path passes without token", "/accounts/u1/balance", "", http.StatusNoContent},
		{"guarded path without token", "/accounts/u1/membership/adjust", "", http.StatusUnauthorized},
		{"guarded path wrong token", "/accounts/u1/membership/adjust", "nope", http.StatusUnauthorized},
		{"guarded path correct token", "/accounts/u1/membership/adjust", "super-secret", http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tc.path, nil)
			if tc.token != "" {
				req.Header.Set("Authorization", "Bearer "+tc.token)
			}
			rec := httptest.NewRecorder()
			guard.ServeHTTP(rec, req)
			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d", rec.Code, tc.status)
			}
		})
	}
}
