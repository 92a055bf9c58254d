package middleware

import (
	"net/http"
	"strings"

	"github.com/Meridian-Network/rewards_core/pkg/credential"
	"github.com/Meridian-Network/rewards_core/pkg/logger"
)

// AdminAuth guards admin endpoints with a bearer token verified against a
// stored hash. Read paths and the regular collaborator surface stay open;
// authentication of end users is owned by an external collaborator.
type AdminAuth struct {
	verifier   credential.Verifier
	storedHash string
	paths      []string
	log        *logger.Logger
}

// NewAdminAuth creates the guard. storedHash is any hash format the credential
// verifier understands; paths are URL path fragments that require the token.
func NewAdminAuth(storedHash string, paths []string, log *logger.Logger) *AdminAuth {
	if log == nil {
		log = logger.NewDefault("auth")
	}
	return &AdminAuth{
		verifier:   credential.NewVerifier(),
		storedHash: storedHash,
		paths:      paths,
		log:        log,
	}
}

func (a *AdminAuth) guarded(path string) bool {
	for _, fragment := range a.paths {
		if strings.Contains(path, fragment) {
			return true
		}
	}
	return false
}

// Handler returns the auth middleware handler.
func (a *AdminAuth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.guarded(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" || a.verifier.Verify(token, a.storedHash) != nil {
			a.log.WithField("path", r.URL.Path).
				WithField("method", r.Method).
				Warn("admin token rejected")

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}
