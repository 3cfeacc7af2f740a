package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/globe-and-citizen/cnc-portal-sub005/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "

	// callerHeader identifies the caller when token auth is not
	// configured (dev/test mode only).
	callerHeader = "X-Caller"
)

var publicPaths = []string{
	"/v1/auth/token",
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
	"/v1/events",
	"/",
}

func (a *API) withAuth(next http.Handler) http.Handler {
	if !auth.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		if isPublicPath(r.URL.Path) || r.Method == http.MethodGet {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		caller, err := auth.ParseAndValidate(token)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidToken) {
				writeError(w, r, http.StatusUnauthorized, "invalid token")
				return
			}
			writeError(w, r, http.StatusInternalServerError, "authentication error")
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.ContextWithCaller(r.Context(), caller)))
	})
}

// callerFrom resolves the caller identity for a request: the validated
// token subject when auth is on, the X-Caller header otherwise.
func (a *API) callerFrom(r *http.Request) (string, bool) {
	if caller, ok := auth.CallerFromContext(r.Context()); ok {
		return caller, true
	}
	if auth.Enabled() {
		return "", false
	}
	caller := strings.TrimSpace(r.Header.Get(callerHeader))
	return caller, caller != ""
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
