package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/globe-and-citizen/cnc-portal-sub005/internal/audit"
	"github.com/globe-and-citizen/cnc-portal-sub005/internal/auth"
)

type tokenRequest struct {
	Caller string `json:"caller"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

const tokenTTL = 15 * time.Minute

// handleAuthToken issues a short-lived caller token. Identity vetting is
// the job of an upstream collaborator (wallet signature verification);
// this endpoint exists so deployments without that collaborator can still
// exercise the API.
func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	caller := strings.TrimSpace(req.Caller)
	if caller == "" {
		writeError(w, r, http.StatusBadRequest, "caller is required")
		return
	}

	token, err := auth.GenerateToken(caller, tokenTTL)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}

	expiresAt := time.Now().UTC().Add(tokenTTL)
	_ = audit.LogEvent(r.Context(), "auth.token.issued", map[string]any{
		"caller":     caller,
		"expires_at": expiresAt.Format(time.RFC3339),
	})

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	})
}
