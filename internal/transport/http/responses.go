package http

import (
	"context"
	"encoding/json"
	"net/http"

	"trustgate/internal/session"
	dErrors "trustgate/pkg/domain-errors"
)

type errorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, errorResponse{Error: code, Description: description})
}

// writeCodeFailure collapses every code-related failure to one generic
// response, so absence, expiry, lockout, and mismatch are indistinguishable
// to callers (no enumeration oracle).
func writeCodeFailure(w http.ResponseWriter, err error) {
	switch dErrors.CodeOf(err) {
	case dErrors.CodeNotFound, dErrors.CodeExpired, dErrors.CodeLocked, dErrors.CodeInvalidCode:
		writeError(w, http.StatusUnauthorized, "invalid_code", "invalid or expired code")
	default:
		writeDomainError(w, err)
	}
}

// writeDomainError maps coded domain errors onto transport status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	switch code {
	case dErrors.CodeNotFound:
		writeError(w, http.StatusNotFound, string(code), "not found")
	case dErrors.CodeExpired, dErrors.CodeLocked, dErrors.CodeInvalidCode:
		writeError(w, http.StatusUnauthorized, string(code), "invalid or expired code")
	case dErrors.CodeBadRequest:
		writeError(w, http.StatusBadRequest, string(code), err.Error())
	case dErrors.CodeUnauthorized:
		writeError(w, http.StatusUnauthorized, string(code), "unauthorized")
	case dErrors.CodeInvalidState:
		writeError(w, http.StatusConflict, string(code), err.Error())
	case dErrors.CodeConflict:
		writeError(w, http.StatusConflict, string(code), "decided concurrently, refresh and retry")
	case dErrors.CodeUnavailable:
		writeError(w, http.StatusServiceUnavailable, string(code), "temporarily unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func withCredential(ctx context.Context, cred *session.Credential) context.Context {
	return context.WithValue(ctx, ContextKeyCredential, cred)
}

// CredentialFrom returns the validated session credential, or nil when the
// request did not pass RequireSession.
func CredentialFrom(ctx context.Context) *session.Credential {
	if cred, ok := ctx.Value(ContextKeyCredential).(*session.Credential); ok {
		return cred
	}
	return nil
}
