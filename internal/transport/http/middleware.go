package http

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"trustgate/internal/session"
	"trustgate/pkg/domain"
	"trustgate/pkg/requestcontext"
)

// RequestMeta stamps every request with a correlation id and a request-scoped
// timestamp, so all operations within one request observe the same "now".
func RequestMeta(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := requestcontext.WithRequestID(r.Context(), requestID)
		ctx = requestcontext.WithTime(ctx, time.Now())
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type credentialKey struct{}

// ContextKeyCredential exposes the validated session credential to handlers.
var ContextKeyCredential = credentialKey{}

// RequireSession validates the bearer credential and stores it on the
// context. Roles, when given, restrict who may pass.
func RequireSession(issuer *session.Issuer, logger *slog.Logger, roles ...domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			const bearerPrefix = "Bearer "
			authHeader := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(authHeader, bearerPrefix)
			if !ok {
				logger.WarnContext(ctx, "unauthorized access - missing credential",
					"request_id", requestcontext.RequestID(ctx),
				)
				writeError(w, http.StatusUnauthorized, "unauthorized", "Missing or invalid Authorization header")
				return
			}

			cred, err := issuer.Validate(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid credential",
					"error", err,
					"request_id", requestcontext.RequestID(ctx),
				)
				writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired credential")
				return
			}

			if len(roles) > 0 && !roleAllowed(cred.Role, roles) {
				writeError(w, http.StatusForbidden, "forbidden", "Insufficient role")
				return
			}

			ctx = requestcontext.WithSubjectID(ctx, cred.SubjectID)
			ctx = withCredential(ctx, cred)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func roleAllowed(role domain.Role, allowed []domain.Role) bool {
	for _, a := range allowed {
		if role == a {
			return true
		}
	}
	return false
}
