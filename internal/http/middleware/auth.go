package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/fieldtrack/attendance/internal/domain"
	"github.com/fieldtrack/attendance/internal/http/response"
	"github.com/fieldtrack/attendance/pkg/logger"
)

type ctxKey string

const (
	ctxUser    ctxKey = "user"
	ctxSession ctxKey = "session"
)

// SessionValidator resolves a raw bearer token into its session and user.
type SessionValidator interface {
	Validate(ctx context.Context, rawToken string) (*domain.UserSession, *domain.User, error)
}

// RequireSession authenticates requests against the session store, not just
// the JWT signature, so revoked tokens fail immediately.
func RequireSession(sessions SessionValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authz := r.Header.Get("Authorization")
			if !strings.HasPrefix(authz, "Bearer ") {
				response.Unauthorized(w, "invalid authorization header")
				return
			}
			raw := strings.TrimPrefix(authz, "Bearer ")

			sess, user, err := sessions.Validate(r.Context(), raw)
			if err != nil {
				switch {
				case errors.Is(err, domain.ErrSessionInvalidated),
					errors.Is(err, domain.ErrAccountDeactivated),
					errors.Is(err, domain.ErrTokenExpired):
					response.WriteDomainError(w, r, err)
				default:
					response.InternalError(w, "authentication failed")
				}
				return
			}

			ctx := context.WithValue(r.Context(), ctxUser, user)
			ctx = context.WithValue(ctx, ctxSession, sess)
			ctx = context.WithValue(ctx, logger.UserIDKey, user.ID)
			if sess.DeviceFingerprint != "" {
				ctx = context.WithValue(ctx, logger.DeviceIDKey, sess.DeviceFingerprint)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CurrentUser returns the authenticated user, nil outside RequireSession.
func CurrentUser(r *http.Request) *domain.User {
	v := r.Context().Value(ctxUser)
	if v == nil {
		return nil
	}
	return v.(*domain.User)
}

// CurrentSession returns the authenticated session, nil outside RequireSession.
func CurrentSession(r *http.Request) *domain.UserSession {
	v := r.Context().Value(ctxSession)
	if v == nil {
		return nil
	}
	return v.(*domain.UserSession)
}
