package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/lingomate/backend/internal/auth"
	"github.com/lingomate/backend/internal/logging"
	"github.com/lingomate/backend/internal/models"
	"github.com/lingomate/backend/internal/repositories"
)

type userKey struct{}

// TokenVerifier validates a session token and returns its user id.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// UserFinder loads the user a session belongs to.
type UserFinder interface {
	FindByID(ctx context.Context, id string) (models.User, error)
}

// RequireSession authenticates the session cookie and stores the user on
// the request context.
func RequireSession(tokens TokenVerifier, users UserFinder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			logger := logging.FromContext(ctx)

			token := auth.TokenFromRequest(r)
			if token == "" {
				writeMessage(w, http.StatusUnauthorized, "Unauthorized - No token provided")
				return
			}

			userID, err := tokens.Verify(token)
			if err != nil {
				logger.Warn("session token rejected", slog.String("error", err.Error()))
				writeMessage(w, http.StatusUnauthorized, "Unauthorized - Invalid token")
				return
			}

			user, err := users.FindByID(ctx, userID)
			if err != nil {
				if errors.Is(err, repositories.ErrNotFound) {
					writeMessage(w, http.StatusUnauthorized, "Unauthorized - User not found")
					return
				}
				logger.Error("session user lookup failed", slog.String("error", err.Error()))
				writeMessage(w, http.StatusInternalServerError, "Internal Server Error")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(ctx, user)))
		})
	}
}

// UserFromContext returns the authenticated user placed by RequireSession.
func UserFromContext(ctx context.Context) (models.User, bool) {
	user, ok := ctx.Value(userKey{}).(models.User)
	return user, ok
}

// WithUser stores user on ctx as RequireSession would.
func WithUser(ctx context.Context, user models.User) context.Context {
	return context.WithValue(logging.WithUserID(ctx, user.ID), userKey{}, user)
}
