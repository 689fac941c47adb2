package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/subpay-backend/api/responses"
	pkgerrors "github.com/angelmondragon/subpay-backend/pkg/errors"
	"github.com/angelmondragon/subpay-backend/pkg/logger"
)

const (
	userIDHeader = "X-User-Id"
	roleHeader   = "X-User-Role"
)

// Identity resolves the caller from trusted headers set by the edge proxy.
// Authentication proper lives upstream; this service only consumes the
// resolved identity.
func Identity(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if raw := r.Header.Get(userIDHeader); raw != "" {
				userID, err := uuid.Parse(raw)
				if err != nil {
					responses.WriteError(ctx, logg, w,
						pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid user identity"))
					return
				}
				ctx = WithUserID(ctx, userID)
				if logg != nil {
					ctx = logg.WithUserID(ctx, userID.String())
				}
			}
			if role := r.Header.Get(roleHeader); role != "" {
				ctx = WithRole(ctx, role)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireUser rejects requests without a resolved caller identity.
func RequireUser(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if UserIDFromContext(r.Context()) == uuid.Nil {
				responses.WriteError(r.Context(), logg, w,
					pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin restricts a subtree to operator callers.
func RequireAdmin(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if RoleFromContext(r.Context()) != RoleAdmin {
				responses.WriteError(r.Context(), logg, w,
					pkgerrors.New(pkgerrors.CodeForbidden, "admin role required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
