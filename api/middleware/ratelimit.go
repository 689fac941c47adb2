package middleware

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/subpay-backend/api/responses"
	pkgerrors "github.com/angelmondragon/subpay-backend/pkg/errors"
	"github.com/angelmondragon/subpay-backend/pkg/logger"
)

// RateLimiter applies a fixed-window counter keyed by scope, reporting
// whether the request is still inside the limit.
type RateLimiter interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// RateLimit caps requests per caller inside a fixed window. A nil limiter
// or non-positive limit disables the check; a limiter outage fails open.
func RateLimit(limiter RateLimiter, scope string, limit int64, window time.Duration, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil || limit <= 0 || window <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			allowed, count, err := limiter.FixedWindowAllow(r.Context(), scope+":"+callerKey(r), limit, window)
			if err != nil {
				if logg != nil {
					logg.Warn(r.Context(), "rate limiter unavailable, failing open")
				}
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				responses.WriteError(r.Context(), logg, w,
					pkgerrors.New(pkgerrors.CodeRateLimit, "too many requests").
						WithDetails(map[string]any{"count": count, "limit": limit}))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func callerKey(r *http.Request) string {
	if userID := UserIDFromContext(r.Context()); userID != uuid.Nil {
		return userID.String()
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
