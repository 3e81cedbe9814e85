package core

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"airtime/internal/lockstore"
	"airtime/internal/types"
)

// Global per-user API rate limit: fixed window over all authenticated
// endpoints. The tighter session-mint limit is enforced separately inside
// admission.
const (
	apiRateWindow = time.Minute
	apiRateLimit  = 120
	apiRateAction = "api"
)

// RateLimit enforces a per-user fixed-window request limit backed by the lock
// store. Store errors fail open: a cache outage must never block traffic.
//
// Unauthenticated requests pass through; AuthMiddleware has already rejected
// them unless the route is public.
func (s *Server) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Locks == nil {
			next.ServeHTTP(w, r)
			return
		}

		identity, ok := types.GetIdentity(r.Context())
		if !ok || identity.UserID == "" {
			next.ServeHTTP(w, r)
			return
		}

		count, err := s.Locks.IncrWithExpiry(
			r.Context(),
			lockstore.RateKey(identity.UserID, apiRateAction),
			apiRateWindow,
		)
		if err != nil {
			s.Logger.Error("rate limit store error",
				slog.String("user_id", identity.UserID),
				slog.String("error", err.Error()),
			)
			next.ServeHTTP(w, r)
			return
		}

		remaining := apiRateLimit - int(count)
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(apiRateLimit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if count > apiRateLimit {
			s.Logger.Warn("rate limit exceeded",
				slog.String("user_id", identity.UserID),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
			)

			w.Header().Set("Retry-After", strconv.Itoa(int(apiRateWindow.Seconds())))

			resp := APIErrorResponse{
				Error: ErrorDetail{
					Code:      string(types.ErrCodeRateLimit),
					Message:   "Rate limit exceeded. Please retry after the window resets.",
					RequestID: types.GetRequestID(r.Context()),
				},
			}
			JSON(w, r, http.StatusTooManyRequests, resp)
			return
		}

		next.ServeHTTP(w, r)
	})
}
