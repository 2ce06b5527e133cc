// Package middleware limits resolve API calls per authenticated client.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"pseudonym/internal/ratelimit/store/bucket"
	"pseudonym/pkg/platform/httputil"
	"pseudonym/pkg/requestcontext"
)

// BucketStore is satisfied by the in-memory and Redis bucket stores.
type BucketStore interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*bucket.Result, error)
}

type Middleware struct {
	store    BucketStore
	logger   *slog.Logger
	limit    int
	window   time.Duration
	disabled bool
}

type Option func(*Middleware)

// WithDisabled turns the middleware into a pass-through.
func WithDisabled(disabled bool) Option {
	return func(m *Middleware) {
		m.disabled = disabled
	}
}

// WithWindow changes the default one-minute window.
func WithWindow(window time.Duration) Option {
	return func(m *Middleware) {
		if window > 0 {
			m.window = window
		}
	}
}

// New allows limit requests per client per window. A limit below one
// disables limiting.
func New(store BucketStore, limit int, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{
		store:  store,
		logger: logger,
		limit:  limit,
		window: time.Minute,
	}
	for _, opt := range opts {
		opt(m)
	}
	if limit < 1 {
		m.disabled = true
	}
	if m.disabled {
		logger.Info("rate limiting disabled")
	}
	return m
}

type rateLimitExceededResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after"`
}

// RateLimitClient limits by the client ID that authentication stored in the
// request context. It fails open when the store errors.
func (m *Middleware) RateLimitClient() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m.disabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			clientID := requestcontext.ClientID(ctx)
			if clientID == "" {
				clientID = "anonymous"
			}

			result, err := m.store.Allow(ctx, "client:"+clientID, m.limit, m.window)
			if err != nil {
				m.logger.ErrorContext(ctx, "failed to check client rate limit",
					"error", err,
					"client_id", clientID,
					"request_id", requestcontext.RequestID(ctx),
				)
				next.ServeHTTP(w, r)
				return
			}

			addRateLimitHeaders(w, result)
			if !result.Allowed {
				m.logger.WarnContext(ctx, "client rate limit exceeded",
					"client_id", clientID,
					"request_id", requestcontext.RequestID(ctx),
				)
				w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
				httputil.WriteJSON(w, http.StatusTooManyRequests, &rateLimitExceededResponse{
					Error:      "rate_limit_exceeded",
					Message:    "Too many requests for this client. Please try again later.",
					RetryAfter: result.RetryAfter,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func addRateLimitHeaders(w http.ResponseWriter, result *bucket.Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}
