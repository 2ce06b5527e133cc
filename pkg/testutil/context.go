package testutil

import (
	"net/http"

	"pseudonym/internal/platform/middleware"
	"pseudonym/pkg/requestcontext"
)

// WithClientID adds a client ID to the request context, as RequireAuth
// would for an authenticated request.
func WithClientID(req *http.Request, clientID string) *http.Request {
	return req.WithContext(requestcontext.WithClientID(req.Context(), clientID))
}

// WithAuth adds both the token subject and the client ID.
func WithAuth(req *http.Request, subject, clientID string) *http.Request {
	ctx := middleware.WithSubject(req.Context(), subject)
	ctx = requestcontext.WithClientID(ctx, clientID)
	return req.WithContext(ctx)
}
