// Package httputil writes JSON responses and decodes validated request bodies.
package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// MaxBodyBytes caps decoded request bodies.
const MaxBodyBytes = 1 << 20

// Error is an HTTP-facing error with a stable machine-readable code.
type Error struct {
	Status      int
	Code        string
	Description string
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Description
}

func NewError(status int, code, description string) *Error {
	return &Error{Status: status, Code: code, Description: description}
}

// BadRequest is a 400 with the bad_request code.
func BadRequest(description string) *Error {
	return NewError(http.StatusBadRequest, "bad_request", description)
}

type errorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// WriteJSON writes v as the response body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps err to a JSON error body. Errors that are not *Error become
// a 500. Descriptions of 5xx errors are never sent to the client.
func WriteError(w http.ResponseWriter, err error) {
	var httpErr *Error
	if !errors.As(err, &httpErr) {
		httpErr = NewError(http.StatusInternalServerError, "internal_error", "")
	}
	resp := errorResponse{Error: httpErr.Code}
	if httpErr.Status < http.StatusInternalServerError {
		resp.Description = httpErr.Description
	}
	WriteJSON(w, httpErr.Status, resp)
}

// Validatable request bodies check and normalize themselves after decoding.
type Validatable interface {
	Validate() error
}

// DecodeAndPrepare decodes a JSON body into T and validates it. On failure it
// writes a 400 and returns false.
func DecodeAndPrepare[T any, PT interface {
	*T
	Validatable
}](w http.ResponseWriter, r *http.Request, logger *slog.Logger, ctx context.Context, requestID string) (*T, bool) {
	req := new(T)
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(req); err != nil {
		logger.WarnContext(ctx, "failed to decode request body",
			"request_id", requestID,
			"error", err,
		)
		WriteError(w, BadRequest("invalid request body"))
		return nil, false
	}
	if err := PT(req).Validate(); err != nil {
		logger.WarnContext(ctx, "invalid request",
			"request_id", requestID,
			"error", err,
		)
		var httpErr *Error
		if !errors.As(err, &httpErr) {
			httpErr = BadRequest(err.Error())
		}
		WriteError(w, httpErr)
		return nil, false
	}
	return req, true
}
