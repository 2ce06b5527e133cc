package handler

import (
	"net/http"

	"pseudonym/internal/pseudonym/models"
	"pseudonym/pkg/platform/httputil"
)

const (
	// MaxIdentifierBytes bounds a single identifier.
	MaxIdentifierBytes = 4096
	// MaxBatchSize bounds the identifiers of one batch request.
	MaxBatchSize = 256
)

// ResolveRequest is the body of POST /v1/pseudonyms.
type ResolveRequest struct {
	Identifier string `json:"identifier"`
}

func (r *ResolveRequest) Validate() error {
	return validateIdentifier(r.Identifier)
}

// BatchResolveRequest is the body of POST /v1/pseudonyms/batch.
type BatchResolveRequest struct {
	Identifiers []string `json:"identifiers"`
}

func (r *BatchResolveRequest) Validate() error {
	if len(r.Identifiers) == 0 {
		return httputil.NewError(http.StatusBadRequest, "validation_error", "identifiers is required")
	}
	if len(r.Identifiers) > MaxBatchSize {
		return httputil.NewError(http.StatusBadRequest, "validation_error", "too many identifiers")
	}
	for _, id := range r.Identifiers {
		if err := validateIdentifier(id); err != nil {
			return err
		}
	}
	return nil
}

func validateIdentifier(id string) error {
	if id == "" {
		return httputil.NewError(http.StatusBadRequest, "validation_error", "identifier is required")
	}
	if len(id) > MaxIdentifierBytes {
		return httputil.NewError(http.StatusBadRequest, "validation_error", "identifier is too long")
	}
	return nil
}

// ResolveResponse never echoes the identifier.
type ResolveResponse struct {
	Pseudonym string `json:"pseudonym"`
	First     string `json:"first"`
	Middle    string `json:"middle"`
	Last      string `json:"last"`
	Digest    string `json:"digest"`
}

func FromPseudonym(name models.Pseudonym, digest models.Digest) ResolveResponse {
	return ResolveResponse{
		Pseudonym: name.String(),
		First:     name.First,
		Middle:    name.Middle,
		Last:      name.Last,
		Digest:    digest.Short(),
	}
}

// BatchResolveResponse lists results in request order.
type BatchResolveResponse struct {
	Results []ResolveResponse `json:"results"`
}
