// Package httputil provides the JSON request and response plumbing shared by
// all HTTP handlers.
package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	apperrors "github.com/hexonomy/gridshare/internal/errors"
)

// maxBodyBytes caps request bodies; the API carries small control-plane
// payloads only.
const maxBodyBytes = 1 << 20

// ErrorResponse is the wire shape of every failure.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// DecodeJSON reads a JSON request body into dst, rejecting unknown fields.
func DecodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperrors.Validation("invalid request body: %v", err)
	}
	return nil
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// WriteError renders an error in the service error envelope. Errors outside
// the service taxonomy are masked as internal; their details stay in logs.
func WriteError(w http.ResponseWriter, err error) {
	var svcErr *apperrors.ServiceError
	if !errors.As(err, &svcErr) {
		WriteJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error: "internal error",
			Kind:  string(apperrors.KindInternal),
		})
		return
	}
	WriteJSON(w, svcErr.HTTPStatus, ErrorResponse{
		Error: svcErr.Message,
		Kind:  string(svcErr.Kind),
	})
}
