package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/mcoot/typerace/internal/api/apierr"
)

// WriteError writes an error response to the response writer
func WriteError(w http.ResponseWriter, err error) {
	apierr.WriteError(w, err)
}

// NewInvalidRequestError creates an invalid request error
func NewInvalidRequestError(message string) error {
	return apierr.NewInvalidRequestError(message)
}

// decode reads a JSON body into dst. When optional is set an empty body
// leaves dst untouched.
func decode(r *http.Request, dst any, optional bool) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	switch {
	case err == nil:
		return nil
	case optional && errors.Is(err, io.EOF):
		return nil
	default:
		return NewInvalidRequestError("invalid request body")
	}
}

// NewUnauthorizedIdentityError reports a request the identity provider did
// not authenticate
func NewUnauthorizedIdentityError(header string) error {
	return apierr.NewMissingIdentityError(header)
}

// NewNotFoundError creates a not found error
func NewNotFoundError(message string) error {
	return apierr.NewNotFoundError(message)
}
