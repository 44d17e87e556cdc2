// Package httputil provides HTTP handler utilities for consistent error handling,
// JSON encoding/decoding, and request parsing.
package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/platinummonkey/gallery/pkg/apperr"
	"github.com/platinummonkey/gallery/pkg/observability"
)

// ErrorResponse is the JSON body of every error response
type ErrorResponse struct {
	Error string      `json:"error"`
	Kind  string      `json:"kind,omitempty"`
	Quota *QuotaError `json:"quota,omitempty"`
}

// QuotaError describes the violated quota dimension
type QuotaError struct {
	Dimension string `json:"dimension"`
	Current   int64  `json:"current"`
	Limit     int64  `json:"limit"`
	Requested int64  `json:"requested"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a 200 response with JSON data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteCreated writes a 201 response with JSON data
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteNoContent writes a 204 response
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// WriteErrorMessage writes a JSON error response with a custom message
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, ErrorResponse{Error: message})
}

// WriteTooManyRequests writes a 429 error
func WriteTooManyRequests(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusTooManyRequests, message)
}

// StatusFor maps an error kind to its HTTP status
func StatusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindAuthenticationRequired:
		return http.StatusUnauthorized
	case apperr.KindPermissionDenied:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindDuplicateSpace:
		return http.StatusConflict
	case apperr.KindQuotaExceeded:
		return http.StatusRequestEntityTooLarge
	case apperr.KindInvalidArgument:
		return http.StatusBadRequest
	case apperr.KindStorageFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WriteAppError translates err into a status and JSON body. Internal errors
// are logged and their details withheld from the client.
func WriteAppError(w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := apperr.As(err)
	if !ok {
		observability.FromContext(r.Context()).WithError(err).Error("Unhandled error")
		WriteJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error: "internal server error",
			Kind:  apperr.KindInternal.String(),
		})
		return
	}

	status := StatusFor(appErr.Kind)
	resp := ErrorResponse{Error: appErr.Error(), Kind: appErr.Kind.String()}

	switch appErr.Kind {
	case apperr.KindQuotaExceeded:
		resp.Quota = &QuotaError{
			Dimension: string(appErr.Dimension),
			Current:   appErr.Current,
			Limit:     appErr.Limit,
			Requested: appErr.Requested,
		}
	case apperr.KindInternal, apperr.KindStorageFailure:
		observability.FromContext(r.Context()).WithError(err).Error("Request failed")
		if appErr.Kind == apperr.KindInternal {
			resp.Error = "internal server error"
		} else {
			resp.Error = appErr.Message
		}
	}

	WriteJSON(w, status, resp)
}
