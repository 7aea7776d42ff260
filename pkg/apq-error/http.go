package apqerror

import (
	"encoding/json"
	"errors"
	"net/http"
)

type responseError struct {
	Message    string            `json:"message"`
	Extensions map[string]string `json:"extensions"`
}

type errorResponse struct {
	Errors []responseError `json:"errors"`
}

// Write writes err as a GraphQL error response with the status of its kind.
// Untyped errors are internal server errors and their message is not exposed.
func Write(w http.ResponseWriter, err error) {
	kind := KindOf(err)
	message := "Internal server error"
	// the message of the typed error only, without wrapping context or cause
	var e *Error
	if errors.As(err, &e) {
		message = e.Message
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(kind.HTTPStatus())
	json.NewEncoder(w).Encode(errorResponse{
		Errors: []responseError{{
			Message:    message,
			Extensions: map[string]string{"code": kind.Code()},
		}},
	})
}
