package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	roomsv1 "arcfeed/shared/contracts/rooms/v1"
)

// APIError is a non-2xx response from the server. Callers can use errors.As:
//
//	var apiErr *APIError
//	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound { ... }
type APIError struct {
	// Code is the server error code ("not_found", "too_large", ...). Empty
	// when the body was not a JSON error document.
	Code    string
	Message string
	// StatusCode is the HTTP status of the response.
	StatusCode int
	// Body is the raw response body.
	Body string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("client: unexpected %d response: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("client: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

func newAPIError(status int, body []byte) *APIError {
	e := &APIError{StatusCode: status, Body: strings.TrimSpace(string(body))}
	var doc roomsv1.ErrorResponse
	if err := json.Unmarshal(body, &doc); err == nil {
		e.Code = doc.Error.Code
		e.Message = doc.Error.Message
	}
	return e
}

// IsNotFound reports whether err is a 404 *APIError.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsUnauthorized reports whether err is a 401 *APIError.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}
