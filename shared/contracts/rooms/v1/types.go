// Package v1 defines the Arc rooms REST contract: room resolution, history
// listing, text submission and media upload.
package v1

import (
	"time"

	realtimev1 "arcfeed/shared/contracts/realtime/v1"
)

// Route patterns (net/http ServeMux syntax).
const (
	RouteResolve      = "GET /v1/rooms/resolve"
	RouteListMessages = "GET /v1/rooms/{id}/messages"
	RoutePostMessage  = "POST /v1/rooms/{id}/messages"
	RouteUploadMedia  = "POST /v1/rooms/{id}/media"
)

// Error codes returned inside ErrorResponse.
const (
	CodeNotFound     = "not_found"
	CodeUnauthorized = "unauthorized"
	CodeForbidden    = "forbidden"
	CodeInvalid      = "invalid_request"
	CodeTooLarge     = "too_large"
	CodeServerError  = "server_error"
)

// Message is the REST rendering of a stored room message.
type Message = realtimev1.MessageNewPayload

// ResolveResponse answers GET /v1/rooms/resolve?ref=...
type ResolveResponse struct {
	RoomID string `json:"room_id"`
	Ref    string `json:"ref"`
}

// ListMessagesResponse answers GET /v1/rooms/{id}/messages?limit=N.
// Messages are the newest N, oldest-first.
type ListMessagesResponse struct {
	RoomID   string    `json:"room_id"`
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"has_more"`
}

// PostMessageRequest is the body of POST /v1/rooms/{id}/messages.
type PostMessageRequest struct {
	ClientMsgID string `json:"client_msg_id"`
	Text        string `json:"text"`
}

// PostMessageResponse returns the stored message.
type PostMessageResponse struct {
	Message    Message `json:"message"`
	Duplicated bool    `json:"duplicated"`
}

// MediaResponse answers POST /v1/rooms/{id}/media.
type MediaResponse struct {
	MediaID     string    `json:"media_id"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Message     Message   `json:"message"`
	StoredAt    time.Time `json:"stored_at"`
}

// APIError is the error body shared by every endpoint.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse wraps APIError.
type ErrorResponse struct {
	Error APIError `json:"error"`
}
