// Package apierrors provides structured API error codes and responses.
// All codes are namespaced (e.g., "core:unauthorized",
// "dispatch:target_full").
package apierrors

import "net/http"

// Core error codes - registered automatically at init
const (
	// Authentication & Authorization
	CodeUnauthorized = "core:unauthorized"
	CodeForbidden    = "core:forbidden"
	CodeInvalidToken = "core:invalid_token"
	CodeTokenRevoked = "core:token_revoked"

	// Request errors
	CodeInvalidRequest = "core:invalid_request"
	CodeInvalidID      = "core:invalid_id"

	// Resource errors
	CodeNotFound = "core:not_found"
	CodeConflict = "core:conflict"

	// Server errors
	CodeInternalError = "core:internal_error"
)

// Dispatch error codes surface lifecycle conflicts to the admin
// surface.
const (
	CodeConversationClosed = "dispatch:conversation_closed"
	CodeSameAgent          = "dispatch:same_agent"
	CodeTargetOffline      = "dispatch:target_offline"
	CodeTargetFull         = "dispatch:target_full"
	CodeTargetDisabled     = "dispatch:target_disabled"
)

var registeredErrors = []ErrorCode{
	{Code: CodeUnauthorized, Message: "Authentication required", HTTPStatus: http.StatusUnauthorized},
	{Code: CodeForbidden, Message: "Permission denied", HTTPStatus: http.StatusForbidden},
	{Code: CodeInvalidToken, Message: "Invalid or malformed token", HTTPStatus: http.StatusUnauthorized},
	{Code: CodeTokenRevoked, Message: "Token has been revoked", HTTPStatus: http.StatusUnauthorized},

	{Code: CodeInvalidRequest, Message: "Invalid request body", HTTPStatus: http.StatusBadRequest},
	{Code: CodeInvalidID, Message: "Invalid ID format", HTTPStatus: http.StatusBadRequest},

	{Code: CodeNotFound, Message: "Resource not found", HTTPStatus: http.StatusNotFound},
	{Code: CodeConflict, Message: "Resource conflict", HTTPStatus: http.StatusConflict},

	{Code: CodeInternalError, Message: "Internal server error", HTTPStatus: http.StatusInternalServerError},

	// Transfer conflicts respond 200 with success=false; the status
	// registered here is only for non-transfer uses of the codes.
	{Code: CodeConversationClosed, Message: "Conversation is closed", HTTPStatus: http.StatusConflict},
	{Code: CodeSameAgent, Message: "Source and target agent are the same", HTTPStatus: http.StatusConflict},
	{Code: CodeTargetOffline, Message: "Target agent is offline", HTTPStatus: http.StatusConflict},
	{Code: CodeTargetFull, Message: "Target agent has no free capacity", HTTPStatus: http.StatusConflict},
	{Code: CodeTargetDisabled, Message: "Target agent is disabled", HTTPStatus: http.StatusConflict},
}

func init() {
	for _, e := range registeredErrors {
		Registry.Register(e)
	}
}
