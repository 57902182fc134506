package account

import (
	"errors"
	"fmt"
	"net/http"
)

// AuthError is the typed failure returned by account operations.
type AuthError struct {
	// Type is a stable machine-readable identifier.
	Type string `json:"type"`
	// Message is a human-readable message describing the error.
	Message string `json:"message"`
	// Code is the HTTP status code associated with the error.
	Code int `json:"code"`
	// Cause is the underlying error.
	Cause error `json:"-"`
}

// Error returns a string representation of the error.
func (e *AuthError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap exposes the cause.
func (e *AuthError) Unwrap() error { return e.Cause }

// Is matches any AuthError of the same Type, so wrapped instances compare equal to their base.
func (e *AuthError) Is(target error) bool {
	t, ok := target.(*AuthError)
	return ok && t.Type == e.Type
}

var (
	// ErrFlowInit means the identity client could not start a sign-in flow.
	ErrFlowInit = &AuthError{
		Type:    "flow_init_failed",
		Message: "Failed to start the sign-in flow",
		Code:    http.StatusBadGateway,
	}

	// ErrRedirectParse means the flow's redirect URI is malformed.
	ErrRedirectParse = &AuthError{
		Type:    "redirect_parse_failed",
		Message: "Error parsing auth redirect URL",
		Code:    http.StatusBadRequest,
	}

	// ErrSurface means the sign-in surface could not be created or controlled.
	ErrSurface = &AuthError{
		Type:    "surface_failed",
		Message: "Failed to control the sign-in surface",
		Code:    http.StatusInternalServerError,
	}

	// ErrExchange means the authorization code could not be exchanged for a credential.
	ErrExchange = &AuthError{
		Type:    "code_exchange_failed",
		Message: "Failed to exchange authorization code for tokens",
		Code:    http.StatusBadGateway,
	}

	// ErrUserNotFound means the referenced user is not in the directory.
	ErrUserNotFound = &AuthError{
		Type:    "user_not_found",
		Message: "User is not in the account directory",
		Code:    http.StatusNotFound,
	}

	// ErrInvalidUserID means a user identifier is not a UUID.
	ErrInvalidUserID = &AuthError{
		Type:    "invalid_user_id",
		Message: "User identifier must be a UUID",
		Code:    http.StatusBadRequest,
	}

	// ErrInvalidUsername rejects empty offline usernames.
	ErrInvalidUsername = &AuthError{
		Type:    "invalid_username",
		Message: "Username required for offline account",
		Code:    http.StatusBadRequest,
	}

	// ErrUsernameTaken rejects a second offline account with the same name.
	ErrUsernameTaken = &AuthError{
		Type:    "username_taken",
		Message: "Offline account with this username already exists",
		Code:    http.StatusConflict,
	}

	// ErrStorage wraps persister failures.
	ErrStorage = &AuthError{
		Type:    "storage_failed",
		Message: "Failed to persist the account directory",
		Code:    http.StatusInternalServerError,
	}
)

// NewAuthError creates an error of the base kind carrying cause.
func NewAuthError(base *AuthError, cause error) *AuthError {
	return &AuthError{
		Type:    base.Type,
		Message: base.Message,
		Code:    base.Code,
		Cause:   cause,
	}
}

// StatusCode returns the HTTP status for err, 500 for untyped errors.
func StatusCode(err error) int {
	if authErr, ok := errors.AsType[*AuthError](err); ok {
		return authErr.Code
	}
	return http.StatusInternalServerError
}

// UserFriendlyMessage returns a message suitable for display by the host shell.
func UserFriendlyMessage(err error) string {
	authErr, ok := errors.AsType[*AuthError](err)
	if !ok {
		return "An unexpected error occurred. Please try again."
	}
	switch authErr.Type {
	case ErrFlowInit.Type:
		return "Could not reach the sign-in service. Check your connection and try again."
	case ErrSurface.Type:
		return "The sign-in window could not be opened."
	case ErrExchange.Type:
		return "Sign-in could not be completed. Please try again."
	case ErrUserNotFound.Type:
		return "That account is no longer signed in."
	default:
		return authErr.Message
	}
}
