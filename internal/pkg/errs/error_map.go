/*
Package errs provides custom error types and application-level error code constants.

This file defines the map from error codes to the CustomError struct, used to standardize
HTTP responses and internal error handling.
*/
package errs

import "net/http"

// errorMap stores the CustomError template for every application error code.
// The key is the error code, the value carries the client message and HTTP status.
var errorMap = map[int]CustomError{
	// 1xxx: General Request Handling Errors
	ErrInvalidParams:        {Code: ErrInvalidParams, Message: "Invalid request parameters."},
	ErrUnsupportedMediaType: {Code: ErrUnsupportedMediaType, Message: "Unsupported request format."},
	ErrInvalidJSONFormat:    {Code: ErrInvalidJSONFormat, Message: "Unsupported request format."},
	ErrExtraContentInBody:   {Code: ErrExtraContentInBody, Message: "Request contains unexpected data."},
	ErrRateLimitExceeded:    {Code: ErrRateLimitExceeded, Message: "Too many requests. Please try again later.", Status: http.StatusTooManyRequests},

	// 2xxx: Presence and Messaging Business Errors
	ErrInvalidStatus: {Code: ErrInvalidStatus, Message: "Unknown presence status."},

	// 3xxx: Authentication and Session Errors
	ErrTokenMissing:    {Code: ErrTokenMissing, Message: "Authentication required.", Status: http.StatusUnauthorized},
	ErrTokenInvalid:    {Code: ErrTokenInvalid, Message: "Invalid or expired credentials.", Status: http.StatusUnauthorized},
	ErrUserNotFound:    {Code: ErrUserNotFound, Message: "Account not found.", Status: http.StatusUnauthorized},
	ErrSessionReplaced: {Code: ErrSessionReplaced, Message: "You were signed in on another device."},
	ErrUnauthorized:    {Code: ErrUnauthorized, Message: "Please sign in to continue.", Status: http.StatusUnauthorized},

	// 5xxx: Internal System Errors
	ErrUnknown: {Code: ErrUnknown, Message: "Something went wrong. Please try again.", Status: http.StatusInternalServerError},
}
