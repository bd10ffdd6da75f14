/*
Package errs provides custom error types and application-level error code constants.

These error codes identify specific business or system errors both internally
within the server and in communication with clients.
*/
package errs

// 1xxx: General Request Handling Errors
const (
	// ErrInvalidParams indicates that request parameter validation failed.
	ErrInvalidParams = 1001

	// ErrUnsupportedMediaType indicates that the request header Content-Type is not supported.
	ErrUnsupportedMediaType = 1002

	// ErrInvalidJSONFormat indicates that the request body JSON format is incorrect.
	ErrInvalidJSONFormat = 1003

	// ErrExtraContentInBody indicates that the request body contained extra content after valid JSON data.
	ErrExtraContentInBody = 1004

	// ErrRateLimitExceeded indicates that the request rate has exceeded the set limit.
	ErrRateLimitExceeded = 1005
)

// 2xxx: Presence and Messaging Business Errors
const (
	// ErrInvalidStatus indicates that an unknown presence status value was supplied.
	ErrInvalidStatus = 2101
)

// 3xxx: Authentication and Session Errors
const (
	// ErrTokenMissing indicates that no bearer token was presented at connection time.
	ErrTokenMissing = 3001

	// ErrTokenInvalid indicates that the presented token is malformed, has a bad
	// signature, or is expired.
	ErrTokenInvalid = 3002

	// ErrUserNotFound indicates that the token refers to a user id that no longer exists.
	ErrUserNotFound = 3003

	// ErrSessionReplaced indicates that the connection was terminated because the
	// same user id signed in through a newer connection.
	ErrSessionReplaced = 3004

	// ErrUnauthorized indicates that the request requires an authenticated identity.
	ErrUnauthorized = 3005
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified, general server internal error.
	ErrUnknown = 5000
)
