/*
Package user contains the core data structure for user identity.

It defines the Identity struct resolved once during the connection handshake and
attached, immutable, to a session for its whole lifetime.
*/
package user

// Identity represents the identity of a connected user.
// Fields use JSON tags for serialization in WebSocket events.
type Identity struct {

	// ID is the unique identifier for the user.
	ID string `json:"id"`

	// Username is the display name shown to other users.
	Username string `json:"username"`
}
