package jwt

import "github.com/golang-jwt/jwt"

// Payload defines the JWT claims carried by the identity tokens presented at
// connection time. It embeds the standard claims required for validity checks
// plus the custom claims identifying the user.
type Payload struct {
	// StandardClaims embeds the JWT standard fields such as Exp (Expiration),
	// Iat (Issued At), and Iss (Issuer).
	jwt.StandardClaims `json:"standard_claims"`

	// ID is the unique identifier of the user the token was issued to.
	ID string `json:"id"`

	// Username is the display name recorded at issue time. The authoritative
	// name is always re-read from the user store during handshake verification.
	Username string `json:"username,omitempty"`
}
