/*
Package identity implements bearer-credential verification for the connection handshake.

It validates the opaque JWT presented at connection time and resolves it to the
user's identity record. Verification is a pure function of the credential: no
session state is created here, and a failed handshake leaves nothing behind.
*/
package identity

import (
	"context"
	"errors"

	"chatrelay/internal/app/db"
	"chatrelay/internal/app/user"
	"chatrelay/internal/pkg/auth/jwt"
	"chatrelay/internal/pkg/errs"
	"chatrelay/internal/pkg/logx"
)

// UserSource resolves a user id to its identity record. It is satisfied by
// *db.Store and by test fakes.
type UserSource interface {
	GetUserByID(ctx context.Context, id string) (user.Identity, error)
}

// Verifier validates bearer tokens and resolves them to user identities.
// It is safe for concurrent use by many simultaneous handshakes.
type Verifier struct {
	users  UserSource
	secret string
}

// NewVerifier returns a Verifier that checks token signatures against secret and
// resolves user ids through users.
func NewVerifier(users UserSource, secret string) *Verifier {
	return &Verifier{
		users:  users,
		secret: secret,
	}
}

// Verify validates the credential and resolves it to a user identity.
// The failure sub-cases (missing token, bad signature or expiry, unknown user)
// carry distinct error codes but are all fatal to the handshake.
func (v *Verifier) Verify(ctx context.Context, token string) (user.Identity, *errs.CustomError) {
	if token == "" {
		return user.Identity{}, errs.NewError(errs.ErrTokenMissing)
	}

	payload, err := jwt.ParseToken(token, v.secret)
	if err != nil {
		logx.Warn("Handshake token failed verification", "error", err)
		return user.Identity{}, errs.NewError(errs.ErrTokenInvalid)
	}

	ident, err := v.users.GetUserByID(ctx, payload.ID)
	if err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			logx.Warn("Handshake token refers to unknown user", "user_id", payload.ID)
			return user.Identity{}, errs.NewError(errs.ErrUserNotFound)
		}

		logx.Error(err, "Handshake identity lookup failed", "user_id", payload.ID)
		return user.Identity{}, errs.NewError(errs.ErrUnknown)
	}

	return ident, nil
}
