package handler

import (
	"context"
	"time"

	"chatrelay/internal/app/presence"
	"chatrelay/internal/app/relay"
	"chatrelay/internal/app/user"
	"chatrelay/internal/configs"
	"chatrelay/internal/pkg/errs"
)

// TokenVerifier authenticates the bearer credential presented at connection time.
// Satisfied by *identity.Verifier.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (user.Identity, *errs.CustomError)
}

// PresenceStore is what the REST surface needs from the persistence layer.
// Satisfied by *db.Store.
type PresenceStore interface {
	SetStatus(ctx context.Context, userID string, status presence.Status, at time.Time) error
	GetPresence(ctx context.Context, userID string) (presence.Record, error)
}

// AppDeps bundles the collaborators the handlers need.
type AppDeps struct {
	Registry *relay.Registry
	Config   *configs.AppConfig
	Verifier TokenVerifier
	Presence PresenceStore
}
