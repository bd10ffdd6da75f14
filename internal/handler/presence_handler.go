/*
Package handler provides HTTP handler functions for the presence REST surface.

The relay itself only ever flips presence between online and offline; these
endpoints let the rest of the application read the registry snapshot, read a
user's persisted record, and let a signed-in user set a manual away/busy status.
*/
package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"chatrelay/internal/app/db"
	"chatrelay/internal/app/presence"
	"chatrelay/internal/pkg/auth/jwt"
	"chatrelay/internal/pkg/errs"
	"chatrelay/internal/pkg/logx"
	"chatrelay/internal/pkg/req"
	"chatrelay/internal/pkg/resp"
)

// HandleOnlineUsers returns a snapshot of the currently connected users.
func HandleOnlineUsers(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		online := deps.Registry.Online()

		resp.RespondSuccess(w, r, map[string]any{
			"users": online,
			"count": len(online),
		})
	}
}

// HandleGetPresence returns a user's persisted presence record (status + last seen).
func HandleGetPresence(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		if userID == "" {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		rec, err := deps.Presence.GetPresence(r.Context(), userID)
		if err != nil {
			if errors.Is(err, db.ErrUserNotFound) {
				resp.RespondError(w, r, errs.NewError(errs.ErrUserNotFound))
				return
			}

			logx.Error(err, "Failed to read presence record", "user_id", userID)
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
			return
		}

		resp.RespondSuccess(w, r, rec)
	}
}

type SetStatusInput struct {
	Status string `json:"status"`
}

// HandleSetStatus lets an authenticated user set a manual presence status
// (away, busy, or back to online). Offline is reserved for the relay's own
// disconnect transition.
func HandleSetStatus(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := jwt.GetPayloadFromContext(r)
		if identity == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
			return
		}

		var input SetStatusInput
		if customErr := req.BindJSON(r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		status := presence.Status(input.Status)
		if !status.Valid() || status == presence.StatusOffline {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidStatus))
			return
		}

		now := time.Now()
		if err := deps.Presence.SetStatus(r.Context(), identity.ID, status, now); err != nil {
			if errors.Is(err, db.ErrUserNotFound) {
				resp.RespondError(w, r, errs.NewError(errs.ErrUserNotFound))
				return
			}

			logx.Error(err, "Failed to persist manual presence status", "user_id", identity.ID)
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
			return
		}

		resp.RespondSuccess(w, r, presence.Record{
			UserID:   identity.ID,
			Status:   status,
			LastSeen: now,
		})
	}
}
