/*
Package handler provides the HTTP handler function for WebSocket connection upgrading
and initialization.

This file contains the HandleWebSocket function, which is responsible for rate
limiting, verifying the bearer credential before the upgrade, and starting the
session lifecycle on the accepted connection.
*/
package handler

import (
	"net"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"chatrelay/internal/app/relay"
	"chatrelay/internal/pkg/errs"
	"chatrelay/internal/pkg/limiter"
	"chatrelay/internal/pkg/logx"
	"chatrelay/internal/pkg/resp"
)

// extractToken pulls the bearer credential from the connection request. Browser
// WebSocket clients cannot set headers, so the token is accepted both as the
// "token" query parameter and as an Authorization: Bearer header.
func extractToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}

	authHeader := r.Header.Get("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) == 2 && parts[0] == "Bearer" {
		return parts[1]
	}

	return ""
}

// HandleWebSocket creates an HTTP HandlerFunc to process WebSocket connection requests.
// The handshake is refused, and the transport never upgraded, unless the presented
// credential verifies; no session state exists for a failed handshake.
func HandleWebSocket(upgrader websocket.Upgrader, rateLimiter *limiter.IPRateLimiter, deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}

		if ip == "" {
			ip = "unknown_ip"
		}

		if !rateLimiter.GetLimiter(ip).Allow() {
			logx.Warn("WebSocket connection rejected: Rate limit exceeded.", "ip", ip)
			resp.RespondError(w, r, errs.NewError(errs.ErrRateLimitExceeded))
			return
		}

		token := extractToken(r)

		ident, verifyErr := deps.Verifier.Verify(r.Context(), token)
		if verifyErr != nil {
			logx.Warn("WebSocket connection rejected: Handshake verification failed.", "code", verifyErr.Code)
			resp.RespondError(w, r, verifyErr)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade connection to WebSocket")
			return
		}

		logx.Info("WebSocket connection established", "user_id", ident.ID, "username", ident.Username)

		session := relay.NewSession(deps.Registry, deps.Presence, conn, ident)
		session.Run()
	}
}
