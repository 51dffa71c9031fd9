package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/eldtechnologies/deskchat/internal/api/middleware"
	"github.com/eldtechnologies/deskchat/internal/crypto"
	"github.com/eldtechnologies/deskchat/internal/models"
)

// LoginRequest represents the login request body.
type LoginRequest struct {
	Nickname string `json:"nickname"`
}

// ClientLogin brings a client online and assigns it a room.
func (h *Handler) ClientLogin(w http.ResponseWriter, r *http.Request) {
	h.login(w, r, models.RoleClient)
}

// AnalystLogin brings an analyst online.
func (h *Handler) AnalystLogin(w http.ResponseWriter, r *http.Request) {
	h.login(w, r, models.RoleAnalyst)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request, role models.Role) {
	var req LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	roomID, err := h.broker.Login(r.Context(), role, req.Nickname)
	if err != nil {
		if role == models.RoleClient {
			h.endSession(r.Context(), w, r)
		}
		h.BrokerError(w, fmt.Errorf("%s login failed: %w", role, err), role == models.RoleClient)
		return
	}

	id := crypto.NewSessionID()
	identity := models.Identity{Nickname: req.Nickname, Role: role}
	if err := h.redis.CreateSession(r.Context(), id, identity, h.sessionTTL); err != nil {
		h.logger.Error().Err(err).Str("nickname", req.Nickname).Msg("failed to create session")
		h.Error(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	middleware.SetSessionCookie(w, id, h.sessionTTL, h.secureCookies)

	if role == models.RoleClient {
		h.JSON(w, http.StatusOK, MessageResponse{
			Message: fmt.Sprintf("%s logged in, room: %s.", req.Nickname, roomID),
			Room:    roomID,
		})
		return
	}
	h.JSON(w, http.StatusOK, MessageResponse{Message: fmt.Sprintf("analyst %q logged in.", req.Nickname)})
}

// ClientLogout ends the client's chat and session.
func (h *Handler) ClientLogout(w http.ResponseWriter, r *http.Request) {
	h.logout(w, r)
}

// AnalystLogout takes the analyst offline. It is refused while any of the
// analyst's rooms is still open.
func (h *Handler) AnalystLogout(w http.ResponseWriter, r *http.Request) {
	h.logout(w, r)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentityFromContext(r.Context())
	if identity == nil {
		h.Error(w, http.StatusForbidden, "login required")
		return
	}

	if err := h.broker.Logout(r.Context(), identity.Role, identity.Nickname); err != nil {
		h.BrokerError(w, fmt.Errorf("%s %q cannot logout yet: %w", identity.Role, identity.Nickname, err), false)
		return
	}

	h.endSession(r.Context(), w, r)
	h.JSON(w, http.StatusOK, MessageResponse{Message: fmt.Sprintf("%s %q logged out.", identity.Role, identity.Nickname)})
}

// Me returns the identity behind the caller's session, or null.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, middleware.GetIdentityFromContext(r.Context()))
}

// endSession deletes the caller's session, if any, and expires the cookie.
func (h *Handler) endSession(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.SessionCookie)
	if err != nil || cookie.Value == "" {
		return
	}
	if err := h.redis.DeleteSession(ctx, cookie.Value); err != nil {
		h.logger.Warn().Err(err).Msg("failed to delete session")
	}
	middleware.ClearSessionCookie(w)
}
