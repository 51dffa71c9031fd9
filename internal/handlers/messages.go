package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/eldtechnologies/deskchat/internal/api/middleware"
	"github.com/eldtechnologies/deskchat/internal/models"
)

// SendMessageRequest represents the send message request body. To names
// the client and is required for analysts only.
type SendMessageRequest struct {
	Message string `json:"message"`
	To      string `json:"to,omitempty"`
}

// SendMessage publishes a message into the caller's room.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentityFromContext(r.Context())
	if identity == nil {
		h.Error(w, http.StatusForbidden, "login required")
		return
	}

	var req SendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Message == "" {
		h.Error(w, http.StatusBadRequest, "message is required")
		return
	}

	roomID, err := h.broker.Send(r.Context(), *identity, req.To, req.Message)
	if err != nil {
		h.BrokerError(w, err, false)
		return
	}

	h.JSON(w, http.StatusOK, MessageResponse{
		Message: fmt.Sprintf("message from %q is sent to %q", identity.Nickname, roomID),
		Room:    roomID,
	})
}

// GetMessages returns the history of every room the caller takes part in,
// keyed by room id.
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	h.roomMessages(w, r, h.broker.Messages)
}

// PopMessages returns the same as GetMessages and clears the returned
// history from the rooms.
func (h *Handler) PopMessages(w http.ResponseWriter, r *http.Request) {
	h.roomMessages(w, r, h.broker.PopAll)
}

func (h *Handler) roomMessages(w http.ResponseWriter, r *http.Request, read func(context.Context, models.Identity) (map[string][]models.MessageEntry, error)) {
	identity := middleware.GetIdentityFromContext(r.Context())
	if identity == nil {
		h.Error(w, http.StatusForbidden, "login required")
		return
	}

	messages, err := read(r.Context(), *identity)
	if err != nil {
		h.BrokerError(w, err, false)
		return
	}
	h.JSON(w, http.StatusOK, messages)
}
