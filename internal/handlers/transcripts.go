package handlers

import (
	"net/http"
	"strconv"

	"github.com/eldtechnologies/deskchat/internal/api/middleware"
	"github.com/eldtechnologies/deskchat/internal/models"
)

const (
	defaultTranscriptLimit = 20
	maxTranscriptLimit     = 100
)

// TranscriptListResponse represents the transcript list response.
type TranscriptListResponse struct {
	Transcripts []models.Transcript `json:"transcripts"`
}

// ListTranscripts returns the calling analyst's archived chats, newest first.
func (h *Handler) ListTranscripts(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentityFromContext(r.Context())
	if identity == nil {
		h.Error(w, http.StatusForbidden, "login required")
		return
	}

	limit := defaultTranscriptLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			h.Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxTranscriptLimit)
	}

	list, err := h.broker.Transcripts(r.Context(), identity.Nickname, limit)
	if err != nil {
		h.BrokerError(w, err, false)
		return
	}
	h.JSON(w, http.StatusOK, TranscriptListResponse{Transcripts: list})
}
