package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/deskchat/internal/broker"
	"github.com/eldtechnologies/deskchat/internal/store"
)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	broker  *broker.Broker
	redis   *store.RedisStore
	archive store.TranscriptStore // nil when no archive is configured
	logger  zerolog.Logger

	sessionTTL    time.Duration
	secureCookies bool
}

// Options tunes session handling.
type Options struct {
	SessionTTL    time.Duration
	SecureCookies bool
}

// NewHandler creates a new Handler.
func NewHandler(b *broker.Broker, redis *store.RedisStore, archive store.TranscriptStore, logger zerolog.Logger, opts Options) *Handler {
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 24 * time.Hour
	}
	return &Handler{
		broker:        b,
		redis:         redis,
		archive:       archive,
		logger:        logger,
		sessionTTL:    opts.SessionTTL,
		secureCookies: opts.SecureCookies,
	}
}

// ErrorResponse is the body of every failed request. Code carries the
// broker result code when the broker refused the operation.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code,omitempty"`
}

// MessageResponse is the body of a successful state change.
type MessageResponse struct {
	Message string `json:"message"`
	Room    string `json:"room,omitempty"`
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, ErrorResponse{Error: message})
}

// BrokerError translates a broker failure into a response. Login failures
// other than a bad nickname are reported as 404, as existing clients expect.
func (h *Handler) BrokerError(w http.ResponseWriter, err error, login bool) {
	code := broker.Code(err)

	var status int
	switch code {
	case broker.CodeInvalidNickname, broker.CodeActiveRoomsExist, broker.CodeBadRequest:
		status = http.StatusBadRequest
	case broker.CodeNoAnalystAvailable, broker.CodeRoomCreateFailed, broker.CodePresenceUpdateFailed:
		status = http.StatusInternalServerError
		if login {
			status = http.StatusNotFound
		}
	case broker.CodePreconditionViolation:
		status = http.StatusInternalServerError
	default:
		h.logger.Error().Err(err).Msg("broker operation failed")
		h.JSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal error", Code: int(code)})
		return
	}

	h.JSON(w, status, ErrorResponse{Error: err.Error(), Code: int(code)})
}

// decodeJSON reads an optional JSON body into dst. An empty body leaves dst
// untouched.
func decodeJSON(r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
