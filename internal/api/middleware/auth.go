package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/deskchat/internal/models"
)

type contextKey string

const IdentityContextKey contextKey = "identity"

// SessionCookie carries the session id issued at login.
const SessionCookie = "deskchat_session"

// SessionStore resolves session ids to identities.
type SessionStore interface {
	GetSession(ctx context.Context, id string) (*models.Identity, error)
}

// AuthMiddleware resolves the login session behind a request.
type AuthMiddleware struct {
	sessions SessionStore
	logger   zerolog.Logger
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(sessions SessionStore, logger zerolog.Logger) *AuthMiddleware {
	return &AuthMiddleware{sessions: sessions, logger: logger}
}

// LoadSession attaches the caller's identity to the context when the request
// carries a live session. Requests without one pass through unchanged.
func (m *AuthMiddleware) LoadSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(SessionCookie)
		if err != nil || cookie.Value == "" {
			next.ServeHTTP(w, r)
			return
		}

		identity, err := m.sessions.GetSession(r.Context(), cookie.Value)
		if err != nil {
			m.logger.Error().Err(err).Msg("session lookup failed")
			jsonError(w, http.StatusServiceUnavailable, "session store unavailable")
			return
		}
		if identity == nil {
			next.ServeHTTP(w, r)
			return
		}

		ctx := context.WithValue(r.Context(), IdentityContextKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireSession rejects requests that LoadSession left anonymous.
func (m *AuthMiddleware) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetIdentityFromContext(r.Context()) == nil {
			jsonError(w, http.StatusForbidden, "login required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole rejects callers whose session role differs from role.
func RequireRole(role models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := GetIdentityFromContext(r.Context())
			if identity == nil {
				jsonError(w, http.StatusForbidden, "login required")
				return
			}
			if identity.Role != role {
				jsonError(w, http.StatusForbidden, fmt.Sprintf("user %q is not %s", identity.Nickname, withArticle(role)))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func withArticle(role models.Role) string {
	if role == models.RoleAnalyst {
		return "an analyst"
	}
	return "a " + string(role)
}

// SetSessionCookie issues the session cookie.
func SetSessionCookie(w http.ResponseWriter, id string, ttl time.Duration, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    id,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie expires the session cookie on the client.
func ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// GetIdentityFromContext retrieves the logged-in identity from the request context.
func GetIdentityFromContext(ctx context.Context) *models.Identity {
	identity, ok := ctx.Value(IdentityContextKey).(*models.Identity)
	if !ok {
		return nil
	}
	return identity
}
