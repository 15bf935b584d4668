// Package middleware provides the request authorization pipeline:
// session resolution, membership resolution, role checks and the login
// rate limiter. Order matters: membership requires a session, role
// checks require a membership.
package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/commune-chat/commune/pkg/apperror"
	"github.com/commune-chat/commune/pkg/contextkeys"
	"github.com/commune-chat/commune/pkg/httputil"
	"github.com/commune-chat/commune/pkg/observability"
	"github.com/commune-chat/commune/pkg/tokens"
	"github.com/commune-chat/commune/pkg/users"
)

// SessionMiddleware authenticates requests against the session token
// store. Tokens arrive in the configured cookie or an Authorization
// Bearer header; the cookie wins when both are present.
type SessionMiddleware struct {
	users      users.Repository
	sessions   *tokens.SessionStore
	cookieName string
}

// NewSessionMiddleware creates the session middleware.
func NewSessionMiddleware(repo users.Repository, sessions *tokens.SessionStore, cookieName string) *SessionMiddleware {
	return &SessionMiddleware{users: repo, sessions: sessions, cookieName: cookieName}
}

// extractToken pulls the session token from the request, or "".
func (m *SessionMiddleware) extractToken(r *http.Request) string {
	if cookie, err := r.Cookie(m.cookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	header := r.Header.Get("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && parts[0] == "Bearer" {
		return parts[1]
	}
	return ""
}

// Handler rejects unauthenticated requests and attaches the user and
// the raw token to the context. Resolving a session also touches its
// last-activity timestamp without extending the TTL.
func (m *SessionMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := m.extractToken(r)
		if token == "" {
			httputil.WriteAppError(w, r, apperror.Unauthenticated("authentication required"))
			return
		}

		payload, ok, err := m.sessions.Resolve(r.Context(), token)
		if err != nil {
			httputil.WriteAppError(w, r, apperror.Internal(err))
			return
		}
		if !ok {
			httputil.WriteAppError(w, r, apperror.Unauthenticated("invalid or expired session"))
			return
		}

		user, err := m.users.FindByID(r.Context(), payload.UserID)
		if err != nil {
			if errors.Is(err, users.ErrNotFound) {
				// The account is gone; the orphaned token is dead weight.
				if err := m.sessions.Revoke(r.Context(), token); err != nil {
					observability.FromContext(r.Context()).WithError(err).Warn("failed to revoke orphaned session")
				}
				httputil.WriteAppError(w, r, apperror.Unauthenticated("invalid or expired session"))
				return
			}
			httputil.WriteAppError(w, r, apperror.Internal(err))
			return
		}

		if err := m.sessions.Touch(r.Context(), token, time.Now()); err != nil {
			observability.FromContext(r.Context()).WithError(err).Warn("failed to touch session")
		}

		ctx := contextkeys.WithUser(r.Context(), user)
		ctx = contextkeys.WithSessionToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetUser extracts the authenticated user from the request context, or
// nil outside the session middleware.
func GetUser(r *http.Request) *users.User {
	user, _ := r.Context().Value(contextkeys.UserKey).(*users.User)
	return user
}
