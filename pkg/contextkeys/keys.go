// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// UserKey contains *auth.User
	// Set by: middleware.SessionMiddleware (pkg/middleware/session.go)
	// Required by: all authenticated endpoints, membership middleware
	UserKey Key = "user"

	// SessionTokenKey contains the raw opaque session token string
	// Set by: middleware.SessionMiddleware
	// Used by: logout, which revokes the presented token
	SessionTokenKey Key = "session_token"

	// MembershipKey contains *communities.Membership
	// Set by: middleware.MembershipMiddleware (pkg/middleware/membership.go)
	// Required by: role checks and community-scoped handlers
	MembershipKey Key = "membership"

	// RequestIDKey contains the request ID string (UUID)
	// Set by: observability request middleware
	// Used by: logger, error envelope details
	RequestIDKey Key = "request_id"

	// LoggerKey contains *observability.Logger
	// Set by: observability request middleware
	LoggerKey Key = "logger"
)

// WithUser adds the authenticated user to the context
func WithUser(ctx context.Context, user interface{}) context.Context {
	return context.WithValue(ctx, UserKey, user)
}

// WithSessionToken adds the raw session token to the context
func WithSessionToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, SessionTokenKey, token)
}

// WithMembership adds the resolved membership to the context
func WithMembership(ctx context.Context, membership interface{}) context.Context {
	return context.WithValue(ctx, MembershipKey, membership)
}

// WithRequestID adds the request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithLogger adds the logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// GetSessionToken retrieves the raw session token from context
func GetSessionToken(ctx context.Context) string {
	if token, ok := ctx.Value(SessionTokenKey).(string); ok {
		return token
	}
	return ""
}

// GetRequestID retrieves the request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}
