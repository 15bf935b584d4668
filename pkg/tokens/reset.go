package tokens

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const (
	resetRequestPrefix  = "reset:req:"
	resetTokenNamespace = "reset:tok"
	resetAttemptsPrefix = "reset:attempts"

	// ResendAttemptsNamespace keys the confirmation-resend rate counters.
	// Callers wire it into an AttemptLimiter alongside the reset limiter.
	ResendAttemptsNamespace = "resend:attempts"
)

// ResetPayload is what both the reset-request record and the emailed
// reset-confirmation token resolve to.
type ResetPayload struct {
	UserID int64  `json:"user_id"`
	Email  string `json:"email"`
}

// AttemptLimiter counts attempts per key in a fixed window: the TTL is
// set only on the 0 to 1 transition, so the window starts at the first
// attempt and does not slide. INCR is atomic at the store.
type AttemptLimiter struct {
	store     Store
	namespace string
	window    time.Duration
	max       int64
}

// NewAttemptLimiter creates a fixed-window attempt counter.
func NewAttemptLimiter(store Store, namespace string, window time.Duration, max int) *AttemptLimiter {
	return &AttemptLimiter{store: store, namespace: namespace, window: window, max: int64(max)}
}

// Increment bumps the counter for key and returns the new count.
func (l *AttemptLimiter) Increment(ctx context.Context, key string) (int64, error) {
	full := l.namespace + ":" + key
	count, err := l.store.Incr(ctx, full)
	if err != nil {
		return 0, fmt.Errorf("failed to increment attempts: %w", err)
	}
	if count == 1 {
		if err := l.store.Expire(ctx, full, l.window); err != nil {
			return count, fmt.Errorf("failed to start attempt window: %w", err)
		}
	}
	return count, nil
}

// Allowed reports whether a count is within the cap.
func (l *AttemptLimiter) Allowed(count int64) bool {
	return count <= l.max
}

// ResetStore manages password-reset credentials. Unlike the generic
// repositories it is keyed two ways: the send-side request record lives
// under a deterministic keyed hash of the normalized email, while the
// reset-confirmation token mailed to the user is a second opaque random
// credential resolving to the same payload.
type ResetStore struct {
	store    Store
	secret   []byte
	ttl      time.Duration
	attempts *AttemptLimiter
	tokens   *Repository[ResetPayload]
}

// NewResetStore creates the reset store. secret keys the email hash;
// maxAttempts caps reset requests per email per window.
func NewResetStore(store Store, secret []byte, ttl time.Duration, maxAttempts int) *ResetStore {
	return &ResetStore{
		store:    store,
		secret:   secret,
		ttl:      ttl,
		attempts: NewAttemptLimiter(store, resetAttemptsPrefix, ttl, maxAttempts),
		tokens:   NewRepository[ResetPayload](store, resetTokenNamespace, ttl),
	}
}

func (s *ResetStore) requestKey(email string) string {
	return resetRequestPrefix + DeriveEmailKey(s.secret, email)
}

// IncrementAttempt bumps the per-email counter and reports whether the
// request is still within the cap. The counter moves for every request,
// whether or not an account exists for the email.
func (s *ResetStore) IncrementAttempt(ctx context.Context, email string) (count int64, allowed bool, err error) {
	count, err = s.attempts.Increment(ctx, DeriveEmailKey(s.secret, email))
	if err != nil {
		return 0, false, err
	}
	return count, s.attempts.Allowed(count), nil
}

// CreateRequest records the send-side reset request under the emailhash
// key and issues the opaque confirmation token to be mailed out.
func (s *ResetStore) CreateRequest(ctx context.Context, payload ResetPayload) (string, error) {
	payload.Email = NormalizeEmail(payload.Email)

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal reset request: %w", err)
	}
	if err := s.store.Set(ctx, s.requestKey(payload.Email), string(data), s.ttl); err != nil {
		return "", fmt.Errorf("failed to store reset request: %w", err)
	}

	return s.tokens.Create(ctx, payload)
}

// ResolveToken resolves the emailed reset-confirmation token.
func (s *ResetStore) ResolveToken(ctx context.Context, token string) (ResetPayload, bool, error) {
	return s.tokens.Resolve(ctx, token)
}

// Consume revokes the confirmation token and the request record for its
// email. Idempotent.
func (s *ResetStore) Consume(ctx context.Context, token string, payload ResetPayload) error {
	if err := s.tokens.Revoke(ctx, token); err != nil {
		return err
	}
	return s.store.Del(ctx, s.requestKey(payload.Email))
}
