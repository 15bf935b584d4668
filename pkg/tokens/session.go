package tokens

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const (
	sessionNamespace   = "session"
	sessionIndexPrefix = "session:user:"
	confirmNamespace   = "confirm"
)

// SessionPayload is what a session token resolves to.
type SessionPayload struct {
	UserID     int64     `json:"user_id"`
	UserAgent  string    `json:"user_agent,omitempty"`
	LastSeenAt time.Time `json:"last_seen_at,omitempty"`
}

// ConfirmPayload is what an email-confirmation token resolves to.
type ConfirmPayload struct {
	UserID int64 `json:"user_id"`
}

// NewConfirmationStore returns the confirmation-token repository.
func NewConfirmationStore(store Store, ttl time.Duration) *Repository[ConfirmPayload] {
	return NewRepository[ConfirmPayload](store, confirmNamespace, ttl)
}

// SessionStore manages session tokens. On top of the generic repository
// it keeps a per-user index set of live tokens so that a password reset
// can revoke every session for a user without scanning the keyspace.
type SessionStore struct {
	repo  *Repository[SessionPayload]
	store Store
}

// NewSessionStore creates the session token store.
func NewSessionStore(store Store, ttl time.Duration) *SessionStore {
	return &SessionStore{
		repo:  NewRepository[SessionPayload](store, sessionNamespace, ttl),
		store: store,
	}
}

func indexKey(userID int64) string {
	return fmt.Sprintf("%s%d", sessionIndexPrefix, userID)
}

// Create issues a session token and records it in the user's index.
// The index TTL is refreshed to the session TTL on every issue, so the
// index can only outlive its newest token by that one lifetime.
func (s *SessionStore) Create(ctx context.Context, payload SessionPayload) (string, error) {
	token, err := s.repo.Create(ctx, payload)
	if err != nil {
		return "", err
	}

	key := indexKey(payload.UserID)
	if err := s.store.SAdd(ctx, key, token); err != nil {
		return "", fmt.Errorf("failed to index session: %w", err)
	}
	if err := s.store.Expire(ctx, key, s.repo.TTL()); err != nil {
		return "", fmt.Errorf("failed to expire session index: %w", err)
	}

	return token, nil
}

// Resolve returns the payload for a live session token.
func (s *SessionStore) Resolve(ctx context.Context, token string) (SessionPayload, bool, error) {
	return s.repo.Resolve(ctx, token)
}

// Revoke deletes a session token and its index entry. Idempotent.
func (s *SessionStore) Revoke(ctx context.Context, token string) error {
	payload, ok, err := s.repo.Resolve(ctx, token)
	if err != nil {
		return err
	}
	if ok {
		if err := s.store.SRem(ctx, indexKey(payload.UserID), token); err != nil {
			return err
		}
	}
	return s.repo.Revoke(ctx, token)
}

// RevokeAllForUser deletes every live session token for the user. Used
// after a password reset to force re-login on all devices.
func (s *SessionStore) RevokeAllForUser(ctx context.Context, userID int64) error {
	key := indexKey(userID)
	members, err := s.store.SMembers(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	keys := make([]string, 0, len(members)+1)
	for _, token := range members {
		keys = append(keys, sessionNamespace+":"+token)
	}
	keys = append(keys, key)

	return s.store.Del(ctx, keys...)
}

// Touch updates the session's last-activity timestamp in place. The
// write keeps the remaining TTL and only lands if the key still exists,
// so a session that expires or is revoked mid-touch stays gone.
func (s *SessionStore) Touch(ctx context.Context, token string, now time.Time) error {
	payload, ok, err := s.repo.Resolve(ctx, token)
	if err != nil || !ok {
		return err
	}

	payload.LastSeenAt = now.UTC()
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	return s.store.SetKeepTTL(ctx, sessionNamespace+":"+token, string(data))
}
