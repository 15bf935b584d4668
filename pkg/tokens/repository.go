package tokens

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Repository is a namespaced CRUD surface over the Store for opaque
// bearer tokens mapping to a typed payload. Two repositories with
// distinct namespaces can never produce overlapping keys, so a random
// value colliding across credential kinds cannot cross-authorize.
type Repository[P any] struct {
	store     Store
	namespace string
	ttl       time.Duration
}

// NewRepository creates a repository under the given namespace and TTL.
func NewRepository[P any](store Store, namespace string, ttl time.Duration) *Repository[P] {
	return &Repository[P]{store: store, namespace: namespace, ttl: ttl}
}

// TTL returns the configured lifetime for tokens in this namespace.
func (r *Repository[P]) TTL() time.Duration {
	return r.ttl
}

func (r *Repository[P]) key(token string) string {
	return r.namespace + ":" + token
}

// Create generates a token, stores the payload under it with the
// configured TTL and returns the token.
func (r *Repository[P]) Create(ctx context.Context, payload P) (string, error) {
	token, err := Generate()
	if err != nil {
		return "", err
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	if err := r.store.Set(ctx, r.key(token), string(data), r.ttl); err != nil {
		return "", fmt.Errorf("failed to store token: %w", err)
	}

	return token, nil
}

// Resolve looks the token up. A missing or expired token is reported as
// (zero, false, nil), never as an error.
func (r *Repository[P]) Resolve(ctx context.Context, token string) (P, bool, error) {
	var payload P

	data, ok, err := r.store.Get(ctx, r.key(token))
	if err != nil {
		return payload, false, err
	}
	if !ok {
		return payload, false, nil
	}

	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		// Corrupt entry: drop it rather than serve it.
		r.store.Del(ctx, r.key(token))
		return payload, false, fmt.Errorf("failed to unmarshal token payload: %w", err)
	}

	return payload, true, nil
}

// Revoke deletes the token. Revoking an absent token is not an error.
func (r *Repository[P]) Revoke(ctx context.Context, token string) error {
	return r.store.Del(ctx, r.key(token))
}
