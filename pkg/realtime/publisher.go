// Package realtime publishes community events over Redis pub/sub so
// connected gateways can fan them out to clients. Delivery is
// fire-and-forget: subscribers that are not listening miss the event.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Event types emitted by the membership and channel operations.
const (
	EventMemberJoined   = "member.joined"
	EventMemberLeft     = "member.left"
	EventChannelCreated = "channel.created"
	EventChannelDeleted = "channel.deleted"
)

// Event is the envelope published on a community's channel.
type Event struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	CommunityID int64           `json:"community_id"`
	ChannelID   int64           `json:"channel_id,omitempty"`
	ActorID     int64           `json:"actor_id,omitempty"`
	At          time.Time       `json:"at"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// Publisher delivers events for a community.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// ChannelFor returns the pub/sub channel name for a community.
func ChannelFor(communityID int64) string {
	return fmt.Sprintf("community:%d:events", communityID)
}

// RedisPublisher publishes JSON envelopes on per-community channels.
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher wraps an existing Redis client. The client is shared
// with the token store; pub/sub adds no keys.
func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

// Publish assigns the event an id and timestamp if missing and sends it.
func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.client.Publish(ctx, ChannelFor(event.CommunityID), body).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// NopPublisher discards events. Used when no Redis client is configured
// and in tests that do not observe events.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
