// Package communities provides the relational service for communities,
// channels, memberships and invitations, including the invitation join
// flow and the containment-chain resolution used by the authorization
// pipeline.
package communities

import (
	"errors"
	"time"
)

// Role is a member's role within a community.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleMember Role = "member"
)

// Valid reports whether the role is a known value.
func (r Role) Valid() bool {
	return r == RoleOwner || r == RoleMember
}

var (
	// ErrNotFound reports an absent community, channel or invitation.
	ErrNotFound = errors.New("not found")
	// ErrNotMember reports an absent membership row.
	ErrNotMember = errors.New("not a member")
	// ErrAlreadyMember reports a duplicate join.
	ErrAlreadyMember = errors.New("already a member")
)

// Community is a chat community.
type Community struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	OwnerID   int64     `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Channel belongs to a community.
type Channel struct {
	ID          int64     `json:"id"`
	CommunityID int64     `json:"community_id"`
	Name        string    `json:"name"`
	CreatedAt   time.Time `json:"created_at"`
}

// Membership is the join record granting a user a role in a community.
// At most one row exists per (community, user) pair, enforced by a
// unique constraint.
type Membership struct {
	ID          int64     `json:"id"`
	CommunityID int64     `json:"community_id"`
	UserID      int64     `json:"user_id"`
	Role        Role      `json:"role"`
	JoinedAt    time.Time `json:"joined_at"`
}

// HasRole reports whether the membership satisfies any of the required
// roles. An empty required set means any membership suffices.
func (m *Membership) HasRole(required ...Role) bool {
	if len(required) == 0 {
		return true
	}
	for _, role := range required {
		if m.Role == role {
			return true
		}
	}
	return false
}

// Invitation is an opaque-token invite into a community. A nil
// ExpiresAt means the invitation never expires. Invitations are
// multi-use; redemption does not mutate them.
type Invitation struct {
	ID          int64      `json:"id"`
	CommunityID int64      `json:"community_id"`
	Token       string     `json:"token,omitempty"`
	CreatedBy   int64      `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// ResourceKind names the path-parameter kinds the membership middleware
// can resolve to an owning community.
type ResourceKind string

const (
	KindCommunity  ResourceKind = "community"
	KindChannel    ResourceKind = "channel"
	KindInvitation ResourceKind = "invitation"
	KindMessage    ResourceKind = "message"
)
