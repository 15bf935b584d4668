package communities

import (
	"context"
	"database/sql"
	"fmt"
)

// Service implements the community store using PostgreSQL
type Service struct {
	db *sql.DB
}

// NewService creates a new Service
func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// CreateCommunity inserts the community and its owner membership in one
// transaction; a community never exists without an owner row.
func (s *Service) CreateCommunity(ctx context.Context, name string, ownerID int64) (*Community, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	community := &Community{Name: name, OwnerID: ownerID}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO communities (name, owner_id, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`, name, ownerID).Scan(&community.ID, &community.CreatedAt, &community.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create community: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO memberships (community_id, user_id, role, joined_at)
		VALUES ($1, $2, $3, NOW())
	`, community.ID, ownerID, RoleOwner)
	if err != nil {
		return nil, fmt.Errorf("failed to create owner membership: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	return community, nil
}

// GetCommunity retrieves a community by id
func (s *Service) GetCommunity(ctx context.Context, id int64) (*Community, error) {
	community := &Community{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, owner_id, created_at, updated_at
		FROM communities WHERE id = $1
	`, id).Scan(&community.ID, &community.Name, &community.OwnerID,
		&community.CreatedAt, &community.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get community: %w", err)
	}

	return community, nil
}

// GetMember retrieves the membership for (communityID, userID).
func (s *Service) GetMember(ctx context.Context, communityID, userID int64) (*Membership, error) {
	member := &Membership{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, community_id, user_id, role, joined_at
		FROM memberships
		WHERE community_id = $1 AND user_id = $2
	`, communityID, userID).Scan(&member.ID, &member.CommunityID, &member.UserID,
		&member.Role, &member.JoinedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotMember
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}

	return member, nil
}

// ListMembers retrieves all members of a community with their usernames
func (s *Service) ListMembers(ctx context.Context, communityID int64) ([]*MemberInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.community_id, m.user_id, m.role, m.joined_at, u.username
		FROM memberships m
		JOIN users u ON m.user_id = u.id
		WHERE m.community_id = $1
		ORDER BY m.joined_at ASC
	`, communityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []*MemberInfo
	for rows.Next() {
		member := &MemberInfo{}
		if err := rows.Scan(
			&member.ID, &member.CommunityID, &member.UserID,
			&member.Role, &member.JoinedAt, &member.Username,
		); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, member)
	}

	return members, rows.Err()
}

// AddMember inserts a membership row. The unique constraint on
// (community_id, user_id) closes the concurrent double-join race:
// ON CONFLICT DO NOTHING plus a zero rows-affected check, never
// check-then-insert.
func (s *Service) AddMember(ctx context.Context, communityID, userID int64, role Role) (*Membership, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO memberships (community_id, user_id, role, joined_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (community_id, user_id) DO NOTHING
	`, communityID, userID, role)
	if err != nil {
		return nil, fmt.Errorf("failed to add member: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, ErrAlreadyMember
	}

	return s.GetMember(ctx, communityID, userID)
}

// RemoveMember removes a user from a community
func (s *Service) RemoveMember(ctx context.Context, communityID, userID int64) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM memberships WHERE community_id = $1 AND user_id = $2
	`, communityID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotMember
	}

	return nil
}

// CreateChannel creates a channel in a community
func (s *Service) CreateChannel(ctx context.Context, communityID int64, name string) (*Channel, error) {
	channel := &Channel{CommunityID: communityID, Name: name}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO channels (community_id, name, created_at)
		VALUES ($1, $2, NOW())
		RETURNING id, created_at
	`, communityID, name).Scan(&channel.ID, &channel.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	return channel, nil
}

// GetChannel retrieves a channel by id
func (s *Service) GetChannel(ctx context.Context, id int64) (*Channel, error) {
	channel := &Channel{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, community_id, name, created_at
		FROM channels WHERE id = $1
	`, id).Scan(&channel.ID, &channel.CommunityID, &channel.Name, &channel.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get channel: %w", err)
	}

	return channel, nil
}

// ListChannels retrieves all channels of a community
func (s *Service) ListChannels(ctx context.Context, communityID int64) ([]*Channel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, community_id, name, created_at
		FROM channels
		WHERE community_id = $1
		ORDER BY created_at ASC
	`, communityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}
	defer rows.Close()

	var channels []*Channel
	for rows.Next() {
		channel := &Channel{}
		if err := rows.Scan(&channel.ID, &channel.CommunityID, &channel.Name, &channel.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan channel: %w", err)
		}
		channels = append(channels, channel)
	}

	return channels, rows.Err()
}

// DeleteChannel deletes a channel
func (s *Service) DeleteChannel(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM channels WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete channel: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// ResolveCommunityID resolves the owning community of a resource through
// its containment chain in a single lookup: channel to community,
// message through channel to community, invitation to community.
func (s *Service) ResolveCommunityID(ctx context.Context, kind ResourceKind, id int64) (int64, error) {
	var query string
	switch kind {
	case KindCommunity:
		query = `SELECT id FROM communities WHERE id = $1`
	case KindChannel:
		query = `SELECT community_id FROM channels WHERE id = $1`
	case KindInvitation:
		query = `SELECT community_id FROM invitations WHERE id = $1`
	case KindMessage:
		query = `
			SELECT c.community_id
			FROM messages m
			JOIN channels c ON m.channel_id = c.id
			WHERE m.id = $1`
	default:
		return 0, fmt.Errorf("unknown resource kind: %s", kind)
	}

	var communityID int64
	err := s.db.QueryRowContext(ctx, query, id).Scan(&communityID)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to resolve community: %w", err)
	}

	return communityID, nil
}

// MemberInfo is a membership joined with the member's username.
type MemberInfo struct {
	Membership
	Username string `json:"username"`
}
