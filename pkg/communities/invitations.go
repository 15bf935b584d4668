package communities

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/commune-chat/commune/pkg/tokens"
)

// CreateInvitation creates an invitation with an opaque token. A nil
// expiresAt creates a non-expiring invitation.
func (s *Service) CreateInvitation(ctx context.Context, communityID, createdBy int64, expiresAt *time.Time) (*Invitation, error) {
	token, err := tokens.Generate()
	if err != nil {
		return nil, fmt.Errorf("failed to generate invitation token: %w", err)
	}

	invitation := &Invitation{
		CommunityID: communityID,
		Token:       token,
		CreatedBy:   createdBy,
		ExpiresAt:   expiresAt,
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO invitations (community_id, token, created_by, created_at, expires_at)
		VALUES ($1, $2, $3, NOW(), $4)
		RETURNING id, created_at
	`, communityID, token, createdBy, expiresAt).Scan(&invitation.ID, &invitation.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create invitation: %w", err)
	}

	return invitation, nil
}

// GetInvitationByToken resolves a live invitation by its opaque token.
// Expired invitations are filtered in the query, not in Go, so the sweep
// and redemption agree on what expired means.
func (s *Service) GetInvitationByToken(ctx context.Context, token string) (*Invitation, error) {
	invitation := &Invitation{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, community_id, token, created_by, created_at, expires_at
		FROM invitations
		WHERE token = $1 AND (expires_at IS NULL OR expires_at > NOW())
	`, token).Scan(&invitation.ID, &invitation.CommunityID, &invitation.Token,
		&invitation.CreatedBy, &invitation.CreatedAt, &invitation.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}

	return invitation, nil
}

// ListInvitations lists all live invitations for a community
func (s *Service) ListInvitations(ctx context.Context, communityID int64) ([]*Invitation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, community_id, token, created_by, created_at, expires_at
		FROM invitations
		WHERE community_id = $1 AND (expires_at IS NULL OR expires_at > NOW())
		ORDER BY created_at DESC
	`, communityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	defer rows.Close()

	var invitations []*Invitation
	for rows.Next() {
		invitation := &Invitation{}
		if err := rows.Scan(
			&invitation.ID, &invitation.CommunityID, &invitation.Token,
			&invitation.CreatedBy, &invitation.CreatedAt, &invitation.ExpiresAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan invitation: %w", err)
		}
		invitations = append(invitations, invitation)
	}

	return invitations, rows.Err()
}

// RevokeInvitation deletes an invitation
func (s *Service) RevokeInvitation(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM invitations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to revoke invitation: %w", err)
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

// JoinByInvitation redeems an invitation token for userID. The
// invitation is multi-use and is not mutated; only a membership row is
// inserted, with role member. A duplicate join surfaces ErrAlreadyMember
// even under concurrent double-submission, because the insert relies on
// the storage uniqueness constraint.
func (s *Service) JoinByInvitation(ctx context.Context, token string, userID int64) (*Membership, error) {
	invitation, err := s.GetInvitationByToken(ctx, token)
	if err != nil {
		return nil, err
	}

	return s.AddMember(ctx, invitation.CommunityID, userID, RoleMember)
}

// CleanupExpiredInvitations removes expired invitations. Run from the
// scheduled sweep, never from the request path.
func (s *Service) CleanupExpiredInvitations(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM invitations WHERE expires_at IS NOT NULL AND expires_at < NOW()
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired invitations: %w", err)
	}

	return result.RowsAffected()
}
