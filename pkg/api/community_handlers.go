package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/commune-chat/commune/pkg/apperror"
	"github.com/commune-chat/commune/pkg/communities"
	"github.com/commune-chat/commune/pkg/httputil"
	"github.com/commune-chat/commune/pkg/middleware"
	"github.com/commune-chat/commune/pkg/observability"
	"github.com/commune-chat/commune/pkg/realtime"
)

type createCommunityRequest struct {
	Name string `json:"name"`
}

type createChannelRequest struct {
	Name string `json:"name"`
}

type createInvitationRequest struct {
	// ExpiresIn is an optional lifetime in seconds; absent means the
	// invitation never expires.
	ExpiresIn *int64 `json:"expires_in,omitempty"`
}

type joinRequest struct {
	Token string `json:"token"`
}

// publish emits a realtime event; delivery failures are logged, never
// surfaced, so the mutation that already happened still succeeds.
func (s *Server) publish(r *http.Request, event realtime.Event) {
	if err := s.cfg.Publisher.Publish(r.Context(), event); err != nil {
		observability.FromContext(r.Context()).WithError(err).Warn("failed to publish event")
	}
}

func (s *Server) createCommunity(w http.ResponseWriter, r *http.Request) {
	var req createCommunityRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, r, req.Name, "name") {
		return
	}

	user := middleware.GetUser(r)
	community, err := s.cfg.Communities.CreateCommunity(r.Context(), req.Name, user.ID)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteCreated(w, community)
}

func (s *Server) getCommunity(w http.ResponseWriter, r *http.Request) {
	membership := middleware.GetMembership(r)
	community, err := s.cfg.Communities.GetCommunity(r.Context(), membership.CommunityID)
	if err != nil {
		httputil.WriteAppError(w, r, mapCommunityError(err))
		return
	}
	httputil.WriteSuccess(w, community)
}

func (s *Server) listMembers(w http.ResponseWriter, r *http.Request) {
	membership := middleware.GetMembership(r)
	members, err := s.cfg.Communities.ListMembers(r.Context(), membership.CommunityID)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, members)
}

func (s *Server) leaveCommunity(w http.ResponseWriter, r *http.Request) {
	membership := middleware.GetMembership(r)
	user := middleware.GetUser(r)

	// The owner cannot leave; ownership transfer is not supported, and a
	// community without an owner has no one to administer it.
	if membership.Role == communities.RoleOwner {
		httputil.WriteAppError(w, r, apperror.Forbidden("the owner cannot leave the community"))
		return
	}

	if err := s.cfg.Communities.RemoveMember(r.Context(), membership.CommunityID, user.ID); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	s.publish(r, realtime.Event{
		Type:        realtime.EventMemberLeft,
		CommunityID: membership.CommunityID,
		ActorID:     user.ID,
	})
	httputil.WriteNoContent(w)
}

func (s *Server) joinByInvitation(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, r, req.Token, "token") {
		return
	}

	user := middleware.GetUser(r)
	membership, err := s.cfg.Communities.JoinByInvitation(r.Context(), req.Token, user.ID)
	if err != nil {
		httputil.WriteAppError(w, r, mapJoinError(err))
		return
	}

	s.publish(r, realtime.Event{
		Type:        realtime.EventMemberJoined,
		CommunityID: membership.CommunityID,
		ActorID:     user.ID,
	})
	httputil.WriteCreated(w, membership)
}

// mapJoinError translates the join domain errors. An unknown or expired
// invitation token reads the same as a missing one.
func mapJoinError(err error) error {
	switch {
	case errors.Is(err, communities.ErrNotFound):
		return apperror.InvalidInput("invalid or expired invitation token")
	case errors.Is(err, communities.ErrAlreadyMember):
		return apperror.Conflict("ALREADY_MEMBER", "already a member of this community")
	default:
		return err
	}
}

// mapCommunityError covers resources that vanish between the membership
// check and the handler body.
func mapCommunityError(err error) error {
	if errors.Is(err, communities.ErrNotFound) {
		return apperror.NotFound("not found")
	}
	return err
}

func (s *Server) listChannels(w http.ResponseWriter, r *http.Request) {
	membership := middleware.GetMembership(r)
	channels, err := s.cfg.Communities.ListChannels(r.Context(), membership.CommunityID)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, channels)
}

func (s *Server) createChannel(w http.ResponseWriter, r *http.Request) {
	var req createChannelRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, r, req.Name, "name") {
		return
	}

	membership := middleware.GetMembership(r)
	channel, err := s.cfg.Communities.CreateChannel(r.Context(), membership.CommunityID, req.Name)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	s.publish(r, realtime.Event{
		Type:        realtime.EventChannelCreated,
		CommunityID: membership.CommunityID,
		ChannelID:   channel.ID,
		ActorID:     middleware.GetUser(r).ID,
	})
	httputil.WriteCreated(w, channel)
}

func (s *Server) getChannel(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "channel_id")
	if !ok {
		return
	}

	channel, err := s.cfg.Communities.GetChannel(r.Context(), id)
	if err != nil {
		httputil.WriteAppError(w, r, mapCommunityError(err))
		return
	}
	httputil.WriteSuccess(w, channel)
}

func (s *Server) deleteChannel(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "channel_id")
	if !ok {
		return
	}

	if err := s.cfg.Communities.DeleteChannel(r.Context(), id); err != nil {
		httputil.WriteAppError(w, r, mapCommunityError(err))
		return
	}

	membership := middleware.GetMembership(r)
	s.publish(r, realtime.Event{
		Type:        realtime.EventChannelDeleted,
		CommunityID: membership.CommunityID,
		ChannelID:   id,
		ActorID:     middleware.GetUser(r).ID,
	})
	httputil.WriteNoContent(w)
}

func (s *Server) createInvitation(w http.ResponseWriter, r *http.Request) {
	var req createInvitationRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	var expiresAt *time.Time
	if req.ExpiresIn != nil {
		if *req.ExpiresIn <= 0 {
			httputil.WriteAppError(w, r, apperror.InvalidInput("expires_in must be a positive number of seconds"))
			return
		}
		t := time.Now().Add(time.Duration(*req.ExpiresIn) * time.Second)
		expiresAt = &t
	}

	membership := middleware.GetMembership(r)
	invitation, err := s.cfg.Communities.CreateInvitation(r.Context(), membership.CommunityID, middleware.GetUser(r).ID, expiresAt)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteCreated(w, invitation)
}

func (s *Server) listInvitations(w http.ResponseWriter, r *http.Request) {
	membership := middleware.GetMembership(r)
	invitations, err := s.cfg.Communities.ListInvitations(r.Context(), membership.CommunityID)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, invitations)
}

func (s *Server) revokeInvitation(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "invitation_id")
	if !ok {
		return
	}

	if err := s.cfg.Communities.RevokeInvitation(r.Context(), id); err != nil {
		httputil.WriteAppError(w, r, mapCommunityError(err))
		return
	}
	httputil.WriteNoContent(w)
}
