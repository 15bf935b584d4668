package middleware

import (
	"errors"
	"net/http"

	"github.com/commune-chat/commune/pkg/apperror"
	"github.com/commune-chat/commune/pkg/communities"
	"github.com/commune-chat/commune/pkg/contextkeys"
	"github.com/commune-chat/commune/pkg/httputil"
)

// errNotMember masks both "resource does not exist" and "caller is not
// a member" behind one response, so probing ids reveals nothing.
var errNotMember = apperror.NotFound("not found or not a member")

// MembershipMiddleware resolves the community owning the resource named
// in the path and requires the caller to be a member of it.
type MembershipMiddleware struct {
	communities *communities.Service
}

// NewMembershipMiddleware creates the membership middleware.
func NewMembershipMiddleware(svc *communities.Service) *MembershipMiddleware {
	return &MembershipMiddleware{communities: svc}
}

// Require gates a route on membership of the community that contains
// the resource identified by the given path parameter. The resource
// kind determines the containment chain walked to find the community.
func (m *MembershipMiddleware) Require(param string, kind communities.ResourceKind) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := GetUser(r)
			if user == nil {
				httputil.WriteAppError(w, r, apperror.Unauthenticated("authentication required"))
				return
			}

			id, err := httputil.ParsePathInt64(r, param)
			if err != nil {
				httputil.WriteAppError(w, r, apperror.InvalidInput(param+" must be a positive integer"))
				return
			}

			communityID, err := m.communities.ResolveCommunityID(r.Context(), kind, id)
			if err != nil {
				if errors.Is(err, communities.ErrNotFound) {
					httputil.WriteAppError(w, r, errNotMember)
					return
				}
				httputil.WriteAppError(w, r, apperror.Internal(err))
				return
			}

			membership, err := m.communities.GetMember(r.Context(), communityID, user.ID)
			if err != nil {
				if errors.Is(err, communities.ErrNotMember) {
					httputil.WriteAppError(w, r, errNotMember)
					return
				}
				httputil.WriteAppError(w, r, apperror.Internal(err))
				return
			}

			ctx := contextkeys.WithMembership(r.Context(), membership)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetMembership extracts the resolved membership from the request
// context, or nil outside the membership middleware.
func GetMembership(r *http.Request) *communities.Membership {
	membership, _ := r.Context().Value(contextkeys.MembershipKey).(*communities.Membership)
	return membership
}
