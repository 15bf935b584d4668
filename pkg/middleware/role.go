package middleware

import (
	"net/http"

	"github.com/commune-chat/commune/pkg/apperror"
	"github.com/commune-chat/commune/pkg/communities"
	"github.com/commune-chat/commune/pkg/httputil"
)

// RequireRole gates a route on the caller's role within the resolved
// membership. With no arguments any member passes. Must run after the
// membership middleware; a missing membership is rejected, not assumed.
func RequireRole(roles ...communities.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			membership := GetMembership(r)
			if membership == nil || !membership.HasRole(roles...) {
				httputil.WriteAppError(w, r, apperror.Forbidden("insufficient role"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
