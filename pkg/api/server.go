// Package api exposes the HTTP surface. Handlers stay thin: decode the
// request, call a service, map the error, encode the response. All
// policy lives in the services and the middleware pipeline.
package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/commune-chat/commune/pkg/auth"
	"github.com/commune-chat/commune/pkg/communities"
	"github.com/commune-chat/commune/pkg/httputil"
	"github.com/commune-chat/commune/pkg/middleware"
	"github.com/commune-chat/commune/pkg/observability"
	"github.com/commune-chat/commune/pkg/realtime"
	"github.com/commune-chat/commune/pkg/tokens"
	"github.com/commune-chat/commune/pkg/users"
)

// Config wires the server's collaborators.
type Config struct {
	Auth        *auth.Service
	Communities *communities.Service
	Users       users.Repository
	Sessions    *tokens.SessionStore
	Publisher   realtime.Publisher

	// Store backs the login rate limiter.
	Store           tokens.Store
	LoginRateLimit  int
	LoginRateWindow time.Duration

	SessionCookieName string
	SessionTTL        time.Duration
	// SecureCookies marks session cookies Secure; disable for local dev
	// over plain HTTP only.
	SecureCookies bool

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// Server is the HTTP API server.
type Server struct {
	cfg    Config
	router *mux.Router

	session    *middleware.SessionMiddleware
	membership *middleware.MembershipMiddleware
	rateLimit  *middleware.RateLimitMiddleware
}

// NewServer creates the server and installs its routes.
func NewServer(cfg Config) *Server {
	if cfg.Publisher == nil {
		cfg.Publisher = realtime.NopPublisher{}
	}

	s := &Server{
		cfg:        cfg,
		router:     mux.NewRouter(),
		session:    middleware.NewSessionMiddleware(cfg.Users, cfg.Sessions, cfg.SessionCookieName),
		membership: middleware.NewMembershipMiddleware(cfg.Communities),
		rateLimit:  middleware.NewRateLimitMiddleware(cfg.Store, cfg.LoginRateLimit, cfg.LoginRateWindow, cfg.Metrics),
	}
	s.setupRoutes()
	return s
}

// Router returns the configured handler for mounting in an http.Server.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(observability.RequestMiddleware(s.cfg.Logger, s.cfg.Metrics))
	s.router.Use(observability.RecoveryMiddleware(s.cfg.Logger))

	s.router.HandleFunc("/health", s.health).Methods("GET")
	if s.cfg.Metrics != nil {
		s.router.Handle("/metrics", s.cfg.Metrics.Handler()).Methods("GET")
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Credential endpoints: no session, IP rate limited.
	public := api.PathPrefix("/auth").Subrouter()
	public.Use(s.rateLimit.Handler)
	public.HandleFunc("/register", s.register).Methods("POST")
	public.HandleFunc("/login", s.login).Methods("POST")
	public.HandleFunc("/confirm-email", s.confirmEmail).Methods("POST")
	public.HandleFunc("/resend-confirmation", s.resendConfirmation).Methods("POST")
	public.HandleFunc("/password-reset/request", s.requestPasswordReset).Methods("POST")
	public.HandleFunc("/password-reset/confirm", s.resetPassword).Methods("POST")

	// Session-gated endpoints.
	private := api.NewRoute().Subrouter()
	private.Use(s.session.Handler)
	private.HandleFunc("/auth/logout", s.logout).Methods("POST")
	private.HandleFunc("/auth/change-password", s.changePassword).Methods("POST")
	private.HandleFunc("/me", s.me).Methods("GET")
	private.HandleFunc("/communities", s.createCommunity).Methods("POST")
	private.HandleFunc("/communities/join", s.joinByInvitation).Methods("POST")

	// Community-scoped endpoints: session, then membership of the owning
	// community, then a role gate where the operation demands one.
	s.scoped(private, "GET", "/communities/{community_id}", "community_id", communities.KindCommunity, s.getCommunity)
	s.scoped(private, "GET", "/communities/{community_id}/members", "community_id", communities.KindCommunity, s.listMembers)
	s.scoped(private, "DELETE", "/communities/{community_id}/members/me", "community_id", communities.KindCommunity, s.leaveCommunity)
	s.scoped(private, "GET", "/communities/{community_id}/channels", "community_id", communities.KindCommunity, s.listChannels)
	s.scopedRole(private, "POST", "/communities/{community_id}/channels", "community_id", communities.KindCommunity, s.createChannel, communities.RoleOwner)
	s.scoped(private, "GET", "/channels/{channel_id}", "channel_id", communities.KindChannel, s.getChannel)
	s.scopedRole(private, "DELETE", "/channels/{channel_id}", "channel_id", communities.KindChannel, s.deleteChannel, communities.RoleOwner)
	s.scopedRole(private, "POST", "/communities/{community_id}/invitations", "community_id", communities.KindCommunity, s.createInvitation, communities.RoleOwner)
	s.scopedRole(private, "GET", "/communities/{community_id}/invitations", "community_id", communities.KindCommunity, s.listInvitations, communities.RoleOwner)
	s.scopedRole(private, "DELETE", "/invitations/{invitation_id}", "invitation_id", communities.KindInvitation, s.revokeInvitation, communities.RoleOwner)
}

// scoped registers a route behind the membership middleware.
func (s *Server) scoped(r *mux.Router, method, path, param string, kind communities.ResourceKind, handler http.HandlerFunc) {
	r.Handle(path, s.membership.Require(param, kind)(handler)).Methods(method)
}

// scopedRole additionally gates on the caller's role.
func (s *Server) scopedRole(r *mux.Router, method, path, param string, kind communities.ResourceKind, handler http.HandlerFunc, roles ...communities.Role) {
	gated := s.membership.Require(param, kind)(middleware.RequireRole(roles...)(handler))
	r.Handle(path, gated).Methods(method)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, map[string]string{"status": "ok"})
}

// setSessionCookie installs the session token as an httpOnly cookie.
func (s *Server) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.cfg.SessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   s.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}
