package api

import (
	"net/http"

	"github.com/commune-chat/commune/pkg/apperror"
	"github.com/commune-chat/commune/pkg/contextkeys"
	"github.com/commune-chat/commune/pkg/httputil"
	"github.com/commune-chat/commune/pkg/middleware"
	"github.com/commune-chat/commune/pkg/users"
)

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	// Identity is an email address or a username.
	Identity string `json:"identity"`
	Password string `json:"password"`
}

type sessionResponse struct {
	User  *users.User `json:"user"`
	Token string      `json:"token"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type resetConfirmRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// statusOK is the body for operations with nothing to return.
var statusOK = map[string]string{"status": "ok"}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	user, token, err := s.cfg.Auth.Register(r.Context(), req.Username, req.Email, req.Password, r.UserAgent())
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	s.setSessionCookie(w, token)
	httputil.WriteCreated(w, sessionResponse{User: user, Token: token})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	user, token, err := s.cfg.Auth.Login(r.Context(), req.Identity, req.Password, r.UserAgent())
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	s.setSessionCookie(w, token)
	httputil.WriteSuccess(w, sessionResponse{User: user, Token: token})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	token := contextkeys.GetSessionToken(r.Context())
	if err := s.cfg.Auth.Logout(r.Context(), token); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	s.clearSessionCookie(w)
	httputil.WriteNoContent(w)
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, middleware.GetUser(r))
}

func (s *Server) confirmEmail(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, r, req.Token, "token") {
		return
	}

	if err := s.cfg.Auth.ConfirmEmail(r.Context(), req.Token); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, statusOK)
}

func (s *Server) resendConfirmation(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, r, req.Email, "email") {
		return
	}

	if err := s.cfg.Auth.ResendConfirmation(r.Context(), req.Email); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, statusOK)
}

func (s *Server) requestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, r, req.Email, "email") {
		return
	}

	if err := s.cfg.Auth.RequestPasswordReset(r.Context(), req.Email); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, statusOK)
}

func (s *Server) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetConfirmRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, r, req.Token, "token") {
		return
	}

	if err := s.cfg.Auth.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, statusOK)
}

func (s *Server) changePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	user := middleware.GetUser(r)
	if user == nil {
		httputil.WriteAppError(w, r, apperror.Unauthenticated("authentication required"))
		return
	}

	if err := s.cfg.Auth.ChangePassword(r.Context(), user, req.CurrentPassword, req.NewPassword); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, statusOK)
}
