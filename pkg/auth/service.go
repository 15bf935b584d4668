// Package auth implements the credential lifecycle: registration, login,
// logout, email confirmation, password reset and password change. Every
// operation is request/response with no hidden retries; failures are
// surfaced to the caller as typed application errors.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/commune-chat/commune/pkg/apperror"
	"github.com/commune-chat/commune/pkg/mail"
	"github.com/commune-chat/commune/pkg/observability"
	"github.com/commune-chat/commune/pkg/tokens"
	"github.com/commune-chat/commune/pkg/users"
)

const (
	minPasswordLength = 8
	maxPasswordLength = 72
)

// invalidCredentials is the single message for every login failure.
// It must not distinguish an unknown identity from a wrong password.
var errInvalidCredentials = apperror.Unauthenticated("invalid credentials")

// Config carries the collaborators and policy for the service.
type Config struct {
	Users    users.Repository
	Sessions *tokens.SessionStore
	Confirms *tokens.Repository[tokens.ConfirmPayload]
	Resets   *tokens.ResetStore
	// Resend limits confirmation resends per email, same fixed-window
	// pattern as reset requests under its own namespace.
	Resend *tokens.AttemptLimiter
	Hasher *PasswordHasher
	Mailer mail.Mailer

	// ResendKeySecret keys the hash deriving resend-limiter keys from emails.
	ResendKeySecret []byte
	// BaseURL is the public origin used in emailed links.
	BaseURL string
	// MailFrom is the sender address on outbound mail.
	MailFrom string

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// Service orchestrates the token stores, the user repository and the
// mail capability.
type Service struct {
	cfg Config
}

// NewService creates the auth service.
func NewService(cfg Config) *Service {
	return &Service{cfg: cfg}
}

func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return apperror.InvalidInput(fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}
	if len(password) > maxPasswordLength {
		return apperror.InvalidInput(fmt.Sprintf("password must be at most %d bytes", maxPasswordLength))
	}
	return nil
}

func validateUsername(username string) error {
	if len(username) < 3 || len(username) > 32 {
		return apperror.InvalidInput("username must be between 3 and 32 characters")
	}
	return nil
}

// Register creates a user, issues a session token and a confirmation
// token, and sends the confirmation email. Mail failures are logged but
// never roll back the registration.
func (s *Service) Register(ctx context.Context, username, email, password, userAgent string) (*users.User, string, error) {
	if err := validateUsername(username); err != nil {
		return nil, "", err
	}
	if err := validatePassword(password); err != nil {
		return nil, "", err
	}
	email = tokens.NormalizeEmail(email)
	if email == "" {
		return nil, "", apperror.InvalidInput("email is required")
	}

	hash, err := s.cfg.Hasher.Hash(password)
	if err != nil {
		return nil, "", apperror.Internal(err)
	}

	user, err := s.cfg.Users.Insert(ctx, username, email, hash)
	if errors.Is(err, users.ErrUserExists) {
		return nil, "", apperror.Conflict("USER_EXISTS", "a user with this email or username already exists")
	}
	if err != nil {
		return nil, "", apperror.Internal(err)
	}

	sessionToken, err := s.cfg.Sessions.Create(ctx, tokens.SessionPayload{UserID: user.ID, UserAgent: userAgent})
	if err != nil {
		return nil, "", apperror.Internal(err)
	}

	confirmToken, err := s.cfg.Confirms.Create(ctx, tokens.ConfirmPayload{UserID: user.ID})
	if err != nil {
		return nil, "", apperror.Internal(err)
	}

	// Best effort: the user row exists either way, and the token can be
	// resent later.
	if err := s.sendConfirmationMail(ctx, user.Email, confirmToken); err != nil {
		s.cfg.Logger.WithError(err).WithField("user_id", user.ID).Warn("confirmation mail failed during registration")
		s.observeMail("confirmation", "error")
	} else {
		s.observeMail("confirmation", "ok")
	}

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.RegistrationsTotal.Inc()
	}

	return user, sessionToken, nil
}

// Login resolves an identity (email or username) and verifies the
// password. Unknown identities burn a dummy bcrypt comparison so the
// response cannot be timed apart from a wrong password, and both cases
// return the identical error.
func (s *Service) Login(ctx context.Context, identity, password, userAgent string) (*users.User, string, error) {
	user, err := s.cfg.Users.FindByEmailOrUsername(ctx, identity)
	if errors.Is(err, users.ErrNotFound) {
		s.cfg.Hasher.VerifyDummy(password)
		s.observeLogin("invalid")
		return nil, "", errInvalidCredentials
	}
	if err != nil {
		return nil, "", apperror.Internal(err)
	}

	if !s.cfg.Hasher.Verify(user.PasswordHash, password) {
		s.observeLogin("invalid")
		return nil, "", errInvalidCredentials
	}

	token, err := s.cfg.Sessions.Create(ctx, tokens.SessionPayload{UserID: user.ID, UserAgent: userAgent})
	if err != nil {
		return nil, "", apperror.Internal(err)
	}

	s.observeLogin("ok")
	return user, token, nil
}

// Logout revokes the presented session token. Idempotent.
func (s *Service) Logout(ctx context.Context, sessionToken string) error {
	if err := s.cfg.Sessions.Revoke(ctx, sessionToken); err != nil {
		return apperror.Internal(err)
	}
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.SessionsRevokedTotal.Inc()
	}
	return nil
}

// ConfirmEmail consumes a confirmation token exactly once. Confirming an
// already-confirmed user succeeds and still consumes the token.
func (s *Service) ConfirmEmail(ctx context.Context, token string) error {
	payload, ok, err := s.cfg.Confirms.Resolve(ctx, token)
	if err != nil {
		return apperror.Internal(err)
	}
	if !ok {
		s.observeConfirm("invalid")
		return apperror.InvalidInput("invalid or expired confirmation token")
	}

	user, err := s.cfg.Users.FindByID(ctx, payload.UserID)
	if errors.Is(err, users.ErrNotFound) {
		// User deleted after issuance; the token is useless either way.
		if err := s.cfg.Confirms.Revoke(ctx, token); err != nil {
			s.cfg.Logger.WithError(err).WithField("user_id", payload.UserID).Warn("failed to revoke orphaned confirmation token")
		}
		s.observeConfirm("invalid")
		return apperror.InvalidInput("invalid or expired confirmation token")
	}
	if err != nil {
		return apperror.Internal(err)
	}

	if !user.EmailConfirmed {
		if err := s.cfg.Users.UpdateEmailConfirmed(ctx, user.ID, true); err != nil {
			return apperror.Internal(err)
		}
		s.observeConfirm("ok")
	} else {
		s.observeConfirm("repeat")
	}

	if err := s.cfg.Confirms.Revoke(ctx, token); err != nil {
		return apperror.Internal(err)
	}
	return nil
}

// ResendConfirmation issues a fresh confirmation token and emails it.
// Absent and already-confirmed accounts report success with no side
// effect so the endpoint does not enumerate accounts. Unlike during
// registration, a mail failure here is the whole point of the call and
// is propagated.
func (s *Service) ResendConfirmation(ctx context.Context, email string) error {
	email = tokens.NormalizeEmail(email)

	count, err := s.cfg.Resend.Increment(ctx, tokens.DeriveEmailKey(s.cfg.ResendKeySecret, email))
	if err != nil {
		return apperror.Internal(err)
	}

	user, err := s.cfg.Users.FindByEmail(ctx, email)
	if errors.Is(err, users.ErrNotFound) {
		return nil
	}
	if err != nil {
		return apperror.Internal(err)
	}

	if !s.cfg.Resend.Allowed(count) {
		s.observeRateLimit("resend_confirmation")
		return apperror.RateLimited("too many confirmation emails requested")
	}

	if user.EmailConfirmed {
		return nil
	}

	token, err := s.cfg.Confirms.Create(ctx, tokens.ConfirmPayload{UserID: user.ID})
	if err != nil {
		return apperror.Internal(err)
	}

	if err := s.sendConfirmationMail(ctx, user.Email, token); err != nil {
		s.observeMail("confirmation", "error")
		return apperror.Internal(err)
	}
	s.observeMail("confirmation", "ok")
	return nil
}

// RequestPasswordReset starts a reset flow. The attempt counter moves
// for every request whether or not the account exists; for an unknown
// email the response is the same success with no mail sent, so the only
// externally observable difference is the mail itself.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	email = tokens.NormalizeEmail(email)

	_, allowed, err := s.cfg.Resets.IncrementAttempt(ctx, email)
	if err != nil {
		return apperror.Internal(err)
	}

	user, err := s.cfg.Users.FindByEmail(ctx, email)
	if errors.Is(err, users.ErrNotFound) {
		return nil
	}
	if err != nil {
		return apperror.Internal(err)
	}

	if !allowed {
		s.observeRateLimit("password_reset")
		return apperror.RateLimited("too many password reset requests")
	}

	token, err := s.cfg.Resets.CreateRequest(ctx, tokens.ResetPayload{UserID: user.ID, Email: email})
	if err != nil {
		return apperror.Internal(err)
	}
	s.observeReset("requested")

	// The success body must not depend on delivery; a failure here is
	// logged and the caller can retry within the attempt window.
	if err := s.sendResetMail(ctx, user.Email, token); err != nil {
		s.cfg.Logger.WithError(err).WithField("user_id", user.ID).Warn("reset mail failed")
		s.observeMail("reset", "error")
	} else {
		s.observeMail("reset", "ok")
	}

	return nil
}

// ResetPassword consumes a reset token, replaces the password hash and
// revokes every outstanding session for the user, forcing re-login on
// all devices.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	payload, ok, err := s.cfg.Resets.ResolveToken(ctx, token)
	if err != nil {
		return apperror.Internal(err)
	}
	if !ok {
		return apperror.InvalidInput("invalid or expired reset token")
	}

	if err := validatePassword(newPassword); err != nil {
		return err
	}

	hash, err := s.cfg.Hasher.Hash(newPassword)
	if err != nil {
		return apperror.Internal(err)
	}

	if err := s.cfg.Users.UpdatePasswordHash(ctx, payload.UserID, hash); err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return apperror.InvalidInput("invalid or expired reset token")
		}
		return apperror.Internal(err)
	}

	if err := s.cfg.Resets.Consume(ctx, token, payload); err != nil {
		return apperror.Internal(err)
	}
	if err := s.cfg.Sessions.RevokeAllForUser(ctx, payload.UserID); err != nil {
		return apperror.Internal(err)
	}

	s.observeReset("completed")
	return nil
}

// ChangePassword verifies the current password before replacing it.
// Requires an authenticated session; the handler supplies the user.
func (s *Service) ChangePassword(ctx context.Context, user *users.User, currentPassword, newPassword string) error {
	if !s.cfg.Hasher.Verify(user.PasswordHash, currentPassword) {
		return apperror.Unauthenticated("invalid current password")
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	hash, err := s.cfg.Hasher.Hash(newPassword)
	if err != nil {
		return apperror.Internal(err)
	}
	if err := s.cfg.Users.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		return apperror.Internal(err)
	}
	return nil
}

func (s *Service) sendConfirmationMail(ctx context.Context, to, token string) error {
	return s.cfg.Mailer.Send(ctx, mail.Message{
		From:    s.cfg.MailFrom,
		To:      to,
		Subject: "Confirm your email",
		HTML: fmt.Sprintf(`<p>Welcome! Confirm your email by opening this link:</p>
<p><a href="%[1]s/confirm-email?token=%[2]s">%[1]s/confirm-email?token=%[2]s</a></p>`,
			s.cfg.BaseURL, token),
	})
}

func (s *Service) sendResetMail(ctx context.Context, to, token string) error {
	return s.cfg.Mailer.Send(ctx, mail.Message{
		From:    s.cfg.MailFrom,
		To:      to,
		Subject: "Reset your password",
		HTML: fmt.Sprintf(`<p>A password reset was requested for this address. If that was you, open:</p>
<p><a href="%[1]s/reset-password?token=%[2]s">%[1]s/reset-password?token=%[2]s</a></p>
<p>Otherwise you can ignore this email.</p>`,
			s.cfg.BaseURL, token),
	})
}

func (s *Service) observeLogin(outcome string) {
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.LoginsTotal.WithLabelValues(outcome).Inc()
	}
}

func (s *Service) observeConfirm(outcome string) {
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ConfirmationsTotal.WithLabelValues(outcome).Inc()
	}
}

func (s *Service) observeReset(stage string) {
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.PasswordResetsTotal.WithLabelValues(stage).Inc()
	}
}

func (s *Service) observeRateLimit(limiter string) {
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.RateLimitHitsTotal.WithLabelValues(limiter).Inc()
	}
}

func (s *Service) observeMail(kind, outcome string) {
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.MailSendTotal.WithLabelValues(kind, outcome).Inc()
	}
}
