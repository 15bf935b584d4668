package auth

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commune-chat/commune/pkg/apperror"
	"github.com/commune-chat/commune/pkg/mail"
	"github.com/commune-chat/commune/pkg/observability"
	"github.com/commune-chat/commune/pkg/tokens"
	"github.com/commune-chat/commune/pkg/users"
)

// memoryUsers is an in-memory users.Repository for service tests. It
// mirrors the uniqueness semantics of the Postgres implementation.
type memoryUsers struct {
	nextID int64
	byID   map[int64]*users.User
}

func newMemoryUsers() *memoryUsers {
	return &memoryUsers{nextID: 1, byID: make(map[int64]*users.User)}
}

func (m *memoryUsers) Insert(_ context.Context, username, email, passwordHash string) (*users.User, error) {
	for _, u := range m.byID {
		if u.Email == email || u.Username == username {
			return nil, users.ErrUserExists
		}
	}
	u := &users.User{
		ID:           m.nextID,
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	m.nextID++
	m.byID[u.ID] = u
	return u, nil
}

func (m *memoryUsers) FindByID(_ context.Context, id int64) (*users.User, error) {
	u, ok := m.byID[id]
	if !ok {
		return nil, users.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memoryUsers) FindByEmail(_ context.Context, email string) (*users.User, error) {
	for _, u := range m.byID {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, users.ErrNotFound
}

func (m *memoryUsers) FindByEmailOrUsername(_ context.Context, identity string) (*users.User, error) {
	for _, u := range m.byID {
		if u.Email == tokens.NormalizeEmail(identity) || u.Username == identity {
			cp := *u
			return &cp, nil
		}
	}
	return nil, users.ErrNotFound
}

func (m *memoryUsers) UpdatePasswordHash(_ context.Context, id int64, passwordHash string) error {
	u, ok := m.byID[id]
	if !ok {
		return users.ErrNotFound
	}
	u.PasswordHash = passwordHash
	return nil
}

func (m *memoryUsers) UpdateEmailConfirmed(_ context.Context, id int64, confirmed bool) error {
	u, ok := m.byID[id]
	if !ok {
		return users.ErrNotFound
	}
	u.EmailConfirmed = confirmed
	return nil
}

// recordingMailer captures outbound messages and can be told to fail.
type recordingMailer struct {
	sent []mail.Message
	err  error
}

func (m *recordingMailer) Send(_ context.Context, msg mail.Message) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

type testEnv struct {
	svc    *Service
	repo   *memoryUsers
	mailer *recordingMailer
	mr     *miniredis.Miniredis
}

func setupService(t *testing.T) *testEnv {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	store, err := tokens.NewRedisStore("redis://" + mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	repo := newMemoryUsers()
	mailer := &recordingMailer{}
	secret := []byte("test-secret")

	svc := NewService(Config{
		Users:           repo,
		Sessions:        tokens.NewSessionStore(store, 14*24*time.Hour),
		Confirms:        tokens.NewConfirmationStore(store, 48*time.Hour),
		Resets:          tokens.NewResetStore(store, secret, time.Hour, 3),
		Resend:          tokens.NewAttemptLimiter(store, tokens.ResendAttemptsNamespace, time.Hour, 3),
		Hasher:          NewPasswordHasherWithCost(4),
		Mailer:          mailer,
		ResendKeySecret: secret,
		BaseURL:         "https://commune.test",
		MailFrom:        "noreply@commune.test",
		Logger:          observability.NewLogger(observability.ErrorLevel, io.Discard),
	})

	return &testEnv{svc: svc, repo: repo, mailer: mailer, mr: mr}
}

func register(t *testing.T, env *testEnv) (*users.User, string) {
	t.Helper()
	user, session, err := env.svc.Register(context.Background(), "alice", "alice@example.com", "hunter2hunter2", "agent/1.0")
	require.NoError(t, err)
	return user, session
}

func TestRegister(t *testing.T) {
	env := setupService(t)

	user, session := register(t, env)
	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.False(t, user.EmailConfirmed)
	assert.NotEmpty(t, session)

	// Registration issues a live session.
	payload, ok, err := env.svc.cfg.Sessions.Resolve(context.Background(), session)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, user.ID, payload.UserID)

	// And sends one confirmation email.
	require.Len(t, env.mailer.sent, 1)
	assert.Equal(t, "alice@example.com", env.mailer.sent[0].To)
	assert.Contains(t, env.mailer.sent[0].HTML, "confirm-email?token=")
}

func TestRegisterValidation(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	_, _, err := env.svc.Register(ctx, "al", "alice@example.com", "hunter2hunter2", "")
	assert.True(t, apperror.IsKind(err, apperror.KindInvalidInput))

	_, _, err = env.svc.Register(ctx, "alice", "alice@example.com", "short", "")
	assert.True(t, apperror.IsKind(err, apperror.KindInvalidInput))

	_, _, err = env.svc.Register(ctx, "alice", "   ", "hunter2hunter2", "")
	assert.True(t, apperror.IsKind(err, apperror.KindInvalidInput))
}

func TestRegisterDuplicate(t *testing.T) {
	env := setupService(t)
	register(t, env)

	_, _, err := env.svc.Register(context.Background(), "alice2", "alice@example.com", "hunter2hunter2", "")
	require.True(t, apperror.IsKind(err, apperror.KindConflict))
	assert.Equal(t, "USER_EXISTS", apperror.From(err).Code)
}

func TestRegisterSurvivesMailFailure(t *testing.T) {
	env := setupService(t)
	env.mailer.err = errors.New("smtp down")

	user, session, err := env.svc.Register(context.Background(), "alice", "alice@example.com", "hunter2hunter2", "")
	require.NoError(t, err)
	assert.NotNil(t, user)
	assert.NotEmpty(t, session)
}

func TestLogin(t *testing.T) {
	env := setupService(t)
	user, _ := register(t, env)
	ctx := context.Background()

	// By email.
	got, session, err := env.svc.Login(ctx, "alice@example.com", "hunter2hunter2", "agent/2.0")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
	assert.NotEmpty(t, session)

	// By username.
	_, session2, err := env.svc.Login(ctx, "alice", "hunter2hunter2", "")
	require.NoError(t, err)
	assert.NotEqual(t, session, session2)
}

func TestLoginUniformFailure(t *testing.T) {
	env := setupService(t)
	register(t, env)
	ctx := context.Background()

	_, _, errWrongPassword := env.svc.Login(ctx, "alice", "not-the-password", "")
	_, _, errUnknownUser := env.svc.Login(ctx, "nobody", "not-the-password", "")

	// Identical error either way so callers cannot probe for accounts.
	require.Error(t, errWrongPassword)
	require.Error(t, errUnknownUser)
	assert.Equal(t, apperror.From(errWrongPassword).Message, apperror.From(errUnknownUser).Message)
	assert.True(t, apperror.IsKind(errWrongPassword, apperror.KindUnauthenticated))
	assert.True(t, apperror.IsKind(errUnknownUser, apperror.KindUnauthenticated))
}

func TestLogout(t *testing.T) {
	env := setupService(t)
	_, session := register(t, env)
	ctx := context.Background()

	require.NoError(t, env.svc.Logout(ctx, session))

	_, ok, err := env.svc.cfg.Sessions.Resolve(ctx, session)
	require.NoError(t, err)
	assert.False(t, ok)

	// Logging out twice is fine.
	assert.NoError(t, env.svc.Logout(ctx, session))
}

func confirmationToken(t *testing.T, env *testEnv, user *users.User) string {
	t.Helper()
	token, err := env.svc.cfg.Confirms.Create(context.Background(), tokens.ConfirmPayload{UserID: user.ID})
	require.NoError(t, err)
	return token
}

func TestConfirmEmail(t *testing.T) {
	env := setupService(t)
	user, _ := register(t, env)
	ctx := context.Background()
	token := confirmationToken(t, env, user)

	require.NoError(t, env.svc.ConfirmEmail(ctx, token))

	got, err := env.repo.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, got.EmailConfirmed)

	// The token is single use.
	err = env.svc.ConfirmEmail(ctx, token)
	assert.True(t, apperror.IsKind(err, apperror.KindInvalidInput))
}

func TestConfirmEmailAlreadyConfirmed(t *testing.T) {
	env := setupService(t)
	user, _ := register(t, env)
	ctx := context.Background()

	require.NoError(t, env.svc.ConfirmEmail(ctx, confirmationToken(t, env, user)))

	// A second outstanding token still succeeds against a confirmed user.
	assert.NoError(t, env.svc.ConfirmEmail(ctx, confirmationToken(t, env, user)))
}

func TestConfirmEmailInvalidToken(t *testing.T) {
	env := setupService(t)

	err := env.svc.ConfirmEmail(context.Background(), "bogus")
	assert.True(t, apperror.IsKind(err, apperror.KindInvalidInput))
}

func TestResendConfirmation(t *testing.T) {
	env := setupService(t)
	register(t, env)
	ctx := context.Background()
	env.mailer.sent = nil

	require.NoError(t, env.svc.ResendConfirmation(ctx, "Alice@Example.com"))
	require.Len(t, env.mailer.sent, 1)
	assert.Equal(t, "alice@example.com", env.mailer.sent[0].To)
}

func TestResendConfirmationNonEnumerating(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	// Unknown account: success, no mail.
	require.NoError(t, env.svc.ResendConfirmation(ctx, "ghost@example.com"))
	assert.Empty(t, env.mailer.sent)

	// Confirmed account: success, no mail.
	user, _ := register(t, env)
	require.NoError(t, env.svc.ConfirmEmail(ctx, confirmationToken(t, env, user)))
	env.mailer.sent = nil
	require.NoError(t, env.svc.ResendConfirmation(ctx, "alice@example.com"))
	assert.Empty(t, env.mailer.sent)
}

func TestResendConfirmationRateLimited(t *testing.T) {
	env := setupService(t)
	register(t, env)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, env.svc.ResendConfirmation(ctx, "alice@example.com"))
	}
	err := env.svc.ResendConfirmation(ctx, "alice@example.com")
	assert.True(t, apperror.IsKind(err, apperror.KindRateLimited))
}

func TestResendConfirmationPropagatesMailFailure(t *testing.T) {
	env := setupService(t)
	register(t, env)
	env.mailer.err = errors.New("smtp down")

	err := env.svc.ResendConfirmation(context.Background(), "alice@example.com")
	assert.True(t, apperror.IsKind(err, apperror.KindInternal))
}

// resetToken digs the emailed token out of the recorded message.
func resetToken(t *testing.T, env *testEnv) string {
	t.Helper()
	require.NotEmpty(t, env.mailer.sent)
	html := env.mailer.sent[len(env.mailer.sent)-1].HTML
	const marker = "reset-password?token="
	i := strings.Index(html, marker)
	require.GreaterOrEqual(t, i, 0)
	token := html[i+len(marker):]
	return token[:strings.IndexAny(token, `"<`)]
}

func TestPasswordResetFlow(t *testing.T) {
	env := setupService(t)
	user, firstSession := register(t, env)
	ctx := context.Background()
	env.mailer.sent = nil

	require.NoError(t, env.svc.RequestPasswordReset(ctx, "alice@example.com"))
	token := resetToken(t, env)

	require.NoError(t, env.svc.ResetPassword(ctx, token, "a-brand-new-password"))

	// Old password no longer works, new one does.
	_, _, err := env.svc.Login(ctx, "alice", "hunter2hunter2", "")
	assert.True(t, apperror.IsKind(err, apperror.KindUnauthenticated))
	got, _, err := env.svc.Login(ctx, "alice", "a-brand-new-password", "")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	// Every pre-reset session is gone.
	_, ok, err := env.svc.cfg.Sessions.Resolve(ctx, firstSession)
	require.NoError(t, err)
	assert.False(t, ok)

	// The token is single use.
	err = env.svc.ResetPassword(ctx, token, "another-password")
	assert.True(t, apperror.IsKind(err, apperror.KindInvalidInput))
}

func TestPasswordResetUnknownEmail(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	// Success with no mail, and never rate limited, so the caller cannot
	// distinguish an absent account.
	for i := 0; i < 6; i++ {
		require.NoError(t, env.svc.RequestPasswordReset(ctx, "ghost@example.com"))
	}
	assert.Empty(t, env.mailer.sent)
}

func TestPasswordResetRateLimited(t *testing.T) {
	env := setupService(t)
	register(t, env)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, env.svc.RequestPasswordReset(ctx, "alice@example.com"))
	}
	err := env.svc.RequestPasswordReset(ctx, "alice@example.com")
	assert.True(t, apperror.IsKind(err, apperror.KindRateLimited))

	// The window is fixed, not sliding: it reopens after the TTL.
	env.mr.FastForward(61 * time.Minute)
	assert.NoError(t, env.svc.RequestPasswordReset(ctx, "alice@example.com"))
}

func TestPasswordResetWeakNewPassword(t *testing.T) {
	env := setupService(t)
	register(t, env)
	ctx := context.Background()
	env.mailer.sent = nil

	require.NoError(t, env.svc.RequestPasswordReset(ctx, "alice@example.com"))
	token := resetToken(t, env)

	err := env.svc.ResetPassword(ctx, token, "short")
	assert.True(t, apperror.IsKind(err, apperror.KindInvalidInput))

	// Rejection does not consume the token.
	assert.NoError(t, env.svc.ResetPassword(ctx, token, "long-enough-now"))
}

func TestChangePassword(t *testing.T) {
	env := setupService(t)
	user, _ := register(t, env)
	ctx := context.Background()

	// Stale hash in hand: reload the stored row as the handler would.
	stored, err := env.repo.FindByID(ctx, user.ID)
	require.NoError(t, err)

	err = env.svc.ChangePassword(ctx, stored, "wrong-current", "a-new-password")
	assert.True(t, apperror.IsKind(err, apperror.KindUnauthenticated))

	require.NoError(t, env.svc.ChangePassword(ctx, stored, "hunter2hunter2", "a-new-password"))

	_, _, err = env.svc.Login(ctx, "alice", "a-new-password", "")
	assert.NoError(t, err)
}
