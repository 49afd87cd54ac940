package users_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pbsnet/gateway/internal/events"
	"github.com/pbsnet/gateway/internal/identity"
	"github.com/pbsnet/gateway/internal/keylock"
	"github.com/pbsnet/gateway/internal/platform"
	"github.com/pbsnet/gateway/internal/platform/memory"
	"github.com/pbsnet/gateway/internal/profile"
	"github.com/pbsnet/gateway/internal/users"
)

// ── Harness ────────────────────────────────────────────────────────────────

// countingDirectory records how often passwords were checked.
type countingDirectory struct {
	*memory.Backend
	checks atomic.Int32
}

func (d *countingDirectory) CheckPassword(ctx context.Context, email, password string) error {
	d.checks.Add(1)
	return d.Backend.CheckPassword(ctx, email, password)
}

type harness struct {
	mem      *memory.Backend
	dir      *countingDirectory
	profiles *profile.Store
	tokens   *identity.TokenService
	svc      *users.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mem := memory.New()
	dir := &countingDirectory{Backend: mem}
	profiles := profile.NewStore(mem, "user_profiles", keylock.NewMemory(), events.Noop{}, "pbsnet", zap.NewNop())
	tokens := identity.NewTokenService([]byte("0123456789abcdef0123456789abcdef"), 0)
	svc := users.NewService(dir, profiles, tokens, events.Noop{}, "https://app.example/", zap.NewNop())
	return &harness{mem: mem, dir: dir, profiles: profiles, tokens: tokens, svc: svc}
}

// ── Tests ──────────────────────────────────────────────────────────────────

func TestParseLoginID(t *testing.T) {
	id, err := users.ParseLoginID(" a@x.com ")
	require.NoError(t, err)
	assert.Equal(t, users.LoginID{Kind: users.LoginEmail, Value: "a@x.com"}, id)

	id, err = users.ParseLoginID("01700000000")
	require.NoError(t, err)
	assert.Equal(t, users.LoginPhone, id.Kind)

	_, err = users.ParseLoginID("  ")
	assert.ErrorIs(t, err, users.ErrInvalidInput)
}

func TestRegisterThenLogin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	uid, err := h.svc.Register(ctx, "a@x.com", "password1", "Alice")
	require.NoError(t, err)

	p, err := h.profiles.Get(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, "Alice", p.FullName)
	assert.Empty(t, p.PersonalJSON)

	sess, err := h.svc.Login(ctx, "a@x.com", "password1")
	require.NoError(t, err)
	assert.Equal(t, uid, sess.UserID)

	claims, err := h.tokens.Verify(sess.Token)
	require.NoError(t, err)
	assert.Equal(t, uid, claims.UserID)
	assert.Equal(t, "a@x.com", claims.Email)
}

func TestRegister_validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Register(ctx, "a@x.com", "short", "Alice")
	assert.ErrorIs(t, err, users.ErrWeakPassword)

	_, err = h.svc.Register(ctx, "", "password1", "Alice")
	assert.ErrorIs(t, err, users.ErrInvalidInput)

	_, err = h.svc.Register(ctx, "a@x.com", "password1", "Alice")
	require.NoError(t, err)
	_, err = h.svc.Register(ctx, "a@x.com", "password2", "Again")
	assert.ErrorIs(t, err, users.ErrEmailTaken)
}

func TestLogin_byMobile(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	uid, err := h.svc.Register(ctx, "a@x.com", "password1", "Alice")
	require.NoError(t, err)
	mobile := "01700000000"
	require.NoError(t, h.profiles.UpdateCore(ctx, uid, profile.CoreUpdate{Mobile: &mobile}))

	sess, err := h.svc.Login(ctx, mobile, "password1")
	require.NoError(t, err)
	assert.Equal(t, uid, sess.UserID)
	assert.Equal(t, "a@x.com", sess.Email)
}

func TestLogin_unknownMobileSkipsPasswordCheck(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Login(context.Background(), "01999999999", "whatever")
	assert.ErrorIs(t, err, users.ErrNotFound)
	assert.Zero(t, h.dir.checks.Load())
}

func TestLogin_wrongPasswordIsUnauthorized(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Register(ctx, "a@x.com", "password1", "Alice")
	require.NoError(t, err)

	_, err = h.svc.Login(ctx, "a@x.com", "nope")
	assert.ErrorIs(t, err, users.ErrUnauthorized)
	assert.False(t, errors.Is(err, users.ErrNotFound))

	_, err = h.svc.Login(ctx, "ghost@x.com", "nope")
	assert.ErrorIs(t, err, users.ErrUnauthorized, "unknown email must look like a bad password")
}

func TestLogin_identityMissingAfterPasswordCheck(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Profile exists but the provider record is found under a different
	// email: the bridge must surface NotFound, not issue a token.
	a, err := h.mem.CreateUser(ctx, "b@x.com", "password1", "Bob")
	require.NoError(t, err)
	require.NoError(t, h.profiles.Create(ctx, a.ID, "Bob", "b@x.com"))

	stale := &staleLookup{countingDirectory: h.dir}
	svc := users.NewService(stale, h.profiles, h.tokens, events.Noop{}, "", zap.NewNop())
	_, err = svc.Login(ctx, "b@x.com", "password1")
	assert.ErrorIs(t, err, users.ErrNotFound)
}

type staleLookup struct{ *countingDirectory }

func (staleLookup) FindUserByEmail(context.Context, string) (*platform.Account, error) {
	return nil, platform.ErrNotFound
}

func TestOAuthExchange_createsOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.mem.AddAssertion("jwt-1", "g@x.com", "Gee")

	first, err := h.svc.OAuthExchange(ctx, "jwt-1")
	require.NoError(t, err)
	second, err := h.svc.OAuthExchange(ctx, "jwt-1")
	require.NoError(t, err)
	assert.Equal(t, first.UserID, second.UserID)

	p, err := h.profiles.Get(ctx, first.UserID)
	require.NoError(t, err)
	assert.Equal(t, "Gee", p.FullName)
	assert.Equal(t, "g@x.com", p.Email)
}

func TestOAuthExchange_toleratesExistingIdentity(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	a, err := h.mem.CreateUser(ctx, "g@x.com", "password1", "Gee")
	require.NoError(t, err)
	h.mem.AddAssertion("jwt-1", "g@x.com", "Gee")

	sess, err := h.svc.OAuthExchange(ctx, "jwt-1")
	require.NoError(t, err)
	assert.Equal(t, a.ID, sess.UserID)

	_, err = h.profiles.Get(ctx, a.ID)
	assert.NoError(t, err, "profile should be created for the existing identity")
}

func TestOAuthExchange_badAssertion(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.OAuthExchange(context.Background(), "forged")
	assert.ErrorIs(t, err, users.ErrUnauthorized)
	_, err = h.svc.OAuthExchange(context.Background(), "")
	assert.ErrorIs(t, err, users.ErrInvalidInput)
}

func TestOAuthURL(t *testing.T) {
	h := newHarness(t)

	u, err := h.svc.OAuthURL("google")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(u, "memory://oauth/google?"))
	assert.Contains(t, u, "success=https%3A%2F%2Fapp.example%2Fdashboard")
	assert.Contains(t, u, "failure=https%3A%2F%2Fapp.example%2Flogin")
}

func TestForgotAndResetPassword(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	uid, err := h.svc.Register(ctx, "a@x.com", "password1", "Alice")
	require.NoError(t, err)

	require.NoError(t, h.svc.ForgotPassword(ctx, "ghost@x.com"), "unknown email must not be revealed")
	require.NoError(t, h.svc.ForgotPassword(ctx, "a@x.com"))

	secret, ok := h.mem.RecoverySecret(uid)
	require.True(t, ok)

	assert.ErrorIs(t, h.svc.ResetPassword(ctx, uid, "wrong-secret", "password2"), users.ErrUnauthorized)
	assert.ErrorIs(t, h.svc.ResetPassword(ctx, uid, secret, "short"), users.ErrWeakPassword)
	require.NoError(t, h.svc.ResetPassword(ctx, uid, secret, "password2"))

	_, err = h.svc.Login(ctx, "a@x.com", "password2")
	assert.NoError(t, err)
}

func TestChangePassword(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	uid, err := h.svc.Register(ctx, "a@x.com", "password1", "Alice")
	require.NoError(t, err)

	assert.ErrorIs(t, h.svc.ChangePassword(ctx, uid, "1234"), users.ErrWeakPassword)
	require.NoError(t, h.svc.ChangePassword(ctx, uid, "password9"))

	_, err = h.svc.Login(ctx, "a@x.com", "password1")
	assert.ErrorIs(t, err, users.ErrUnauthorized)
	_, err = h.svc.Login(ctx, "a@x.com", "password9")
	assert.NoError(t, err)
}

func TestRetrieveKey(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	uid, err := h.svc.Register(ctx, "a@x.com", "password1", "Alice")
	require.NoError(t, err)

	key, err := h.svc.RetrieveKey(ctx, "a@x.com", "password1")
	require.NoError(t, err)
	assert.Equal(t, users.NotGenerated, key)

	generated, err := h.profiles.GenerateAPIKey(ctx, uid)
	require.NoError(t, err)
	key, err = h.svc.RetrieveKey(ctx, "a@x.com", "password1")
	require.NoError(t, err)
	assert.Equal(t, generated, key)

	_, err = h.svc.RetrieveKey(ctx, "a@x.com", "bad")
	assert.ErrorIs(t, err, users.ErrUnauthorized)
	_, err = h.svc.RetrieveKey(ctx, "nobody@x.com", "password1")
	assert.ErrorIs(t, err, users.ErrNotFound)
}

func TestOAuthExchange_emailCaseDiffersFromRegistration(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	uid, err := h.svc.Register(ctx, "Alice@X.com", "password1", "Alice")
	require.NoError(t, err)
	h.mem.AddAssertion("jwt-g", "alice@x.com", "Alice")

	sess, err := h.svc.OAuthExchange(ctx, "jwt-g")
	require.NoError(t, err)
	assert.Equal(t, uid, sess.UserID)

	p, err := h.profiles.Get(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, "alice@x.com", p.Email)
}

func TestOAuthExchange_reusesMixedCaseProfile(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Profiles written before emails were lowercased keep their casing.
	a, err := h.mem.CreateUser(ctx, "Alice@X.com", "password1", "Alice")
	require.NoError(t, err)
	require.NoError(t, h.profiles.Create(ctx, a.ID, "Alice", "Alice@X.com"))
	h.mem.AddAssertion("jwt-g", "alice@x.com", "Alice")

	for range 2 {
		sess, err := h.svc.OAuthExchange(ctx, "jwt-g")
		require.NoError(t, err)
		assert.Equal(t, a.ID, sess.UserID)
	}
}

func TestRetrieveKey_mixedCaseEmail(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	a, err := h.mem.CreateUser(ctx, "Bob@X.com", "password1", "Bob")
	require.NoError(t, err)
	require.NoError(t, h.profiles.Create(ctx, a.ID, "Bob", "Bob@X.com"))

	_, err = h.svc.Login(ctx, "bob@x.com", "password1")
	require.NoError(t, err)

	key, err := h.svc.RetrieveKey(ctx, "BOB@x.com", "password1")
	require.NoError(t, err)
	assert.Equal(t, users.NotGenerated, key)
}
