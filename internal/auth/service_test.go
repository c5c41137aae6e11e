package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hourglasshq/hourglass/internal/apperr"
	"github.com/hourglasshq/hourglass/internal/auth"
	"github.com/hourglasshq/hourglass/internal/storage"
)

type fakeUserStore struct {
	users       map[string]*storage.User
	history     map[string][]string
	changedTo   map[string]string
	failCounts  map[string]int
	lockedAfter int
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{
		users:       make(map[string]*storage.User),
		history:     make(map[string][]string),
		changedTo:   make(map[string]string),
		failCounts:  make(map[string]int),
		lockedAfter: storage.LockoutThreshold,
	}
}

func (f *fakeUserStore) add(u *storage.User) *storage.User {
	f.users[u.Username] = u
	return u
}

func (f *fakeUserStore) FindByUsername(ctx context.Context, username string) (*storage.User, error) {
	u, ok := f.users[username]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (f *fakeUserStore) RecordFailedLogin(ctx context.Context, username string) (bool, error) {
	f.failCounts[username]++
	if f.failCounts[username] >= f.lockedAfter {
		f.users[username].Locked = true
		return true, nil
	}
	return false, nil
}

func (f *fakeUserStore) ResetFailedLogins(ctx context.Context, username string) error {
	f.failCounts[username] = 0
	return nil
}

func (f *fakeUserStore) ChangePassword(ctx context.Context, username, newHash string, historyDepth int) error {
	u, ok := f.users[username]
	if !ok {
		return storage.ErrNotFound
	}
	u.PasswordHash = newHash
	u.TokensInvalidBefore = time.Now().UTC()
	f.changedTo[username] = newHash
	f.history[username] = append([]string{newHash}, f.history[username]...)
	return nil
}

func (f *fakeUserStore) PasswordHistory(ctx context.Context, username string, limit int) ([]string, error) {
	h := f.history[username]
	if len(h) > limit {
		h = h[:limit]
	}
	return h, nil
}

type fakeLedger struct {
	revoked map[string]time.Time
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{revoked: make(map[string]time.Time)}
}

func (f *fakeLedger) Revoke(ctx context.Context, jti, username string, expiresAt time.Time) error {
	f.revoked[jti] = expiresAt
	return nil
}

func (f *fakeLedger) IsRevoked(ctx context.Context, jti string) (bool, error) {
	_, ok := f.revoked[jti]
	return ok, nil
}

type fixture struct {
	service *auth.Service
	users   *fakeUserStore
	ledger  *fakeLedger
	codec   *auth.Codec
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	users := newFakeUserStore()
	ledger := newFakeLedger()
	hasher := fakeHasher{}
	codec, err := auth.NewCodec(testSecret, auth.CodecConfig{})
	require.NoError(t, err)
	policy := auth.NewPolicy(hasher)
	return &fixture{
		service: auth.NewService(users, ledger, hasher, codec, policy, nil),
		users:   users,
		ledger:  ledger,
		codec:   codec,
	}
}

func activeUser(username, role string) *storage.User {
	now := time.Now().UTC()
	return &storage.User{
		Username:            username,
		PasswordHash:        "fake$Correct0ne!x",
		RoleName:            role,
		Enabled:             true,
		PasswordLastChanged: now,
		PasswordExpiresAt:   now.Add(30 * 24 * time.Hour),
		TokensInvalidBefore: time.Unix(0, 0).UTC(),
	}
}

func TestLogin_Success(t *testing.T) {
	fx := newFixture(t)
	fx.users.add(activeUser("alice", storage.RoleUser))

	pair, err := fx.service.Login(context.Background(), "alice", "Correct0ne!x")
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.False(t, pair.MustChangePassword)
	assert.Positive(t, pair.ExpiresIn)

	claims, err := fx.codec.Verify(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, auth.TokenAccess, claims.Type)
	assert.Equal(t, storage.RoleUser, claims.Role)
}

func TestLogin_GenericFailureForUnknownWrongAndDisabled(t *testing.T) {
	fx := newFixture(t)
	disabled := activeUser("bob", storage.RoleUser)
	disabled.Enabled = false
	fx.users.add(disabled)
	fx.users.add(activeUser("alice", storage.RoleUser))

	_, errUnknown := fx.service.Login(context.Background(), "nobody", "whatever")
	_, errWrong := fx.service.Login(context.Background(), "alice", "wrong")
	_, errDisabled := fx.service.Login(context.Background(), "bob", "Correct0ne!x")

	// One indistinguishable message for all three causes.
	for _, err := range []error{errUnknown, errWrong, errDisabled} {
		require.Error(t, err)
		assert.Equal(t, apperr.Unauthenticated, apperr.KindOf(err))
		assert.Equal(t, "invalid username or password", apperr.Message(err))
	}
}

func TestLogin_LocksAfterThreshold(t *testing.T) {
	fx := newFixture(t)
	fx.users.add(activeUser("alice", storage.RoleUser))

	for i := 0; i < storage.LockoutThreshold; i++ {
		_, err := fx.service.Login(context.Background(), "alice", "wrong")
		require.Error(t, err)
	}
	assert.True(t, fx.users.users["alice"].Locked)

	// Correct password no longer helps.
	_, err := fx.service.Login(context.Background(), "alice", "Correct0ne!x")
	require.Error(t, err)
	assert.Equal(t, "invalid username or password", apperr.Message(err))
}

func TestLogin_SuccessResetsFailureCount(t *testing.T) {
	fx := newFixture(t)
	fx.users.add(activeUser("alice", storage.RoleUser))

	for i := 0; i < storage.LockoutThreshold-1; i++ {
		_, _ = fx.service.Login(context.Background(), "alice", "wrong")
	}
	_, err := fx.service.Login(context.Background(), "alice", "Correct0ne!x")
	require.NoError(t, err)
	assert.Zero(t, fx.users.failCounts["alice"])
}

func TestLogin_ExpiredPassword_FlagsMustChange(t *testing.T) {
	fx := newFixture(t)
	u := activeUser("alice", storage.RoleUser)
	u.PasswordExpiresAt = time.Now().UTC().Add(-time.Hour)
	fx.users.add(u)

	pair, err := fx.service.Login(context.Background(), "alice", "Correct0ne!x")
	require.NoError(t, err)
	assert.True(t, pair.MustChangePassword)
}

func TestLogin_ForcePasswordChange_FlagsMustChange(t *testing.T) {
	fx := newFixture(t)
	u := activeUser("alice", storage.RoleUser)
	u.ForcePasswordChange = true
	fx.users.add(u)

	pair, err := fx.service.Login(context.Background(), "alice", "Correct0ne!x")
	require.NoError(t, err)
	assert.True(t, pair.MustChangePassword)
}

func TestLogin_ExpiredGuest_BlockedWithDedicatedMessage(t *testing.T) {
	fx := newFixture(t)
	u := activeUser("visitor", storage.RoleGuest)
	u.PasswordExpiresAt = time.Now().UTC().Add(-time.Hour)
	fx.users.add(u)

	_, err := fx.service.Login(context.Background(), "visitor", "Correct0ne!x")
	require.Error(t, err)
	assert.Equal(t, apperr.Unauthenticated, apperr.KindOf(err))
	assert.Contains(t, apperr.Message(err), "contact an administrator")
	// The failure counter is untouched: the credentials were correct.
	assert.Zero(t, fx.users.failCounts["visitor"])
}

func TestRefresh_RotatesAndRevokesOldToken(t *testing.T) {
	fx := newFixture(t)
	fx.users.add(activeUser("alice", storage.RoleUser))

	pair, err := fx.service.Login(context.Background(), "alice", "Correct0ne!x")
	require.NoError(t, err)

	oldClaims, err := fx.codec.Verify(pair.RefreshToken)
	require.NoError(t, err)

	next, err := fx.service.Refresh(context.Background(), pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, next.RefreshToken)

	revoked, err := fx.ledger.IsRevoked(context.Background(), oldClaims.TokenID())
	require.NoError(t, err)
	assert.True(t, revoked)

	// Replaying the spent token fails.
	_, err = fx.service.Refresh(context.Background(), pair.RefreshToken)
	require.Error(t, err)
	assert.Equal(t, apperr.Unauthenticated, apperr.KindOf(err))
}

func TestRefresh_RejectsAccessToken(t *testing.T) {
	fx := newFixture(t)
	fx.users.add(activeUser("alice", storage.RoleUser))

	pair, err := fx.service.Login(context.Background(), "alice", "Correct0ne!x")
	require.NoError(t, err)

	_, err = fx.service.Refresh(context.Background(), pair.AccessToken)
	require.Error(t, err)
	assert.Equal(t, apperr.Unauthenticated, apperr.KindOf(err))
}

func TestRefresh_RejectsAfterInvalidationWatermark(t *testing.T) {
	fx := newFixture(t)
	fx.users.add(activeUser("alice", storage.RoleUser))

	pair, err := fx.service.Login(context.Background(), "alice", "Correct0ne!x")
	require.NoError(t, err)

	// A password change moves the watermark past the token's issue time.
	fx.users.users["alice"].TokensInvalidBefore = time.Now().UTC().Add(time.Minute)

	_, err = fx.service.Refresh(context.Background(), pair.RefreshToken)
	require.Error(t, err)
	assert.Equal(t, apperr.Unauthenticated, apperr.KindOf(err))
}

func TestRefresh_RejectsLockedUser(t *testing.T) {
	fx := newFixture(t)
	fx.users.add(activeUser("alice", storage.RoleUser))

	pair, err := fx.service.Login(context.Background(), "alice", "Correct0ne!x")
	require.NoError(t, err)

	fx.users.users["alice"].Locked = true

	_, err = fx.service.Refresh(context.Background(), pair.RefreshToken)
	require.Error(t, err)
}

func TestLogout_RevokesToken(t *testing.T) {
	fx := newFixture(t)
	fx.users.add(activeUser("alice", storage.RoleUser))

	pair, err := fx.service.Login(context.Background(), "alice", "Correct0ne!x")
	require.NoError(t, err)

	require.NoError(t, fx.service.Logout(context.Background(), pair.RefreshToken))

	claims, err := fx.codec.Verify(pair.RefreshToken)
	require.NoError(t, err)
	revoked, err := fx.ledger.IsRevoked(context.Background(), claims.TokenID())
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestLogout_Idempotent(t *testing.T) {
	fx := newFixture(t)
	fx.users.add(activeUser("alice", storage.RoleUser))

	pair, err := fx.service.Login(context.Background(), "alice", "Correct0ne!x")
	require.NoError(t, err)

	require.NoError(t, fx.service.Logout(context.Background(), pair.RefreshToken))
	require.NoError(t, fx.service.Logout(context.Background(), pair.RefreshToken))
	assert.Len(t, fx.ledger.revoked, 1)
}

func TestLogout_GarbageTokenIsNoop(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.service.Logout(context.Background(), "garbage"))
	assert.Empty(t, fx.ledger.revoked)
}

func TestChangePassword_Success(t *testing.T) {
	fx := newFixture(t)
	fx.users.add(activeUser("alice", storage.RoleUser))

	err := fx.service.ChangePassword(context.Background(), "alice", "Correct0ne!x", "Brand*New1pw")
	require.NoError(t, err)
	assert.Equal(t, "fake$Brand*New1pw", fx.users.changedTo["alice"])
}

func TestChangePassword_WrongCurrentPassword(t *testing.T) {
	fx := newFixture(t)
	fx.users.add(activeUser("alice", storage.RoleUser))

	err := fx.service.ChangePassword(context.Background(), "alice", "wrong", "Brand*New1pw")
	require.Error(t, err)
	assert.Equal(t, apperr.Unauthenticated, apperr.KindOf(err))
	assert.Empty(t, fx.users.changedTo)
}

func TestChangePassword_PolicyViolationsCarriedAsDetails(t *testing.T) {
	fx := newFixture(t)
	fx.users.add(activeUser("alice", storage.RoleUser))

	err := fx.service.ChangePassword(context.Background(), "alice", "Correct0ne!x", "weak")
	require.Error(t, err)
	assert.Equal(t, apperr.InvalidInput, apperr.KindOf(err))

	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.Contains(t, ae.Details, string(auth.ViolationTooShort))
}

func TestChangePassword_RejectsRecentReuse(t *testing.T) {
	fx := newFixture(t)
	fx.users.add(activeUser("alice", storage.RoleUser))
	fx.users.history["alice"] = []string{"fake$Old*Passw0rd"}

	err := fx.service.ChangePassword(context.Background(), "alice", "Correct0ne!x", "Old*Passw0rd")
	require.Error(t, err)

	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.Contains(t, ae.Details, string(auth.ViolationReused))
}

func TestChangePassword_GuestForbidden(t *testing.T) {
	fx := newFixture(t)
	fx.users.add(activeUser("visitor", storage.RoleGuest))

	err := fx.service.ChangePassword(context.Background(), "visitor", "Correct0ne!x", "Brand*New1pw")
	require.Error(t, err)
	assert.Equal(t, apperr.Forbidden, apperr.KindOf(err))
}

func TestMintServiceToken(t *testing.T) {
	fx := newFixture(t)
	fx.users.add(activeUser("jenkins", storage.RoleJenkinsService))

	token, err := fx.service.MintServiceToken(context.Background(), "jenkins", 2*time.Hour)
	require.NoError(t, err)

	claims, err := fx.codec.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, auth.TokenServiceAccount, claims.Type)
	assert.Equal(t, storage.RoleJenkinsService, claims.Role)
	assert.Equal(t, "jenkins", claims.Username())
}

func TestMintServiceToken_UnknownUser(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.service.MintServiceToken(context.Background(), "ghost", time.Hour)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
