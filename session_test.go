package main

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestManager() (*SessionManager, *MemDB, *TokenCodec) {
	db := NewMemoryDB()
	codec := testCodec()
	return NewSessionManager(db, codec, time.Hour, 30*24*time.Hour), db, codec
}

func signUpTestUser(t *testing.T, m *SessionManager) (*PublicUser, *TokenPair) {
	t.Helper()
	user, tokens, err := m.SignUp("Alice", "a@b.com", "secret1")
	require.NoError(t, err)
	return user, tokens
}

func TestSignUpIssuesDistinctSecretsForOneSession(t *testing.T) {
	m, db, codec := newTestManager()
	user, tokens := signUpTestUser(t, m)

	require.Equal(t, "a@b.com", user.Email)
	require.Equal(t, []string{RoleUser}, user.Roles)

	access, err := codec.Decode(tokens.AccessToken)
	require.NoError(t, err)
	refresh, err := codec.Decode(tokens.RefreshToken)
	require.NoError(t, err)

	require.Equal(t, access.Subject, refresh.Subject)
	require.NotEqual(t, access.Prm, refresh.Prm)

	// both secrets resolve to the same keystore row
	ks, err := db.FindKeystore(user.ID, access.Prm, refresh.Prm)
	require.NoError(t, err)
	require.NotNil(t, ks)
}

func TestSignUpDuplicateEmail(t *testing.T) {
	m, _, _ := newTestManager()
	signUpTestUser(t, m)

	_, _, err := m.SignUp("Alice Again", "A@B.com", "secret2")
	require.ErrorIs(t, err, ErrBadRequest)
}

func TestSignUpMissingRoleIsFatal(t *testing.T) {
	m, db, _ := newTestManager()
	delete(db.roles, RoleUser)

	_, _, err := m.SignUp("Alice", "a@b.com", "secret1")
	require.ErrorIs(t, err, ErrInternal)
}

func TestSignInHidesWhichFactorFailed(t *testing.T) {
	m, _, _ := newTestManager()
	signUpTestUser(t, m)

	_, _, errUnknown := m.SignIn("nobody@b.com", "secret1")
	_, _, errWrongPw := m.SignIn("a@b.com", "wrong-password")
	require.ErrorIs(t, errUnknown, ErrAuthFailure)
	require.ErrorIs(t, errWrongPw, ErrAuthFailure)
	require.Equal(t, errUnknown, errWrongPw)
}

func TestSignInIsCaseInsensitiveOnEmail(t *testing.T) {
	m, _, _ := newTestManager()
	signUpTestUser(t, m)

	user, tokens, err := m.SignIn("A@B.COM", "secret1")
	require.NoError(t, err)
	require.Equal(t, "a@b.com", user.Email)
	require.NotEmpty(t, tokens.AccessToken)
	require.NotEmpty(t, tokens.RefreshToken)
}

func TestConcurrentSessionsPerUser(t *testing.T) {
	m, _, _ := newTestManager()
	signUpTestUser(t, m)

	_, first, err := m.SignIn("a@b.com", "secret1")
	require.NoError(t, err)
	_, second, err := m.SignIn("a@b.com", "secret1")
	require.NoError(t, err)

	// both sessions authorize independently
	_, _, err = m.Authorize(first.AccessToken)
	require.NoError(t, err)
	_, _, err = m.Authorize(second.AccessToken)
	require.NoError(t, err)
}

func TestSignOutInvalidatesSessionNotSignature(t *testing.T) {
	m, _, _ := newTestManager()
	_, tokens := signUpTestUser(t, m)

	user, keystore, err := m.Authorize(tokens.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "a@b.com", user.Email)

	require.NoError(t, m.SignOut(keystore.ID))

	// the token still verifies cryptographically, but the session is gone
	_, _, err = m.Authorize(tokens.AccessToken)
	require.ErrorIs(t, err, ErrAuthFailure)

	// sign-out is idempotent
	require.NoError(t, m.SignOut(keystore.ID))
}

func TestRefreshRotatesAndInvalidatesOldPair(t *testing.T) {
	m, db, codec := newTestManager()
	user, tokens := signUpTestUser(t, m)

	oldAccess, err := codec.Decode(tokens.AccessToken)
	require.NoError(t, err)
	oldRefresh, err := codec.Decode(tokens.RefreshToken)
	require.NoError(t, err)

	next, err := m.Refresh(tokens.AccessToken, tokens.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, tokens.AccessToken, next.AccessToken)
	require.NotEqual(t, tokens.RefreshToken, next.RefreshToken)

	// the old session row is gone, by either lookup path
	ks, err := db.FindKeystore(user.ID, oldAccess.Prm, oldRefresh.Prm)
	require.NoError(t, err)
	require.Nil(t, ks)
	ks, err = db.FindKeystoreForKey(user.ID, oldAccess.Prm)
	require.NoError(t, err)
	require.Nil(t, ks)

	// the whole previous pair is dead
	_, _, err = m.Authorize(tokens.AccessToken)
	require.ErrorIs(t, err, ErrAuthFailure)
	_, err = m.Refresh(tokens.AccessToken, tokens.RefreshToken)
	require.ErrorIs(t, err, ErrAuthFailure)

	// the successor works
	_, _, err = m.Authorize(next.AccessToken)
	require.NoError(t, err)
}

func TestRefreshIsSingleUseUnderRace(t *testing.T) {
	m, _, _ := newTestManager()
	_, tokens := signUpTestUser(t, m)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = m.Refresh(tokens.AccessToken, tokens.RefreshToken)
		}(i)
	}
	wg.Wait()

	var successes, failures int
	for _, err := range results {
		if err == nil {
			successes++
		} else {
			require.ErrorIs(t, err, ErrAuthFailure)
			failures++
		}
	}
	require.Equal(t, 1, successes)
	require.Equal(t, 1, failures)
}

func TestRefreshAcceptsExpiredAccessToken(t *testing.T) {
	m, _, codec := newTestManager()
	user, tokens := signUpTestUser(t, m)

	access, err := codec.Decode(tokens.AccessToken)
	require.NoError(t, err)

	// re-sign the access token already expired, same session secret
	expiredAccess, err := codec.Sign(user.ID, access.Prm, -time.Minute)
	require.NoError(t, err)

	next, err := m.Refresh(expiredAccess, tokens.RefreshToken)
	require.NoError(t, err)
	require.NotEmpty(t, next.AccessToken)
	require.NotEmpty(t, next.RefreshToken)
}

func TestRefreshExpiredRefreshTokenIsHardFailure(t *testing.T) {
	m, _, codec := newTestManager()
	user, tokens := signUpTestUser(t, m)

	refresh, err := codec.Decode(tokens.RefreshToken)
	require.NoError(t, err)
	expiredRefresh, err := codec.Sign(user.ID, refresh.Prm, -time.Minute)
	require.NoError(t, err)

	_, err = m.Refresh(tokens.AccessToken, expiredRefresh)
	require.ErrorIs(t, err, ErrAuthFailure)
	require.NotErrorIs(t, err, ErrAccessTokenExpired)
}

func TestRefreshSubjectMismatch(t *testing.T) {
	m, _, _ := newTestManager()
	_, tokensA := signUpTestUser(t, m)
	_, tokensB, err := m.SignUp("Bob", "b@b.com", "secret2")
	require.NoError(t, err)

	_, err = m.Refresh(tokensA.AccessToken, tokensB.RefreshToken)
	require.ErrorIs(t, err, ErrAuthFailure)
}

func TestRefreshForgedAccessToken(t *testing.T) {
	m, _, _ := newTestManager()
	_, tokens := signUpTestUser(t, m)

	forged := NewTokenCodec([]byte("attacker-secret"), "keyauth", "keyauth-clients")
	forgedAccess, err := forged.Sign("user-1", "guessed-secret", time.Hour)
	require.NoError(t, err)

	_, err = m.Refresh(forgedAccess, tokens.RefreshToken)
	require.ErrorIs(t, err, ErrAuthFailure)
}

func TestAuthorizeExpiredAccessTokenIsDistinct(t *testing.T) {
	m, _, codec := newTestManager()
	user, tokens := signUpTestUser(t, m)

	access, err := codec.Decode(tokens.AccessToken)
	require.NoError(t, err)
	expired, err := codec.Sign(user.ID, access.Prm, -time.Minute)
	require.NoError(t, err)

	_, _, err = m.Authorize(expired)
	require.ErrorIs(t, err, ErrAccessTokenExpired)
}

func TestAuthorizeDeactivatedUser(t *testing.T) {
	m, db, _ := newTestManager()
	user, tokens := signUpTestUser(t, m)

	db.mu.Lock()
	db.users[user.ID].Status = false
	db.mu.Unlock()

	// the token still verifies; the active-user lookup is the revocation point
	_, _, err := m.Authorize(tokens.AccessToken)
	require.ErrorIs(t, err, ErrAuthFailure)
}

func TestPublicProjectionNeverCarriesPassword(t *testing.T) {
	m, db, _ := newTestManager()
	user, _ := signUpTestUser(t, m)

	stored, err := db.FindUserByEmail("a@b.com")
	require.NoError(t, err)
	require.NotEmpty(t, stored.Password)
	require.True(t, comparePassword(stored.Password, "secret1"))

	pub := stored.Public()
	require.Equal(t, user.ID, pub.ID)
	require.Equal(t, "a@b.com", pub.Email)
	require.Equal(t, []string{RoleUser}, pub.Roles)
}
