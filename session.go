package main

import (
	"errors"
	"fmt"
	"time"
)

// SessionManager ties the credential store, keystore and token codec
// together. Sessions are never mutated: sign-in and refresh create rows,
// sign-out and refresh delete them, and the keystore row is the single
// source of truth for whether a signature-valid token still authorizes
// anything.
type SessionManager struct {
	db              DB
	codec           *TokenCodec
	accessValidity  time.Duration
	refreshValidity time.Duration
}

func NewSessionManager(db DB, codec *TokenCodec, accessValidity, refreshValidity time.Duration) *SessionManager {
	return &SessionManager{
		db:              db,
		codec:           codec,
		accessValidity:  accessValidity,
		refreshValidity: refreshValidity,
	}
}

// issueTokens signs the access/refresh pair for one keystore row. Both carry
// the same subject but different session secrets and lifetimes.
func (m *SessionManager) issueTokens(userID, primaryKey, secondaryKey string) (*TokenPair, error) {
	access, err := m.codec.Sign(userID, primaryKey, m.accessValidity)
	if err != nil {
		return nil, err
	}
	refresh, err := m.codec.Sign(userID, secondaryKey, m.refreshValidity)
	if err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// SignUp registers a new user with the default role and opens their first
// session. Passwords are hashed here, before the record reaches the store.
func (m *SessionManager) SignUp(name, email, password string) (*PublicUser, *TokenPair, error) {
	existing, err := m.db.FindUserByEmail(email)
	if err != nil {
		return nil, nil, err
	}
	if existing != nil {
		return nil, nil, fmt.Errorf("%w: user already registered", ErrBadRequest)
	}

	hashed, err := hashPassword(password)
	if err != nil {
		return nil, nil, err
	}
	primaryKey, err := genSessionKey()
	if err != nil {
		return nil, nil, err
	}
	secondaryKey, err := genSessionKey()
	if err != nil {
		return nil, nil, err
	}

	user, keystore, err := m.db.CreateUser(&User{Name: name, Email: email, Password: hashed}, primaryKey, secondaryKey, RoleUser)
	if err != nil {
		return nil, nil, err
	}
	tokens, err := m.issueTokens(user.ID, keystore.PrimaryKey, keystore.SecondaryKey)
	if err != nil {
		return nil, nil, err
	}
	return user.Public(), tokens, nil
}

// SignIn verifies credentials and opens a new session. "No such user" and
// "wrong password" are indistinguishable to the caller.
func (m *SessionManager) SignIn(email, password string) (*PublicUser, *TokenPair, error) {
	user, err := m.db.FindUserByEmail(email)
	if err != nil {
		return nil, nil, err
	}
	if user == nil {
		return nil, nil, ErrAuthFailure
	}
	if !comparePassword(user.Password, password) {
		return nil, nil, ErrAuthFailure
	}

	primaryKey, err := genSessionKey()
	if err != nil {
		return nil, nil, err
	}
	secondaryKey, err := genSessionKey()
	if err != nil {
		return nil, nil, err
	}
	keystore, err := m.db.CreateKeystore(user.ID, primaryKey, secondaryKey)
	if err != nil {
		return nil, nil, err
	}
	tokens, err := m.issueTokens(user.ID, keystore.PrimaryKey, keystore.SecondaryKey)
	if err != nil {
		return nil, nil, err
	}
	return user.Public(), tokens, nil
}

// Authorize validates an access token and resolves the user and session it
// refers to. An expired token surfaces as ErrAccessTokenExpired; a missing
// user or keystore row (sign-out, rotation, deactivation) is a generic auth
// failure.
func (m *SessionManager) Authorize(accessToken string) (*User, *Keystore, error) {
	claims, err := m.codec.Validate(accessToken)
	if err != nil {
		return nil, nil, err
	}
	user, err := m.db.FindUserByID(claims.Subject)
	if err != nil {
		return nil, nil, err
	}
	if user == nil {
		return nil, nil, ErrAuthFailure
	}
	keystore, err := m.db.FindKeystoreForKey(user.ID, claims.Prm)
	if err != nil {
		return nil, nil, err
	}
	if keystore == nil {
		return nil, nil, ErrAuthFailure
	}
	return user, keystore, nil
}

// SignOut deletes the session behind the current access token. Deleting an
// already-absent session counts as success.
func (m *SessionManager) SignOut(keystoreID string) error {
	if err := m.db.RemoveKeystore(keystoreID); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// Refresh rotates a session: the presented pair is invalidated and a fresh
// keystore row with a fresh token pair replaces it. The access token is
// decoded (it is expected to be expired); the refresh token must validate in
// full — an expired refresh token is a hard failure. The delete in the
// middle is the replay defense: only the request that actually removed the
// old row gets to mint a successor.
func (m *SessionManager) Refresh(accessToken, refreshToken string) (*TokenPair, error) {
	accessClaims, err := m.codec.Decode(accessToken)
	if err != nil {
		return nil, ErrAuthFailure
	}
	user, err := m.db.FindUserByID(accessClaims.Subject)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrAuthFailure
	}

	refreshClaims, err := m.codec.Validate(refreshToken)
	if err != nil {
		return nil, ErrAuthFailure
	}
	if accessClaims.Subject != refreshClaims.Subject {
		return nil, ErrAuthFailure
	}

	keystore, err := m.db.FindKeystore(user.ID, accessClaims.Prm, refreshClaims.Prm)
	if err != nil {
		return nil, err
	}
	if keystore == nil {
		return nil, ErrAuthFailure
	}
	if err := m.db.RemoveKeystore(keystore.ID); err != nil {
		if errors.Is(err, ErrNotFound) {
			// a concurrent refresh already rotated this session
			return nil, ErrAuthFailure
		}
		return nil, err
	}

	primaryKey, err := genSessionKey()
	if err != nil {
		return nil, err
	}
	secondaryKey, err := genSessionKey()
	if err != nil {
		return nil, err
	}
	next, err := m.db.CreateKeystore(user.ID, primaryKey, secondaryKey)
	if err != nil {
		return nil, err
	}
	return m.issueTokens(user.ID, next.PrimaryKey, next.SecondaryKey)
}
