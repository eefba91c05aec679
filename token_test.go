package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testCodec() *TokenCodec {
	return NewTokenCodec([]byte("test-secret"), "keyauth", "keyauth-clients")
}

func TestTokenSignValidateRoundTrip(t *testing.T) {
	c := testCodec()

	tok, err := c.Sign("user-1", "primary-secret", time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, tok)

	claims, err := c.Validate(tok)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.Subject)
	require.Equal(t, "primary-secret", claims.Prm)
	require.Equal(t, "keyauth", claims.Issuer)
	require.NotNil(t, claims.ExpiresAt)
	require.NotNil(t, claims.IssuedAt)
	require.Equal(t, int64(3600), claims.ExpiresAt.Unix()-claims.IssuedAt.Unix())
}

func TestTokenValidateExpiredIsDistinct(t *testing.T) {
	c := testCodec()

	tok, err := c.Sign("user-1", "primary-secret", -time.Minute)
	require.NoError(t, err)

	_, err = c.Validate(tok)
	require.ErrorIs(t, err, ErrAccessTokenExpired)
	require.NotErrorIs(t, err, ErrAuthFailure)
}

func TestTokenValidateWrongSecret(t *testing.T) {
	c := testCodec()
	other := NewTokenCodec([]byte("other-secret"), "keyauth", "keyauth-clients")

	tok, err := other.Sign("user-1", "primary-secret", time.Hour)
	require.NoError(t, err)

	_, err = c.Validate(tok)
	require.ErrorIs(t, err, ErrAuthFailure)
}

func TestTokenValidateMalformed(t *testing.T) {
	c := testCodec()
	_, err := c.Validate("not.a.jwt")
	require.ErrorIs(t, err, ErrAuthFailure)
}

func TestTokenValidateWrongIssuerOrAudience(t *testing.T) {
	c := testCodec()

	tok, err := NewTokenCodec([]byte("test-secret"), "someone-else", "keyauth-clients").
		Sign("user-1", "primary-secret", time.Hour)
	require.NoError(t, err)
	_, err = c.Validate(tok)
	require.ErrorIs(t, err, ErrAuthFailure)

	tok, err = NewTokenCodec([]byte("test-secret"), "keyauth", "other-audience").
		Sign("user-1", "primary-secret", time.Hour)
	require.NoError(t, err)
	_, err = c.Validate(tok)
	require.ErrorIs(t, err, ErrAuthFailure)
}

func TestTokenDecodeIgnoresExpiry(t *testing.T) {
	c := testCodec()

	tok, err := c.Sign("user-1", "primary-secret", -time.Minute)
	require.NoError(t, err)

	claims, err := c.Decode(tok)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.Subject)
	require.Equal(t, "primary-secret", claims.Prm)
}

func TestTokenDecodeStillChecksSignature(t *testing.T) {
	c := testCodec()
	other := NewTokenCodec([]byte("other-secret"), "keyauth", "keyauth-clients")

	tok, err := other.Sign("user-1", "primary-secret", time.Hour)
	require.NoError(t, err)

	_, err = c.Decode(tok)
	require.ErrorIs(t, err, ErrAuthFailure)
}

func TestTokenRejectsMissingClaims(t *testing.T) {
	c := testCodec()

	tok, err := c.Sign("", "primary-secret", time.Hour)
	require.NoError(t, err)
	_, err = c.Validate(tok)
	require.ErrorIs(t, err, ErrAuthFailure)

	tok, err = c.Sign("user-1", "", time.Hour)
	require.NoError(t, err)
	_, err = c.Decode(tok)
	require.ErrorIs(t, err, ErrAuthFailure)
}
