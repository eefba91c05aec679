package main

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims carries the registered claims plus prm, the session secret
// that ties a stateless token back to its keystore row. prm is opaque: it is
// compared verbatim against the stored keys, never derived.
type TokenClaims struct {
	jwt.RegisteredClaims
	Prm string `json:"prm"`
}

// TokenCodec signs and verifies HS256 bearer tokens. Expiry is enforced
// here and only here; whether the session behind a token still exists is the
// keystore's business.
type TokenCodec struct {
	secret   []byte
	issuer   string
	audience string
}

func NewTokenCodec(secret []byte, issuer, audience string) *TokenCodec {
	return &TokenCodec{secret: secret, issuer: issuer, audience: audience}
}

// Sign issues a token for the given subject and session secret, valid for
// validity from now. Timestamps are whole seconds.
func (c *TokenCodec) Sign(subject, prm string, validity time.Duration) (string, error) {
	now := time.Now().Truncate(time.Second)
	claims := TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    c.issuer,
			Audience:  jwt.ClaimStrings{c.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validity)),
		},
		Prm: prm,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(c.secret)
}

// Validate verifies signature and time bounds. An expired token surfaces as
// ErrAccessTokenExpired so callers can tell "refresh me" apart from
// "forged"; anything else wrong with the token is a plain auth failure.
func (c *TokenCodec) Validate(tokenString string) (*TokenClaims, error) {
	claims := &TokenClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, c.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithAudience(c.audience),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrAccessTokenExpired
		}
		return nil, ErrAuthFailure
	}
	if !token.Valid {
		return nil, ErrAuthFailure
	}
	if err := c.checkClaims(claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// Decode verifies the signature but skips time-based claim validation. Used
// during refresh, where the presented access token is expected to already be
// expired.
func (c *TokenCodec) Decode(tokenString string) (*TokenClaims, error) {
	claims := &TokenClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	token, err := parser.ParseWithClaims(tokenString, claims, c.keyFunc)
	if err != nil || !token.Valid {
		return nil, ErrAuthFailure
	}
	if err := c.checkClaims(claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func (c *TokenCodec) keyFunc(*jwt.Token) (interface{}, error) {
	return c.secret, nil
}

// checkClaims rejects tokens missing the claims the protocol depends on.
// Decode skips registered-claim validation, so issuer and audience are
// re-checked here for both paths.
func (c *TokenCodec) checkClaims(claims *TokenClaims) error {
	if claims.Subject == "" || claims.Prm == "" {
		return ErrAuthFailure
	}
	if claims.Issuer != c.issuer {
		return ErrAuthFailure
	}
	for _, aud := range claims.Audience {
		if aud == c.audience {
			return nil
		}
	}
	return ErrAuthFailure
}
