package main

import "time"

// Role codes seeded by the initial migration.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is the full identity record, including the password hash. It is
// returned only by the credential lookups; everything client-facing goes
// through Public().
type User struct {
	ID        string
	Name      string
	Email     string
	Password  string
	Roles     []Role
	Verified  bool
	Status    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PublicUser is the sanitized projection sent over the wire. No password,
// ever.
type PublicUser struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Email string   `json:"email"`
	Roles []string `json:"roles"`
}

func (u *User) Public() *PublicUser {
	codes := make([]string, 0, len(u.Roles))
	for _, r := range u.Roles {
		codes = append(codes, r.Code)
	}
	return &PublicUser{ID: u.ID, Name: u.Name, Email: u.Email, Roles: codes}
}

// Role is a named permission tier.
type Role struct {
	ID        string
	Code      string
	Status    bool
	CreatedAt time.Time
}

// Keystore represents exactly one live login session. PrimaryKey is the
// secret bound into the access token, SecondaryKey the one bound into the
// refresh token. Rows are only ever created or hard-deleted, never updated.
type Keystore struct {
	ID           string
	UserID       string
	PrimaryKey   string
	SecondaryKey string
	Status       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TokenPair is the access/refresh pair issued on sign-in, sign-up and
// refresh.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}
