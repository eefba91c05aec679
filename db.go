package main

import (
	"database/sql"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DB interface for database operations. Lookups return (nil, nil) when no
// record matches; RemoveKeystore returns ErrNotFound when nothing was
// deleted, which is what arbitrates two refreshes racing for the same
// session.
type DB interface {
	Init() error
	// User operations
	CreateUser(u *User, primaryKey, secondaryKey, roleCode string) (*User, *Keystore, error)
	FindUserByEmail(email string) (*User, error)
	FindUserByID(id string) (*User, error)
	FindRoleByCode(code string) (*Role, error)
	// Keystore operations
	CreateKeystore(userID, primaryKey, secondaryKey string) (*Keystore, error)
	FindKeystoreForKey(userID, primaryKey string) (*Keystore, error)
	FindKeystore(userID, primaryKey, secondaryKey string) (*Keystore, error)
	RemoveKeystore(id string) error
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Memory DB
type MemDB struct {
	mu        sync.Mutex
	users     map[string]*User     // by id
	emails    map[string]string    // normalized email -> id
	roles     map[string]*Role     // by code
	keystores map[string]*Keystore // by id
}

func NewMemoryDB() *MemDB {
	m := &MemDB{
		users:     map[string]*User{},
		emails:    map[string]string{},
		roles:     map[string]*Role{},
		keystores: map[string]*Keystore{},
	}
	for _, code := range []string{RoleUser, RoleAdmin} {
		m.roles[code] = &Role{ID: uuid.NewString(), Code: code, Status: true, CreatedAt: time.Now()}
	}
	return m
}

func (m *MemDB) Init() error { return nil }

func (m *MemDB) CreateUser(u *User, primaryKey, secondaryKey, roleCode string) (*User, *Keystore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	role, ok := m.roles[roleCode]
	if !ok || !role.Status {
		return nil, nil, ErrInternal
	}
	email := normalizeEmail(u.Email)
	if _, exists := m.emails[email]; exists {
		return nil, nil, ErrBadRequest
	}
	now := time.Now()
	created := &User{
		ID:        uuid.NewString(),
		Name:      u.Name,
		Email:     email,
		Password:  u.Password,
		Roles:     []Role{*role},
		Status:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.users[created.ID] = created
	m.emails[email] = created.ID
	ks := m.createKeystoreLocked(created.ID, primaryKey, secondaryKey)
	return cloneUser(created), ks, nil
}

func (m *MemDB) FindUserByEmail(email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.emails[normalizeEmail(email)]
	if !ok {
		return nil, nil
	}
	return cloneUser(m.users[id]), nil
}

func (m *MemDB) FindUserByID(id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok || !u.Status {
		return nil, nil
	}
	return cloneUser(u), nil
}

func (m *MemDB) FindRoleByCode(code string) (*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roles[code]
	if !ok || !r.Status {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (m *MemDB) CreateKeystore(userID, primaryKey, secondaryKey string) (*Keystore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createKeystoreLocked(userID, primaryKey, secondaryKey), nil
}

func (m *MemDB) createKeystoreLocked(userID, primaryKey, secondaryKey string) *Keystore {
	now := time.Now()
	ks := &Keystore{
		ID:           uuid.NewString(),
		UserID:       userID,
		PrimaryKey:   primaryKey,
		SecondaryKey: secondaryKey,
		Status:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.keystores[ks.ID] = ks
	cp := *ks
	return &cp
}

func (m *MemDB) FindKeystoreForKey(userID, primaryKey string) (*Keystore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ks := range m.keystores {
		if ks.UserID == userID && ks.PrimaryKey == primaryKey && ks.Status {
			cp := *ks
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemDB) FindKeystore(userID, primaryKey, secondaryKey string) (*Keystore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ks := range m.keystores {
		if ks.UserID == userID && ks.PrimaryKey == primaryKey && ks.SecondaryKey == secondaryKey && ks.Status {
			cp := *ks
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemDB) RemoveKeystore(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keystores[id]; !ok {
		return ErrNotFound
	}
	delete(m.keystores, id)
	return nil
}

// activeRoles drops deactivated roles from a user projection.
func activeRoles(roles []Role) []Role {
	out := roles[:0]
	for _, r := range roles {
		if r.Status {
			out = append(out, r)
		}
	}
	return out
}

func cloneUser(u *User) *User {
	cp := *u
	cp.Roles = activeRoles(append([]Role(nil), u.Roles...))
	return &cp
}

// SQLite DB
type SQLiteDB struct {
	db   *sql.DB
	path string
}

func NewSQLiteDB(path string) (*SQLiteDB, error) {
	d, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &SQLiteDB{db: d, path: path}
	if err := s.Init(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteDB) Init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (id TEXT PRIMARY KEY, name TEXT, email TEXT UNIQUE, password TEXT, verified INTEGER DEFAULT 0, status INTEGER DEFAULT 1, created_at TEXT, updated_at TEXT);`,
		`CREATE TABLE IF NOT EXISTS roles (id TEXT PRIMARY KEY, code TEXT UNIQUE, status INTEGER DEFAULT 1, created_at TEXT);`,
		`CREATE TABLE IF NOT EXISTS user_roles (user_id TEXT, role_id TEXT, PRIMARY KEY (user_id, role_id));`,
		`CREATE TABLE IF NOT EXISTS keystores (id TEXT PRIMARY KEY, user_id TEXT, primary_key TEXT, secondary_key TEXT, status INTEGER DEFAULT 1, created_at TEXT, updated_at TEXT);`,
		`CREATE INDEX IF NOT EXISTS idx_keystores_user_primary ON keystores (user_id, primary_key, status);`,
		`CREATE INDEX IF NOT EXISTS idx_keystores_user_pair ON keystores (user_id, primary_key, secondary_key);`,
	}
	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}
	for _, code := range []string{RoleUser, RoleAdmin} {
		if _, err := s.db.Exec(`INSERT OR IGNORE INTO roles(id,code,status,created_at) VALUES(?,?,1,datetime('now'))`, uuid.NewString(), code); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteDB) CreateUser(u *User, primaryKey, secondaryKey, roleCode string) (*User, *Keystore, error) {
	role, err := s.FindRoleByCode(roleCode)
	if err != nil {
		return nil, nil, err
	}
	if role == nil {
		return nil, nil, ErrInternal
	}
	id := uuid.NewString()
	email := normalizeEmail(u.Email)
	if _, err := s.db.Exec(`INSERT INTO users(id,name,email,password,created_at,updated_at) VALUES(?,?,?,?,datetime('now'),datetime('now'))`, id, u.Name, email, u.Password); err != nil {
		return nil, nil, err
	}
	if _, err := s.db.Exec(`INSERT INTO user_roles(user_id,role_id) VALUES(?,?)`, id, role.ID); err != nil {
		return nil, nil, err
	}
	ks, err := s.CreateKeystore(id, primaryKey, secondaryKey)
	if err != nil {
		return nil, nil, err
	}
	created := &User{ID: id, Name: u.Name, Email: email, Password: u.Password, Roles: []Role{*role}, Status: true}
	return created, ks, nil
}

func (s *SQLiteDB) FindUserByEmail(email string) (*User, error) {
	row := s.db.QueryRow(`SELECT id,name,email,password,verified,status FROM users WHERE email = ?`, normalizeEmail(email))
	return s.scanUser(row)
}

func (s *SQLiteDB) FindUserByID(id string) (*User, error) {
	row := s.db.QueryRow(`SELECT id,name,email,password,verified,status FROM users WHERE id = ? AND status = 1`, id)
	return s.scanUser(row)
}

func (s *SQLiteDB) scanUser(row *sql.Row) (*User, error) {
	var u User
	var verified, status int
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Password, &verified, &status); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	u.Verified = verified != 0
	u.Status = status != 0
	roles, err := s.userRoles(u.ID)
	if err != nil {
		return nil, err
	}
	u.Roles = roles
	return &u, nil
}

func (s *SQLiteDB) userRoles(userID string) ([]Role, error) {
	rows, err := s.db.Query(`SELECT r.id,r.code FROM roles r JOIN user_roles ur ON r.id = ur.role_id WHERE ur.user_id = ? AND r.status = 1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		var r Role
		if err := rows.Scan(&r.ID, &r.Code); err != nil {
			return nil, err
		}
		r.Status = true
		roles = append(roles, r)
	}
	return roles, rows.Err()
}

func (s *SQLiteDB) FindRoleByCode(code string) (*Role, error) {
	row := s.db.QueryRow(`SELECT id,code FROM roles WHERE code = ? AND status = 1`, code)
	var r Role
	if err := row.Scan(&r.ID, &r.Code); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	r.Status = true
	return &r, nil
}

func (s *SQLiteDB) CreateKeystore(userID, primaryKey, secondaryKey string) (*Keystore, error) {
	id := uuid.NewString()
	if _, err := s.db.Exec(`INSERT INTO keystores(id,user_id,primary_key,secondary_key,created_at,updated_at) VALUES(?,?,?,?,datetime('now'),datetime('now'))`, id, userID, primaryKey, secondaryKey); err != nil {
		return nil, err
	}
	return &Keystore{ID: id, UserID: userID, PrimaryKey: primaryKey, SecondaryKey: secondaryKey, Status: true}, nil
}

func (s *SQLiteDB) FindKeystoreForKey(userID, primaryKey string) (*Keystore, error) {
	row := s.db.QueryRow(`SELECT id,user_id,primary_key,secondary_key,status FROM keystores WHERE user_id = ? AND primary_key = ? AND status = 1`, userID, primaryKey)
	return scanKeystore(row)
}

func (s *SQLiteDB) FindKeystore(userID, primaryKey, secondaryKey string) (*Keystore, error) {
	row := s.db.QueryRow(`SELECT id,user_id,primary_key,secondary_key,status FROM keystores WHERE user_id = ? AND primary_key = ? AND secondary_key = ? AND status = 1`, userID, primaryKey, secondaryKey)
	return scanKeystore(row)
}

func scanKeystore(row *sql.Row) (*Keystore, error) {
	var ks Keystore
	var status int
	if err := row.Scan(&ks.ID, &ks.UserID, &ks.PrimaryKey, &ks.SecondaryKey, &status); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	ks.Status = status != 0
	return &ks, nil
}

func (s *SQLiteDB) RemoveKeystore(id string) error {
	res, err := s.db.Exec(`DELETE FROM keystores WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// lifecycle helpers
func (m *MemDB) close() error { return nil }
func (m *MemDB) ping() bool   { return true }

func (s *SQLiteDB) close() error { return s.db.Close() }
func (s *SQLiteDB) ping() bool   { return s.db.Ping() == nil }
