package main

import (
	"database/sql"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

type PostgresDB struct {
	db  *sql.DB
	dsn string
}

func NewPostgresDB(dsn string) (*PostgresDB, error) {
	d, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	p := &PostgresDB{db: d, dsn: dsn}
	if err := p.Init(); err != nil {
		d.Close()
		return nil, err
	}
	return p, nil
}

func (p *PostgresDB) Init() error {
	// rely on migrations to create tables; just verify connectivity
	return p.db.Ping()
}

func (p *PostgresDB) CreateUser(u *User, primaryKey, secondaryKey, roleCode string) (*User, *Keystore, error) {
	role, err := p.FindRoleByCode(roleCode)
	if err != nil {
		return nil, nil, err
	}
	if role == nil {
		return nil, nil, ErrInternal
	}
	id := uuid.NewString()
	email := normalizeEmail(u.Email)
	if _, err := p.db.Exec(`INSERT INTO users(id,name,email,password,created_at,updated_at) VALUES($1,$2,$3,$4,now(),now())`, id, u.Name, email, u.Password); err != nil {
		return nil, nil, err
	}
	if _, err := p.db.Exec(`INSERT INTO user_roles(user_id,role_id) VALUES($1,$2)`, id, role.ID); err != nil {
		return nil, nil, err
	}
	ks, err := p.CreateKeystore(id, primaryKey, secondaryKey)
	if err != nil {
		return nil, nil, err
	}
	created := &User{ID: id, Name: u.Name, Email: email, Password: u.Password, Roles: []Role{*role}, Status: true}
	return created, ks, nil
}

func (p *PostgresDB) FindUserByEmail(email string) (*User, error) {
	row := p.db.QueryRow(`SELECT id,name,email,password,verified,status FROM users WHERE email = $1`, normalizeEmail(email))
	return p.scanUser(row)
}

func (p *PostgresDB) FindUserByID(id string) (*User, error) {
	row := p.db.QueryRow(`SELECT id,name,email,password,verified,status FROM users WHERE id = $1 AND status = true`, id)
	return p.scanUser(row)
}

func (p *PostgresDB) scanUser(row *sql.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Password, &u.Verified, &u.Status); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	roles, err := p.userRoles(u.ID)
	if err != nil {
		return nil, err
	}
	u.Roles = roles
	return &u, nil
}

func (p *PostgresDB) userRoles(userID string) ([]Role, error) {
	rows, err := p.db.Query(`SELECT r.id,r.code FROM roles r JOIN user_roles ur ON r.id = ur.role_id WHERE ur.user_id = $1 AND r.status = true`, userID)
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

func (p *PostgresDB) FindRoleByCode(code string) (*Role, error) {
	row := p.db.QueryRow(`SELECT id,code FROM roles WHERE code = $1 AND status = true`, code)
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

func (p *PostgresDB) CreateKeystore(userID, primaryKey, secondaryKey string) (*Keystore, error) {
	id := uuid.NewString()
	if _, err := p.db.Exec(`INSERT INTO keystores(id,user_id,primary_key,secondary_key,created_at,updated_at) VALUES($1,$2,$3,$4,now(),now())`, id, userID, primaryKey, secondaryKey); err != nil {
		return nil, err
	}
	return &Keystore{ID: id, UserID: userID, PrimaryKey: primaryKey, SecondaryKey: secondaryKey, Status: true}, nil
}

func (p *PostgresDB) FindKeystoreForKey(userID, primaryKey string) (*Keystore, error) {
	row := p.db.QueryRow(`SELECT id,user_id,primary_key,secondary_key,status FROM keystores WHERE user_id = $1 AND primary_key = $2 AND status = true`, userID, primaryKey)
	return p.scanKeystore(row)
}

func (p *PostgresDB) FindKeystore(userID, primaryKey, secondaryKey string) (*Keystore, error) {
	row := p.db.QueryRow(`SELECT id,user_id,primary_key,secondary_key,status FROM keystores WHERE user_id = $1 AND primary_key = $2 AND secondary_key = $3 AND status = true`, userID, primaryKey, secondaryKey)
	return p.scanKeystore(row)
}

func (p *PostgresDB) scanKeystore(row *sql.Row) (*Keystore, error) {
	var ks Keystore
	if err := row.Scan(&ks.ID, &ks.UserID, &ks.PrimaryKey, &ks.SecondaryKey, &ks.Status); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &ks, nil
}

func (p *PostgresDB) RemoveKeystore(id string) error {
	res, err := p.db.Exec(`DELETE FROM keystores WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresDB) close() error { return p.db.Close() }
func (p *PostgresDB) ping() bool   { return p.db.Ping() == nil }
