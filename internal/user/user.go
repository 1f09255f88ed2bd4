// Package user is the concrete persisted entity from spec section 3: the
// User record, its table DDL, and a mapper.Mapper[User, uint32]
// instantiation used by internal/gateway.
package user

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/flicker-im/fabric/internal/fkerr"
	"github.com/flicker-im/fabric/internal/mapper"
)

// User is the persisted account record. PasswordDigest is always a bcrypt
// digest of the client-hashed password; the server never stores or
// receives a plaintext password.
type User struct {
	ID             uint32
	UUID           string
	Username       string
	Email          string
	PasswordDigest string
	CreatedAt      time.Time
	UpdatedAt      sql.NullTime
}

var columns = []string{"id", "uuid", "username", "email", "password_digest", "created_at", "updated_at"}

// TableDDL creates the users table with the unique indexes spec section 6
// requires on email and username.
const TableDDL = `
CREATE TABLE IF NOT EXISTS users (
	id              INT UNSIGNED NOT NULL AUTO_INCREMENT,
	uuid            CHAR(36)     NOT NULL,
	username        VARCHAR(30)  NOT NULL,
	email           VARCHAR(320) NOT NULL,
	password_digest CHAR(60)     NOT NULL,
	created_at      DATETIME(3)  NOT NULL,
	updated_at      DATETIME(3)  NULL,
	PRIMARY KEY (id),
	UNIQUE KEY uq_users_uuid (uuid),
	UNIQUE KEY uq_users_username (username),
	UNIQUE KEY uq_users_email (email)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`

func scanRow(r interface{ Scan(dest ...any) error }) (User, error) {
	var u User
	err := r.Scan(&u.ID, &u.UUID, &u.Username, &u.Email, &u.PasswordDigest, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

func values(u User) []any {
	return []any{u.ID, u.UUID, u.Username, u.Email, u.PasswordDigest, u.CreatedAt, u.UpdatedAt}
}

// Mapper is the table-specific alias callers use instead of spelling out
// the generic instantiation everywhere.
type Mapper = mapper.Mapper[User, uint32]

// NewMapper builds the users mapper over db.
func NewMapper(db mapper.Querier) *Mapper {
	return mapper.New[User, uint32](db, "users", "id", columns, scanRow, values)
}

// NewForRegistration builds a fresh User ready for insertion: a new UUID,
// a bcrypt digest of the client-hashed password, and CreatedAt set to now.
// clientHashedPassword is whatever the client already hashed its plaintext
// into before transmission (spec section 3: "password_digest is always a
// bcrypt digest of the client-hashed password").
func NewForRegistration(username, email, clientHashedPassword string) (User, error) {
	digest, err := bcrypt.GenerateFromPassword([]byte(clientHashedPassword), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}
	return User{
		UUID:           uuid.New().String(),
		Username:       username,
		Email:          email,
		PasswordDigest: string(digest),
		CreatedAt:      time.Now(),
	}, nil
}

// CheckPassword reports whether clientHashedPassword matches u's stored
// digest.
func (u User) CheckPassword(clientHashedPassword string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordDigest), []byte(clientHashedPassword)); err != nil {
		return fkerr.ErrMissingCredentials
	}
	return nil
}

// NewDigest bcrypt-hashes a fresh client-hashed password for a reset flow.
func NewDigest(clientHashedPassword string) (string, error) {
	digest, err := bcrypt.GenerateFromPassword([]byte(clientHashedPassword), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(digest), nil
}

// FindByUsername and FindByEmail are the two lookups the gateway handlers
// need; both go through QueryEntitiesByCondition since Mapper has no
// single-field convenience finder beyond the primary key.
func FindByUsername(ctx context.Context, m *Mapper, username string) (User, error) {
	rows, err := m.QueryEntitiesByCondition(ctx, mapper.Eq("username", username), nil, mapper.Pagination{Limit: 1})
	if err != nil {
		return User{}, err
	}
	if len(rows) == 0 {
		return User{}, fkerr.ErrNotFound
	}
	return rows[0], nil
}

func FindByEmail(ctx context.Context, m *Mapper, email string) (User, error) {
	rows, err := m.QueryEntitiesByCondition(ctx, mapper.Eq("email", email), nil, mapper.Pagination{Limit: 1})
	if err != nil {
		return User{}, err
	}
	if len(rows) == 0 {
		return User{}, fkerr.ErrNotFound
	}
	return rows[0], nil
}
