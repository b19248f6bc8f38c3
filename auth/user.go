package auth

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/koinonia/draftsafe/db"
	"github.com/koinonia/draftsafe/db/monarch"
	"golang.org/x/crypto/bcrypt"
)

// A User owns drafts.  Drafts are keyed by Username.
type User struct {
	ID           uint64
	Username     string
	PasswordHash string    `db:"password_hash"`
	CreatedAt    time.Time `db:"created_at"`
}

// ErrInvalidCredentials is returned when a username and password don't match.
var ErrInvalidCredentials = errors.New("invalid username or password")

// Migrations returns the user table migrations.
func Migrations() monarch.Set {
	return monarch.Set{
		Name: "user",
		Migrations: []monarch.Migration{
			{
				Up: `CREATE TABLE IF NOT EXISTS user (
				id integer NOT NULL PRIMARY KEY,
				username text NOT NULL UNIQUE,
				password_hash text NOT NULL
			);`,
				Down: `DROP TABLE user;`,
			},
			{
				Up:   `ALTER TABLE user ADD COLUMN created_at datetime NOT NULL DEFAULT '1970-01-01 00:00:00';`,
				Down: `ALTER TABLE user DROP COLUMN created_at;`,
			},
		},
	}
}

const bcryptCost = bcrypt.DefaultCost

type UserService struct {
	db db.DB
}

func NewUserService(conn db.DB) *UserService {
	return &UserService{db: conn}
}

// CreateUser attempts to create a new user with the username and password.
// If a user with that username already exists, an error is returned.
func (s *UserService) CreateUser(username, password string) error {
	username = strings.TrimSpace(username)
	if len(username) == 0 || len(password) == 0 {
		return fmt.Errorf("username and password are required")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return err
	}
	q := `INSERT INTO user (username, password_hash, created_at) VALUES (?, ?, ?);`
	if _, err = s.db.Exec(q, username, string(hashed), time.Now().UTC()); err != nil {
		return fmt.Errorf("creating user %s: %w", username, err)
	}
	return nil
}

// Get a user by username.
func (s *UserService) Get(username string) (*User, error) {
	var u User
	if err := s.db.Get(&u, `SELECT * FROM user WHERE username=?`, username); err != nil {
		return nil, err
	}
	return &u, nil
}

// Validate that the username and password match one in the database.  If
// an error occurs, ok will be false.
func (s *UserService) Validate(username, password string) (ok bool, err error) {
	return s.validate(s.db, username, password)
}

// validate a username and password w/ the provided getter. Returns false when
// validation fails for any reason.
func (s *UserService) validate(q db.Getter, username, password string) (ok bool, err error) {
	var u User
	if err := q.Get(&u, `SELECT * FROM user WHERE username=?`, username); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, ErrInvalidCredentials
		}
		return false, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return false, ErrInvalidCredentials
	}
	return true, nil
}

// ChangePassword changes the user's password to newPassword, providing that
// the current password is correct.
func (s *UserService) ChangePassword(username, currentPassword, newPassword string) (ok bool, err error) {
	err = db.With(s.db, func(tx *sqlx.Tx) error {
		if _, err := s.validate(tx, username, currentPassword); err != nil {
			return err
		}
		newHash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcryptCost)
		if err != nil {
			return err
		}
		_, err = tx.Exec(`UPDATE user SET password_hash=? WHERE username=?`, string(newHash), username)
		return err
	})

	return err == nil, err
}
