// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the land-slide-web project.
// Copyright 2024-present land-slide-web contributors.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"

	"github.com/tundzai001/land-slide-web/pkg/model"
	"github.com/tundzai001/land-slide-web/pkg/util/log"
)

// RoleAdmin is the role granted to the bootstrap account.
const RoleAdmin = "admin"

// AuthStore holds operator accounts consumed by the external auth service.
type AuthStore struct {
	db      *sqlx.DB
	dialect dialect
}

func (s *AuthStore) migrate(ctx context.Context) error {
	for _, stmt := range authDDL(s.dialect) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Ping verifies the backing database is reachable.
func (s *AuthStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// HashPassword produces a bcrypt hash suitable for the users table.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(h), nil
}

// CheckPassword compares a candidate against a stored bcrypt hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// GetUser fetches one account by username.
func (s *AuthStore) GetUser(ctx context.Context, username string) (*model.User, error) {
	var u model.User
	err := s.db.GetContext(ctx, &u, s.db.Rebind(`SELECT * FROM users WHERE username = ?`), username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %q: %w", username, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting user %q: %w", username, err)
	}
	return &u, nil
}

// CreateUser inserts one account and returns its id. A duplicate username
// returns ErrConflict.
func (s *AuthStore) CreateUser(ctx context.Context, user *model.User) (int64, error) {
	const q = `INSERT INTO users (username, password_hash, role, created_at)
	VALUES (?, ?, ?, ?) RETURNING id`
	role := user.Role
	if role == "" {
		role = "viewer"
	}
	createdAt := user.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	var id int64
	err := withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var err error
		id, err = insertReturningID(ctx, tx, q, user.Username, user.PasswordHash, role, createdAt)
		return err
	})
	if isConflict(err) {
		return 0, fmt.Errorf("user %q: %w", user.Username, ErrConflict)
	}
	if err != nil {
		tlmErrors.Inc("create_user")
		return 0, fmt.Errorf("creating user %q: %w", user.Username, err)
	}
	tlmWrites.Inc("users")
	return id, nil
}

// EnsureDefaultAdmin creates the bootstrap admin account on first start.
// An empty password disables bootstrapping; an existing account is left
// untouched.
func (s *AuthStore) EnsureDefaultAdmin(ctx context.Context, username, password string) error {
	if password == "" {
		log.Debugf("default admin bootstrap disabled, no password configured")
		return nil
	}
	if _, err := s.GetUser(ctx, username); err == nil {
		return nil
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	_, err = s.CreateUser(ctx, &model.User{
		Username:     username,
		PasswordHash: hash,
		Role:         RoleAdmin,
	})
	if errors.Is(err, ErrConflict) {
		// Lost a race with another instance bootstrapping the same account.
		return nil
	}
	if err != nil {
		return err
	}
	log.Infof("created default admin account %q", username)
	return nil
}
