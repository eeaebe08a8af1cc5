package session

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"curetrack/infrastructure/argon"
	"curetrack/infrastructure/rbac"
	"curetrack/infrastructure/sqlite"
	"curetrack/models"
)

const HeaderName = "Authorization"

var ErrInvalidCredentials = errors.New("invalid username or password")

// BearerToken extracts the session token from an Authorization header.
func BearerToken(r *http.Request) string {
	v := strings.TrimSpace(r.Header.Get(HeaderName))
	if len(v) < 7 || !strings.EqualFold(v[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(v[7:])
}

// UpsertUser creates or updates an actor with a freshly hashed password.
func UpsertUser(ctx context.Context, db *sqlite.DB, hasher *argon.Hasher, username, role, rawPassword string) (int64, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return 0, errors.New("username is required")
	}
	if !rbac.ValidRole(role) {
		return 0, errors.New("unknown role: " + role)
	}
	if err := argon.CheckPolicy(rawPassword); err != nil {
		return 0, err
	}
	hash, err := hasher.Hash(rawPassword)
	if err != nil {
		return 0, err
	}

	var id int64
	now := time.Now()
	err = db.WithWriteTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO users (username, password_hash, role, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(username) DO UPDATE SET
  password_hash = excluded.password_hash,
  role = excluded.role,
  updated_at = excluded.updated_at`, username, hash, role, now, now); err != nil {
			return err
		}
		return tx.NewRaw(`SELECT id FROM users WHERE username = ?`, username).Scan(ctx, &id)
	})
	return id, err
}

// Login verifies credentials and persists a new session valid for ttl. A hash
// made with weaker parameters than hasher's is replaced on success.
func Login(ctx context.Context, db *sqlite.DB, hasher *argon.Hasher, username, password string, ttl time.Duration) (models.Session, error) {
	var user models.User
	err := db.WithReadTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		return tx.NewSelect().
			Model(&user).
			Where("LOWER(username) = ?", strings.ToLower(strings.TrimSpace(username))).
			Limit(1).
			Scan(ctx)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return models.Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return models.Session{}, err
	}
	ok, err := hasher.Verify(password, user.PasswordHash)
	if err != nil {
		return models.Session{}, err
	}
	if !ok {
		return models.Session{}, ErrInvalidCredentials
	}

	var rehashed string
	if hasher.NeedsRehash(user.PasswordHash) {
		if rehashed, err = hasher.Hash(password); err != nil {
			return models.Session{}, err
		}
	}

	s := models.Session{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		User:      user,
		ExpiresAt: time.Now().Add(ttl),
	}
	err = db.WithWriteTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		if rehashed != "" {
			if _, err := tx.ExecContext(ctx, `
UPDATE users SET password_hash = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, rehashed, user.ID); err != nil {
				return err
			}
		}
		_, err := tx.NewInsert().Model(&models.Session{
			ID:        s.ID,
			UserID:    s.UserID,
			ExpiresAt: s.ExpiresAt,
		}).Exec(ctx)
		return err
	})
	if err != nil {
		return models.Session{}, err
	}
	return s, nil
}

// Load returns the live session for token, or sql.ErrNoRows.
func Load(ctx context.Context, db *sqlite.DB, token string) (models.Session, error) {
	var s models.Session
	err := db.WithReadTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		return tx.NewSelect().
			Model(&s).
			Relation("User").
			Where("s.id = ?", token).
			Limit(1).
			Scan(ctx)
	})
	if err != nil {
		return models.Session{}, err
	}
	if s.Expired() {
		return models.Session{}, sql.ErrNoRows
	}
	return s, nil
}

// Delete removes the session for token.
func Delete(ctx context.Context, db *sqlite.DB, token string) error {
	if strings.TrimSpace(token) == "" {
		return nil
	}
	return db.WithWriteTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewDelete().Model((*models.Session)(nil)).Where("id = ?", token).Exec(ctx)
		return err
	})
}

// PurgeExpired deletes sessions that expired before now.
func PurgeExpired(ctx context.Context, db *sqlite.DB, now time.Time) (int64, error) {
	var n int64
	err := db.WithWriteTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewDelete().Model((*models.Session)(nil)).Where("expires_at < ?", now).Exec(ctx)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

// Actor maps a session to the processing actor it authenticates.
func Actor(s models.Session) rbac.Actor {
	return rbac.Actor{UserID: s.UserID, Role: s.User.Role}
}
