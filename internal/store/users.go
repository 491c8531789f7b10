package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"

	"github.com/pelusa-v/pelusa-chat.git/internal/models"
)

const userColumns = "id, name, email, status, last_seen, created_at"

func (s *Store) CreateUser(ctx context.Context, name, email, password string) (models.User, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()
	user := models.User{
		ID:        uuid.NewString(),
		Name:      name,
		Email:     normalizeEmail(email),
		Status:    models.StatusOffline,
		LastSeen:  now,
		CreatedAt: now,
	}
	_, err = s.conn.ExecContext(ctx,
		"INSERT INTO users (id, name, email, password, status, last_seen, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		user.ID, user.Name, user.Email, string(hashed), string(user.Status), formatTime(now), formatTime(now),
	)
	if isUniqueViolation(err) {
		return models.User{}, ErrEmailTaken
	}
	if err != nil {
		return models.User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

// Authenticate returns ErrNotFound for an unknown email and ErrInvalidPassword
// for a wrong password.
func (s *Store) Authenticate(ctx context.Context, email, password string) (models.User, error) {
	var hashed string
	row := s.conn.QueryRowContext(ctx,
		"SELECT "+userColumns+", password FROM users WHERE email = ?", normalizeEmail(email))
	user, err := scanUser(row, &hashed)
	if err != nil {
		return models.User{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hashed), []byte(password)); err != nil {
		return models.User{}, ErrInvalidPassword
	}
	return user, nil
}

func (s *Store) FindUserByID(ctx context.Context, id string) (models.User, error) {
	row := s.conn.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id)
	return scanUser(row)
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (models.User, error) {
	row := s.conn.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE email = ?", normalizeEmail(email))
	return scanUser(row)
}

// UpdateStatus records the user's latest presence transition.
func (s *Store) UpdateStatus(ctx context.Context, id string, status models.Status, lastSeen time.Time) error {
	res, err := s.conn.ExecContext(ctx,
		"UPDATE users SET status = ?, last_seen = ? WHERE id = ?",
		string(status), formatTime(lastSeen), id,
	)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return expectAffected(res)
}

func scanUser(row *sql.Row, extra ...any) (models.User, error) {
	var (
		user                models.User
		status              string
		lastSeen, createdAt string
	)
	dest := append([]any{&user.ID, &user.Name, &user.Email, &status, &lastSeen, &createdAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, ErrNotFound
		}
		return models.User{}, fmt.Errorf("scan user: %w", err)
	}
	user.Status = models.Status(status)
	user.LastSeen = parseTime(lastSeen)
	user.CreatedAt = parseTime(createdAt)
	return user, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func expectAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
