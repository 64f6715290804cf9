package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const userColumns = `id, email, password_hash, profile_id, presence_id, created_at_ms, updated_at_ms`

// CreateUser inserts the profile, an offline presence and the user itself in
// one transaction.
func (s *Store) CreateUser(ctx context.Context, email, passwordHash, fullName string, nowMs int64) (UserRow, error) {
	if s == nil || s.db == nil {
		return UserRow{}, fmt.Errorf("db not initialized")
	}

	profileID := uuid.NewString()
	presenceID := uuid.NewString()
	user := UserRow{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: passwordHash,
		ProfileID:    profileID,
		PresenceID:   &presenceID,
		CreatedAtMs:  nowMs,
		UpdatedAtMs:  nowMs,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return UserRow{}, err
	}
	defer func() { _ = tx.Rollback() }()

	profileQ := `INSERT INTO profiles (id, full_name, about, created_at_ms, updated_at_ms)
		VALUES (?, ?, NULL, ?, ?);`
	if _, err := tx.ExecContext(ctx, s.rebind(profileQ), profileID, fullName, nowMs, nowMs); err != nil {
		return UserRow{}, err
	}

	if err := insertPresence(ctx, tx, s.driver, presenceID, nowMs); err != nil {
		return UserRow{}, err
	}

	userQ := `INSERT INTO users (id, email, password_hash, profile_id, presence_id, created_at_ms, updated_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?);`
	if _, err := tx.ExecContext(ctx, s.rebind(userQ),
		user.ID, user.Email, user.PasswordHash, user.ProfileID, presenceID, nowMs, nowMs,
	); err != nil {
		if isUniqueViolation(err) {
			return UserRow{}, ErrEmailExists
		}
		return UserRow{}, err
	}

	if err := tx.Commit(); err != nil {
		return UserRow{}, err
	}
	return user, nil
}

func (s *Store) GetUserByID(ctx context.Context, userID string) (UserRow, error) {
	if s == nil || s.db == nil {
		return UserRow{}, fmt.Errorf("db not initialized")
	}

	q := `SELECT ` + userColumns + ` FROM users WHERE id = ?;`
	return scanUser(s.db.QueryRowContext(ctx, s.rebind(q), userID))
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (UserRow, error) {
	if s == nil || s.db == nil {
		return UserRow{}, fmt.Errorf("db not initialized")
	}

	q := `SELECT ` + userColumns + ` FROM users WHERE email = ?;`
	return scanUser(s.db.QueryRowContext(ctx, s.rebind(q), email))
}

// ListUsers returns everyone except excludeUserID, optionally filtered by a
// case-insensitive name or email match.
func (s *Store) ListUsers(ctx context.Context, excludeUserID, query string, limit int) ([]UserSummaryRow, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("db not initialized")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	q := `SELECT u.id, p.id, p.full_name, p.about, COALESCE(pr.online, FALSE)
		FROM users u
		JOIN profiles p ON p.id = u.profile_id
		LEFT JOIN presences pr ON pr.id = u.presence_id
		WHERE u.id <> ?`
	args := []any{excludeUserID}

	if query = strings.TrimSpace(query); query != "" {
		pattern := "%" + strings.ToLower(query) + "%"
		q += ` AND (LOWER(p.full_name) LIKE ? OR LOWER(u.email) LIKE ?)`
		args = append(args, pattern, pattern)
	}
	q += ` ORDER BY p.full_name ASC, u.id ASC LIMIT ?;`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UserSummaryRow
	for rows.Next() {
		var u UserSummaryRow
		var about sql.NullString
		if err := rows.Scan(&u.UserID, &u.ProfileID, &u.FullName, &about, &u.Online); err != nil {
			return nil, err
		}
		u.About = stringPtr(about)
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanUser(row scanner) (UserRow, error) {
	var user UserRow
	var presenceID sql.NullString
	if err := row.Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.ProfileID,
		&presenceID, &user.CreatedAtMs, &user.UpdatedAtMs,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return UserRow{}, fmt.Errorf("%w: user", ErrNotFound)
		}
		return UserRow{}, err
	}
	user.PresenceID = stringPtr(presenceID)
	return user, nil
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "unique_violation")
}
