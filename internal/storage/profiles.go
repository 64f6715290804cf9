package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

func (s *Store) GetProfileByID(ctx context.Context, profileID string) (ProfileRow, error) {
	if s == nil || s.db == nil {
		return ProfileRow{}, fmt.Errorf("db not initialized")
	}
	if profileID == "" {
		return ProfileRow{}, fmt.Errorf("missing profileID")
	}

	q := `SELECT id, full_name, about, created_at_ms, updated_at_ms FROM profiles WHERE id = ?;`
	return scanProfile(s.db.QueryRowContext(ctx, s.rebind(q), profileID))
}

func (s *Store) GetProfileByUserID(ctx context.Context, userID string) (ProfileRow, error) {
	if s == nil || s.db == nil {
		return ProfileRow{}, fmt.Errorf("db not initialized")
	}
	if userID == "" {
		return ProfileRow{}, fmt.Errorf("missing userID")
	}

	q := `SELECT p.id, p.full_name, p.about, p.created_at_ms, p.updated_at_ms
		FROM users u JOIN profiles p ON p.id = u.profile_id
		WHERE u.id = ?;`
	return scanProfile(s.db.QueryRowContext(ctx, s.rebind(q), userID))
}

// UpdateProfile replaces the caller's full name and about text. A nil or blank
// about clears it.
func (s *Store) UpdateProfile(ctx context.Context, userID, fullName string, about *string, nowMs int64) (ProfileRow, error) {
	if s == nil || s.db == nil {
		return ProfileRow{}, fmt.Errorf("db not initialized")
	}

	current, err := s.GetProfileByUserID(ctx, userID)
	if err != nil {
		return ProfileRow{}, err
	}

	var aboutVal sql.NullString
	if about != nil && strings.TrimSpace(*about) != "" {
		aboutVal = sql.NullString{String: strings.TrimSpace(*about), Valid: true}
	}

	q := `UPDATE profiles SET full_name = ?, about = ?, updated_at_ms = ? WHERE id = ?;`
	res, err := s.db.ExecContext(ctx, s.rebind(q), fullName, aboutVal, nowMs, current.ID)
	if err != nil {
		return ProfileRow{}, err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ProfileRow{}, fmt.Errorf("%w: profile", ErrNotFound)
	}
	return s.GetProfileByID(ctx, current.ID)
}

func scanProfile(row scanner) (ProfileRow, error) {
	var p ProfileRow
	var about sql.NullString
	if err := row.Scan(&p.ID, &p.FullName, &about, &p.CreatedAtMs, &p.UpdatedAtMs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ProfileRow{}, fmt.Errorf("%w: profile", ErrNotFound)
		}
		return ProfileRow{}, err
	}
	p.About = stringPtr(about)
	return p, nil
}
