package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SetPresence flips the user's online flag, creating the presence row first
// for accounts that predate it.
func (s *Store) SetPresence(ctx context.Context, userID string, online bool, nowMs int64) (PresenceRow, error) {
	if s == nil || s.db == nil {
		return PresenceRow{}, fmt.Errorf("db not initialized")
	}
	if userID == "" {
		return PresenceRow{}, fmt.Errorf("missing userID")
	}

	txCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(txCtx, nil)
	if err != nil {
		return PresenceRow{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var presenceID sql.NullString
	selectQ := rebindQuery(s.driver, `SELECT presence_id FROM users WHERE id = ?;`)
	if err := tx.QueryRowContext(txCtx, selectQ, userID).Scan(&presenceID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PresenceRow{}, fmt.Errorf("%w: user", ErrNotFound)
		}
		return PresenceRow{}, err
	}

	if !presenceID.Valid {
		presenceID = sql.NullString{String: uuid.NewString(), Valid: true}
		if err := insertPresence(txCtx, tx, s.driver, presenceID.String, nowMs); err != nil {
			return PresenceRow{}, err
		}
		linkQ := rebindQuery(s.driver, `UPDATE users SET presence_id = ?, updated_at_ms = ? WHERE id = ?;`)
		if _, err := tx.ExecContext(txCtx, linkQ, presenceID.String, nowMs, userID); err != nil {
			return PresenceRow{}, err
		}
	}

	updateQ := rebindQuery(s.driver, `UPDATE presences SET online = ?, updated_at_ms = ?, last_seen_at_ms = ? WHERE id = ?;`)
	if _, err := tx.ExecContext(txCtx, updateQ, online, nowMs, nowMs, presenceID.String); err != nil {
		return PresenceRow{}, err
	}

	presence, err := getPresenceByID(txCtx, tx, s.driver, presenceID.String)
	if err != nil {
		return PresenceRow{}, err
	}
	if err := tx.Commit(); err != nil {
		return PresenceRow{}, err
	}
	return presence, nil
}

func (s *Store) GetPresenceByUserID(ctx context.Context, userID string) (PresenceRow, error) {
	if s == nil || s.db == nil {
		return PresenceRow{}, fmt.Errorf("db not initialized")
	}

	var presenceID sql.NullString
	q := `SELECT presence_id FROM users WHERE id = ?;`
	if err := s.db.QueryRowContext(ctx, s.rebind(q), userID).Scan(&presenceID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PresenceRow{}, fmt.Errorf("%w: user", ErrNotFound)
		}
		return PresenceRow{}, err
	}
	if !presenceID.Valid {
		return PresenceRow{}, fmt.Errorf("%w: presence", ErrNotFound)
	}
	return getPresenceByID(ctx, s.db, s.driver, presenceID.String)
}

func insertPresence(ctx context.Context, exec sqlExecer, driver, presenceID string, nowMs int64) error {
	q := rebindQuery(driver, `INSERT INTO presences (id, online, updated_at_ms) VALUES (?, ?, ?);`)
	_, err := exec.ExecContext(ctx, q, presenceID, false, nowMs)
	return err
}

func getPresenceByID(ctx context.Context, q sqlQueryer, driver, presenceID string) (PresenceRow, error) {
	query := rebindQuery(driver, `SELECT id, online, updated_at_ms, last_seen_at_ms FROM presences WHERE id = ?;`)
	var p PresenceRow
	var lastSeen sql.NullInt64
	if err := q.QueryRowContext(ctx, query, presenceID).Scan(&p.ID, &p.Online, &p.UpdatedAtMs, &lastSeen); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PresenceRow{}, fmt.Errorf("%w: presence", ErrNotFound)
		}
		return PresenceRow{}, err
	}
	if lastSeen.Valid {
		p.LastSeenAtMs = &lastSeen.Int64
	}
	return p, nil
}
