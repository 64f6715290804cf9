package storage

import (
	"context"
	"fmt"
)

// RedeemAutoLogin records a one-time auto-login token id. A second redemption
// of the same id fails with ErrAlreadyRedeemed.
func (s *Store) RedeemAutoLogin(ctx context.Context, jti, userID string, nowMs int64) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("db not initialized")
	}
	if jti == "" || userID == "" {
		return fmt.Errorf("missing ids")
	}

	q := `INSERT INTO auto_login_redemptions (jti, user_id, redeemed_at_ms) VALUES (?, ?, ?);`
	if _, err := s.db.ExecContext(ctx, s.rebind(q), jti, userID, nowMs); err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyRedeemed
		}
		return err
	}
	return nil
}
