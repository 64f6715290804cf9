package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

func (s *Store) AreFriends(ctx context.Context, userID, peerUserID string) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("db not initialized")
	}
	if userID == "" || peerUserID == "" {
		return false, fmt.Errorf("missing user ids")
	}
	return friendEdgeExists(ctx, s.db, s.driver, computePairHash(userID, peerUserID))
}

// CreateFriendRequest records a pending request from fromID to toID. It
// returns nil without writing anything when the two are already friends.
// Repeated requests for the same ordered pair are stored as separate rows.
func (s *Store) CreateFriendRequest(ctx context.Context, fromID, toID string, nowMs int64) (*FriendRequestRow, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("db not initialized")
	}
	if fromID == "" || toID == "" {
		return nil, fmt.Errorf("missing user ids")
	}
	if fromID == toID {
		return nil, ErrCannotChatSelf
	}

	alreadyFriends, err := s.AreFriends(ctx, fromID, toID)
	if err != nil {
		return nil, err
	}
	if alreadyFriends {
		return nil, nil
	}

	req := FriendRequestRow{
		ID:          uuid.NewString(),
		FromID:      fromID,
		ToID:        toID,
		CreatedAtMs: nowMs,
	}
	q := `INSERT INTO friend_requests (id, from_id, to_id, created_at_ms) VALUES (?, ?, ?, ?);`
	if _, err := s.db.ExecContext(ctx, s.rebind(q), req.ID, req.FromID, req.ToID, req.CreatedAtMs); err != nil {
		return nil, err
	}
	return &req, nil
}

// ListFriendRequests returns requests sent and received by userID, oldest first.
func (s *Store) ListFriendRequests(ctx context.Context, userID string) ([]FriendRequestRow, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("db not initialized")
	}
	if userID == "" {
		return nil, fmt.Errorf("missing userID")
	}

	q := `SELECT id, from_id, to_id, created_at_ms
		FROM friend_requests
		WHERE from_id = ? OR to_id = ?
		ORDER BY created_at_ms ASC, id ASC;`
	rows, err := s.db.QueryContext(ctx, s.rebind(q), userID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FriendRequestRow
	for rows.Next() {
		var r FriendRequestRow
		if err := rows.Scan(&r.ID, &r.FromID, &r.ToID, &r.CreatedAtMs); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// AcceptFriend creates the friendship between userID and fromUserID and drops
// the pending fromUserID -> userID requests. Returns nil when the friendship
// already exists.
func (s *Store) AcceptFriend(ctx context.Context, userID, fromUserID string, nowMs int64) (*FriendRow, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("db not initialized")
	}
	if userID == "" || fromUserID == "" {
		return nil, fmt.Errorf("missing user ids")
	}
	if userID == fromUserID {
		return nil, ErrCannotChatSelf
	}

	txCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(txCtx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	hash := computePairHash(userID, fromUserID)
	exists, err := friendEdgeExists(txCtx, tx, s.driver, hash)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, nil
	}

	ids := []string{userID, fromUserID}
	sort.Strings(ids)
	edge := FriendRow{
		ID:          uuid.NewString(),
		PairHash:    hash,
		User1ID:     ids[0],
		User2ID:     ids[1],
		CreatedAtMs: nowMs,
	}

	insertQ := rebindQuery(s.driver, `INSERT INTO friends (id, pair_hash, user1_id, user2_id, created_at_ms)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(pair_hash) DO NOTHING;`)
	res, err := tx.ExecContext(txCtx, insertQ, edge.ID, edge.PairHash, edge.User1ID, edge.User2ID, edge.CreatedAtMs)
	if err != nil {
		return nil, err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		// Lost a race with a concurrent accept.
		return nil, nil
	}

	deleteQ := rebindQuery(s.driver, `DELETE FROM friend_requests WHERE from_id = ? AND to_id = ?;`)
	if _, err := tx.ExecContext(txCtx, deleteQ, fromUserID, userID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &edge, nil
}

// ListFriends resolves every friend of userID to their profile and presence.
// A friend whose profile or presence is missing fails the whole listing.
func (s *Store) ListFriends(ctx context.Context, userID string) ([]FriendListRow, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("db not initialized")
	}
	if userID == "" {
		return nil, fmt.Errorf("missing userID")
	}

	q := `SELECT f.id, u.id, p.id, p.full_name, p.about, pr.id, pr.online
		FROM friends f
		LEFT JOIN users u ON u.id = CASE WHEN f.user1_id = ? THEN f.user2_id ELSE f.user1_id END
		LEFT JOIN profiles p ON p.id = u.profile_id
		LEFT JOIN presences pr ON pr.id = u.presence_id
		WHERE f.user1_id = ? OR f.user2_id = ?
		ORDER BY f.created_at_ms ASC, f.id ASC;`

	rows, err := s.db.QueryContext(ctx, s.rebind(q), userID, userID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FriendListRow
	for rows.Next() {
		var (
			edgeID     string
			friendID   sql.NullString
			profileID  sql.NullString
			fullName   sql.NullString
			about      sql.NullString
			presenceID sql.NullString
			online     sql.NullBool
		)
		if err := rows.Scan(&edgeID, &friendID, &profileID, &fullName, &about, &presenceID, &online); err != nil {
			return nil, err
		}
		if !friendID.Valid || !profileID.Valid {
			return nil, fmt.Errorf("%w: profile for friend edge %s", ErrNotFound, edgeID)
		}
		if !presenceID.Valid {
			return nil, fmt.Errorf("%w: presence for user %s", ErrNotFound, friendID.String)
		}
		out = append(out, FriendListRow{
			FriendEdgeID: edgeID,
			UserSummaryRow: UserSummaryRow{
				UserID:    friendID.String,
				ProfileID: profileID.String,
				FullName:  fullName.String,
				About:     stringPtr(about),
				Online:    online.Bool,
			},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListFriendIDs returns the ids on the other side of userID's friend edges.
func (s *Store) ListFriendIDs(ctx context.Context, userID string) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("db not initialized")
	}

	q := `SELECT CASE WHEN user1_id = ? THEN user2_id ELSE user1_id END
		FROM friends WHERE user1_id = ? OR user2_id = ?;`
	rows, err := s.db.QueryContext(ctx, s.rebind(q), userID, userID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func friendEdgeExists(ctx context.Context, q sqlQueryer, driver, hash string) (bool, error) {
	query := rebindQuery(driver, `SELECT 1 FROM friends WHERE pair_hash = ?;`)
	var one int
	if err := q.QueryRowContext(ctx, query, hash).Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return one == 1, nil
}
