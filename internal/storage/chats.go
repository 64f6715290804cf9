package storage

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// computePairHash keys an unordered user pair. Both friends and chats carry a
// UNIQUE index on it so at most one row exists per pair.
func computePairHash(user1ID, user2ID string) string {
	ids := []string{user1ID, user2ID}
	sort.Strings(ids)
	h := sha256.Sum256([]byte(ids[0] + ":" + ids[1]))
	return hex.EncodeToString(h[:])
}

// GetDirectChat finds the chat between two users regardless of argument order.
func (s *Store) GetDirectChat(ctx context.Context, userA, userB string) (ChatRow, error) {
	if s == nil || s.db == nil {
		return ChatRow{}, fmt.Errorf("db not initialized")
	}
	if userA == "" || userB == "" {
		return ChatRow{}, fmt.Errorf("missing user ids")
	}
	return s.getChatByHash(ctx, computePairHash(userA, userB))
}

// ResolveOrCreateDirectChat returns the chat for the pair, creating it on first
// contact. The bool reports whether this call created it. Concurrent first
// contacts converge on one row: the loser of the insert race re-reads.
func (s *Store) ResolveOrCreateDirectChat(ctx context.Context, userA, userB string, nowMs int64) (ChatRow, bool, error) {
	if s == nil || s.db == nil {
		return ChatRow{}, false, fmt.Errorf("db not initialized")
	}
	if userA == "" || userB == "" {
		return ChatRow{}, false, fmt.Errorf("missing user ids")
	}
	if userA == userB {
		return ChatRow{}, false, ErrCannotChatSelf
	}

	hash := computePairHash(userA, userB)
	existing, err := s.getChatByHash(ctx, hash)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return ChatRow{}, false, err
	}

	ids := []string{userA, userB}
	sort.Strings(ids)
	chat := ChatRow{
		ID:          uuid.NewString(),
		PairHash:    hash,
		User1ID:     ids[0],
		User2ID:     ids[1],
		CreatedAtMs: nowMs,
	}

	q := `INSERT INTO chats (id, pair_hash, user1_id, user2_id, created_at_ms) VALUES (?, ?, ?, ?, ?);`
	if _, err := s.db.ExecContext(ctx, s.rebind(q), chat.ID, chat.PairHash, chat.User1ID, chat.User2ID, chat.CreatedAtMs); err != nil {
		if isUniqueViolation(err) {
			existing, err := s.getChatByHash(ctx, hash)
			if err != nil {
				return ChatRow{}, false, err
			}
			return existing, false, nil
		}
		return ChatRow{}, false, err
	}

	return chat, true, nil
}

func (s *Store) GetChatByID(ctx context.Context, chatID string) (ChatRow, error) {
	if s == nil || s.db == nil {
		return ChatRow{}, fmt.Errorf("db not initialized")
	}

	q := `SELECT id, pair_hash, user1_id, user2_id, created_at_ms FROM chats WHERE id = ?;`
	return scanChat(s.db.QueryRowContext(ctx, s.rebind(q), chatID))
}

func (c ChatRow) HasMember(userID string) bool {
	return c.User1ID == userID || c.User2ID == userID
}

func (s *Store) getChatByHash(ctx context.Context, hash string) (ChatRow, error) {
	q := `SELECT id, pair_hash, user1_id, user2_id, created_at_ms FROM chats WHERE pair_hash = ?;`
	return scanChat(s.db.QueryRowContext(ctx, s.rebind(q), hash))
}

func scanChat(row scanner) (ChatRow, error) {
	var c ChatRow
	if err := row.Scan(&c.ID, &c.PairHash, &c.User1ID, &c.User2ID, &c.CreatedAtMs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ChatRow{}, fmt.Errorf("%w: chat", ErrNotFound)
		}
		return ChatRow{}, err
	}
	return c, nil
}
