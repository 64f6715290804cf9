package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CreateGroup stores a group whose membership is the creator followed by
// memberIDs in the given order. Duplicates are kept as given.
func (s *Store) CreateGroup(ctx context.Context, creatorID, name string, memberIDs []string, nowMs int64) (GroupRow, error) {
	if s == nil || s.db == nil {
		return GroupRow{}, fmt.Errorf("db not initialized")
	}
	if creatorID == "" {
		return GroupRow{}, fmt.Errorf("missing creatorID")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return GroupRow{}, fmt.Errorf("missing name")
	}
	if len(memberIDs) == 0 {
		return GroupRow{}, ErrInvalidMembership
	}

	group := GroupRow{
		ID:          uuid.NewString(),
		Name:        name,
		CreatorID:   creatorID,
		MemberIDs:   append([]string{creatorID}, memberIDs...),
		CreatedAtMs: nowMs,
	}

	txCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(txCtx, nil)
	if err != nil {
		return GroupRow{}, err
	}
	defer func() { _ = tx.Rollback() }()

	existsQ := rebindQuery(s.driver, `SELECT 1 FROM users WHERE id = ?;`)
	for _, memberID := range group.MemberIDs {
		var one int
		if err := tx.QueryRowContext(txCtx, existsQ, memberID).Scan(&one); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return GroupRow{}, fmt.Errorf("%w: unknown user %s", ErrInvalidMembership, memberID)
			}
			return GroupRow{}, err
		}
	}

	groupQ := rebindQuery(s.driver, `INSERT INTO chat_groups (id, name, creator_id, created_at_ms) VALUES (?, ?, ?, ?);`)
	if _, err := tx.ExecContext(txCtx, groupQ, group.ID, group.Name, group.CreatorID, group.CreatedAtMs); err != nil {
		return GroupRow{}, err
	}

	memberQ := rebindQuery(s.driver, `INSERT INTO chat_group_members (group_id, position, user_id) VALUES (?, ?, ?);`)
	for i, memberID := range group.MemberIDs {
		if _, err := tx.ExecContext(txCtx, memberQ, group.ID, i, memberID); err != nil {
			return GroupRow{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return GroupRow{}, err
	}
	return group, nil
}

func (s *Store) GetGroup(ctx context.Context, groupID string) (GroupRow, error) {
	if s == nil || s.db == nil {
		return GroupRow{}, fmt.Errorf("db not initialized")
	}
	if groupID == "" {
		return GroupRow{}, fmt.Errorf("%w: group", ErrNotFound)
	}

	q := `SELECT id, name, creator_id, created_at_ms FROM chat_groups WHERE id = ?;`
	var g GroupRow
	if err := s.db.QueryRowContext(ctx, s.rebind(q), groupID).Scan(&g.ID, &g.Name, &g.CreatorID, &g.CreatedAtMs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return GroupRow{}, fmt.Errorf("%w: group", ErrNotFound)
		}
		return GroupRow{}, err
	}

	members, err := s.listGroupMembers(ctx, g.ID)
	if err != nil {
		return GroupRow{}, err
	}
	g.MemberIDs = members
	return g, nil
}

// ListGroupsForUser returns the groups userID belongs to, newest first.
func (s *Store) ListGroupsForUser(ctx context.Context, userID string) ([]GroupRow, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("db not initialized")
	}
	if userID == "" {
		return nil, fmt.Errorf("missing userID")
	}

	q := `SELECT g.id, g.name, g.creator_id, g.created_at_ms
		FROM chat_groups g
		WHERE EXISTS (SELECT 1 FROM chat_group_members m WHERE m.group_id = g.id AND m.user_id = ?)
		ORDER BY g.created_at_ms DESC, g.id ASC;`
	rows, err := s.db.QueryContext(ctx, s.rebind(q), userID)
	if err != nil {
		return nil, err
	}

	var groups []GroupRow
	for rows.Next() {
		var g GroupRow
		if err := rows.Scan(&g.ID, &g.Name, &g.CreatorID, &g.CreatedAtMs); err != nil {
			_ = rows.Close()
			return nil, err
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	// Release the connection before the member lookups below.
	_ = rows.Close()

	for i := range groups {
		members, err := s.listGroupMembers(ctx, groups[i].ID)
		if err != nil {
			return nil, err
		}
		groups[i].MemberIDs = members
	}
	return groups, nil
}

func (g GroupRow) HasMember(userID string) bool {
	for _, id := range g.MemberIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// UniqueMemberIDs drops the duplicates membership may contain.
func (g GroupRow) UniqueMemberIDs() []string {
	seen := make(map[string]struct{}, len(g.MemberIDs))
	out := make([]string, 0, len(g.MemberIDs))
	for _, id := range g.MemberIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func (s *Store) listGroupMembers(ctx context.Context, groupID string) ([]string, error) {
	q := `SELECT user_id FROM chat_group_members WHERE group_id = ? ORDER BY position ASC;`
	rows, err := s.db.QueryContext(ctx, s.rebind(q), groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		members = append(members, id)
	}
	return members, rows.Err()
}
