package storage

import (
	"context"
	"errors"
	"fmt"
)

// ConversationMemberIDs resolves a conversation id of either kind to its
// distinct member ids. Unknown ids yield ErrNotFound.
func (s *Store) ConversationMemberIDs(ctx context.Context, conversationID string) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("db not initialized")
	}

	chat, err := s.GetChatByID(ctx, conversationID)
	if err == nil {
		return []string{chat.User1ID, chat.User2ID}, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	group, err := s.GetGroup(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return group.UniqueMemberIDs(), nil
}
