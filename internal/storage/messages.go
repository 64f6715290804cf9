package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// NewMessage is the input to CreateMessage. Exactly one of Text and
// ImageData must be set.
type NewMessage struct {
	ConversationID   string
	Kind             string
	AuthorID         string
	AuthorName       *string
	Text             *string
	ImageData        []byte
	ImageContentType string
}

// ListMessages returns the conversation's messages oldest first. Image bytes
// are not loaded; use GetMessage for those.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]MessageRow, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("db not initialized")
	}

	q := `SELECT id, conversation_id, kind, author_id, author_name, text, image_content_type, image_size_bytes, created_at_ms
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at_ms ASC, id ASC;`
	rows, err := s.db.QueryContext(ctx, s.rebind(q), conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []MessageRow{}
	for rows.Next() {
		var m MessageRow
		var authorName, text, contentType sql.NullString
		if err := rows.Scan(
			&m.ID, &m.ConversationID, &m.Kind, &m.AuthorID, &authorName,
			&text, &contentType, &m.ImageSizeBytes, &m.CreatedAtMs,
		); err != nil {
			return nil, err
		}
		m.AuthorName = stringPtr(authorName)
		m.Text = stringPtr(text)
		m.ImageContentType = stringPtr(contentType)
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return messages, nil
}

// CreateMessage appends a message. Ids are UUIDv7 so rows written within the
// same millisecond still sort in insertion order.
func (s *Store) CreateMessage(ctx context.Context, in NewMessage, nowMs int64) (MessageRow, error) {
	if s == nil || s.db == nil {
		return MessageRow{}, fmt.Errorf("db not initialized")
	}
	if in.ConversationID == "" || in.AuthorID == "" {
		return MessageRow{}, fmt.Errorf("%w: missing conversation or author", ErrInvalidMessage)
	}
	if in.Kind != ConversationKindDirect && in.Kind != ConversationKindGroup {
		return MessageRow{}, fmt.Errorf("%w: kind %q", ErrInvalidMessage, in.Kind)
	}
	hasText := in.Text != nil
	hasImage := len(in.ImageData) > 0
	if hasText == hasImage {
		return MessageRow{}, fmt.Errorf("%w: need text or image", ErrInvalidMessage)
	}
	if hasImage && in.ImageContentType == "" {
		return MessageRow{}, fmt.Errorf("%w: missing image content type", ErrInvalidMessage)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return MessageRow{}, err
	}

	msg := MessageRow{
		ID:             id.String(),
		ConversationID: in.ConversationID,
		Kind:           in.Kind,
		AuthorID:       in.AuthorID,
		AuthorName:     in.AuthorName,
		Text:           in.Text,
		CreatedAtMs:    nowMs,
	}
	var imageData any
	if hasImage {
		ct := in.ImageContentType
		msg.ImageData = in.ImageData
		msg.ImageContentType = &ct
		msg.ImageSizeBytes = int64(len(in.ImageData))
		imageData = in.ImageData
	}

	q := `INSERT INTO messages (id, conversation_id, kind, author_id, author_name, text, image_data, image_content_type, image_size_bytes, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`
	if _, err := s.db.ExecContext(ctx, s.rebind(q),
		msg.ID, msg.ConversationID, msg.Kind, msg.AuthorID, nullString(msg.AuthorName),
		nullString(msg.Text), imageData, nullString(msg.ImageContentType), msg.ImageSizeBytes, msg.CreatedAtMs,
	); err != nil {
		return MessageRow{}, err
	}
	return msg, nil
}

// GetMessage loads a single message including its image bytes.
func (s *Store) GetMessage(ctx context.Context, messageID string) (MessageRow, error) {
	if s == nil || s.db == nil {
		return MessageRow{}, fmt.Errorf("db not initialized")
	}

	q := `SELECT id, conversation_id, kind, author_id, author_name, text, image_data, image_content_type, image_size_bytes, created_at_ms
		FROM messages WHERE id = ?;`
	var m MessageRow
	var authorName, text, contentType sql.NullString
	if err := s.db.QueryRowContext(ctx, s.rebind(q), messageID).Scan(
		&m.ID, &m.ConversationID, &m.Kind, &m.AuthorID, &authorName,
		&text, &m.ImageData, &contentType, &m.ImageSizeBytes, &m.CreatedAtMs,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return MessageRow{}, fmt.Errorf("%w: message", ErrNotFound)
		}
		return MessageRow{}, err
	}
	m.AuthorName = stringPtr(authorName)
	m.Text = stringPtr(text)
	m.ImageContentType = stringPtr(contentType)
	return m, nil
}
