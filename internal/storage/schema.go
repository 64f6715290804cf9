package storage

import (
	"context"
	"database/sql"
	"fmt"
)

func initSchema(ctx context.Context, db *sql.DB, driver string) error {
	blobType := "BLOB"
	if driver == driverPgx {
		blobType = "BYTEA"
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS profiles (
			id TEXT PRIMARY KEY,
			full_name TEXT NOT NULL,
			about TEXT,
			created_at_ms BIGINT NOT NULL,
			updated_at_ms BIGINT NOT NULL
		);`,

		`CREATE TABLE IF NOT EXISTS presences (
			id TEXT PRIMARY KEY,
			online BOOLEAN NOT NULL DEFAULT FALSE,
			updated_at_ms BIGINT NOT NULL
		);`,

		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			profile_id TEXT NOT NULL,
			presence_id TEXT,
			created_at_ms BIGINT NOT NULL,
			updated_at_ms BIGINT NOT NULL,
			FOREIGN KEY(profile_id) REFERENCES profiles(id),
			FOREIGN KEY(presence_id) REFERENCES presences(id)
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users(email);`,

		`CREATE TABLE IF NOT EXISTS auto_login_redemptions (
			jti TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			redeemed_at_ms BIGINT NOT NULL,
			FOREIGN KEY(user_id) REFERENCES users(id)
		);`,

		`CREATE TABLE IF NOT EXISTS friend_requests (
			id TEXT PRIMARY KEY,
			from_id TEXT NOT NULL,
			to_id TEXT NOT NULL,
			created_at_ms BIGINT NOT NULL,
			FOREIGN KEY(from_id) REFERENCES users(id),
			FOREIGN KEY(to_id) REFERENCES users(id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_friend_requests_from ON friend_requests(from_id);`,
		`CREATE INDEX IF NOT EXISTS idx_friend_requests_to ON friend_requests(to_id);`,

		`CREATE TABLE IF NOT EXISTS friends (
			id TEXT PRIMARY KEY,
			pair_hash TEXT NOT NULL UNIQUE,
			user1_id TEXT NOT NULL,
			user2_id TEXT NOT NULL,
			created_at_ms BIGINT NOT NULL,
			FOREIGN KEY(user1_id) REFERENCES users(id),
			FOREIGN KEY(user2_id) REFERENCES users(id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_friends_user1 ON friends(user1_id);`,
		`CREATE INDEX IF NOT EXISTS idx_friends_user2 ON friends(user2_id);`,

		`CREATE TABLE IF NOT EXISTS chats (
			id TEXT PRIMARY KEY,
			pair_hash TEXT NOT NULL UNIQUE,
			user1_id TEXT NOT NULL,
			user2_id TEXT NOT NULL,
			created_at_ms BIGINT NOT NULL,
			FOREIGN KEY(user1_id) REFERENCES users(id),
			FOREIGN KEY(user2_id) REFERENCES users(id)
		);`,

		`CREATE TABLE IF NOT EXISTS chat_groups (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			creator_id TEXT NOT NULL,
			created_at_ms BIGINT NOT NULL,
			FOREIGN KEY(creator_id) REFERENCES users(id)
		);`,
		`CREATE TABLE IF NOT EXISTS chat_group_members (
			group_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			user_id TEXT NOT NULL,
			PRIMARY KEY(group_id, position),
			FOREIGN KEY(group_id) REFERENCES chat_groups(id),
			FOREIGN KEY(user_id) REFERENCES users(id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chat_group_members_user ON chat_group_members(user_id);`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			author_id TEXT NOT NULL,
			text TEXT,
			image_data %s,
			image_content_type TEXT,
			image_size_bytes BIGINT NOT NULL DEFAULT 0,
			created_at_ms BIGINT NOT NULL,
			FOREIGN KEY(author_id) REFERENCES users(id)
		);`, blobType),
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation_created_at_ms ON messages(conversation_id, created_at_ms);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
