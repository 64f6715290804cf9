package storage

import (
	"context"
	"errors"
	"testing"
)

func TestComputePairHash_OrderIndependent(t *testing.T) {
	if computePairHash("a", "b") != computePairHash("b", "a") {
		t.Fatalf("pair hash depends on argument order")
	}
	if computePairHash("a", "b") == computePairHash("a", "c") {
		t.Fatalf("distinct pairs share a hash")
	}
}

func TestResolveOrCreateDirectChat_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	alice := mustCreateUser(t, store, "alice@example.com", "Alice")
	bob := mustCreateUser(t, store, "bob@example.com", "Bob")

	if _, err := store.GetDirectChat(ctx, alice.ID, bob.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetDirectChat error = %v, want ErrNotFound", err)
	}

	first, created, err := store.ResolveOrCreateDirectChat(ctx, alice.ID, bob.ID, 1000)
	if err != nil {
		t.Fatalf("ResolveOrCreateDirectChat error = %v", err)
	}
	if !created {
		t.Fatalf("created = false on first contact")
	}

	second, created, err := store.ResolveOrCreateDirectChat(ctx, bob.ID, alice.ID, 2000)
	if err != nil {
		t.Fatalf("ResolveOrCreateDirectChat(reversed) error = %v", err)
	}
	if created || second.ID != first.ID {
		t.Fatalf("second = %+v created=%v, want existing %s", second, created, first.ID)
	}

	got, err := store.GetDirectChat(ctx, bob.ID, alice.ID)
	if err != nil {
		t.Fatalf("GetDirectChat error = %v", err)
	}
	if got.ID != first.ID || !got.HasMember(alice.ID) || !got.HasMember(bob.ID) {
		t.Fatalf("GetDirectChat = %+v", got)
	}

	byID, err := store.GetChatByID(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetChatByID error = %v", err)
	}
	if byID.PairHash != first.PairHash {
		t.Fatalf("GetChatByID pair hash = %q, want %q", byID.PairHash, first.PairHash)
	}
}

func TestResolveOrCreateDirectChat_RecoversFromInsertRace(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	alice := mustCreateUser(t, store, "alice@example.com", "Alice")
	bob := mustCreateUser(t, store, "bob@example.com", "Bob")

	chat, _, err := store.ResolveOrCreateDirectChat(ctx, alice.ID, bob.ID, 1000)
	if err != nil {
		t.Fatalf("ResolveOrCreateDirectChat error = %v", err)
	}

	// A second insert for the same pair must be rejected by the unique index.
	_, err = store.db.ExecContext(ctx,
		`INSERT INTO chats (id, pair_hash, user1_id, user2_id, created_at_ms) VALUES ('dup', ?, ?, ?, 1);`,
		chat.PairHash, chat.User1ID, chat.User2ID)
	if err == nil || !isUniqueViolation(err) {
		t.Fatalf("duplicate chat insert error = %v, want unique violation", err)
	}
}

func TestResolveOrCreateDirectChat_Self(t *testing.T) {
	store := newTestStore(t)
	alice := mustCreateUser(t, store, "alice@example.com", "Alice")
	if _, _, err := store.ResolveOrCreateDirectChat(context.Background(), alice.ID, alice.ID, 1); !errors.Is(err, ErrCannotChatSelf) {
		t.Fatalf("ResolveOrCreateDirectChat error = %v, want ErrCannotChatSelf", err)
	}
}

func TestConversationMemberIDs(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	alice := mustCreateUser(t, store, "alice@example.com", "Alice")
	bob := mustCreateUser(t, store, "bob@example.com", "Bob")

	chat, _, err := store.ResolveOrCreateDirectChat(ctx, alice.ID, bob.ID, 1000)
	if err != nil {
		t.Fatalf("ResolveOrCreateDirectChat error = %v", err)
	}
	members, err := store.ConversationMemberIDs(ctx, chat.ID)
	if err != nil {
		t.Fatalf("ConversationMemberIDs(chat) error = %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("chat members = %v, want 2", members)
	}

	group, err := store.CreateGroup(ctx, alice.ID, "Pair", []string{bob.ID, bob.ID}, 2000)
	if err != nil {
		t.Fatalf("CreateGroup error = %v", err)
	}
	members, err = store.ConversationMemberIDs(ctx, group.ID)
	if err != nil {
		t.Fatalf("ConversationMemberIDs(group) error = %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("group members = %v, want 2 distinct", members)
	}

	if _, err := store.ConversationMemberIDs(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ConversationMemberIDs(missing) error = %v, want ErrNotFound", err)
	}
}
