package storage

import "errors"

const (
	ConversationKindDirect = "direct"
	ConversationKindGroup  = "group"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrEmailExists       = errors.New("email exists")
	ErrCannotChatSelf    = errors.New("cannot chat self")
	ErrAlreadyRedeemed   = errors.New("auto login already redeemed")
	ErrInvalidMessage    = errors.New("invalid message")
	ErrInvalidMembership = errors.New("invalid group membership")
)

type UserRow struct {
	ID           string
	Email        string
	PasswordHash string
	ProfileID    string
	PresenceID   *string
	CreatedAtMs  int64
	UpdatedAtMs  int64
}

type ProfileRow struct {
	ID          string
	FullName    string
	About       *string
	CreatedAtMs int64
	UpdatedAtMs int64
}

type PresenceRow struct {
	ID           string
	Online       bool
	UpdatedAtMs  int64
	LastSeenAtMs *int64
}

// UserSummaryRow is a user joined with profile and presence.
type UserSummaryRow struct {
	UserID    string
	ProfileID string
	FullName  string
	About     *string
	Online    bool
}

type FriendRequestRow struct {
	ID          string
	FromID      string
	ToID        string
	CreatedAtMs int64
}

type FriendRow struct {
	ID          string
	PairHash    string
	User1ID     string
	User2ID     string
	CreatedAtMs int64
}

type FriendListRow struct {
	FriendEdgeID string
	UserSummaryRow
}

type ChatRow struct {
	ID          string
	PairHash    string
	User1ID     string
	User2ID     string
	CreatedAtMs int64
}

type GroupRow struct {
	ID          string
	Name        string
	CreatorID   string
	MemberIDs   []string
	CreatedAtMs int64
}

type MessageRow struct {
	ID               string
	ConversationID   string
	Kind             string
	AuthorID         string
	AuthorName       *string
	Text             *string
	ImageData        []byte
	ImageContentType *string
	ImageSizeBytes   int64
	CreatedAtMs      int64
}

func (m MessageRow) HasImage() bool {
	return m.ImageContentType != nil
}
