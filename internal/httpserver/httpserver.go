package httpserver

import (
	"context"
	"net/http"
	"time"

	"log/slog"

	"messaging-app-backend/internal/auth"
	"messaging-app-backend/internal/storage"
	"messaging-app-backend/internal/ws"
)

type Store interface {
	Ready(ctx context.Context) error

	CreateUser(ctx context.Context, email, passwordHash, fullName string, nowMs int64) (storage.UserRow, error)
	GetUserByID(ctx context.Context, userID string) (storage.UserRow, error)
	GetUserByEmail(ctx context.Context, email string) (storage.UserRow, error)
	ListUsers(ctx context.Context, excludeUserID, query string, limit int) ([]storage.UserSummaryRow, error)
	GetProfileByUserID(ctx context.Context, userID string) (storage.ProfileRow, error)
	UpdateProfile(ctx context.Context, userID, fullName string, about *string, nowMs int64) (storage.ProfileRow, error)
	SetPresence(ctx context.Context, userID string, online bool, nowMs int64) (storage.PresenceRow, error)
	RedeemAutoLogin(ctx context.Context, jti, userID string, nowMs int64) error

	CreateFriendRequest(ctx context.Context, fromID, toID string, nowMs int64) (*storage.FriendRequestRow, error)
	ListFriendRequests(ctx context.Context, userID string) ([]storage.FriendRequestRow, error)
	AcceptFriend(ctx context.Context, userID, fromUserID string, nowMs int64) (*storage.FriendRow, error)
	ListFriends(ctx context.Context, userID string) ([]storage.FriendListRow, error)
	ListFriendIDs(ctx context.Context, userID string) ([]string, error)

	GetDirectChat(ctx context.Context, userA, userB string) (storage.ChatRow, error)
	ResolveOrCreateDirectChat(ctx context.Context, userA, userB string, nowMs int64) (storage.ChatRow, bool, error)
	GetChatByID(ctx context.Context, chatID string) (storage.ChatRow, error)
	CreateGroup(ctx context.Context, creatorID, name string, memberIDs []string, nowMs int64) (storage.GroupRow, error)
	GetGroup(ctx context.Context, groupID string) (storage.GroupRow, error)
	ListGroupsForUser(ctx context.Context, userID string) ([]storage.GroupRow, error)

	ListMessages(ctx context.Context, conversationID string) ([]storage.MessageRow, error)
	CreateMessage(ctx context.Context, in storage.NewMessage, nowMs int64) (storage.MessageRow, error)
	GetMessage(ctx context.Context, messageID string) (storage.MessageRow, error)
}

// Gate issues and verifies bearer tokens. *auth.Issuer implements it.
type Gate interface {
	Issue(userID string) (string, time.Time, error)
	Verify(token string) (auth.Claims, error)
	IssueAutoLogin(userID string) (string, error)
	VerifyAutoLogin(token string) (auth.AutoLoginClaims, error)
}

type HandlerOptions struct {
	// UploadDir holds image uploads while they are validated.
	UploadDir string
	// StrictStatusCodes reports domain and auth errors with 4xx statuses
	// instead of 200. Bodies are identical either way.
	StrictStatusCodes bool
}

func NewHandler(logger *slog.Logger, store Store, gate Gate, wsManager *ws.Manager, opts HandlerOptions) http.Handler {
	mux := http.NewServeMux()
	api := newAPI(logger, store, gate, wsManager, opts)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ready(r.Context()); err != nil {
			logger.Warn("ready check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	if wsManager != nil {
		mux.Handle("GET /ws", wsManager.Handler())
	}

	mux.HandleFunc("POST /signup", api.handleSignUp)
	mux.HandleFunc("POST /login", api.handleLogin)
	mux.HandleFunc("GET /login/status", api.handleLoginStatus)
	mux.HandleFunc("GET /logout", api.handleLogout)

	mux.HandleFunc("POST /user/status", api.handleStatus)
	mux.HandleFunc("POST /user/profile/edit", api.handleEditProfile)
	mux.HandleFunc("GET /user/users", api.handleListUsers)

	mux.HandleFunc("POST /chat/messages", api.handleChatMessages)
	mux.HandleFunc("POST /chat/send", api.handleChatSend)
	mux.HandleFunc("POST /chat/send/image", api.handleChatSendImage)
	mux.HandleFunc("GET /chat/image/{messageId}", api.handleGetImage)

	mux.HandleFunc("POST /friend/request/create", api.handleCreateFriendRequest)
	mux.HandleFunc("GET /friend/requests", api.handleListFriendRequests)
	mux.HandleFunc("POST /friend/add", api.handleAcceptFriend)
	mux.HandleFunc("GET /friend/friends", api.handleListFriends)

	mux.HandleFunc("POST /group/create", api.handleCreateGroup)
	mux.HandleFunc("GET /group/groups", api.handleListGroups)
	mux.HandleFunc("POST /group/messages", api.handleGroupMessages)
	mux.HandleFunc("POST /group/message", api.handleGroupSend)
	mux.HandleFunc("POST /group/send/image", api.handleGroupSendImage)

	return chain(
		mux,
		recoverMiddleware(logger),
		requestLogMiddleware(logger),
		corsMiddleware(),
		authMiddleware(gate, opts.StrictStatusCodes),
	)
}
