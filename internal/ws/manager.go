package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"log/slog"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMessage = 64 << 10
)

const sendBuffer = 128

// Event types pushed to clients.
const (
	EventMessageCreated       = "message.created"
	EventFriendRequestCreated = "friend.request.created"
	EventFriendAccepted       = "friend.accepted"
	EventPresenceChanged      = "presence.changed"
	EventGroupCreated         = "group.created"
	EventTyping               = "conversation.typing"
	EventPong                 = "pong"
)

type Envelope struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId,omitempty"`
	Payload        any    `json:"payload"`
}

type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (userID string, err error)
}

// MemberResolver maps a conversation id of either kind to its member ids.
type MemberResolver interface {
	ConversationMemberIDs(ctx context.Context, conversationID string) ([]string, error)
}

type client struct {
	conn      *websocket.Conn
	userID    string
	send      chan []byte
	closeOnce sync.Once
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.send)
		_ = c.conn.Close()
	})
}

type Manager struct {
	logger         *slog.Logger
	tokenValidator TokenValidator
	members        MemberResolver

	mu      sync.Mutex
	clients map[*client]struct{}
}

func NewManager(logger *slog.Logger, tokenValidator TokenValidator, members MemberResolver) *Manager {
	return &Manager{
		logger:         logger.With("component", "ws"),
		tokenValidator: tokenValidator,
		members:        members,
		clients:        make(map[*client]struct{}),
	}
}

func (m *Manager) Handler() http.Handler {
	return http.HandlerFunc(m.handle)
}

func (m *Manager) CloseAll() {
	clients := m.snapshotClients()
	for _, c := range clients {
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "server shutdown"),
			time.Now().Add(writeWait),
		)
		c.close()
	}
}

// IsConnected reports whether userID has at least one live socket.
func (m *Manager) IsConnected(userID string) bool {
	for _, c := range m.snapshotClients() {
		if c.userID == userID {
			return true
		}
	}
	return false
}

func (m *Manager) SendToUser(userID string, env Envelope) {
	m.SendToUsers([]string{userID}, env)
}

// SendToUsers delivers env to every socket of the given users. Delivery is
// best effort: a client whose buffer is full is disconnected.
func (m *Manager) SendToUsers(userIDs []string, env Envelope) {
	if m == nil || len(userIDs) == 0 {
		return
	}

	b, err := encodeJSON(env)
	if err != nil {
		m.logger.Error("ws send marshal failed", "error", err, "type", env.Type)
		return
	}

	userSet := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		userSet[id] = struct{}{}
	}

	for _, c := range m.snapshotClients() {
		if _, ok := userSet[c.userID]; !ok {
			continue
		}
		m.deliver(c, b)
	}
}

func (m *Manager) deliver(c *client, b []byte) {
	defer func() {
		// send may be closed by a concurrent disconnect.
		_ = recover()
	}()
	select {
	case c.send <- b:
	default:
		m.logger.Warn("ws slow client dropped", "userID", c.userID)
		m.untrack(c)
		c.close()
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func (m *Manager) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	token := extractToken(r)
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	userID, err := m.tokenValidator.ValidateToken(r.Context(), token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Warn("ws upgrade failed", "error", err)
		return
	}

	c := &client{
		conn:   conn,
		userID: userID,
		send:   make(chan []byte, sendBuffer),
	}
	m.track(c)
	defer m.untrack(c)
	defer c.close()

	m.logger.Info("ws connected", "remoteAddr", r.RemoteAddr, "userID", userID)

	conn.SetReadLimit(maxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go m.writePump(c, r.RemoteAddr)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			m.logger.Info("ws disconnected", "remoteAddr", r.RemoteAddr, "userID", userID, "error", err)
			return
		}
		m.handleClientMessage(r.Context(), c, msg)
	}
}

func extractToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func (m *Manager) writePump(c *client, remoteAddr string) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				m.logger.Info("ws write failed", "remoteAddr", remoteAddr, "error", err)
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

func (m *Manager) snapshotClients() []*client {
	m.mu.Lock()
	defer m.mu.Unlock()

	clients := make([]*client, 0, len(m.clients))
	for c := range m.clients {
		clients = append(clients, c)
	}
	return clients
}

func (m *Manager) track(c *client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[c] = struct{}{}
}

func (m *Manager) untrack(c *client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.clients, c)
}

func encodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

type clientMessage struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
	Typing         bool   `json:"typing"`
}

func (m *Manager) handleClientMessage(ctx context.Context, c *client, msg []byte) {
	var cm clientMessage
	if err := json.Unmarshal(msg, &cm); err != nil {
		return
	}

	switch cm.Type {
	case "ping":
		b, err := encodeJSON(Envelope{Type: EventPong, Payload: map[string]any{"atMs": time.Now().UnixMilli()}})
		if err != nil {
			return
		}
		m.deliver(c, b)
	case "typing":
		m.relayTyping(ctx, c, cm)
	}
}

// relayTyping forwards a typing indicator to the other members of a
// conversation the sender belongs to.
func (m *Manager) relayTyping(ctx context.Context, c *client, cm clientMessage) {
	if m.members == nil || cm.ConversationID == "" {
		return
	}

	memberIDs, err := m.members.ConversationMemberIDs(ctx, cm.ConversationID)
	if err != nil {
		return
	}

	isMember := false
	peers := make([]string, 0, len(memberIDs))
	for _, id := range memberIDs {
		if id == c.userID {
			isMember = true
			continue
		}
		peers = append(peers, id)
	}
	if !isMember {
		return
	}

	m.SendToUsers(peers, Envelope{
		Type:           EventTyping,
		ConversationID: cm.ConversationID,
		Payload: map[string]any{
			"userId": c.userID,
			"typing": cm.Typing,
		},
	})
}
