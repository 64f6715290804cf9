package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"time"

	"log/slog"

	"messaging-app-backend/internal/storage"
	"messaging-app-backend/internal/ws"
)

const maxJSONBody = 1 << 20

var errUnsupportedContentType = errors.New("unsupported content type")

type api struct {
	logger    *slog.Logger
	store     Store
	gate      Gate
	wsManager *ws.Manager
	uploadDir string
	strict    bool
	now       func() time.Time
}

func newAPI(logger *slog.Logger, store Store, gate Gate, wsManager *ws.Manager, opts HandlerOptions) *api {
	uploadDir := opts.UploadDir
	if uploadDir == "" {
		uploadDir = "./uploads/tmp"
	}
	return &api{
		logger:    logger.With("component", "api"),
		store:     store,
		gate:      gate,
		wsManager: wsManager,
		uploadDir: uploadDir,
		strict:    opts.StrictStatusCodes,
		now:       time.Now,
	}
}

func (api *api) nowMs() int64 {
	return api.now().UnixMilli()
}

type errorBody struct {
	Error string `json:"error"`
}

type fieldError struct {
	Msg  string `json:"msg"`
	Path string `json:"path"`
}

type fieldErrorsBody struct {
	Errors []fieldError `json:"errors"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func (api *api) writeOK(w http.ResponseWriter, v any) {
	writeJSON(w, http.StatusOK, v)
}

func (api *api) writeError(w http.ResponseWriter, kind errorKind, message string) {
	writeJSON(w, httpStatusForKind(kind, api.strict), errorBody{Error: message})
}

func (api *api) writeFieldErrors(w http.ResponseWriter, errs []fieldError) {
	writeJSON(w, httpStatusForKind(kindValidation, api.strict), fieldErrorsBody{Errors: errs})
}

// writeInternal logs err and answers with the generic server error body.
func (api *api) writeInternal(w http.ResponseWriter, msg string, err error, args ...any) {
	api.logger.Error(msg, append([]any{"error", err}, args...)...)
	api.writeError(w, kindInternal, msgInternal)
}

// decodeJSON reads a single JSON object. An empty body decodes as {}.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err != nil || mediaType != "application/json" {
			return errUnsupportedContentType
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("unexpected extra JSON input")
	}
	return nil
}

// decodeBody decodes the request and reports a body-level validation error
// on failure. It returns false when a response has already been written.
func (api *api) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeJSON(w, r, dst); err != nil {
		if errors.Is(err, errUnsupportedContentType) && api.strict {
			writeJSON(w, http.StatusUnsupportedMediaType, fieldErrorsBody{Errors: []fieldError{{Msg: "body must be JSON", Path: "body"}}})
			return false
		}
		api.writeFieldErrors(w, []fieldError{{Msg: "invalid JSON body", Path: "body"}})
		return false
	}
	return true
}

// notify pushes a realtime event. Delivery never affects the response.
func (api *api) notify(userIDs []string, env ws.Envelope) {
	if api.wsManager == nil {
		return
	}
	api.wsManager.SendToUsers(userIDs, env)
}

type profileView struct {
	ID          string  `json:"id"`
	FullName    string  `json:"fullName"`
	About       *string `json:"about"`
	CreatedAtMs int64   `json:"createdAtMs"`
	UpdatedAtMs int64   `json:"updatedAtMs"`
}

func toProfileView(p storage.ProfileRow) profileView {
	return profileView{
		ID:          p.ID,
		FullName:    p.FullName,
		About:       p.About,
		CreatedAtMs: p.CreatedAtMs,
		UpdatedAtMs: p.UpdatedAtMs,
	}
}

type userView struct {
	ID          string  `json:"id"`
	Email       string  `json:"email"`
	ProfileID   string  `json:"profileId"`
	PresenceID  *string `json:"presenceId"`
	Online      bool    `json:"online"`
	CreatedAtMs int64   `json:"createdAtMs"`
}

func toUserView(u storage.UserRow, online bool) userView {
	return userView{
		ID:          u.ID,
		Email:       u.Email,
		ProfileID:   u.ProfileID,
		PresenceID:  u.PresenceID,
		Online:      online,
		CreatedAtMs: u.CreatedAtMs,
	}
}

type userSummaryView struct {
	UserID    string  `json:"userId"`
	ProfileID string  `json:"profileId"`
	FullName  string  `json:"fullName"`
	About     *string `json:"about"`
	Online    bool    `json:"online"`
}

func toUserSummaryView(u storage.UserSummaryRow) userSummaryView {
	return userSummaryView{
		UserID:    u.UserID,
		ProfileID: u.ProfileID,
		FullName:  u.FullName,
		About:     u.About,
		Online:    u.Online,
	}
}

type chatView struct {
	ID          string   `json:"id"`
	Kind        string   `json:"kind"`
	Members     []string `json:"members"`
	CreatedAtMs int64    `json:"createdAtMs"`
}

func toChatView(c storage.ChatRow) chatView {
	return chatView{
		ID:          c.ID,
		Kind:        storage.ConversationKindDirect,
		Members:     []string{c.User1ID, c.User2ID},
		CreatedAtMs: c.CreatedAtMs,
	}
}

type groupView struct {
	ID          string   `json:"id"`
	Kind        string   `json:"kind"`
	Name        string   `json:"name"`
	CreatorID   string   `json:"creatorId"`
	Members     []string `json:"members"`
	CreatedAtMs int64    `json:"createdAtMs"`
}

func toGroupView(g storage.GroupRow) groupView {
	members := g.MemberIDs
	if members == nil {
		members = []string{}
	}
	return groupView{
		ID:          g.ID,
		Kind:        storage.ConversationKindGroup,
		Name:        g.Name,
		CreatorID:   g.CreatorID,
		Members:     members,
		CreatedAtMs: g.CreatedAtMs,
	}
}

type imageView struct {
	ContentType string `json:"contentType"`
	SizeBytes   int64  `json:"sizeBytes"`
	URL         string `json:"url"`
}

type messageView struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversationId"`
	Kind           string     `json:"kind"`
	AuthorID       string     `json:"authorId"`
	AuthorName     *string    `json:"authorName,omitempty"`
	Text           *string    `json:"text,omitempty"`
	Image          *imageView `json:"image,omitempty"`
	CreatedAtMs    int64      `json:"createdAtMs"`
}

func toMessageView(m storage.MessageRow) messageView {
	v := messageView{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Kind:           m.Kind,
		AuthorID:       m.AuthorID,
		AuthorName:     m.AuthorName,
		Text:           m.Text,
		CreatedAtMs:    m.CreatedAtMs,
	}
	if m.HasImage() {
		v.Image = &imageView{
			ContentType: *m.ImageContentType,
			SizeBytes:   m.ImageSizeBytes,
			URL:         "/chat/image/" + m.ID,
		}
	}
	return v
}

func toMessageViews(rows []storage.MessageRow) []messageView {
	out := make([]messageView, 0, len(rows))
	for _, m := range rows {
		out = append(out, toMessageView(m))
	}
	return out
}

type friendRequestView struct {
	ID          string `json:"id"`
	From        string `json:"from"`
	To          string `json:"to"`
	CreatedAtMs int64  `json:"createdAtMs"`
}

func toFriendRequestView(r storage.FriendRequestRow) friendRequestView {
	return friendRequestView{ID: r.ID, From: r.FromID, To: r.ToID, CreatedAtMs: r.CreatedAtMs}
}

type friendEdgeView struct {
	ID          string   `json:"id"`
	Members     []string `json:"members"`
	CreatedAtMs int64    `json:"createdAtMs"`
}

type friendListItem struct {
	FriendEdgeID string `json:"friendEdgeId"`
	userSummaryView
}
