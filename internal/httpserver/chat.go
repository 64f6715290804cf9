package httpserver

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"messaging-app-backend/internal/storage"
	"messaging-app-backend/internal/ws"
)

type chatSendRequest struct {
	UserID  string `json:"user_id" validate:"required"`
	Message string `json:"message" validate:"required,max=10000"`
}

type messagesResponse struct {
	Messages []messageView `json:"messages"`
}

type chatSendResponse struct {
	Chat           chatView    `json:"chat"`
	CreatedMessage messageView `json:"createdMessage"`
}

type chatSendImageResponse struct {
	Chat       chatView    `json:"chat"`
	SavedImage messageView `json:"savedImage"`
}

func (api *api) handleChatMessages(w http.ResponseWriter, r *http.Request) {
	user, ok := api.currentUser(w, r)
	if !ok {
		return
	}
	var req targetUserRequest
	if !api.decodeBody(w, r, &req) {
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if errs := validateStruct(req); len(errs) > 0 {
		api.writeFieldErrors(w, errs)
		return
	}

	chat, err := api.store.GetDirectChat(r.Context(), user.ID, req.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			api.writeOK(w, messagesResponse{Messages: nil})
			return
		}
		api.writeInternal(w, "get direct chat failed", err, "userID", user.ID)
		return
	}

	rows, err := api.store.ListMessages(r.Context(), chat.ID)
	if err != nil {
		api.writeInternal(w, "list messages failed", err, "chatID", chat.ID)
		return
	}
	api.writeOK(w, messagesResponse{Messages: toMessageViews(rows)})
}

func (api *api) handleChatSend(w http.ResponseWriter, r *http.Request) {
	user, ok := api.currentUser(w, r)
	if !ok {
		return
	}
	var req chatSendRequest
	if !api.decodeBody(w, r, &req) {
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	req.Message = strings.TrimSpace(req.Message)
	if errs := validateStruct(req); len(errs) > 0 {
		api.writeFieldErrors(w, errs)
		return
	}

	target, ok := api.lookupTargetUser(w, r, user.ID, req.UserID)
	if !ok {
		return
	}

	chat, ok := api.resolveDirectChat(w, r, user.ID, target.ID)
	if !ok {
		return
	}

	msg, err := api.store.CreateMessage(r.Context(), storage.NewMessage{
		ConversationID: chat.ID,
		Kind:           storage.ConversationKindDirect,
		AuthorID:       user.ID,
		Text:           &req.Message,
	}, api.nowMs())
	if err != nil {
		api.writeInternal(w, "create message failed", err, "chatID", chat.ID)
		return
	}

	view := toMessageView(msg)
	api.notify([]string{chat.User1ID, chat.User2ID}, ws.Envelope{
		Type:           ws.EventMessageCreated,
		ConversationID: chat.ID,
		Payload:        view,
	})
	api.writeOK(w, chatSendResponse{Chat: toChatView(chat), CreatedMessage: view})
}

func (api *api) handleChatSendImage(w http.ResponseWriter, r *http.Request) {
	user, ok := api.currentUser(w, r)
	if !ok {
		return
	}
	defer cleanupMultipart(r)

	img, err := api.parseImageUpload(w, r)
	if err != nil {
		api.writeUploadError(w, err)
		return
	}

	target, ok := api.lookupTargetUser(w, r, user.ID, r.FormValue("user_id"))
	if !ok {
		return
	}

	chat, ok := api.resolveDirectChat(w, r, user.ID, target.ID)
	if !ok {
		return
	}

	msg, err := api.store.CreateMessage(r.Context(), storage.NewMessage{
		ConversationID:   chat.ID,
		Kind:             storage.ConversationKindDirect,
		AuthorID:         user.ID,
		ImageData:        img.Data,
		ImageContentType: img.ContentType,
	}, api.nowMs())
	if err != nil {
		api.writeInternal(w, "create image message failed", err, "chatID", chat.ID)
		return
	}

	view := toMessageView(msg)
	api.notify([]string{chat.User1ID, chat.User2ID}, ws.Envelope{
		Type:           ws.EventMessageCreated,
		ConversationID: chat.ID,
		Payload:        view,
	})
	api.writeOK(w, chatSendImageResponse{Chat: toChatView(chat), SavedImage: view})
}

func (api *api) resolveDirectChat(w http.ResponseWriter, r *http.Request, userID, peerID string) (storage.ChatRow, bool) {
	chat, created, err := api.store.ResolveOrCreateDirectChat(r.Context(), userID, peerID, api.nowMs())
	if err != nil {
		if errors.Is(err, storage.ErrCannotChatSelf) {
			api.writeFieldErrors(w, []fieldError{{Msg: "user_id must refer to another user", Path: "user_id"}})
			return storage.ChatRow{}, false
		}
		api.writeInternal(w, "resolve direct chat failed", err, "userID", userID, "peerID", peerID)
		return storage.ChatRow{}, false
	}
	if created {
		api.logger.Info("direct chat created", "chatID", chat.ID)
	}
	return chat, true
}

// handleGetImage serves a message's image bytes to members of its
// conversation.
func (api *api) handleGetImage(w http.ResponseWriter, r *http.Request) {
	user, ok := api.currentUser(w, r)
	if !ok {
		return
	}

	msg, err := api.store.GetMessage(r.Context(), r.PathValue("messageId"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			api.writeError(w, kindNotFound, "message not found")
			return
		}
		api.writeInternal(w, "get message failed", err)
		return
	}
	if !msg.HasImage() {
		api.writeError(w, kindNotFound, "message has no image")
		return
	}

	member, err := api.isConversationMember(r, msg.ConversationID, msg.Kind, user.ID)
	if err != nil {
		api.writeInternal(w, "check conversation membership failed", err, "messageID", msg.ID)
		return
	}
	if !member {
		api.writeError(w, kindAccessDenied, "access denied")
		return
	}

	w.Header().Set("Content-Type", *msg.ImageContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(msg.ImageData)))
	w.Header().Set("Cache-Control", "private, max-age=86400")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(msg.ImageData)
}

func (api *api) isConversationMember(r *http.Request, conversationID, kind, userID string) (bool, error) {
	switch kind {
	case storage.ConversationKindDirect:
		chat, err := api.store.GetChatByID(r.Context(), conversationID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return false, nil
			}
			return false, err
		}
		return chat.HasMember(userID), nil
	case storage.ConversationKindGroup:
		group, err := api.store.GetGroup(r.Context(), conversationID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return false, nil
			}
			return false, err
		}
		return group.HasMember(userID), nil
	default:
		return false, nil
	}
}
