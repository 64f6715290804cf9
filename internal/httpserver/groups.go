package httpserver

import (
	"errors"
	"net/http"
	"strings"

	"messaging-app-backend/internal/storage"
	"messaging-app-backend/internal/ws"
)

type createGroupRequest struct {
	GroupName  string   `json:"group_name" validate:"required,max=50"`
	UserIDList []string `json:"user_id_list" validate:"required,min=1,dive,required"`
}

type groupRequest struct {
	GroupID string `json:"group_id" validate:"required"`
}

type groupSendRequest struct {
	GroupID string `json:"group_id" validate:"required"`
	Message string `json:"message" validate:"required,max=10000"`
}

type groupResponse struct {
	Group groupView `json:"group"`
}

type listGroupsResponse struct {
	Groups []groupView `json:"groups"`
}

type groupSendResponse struct {
	CreatedMessage messageView `json:"createdMessage"`
}

type groupSendImageResponse struct {
	SavedImage messageView `json:"savedImage"`
}

func (api *api) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	user, ok := api.currentUser(w, r)
	if !ok {
		return
	}
	var req createGroupRequest
	if !api.decodeBody(w, r, &req) {
		return
	}
	req.GroupName = strings.TrimSpace(req.GroupName)
	for i := range req.UserIDList {
		req.UserIDList[i] = strings.TrimSpace(req.UserIDList[i])
	}
	if errs := validateStruct(req); len(errs) > 0 {
		api.writeFieldErrors(w, errs)
		return
	}

	group, err := api.store.CreateGroup(r.Context(), user.ID, req.GroupName, req.UserIDList, api.nowMs())
	if err != nil {
		if errors.Is(err, storage.ErrInvalidMembership) {
			api.writeFieldErrors(w, []fieldError{{Msg: "user_id_list contains an unknown user", Path: "user_id_list"}})
			return
		}
		api.writeInternal(w, "create group failed", err, "userID", user.ID)
		return
	}

	view := toGroupView(group)
	api.notify(group.UniqueMemberIDs(), ws.Envelope{
		Type:           ws.EventGroupCreated,
		ConversationID: group.ID,
		Payload:        view,
	})
	api.writeOK(w, groupResponse{Group: view})
}

func (api *api) handleListGroups(w http.ResponseWriter, r *http.Request) {
	user, ok := api.currentUser(w, r)
	if !ok {
		return
	}

	rows, err := api.store.ListGroupsForUser(r.Context(), user.ID)
	if err != nil {
		api.writeInternal(w, "list groups failed", err, "userID", user.ID)
		return
	}

	groups := make([]groupView, 0, len(rows))
	for _, g := range rows {
		groups = append(groups, toGroupView(g))
	}
	api.writeOK(w, listGroupsResponse{Groups: groups})
}

func (api *api) handleGroupMessages(w http.ResponseWriter, r *http.Request) {
	user, ok := api.currentUser(w, r)
	if !ok {
		return
	}
	var req groupRequest
	if !api.decodeBody(w, r, &req) {
		return
	}
	req.GroupID = strings.TrimSpace(req.GroupID)
	if errs := validateStruct(req); len(errs) > 0 {
		api.writeFieldErrors(w, errs)
		return
	}

	group, found, ok := api.resolveGroup(w, r, req.GroupID, user.ID)
	if !ok {
		return
	}
	if !found {
		api.writeOK(w, messagesResponse{Messages: nil})
		return
	}

	rows, err := api.store.ListMessages(r.Context(), group.ID)
	if err != nil {
		api.writeInternal(w, "list group messages failed", err, "groupID", group.ID)
		return
	}
	api.writeOK(w, messagesResponse{Messages: toMessageViews(rows)})
}

func (api *api) handleGroupSend(w http.ResponseWriter, r *http.Request) {
	user, ok := api.currentUser(w, r)
	if !ok {
		return
	}
	var req groupSendRequest
	if !api.decodeBody(w, r, &req) {
		return
	}
	req.GroupID = strings.TrimSpace(req.GroupID)
	req.Message = strings.TrimSpace(req.Message)
	if errs := validateStruct(req); len(errs) > 0 {
		api.writeFieldErrors(w, errs)
		return
	}

	group, ok := api.requireGroup(w, r, req.GroupID, user.ID)
	if !ok {
		return
	}
	authorName, ok := api.authorNameSnapshot(w, r, user.ID)
	if !ok {
		return
	}

	msg, err := api.store.CreateMessage(r.Context(), storage.NewMessage{
		ConversationID: group.ID,
		Kind:           storage.ConversationKindGroup,
		AuthorID:       user.ID,
		AuthorName:     &authorName,
		Text:           &req.Message,
	}, api.nowMs())
	if err != nil {
		api.writeInternal(w, "create group message failed", err, "groupID", group.ID)
		return
	}

	view := toMessageView(msg)
	api.notify(group.UniqueMemberIDs(), ws.Envelope{
		Type:           ws.EventMessageCreated,
		ConversationID: group.ID,
		Payload:        view,
	})
	api.writeOK(w, groupSendResponse{CreatedMessage: view})
}

func (api *api) handleGroupSendImage(w http.ResponseWriter, r *http.Request) {
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

	req := groupRequest{GroupID: strings.TrimSpace(r.FormValue("group_id"))}
	if errs := validateStruct(req); len(errs) > 0 {
		api.writeFieldErrors(w, errs)
		return
	}

	group, ok := api.requireGroup(w, r, req.GroupID, user.ID)
	if !ok {
		return
	}
	authorName, ok := api.authorNameSnapshot(w, r, user.ID)
	if !ok {
		return
	}

	msg, err := api.store.CreateMessage(r.Context(), storage.NewMessage{
		ConversationID:   group.ID,
		Kind:             storage.ConversationKindGroup,
		AuthorID:         user.ID,
		AuthorName:       &authorName,
		ImageData:        img.Data,
		ImageContentType: img.ContentType,
	}, api.nowMs())
	if err != nil {
		api.writeInternal(w, "create group image message failed", err, "groupID", group.ID)
		return
	}

	view := toMessageView(msg)
	api.notify(group.UniqueMemberIDs(), ws.Envelope{
		Type:           ws.EventMessageCreated,
		ConversationID: group.ID,
		Payload:        view,
	})
	api.writeOK(w, groupSendImageResponse{SavedImage: view})
}

// resolveGroup looks a group up for userID. A missing group is a normal
// negative result (found=false); a group the caller is not in is denied.
func (api *api) resolveGroup(w http.ResponseWriter, r *http.Request, groupID, userID string) (group storage.GroupRow, found, ok bool) {
	group, err := api.store.GetGroup(r.Context(), groupID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.GroupRow{}, false, true
		}
		api.writeInternal(w, "get group failed", err, "groupID", groupID)
		return storage.GroupRow{}, false, false
	}
	if !group.HasMember(userID) {
		api.writeError(w, kindAccessDenied, "access denied")
		return storage.GroupRow{}, false, false
	}
	return group, true, true
}

// requireGroup is resolveGroup for writes, where a missing group is an error.
func (api *api) requireGroup(w http.ResponseWriter, r *http.Request, groupID, userID string) (storage.GroupRow, bool) {
	group, found, ok := api.resolveGroup(w, r, groupID, userID)
	if !ok {
		return storage.GroupRow{}, false
	}
	if !found {
		api.writeError(w, kindNotFound, "group not found")
		return storage.GroupRow{}, false
	}
	return group, true
}

// authorNameSnapshot reads the caller's current full name. Group messages
// keep the name as it was at send time.
func (api *api) authorNameSnapshot(w http.ResponseWriter, r *http.Request, userID string) (string, bool) {
	profile, err := api.store.GetProfileByUserID(r.Context(), userID)
	if err != nil {
		api.writeInternal(w, "get author profile failed", err, "userID", userID)
		return "", false
	}
	return profile.FullName, true
}
