package httpserver

import (
	"errors"
	"net/http"
	"strings"

	"messaging-app-backend/internal/storage"
	"messaging-app-backend/internal/ws"
)

type targetUserRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

type createFriendRequestResponse struct {
	CreatedRequest *friendRequestView `json:"createdRequest"`
}

type listFriendRequestsResponse struct {
	Requests []friendRequestView `json:"requests"`
}

type acceptFriendResponse struct {
	CreatedFriend *friendEdgeView `json:"createdFriend"`
}

type listFriendsResponse struct {
	FriendList []friendListItem `json:"friendList"`
}

// decodeTargetUser reads {user_id}, checks it names another existing user
// and returns it. Validation failures are written as field errors.
func (api *api) decodeTargetUser(w http.ResponseWriter, r *http.Request, callerID string) (storage.UserRow, bool) {
	var req targetUserRequest
	if !api.decodeBody(w, r, &req) {
		return storage.UserRow{}, false
	}
	return api.lookupTargetUser(w, r, callerID, req.UserID)
}

func (api *api) lookupTargetUser(w http.ResponseWriter, r *http.Request, callerID, targetID string) (storage.UserRow, bool) {
	req := targetUserRequest{UserID: strings.TrimSpace(targetID)}
	if errs := validateStruct(req); len(errs) > 0 {
		api.writeFieldErrors(w, errs)
		return storage.UserRow{}, false
	}
	if req.UserID == callerID {
		api.writeFieldErrors(w, []fieldError{{Msg: "user_id must refer to another user", Path: "user_id"}})
		return storage.UserRow{}, false
	}

	target, err := api.store.GetUserByID(r.Context(), req.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			api.writeError(w, kindUserNotFound, msgUserNotFound)
			return storage.UserRow{}, false
		}
		api.writeInternal(w, "get target user failed", err, "targetUserID", req.UserID)
		return storage.UserRow{}, false
	}
	return target, true
}

func (api *api) handleCreateFriendRequest(w http.ResponseWriter, r *http.Request) {
	user, ok := api.currentUser(w, r)
	if !ok {
		return
	}
	target, ok := api.decodeTargetUser(w, r, user.ID)
	if !ok {
		return
	}

	created, err := api.store.CreateFriendRequest(r.Context(), user.ID, target.ID, api.nowMs())
	if err != nil {
		api.writeInternal(w, "create friend request failed", err, "userID", user.ID, "targetUserID", target.ID)
		return
	}
	if created == nil {
		api.writeOK(w, createFriendRequestResponse{})
		return
	}

	view := toFriendRequestView(*created)
	api.notify([]string{target.ID}, ws.Envelope{Type: ws.EventFriendRequestCreated, Payload: view})
	api.writeOK(w, createFriendRequestResponse{CreatedRequest: &view})
}

func (api *api) handleListFriendRequests(w http.ResponseWriter, r *http.Request) {
	user, ok := api.currentUser(w, r)
	if !ok {
		return
	}

	rows, err := api.store.ListFriendRequests(r.Context(), user.ID)
	if err != nil {
		api.writeInternal(w, "list friend requests failed", err, "userID", user.ID)
		return
	}

	requests := make([]friendRequestView, 0, len(rows))
	for _, row := range rows {
		requests = append(requests, toFriendRequestView(row))
	}
	api.writeOK(w, listFriendRequestsResponse{Requests: requests})
}

func (api *api) handleAcceptFriend(w http.ResponseWriter, r *http.Request) {
	user, ok := api.currentUser(w, r)
	if !ok {
		return
	}
	from, ok := api.decodeTargetUser(w, r, user.ID)
	if !ok {
		return
	}

	edge, err := api.store.AcceptFriend(r.Context(), user.ID, from.ID, api.nowMs())
	if err != nil {
		api.writeInternal(w, "accept friend failed", err, "userID", user.ID, "fromUserID", from.ID)
		return
	}
	if edge == nil {
		api.writeOK(w, acceptFriendResponse{})
		return
	}

	view := friendEdgeView{
		ID:          edge.ID,
		Members:     []string{edge.User1ID, edge.User2ID},
		CreatedAtMs: edge.CreatedAtMs,
	}
	api.notify([]string{from.ID}, ws.Envelope{Type: ws.EventFriendAccepted, Payload: view})
	api.writeOK(w, acceptFriendResponse{CreatedFriend: &view})
}

func (api *api) handleListFriends(w http.ResponseWriter, r *http.Request) {
	user, ok := api.currentUser(w, r)
	if !ok {
		return
	}

	rows, err := api.store.ListFriends(r.Context(), user.ID)
	if err != nil {
		api.writeInternal(w, "list friends failed", err, "userID", user.ID)
		return
	}

	friends := make([]friendListItem, 0, len(rows))
	for _, row := range rows {
		friends = append(friends, friendListItem{
			FriendEdgeID:    row.FriendEdgeID,
			userSummaryView: toUserSummaryView(row.UserSummaryRow),
		})
	}
	api.writeOK(w, listFriendsResponse{FriendList: friends})
}
