package httpserver

import (
	"net/http"
	"strconv"
	"strings"
)

type statusResponse struct {
	Profile profileView `json:"profile"`
}

type editProfileRequest struct {
	FullName string  `json:"full_name" validate:"required,max=100"`
	About    *string `json:"about" validate:"omitempty,max=2000"`
}

type listUsersResponse struct {
	Users []userSummaryView `json:"users"`
}

func (api *api) handleStatus(w http.ResponseWriter, r *http.Request) {
	user, ok := api.currentUser(w, r)
	if !ok {
		return
	}

	profile, err := api.store.GetProfileByUserID(r.Context(), user.ID)
	if err != nil {
		api.writeInternal(w, "get profile failed", err, "userID", user.ID)
		return
	}
	api.writeOK(w, statusResponse{Profile: toProfileView(profile)})
}

func (api *api) handleEditProfile(w http.ResponseWriter, r *http.Request) {
	user, ok := api.currentUser(w, r)
	if !ok {
		return
	}

	var req editProfileRequest
	if !api.decodeBody(w, r, &req) {
		return
	}
	req.FullName = strings.TrimSpace(req.FullName)
	if req.About != nil {
		trimmed := strings.TrimSpace(*req.About)
		req.About = &trimmed
	}

	if errs := validateStruct(req); len(errs) > 0 {
		api.writeFieldErrors(w, errs)
		return
	}

	profile, err := api.store.UpdateProfile(r.Context(), user.ID, req.FullName, req.About, api.nowMs())
	if err != nil {
		api.writeInternal(w, "update profile failed", err, "userID", user.ID)
		return
	}
	api.writeOK(w, statusResponse{Profile: toProfileView(profile)})
}

func (api *api) handleListUsers(w http.ResponseWriter, r *http.Request) {
	user, ok := api.currentUser(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	limit := 50
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 200 {
			api.writeFieldErrors(w, []fieldError{{Msg: "limit must be between 1 and 200", Path: "limit"}})
			return
		}
		limit = n
	}

	rows, err := api.store.ListUsers(r.Context(), user.ID, query.Get("q"), limit)
	if err != nil {
		api.writeInternal(w, "list users failed", err)
		return
	}

	users := make([]userSummaryView, 0, len(rows))
	for _, row := range rows {
		users = append(users, toUserSummaryView(row))
	}
	api.writeOK(w, listUsersResponse{Users: users})
}
