package httpserver

import (
	"errors"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"messaging-app-backend/internal/storage"
	"messaging-app-backend/internal/ws"
)

type signUpRequest struct {
	Email           string `json:"email" validate:"required,email,max=254"`
	FullName        string `json:"full_name" validate:"required,max=100"`
	Password        string `json:"password" validate:"required,min=8,max=200"`
	ConfirmPassword string `json:"confirm_password" validate:"required,eqfield=Password"`
}

type createdUserView struct {
	userView
	// AutoLogin is a one-time token accepted by /login in place of the
	// password for a short window after sign-up.
	AutoLogin string `json:"autoLogin"`
}

type signUpResponse struct {
	CreatedUser createdUserView `json:"createdUser"`
}

type loginRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required_without=AutoLogin,max=200"`
	AutoLogin string `json:"auto_login"`
}

type loginResponse struct {
	Token       string `json:"token"`
	ExpiresAtMs int64  `json:"expiresAtMs"`
}

type logoutResponse struct {
	UpdatedOnline userView `json:"updatedOnline"`
}

type loginStatusResponse struct {
	OK     bool   `json:"ok"`
	UserID string `json:"userId"`
}

type presencePayload struct {
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}

func (api *api) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if !api.decodeBody(w, r, &req) {
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.FullName = strings.TrimSpace(req.FullName)

	errs := validateStruct(req)
	if !hasFieldError(errs, "email") {
		_, err := api.store.GetUserByEmail(r.Context(), req.Email)
		switch {
		case err == nil:
			errs = append(errs, fieldError{Msg: "email is already in use", Path: "email"})
		case !errors.Is(err, storage.ErrNotFound):
			api.writeInternal(w, "lookup email failed", err)
			return
		}
	}
	if len(errs) > 0 {
		api.writeFieldErrors(w, errs)
		return
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		api.writeInternal(w, "bcrypt hash failed", err)
		return
	}

	user, err := api.store.CreateUser(r.Context(), req.Email, string(passwordHash), req.FullName, api.nowMs())
	if err != nil {
		if errors.Is(err, storage.ErrEmailExists) {
			api.writeFieldErrors(w, []fieldError{{Msg: "email is already in use", Path: "email"}})
			return
		}
		api.writeInternal(w, "create user failed", err)
		return
	}

	autoLogin, err := api.gate.IssueAutoLogin(user.ID)
	if err != nil {
		api.writeInternal(w, "issue auto-login token failed", err, "userID", user.ID)
		return
	}

	api.logger.Info("user signed up", "userID", user.ID)
	api.writeOK(w, signUpResponse{CreatedUser: createdUserView{
		userView:  toUserView(user, false),
		AutoLogin: autoLogin,
	}})
}

func (api *api) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !api.decodeBody(w, r, &req) {
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.AutoLogin = strings.TrimSpace(req.AutoLogin)

	if errs := validateStruct(req); len(errs) > 0 {
		api.writeFieldErrors(w, errs)
		return
	}

	user, err := api.store.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			api.writeError(w, kindUserNotFound, msgUserNotFound)
			return
		}
		api.writeInternal(w, "get user by email failed", err)
		return
	}

	ok, err := api.checkCredential(r, user, req)
	if err != nil {
		api.writeInternal(w, "check credential failed", err, "userID", user.ID)
		return
	}
	if !ok {
		api.writeError(w, kindIncorrectPassword, msgIncorrectPassword)
		return
	}

	if _, err := api.store.SetPresence(r.Context(), user.ID, true, api.nowMs()); err != nil {
		api.writeInternal(w, "set presence failed", err, "userID", user.ID)
		return
	}

	token, expiresAt, err := api.gate.Issue(user.ID)
	if err != nil {
		api.writeInternal(w, "issue token failed", err, "userID", user.ID)
		return
	}

	api.broadcastPresence(r, user.ID, true)
	api.writeOK(w, loginResponse{Token: token, ExpiresAtMs: expiresAt.UnixMilli()})
}

// checkCredential accepts either the password or an unredeemed auto-login
// token issued for this user.
func (api *api) checkCredential(r *http.Request, user storage.UserRow, req loginRequest) (bool, error) {
	if req.AutoLogin != "" {
		claims, err := api.gate.VerifyAutoLogin(req.AutoLogin)
		if err != nil || claims.UserID != user.ID {
			return false, nil
		}
		if err := api.store.RedeemAutoLogin(r.Context(), claims.JTI, user.ID, api.nowMs()); err != nil {
			if errors.Is(err, storage.ErrAlreadyRedeemed) {
				return false, nil
			}
			return false, err
		}
		return true, nil
	}

	err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (api *api) handleLogout(w http.ResponseWriter, r *http.Request) {
	user, ok := api.currentUser(w, r)
	if !ok {
		return
	}

	presence, err := api.store.SetPresence(r.Context(), user.ID, false, api.nowMs())
	if err != nil {
		api.writeInternal(w, "set presence failed", err, "userID", user.ID)
		return
	}
	user.PresenceID = &presence.ID

	api.broadcastPresence(r, user.ID, false)
	api.writeOK(w, logoutResponse{UpdatedOnline: toUserView(user, presence.Online)})
}

// handleLoginStatus is the one route that reports auth state through the
// HTTP status instead of the body.
func (api *api) handleLoginStatus(w http.ResponseWriter, r *http.Request) {
	claims, err := api.gate.Verify(extractTokenFromHeader(r))
	if err != nil {
		msg := msgInvalidToken
		if extractTokenFromHeader(r) == "" {
			msg = msgMissingToken
		}
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: msg})
		return
	}

	if _, err := api.store.GetUserByID(r.Context(), claims.UserID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: msgInvalidToken})
			return
		}
		api.logger.Error("get user failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: msgInternal})
		return
	}

	writeJSON(w, http.StatusOK, loginStatusResponse{OK: true, UserID: claims.UserID})
}

// currentUser re-reads the caller from storage. A token for a user that no
// longer exists is treated as invalid.
func (api *api) currentUser(w http.ResponseWriter, r *http.Request) (storage.UserRow, bool) {
	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		api.writeError(w, kindMissingToken, msgMissingToken)
		return storage.UserRow{}, false
	}

	user, err := api.store.GetUserByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			api.writeError(w, kindInvalidToken, msgInvalidToken)
			return storage.UserRow{}, false
		}
		api.writeInternal(w, "get current user failed", err, "userID", userID)
		return storage.UserRow{}, false
	}
	return user, true
}

func (api *api) broadcastPresence(r *http.Request, userID string, online bool) {
	if api.wsManager == nil {
		return
	}
	friendIDs, err := api.store.ListFriendIDs(r.Context(), userID)
	if err != nil {
		api.logger.Warn("list friend ids failed", "error", err, "userID", userID)
		return
	}
	api.notify(friendIDs, ws.Envelope{
		Type:    ws.EventPresenceChanged,
		Payload: presencePayload{UserID: userID, Online: online},
	})
}

func hasFieldError(errs []fieldError, path string) bool {
	for _, e := range errs {
		if e.Path == path {
			return true
		}
	}
	return false
}
