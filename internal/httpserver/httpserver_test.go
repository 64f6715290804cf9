package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"messaging-app-backend/internal/auth"
	"messaging-app-backend/internal/storage"
	"messaging-app-backend/internal/ws"
)

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 32)...)

type testEnv struct {
	srv       *httptest.Server
	store     *storage.Store
	issuer    *auth.Issuer
	uploadDir string
}

func newTestEnv(t *testing.T, strict bool) *testEnv {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	store, err := storage.Open(ctx, "sqlite::memory:", logger)
	if err != nil {
		t.Fatalf("storage.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	issuer, err := auth.NewIssuer("test-secret", time.Hour, time.Minute)
	if err != nil {
		t.Fatalf("auth.NewIssuer() error = %v", err)
	}

	uploadDir := t.TempDir()
	wsManager := ws.NewManager(logger, issuer, store)
	handler := NewHandler(logger, store, issuer, wsManager, HandlerOptions{
		UploadDir:         uploadDir,
		StrictStatusCodes: strict,
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, store: store, issuer: issuer, uploadDir: uploadDir}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body io.Reader, contentType string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, body)
	if err != nil {
		t.Fatalf("NewRequest error = %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := e.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s error = %v", method, path, err)
	}
	defer res.Body.Close()

	var out map[string]any
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode %s %s response error = %v", method, path, err)
	}
	return res.StatusCode, out
}

func (e *testEnv) postJSON(t *testing.T, path, token string, body any) (int, map[string]any) {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("json.Marshal error = %v", err)
	}
	return e.do(t, http.MethodPost, path, token, bytes.NewReader(b), "application/json")
}

func (e *testEnv) get(t *testing.T, path, token string) (int, map[string]any) {
	t.Helper()
	return e.do(t, http.MethodGet, path, token, nil, "")
}

func (e *testEnv) postImage(t *testing.T, path, token string, fields map[string]string, contentType string, data []byte) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("WriteField error = %v", err)
		}
	}
	if data != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename="upload"`, imageFieldName))
		h.Set("Content-Type", contentType)
		part, err := mw.CreatePart(h)
		if err != nil {
			t.Fatalf("CreatePart error = %v", err)
		}
		if _, err := part.Write(data); err != nil {
			t.Fatalf("part.Write error = %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("multipart Close error = %v", err)
	}
	return e.do(t, http.MethodPost, path, token, &buf, mw.FormDataContentType())
}

type testUser struct {
	ID    string
	Token string
}

func (e *testEnv) signUpAndLogin(t *testing.T, email, fullName string) testUser {
	t.Helper()
	_, body := e.postJSON(t, "/signup", "", map[string]any{
		"email":            email,
		"full_name":        fullName,
		"password":         "password123",
		"confirm_password": "password123",
	})
	created, ok := body["createdUser"].(map[string]any)
	if !ok {
		t.Fatalf("signup body = %v, want createdUser", body)
	}

	_, body = e.postJSON(t, "/login", "", map[string]any{"email": email, "password": "password123"})
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatalf("login body = %v, want token", body)
	}
	return testUser{ID: created["id"].(string), Token: token}
}

func requireFieldError(t *testing.T, body map[string]any, path string) {
	t.Helper()
	errs, ok := body["errors"].([]any)
	if !ok {
		t.Fatalf("body = %v, want errors list", body)
	}
	for _, e := range errs {
		if m, ok := e.(map[string]any); ok && m["path"] == path {
			if msg, _ := m["msg"].(string); msg == "" {
				t.Fatalf("field error for %q has empty msg", path)
			}
			return
		}
	}
	t.Fatalf("errors = %v, want one for path %q", errs, path)
}

func countMessages(t *testing.T, env *testEnv, a, b string) int {
	t.Helper()
	chat, err := env.store.GetDirectChat(context.Background(), a, b)
	if errors.Is(err, storage.ErrNotFound) {
		return 0
	}
	if err != nil {
		t.Fatalf("GetDirectChat error = %v", err)
	}
	msgs, err := env.store.ListMessages(context.Background(), chat.ID)
	if err != nil {
		t.Fatalf("ListMessages error = %v", err)
	}
	return len(msgs)
}

type stubStore struct {
	Store
	readyErr error
}

func (s stubStore) Ready(ctx context.Context) error { return s.readyErr }

func TestHealthz(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	handler := NewHandler(logger, stubStore{}, nil, nil, HandlerOptions{})

	srv := httptest.NewServer(handler)
	defer srv.Close()

	res, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error = %v", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
}

func TestReadyz_NotReady(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	handler := NewHandler(logger, stubStore{readyErr: errors.New("db down")}, nil, nil, HandlerOptions{})

	srv := httptest.NewServer(handler)
	defer srv.Close()

	res, err := http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz error = %v", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusServiceUnavailable)
	}
}

func TestSignUp_CreatesUserProfileAndOfflinePresence(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()

	status, body := env.postJSON(t, "/signup", "", map[string]any{
		"email":            "Alice@Example.com",
		"full_name":        " Alice ",
		"password":         "password123",
		"confirm_password": "password123",
	})
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	created, ok := body["createdUser"].(map[string]any)
	if !ok {
		t.Fatalf("body = %v, want createdUser", body)
	}
	if _, leaked := created["passwordHash"]; leaked {
		t.Fatalf("createdUser exposes the password hash")
	}
	if s, _ := created["autoLogin"].(string); s == "" {
		t.Fatalf("createdUser.autoLogin is empty")
	}

	user, err := env.store.GetUserByEmail(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail error = %v", err)
	}
	profile, err := env.store.GetProfileByUserID(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetProfileByUserID error = %v", err)
	}
	if profile.FullName != "Alice" {
		t.Fatalf("FullName = %q, want %q", profile.FullName, "Alice")
	}
	presence, err := env.store.GetPresenceByUserID(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetPresenceByUserID error = %v", err)
	}
	if presence.Online {
		t.Fatalf("Online = true right after sign-up")
	}
}

func TestSignUp_ReportsAllFieldErrors(t *testing.T) {
	env := newTestEnv(t, false)

	status, body := env.postJSON(t, "/signup", "", map[string]any{
		"email":            "not-an-email",
		"full_name":        "",
		"password":         "short",
		"confirm_password": "different",
	})
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	for _, path := range []string{"email", "full_name", "password", "confirm_password"} {
		requireFieldError(t, body, path)
	}

	long := strings.Repeat("x", 101)
	_, body = env.postJSON(t, "/signup", "", map[string]any{
		"email":            "bob@example.com",
		"full_name":        long,
		"password":         strings.Repeat("p", 201),
		"confirm_password": strings.Repeat("p", 201),
	})
	requireFieldError(t, body, "full_name")
	requireFieldError(t, body, "password")
}

func TestSignUp_DuplicateEmail(t *testing.T) {
	env := newTestEnv(t, false)
	env.signUpAndLogin(t, "alice@example.com", "Alice")

	_, body := env.postJSON(t, "/signup", "", map[string]any{
		"email":            "alice@example.com",
		"full_name":        "Alice Again",
		"password":         "password123",
		"confirm_password": "password123",
	})
	requireFieldError(t, body, "email")
}

func TestLogin_FlipsPresenceOnlyOnSuccess(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()

	env.postJSON(t, "/signup", "", map[string]any{
		"email":            "alice@example.com",
		"full_name":        "Alice",
		"password":         "password123",
		"confirm_password": "password123",
	})
	user, err := env.store.GetUserByEmail(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail error = %v", err)
	}

	status, body := env.postJSON(t, "/login", "", map[string]any{"email": "alice@example.com", "password": "wrong-password"})
	if status != http.StatusOK || body["error"] != "incorrect password" {
		t.Fatalf("wrong password: status=%d body=%v", status, body)
	}
	if _, ok := body["token"]; ok {
		t.Fatalf("wrong password returned a token")
	}
	presence, err := env.store.GetPresenceByUserID(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetPresenceByUserID error = %v", err)
	}
	if presence.Online {
		t.Fatalf("Online = true after failed login")
	}

	_, body = env.postJSON(t, "/login", "", map[string]any{"email": "nobody@example.com", "password": "password123"})
	if body["error"] != "user not found" {
		t.Fatalf("unknown email body = %v", body)
	}

	_, body = env.postJSON(t, "/login", "", map[string]any{"email": "alice@example.com", "password": "password123"})
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatalf("login body = %v, want token", body)
	}
	claims, err := env.issuer.Verify(token)
	if err != nil || claims.UserID != user.ID {
		t.Fatalf("Verify(token) = %+v, %v", claims, err)
	}
	presence, err = env.store.GetPresenceByUserID(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetPresenceByUserID error = %v", err)
	}
	if !presence.Online {
		t.Fatalf("Online = false after login")
	}
}

func TestLogin_AutoLoginIsOneTime(t *testing.T) {
	env := newTestEnv(t, false)

	_, body := env.postJSON(t, "/signup", "", map[string]any{
		"email":            "alice@example.com",
		"full_name":        "Alice",
		"password":         "password123",
		"confirm_password": "password123",
	})
	autoLogin := body["createdUser"].(map[string]any)["autoLogin"].(string)

	_, body = env.postJSON(t, "/login", "", map[string]any{"email": "alice@example.com", "auto_login": autoLogin})
	if s, _ := body["token"].(string); s == "" {
		t.Fatalf("auto login body = %v, want token", body)
	}

	_, body = env.postJSON(t, "/login", "", map[string]any{"email": "alice@example.com", "auto_login": autoLogin})
	if body["error"] != "incorrect password" {
		t.Fatalf("reused auto login body = %v, want incorrect password", body)
	}

	// An access token is not an auto-login token.
	access := env.signUpAndLogin(t, "bob@example.com", "Bob")
	_, body = env.postJSON(t, "/login", "", map[string]any{"email": "bob@example.com", "auto_login": access.Token})
	if body["error"] != "incorrect password" {
		t.Fatalf("access token as auto login body = %v", body)
	}
}

func TestAuthMiddleware_TokenErrors(t *testing.T) {
	env := newTestEnv(t, false)

	status, body := env.get(t, "/friend/requests", "")
	if status != http.StatusOK || body["error"] != "missing token" {
		t.Fatalf("missing token: status=%d body=%v", status, body)
	}

	status, body = env.get(t, "/friend/requests", "garbage")
	if status != http.StatusOK || body["error"] != "invalid token" {
		t.Fatalf("invalid token: status=%d body=%v", status, body)
	}

	strict := newTestEnv(t, true)
	status, body = strict.get(t, "/friend/requests", "")
	if status != http.StatusUnauthorized || body["error"] != "missing token" {
		t.Fatalf("strict missing token: status=%d body=%v", status, body)
	}
}

func TestLoginStatus(t *testing.T) {
	env := newTestEnv(t, false)
	alice := env.signUpAndLogin(t, "alice@example.com", "Alice")

	status, body := env.get(t, "/login/status", "")
	if status != http.StatusUnauthorized || body["error"] != "missing token" {
		t.Fatalf("no token: status=%d body=%v", status, body)
	}
	status, _ = env.get(t, "/login/status", "garbage")
	if status != http.StatusUnauthorized {
		t.Fatalf("bad token: status=%d, want 401", status)
	}
	status, body = env.get(t, "/login/status", alice.Token)
	if status != http.StatusOK || body["userId"] != alice.ID {
		t.Fatalf("valid token: status=%d body=%v", status, body)
	}
}

func TestStatusAndEditProfile(t *testing.T) {
	env := newTestEnv(t, false)
	alice := env.signUpAndLogin(t, "alice@example.com", "Alice")

	_, body := env.postJSON(t, "/user/status", alice.Token, nil)
	profile, ok := body["profile"].(map[string]any)
	if !ok || profile["fullName"] != "Alice" {
		t.Fatalf("status body = %v", body)
	}

	_, body = env.postJSON(t, "/user/profile/edit", alice.Token, map[string]any{"full_name": "Alice L", "about": "tea"})
	profile, ok = body["profile"].(map[string]any)
	if !ok || profile["fullName"] != "Alice L" || profile["about"] != "tea" {
		t.Fatalf("edit body = %v", body)
	}

	_, body = env.postJSON(t, "/user/profile/edit", alice.Token, map[string]any{"full_name": "", "about": strings.Repeat("a", 2001)})
	requireFieldError(t, body, "full_name")
	requireFieldError(t, body, "about")
}

func TestLogout_SetsOffline(t *testing.T) {
	env := newTestEnv(t, false)
	alice := env.signUpAndLogin(t, "alice@example.com", "Alice")

	_, body := env.get(t, "/logout", alice.Token)
	updated, ok := body["updatedOnline"].(map[string]any)
	if !ok || updated["online"] != false {
		t.Fatalf("logout body = %v", body)
	}

	presence, err := env.store.GetPresenceByUserID(context.Background(), alice.ID)
	if err != nil {
		t.Fatalf("GetPresenceByUserID error = %v", err)
	}
	if presence.Online {
		t.Fatalf("Online = true after logout")
	}
}

func TestListUsers(t *testing.T) {
	env := newTestEnv(t, false)
	alice := env.signUpAndLogin(t, "alice@example.com", "Alice")
	bob := env.signUpAndLogin(t, "bob@example.com", "Bob")

	_, body := env.get(t, "/user/users?q=bo", alice.Token)
	users, ok := body["users"].([]any)
	if !ok || len(users) != 1 || users[0].(map[string]any)["userId"] != bob.ID {
		t.Fatalf("users body = %v", body)
	}

	_, body = env.get(t, "/user/users?limit=0", alice.Token)
	requireFieldError(t, body, "limit")
}

func TestChat_DirectConversationScenario(t *testing.T) {
	env := newTestEnv(t, false)
	alice := env.signUpAndLogin(t, "alice@example.com", "Alice")
	bob := env.signUpAndLogin(t, "bob@example.com", "Bob")

	_, body := env.postJSON(t, "/chat/messages", alice.Token, map[string]any{"user_id": bob.ID})
	if v, ok := body["messages"]; !ok || v != nil {
		t.Fatalf("messages before first contact = %v, want null", body)
	}

	_, body = env.postJSON(t, "/chat/send", alice.Token, map[string]any{"user_id": bob.ID, "message": "hello"})
	chat, ok := body["chat"].(map[string]any)
	if !ok {
		t.Fatalf("send body = %v", body)
	}
	created := body["createdMessage"].(map[string]any)
	if created["text"] != "hello" || created["authorId"] != alice.ID {
		t.Fatalf("createdMessage = %v", created)
	}

	_, body = env.postJSON(t, "/chat/send", bob.Token, map[string]any{"user_id": alice.ID, "message": "hi back"})
	if body["chat"].(map[string]any)["id"] != chat["id"] {
		t.Fatalf("reply landed in chat %v, want %v", body["chat"], chat["id"])
	}

	_, body = env.postJSON(t, "/chat/messages", bob.Token, map[string]any{"user_id": alice.ID})
	msgs, ok := body["messages"].([]any)
	if !ok || len(msgs) != 2 {
		t.Fatalf("messages = %v, want 2", body)
	}
	first := msgs[0].(map[string]any)
	second := msgs[1].(map[string]any)
	if first["text"] != "hello" || first["authorId"] != alice.ID || second["text"] != "hi back" {
		t.Fatalf("messages out of order: %v", msgs)
	}
	if first["createdAtMs"].(float64) > second["createdAtMs"].(float64) {
		t.Fatalf("messages not ascending by timestamp: %v", msgs)
	}
}

func TestChatSend_TextLengthValidation(t *testing.T) {
	env := newTestEnv(t, false)
	alice := env.signUpAndLogin(t, "alice@example.com", "Alice")
	bob := env.signUpAndLogin(t, "bob@example.com", "Bob")

	for _, text := range []string{"", "   ", strings.Repeat("x", 10001)} {
		_, body := env.postJSON(t, "/chat/send", alice.Token, map[string]any{"user_id": bob.ID, "message": text})
		requireFieldError(t, body, "message")
	}
	if n := countMessages(t, env, alice.ID, bob.ID); n != 0 {
		t.Fatalf("messages persisted = %d, want 0", n)
	}

	_, body := env.postJSON(t, "/chat/send", alice.Token, map[string]any{"user_id": bob.ID, "message": strings.Repeat("x", 10000)})
	if _, ok := body["createdMessage"]; !ok {
		t.Fatalf("10000-char message rejected: %v", body)
	}
}

func TestChatSend_TargetChecks(t *testing.T) {
	env := newTestEnv(t, false)
	alice := env.signUpAndLogin(t, "alice@example.com", "Alice")

	_, body := env.postJSON(t, "/chat/send", alice.Token, map[string]any{"user_id": alice.ID, "message": "me"})
	requireFieldError(t, body, "user_id")

	_, body = env.postJSON(t, "/chat/send", alice.Token, map[string]any{"user_id": "missing", "message": "hi"})
	if body["error"] != "user not found" {
		t.Fatalf("unknown target body = %v", body)
	}
}

func TestChatSendImage_InvalidFormatLeavesNothingBehind(t *testing.T) {
	env := newTestEnv(t, false)
	alice := env.signUpAndLogin(t, "alice@example.com", "Alice")
	bob := env.signUpAndLogin(t, "bob@example.com", "Bob")

	cases := []struct {
		name        string
		contentType string
		data        []byte
	}{
		{name: "gif", contentType: "image/gif", data: []byte("GIF89a....")},
		{name: "declared png, text bytes", contentType: "image/png", data: []byte("plain text pretending")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, body := env.postImage(t, "/chat/send/image", alice.Token, map[string]string{"user_id": bob.ID}, tc.contentType, tc.data)
			if body["error"] != "invalid image format" {
				t.Fatalf("body = %v, want invalid image format", body)
			}
		})
	}

	if _, err := env.store.GetDirectChat(context.Background(), alice.ID, bob.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("GetDirectChat error = %v, want no conversation", err)
	}
	entries, err := os.ReadDir(env.uploadDir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("ReadDir error = %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("upload dir has %d leftover files", len(entries))
	}
}

func TestChatSendImage_MissingFile(t *testing.T) {
	env := newTestEnv(t, false)
	alice := env.signUpAndLogin(t, "alice@example.com", "Alice")
	bob := env.signUpAndLogin(t, "bob@example.com", "Bob")

	_, body := env.postImage(t, "/chat/send/image", alice.Token, map[string]string{"user_id": bob.ID}, "", nil)
	if body["error"] != "missing image file" {
		t.Fatalf("body = %v, want missing image file", body)
	}

	strict := newTestEnv(t, true)
	carol := strict.signUpAndLogin(t, "carol@example.com", "Carol")
	dave := strict.signUpAndLogin(t, "dave@example.com", "Dave")
	status, _ := strict.postImage(t, "/chat/send/image", carol.Token, map[string]string{"user_id": dave.ID}, "image/gif", []byte("GIF89a"))
	if status != http.StatusUnsupportedMediaType {
		t.Fatalf("strict invalid format status = %d, want 415", status)
	}
}

func TestChatSendImage_StoresInlineAndServesMembers(t *testing.T) {
	env := newTestEnv(t, false)
	alice := env.signUpAndLogin(t, "alice@example.com", "Alice")
	bob := env.signUpAndLogin(t, "bob@example.com", "Bob")
	carol := env.signUpAndLogin(t, "carol@example.com", "Carol")

	_, body := env.postImage(t, "/chat/send/image", alice.Token, map[string]string{"user_id": bob.ID}, "image/png", pngBytes)
	saved, ok := body["savedImage"].(map[string]any)
	if !ok {
		t.Fatalf("body = %v, want savedImage", body)
	}
	image := saved["image"].(map[string]any)
	if image["contentType"] != "image/png" || image["sizeBytes"].(float64) != float64(len(pngBytes)) {
		t.Fatalf("image = %v", image)
	}

	entries, _ := os.ReadDir(env.uploadDir)
	if len(entries) != 0 {
		t.Fatalf("upload dir has %d leftover files after success", len(entries))
	}

	url := env.srv.URL + image["url"].(string) + "?token=" + bob.Token
	res, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET image error = %v", err)
	}
	got, _ := io.ReadAll(res.Body)
	res.Body.Close()
	if res.StatusCode != http.StatusOK || !bytes.Equal(got, pngBytes) {
		t.Fatalf("GET image status=%d len=%d", res.StatusCode, len(got))
	}
	if ct := res.Header.Get("Content-Type"); ct != "image/png" {
		t.Fatalf("Content-Type = %q, want image/png", ct)
	}

	_, body = env.get(t, image["url"].(string), carol.Token)
	if body["error"] != "access denied" {
		t.Fatalf("non-member image body = %v", body)
	}
}

func TestFriends_RequestAcceptScenario(t *testing.T) {
	env := newTestEnv(t, false)
	alice := env.signUpAndLogin(t, "alice@example.com", "Alice")
	bob := env.signUpAndLogin(t, "bob@example.com", "Bob")

	_, body := env.postJSON(t, "/friend/request/create", alice.Token, map[string]any{"user_id": bob.ID})
	req, ok := body["createdRequest"].(map[string]any)
	if !ok || req["from"] != alice.ID || req["to"] != bob.ID {
		t.Fatalf("create request body = %v", body)
	}

	_, body = env.get(t, "/friend/requests", bob.Token)
	if reqs := body["requests"].([]any); len(reqs) != 1 {
		t.Fatalf("bob requests = %v, want 1", reqs)
	}

	_, body = env.postJSON(t, "/friend/add", bob.Token, map[string]any{"user_id": alice.ID})
	if _, ok := body["createdFriend"].(map[string]any); !ok {
		t.Fatalf("accept body = %v", body)
	}

	for _, u := range []testUser{alice, bob} {
		_, body = env.get(t, "/friend/requests", u.Token)
		if reqs := body["requests"].([]any); len(reqs) != 0 {
			t.Fatalf("requests for %s after accept = %v", u.ID, reqs)
		}
	}

	_, body = env.postJSON(t, "/friend/add", bob.Token, map[string]any{"user_id": alice.ID})
	if v, ok := body["createdFriend"]; !ok || v != nil {
		t.Fatalf("second accept body = %v, want createdFriend null", body)
	}
	_, body = env.postJSON(t, "/friend/request/create", alice.Token, map[string]any{"user_id": bob.ID})
	if v, ok := body["createdRequest"]; !ok || v != nil {
		t.Fatalf("request between friends body = %v, want createdRequest null", body)
	}

	_, body = env.get(t, "/friend/friends", alice.Token)
	list := body["friendList"].([]any)
	if len(list) != 1 {
		t.Fatalf("friendList = %v, want 1", list)
	}
	friend := list[0].(map[string]any)
	if friend["userId"] != bob.ID || friend["fullName"] != "Bob" || friend["online"] != true || friend["friendEdgeId"] == "" {
		t.Fatalf("friend = %v", friend)
	}
}

func TestFriends_UnknownTarget(t *testing.T) {
	env := newTestEnv(t, false)
	alice := env.signUpAndLogin(t, "alice@example.com", "Alice")

	_, body := env.postJSON(t, "/friend/request/create", alice.Token, map[string]any{"user_id": "missing"})
	if body["error"] != "user not found" {
		t.Fatalf("body = %v, want user not found", body)
	}
	_, body = env.postJSON(t, "/friend/request/create", alice.Token, map[string]any{})
	requireFieldError(t, body, "user_id")
}

func TestGroups_CreateSendAndSnapshotAuthorName(t *testing.T) {
	env := newTestEnv(t, false)
	alice := env.signUpAndLogin(t, "alice@example.com", "Alice")
	bob := env.signUpAndLogin(t, "bob@example.com", "Bob")
	carol := env.signUpAndLogin(t, "carol@example.com", "Carol")

	_, body := env.postJSON(t, "/group/create", alice.Token, map[string]any{
		"group_name":   "Hikers",
		"user_id_list": []string{bob.ID},
	})
	group, ok := body["group"].(map[string]any)
	if !ok {
		t.Fatalf("create group body = %v", body)
	}
	members := group["members"].([]any)
	if len(members) != 2 || members[0] != alice.ID || members[1] != bob.ID {
		t.Fatalf("members = %v, want [creator, bob]", members)
	}
	groupID := group["id"].(string)

	_, body = env.postJSON(t, "/group/message", alice.Token, map[string]any{"group_id": groupID, "message": "trail at 9"})
	msg := body["createdMessage"].(map[string]any)
	if msg["authorName"] != "Alice" || msg["kind"] != "group" {
		t.Fatalf("createdMessage = %v", msg)
	}

	env.postJSON(t, "/user/profile/edit", alice.Token, map[string]any{"full_name": "Alice Renamed"})

	_, body = env.postImage(t, "/group/send/image", bob.Token, map[string]string{"group_id": groupID}, "image/png", pngBytes)
	if _, ok := body["savedImage"].(map[string]any); !ok {
		t.Fatalf("group image body = %v", body)
	}

	_, body = env.postJSON(t, "/group/messages", bob.Token, map[string]any{"group_id": groupID})
	msgs := body["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("group messages = %v, want 2", msgs)
	}
	if msgs[0].(map[string]any)["authorName"] != "Alice" {
		t.Fatalf("historic author name changed: %v", msgs[0])
	}

	_, body = env.postJSON(t, "/group/messages", carol.Token, map[string]any{"group_id": groupID})
	if body["error"] != "access denied" {
		t.Fatalf("non-member read body = %v", body)
	}
	_, body = env.postJSON(t, "/group/message", carol.Token, map[string]any{"group_id": groupID, "message": "let me in"})
	if body["error"] != "access denied" {
		t.Fatalf("non-member write body = %v", body)
	}

	_, body = env.get(t, "/group/groups", bob.Token)
	if groups := body["groups"].([]any); len(groups) != 1 {
		t.Fatalf("bob groups = %v", groups)
	}
}

func TestGroups_Validation(t *testing.T) {
	env := newTestEnv(t, false)
	alice := env.signUpAndLogin(t, "alice@example.com", "Alice")

	_, body := env.postJSON(t, "/group/create", alice.Token, map[string]any{
		"group_name":   strings.Repeat("g", 51),
		"user_id_list": []string{},
	})
	requireFieldError(t, body, "group_name")
	requireFieldError(t, body, "user_id_list")

	_, body = env.postJSON(t, "/group/create", alice.Token, map[string]any{
		"group_name":   "Ghosts",
		"user_id_list": []string{"missing"},
	})
	requireFieldError(t, body, "user_id_list")

	_, body = env.postJSON(t, "/group/messages", alice.Token, map[string]any{"group_id": "missing"})
	if v, ok := body["messages"]; !ok || v != nil {
		t.Fatalf("missing group messages = %v, want null", body)
	}
	_, body = env.postJSON(t, "/group/message", alice.Token, map[string]any{"group_id": "missing", "message": "hi"})
	if body["error"] != "group not found" {
		t.Fatalf("missing group send = %v", body)
	}
}

func TestWebSocket_MessagePushedToRecipient(t *testing.T) {
	env := newTestEnv(t, false)
	alice := env.signUpAndLogin(t, "alice@example.com", "Alice")
	bob := env.signUpAndLogin(t, "bob@example.com", "Bob")

	wsURL := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws?token=" + bob.Token
	c, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer c.Close()

	// The socket is registered after the handshake returns; resend until
	// the event arrives.
	deadline := time.Now().Add(2 * time.Second)
	for {
		env.postJSON(t, "/chat/send", alice.Token, map[string]any{"user_id": bob.ID, "message": "ping"})
		_ = c.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		_, raw, err := c.ReadMessage()
		if err == nil {
			var got ws.Envelope
			if err := json.Unmarshal(raw, &got); err != nil {
				t.Fatalf("json.Unmarshal() error = %v", err)
			}
			if got.Type != ws.EventMessageCreated || got.ConversationID == "" {
				t.Fatalf("event = %+v", got)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("no websocket event received: %v", err)
		}
	}
}

func TestRoutes_MethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, false)
	alice := env.signUpAndLogin(t, "alice@example.com", "Alice")

	req, err := http.NewRequest(http.MethodGet, env.srv.URL+"/chat/send", nil)
	if err != nil {
		t.Fatalf("NewRequest error = %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+alice.Token)
	res, err := env.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("GET /chat/send error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", res.StatusCode)
	}
}
