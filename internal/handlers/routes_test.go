package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/lingomate/backend/internal/accounts"
	"github.com/lingomate/backend/internal/auth"
	"github.com/lingomate/backend/internal/chat"
	"github.com/lingomate/backend/internal/chat/chattest"
	"github.com/lingomate/backend/internal/friends"
	"github.com/lingomate/backend/internal/middleware"
	"github.com/lingomate/backend/internal/models"
	"github.com/lingomate/backend/internal/repositories"
)

type testServer struct {
	router   http.Handler
	store    *repositories.MemoryStore
	provider *chattest.Provider
}

type memoryAvatars struct {
	saved map[string]string
}

func (m *memoryAvatars) Save(_ context.Context, key, _ string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	m.saved[key] = string(data)
	return "https://cdn.example.com/" + key, nil
}

func newTestServer(t *testing.T, limiter middleware.RateLimiter, opts ...accounts.Option) *testServer {
	t.Helper()

	store := repositories.NewMemoryStore()
	provider := chattest.New()
	bridge := chat.NewBridge(provider)

	issuer, err := auth.NewIssuer("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}

	router := NewRouter(Dependencies{
		Accounts:    accounts.NewService(store.Users(), bridge, opts...),
		Sessions:    issuer,
		Tokens:      issuer,
		Friends:     friends.NewService(store.Users(), store.Friends()),
		Chat:        bridge,
		Users:       store.Users(),
		AuthLimiter: limiter,
	})

	return &testServer{router: router, store: store, provider: provider}
}

func (s *testServer) do(t *testing.T, method, path, body string, session *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if session != nil {
		req.AddCookie(session)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

// signup registers and onboards a member, returning the user and its session cookie.
func (s *testServer) signup(t *testing.T, email, fullName string) (models.User, *http.Cookie) {
	t.Helper()

	rec := s.do(t, http.MethodPost, "/api/auth/signup",
		`{"email":"`+email+`","password":"secret123","fullName":"`+fullName+`"}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup %s: expected 201 got %d: %s", email, rec.Code, rec.Body.String())
	}
	cookie := sessionCookie(t, rec)

	rec = s.do(t, http.MethodPost, "/api/auth/onboarding",
		`{"fullName":"`+fullName+`","bio":"hi","nativeLanguage":"english","learningLanguage":"spanish","location":"Lisbon"}`, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("onboard %s: expected 200 got %d: %s", email, rec.Code, rec.Body.String())
	}

	var resp userResponse
	decodeBody(t, rec, &resp)
	if !resp.User.IsOnboarded {
		t.Fatalf("expected %s to be onboarded", email)
	}
	return resp.User, cookie
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.CookieName {
			return c
		}
	}
	t.Fatalf("expected %s cookie to be set", auth.CookieName)
	return nil
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func messageOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp messageResponse
	decodeBody(t, rec, &resp)
	return resp.Message
}

func TestAuthLifecycle(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := srv.do(t, http.MethodPost, "/api/auth/signup",
		`{"email":"Ana@Example.com","password":"secret123","fullName":"Ana"}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "password") {
		t.Fatalf("password hash leaked in response: %s", rec.Body.String())
	}
	cookie := sessionCookie(t, rec)
	if !cookie.HttpOnly || cookie.SameSite != http.SameSiteStrictMode {
		t.Fatalf("unexpected cookie attributes: %+v", cookie)
	}

	var created userResponse
	decodeBody(t, rec, &created)
	if !created.Success || created.User.IsOnboarded || created.User.ID == "" {
		t.Fatalf("unexpected signup response: %+v", created)
	}
	if _, ok := srv.provider.Users[created.User.ID]; !ok {
		t.Fatalf("expected signup to mirror user into chat provider")
	}

	rec = srv.do(t, http.MethodGet, "/api/auth/me", "", cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("me: expected 200 got %d", rec.Code)
	}
	var me userResponse
	decodeBody(t, rec, &me)
	if me.User.ID != created.User.ID {
		t.Fatalf("expected me to return %s got %s", created.User.ID, me.User.ID)
	}

	rec = srv.do(t, http.MethodPost, "/api/auth/login", `{"email":"ana@example.com","password":"wrong-pass"}`, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad login: expected 401 got %d", rec.Code)
	}
	if msg := messageOf(t, rec); msg != "Invalid email or password" {
		t.Fatalf("unexpected message %q", msg)
	}

	rec = srv.do(t, http.MethodPost, "/api/auth/login", `{"email":"ana@example.com","password":"secret123"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login: expected 200 got %d", rec.Code)
	}
	sessionCookie(t, rec)

	rec = srv.do(t, http.MethodPost, "/api/auth/logout", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("logout: expected 200 got %d", rec.Code)
	}
	if cleared := sessionCookie(t, rec); cleared.MaxAge >= 0 || cleared.Value != "" {
		t.Fatalf("expected logout to expire the cookie, got %+v", cleared)
	}

	rec = srv.do(t, http.MethodGet, "/api/auth/me", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous me: expected 401 got %d", rec.Code)
	}
	if msg := messageOf(t, rec); msg != "Unauthorized - No token provided" {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestSignupValidation(t *testing.T) {
	srv := newTestServer(t, nil)
	srv.signup(t, "taken@example.com", "Taken")

	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "missing fields", body: `{"email":"a@example.com","password":"secret123"}`, want: "All fields are required"},
		{name: "short password", body: `{"email":"a@example.com","password":"123","fullName":"A"}`, want: "Password must be at least 6 characters long"},
		{name: "invalid email", body: `{"email":"not-an-email","password":"secret123","fullName":"A"}`, want: "Invalid email format"},
		{name: "duplicate email", body: `{"email":"taken@example.com","password":"secret123","fullName":"A"}`, want: "Email already exists"},
		{name: "malformed body", body: `{"email":`, want: "Invalid request body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := srv.do(t, http.MethodPost, "/api/auth/signup", tt.body, nil)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400 got %d", rec.Code)
			}
			if msg := messageOf(t, rec); msg != tt.want {
				t.Fatalf("expected %q got %q", tt.want, msg)
			}
		})
	}
}

func TestOnboardingReportsMissingFields(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := srv.do(t, http.MethodPost, "/api/auth/signup",
		`{"email":"ana@example.com","password":"secret123","fullName":"Ana"}`, nil)
	cookie := sessionCookie(t, rec)

	rec = srv.do(t, http.MethodPost, "/api/auth/onboarding", `{"fullName":"Ana","location":"Porto"}`, cookie)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}

	var resp missingFieldsResponse
	decodeBody(t, rec, &resp)
	want := []string{"bio", "nativeLanguage", "learningLanguage"}
	if resp.Message != "All fields are required" || !reflect.DeepEqual(resp.MissingFields, want) {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestFriendRequestFlow(t *testing.T) {
	srv := newTestServer(t, nil)
	ana, anaCookie := srv.signup(t, "ana@example.com", "Ana")
	ben, benCookie := srv.signup(t, "ben@example.com", "Ben")

	rec := srv.do(t, http.MethodGet, "/api/users", "", anaCookie)
	var recommended []models.PublicUser
	decodeBody(t, rec, &recommended)
	if len(recommended) != 1 || recommended[0].ID != ben.ID {
		t.Fatalf("expected ben to be recommended, got %+v", recommended)
	}

	rec = srv.do(t, http.MethodPost, "/api/users/friend-request/"+ana.ID, "", anaCookie)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("self request: expected 400 got %d", rec.Code)
	}

	rec = srv.do(t, http.MethodPost, "/api/users/friend-request/"+ben.ID, "", anaCookie)
	if rec.Code != http.StatusCreated {
		t.Fatalf("send: expected 201 got %d: %s", rec.Code, rec.Body.String())
	}
	var request models.FriendRequest
	decodeBody(t, rec, &request)
	if request.Status != models.FriendRequestPending || request.Sender != ana.ID || request.Recipient != ben.ID {
		t.Fatalf("unexpected request %+v", request)
	}

	rec = srv.do(t, http.MethodPost, "/api/users/friend-request/"+ana.ID, "", benCookie)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("reverse duplicate: expected 400 got %d", rec.Code)
	}
	if msg := messageOf(t, rec); msg != "Friend request already exists." {
		t.Fatalf("unexpected message %q", msg)
	}

	rec = srv.do(t, http.MethodGet, "/api/users/outgoing-friend-requests", "", anaCookie)
	var outgoing []models.PopulatedFriendRequest
	decodeBody(t, rec, &outgoing)
	if len(outgoing) != 1 || outgoing[0].Recipient.FullName != "Ben" {
		t.Fatalf("unexpected outgoing requests %+v", outgoing)
	}

	rec = srv.do(t, http.MethodGet, "/api/users/friend-requests", "", benCookie)
	var pending friends.Requests
	decodeBody(t, rec, &pending)
	if len(pending.Incoming) != 1 || pending.Incoming[0].Sender.ID != ana.ID || len(pending.Accepted) != 0 {
		t.Fatalf("unexpected friend requests %+v", pending)
	}

	rec = srv.do(t, http.MethodPut, "/api/users/friend-request/"+request.ID+"/accept", "", anaCookie)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("sender accept: expected 403 got %d", rec.Code)
	}

	rec = srv.do(t, http.MethodPut, "/api/users/friend-request/"+request.ID+"/accept", "", benCookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("accept: expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
	if msg := messageOf(t, rec); msg != "Friend request accepted" {
		t.Fatalf("unexpected message %q", msg)
	}

	rec = srv.do(t, http.MethodPut, "/api/users/friend-request/"+request.ID+"/accept", "", benCookie)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("second accept: expected 400 got %d", rec.Code)
	}

	rec = srv.do(t, http.MethodPut, "/api/users/friend-request/missing/accept", "", benCookie)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown request: expected 404 got %d", rec.Code)
	}

	for _, tc := range []struct {
		cookie *http.Cookie
		friend string
	}{{anaCookie, ben.ID}, {benCookie, ana.ID}} {
		rec = srv.do(t, http.MethodGet, "/api/users/friends", "", tc.cookie)
		var list []models.PublicUser
		decodeBody(t, rec, &list)
		if len(list) != 1 || list[0].ID != tc.friend {
			t.Fatalf("expected friend %s, got %+v", tc.friend, list)
		}
	}

	rec = srv.do(t, http.MethodGet, "/api/users", "", anaCookie)
	if body := strings.TrimSpace(rec.Body.String()); body != "[]" {
		t.Fatalf("expected friends to be excluded from recommendations, got %s", body)
	}

	rec = srv.do(t, http.MethodGet, "/api/users/friend-requests", "", anaCookie)
	var accepted friends.Requests
	decodeBody(t, rec, &accepted)
	if len(accepted.Accepted) != 1 || accepted.Accepted[0].Recipient.ID != ben.ID {
		t.Fatalf("expected accepted request for sender, got %+v", accepted)
	}
}

func TestChatTokenNotifyAndLatestChats(t *testing.T) {
	srv := newTestServer(t, nil)
	ana, anaCookie := srv.signup(t, "ana@example.com", "Ana")
	ben, _ := srv.signup(t, "ben@example.com", "Ben")

	rec := srv.do(t, http.MethodGet, "/api/chat/token", "", anaCookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("token: expected 200 got %d", rec.Code)
	}
	var token tokenResponse
	decodeBody(t, rec, &token)
	if token.Token != "chat-token-"+ana.ID {
		t.Fatalf("unexpected chat token %q", token.Token)
	}

	rec = srv.do(t, http.MethodPost, "/api/chat/notify", `{"recipientId":"ghost","message":"hi"}`, anaCookie)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown recipient: expected 404 got %d", rec.Code)
	}

	rec = srv.do(t, http.MethodPost, "/api/chat/notify", `{"recipientId":"`+ben.ID+`"}`, anaCookie)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing message: expected 400 got %d", rec.Code)
	}

	rec = srv.do(t, http.MethodPost, "/api/chat/notify", `{"recipientId":"`+ben.ID+`","message":"Want to practice?","type":"call"}`, anaCookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("notify: expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
	if msg := messageOf(t, rec); msg != "Notification sent successfully" {
		t.Fatalf("unexpected message %q", msg)
	}
	if len(srv.provider.Messages) != 1 {
		t.Fatalf("expected one message, got %d", len(srv.provider.Messages))
	}
	sent := srv.provider.Messages[0]
	if sent.ChannelID != chat.ChannelID(ana.ID, ben.ID) || sent.Message.Author.ID != ana.ID || sent.Message.Kind != "call" {
		t.Fatalf("unexpected message %+v", sent)
	}

	srv.provider.Online[ben.ID] = true
	rec = srv.do(t, http.MethodGet, "/api/users/latest-chats", "", anaCookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("latest chats: expected 200 got %d", rec.Code)
	}
	var chats []chat.LatestChat
	decodeBody(t, rec, &chats)
	if len(chats) != 1 || chats[0].Friend == nil || chats[0].Friend.ID != ben.ID || !chats[0].Friend.IsOnline {
		t.Fatalf("unexpected latest chats %+v", chats)
	}
	if chats[0].LastMessage != "Want to practice?" {
		t.Fatalf("unexpected last message %q", chats[0].LastMessage)
	}

	srv.provider.SendErr = errors.New("provider down")
	rec = srv.do(t, http.MethodPost, "/api/chat/notify", `{"recipientId":"`+ben.ID+`","message":"again"}`, anaCookie)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("provider failure: expected 500 got %d", rec.Code)
	}
	if msg := messageOf(t, rec); msg != "Failed to send notification" {
		t.Fatalf("unexpected message %q", msg)
	}

	srv.provider.TokenErr = errors.New("provider down")
	rec = srv.do(t, http.MethodGet, "/api/chat/token", "", anaCookie)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("token failure: expected 500 got %d", rec.Code)
	}
	if msg := messageOf(t, rec); strings.Contains(msg, "provider down") {
		t.Fatalf("internal error leaked: %q", msg)
	}
}

func avatarRequest(t *testing.T, filename string, cookie *http.Cookie) *http.Request {
	t.Helper()
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile(avatarFormField, filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	_, _ = part.Write([]byte("\x89PNG"))
	_ = form.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/users/avatar", &body)
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.AddCookie(cookie)
	return req
}

func TestAvatarUploadRequiresObjectStore(t *testing.T) {
	srv := newTestServer(t, nil)
	_, cookie := srv.signup(t, "ana@example.com", "Ana")

	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, avatarRequest(t, "me.png", cookie))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d: %s", rec.Code, rec.Body.String())
	}
	if msg := messageOf(t, rec); msg != "Avatar uploads are not configured" {
		t.Fatalf("unexpected message %q", msg)
	}

	// Disabled uploads are rejected before the multipart body is read.
	rec = srv.do(t, http.MethodPost, "/api/users/avatar", "", cookie)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("disabled without file: expected 503 got %d", rec.Code)
	}
}

func TestAvatarUpload(t *testing.T) {
	avatars := &memoryAvatars{saved: map[string]string{}}
	srv := newTestServer(t, nil, accounts.WithAvatarStore(avatars))
	ana, cookie := srv.signup(t, "ana@example.com", "Ana")

	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, avatarRequest(t, "me.png", cookie))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
	var resp userResponse
	decodeBody(t, rec, &resp)
	if !strings.HasPrefix(resp.User.ProfilePic, "https://cdn.example.com/avatars/"+ana.ID+"/") {
		t.Fatalf("unexpected profile pic %q", resp.User.ProfilePic)
	}
	if len(avatars.saved) != 1 {
		t.Fatalf("expected one stored avatar, got %d", len(avatars.saved))
	}

	rec = httptest.NewRecorder()
	srv.router.ServeHTTP(rec, avatarRequest(t, "me.exe", cookie))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unsupported type: expected 400 got %d", rec.Code)
	}

	rec = srv.do(t, http.MethodPost, "/api/users/avatar", "", cookie)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing file: expected 400 got %d", rec.Code)
	}
}

func TestSignupAcceptsLongPassword(t *testing.T) {
	srv := newTestServer(t, nil)
	long := strings.Repeat("p", 80)

	rec := srv.do(t, http.MethodPost, "/api/auth/signup",
		`{"email":"long@example.com","password":"`+long+`","fullName":"Long"}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup: expected 201 got %d: %s", rec.Code, rec.Body.String())
	}

	rec = srv.do(t, http.MethodPost, "/api/auth/login", `{"email":"long@example.com","password":"`+long+`"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login: expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAuthRoutesAreRateLimited(t *testing.T) {
	srv := newTestServer(t, middleware.NewIPRateLimiter(1, time.Hour, 1, time.Hour))

	body := `{"email":"nobody@example.com","password":"secret123"}`
	if rec := srv.do(t, http.MethodPost, "/api/auth/login", body, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("first login: expected 401 got %d", rec.Code)
	}
	rec := srv.do(t, http.MethodPost, "/api/auth/login", body, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second login: expected 429 got %d", rec.Code)
	}
}

func TestRouterFallbacks(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := srv.do(t, http.MethodGet, "/api/unknown", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rec.Code)
	}
	if msg := messageOf(t, rec); msg != "Not Found" {
		t.Fatalf("unexpected message %q", msg)
	}

	rec = srv.do(t, http.MethodDelete, "/healthz", "", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 got %d", rec.Code)
	}

	rec = srv.do(t, http.MethodGet, "/api/users/friends", "", &http.Cookie{Name: auth.CookieName, Value: "garbage"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rec.Code)
	}
	if msg := messageOf(t, rec); msg != "Unauthorized - Invalid token" {
		t.Fatalf("unexpected message %q", msg)
	}
}
