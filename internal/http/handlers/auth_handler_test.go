package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fieldtrack/attendance/internal/domain"
	"github.com/fieldtrack/attendance/internal/http/handlers"
	appmw "github.com/fieldtrack/attendance/internal/http/middleware"
	"github.com/fieldtrack/attendance/internal/session"
)

type mockLogin struct {
	resp    *session.LoginResponse
	err     error
	lastReq session.LoginRequest
	lastIP  string
}

func (m *mockLogin) Login(_ context.Context, req session.LoginRequest, ip, _ string) (*session.LoginResponse, error) {
	m.lastReq = req
	m.lastIP = ip
	if m.err != nil {
		return nil, m.err
	}
	return m.resp, nil
}

type mockSessions struct {
	loggedOut  bool
	logoutErr  error
	lastLogout *domain.UserSession
}

func (m *mockSessions) Logout(_ context.Context, sess *domain.UserSession) error {
	m.loggedOut = true
	m.lastLogout = sess
	return m.logoutErr
}

func TestLogin_Success(t *testing.T) {
	login := &mockLogin{resp: &session.LoginResponse{
		AccessToken: "token-abc",
		ExpiresIn:   43200,
		User:        &domain.UserInfo{ID: 7, Email: "worker@example.com"},
	}}
	h := handlers.NewAuthHandler(login, &mockSessions{})

	body := bytes.NewBufferString(`{"email":"Worker@Example.com ","password":"secret"}`)
	req := httptest.NewRequest(http.MethodPost, "/login", body)
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	rr := httptest.NewRecorder()
	h.Routes().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if login.lastReq.Email != "worker@example.com" {
		t.Errorf("expected normalized email, got %q", login.lastReq.Email)
	}
	if login.lastIP != "203.0.113.9" {
		t.Errorf("expected forwarded IP, got %q", login.lastIP)
	}
	var resp session.LoginResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if resp.AccessToken != "token-abc" {
		t.Errorf("expected access token in response, got %q", resp.AccessToken)
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	login := &mockLogin{err: domain.ErrInvalidCredentials}
	h := handlers.NewAuthHandler(login, &mockSessions{})

	req := httptest.NewRequest(http.MethodPost, "/login", bytes.NewBufferString(`{"email":"a@b.c","password":"wrong"}`))
	rr := httptest.NewRecorder()
	h.Routes().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	var resp map[string]any
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp["code"] != "INVALID_CREDENTIALS" {
		t.Errorf("expected code INVALID_CREDENTIALS, got %v", resp["code"])
	}
}

func TestLogin_DeactivatedAccount(t *testing.T) {
	login := &mockLogin{err: domain.ErrAccountDeactivated}
	h := handlers.NewAuthHandler(login, &mockSessions{})

	req := httptest.NewRequest(http.MethodPost, "/login", bytes.NewBufferString(`{"email":"a@b.c","password":"pw"}`))
	rr := httptest.NewRecorder()
	h.Routes().ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestLogin_MalformedBody(t *testing.T) {
	h := handlers.NewAuthHandler(&mockLogin{}, &mockSessions{})

	req := httptest.NewRequest(http.MethodPost, "/login", bytes.NewBufferString("{not json"))
	rr := httptest.NewRecorder()
	h.Routes().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestLogout_InvalidatesSession(t *testing.T) {
	sessions := &mockSessions{}
	h := handlers.NewAuthHandler(&mockLogin{}, sessions)
	validator := &mockValidator{user: testUser(), sess: &domain.UserSession{ID: 9, UserID: 7}}

	req := authedRequest(http.MethodPost, "/logout", nil)
	rr := httptest.NewRecorder()
	appmw.RequireSession(validator)(h.ProtectedRoutes()).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !sessions.loggedOut {
		t.Fatal("expected logout to reach the session service")
	}
	if sessions.lastLogout.ID != 9 {
		t.Errorf("expected session 9 logged out, got %d", sessions.lastLogout.ID)
	}
}

func TestMe_ReturnsUserInfo(t *testing.T) {
	h := handlers.NewAuthHandler(&mockLogin{}, &mockSessions{})
	validator := &mockValidator{user: testUser(), sess: &domain.UserSession{}}

	req := authedRequest(http.MethodGet, "/me", nil)
	rr := httptest.NewRecorder()
	appmw.RequireSession(validator)(h.ProtectedRoutes()).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var info domain.UserInfo
	if err := json.Unmarshal(rr.Body.Bytes(), &info); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if info.ID != 7 || info.Email != "worker@example.com" {
		t.Errorf("unexpected user info: %+v", info)
	}
	if bytes.Contains(rr.Body.Bytes(), []byte("password")) {
		t.Error("response must not contain password fields")
	}
}

func TestExpiredToken_Returns401(t *testing.T) {
	h := handlers.NewAuthHandler(&mockLogin{}, &mockSessions{})
	validator := &mockValidator{err: domain.ErrTokenExpired}

	req := authedRequest(http.MethodGet, "/me", nil)
	rr := httptest.NewRecorder()
	appmw.RequireSession(validator)(h.ProtectedRoutes()).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	var resp map[string]any
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp["code"] != "EXPIRED_TOKEN" {
		t.Errorf("expected code EXPIRED_TOKEN, got %v", resp["code"])
	}
}
