package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"store-backend/internal/session"
)

type handlerFixture struct {
	*serviceFixture
	sessions session.Store
	mux      http.Handler
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	f := newServiceFixture(t)
	store := session.NewMemoryStore()
	manager := session.NewManager(store, session.Config{TTL: time.Hour}, nil)
	handler := NewHandler(f.service, manager, HandlerConfig{}, nil)
	guard := NewGuard(NewTokenExtractor("", ""), f.codec, f.store, nil, nil)
	gate := NewRoleGate(nil)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", handler.Login)
	mux.HandleFunc("POST /auth/refresh", handler.Refresh)
	mux.HandleFunc("POST /auth/logout", handler.Logout)
	mux.Handle("GET /auth/me", guard.Protect(http.HandlerFunc(handler.Me)))
	mux.Handle("POST /auth/password", guard.Protect(http.HandlerFunc(handler.ChangePassword)))
	mux.Handle("POST /admin/identities/{id}/unlock", guard.Protect(gate.RequireAdmin(http.HandlerFunc(handler.Unlock))))

	return &handlerFixture{serviceFixture: f, sessions: store, mux: manager.Middleware(mux)}
}

func (f *handlerFixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func responseCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}

type loginEnvelope struct {
	Success bool `json:"success"`
	Data    struct {
		User         Principal `json:"user"`
		AccessToken  string    `json:"accessToken"`
		RefreshToken string    `json:"refreshToken"`
		TokenType    string    `json:"tokenType"`
		ExpiresIn    int64     `json:"expiresIn"`
	} `json:"data"`
}

func TestHandlerLoginSuccess(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.do(jsonRequest(http.MethodPost, "/auth/login", `{"email":"ana@example.com","password":"correct horse"}`))
	require.Equal(t, http.StatusOK, rec.Code)

	var body loginEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, customerID, body.Data.User.ID)
	assert.Equal(t, RoleCustomer, body.Data.User.Role)
	assert.Equal(t, "Bearer", body.Data.TokenType)
	assert.NotEmpty(t, body.Data.RefreshToken)
	assert.NotContains(t, rec.Body.String(), "$2a$")

	access := responseCookie(rec, "access_token")
	require.NotNil(t, access)
	assert.Equal(t, body.Data.AccessToken, access.Value)
	assert.True(t, access.HttpOnly)

	sid := responseCookie(rec, "sid")
	require.NotNil(t, sid)
	snapshot, err := f.sessions.Get(t.Context(), sid.Value)
	require.NoError(t, err)
	assert.Equal(t, customerID, snapshot.UserID)
}

func TestHandlerLoginValidation(t *testing.T) {
	f := newHandlerFixture(t)

	cases := map[string]string{
		"malformed json": `{"email":`,
		"unknown field":  `{"email":"ana@example.com","password":"x","remember":true}`,
		"bad email":      `{"email":"ana","password":"x"}`,
		"empty password": `{"email":"ana@example.com","password":""}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			rec := f.do(jsonRequest(http.MethodPost, "/auth/login", payload))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.False(t, decodeRejection(t, rec).Success)
		})
	}
}

func TestHandlerLoginRejections(t *testing.T) {
	f := newHandlerFixture(t)

	for i := 0; i < 3; i++ {
		rec := f.do(jsonRequest(http.MethodPost, "/auth/login", `{"email":"ana@example.com","password":"wrong"}`))
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, CodeInvalidCredentials, decodeRejection(t, rec).Code)
	}

	rec := f.do(jsonRequest(http.MethodPost, "/auth/login", `{"email":"ana@example.com","password":"correct horse"}`))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decodeRejection(t, rec)
	assert.Equal(t, CodeAccountLocked, body.Code)
	assert.Positive(t, body.RetryAfter)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestHandlerSessionLoginThenMe(t *testing.T) {
	f := newHandlerFixture(t)

	login := f.do(jsonRequest(http.MethodPost, "/auth/login", `{"email":"bruno@example.com","password":"battery staple"}`))
	require.Equal(t, http.StatusOK, login.Code)
	sid := responseCookie(login, "sid")
	require.NotNil(t, sid)

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(sid)
	rec := f.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), otherID)

	logoutReq := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	logoutReq.AddCookie(sid)
	logout := f.do(logoutReq)
	require.Equal(t, http.StatusOK, logout.Code)
	cleared := responseCookie(logout, "access_token")
	require.NotNil(t, cleared)
	assert.Empty(t, cleared.Value)
	assert.Negative(t, cleared.MaxAge)

	req = httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(sid)
	assert.Equal(t, http.StatusUnauthorized, f.do(req).Code)
}

func TestHandlerRefresh(t *testing.T) {
	f := newHandlerFixture(t)

	pair, err := f.codec.IssuePair(customerID)
	require.NoError(t, err)

	rec := f.do(jsonRequest(http.MethodPost, "/auth/refresh", `{"refreshToken":"`+pair.RefreshToken+`"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"accessToken"`)

	rec = f.do(jsonRequest(http.MethodPost, "/auth/refresh", `{"refreshToken":"`+pair.AccessToken+`"}`))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, CodeTokenInvalid, decodeRejection(t, rec).Code)
}

func TestHandlerChangePassword(t *testing.T) {
	f := newHandlerFixture(t)
	token, err := f.codec.IssueAccessToken(customerID)
	require.NoError(t, err)

	req := jsonRequest(http.MethodPost, "/auth/password", `{"currentPassword":"correct horse","newPassword":"short"}`)
	req.Header.Set("Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusBadRequest, f.do(req).Code)

	req = jsonRequest(http.MethodPost, "/auth/password", `{"currentPassword":"correct horse","newPassword":"`+strings.Repeat("a", 100)+`"}`)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := f.do(req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeBadRequest, decodeRejection(t, rec).Code)

	req = jsonRequest(http.MethodPost, "/auth/password", `{"currentPassword":"nope","newPassword":"long enough secret"}`)
	req.Header.Set("Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusUnauthorized, f.do(req).Code)

	req = jsonRequest(http.MethodPost, "/auth/password", `{"currentPassword":"correct horse","newPassword":"long enough secret"}`)
	req.Header.Set("Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusOK, f.do(req).Code)
}

func TestHandlerUnlockRequiresAdmin(t *testing.T) {
	f := newHandlerFixture(t)
	for i := 0; i < 3; i++ {
		_, _ = f.service.Login(t.Context(), "ana@example.com", "wrong")
	}

	customerToken, err := f.codec.IssueAccessToken(otherID)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/admin/identities/"+customerID+"/unlock", nil)
	req.Header.Set("Authorization", "Bearer "+customerToken)
	assert.Equal(t, http.StatusForbidden, f.do(req).Code)

	adminToken, err := f.codec.IssueAccessToken(adminID)
	require.NoError(t, err)

	req = httptest.NewRequest(http.MethodPost, "/admin/identities/not-a-uuid/unlock", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	assert.Equal(t, http.StatusBadRequest, f.do(req).Code)

	req = httptest.NewRequest(http.MethodPost, "/admin/identities/"+customerID+"/unlock", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	rec := f.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"clearedFailedAttempts":3`)

	_, err = f.service.Login(t.Context(), "ana@example.com", "correct horse")
	assert.NoError(t, err)
}

func TestHandlerStatusIsOptional(t *testing.T) {
	f := newHandlerFixture(t)
	guard := NewGuard(NewTokenExtractor("", ""), f.codec, f.store, nil, nil)
	handler := NewHandler(f.service, nil, HandlerConfig{}, nil)
	status := guard.OptionalAuth(http.HandlerFunc(handler.Status))

	rec := httptest.NewRecorder()
	status.ServeHTTP(rec, bearerRequest(t, http.MethodGet, "/auth/status", "garbage"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"data":{"authenticated":false}}`, rec.Body.String())

	token, err := f.codec.IssueAccessToken(customerID)
	require.NoError(t, err)
	rec = httptest.NewRecorder()
	status.ServeHTTP(rec, bearerRequest(t, http.MethodGet, "/auth/status", token))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"authenticated":true`)
	assert.Contains(t, rec.Body.String(), `"source":"token"`)
}
