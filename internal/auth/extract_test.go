package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"store-backend/internal/session"
)

func TestExtractPrecedence(t *testing.T) {
	extractor := NewTokenExtractor("", "")
	snapshot := session.Snapshot{UserID: customerID, Email: "ana@example.com", Role: "customer"}

	cases := []struct {
		name        string
		header      bool
		cookie      bool
		query       bool
		session     bool
		wantKind    CredentialKind
		wantToken   string
		wantCarrier string
	}{
		{name: "nothing", wantKind: CredentialNone},
		{name: "session only", session: true, wantKind: CredentialSession},
		{name: "query", query: true, wantKind: CredentialToken, wantToken: "query-token", wantCarrier: CarrierQuery},
		{name: "query over session", query: true, session: true, wantKind: CredentialToken, wantToken: "query-token", wantCarrier: CarrierQuery},
		{name: "cookie", cookie: true, wantKind: CredentialToken, wantToken: "cookie-token", wantCarrier: CarrierCookie},
		{name: "cookie over query", cookie: true, query: true, wantKind: CredentialToken, wantToken: "cookie-token", wantCarrier: CarrierCookie},
		{name: "cookie over session", cookie: true, session: true, wantKind: CredentialToken, wantToken: "cookie-token", wantCarrier: CarrierCookie},
		{name: "header", header: true, wantKind: CredentialToken, wantToken: "header-token", wantCarrier: CarrierHeader},
		{name: "header over cookie", header: true, cookie: true, wantKind: CredentialToken, wantToken: "header-token", wantCarrier: CarrierHeader},
		{name: "header over query", header: true, query: true, wantKind: CredentialToken, wantToken: "header-token", wantCarrier: CarrierHeader},
		{name: "header over all", header: true, cookie: true, query: true, session: true, wantKind: CredentialToken, wantToken: "header-token", wantCarrier: CarrierHeader},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			target := "/orders"
			if tc.query {
				target += "?token=query-token"
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tc.header {
				req.Header.Set("Authorization", "Bearer header-token")
			}
			if tc.cookie {
				req.AddCookie(&http.Cookie{Name: "access_token", Value: "cookie-token"})
			}
			if tc.session {
				req = req.WithContext(session.WithSnapshot(req.Context(), snapshot))
			}

			got := extractor.Extract(req)
			assert.Equal(t, tc.wantKind, got.Kind)
			assert.Equal(t, tc.wantToken, got.Token)
			assert.Equal(t, tc.wantCarrier, got.Carrier)
			if tc.wantKind == CredentialSession {
				assert.Equal(t, snapshot, got.Session)
			}
		})
	}
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", bearerToken("Bearer abc"))
	assert.Equal(t, "abc", bearerToken("bearer   abc "))
	assert.Empty(t, bearerToken("Basic abc"))
	assert.Empty(t, bearerToken("Bearer"))
	assert.Empty(t, bearerToken(""))
}

func TestExtractIgnoresEmptyCarriers(t *testing.T) {
	extractor := NewTokenExtractor("access_token", "token")
	req := httptest.NewRequest(http.MethodGet, "/orders?token=query-token", nil)
	req.Header.Set("Authorization", "Bearer ")
	req.AddCookie(&http.Cookie{Name: "access_token", Value: ""})

	got := extractor.Extract(req)
	assert.Equal(t, CredentialToken, got.Kind)
	assert.Equal(t, CarrierQuery, got.Carrier)
}
