package auth

import (
	"net/http"
	"strings"

	"store-backend/internal/session"
)

type CredentialKind int

const (
	CredentialNone CredentialKind = iota
	CredentialToken
	CredentialSession
)

// Credential is the tagged result of extraction: a token to verify, a session snapshot
// that is already authenticated, or nothing.
type Credential struct {
	Kind CredentialKind
	// Token and Carrier are set for CredentialToken.
	Token   string
	Carrier string
	// Session is set for CredentialSession.
	Session session.Snapshot
}

const (
	CarrierHeader = "header"
	CarrierCookie = "cookie"
	CarrierQuery  = "query"
)

type TokenExtractor struct {
	CookieName string
	QueryParam string
}

func NewTokenExtractor(cookieName, queryParam string) TokenExtractor {
	if cookieName == "" {
		cookieName = "access_token"
	}
	if queryParam == "" {
		queryParam = "token"
	}
	return TokenExtractor{CookieName: cookieName, QueryParam: queryParam}
}

// Extract resolves the request credential with precedence bearer header, cookie, query
// parameter, then the ambient session.
func (e TokenExtractor) Extract(r *http.Request) Credential {
	if token := bearerToken(r.Header.Get("Authorization")); token != "" {
		return Credential{Kind: CredentialToken, Token: token, Carrier: CarrierHeader}
	}

	if e.CookieName != "" {
		if cookie, err := r.Cookie(e.CookieName); err == nil {
			if token := strings.TrimSpace(cookie.Value); token != "" {
				return Credential{Kind: CredentialToken, Token: token, Carrier: CarrierCookie}
			}
		}
	}

	if e.QueryParam != "" {
		if token := strings.TrimSpace(r.URL.Query().Get(e.QueryParam)); token != "" {
			return Credential{Kind: CredentialToken, Token: token, Carrier: CarrierQuery}
		}
	}

	if snapshot, ok := session.FromContext(r.Context()); ok {
		return Credential{Kind: CredentialSession, Session: snapshot}
	}

	return Credential{Kind: CredentialNone}
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
