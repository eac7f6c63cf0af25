package auth

import (
	"context"
	"time"

	"store-backend/internal/session"
)

type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
	RoleManager  Role = "manager"
)

func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleAdmin, RoleManager:
		return true
	default:
		return false
	}
}

// Identity is the credential store's view of an account. PasswordHash is nil for
// credential-less (social-only) accounts and for identities loaded without secrets.
type Identity struct {
	ID           string
	Email        string
	Name         string
	Role         Role
	Active       bool
	PasswordHash *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CredentialStore is the accessor over persisted identities. FindByID must not load
// the password hash.
type CredentialStore interface {
	FindByEmail(ctx context.Context, email string) (Identity, error)
	FindByID(ctx context.Context, id string) (Identity, error)
	UpdatePasswordHash(ctx context.Context, id, hash string) error
}

// Principal is the authenticated caller attached to a request.
type Principal struct {
	ID     string `json:"id"`
	Email  string `json:"email"`
	Name   string `json:"name,omitempty"`
	Role   Role   `json:"role"`
	Source string `json:"-"`
}

const (
	SourceToken   = "token"
	SourceSession = "session"
)

func principalFromIdentity(identity Identity) Principal {
	return Principal{
		ID:     identity.ID,
		Email:  identity.Email,
		Name:   identity.Name,
		Role:   identity.Role,
		Source: SourceToken,
	}
}

func principalFromSnapshot(snapshot session.Snapshot) Principal {
	return Principal{
		ID:     snapshot.UserID,
		Email:  snapshot.Email,
		Name:   snapshot.Name,
		Role:   Role(snapshot.Role),
		Source: SourceSession,
	}
}

func snapshotFromIdentity(identity Identity) session.Snapshot {
	return session.Snapshot{
		UserID: identity.ID,
		Email:  identity.Email,
		Name:   identity.Name,
		Role:   string(identity.Role),
	}
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok && p.ID != ""
}

type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	TokenType    string `json:"tokenType"`
	ExpiresIn    int64  `json:"expiresIn"`
}
