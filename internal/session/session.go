// Package session implements the legacy server-side session used by browser clients
// that predate bearer tokens. A session carries a denormalized snapshot of the public
// identity fields and lives until logout or its ttl, independent of any token.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"
)

var ErrNotFound = errors.New("session not found")

type Snapshot struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

type Store interface {
	Create(ctx context.Context, snapshot Snapshot, ttl time.Duration) (string, error)
	Get(ctx context.Context, id string) (Snapshot, error)
	Destroy(ctx context.Context, id string) error
}

type ctxKey struct{}

type ambient struct {
	id       string
	snapshot Snapshot
}

func withSession(ctx context.Context, id string, snapshot Snapshot) context.Context {
	return context.WithValue(ctx, ctxKey{}, ambient{id: id, snapshot: snapshot})
}

// FromContext returns the session snapshot loaded for the current request.
func FromContext(ctx context.Context) (Snapshot, bool) {
	a, ok := ctx.Value(ctxKey{}).(ambient)
	if !ok || a.snapshot.UserID == "" {
		return Snapshot{}, false
	}
	return a.snapshot, true
}

// WithSnapshot attaches snapshot to ctx as if it had been loaded from a cookie.
func WithSnapshot(ctx context.Context, snapshot Snapshot) context.Context {
	return withSession(ctx, "", snapshot)
}

func idFromContext(ctx context.Context) string {
	a, _ := ctx.Value(ctxKey{}).(ambient)
	return a.id
}

func newID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
