package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStores(t *testing.T) map[string]Store {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"redis":  NewRedisStore(client, "test-session"),
	}
}

func TestStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	snapshot := Snapshot{UserID: "u1", Email: "ana@example.com", Role: "customer"}

	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			id, err := store.Create(ctx, snapshot, time.Hour)
			require.NoError(t, err)
			assert.Len(t, id, 64)

			got, err := store.Get(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, "u1", got.UserID)
			assert.Equal(t, "ana@example.com", got.Email)

			require.NoError(t, store.Destroy(ctx, id))
			_, err = store.Get(ctx, id)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	store.now = func() time.Time { return now }

	id, err := store.Create(ctx, Snapshot{UserID: "u1"}, time.Minute)
	require.NoError(t, err)

	now = now.Add(time.Minute)
	_, err = store.Get(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManagerStartLoadEnd(t *testing.T) {
	store := NewMemoryStore()
	manager := NewManager(store, Config{CookieName: "sid", TTL: time.Hour}, nil)

	rr := httptest.NewRecorder()
	require.NoError(t, manager.Start(context.Background(), rr, Snapshot{UserID: "u1", Role: "admin"}))

	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	cookie := cookies[0]
	assert.Equal(t, "sid", cookie.Name)
	assert.True(t, cookie.HttpOnly)

	var loaded Snapshot
	var loadedOK bool
	handler := manager.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		loaded, loadedOK = FromContext(r.Context())
		require.NoError(t, manager.End(w, r))
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	endRR := httptest.NewRecorder()
	handler.ServeHTTP(endRR, req)

	require.True(t, loadedOK)
	assert.Equal(t, "u1", loaded.UserID)
	assert.False(t, loaded.CreatedAt.IsZero())

	_, err := store.Get(context.Background(), cookie.Value)
	assert.ErrorIs(t, err, ErrNotFound)

	cleared := endRR.Result().Cookies()
	require.Len(t, cleared, 1)
	assert.Equal(t, -1, cleared[0].MaxAge)
}

func TestMiddlewareIgnoresUnknownSession(t *testing.T) {
	manager := NewManager(NewMemoryStore(), Config{}, nil)

	called := false
	handler := manager.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		_, ok := FromContext(r.Context())
		assert.False(t, ok)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "sid", Value: "does-not-exist"})
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.True(t, called)
}
