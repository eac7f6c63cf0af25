package session

import (
	"context"
	"errors"
	"net/http"
	"time"

	"store-backend/internal/observability"
)

type Config struct {
	CookieName string
	TTL        time.Duration
	Secure     bool
}

// Manager owns the session cookie and the ambient snapshot of each request.
type Manager struct {
	store  Store
	cfg    Config
	logger *observability.Logger
}

func NewManager(store Store, cfg Config, logger *observability.Logger) *Manager {
	if cfg.CookieName == "" {
		cfg.CookieName = "sid"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if logger == nil {
		logger = observability.Discard()
	}
	return &Manager{store: store, cfg: cfg, logger: logger}
}

// Middleware loads the snapshot referenced by the session cookie, if any. Lookup
// failures leave the request without a session.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(m.cfg.CookieName)
		if err != nil || cookie.Value == "" {
			next.ServeHTTP(w, r)
			return
		}

		snapshot, err := m.store.Get(r.Context(), cookie.Value)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				m.logger.Warn("session_load_failed", map[string]any{"error": err.Error()})
			}
			next.ServeHTTP(w, r)
			return
		}

		next.ServeHTTP(w, r.WithContext(withSession(r.Context(), cookie.Value, snapshot)))
	})
}

// Start creates a session for snapshot and sets the cookie.
func (m *Manager) Start(ctx context.Context, w http.ResponseWriter, snapshot Snapshot) error {
	if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = time.Now().UTC()
	}

	id, err := m.store.Create(ctx, snapshot, m.cfg.TTL)
	if err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(m.cfg.TTL.Seconds()),
		HttpOnly: true,
		Secure:   m.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// End destroys the request's session, if any, and expires the cookie.
func (m *Manager) End(w http.ResponseWriter, r *http.Request) error {
	id := idFromContext(r.Context())
	if id == "" {
		if cookie, err := r.Cookie(m.cfg.CookieName); err == nil {
			id = cookie.Value
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})

	if id == "" {
		return nil
	}
	return m.store.Destroy(context.WithoutCancel(r.Context()), id)
}
