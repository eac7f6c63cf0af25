package auth

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"store-backend/internal/observability"
	"store-backend/internal/session"
)

var emailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

const (
	maxJSONBodyBytes  = 1 << 20
	minPasswordLength = 8
	maxPasswordLength = 200
)

type HandlerConfig struct {
	AccessCookieName string
	CookieSecure     bool
}

type Handler struct {
	service  *Service
	sessions *session.Manager
	cfg      HandlerConfig
	logger   *observability.Logger
}

// NewHandler builds the auth endpoints. sessions may be nil, in which case login does
// not start a legacy session.
func NewHandler(service *Service, sessions *session.Manager, cfg HandlerConfig, logger *observability.Logger) *Handler {
	if cfg.AccessCookieName == "" {
		cfg.AccessCookieName = "access_token"
	}
	if logger == nil {
		logger = observability.Discard()
	}
	return &Handler{service: service, sessions: sessions, cfg: cfg, logger: logger}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type loginResponse struct {
	User Principal `json:"user"`
	TokenPair
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeBadRequest(w, "invalid json body")
		return false
	}
	return true
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	body.Email = strings.TrimSpace(body.Email)
	if !emailRegex.MatchString(body.Email) {
		writeBadRequest(w, "email format is invalid")
		return
	}
	if body.Password == "" || len(body.Password) > maxPasswordLength {
		writeBadRequest(w, "password format is invalid")
		return
	}

	result, err := h.service.Login(r.Context(), body.Email, body.Password)
	if err != nil {
		WriteError(w, err)
		return
	}

	if h.sessions != nil {
		if err := h.sessions.Start(r.Context(), w, snapshotFromIdentity(result.Identity)); err != nil {
			h.logger.Warn("session_start_failed", map[string]any{
				"identity_id": result.Identity.ID,
				"error":       err.Error(),
			})
		}
	}
	h.setAccessCookie(w, result.Tokens)

	writeSuccess(w, http.StatusOK, loginResponse{
		User:      principalFromIdentity(result.Identity),
		TokenPair: result.Tokens,
	})
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var body refreshRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	tokens, err := h.service.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		WriteError(w, err)
		return
	}

	h.setAccessCookie(w, tokens)
	writeSuccess(w, http.StatusOK, tokens)
}

// Logout ends the legacy session and clears the access cookie. Issued tokens stay
// valid until they expire.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if h.sessions != nil {
		if err := h.sessions.End(w, r); err != nil {
			h.logger.Warn("session_destroy_failed", map[string]any{"error": err.Error()})
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.AccessCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	writeSuccess(w, http.StatusOK, map[string]string{"message": "logged out"})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		WriteError(w, ErrUnauthenticated)
		return
	}
	writeSuccess(w, http.StatusOK, principal)
}

// Status reports whether the request carries a usable credential. It is mounted behind
// OptionalAuth and never rejects.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeSuccess(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"user":          principal,
		"source":        principal.Source,
	})
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		WriteError(w, ErrUnauthenticated)
		return
	}

	var body changePasswordRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.CurrentPassword == "" {
		writeBadRequest(w, "current password is required")
		return
	}
	if len(body.NewPassword) < minPasswordLength || len(body.NewPassword) > MaxPasswordBytes {
		writeBadRequest(w, "new password must be between 8 characters and 72 bytes")
		return
	}

	if err := h.service.ChangePassword(r.Context(), principal.ID, body.CurrentPassword, body.NewPassword); err != nil {
		WriteError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]string{"message": "password updated"})
}

func (h *Handler) Unlock(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeBadRequest(w, "identity id is invalid")
		return
	}

	previous, err := h.service.Unlock(r.Context(), id)
	if err != nil {
		WriteError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]any{
		"id":                    id,
		"clearedFailedAttempts": previous.FailedAttempts,
	})
}

func (h *Handler) setAccessCookie(w http.ResponseWriter, tokens TokenPair) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.AccessCookieName,
		Value:    tokens.AccessToken,
		Path:     "/",
		MaxAge:   int(tokens.ExpiresIn),
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
