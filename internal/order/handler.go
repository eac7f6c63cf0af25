package order

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"store-backend/internal/auth"
)

type Reader interface {
	OwnerOf(ctx context.Context, id string) (string, error)
	Get(ctx context.Context, id string) (Order, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]Order, error)
	ListAll(ctx context.Context, limit int) ([]Order, error)
}

type Handler struct {
	repo Reader
}

func NewHandler(repo Reader) *Handler {
	return &Handler{repo: repo}
}

// Owner resolves the owner of the order addressed by the {id} path value.
func (h *Handler) Owner() auth.OwnerResolver {
	return auth.OwnerResolverFunc(func(r *http.Request) (string, error) {
		return h.repo.OwnerOf(r.Context(), r.PathValue("id"))
	})
}

// GetOrder expects the ownership gate to have run.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.repo.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		auth.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *Handler) ListMine(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		auth.WriteError(w, auth.ErrUnauthenticated)
		return
	}

	orders, err := h.repo.ListByUser(r.Context(), principal.ID, parseLimit(r))
	if err != nil {
		auth.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) ListAll(w http.ResponseWriter, r *http.Request) {
	orders, err := h.repo.ListAll(r.Context(), parseLimit(r))
	if err != nil {
		auth.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func parseLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		return 0
	}
	return limit
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "data": data})
}
