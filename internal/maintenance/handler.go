package maintenance

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"store-backend/internal/counter"
	"store-backend/internal/observability"
)

const defaultBatchSize = 1000

type CleanupHandler struct {
	sweeper    counter.Sweeper
	logger     *observability.Logger
	cronSecret string
	batchSize  int
	now        func() time.Time
}

// NewCleanupHandler serves the scheduled sweep of expired counter records. An empty
// cronSecret disables the endpoint.
func NewCleanupHandler(sweeper counter.Sweeper, logger *observability.Logger, cronSecret string, batchSize int) *CleanupHandler {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if logger == nil {
		logger = observability.Discard()
	}
	return &CleanupHandler{
		sweeper:    sweeper,
		logger:     logger,
		cronSecret: strings.TrimSpace(cronSecret),
		batchSize:  batchSize,
		now:        time.Now,
	}
}

func (h *CleanupHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret == "" || h.sweeper == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "not found"})
		return
	}

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if !h.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "unauthorized", "code": "UNAUTHENTICATED"})
		return
	}

	started := h.now()
	deleted, err := h.sweeper.DeleteExpired(r.Context(), started.UTC(), h.batchSize)
	if err != nil {
		h.logger.Error("counter_cleanup_failed", map[string]any{"error": err.Error()})
		observability.CaptureError(err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "message": "cleanup failed", "code": "INTERNAL_ERROR"})
		return
	}

	h.logger.Info("counter_cleanup_completed", map[string]any{
		"deleted_counters": deleted,
		"batch_size":       h.batchSize,
		"duration_ms":      h.now().Sub(started).Milliseconds(),
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data": map[string]any{
			"deletedCounters": deleted,
			"batchSize":       h.batchSize,
		},
	})
}

func (h *CleanupHandler) authorized(r *http.Request) bool {
	parts := strings.SplitN(strings.TrimSpace(r.Header.Get("Authorization")), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return false
	}
	presented := strings.TrimSpace(parts[1])
	return subtle.ConstantTimeCompare([]byte(presented), []byte(h.cronSecret)) == 1
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
