package results

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/saveenergy/chunkbench/internal/logging"
)

const maxListLimit = 500

// Handler exposes the session history read-only over HTTP.
type Handler struct {
	store *Store
}

func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

// Register mounts the history routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/sessions", h.List)
	mux.HandleFunc("GET /api/v1/sessions/{id}", h.Get)
	mux.HandleFunc("GET /api/v1/sessions/{id}/csv", h.CSV)
}

func respondJSONError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		logging.Warn("results: marshal response failed", logging.Field{Key: "error", Value: err})
		code = http.StatusInternalServerError
		body = []byte(`{"error":"internal error"}` + "\n")
	}
	w.Header().Set("Content-Type", "application/json")
	if code == http.StatusOK {
		w.Header().Set("Cache-Control", "no-store")
	}
	w.WriteHeader(code)
	if _, err := w.Write(body); err != nil {
		logging.Warn("results: write response failed", logging.Field{Key: "error", Value: err})
	}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	limit := defaultListSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxListLimit {
			respondJSONError(w, "limit must be between 1 and 500", http.StatusBadRequest)
			return
		}
		limit = n
	}

	sessions, err := h.store.List(limit)
	if err != nil {
		msg, code := mapGetStoreError(err)
		respondJSONError(w, msg, code)
		return
	}
	if sessions == nil {
		sessions = []SessionResult{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	result, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// CSV returns the stored chunk rows in the same table layout the receiver
// writes to disk.
func (h *Handler) CSV(w http.ResponseWriter, r *http.Request) {
	result, ok := h.lookup(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="`+result.ID+`.csv"`)
	if err := WriteCSV(w, result.Records); err != nil {
		logging.Warn("results: write csv failed", logging.Field{Key: "error", Value: err})
	}
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*SessionResult, bool) {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		respondJSONError(w, "invalid session ID", http.StatusBadRequest)
		return nil, false
	}

	result, err := h.store.Get(id)
	if err != nil {
		msg, code := mapGetStoreError(err)
		respondJSONError(w, msg, code)
		return nil, false
	}
	if result == nil {
		respondJSONError(w, "session not found", http.StatusNotFound)
		return nil, false
	}
	return result, true
}

func mapGetStoreError(err error) (string, int) {
	if errors.Is(err, ErrStoreRetryable) {
		return "store temporarily unavailable", http.StatusServiceUnavailable
	}
	return "internal error", http.StatusInternalServerError
}
