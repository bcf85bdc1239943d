package api

import (
	"net/http"
	"strconv"

	"github.com/onnwee/spotstr/internal/archive"
	"github.com/onnwee/spotstr/internal/location"
)

// MaxArchiveLimit caps the page size of GET /archive.
const MaxArchiveLimit = 1000

// ArchiveHandlers serves the persisted location history.
type ArchiveHandlers struct {
	repo archive.Repository
}

// NewArchiveHandlers creates the archive handlers.
func NewArchiveHandlers(repo archive.Repository) *ArchiveHandlers {
	return &ArchiveHandlers{repo: repo}
}

// ListArchiveResponse is the body of GET /archive.
type ListArchiveResponse struct {
	Locations []*location.Event `json:"locations"`
}

// List handles GET /archive?sender=&receiver=&since=&limit=.
func (h *ArchiveHandlers) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter archive.Filter
	var ok bool
	if filter.Sender, ok = optionalPubkey(w, r, q.Get("sender")); !ok {
		return
	}
	if filter.Receiver, ok = optionalPubkey(w, r, q.Get("receiver")); !ok {
		return
	}
	if raw := q.Get("since"); raw != "" {
		since, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || since < 0 {
			WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "since must be unix seconds")
			return
		}
		filter.Since = since
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > MaxArchiveLimit {
			WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "limit must be between 1 and 1000")
			return
		}
		filter.Limit = limit
	}

	events, err := h.repo.List(r.Context(), filter)
	if err != nil {
		WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal, "Failed to list archive")
		return
	}
	if events == nil {
		events = []*location.Event{}
	}
	WriteJSON(w, r.Context(), http.StatusOK, ListArchiveResponse{Locations: events})
}
