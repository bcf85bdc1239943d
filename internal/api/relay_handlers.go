package api

import (
	"net/http"

	"github.com/onnwee/spotstr/internal/relay"
	"github.com/onnwee/spotstr/internal/validate"
)

// RelayPool is the relay management surface. *relay.Pool satisfies it.
type RelayPool interface {
	Stats() []relay.Stats
	Add(url string, roles ...relay.Role) error
	Remove(url string) bool
}

// RelayHandlers manages the relay pool at runtime.
type RelayHandlers struct {
	pool RelayPool
}

// NewRelayHandlers creates the relay handlers.
func NewRelayHandlers(pool RelayPool) *RelayHandlers {
	return &RelayHandlers{pool: pool}
}

// ListRelaysResponse is the body of GET /relays.
type ListRelaysResponse struct {
	Relays []relay.Stats `json:"relays"`
}

// List handles GET /relays.
func (h *RelayHandlers) List(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, r.Context(), http.StatusOK, ListRelaysResponse{Relays: h.pool.Stats()})
}

// AddRelayRequest is the body of POST /relays. Roles default to location.
type AddRelayRequest struct {
	URL   string       `json:"url"`
	Roles []relay.Role `json:"roles,omitempty"`
}

// Add handles POST /relays.
func (h *RelayHandlers) Add(w http.ResponseWriter, r *http.Request) {
	var req AddRelayRequest
	if !decodeBody(w, r, &req) {
		return
	}
	url, err := validate.RelayURL(req.URL)
	if err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "Invalid relay URL: "+err.Error())
		return
	}
	if len(req.Roles) == 0 {
		req.Roles = []relay.Role{relay.RoleLocation}
	}
	for _, role := range req.Roles {
		if role != relay.RoleLocation && role != relay.RoleProfile {
			WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "Unknown relay role "+string(role))
			return
		}
	}
	if err := h.pool.Add(url, req.Roles...); err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}
	WriteJSON(w, r.Context(), http.StatusCreated, ListRelaysResponse{Relays: h.pool.Stats()})
}

// Remove handles DELETE /relays?url=...
func (h *RelayHandlers) Remove(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "url query parameter is required")
		return
	}
	if !h.pool.Remove(url) {
		WriteError(w, r.Context(), http.StatusNotFound, ErrCodeNotFound, "Relay not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
