package api

import (
	"errors"
	"net/http"

	"github.com/onnwee/spotstr/internal/groups"
)

// GroupHandlers serves the group registry.
type GroupHandlers struct {
	registry *groups.Registry
}

// NewGroupHandlers creates the group handlers.
func NewGroupHandlers(registry *groups.Registry) *GroupHandlers {
	return &GroupHandlers{registry: registry}
}

// ListGroupsResponse is the body of GET /groups.
type ListGroupsResponse struct {
	Groups []*groups.Group `json:"groups"`
}

// List handles GET /groups.
func (h *GroupHandlers) List(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, r.Context(), http.StatusOK, ListGroupsResponse{Groups: h.registry.List()})
}

// CreateGroupRequest is the body of POST /groups. With ShareURL the group
// is imported from a share link; with Nsec it is imported from a secret;
// otherwise a new key is generated.
type CreateGroupRequest struct {
	Name     string `json:"name,omitempty"`
	Nsec     string `json:"nsec,omitempty"`
	ShareURL string `json:"share_url,omitempty"`
}

// Create handles POST /groups.
func (h *GroupHandlers) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateGroupRequest
	if !decodeBody(w, r, &req) {
		return
	}
	var (
		g   *groups.Group
		err error
	)
	switch {
	case req.ShareURL != "":
		g, err = h.registry.ImportURL(req.ShareURL)
	case req.Nsec != "":
		g, err = h.registry.ImportNsec(req.Name, req.Nsec)
	default:
		g, err = h.registry.Generate(req.Name)
	}
	if err != nil {
		writeGroupError(w, r, err)
		return
	}
	WriteJSON(w, r.Context(), http.StatusCreated, g)
}

// Get handles GET /groups/{id}.
func (h *GroupHandlers) Get(w http.ResponseWriter, r *http.Request) {
	g, ok := h.registry.Get(r.PathValue("id"))
	if !ok {
		writeGroupError(w, r, groups.ErrNotFound)
		return
	}
	WriteJSON(w, r.Context(), http.StatusOK, g)
}

// RenameGroupRequest is the body of PATCH /groups/{id}.
type RenameGroupRequest struct {
	Name string `json:"name"`
}

// Rename handles PATCH /groups/{id}.
func (h *GroupHandlers) Rename(w http.ResponseWriter, r *http.Request) {
	var req RenameGroupRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id := r.PathValue("id")
	if err := h.registry.Rename(id, req.Name); err != nil {
		writeGroupError(w, r, err)
		return
	}
	g, _ := h.registry.Get(id)
	WriteJSON(w, r.Context(), http.StatusOK, g)
}

// Delete handles DELETE /groups/{id}.
func (h *GroupHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	if !h.registry.Delete(r.PathValue("id")) {
		writeGroupError(w, r, groups.ErrNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ShareGroupResponse is the body of GET /groups/{id}/share.
type ShareGroupResponse struct {
	URL string `json:"url"`
}

// Share handles GET /groups/{id}/share?base=... The link carries the group
// secret.
func (h *GroupHandlers) Share(w http.ResponseWriter, r *http.Request) {
	base := r.URL.Query().Get("base")
	if base == "" {
		base = "spotstr://group"
	}
	u, err := h.registry.ShareURL(r.PathValue("id"), base)
	if err != nil {
		writeGroupError(w, r, err)
		return
	}
	WriteJSON(w, r.Context(), http.StatusOK, ShareGroupResponse{URL: u})
}

func writeGroupError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, groups.ErrNotFound):
		WriteError(w, r.Context(), http.StatusNotFound, ErrCodeNotFound, "Group not found")
	case errors.Is(err, groups.ErrDuplicate):
		WriteError(w, r.Context(), http.StatusConflict, ErrCodeConflict, err.Error())
	default:
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, err.Error())
	}
}
