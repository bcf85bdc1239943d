package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/onnwee/spotstr/internal/contacts"
	"github.com/onnwee/spotstr/internal/signer"
)

// FollowImporter imports kind-3 follow lists. *contacts.FollowImporter
// satisfies it.
type FollowImporter interface {
	Import(ctx context.Context, r *contacts.Registry, pubkey string) (contacts.BulkResult, error)
}

// ContactHandlers serves the contact registry.
type ContactHandlers struct {
	registry *contacts.Registry
	follows  FollowImporter
}

// NewContactHandlers creates the contact handlers. A nil importer disables
// POST /contacts/import.
func NewContactHandlers(registry *contacts.Registry, follows FollowImporter) *ContactHandlers {
	return &ContactHandlers{registry: registry, follows: follows}
}

// ListContactsResponse is the body of GET /contacts.
type ListContactsResponse struct {
	Contacts []contacts.Contact `json:"contacts"`
}

// List handles GET /contacts.
func (h *ContactHandlers) List(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, r.Context(), http.StatusOK, ListContactsResponse{Contacts: h.registry.List()})
}

// CreateContactRequest is the body of POST /contacts. Pubkey adds one
// contact; Pubkeys adds several without names and reports failures.
type CreateContactRequest struct {
	Pubkey     string   `json:"pubkey,omitempty"`
	CustomName string   `json:"custom_name,omitempty"`
	Pubkeys    []string `json:"pubkeys,omitempty"`
}

// Create handles POST /contacts.
func (h *ContactHandlers) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateContactRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Pubkeys) > 0 {
		WriteJSON(w, r.Context(), http.StatusOK, h.registry.AddMany(req.Pubkeys))
		return
	}
	c, err := h.registry.Add(req.Pubkey, req.CustomName)
	if err != nil {
		writeContactError(w, r, err)
		return
	}
	WriteJSON(w, r.Context(), http.StatusCreated, c)
}

// ImportFollowsRequest is the body of POST /contacts/import.
type ImportFollowsRequest struct {
	Pubkey string `json:"pubkey"`
}

// Import handles POST /contacts/import, adding the accounts pubkey follows.
func (h *ContactHandlers) Import(w http.ResponseWriter, r *http.Request) {
	if h.follows == nil {
		WriteError(w, r.Context(), http.StatusConflict, ErrCodeUnavailable, "Follow import is not configured")
		return
	}
	var req ImportFollowsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	pk, err := signer.ParsePublicKey(req.Pubkey)
	if err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeInvalidKey, "Pubkey must be an npub or hex public key")
		return
	}
	res, err := h.follows.Import(r.Context(), h.registry, pk)
	if err != nil {
		writeContactError(w, r, err)
		return
	}
	WriteJSON(w, r.Context(), http.StatusOK, res)
}

// Get handles GET /contacts/{id}.
func (h *ContactHandlers) Get(w http.ResponseWriter, r *http.Request) {
	c, ok := h.registry.Get(r.PathValue("id"))
	if !ok {
		writeContactError(w, r, contacts.ErrNotFound)
		return
	}
	WriteJSON(w, r.Context(), http.StatusOK, c)
}

// RenameContactRequest is the body of PATCH /contacts/{id}. An empty name
// clears the custom name.
type RenameContactRequest struct {
	CustomName string `json:"custom_name"`
}

// Rename handles PATCH /contacts/{id}.
func (h *ContactHandlers) Rename(w http.ResponseWriter, r *http.Request) {
	var req RenameContactRequest
	if !decodeBody(w, r, &req) {
		return
	}
	c, err := h.registry.Rename(r.PathValue("id"), req.CustomName)
	if err != nil {
		writeContactError(w, r, err)
		return
	}
	WriteJSON(w, r.Context(), http.StatusOK, c)
}

// Delete handles DELETE /contacts/{id}.
func (h *ContactHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	if !h.registry.Delete(r.PathValue("id")) {
		writeContactError(w, r, contacts.ErrNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeContactError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, contacts.ErrNotFound):
		WriteError(w, r.Context(), http.StatusNotFound, ErrCodeNotFound, "Contact not found")
	case errors.Is(err, contacts.ErrDuplicate):
		WriteError(w, r.Context(), http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, contacts.ErrNoFollowList):
		WriteError(w, r.Context(), http.StatusNotFound, ErrCodeNoFollowList, "No follow list found on the profile relays")
	case errors.Is(err, signer.ErrInvalidKey):
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeInvalidKey, err.Error())
	default:
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, err.Error())
	}
}
