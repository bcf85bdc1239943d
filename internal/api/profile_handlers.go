package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/onnwee/spotstr/internal/profile"
	"github.com/onnwee/spotstr/internal/signer"
)

// ProfileSource resolves kind-0 profiles. *profile.Fetcher satisfies it.
type ProfileSource interface {
	Get(ctx context.Context, pubkey string) (*profile.Profile, error)
	Refresh(ctx context.Context, pubkey string) (*profile.Profile, error)
}

// ProfileHandlers serves cached profile metadata.
type ProfileHandlers struct {
	source ProfileSource
}

// NewProfileHandlers creates the profile handlers.
func NewProfileHandlers(source ProfileSource) *ProfileHandlers {
	return &ProfileHandlers{source: source}
}

// Get handles GET /profiles/{pubkey}. refresh=true bypasses the cache.
func (h *ProfileHandlers) Get(w http.ResponseWriter, r *http.Request) {
	pk, err := signer.ParsePublicKey(r.PathValue("pubkey"))
	if err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeInvalidKey, "Invalid public key")
		return
	}
	fetch := h.source.Get
	if r.URL.Query().Get("refresh") == "true" {
		fetch = h.source.Refresh
	}
	p, err := fetch(r.Context(), pk)
	switch {
	case errors.Is(err, profile.ErrNotFound):
		WriteError(w, r.Context(), http.StatusNotFound, ErrCodeNotFound, "Profile not found")
	case err != nil:
		WriteError(w, r.Context(), http.StatusBadGateway, ErrCodeInternal, err.Error())
	default:
		WriteJSON(w, r.Context(), http.StatusOK, p)
	}
}
