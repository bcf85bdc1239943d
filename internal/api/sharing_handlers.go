package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/onnwee/spotstr/internal/location"
	"github.com/onnwee/spotstr/internal/sharing"
	"github.com/onnwee/spotstr/internal/signer"
)

// SharingSession is the continuous sharing surface. *sharing.Session satisfies it.
type SharingSession interface {
	Start(ctx context.Context, sender, receiver string, send sharing.SendFunc, onStop func()) error
	Stop()
	Status() sharing.Status
}

// SendFactory builds the SendFunc used for a session from sender to receiver.
type SendFactory func(sender signer.Identity, receiver string, name string, expiry time.Duration) sharing.SendFunc

// SharingHandlersConfig configures the sharing handlers.
type SharingHandlersConfig struct {
	Session SharingSession
	Senders IdentityResolver
	// Receivers resolves contact: and group: references.
	Receivers ReceiverResolver
	NewSend   SendFactory
	// BaseContext outlives requests; sessions run under it.
	BaseContext context.Context
	// Manual receives POST /position fixes. Nil disables the endpoint.
	Manual *sharing.ManualSource
}

// SharingHandlers starts and stops continuous sharing.
type SharingHandlers struct {
	cfg SharingHandlersConfig
}

// NewSharingHandlers creates the sharing handlers.
func NewSharingHandlers(cfg SharingHandlersConfig) *SharingHandlers {
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	return &SharingHandlers{cfg: cfg}
}

// Status handles GET /sharing.
func (h *SharingHandlers) Status(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, r.Context(), http.StatusOK, h.cfg.Session.Status())
}

// StartSharingRequest is the body of POST /sharing/start. Receiver is an
// npub, a hex key, contact:<id> or group:<id>.
type StartSharingRequest struct {
	Sender   string `json:"sender"`
	Receiver string `json:"receiver"`
	Name     string `json:"name,omitempty"`
	Expiry   string `json:"expiry,omitempty"`
}

// Start handles POST /sharing/start.
func (h *SharingHandlers) Start(w http.ResponseWriter, r *http.Request) {
	var req StartSharingRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ctx := r.Context()

	sender, ok := h.cfg.Senders.Resolve(req.Sender)
	if !ok {
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeInvalidKey, "Sender is not an owned account or group")
		return
	}
	if sender.Capability() == signer.CapabilityNone {
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "Sender cannot sign or encrypt")
		return
	}
	receiver, err := h.cfg.Receivers.Resolve(req.Receiver)
	if err != nil {
		writeReceiverError(w, r, err)
		return
	}
	var expiry time.Duration
	if req.Expiry != "" {
		if expiry, err = location.ParseExpiry(req.Expiry); err != nil {
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeInvalidExpiry, err.Error())
			return
		}
	}

	send := h.cfg.NewSend(sender, receiver, req.Name, expiry)
	if err := h.cfg.Session.Start(h.cfg.BaseContext, sender.PublicKey(), receiver, send, nil); err != nil {
		if errors.Is(err, sharing.ErrAlreadyActive) {
			WriteError(w, ctx, http.StatusConflict, ErrCodeConflict, "A sharing session is already active")
			return
		}
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	WriteJSON(w, ctx, http.StatusAccepted, h.cfg.Session.Status())
}

// Stop handles POST /sharing/stop. Stopping an idle session succeeds.
func (h *SharingHandlers) Stop(w http.ResponseWriter, r *http.Request) {
	h.cfg.Session.Stop()
	WriteJSON(w, r.Context(), http.StatusOK, h.cfg.Session.Status())
}

// PositionRequest is the body of POST /position.
type PositionRequest struct {
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Accuracy float64 `json:"accuracy,omitempty"`
	Heading  float64 `json:"heading,omitempty"`
	Speed    float64 `json:"speed,omitempty"`
}

// Position handles POST /position, feeding the manual position source.
func (h *SharingHandlers) Position(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Manual == nil {
		WriteError(w, r.Context(), http.StatusConflict, ErrCodeUnavailable, "Position source is not manual")
		return
	}
	var req PositionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Lat < -90 || req.Lat > 90 || req.Lng < -180 || req.Lng > 180 {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "Coordinates out of range")
		return
	}
	h.cfg.Manual.Push(sharing.Position{
		Lat:       req.Lat,
		Lng:       req.Lng,
		Accuracy:  req.Accuracy,
		Heading:   req.Heading,
		Speed:     req.Speed,
		Timestamp: time.Now(),
	})
	w.WriteHeader(http.StatusNoContent)
}
