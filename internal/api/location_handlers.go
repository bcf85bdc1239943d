package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/nbd-wtf/go-nostr"

	"github.com/onnwee/spotstr/internal/geo"
	"github.com/onnwee/spotstr/internal/ingest"
	"github.com/onnwee/spotstr/internal/location"
	"github.com/onnwee/spotstr/internal/middleware"
	"github.com/onnwee/spotstr/internal/publish"
	"github.com/onnwee/spotstr/internal/signer"
)

// streamWriteWait bounds each websocket write.
const streamWriteWait = 10 * time.Second

// LocationStore is the read side of the ingestion engine.
// *ingest.Engine satisfies it.
type LocationStore interface {
	Snapshot() []*location.Event
	Get(id string) (*location.Event, bool)
	Stats() ingest.Stats
	Subscribe(fn ingest.Observer) func()
}

// LocationHandlersConfig configures the location handlers.
type LocationHandlersConfig struct {
	Store    LocationStore
	Builder  *location.Builder
	Pipeline *publish.Pipeline
	// Senders resolves the identities allowed to publish.
	Senders IdentityResolver
	// Receivers resolves contact: and group: references.
	Receivers ReceiverResolver
	// Relays returns the location relays to publish to.
	Relays func() []string
	// Precision is used when a request sends coordinates without one.
	Precision int
	Clock     clock.Clock
}

// LocationHandlers serves the location store and one-shot publishing.
type LocationHandlers struct {
	cfg      LocationHandlersConfig
	upgrader websocket.Upgrader
}

// NewLocationHandlers creates the location handlers.
func NewLocationHandlers(cfg LocationHandlersConfig) *LocationHandlers {
	if cfg.Precision <= 0 {
		cfg.Precision = geo.DefaultPrecision
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Relays == nil {
		cfg.Relays = func() []string { return nil }
	}
	return &LocationHandlers{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

// ListLocationsResponse is the body of GET /locations.
type ListLocationsResponse struct {
	Locations []*location.Event `json:"locations"`
	Stats     ingest.Stats      `json:"stats"`
}

// List handles GET /locations. Query parameters sender and receiver accept
// npub or hex; live=true drops events whose expiry has passed.
func (h *LocationHandlers) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sender, ok := optionalPubkey(w, r, q.Get("sender"))
	if !ok {
		return
	}
	receiver, ok := optionalPubkey(w, r, q.Get("receiver"))
	if !ok {
		return
	}
	live := q.Get("live") == "true"
	now := h.cfg.Clock.Now().Unix()

	out := make([]*location.Event, 0)
	for _, le := range h.cfg.Store.Snapshot() {
		if sender != "" && le.Sender != sender {
			continue
		}
		if receiver != "" && le.Receiver != receiver {
			continue
		}
		if live && le.Expired(now) {
			continue
		}
		out = append(out, le)
	}
	WriteJSON(w, r.Context(), http.StatusOK, ListLocationsResponse{Locations: out, Stats: h.cfg.Store.Stats()})
}

// Get handles GET /locations/{id}, id being the addressable identity.
func (h *LocationHandlers) Get(w http.ResponseWriter, r *http.Request) {
	le, ok := h.cfg.Store.Get(r.PathValue("id"))
	if !ok {
		WriteError(w, r.Context(), http.StatusNotFound, ErrCodeNotFound, "Location not found")
		return
	}
	WriteJSON(w, r.Context(), http.StatusOK, le)
}

// PublishLocationRequest is the body of POST /locations. Either Geohash or
// Lat and Lng must be set. Receiver is an npub, a hex key, contact:<id> or
// group:<id>, and is ignored for public events.
type PublishLocationRequest struct {
	Sender    string   `json:"sender"`
	Receiver  string   `json:"receiver,omitempty"`
	Public    bool     `json:"public,omitempty"`
	Geohash   string   `json:"geohash,omitempty"`
	Lat       *float64 `json:"lat,omitempty"`
	Lng       *float64 `json:"lng,omitempty"`
	Precision int      `json:"precision,omitempty"`
	Name      string   `json:"name,omitempty"`
	Accuracy  float64  `json:"accuracy,omitempty"`
	// Expiry uses the short form accepted by location.ParseExpiry, e.g. "2h".
	Expiry string   `json:"expiry,omitempty"`
	Topics []string `json:"topics,omitempty"`
}

// RelayAck is the per-relay publish outcome.
type RelayAck struct {
	URL   string `json:"url"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// PublishResponse is returned after a publish attempt.
type PublishResponse struct {
	ID       string     `json:"id"`
	EventID  string     `json:"event_id"`
	Kind     int        `json:"kind"`
	Accepted int        `json:"accepted"`
	Relays   []RelayAck `json:"relays"`
}

// Publish handles POST /locations.
func (h *LocationHandlers) Publish(w http.ResponseWriter, r *http.Request) {
	var req PublishLocationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ctx := r.Context()

	sender, ok := h.cfg.Senders.Resolve(req.Sender)
	if !ok {
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeInvalidKey, "Sender is not an owned account or group")
		return
	}
	params := location.Params{
		Sender:   sender,
		Name:     req.Name,
		Accuracy: req.Accuracy,
		Public:   req.Public,
	}
	if !req.Public {
		pk, err := h.cfg.Receivers.Resolve(req.Receiver)
		if err != nil {
			writeReceiverError(w, r, err)
			return
		}
		params.Receiver = pk
	}
	gh, ok := h.geohash(w, r, req.Geohash, req.Lat, req.Lng, req.Precision)
	if !ok {
		return
	}
	params.Geohash = gh
	if req.Expiry != "" {
		d, err := location.ParseExpiry(req.Expiry)
		if err != nil {
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeInvalidExpiry, err.Error())
			return
		}
		params.Expiry = d
	}
	for _, topic := range req.Topics {
		if topic = strings.TrimSpace(topic); topic != "" {
			params.Extra = append(params.Extra, nostr.Tag{location.TagTopic, topic})
		}
	}

	evt, err := h.cfg.Builder.Build(ctx, params)
	if err != nil {
		writeBuildError(w, r, err)
		return
	}
	res := h.cfg.Pipeline.SignAndPublish(ctx, evt, sender, h.cfg.Relays())
	writePublishResult(w, r, evt, res)
}

func (h *LocationHandlers) geohash(w http.ResponseWriter, r *http.Request, gh string, lat, lng *float64, precision int) (string, bool) {
	switch {
	case gh != "":
		if !geo.Valid(gh) {
			WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeInvalidGeohash, "Invalid geohash")
			return "", false
		}
		if precision > 0 {
			gh = geo.RoundGeohash(gh, precision)
		}
		return strings.ToLower(gh), true
	case lat != nil && lng != nil:
		if precision <= 0 {
			precision = h.cfg.Precision
		}
		return geo.Encode(*lat, *lng, precision), true
	default:
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "Either geohash or lat and lng are required")
		return "", false
	}
}

func writeBuildError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, location.ErrInvalidArgument), errors.Is(err, signer.ErrUnsupportedCapability):
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, signer.ErrEncryptionTimeout):
		WriteError(w, r.Context(), http.StatusGatewayTimeout, ErrCodePublishFailed, err.Error())
	default:
		WriteError(w, r.Context(), http.StatusBadGateway, ErrCodePublishFailed, err.Error())
	}
}

func writePublishResult(w http.ResponseWriter, r *http.Request, evt *nostr.Event, res publish.Result) {
	switch {
	case errors.Is(res.Err, publish.ErrNoRelays):
		WriteError(w, r.Context(), http.StatusServiceUnavailable, ErrCodeNoRelays, "No location relays configured")
		return
	case res.Err != nil:
		WriteError(w, r.Context(), http.StatusBadGateway, ErrCodePublishFailed, res.Err.Error())
		return
	}

	resp := PublishResponse{
		ID:       location.Address(evt.Kind, evt.PubKey, location.DecodeTags(evt.Tags).Get(location.TagD)),
		EventID:  evt.ID,
		Kind:     evt.Kind,
		Accepted: res.Accepted(),
		Relays:   make([]RelayAck, len(res.Acks)),
	}
	for i, ack := range res.Acks {
		resp.Relays[i] = RelayAck{URL: ack.URL, OK: ack.OK()}
		if ack.Err != nil {
			resp.Relays[i].Error = ack.Err.Error()
		}
	}
	status := http.StatusCreated
	if resp.Accepted == 0 {
		status = http.StatusBadGateway
		middleware.SetErrorCode(w, ErrCodePublishFailed)
	}
	WriteJSON(w, r.Context(), status, resp)
}

// StreamMessage is sent over GET /locations/stream on every store change.
type StreamMessage struct {
	Type      string            `json:"type"`
	Locations []*location.Event `json:"locations"`
}

// Stream handles GET /locations/stream: a websocket that receives the full
// store snapshot on connect and after every change. Slow readers only get
// the latest snapshot.
func (h *LocationHandlers) Stream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		return
	}
	defer conn.Close()

	updates := make(chan []*location.Event, 1)
	offer := func(snap []*location.Event) {
		for {
			select {
			case updates <- snap:
				return
			default:
			}
			select {
			case <-updates:
			default:
			}
		}
	}
	unsubscribe := h.cfg.Store.Subscribe(offer)
	defer unsubscribe()
	offer(h.cfg.Store.Snapshot())

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case snap := <-updates:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(StreamMessage{Type: "snapshot", Locations: snap}); err != nil {
				return
			}
		}
	}
}

// optionalPubkey parses an optional npub or hex query value.
func optionalPubkey(w http.ResponseWriter, r *http.Request, raw string) (string, bool) {
	if raw == "" {
		return "", true
	}
	pk, err := signer.ParsePublicKey(raw)
	if err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeInvalidKey, "Invalid public key "+raw)
		return "", false
	}
	return pk, true
}
