// Package location defines addressable Nostr location events: their kinds,
// identity, decoded tag map, encrypted payload format, and the builder that
// produces unsigned events from semantic location data.
package location

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/nbd-wtf/go-nostr"
)

// Event kinds for location events. Both are addressable (30000-39999).
const (
	KindPublic  = 30472
	KindPrivate = 30473
)

// EncryptedGeohash is the geohash placeholder for private events that have
// not been decrypted yet.
const EncryptedGeohash = "encrypted"

// Tag names used by location events.
const (
	TagD          = "d"
	TagGeohash    = "g"
	TagReceiver   = "p"
	TagAccuracy   = "accuracy"
	TagName       = "name"
	TagExpiry     = "expiry"
	TagExpiration = "expiration"
	TagTopic      = "t"
)

var (
	// ErrInvalidArgument is returned when a required field is missing.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidPayload is returned when a decrypted payload is not a JSON tag array.
	ErrInvalidPayload = errors.New("invalid location payload")
)

// IsLocationKind reports whether kind is a public or private location kind.
func IsLocationKind(kind int) bool {
	return kind == KindPublic || kind == KindPrivate
}

// Address returns the addressable identity "{kind}:{pubkey}:{dTag}".
func Address(kind int, pubkey, dTag string) string {
	return strconv.Itoa(kind) + ":" + pubkey + ":" + dTag
}

// Event is a location event as held by the local store.
type Event struct {
	// ID is the addressable identity, see Address.
	ID string `json:"id"`
	// EventID is the relay event hash. Informational only.
	EventID   string `json:"event_id"`
	Kind      int    `json:"kind"`
	CreatedAt int64  `json:"created_at"`
	Sender    string `json:"sender"`
	Receiver  string `json:"receiver,omitempty"`
	DTag      string `json:"d_tag"`

	// Geohash is the plaintext geohash, or EncryptedGeohash until decrypted.
	Geohash  string  `json:"geohash"`
	Name     string  `json:"name,omitempty"`
	Accuracy float64 `json:"accuracy,omitempty"`
	// Expiry is advisory unix seconds; zero when absent.
	Expiry int64 `json:"expiry,omitempty"`

	// Tags is nil for private events until they are decrypted.
	Tags TagMap `json:"tags,omitempty"`

	// Ciphertext is kept only while Geohash is EncryptedGeohash.
	Ciphertext string `json:"-"`

	// Relay is the URL the current version was first received from.
	Relay string `json:"relay,omitempty"`
}

// IsPublic reports whether the event is a public location.
func (e *Event) IsPublic() bool { return e.Kind == KindPublic }

// Encrypted reports whether the event still awaits decryption.
func (e *Event) Encrypted() bool { return e.Geohash == EncryptedGeohash }

// Expired reports whether the expiry tag is set and not after now.
func (e *Event) Expired(now int64) bool {
	return e.Expiry > 0 && e.Expiry <= now
}

// Clone returns a deep copy.
func (e *Event) Clone() *Event {
	c := *e
	c.Tags = e.Tags.Clone()
	return &c
}

// FromNostr converts a raw relay event into the store representation.
// Public events have their tags decoded immediately; private events keep the
// ciphertext and carry the EncryptedGeohash placeholder.
func FromNostr(evt *nostr.Event) (*Event, error) {
	if evt == nil {
		return nil, fmt.Errorf("%w: nil event", ErrInvalidArgument)
	}
	if !IsLocationKind(evt.Kind) {
		return nil, fmt.Errorf("%w: kind %d is not a location kind", ErrInvalidArgument, evt.Kind)
	}

	outer := DecodeTags(evt.Tags)
	dTag := outer.Get(TagD)

	e := &Event{
		ID:        Address(evt.Kind, evt.PubKey, dTag),
		EventID:   evt.ID,
		Kind:      evt.Kind,
		CreatedAt: int64(evt.CreatedAt),
		Sender:    evt.PubKey,
		DTag:      dTag,
		Expiry:    outer.Expiry(),
	}

	if evt.Kind == KindPublic {
		e.applyTags(outer)
		return e, nil
	}

	e.Receiver = outer.Get(TagReceiver)
	e.Geohash = EncryptedGeohash
	e.Ciphertext = evt.Content
	return e, nil
}

// ApplyPayload fills geohash, name, accuracy and tags from a decrypted
// private payload and drops the ciphertext.
func (e *Event) ApplyPayload(tags TagMap) {
	e.applyTags(tags)
	e.Ciphertext = ""
}

func (e *Event) applyTags(tags TagMap) {
	e.Tags = tags
	e.Geohash = tags.Get(TagGeohash)
	e.Name = tags.Get(TagName)
	if acc, err := strconv.ParseFloat(tags.Get(TagAccuracy), 64); err == nil && acc > 0 {
		e.Accuracy = acc
	}
	if exp := tags.Expiry(); exp > 0 {
		e.Expiry = exp
	}
}
