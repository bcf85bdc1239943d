package location

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/nbd-wtf/go-nostr"

	"github.com/onnwee/spotstr/internal/geo"
	"github.com/onnwee/spotstr/internal/signer"
)

// DefaultExpiry is the expiry applied when Params.Expiry is zero.
const DefaultExpiry = time.Hour

// Encrypter encrypts private payloads on behalf of a sender.
// *signer.Dispatcher satisfies it.
type Encrypter interface {
	Encrypt(ctx context.Context, sender signer.Identity, recipientPubkey, plaintext string) (string, error)
}

// Params describes the location to publish.
type Params struct {
	Sender signer.Identity
	// Receiver is the hex public key of the recipient. Required unless Public.
	Receiver string
	Geohash  string
	// Name becomes the d-tag and a name tag. Empty means the sender's single
	// default location.
	Name string
	// Accuracy in meters; omitted when not positive.
	Accuracy float64
	// Expiry is added to the build time for the expiry tag. Default: 1h.
	Expiry time.Duration
	// Extra tags are appended to the public tags or to the encrypted payload.
	Extra  nostr.Tags
	Public bool
}

// Builder turns Params into unsigned location events.
type Builder struct {
	enc   Encrypter
	clock clock.Clock
}

// NewBuilder creates a Builder. A nil clock uses the wall clock.
func NewBuilder(enc Encrypter, clk clock.Clock) *Builder {
	if clk == nil {
		clk = clock.New()
	}
	return &Builder{enc: enc, clock: clk}
}

// Build returns an unsigned event authored by p.Sender.
//
// Public events (kind 30472) carry d, g, accuracy, name, expiry and the extra
// tags in the clear with empty content. Private events (kind 30473) carry
// only d, p and expiry; g, accuracy, name and the extra tags are encrypted
// to the receiver as a JSON tag array in the content.
func (b *Builder) Build(ctx context.Context, p Params) (*nostr.Event, error) {
	if p.Sender == nil {
		return nil, fmt.Errorf("%w: sender is required", ErrInvalidArgument)
	}
	if !geo.Valid(p.Geohash) {
		return nil, fmt.Errorf("%w: geohash %q", ErrInvalidArgument, p.Geohash)
	}
	expiry := p.Expiry
	if expiry <= 0 {
		expiry = DefaultExpiry
	}

	now := b.clock.Now().Unix()
	expiryTag := nostr.Tag{TagExpiry, strconv.FormatInt(now+int64(expiry/time.Second), 10)}

	inner := nostr.Tags{{TagGeohash, p.Geohash}}
	if p.Accuracy > 0 {
		inner = append(inner, nostr.Tag{TagAccuracy, strconv.FormatFloat(p.Accuracy, 'f', -1, 64)})
	}
	if p.Name != "" {
		inner = append(inner, nostr.Tag{TagName, p.Name})
	}

	evt := &nostr.Event{
		PubKey:    p.Sender.PublicKey(),
		CreatedAt: nostr.Timestamp(now),
	}

	if p.Public {
		evt.Kind = KindPublic
		evt.Tags = append(nostr.Tags{{TagD, p.Name}}, inner...)
		evt.Tags = append(evt.Tags, expiryTag)
		evt.Tags = append(evt.Tags, p.Extra...)
		evt.Content = ""
		return evt, nil
	}

	receiver, err := signer.ParsePublicKey(p.Receiver)
	if err != nil {
		return nil, fmt.Errorf("%w: receiver is required for private events: %v", ErrInvalidArgument, err)
	}
	if b.enc == nil {
		return nil, fmt.Errorf("%w: no encrypter configured", signer.ErrUnsupportedCapability)
	}

	payload, err := EncodePayload(append(inner, p.Extra...))
	if err != nil {
		return nil, err
	}
	ciphertext, err := b.enc.Encrypt(ctx, p.Sender, receiver, payload)
	if err != nil {
		return nil, err
	}

	evt.Kind = KindPrivate
	evt.Tags = nostr.Tags{
		{TagD, p.Name},
		{TagReceiver, receiver},
		expiryTag,
	}
	evt.Content = ciphertext
	return evt, nil
}
