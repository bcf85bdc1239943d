package sharing

import (
	"context"
	"time"

	"github.com/onnwee/spotstr/internal/location"
	"github.com/onnwee/spotstr/internal/publish"
	"github.com/onnwee/spotstr/internal/signer"
)

// Real-time sharing defaults.
const (
	DefaultRealtimeName   = "real-time"
	DefaultRealtimeExpiry = time.Minute
)

// PublishOptions configures the events produced by PublishSender.
type PublishOptions struct {
	// Name is the d-tag of the shared location. Default: "real-time".
	Name string
	// Expiry of each event. Default: one minute, so viewers drop the
	// location soon after the heartbeat stops.
	Expiry time.Duration
	// Relays returns the relays to publish to at send time.
	Relays func() []string
}

// PublishSender returns a SendFunc that builds a private location event for
// receiver, signs it as sender and publishes it.
func PublishSender(b *location.Builder, p *publish.Pipeline, sender signer.Identity, receiver string, opts PublishOptions) SendFunc {
	if opts.Name == "" {
		opts.Name = DefaultRealtimeName
	}
	if opts.Expiry <= 0 {
		opts.Expiry = DefaultRealtimeExpiry
	}
	return func(ctx context.Context, geohash string, pos Position) error {
		evt, err := b.Build(ctx, location.Params{
			Sender:   sender,
			Receiver: receiver,
			Geohash:  geohash,
			Name:     opts.Name,
			Accuracy: pos.Accuracy,
			Expiry:   opts.Expiry,
		})
		if err != nil {
			return err
		}
		var relays []string
		if opts.Relays != nil {
			relays = opts.Relays()
		}
		res := p.SignAndPublish(ctx, evt, sender, relays)
		return res.Err
	}
}
