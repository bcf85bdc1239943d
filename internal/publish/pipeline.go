// Package publish signs location events and fans them out to relays.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nbd-wtf/go-nostr"
	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/spotstr/internal/relay"
	"github.com/onnwee/spotstr/internal/signer"
	"github.com/onnwee/spotstr/internal/tracing"
)

var (
	// ErrPublishFailed marks a relay that did not accept the event. It is
	// reported per relay and never fails the pipeline as a whole.
	ErrPublishFailed = errors.New("publish failed")

	// ErrNoRelays is returned when there is nowhere to send the event.
	ErrNoRelays = errors.New("no relays to publish to")
)

// Publisher sends a signed event to relays and reports one ack per relay.
// *relay.Pool satisfies it.
type Publisher interface {
	Publish(ctx context.Context, evt *nostr.Event, urls []string) []relay.Ack
}

// Result is the outcome of SignAndPublish.
type Result struct {
	// Success is true when signing and sending completed, regardless of
	// individual relay acks.
	Success bool
	Event   *nostr.Event
	Acks    []relay.Ack
	Err     error
}

// Accepted returns the number of relays that acknowledged the event.
func (r Result) Accepted() int {
	n := 0
	for _, a := range r.Acks {
		if a.OK() {
			n++
		}
	}
	return n
}

// Pipeline signs events with the sender's identity and publishes them.
type Pipeline struct {
	publisher Publisher
	logger    *slog.Logger
	metrics   *Metrics
}

// NewPipeline creates a Pipeline. metrics may be nil.
func NewPipeline(publisher Publisher, logger *slog.Logger, metrics *Metrics) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{publisher: publisher, logger: logger, metrics: metrics}
}

// SignAndPublish signs evt in place with id and sends it to urls. It never
// retries. Relay failures are logged and returned in Result.Acks; only an
// empty relay list or a signing failure makes Success false.
func (p *Pipeline) SignAndPublish(ctx context.Context, evt *nostr.Event, id signer.Identity, urls []string) (res Result) {
	ctx, endSpan := tracing.StartSpan(ctx, "sign_and_publish")
	defer func() { endSpan(res.Err) }()
	tracing.SetAttributes(ctx,
		attribute.Int("nostr.kind", evt.Kind),
		attribute.Int("relay.count", len(urls)))

	if len(urls) == 0 {
		p.metrics.IncResult(resultNoRelays)
		return Result{Err: ErrNoRelays}
	}

	if err := id.SignEvent(ctx, evt); err != nil {
		p.logger.Warn("failed to sign location event",
			slog.Int("kind", evt.Kind),
			slog.String("error", err.Error()))
		p.metrics.IncResult(resultSignFailed)
		return Result{Err: fmt.Errorf("sign event: %w", err)}
	}
	tracing.AddEvent(ctx, "signed", attribute.String("nostr.event_id", evt.ID))

	acks := p.publisher.Publish(ctx, evt, urls)
	for i, ack := range acks {
		if ack.OK() {
			p.metrics.IncRelayAck(true)
			continue
		}
		p.metrics.IncRelayAck(false)
		acks[i].Err = fmt.Errorf("%w: %w", ErrPublishFailed, ack.Err)
		p.logger.Warn("relay did not accept location event",
			slog.String("relay", ack.URL),
			slog.String("event_id", evt.ID),
			slog.String("error", ack.Err.Error()))
	}

	res = Result{Success: true, Event: evt, Acks: acks}
	p.metrics.IncResult(resultPublished)
	p.logger.Debug("location event published",
		slog.String("event_id", evt.ID),
		slog.Int("kind", evt.Kind),
		slog.Int("accepted", res.Accepted()),
		slog.Int("relays", len(urls)))
	return res
}
