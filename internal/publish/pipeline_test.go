package publish

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/onnwee/spotstr/internal/relay"
	"github.com/onnwee/spotstr/internal/signer"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakePublisher struct {
	mu     sync.Mutex
	calls  int
	events []*nostr.Event
	fail   map[string]error
}

func (f *fakePublisher) Publish(_ context.Context, evt *nostr.Event, urls []string) []relay.Ack {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.events = append(f.events, evt)
	acks := make([]relay.Ack, len(urls))
	for i, u := range urls {
		acks[i] = relay.Ack{URL: u, Err: f.fail[u]}
	}
	return acks
}

func counterValue(t *testing.T, c *prometheus.CounterVec, label string) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.WithLabelValues(label).Write(&m); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	return m.GetCounter().GetValue()
}

func unsigned() *nostr.Event {
	return &nostr.Event{Kind: 30472, CreatedAt: nostr.Now(), Tags: nostr.Tags{{"d", ""}, {"g", "u4pr"}}}
}

func TestSignAndPublish_Success(t *testing.T) {
	key, err := signer.GenerateLocalKey()
	if err != nil {
		t.Fatalf("GenerateLocalKey() error = %v", err)
	}
	pub := &fakePublisher{fail: map[string]error{"wss://b": relay.ErrAckTimeout}}
	metrics := NewMetrics()
	p := NewPipeline(pub, newTestLogger(), metrics)

	res := p.SignAndPublish(context.Background(), unsigned(), key, []string{"wss://a", "wss://b"})
	if !res.Success || res.Err != nil {
		t.Fatalf("SignAndPublish() = %+v, want success despite a failed relay", res)
	}
	if res.Event == nil || res.Event.Sig == "" || res.Event.PubKey != key.PublicKey() {
		t.Fatalf("event not signed: %+v", res.Event)
	}
	if ok, err := res.Event.CheckSignature(); err != nil || !ok {
		t.Errorf("CheckSignature() = %v, %v", ok, err)
	}
	if res.Accepted() != 1 {
		t.Errorf("Accepted() = %d, want 1", res.Accepted())
	}
	if !errors.Is(res.Acks[1].Err, ErrPublishFailed) || !errors.Is(res.Acks[1].Err, relay.ErrAckTimeout) {
		t.Errorf("Acks[1].Err = %v, want ErrPublishFailed wrapping ErrAckTimeout", res.Acks[1].Err)
	}
	if got := counterValue(t, metrics.results, resultPublished); got != 1 {
		t.Errorf("published counter = %f, want 1", got)
	}
	if got := counterValue(t, metrics.acks, "false"); got != 1 {
		t.Errorf("rejected ack counter = %f, want 1", got)
	}
}

func TestSignAndPublish_SignerFailure(t *testing.T) {
	watch, err := signer.NewWatchOnly("79be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798")
	if err != nil {
		t.Fatalf("NewWatchOnly() error = %v", err)
	}
	pub := &fakePublisher{}
	metrics := NewMetrics()
	p := NewPipeline(pub, newTestLogger(), metrics)

	res := p.SignAndPublish(context.Background(), unsigned(), watch, []string{"wss://a"})
	if res.Success {
		t.Fatal("SignAndPublish() succeeded with a watch-only identity")
	}
	if !errors.Is(res.Err, signer.ErrSigningFailed) {
		t.Errorf("Err = %v, want ErrSigningFailed", res.Err)
	}
	if pub.calls != 0 {
		t.Errorf("publisher called %d times, want 0", pub.calls)
	}
	if got := counterValue(t, metrics.results, resultSignFailed); got != 1 {
		t.Errorf("sign_failed counter = %f, want 1", got)
	}
}

func TestSignAndPublish_NoRelays(t *testing.T) {
	key, _ := signer.GenerateLocalKey()
	pub := &fakePublisher{}
	p := NewPipeline(pub, newTestLogger(), nil)

	evt := unsigned()
	res := p.SignAndPublish(context.Background(), evt, key, nil)
	if res.Success || !errors.Is(res.Err, ErrNoRelays) {
		t.Errorf("SignAndPublish() = %+v, want ErrNoRelays", res)
	}
	if evt.Sig != "" {
		t.Error("event should not be signed when there is nowhere to send it")
	}
}
