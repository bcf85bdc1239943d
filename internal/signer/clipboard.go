package signer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/nbd-wtf/go-nostr"
)

// Default timings for the clipboard round trip.
const (
	DefaultRoundTripTimeout = 30 * time.Second
	DefaultFocusSettle      = 500 * time.Millisecond
)

// ErrRoundTripTimeout is returned when the external signer did not place a
// new value on the clipboard before the timeout.
var ErrRoundTripTimeout = errors.New("external signer round trip timed out")

// Clipboard reads the system clipboard.
type Clipboard interface {
	ReadText(ctx context.Context) (string, error)
}

// Launcher opens a URI, handing control to the external signer app.
type Launcher interface {
	Launch(ctx context.Context, uri string) error
}

// BridgeConfig configures a Bridge.
type BridgeConfig struct {
	Clipboard Clipboard
	Launcher  Launcher

	// Focus receives a value each time the host application regains focus.
	Focus <-chan struct{}

	// Timeout bounds a single round trip. Default: 30s.
	Timeout time.Duration

	// Settle is how long to wait after focus before reading the clipboard. Default: 500ms.
	Settle time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// Bridge performs request/response exchanges with an external signer app
// that can only answer through the clipboard. Exchanges are serialized
// because the clipboard is shared.
type Bridge struct {
	clipboard Clipboard
	launcher  Launcher
	focus     <-chan struct{}
	timeout   time.Duration
	settle    time.Duration
	clock     clock.Clock
	logger    *slog.Logger

	mu sync.Mutex
}

// NewBridge creates a Bridge. Clipboard, Launcher and Focus are required.
func NewBridge(cfg BridgeConfig) (*Bridge, error) {
	if cfg.Clipboard == nil || cfg.Launcher == nil || cfg.Focus == nil {
		return nil, errors.New("clipboard bridge requires clipboard, launcher and focus source")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRoundTripTimeout
	}
	if cfg.Settle < 0 {
		cfg.Settle = 0
	} else if cfg.Settle == 0 {
		cfg.Settle = DefaultFocusSettle
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Bridge{
		clipboard: cfg.Clipboard,
		launcher:  cfg.Launcher,
		focus:     cfg.Focus,
		timeout:   cfg.Timeout,
		settle:    cfg.Settle,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
	}, nil
}

// RoundTrip snapshots the clipboard, launches uri, then waits for focus to
// return and the clipboard to hold a different non-empty value.
func (b *Bridge) RoundTrip(ctx context.Context, uri string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	before, err := b.clipboard.ReadText(ctx)
	if err != nil {
		before = ""
	}

	if err := b.launcher.Launch(ctx, uri); err != nil {
		return "", fmt.Errorf("launch external signer: %w", err)
	}

	deadline := b.clock.Timer(b.timeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-deadline.C:
			return "", ErrRoundTripTimeout
		case <-b.focus:
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-deadline.C:
			return "", ErrRoundTripTimeout
		case <-b.clock.After(b.settle):
		}

		text, err := b.clipboard.ReadText(ctx)
		if err != nil {
			b.logger.Debug("clipboard read failed", slog.String("error", err.Error()))
			continue
		}
		if text != "" && text != before {
			return strings.TrimSpace(text), nil
		}
	}
}

// ClipboardIdentity is an account whose signer is an external app reached
// through a Bridge (for example Amber via nostrsigner: intents).
type ClipboardIdentity struct {
	pub    string
	bridge *Bridge
}

// NewClipboardIdentity creates a clipboard-mediated identity for pubkey.
func NewClipboardIdentity(pubkey string, bridge *Bridge) (*ClipboardIdentity, error) {
	pk, err := ParsePublicKey(pubkey)
	if err != nil {
		return nil, err
	}
	if bridge == nil {
		return nil, errors.New("clipboard identity requires a bridge")
	}
	return &ClipboardIdentity{pub: pk, bridge: bridge}, nil
}

func (c *ClipboardIdentity) PublicKey() string      { return c.pub }
func (c *ClipboardIdentity) Capability() Capability { return CapabilityClipboard }

// SignEvent sends the unsigned event to the external signer and copies the
// returned id and signature after verifying them.
func (c *ClipboardIdentity) SignEvent(ctx context.Context, evt *nostr.Event) error {
	evt.PubKey = c.pub
	raw, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}

	out, err := c.bridge.RoundTrip(ctx, signerURI(string(raw), "", "event", "sign_event"))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSigningFailed, err)
	}

	var signed nostr.Event
	if err := json.Unmarshal([]byte(out), &signed); err != nil {
		return fmt.Errorf("%w: external signer returned invalid event: %v", ErrSigningFailed, err)
	}
	if signed.PubKey != c.pub {
		return fmt.Errorf("%w: external signer signed as %s", ErrSigningFailed, short(signed.PubKey))
	}
	if ok, err := signed.CheckSignature(); err != nil || !ok {
		return fmt.Errorf("%w: external signer returned an invalid signature", ErrSigningFailed)
	}
	evt.ID = signed.ID
	evt.Sig = signed.Sig
	return nil
}

func (c *ClipboardIdentity) Encrypt(ctx context.Context, recipientPubkey, plaintext string) (string, error) {
	out, err := c.bridge.RoundTrip(ctx, signerURI(plaintext, recipientPubkey, "signature", "nip44_encrypt"))
	if errors.Is(err, ErrRoundTripTimeout) {
		return "", fmt.Errorf("%w: %w", ErrEncryptionTimeout, err)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrEncryptionFailed, err)
	}
	return out, nil
}

func (c *ClipboardIdentity) Decrypt(ctx context.Context, senderPubkey, ciphertext string) (string, error) {
	out, err := c.bridge.RoundTrip(ctx, signerURI(ciphertext, senderPubkey, "signature", "nip44_decrypt"))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDecryptionFailed, err)
	}
	return out, nil
}

// signerURI builds a nostrsigner: intent URI. The payload is escaped the way
// encodeURIComponent does, with spaces as %20.
func signerURI(payload, pubkey, returnType, op string) string {
	q := url.Values{}
	if pubkey != "" {
		q.Set("pubkey", pubkey)
	}
	q.Set("compressionType", "none")
	q.Set("returnType", returnType)
	q.Set("type", op)
	escaped := strings.ReplaceAll(url.QueryEscape(payload), "+", "%20")
	return "nostrsigner:" + escaped + "?" + q.Encode()
}
