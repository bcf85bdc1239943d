package signer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustGenerate(t *testing.T) *LocalKey {
	t.Helper()
	k, err := GenerateLocalKey()
	if err != nil {
		t.Fatalf("GenerateLocalKey() error = %v", err)
	}
	return k
}

func TestLocalKey_EncryptDecryptBetweenPeers(t *testing.T) {
	ctx := context.Background()
	alice := mustGenerate(t)
	bob := mustGenerate(t)

	ct, err := alice.Encrypt(ctx, bob.PublicKey(), `[["g","u4pruydqqvj"]]`)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	pt, err := bob.Decrypt(ctx, alice.PublicKey(), ct)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if pt != `[["g","u4pruydqqvj"]]` {
		t.Errorf("Decrypt() = %q", pt)
	}

	// The sender can read its own payload with the receiver's public key.
	own, err := alice.Decrypt(ctx, bob.PublicKey(), ct)
	if err != nil || own != pt {
		t.Errorf("sender Decrypt() = %q, %v", own, err)
	}
}

func TestLocalKey_DecryptWithWrongKeyFails(t *testing.T) {
	ctx := context.Background()
	alice, bob, eve := mustGenerate(t), mustGenerate(t), mustGenerate(t)

	ct, err := alice.Encrypt(ctx, bob.PublicKey(), "secret")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if _, err := eve.Decrypt(ctx, alice.PublicKey(), ct); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("Decrypt() by third party error = %v, want ErrDecryptionFailed", err)
	}
}

func TestLocalKey_SignEvent(t *testing.T) {
	k := mustGenerate(t)
	evt := &nostr.Event{Kind: 30473, CreatedAt: nostr.Now(), Tags: nostr.Tags{{"d", ""}}}
	if err := k.SignEvent(context.Background(), evt); err != nil {
		t.Fatalf("SignEvent() error = %v", err)
	}
	if evt.PubKey != k.PublicKey() {
		t.Errorf("PubKey = %s, want %s", evt.PubKey, k.PublicKey())
	}
	ok, err := evt.CheckSignature()
	if err != nil || !ok {
		t.Errorf("CheckSignature() = %v, %v", ok, err)
	}
}

func TestParseKeys(t *testing.T) {
	k := mustGenerate(t)
	nsec, err := k.Nsec()
	if err != nil {
		t.Fatalf("Nsec() error = %v", err)
	}
	npub, err := k.Npub()
	if err != nil {
		t.Fatalf("Npub() error = %v", err)
	}

	fromNsec, err := NewLocalKey(nsec)
	if err != nil {
		t.Fatalf("NewLocalKey(nsec) error = %v", err)
	}
	if fromNsec.PublicKey() != k.PublicKey() {
		t.Errorf("nsec round trip changed public key")
	}

	pk, err := ParsePublicKey(npub)
	if err != nil || pk != k.PublicKey() {
		t.Errorf("ParsePublicKey(npub) = %s, %v", pk, err)
	}
	pk, err = ParsePublicKey(strings.ToUpper(k.PublicKey()))
	if err != nil || pk != k.PublicKey() {
		t.Errorf("ParsePublicKey(upper hex) = %s, %v", pk, err)
	}

	for _, bad := range []string{"", "npub1xyz", "abcd", strings.Repeat("z", 64)} {
		if _, err := ParsePublicKey(bad); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("ParsePublicKey(%q) error = %v, want ErrInvalidKey", bad, err)
		}
	}
	if _, err := ParseSecretKey(npub); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("ParseSecretKey(npub) error = %v, want ErrInvalidKey", err)
	}
}

func TestDispatcher_Encrypt(t *testing.T) {
	ctx := context.Background()
	d := NewDispatcher(newTestLogger())
	alice, bob := mustGenerate(t), mustGenerate(t)

	ct, err := d.Encrypt(ctx, alice, bob.PublicKey(), "hello")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	pt, err := d.Decrypt(ctx, bob, alice.PublicKey(), ct)
	if err != nil || pt != "hello" {
		t.Errorf("Decrypt() = %q, %v", pt, err)
	}

	watch, err := NewWatchOnly(alice.PublicKey())
	if err != nil {
		t.Fatalf("NewWatchOnly() error = %v", err)
	}
	if _, err := d.Encrypt(ctx, watch, bob.PublicKey(), "hello"); !errors.Is(err, ErrUnsupportedCapability) {
		t.Errorf("Encrypt() with watch-only error = %v, want ErrUnsupportedCapability", err)
	}
	if _, err := d.Decrypt(ctx, watch, bob.PublicKey(), ct); !errors.Is(err, ErrUnsupportedCapability) {
		t.Errorf("Decrypt() with watch-only error = %v, want ErrUnsupportedCapability", err)
	}
	if _, err := d.Encrypt(ctx, alice, "not-a-key", "hello"); !errors.Is(err, ErrEncryptionFailed) && !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Encrypt() to invalid key error = %v", err)
	}
}

// fakeSignerApp plays the external signer: launching a URI makes it compute
// the answer with a LocalKey and place it on the clipboard.
type fakeSignerApp struct {
	mu        sync.Mutex
	key       *LocalKey
	clip      string
	launched  []string
	silent    bool
	focus     chan struct{}
	respondFn func(uri string) string
}

func (f *fakeSignerApp) ReadText(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clip, nil
}

func (f *fakeSignerApp) Launch(_ context.Context, uri string) error {
	f.mu.Lock()
	f.launched = append(f.launched, uri)
	silent := f.silent
	f.mu.Unlock()
	if silent {
		return nil
	}
	go func() {
		answer := f.respondFn(uri)
		f.mu.Lock()
		f.clip = answer
		f.mu.Unlock()
		f.focus <- struct{}{}
	}()
	return nil
}

func newFakeApp(t *testing.T) *fakeSignerApp {
	app := &fakeSignerApp{key: mustGenerate(t), clip: "stale clipboard", focus: make(chan struct{})}
	app.respondFn = func(uri string) string {
		payload, query, _ := strings.Cut(strings.TrimPrefix(uri, "nostrsigner:"), "?")
		plain, err := url.QueryUnescape(payload)
		if err != nil {
			t.Errorf("payload not escaped: %v", err)
		}
		q, _ := url.ParseQuery(query)
		switch q.Get("type") {
		case "nip44_encrypt":
			ct, _ := app.key.Encrypt(context.Background(), q.Get("pubkey"), plain)
			return ct
		case "nip44_decrypt":
			pt, _ := app.key.Decrypt(context.Background(), q.Get("pubkey"), plain)
			return pt
		}
		return ""
	}
	return app
}

func TestClipboardIdentity_EncryptRoundTrip(t *testing.T) {
	app := newFakeApp(t)
	bridge, err := NewBridge(BridgeConfig{
		Clipboard: app,
		Launcher:  app,
		Focus:     app.focus,
		Timeout:   2 * time.Second,
		Settle:    -1,
		Logger:    newTestLogger(),
	})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	id, err := NewClipboardIdentity(app.key.PublicKey(), bridge)
	if err != nil {
		t.Fatalf("NewClipboardIdentity() error = %v", err)
	}
	receiver := mustGenerate(t)

	d := NewDispatcher(newTestLogger())
	ct, err := d.Encrypt(context.Background(), id, receiver.PublicKey(), `[["g","u4pr"],["name","home & away"]]`)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	pt, err := receiver.Decrypt(context.Background(), app.key.PublicKey(), ct)
	if err != nil || pt != `[["g","u4pr"],["name","home & away"]]` {
		t.Errorf("receiver Decrypt() = %q, %v", pt, err)
	}

	if len(app.launched) != 1 || !strings.Contains(app.launched[0], "type=nip44_encrypt") {
		t.Errorf("launched URIs = %v", app.launched)
	}
	if strings.Contains(app.launched[0], " ") {
		t.Errorf("launched URI contains an unescaped space: %s", app.launched[0])
	}
}

func TestClipboardIdentity_EncryptTimeout(t *testing.T) {
	app := newFakeApp(t)
	app.silent = true
	bridge, err := NewBridge(BridgeConfig{
		Clipboard: app,
		Launcher:  app,
		Focus:     app.focus,
		Timeout:   50 * time.Millisecond,
		Settle:    -1,
		Logger:    newTestLogger(),
	})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	id, _ := NewClipboardIdentity(app.key.PublicKey(), bridge)

	_, err = NewDispatcher(newTestLogger()).Encrypt(context.Background(), id, mustGenerate(t).PublicKey(), "x")
	if !errors.Is(err, ErrEncryptionTimeout) {
		t.Errorf("Encrypt() error = %v, want ErrEncryptionTimeout", err)
	}
}

func TestBridge_IgnoresUnchangedClipboard(t *testing.T) {
	app := newFakeApp(t)
	// The app answers with the value already on the clipboard, so the round
	// trip must keep waiting until the timeout.
	app.respondFn = func(string) string { return "stale clipboard" }
	bridge, _ := NewBridge(BridgeConfig{
		Clipboard: app,
		Launcher:  app,
		Focus:     app.focus,
		Timeout:   100 * time.Millisecond,
		Settle:    -1,
		Logger:    newTestLogger(),
	})

	if _, err := bridge.RoundTrip(context.Background(), "nostrsigner:x"); !errors.Is(err, ErrRoundTripTimeout) {
		t.Errorf("RoundTrip() error = %v, want ErrRoundTripTimeout", err)
	}
}

func TestNewBridge_RequiresCollaborators(t *testing.T) {
	if _, err := NewBridge(BridgeConfig{}); err == nil {
		t.Error("NewBridge() with empty config should fail")
	}
}

func TestKeyring(t *testing.T) {
	kr := NewKeyring()
	local := mustGenerate(t)
	watch, err := NewWatchOnly(mustGenerate(t).PublicKey())
	if err != nil {
		t.Fatalf("NewWatchOnly() error = %v", err)
	}

	if !kr.Add(local) || !kr.Add(watch) {
		t.Fatal("Add() of new identities returned false")
	}
	if kr.Add(local) {
		t.Error("duplicate Add() returned true")
	}

	npub, _ := local.Npub()
	for _, key := range []string{npub, local.PublicKey(), strings.ToUpper(local.PublicKey())} {
		if id, ok := kr.Resolve(key); !ok || id != Identity(local) {
			t.Errorf("Resolve(%q) = %v, %v", key, id, ok)
		}
	}
	if _, ok := kr.Resolve("nsec1garbage"); ok {
		t.Error("Resolve(garbage) succeeded")
	}

	list := kr.List()
	if len(list) != 2 || list[0].PublicKey() != local.PublicKey() {
		t.Errorf("List() = %v", list)
	}
}
