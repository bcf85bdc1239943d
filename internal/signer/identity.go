// Package signer models the signing identities that author and read location
// events. Every backend (in-process key, browser extension, remote signer,
// clipboard round trip to an external signer app) is reached through the same
// Identity surface, with its encryption capability declared up front.
package signer

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

// Capability describes how an identity can encrypt and decrypt payloads.
// It is fixed when the identity is constructed.
type Capability int

const (
	// CapabilityNone means the identity cannot encrypt or decrypt.
	CapabilityNone Capability = iota
	// CapabilityInline means Encrypt and Decrypt complete in a single awaited call.
	CapabilityInline
	// CapabilityClipboard means every operation is an app-switch round trip
	// through an external signer, with the result delivered on the clipboard.
	CapabilityClipboard
)

// String returns the capability name used in logs.
func (c Capability) String() string {
	switch c {
	case CapabilityInline:
		return "inline"
	case CapabilityClipboard:
		return "clipboard"
	default:
		return "none"
	}
}

// Errors returned by identities and the Dispatcher.
var (
	ErrInvalidKey            = errors.New("invalid key")
	ErrSigningFailed         = errors.New("signing failed")
	ErrEncryptionFailed      = errors.New("encryption failed")
	ErrEncryptionTimeout     = errors.New("encryption timed out")
	ErrDecryptionFailed      = errors.New("decryption failed")
	ErrUnsupportedCapability = errors.New("identity does not support encryption")
)

// Identity is a signing identity. PublicKey is the hex-encoded x-only key.
// Encrypt and Decrypt use NIP-44 with the peer's public key.
type Identity interface {
	PublicKey() string
	Capability() Capability
	SignEvent(ctx context.Context, evt *nostr.Event) error
	Encrypt(ctx context.Context, recipientPubkey, plaintext string) (string, error)
	Decrypt(ctx context.Context, senderPubkey, ciphertext string) (string, error)
}

// ParsePublicKey accepts an npub or a 64-character hex public key and returns hex.
func ParsePublicKey(s string) (string, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "npub1") {
		prefix, value, err := nip19.Decode(s)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		if prefix != "npub" {
			return "", fmt.Errorf("%w: expected npub, got %s", ErrInvalidKey, prefix)
		}
		pk, ok := value.(string)
		if !ok {
			return "", fmt.Errorf("%w: unexpected npub payload", ErrInvalidKey)
		}
		return pk, nil
	}
	if !isHex32(s) {
		return "", fmt.Errorf("%w: not an npub or 32-byte hex key", ErrInvalidKey)
	}
	return strings.ToLower(s), nil
}

// ParseSecretKey accepts an nsec or a 64-character hex secret key and returns hex.
func ParseSecretKey(s string) (string, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "nsec1") {
		prefix, value, err := nip19.Decode(s)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		if prefix != "nsec" {
			return "", fmt.Errorf("%w: expected nsec, got %s", ErrInvalidKey, prefix)
		}
		sk, ok := value.(string)
		if !ok {
			return "", fmt.Errorf("%w: unexpected nsec payload", ErrInvalidKey)
		}
		return sk, nil
	}
	if !isHex32(s) {
		return "", fmt.Errorf("%w: not an nsec or 32-byte hex key", ErrInvalidKey)
	}
	return strings.ToLower(s), nil
}

func isHex32(s string) bool {
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// WatchOnly is a public key without any signing backend. It is useful for
// contacts and for accounts whose signer is currently unavailable.
type WatchOnly struct {
	pub string
}

// NewWatchOnly creates a WatchOnly identity from an npub or hex public key.
func NewWatchOnly(pubkey string) (*WatchOnly, error) {
	pk, err := ParsePublicKey(pubkey)
	if err != nil {
		return nil, err
	}
	return &WatchOnly{pub: pk}, nil
}

func (w *WatchOnly) PublicKey() string      { return w.pub }
func (w *WatchOnly) Capability() Capability { return CapabilityNone }

func (w *WatchOnly) SignEvent(context.Context, *nostr.Event) error {
	return fmt.Errorf("%w: watch-only identity %s", ErrSigningFailed, short(w.pub))
}

func (w *WatchOnly) Encrypt(context.Context, string, string) (string, error) {
	return "", ErrUnsupportedCapability
}

func (w *WatchOnly) Decrypt(context.Context, string, string) (string, error) {
	return "", ErrUnsupportedCapability
}

func short(pk string) string {
	if len(pk) > 8 {
		return pk[:8]
	}
	return pk
}
