package signer

import (
	"context"
	"fmt"

	"github.com/nbd-wtf/go-nostr"
)

// KeyerIdentity adapts a nostr.Keyer (browser extension bridge, NIP-46
// remote signer session, or any other programmatic signer) to Identity.
// The public key is fetched once at construction.
type KeyerIdentity struct {
	keyer nostr.Keyer
	pub   string
}

// NewKeyerIdentity resolves the keyer's public key and wraps it.
func NewKeyerIdentity(ctx context.Context, keyer nostr.Keyer) (*KeyerIdentity, error) {
	pk, err := keyer.GetPublicKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve public key: %v", ErrInvalidKey, err)
	}
	return &KeyerIdentity{keyer: keyer, pub: pk}, nil
}

func (k *KeyerIdentity) PublicKey() string      { return k.pub }
func (k *KeyerIdentity) Capability() Capability { return CapabilityInline }

func (k *KeyerIdentity) SignEvent(ctx context.Context, evt *nostr.Event) error {
	evt.PubKey = k.pub
	if err := k.keyer.SignEvent(ctx, evt); err != nil {
		return fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}
	return nil
}

func (k *KeyerIdentity) Encrypt(ctx context.Context, recipientPubkey, plaintext string) (string, error) {
	ct, err := k.keyer.Encrypt(ctx, plaintext, recipientPubkey)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	return ct, nil
}

func (k *KeyerIdentity) Decrypt(ctx context.Context, senderPubkey, ciphertext string) (string, error) {
	pt, err := k.keyer.Decrypt(ctx, ciphertext, senderPubkey)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return pt, nil
}
